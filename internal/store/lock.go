package store

import (
	"context"
	"database/sql"
	"time"

	"github.com/dydhzo/wastream/internal/xerrors"
)

const lockRetryInterval = 500 * time.Millisecond

// AcquireLock tries to take the named scrape lock for instanceID,
// retrying against a held lock until the configured wait elapses.
// Returns false (without error) when the lock stays contended.
func (s *Store) AcquireLock(ctx context.Context, key, instanceID string) (bool, error) {
	deadline := s.now().Add(s.lockWait)
	attempt := 0
	start := s.now()

	for s.now().Before(deadline) {
		attempt++

		ok, err := s.tryLock(ctx, key, instanceID)
		if err != nil {
			s.lg.Warn(ctx, "lock attempt failed", "lock_key", key, "attempt", attempt, "error", err)
		} else if ok {
			s.lg.Debug(ctx, "lock acquired",
				"lock_key", key, "attempt", attempt,
				"waited", s.now().Sub(start).Round(time.Millisecond))
			return true, nil
		}

		select {
		case <-ctx.Done():
			return false, ctx.Err()
		case <-time.After(lockRetryInterval):
		}
	}

	s.lg.Info(ctx, "lock wait timed out",
		"lock_key", key, "attempts", attempt,
		"waited", s.now().Sub(start).Round(time.Millisecond))
	return false, nil
}

func (s *Store) tryLock(ctx context.Context, key, instanceID string) (bool, error) {
	now := s.now().Unix()

	// expired locks never block a new holder
	if _, err := s.exec(ctx, `DELETE FROM scrape_lock WHERE expires_at < ?`, now); err != nil {
		return false, xerrors.Wrap(err, "store: purge expired locks")
	}

	if _, err := s.exec(ctx,
		`INSERT INTO scrape_lock (lock_key, instance_id, expires_at) VALUES (?, ?, ?) ON CONFLICT (lock_key) DO NOTHING`,
		key, instanceID, now+int64(s.lockTTL.Seconds())); err != nil {
		return false, xerrors.Wrap(err, "store: insert lock")
	}

	var holder string
	err := s.queryRow(ctx, `SELECT instance_id FROM scrape_lock WHERE lock_key = ?`, key).Scan(&holder)
	if err == sql.ErrNoRows {
		return false, nil
	}
	if err != nil {
		return false, xerrors.Wrap(err, "store: read lock holder")
	}
	return holder == instanceID, nil
}

// ReleaseLock drops the lock if instanceID still holds it.
func (s *Store) ReleaseLock(ctx context.Context, key, instanceID string) error {
	_, err := s.exec(ctx,
		`DELETE FROM scrape_lock WHERE lock_key = ? AND instance_id = ?`,
		key, instanceID)
	if err != nil {
		return xerrors.Wrap(err, "store: release lock")
	}
	return nil
}
