package store

import (
	"context"
	"database/sql"
	"time"

	"github.com/dydhzo/wastream/internal/xerrors"
)

// IsDeadLink reports whether url was marked dead and the mark has not
// yet expired.
func (s *Store) IsDeadLink(ctx context.Context, url string) (bool, error) {
	var one int
	err := s.queryRow(ctx,
		`SELECT 1 FROM dead_links WHERE url = ? AND expires_at > ?`,
		url, s.now().Unix()).Scan(&one)
	if err == sql.ErrNoRows {
		return false, nil
	}
	if err != nil {
		return false, xerrors.Wrap(err, "store: dead link lookup")
	}
	return true, nil
}

// MarkDeadLink remembers that url resolves to a dead target for ttl.
func (s *Store) MarkDeadLink(ctx context.Context, url string, ttl time.Duration) error {
	expires := s.now().Add(ttl).Unix()
	_, err := s.exec(ctx,
		`INSERT INTO dead_links (url, expires_at) VALUES (?, ?) ON CONFLICT (url) DO UPDATE SET expires_at = excluded.expires_at`,
		url, expires)
	if err != nil {
		return xerrors.Wrap(err, "store: mark dead link")
	}
	s.lg.Debug(ctx, "marked dead link", "url", truncate(url, 50), "ttl", ttl)
	return nil
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "..."
}
