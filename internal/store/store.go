// Package store is the persistence layer for scraped-content caching,
// dead-link tracking, and cross-instance scrape locks. It runs on
// SQLite for single-instance deployments and Postgres when several
// gateways share state.
package store

import (
	"context"
	"database/sql"
	"fmt"
	"net/url"
	"os"
	"path/filepath"
	"strings"
	"time"

	_ "github.com/jackc/pgx/v5/stdlib"
	_ "modernc.org/sqlite"

	"github.com/dydhzo/wastream/internal/log"
	"github.com/dydhzo/wastream/internal/xerrors"
)

// SchemaVersion is bumped when the table layout changes. Cached data
// is disposable, so a mismatch drops and recreates everything instead
// of migrating.
const SchemaVersion = "1.0"

const (
	DriverSQLite   = "sqlite"
	DriverPostgres = "postgres"
)

type Options struct {
	Logger log.Logger

	Driver string // sqlite|postgres
	Path   string // sqlite file path
	DSN    string // postgres DSN

	// LockTTL is how long an acquired scrape lock lives; LockWait is
	// how long AcquireLock keeps retrying against a held lock.
	LockTTL  time.Duration
	LockWait time.Duration
}

type Store struct {
	db     *sql.DB
	driver string
	lg     log.Logger

	lockTTL  time.Duration
	lockWait time.Duration

	// now is swappable in tests
	now func() time.Time
}

// New opens the database handle. No connection is made until Setup.
func New(opts Options) (*Store, error) {
	lg := opts.Logger
	if lg == nil {
		lg = log.Nop()
	}

	var db *sql.DB
	var err error
	switch opts.Driver {
	case DriverSQLite:
		if opts.Path == "" {
			return nil, xerrors.New("store: sqlite path is required")
		}
		if dir := filepath.Dir(opts.Path); dir != "." {
			if err := os.MkdirAll(dir, 0o755); err != nil {
				return nil, xerrors.Wrap(err, "store: create database directory")
			}
		}
		dsn := fmt.Sprintf("file:%s?_pragma=busy_timeout(30000)&_pragma=journal_mode(WAL)&_pragma=synchronous(NORMAL)&_pragma=temp_store(MEMORY)", url.PathEscape(opts.Path))
		db, err = sql.Open("sqlite", dsn)
		if err == nil {
			// WAL supports concurrent readers but a single writer
			db.SetMaxOpenConns(5)
			db.SetMaxIdleConns(2)
		}
	case DriverPostgres:
		if opts.DSN == "" {
			return nil, xerrors.New("store: postgres DSN is required")
		}
		db, err = sql.Open("pgx", opts.DSN)
		if err == nil {
			db.SetMaxOpenConns(10)
			db.SetConnMaxIdleTime(5 * time.Minute)
		}
	default:
		return nil, xerrors.Newf("store: unknown driver %q", opts.Driver)
	}
	if err != nil {
		return nil, xerrors.Wrap(err, "store: open database")
	}

	lockTTL := opts.LockTTL
	if lockTTL <= 0 {
		lockTTL = 5 * time.Minute
	}
	lockWait := opts.LockWait
	if lockWait <= 0 {
		lockWait = 30 * time.Second
	}

	return &Store{
		db:       db,
		driver:   opts.Driver,
		lg:       lg,
		lockTTL:  lockTTL,
		lockWait: lockWait,
		now:      time.Now,
	}, nil
}

// rebind converts ?-placeholders to the $n form Postgres expects.
func (s *Store) rebind(query string) string {
	if s.driver != DriverPostgres {
		return query
	}
	var b strings.Builder
	n := 0
	for _, r := range query {
		if r == '?' {
			n++
			fmt.Fprintf(&b, "$%d", n)
			continue
		}
		b.WriteRune(r)
	}
	return b.String()
}

func (s *Store) exec(ctx context.Context, query string, args ...any) (sql.Result, error) {
	return s.db.ExecContext(ctx, s.rebind(query), args...)
}

func (s *Store) queryRow(ctx context.Context, query string, args ...any) *sql.Row {
	return s.db.QueryRowContext(ctx, s.rebind(query), args...)
}

// Setup connects, reconciles the schema version, and creates tables.
// A failure here is fatal: the process must not serve traffic on a
// broken store.
func (s *Store) Setup(ctx context.Context) error {
	s.lg.Info(ctx, "setting up database", "driver", s.driver)

	if err := s.db.PingContext(ctx); err != nil {
		return xerrors.Wrap(err, "store: connect")
	}

	if _, err := s.exec(ctx, `CREATE TABLE IF NOT EXISTS db_version (id INTEGER PRIMARY KEY CHECK (id = 1), version TEXT)`); err != nil {
		return xerrors.Wrap(err, "store: create version table")
	}

	var current sql.NullString
	err := s.queryRow(ctx, `SELECT version FROM db_version WHERE id = 1`).Scan(&current)
	if err != nil && err != sql.ErrNoRows {
		return xerrors.Wrap(err, "store: read schema version")
	}

	if !current.Valid || current.String != SchemaVersion {
		s.lg.Info(ctx, "schema version changed, resetting cache tables",
			"old", current.String, "new", SchemaVersion)
		for _, table := range []string{"dead_links", "scrape_lock", "content_cache"} {
			if _, err := s.exec(ctx, "DROP TABLE IF EXISTS "+table); err != nil {
				return xerrors.Wrapf(err, "store: drop %s", table)
			}
		}
		if _, err := s.exec(ctx,
			`INSERT INTO db_version (id, version) VALUES (1, ?) ON CONFLICT (id) DO UPDATE SET version = excluded.version`,
			SchemaVersion); err != nil {
			return xerrors.Wrap(err, "store: write schema version")
		}
	}

	stmts := []string{
		`CREATE TABLE IF NOT EXISTS dead_links (url TEXT PRIMARY KEY, expires_at BIGINT)`,
		`CREATE TABLE IF NOT EXISTS scrape_lock (lock_key TEXT PRIMARY KEY, instance_id TEXT, expires_at BIGINT)`,
		`CREATE TABLE IF NOT EXISTS content_cache (cache_key TEXT PRIMARY KEY, content TEXT NOT NULL, expires_at BIGINT)`,
		`CREATE INDEX IF NOT EXISTS idx_dead_links_expires ON dead_links(expires_at)`,
		`CREATE INDEX IF NOT EXISTS idx_scrape_lock_expires ON scrape_lock(expires_at)`,
		`CREATE INDEX IF NOT EXISTS idx_content_cache_expires ON content_cache(expires_at)`,
	}
	for _, stmt := range stmts {
		if _, err := s.exec(ctx, stmt); err != nil {
			return xerrors.Wrap(err, "store: create schema")
		}
	}

	s.lg.Info(ctx, "database ready", "schema_version", SchemaVersion)
	return nil
}

// Teardown closes the database. Called exactly once at shutdown,
// after the sweeper has stopped.
func (s *Store) Teardown(ctx context.Context) error {
	err := s.db.Close()
	if err != nil {
		return xerrors.Wrap(err, "store: close database")
	}
	s.lg.Info(ctx, "database closed")
	return nil
}

// Ping reports whether the store is reachable; used by readiness.
func (s *Store) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

// CleanupExpired purges rows whose TTL has lapsed. Invoked by the
// background sweeper on every pass.
func (s *Store) CleanupExpired(ctx context.Context) (locks, links, cache int64, err error) {
	now := s.now().Unix()

	res, err := s.exec(ctx, `DELETE FROM scrape_lock WHERE expires_at < ?`, now)
	if err != nil {
		return 0, 0, 0, xerrors.Wrap(err, "store: purge scrape locks")
	}
	locks, _ = res.RowsAffected()

	res, err = s.exec(ctx, `DELETE FROM dead_links WHERE expires_at < ?`, now)
	if err != nil {
		return locks, 0, 0, xerrors.Wrap(err, "store: purge dead links")
	}
	links, _ = res.RowsAffected()

	res, err = s.exec(ctx, `DELETE FROM content_cache WHERE expires_at < ?`, now)
	if err != nil {
		return locks, links, 0, xerrors.Wrap(err, "store: purge content cache")
	}
	cache, _ = res.RowsAffected()

	return locks, links, cache, nil
}
