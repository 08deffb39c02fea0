package store

import (
	"context"
	"database/sql"
	"net/url"
	"strings"
	"time"

	"github.com/dydhzo/wastream/internal/xerrors"
)

// CacheKey builds the canonical key for a scraped search:
// "<kind>:<title-url-escaped>[:<year>]".
func CacheKey(kind, title, year string) string {
	key := kind + ":" + url.QueryEscape(strings.ToLower(title))
	if year != "" {
		key += ":" + year
	}
	return key
}

// GetCache returns the cached payload for key, or ok=false on a miss
// or an expired entry.
func (s *Store) GetCache(ctx context.Context, key string) (payload []byte, ok bool, err error) {
	var content string
	err = s.queryRow(ctx,
		`SELECT content FROM content_cache WHERE cache_key = ? AND expires_at > ?`,
		key, s.now().Unix()).Scan(&content)
	if err == sql.ErrNoRows {
		s.lg.Debug(ctx, "cache miss", "cache_key", key)
		return nil, false, nil
	}
	if err != nil {
		return nil, false, xerrors.Wrap(err, "store: cache lookup")
	}
	s.lg.Debug(ctx, "cache hit", "cache_key", key)
	return []byte(content), true, nil
}

// SetCache stores payload under key for ttl.
func (s *Store) SetCache(ctx context.Context, key string, payload []byte, ttl time.Duration) error {
	expires := s.now().Add(ttl).Unix()
	_, err := s.exec(ctx,
		`INSERT INTO content_cache (cache_key, content, expires_at) VALUES (?, ?, ?) ON CONFLICT (cache_key) DO UPDATE SET content = excluded.content, expires_at = excluded.expires_at`,
		key, string(payload), expires)
	if err != nil {
		return xerrors.Wrap(err, "store: cache write")
	}
	s.lg.Debug(ctx, "cache write", "cache_key", key, "ttl", ttl)
	return nil
}
