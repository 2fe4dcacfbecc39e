package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"
)

// Get returns the cached value for key. Expired rows are reported as a miss
// and left for [Store.CleanupExpiredCache].
func (s *Store) Get(ctx context.Context, key string) ([]byte, bool, error) {
	if err := s.ready(); err != nil {
		return nil, false, err
	}
	var value string
	err := s.db.QueryRowContext(ctx,
		"SELECT value FROM cache WHERE cache_key = ? AND expires_at > ?",
		key, toMillis(s.now()),
	).Scan(&value)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, fmt.Errorf("read cache %s: %w", key, err)
	}
	return []byte(value), true, nil
}

// Set stores value under key for ttl, replacing any previous entry.
func (s *Store) Set(ctx context.Context, key string, value []byte, ttl time.Duration) error {
	if err := s.ready(); err != nil {
		return err
	}
	if ttl <= 0 {
		return fmt.Errorf("write cache %s: ttl must be positive", key)
	}
	now := s.now()
	_, err := s.db.ExecContext(ctx, `
INSERT INTO cache (cache_key, value, inserted_at, expires_at)
VALUES (?, ?, ?, ?)
ON CONFLICT(cache_key) DO UPDATE SET
    value = excluded.value,
    inserted_at = excluded.inserted_at,
    expires_at = excluded.expires_at`,
		key, string(value), toMillis(now), toMillis(now.Add(ttl)),
	)
	if err != nil {
		return fmt.Errorf("write cache %s: %w", key, err)
	}
	return nil
}

// ClearCache deletes every cache entry.
func (s *Store) ClearCache(ctx context.Context) error {
	if err := s.ready(); err != nil {
		return err
	}
	if _, err := s.db.ExecContext(ctx, "DELETE FROM cache"); err != nil {
		return fmt.Errorf("clear cache: %w", err)
	}
	return nil
}

// CleanupExpiredCache deletes expired cache entries and returns how many
// were removed.
func (s *Store) CleanupExpiredCache(ctx context.Context) (int64, error) {
	if err := s.ready(); err != nil {
		return 0, err
	}
	res, err := s.db.ExecContext(ctx, "DELETE FROM cache WHERE expires_at <= ?", toMillis(s.now()))
	if err != nil {
		return 0, fmt.Errorf("cleanup cache: %w", err)
	}
	n, _ := res.RowsAffected()
	return n, nil
}

// CacheCount returns the number of cache rows, expired or not.
func (s *Store) CacheCount(ctx context.Context) (int, error) {
	if err := s.ready(); err != nil {
		return 0, err
	}
	var n int
	if err := s.db.QueryRowContext(ctx, "SELECT COUNT(*) FROM cache").Scan(&n); err != nil {
		return 0, fmt.Errorf("count cache: %w", err)
	}
	return n, nil
}
