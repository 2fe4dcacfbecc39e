// Package store persists the authenticated session and the statistics cache
// in a single SQLite file.
//
// The daemon is the only writer. CLI subcommands never open the database
// directly; they talk to the daemon through the inbox and read its status
// snapshot instead.
package store

import (
	"context"
	"database/sql"
	"embed"
	"errors"
	"fmt"
	"path/filepath"
	"strings"
	"time"

	"github.com/hackclub/hackatime-desktop/internal/migrate"
	_ "modernc.org/sqlite"
)

// ErrNotConfigured is returned by every operation on a nil or closed Store.
var ErrNotConfigured = errors.New("store: not configured")

//go:embed migrations/*.sql
var migrationFS embed.FS

// Store is the SQLite-backed session and cache store.
type Store struct {
	db  *sql.DB
	now func() time.Time
}

// Open opens (creating if needed) the SQLite file at path and applies the
// bundled schema migrations.
func Open(ctx context.Context, path string) (*Store, error) {
	if strings.TrimSpace(path) == "" {
		return nil, fmt.Errorf("storage path is required")
	}

	dsn := filepath.Clean(path) +
		"?_pragma=journal_mode(WAL)&_pragma=busy_timeout(5000)&_pragma=synchronous(NORMAL)&_pragma=foreign_keys(ON)"
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open sqlite db: %w", err)
	}
	// One writer process; a single connection avoids SQLITE_BUSY between
	// pool members.
	db.SetMaxOpenConns(1)

	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("ping sqlite db: %w", err)
	}

	reg := &migrate.Registry{}
	if err := reg.RegisterFS(migrationFS, "migrations"); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("load migrations: %w", err)
	}
	if _, err := reg.Run(ctx, db); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("run migrations: %w", err)
	}

	return &Store{db: db, now: time.Now}, nil
}

// Close releases the underlying database.
func (s *Store) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	err := s.db.Close()
	s.db = nil
	return err
}

// Cleanup purges sessions not accessed within sessionRetentionDays and expired
// cache rows. Returns the number of rows removed from each table.
func (s *Store) Cleanup(ctx context.Context, sessionRetentionDays int) (sessions, cache int64, err error) {
	sessions, err = s.CleanupOldSessions(ctx, sessionRetentionDays)
	if err != nil {
		return 0, 0, err
	}
	cache, err = s.CleanupExpiredCache(ctx)
	if err != nil {
		return sessions, 0, err
	}
	return sessions, cache, nil
}

func (s *Store) ready() error {
	if s == nil || s.db == nil {
		return ErrNotConfigured
	}
	return nil
}

// toMillis normalizes timestamps into millisecond precision for storage.
func toMillis(t time.Time) int64 {
	return t.UTC().UnixMilli()
}

// fromMillis restores a stored timestamp in UTC.
func fromMillis(v int64) time.Time {
	return time.UnixMilli(v).UTC()
}
