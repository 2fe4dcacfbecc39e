// Package migrate applies sequential schema migrations to a SQLite database,
// upgrading it from one version to the next.
//
// The applied version is tracked in the database header through
// PRAGMA user_version, so a fresh database starts at version 0 and every
// migration runs in its own transaction together with the version bump.
package migrate

import (
	"context"
	"database/sql"
	"fmt"
	"io/fs"
	"log/slog"
	"path"
	"sort"
	"strconv"
	"strings"
)

// ///////////////////////////////////////////////
// Types
// ///////////////////////////////////////////////

// Migration represents a schema migration that upgrades the database from
// the prior version to [Migration.Version].
type Migration struct {
	// Version is the schema version this migration produces.
	Version int
	// Description is a short human-readable label for log output.
	Description string
	// SQL holds the statements executed to reach Version.
	SQL string
}

// ///////////////////////////////////////////////
// Public API
// ///////////////////////////////////////////////

// Version returns the schema version recorded in the database header.
func Version(ctx context.Context, db *sql.DB) (int, error) {
	var v int
	if err := db.QueryRowContext(ctx, "PRAGMA user_version").Scan(&v); err != nil {
		return 0, fmt.Errorf("read schema version: %w", err)
	}
	return v, nil
}

// Run applies migrations sequentially where the database version is below
// m.Version. Returns the final version reached and any error. A failed
// migration is rolled back and leaves the database at the last good version.
func Run(ctx context.Context, db *sql.DB, migrations []Migration) (int, error) {
	if db == nil {
		return 0, fmt.Errorf("sql db is required")
	}
	version, err := Version(ctx, db)
	if err != nil {
		return 0, err
	}

	for _, m := range Pending(version, migrations) {
		slog.Info("applying migration", "version", m.Version, "description", m.Description)
		if err := apply(ctx, db, m); err != nil {
			return version, fmt.Errorf("migration to v%d failed: %w", m.Version, err)
		}
		version = m.Version
	}
	return version, nil
}

// Pending returns the migrations newer than fromVersion, oldest first.
func Pending(fromVersion int, migrations []Migration) []Migration {
	sorted := make([]Migration, 0, len(migrations))
	for _, m := range migrations {
		if m.Version > fromVersion {
			sorted = append(sorted, m)
		}
	}
	sort.Slice(sorted, func(i, j int) bool {
		return sorted[i].Version < sorted[j].Version
	})
	return sorted
}

// NeedsMigration reports whether a database at dbVersion would have any
// migrations applied.
func NeedsMigration(dbVersion int, migrations []Migration) bool {
	return len(Pending(dbVersion, migrations)) > 0
}

func apply(ctx context.Context, db *sql.DB, m Migration) error {
	tx, err := db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin: %w", err)
	}
	if _, err := tx.ExecContext(ctx, m.SQL); err != nil {
		_ = tx.Rollback()
		return err
	}
	// PRAGMA does not accept bound parameters.
	if _, err := tx.ExecContext(ctx, fmt.Sprintf("PRAGMA user_version = %d", m.Version)); err != nil {
		_ = tx.Rollback()
		return fmt.Errorf("record version: %w", err)
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit: %w", err)
	}
	return nil
}

// ///////////////////////////////////////////////
// Loading
// ///////////////////////////////////////////////

// LoadFS reads every NNNN_description.sql file under root in fsys. The
// numeric prefix becomes the version and the remainder of the name the
// description. Only the "-- +migrate Up" section of each file is kept.
func LoadFS(fsys fs.FS, root string) ([]Migration, error) {
	entries, err := fs.ReadDir(fsys, root)
	if err != nil {
		return nil, fmt.Errorf("read migrations dir: %w", err)
	}

	var out []Migration
	for _, entry := range entries {
		name := entry.Name()
		if entry.IsDir() || !strings.HasSuffix(name, ".sql") {
			continue
		}
		prefix, desc, ok := strings.Cut(strings.TrimSuffix(name, ".sql"), "_")
		if !ok {
			return nil, fmt.Errorf("migration %s: name must look like 0001_description.sql", name)
		}
		version, err := strconv.Atoi(prefix)
		if err != nil || version <= 0 {
			return nil, fmt.Errorf("migration %s: invalid version prefix %q", name, prefix)
		}
		content, err := fs.ReadFile(fsys, path.Join(root, name))
		if err != nil {
			return nil, fmt.Errorf("read migration %s: %w", name, err)
		}
		up := ExtractUp(string(content))
		if strings.TrimSpace(up) == "" {
			return nil, fmt.Errorf("migration %s: empty up section", name)
		}
		out = append(out, Migration{
			Version:     version,
			Description: strings.ReplaceAll(desc, "_", " "),
			SQL:         up,
		})
	}
	return out, nil
}

// ExtractUp returns the SQL in the "-- +migrate Up" section, or the whole
// content when no section markers are present.
func ExtractUp(content string) string {
	const upMarker, downMarker = "-- +migrate Up", "-- +migrate Down"
	upIdx := strings.Index(content, upMarker)
	if upIdx == -1 {
		return content
	}
	rest := content[upIdx+len(upMarker):]
	if downIdx := strings.Index(rest, downMarker); downIdx != -1 {
		return rest[:downIdx]
	}
	return rest
}
