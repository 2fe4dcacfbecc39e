package migrate

import (
	"context"
	"database/sql"
	"fmt"
	"io/fs"
)

// Registry holds the migrations for a single database. Each database gets
// its own instance so that version numbers and migration lists are fully
// independent.
type Registry struct {
	// Migrations is the list of versioned upgrades. Exported so tests can
	// override the migration list for a given registry instance.
	Migrations []Migration
}

// Register appends a migration to the registry. It panics if a migration
// with the same version is already registered, preventing silent conflicts.
func (r *Registry) Register(m Migration) {
	for _, existing := range r.Migrations {
		if existing.Version == m.Version {
			panic(fmt.Sprintf("migrate: duplicate migration version %d (description: %q)", m.Version, m.Description))
		}
	}
	r.Migrations = append(r.Migrations, m)
}

// RegisterFS loads migrations with [LoadFS] and registers each of them.
func (r *Registry) RegisterFS(fsys fs.FS, root string) error {
	migrations, err := LoadFS(fsys, root)
	if err != nil {
		return err
	}
	for _, m := range migrations {
		r.Register(m)
	}
	return nil
}

// CurrentVersion returns the highest registered version, or 0 when empty.
func (r *Registry) CurrentVersion() int {
	v := 0
	for _, m := range r.Migrations {
		if m.Version > v {
			v = m.Version
		}
	}
	return v
}

// NeedsMigration reports whether a database at dbVersion would have any
// registered migrations applied.
func (r *Registry) NeedsMigration(dbVersion int) bool {
	return NeedsMigration(dbVersion, r.Migrations)
}

// Run applies registered migrations to db. A database whose version is newer
// than [Registry.CurrentVersion] was written by a newer build and is refused.
func (r *Registry) Run(ctx context.Context, db *sql.DB) (int, error) {
	v, err := Version(ctx, db)
	if err != nil {
		return 0, err
	}
	if cur := r.CurrentVersion(); v > cur {
		return v, fmt.Errorf("database schema version %d is newer than supported version %d", v, cur)
	}
	return Run(ctx, db, r.Migrations)
}
