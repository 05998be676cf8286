package utils

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"

	"github.com/golang-migrate/migrate/v4"
	"github.com/golang-migrate/migrate/v4/database"
	"github.com/golang-migrate/migrate/v4/database/postgres"
	iofs "github.com/golang-migrate/migrate/v4/source/iofs"
)

// Migrate applies every pending SQL migration in fsys (files at its root).
// A dirty version left by a crashed run is forced clean and re-applied.
func Migrate(ctx context.Context, db *sql.DB, fsys fs.FS, log *slog.Logger) (err error) {
	if log == nil {
		log = slog.Default()
	}

	conn, err := db.Conn(ctx)
	if err != nil {
		return fmt.Errorf("acquire dedicated connection: %w", err)
	}

	driver, err := postgres.WithConnection(ctx, conn, &postgres.Config{
		MigrationsTable: "schema_migrations",
	})
	if err != nil {
		_ = conn.Close()
		return fmt.Errorf("initialize postgres driver: %w", err)
	}
	defer func() {
		if closeErr := driver.Close(); err == nil && closeErr != nil {
			err = fmt.Errorf("close migration connection: %w", closeErr)
		}
	}()

	source, err := iofs.New(fsys, ".")
	if err != nil {
		return fmt.Errorf("load migrations: %w", err)
	}
	defer func() {
		if closeErr := source.Close(); err == nil && closeErr != nil {
			err = fmt.Errorf("close migration source: %w", closeErr)
		}
	}()

	migrator, err := migrate.NewWithInstance("iofs", source, "postgres", driver)
	if err != nil {
		return fmt.Errorf("create migrator: %w", err)
	}

	version, dirty, verr := migrator.Version()
	switch {
	case errors.Is(verr, migrate.ErrNilVersion):
		log.Info("no migrations applied yet")
	case verr != nil:
		log.Warn("read migration version failed", "err", verr)
	default:
		log.Info("current migration state", "version", version, "dirty", dirty)
	}

	if dirty {
		target := dirtyForceTarget(source.Prev, version)
		log.Warn("database is dirty, forcing previous version", "version", version, "forced_to", target)
		if err := migrator.Force(target); err != nil {
			return fmt.Errorf("force version %d: %w", target, err)
		}
	}

	if err := migrator.Up(); err != nil {
		if errors.Is(err, migrate.ErrNoChange) {
			log.Info("no new migrations to apply")
			return nil
		}
		return fmt.Errorf("apply migrations: %w", err)
	}

	if v, _, err := migrator.Version(); err == nil {
		log.Info("migrations applied", "version", v)
	}
	return nil
}

// dirtyForceTarget picks the version to force a dirty database back to:
// the migration before the failed one, or none at all for the first.
func dirtyForceTarget(prev func(uint) (uint, error), dirty uint) int {
	p, err := prev(dirty)
	if err != nil {
		return database.NilVersion
	}
	return int(p)
}
