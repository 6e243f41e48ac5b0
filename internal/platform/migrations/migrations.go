// Package migrations applies the embedded card schema with golang-migrate.
package migrations

import (
	"context"
	"database/sql"
	"embed"
	"errors"
	"fmt"

	"github.com/golang-migrate/migrate/v4"
	"github.com/golang-migrate/migrate/v4/database"
	"github.com/golang-migrate/migrate/v4/database/postgres"
	"github.com/golang-migrate/migrate/v4/database/sqlite"
	"github.com/golang-migrate/migrate/v4/source/iofs"
)

// Supported dialects. They match the database/sql driver names.
const (
	DialectPostgres = "postgres"
	DialectSQLite   = "sqlite"
)

//go:embed sql/postgres/*.sql sql/sqlite/*.sql
var files embed.FS

// Apply runs every pending up migration for dialect against db. It is a no-op
// when the schema is current. db stays open.
func Apply(ctx context.Context, db *sql.DB, dialect string) error {
	src, err := iofs.New(files, "sql/"+dialect)
	if err != nil {
		return fmt.Errorf("migrations: unknown dialect %q: %w", dialect, err)
	}
	defer src.Close()

	driver, release, err := databaseDriver(ctx, db, dialect)
	if err != nil {
		return fmt.Errorf("migrations: %s driver: %w", dialect, err)
	}
	defer release()

	m, err := migrate.NewWithInstance("iofs", src, dialect, driver)
	if err != nil {
		return fmt.Errorf("migrations: init: %w", err)
	}
	if err := m.Up(); err != nil && !errors.Is(err, migrate.ErrNoChange) {
		return fmt.Errorf("migrations: up: %w", err)
	}
	return nil
}

// Version reports the applied schema version and whether the last run left
// it dirty.
func Version(ctx context.Context, db *sql.DB, dialect string) (uint, bool, error) {
	src, err := iofs.New(files, "sql/"+dialect)
	if err != nil {
		return 0, false, fmt.Errorf("migrations: unknown dialect %q: %w", dialect, err)
	}
	defer src.Close()

	driver, release, err := databaseDriver(ctx, db, dialect)
	if err != nil {
		return 0, false, fmt.Errorf("migrations: %s driver: %w", dialect, err)
	}
	defer release()

	m, err := migrate.NewWithInstance("iofs", src, dialect, driver)
	if err != nil {
		return 0, false, fmt.Errorf("migrations: init: %w", err)
	}
	v, dirty, err := m.Version()
	if errors.Is(err, migrate.ErrNilVersion) {
		return 0, false, nil
	}
	return v, dirty, err
}

// databaseDriver never hands db itself to a driver that would close it.
func databaseDriver(ctx context.Context, db *sql.DB, dialect string) (database.Driver, func(), error) {
	switch dialect {
	case DialectPostgres:
		conn, err := db.Conn(ctx)
		if err != nil {
			return nil, nil, err
		}
		driver, err := postgres.WithConnection(ctx, conn, &postgres.Config{})
		if err != nil {
			conn.Close()
			return nil, nil, err
		}
		return driver, func() { conn.Close() }, nil
	case DialectSQLite:
		driver, err := sqlite.WithInstance(db, &sqlite.Config{})
		if err != nil {
			return nil, nil, err
		}
		return driver, func() {}, nil
	default:
		return nil, nil, fmt.Errorf("unsupported dialect %q", dialect)
	}
}
