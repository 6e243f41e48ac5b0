package migrations

import (
	"context"
	"database/sql"
	"os"
	"path/filepath"
	"testing"

	_ "github.com/lib/pq"
	_ "modernc.org/sqlite"
)

func openSQLite(t *testing.T) *sql.DB {
	t.Helper()
	db, err := sql.Open("sqlite", filepath.Join(t.TempDir(), "cards.db"))
	if err != nil {
		t.Fatalf("open sqlite: %v", err)
	}
	db.SetMaxOpenConns(1)
	t.Cleanup(func() { db.Close() })
	return db
}

func TestApplySQLiteCreatesSchema(t *testing.T) {
	db := openSQLite(t)
	ctx := context.Background()

	if err := Apply(ctx, db, DialectSQLite); err != nil {
		t.Fatalf("apply migrations: %v", err)
	}
	// second run is a no-op
	if err := Apply(ctx, db, DialectSQLite); err != nil {
		t.Fatalf("re-apply migrations: %v", err)
	}

	v, dirty, err := Version(ctx, db, DialectSQLite)
	if err != nil {
		t.Fatalf("version: %v", err)
	}
	if v != 1 || dirty {
		t.Fatalf("expected clean version 1, got %d dirty=%v", v, dirty)
	}

	if _, err := db.ExecContext(ctx, `INSERT INTO scratch_cards
		(id, contract_ref, token_id, grid, outcome, created_at, updated_at)
		VALUES ('a', '0xc', 1, '[]', '{}', CURRENT_TIMESTAMP, CURRENT_TIMESTAMP)`); err != nil {
		t.Fatalf("insert: %v", err)
	}
	if _, err := db.ExecContext(ctx, `INSERT INTO scratch_cards
		(id, contract_ref, token_id, grid, outcome, created_at, updated_at)
		VALUES ('b', '0xc', 1, '[]', '{}', CURRENT_TIMESTAMP, CURRENT_TIMESTAMP)`); err == nil {
		t.Fatalf("expected unique (contract_ref, token_id) violation")
	}
	if _, err := db.ExecContext(ctx, `UPDATE scratch_cards SET claimed = TRUE WHERE id = 'a'`); err == nil {
		t.Fatalf("expected claim-before-reveal check violation")
	}
}

func TestApplyRejectsUnknownDialect(t *testing.T) {
	db := openSQLite(t)
	if err := Apply(context.Background(), db, "oracle"); err == nil {
		t.Fatalf("expected error for unknown dialect")
	}
}

func TestApplyPostgresIntegration(t *testing.T) {
	dsn := os.Getenv("TEST_POSTGRES_DSN")
	if dsn == "" {
		t.Skip("TEST_POSTGRES_DSN not set; skipping postgres migration test")
	}
	db, err := sql.Open("postgres", dsn)
	if err != nil {
		t.Fatalf("open db: %v", err)
	}
	defer db.Close()

	if err := Apply(context.Background(), db, DialectPostgres); err != nil {
		t.Fatalf("apply migrations: %v", err)
	}
	if err := db.PingContext(context.Background()); err != nil {
		t.Fatalf("db must stay open after apply: %v", err)
	}
}
