package db

import (
	"database/sql"
	"testing"

	_ "github.com/mattn/go-sqlite3"
)

func openMemoryDB(t *testing.T) *sql.DB {
	t.Helper()
	database, err := sql.Open("sqlite3", ":memory:")
	if err != nil {
		t.Fatalf("failed to open in-memory database: %v", err)
	}
	t.Cleanup(func() { database.Close() })
	return database
}

func TestMigrateCreatesSchema(t *testing.T) {
	database := openMemoryDB(t)

	if err := Migrate(database, nil); err != nil {
		t.Fatalf("migration failed: %v", err)
	}

	for _, table := range []string{"schema_migrations", "jobs", "resource_claims", "worker_health", "pool_state"} {
		var name string
		err := database.QueryRow(
			"SELECT name FROM sqlite_master WHERE type='table' AND name = ?", table,
		).Scan(&name)
		if err != nil {
			t.Errorf("expected table %s to exist: %v", table, err)
		}
	}
}

func TestMigrateIsIdempotent(t *testing.T) {
	database := openMemoryDB(t)

	if err := Migrate(database, nil); err != nil {
		t.Fatalf("first migration failed: %v", err)
	}
	if err := Migrate(database, nil); err != nil {
		t.Fatalf("second migration failed: %v", err)
	}

	var count int
	if err := database.QueryRow("SELECT COUNT(*) FROM schema_migrations").Scan(&count); err != nil {
		t.Fatalf("failed to count migrations: %v", err)
	}
	if count == 0 {
		t.Error("expected recorded migrations")
	}
}

func TestClaimIndexExists(t *testing.T) {
	database := openMemoryDB(t)

	if err := Migrate(database, nil); err != nil {
		t.Fatalf("migration failed: %v", err)
	}

	var name string
	err := database.QueryRow(
		"SELECT name FROM sqlite_master WHERE type='index' AND name = 'idx_jobs_claim'",
	).Scan(&name)
	if err != nil {
		t.Errorf("expected claim index to exist: %v", err)
	}
}
