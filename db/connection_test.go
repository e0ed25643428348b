package db

import (
	"os"
	"path/filepath"
	"testing"
)

func TestOpenAppliesPragmas(t *testing.T) {
	path := filepath.Join(t.TempDir(), "nomarr.db")

	database, err := Open(path, nil)
	if err != nil {
		t.Fatalf("failed to open database: %v", err)
	}
	defer database.Close()

	var journalMode string
	if err := database.QueryRow("PRAGMA journal_mode").Scan(&journalMode); err != nil {
		t.Fatalf("failed to read journal_mode: %v", err)
	}
	if journalMode != "wal" {
		t.Errorf("expected WAL journal mode, got %s", journalMode)
	}

	var foreignKeys int
	if err := database.QueryRow("PRAGMA foreign_keys").Scan(&foreignKeys); err != nil {
		t.Fatalf("failed to read foreign_keys: %v", err)
	}
	if foreignKeys != 1 {
		t.Error("expected foreign keys enabled")
	}
}

func TestOpenCreatesFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "nomarr.db")

	database, err := Open(path, nil)
	if err != nil {
		t.Fatalf("failed to open fresh database file: %v", err)
	}
	database.Close()

	if _, err := os.Stat(path); err != nil {
		t.Errorf("expected database file on disk: %v", err)
	}
}
