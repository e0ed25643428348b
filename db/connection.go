// Package db manages the nomarr SQLite database: connection setup and
// embedded schema migrations.
package db

import (
	"database/sql"

	_ "github.com/mattn/go-sqlite3"
	"go.uber.org/zap"

	"github.com/xiaden/nomarr-sub002/errors"
)

// Open opens a SQLite database at the specified path with the settings the
// job engine depends on. WAL mode keeps the worker poll loops reading while a
// claim UPDATE commits; the busy timeout absorbs claim contention between
// concurrent workers instead of surfacing SQLITE_BUSY.
// If logger is nil the function operates silently.
func Open(path string, logger *zap.SugaredLogger) (*sql.DB, error) {
	if logger != nil {
		logger.Debugw("Opening database", "path", path)
	}
	database, err := sql.Open("sqlite3", path)
	if err != nil {
		return nil, errors.Wrap(err, "failed to open database")
	}

	if _, err := database.Exec("PRAGMA journal_mode = WAL"); err != nil {
		database.Close()
		return nil, errors.Wrap(err, "failed to enable WAL mode")
	}

	if _, err := database.Exec("PRAGMA foreign_keys = ON"); err != nil {
		database.Close()
		return nil, errors.Wrap(err, "failed to enable foreign keys")
	}

	if _, err := database.Exec("PRAGMA busy_timeout = 5000"); err != nil {
		database.Close()
		return nil, errors.Wrap(err, "failed to set busy timeout")
	}

	if logger != nil {
		logger.Infow("Database opened",
			"path", path,
			"wal_mode", true,
			"foreign_keys", true,
		)
	}

	return database, nil
}
