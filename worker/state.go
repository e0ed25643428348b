package worker

import (
	"database/sql"
	"time"

	"github.com/xiaden/nomarr-sub002/errors"
)

// stateStore persists per-category pool flags. The pause flag in particular
// must survive a process restart: an operator who paused tagging before a
// reboot expects it to stay paused.
type stateStore struct {
	db *sql.DB
}

func (s *stateStore) loadPaused(category string) (bool, error) {
	var paused bool
	err := s.db.QueryRow(
		`SELECT paused FROM pool_state WHERE category = ?`, category,
	).Scan(&paused)
	if errors.Is(err, sql.ErrNoRows) {
		return false, nil // no row yet means never paused
	}
	if err != nil {
		return false, errors.Wrapf(err, "failed to load pool state for %s", category)
	}
	return paused, nil
}

func (s *stateStore) savePaused(category string, paused bool) error {
	now := time.Now().UTC()
	query := `
		INSERT INTO pool_state (category, paused, updated_at)
		VALUES (?, ?, ?)
		ON CONFLICT(category) DO UPDATE SET paused = excluded.paused, updated_at = excluded.updated_at
	`
	if _, err := s.db.Exec(query, category, paused, now); err != nil {
		return errors.Wrapf(err, "failed to save pool state for %s", category)
	}
	return nil
}
