// Package health tracks per-worker heartbeats and liveness.
//
// A worker is stale when its last heartbeat is older than the configured
// threshold - or when it has no record at all, since a crashed process takes
// its record's upkeep down with it. Staleness is the sole trigger for job
// and ledger-claim recovery.
package health

import (
	"database/sql"
	"time"

	"github.com/xiaden/nomarr-sub002/errors"
)

// Record is the liveness state for one worker instance.
type Record struct {
	WorkerID string    `json:"worker_id"`
	Category string    `json:"category"`
	Busy     bool      `json:"busy"`
	Crashes  int       `json:"crashes"`
	LastBeat time.Time `json:"last_beat"`
}

// Registry persists worker health records and answers staleness queries.
type Registry struct {
	db         *sql.DB
	staleAfter time.Duration
}

// NewRegistry creates a registry with the given staleness threshold.
func NewRegistry(db *sql.DB, staleAfter time.Duration) *Registry {
	return &Registry{db: db, staleAfter: staleAfter}
}

// StaleAfter returns the configured staleness threshold.
func (r *Registry) StaleAfter() time.Duration {
	return r.staleAfter
}

// Beat upserts a worker's heartbeat, stamping now and the busy flag.
// Called once per worker poll cycle.
func (r *Registry) Beat(workerID, category string, busy bool) error {
	now := time.Now().UTC()
	query := `
		INSERT INTO worker_health (worker_id, category, busy, last_beat)
		VALUES (?, ?, ?, ?)
		ON CONFLICT(worker_id) DO UPDATE SET busy = excluded.busy, last_beat = excluded.last_beat
	`
	if _, err := r.db.Exec(query, workerID, category, busy, now); err != nil {
		return errors.Wrapf(err, "failed to record heartbeat for %s", workerID)
	}
	return nil
}

// RecordCrash increments the count of execution contexts lost under a
// worker. The worker itself keeps running; the counter is preserved across
// heartbeats for operator visibility into flapping analyzers.
func (r *Registry) RecordCrash(workerID string) error {
	_, err := r.db.Exec(
		`UPDATE worker_health SET crashes = crashes + 1 WHERE worker_id = ?`, workerID)
	if err != nil {
		return errors.Wrapf(err, "failed to record crash for %s", workerID)
	}
	return nil
}

// Get retrieves a worker's health record.
func (r *Registry) Get(workerID string) (*Record, error) {
	var rec Record
	err := r.db.QueryRow(
		`SELECT worker_id, category, busy, crashes, last_beat
		 FROM worker_health WHERE worker_id = ?`, workerID,
	).Scan(&rec.WorkerID, &rec.Category, &rec.Busy, &rec.Crashes, &rec.LastBeat)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, errors.Wrapf(errors.ErrNotFound, "worker %s", workerID)
	}
	if err != nil {
		return nil, errors.Wrapf(err, "failed to get health record for %s", workerID)
	}
	return &rec, nil
}

// IsStale reports whether a worker's heartbeat has lapsed. A missing record
// counts as stale: a holder we know nothing about cannot be trusted with a
// running job.
func (r *Registry) IsStale(workerID string) (bool, error) {
	if workerID == "" {
		return true, nil
	}
	rec, err := r.Get(workerID)
	if errors.IsNotFound(err) {
		return true, nil
	}
	if err != nil {
		return false, err
	}
	return time.Since(rec.LastBeat) > r.staleAfter, nil
}

// ListStale returns the records of all workers whose heartbeat has lapsed.
func (r *Registry) ListStale() ([]*Record, error) {
	cutoff := time.Now().UTC().Add(-r.staleAfter)
	rows, err := r.db.Query(
		`SELECT worker_id, category, busy, crashes, last_beat
		 FROM worker_health WHERE last_beat < ? ORDER BY last_beat`, cutoff)
	if err != nil {
		return nil, errors.Wrap(err, "failed to list stale workers")
	}
	defer rows.Close()

	var records []*Record
	for rows.Next() {
		var rec Record
		if err := rows.Scan(&rec.WorkerID, &rec.Category, &rec.Busy, &rec.Crashes, &rec.LastBeat); err != nil {
			return nil, errors.Wrap(err, "failed to scan health record")
		}
		records = append(records, &rec)
	}
	if err := rows.Err(); err != nil {
		return nil, errors.Wrap(err, "error iterating health records")
	}
	return records, nil
}

// ListByCategory returns the records of all workers in one category.
func (r *Registry) ListByCategory(category string) ([]*Record, error) {
	rows, err := r.db.Query(
		`SELECT worker_id, category, busy, crashes, last_beat
		 FROM worker_health WHERE category = ? ORDER BY worker_id`, category)
	if err != nil {
		return nil, errors.Wrapf(err, "failed to list workers for category %s", category)
	}
	defer rows.Close()

	var records []*Record
	for rows.Next() {
		var rec Record
		if err := rows.Scan(&rec.WorkerID, &rec.Category, &rec.Busy, &rec.Crashes, &rec.LastBeat); err != nil {
			return nil, errors.Wrap(err, "failed to scan health record")
		}
		records = append(records, &rec)
	}
	if err := rows.Err(); err != nil {
		return nil, errors.Wrap(err, "error iterating health records")
	}
	return records, nil
}

// Remove deletes a worker's record on clean shutdown. Removing an unknown
// worker is a no-op.
func (r *Registry) Remove(workerID string) error {
	if _, err := r.db.Exec(`DELETE FROM worker_health WHERE worker_id = ?`, workerID); err != nil {
		return errors.Wrapf(err, "failed to remove health record for %s", workerID)
	}
	return nil
}

// PruneStale deletes all lapsed records and returns how many were dropped.
// Run by the sweep after job and claim recovery so a stale record is only
// pruned once it can no longer be needed as evidence.
func (r *Registry) PruneStale() (int, error) {
	cutoff := time.Now().UTC().Add(-r.staleAfter)
	res, err := r.db.Exec(`DELETE FROM worker_health WHERE last_beat < ?`, cutoff)
	if err != nil {
		return 0, errors.Wrap(err, "failed to prune stale health records")
	}
	rows, err := res.RowsAffected()
	if err != nil {
		return 0, errors.Wrap(err, "failed to get rows affected")
	}
	return int(rows), nil
}
