package queue

import (
	"database/sql"
	"time"

	"github.com/xiaden/nomarr-sub002/errors"
)

// Store handles persistence of jobs for one category.
//
// Every state transition is a single conditional UPDATE so that concurrent
// workers can never observe (or create) an intermediate state. The claim
// statement in particular must stay a one-statement compare-and-swap - a
// read-then-write here would reintroduce double-dispatch.
type Store struct {
	db       *sql.DB
	category string
}

// NewStore creates a job store scoped to one category.
func NewStore(db *sql.DB, category string) *Store {
	return &Store{db: db, category: category}
}

// CreateJob inserts a new pending job.
func (s *Store) CreateJob(job *Job) error {
	query := `
		INSERT INTO jobs (
			id, category, target, options, status,
			created_at, updated_at
		) VALUES (?, ?, ?, ?, ?, ?, ?)
	`

	options := sql.NullString{String: string(job.Options), Valid: len(job.Options) > 0}

	_, err := s.db.Exec(query,
		job.ID,
		job.Category,
		job.Target,
		options,
		job.Status,
		job.CreatedAt,
		job.UpdatedAt,
	)
	if err != nil {
		return errors.Wrap(err, "failed to create job")
	}

	return nil
}

// GetJob retrieves a job by ID.
func (s *Store) GetJob(id string) (*Job, error) {
	query := `SELECT ` + jobSelectColumns + ` FROM jobs WHERE id = ? AND category = ?`

	var job Job
	row := s.db.QueryRow(query, id, s.category)
	err := scanJobRow(row.Scan, &job)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, errors.Wrapf(errors.ErrNotFound, "job %s", id)
	}
	if err != nil {
		return nil, errors.Wrap(err, "failed to get job")
	}

	return &job, nil
}

// ClaimNext atomically claims the oldest pending job for workerID: selects by
// strict FIFO order (created_at, then id for same-instant inserts), flips it
// to running and stamps the start time in one statement. Returns nil when the
// queue has no pending work.
func (s *Store) ClaimNext(workerID string) (*Job, error) {
	now := time.Now().UTC()
	query := `
		UPDATE jobs
		SET status = ?, worker_id = ?, started_at = ?, updated_at = ?
		WHERE id = (
			SELECT id FROM jobs
			WHERE category = ? AND status = ?
			ORDER BY created_at, id
			LIMIT 1
		)
		RETURNING ` + jobSelectColumns

	var job Job
	row := s.db.QueryRow(query,
		StatusRunning, workerID, now, now,
		s.category, StatusPending,
	)
	err := scanJobRow(row.Scan, &job)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil // queue empty
	}
	if err != nil {
		return nil, errors.Wrap(err, "failed to claim job")
	}

	return &job, nil
}

// FinishJob transitions a running job to a terminal status. The WHERE clause
// enforces the state machine; zero rows affected means the job either does
// not exist or is not running, which GetJob disambiguates for the caller.
func (s *Store) FinishJob(id string, to Status, errMsg string, result []byte) error {
	now := time.Now().UTC()
	query := `
		UPDATE jobs
		SET status = ?, error = ?, result = ?, finished_at = ?, updated_at = ?
		WHERE id = ? AND category = ? AND status = ?
	`

	errVal := sql.NullString{String: errMsg, Valid: errMsg != ""}
	resVal := sql.NullString{String: string(result), Valid: len(result) > 0}

	res, err := s.db.Exec(query, to, errVal, resVal, now, now, id, s.category, StatusRunning)
	if err != nil {
		return errors.Wrapf(err, "failed to mark job %s as %s", id, to)
	}

	return s.checkTransition(res, id, to)
}

// ReleaseJob hands a running job back to pending, but only when holder still
// owns it. Used by a worker that claimed a job and then found no execution
// capacity; the claim ordering guarantees nobody else can hold it, the holder
// guard is there so a sweep that already requeued the job is not raced.
func (s *Store) ReleaseJob(id, holder string) error {
	now := time.Now().UTC()
	query := `
		UPDATE jobs
		SET status = ?, worker_id = NULL, started_at = NULL, updated_at = ?
		WHERE id = ? AND category = ? AND status = ? AND worker_id = ?
	`

	res, err := s.db.Exec(query, StatusPending, now, id, s.category, StatusRunning, holder)
	if err != nil {
		return errors.Wrapf(err, "failed to release job %s", id)
	}

	return s.checkTransition(res, id, StatusPending)
}

// RequeueRunning unconditionally returns a running job to pending, clearing
// the stale holder and any partial error. Callers must have confirmed the
// holder is stale first; the queue layer enforces that.
func (s *Store) RequeueRunning(id string) (bool, error) {
	now := time.Now().UTC()
	query := `
		UPDATE jobs
		SET status = ?, worker_id = NULL, started_at = NULL, error = NULL, updated_at = ?
		WHERE id = ? AND category = ? AND status = ?
	`

	res, err := s.db.Exec(query, StatusPending, now, id, s.category, StatusRunning)
	if err != nil {
		return false, errors.Wrapf(err, "failed to requeue job %s", id)
	}

	rows, err := res.RowsAffected()
	if err != nil {
		return false, errors.Wrap(err, "failed to get rows affected")
	}
	return rows > 0, nil
}

// checkTransition converts a zero-rows-affected conditional update into the
// precise error: not found, or invalid transition with the actual status.
func (s *Store) checkTransition(res sql.Result, id string, to Status) error {
	rows, err := res.RowsAffected()
	if err != nil {
		return errors.Wrap(err, "failed to get rows affected")
	}
	if rows > 0 {
		return nil
	}

	current, err := s.GetJob(id)
	if err != nil {
		return err // ErrNotFound
	}
	return errors.WithDetailf(
		errors.Wrapf(errors.ErrInvalidTransition, "job %s: %s -> %s", id, current.Status, to),
		"job must be running to transition to %s", to)
}

// ListJobs returns jobs for this category, optionally filtered by status,
// newest first.
func (s *Store) ListJobs(status *Status, limit, offset int) ([]*Job, error) {
	var query string
	var args []interface{}

	baseQuery := `SELECT ` + jobSelectColumns + ` FROM jobs WHERE category = ?`
	if status != nil {
		query = baseQuery + ` AND status = ? ORDER BY created_at DESC, id DESC LIMIT ? OFFSET ?`
		args = []interface{}{s.category, *status, limit, offset}
	} else {
		query = baseQuery + ` ORDER BY created_at DESC, id DESC LIMIT ? OFFSET ?`
		args = []interface{}{s.category, limit, offset}
	}

	rows, err := s.db.Query(query, args...)
	if err != nil {
		return nil, errors.Wrap(err, "failed to list jobs")
	}
	defer rows.Close()

	return scanJobs(rows)
}

// ListRunning returns every running job for this category, oldest first.
// The orphan sweep walks this list.
func (s *Store) ListRunning() ([]*Job, error) {
	query := `SELECT ` + jobSelectColumns + `
		FROM jobs
		WHERE category = ? AND status = ?
		ORDER BY started_at, id`

	rows, err := s.db.Query(query, s.category, StatusRunning)
	if err != nil {
		return nil, errors.Wrap(err, "failed to list running jobs")
	}
	defer rows.Close()

	return scanJobs(rows)
}

func scanJobs(rows *sql.Rows) ([]*Job, error) {
	var jobs []*Job
	for rows.Next() {
		var job Job
		if err := scanJobRow(rows.Scan, &job); err != nil {
			return nil, errors.Wrap(err, "failed to scan job")
		}
		jobs = append(jobs, &job)
	}

	if err := rows.Err(); err != nil {
		return nil, errors.Wrap(err, "error iterating jobs")
	}

	return jobs, nil
}

// DeleteJob removes a non-running job. The status guard protects in-flight
// work; force-removal of running jobs goes through the service layer which
// reconciles the holder's claims first.
func (s *Store) DeleteJob(id string) error {
	query := `DELETE FROM jobs WHERE id = ? AND category = ? AND status != ?`

	res, err := s.db.Exec(query, id, s.category, StatusRunning)
	if err != nil {
		return errors.Wrapf(err, "failed to delete job %s", id)
	}

	rows, err := res.RowsAffected()
	if err != nil {
		return errors.Wrap(err, "failed to get rows affected")
	}
	if rows == 0 {
		if _, err := s.GetJob(id); err != nil {
			return err // ErrNotFound
		}
		return errors.Wrapf(errors.ErrInvalidTransition, "job %s is running and cannot be removed", id)
	}

	return nil
}

// ForceDeleteJob removes a job regardless of status. Administrative override
// only.
func (s *Store) ForceDeleteJob(id string) error {
	res, err := s.db.Exec(`DELETE FROM jobs WHERE id = ? AND category = ?`, id, s.category)
	if err != nil {
		return errors.Wrapf(err, "failed to delete job %s", id)
	}

	rows, err := res.RowsAffected()
	if err != nil {
		return errors.Wrap(err, "failed to get rows affected")
	}
	if rows == 0 {
		return errors.Wrapf(errors.ErrNotFound, "job %s", id)
	}

	return nil
}

// Flush bulk-removes jobs in the given statuses. Running is rejected by the
// queue layer before we get here; the status list is interpolated as
// placeholders only.
func (s *Store) Flush(statuses []Status) (int, error) {
	if len(statuses) == 0 {
		return 0, nil
	}

	query := `DELETE FROM jobs WHERE category = ? AND status IN (?` // first placeholder
	args := []interface{}{s.category, statuses[0]}
	for _, st := range statuses[1:] {
		query += `, ?`
		args = append(args, st)
	}
	query += `)`

	res, err := s.db.Exec(query, args...)
	if err != nil {
		return 0, errors.Wrap(err, "failed to flush jobs")
	}

	rows, err := res.RowsAffected()
	if err != nil {
		return 0, errors.Wrap(err, "failed to get rows affected")
	}
	return int(rows), nil
}

// Stats returns counts of jobs by status for this category.
func (s *Store) Stats() (*Stats, error) {
	query := `SELECT status, COUNT(*) FROM jobs WHERE category = ? GROUP BY status`

	rows, err := s.db.Query(query, s.category)
	if err != nil {
		return nil, errors.Wrap(err, "failed to query job stats")
	}
	defer rows.Close()

	stats := &Stats{}
	for rows.Next() {
		var status Status
		var count int
		if err := rows.Scan(&status, &count); err != nil {
			return nil, errors.Wrap(err, "failed to scan job stats")
		}
		switch status {
		case StatusPending:
			stats.Pending = count
		case StatusRunning:
			stats.Running = count
		case StatusDone:
			stats.Done = count
		case StatusError:
			stats.Error = count
		case StatusSkipped:
			stats.Skipped = count
		}
		stats.Total += count
	}
	if err := rows.Err(); err != nil {
		return nil, errors.Wrap(err, "error iterating job stats")
	}

	return stats, nil
}

// CleanupOldJobs removes terminal jobs that finished longer ago than the
// given age.
func (s *Store) CleanupOldJobs(olderThan time.Duration) (int, error) {
	cutoff := time.Now().UTC().Add(-olderThan)

	query := `
		DELETE FROM jobs
		WHERE category = ?
		  AND status IN (?, ?, ?)
		  AND finished_at < ?
	`

	res, err := s.db.Exec(query, s.category, StatusDone, StatusError, StatusSkipped, cutoff)
	if err != nil {
		return 0, errors.Wrap(err, "failed to cleanup old jobs")
	}

	rows, err := res.RowsAffected()
	if err != nil {
		return 0, errors.Wrap(err, "failed to get rows affected")
	}
	return int(rows), nil
}
