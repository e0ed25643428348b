package queue

import (
	"database/sql"
)

// jobScanArgs holds the nullable column targets for scanning a job row.
type jobScanArgs struct {
	Options    sql.NullString
	WorkerID   sql.NullString
	ErrorMsg   sql.NullString
	Result     sql.NullString
	StartedAt  sql.NullTime
	FinishedAt sql.NullTime
}

// scanTargets returns the scan destinations for the job and its nullable
// columns, in the order of jobSelectColumns.
func scanTargets(job *Job, args *jobScanArgs) []interface{} {
	return []interface{}{
		&job.ID,
		&job.Category,
		&job.Target,
		&args.Options,
		&job.Status,
		&args.WorkerID,
		&args.ErrorMsg,
		&args.Result,
		&job.CreatedAt,
		&args.StartedAt,
		&args.FinishedAt,
		&job.UpdatedAt,
	}
}

// applyScanArgs copies the nullable columns into the job struct.
func applyScanArgs(job *Job, args *jobScanArgs) {
	if args.Options.Valid {
		job.Options = []byte(args.Options.String)
	}
	if args.WorkerID.Valid {
		job.WorkerID = args.WorkerID.String
	}
	if args.ErrorMsg.Valid {
		job.Error = args.ErrorMsg.String
	}
	if args.Result.Valid {
		job.Result = []byte(args.Result.String)
	}
	if args.StartedAt.Valid {
		job.StartedAt = &args.StartedAt.Time
	}
	if args.FinishedAt.Valid {
		job.FinishedAt = &args.FinishedAt.Time
	}
}

// scanJobRow scans a single job from a row-like scanner (sql.Row or sql.Rows).
func scanJobRow(scan func(dest ...interface{}) error, job *Job) error {
	args := &jobScanArgs{}
	if err := scan(scanTargets(job, args)...); err != nil {
		return err
	}
	applyScanArgs(job, args)
	return nil
}

// jobSelectColumns is the standard column list for job SELECT queries.
const jobSelectColumns = `id, category, target, options, status, worker_id,
	error, result, created_at, started_at, finished_at, updated_at`
