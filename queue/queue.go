package queue

import (
	"database/sql"
	"encoding/json"
	"sync"
	"time"

	"github.com/xiaden/nomarr-sub002/errors"
)

const (
	// SubscriberChannelBufferSize is the buffer size for subscriber channels.
	SubscriberChannelBufferSize = 100
)

// StaleChecker reports whether a job holder's health record is stale.
// Implemented by health.Registry; defined here so the queue does not depend
// on the health package.
type StaleChecker interface {
	IsStale(workerID string) (bool, error)
}

// Queue is the durable FIFO job queue for one category.
//
// All state transitions are individually atomic (single conditional UPDATEs
// in the store); the queue's own mutex only guards the subscriber list.
type Queue struct {
	store       *Store
	category    string
	mu          sync.Mutex
	subscribers []chan *Job
}

// New creates a queue for one category backed by the given database.
func New(db *sql.DB, category string) *Queue {
	return &Queue{
		store:    NewStore(db, category),
		category: category,
	}
}

// Category returns the category this queue serves.
func (q *Queue) Category() string {
	return q.category
}

// Enqueue inserts a new pending job and returns it.
func (q *Queue) Enqueue(target string, options json.RawMessage) (*Job, error) {
	job := NewJob(q.category, target, options)

	if err := q.store.CreateJob(job); err != nil {
		err = errors.Wrap(err, "failed to enqueue job")
		err = errors.WithDetailf(err, "target: %s", target)
		return nil, err
	}

	q.notifySubscribers(job)
	return job, nil
}

// ClaimNext atomically claims the oldest pending job for workerID.
// Returns nil when no pending work exists. Safe under concurrent callers:
// the underlying compare-and-swap guarantees each job is handed to exactly
// one worker.
func (q *Queue) ClaimNext(workerID string) (*Job, error) {
	job, err := q.store.ClaimNext(workerID)
	if err != nil {
		return nil, err
	}
	if job == nil {
		return nil, nil
	}

	q.notifySubscribers(job)
	return job, nil
}

// MarkDone transitions a running job to done with its result payload.
func (q *Queue) MarkDone(id string, result json.RawMessage) error {
	return q.finish(id, StatusDone, "", result)
}

// MarkError transitions a running job to error, recording the message
// verbatim.
func (q *Queue) MarkError(id string, message string) error {
	return q.finish(id, StatusError, message, nil)
}

// MarkSkipped transitions a running job to skipped (work determined
// unnecessary, e.g. the track already carries current tags).
func (q *Queue) MarkSkipped(id string, reason string) error {
	return q.finish(id, StatusSkipped, reason, nil)
}

func (q *Queue) finish(id string, to Status, message string, result json.RawMessage) error {
	if err := q.store.FinishJob(id, to, message, result); err != nil {
		return err
	}

	job, err := q.store.GetJob(id)
	if err == nil {
		q.notifySubscribers(job)
	}
	return nil
}

// Release hands a claimed job back to pending. Called by the holding worker
// itself when the coordinator reports no capacity; never recorded as an
// error on the job.
func (q *Queue) Release(id, holder string) error {
	if err := q.store.ReleaseJob(id, holder); err != nil {
		return err
	}

	job, err := q.store.GetJob(id)
	if err == nil {
		q.notifySubscribers(job)
	}
	return nil
}

// RequeueIfStale transitions a running job back to pending, but only when
// the recorded holder is confirmed stale by the checker. Returns true when
// the job was requeued. Used exclusively by the orphan-recovery sweep.
func (q *Queue) RequeueIfStale(id string, checker StaleChecker) (bool, error) {
	job, err := q.store.GetJob(id)
	if err != nil {
		return false, err
	}
	if job.Status != StatusRunning {
		return false, nil // already reconciled
	}

	stale, err := checker.IsStale(job.WorkerID)
	if err != nil {
		return false, errors.Wrapf(err, "failed to check staleness of holder %s", job.WorkerID)
	}
	if !stale {
		return false, nil // holder is alive, leave the job alone
	}

	requeued, err := q.store.RequeueRunning(id)
	if err != nil {
		return false, err
	}
	if requeued {
		if fresh, err := q.store.GetJob(id); err == nil {
			q.notifySubscribers(fresh)
		}
	}
	return requeued, nil
}

// Get retrieves a job by ID.
func (q *Queue) Get(id string) (*Job, error) {
	return q.store.GetJob(id)
}

// List returns jobs, optionally filtered by status, newest first.
func (q *Queue) List(status *Status, limit, offset int) ([]*Job, error) {
	return q.store.ListJobs(status, limit, offset)
}

// ListRunning returns all running jobs, oldest first.
func (q *Queue) ListRunning() ([]*Job, error) {
	return q.store.ListRunning()
}

// Flush bulk-removes jobs in the given statuses. Running jobs are protected:
// asking to flush them is a caller error.
func (q *Queue) Flush(statuses []Status) (int, error) {
	for _, st := range statuses {
		if st == StatusRunning {
			return 0, errors.Wrap(errors.ErrInvalidTransition, "cannot flush running jobs")
		}
		if !IsValidStatus(st) {
			return 0, errors.Newf("unknown status %q", st)
		}
	}
	return q.store.Flush(statuses)
}

// Remove hard-deletes a single non-running job.
func (q *Queue) Remove(id string) error {
	return q.store.DeleteJob(id)
}

// ForceRemove hard-deletes a job regardless of status. The caller is
// responsible for reconciling the holder's ledger claims first.
func (q *Queue) ForceRemove(id string) error {
	return q.store.ForceDeleteJob(id)
}

// Cleanup removes terminal jobs older than the given age and returns how
// many were deleted.
func (q *Queue) Cleanup(olderThan time.Duration) (int, error) {
	return q.store.CleanupOldJobs(olderThan)
}

// Stats returns counts of jobs by status.
func (q *Queue) Stats() (*Stats, error) {
	return q.store.Stats()
}

// Depth returns pending plus running counts, the admission-control depth.
func (q *Queue) Depth() (int, error) {
	stats, err := q.store.Stats()
	if err != nil {
		return 0, err
	}
	return stats.Depth(), nil
}

// Subscribe returns a channel that receives job updates. The caller must
// call Unsubscribe when done. The channel is buffered so a slow consumer
// never stalls workers.
func (q *Queue) Subscribe() chan *Job {
	q.mu.Lock()
	defer q.mu.Unlock()

	ch := make(chan *Job, SubscriberChannelBufferSize)
	q.subscribers = append(q.subscribers, ch)
	return ch
}

// Unsubscribe removes a subscriber channel. The channel is not closed here;
// the subscriber owns its lifecycle.
func (q *Queue) Unsubscribe(ch chan *Job) {
	q.mu.Lock()
	defer q.mu.Unlock()

	for i, sub := range q.subscribers {
		if sub == ch {
			q.subscribers = append(q.subscribers[:i], q.subscribers[i+1:]...)
			return
		}
	}
}

// notifySubscribers sends job updates to all subscribers without blocking.
func (q *Queue) notifySubscribers(job *Job) {
	q.mu.Lock()
	defer q.mu.Unlock()

	for _, ch := range q.subscribers {
		select {
		case ch <- job:
		default:
			// subscriber buffer full, drop the update
		}
	}
}
