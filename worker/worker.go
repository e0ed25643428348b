// Package worker runs the polling loops that drain job queues. A Worker binds
// one queue to one coordinator backend; a Pool owns the workers for a
// category, persists its pause flag, and sweeps for orphaned work.
package worker

import (
	"context"
	"encoding/json"
	"fmt"
	"sync/atomic"
	"time"

	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/xiaden/nomarr-sub002/coordinator"
	"github.com/xiaden/nomarr-sub002/errors"
	"github.com/xiaden/nomarr-sub002/health"
	"github.com/xiaden/nomarr-sub002/queue"
)

// Worker is a single polling loop. It claims one job at a time, submits it to
// the coordinator, waits for the result, and writes the terminal status back
// to the queue. Heartbeats are emitted every cycle and while waiting on a
// long-running analysis, so the orphan sweep never mistakes a slow worker for
// a dead one.
type Worker struct {
	id       string
	queue    *queue.Queue
	coord    *coordinator.Coordinator
	backend  coordinator.Backend
	registry *health.Registry
	limiter  *rate.Limiter
	paused   func() bool
	active   *atomic.Int64

	pollInterval time.Duration
	submitWait   time.Duration
	heartbeat    time.Duration

	// ctx stops the poll loop; execCtx cuts in-flight executions. They are
	// separate so a scale-down lets the current job finish while a hard
	// shutdown can still abort it.
	ctx     context.Context
	cancel  context.CancelFunc
	execCtx context.Context

	log  *zap.SugaredLogger
	done chan struct{}
}

// ID returns the worker's identifier, used as the claim holder in the queue
// and the ledger.
func (w *Worker) ID() string {
	return w.id
}

// stop asks the loop to exit after the current job, if any. Callers wait on
// w.done for completion.
func (w *Worker) stop() {
	w.cancel()
}

func (w *Worker) run() {
	defer close(w.done)
	defer func() {
		if err := w.registry.Remove(w.id); err != nil {
			w.log.Warnw("failed to remove health record", "worker_id", w.id, "error", err)
		}
	}()

	w.log.Debugw("worker started", "worker_id", w.id, "category", w.queue.Category())

	for {
		select {
		case <-w.ctx.Done():
			w.log.Debugw("worker stopped", "worker_id", w.id)
			return
		default:
		}

		w.beat(false)

		if w.paused() {
			w.sleep(w.pollInterval)
			continue
		}

		// Token bucket paces claims after a restart so a recovered backlog
		// does not slam the analyzer processes all at once.
		if !w.limiter.Allow() {
			w.sleep(w.pollInterval)
			continue
		}

		job, err := w.queue.ClaimNext(w.id)
		if err != nil {
			w.log.Errorw("claim failed", "worker_id", w.id, "error", err)
			w.sleep(w.pollInterval)
			continue
		}
		if job == nil {
			w.sleep(w.pollInterval)
			continue
		}

		w.beat(true)
		w.active.Add(1)
		w.process(job)
		w.active.Add(-1)
	}
}

func (w *Worker) process(job *queue.Job) {
	start := time.Now()
	log := w.log.With("worker_id", w.id, "job_id", job.ID, "target", job.Target)

	pending, err := w.coord.Submit(w.execCtx, w.backend, job.Target, job.Options, w.id)
	if err != nil {
		if errors.IsAny(err, errors.ErrCapacityUnavailable, errors.ErrEngineClosed) {
			// Not the job's fault. Put it back at the head of the queue and
			// back off; capacity frees up when another job finishes.
			if relErr := w.queue.Release(job.ID, w.id); relErr != nil {
				log.Errorw("failed to release job after denial", "error", relErr)
			}
			w.sleep(w.pollInterval)
			return
		}
		w.markError(job.ID, err.Error(), log)
		return
	}

	result, err := w.await(pending)
	elapsed := time.Since(start).Round(time.Millisecond)

	switch {
	case err == nil:
		if markErr := w.queue.MarkDone(job.ID, result); markErr != nil {
			log.Errorw("failed to mark job done", "error", markErr)
			return
		}
		log.Infow("job completed", "elapsed", elapsed)

	case errors.Is(err, errors.ErrSkipped):
		reason := err.Error()
		if markErr := w.queue.MarkSkipped(job.ID, reason); markErr != nil {
			log.Errorw("failed to mark job skipped", "error", markErr)
			return
		}
		log.Infow("job skipped", "reason", reason, "elapsed", elapsed)

	case errors.Is(err, errors.ErrTimeout):
		// The execution may still be running in the backend; its eventual
		// result is discarded and the coordinator releases the capacity
		// claim when it resolves.
		msg := fmt.Sprintf("analysis exceeded %s", w.submitWait)
		w.markError(job.ID, msg, log)

	case errors.Is(err, errors.ErrWorkerCrashed):
		w.markError(job.ID, err.Error(), log)
		if recErr := w.registry.RecordCrash(w.id); recErr != nil {
			log.Warnw("failed to record crash", "error", recErr)
		}

	case errors.Is(err, context.Canceled) && w.execCtx.Err() != nil:
		// A hard shutdown cut the execution short. The job is not at
		// fault; hand it back so the next run performs it from scratch.
		if relErr := w.queue.Release(job.ID, w.id); relErr != nil {
			log.Errorw("failed to release job during shutdown", "error", relErr)
			return
		}
		log.Infow("job released during shutdown", "elapsed", elapsed)

	default:
		w.markError(job.ID, err.Error(), log)
	}
}

// await waits for the pending execution in heartbeat-sized slices so the
// worker's health record stays fresh for the whole run, up to submitWait.
func (w *Worker) await(pending *coordinator.Pending) (json.RawMessage, error) {
	deadline := time.Now().Add(w.submitWait)
	for {
		result, err := pending.Wait(w.heartbeat)
		if err != nil && errors.Is(err, errors.ErrTimeout) {
			if time.Now().After(deadline) {
				return nil, err
			}
			w.beat(true)
			continue
		}
		return result, err
	}
}

func (w *Worker) markError(jobID, message string, log *zap.SugaredLogger) {
	if err := w.queue.MarkError(jobID, message); err != nil {
		log.Errorw("failed to mark job error", "error", err)
		return
	}
	log.Warnw("job failed", "reason", message)
}

func (w *Worker) beat(busy bool) {
	if err := w.registry.Beat(w.id, w.queue.Category(), busy); err != nil {
		w.log.Warnw("heartbeat failed", "worker_id", w.id, "error", err)
	}
}

// sleep pauses for d but wakes immediately on stop.
func (w *Worker) sleep(d time.Duration) {
	select {
	case <-w.ctx.Done():
	case <-time.After(d):
	}
}
