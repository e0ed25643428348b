package worker

import (
	"context"
	"database/sql"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/xiaden/nomarr-sub002/coordinator"
	"github.com/xiaden/nomarr-sub002/errors"
	"github.com/xiaden/nomarr-sub002/health"
	"github.com/xiaden/nomarr-sub002/ledger"
	"github.com/xiaden/nomarr-sub002/queue"
)

// Config holds the tunables for a pool and its workers.
type Config struct {
	Workers       int
	PollInterval  time.Duration
	SubmitWait    time.Duration
	Heartbeat     time.Duration
	SweepInterval time.Duration
	ClaimRate     float64
}

// Pool owns the workers for one category. It persists the pause flag across
// restarts, recovers orphaned work at startup and on a periodic sweep, and
// scales the worker count up or down without interrupting jobs in flight.
type Pool struct {
	category string
	queue    *queue.Queue
	coord    *coordinator.Coordinator
	backend  coordinator.Backend
	registry *health.Registry
	ledger   *ledger.Ledger
	state    *stateStore
	cfg      Config
	limiter  *rate.Limiter
	log      *zap.SugaredLogger

	ctx        context.Context
	cancel     context.CancelFunc
	execCtx    context.Context
	execCancel context.CancelFunc

	paused    atomic.Bool
	active    atomic.Int64
	mu        sync.Mutex // guards workers and started
	workers   []*Worker
	sweepDone chan struct{}
	started   bool
}

// NewPool wires a pool over an existing queue, coordinator, and backend.
// Nothing runs until Start.
func NewPool(database *sql.DB, q *queue.Queue, coord *coordinator.Coordinator, backend coordinator.Backend, registry *health.Registry, led *ledger.Ledger, cfg Config, logger *zap.SugaredLogger) *Pool {
	if cfg.Workers < 1 {
		cfg.Workers = 1
	}
	if cfg.SweepInterval <= 0 {
		cfg.SweepInterval = time.Minute
	}
	ctx, cancel := context.WithCancel(context.Background())
	execCtx, execCancel := context.WithCancel(context.Background())

	burst := cfg.Workers
	if burst < 1 {
		burst = 1
	}

	return &Pool{
		category:   q.Category(),
		queue:      q,
		coord:      coord,
		backend:    backend,
		registry:   registry,
		ledger:     led,
		state:      &stateStore{db: database},
		cfg:        cfg,
		limiter:    rate.NewLimiter(rate.Limit(cfg.ClaimRate), burst),
		log:        logger.With("category", q.Category()),
		ctx:        ctx,
		cancel:     cancel,
		execCtx:    execCtx,
		execCancel: execCancel,
		sweepDone:  make(chan struct{}),
	}
}

// Category returns the job category this pool drains.
func (p *Pool) Category() string {
	return p.category
}

// Start loads the persisted pause flag, recovers orphaned jobs left over from
// a previous run, and spawns the configured number of workers plus the sweep
// loop. Idempotent failures during recovery are logged, not fatal.
func (p *Pool) Start() error {
	p.mu.Lock()
	if p.started {
		p.mu.Unlock()
		return errors.Newf("pool for %s already started", p.category)
	}
	p.started = true
	p.mu.Unlock()

	paused, err := p.state.loadPaused(p.category)
	if err != nil {
		return err
	}
	p.paused.Store(paused)
	if paused {
		p.log.Infow("pool starting paused")
	}

	if warning := memoryPressureWarning(p.cfg.Workers); warning != "" {
		p.log.Warnw("memory pressure", "warning", warning)
	}

	if _, err := p.RecoverOrphans(); err != nil {
		p.log.Errorw("orphan recovery at startup failed", "error", err)
	}

	p.mu.Lock()
	for i := 0; i < p.cfg.Workers; i++ {
		p.spawn()
	}
	count := len(p.workers)
	p.mu.Unlock()
	go p.sweepLoop()

	p.log.Infow("pool started", "workers", count)
	return nil
}

// Stop shuts the pool down. Workers finish their current job within the grace
// period; after that, in-flight executions are aborted.
func (p *Pool) Stop(grace time.Duration) {
	p.cancel()

	p.mu.Lock()
	if !p.started {
		p.mu.Unlock()
		p.execCancel()
		return
	}
	workers := make([]*Worker, len(p.workers))
	copy(workers, p.workers)
	p.mu.Unlock()

	done := make(chan struct{})
	go func() {
		for _, w := range workers {
			<-w.done
		}
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(grace):
		p.log.Warnw("grace period expired, aborting in-flight jobs")
		p.execCancel()
		<-done
	}
	p.execCancel()
	<-p.sweepDone
	p.log.Infow("pool stopped")
}

// ScaleTo adjusts the live worker count. Scaling down is graceful: excess
// workers finish their current job before exiting.
func (p *Pool) ScaleTo(n int) error {
	if n < 0 {
		return errors.Newf("worker count cannot be negative: %d", n)
	}

	p.mu.Lock()
	defer p.mu.Unlock()
	current := len(p.workers)
	switch {
	case n > current:
		for i := current; i < n; i++ {
			p.spawn()
		}
		p.log.Infow("scaled up", "from", current, "to", n)
	case n < current:
		for _, w := range p.workers[n:] {
			w.stop()
		}
		p.workers = p.workers[:n]
		p.log.Infow("scaled down", "from", current, "to", n)
	}
	return nil
}

// Workers returns the current worker count.
func (p *Pool) Workers() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.workers)
}

// Pause stops workers from claiming new jobs. Jobs already in flight run to
// completion. The flag is persisted so the pool comes back paused after a
// restart.
func (p *Pool) Pause() error {
	if err := p.state.savePaused(p.category, true); err != nil {
		return err
	}
	p.paused.Store(true)
	p.log.Infow("pool paused")
	return nil
}

// Resume lets workers claim jobs again and clears the persisted flag.
func (p *Pool) Resume() error {
	if err := p.state.savePaused(p.category, false); err != nil {
		return err
	}
	p.paused.Store(false)
	p.log.Infow("pool resumed")
	return nil
}

// Paused reports whether the pool is paused. It reads the persisted flag so
// the answer is correct even from a process that never started workers, e.g.
// the CLI inspecting a paused daemon.
func (p *Pool) Paused() bool {
	paused, err := p.state.loadPaused(p.category)
	if err != nil {
		return p.paused.Load()
	}
	return paused
}

// IsIdle reports whether no worker is processing and the queue shows no
// running jobs. With the pool paused, idle means it is safe to take the
// analyzers offline.
func (p *Pool) IsIdle() (bool, error) {
	if p.active.Load() > 0 {
		return false, nil
	}
	stats, err := p.queue.Stats()
	if err != nil {
		return false, err
	}
	return stats.Running == 0, nil
}

// WaitIdle polls until the pool is idle or the timeout elapses.
func (p *Pool) WaitIdle(timeout time.Duration) error {
	deadline := time.Now().Add(timeout)
	for {
		idle, err := p.IsIdle()
		if err != nil {
			return err
		}
		if idle {
			return nil
		}
		if time.Now().After(deadline) {
			return errors.Wrapf(errors.ErrTimeout, "pool %s not idle after %s", p.category, timeout)
		}
		select {
		case <-p.ctx.Done():
			return nil
		case <-time.After(p.cfg.PollInterval):
		}
	}
}

// RecoverOrphans requeues running jobs whose holder has gone stale, reclaims
// the dead holders' capacity claims, and prunes their health records. It
// returns the number of jobs requeued. Safe to run repeatedly; a second pass
// finds nothing to do.
func (p *Pool) RecoverOrphans() (int, error) {
	running, err := p.queue.ListRunning()
	if err != nil {
		return 0, errors.Wrap(err, "failed to list running jobs")
	}

	requeuedCount := 0
	for _, job := range running {
		requeued, err := p.queue.RequeueIfStale(job.ID, p.registry)
		if err != nil {
			p.log.Errorw("failed to check orphaned job", "job_id", job.ID, "error", err)
			continue
		}
		if !requeued {
			continue
		}
		requeuedCount++
		reclaimed, err := p.ledger.ReclaimStale(job.WorkerID)
		if err != nil {
			p.log.Errorw("failed to reclaim capacity", "holder", job.WorkerID, "error", err)
		}
		p.log.Infow("requeued orphaned job",
			"job_id", job.ID, "stale_worker", job.WorkerID, "claims_reclaimed", reclaimed)
	}

	// Stale workers may hold capacity without a running job, e.g. when they
	// died between acquiring a claim and starting the execution.
	stale, err := p.registry.ListStale()
	if err != nil {
		return requeuedCount, errors.Wrap(err, "failed to list stale workers")
	}
	for _, rec := range stale {
		if rec.Category != p.category {
			continue
		}
		reclaimed, err := p.ledger.ReclaimStale(rec.WorkerID)
		if err != nil {
			p.log.Errorw("failed to reclaim capacity", "holder", rec.WorkerID, "error", err)
			continue
		}
		if reclaimed > 0 {
			p.log.Infow("reclaimed capacity from stale worker",
				"worker_id", rec.WorkerID, "claims_reclaimed", reclaimed)
		}
		if err := p.registry.Remove(rec.WorkerID); err != nil {
			p.log.Warnw("failed to prune stale worker", "worker_id", rec.WorkerID, "error", err)
		}
	}

	if requeuedCount > 0 {
		p.log.Infow("orphan recovery complete", "requeued", requeuedCount)
	}
	return requeuedCount, nil
}

// spawn adds one worker. Caller holds p.mu.
func (p *Pool) spawn() {
	ctx, cancel := context.WithCancel(p.ctx)
	w := &Worker{
		id:           fmt.Sprintf("%s-w-%s", p.category, uuid.NewString()[:8]),
		queue:        p.queue,
		coord:        p.coord,
		backend:      p.backend,
		registry:     p.registry,
		limiter:      p.limiter,
		paused:       p.paused.Load,
		active:       &p.active,
		pollInterval: p.cfg.PollInterval,
		submitWait:   p.cfg.SubmitWait,
		heartbeat:    p.cfg.Heartbeat,
		ctx:          ctx,
		cancel:       cancel,
		execCtx:      p.execCtx,
		log:          p.log,
		done:         make(chan struct{}),
	}
	p.workers = append(p.workers, w)
	go w.run()
}

func (p *Pool) sweepLoop() {
	defer close(p.sweepDone)
	ticker := time.NewTicker(p.cfg.SweepInterval)
	defer ticker.Stop()
	for {
		select {
		case <-p.ctx.Done():
			return
		case <-ticker.C:
			if _, err := p.RecoverOrphans(); err != nil {
				p.log.Errorw("orphan sweep failed", "error", err)
			}
		}
	}
}
