// Package service is the operational facade over the job engine. It builds
// the queue, ledger, registry, coordinator, and worker pools from
// configuration and exposes the operations the CLI and daemon call.
package service

import (
	"context"
	"database/sql"
	"encoding/json"
	"sort"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/xiaden/nomarr-sub002/conf"
	"github.com/xiaden/nomarr-sub002/coordinator"
	"github.com/xiaden/nomarr-sub002/db"
	"github.com/xiaden/nomarr-sub002/errors"
	"github.com/xiaden/nomarr-sub002/health"
	"github.com/xiaden/nomarr-sub002/ledger"
	"github.com/xiaden/nomarr-sub002/queue"
	"github.com/xiaden/nomarr-sub002/worker"
)

// engine bundles the per-category pieces: one queue, one analyzer backend,
// one worker pool.
type engine struct {
	queue   *queue.Queue
	backend *coordinator.ProcBackend
	pool    *worker.Pool
}

// Service owns the full job engine for all configured categories.
type Service struct {
	cfg      *conf.Config
	db       *sql.DB
	ledger   *ledger.Ledger
	registry *health.Registry
	coord    *coordinator.Coordinator
	engines  map[string]*engine
	log      *zap.SugaredLogger

	mu      sync.Mutex
	started bool
	closed  bool
}

// New opens the database, runs migrations, and wires an engine per configured
// backend. Workers do not start until Start.
func New(cfg *conf.Config, logger *zap.SugaredLogger) (*Service, error) {
	database, err := db.Open(cfg.Database.Path, logger)
	if err != nil {
		return nil, err
	}
	if err := db.Migrate(database, logger); err != nil {
		database.Close()
		return nil, err
	}

	capacities := make(map[string]int, len(cfg.Resources))
	for class, rc := range cfg.Resources {
		capacities[class] = rc.Capacity
	}

	led := ledger.New(database, capacities)
	registry := health.NewRegistry(database, cfg.Engine.StaleAfter())
	coord := coordinator.New(led, cfg.Engine.MaxContexts, logger)

	svc := &Service{
		cfg:      cfg,
		db:       database,
		ledger:   led,
		registry: registry,
		coord:    coord,
		engines:  make(map[string]*engine, len(cfg.Backends)),
		log:      logger.Named("service"),
	}

	for category, bc := range cfg.Backends {
		backend, err := coordinator.NewProcBackend(category, coordinator.ProcConfig{
			Command:       bc.Command,
			ResourceClass: bc.ResourceClass,
			Weight:        bc.Weight,
			Processes:     bc.Processes,
			IdleTimeout:   cfg.Engine.ContextIdle(),
		}, logger)
		if err != nil {
			database.Close()
			return nil, err
		}

		q := queue.New(database, category)
		pool := worker.NewPool(database, q, coord, backend, registry, led, worker.Config{
			Workers:       cfg.WorkersFor(category),
			PollInterval:  cfg.Engine.PollInterval(),
			SubmitWait:    cfg.Engine.SubmitWait(),
			Heartbeat:     cfg.Engine.Heartbeat(),
			SweepInterval: cfg.Engine.SweepInterval(),
			ClaimRate:     cfg.Engine.ClaimRatePerSecond,
		}, logger)

		svc.engines[category] = &engine{queue: q, backend: backend, pool: pool}
	}

	return svc, nil
}

// Start brings up every pool. Orphan recovery runs inside each pool's Start.
func (s *Service) Start() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return errors.ErrEngineClosed
	}
	if s.started {
		return errors.New("service already started")
	}
	for category, eng := range s.engines {
		if err := eng.pool.Start(); err != nil {
			return errors.Wrapf(err, "failed to start pool for %s", category)
		}
	}
	s.started = true
	s.log.Infow("engine started", "categories", s.Categories())
	return nil
}

// Stop shuts everything down: pools drain within the grace period, then the
// coordinator, analyzer processes, and database close.
func (s *Service) Stop(grace time.Duration) {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return
	}
	s.closed = true
	started := s.started
	s.mu.Unlock()

	if started {
		var wg sync.WaitGroup
		for _, eng := range s.engines {
			wg.Add(1)
			go func(p *worker.Pool) {
				defer wg.Done()
				p.Stop(grace)
			}(eng.pool)
		}
		wg.Wait()
	}

	s.coord.Close()
	for _, eng := range s.engines {
		eng.backend.Close()
	}
	if err := s.db.Close(); err != nil {
		s.log.Warnw("failed to close database", "error", err)
	}
	s.log.Infow("engine stopped")
}

// Categories returns the configured job categories, sorted.
func (s *Service) Categories() []string {
	categories := make([]string, 0, len(s.engines))
	for category := range s.engines {
		categories = append(categories, category)
	}
	sort.Strings(categories)
	return categories
}

func (s *Service) engineFor(category string) (*engine, error) {
	eng, ok := s.engines[category]
	if !ok {
		err := errors.Wrapf(errors.ErrNotFound, "unknown category %q", category)
		return nil, errors.WithHintf(err, "configured categories: %v", s.Categories())
	}
	return eng, nil
}

// Enqueue adds a pending job. Duplicate targets are accepted; deduplication
// is the caller's concern.
func (s *Service) Enqueue(category, target string, options json.RawMessage) (*queue.Job, error) {
	eng, err := s.engineFor(category)
	if err != nil {
		return nil, err
	}
	return eng.queue.Enqueue(target, options)
}

// EnqueueWait adds a job and blocks until it reaches a terminal status or the
// timeout elapses. On timeout the job keeps running and ErrTimeout is
// returned alongside the job in its last observed state.
func (s *Service) EnqueueWait(ctx context.Context, category, target string, options json.RawMessage, timeout time.Duration) (*queue.Job, error) {
	eng, err := s.engineFor(category)
	if err != nil {
		return nil, err
	}

	// Subscribe before enqueueing so the terminal notification cannot slip
	// past between the insert and the first channel read.
	updates := eng.queue.Subscribe()
	defer eng.queue.Unsubscribe(updates)

	job, err := eng.queue.Enqueue(target, options)
	if err != nil {
		return nil, err
	}

	deadline := time.NewTimer(timeout)
	defer deadline.Stop()

	for {
		select {
		case <-ctx.Done():
			return job, errors.Wrap(errors.ErrTimeout, "wait cancelled")
		case <-deadline.C:
			return job, errors.Wrapf(errors.ErrTimeout, "job %s still %s after %s", job.ID, job.Status, timeout)
		case update := <-updates:
			if update.ID != job.ID {
				continue
			}
			job = update
			if update.Status.Terminal() {
				return update, nil
			}
		}
	}
}

// GetStatus looks a job up by id across all categories.
func (s *Service) GetStatus(id string) (*queue.Job, error) {
	for _, category := range s.Categories() {
		job, err := s.engines[category].queue.Get(id)
		if err == nil {
			return job, nil
		}
		if !errors.IsNotFound(err) {
			return nil, err
		}
	}
	return nil, errors.Wrapf(errors.ErrNotFound, "job %s", id)
}

// List returns jobs for a category, optionally filtered by status, newest
// first.
func (s *Service) List(category string, status *queue.Status, limit, offset int) ([]*queue.Job, error) {
	eng, err := s.engineFor(category)
	if err != nil {
		return nil, err
	}
	return eng.queue.List(status, limit, offset)
}

// Stats returns per-status counts for one category.
func (s *Service) Stats(category string) (*queue.Stats, error) {
	eng, err := s.engineFor(category)
	if err != nil {
		return nil, err
	}
	return eng.queue.Stats()
}

// StatsAll returns per-status counts for every category.
func (s *Service) StatsAll() (map[string]*queue.Stats, error) {
	all := make(map[string]*queue.Stats, len(s.engines))
	for category, eng := range s.engines {
		stats, err := eng.queue.Stats()
		if err != nil {
			return nil, err
		}
		all[category] = stats
	}
	return all, nil
}

// Pause stops a category's workers from claiming new jobs. In-flight jobs
// finish. The flag survives restarts.
func (s *Service) Pause(category string) error {
	eng, err := s.engineFor(category)
	if err != nil {
		return err
	}
	return eng.pool.Pause()
}

// Resume clears a category's pause flag.
func (s *Service) Resume(category string) error {
	eng, err := s.engineFor(category)
	if err != nil {
		return err
	}
	return eng.pool.Resume()
}

// Paused reports whether a category is paused.
func (s *Service) Paused(category string) (bool, error) {
	eng, err := s.engineFor(category)
	if err != nil {
		return false, err
	}
	return eng.pool.Paused(), nil
}

// IsIdle reports whether a category has no work in flight.
func (s *Service) IsIdle(category string) (bool, error) {
	eng, err := s.engineFor(category)
	if err != nil {
		return false, err
	}
	return eng.pool.IsIdle()
}

// ScaleTo changes a category's worker count. Scaling down lets current jobs
// finish.
func (s *Service) ScaleTo(category string, n int) error {
	eng, err := s.engineFor(category)
	if err != nil {
		return err
	}
	return eng.pool.ScaleTo(n)
}

// Flush bulk-deletes jobs in the given statuses. Running jobs are never
// flushed; asking for them is an error.
func (s *Service) Flush(category string, statuses []queue.Status) (int, error) {
	eng, err := s.engineFor(category)
	if err != nil {
		return 0, err
	}
	return eng.queue.Flush(statuses)
}

// Remove deletes a single job by id. Removing a running job requires force,
// which also reclaims any capacity its holder still has; the underlying
// execution is not interrupted and its result is discarded.
func (s *Service) Remove(id string, force bool) error {
	job, err := s.GetStatus(id)
	if err != nil {
		return err
	}
	eng := s.engines[job.Category]

	if !force {
		return eng.queue.Remove(id)
	}

	if job.Status == queue.StatusRunning && job.WorkerID != "" {
		reclaimed, err := s.ledger.ReclaimStale(job.WorkerID)
		if err != nil {
			return err
		}
		if reclaimed > 0 {
			s.log.Infow("reclaimed capacity for removed job",
				"job_id", id, "holder", job.WorkerID, "claims_reclaimed", reclaimed)
		}
	}
	return eng.queue.ForceRemove(id)
}

// Cleanup deletes terminal jobs older than the retention window across all
// categories and returns the total removed.
func (s *Service) Cleanup(olderThan time.Duration) (int, error) {
	total := 0
	for _, category := range s.Categories() {
		n, err := s.engines[category].queue.Cleanup(olderThan)
		if err != nil {
			return total, err
		}
		total += n
	}
	return total, nil
}

// ResetStuck requeues running jobs whose workers have gone stale and reclaims
// their capacity, across all categories. Returns the number of jobs requeued.
// Idempotent; live workers and their jobs are untouched.
func (s *Service) ResetStuck() (int, error) {
	total := 0
	for _, category := range s.Categories() {
		n, err := s.engines[category].pool.RecoverOrphans()
		total += n
		if err != nil {
			return total, errors.Wrapf(err, "reset stuck failed for %s", category)
		}
	}
	return total, nil
}

// Ledger exposes the resource ledger for inspection.
func (s *Service) Ledger() *ledger.Ledger {
	return s.ledger
}

// Registry exposes the worker health registry for inspection.
func (s *Service) Registry() *health.Registry {
	return s.registry
}
