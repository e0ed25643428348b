package coordinator

import (
	"context"
	"encoding/json"
	"sync"

	"go.uber.org/zap"

	"github.com/xiaden/nomarr-sub002/errors"
	"github.com/xiaden/nomarr-sub002/ledger"
)

// Coordinator dispatches backend invocations into a bounded pool of
// execution contexts, gated by the resource ledger.
type Coordinator struct {
	ledger      *ledger.Ledger
	maxContexts int
	slots       chan struct{}
	logger      *zap.SugaredLogger

	mu     sync.Mutex
	wg     sync.WaitGroup
	closed bool
}

// New creates a coordinator with maxContexts execution contexts sharing the
// given ledger.
func New(led *ledger.Ledger, maxContexts int, logger *zap.SugaredLogger) *Coordinator {
	if maxContexts < 1 {
		maxContexts = 1
	}
	return &Coordinator{
		ledger:      led,
		maxContexts: maxContexts,
		slots:       make(chan struct{}, maxContexts),
		logger:      logger.Named("coordinator"),
	}
}

// MaxContexts returns the configured execution-context cap.
func (c *Coordinator) MaxContexts() int {
	return c.maxContexts
}

// InFlight returns how many executions are currently running.
func (c *Coordinator) InFlight() int {
	return len(c.slots)
}

// Submit acquires an execution context and a ledger claim, then dispatches
// the backend. Non-blocking on capacity: when either the context pool or the
// hardware class is exhausted it fails immediately with
// ErrCapacityUnavailable and the caller retries later.
//
// The returned Pending resolves with the backend's result, its error, or a
// wrapped ErrWorkerCrashed if the execution context died. The ledger claim
// is released on every path; a whole-process crash instead leaves the
// persisted claim for the orphan sweep.
func (c *Coordinator) Submit(ctx context.Context, backend Backend, target string, options json.RawMessage, holder string) (*Pending, error) {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return nil, errors.ErrEngineClosed
	}

	select {
	case c.slots <- struct{}{}:
	default:
		c.mu.Unlock()
		return nil, errors.Wrapf(errors.ErrCapacityUnavailable,
			"all %d execution contexts busy", c.maxContexts)
	}

	claim, err := c.ledger.TryAcquire(backend.ResourceClass(), backend.Weight(), holder)
	if err != nil {
		<-c.slots
		c.mu.Unlock()
		return nil, err
	}

	pending := newPending()
	c.wg.Add(1)
	c.mu.Unlock()

	go c.run(ctx, backend, target, options, claim, pending)

	return pending, nil
}

// run executes one backend invocation inside its execution context.
func (c *Coordinator) run(ctx context.Context, backend Backend, target string, options json.RawMessage, claim *ledger.Claim, pending *Pending) {
	defer c.wg.Done()

	var result json.RawMessage
	var err error

	func() {
		defer func() {
			if r := recover(); r != nil {
				// A panicking backend is treated the same as a dead
				// analyzer process: the context is gone, not the job.
				err = errors.Wrapf(errors.ErrWorkerCrashed, "backend %s panicked: %v", backend.Name(), r)
				c.logger.Errorw("Execution context crashed",
					"backend", backend.Name(),
					"target", target,
					"panic", r)
			}
		}()
		result, err = backend.Process(ctx, target, options)
	}()

	if relErr := c.ledger.Release(claim); relErr != nil {
		c.logger.Warnw("Failed to release ledger claim",
			"claim_id", claim.ID,
			"class", claim.Class,
			"error", relErr)
	}
	<-c.slots

	pending.resolve(result, err)
}

// Close stops accepting submissions and waits for in-flight executions to
// resolve.
func (c *Coordinator) Close() {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return
	}
	c.closed = true
	c.mu.Unlock()

	c.wg.Wait()
}
