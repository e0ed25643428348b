package coordinator

import (
	"encoding/json"
	"time"

	"github.com/xiaden/nomarr-sub002/errors"
)

// Pending is the handle for a submitted execution. Exactly one of result or
// err is set once done is closed.
type Pending struct {
	done   chan struct{}
	result json.RawMessage
	err    error
}

func newPending() *Pending {
	return &Pending{done: make(chan struct{})}
}

// resolve records the outcome and releases waiters. Called exactly once.
func (p *Pending) resolve(result json.RawMessage, err error) {
	p.result = result
	p.err = err
	close(p.done)
}

// Done returns a channel closed when the execution resolves.
func (p *Pending) Done() <-chan struct{} {
	return p.done
}

// Wait blocks until the execution resolves or the timeout elapses.
// A timeout returns ErrTimeout and abandons only the wait: the underlying
// execution runs to completion and its result is discarded.
func (p *Pending) Wait(timeout time.Duration) (json.RawMessage, error) {
	timer := time.NewTimer(timeout)
	defer timer.Stop()

	select {
	case <-p.done:
		return p.result, p.err
	case <-timer.C:
		return nil, errors.Wrapf(errors.ErrTimeout, "gave up waiting after %s", timeout)
	}
}
