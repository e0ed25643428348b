// Package coordinator runs processing backends inside a bounded pool of
// isolated execution contexts.
//
// Two independent caps bound true concurrency: the coordinator's context
// count (how many executions may be in flight) and the resource ledger's
// per-class capacity (how much hardware those executions may hold). They are
// tuned separately - four contexts sharing one gpu-slot serialize on the
// ledger even though four contexts are alive.
package coordinator

import (
	"context"
	"encoding/json"
)

// Backend is the uniform processing contract for one job category. A backend
// is opaque to the engine: it may run ML inference, walk a library tree, or
// recalibrate model thresholds. Implementations declare which hardware class
// each invocation claims.
//
// Backends are injected at construction and never swapped on a live engine;
// category-specific behavior lives entirely here.
type Backend interface {
	// Name identifies the backend, conventionally the category it serves.
	Name() string

	// ResourceClass is the ledger class claimed per invocation.
	ResourceClass() string

	// Weight is the capacity units claimed per invocation (minimum 1);
	// heavyweight models may consume more than one unit.
	Weight() int

	// Process performs the work for one job. The error return is recorded
	// verbatim on the job; a wrapped errors.ErrWorkerCrashed marks an
	// execution-context death rather than a domain failure.
	Process(ctx context.Context, target string, options json.RawMessage) (json.RawMessage, error)
}

// Func adapts a plain function into a Backend. Used by tests and by
// embedded (in-process) backends that need no subprocess isolation.
type Func struct {
	BackendName string
	Class       string
	Units       int
	Fn          func(ctx context.Context, target string, options json.RawMessage) (json.RawMessage, error)
}

func (f *Func) Name() string          { return f.BackendName }
func (f *Func) ResourceClass() string { return f.Class }

func (f *Func) Weight() int {
	if f.Units < 1 {
		return 1
	}
	return f.Units
}

func (f *Func) Process(ctx context.Context, target string, options json.RawMessage) (json.RawMessage, error) {
	return f.Fn(ctx, target, options)
}
