// Package errors provides error handling for nomarr.
//
// This package re-exports github.com/cockroachdb/errors, providing:
//   - Stack traces for debugging
//   - Error wrapping and context
//   - Hints and details for operator-facing messages
//
// Usage:
//
//	// Create new error
//	err := errors.New("something went wrong")
//
//	// Wrap with context
//	if err := doSomething(); err != nil {
//	    return errors.Wrap(err, "failed to do something")
//	}
//
//	// Check errors
//	if errors.Is(err, errors.ErrCapacityUnavailable) {
//	    // retry this poll cycle
//	}
//
// For full documentation see: https://pkg.go.dev/github.com/cockroachdb/errors
package errors

import (
	crdb "github.com/cockroachdb/errors"
)

// Core error creation and wrapping
var (
	New          = crdb.New
	Newf         = crdb.Newf
	Wrap         = crdb.Wrap
	Wrapf        = crdb.Wrapf
	WithStack    = crdb.WithStack
	WithMessage  = crdb.WithMessage
	WithMessagef = crdb.WithMessagef
)

// User-facing messages and details
var (
	WithHint    = crdb.WithHint
	WithHintf   = crdb.WithHintf
	WithDetail  = crdb.WithDetail
	WithDetailf = crdb.WithDetailf
)

// Error inspection
var (
	Is     = crdb.Is
	IsAny  = crdb.IsAny
	As     = crdb.As
	Unwrap = crdb.Unwrap
	Join   = crdb.Join
)

// Sentinel errors for the job engine. These are the enumerated failure
// conditions of the queue/ledger/coordinator contracts; every operation either
// succeeds or fails with one of these (possibly wrapped with context).
// Use errors.Is() to classify.
var (
	// ErrNotFound indicates the requested job, claim, or record does not exist.
	ErrNotFound = New("not found")

	// ErrInvalidTransition indicates a job state-machine violation, e.g.
	// marking a job done that is not currently running. Caller error, never
	// retried automatically.
	ErrInvalidTransition = New("invalid job transition")

	// ErrCapacityUnavailable indicates no execution slot or hardware capacity
	// is available right now. Transient; workers retry on the next poll cycle.
	// Never recorded as a job error.
	ErrCapacityUnavailable = New("capacity unavailable")

	// ErrWorkerCrashed indicates an execution context died mid-job (abnormal
	// process exit, panic in the backend). Recorded as a distinguished job
	// error; the orphan sweep reclaims any ledger claim independently.
	ErrWorkerCrashed = New("worker crashed")

	// ErrTimeout indicates a caller-side wait expired. The underlying
	// execution may still complete; the job is not mutated.
	ErrTimeout = New("operation timed out")

	// ErrEngineClosed indicates the engine is shutting down and no longer
	// accepts work.
	ErrEngineClosed = New("engine closed")

	// ErrSkipped is returned by a backend to signal the job needed no work
	// (already tagged, unchanged file). The worker records the job as skipped
	// rather than done or errored.
	ErrSkipped = New("skipped")
)

// IsNotFound reports whether err is or wraps ErrNotFound.
func IsNotFound(err error) bool {
	return err != nil && Is(err, ErrNotFound)
}

// IsCapacityUnavailable reports whether err is or wraps ErrCapacityUnavailable.
func IsCapacityUnavailable(err error) bool {
	return err != nil && Is(err, ErrCapacityUnavailable)
}
