package ledger

import (
	"database/sql"
	"sync"

	"github.com/xiaden/nomarr-sub002/errors"
)

// Ledger is the capacity-bounded lease tracker for scarce hardware classes.
//
// The mutex makes check-then-insert atomic against concurrent acquirers in
// this process; persistence exists so claims leaked by a hard crash are
// visible to the recovery sweep on the next start.
type Ledger struct {
	store      *store
	capacities map[string]int
	mu         sync.Mutex
}

// New creates a ledger with the configured per-class capacities.
func New(db *sql.DB, capacities map[string]int) *Ledger {
	caps := make(map[string]int, len(capacities))
	for class, c := range capacities {
		caps[class] = c
	}
	return &Ledger{
		store:      &store{db: db},
		capacities: caps,
	}
}

// Capacity returns the configured capacity for a class (0 if undeclared).
func (l *Ledger) Capacity(class string) int {
	return l.capacities[class]
}

// TryAcquire attempts to lease weight units of the given class for holder.
// Non-blocking: when granting would exceed capacity it fails immediately
// with ErrCapacityUnavailable, and the caller retries on its next cycle.
func (l *Ledger) TryAcquire(class string, weight int, holder string) (*Claim, error) {
	if weight < 1 {
		weight = 1
	}

	capacity, ok := l.capacities[class]
	if !ok {
		return nil, errors.Newf("unknown resource class %q", class)
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	active, err := l.store.activeWeight(class)
	if err != nil {
		return nil, err
	}
	if active+weight > capacity {
		return nil, errors.WithDetailf(
			errors.Wrapf(errors.ErrCapacityUnavailable, "class %s", class),
			"active weight %d + requested %d exceeds capacity %d", active, weight, capacity)
	}

	claim := newClaim(class, holder, weight)
	if err := l.store.insert(claim); err != nil {
		return nil, err
	}
	return claim, nil
}

// Release returns a claim's capacity. Idempotent: releasing an unknown or
// already-released claim is a no-op, which tolerates double-release during
// crash-recovery races.
func (l *Ledger) Release(claim *Claim) error {
	if claim == nil {
		return nil
	}
	l.mu.Lock()
	defer l.mu.Unlock()

	_, err := l.store.delete(claim.ID)
	return err
}

// ReclaimStale releases every claim held by a confirmed-stale holder and
// returns how many were dropped. Invoked by the orphan-recovery sweep.
func (l *Ledger) ReclaimStale(holder string) (int, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	return l.store.deleteByHolder(holder)
}

// ActiveWeight returns the current summed claim weight for a class.
func (l *Ledger) ActiveWeight(class string) (int, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	return l.store.activeWeight(class)
}

// Claims lists the live claims on a class, oldest first.
func (l *Ledger) Claims(class string) ([]*Claim, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	return l.store.listByClass(class)
}
