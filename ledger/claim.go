// Package ledger tracks leases on scarce hardware execution slots.
//
// Capacity per resource class is a hard admission-control limit: the sum of
// active claim weights never exceeds it. Acquisition is non-blocking - denial
// means "no slot right now" and the caller retries on its own schedule, which
// is what produces backpressure without deadlock.
package ledger

import (
	"time"

	"github.com/google/uuid"
)

// Claim is a live lease on capacity of one resource class.
type Claim struct {
	ID         string    `json:"id"`
	Class      string    `json:"class"`
	Holder     string    `json:"holder"`
	Weight     int       `json:"weight"`
	AcquiredAt time.Time `json:"acquired_at"`
}

func newClaim(class, holder string, weight int) *Claim {
	return &Claim{
		ID:         uuid.NewString(),
		Class:      class,
		Holder:     holder,
		Weight:     weight,
		AcquiredAt: time.Now().UTC(),
	}
}
