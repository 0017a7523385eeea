package domain

import (
	"time"

	"github.com/google/uuid"
)

type HoldState string

const (
	HoldStatePending   HoldState = "PENDING"
	HoldStateConfirmed HoldState = "CONFIRMED"
	HoldStateExpired   HoldState = "EXPIRED"
	HoldStateCancelled HoldState = "CANCELLED"
)

// Hold is a time-boxed reservation of inventory units. While Pending its
// quantity is counted in the owning tier's held column; exactly one
// terminal transition removes those units again.
type Hold struct {
	ID          uuid.UUID
	TierID      uuid.UUID
	HolderToken string
	Quantity    int
	State       HoldState
	PaymentRef  string
	CreatedAt   time.Time
	ExpiresAt   time.Time
	ConfirmedAt *time.Time
}

func NewHold(tierID uuid.UUID, holderToken string, quantity int, now time.Time, ttl time.Duration) Hold {
	return Hold{
		ID:          uuid.New(),
		TierID:      tierID,
		HolderToken: holderToken,
		Quantity:    quantity,
		State:       HoldStatePending,
		CreatedAt:   now,
		ExpiresAt:   now.Add(ttl),
	}
}

func (h Hold) Terminal() bool {
	return h.State != HoldStatePending
}

// ExpiredBy reports whether the hold is past its deadline at now. Readers
// treat such a hold as expired even before the sweeper marks it.
func (h Hold) ExpiredBy(now time.Time) bool {
	return h.State == HoldStatePending && !h.ExpiresAt.After(now)
}
