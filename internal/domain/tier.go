package domain

import (
	"github.com/google/uuid"
)

// TicketTier is the inventory ledger row for one sellable tier.
// Capacity, Committed and Held are only ever mutated through single
// conditional UPDATEs keyed by tier id; no component may re-derive
// availability by summing holds.
type TicketTier struct {
	ID        uuid.UUID
	EventID   uuid.UUID
	Name      string
	Capacity  int
	Committed int
	Held      int
	Active    bool
}

// Available is the display projection capacity - committed - held.
// Reserve decisions never gate on this value; they re-check at write time.
func (t TicketTier) Available() int {
	return t.Capacity - t.Committed - t.Held
}
