package domain

import (
	"testing"
	"time"

	"github.com/google/uuid"
)

func TestTicketTierAvailable(t *testing.T) {
	t.Parallel()

	tier := TicketTier{Capacity: 100, Committed: 30, Held: 20}
	if got := tier.Available(); got != 50 {
		t.Errorf("expected 50 available, got %d", got)
	}
}

func TestHoldExpiredBy(t *testing.T) {
	t.Parallel()

	now := time.Date(2026, 8, 1, 12, 0, 0, 0, time.UTC)
	h := NewHold(uuid.New(), "buyer", 1, now, 10*time.Minute)

	if h.ExpiredBy(now) {
		t.Error("fresh hold must not be expired")
	}
	if h.ExpiredBy(now.Add(9 * time.Minute)) {
		t.Error("hold within TTL must not be expired")
	}
	if !h.ExpiredBy(now.Add(10 * time.Minute)) {
		t.Error("hold at its deadline is expired")
	}

	h.State = HoldStateConfirmed
	if h.ExpiredBy(now.Add(time.Hour)) {
		t.Error("terminal hold is never reported expired")
	}
}

func TestHoldTerminal(t *testing.T) {
	t.Parallel()

	for _, tc := range []struct {
		state    HoldState
		terminal bool
	}{
		{HoldStatePending, false},
		{HoldStateConfirmed, true},
		{HoldStateExpired, true},
		{HoldStateCancelled, true},
	} {
		h := Hold{State: tc.state}
		if h.Terminal() != tc.terminal {
			t.Errorf("state %s: expected terminal=%v", tc.state, tc.terminal)
		}
	}
}

func TestSessionOverdueBy(t *testing.T) {
	t.Parallel()

	now := time.Date(2026, 8, 1, 12, 0, 0, 0, time.UTC)
	deadline := now.Add(5 * time.Minute)

	s := AdmissionSession{State: SessionStateActive, Deadline: &deadline}
	if s.OverdueBy(now) {
		t.Error("session before deadline is not overdue")
	}
	if !s.OverdueBy(deadline) {
		t.Error("session at deadline is overdue")
	}

	waiting := AdmissionSession{State: SessionStateWaiting}
	if waiting.OverdueBy(now.Add(time.Hour)) {
		t.Error("waiting session has no deadline to miss")
	}
}
