package domain

import (
	"time"

	"github.com/google/uuid"
)

type SessionState string

const (
	SessionStateWaiting   SessionState = "WAITING"
	SessionStateActive    SessionState = "ACTIVE"
	SessionStateCompleted SessionState = "COMPLETED"
	SessionStateAbandoned SessionState = "ABANDONED"
)

// AdmissionSession is a buyer's slot in the virtual waiting room.
// QueuePosition is meaningful only while Waiting; Deadline only while
// Active. Completed and Abandoned sessions are immutable audit records.
type AdmissionSession struct {
	ID              uuid.UUID
	EventID         uuid.UUID
	HolderToken     string
	State           SessionState
	QueuePosition   *int
	EnteredActiveAt *time.Time
	Deadline        *time.Time
}

func (s AdmissionSession) Terminal() bool {
	return s.State == SessionStateCompleted || s.State == SessionStateAbandoned
}

// OverdueBy reports whether an Active session missed its heartbeat
// deadline at now.
func (s AdmissionSession) OverdueBy(now time.Time) bool {
	return s.State == SessionStateActive && s.Deadline != nil && !s.Deadline.After(now)
}

// QueueConfig is the per-event waiting-room configuration. It is owned
// by the event setup service; this core only reads it.
type QueueConfig struct {
	EventID            uuid.UUID
	MaxConcurrent      int
	ActiveSessionTTL   time.Duration
	HoldTTL            time.Duration
	PromotionBatchSize int
}
