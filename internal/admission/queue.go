package admission

import (
	"context"
	"encoding/json"
	"time"

	"github.com/google/uuid"
	"github.com/ticketline/admission/internal/adapters/crdb"
	"github.com/ticketline/admission/internal/clock"
	"github.com/ticketline/admission/internal/domain"
	"github.com/ticketline/admission/internal/observability"
)

type Repository interface {
	WithTx(ctx context.Context, fn func(ctx context.Context) error) error
	GetQueueConfig(ctx context.Context, eventID uuid.UUID) (*domain.QueueConfig, error)
	CountActiveSessions(ctx context.Context, eventID uuid.UUID) (int, error)
	CountWaitingSessions(ctx context.Context, eventID uuid.UUID) (int, error)
	CreateSession(ctx context.Context, s domain.AdmissionSession) error
	GetSession(ctx context.Context, sessionID uuid.UUID) (domain.AdmissionSession, error)
	ExtendSessionDeadline(ctx context.Context, sessionID uuid.UUID, deadline, now time.Time) (bool, error)
	CompleteSession(ctx context.Context, sessionID uuid.UUID) (bool, error)
	AbandonActiveSession(ctx context.Context, sessionID uuid.UUID) (bool, error)
	ListWaitingForPromotion(ctx context.Context, eventID uuid.UUID, limit int) ([]domain.AdmissionSession, error)
	ActivateSession(ctx context.Context, sessionID uuid.UUID, now, deadline time.Time) (bool, error)
	CompactQueuePositions(ctx context.Context, eventID uuid.UUID) error
	InsertOutbox(ctx context.Context, record crdb.OutboxRecord) error
}

// Defaults apply to events without a queue_configurations row.
type Defaults struct {
	MaxConcurrent      int
	ActiveSessionTTL   time.Duration
	PromotionBatchSize int
}

// Queue is the virtual waiting room. It caps how many buyers are inside
// the checkout flow per event and promotes waiting sessions strictly in
// arrival order. The count-then-insert in Enter and Promote runs inside
// a serializable transaction, which is what keeps the Active count at or
// below max_concurrent under concurrent entries.
type Queue struct {
	repo     Repository
	clock    clock.Clock
	logger   observability.Logger
	defaults Defaults
}

func NewQueue(repo Repository, clk clock.Clock, logger observability.Logger, defaults Defaults) *Queue {
	return &Queue{repo: repo, clock: clk, logger: logger, defaults: defaults}
}

// Enter admits the holder directly to Active when a slot is free,
// otherwise appends a Waiting session at the back of the queue. Ending
// up Waiting is a successful admission, not an error.
func (q *Queue) Enter(ctx context.Context, eventID uuid.UUID, holderToken string) (domain.AdmissionSession, error) {
	if holderToken == "" {
		return domain.AdmissionSession{}, domain.ErrInvalidInput
	}

	now := q.clock.Now()
	var session domain.AdmissionSession

	err := q.repo.WithTx(ctx, func(txCtx context.Context) error {
		cfg, err := q.configFor(txCtx, eventID)
		if err != nil {
			return err
		}

		active, err := q.repo.CountActiveSessions(txCtx, eventID)
		if err != nil {
			return err
		}

		if active < cfg.MaxConcurrent {
			deadline := now.Add(cfg.ActiveSessionTTL)
			enteredAt := now
			session = domain.AdmissionSession{
				ID:              uuid.New(),
				EventID:         eventID,
				HolderToken:     holderToken,
				State:           domain.SessionStateActive,
				EnteredActiveAt: &enteredAt,
				Deadline:        &deadline,
			}
			if err := q.repo.CreateSession(txCtx, session); err != nil {
				return err
			}
			return q.repo.InsertOutbox(txCtx, newOutboxRecord(session.ID, "session.admitted", map[string]interface{}{
				"session_id": session.ID,
				"event_id":   eventID,
				"deadline":   deadline,
			}))
		}

		waiting, err := q.repo.CountWaitingSessions(txCtx, eventID)
		if err != nil {
			return err
		}
		position := waiting + 1
		session = domain.AdmissionSession{
			ID:            uuid.New(),
			EventID:       eventID,
			HolderToken:   holderToken,
			State:         domain.SessionStateWaiting,
			QueuePosition: &position,
		}
		return q.repo.CreateSession(txCtx, session)
	})
	if err != nil {
		return domain.AdmissionSession{}, err
	}
	return session, nil
}

// Heartbeat extends an Active session's deadline. Callers must beat
// periodically or the sweeper reclaims the slot; a session already past
// its deadline is gone even if not yet swept.
func (q *Queue) Heartbeat(ctx context.Context, sessionID uuid.UUID) (domain.AdmissionSession, error) {
	now := q.clock.Now()
	var session domain.AdmissionSession

	err := q.repo.WithTx(ctx, func(txCtx context.Context) error {
		s, err := q.repo.GetSession(txCtx, sessionID)
		if err != nil {
			return err
		}
		if s.State != domain.SessionStateActive || s.OverdueBy(now) {
			return domain.ErrSessionNotActive
		}

		cfg, err := q.configFor(txCtx, s.EventID)
		if err != nil {
			return err
		}

		deadline := now.Add(cfg.ActiveSessionTTL)
		ok, err := q.repo.ExtendSessionDeadline(txCtx, sessionID, deadline, now)
		if err != nil {
			return err
		}
		if !ok {
			return domain.ErrSessionNotActive
		}
		s.Deadline = &deadline
		session = s
		return nil
	})
	if err != nil {
		return domain.AdmissionSession{}, err
	}
	return session, nil
}

// Leave marks the session Completed and frees its slot. Leaving an
// already-terminal session is a no-op. Promotion runs afterwards in its
// own transaction so a promotion conflict cannot roll back the exit.
func (q *Queue) Leave(ctx context.Context, sessionID uuid.UUID) error {
	var eventID uuid.UUID
	var vacatedActive bool

	err := q.repo.WithTx(ctx, func(txCtx context.Context) error {
		s, err := q.repo.GetSession(txCtx, sessionID)
		if err != nil {
			return err
		}
		eventID = s.EventID
		if s.Terminal() {
			return nil
		}

		ok, err := q.repo.CompleteSession(txCtx, sessionID)
		if err != nil {
			return err
		}
		if !ok {
			return nil
		}
		vacatedActive = s.State == domain.SessionStateActive
		if s.State == domain.SessionStateWaiting {
			return q.repo.CompactQueuePositions(txCtx, eventID)
		}
		return nil
	})
	if err != nil {
		return err
	}

	if vacatedActive {
		if _, err := q.Promote(ctx, eventID); err != nil {
			q.logger.WithError(err).WithField("event_id", eventID.String()).Warn("promotion after leave failed; sweeper will retry")
		}
	}
	return nil
}

// Abandon is the sweeper's path for an Active session that stopped
// heartbeating. Returns false when another sweeper already claimed it.
func (q *Queue) Abandon(ctx context.Context, sessionID uuid.UUID) (bool, error) {
	var abandoned bool

	err := q.repo.WithTx(ctx, func(txCtx context.Context) error {
		s, err := q.repo.GetSession(txCtx, sessionID)
		if err != nil {
			return err
		}
		if s.State != domain.SessionStateActive {
			return nil
		}

		ok, err := q.repo.AbandonActiveSession(txCtx, sessionID)
		if err != nil {
			return err
		}
		if !ok {
			return nil
		}
		abandoned = true
		return q.repo.InsertOutbox(txCtx, newOutboxRecord(sessionID, "session.abandoned", map[string]interface{}{
			"session_id": sessionID,
			"event_id":   s.EventID,
		}))
	})
	if err != nil {
		return false, err
	}
	return abandoned, nil
}

// Promote admits up to promotion_batch_size Waiting sessions, lowest
// queue position first, and renumbers the remainder to a dense 1..n
// ordering. It runs after any Active slot vacates and again on the
// sweeper's timer as a safety net.
func (q *Queue) Promote(ctx context.Context, eventID uuid.UUID) (int, error) {
	now := q.clock.Now()
	promoted := 0

	err := q.repo.WithTx(ctx, func(txCtx context.Context) error {
		promoted = 0

		cfg, err := q.configFor(txCtx, eventID)
		if err != nil {
			return err
		}

		active, err := q.repo.CountActiveSessions(txCtx, eventID)
		if err != nil {
			return err
		}
		free := cfg.MaxConcurrent - active
		if free <= 0 {
			return nil
		}
		batch := cfg.PromotionBatchSize
		if batch > free {
			batch = free
		}

		waiting, err := q.repo.ListWaitingForPromotion(txCtx, eventID, batch)
		if err != nil {
			return err
		}
		deadline := now.Add(cfg.ActiveSessionTTL)
		for _, s := range waiting {
			ok, err := q.repo.ActivateSession(txCtx, s.ID, now, deadline)
			if err != nil {
				return err
			}
			if !ok {
				continue
			}
			promoted++
			if err := q.repo.InsertOutbox(txCtx, newOutboxRecord(s.ID, "session.admitted", map[string]interface{}{
				"session_id": s.ID,
				"event_id":   eventID,
				"deadline":   deadline,
			})); err != nil {
				return err
			}
		}
		if promoted == 0 {
			return nil
		}
		return q.repo.CompactQueuePositions(txCtx, eventID)
	})
	if err != nil {
		return 0, err
	}

	if promoted > 0 {
		observability.SessionsPromoted.Add(float64(promoted))
	}
	return promoted, nil
}

func (q *Queue) GetSession(ctx context.Context, sessionID uuid.UUID) (domain.AdmissionSession, error) {
	return q.repo.GetSession(ctx, sessionID)
}

func (q *Queue) configFor(ctx context.Context, eventID uuid.UUID) (domain.QueueConfig, error) {
	cfg, err := q.repo.GetQueueConfig(ctx, eventID)
	if err != nil {
		return domain.QueueConfig{}, err
	}
	out := domain.QueueConfig{
		EventID:            eventID,
		MaxConcurrent:      q.defaults.MaxConcurrent,
		ActiveSessionTTL:   q.defaults.ActiveSessionTTL,
		PromotionBatchSize: q.defaults.PromotionBatchSize,
	}
	if cfg == nil {
		return out, nil
	}
	if cfg.MaxConcurrent > 0 {
		out.MaxConcurrent = cfg.MaxConcurrent
	}
	if cfg.ActiveSessionTTL > 0 {
		out.ActiveSessionTTL = cfg.ActiveSessionTTL
	}
	if cfg.PromotionBatchSize > 0 {
		out.PromotionBatchSize = cfg.PromotionBatchSize
	}
	return out, nil
}

func newOutboxRecord(aggregateID uuid.UUID, eventType string, payload map[string]interface{}) crdb.OutboxRecord {
	data, _ := json.Marshal(payload)
	return crdb.OutboxRecord{
		ID:            uuid.New(),
		AggregateType: "admission_session",
		AggregateID:   aggregateID,
		EventType:     eventType,
		Payload:       data,
		DedupeKey:     uuid.New().String(),
	}
}
