package hold

import (
	"context"
	"encoding/json"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/google/uuid"
	"github.com/ticketline/admission/internal/adapters/crdb"
	"github.com/ticketline/admission/internal/clock"
	"github.com/ticketline/admission/internal/domain"
	"github.com/ticketline/admission/internal/observability"
)

// Ledger is the inventory authority the manager reserves against.
type Ledger interface {
	Reserve(ctx context.Context, tierID uuid.UUID, quantity int) error
	Commit(ctx context.Context, tierID uuid.UUID, quantity int) error
	Release(ctx context.Context, tierID uuid.UUID, quantity int) error
}

type Repository interface {
	WithTx(ctx context.Context, fn func(ctx context.Context) error) error
	GetTier(ctx context.Context, tierID uuid.UUID) (domain.TicketTier, error)
	GetQueueConfig(ctx context.Context, eventID uuid.UUID) (*domain.QueueConfig, error)
	CreateHold(ctx context.Context, hold domain.Hold) error
	GetHold(ctx context.Context, holdID uuid.UUID) (domain.Hold, error)
	ExtendHold(ctx context.Context, holdID uuid.UUID, expiresAt, now time.Time) (bool, error)
	ConfirmPendingHold(ctx context.Context, holdID uuid.UUID, paymentRef string, now time.Time) (bool, error)
	TerminatePendingHold(ctx context.Context, holdID uuid.UUID, state domain.HoldState) (bool, error)
	InsertOutbox(ctx context.Context, record crdb.OutboxRecord) error
}

// AuditRecorder mirrors terminal transitions to the audit store. It is
// best-effort and must never fail the request.
type AuditRecorder interface {
	Record(ctx context.Context, action, holderToken string, data map[string]interface{})
}

// Manager owns the Hold lifecycle. Holds only ever leave PENDING through
// one of the conditional transitions below, and each transition adjusts
// the ledger exactly once inside the same transaction.
type Manager struct {
	repo   Repository
	ledger Ledger
	clock  clock.Clock
	audit  AuditRecorder
	logger observability.Logger

	defaultTTL time.Duration
}

func NewManager(repo Repository, ledger Ledger, clk clock.Clock, logger observability.Logger, defaultTTL time.Duration) *Manager {
	return &Manager{
		repo:       repo,
		ledger:     ledger,
		clock:      clk,
		logger:     logger,
		defaultTTL: defaultTTL,
	}
}

// WithAudit attaches an audit recorder. Without one, transitions are
// still fully applied, just not mirrored.
func (m *Manager) WithAudit(audit AuditRecorder) *Manager {
	m.audit = audit
	return m
}

// PlaceHold reserves quantity units and persists a PENDING hold in one
// transaction. ErrSoldOut is an expected buyer-facing outcome.
func (m *Manager) PlaceHold(ctx context.Context, tierID uuid.UUID, holderToken string, quantity int) (domain.Hold, error) {
	if quantity <= 0 || holderToken == "" {
		return domain.Hold{}, domain.ErrInvalidInput
	}

	now := m.clock.Now()
	var created domain.Hold

	err := m.repo.WithTx(ctx, func(txCtx context.Context) error {
		tier, err := m.repo.GetTier(txCtx, tierID)
		if err != nil {
			return err
		}
		ttl, err := m.holdTTL(txCtx, tier.EventID)
		if err != nil {
			return err
		}
		if err := m.ledger.Reserve(txCtx, tierID, quantity); err != nil {
			return err
		}
		created = domain.NewHold(tierID, holderToken, quantity, now, ttl)
		return m.repo.CreateHold(txCtx, created)
	})
	if err != nil {
		return domain.Hold{}, err
	}
	return created, nil
}

// RenewHold extends the deadline by one TTL while a buyer completes
// checkout. It does not re-check inventory; the hold already owns its
// units. A hold past its deadline cannot be renewed.
func (m *Manager) RenewHold(ctx context.Context, holdID uuid.UUID) (domain.Hold, error) {
	now := m.clock.Now()
	var renewed domain.Hold

	err := m.repo.WithTx(ctx, func(txCtx context.Context) error {
		h, err := m.repo.GetHold(txCtx, holdID)
		if err != nil {
			return err
		}
		if h.Terminal() {
			return domain.ErrAlreadyTerminal
		}
		if h.ExpiredBy(now) {
			return domain.ErrHoldExpired
		}

		tier, err := m.repo.GetTier(txCtx, h.TierID)
		if err != nil {
			return err
		}
		ttl, err := m.holdTTL(txCtx, tier.EventID)
		if err != nil {
			return err
		}

		ok, err := m.repo.ExtendHold(txCtx, holdID, now.Add(ttl), now)
		if err != nil {
			return err
		}
		if !ok {
			return domain.ErrHoldExpired
		}
		h.ExpiresAt = now.Add(ttl)
		renewed = h
		return nil
	})
	if err != nil {
		return domain.Hold{}, err
	}
	return renewed, nil
}

// ConfirmHold converts a hold into a committed sale once the payment
// collaborator reports success. Repeat calls with the same payment ref
// are no-op successes so retried webhook deliveries are harmless. A hold
// past its deadline fails with ErrHoldExpired even before the sweeper
// marks it, since its units may already be reclaimed.
func (m *Manager) ConfirmHold(ctx context.Context, holdID uuid.UUID, paymentRef string) (domain.Hold, error) {
	if paymentRef == "" {
		return domain.Hold{}, domain.ErrInvalidInput
	}

	now := m.clock.Now()
	var confirmed domain.Hold

	err := m.repo.WithTx(ctx, func(txCtx context.Context) error {
		h, err := m.repo.GetHold(txCtx, holdID)
		if err != nil {
			return err
		}
		if done, err := checkConfirmable(h, paymentRef, now); done || err != nil {
			confirmed = h
			return err
		}

		ok, err := m.repo.ConfirmPendingHold(txCtx, holdID, paymentRef, now)
		if err != nil {
			return err
		}
		if !ok {
			// Lost a race with a concurrent confirm or expiry; re-read
			// and classify the winner.
			h, err = m.repo.GetHold(txCtx, holdID)
			if err != nil {
				return err
			}
			if done, err := checkConfirmable(h, paymentRef, now); done || err != nil {
				confirmed = h
				return err
			}
			return domain.ErrHoldExpired
		}

		if err := m.ledger.Commit(txCtx, h.TierID, h.Quantity); err != nil {
			return err
		}

		h.State = domain.HoldStateConfirmed
		h.PaymentRef = paymentRef
		h.ConfirmedAt = &now
		confirmed = h

		return m.repo.InsertOutbox(txCtx, newOutboxRecord("hold", h.ID, "hold.confirmed", map[string]interface{}{
			"hold_id":     h.ID,
			"tier_id":     h.TierID,
			"quantity":    h.Quantity,
			"payment_ref": paymentRef,
		}))
	})
	if err != nil {
		return domain.Hold{}, err
	}

	observability.HoldsConfirmed.Inc()
	if m.audit != nil {
		m.audit.Record(ctx, "hold.confirmed", confirmed.HolderToken, map[string]interface{}{
			"hold_id":     confirmed.ID.String(),
			"tier_id":     confirmed.TierID.String(),
			"quantity":    confirmed.Quantity,
			"payment_ref": paymentRef,
		})
	}
	return confirmed, nil
}

// checkConfirmable classifies a hold that is not cleanly PENDING-and-live.
// done means the confirm is an idempotent retry of one that already won.
func checkConfirmable(h domain.Hold, paymentRef string, now time.Time) (done bool, err error) {
	switch h.State {
	case domain.HoldStateConfirmed:
		if h.PaymentRef == paymentRef {
			return true, nil
		}
		return false, domain.ErrPaymentRefMismatch
	case domain.HoldStateExpired, domain.HoldStateCancelled:
		return false, domain.ErrAlreadyTerminal
	}
	if h.ExpiredBy(now) {
		return false, domain.ErrHoldExpired
	}
	return false, nil
}

// ReleaseHold moves a hold to EXPIRED or CANCELLED and returns its units
// to the ledger. Releasing a hold already in the requested state is an
// idempotent no-op, so a double sweep reclaims at most once.
func (m *Manager) ReleaseHold(ctx context.Context, holdID uuid.UUID, reason domain.HoldState) (domain.Hold, error) {
	if reason != domain.HoldStateExpired && reason != domain.HoldStateCancelled {
		return domain.Hold{}, domain.ErrInvalidInput
	}

	var released domain.Hold
	var applied bool

	err := m.repo.WithTx(ctx, func(txCtx context.Context) error {
		h, err := m.repo.GetHold(txCtx, holdID)
		if err != nil {
			return err
		}
		if h.State == reason {
			released = h
			return nil
		}
		if h.Terminal() {
			return domain.ErrAlreadyTerminal
		}

		ok, err := m.repo.TerminatePendingHold(txCtx, holdID, reason)
		if err != nil {
			return err
		}
		if !ok {
			h, err = m.repo.GetHold(txCtx, holdID)
			if err != nil {
				return err
			}
			if h.State == reason {
				released = h
				return nil
			}
			return domain.ErrAlreadyTerminal
		}

		if err := m.ledger.Release(txCtx, h.TierID, h.Quantity); err != nil {
			return err
		}

		h.State = reason
		released = h
		applied = true

		eventType := "hold.cancelled"
		if reason == domain.HoldStateExpired {
			eventType = "hold.expired"
		}
		return m.repo.InsertOutbox(txCtx, newOutboxRecord("hold", h.ID, eventType, map[string]interface{}{
			"hold_id":  h.ID,
			"tier_id":  h.TierID,
			"quantity": h.Quantity,
		}))
	})
	if err != nil {
		return domain.Hold{}, err
	}

	if applied && m.audit != nil {
		action := "hold.cancelled"
		if reason == domain.HoldStateExpired {
			action = "hold.expired"
		}
		m.audit.Record(ctx, action, released.HolderToken, map[string]interface{}{
			"hold_id":  released.ID.String(),
			"tier_id":  released.TierID.String(),
			"quantity": released.Quantity,
		})
	}
	return released, nil
}

func (m *Manager) GetHold(ctx context.Context, holdID uuid.UUID) (domain.Hold, error) {
	return m.repo.GetHold(ctx, holdID)
}

func (m *Manager) holdTTL(ctx context.Context, eventID uuid.UUID) (time.Duration, error) {
	cfg, err := m.repo.GetQueueConfig(ctx, eventID)
	if err != nil {
		return 0, errors.Wrap(err, "load queue config")
	}
	if cfg != nil && cfg.HoldTTL > 0 {
		return cfg.HoldTTL, nil
	}
	return m.defaultTTL, nil
}

func newOutboxRecord(aggregateType string, aggregateID uuid.UUID, eventType string, payload map[string]interface{}) crdb.OutboxRecord {
	data, _ := json.Marshal(payload)
	return crdb.OutboxRecord{
		ID:            uuid.New(),
		AggregateType: aggregateType,
		AggregateID:   aggregateID,
		EventType:     eventType,
		Payload:       data,
		DedupeKey:     uuid.New().String(),
	}
}
