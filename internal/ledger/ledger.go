package ledger

import (
	"context"

	"github.com/cockroachdb/errors"
	"github.com/google/uuid"
	"github.com/ticketline/admission/internal/domain"
	"github.com/ticketline/admission/internal/observability"
)

// Repository is the storage contract for tier counters. Every mutation
// must be a single conditional update keyed by tier id; the ledger never
// issues a read followed by a dependent write.
type Repository interface {
	ReserveTier(ctx context.Context, tierID uuid.UUID, quantity int) error
	CommitTier(ctx context.Context, tierID uuid.UUID, quantity int) error
	ReleaseTier(ctx context.Context, tierID uuid.UUID, quantity int) error
	TierAvailability(ctx context.Context, tierID uuid.UUID) (int, error)
}

// Ledger is the single source of truth for tier availability. Holds and
// sessions are satellite records; only these counters decide whether a
// reservation is granted.
type Ledger struct {
	repo   Repository
	logger observability.Logger
}

func New(repo Repository, logger observability.Logger) *Ledger {
	return &Ledger{repo: repo, logger: logger}
}

// Reserve moves quantity units into held, or reports ErrSoldOut with no
// side effects. Two reserves for the same tier may race; the conditional
// update is the only thing ordering them.
func (l *Ledger) Reserve(ctx context.Context, tierID uuid.UUID, quantity int) error {
	if quantity <= 0 {
		return domain.ErrInvalidInput
	}
	err := l.repo.ReserveTier(ctx, tierID, quantity)
	if errors.Is(err, domain.ErrSoldOut) {
		observability.ReserveRejections.Inc()
	}
	return err
}

// Commit converts held units into committed ones. A failed predicate
// here means units are being committed that were never held; that is a
// bug in a caller, logged with context and rejected.
func (l *Ledger) Commit(ctx context.Context, tierID uuid.UUID, quantity int) error {
	if quantity <= 0 {
		return domain.ErrInvalidInput
	}
	if err := l.repo.CommitTier(ctx, tierID, quantity); err != nil {
		l.noteBreach(err, tierID, quantity, "commit")
		return err
	}
	return nil
}

// Release returns held units to available capacity, with the same
// non-negativity guard as Commit.
func (l *Ledger) Release(ctx context.Context, tierID uuid.UUID, quantity int) error {
	if quantity <= 0 {
		return domain.ErrInvalidInput
	}
	if err := l.repo.ReleaseTier(ctx, tierID, quantity); err != nil {
		l.noteBreach(err, tierID, quantity, "release")
		return err
	}
	return nil
}

// Availability is the capacity - committed - held projection, for
// display only. Reserve re-checks at write time regardless.
func (l *Ledger) Availability(ctx context.Context, tierID uuid.UUID) (int, error) {
	return l.repo.TierAvailability(ctx, tierID)
}

func (l *Ledger) noteBreach(err error, tierID uuid.UUID, quantity int, op string) {
	if !errors.Is(err, domain.ErrInventoryInvariant) {
		return
	}
	observability.InvariantBreaches.Inc()
	l.logger.
		WithField("tier_id", tierID.String()).
		WithField("quantity", quantity).
		WithField("op", op).
		Error("ledger mutation would drive held negative")
}
