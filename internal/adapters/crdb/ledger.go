package crdb

import (
	"context"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/ticketline/admission/internal/domain"
)

// ReserveTier moves quantity units into held, guarded by the capacity
// predicate in the same statement. A rejected predicate has no side
// effects; two racing reserves are ordered by the row update itself.
func (r *Repository) ReserveTier(ctx context.Context, tierID uuid.UUID, quantity int) error {
	result, err := r.exec(ctx, `
		UPDATE ticket_tiers SET held = held + $2
		WHERE id = $1 AND active AND held + committed + $2 <= capacity
	`, tierID, quantity)
	if err != nil {
		return err
	}
	if result.RowsAffected() == 0 {
		if _, err := r.GetTier(ctx, tierID); err != nil {
			return err
		}
		return domain.ErrSoldOut
	}
	return nil
}

// CommitTier converts held units into committed ones. The held >= $2
// predicate failing means the caller is committing units it never
// reserved; surfaced as an invariant breach, never applied partially.
func (r *Repository) CommitTier(ctx context.Context, tierID uuid.UUID, quantity int) error {
	result, err := r.exec(ctx, `
		UPDATE ticket_tiers SET held = held - $2, committed = committed + $2
		WHERE id = $1 AND held >= $2
	`, tierID, quantity)
	if err != nil {
		return err
	}
	if result.RowsAffected() == 0 {
		return domain.ErrInventoryInvariant
	}
	return nil
}

// ReleaseTier returns held units to available capacity.
func (r *Repository) ReleaseTier(ctx context.Context, tierID uuid.UUID, quantity int) error {
	result, err := r.exec(ctx, `
		UPDATE ticket_tiers SET held = held - $2
		WHERE id = $1 AND held >= $2
	`, tierID, quantity)
	if err != nil {
		return err
	}
	if result.RowsAffected() == 0 {
		return domain.ErrInventoryInvariant
	}
	return nil
}

func (r *Repository) GetTier(ctx context.Context, tierID uuid.UUID) (domain.TicketTier, error) {
	var t domain.TicketTier
	err := r.queryRow(ctx, `
		SELECT id, event_id, name, capacity, committed, held, active
		FROM ticket_tiers WHERE id = $1
	`, tierID).Scan(&t.ID, &t.EventID, &t.Name, &t.Capacity, &t.Committed, &t.Held, &t.Active)
	if err == pgx.ErrNoRows {
		return domain.TicketTier{}, domain.ErrNotFound
	}
	if err != nil {
		return domain.TicketTier{}, err
	}
	return t, nil
}

// TierAvailability is the display projection; reserve decisions never
// gate on it.
func (r *Repository) TierAvailability(ctx context.Context, tierID uuid.UUID) (int, error) {
	var available int
	err := r.queryRow(ctx, `
		SELECT capacity - committed - held FROM ticket_tiers WHERE id = $1
	`, tierID).Scan(&available)
	if err == pgx.ErrNoRows {
		return 0, domain.ErrNotFound
	}
	if err != nil {
		return 0, err
	}
	return available, nil
}

func (r *Repository) CreateTier(ctx context.Context, tier domain.TicketTier) error {
	_, err := r.exec(ctx, `
		INSERT INTO ticket_tiers (id, event_id, name, capacity, committed, held, active)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
	`, tier.ID, tier.EventID, tier.Name, tier.Capacity, tier.Committed, tier.Held, tier.Active)
	return err
}
