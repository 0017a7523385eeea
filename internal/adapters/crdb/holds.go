package crdb

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/ticketline/admission/internal/domain"
)

func (r *Repository) CreateHold(ctx context.Context, hold domain.Hold) error {
	_, err := r.exec(ctx, `
		INSERT INTO ticket_holds (id, tier_id, holder_token, quantity, state, payment_ref, created_at, expires_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
	`, hold.ID, hold.TierID, hold.HolderToken, hold.Quantity, hold.State, hold.PaymentRef, hold.CreatedAt, hold.ExpiresAt)
	return err
}

func (r *Repository) GetHold(ctx context.Context, holdID uuid.UUID) (domain.Hold, error) {
	var h domain.Hold
	err := r.queryRow(ctx, `
		SELECT id, tier_id, holder_token, quantity, state, payment_ref, created_at, expires_at, confirmed_at
		FROM ticket_holds WHERE id = $1
	`, holdID).Scan(&h.ID, &h.TierID, &h.HolderToken, &h.Quantity, &h.State, &h.PaymentRef, &h.CreatedAt, &h.ExpiresAt, &h.ConfirmedAt)
	if err == pgx.ErrNoRows {
		return domain.Hold{}, domain.ErrNotFound
	}
	if err != nil {
		return domain.Hold{}, err
	}
	return h, nil
}

// ExtendHold pushes expires_at out for a hold that is still live. A hold
// past its deadline is implicitly expired and cannot be renewed even if
// the sweeper has not marked it yet.
func (r *Repository) ExtendHold(ctx context.Context, holdID uuid.UUID, expiresAt, now time.Time) (bool, error) {
	result, err := r.exec(ctx, `
		UPDATE ticket_holds SET expires_at = $2
		WHERE id = $1 AND state = 'PENDING' AND expires_at > $3
	`, holdID, expiresAt, now)
	if err != nil {
		return false, err
	}
	return result.RowsAffected() == 1, nil
}

// ConfirmPendingHold is the single terminal transition for a successful
// payment. The state and deadline predicates make it race-safe against a
// concurrent expiry: only one transition out of PENDING can win.
func (r *Repository) ConfirmPendingHold(ctx context.Context, holdID uuid.UUID, paymentRef string, now time.Time) (bool, error) {
	result, err := r.exec(ctx, `
		UPDATE ticket_holds SET state = 'CONFIRMED', payment_ref = $2, confirmed_at = $3
		WHERE id = $1 AND state = 'PENDING' AND expires_at > $3
	`, holdID, paymentRef, now)
	if err != nil {
		return false, err
	}
	return result.RowsAffected() == 1, nil
}

// TerminatePendingHold moves a PENDING hold to EXPIRED or CANCELLED.
// Returns false when the hold was not PENDING anymore, which callers
// treat as "someone else already finished it".
func (r *Repository) TerminatePendingHold(ctx context.Context, holdID uuid.UUID, state domain.HoldState) (bool, error) {
	result, err := r.exec(ctx, `
		UPDATE ticket_holds SET state = $2
		WHERE id = $1 AND state = 'PENDING'
	`, holdID, state)
	if err != nil {
		return false, err
	}
	return result.RowsAffected() == 1, nil
}

func (r *Repository) ListExpiredPendingHolds(ctx context.Context, now time.Time, limit int) ([]domain.Hold, error) {
	rows, err := r.query(ctx, `
		SELECT id, tier_id, holder_token, quantity, state, payment_ref, created_at, expires_at, confirmed_at
		FROM ticket_holds WHERE state = 'PENDING' AND expires_at <= $1
		ORDER BY expires_at ASC LIMIT $2
	`, now, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var holds []domain.Hold
	for rows.Next() {
		var h domain.Hold
		if err := rows.Scan(&h.ID, &h.TierID, &h.HolderToken, &h.Quantity, &h.State, &h.PaymentRef, &h.CreatedAt, &h.ExpiresAt, &h.ConfirmedAt); err != nil {
			return nil, err
		}
		holds = append(holds, h)
	}
	return holds, rows.Err()
}
