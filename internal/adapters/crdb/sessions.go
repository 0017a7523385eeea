package crdb

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/ticketline/admission/internal/domain"
)

func (r *Repository) CreateSession(ctx context.Context, s domain.AdmissionSession) error {
	_, err := r.exec(ctx, `
		INSERT INTO admission_sessions (id, event_id, holder_token, state, queue_position, entered_active_at, deadline)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
	`, s.ID, s.EventID, s.HolderToken, s.State, s.QueuePosition, s.EnteredActiveAt, s.Deadline)
	return err
}

func (r *Repository) GetSession(ctx context.Context, sessionID uuid.UUID) (domain.AdmissionSession, error) {
	var s domain.AdmissionSession
	err := r.queryRow(ctx, `
		SELECT id, event_id, holder_token, state, queue_position, entered_active_at, deadline
		FROM admission_sessions WHERE id = $1
	`, sessionID).Scan(&s.ID, &s.EventID, &s.HolderToken, &s.State, &s.QueuePosition, &s.EnteredActiveAt, &s.Deadline)
	if err == pgx.ErrNoRows {
		return domain.AdmissionSession{}, domain.ErrNotFound
	}
	if err != nil {
		return domain.AdmissionSession{}, err
	}
	return s, nil
}

func (r *Repository) CountActiveSessions(ctx context.Context, eventID uuid.UUID) (int, error) {
	var count int
	err := r.queryRow(ctx, `
		SELECT count(*) FROM admission_sessions WHERE event_id = $1 AND state = 'ACTIVE'
	`, eventID).Scan(&count)
	return count, err
}

func (r *Repository) CountWaitingSessions(ctx context.Context, eventID uuid.UUID) (int, error) {
	var count int
	err := r.queryRow(ctx, `
		SELECT count(*) FROM admission_sessions WHERE event_id = $1 AND state = 'WAITING'
	`, eventID).Scan(&count)
	return count, err
}

// ExtendSessionDeadline renews an active session's heartbeat deadline.
// Sessions already past the deadline are left for the sweeper.
func (r *Repository) ExtendSessionDeadline(ctx context.Context, sessionID uuid.UUID, deadline, now time.Time) (bool, error) {
	result, err := r.exec(ctx, `
		UPDATE admission_sessions SET deadline = $2
		WHERE id = $1 AND state = 'ACTIVE' AND deadline > $3
	`, sessionID, deadline, now)
	if err != nil {
		return false, err
	}
	return result.RowsAffected() == 1, nil
}

// CompleteSession ends a session gracefully from either live state.
func (r *Repository) CompleteSession(ctx context.Context, sessionID uuid.UUID) (bool, error) {
	result, err := r.exec(ctx, `
		UPDATE admission_sessions SET state = 'COMPLETED', queue_position = NULL, deadline = NULL
		WHERE id = $1 AND state IN ('WAITING', 'ACTIVE')
	`, sessionID)
	if err != nil {
		return false, err
	}
	return result.RowsAffected() == 1, nil
}

// AbandonActiveSession is the sweeper's terminal transition for sessions
// that stopped heartbeating. Only ACTIVE rows qualify, so double
// processing is harmless.
func (r *Repository) AbandonActiveSession(ctx context.Context, sessionID uuid.UUID) (bool, error) {
	result, err := r.exec(ctx, `
		UPDATE admission_sessions SET state = 'ABANDONED', deadline = NULL
		WHERE id = $1 AND state = 'ACTIVE'
	`, sessionID)
	if err != nil {
		return false, err
	}
	return result.RowsAffected() == 1, nil
}

func (r *Repository) ListWaitingForPromotion(ctx context.Context, eventID uuid.UUID, limit int) ([]domain.AdmissionSession, error) {
	rows, err := r.query(ctx, `
		SELECT id, event_id, holder_token, state, queue_position, entered_active_at, deadline
		FROM admission_sessions
		WHERE event_id = $1 AND state = 'WAITING'
		ORDER BY queue_position ASC LIMIT $2
	`, eventID, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return scanSessions(rows)
}

func (r *Repository) ActivateSession(ctx context.Context, sessionID uuid.UUID, now, deadline time.Time) (bool, error) {
	result, err := r.exec(ctx, `
		UPDATE admission_sessions
		SET state = 'ACTIVE', queue_position = NULL, entered_active_at = $2, deadline = $3
		WHERE id = $1 AND state = 'WAITING'
	`, sessionID, now, deadline)
	if err != nil {
		return false, err
	}
	return result.RowsAffected() == 1, nil
}

// CompactQueuePositions renumbers the remaining waiting sessions to a
// dense 1..n ordering, preserving their relative order.
func (r *Repository) CompactQueuePositions(ctx context.Context, eventID uuid.UUID) error {
	_, err := r.exec(ctx, `
		UPDATE admission_sessions AS s SET queue_position = w.rn
		FROM (
			SELECT id, row_number() OVER (ORDER BY queue_position ASC) AS rn
			FROM admission_sessions
			WHERE event_id = $1 AND state = 'WAITING'
		) AS w
		WHERE s.id = w.id
	`, eventID)
	return err
}

func (r *Repository) ListOverdueActiveSessions(ctx context.Context, now time.Time, limit int) ([]domain.AdmissionSession, error) {
	rows, err := r.query(ctx, `
		SELECT id, event_id, holder_token, state, queue_position, entered_active_at, deadline
		FROM admission_sessions
		WHERE state = 'ACTIVE' AND deadline <= $1
		ORDER BY deadline ASC LIMIT $2
	`, now, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return scanSessions(rows)
}

func scanSessions(rows pgx.Rows) ([]domain.AdmissionSession, error) {
	var sessions []domain.AdmissionSession
	for rows.Next() {
		var s domain.AdmissionSession
		if err := rows.Scan(&s.ID, &s.EventID, &s.HolderToken, &s.State, &s.QueuePosition, &s.EnteredActiveAt, &s.Deadline); err != nil {
			return nil, err
		}
		sessions = append(sessions, s)
	}
	return sessions, rows.Err()
}

// GetQueueConfig returns the event's waiting-room configuration, or nil
// when the event has none and the process defaults apply.
func (r *Repository) GetQueueConfig(ctx context.Context, eventID uuid.UUID) (*domain.QueueConfig, error) {
	var cfg domain.QueueConfig
	var activeTTL, holdTTL int64
	err := r.queryRow(ctx, `
		SELECT event_id, max_concurrent, active_session_ttl_seconds, hold_ttl_seconds, promotion_batch_size
		FROM queue_configurations WHERE event_id = $1
	`, eventID).Scan(&cfg.EventID, &cfg.MaxConcurrent, &activeTTL, &holdTTL, &cfg.PromotionBatchSize)
	if err == pgx.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	cfg.ActiveSessionTTL = time.Duration(activeTTL) * time.Second
	cfg.HoldTTL = time.Duration(holdTTL) * time.Second
	return &cfg, nil
}

func (r *Repository) UpsertQueueConfig(ctx context.Context, cfg domain.QueueConfig) error {
	_, err := r.exec(ctx, `
		UPSERT INTO queue_configurations (event_id, max_concurrent, active_session_ttl_seconds, hold_ttl_seconds, promotion_batch_size)
		VALUES ($1, $2, $3, $4, $5)
	`, cfg.EventID, cfg.MaxConcurrent, int64(cfg.ActiveSessionTTL.Seconds()), int64(cfg.HoldTTL.Seconds()), cfg.PromotionBatchSize)
	return err
}
