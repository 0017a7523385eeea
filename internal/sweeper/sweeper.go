package sweeper

import (
	"context"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/google/uuid"
	"github.com/ticketline/admission/internal/clock"
	"github.com/ticketline/admission/internal/domain"
	"github.com/ticketline/admission/internal/observability"
	"golang.org/x/sync/errgroup"
)

type HoldSource interface {
	ListExpiredPendingHolds(ctx context.Context, now time.Time, limit int) ([]domain.Hold, error)
}

type SessionSource interface {
	ListOverdueActiveSessions(ctx context.Context, now time.Time, limit int) ([]domain.AdmissionSession, error)
}

type HoldReleaser interface {
	ReleaseHold(ctx context.Context, holdID uuid.UUID, reason domain.HoldState) (domain.Hold, error)
}

type SessionReclaimer interface {
	Abandon(ctx context.Context, sessionID uuid.UUID) (bool, error)
	Promote(ctx context.Context, eventID uuid.UUID) (int, error)
}

// Sweeper reclaims inventory and admission slots whose owners never
// finished. It is the sole expiry authority: everything it touches goes
// through the same conditional terminal transitions the request path
// uses, so a second sweeper instance double-processing a record is a
// no-op, not a double release.
type Sweeper struct {
	holds     HoldSource
	sessions  SessionSource
	releaser  HoldReleaser
	queue     SessionReclaimer
	clock     clock.Clock
	logger    observability.Logger
	interval  time.Duration
	batchSize int
}

func New(holds HoldSource, sessions SessionSource, releaser HoldReleaser, queue SessionReclaimer, clk clock.Clock, logger observability.Logger, interval time.Duration) *Sweeper {
	return &Sweeper{
		holds:     holds,
		sessions:  sessions,
		releaser:  releaser,
		queue:     queue,
		clock:     clk,
		logger:    logger,
		interval:  interval,
		batchSize: 100,
	}
}

func (s *Sweeper) Run(ctx context.Context) {
	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := s.SweepOnce(ctx); err != nil {
				s.logger.WithError(err).Error("sweep failed")
			}
		}
	}
}

// SweepOnce runs both reclamation legs concurrently against the
// injected clock's now.
func (s *Sweeper) SweepOnce(ctx context.Context) error {
	now := s.clock.Now()

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error { return s.sweepHolds(gctx, now) })
	g.Go(func() error { return s.sweepSessions(gctx, now) })
	return g.Wait()
}

func (s *Sweeper) sweepHolds(ctx context.Context, now time.Time) error {
	holds, err := s.holds.ListExpiredPendingHolds(ctx, now, s.batchSize)
	if err != nil {
		return errors.Wrap(err, "list expired holds")
	}

	for _, h := range holds {
		if err := s.releaseWithRetry(ctx, h.ID); err != nil {
			s.logger.WithError(err).WithField("hold_id", h.ID.String()).Error("failed to release expired hold after retries")
			continue
		}
		observability.SweeperReclaimed.WithLabelValues("hold").Inc()
	}
	return nil
}

func (s *Sweeper) releaseWithRetry(ctx context.Context, holdID uuid.UUID) error {
	const maxRetries = 3
	var lastErr error

	for i := 0; i < maxRetries; i++ {
		_, err := s.releaser.ReleaseHold(ctx, holdID, domain.HoldStateExpired)
		if err == nil {
			return nil
		}
		// Another sweeper or a racing confirm finished this hold first.
		if errors.Is(err, domain.ErrAlreadyTerminal) || errors.Is(err, domain.ErrNotFound) {
			return nil
		}
		lastErr = err

		backoff := time.Duration(1<<i) * time.Second
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(backoff):
		}
	}
	return errors.Wrapf(lastErr, "release hold after %d retries", maxRetries)
}

func (s *Sweeper) sweepSessions(ctx context.Context, now time.Time) error {
	sessions, err := s.sessions.ListOverdueActiveSessions(ctx, now, s.batchSize)
	if err != nil {
		return errors.Wrap(err, "list overdue sessions")
	}

	vacated := make(map[uuid.UUID]struct{})
	for _, sess := range sessions {
		ok, err := s.queue.Abandon(ctx, sess.ID)
		if err != nil {
			s.logger.WithError(err).WithField("session_id", sess.ID.String()).Error("failed to abandon overdue session")
			continue
		}
		if ok {
			observability.SweeperReclaimed.WithLabelValues("session").Inc()
			vacated[sess.EventID] = struct{}{}
		}
	}

	for eventID := range vacated {
		if _, err := s.queue.Promote(ctx, eventID); err != nil {
			s.logger.WithError(err).WithField("event_id", eventID.String()).Error("promotion after abandonment failed")
		}
	}
	return nil
}
