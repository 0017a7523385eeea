package hold

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/ticketline/admission/internal/adapters/crdb"
	"github.com/ticketline/admission/internal/clock"
	"github.com/ticketline/admission/internal/domain"
	"github.com/ticketline/admission/internal/ledger"
	"github.com/ticketline/admission/internal/observability"
)

// fakeRepo backs both the hold manager and the ledger with in-memory
// state guarded by a single mutex, so the conditional transitions keep
// their atomicity under the concurrent tests.
type fakeRepo struct {
	mu      sync.Mutex
	tiers   map[uuid.UUID]*domain.TicketTier
	holds   map[uuid.UUID]*domain.Hold
	configs map[uuid.UUID]domain.QueueConfig
	outbox  []crdb.OutboxRecord
}

func newFakeRepo() *fakeRepo {
	return &fakeRepo{
		tiers:   make(map[uuid.UUID]*domain.TicketTier),
		holds:   make(map[uuid.UUID]*domain.Hold),
		configs: make(map[uuid.UUID]domain.QueueConfig),
	}
}

func (f *fakeRepo) addTier(t domain.TicketTier) {
	f.mu.Lock()
	defer f.mu.Unlock()
	tier := t
	f.tiers[t.ID] = &tier
}

func (f *fakeRepo) addHold(h domain.Hold) {
	f.mu.Lock()
	defer f.mu.Unlock()
	held := h
	f.holds[h.ID] = &held
}

func (f *fakeRepo) tier(id uuid.UUID) domain.TicketTier {
	f.mu.Lock()
	defer f.mu.Unlock()
	return *f.tiers[id]
}

func (f *fakeRepo) outboxEvents(eventType string) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	n := 0
	for _, rec := range f.outbox {
		if rec.EventType == eventType {
			n++
		}
	}
	return n
}

func (f *fakeRepo) WithTx(ctx context.Context, fn func(ctx context.Context) error) error {
	return fn(ctx)
}

func (f *fakeRepo) GetTier(ctx context.Context, tierID uuid.UUID) (domain.TicketTier, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	t, ok := f.tiers[tierID]
	if !ok {
		return domain.TicketTier{}, domain.ErrNotFound
	}
	return *t, nil
}

func (f *fakeRepo) GetQueueConfig(ctx context.Context, eventID uuid.UUID) (*domain.QueueConfig, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	cfg, ok := f.configs[eventID]
	if !ok {
		return nil, nil
	}
	return &cfg, nil
}

func (f *fakeRepo) CreateHold(ctx context.Context, h domain.Hold) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	created := h
	f.holds[h.ID] = &created
	return nil
}

func (f *fakeRepo) GetHold(ctx context.Context, holdID uuid.UUID) (domain.Hold, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	h, ok := f.holds[holdID]
	if !ok {
		return domain.Hold{}, domain.ErrNotFound
	}
	return *h, nil
}

func (f *fakeRepo) ExtendHold(ctx context.Context, holdID uuid.UUID, expiresAt, now time.Time) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	h, ok := f.holds[holdID]
	if !ok || h.State != domain.HoldStatePending || !h.ExpiresAt.After(now) {
		return false, nil
	}
	h.ExpiresAt = expiresAt
	return true, nil
}

func (f *fakeRepo) ConfirmPendingHold(ctx context.Context, holdID uuid.UUID, paymentRef string, now time.Time) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	h, ok := f.holds[holdID]
	if !ok || h.State != domain.HoldStatePending || !h.ExpiresAt.After(now) {
		return false, nil
	}
	h.State = domain.HoldStateConfirmed
	h.PaymentRef = paymentRef
	confirmedAt := now
	h.ConfirmedAt = &confirmedAt
	return true, nil
}

func (f *fakeRepo) TerminatePendingHold(ctx context.Context, holdID uuid.UUID, state domain.HoldState) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	h, ok := f.holds[holdID]
	if !ok || h.State != domain.HoldStatePending {
		return false, nil
	}
	h.State = state
	return true, nil
}

func (f *fakeRepo) InsertOutbox(ctx context.Context, record crdb.OutboxRecord) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.outbox = append(f.outbox, record)
	return nil
}

func (f *fakeRepo) ReserveTier(ctx context.Context, tierID uuid.UUID, quantity int) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	t, ok := f.tiers[tierID]
	if !ok {
		return domain.ErrNotFound
	}
	if !t.Active || t.Held+t.Committed+quantity > t.Capacity {
		return domain.ErrSoldOut
	}
	t.Held += quantity
	return nil
}

func (f *fakeRepo) CommitTier(ctx context.Context, tierID uuid.UUID, quantity int) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	t, ok := f.tiers[tierID]
	if !ok || t.Held < quantity {
		return domain.ErrInventoryInvariant
	}
	t.Held -= quantity
	t.Committed += quantity
	return nil
}

func (f *fakeRepo) ReleaseTier(ctx context.Context, tierID uuid.UUID, quantity int) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	t, ok := f.tiers[tierID]
	if !ok || t.Held < quantity {
		return domain.ErrInventoryInvariant
	}
	t.Held -= quantity
	return nil
}

func (f *fakeRepo) TierAvailability(ctx context.Context, tierID uuid.UUID) (int, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	t, ok := f.tiers[tierID]
	if !ok {
		return 0, domain.ErrNotFound
	}
	return t.Available(), nil
}

func newTestManager(repo *fakeRepo, clk clock.Clock) *Manager {
	logger := observability.NewLogger()
	lgr := ledger.New(repo, logger)
	return NewManager(repo, lgr, clk, logger, 10*time.Minute)
}

func TestManager_PlaceHold(t *testing.T) {
	t.Parallel()

	now := time.Date(2026, 8, 1, 12, 0, 0, 0, time.UTC)
	clk := clock.NewFixed(now)
	repo := newFakeRepo()
	tierID := uuid.New()
	repo.addTier(domain.TicketTier{ID: tierID, EventID: uuid.New(), Capacity: 10, Active: true})
	mgr := newTestManager(repo, clk)

	h, err := mgr.PlaceHold(context.Background(), tierID, "buyer-1", 3)
	if err != nil {
		t.Fatalf("place hold: %v", err)
	}
	if h.State != domain.HoldStatePending {
		t.Errorf("expected PENDING, got %s", h.State)
	}
	if want := now.Add(10 * time.Minute); !h.ExpiresAt.Equal(want) {
		t.Errorf("expected expiry %v, got %v", want, h.ExpiresAt)
	}
	if tier := repo.tier(tierID); tier.Held != 3 {
		t.Errorf("expected 3 held units, got %d", tier.Held)
	}
}

func TestManager_PlaceHoldUsesEventHoldTTL(t *testing.T) {
	t.Parallel()

	now := time.Date(2026, 8, 1, 12, 0, 0, 0, time.UTC)
	clk := clock.NewFixed(now)
	repo := newFakeRepo()
	eventID := uuid.New()
	tierID := uuid.New()
	repo.addTier(domain.TicketTier{ID: tierID, EventID: eventID, Capacity: 10, Active: true})
	repo.configs[eventID] = domain.QueueConfig{EventID: eventID, HoldTTL: 2 * time.Minute}
	mgr := newTestManager(repo, clk)

	h, err := mgr.PlaceHold(context.Background(), tierID, "buyer-1", 1)
	if err != nil {
		t.Fatalf("place hold: %v", err)
	}
	if want := now.Add(2 * time.Minute); !h.ExpiresAt.Equal(want) {
		t.Errorf("expected event-configured expiry %v, got %v", want, h.ExpiresAt)
	}
}

func TestManager_ConcurrentPlaceHoldsRespectCapacity(t *testing.T) {
	t.Parallel()

	clk := clock.NewFixed(time.Date(2026, 8, 1, 12, 0, 0, 0, time.UTC))
	repo := newFakeRepo()
	tierID := uuid.New()
	repo.addTier(domain.TicketTier{ID: tierID, EventID: uuid.New(), Capacity: 2, Active: true})
	mgr := newTestManager(repo, clk)

	var wg sync.WaitGroup
	results := make(chan error, 3)
	for i := 0; i < 3; i++ {
		wg.Add(1)
		go func(n int) {
			defer wg.Done()
			_, err := mgr.PlaceHold(context.Background(), tierID, "buyer", 1)
			results <- err
		}(i)
	}
	wg.Wait()
	close(results)

	granted, soldOut := 0, 0
	for err := range results {
		switch {
		case err == nil:
			granted++
		case errors.Is(err, domain.ErrSoldOut):
			soldOut++
		default:
			t.Fatalf("unexpected error: %v", err)
		}
	}
	if granted != 2 || soldOut != 1 {
		t.Errorf("expected 2 granted and 1 sold out, got %d/%d", granted, soldOut)
	}
	if tier := repo.tier(tierID); tier.Held != 2 {
		t.Errorf("expected held 2, got %d", tier.Held)
	}
}

func TestManager_ConfirmHold(t *testing.T) {
	t.Parallel()

	now := time.Date(2026, 8, 1, 12, 0, 0, 0, time.UTC)
	clk := clock.NewFixed(now)
	repo := newFakeRepo()
	tierID := uuid.New()
	repo.addTier(domain.TicketTier{ID: tierID, EventID: uuid.New(), Capacity: 5, Active: true})
	mgr := newTestManager(repo, clk)

	h, err := mgr.PlaceHold(context.Background(), tierID, "buyer-1", 2)
	if err != nil {
		t.Fatalf("place hold: %v", err)
	}

	confirmed, err := mgr.ConfirmHold(context.Background(), h.ID, "pay-123")
	if err != nil {
		t.Fatalf("confirm: %v", err)
	}
	if confirmed.State != domain.HoldStateConfirmed {
		t.Errorf("expected CONFIRMED, got %s", confirmed.State)
	}

	tier := repo.tier(tierID)
	if tier.Held != 0 || tier.Committed != 2 {
		t.Errorf("expected held 0 committed 2, got held %d committed %d", tier.Held, tier.Committed)
	}
	if n := repo.outboxEvents("hold.confirmed"); n != 1 {
		t.Errorf("expected 1 hold.confirmed event, got %d", n)
	}
}

func TestManager_ConfirmHoldIdempotentOnSamePaymentRef(t *testing.T) {
	t.Parallel()

	clk := clock.NewFixed(time.Date(2026, 8, 1, 12, 0, 0, 0, time.UTC))
	repo := newFakeRepo()
	tierID := uuid.New()
	repo.addTier(domain.TicketTier{ID: tierID, EventID: uuid.New(), Capacity: 5, Active: true})
	mgr := newTestManager(repo, clk)

	h, _ := mgr.PlaceHold(context.Background(), tierID, "buyer-1", 2)
	if _, err := mgr.ConfirmHold(context.Background(), h.ID, "pay-123"); err != nil {
		t.Fatalf("first confirm: %v", err)
	}

	replayed, err := mgr.ConfirmHold(context.Background(), h.ID, "pay-123")
	if err != nil {
		t.Fatalf("replayed confirm: %v", err)
	}
	if replayed.State != domain.HoldStateConfirmed {
		t.Errorf("expected CONFIRMED on replay, got %s", replayed.State)
	}

	// The replay must not double-commit inventory or re-emit the event.
	tier := repo.tier(tierID)
	if tier.Committed != 2 {
		t.Errorf("expected committed 2 after replay, got %d", tier.Committed)
	}
	if n := repo.outboxEvents("hold.confirmed"); n != 1 {
		t.Errorf("expected 1 hold.confirmed event after replay, got %d", n)
	}
}

func TestManager_ConfirmHoldPaymentRefMismatch(t *testing.T) {
	t.Parallel()

	clk := clock.NewFixed(time.Date(2026, 8, 1, 12, 0, 0, 0, time.UTC))
	repo := newFakeRepo()
	tierID := uuid.New()
	repo.addTier(domain.TicketTier{ID: tierID, EventID: uuid.New(), Capacity: 5, Active: true})
	mgr := newTestManager(repo, clk)

	h, _ := mgr.PlaceHold(context.Background(), tierID, "buyer-1", 1)
	if _, err := mgr.ConfirmHold(context.Background(), h.ID, "pay-123"); err != nil {
		t.Fatalf("confirm: %v", err)
	}

	_, err := mgr.ConfirmHold(context.Background(), h.ID, "pay-456")
	if !errors.Is(err, domain.ErrPaymentRefMismatch) {
		t.Fatalf("expected ErrPaymentRefMismatch, got %v", err)
	}
}

func TestManager_ConfirmHoldPastDeadline(t *testing.T) {
	t.Parallel()

	now := time.Date(2026, 8, 1, 12, 0, 0, 0, time.UTC)
	repo := newFakeRepo()
	tierID := uuid.New()
	repo.addTier(domain.TicketTier{ID: tierID, EventID: uuid.New(), Capacity: 5, Active: true, Held: 1})
	expired := domain.Hold{
		ID:          uuid.New(),
		TierID:      tierID,
		HolderToken: "buyer-1",
		Quantity:    1,
		State:       domain.HoldStatePending,
		CreatedAt:   now.Add(-20 * time.Minute),
		ExpiresAt:   now.Add(-10 * time.Minute),
	}
	repo.addHold(expired)
	mgr := newTestManager(repo, clock.NewFixed(now))

	_, err := mgr.ConfirmHold(context.Background(), expired.ID, "pay-123")
	if !errors.Is(err, domain.ErrHoldExpired) {
		t.Fatalf("expected ErrHoldExpired, got %v", err)
	}
	if tier := repo.tier(tierID); tier.Committed != 0 {
		t.Errorf("expired hold must not commit inventory, committed %d", tier.Committed)
	}
}

func TestManager_ReleaseHoldReturnsUnitsOnce(t *testing.T) {
	t.Parallel()

	clk := clock.NewFixed(time.Date(2026, 8, 1, 12, 0, 0, 0, time.UTC))
	repo := newFakeRepo()
	tierID := uuid.New()
	repo.addTier(domain.TicketTier{ID: tierID, EventID: uuid.New(), Capacity: 5, Active: true})
	mgr := newTestManager(repo, clk)

	h, _ := mgr.PlaceHold(context.Background(), tierID, "buyer-1", 2)

	released, err := mgr.ReleaseHold(context.Background(), h.ID, domain.HoldStateExpired)
	if err != nil {
		t.Fatalf("release: %v", err)
	}
	if released.State != domain.HoldStateExpired {
		t.Errorf("expected EXPIRED, got %s", released.State)
	}
	if tier := repo.tier(tierID); tier.Held != 0 {
		t.Errorf("expected held 0 after release, got %d", tier.Held)
	}

	// Second release with the same reason is a no-op success.
	if _, err := mgr.ReleaseHold(context.Background(), h.ID, domain.HoldStateExpired); err != nil {
		t.Fatalf("repeat release: %v", err)
	}
	if tier := repo.tier(tierID); tier.Held != 0 || tier.Committed != 0 {
		t.Errorf("repeat release mutated counters: held %d committed %d", tier.Held, tier.Committed)
	}
	if n := repo.outboxEvents("hold.expired"); n != 1 {
		t.Errorf("expected 1 hold.expired event, got %d", n)
	}
}

func TestManager_ReleaseConfirmedHoldFails(t *testing.T) {
	t.Parallel()

	clk := clock.NewFixed(time.Date(2026, 8, 1, 12, 0, 0, 0, time.UTC))
	repo := newFakeRepo()
	tierID := uuid.New()
	repo.addTier(domain.TicketTier{ID: tierID, EventID: uuid.New(), Capacity: 5, Active: true})
	mgr := newTestManager(repo, clk)

	h, _ := mgr.PlaceHold(context.Background(), tierID, "buyer-1", 1)
	if _, err := mgr.ConfirmHold(context.Background(), h.ID, "pay-123"); err != nil {
		t.Fatalf("confirm: %v", err)
	}

	_, err := mgr.ReleaseHold(context.Background(), h.ID, domain.HoldStateCancelled)
	if !errors.Is(err, domain.ErrAlreadyTerminal) {
		t.Fatalf("expected ErrAlreadyTerminal, got %v", err)
	}
	if tier := repo.tier(tierID); tier.Committed != 1 {
		t.Errorf("committed units must survive a rejected release, got %d", tier.Committed)
	}
}

func TestManager_RenewHold(t *testing.T) {
	t.Parallel()

	now := time.Date(2026, 8, 1, 12, 0, 0, 0, time.UTC)
	clk := clock.NewFixed(now)
	repo := newFakeRepo()
	tierID := uuid.New()
	repo.addTier(domain.TicketTier{ID: tierID, EventID: uuid.New(), Capacity: 5, Active: true})
	mgr := newTestManager(repo, clk)

	h, _ := mgr.PlaceHold(context.Background(), tierID, "buyer-1", 1)

	clk.Advance(5 * time.Minute)
	renewed, err := mgr.RenewHold(context.Background(), h.ID)
	if err != nil {
		t.Fatalf("renew: %v", err)
	}
	if want := now.Add(15 * time.Minute); !renewed.ExpiresAt.Equal(want) {
		t.Errorf("expected expiry %v, got %v", want, renewed.ExpiresAt)
	}
}

func TestManager_RenewHoldPastDeadline(t *testing.T) {
	t.Parallel()

	now := time.Date(2026, 8, 1, 12, 0, 0, 0, time.UTC)
	clk := clock.NewFixed(now)
	repo := newFakeRepo()
	tierID := uuid.New()
	repo.addTier(domain.TicketTier{ID: tierID, EventID: uuid.New(), Capacity: 5, Active: true})
	mgr := newTestManager(repo, clk)

	h, _ := mgr.PlaceHold(context.Background(), tierID, "buyer-1", 1)

	clk.Advance(11 * time.Minute)
	_, err := mgr.RenewHold(context.Background(), h.ID)
	if !errors.Is(err, domain.ErrHoldExpired) {
		t.Fatalf("expected ErrHoldExpired, got %v", err)
	}
}

func TestManager_RenewTerminalHold(t *testing.T) {
	t.Parallel()

	clk := clock.NewFixed(time.Date(2026, 8, 1, 12, 0, 0, 0, time.UTC))
	repo := newFakeRepo()
	tierID := uuid.New()
	repo.addTier(domain.TicketTier{ID: tierID, EventID: uuid.New(), Capacity: 5, Active: true})
	mgr := newTestManager(repo, clk)

	h, _ := mgr.PlaceHold(context.Background(), tierID, "buyer-1", 1)
	if _, err := mgr.ReleaseHold(context.Background(), h.ID, domain.HoldStateCancelled); err != nil {
		t.Fatalf("cancel: %v", err)
	}

	_, err := mgr.RenewHold(context.Background(), h.ID)
	if !errors.Is(err, domain.ErrAlreadyTerminal) {
		t.Fatalf("expected ErrAlreadyTerminal, got %v", err)
	}
}

func TestManager_AvailabilityAfterFullLifecycle(t *testing.T) {
	t.Parallel()

	clk := clock.NewFixed(time.Date(2026, 8, 1, 12, 0, 0, 0, time.UTC))
	repo := newFakeRepo()
	tierID := uuid.New()
	repo.addTier(domain.TicketTier{ID: tierID, EventID: uuid.New(), Capacity: 2, Active: true})
	logger := observability.NewLogger()
	lgr := ledger.New(repo, logger)
	mgr := NewManager(repo, lgr, clk, logger, 10*time.Minute)

	h1, err := mgr.PlaceHold(context.Background(), tierID, "buyer-1", 1)
	if err != nil {
		t.Fatalf("place h1: %v", err)
	}
	h2, err := mgr.PlaceHold(context.Background(), tierID, "buyer-2", 1)
	if err != nil {
		t.Fatalf("place h2: %v", err)
	}
	if _, err := mgr.ConfirmHold(context.Background(), h1.ID, "pay-1"); err != nil {
		t.Fatalf("confirm h1: %v", err)
	}
	if _, err := mgr.ConfirmHold(context.Background(), h2.ID, "pay-2"); err != nil {
		t.Fatalf("confirm h2: %v", err)
	}

	available, err := lgr.Availability(context.Background(), tierID)
	if err != nil {
		t.Fatalf("availability: %v", err)
	}
	if available != 0 {
		t.Errorf("expected availability 0 after both confirms, got %d", available)
	}
}

func TestManager_InvalidInput(t *testing.T) {
	t.Parallel()

	clk := clock.NewFixed(time.Date(2026, 8, 1, 12, 0, 0, 0, time.UTC))
	mgr := newTestManager(newFakeRepo(), clk)

	if _, err := mgr.PlaceHold(context.Background(), uuid.New(), "buyer", 0); !errors.Is(err, domain.ErrInvalidInput) {
		t.Errorf("expected ErrInvalidInput for zero quantity, got %v", err)
	}
	if _, err := mgr.PlaceHold(context.Background(), uuid.New(), "", 1); !errors.Is(err, domain.ErrInvalidInput) {
		t.Errorf("expected ErrInvalidInput for empty holder token, got %v", err)
	}
	if _, err := mgr.ConfirmHold(context.Background(), uuid.New(), ""); !errors.Is(err, domain.ErrInvalidInput) {
		t.Errorf("expected ErrInvalidInput for empty payment ref, got %v", err)
	}
	if _, err := mgr.ReleaseHold(context.Background(), uuid.New(), domain.HoldStateConfirmed); !errors.Is(err, domain.ErrInvalidInput) {
		t.Errorf("expected ErrInvalidInput for non-terminal release reason, got %v", err)
	}
}
