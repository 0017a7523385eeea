package crdb_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/wait"
	"github.com/ticketline/admission/internal/adapters/crdb"
	"github.com/ticketline/admission/internal/domain"
)

func startPool(t *testing.T) *pgxpool.Pool {
	t.Helper()
	ctx := context.Background()

	container, err := testcontainers.GenericContainer(ctx, testcontainers.GenericContainerRequest{
		ContainerRequest: testcontainers.ContainerRequest{
			Image:        "cockroachdb/cockroach:v24.1.1",
			Cmd:          []string{"start-single-node", "--insecure"},
			ExposedPorts: []string{"26257/tcp"},
			WaitingFor:   wait.ForHTTP("/health?ready=1").WithPort("8080"),
		},
		Started: true,
	})
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { container.Terminate(ctx) })

	dsn, err := container.Endpoint(ctx, "postgresql")
	if err != nil {
		t.Fatal(err)
	}

	pool, err := pgxpool.New(ctx, dsn+"/defaultdb?sslmode=disable")
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(pool.Close)

	if err := crdb.EnsureSchema(ctx, pool); err != nil {
		t.Fatal(err)
	}
	return pool
}

func createTier(t *testing.T, repo *crdb.Repository, capacity int) domain.TicketTier {
	t.Helper()
	tier := domain.TicketTier{
		ID:       uuid.New(),
		EventID:  uuid.New(),
		Name:     "general",
		Capacity: capacity,
		Active:   true,
	}
	if err := repo.CreateTier(context.Background(), tier); err != nil {
		t.Fatal(err)
	}
	return tier
}

func TestRepository_ReserveTier(t *testing.T) {
	ctx := context.Background()
	repo := crdb.NewRepository(startPool(t))
	tier := createTier(t, repo, 2)

	if err := repo.ReserveTier(ctx, tier.ID, 1); err != nil {
		t.Fatalf("expected reserve to succeed, got %v", err)
	}

	// One unit left; asking for two must reject without side effects.
	err := repo.ReserveTier(ctx, tier.ID, 2)
	if !errors.Is(err, domain.ErrSoldOut) {
		t.Fatalf("expected ErrSoldOut, got %v", err)
	}

	available, err := repo.TierAvailability(ctx, tier.ID)
	if err != nil {
		t.Fatal(err)
	}
	if available != 1 {
		t.Errorf("expected availability 1, got %d", available)
	}

	if err := repo.ReserveTier(ctx, uuid.New(), 1); !errors.Is(err, domain.ErrNotFound) {
		t.Errorf("expected ErrNotFound for unknown tier, got %v", err)
	}
}

func TestRepository_CommitAndReleaseGuards(t *testing.T) {
	ctx := context.Background()
	repo := crdb.NewRepository(startPool(t))
	tier := createTier(t, repo, 5)

	if err := repo.ReserveTier(ctx, tier.ID, 2); err != nil {
		t.Fatal(err)
	}
	if err := repo.CommitTier(ctx, tier.ID, 1); err != nil {
		t.Fatalf("commit within held: %v", err)
	}

	// Only one held unit remains; committing or releasing two is a breach.
	if err := repo.CommitTier(ctx, tier.ID, 2); !errors.Is(err, domain.ErrInventoryInvariant) {
		t.Errorf("expected ErrInventoryInvariant on over-commit, got %v", err)
	}
	if err := repo.ReleaseTier(ctx, tier.ID, 2); !errors.Is(err, domain.ErrInventoryInvariant) {
		t.Errorf("expected ErrInventoryInvariant on over-release, got %v", err)
	}
	if err := repo.ReleaseTier(ctx, tier.ID, 1); err != nil {
		t.Fatalf("release within held: %v", err)
	}

	got, err := repo.GetTier(ctx, tier.ID)
	if err != nil {
		t.Fatal(err)
	}
	if got.Held != 0 || got.Committed != 1 {
		t.Errorf("expected held 0 committed 1, got held %d committed %d", got.Held, got.Committed)
	}
}

func TestRepository_HoldTerminalTransitions(t *testing.T) {
	ctx := context.Background()
	repo := crdb.NewRepository(startPool(t))
	tier := createTier(t, repo, 5)

	now := time.Now().UTC()
	hold := domain.NewHold(tier.ID, "buyer-1", 1, now, 10*time.Minute)
	if err := repo.CreateHold(ctx, hold); err != nil {
		t.Fatal(err)
	}

	ok, err := repo.ConfirmPendingHold(ctx, hold.ID, "pay-123", now)
	if err != nil || !ok {
		t.Fatalf("expected confirm to apply, ok=%v err=%v", ok, err)
	}

	// The hold left PENDING; no second terminal transition can win.
	ok, err = repo.ConfirmPendingHold(ctx, hold.ID, "pay-123", now)
	if err != nil {
		t.Fatal(err)
	}
	if ok {
		t.Error("second confirm must not apply")
	}
	ok, err = repo.TerminatePendingHold(ctx, hold.ID, domain.HoldStateExpired)
	if err != nil {
		t.Fatal(err)
	}
	if ok {
		t.Error("terminate after confirm must not apply")
	}

	got, err := repo.GetHold(ctx, hold.ID)
	if err != nil {
		t.Fatal(err)
	}
	if got.State != domain.HoldStateConfirmed || got.PaymentRef != "pay-123" {
		t.Errorf("expected CONFIRMED/pay-123, got %s/%s", got.State, got.PaymentRef)
	}
}

func TestRepository_ConfirmRejectsPastDeadline(t *testing.T) {
	ctx := context.Background()
	repo := crdb.NewRepository(startPool(t))
	tier := createTier(t, repo, 5)

	now := time.Now().UTC()
	hold := domain.NewHold(tier.ID, "buyer-1", 1, now.Add(-20*time.Minute), 10*time.Minute)
	if err := repo.CreateHold(ctx, hold); err != nil {
		t.Fatal(err)
	}

	ok, err := repo.ConfirmPendingHold(ctx, hold.ID, "pay-123", now)
	if err != nil {
		t.Fatal(err)
	}
	if ok {
		t.Error("confirm past the deadline must not apply")
	}

	listed, err := repo.ListExpiredPendingHolds(ctx, now, 10)
	if err != nil {
		t.Fatal(err)
	}
	if len(listed) != 1 || listed[0].ID != hold.ID {
		t.Fatalf("expected the overdue hold listed for the sweeper, got %d rows", len(listed))
	}

	ok, err = repo.TerminatePendingHold(ctx, hold.ID, domain.HoldStateExpired)
	if err != nil || !ok {
		t.Fatalf("expected expiry to apply, ok=%v err=%v", ok, err)
	}
}

func TestRepository_QueuePositionCompaction(t *testing.T) {
	ctx := context.Background()
	repo := crdb.NewRepository(startPool(t))
	eventID := uuid.New()

	var ids []uuid.UUID
	for i := 1; i <= 3; i++ {
		pos := i
		s := domain.AdmissionSession{
			ID:            uuid.New(),
			EventID:       eventID,
			HolderToken:   uuid.NewString(),
			State:         domain.SessionStateWaiting,
			QueuePosition: &pos,
		}
		if err := repo.CreateSession(ctx, s); err != nil {
			t.Fatal(err)
		}
		ids = append(ids, s.ID)
	}

	now := time.Now().UTC()
	ok, err := repo.ActivateSession(ctx, ids[0], now, now.Add(5*time.Minute))
	if err != nil || !ok {
		t.Fatalf("expected activation to apply, ok=%v err=%v", ok, err)
	}

	if err := repo.CompactQueuePositions(ctx, eventID); err != nil {
		t.Fatal(err)
	}

	waiting, err := repo.ListWaitingForPromotion(ctx, eventID, 10)
	if err != nil {
		t.Fatal(err)
	}
	if len(waiting) != 2 {
		t.Fatalf("expected 2 waiting sessions, got %d", len(waiting))
	}
	for i, s := range waiting {
		if s.QueuePosition == nil || *s.QueuePosition != i+1 {
			t.Errorf("expected dense position %d, got %v", i+1, s.QueuePosition)
		}
	}
	if waiting[0].ID != ids[1] || waiting[1].ID != ids[2] {
		t.Error("compaction must preserve arrival order")
	}
}

func TestRepository_QueueConfigRoundTrip(t *testing.T) {
	ctx := context.Background()
	repo := crdb.NewRepository(startPool(t))
	eventID := uuid.New()

	cfg, err := repo.GetQueueConfig(ctx, eventID)
	if err != nil {
		t.Fatal(err)
	}
	if cfg != nil {
		t.Fatalf("expected nil config for unconfigured event, got %+v", cfg)
	}

	want := domain.QueueConfig{
		EventID:            eventID,
		MaxConcurrent:      50,
		ActiveSessionTTL:   3 * time.Minute,
		HoldTTL:            8 * time.Minute,
		PromotionBatchSize: 5,
	}
	if err := repo.UpsertQueueConfig(ctx, want); err != nil {
		t.Fatal(err)
	}

	cfg, err = repo.GetQueueConfig(ctx, eventID)
	if err != nil {
		t.Fatal(err)
	}
	if cfg == nil {
		t.Fatal("expected config after upsert")
	}
	if *cfg != want {
		t.Errorf("config mismatch: got %+v want %+v", *cfg, want)
	}
}
