package cron

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"gorm.io/gorm"

	"github.com/keyhaven/keyhaven-backend/pkg/db/models"
	"github.com/keyhaven/keyhaven-backend/pkg/enums"
	"github.com/keyhaven/keyhaven-backend/pkg/logger"
	"github.com/keyhaven/keyhaven-backend/pkg/outbox"
)

type fakeExpirationRepo struct {
	stale      []models.Order
	findErr    error
	winners    map[uuid.UUID]bool
	lastCutoff time.Time
	cancels    int
}

func (f *fakeExpirationRepo) FindExpiredPending(ctx context.Context, cutoff time.Time) ([]models.Order, error) {
	f.lastCutoff = cutoff
	if f.findErr != nil {
		return nil, f.findErr
	}
	return f.stale, nil
}

func (f *fakeExpirationRepo) CancelExpired(ctx context.Context, orderID uuid.UUID, at time.Time) (bool, error) {
	f.cancels++
	return f.winners[orderID], nil
}

type fakeTxRunner struct{}

func (fakeTxRunner) WithTx(ctx context.Context, fn func(tx *gorm.DB) error) error {
	return fn(&gorm.DB{})
}

type fakeOutbox struct {
	events []outbox.DomainEvent
	err    error
}

func (f *fakeOutbox) Emit(ctx context.Context, tx *gorm.DB, event outbox.DomainEvent) error {
	if f.err != nil {
		return f.err
	}
	f.events = append(f.events, event)
	return nil
}

func staleOrder() models.Order {
	return models.Order{
		ID:         uuid.New(),
		CustomerID: uuid.New(),
		Status:     enums.OrderStatusPending,
		Total:      decimal.RequireFromString("15.00"),
		Currency:   "USD",
		CreatedAt:  time.Now().UTC().Add(-time.Hour),
	}
}

func newExpirationJob(t *testing.T, repo *fakeExpirationRepo, ob *fakeOutbox) *orderExpirationJob {
	t.Helper()

	jobIface, err := NewOrderExpirationJob(OrderExpirationJobParams{
		Logger:         logger.New(logger.Options{ServiceName: "cron-test"}),
		DB:             fakeTxRunner{},
		Reader:         repo,
		Outbox:         ob,
		PendingTimeout: 10 * time.Minute,
		TxRepoFactory:  func(tx *gorm.DB) expirationRepo { return repo },
	})
	if err != nil {
		t.Fatalf("NewOrderExpirationJob: %v", err)
	}
	job, ok := jobIface.(*orderExpirationJob)
	if !ok {
		t.Fatalf("expected orderExpirationJob, got %T", jobIface)
	}
	return job
}

func TestOrderExpirationJobCancelsStaleOrders(t *testing.T) {
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	first := staleOrder()
	second := staleOrder()
	repo := &fakeExpirationRepo{
		stale:   []models.Order{first, second},
		winners: map[uuid.UUID]bool{first.ID: true, second.ID: true},
	}
	ob := &fakeOutbox{}
	job := newExpirationJob(t, repo, ob)
	job.now = func() time.Time { return now }

	count, err := job.Sweep(context.Background())
	if err != nil {
		t.Fatalf("Sweep: %v", err)
	}
	if count != 2 {
		t.Fatalf("expected 2 cancelled, got %d", count)
	}
	expectedCutoff := now.UTC().Add(-10 * time.Minute)
	if !repo.lastCutoff.Equal(expectedCutoff) {
		t.Fatalf("expected cutoff %s, got %s", expectedCutoff, repo.lastCutoff)
	}
	if len(ob.events) != 2 {
		t.Fatalf("expected 2 events, got %d", len(ob.events))
	}
	for _, event := range ob.events {
		if event.EventType != enums.EventOrderCancelled {
			t.Fatalf("unexpected event type %s", event.EventType)
		}
	}
}

func TestOrderExpirationJobSkipsRaceLosers(t *testing.T) {
	captured := staleOrder()
	expired := staleOrder()
	repo := &fakeExpirationRepo{
		stale:   []models.Order{captured, expired},
		winners: map[uuid.UUID]bool{expired.ID: true},
	}
	ob := &fakeOutbox{}
	job := newExpirationJob(t, repo, ob)

	count, err := job.Sweep(context.Background())
	if err != nil {
		t.Fatalf("Sweep: %v", err)
	}
	if count != 1 {
		t.Fatalf("expected 1 cancelled, got %d", count)
	}
	if repo.cancels != 2 {
		t.Fatalf("expected 2 conditional attempts, got %d", repo.cancels)
	}
	if len(ob.events) != 1 {
		t.Fatalf("expected 1 event, got %d", len(ob.events))
	}
	if ob.events[0].AggregateID != expired.ID {
		t.Fatalf("event emitted for wrong order")
	}
}

func TestOrderExpirationJobPropagatesQueryError(t *testing.T) {
	repo := &fakeExpirationRepo{findErr: errors.New("boom")}
	job := newExpirationJob(t, repo, &fakeOutbox{})

	if _, err := job.Sweep(context.Background()); err == nil {
		t.Fatal("expected error")
	}
}

func TestOrderExpirationJobCollectsPerOrderErrors(t *testing.T) {
	stale := staleOrder()
	repo := &fakeExpirationRepo{
		stale:   []models.Order{stale},
		winners: map[uuid.UUID]bool{stale.ID: true},
	}
	ob := &fakeOutbox{err: errors.New("outbox down")}
	job := newExpirationJob(t, repo, ob)

	count, err := job.Sweep(context.Background())
	if err == nil {
		t.Fatal("expected error")
	}
	if count != 0 {
		t.Fatalf("expected 0 cancelled on failed tx, got %d", count)
	}
}
