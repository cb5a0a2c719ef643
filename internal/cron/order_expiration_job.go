package cron

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"go.uber.org/multierr"
	"gorm.io/gorm"

	"github.com/keyhaven/keyhaven-backend/internal/orders"
	"github.com/keyhaven/keyhaven-backend/pkg/db/models"
	"github.com/keyhaven/keyhaven-backend/pkg/enums"
	"github.com/keyhaven/keyhaven-backend/pkg/logger"
	"github.com/keyhaven/keyhaven-backend/pkg/metrics"
	"github.com/keyhaven/keyhaven-backend/pkg/outbox"
)

const defaultPendingTimeout = 10 * time.Minute

type txRunner interface {
	WithTx(ctx context.Context, fn func(tx *gorm.DB) error) error
}

type outboxEmitter interface {
	Emit(ctx context.Context, tx *gorm.DB, event outbox.DomainEvent) error
}

type expirationRepo interface {
	FindExpiredPending(ctx context.Context, cutoff time.Time) ([]models.Order, error)
	CancelExpired(ctx context.Context, orderID uuid.UUID, at time.Time) (bool, error)
}

type expirationRepoFactory func(tx *gorm.DB) expirationRepo

// OrderExpirationJobParams configure the stale order sweeper.
type OrderExpirationJobParams struct {
	Logger         *logger.Logger
	DB             txRunner
	Reader         expirationRepo
	Outbox         outboxEmitter
	Metrics        *metrics.OrderMetrics
	PendingTimeout time.Duration
	TxRepoFactory  expirationRepoFactory
}

// OrderCancelledEvent describes the payload when an unpaid order expires.
type OrderCancelledEvent struct {
	OrderID     uuid.UUID       `json:"order_id"`
	CustomerID  uuid.UUID       `json:"customer_id"`
	Total       decimal.Decimal `json:"total"`
	Currency    string          `json:"currency"`
	CancelledAt time.Time       `json:"cancelled_at"`
}

// NewOrderExpirationJob builds the cron job that cancels unpaid orders past
// the pending timeout.
func NewOrderExpirationJob(params OrderExpirationJobParams) (Job, error) {
	if params.Logger == nil {
		return nil, fmt.Errorf("logger required")
	}
	if params.DB == nil {
		return nil, fmt.Errorf("db runner required")
	}
	if params.Reader == nil {
		return nil, fmt.Errorf("orders reader required")
	}
	if params.Outbox == nil {
		return nil, fmt.Errorf("outbox service required")
	}
	timeout := params.PendingTimeout
	if timeout <= 0 {
		timeout = defaultPendingTimeout
	}
	factory := params.TxRepoFactory
	if factory == nil {
		factory = defaultExpirationRepo
	}
	return &orderExpirationJob{
		logg:          params.Logger,
		db:            params.DB,
		reader:        params.Reader,
		outbox:        params.Outbox,
		metrics:       params.Metrics,
		timeout:       timeout,
		txRepoFactory: factory,
		now:           time.Now,
	}, nil
}

func defaultExpirationRepo(tx *gorm.DB) expirationRepo {
	return orders.NewRepository(tx)
}

type orderExpirationJob struct {
	logg          *logger.Logger
	db            txRunner
	reader        expirationRepo
	outbox        outboxEmitter
	metrics       *metrics.OrderMetrics
	timeout       time.Duration
	txRepoFactory expirationRepoFactory
	now           func() time.Time
}

func (j *orderExpirationJob) Name() string { return "order-expiration" }

// Run sweeps pending orders with no payment reference created before the
// cutoff. Each order is cancelled by its own conditional update so a sweep
// racing a concurrent capture produces exactly one winner per order.
func (j *orderExpirationJob) Run(ctx context.Context) error {
	_, err := j.Sweep(ctx)
	return err
}

// Sweep cancels stale unpaid orders and returns how many were cancelled.
func (j *orderExpirationJob) Sweep(ctx context.Context) (int, error) {
	cutoff := j.now().UTC().Add(-j.timeout)
	stale, err := j.reader.FindExpiredPending(ctx, cutoff)
	if err != nil {
		return 0, fmt.Errorf("query expired pending orders: %w", err)
	}

	cancelled := 0
	var errs []error
	for _, order := range stale {
		won, err := j.expireOrder(ctx, order)
		if err != nil {
			errs = append(errs, err)
			continue
		}
		if won {
			cancelled++
		}
	}

	j.metrics.AddExpired(cancelled)
	logCtx := j.logg.WithFields(ctx, map[string]any{
		"cutoff":     cutoff,
		"candidates": len(stale),
		"cancelled":  cancelled,
	})
	j.logg.Info(logCtx, "order expiration sweep complete")
	return cancelled, multierr.Combine(errs...)
}

func (j *orderExpirationJob) expireOrder(ctx context.Context, order models.Order) (bool, error) {
	now := j.now().UTC()
	won := false
	err := j.db.WithTx(ctx, func(tx *gorm.DB) error {
		repo := j.txRepo(tx)
		ok, err := repo.CancelExpired(ctx, order.ID, now)
		if err != nil {
			return fmt.Errorf("cancel order %s: %w", order.ID, err)
		}
		if !ok {
			// A capture got there first.
			return nil
		}
		won = true
		event := outbox.DomainEvent{
			EventType:     enums.EventOrderCancelled,
			AggregateType: enums.AggregateOrder,
			AggregateID:   order.ID,
			Version:       1,
			OccurredAt:    now,
			Data: OrderCancelledEvent{
				OrderID:     order.ID,
				CustomerID:  order.CustomerID,
				Total:       order.Total,
				Currency:    order.Currency,
				CancelledAt: now,
			},
		}
		return j.outbox.Emit(ctx, tx, event)
	})
	if err != nil {
		return false, err
	}
	return won, nil
}

func (j *orderExpirationJob) txRepo(tx *gorm.DB) expirationRepo {
	return j.txRepoFactory(tx)
}
