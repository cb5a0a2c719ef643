package fulfillment

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"gorm.io/gorm"

	"github.com/keyhaven/keyhaven-backend/internal/orders"
	"github.com/keyhaven/keyhaven-backend/pkg/db/models"
	"github.com/keyhaven/keyhaven-backend/pkg/enums"
	pkgerrors "github.com/keyhaven/keyhaven-backend/pkg/errors"
	"github.com/keyhaven/keyhaven-backend/pkg/metrics"
	"github.com/keyhaven/keyhaven-backend/pkg/outbox"
)

type txRunner interface {
	WithTx(ctx context.Context, fn func(tx *gorm.DB) error) error
}

type outboxPublisher interface {
	Emit(ctx context.Context, tx *gorm.DB, event outbox.DomainEvent) error
}

// FulfillInput carries the delivered key for one order item.
type FulfillInput struct {
	ItemID       uuid.UUID
	DeliveredKey string
	ActorUserID  uuid.UUID
	ActorRole    string
}

// FulfillResult reports the item state and whether this delivery completed
// the whole order.
type FulfillResult struct {
	Item           *models.OrderItem
	OrderCompleted bool
}

// ItemDeliveredEvent is emitted when a license key is recorded for an item.
type ItemDeliveredEvent struct {
	OrderID     uuid.UUID `json:"order_id"`
	ItemID      uuid.UUID `json:"item_id"`
	ProductID   uuid.UUID `json:"product_id"`
	ProductName string    `json:"product_name"`
	CustomerID  uuid.UUID `json:"customer_id"`
}

// OrderCompletedEvent is emitted when the last item of an order is delivered.
type OrderCompletedEvent struct {
	OrderID    uuid.UUID       `json:"order_id"`
	CustomerID uuid.UUID       `json:"customer_id"`
	Total      decimal.Decimal `json:"total"`
	Currency   string          `json:"currency"`
}

// Service records delivered keys and derives order completion.
type Service interface {
	Fulfill(ctx context.Context, input FulfillInput) (*FulfillResult, error)
}

type service struct {
	repo    orders.Repository
	tx      txRunner
	outbox  outboxPublisher
	metrics *metrics.OrderMetrics
}

// NewService builds a fulfillment service with the required dependencies.
// Metrics may be nil.
func NewService(repo orders.Repository, tx txRunner, outbox outboxPublisher, orderMetrics *metrics.OrderMetrics) (Service, error) {
	if repo == nil {
		return nil, fmt.Errorf("orders repository required")
	}
	if tx == nil {
		return nil, fmt.Errorf("transaction runner required")
	}
	if outbox == nil {
		return nil, fmt.Errorf("outbox publisher required")
	}
	return &service{repo: repo, tx: tx, outbox: outbox, metrics: orderMetrics}, nil
}

// Fulfill writes the delivered key once and, in the same transaction,
// rechecks the sibling items to derive order completion. Concurrent
// deliveries touch different item rows and would never conflict on their
// own, so the transaction first locks the parent order row; sibling
// fulfillments of one order serialize there and the recheck only ever sees
// committed sibling state.
func (s *service) Fulfill(ctx context.Context, input FulfillInput) (*FulfillResult, error) {
	if input.ItemID == uuid.Nil {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "order item id required")
	}
	key := strings.TrimSpace(input.DeliveredKey)
	if key == "" {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "delivered key required")
	}

	item, err := s.repo.FindOrderItem(ctx, input.ItemID)
	if err != nil {
		if err == gorm.ErrRecordNotFound {
			return nil, pkgerrors.New(pkgerrors.CodeNotFound, "order item not found")
		}
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "load order item")
	}
	order, err := s.repo.FindOrder(ctx, item.OrderID)
	if err != nil {
		if err == gorm.ErrRecordNotFound {
			return nil, pkgerrors.New(pkgerrors.CodeNotFound, "order not found")
		}
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "load order")
	}

	if order.Status == enums.OrderStatusCancelled {
		return nil, pkgerrors.New(pkgerrors.CodeStateConflict, "order is cancelled")
	}
	if !order.Paid() {
		return nil, pkgerrors.New(pkgerrors.CodeStateConflict, "order payment not confirmed")
	}
	if item.Fulfillment == enums.FulfillmentStateFulfilled || item.DeliveredKey != nil {
		return nil, pkgerrors.New(pkgerrors.CodeConflict, "item already fulfilled")
	}

	now := time.Now().UTC()
	result := &FulfillResult{Item: item}
	err = s.tx.WithTx(ctx, func(tx *gorm.DB) error {
		repo := s.repo.WithTx(tx)

		locked, err := repo.LockOrder(ctx, order.ID)
		if err != nil {
			return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "lock order")
		}
		// The pre-transaction reads may be stale by now.
		if locked.Status == enums.OrderStatusCancelled {
			return pkgerrors.New(pkgerrors.CodeStateConflict, "order is cancelled")
		}
		if !locked.Paid() {
			return pkgerrors.New(pkgerrors.CodeStateConflict, "order payment not confirmed")
		}
		order = locked

		done, err := repo.MarkItemFulfilled(ctx, item.ID, key, now)
		if err != nil {
			return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "record delivered key")
		}
		if !done {
			return pkgerrors.New(pkgerrors.CodeConflict, "item already fulfilled")
		}
		item.Fulfillment = enums.FulfillmentStateFulfilled
		item.DeliveredKey = &key
		item.FulfilledAt = &now

		event := outbox.DomainEvent{
			EventType:     enums.EventItemDelivered,
			AggregateType: enums.AggregateOrderItem,
			AggregateID:   item.ID,
			Version:       1,
			Actor:         buildActor(input.ActorUserID, input.ActorRole),
			Data: ItemDeliveredEvent{
				OrderID:     order.ID,
				ItemID:      item.ID,
				ProductID:   item.ProductID,
				ProductName: item.Name,
				CustomerID:  order.CustomerID,
			},
		}
		if err := s.outbox.Emit(ctx, tx, event); err != nil {
			return err
		}

		remaining, err := repo.CountUnfulfilledItems(ctx, order.ID)
		if err != nil {
			return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "recheck sibling items")
		}
		if remaining > 0 {
			return nil
		}

		completed, err := repo.MarkCompleted(ctx, order.ID, now)
		if err != nil {
			return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "complete order")
		}
		if !completed {
			return nil
		}
		result.OrderCompleted = true
		return s.outbox.Emit(ctx, tx, outbox.DomainEvent{
			EventType:     enums.EventOrderCompleted,
			AggregateType: enums.AggregateOrder,
			AggregateID:   order.ID,
			Version:       1,
			Actor:         buildActor(input.ActorUserID, input.ActorRole),
			Data: OrderCompletedEvent{
				OrderID:    order.ID,
				CustomerID: order.CustomerID,
				Total:      order.Total,
				Currency:   order.Currency,
			},
		})
	})
	if err != nil {
		return nil, err
	}
	s.metrics.IncFulfilled()
	return result, nil
}

func buildActor(userID uuid.UUID, role string) *outbox.ActorRef {
	if userID == uuid.Nil {
		return nil
	}
	return &outbox.ActorRef{UserID: userID, Role: role}
}
