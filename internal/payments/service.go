package payments

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"gorm.io/gorm"

	"github.com/keyhaven/keyhaven-backend/internal/orders"
	"github.com/keyhaven/keyhaven-backend/pkg/db"
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

// CaptureInput identifies the order and the client-confirmed gateway reference.
type CaptureInput struct {
	OrderID     uuid.UUID
	GatewayRef  string
	ActorUserID uuid.UUID
	ActorRole   string
}

// OrderReceivedEvent is emitted once payment is confirmed for an order.
type OrderReceivedEvent struct {
	OrderID       uuid.UUID           `json:"order_id"`
	CustomerID    uuid.UUID           `json:"customer_id"`
	Total         decimal.Decimal     `json:"total"`
	Currency      string              `json:"currency"`
	PaymentMethod enums.PaymentMethod `json:"payment_method"`
	PaymentRef    *string             `json:"payment_ref,omitempty"`
	ItemCount     int                 `json:"item_count"`
}

// Service prepares and captures payment for an order at most once.
type Service interface {
	CreateIntent(ctx context.Context, orderID uuid.UUID) (string, error)
	Capture(ctx context.Context, input CaptureInput) (*models.Order, error)
}

type service struct {
	repo    orders.Repository
	tx      txRunner
	outbox  outboxPublisher
	gateway Gateway
	metrics *metrics.OrderMetrics
}

// NewService builds a capture service with the required dependencies. Metrics
// may be nil.
func NewService(repo orders.Repository, tx txRunner, outbox outboxPublisher, gateway Gateway, orderMetrics *metrics.OrderMetrics) (Service, error) {
	if repo == nil {
		return nil, fmt.Errorf("orders repository required")
	}
	if tx == nil {
		return nil, fmt.Errorf("transaction runner required")
	}
	if outbox == nil {
		return nil, fmt.Errorf("outbox publisher required")
	}
	if gateway == nil {
		return nil, fmt.Errorf("payment gateway required")
	}
	return &service{
		repo:    repo,
		tx:      tx,
		outbox:  outbox,
		gateway: gateway,
		metrics: orderMetrics,
	}, nil
}

// CreateIntent asks the gateway for a payment intent covering the order
// total. The client confirms the returned intent and then calls Capture with
// the resulting reference. The gateway call carries a per-order idempotency
// key, so a retried create resolves to the same intent.
func (s *service) CreateIntent(ctx context.Context, orderID uuid.UUID) (string, error) {
	if orderID == uuid.Nil {
		return "", pkgerrors.New(pkgerrors.CodeValidation, "order id required")
	}

	order, err := s.repo.FindOrder(ctx, orderID)
	if err != nil {
		if err == gorm.ErrRecordNotFound {
			return "", pkgerrors.New(pkgerrors.CodeNotFound, "order not found")
		}
		return "", pkgerrors.Wrap(pkgerrors.CodeDependency, err, "load order")
	}

	if order.PaymentMethod != enums.PaymentMethodGateway {
		return "", pkgerrors.New(pkgerrors.CodeValidation, "order payment method does not use the gateway")
	}
	switch {
	case order.Status == enums.OrderStatusCancelled:
		return "", pkgerrors.New(pkgerrors.CodeStateConflict, "order is cancelled")
	case order.Status == enums.OrderStatusCompleted, order.PaymentRef != nil:
		return "", pkgerrors.New(pkgerrors.CodeStateConflict, "payment already confirmed")
	}

	intentID, err := s.gateway.CreateIntent(ctx, order.Total, order.Currency, order.ID.String())
	if err != nil {
		if typed := pkgerrors.As(err); typed != nil {
			return "", err
		}
		return "", pkgerrors.Wrap(pkgerrors.CodeDependency, err, "create payment intent")
	}
	return intentID, nil
}

// Capture transitions a pending order to its paid state.
//
// The payment reference is claimed with a conditional update before the
// gateway is called, so two concurrent captures for the same order can never
// both reach the gateway; the loser observes the already-set reference and
// takes the idempotent success path. A declined capture releases the claim
// and leaves the order untouched.
func (s *service) Capture(ctx context.Context, input CaptureInput) (*models.Order, error) {
	if input.OrderID == uuid.Nil {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "order id required")
	}

	order, err := s.repo.FindOrder(ctx, input.OrderID)
	if err != nil {
		if err == gorm.ErrRecordNotFound {
			return nil, pkgerrors.New(pkgerrors.CodeNotFound, "order not found")
		}
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "load order")
	}

	switch {
	case order.Status == enums.OrderStatusCancelled:
		return nil, pkgerrors.New(pkgerrors.CodeStateConflict, "order is cancelled")
	case order.Status == enums.OrderStatusCompleted:
		// Retried capture on a settled order is a no-op success.
		return order, nil
	case order.PaymentRef != nil:
		// Already paid and awaiting fulfillment.
		return order, nil
	}

	if order.PaymentMethod == enums.PaymentMethodCash {
		return s.captureCash(ctx, order, input)
	}
	return s.captureGateway(ctx, order, input)
}

func (s *service) captureCash(ctx context.Context, order *models.Order, input CaptureInput) (*models.Order, error) {
	now := time.Now().UTC()
	err := s.tx.WithTx(ctx, func(tx *gorm.DB) error {
		repo := s.repo.WithTx(tx)
		done, err := repo.MarkCompleted(ctx, order.ID, now)
		if err != nil {
			return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "complete cash order")
		}
		if !done {
			return pkgerrors.New(pkgerrors.CodeStateConflict, "capture not allowed in current state")
		}
		order.Status = enums.OrderStatusCompleted
		order.CompletedAt = &now
		return s.outbox.Emit(ctx, tx, s.receivedEvent(order, input, 0))
	})
	if err != nil {
		return nil, err
	}
	s.metrics.IncCaptured(order.PaymentMethod.String())
	return order, nil
}

func (s *service) captureGateway(ctx context.Context, order *models.Order, input CaptureInput) (*models.Order, error) {
	ref := strings.TrimSpace(input.GatewayRef)
	if ref == "" {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "payment reference required")
	}

	claimed, err := s.repo.ClaimPaymentRef(ctx, order.ID, ref)
	if err != nil {
		// ux_orders_payment_ref keeps one reference bound to one order.
		if db.IsUniqueViolation(err, "ux_orders_payment_ref") {
			return nil, pkgerrors.Wrap(pkgerrors.CodeConflict, err, "payment reference already used by another order")
		}
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "claim payment reference")
	}
	if !claimed {
		// A concurrent capture or the sweeper won the row.
		current, err := s.repo.FindOrder(ctx, order.ID)
		if err != nil {
			return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "reload order")
		}
		if current.Status == enums.OrderStatusCancelled {
			return nil, pkgerrors.New(pkgerrors.CodeStateConflict, "order is cancelled")
		}
		return current, nil
	}

	result, err := s.gateway.Capture(ctx, ref)
	if err != nil {
		if relErr := s.repo.ReleasePaymentRef(ctx, order.ID, ref); relErr != nil {
			return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, relErr, "release payment claim")
		}
		if typed := pkgerrors.As(err); typed != nil {
			return nil, err
		}
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "gateway capture")
	}
	if result.Status != CaptureStatusCompleted {
		if relErr := s.repo.ReleasePaymentRef(ctx, order.ID, ref); relErr != nil {
			return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, relErr, "release payment claim")
		}
		return nil, pkgerrors.New(pkgerrors.CodePaymentNotCompleted, "gateway reports payment not completed")
	}

	items, err := s.repo.FindItemsByOrder(ctx, order.ID)
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "load order items")
	}
	digital := 0
	for _, item := range items {
		if item.Digital {
			digital++
		}
	}

	order.PaymentRef = &ref
	now := time.Now().UTC()
	err = s.tx.WithTx(ctx, func(tx *gorm.DB) error {
		repo := s.repo.WithTx(tx)
		if digital == 0 {
			done, err := repo.MarkCompleted(ctx, order.ID, now)
			if err != nil {
				return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "complete order")
			}
			if !done {
				return pkgerrors.New(pkgerrors.CodeStateConflict, "capture not allowed in current state")
			}
			order.Status = enums.OrderStatusCompleted
			order.CompletedAt = &now
		}
		return s.outbox.Emit(ctx, tx, s.receivedEvent(order, input, len(items)))
	})
	if err != nil {
		return nil, err
	}
	s.metrics.IncCaptured(order.PaymentMethod.String())
	return order, nil
}

func (s *service) receivedEvent(order *models.Order, input CaptureInput, itemCount int) outbox.DomainEvent {
	return outbox.DomainEvent{
		EventType:     enums.EventOrderReceived,
		AggregateType: enums.AggregateOrder,
		AggregateID:   order.ID,
		Version:       1,
		Actor:         buildActor(input.ActorUserID, input.ActorRole),
		Data: OrderReceivedEvent{
			OrderID:       order.ID,
			CustomerID:    order.CustomerID,
			Total:         order.Total,
			Currency:      order.Currency,
			PaymentMethod: order.PaymentMethod,
			PaymentRef:    order.PaymentRef,
			ItemCount:     itemCount,
		},
	}
}

func buildActor(userID uuid.UUID, role string) *outbox.ActorRef {
	if userID == uuid.Nil {
		return nil
	}
	return &outbox.ActorRef{UserID: userID, Role: role}
}
