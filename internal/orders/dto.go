package orders

import (
	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/keyhaven/keyhaven-backend/pkg/enums"
)

// CartLine is one (product, quantity) pair submitted at checkout.
type CartLine struct {
	ProductID uuid.UUID
	Qty       int
}

// CreateOrderInput carries everything needed to open a pending order.
type CreateOrderInput struct {
	CustomerID    uuid.UUID
	PaymentMethod enums.PaymentMethod
	Lines         []CartLine
	ActorUserID   uuid.UUID
	ActorRole     string
}

// OrderCreatedEvent is the outbox payload emitted when an order is opened.
type OrderCreatedEvent struct {
	OrderID       uuid.UUID           `json:"order_id"`
	CustomerID    uuid.UUID           `json:"customer_id"`
	Total         decimal.Decimal     `json:"total"`
	Currency      string              `json:"currency"`
	PaymentMethod enums.PaymentMethod `json:"payment_method"`
	ItemCount     int                 `json:"item_count"`
}
