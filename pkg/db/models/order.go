package models

import (
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/keyhaven/keyhaven-backend/pkg/enums"
)

// Order is a customer purchase of one or more license keys.
//
// Total is computed once at creation from the item snapshots and never
// recomputed, even when catalog prices change later. PaymentRef is set exactly
// once by the capture handler; a pending order with a non-nil PaymentRef is
// paid and awaiting fulfillment.
type Order struct {
	ID            uuid.UUID           `gorm:"column:id;type:uuid;default:gen_random_uuid();primaryKey"`
	CustomerID    uuid.UUID           `gorm:"column:customer_id;type:uuid;not null"`
	Status        enums.OrderStatus   `gorm:"column:status;type:text;not null;default:'pending'"`
	Total         decimal.Decimal     `gorm:"column:total;type:numeric(12,2);not null"`
	Currency      string              `gorm:"column:currency;type:text;not null;default:'USD'"`
	PaymentMethod enums.PaymentMethod `gorm:"column:payment_method;type:text;not null;default:'gateway'"`
	PaymentRef    *string             `gorm:"column:payment_ref"`
	CompletedAt   *time.Time          `gorm:"column:completed_at"`
	CancelledAt   *time.Time          `gorm:"column:cancelled_at"`
	Items         []OrderItem         `gorm:"foreignKey:OrderID;constraint:OnDelete:CASCADE"`
	CreatedAt     time.Time           `gorm:"column:created_at;autoCreateTime"`
	UpdatedAt     time.Time           `gorm:"column:updated_at;autoUpdateTime"`
}

// Paid reports whether payment has been confirmed for the order.
func (o Order) Paid() bool {
	if o.Status == enums.OrderStatusCompleted {
		return true
	}
	return o.Status == enums.OrderStatusPending && o.PaymentRef != nil
}
