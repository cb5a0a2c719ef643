package models

import (
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/keyhaven/keyhaven-backend/pkg/enums"
)

// OrderItem captures the snapshot of one purchased product line.
//
// DeliveredKey is non-nil exactly when Fulfillment is fulfilled; it is written
// once and never overwritten.
type OrderItem struct {
	ID           uuid.UUID              `gorm:"column:id;type:uuid;default:gen_random_uuid();primaryKey"`
	OrderID      uuid.UUID              `gorm:"column:order_id;type:uuid;not null"`
	ProductID    uuid.UUID              `gorm:"column:product_id;type:uuid;not null"`
	Name         string                 `gorm:"column:name;not null"`
	Qty          int                    `gorm:"column:qty;not null"`
	UnitPrice    decimal.Decimal        `gorm:"column:unit_price;type:numeric(12,2);not null"`
	Digital      bool                   `gorm:"column:digital;not null;default:true"`
	Fulfillment  enums.FulfillmentState `gorm:"column:fulfillment;type:text;not null;default:'unfulfilled'"`
	DeliveredKey *string                `gorm:"column:delivered_key"`
	FulfilledAt  *time.Time             `gorm:"column:fulfilled_at"`
	CreatedAt    time.Time              `gorm:"column:created_at;autoCreateTime"`
	UpdatedAt    time.Time              `gorm:"column:updated_at;autoUpdateTime"`
}

// Subtotal returns the line total (unit price x quantity).
func (i OrderItem) Subtotal() decimal.Decimal {
	return i.UnitPrice.Mul(decimal.NewFromInt(int64(i.Qty)))
}
