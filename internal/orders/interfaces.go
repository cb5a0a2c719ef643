package orders

import (
	"context"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/keyhaven/keyhaven-backend/pkg/db/models"
)

// Repository defines persistence operations for the order lifecycle tables.
//
// The conditional mutations (ClaimPaymentRef, MarkCompleted, CancelExpired,
// MarkItemFulfilled) report whether the row was actually changed so callers
// can distinguish winning a transition from losing it to a concurrent writer.
type Repository interface {
	WithTx(tx *gorm.DB) Repository
	CreateOrder(ctx context.Context, order *models.Order) (*models.Order, error)
	CreateOrderItems(ctx context.Context, items []models.OrderItem) error
	FindOrder(ctx context.Context, orderID uuid.UUID) (*models.Order, error)
	LockOrder(ctx context.Context, orderID uuid.UUID) (*models.Order, error)
	FindOrderWithItems(ctx context.Context, orderID uuid.UUID) (*models.Order, error)
	FindOrderItem(ctx context.Context, itemID uuid.UUID) (*models.OrderItem, error)
	FindItemsByOrder(ctx context.Context, orderID uuid.UUID) ([]models.OrderItem, error)
	FindProducts(ctx context.Context, productIDs []uuid.UUID) ([]models.Product, error)
	FindCustomer(ctx context.Context, customerID uuid.UUID) (*models.Customer, error)
	FindExpiredPending(ctx context.Context, cutoff time.Time) ([]models.Order, error)
	ClaimPaymentRef(ctx context.Context, orderID uuid.UUID, ref string) (bool, error)
	ReleasePaymentRef(ctx context.Context, orderID uuid.UUID, ref string) error
	MarkCompleted(ctx context.Context, orderID uuid.UUID, at time.Time) (bool, error)
	CancelExpired(ctx context.Context, orderID uuid.UUID, at time.Time) (bool, error)
	MarkItemFulfilled(ctx context.Context, itemID uuid.UUID, deliveredKey string, at time.Time) (bool, error)
	CountUnfulfilledItems(ctx context.Context, orderID uuid.UUID) (int64, error)
}
