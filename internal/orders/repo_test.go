package orders

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"

	"github.com/keyhaven/keyhaven-backend/pkg/db/models"
	"github.com/keyhaven/keyhaven-backend/pkg/enums"
)

func setupOrdersTestDB(t *testing.T) *gorm.DB {
	t.Helper()

	db, err := gorm.Open(sqlite.Open("file::memory:"), &gorm.Config{})
	require.NoError(t, err)

	customers := `
CREATE TABLE IF NOT EXISTS customers (
  id TEXT PRIMARY KEY,
  email TEXT NOT NULL,
  name TEXT NOT NULL,
  created_at DATETIME,
  updated_at DATETIME
);`
	products := `
CREATE TABLE IF NOT EXISTS products (
  id TEXT PRIMARY KEY,
  name TEXT NOT NULL,
  price TEXT NOT NULL,
  digital INTEGER NOT NULL DEFAULT 1,
  is_active INTEGER NOT NULL DEFAULT 1,
  created_at DATETIME,
  updated_at DATETIME
);`
	orders := `
CREATE TABLE IF NOT EXISTS orders (
  id TEXT PRIMARY KEY,
  customer_id TEXT NOT NULL,
  status TEXT NOT NULL DEFAULT 'pending',
  total TEXT NOT NULL,
  currency TEXT NOT NULL DEFAULT 'USD',
  payment_method TEXT NOT NULL DEFAULT 'gateway',
  payment_ref TEXT,
  completed_at DATETIME,
  cancelled_at DATETIME,
  created_at DATETIME,
  updated_at DATETIME
);`
	orderItems := `
CREATE TABLE IF NOT EXISTS order_items (
  id TEXT PRIMARY KEY,
  order_id TEXT NOT NULL,
  product_id TEXT NOT NULL,
  name TEXT NOT NULL,
  qty INTEGER NOT NULL,
  unit_price TEXT NOT NULL,
  digital INTEGER NOT NULL DEFAULT 1,
  fulfillment TEXT NOT NULL DEFAULT 'unfulfilled',
  delivered_key TEXT,
  fulfilled_at DATETIME,
  created_at DATETIME,
  updated_at DATETIME
);`
	require.NoError(t, db.Exec(customers).Error)
	require.NoError(t, db.Exec(products).Error)
	require.NoError(t, db.Exec(orders).Error)
	require.NoError(t, db.Exec(orderItems).Error)
	return db
}

func newCustomer(t *testing.T, db *gorm.DB) *models.Customer {
	t.Helper()

	customer := &models.Customer{
		ID:    uuid.New(),
		Email: "buyer@example.com",
		Name:  "Buyer One",
	}
	require.NoError(t, db.Create(customer).Error)
	return customer
}

func newOrder(t *testing.T, db *gorm.DB, customer *models.Customer, status enums.OrderStatus, ref *string, created time.Time) *models.Order {
	t.Helper()

	order := &models.Order{
		ID:            uuid.New(),
		CustomerID:    customer.ID,
		Status:        status,
		Total:         decimal.RequireFromString("20.00"),
		Currency:      "USD",
		PaymentMethod: enums.PaymentMethodGateway,
		PaymentRef:    ref,
		CreatedAt:     created,
		UpdatedAt:     created,
	}
	require.NoError(t, db.Create(order).Error)
	return order
}

func newItem(t *testing.T, db *gorm.DB, order *models.Order, state enums.FulfillmentState) *models.OrderItem {
	t.Helper()

	item := &models.OrderItem{
		ID:          uuid.New(),
		OrderID:     order.ID,
		ProductID:   uuid.New(),
		Name:        "License Key",
		Qty:         1,
		UnitPrice:   decimal.RequireFromString("10.00"),
		Digital:     true,
		Fulfillment: state,
	}
	if state == enums.FulfillmentStateFulfilled {
		key := "FULFILLED-KEY"
		now := time.Now().UTC()
		item.DeliveredKey = &key
		item.FulfilledAt = &now
	}
	require.NoError(t, db.Create(item).Error)
	return item
}

func TestRepositoryClaimPaymentRef(t *testing.T) {
	db := setupOrdersTestDB(t)
	repo := NewRepository(db)
	ctx := context.Background()

	customer := newCustomer(t, db)
	order := newOrder(t, db, customer, enums.OrderStatusPending, nil, time.Now().UTC())

	claimed, err := repo.ClaimPaymentRef(ctx, order.ID, "sq-payment-1")
	require.NoError(t, err)
	assert.True(t, claimed)

	// Second claim loses because the reference is already set.
	claimed, err = repo.ClaimPaymentRef(ctx, order.ID, "sq-payment-2")
	require.NoError(t, err)
	assert.False(t, claimed)

	got, err := repo.FindOrder(ctx, order.ID)
	require.NoError(t, err)
	require.NotNil(t, got.PaymentRef)
	assert.Equal(t, "sq-payment-1", *got.PaymentRef)
}

func TestRepositoryReleasePaymentRef(t *testing.T) {
	db := setupOrdersTestDB(t)
	repo := NewRepository(db)
	ctx := context.Background()

	customer := newCustomer(t, db)
	order := newOrder(t, db, customer, enums.OrderStatusPending, nil, time.Now().UTC())

	claimed, err := repo.ClaimPaymentRef(ctx, order.ID, "sq-declined")
	require.NoError(t, err)
	require.True(t, claimed)

	require.NoError(t, repo.ReleasePaymentRef(ctx, order.ID, "sq-declined"))

	got, err := repo.FindOrder(ctx, order.ID)
	require.NoError(t, err)
	assert.Nil(t, got.PaymentRef)

	// The order is claimable again after release.
	claimed, err = repo.ClaimPaymentRef(ctx, order.ID, "sq-retry")
	require.NoError(t, err)
	assert.True(t, claimed)
}

func TestRepositoryMarkCompleted(t *testing.T) {
	db := setupOrdersTestDB(t)
	repo := NewRepository(db)
	ctx := context.Background()

	customer := newCustomer(t, db)
	order := newOrder(t, db, customer, enums.OrderStatusPending, nil, time.Now().UTC())

	done, err := repo.MarkCompleted(ctx, order.ID, time.Now().UTC())
	require.NoError(t, err)
	assert.True(t, done)

	// Already terminal, the conditional update is a no-op.
	done, err = repo.MarkCompleted(ctx, order.ID, time.Now().UTC())
	require.NoError(t, err)
	assert.False(t, done)

	got, err := repo.FindOrder(ctx, order.ID)
	require.NoError(t, err)
	assert.Equal(t, enums.OrderStatusCompleted, got.Status)
	assert.NotNil(t, got.CompletedAt)
}

func TestRepositoryCancelExpired(t *testing.T) {
	db := setupOrdersTestDB(t)
	repo := NewRepository(db)
	ctx := context.Background()

	customer := newCustomer(t, db)
	stale := newOrder(t, db, customer, enums.OrderStatusPending, nil, time.Now().UTC().Add(-time.Hour))
	ref := "sq-paid"
	paid := newOrder(t, db, customer, enums.OrderStatusPending, &ref, time.Now().UTC().Add(-time.Hour))

	cancelled, err := repo.CancelExpired(ctx, stale.ID, time.Now().UTC())
	require.NoError(t, err)
	assert.True(t, cancelled)

	// Referenced orders are never swept.
	cancelled, err = repo.CancelExpired(ctx, paid.ID, time.Now().UTC())
	require.NoError(t, err)
	assert.False(t, cancelled)

	got, err := repo.FindOrder(ctx, paid.ID)
	require.NoError(t, err)
	assert.Equal(t, enums.OrderStatusPending, got.Status)
}

func TestRepositoryFindExpiredPending(t *testing.T) {
	db := setupOrdersTestDB(t)
	repo := NewRepository(db)
	ctx := context.Background()

	customer := newCustomer(t, db)
	now := time.Now().UTC()
	stale := newOrder(t, db, customer, enums.OrderStatusPending, nil, now.Add(-30*time.Minute))
	newOrder(t, db, customer, enums.OrderStatusPending, nil, now.Add(-time.Minute))
	ref := "sq-ref"
	newOrder(t, db, customer, enums.OrderStatusPending, &ref, now.Add(-30*time.Minute))
	newOrder(t, db, customer, enums.OrderStatusCancelled, nil, now.Add(-30*time.Minute))

	expired, err := repo.FindExpiredPending(ctx, now.Add(-10*time.Minute))
	require.NoError(t, err)
	require.Len(t, expired, 1)
	assert.Equal(t, stale.ID, expired[0].ID)
}

func TestRepositoryMarkItemFulfilled(t *testing.T) {
	db := setupOrdersTestDB(t)
	repo := NewRepository(db)
	ctx := context.Background()

	customer := newCustomer(t, db)
	ref := "sq-paid"
	order := newOrder(t, db, customer, enums.OrderStatusPending, &ref, time.Now().UTC())
	item := newItem(t, db, order, enums.FulfillmentStateUnfulfilled)

	done, err := repo.MarkItemFulfilled(ctx, item.ID, "KEY-AAAA-BBBB", time.Now().UTC())
	require.NoError(t, err)
	assert.True(t, done)

	// Second delivery must not overwrite the stored key.
	done, err = repo.MarkItemFulfilled(ctx, item.ID, "KEY-OTHER", time.Now().UTC())
	require.NoError(t, err)
	assert.False(t, done)

	got, err := repo.FindOrderItem(ctx, item.ID)
	require.NoError(t, err)
	assert.Equal(t, enums.FulfillmentStateFulfilled, got.Fulfillment)
	require.NotNil(t, got.DeliveredKey)
	assert.Equal(t, "KEY-AAAA-BBBB", *got.DeliveredKey)
}

func TestRepositoryCountUnfulfilledItems(t *testing.T) {
	db := setupOrdersTestDB(t)
	repo := NewRepository(db)
	ctx := context.Background()

	customer := newCustomer(t, db)
	ref := "sq-paid"
	order := newOrder(t, db, customer, enums.OrderStatusPending, &ref, time.Now().UTC())
	newItem(t, db, order, enums.FulfillmentStateFulfilled)
	pending := newItem(t, db, order, enums.FulfillmentStateUnfulfilled)

	count, err := repo.CountUnfulfilledItems(ctx, order.ID)
	require.NoError(t, err)
	assert.Equal(t, int64(1), count)

	done, err := repo.MarkItemFulfilled(ctx, pending.ID, "KEY-LAST", time.Now().UTC())
	require.NoError(t, err)
	require.True(t, done)

	count, err = repo.CountUnfulfilledItems(ctx, order.ID)
	require.NoError(t, err)
	assert.Equal(t, int64(0), count)
}

func TestRepositoryFindOrderWithItems(t *testing.T) {
	db := setupOrdersTestDB(t)
	repo := NewRepository(db)
	ctx := context.Background()

	customer := newCustomer(t, db)
	order := newOrder(t, db, customer, enums.OrderStatusPending, nil, time.Now().UTC())
	newItem(t, db, order, enums.FulfillmentStateUnfulfilled)
	newItem(t, db, order, enums.FulfillmentStateUnfulfilled)

	got, err := repo.FindOrderWithItems(ctx, order.ID)
	require.NoError(t, err)
	assert.Len(t, got.Items, 2)

	_, err = repo.FindOrderWithItems(ctx, uuid.New())
	assert.ErrorIs(t, err, gorm.ErrRecordNotFound)
}

func TestRepositoryLockOrder(t *testing.T) {
	db := setupOrdersTestDB(t)
	repo := NewRepository(db)
	ctx := context.Background()

	customer := newCustomer(t, db)
	order := newOrder(t, db, customer, enums.OrderStatusPending, nil, time.Now().UTC())

	err := db.Transaction(func(tx *gorm.DB) error {
		locked, err := repo.WithTx(tx).LockOrder(ctx, order.ID)
		require.NoError(t, err)
		assert.Equal(t, order.ID, locked.ID)
		assert.Equal(t, enums.OrderStatusPending, locked.Status)
		return nil
	})
	require.NoError(t, err)

	_, err = repo.LockOrder(ctx, uuid.New())
	assert.ErrorIs(t, err, gorm.ErrRecordNotFound)
}
