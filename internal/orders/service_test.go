package orders

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"

	"github.com/keyhaven/keyhaven-backend/pkg/db/models"
	"github.com/keyhaven/keyhaven-backend/pkg/enums"
	pkgerrors "github.com/keyhaven/keyhaven-backend/pkg/errors"
	"github.com/keyhaven/keyhaven-backend/pkg/outbox"
)

type stubRepo struct {
	Repository

	customer *models.Customer
	products []models.Product
	order    *models.Order

	createdOrder *models.Order
	createdItems []models.OrderItem

	findCustomerErr error
	findProductsErr error
	createOrderErr  error
	createItemsErr  error
	findOrderErr    error
}

func (s *stubRepo) WithTx(tx *gorm.DB) Repository { return s }

func (s *stubRepo) FindCustomer(ctx context.Context, id uuid.UUID) (*models.Customer, error) {
	if s.findCustomerErr != nil {
		return nil, s.findCustomerErr
	}
	if s.customer == nil || s.customer.ID != id {
		return nil, gorm.ErrRecordNotFound
	}
	return s.customer, nil
}

func (s *stubRepo) FindProducts(ctx context.Context, ids []uuid.UUID) ([]models.Product, error) {
	if s.findProductsErr != nil {
		return nil, s.findProductsErr
	}
	return s.products, nil
}

func (s *stubRepo) CreateOrder(ctx context.Context, order *models.Order) (*models.Order, error) {
	if s.createOrderErr != nil {
		return nil, s.createOrderErr
	}
	s.createdOrder = order
	return order, nil
}

func (s *stubRepo) CreateOrderItems(ctx context.Context, items []models.OrderItem) error {
	if s.createItemsErr != nil {
		return s.createItemsErr
	}
	s.createdItems = items
	return nil
}

func (s *stubRepo) FindOrderWithItems(ctx context.Context, id uuid.UUID) (*models.Order, error) {
	if s.findOrderErr != nil {
		return nil, s.findOrderErr
	}
	if s.order == nil || s.order.ID != id {
		return nil, gorm.ErrRecordNotFound
	}
	return s.order, nil
}

type stubTxRunner struct {
	err   error
	calls int
}

func (s *stubTxRunner) WithTx(ctx context.Context, fn func(tx *gorm.DB) error) error {
	s.calls++
	if s.err != nil {
		return s.err
	}
	return fn(&gorm.DB{})
}

type stubOutbox struct {
	events []outbox.DomainEvent
	err    error
}

func (s *stubOutbox) Emit(ctx context.Context, tx *gorm.DB, event outbox.DomainEvent) error {
	if s.err != nil {
		return s.err
	}
	s.events = append(s.events, event)
	return nil
}

func activeProduct(price string) models.Product {
	return models.Product{
		ID:       uuid.New(),
		Name:     "Pro License",
		Price:    decimal.RequireFromString(price),
		Digital:  true,
		IsActive: true,
	}
}

func TestServiceCreateComputesTotalAndEmitsEvent(t *testing.T) {
	product := activeProduct("10.00")
	customer := &models.Customer{ID: uuid.New(), Email: "buyer@example.com", Name: "Buyer"}
	repo := &stubRepo{customer: customer, products: []models.Product{product}}
	tx := &stubTxRunner{}
	ob := &stubOutbox{}

	svc, err := NewService(repo, tx, ob)
	require.NoError(t, err)

	order, err := svc.Create(context.Background(), CreateOrderInput{
		CustomerID:    customer.ID,
		PaymentMethod: enums.PaymentMethodGateway,
		Lines:         []CartLine{{ProductID: product.ID, Qty: 2}},
	})
	require.NoError(t, err)

	assert.Equal(t, enums.OrderStatusPending, order.Status)
	assert.True(t, order.Total.Equal(decimal.RequireFromString("20.00")))
	require.Len(t, repo.createdItems, 1)
	assert.Equal(t, "Pro License", repo.createdItems[0].Name)
	assert.True(t, repo.createdItems[0].UnitPrice.Equal(product.Price))
	assert.Equal(t, 2, repo.createdItems[0].Qty)

	require.Len(t, ob.events, 1)
	assert.Equal(t, enums.EventOrderCreated, ob.events[0].EventType)
	assert.Equal(t, order.ID, ob.events[0].AggregateID)
}

func TestServiceCreateValidation(t *testing.T) {
	product := activeProduct("5.00")
	customer := &models.Customer{ID: uuid.New()}
	repo := &stubRepo{customer: customer, products: []models.Product{product}}
	svc, err := NewService(repo, &stubTxRunner{}, &stubOutbox{})
	require.NoError(t, err)

	cases := []struct {
		name  string
		input CreateOrderInput
	}{
		{
			name:  "empty cart",
			input: CreateOrderInput{CustomerID: customer.ID, PaymentMethod: enums.PaymentMethodGateway},
		},
		{
			name: "zero quantity",
			input: CreateOrderInput{
				CustomerID:    customer.ID,
				PaymentMethod: enums.PaymentMethodGateway,
				Lines:         []CartLine{{ProductID: product.ID, Qty: 0}},
			},
		},
		{
			name: "missing customer",
			input: CreateOrderInput{
				PaymentMethod: enums.PaymentMethodGateway,
				Lines:         []CartLine{{ProductID: product.ID, Qty: 1}},
			},
		},
		{
			name: "bad payment method",
			input: CreateOrderInput{
				CustomerID:    customer.ID,
				PaymentMethod: enums.PaymentMethod("card"),
				Lines:         []CartLine{{ProductID: product.ID, Qty: 1}},
			},
		},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			_, err := svc.Create(context.Background(), tc.input)
			typed := pkgerrors.As(err)
			require.NotNil(t, typed, "expected typed error")
			assert.Equal(t, pkgerrors.CodeValidation, typed.Code())
		})
	}
}

func TestServiceCreateUnknownProduct(t *testing.T) {
	customer := &models.Customer{ID: uuid.New()}
	repo := &stubRepo{customer: customer}
	svc, err := NewService(repo, &stubTxRunner{}, &stubOutbox{})
	require.NoError(t, err)

	_, err = svc.Create(context.Background(), CreateOrderInput{
		CustomerID:    customer.ID,
		PaymentMethod: enums.PaymentMethodGateway,
		Lines:         []CartLine{{ProductID: uuid.New(), Qty: 1}},
	})
	typed := pkgerrors.As(err)
	require.NotNil(t, typed)
	assert.Equal(t, pkgerrors.CodeValidation, typed.Code())
}

func TestServiceCreateInactiveProduct(t *testing.T) {
	product := activeProduct("5.00")
	product.IsActive = false
	customer := &models.Customer{ID: uuid.New()}
	repo := &stubRepo{customer: customer, products: []models.Product{product}}
	svc, err := NewService(repo, &stubTxRunner{}, &stubOutbox{})
	require.NoError(t, err)

	_, err = svc.Create(context.Background(), CreateOrderInput{
		CustomerID:    customer.ID,
		PaymentMethod: enums.PaymentMethodGateway,
		Lines:         []CartLine{{ProductID: product.ID, Qty: 1}},
	})
	typed := pkgerrors.As(err)
	require.NotNil(t, typed)
	assert.Equal(t, pkgerrors.CodeValidation, typed.Code())
}

func TestServiceCreateStorageFailureSurfacesDependency(t *testing.T) {
	product := activeProduct("5.00")
	customer := &models.Customer{ID: uuid.New()}
	repo := &stubRepo{
		customer:       customer,
		products:       []models.Product{product},
		createOrderErr: gorm.ErrInvalidDB,
	}
	ob := &stubOutbox{}
	svc, err := NewService(repo, &stubTxRunner{}, ob)
	require.NoError(t, err)

	_, err = svc.Create(context.Background(), CreateOrderInput{
		CustomerID:    customer.ID,
		PaymentMethod: enums.PaymentMethodGateway,
		Lines:         []CartLine{{ProductID: product.ID, Qty: 1}},
	})
	typed := pkgerrors.As(err)
	require.NotNil(t, typed)
	assert.Equal(t, pkgerrors.CodeDependency, typed.Code())
	assert.Empty(t, ob.events)
}

func TestServiceGet(t *testing.T) {
	order := &models.Order{
		ID:         uuid.New(),
		CustomerID: uuid.New(),
		Status:     enums.OrderStatusPending,
		Total:      decimal.RequireFromString("10.00"),
		CreatedAt:  time.Now().UTC(),
	}
	repo := &stubRepo{order: order}
	svc, err := NewService(repo, &stubTxRunner{}, &stubOutbox{})
	require.NoError(t, err)

	got, err := svc.Get(context.Background(), order.ID)
	require.NoError(t, err)
	assert.Equal(t, order.ID, got.ID)

	_, err = svc.Get(context.Background(), uuid.New())
	typed := pkgerrors.As(err)
	require.NotNil(t, typed)
	assert.Equal(t, pkgerrors.CodeNotFound, typed.Code())
}
