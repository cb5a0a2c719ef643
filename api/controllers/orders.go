package controllers

import (
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"github.com/keyhaven/keyhaven-backend/api/middleware"
	"github.com/keyhaven/keyhaven-backend/api/responses"
	"github.com/keyhaven/keyhaven-backend/api/validators"
	internalorders "github.com/keyhaven/keyhaven-backend/internal/orders"
	"github.com/keyhaven/keyhaven-backend/internal/payments"
	"github.com/keyhaven/keyhaven-backend/pkg/db/models"
	"github.com/keyhaven/keyhaven-backend/pkg/enums"
	pkgerrors "github.com/keyhaven/keyhaven-backend/pkg/errors"
	"github.com/keyhaven/keyhaven-backend/pkg/logger"
)

type createOrderRequest struct {
	CustomerID    uuid.UUID         `json:"customer_id" validate:"required"`
	PaymentMethod string            `json:"payment_method" validate:"required"`
	Lines         []createOrderLine `json:"lines" validate:"required,min=1,dive"`
}

type createOrderLine struct {
	ProductID uuid.UUID `json:"product_id" validate:"required"`
	Qty       int       `json:"qty" validate:"required,min=1"`
}

type captureOrderRequest struct {
	GatewayRef string `json:"gateway_ref"`
}

type orderItemResponse struct {
	ID           uuid.UUID  `json:"id"`
	ProductID    uuid.UUID  `json:"product_id"`
	Name         string     `json:"name"`
	Qty          int        `json:"qty"`
	UnitPrice    string     `json:"unit_price"`
	Digital      bool       `json:"digital"`
	Fulfillment  string     `json:"fulfillment"`
	DeliveredKey *string    `json:"delivered_key,omitempty"`
	FulfilledAt  *time.Time `json:"fulfilled_at,omitempty"`
}

type orderResponse struct {
	ID            uuid.UUID           `json:"id"`
	CustomerID    uuid.UUID           `json:"customer_id"`
	Status        string              `json:"status"`
	Paid          bool                `json:"paid"`
	Total         string              `json:"total"`
	Currency      string              `json:"currency"`
	PaymentMethod string              `json:"payment_method"`
	PaymentRef    *string             `json:"payment_ref,omitempty"`
	CompletedAt   *time.Time          `json:"completed_at,omitempty"`
	CancelledAt   *time.Time          `json:"cancelled_at,omitempty"`
	Items         []orderItemResponse `json:"items,omitempty"`
	CreatedAt     time.Time           `json:"created_at"`
}

func newOrderResponse(order *models.Order) orderResponse {
	resp := orderResponse{
		ID:            order.ID,
		CustomerID:    order.CustomerID,
		Status:        order.Status.String(),
		Paid:          order.Paid(),
		Total:         order.Total.StringFixed(2),
		Currency:      order.Currency,
		PaymentMethod: order.PaymentMethod.String(),
		PaymentRef:    order.PaymentRef,
		CompletedAt:   order.CompletedAt,
		CancelledAt:   order.CancelledAt,
		CreatedAt:     order.CreatedAt,
	}
	for _, item := range order.Items {
		resp.Items = append(resp.Items, newOrderItemResponse(item))
	}
	return resp
}

func newOrderItemResponse(item models.OrderItem) orderItemResponse {
	return orderItemResponse{
		ID:           item.ID,
		ProductID:    item.ProductID,
		Name:         item.Name,
		Qty:          item.Qty,
		UnitPrice:    item.UnitPrice.StringFixed(2),
		Digital:      item.Digital,
		Fulfillment:  item.Fulfillment.String(),
		DeliveredKey: item.DeliveredKey,
		FulfilledAt:  item.FulfilledAt,
	}
}

// CreateOrder validates the cart payload and creates a pending order.
func CreateOrder(svc internalorders.Service, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if svc == nil {
			responses.WriteError(r.Context(), logg, w, pkgerrors.New(pkgerrors.CodeInternal, "orders service unavailable"))
			return
		}

		var payload createOrderRequest
		if err := validators.DecodeJSONBody(r, &payload); err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}

		method, err := enums.ParsePaymentMethod(payload.PaymentMethod)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, pkgerrors.Wrap(pkgerrors.CodeValidation, err, "invalid payment method"))
			return
		}

		lines := make([]internalorders.CartLine, 0, len(payload.Lines))
		for _, line := range payload.Lines {
			lines = append(lines, internalorders.CartLine{ProductID: line.ProductID, Qty: line.Qty})
		}

		order, err := svc.Create(r.Context(), internalorders.CreateOrderInput{
			CustomerID:    payload.CustomerID,
			PaymentMethod: method,
			Lines:         lines,
			ActorUserID:   middleware.ActorIDFromContext(r.Context()),
			ActorRole:     middleware.ActorRoleFromContext(r.Context()),
		})
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}

		responses.WriteSuccessStatus(w, http.StatusCreated, newOrderResponse(order))
	}
}

// GetOrder returns the order with its item snapshots.
func GetOrder(svc internalorders.Service, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if svc == nil {
			responses.WriteError(r.Context(), logg, w, pkgerrors.New(pkgerrors.CodeInternal, "orders service unavailable"))
			return
		}

		orderID, err := parseOrderID(r)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}

		order, err := svc.Get(r.Context(), orderID)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}

		responses.WriteSuccess(w, newOrderResponse(order))
	}
}

type orderIntentResponse struct {
	OrderID  uuid.UUID `json:"order_id"`
	IntentID string    `json:"intent_id"`
}

// CreateOrderIntent asks the gateway for a payment intent the client confirms
// before calling capture.
func CreateOrderIntent(svc payments.Service, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if svc == nil {
			responses.WriteError(r.Context(), logg, w, pkgerrors.New(pkgerrors.CodeInternal, "payments service unavailable"))
			return
		}

		orderID, err := parseOrderID(r)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}

		intentID, err := svc.CreateIntent(r.Context(), orderID)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}

		responses.WriteSuccessStatus(w, http.StatusCreated, orderIntentResponse{
			OrderID:  orderID,
			IntentID: intentID,
		})
	}
}

// CaptureOrder settles payment for a pending order. Retried captures on a
// settled order return the current state rather than an error.
func CaptureOrder(svc payments.Service, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if svc == nil {
			responses.WriteError(r.Context(), logg, w, pkgerrors.New(pkgerrors.CodeInternal, "payments service unavailable"))
			return
		}

		orderID, err := parseOrderID(r)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}

		var payload captureOrderRequest
		if err := validators.DecodeJSONBody(r, &payload); err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}

		order, err := svc.Capture(r.Context(), payments.CaptureInput{
			OrderID:     orderID,
			GatewayRef:  strings.TrimSpace(payload.GatewayRef),
			ActorUserID: middleware.ActorIDFromContext(r.Context()),
			ActorRole:   middleware.ActorRoleFromContext(r.Context()),
		})
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}

		responses.WriteSuccess(w, newOrderResponse(order))
	}
}

func parseOrderID(r *http.Request) (uuid.UUID, error) {
	raw := strings.TrimSpace(chi.URLParam(r, "orderId"))
	if raw == "" {
		return uuid.Nil, pkgerrors.New(pkgerrors.CodeValidation, "order id is required")
	}
	orderID, err := uuid.Parse(raw)
	if err != nil {
		return uuid.Nil, pkgerrors.Wrap(pkgerrors.CodeValidation, err, "invalid order id")
	}
	return orderID, nil
}
