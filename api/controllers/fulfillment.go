package controllers

import (
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"github.com/keyhaven/keyhaven-backend/api/middleware"
	"github.com/keyhaven/keyhaven-backend/api/responses"
	"github.com/keyhaven/keyhaven-backend/api/validators"
	"github.com/keyhaven/keyhaven-backend/internal/fulfillment"
	pkgerrors "github.com/keyhaven/keyhaven-backend/pkg/errors"
	"github.com/keyhaven/keyhaven-backend/pkg/logger"
)

type fulfillItemRequest struct {
	DeliveredKey string `json:"delivered_key" validate:"required"`
}

type fulfillItemResponse struct {
	Item           orderItemResponse `json:"item"`
	OrderCompleted bool              `json:"order_completed"`
}

// FulfillItem records the delivered license key for one order item.
func FulfillItem(svc fulfillment.Service, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if svc == nil {
			responses.WriteError(r.Context(), logg, w, pkgerrors.New(pkgerrors.CodeInternal, "fulfillment service unavailable"))
			return
		}

		rawItemID := strings.TrimSpace(chi.URLParam(r, "itemId"))
		if rawItemID == "" {
			responses.WriteError(r.Context(), logg, w, pkgerrors.New(pkgerrors.CodeValidation, "item id is required"))
			return
		}
		itemID, err := uuid.Parse(rawItemID)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, pkgerrors.Wrap(pkgerrors.CodeValidation, err, "invalid item id"))
			return
		}

		var payload fulfillItemRequest
		if err := validators.DecodeJSONBody(r, &payload); err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}

		result, err := svc.Fulfill(r.Context(), fulfillment.FulfillInput{
			ItemID:       itemID,
			DeliveredKey: strings.TrimSpace(payload.DeliveredKey),
			ActorUserID:  middleware.ActorIDFromContext(r.Context()),
			ActorRole:    middleware.ActorRoleFromContext(r.Context()),
		})
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}

		responses.WriteSuccess(w, fulfillItemResponse{
			Item:           newOrderItemResponse(*result.Item),
			OrderCompleted: result.OrderCompleted,
		})
	}
}
