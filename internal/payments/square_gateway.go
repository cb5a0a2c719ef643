package payments

import (
	"context"
	"fmt"
	"strings"

	"github.com/shopspring/decimal"
	sq "github.com/square/square-go-sdk"

	pkgerrors "github.com/keyhaven/keyhaven-backend/pkg/errors"
	"github.com/keyhaven/keyhaven-backend/pkg/square"
)

type squarePayments interface {
	CreatePayment(ctx context.Context, params square.PaymentCreateParams) (*sq.Payment, error)
	GetPayment(ctx context.Context, paymentID string) (*sq.Payment, error)
}

type squareGateway struct {
	client squarePayments
}

// NewSquareGateway adapts the Square client to the Gateway port.
func NewSquareGateway(client squarePayments) (Gateway, error) {
	if client == nil {
		return nil, fmt.Errorf("square client required")
	}
	return &squareGateway{client: client}, nil
}

func (g *squareGateway) CreateIntent(ctx context.Context, amount decimal.Decimal, currency, referenceID string) (string, error) {
	payment, err := g.client.CreatePayment(ctx, square.PaymentCreateParams{
		AmountCents: amount.Shift(2).IntPart(),
		Currency:    currency,
		ReferenceID: referenceID,
		// One intent per order; a retried create reuses the same key.
		IdempotencyKey: fmt.Sprintf("intent-%s", referenceID),
	})
	if err != nil {
		return "", err
	}
	id := payment.GetID()
	if id == nil || *id == "" {
		return "", pkgerrors.New(pkgerrors.CodeDependency, "square payment missing id")
	}
	return *id, nil
}

func (g *squareGateway) Capture(ctx context.Context, ref string) (CaptureResult, error) {
	payment, err := g.client.GetPayment(ctx, ref)
	if err != nil {
		return CaptureResult{}, err
	}
	result := CaptureResult{Status: CaptureStatusNotCompleted}
	if id := payment.GetID(); id != nil {
		result.ExternalID = *id
	}
	status := payment.GetStatus()
	if status != nil {
		switch strings.ToUpper(*status) {
		case "COMPLETED", "APPROVED":
			result.Status = CaptureStatusCompleted
		}
	}
	return result, nil
}
