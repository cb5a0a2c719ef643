package payments

import (
	"context"

	"github.com/shopspring/decimal"
)

// CaptureStatus is the gateway's verdict on a capture attempt.
type CaptureStatus string

const (
	CaptureStatusCompleted    CaptureStatus = "completed"
	CaptureStatusNotCompleted CaptureStatus = "not_completed"
)

// CaptureResult carries the gateway outcome for a payment reference.
type CaptureResult struct {
	Status     CaptureStatus
	ExternalID string
}

// Gateway is the payment provider port the capture handler depends on. The
// lifecycle core never imports a provider SDK directly.
type Gateway interface {
	CreateIntent(ctx context.Context, amount decimal.Decimal, currency, referenceID string) (string, error)
	Capture(ctx context.Context, ref string) (CaptureResult, error)
}
