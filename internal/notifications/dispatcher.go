package notifications

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"go.uber.org/multierr"
	"gorm.io/gorm"

	"github.com/keyhaven/keyhaven-backend/pkg/config"
	"github.com/keyhaven/keyhaven-backend/pkg/db/models"
	"github.com/keyhaven/keyhaven-backend/pkg/enums"
	"github.com/keyhaven/keyhaven-backend/pkg/logger"
	"github.com/keyhaven/keyhaven-backend/pkg/outbox"
)

type customerReader interface {
	FindCustomer(ctx context.Context, customerID uuid.UUID) (*models.Customer, error)
}

// eventPayload is the superset of lifecycle event fields the dispatcher
// renders from. Every event carries order_id and customer_id.
type eventPayload struct {
	OrderID     uuid.UUID       `json:"order_id"`
	CustomerID  uuid.UUID       `json:"customer_id"`
	Total       decimal.Decimal `json:"total"`
	Currency    string          `json:"currency"`
	ProductName string          `json:"product_name"`
	ItemCount   int             `json:"item_count"`
}

// Dispatcher maps lifecycle events to customer email, staff email, and chat
// webhook messages.
type Dispatcher struct {
	transport Transport
	customers customerReader
	cfg       config.NotifyConfig
	logg      *logger.Logger
}

// NewDispatcher builds the notification dispatcher.
func NewDispatcher(transport Transport, customers customerReader, cfg config.NotifyConfig, logg *logger.Logger) (*Dispatcher, error) {
	if transport == nil {
		return nil, errors.New("transport required")
	}
	if customers == nil {
		return nil, errors.New("customer reader required")
	}
	if logg == nil {
		return nil, errors.New("logger required")
	}
	return &Dispatcher{transport: transport, customers: customers, cfg: cfg, logg: logg}, nil
}

// Dispatch renders and sends the messages for one outbox event. A send
// failure is returned so the outbox loop can retry; it never reaches the
// lifecycle transaction that produced the event.
func (d *Dispatcher) Dispatch(ctx context.Context, event models.OutboxEvent) error {
	var envelope outbox.PayloadEnvelope
	if err := json.Unmarshal(event.Payload, &envelope); err != nil {
		return fmt.Errorf("decode envelope for %s: %w", event.ID, err)
	}
	var payload eventPayload
	if err := json.Unmarshal(envelope.Data, &payload); err != nil {
		return fmt.Errorf("decode payload for %s: %w", event.ID, err)
	}

	messages, err := d.messagesFor(ctx, event.EventType, payload)
	if err != nil {
		return err
	}

	var errs []error
	for _, msg := range messages {
		if err := d.transport.Send(ctx, msg); err != nil {
			logCtx := d.logg.WithFields(ctx, map[string]any{
				"event_type": event.EventType,
				"channel":    msg.Channel,
				"order_id":   payload.OrderID.String(),
			})
			d.logg.Error(logCtx, "notification send failed", err)
			errs = append(errs, err)
		}
	}
	return multierr.Combine(errs...)
}

func (d *Dispatcher) messagesFor(ctx context.Context, eventType enums.OutboxEventType, payload eventPayload) ([]Message, error) {
	switch eventType {
	case enums.EventOrderReceived:
		return d.orderReceived(ctx, payload)
	case enums.EventItemDelivered:
		return d.itemDelivered(ctx, payload)
	case enums.EventOrderCompleted:
		return d.orderCompleted(ctx, payload)
	case enums.EventOrderCancelled:
		return d.orderCancelled(ctx, payload)
	default:
		// Events without a notification mapping are consumed silently.
		return nil, nil
	}
}

func (d *Dispatcher) orderReceived(ctx context.Context, payload eventPayload) ([]Message, error) {
	email, err := d.customerEmail(ctx, payload.CustomerID)
	if err != nil {
		return nil, err
	}
	amount := fmt.Sprintf("%s %s", payload.Total.StringFixed(2), payload.Currency)
	messages := []Message{{
		Channel:   enums.NotificationChannelEmail,
		Recipient: email,
		Subject:   "We received your order",
		Body:      fmt.Sprintf("Thanks for your purchase. Your payment of %s for order %s was confirmed. Your license keys are on the way.", amount, payload.OrderID),
	}}
	if d.cfg.ChatWebhookURL != "" {
		messages = append(messages, Message{
			Channel:   enums.NotificationChannelWebhook,
			Recipient: d.cfg.ChatWebhookURL,
			Subject:   "New paid order",
			Body:      fmt.Sprintf("Order %s paid (%s, %d items).", payload.OrderID, amount, payload.ItemCount),
		})
	}
	if d.cfg.StaffEmail != "" {
		messages = append(messages, Message{
			Channel:   enums.NotificationChannelEmail,
			Recipient: d.cfg.StaffEmail,
			Subject:   "New paid order awaiting fulfillment",
			Body:      fmt.Sprintf("Order %s (%s) is paid and awaiting key delivery.", payload.OrderID, amount),
		})
	}
	return messages, nil
}

func (d *Dispatcher) itemDelivered(ctx context.Context, payload eventPayload) ([]Message, error) {
	email, err := d.customerEmail(ctx, payload.CustomerID)
	if err != nil {
		return nil, err
	}
	return []Message{{
		Channel:   enums.NotificationChannelEmail,
		Recipient: email,
		Subject:   fmt.Sprintf("Your license key for %s is ready", payload.ProductName),
		Body:      fmt.Sprintf("The license key for %s on order %s is now available in your account at %s.", payload.ProductName, payload.OrderID, d.cfg.StorefrontURL),
	}}, nil
}

func (d *Dispatcher) orderCompleted(ctx context.Context, payload eventPayload) ([]Message, error) {
	email, err := d.customerEmail(ctx, payload.CustomerID)
	if err != nil {
		return nil, err
	}
	messages := []Message{{
		Channel:   enums.NotificationChannelEmail,
		Recipient: email,
		Subject:   "Your order is complete",
		Body:      fmt.Sprintf("All license keys for order %s have been delivered. Thank you for shopping with us.", payload.OrderID),
	}}
	if d.cfg.ChatWebhookURL != "" {
		messages = append(messages, Message{
			Channel:   enums.NotificationChannelWebhook,
			Recipient: d.cfg.ChatWebhookURL,
			Subject:   "Order completed",
			Body:      fmt.Sprintf("Order %s fully delivered.", payload.OrderID),
		})
	}
	return messages, nil
}

func (d *Dispatcher) orderCancelled(ctx context.Context, payload eventPayload) ([]Message, error) {
	email, err := d.customerEmail(ctx, payload.CustomerID)
	if err != nil {
		return nil, err
	}
	return []Message{{
		Channel:   enums.NotificationChannelEmail,
		Recipient: email,
		Subject:   "Your order was cancelled",
		Body:      fmt.Sprintf("Order %s was cancelled because payment was not completed in time. You can place a new order at %s.", payload.OrderID, d.cfg.StorefrontURL),
	}}, nil
}

func (d *Dispatcher) customerEmail(ctx context.Context, customerID uuid.UUID) (string, error) {
	customer, err := d.customers.FindCustomer(ctx, customerID)
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return "", fmt.Errorf("customer %s not found", customerID)
		}
		return "", fmt.Errorf("load customer %s: %w", customerID, err)
	}
	return customer.Email, nil
}
