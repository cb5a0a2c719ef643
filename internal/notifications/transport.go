package notifications

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/keyhaven/keyhaven-backend/pkg/config"
	"github.com/keyhaven/keyhaven-backend/pkg/enums"
	"github.com/keyhaven/keyhaven-backend/pkg/logger"
)

const defaultSendTimeout = 10 * time.Second

// Message is one rendered outbound notification.
type Message struct {
	Channel   enums.NotificationChannel
	Recipient string
	Subject   string
	Body      string
}

// Transport delivers messages to the mail provider or chat webhook.
type Transport interface {
	Send(ctx context.Context, msg Message) error
}

// HTTPTransport posts email through the mail provider's JSON API and webhook
// messages to the chat webhook URL.
type HTTPTransport struct {
	client *http.Client
	cfg    config.NotifyConfig
	logg   *logger.Logger
}

// NewHTTPTransport builds the HTTP notification transport.
func NewHTTPTransport(cfg config.NotifyConfig, logg *logger.Logger) (*HTTPTransport, error) {
	if logg == nil {
		return nil, errors.New("logger required")
	}
	timeout := cfg.DispatchTimeout
	if timeout <= 0 {
		timeout = defaultSendTimeout
	}
	return &HTTPTransport{
		client: &http.Client{Timeout: timeout},
		cfg:    cfg,
		logg:   logg,
	}, nil
}

func (t *HTTPTransport) Send(ctx context.Context, msg Message) error {
	switch msg.Channel {
	case enums.NotificationChannelEmail:
		return t.sendEmail(ctx, msg)
	case enums.NotificationChannelWebhook:
		return t.sendWebhook(ctx, msg)
	default:
		return fmt.Errorf("unsupported notification channel %q", msg.Channel)
	}
}

func (t *HTTPTransport) sendEmail(ctx context.Context, msg Message) error {
	if t.cfg.MailAPIURL == "" {
		return errors.New("mail api url not configured")
	}
	payload := map[string]any{
		"from":    t.cfg.FromEmail,
		"to":      msg.Recipient,
		"subject": msg.Subject,
		"text":    msg.Body,
	}
	headers := map[string]string{}
	if t.cfg.MailAPIKey != "" {
		headers["Authorization"] = "Bearer " + t.cfg.MailAPIKey
	}
	return t.post(ctx, t.cfg.MailAPIURL, payload, headers, "email")
}

func (t *HTTPTransport) sendWebhook(ctx context.Context, msg Message) error {
	if t.cfg.ChatWebhookURL == "" {
		return errors.New("chat webhook url not configured")
	}
	payload := map[string]any{
		"text": fmt.Sprintf("%s\n%s", msg.Subject, msg.Body),
	}
	return t.post(ctx, t.cfg.ChatWebhookURL, payload, nil, "webhook")
}

func (t *HTTPTransport) post(ctx context.Context, url string, payload map[string]any, headers map[string]string, channel string) error {
	body, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("encode %s payload: %w", channel, err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("build %s request: %w", channel, err)
	}
	req.Header.Set("Content-Type", "application/json")
	for k, v := range headers {
		req.Header.Set(k, v)
	}

	resp, err := t.client.Do(req)
	if err != nil {
		return fmt.Errorf("send %s: %w", channel, err)
	}
	defer resp.Body.Close()
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return fmt.Errorf("send %s: unexpected status %d", channel, resp.StatusCode)
	}
	return nil
}
