package notifyworker

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/sagexd08/autofi-core/domain/notification"
)

// WebhookSender delivers a Notification as an HTTP POST to a fixed URL,
// the way the teacher's automation webhook action does (services/automation
// dispatchAction).
type WebhookSender struct {
	URL    string
	Client *http.Client
}

// NewWebhookSender builds a WebhookSender with a bounded-timeout client.
func NewWebhookSender(url string) *WebhookSender {
	return &WebhookSender{URL: url, Client: &http.Client{Timeout: 10 * time.Second}}
}

func (s *WebhookSender) Channel() notification.Channel { return notification.ChannelWebhook }

func (s *WebhookSender) Send(ctx context.Context, n *notification.Notification) error {
	body, err := json.Marshal(n)
	if err != nil {
		return err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, s.URL, bytes.NewReader(body))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := s.Client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 400 {
		return fmt.Errorf("webhook status %d", resp.StatusCode)
	}
	return nil
}

// InAppSender records a Notification to an in-process outbox, the default
// channel every user has regardless of email/webhook configuration.
type InAppSender struct {
	outbox chan *notification.Notification
}

// NewInAppSender builds an InAppSender with a bounded outbox; a caller that
// doesn't drain it will eventually block further deliveries, the same
// backpressure tradeoff as the Event Bus subscriber channel.
func NewInAppSender(buffer int) *InAppSender {
	return &InAppSender{outbox: make(chan *notification.Notification, buffer)}
}

func (s *InAppSender) Channel() notification.Channel { return notification.ChannelInApp }

func (s *InAppSender) Send(ctx context.Context, n *notification.Notification) error {
	select {
	case s.outbox <- n:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Outbox exposes delivered in-app notifications for a consumer (an API read
// path, a websocket bridge) to drain.
func (s *InAppSender) Outbox() <-chan *notification.Notification { return s.outbox }
