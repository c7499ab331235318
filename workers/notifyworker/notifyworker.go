// Package notifyworker implements the Notification Worker: best-effort,
// multi-channel delivery that succeeds as long as at least one channel
// accepts the message (spec.md §4.8).
package notifyworker

import (
	"context"
	"encoding/json"
	"time"

	domainevent "github.com/sagexd08/autofi-core/domain/event"
	domainjob "github.com/sagexd08/autofi-core/domain/job"
	"github.com/sagexd08/autofi-core/domain/notification"
	"github.com/sagexd08/autofi-core/eventbus"
	"github.com/sagexd08/autofi-core/infrastructure/errors"
	"github.com/sagexd08/autofi-core/infrastructure/logging"
)

// Sender delivers a Notification over one Channel. Implementations are
// external collaborators (SMTP, webhook HTTP client, push gateway, an
// in-app outbox) — this package only drives them and tolerates partial
// failure.
type Sender interface {
	Channel() notification.Channel
	Send(ctx context.Context, n *notification.Notification) error
}

// Worker fans a Notification out to every registered Sender whose channel
// the notification requests.
type Worker struct {
	senders map[notification.Channel]Sender
	bus     *eventbus.Bus
	logger  *logging.Logger
}

// New builds a Worker from a fixed set of senders. bus/logger may be nil.
func New(bus *eventbus.Bus, logger *logging.Logger, senders ...Sender) *Worker {
	if logger == nil {
		logger = logging.Default()
	}
	m := make(map[notification.Channel]Sender, len(senders))
	for _, s := range senders {
		m[s.Channel()] = s
	}
	return &Worker{senders: m, bus: bus, logger: logger}
}

// Process implements coordinator.Processor for the "notification" queue.
// Returns a fatal error only if every requested channel fails or none of
// the requested channels has a registered Sender; a mix of failures and
// successes is a success (spec §4.8 invariant: >=1 delivered channel).
func (w *Worker) Process(ctx context.Context, j *domainjob.Job) error {
	var n notification.Notification
	if err := json.Unmarshal(j.Payload, &n); err != nil {
		return errors.MissingField("notification payload")
	}
	return w.Deliver(ctx, &n)
}

// Deliver attempts every requested channel and records a ChannelResult for
// each, regardless of outcome.
func (w *Worker) Deliver(ctx context.Context, n *notification.Notification) error {
	for _, ch := range n.Channels {
		sender, ok := w.senders[ch]
		if !ok {
			n.Results = append(n.Results, notification.ChannelResult{
				Channel: ch, Status: notification.DeliveryFailed, Error: "no sender registered", SentAt: time.Now().UTC(),
			})
			continue
		}

		err := sender.Send(ctx, n)
		result := notification.ChannelResult{Channel: ch, SentAt: time.Now().UTC()}
		if err != nil {
			result.Status = notification.DeliveryFailed
			result.Error = err.Error()
			w.logger.Warn(ctx, "notification channel delivery failed", map[string]interface{}{
				"notification_id": n.ID, "channel": string(ch), "error": err.Error(),
			})
		} else {
			result.Status = notification.DeliverySent
		}
		n.Results = append(n.Results, result)
	}

	if !n.Delivered() {
		return errors.Internal("notification delivery failed on every channel", nil).WithDetails("notification_id", n.ID)
	}

	if w.bus != nil {
		w.bus.Publish(ctx, domainevent.New(domainevent.AgentAction, map[string]any{
			"notification_id": n.ID,
			"user_id":         n.UserID,
			"channels":        len(n.Channels),
		}))
	}
	return nil
}
