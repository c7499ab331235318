// Package eventbus fans out domain events (spec.md §4.3) to subscribers,
// each optionally filtered down to a JSONPath predicate over the event
// payload, and bridges the same stream onto a websocket for external
// consumers.
package eventbus

import (
	"context"
	"sync"
	"time"

	"github.com/PaesslerAG/jsonpath"
	"github.com/google/uuid"

	"github.com/sagexd08/autofi-core/domain/event"
	"github.com/sagexd08/autofi-core/infrastructure/logging"
	"github.com/sagexd08/autofi-core/infrastructure/metrics"
)

// Filter narrows a subscription to events matching a type and, optionally,
// a JSONPath predicate evaluated against the event payload.
type Filter struct {
	// Type is event.Wildcard ("*") or one member of event.All.
	Type string
	// JSONPath, if non-empty, is evaluated with PaesslerAG/jsonpath against
	// the event payload; the event is delivered only if evaluation succeeds
	// without error (a missing field or type mismatch excludes the event
	// rather than erroring the subscriber).
	JSONPath string
}

func (f Filter) matches(e event.Event) bool {
	if f.Type != event.Wildcard && string(e.Type) != f.Type {
		return false
	}
	if f.JSONPath == "" {
		return true
	}
	_, err := jsonpath.Get(f.JSONPath, map[string]any(e.Payload))
	return err == nil
}

// subscriberBuffer bounds how many undelivered events a slow subscriber may
// accumulate. Once it is full, Publish waits up to livenessTimeout, then
// skips that subscriber for the event and flags it stalled; a stalled
// subscriber is not unsubscribed or removed.
const subscriberBuffer = 256

// livenessTimeout is how long a subscriber may go without draining its
// channel before Publish gives up on it and marks it stalled.
const livenessTimeout = 2 * time.Second

type subscription struct {
	id      string
	filters []Filter
	ch      chan event.Event
	stalled bool
}

// Bus is the in-process Event Bus. One Bus instance serves the whole
// process; Subscribe/Unsubscribe/Publish are all safe for concurrent use.
type Bus struct {
	mu     sync.RWMutex
	subs   map[string]*subscription
	logger *logging.Logger
	metric *metrics.Metrics
}

// New builds an empty Bus.
func New(logger *logging.Logger, metric *metrics.Metrics) *Bus {
	if logger == nil {
		logger = logging.Default()
	}
	return &Bus{subs: make(map[string]*subscription), logger: logger, metric: metric}
}

// Subscribe registers a new subscriber matching any of filters (an empty
// filter set matches everything) and returns its id plus a receive-only
// channel of delivered events. The channel is closed on Unsubscribe.
func (b *Bus) Subscribe(filters ...Filter) (string, <-chan event.Event) {
	if len(filters) == 0 {
		filters = []Filter{{Type: event.Wildcard}}
	}

	sub := &subscription{
		id:      uuid.NewString(),
		filters: filters,
		ch:      make(chan event.Event, subscriberBuffer),
	}

	b.mu.Lock()
	b.subs[sub.id] = sub
	b.mu.Unlock()

	return sub.id, sub.ch
}

// Unsubscribe removes a subscriber and closes its channel. Safe to call
// more than once for the same id.
func (b *Bus) Unsubscribe(id string) {
	b.mu.Lock()
	sub, ok := b.subs[id]
	if ok {
		delete(b.subs, id)
	}
	b.mu.Unlock()

	if ok {
		close(sub.ch)
	}
}

// Publish fans e out to every subscriber whose filters match. A subscriber
// that does not drain its channel within livenessTimeout is skipped for
// this publish and flagged stalled; it stays registered so a recovering
// consumer keeps receiving later events.
func (b *Bus) Publish(ctx context.Context, e event.Event) {
	b.mu.RLock()
	total := len(b.subs)
	targets := make([]*subscription, 0, total)
	for _, sub := range b.subs {
		for _, f := range sub.filters {
			if f.matches(e) {
				targets = append(targets, sub)
				break
			}
		}
	}
	b.mu.RUnlock()

	delivered := 0
	for _, sub := range targets {
		select {
		case sub.ch <- e:
			delivered++
			b.mu.Lock()
			sub.stalled = false
			b.mu.Unlock()
		case <-time.After(livenessTimeout):
			b.mu.Lock()
			sub.stalled = true
			b.mu.Unlock()
			b.logger.WithContext(ctx).WithFields(map[string]any{
				"subscriber_id": sub.id,
				"event_type":    string(e.Type),
			}).Warn("Event Bus subscriber stalled, event dropped")
		case <-ctx.Done():
			return
		}
	}

	b.logger.LogEventPublish(ctx, string(e.Type), delivered)
	if b.metric != nil {
		b.metric.RecordEventPublished("eventbus", string(e.Type))
		b.metric.SetEventSubscribers("eventbus", total)
	}
}

// Stats summarizes the bus's current subscriber population.
type Stats struct {
	Subscribers int
	Stalled     int
}

// Stats reports the current subscriber count and how many are stalled.
func (b *Bus) Stats() Stats {
	b.mu.RLock()
	defer b.mu.RUnlock()

	s := Stats{Subscribers: len(b.subs)}
	for _, sub := range b.subs {
		if sub.stalled {
			s.Stalled++
		}
	}
	return s
}
