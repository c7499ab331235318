// Package notification defines outbound delivery records for the
// Notification Worker.
package notification

import "time"

// Channel is one outbound delivery mechanism.
type Channel string

const (
	ChannelInApp   Channel = "in-app"
	ChannelEmail   Channel = "email"
	ChannelWebhook Channel = "webhook"
	ChannelPush    Channel = "push"
)

// DeliveryStatus is the per-channel outcome of a send attempt.
type DeliveryStatus string

const (
	DeliverySent   DeliveryStatus = "sent"
	DeliveryFailed DeliveryStatus = "failed"
)

// ChannelResult records the outcome of sending to one channel.
type ChannelResult struct {
	Channel Channel
	Status  DeliveryStatus
	Error   string
	SentAt  time.Time
}

// Notification is one multi-channel outbound delivery request.
type Notification struct {
	ID       string
	UserID   string
	Subject  string
	Body     string
	Channels []Channel
	Metadata map[string]string

	Results []ChannelResult

	CreatedAt time.Time
}

// Delivered reports whether at least one channel succeeded (spec §4.8: the
// job succeeds if at least one channel delivered).
func (n Notification) Delivered() bool {
	for _, r := range n.Results {
		if r.Status == DeliverySent {
			return true
		}
	}
	return false
}
