// Package approval defines the human (or policy) gate that a risk-scored
// Transaction must clear before broadcasting.
package approval

import (
	"time"

	"github.com/sagexd08/autofi-core/domain/transaction"
)

// Status is the Approval lifecycle state. Transitions only ever leave
// PENDING; once resolved a status never regresses (spec invariant §8.2).
type Status string

const (
	StatusPending  Status = "PENDING"
	StatusApproved Status = "APPROVED"
	StatusRejected Status = "REJECTED"
	StatusExpired  Status = "EXPIRED"
	StatusCancelled Status = "CANCELLED"
)

// Resolved reports whether the approval has left PENDING.
func (s Status) Resolved() bool {
	return s != StatusPending
}

// Approval gates exactly one Transaction.
type Approval struct {
	ID            string
	TransactionID string

	RiskScore float64
	RiskLevel transaction.RiskLevel
	Priority  transaction.Priority

	Status         Status
	RequestedAt    time.Time
	ExpiresAt      time.Time
	ResolvedAt     time.Time
	ResolvedBy     string
	ResolutionText string

	RequestedBy string

	CreatedAt time.Time
	UpdatedAt time.Time
}

// AutoExpiredResolution is the resolution text the sweep writes on expiry.
const AutoExpiredResolution = "Auto-expired"

// DefaultExpiry is the window an approval is valid for after creation.
const DefaultExpiry = 60 * time.Minute
