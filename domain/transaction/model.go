// Package transaction defines the persistent record of one intended
// on-chain operation and its risk banding.
package transaction

import "time"

// Status is the Transaction lifecycle state.
// DRAFT -> (AWAITING_APPROVAL?) -> QUEUED -> BROADCASTING -> BROADCASTED -> CONFIRMED
// or, from any non-terminal state, -> FAILED | REJECTED | CANCELLED.
type Status string

const (
	StatusDraft            Status = "DRAFT"
	StatusAwaitingApproval Status = "AWAITING_APPROVAL"
	StatusQueued           Status = "QUEUED"
	StatusBroadcasting     Status = "BROADCASTING"
	StatusBroadcasted      Status = "BROADCASTED"
	StatusConfirmed        Status = "CONFIRMED"
	StatusFailed           Status = "FAILED"
	StatusRejected         Status = "REJECTED"
	StatusCancelled        Status = "CANCELLED"
)

// Terminal reports whether the status can never transition again.
func (s Status) Terminal() bool {
	switch s {
	case StatusConfirmed, StatusFailed, StatusRejected, StatusCancelled:
		return true
	default:
		return false
	}
}

// RiskLevel buckets a numeric risk score into the bands of spec.md §4.4.
type RiskLevel string

const (
	RiskLow      RiskLevel = "LOW"
	RiskMedium   RiskLevel = "MEDIUM"
	RiskHigh     RiskLevel = "HIGH"
	RiskCritical RiskLevel = "CRITICAL"
)

// RiskBand carries the policy thresholds used to classify a score.
// Bands are half-open on the upper bound except the top band, which is closed.
type RiskBand struct {
	ApprovalThreshold float64 // score >= this requires approval (default 0.5)
	HighThreshold     float64 // score >= this is HIGH (default 0.7)
	BlockThreshold    float64 // score >= this is CRITICAL (default 0.85)
	MaxRiskScore      float64 // score > this is blocked outright (default 0.95)
}

// DefaultRiskBand returns the spec's documented default thresholds.
func DefaultRiskBand() RiskBand {
	return RiskBand{
		ApprovalThreshold: 0.5,
		HighThreshold:     0.7,
		BlockThreshold:    0.85,
		MaxRiskScore:      0.95,
	}
}

// Level classifies a risk score into a RiskLevel per the band.
func (b RiskBand) Level(score float64) RiskLevel {
	switch {
	case score >= b.BlockThreshold:
		return RiskCritical
	case score >= b.HighThreshold:
		return RiskHigh
	case score >= b.ApprovalThreshold:
		return RiskMedium
	default:
		return RiskLow
	}
}

// RequiresApproval reports whether a score at or above the approval
// threshold must be gated (spec invariant §8.5).
func (b RiskBand) RequiresApproval(score float64) bool {
	return score >= b.ApprovalThreshold
}

// Blocked reports whether a score exceeds the hard block ceiling.
func (b RiskBand) Blocked(score float64) bool {
	return score > b.MaxRiskScore
}

// Priority is the approval queueing priority derived from risk level.
type Priority string

const (
	PriorityLow    Priority = "LOW"
	PriorityNormal Priority = "NORMAL"
	PriorityHigh   Priority = "HIGH"
	PriorityUrgent Priority = "URGENT"
)

// PriorityForLevel maps a risk level to its approval priority (spec §4.4).
func PriorityForLevel(level RiskLevel) Priority {
	switch level {
	case RiskCritical:
		return PriorityUrgent
	case RiskHigh:
		return PriorityHigh
	case RiskMedium:
		return PriorityNormal
	default:
		return PriorityLow
	}
}

// SimulationResult is the persisted outcome of a dry-run (see
// chain.SimulationResult for the full structured result); the transaction only keeps a
// condensed view for audit/read purposes.
type SimulationResult struct {
	Success      bool
	GasUsed      uint64
	RevertReason string
}

// Receipt captures confirmed on-chain outcome fields.
type Receipt struct {
	BlockNumber uint64
	BlockHash   string
	GasUsed     uint64
	ConfirmedAt time.Time
}

// Transaction is the persistent record of one intended on-chain operation.
type Transaction struct {
	ID        string
	Hash      string
	ChainID   int64
	Sender    string
	Recipient string
	Value     string // decimal string, avoids float precision loss
	CallData  []byte

	GasLimit     uint64
	MaxFee       string
	PriorityFee  string
	Nonce        uint64
	RequestedGas bool // true if caller supplied GasLimit explicitly

	UserID     string
	AgentID    string
	PlanID     string
	PlanStepID string

	RiskScore    float64
	RiskLevel    RiskLevel
	RequiresSim  bool
	Status       Status
	Memo         string
	ErrorReason  string
	DeadLetter   string

	Simulation *SimulationResult
	Receipt    *Receipt

	CreatedAt time.Time
	UpdatedAt time.Time
}

// WithMemo sets the `"Error: <text>"` memo invariant required by spec §7.
func (t *Transaction) WithMemo(text string) {
	t.Memo = "Error: " + text
}
