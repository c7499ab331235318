// Package event defines the closed set of lifecycle/domain events the
// Event Bus fans out, and the payload shape each carries.
package event

import "time"

// Type is one member of the closed event-type set from spec.md §4.3.
type Type string

const (
	TransactionPending   Type = "transaction:pending"
	TransactionSubmitted Type = "transaction:submitted"
	TransactionConfirmed Type = "transaction:confirmed"
	TransactionFailed    Type = "transaction:failed"

	ApprovalCreated  Type = "approval:created"
	ApprovalApproved Type = "approval:approved"
	ApprovalRejected Type = "approval:rejected"
	ApprovalExpired  Type = "approval:expired"

	PlanStarted   Type = "plan:started"
	PlanCompleted Type = "plan:completed"
	PlanFailed    Type = "plan:failed"

	AgentAction Type = "agent:action"
	AgentError  Type = "agent:error"

	SystemAlert Type = "system:alert"

	JobQueued    Type = "job:queued"
	JobProgress  Type = "job:progress"
	JobCompleted Type = "job:completed"
	JobFailed    Type = "job:failed"
	JobStalled   Type = "job:stalled"
)

// All lists every member of the closed set. Subscriptions are not checked
// against it: a Filter naming a type outside All simply never matches.
var All = []Type{
	TransactionPending, TransactionSubmitted, TransactionConfirmed, TransactionFailed,
	ApprovalCreated, ApprovalApproved, ApprovalRejected, ApprovalExpired,
	PlanStarted, PlanCompleted, PlanFailed,
	AgentAction, AgentError,
	SystemAlert,
	JobQueued, JobProgress, JobCompleted, JobFailed, JobStalled,
}

// Wildcard subscribes to every event type.
const Wildcard = "*"

// Event is the envelope published on the bus. Payload is a JSON-shaped map
// so that Event Bus filter matching (see eventbus.Filter) can query
// arbitrary fields without new Go types per event kind.
type Event struct {
	Type      Type
	Timestamp time.Time
	Payload   map[string]any
}

// New builds an Event stamped with the current time.
func New(t Type, payload map[string]any) Event {
	return Event{Type: t, Timestamp: time.Now().UTC(), Payload: payload}
}
