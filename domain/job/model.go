// Package job defines the durable unit of work processed by the Job Coordinator.
package job

import "time"

// Status is the lifecycle state of a Job.
type Status string

const (
	StatusPending   Status = "pending"
	StatusActive    Status = "active"
	StatusCompleted Status = "completed"
	StatusFailed    Status = "failed"
	StatusDelayed   Status = "delayed"
	StatusPaused    Status = "paused"
)

// BackoffKind selects the retry-delay curve applied by Fail.
type BackoffKind string

const (
	BackoffExponential BackoffKind = "exponential"
	BackoffFixed       BackoffKind = "fixed"
)

// BackoffPolicy describes how long to wait before a retried job becomes
// available again, as a function of its attempt count.
type BackoffPolicy struct {
	Kind     BackoffKind
	BaseWait time.Duration
}

// NextDelay returns the delay before attempt number `attempt` (1-indexed,
// the attempt about to be made) becomes eligible to run.
func (p BackoffPolicy) NextDelay(attempt int) time.Duration {
	if attempt < 1 {
		attempt = 1
	}
	switch p.Kind {
	case BackoffFixed:
		return p.BaseWait
	default:
		delay := p.BaseWait
		for i := 1; i < attempt; i++ {
			delay *= 2
		}
		return delay
	}
}

// RetentionPolicy bounds how many terminal jobs a queue keeps around.
type RetentionPolicy struct {
	KeepLastCompleted int
	KeepLastFailed    int
}

// Job is a unit of work bound to a named queue.
type Job struct {
	Queue       string
	ID          string
	Payload     []byte
	Priority    int
	AvailableAt time.Time
	Attempts    int
	MaxAttempts int
	Backoff     BackoffPolicy
	Status      Status

	DeadLettered bool
	LastError    string

	CreatedAt   time.Time
	UpdatedAt   time.Time
	CompletedAt time.Time
}

// EnqueueOptions customizes a single enqueue call.
type EnqueueOptions struct {
	JobID       string // idempotency key; if empty one is generated
	Priority    int
	Delay       time.Duration
	MaxAttempts int
	Backoff     BackoffPolicy
}

// Counts summarizes a queue's job population by status.
type Counts struct {
	Waiting   int
	Active    int
	Completed int
	Failed    int
	Delayed   int
}

// Invariant (spec §8.4): Attempts never exceeds MaxAttempts.
func (j Job) ExhaustedAttempts() bool {
	return j.Attempts >= j.MaxAttempts
}
