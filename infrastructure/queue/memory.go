package queue

import (
	"context"
	"sort"
	"sync"

	"github.com/sagexd08/autofi-core/domain/job"
)

// MemoryBackend is a process-local Backend used for tests and local
// development. It implements the same lease/ack/fail semantics as the
// Redis-backed Backend, just without durability across restarts; unlike
// the Redis backend, its Sweep applies the retention policy.
type MemoryBackend struct {
	mu     sync.Mutex
	queues map[string]*memQueue
}

type memQueue struct {
	jobs   map[string]*job.Job
	paused bool
}

// NewMemoryBackend builds an empty MemoryBackend.
func NewMemoryBackend() *MemoryBackend {
	return &MemoryBackend{queues: make(map[string]*memQueue)}
}

func (b *MemoryBackend) queue(name string) *memQueue {
	q, ok := b.queues[name]
	if !ok {
		q = &memQueue{jobs: make(map[string]*job.Job)}
		b.queues[name] = q
	}
	return q
}

func (b *MemoryBackend) Enqueue(ctx context.Context, queueName string, payload []byte, opts job.EnqueueOptions) (*job.Job, error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	q := b.queue(queueName)
	if opts.JobID != "" {
		if existing, ok := q.jobs[opts.JobID]; ok && existing.Status != job.StatusFailed {
			return nil, ErrDuplicateJob
		}
	}

	now := Now()
	id := opts.JobID
	if id == "" {
		id = generateID()
	}

	maxAttempts := opts.MaxAttempts
	if maxAttempts <= 0 {
		maxAttempts = 1
	}

	status := job.StatusPending
	availableAt := now
	if opts.Delay > 0 {
		status = job.StatusDelayed
		availableAt = now.Add(opts.Delay)
	}

	j := &job.Job{
		Queue:       queueName,
		ID:          id,
		Payload:     payload,
		Priority:    opts.Priority,
		AvailableAt: availableAt,
		MaxAttempts: maxAttempts,
		Backoff:     opts.Backoff,
		Status:      status,
		CreatedAt:   now,
		UpdatedAt:   now,
	}
	q.jobs[id] = j

	out := *j
	return &out, nil
}

func (b *MemoryBackend) LeaseNext(ctx context.Context, queueName string) (*job.Job, error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	q := b.queue(queueName)
	if q.paused {
		return nil, ErrEmpty
	}

	now := Now()
	var candidates []*job.Job
	for _, j := range q.jobs {
		if j.Status == job.StatusDelayed && !j.AvailableAt.After(now) {
			j.Status = job.StatusPending
		}
		if j.Status == job.StatusPending {
			candidates = append(candidates, j)
		}
	}
	if len(candidates) == 0 {
		return nil, ErrEmpty
	}

	sort.Slice(candidates, func(i, k int) bool {
		if candidates[i].Priority != candidates[k].Priority {
			return candidates[i].Priority > candidates[k].Priority
		}
		return candidates[i].CreatedAt.Before(candidates[k].CreatedAt)
	})

	chosen := candidates[0]
	chosen.Status = job.StatusActive
	chosen.Attempts++
	chosen.UpdatedAt = now

	out := *chosen
	return &out, nil
}

func (b *MemoryBackend) Ack(ctx context.Context, queueName, jobID string) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	q := b.queue(queueName)
	j, ok := q.jobs[jobID]
	if !ok {
		return ErrJobNotFound
	}

	now := Now()
	j.Status = job.StatusCompleted
	j.UpdatedAt = now
	j.CompletedAt = now
	return nil
}

func (b *MemoryBackend) Fail(ctx context.Context, queueName, jobID string, cause error, retryable bool) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	q := b.queue(queueName)
	j, ok := q.jobs[jobID]
	if !ok {
		return ErrJobNotFound
	}

	now := Now()
	j.LastError = cause.Error()
	j.UpdatedAt = now

	if retryable && !j.ExhaustedAttempts() {
		j.Status = job.StatusDelayed
		j.AvailableAt = now.Add(j.Backoff.NextDelay(j.Attempts))
		return nil
	}

	j.Status = job.StatusFailed
	j.DeadLettered = true
	j.CompletedAt = now
	return nil
}

func (b *MemoryBackend) Get(ctx context.Context, queueName, jobID string) (*job.Job, error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	q := b.queue(queueName)
	j, ok := q.jobs[jobID]
	if !ok {
		return nil, ErrJobNotFound
	}
	out := *j
	return &out, nil
}

func (b *MemoryBackend) Pause(ctx context.Context, queueName string) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.queue(queueName).paused = true
	return nil
}

func (b *MemoryBackend) Resume(ctx context.Context, queueName string) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.queue(queueName).paused = false
	return nil
}

func (b *MemoryBackend) Paused(ctx context.Context, queueName string) (bool, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.queue(queueName).paused, nil
}

func (b *MemoryBackend) Counts(ctx context.Context, queueName string) (job.Counts, error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	q := b.queue(queueName)
	var c job.Counts
	for _, j := range q.jobs {
		switch j.Status {
		case job.StatusPending:
			c.Waiting++
		case job.StatusActive:
			c.Active++
		case job.StatusCompleted:
			c.Completed++
		case job.StatusFailed:
			c.Failed++
		case job.StatusDelayed:
			c.Delayed++
		}
	}
	return c, nil
}

func (b *MemoryBackend) Sweep(ctx context.Context, queueName string, retention job.RetentionPolicy) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	q := b.queue(queueName)

	var completed, failed []*job.Job
	for _, j := range q.jobs {
		switch j.Status {
		case job.StatusCompleted:
			completed = append(completed, j)
		case job.StatusFailed:
			failed = append(failed, j)
		}
	}

	pruneOldest(q, completed, retention.KeepLastCompleted)
	pruneOldest(q, failed, retention.KeepLastFailed)
	return nil
}

func pruneOldest(q *memQueue, jobs []*job.Job, keep int) {
	if keep <= 0 || len(jobs) <= keep {
		return
	}
	sort.Slice(jobs, func(i, k int) bool {
		return jobs[i].CompletedAt.After(jobs[k].CompletedAt)
	})
	for _, j := range jobs[keep:] {
		delete(q.jobs, j.ID)
	}
}

var idCounter struct {
	sync.Mutex
	n uint64
}

// generateID produces a monotonically increasing local job id for callers
// that enqueue without an explicit idempotency key.
func generateID() string {
	idCounter.Lock()
	defer idCounter.Unlock()
	idCounter.n++
	return "job-" + itoa(idCounter.n)
}

func itoa(n uint64) string {
	if n == 0 {
		return "0"
	}
	var buf [20]byte
	i := len(buf)
	for n > 0 {
		i--
		buf[i] = byte('0' + n%10)
		n /= 10
	}
	return string(buf[i:])
}
