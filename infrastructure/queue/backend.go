// Package queue defines the durable priority queue boundary the Job
// Coordinator drives, plus an in-memory reference backend and a
// Redis-backed backend suitable for production use.
package queue

import (
	"context"
	"errors"
	"time"

	"github.com/sagexd08/autofi-core/domain/job"
)

// ErrJobNotFound is returned when an operation references a job-id the
// backend has no record of.
var ErrJobNotFound = errors.New("queue: job not found")

// ErrEmpty is returned by LeaseNext when no job is currently available.
var ErrEmpty = errors.New("queue: no job available")

// ErrDuplicateJob is returned by Enqueue when job-id already exists in the
// queue (spec §8 invariant 7: enqueueing the same job-id twice yields one
// job in the backend).
var ErrDuplicateJob = errors.New("queue: duplicate job id")

// Backend is the durable priority queue the Job Coordinator consumes. One
// Backend instance serves every named queue ("plan", "transaction",
// "simulation", "notification"); callers always pass the queue name
// explicitly so a single Redis instance or in-memory map can back all of
// them.
type Backend interface {
	// Enqueue admits a new job immediately available for lease (unless
	// opts.Delay is set). Returns ErrDuplicateJob if opts.JobID already
	// exists and has not failed (a completed job still counts as a
	// duplicate).
	Enqueue(ctx context.Context, queueName string, payload []byte, opts job.EnqueueOptions) (*job.Job, error)

	// LeaseNext atomically claims the highest-priority, earliest-eligible
	// job in queueName and marks it active. Returns ErrEmpty if none is
	// ready.
	LeaseNext(ctx context.Context, queueName string) (*job.Job, error)

	// Ack marks jobID completed. Retention is applied only by Sweep.
	Ack(ctx context.Context, queueName, jobID string) error

	// Fail records a processing failure. If retryable and the job has not
	// exhausted its attempts, it is rescheduled after the job's backoff
	// policy; otherwise it is marked failed (dead-lettered).
	Fail(ctx context.Context, queueName, jobID string, cause error, retryable bool) error

	// Get returns the current state of jobID, or ErrJobNotFound.
	Get(ctx context.Context, queueName, jobID string) (*job.Job, error)

	// Pause stops LeaseNext from returning jobs for queueName until Resume.
	Pause(ctx context.Context, queueName string) error

	// Resume undoes Pause.
	Resume(ctx context.Context, queueName string) error

	// Paused reports whether queueName is currently paused.
	Paused(ctx context.Context, queueName string) (bool, error)

	// Counts returns the per-state job counts for queueName.
	Counts(ctx context.Context, queueName string) (job.Counts, error)

	// Sweep applies queueName's RetentionPolicy, pruning the oldest
	// completed and failed jobs beyond the keep counts. It does not promote
	// delayed jobs; LeaseNext does that. Intended to be driven by a periodic
	// scheduler (cron).
	Sweep(ctx context.Context, queueName string, retention job.RetentionPolicy) error
}

// Now is overridable in tests; production code always uses time.Now.
var Now = time.Now
