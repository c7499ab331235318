// Package coordinator implements the Job Coordinator: it owns one durable
// queue.Backend shared by every named queue, runs a bounded worker pool per queue,
// dispatches leased jobs to a registered Processor, and classifies
// processor errors into retry/fatal outcomes via infrastructure/errors
// (spec.md §4.1, §6, §7).
package coordinator

import (
	"context"
	"sync"
	"time"

	"github.com/robfig/cron/v3"

	"github.com/sagexd08/autofi-core/domain/job"
	"github.com/sagexd08/autofi-core/domain/event"
	"github.com/sagexd08/autofi-core/eventbus"
	"github.com/sagexd08/autofi-core/infrastructure/cache"
	infraerrors "github.com/sagexd08/autofi-core/infrastructure/errors"
	"github.com/sagexd08/autofi-core/infrastructure/logging"
	"github.com/sagexd08/autofi-core/infrastructure/metrics"
	"github.com/sagexd08/autofi-core/infrastructure/queue"
)

// idempotencyWindow bounds how long a JobID stays known in the Coordinator's
// in-memory duplicate-enqueue fast path; the queue.Backend remains the
// source of truth (ErrDuplicateJob) once the window elapses.
const idempotencyWindow = 10 * time.Minute

// Processor handles one leased job for a queue. Returning a fatal-classified
// *infraerrors.Error dead-letters the job immediately; any other error (a
// retryable *infraerrors.Error or an unclassified error) lets the
// Coordinator reschedule it with backoff while attempts remain.
type Processor func(ctx context.Context, j *job.Job) error

// QueueSpec configures one named queue's worker pool.
type QueueSpec struct {
	Name        string
	Concurrency int
	Retention   job.RetentionPolicy
	// SweepSchedule is a standard cron expression driving periodic Sweep
	// calls (retention only; delayed jobs are promoted by LeaseNext); empty
	// disables it.
	SweepSchedule string
}

// Coordinator owns the queue backend, worker pools and scheduled sweeps.
type Coordinator struct {
	backend queue.Backend
	bus     *eventbus.Bus
	logger  *logging.Logger
	metric  *metrics.Metrics

	mu         sync.Mutex
	processors map[string]Processor
	specs      map[string]QueueSpec
	idempotent *cache.IdempotencyCache

	cron     *cron.Cron
	wg       sync.WaitGroup
	stopOnce sync.Once
	stopCh   chan struct{}
}

// New builds a Coordinator over backend. bus/logger/metric may be nil.
func New(backend queue.Backend, bus *eventbus.Bus, logger *logging.Logger, metric *metrics.Metrics) *Coordinator {
	if logger == nil {
		logger = logging.Default()
	}
	return &Coordinator{
		backend:    backend,
		bus:        bus,
		logger:     logger,
		metric:     metric,
		processors: make(map[string]Processor),
		specs:      make(map[string]QueueSpec),
		idempotent: cache.NewIdempotencyCache(idempotencyWindow),
		cron:       cron.New(),
		stopCh:     make(chan struct{}),
	}
}

// Register binds a Processor to a queue, replacing any previous binding for
// the same name. Must be called before Start.
func (c *Coordinator) Register(spec QueueSpec, proc Processor) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.specs[spec.Name] = spec
	c.processors[spec.Name] = proc
}

// Enqueue admits a job onto a registered queue. A JobID seen within the
// Coordinator's idempotency window short-circuits to queue.ErrDuplicateJob
// without round-tripping to the backend; the backend's own duplicate check
// (spec §4.1 idempotency) still applies once the window elapses.
func (c *Coordinator) Enqueue(ctx context.Context, queueName string, payload []byte, opts job.EnqueueOptions) (*job.Job, error) {
	if opts.JobID != "" && c.idempotent.Seen(opts.JobID) {
		return nil, queue.ErrDuplicateJob
	}

	j, err := c.backend.Enqueue(ctx, queueName, payload, opts)
	if err != nil {
		return nil, err
	}
	if opts.JobID != "" {
		c.idempotent.Mark(opts.JobID)
	}

	c.logger.LogJobTransition(ctx, queueName, j.ID, "", string(j.Status), j.Attempts)
	if c.metric != nil {
		c.metric.RecordJobEnqueued("coordinator", queueName, priorityLabel(opts.Priority))
	}
	c.publish(ctx, event.JobQueued, j)
	return j, nil
}

// Start launches one worker goroutine per configured unit of concurrency
// for every registered queue, plus the cron scheduler for any queue with a
// SweepSchedule. It returns immediately; workers run until Stop is called.
func (c *Coordinator) Start(ctx context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	for name, spec := range c.specs {
		proc, ok := c.processors[name]
		if !ok {
			continue
		}
		n := spec.Concurrency
		if n <= 0 {
			n = 1
		}
		for i := 0; i < n; i++ {
			c.wg.Add(1)
			go c.worker(ctx, name, proc)
		}

		if spec.SweepSchedule != "" {
			name, spec := name, spec
			if _, err := c.cron.AddFunc(spec.SweepSchedule, func() {
				_ = c.backend.Sweep(ctx, name, spec.Retention)
			}); err != nil {
				return infraerrors.Internal("schedule sweep for queue "+name, err)
			}
		}
	}

	c.cron.Start()
	return nil
}

// Stop signals every worker to finish its current job and return, stops
// the cron scheduler, and waits for all workers to exit.
func (c *Coordinator) Stop() {
	c.stopOnce.Do(func() { close(c.stopCh) })
	stopCtx := c.cron.Stop()
	<-stopCtx.Done()
	c.wg.Wait()
}

// pollInterval is how often an idle worker checks for a newly eligible job.
const pollInterval = 250 * time.Millisecond

func (c *Coordinator) worker(ctx context.Context, queueName string, proc Processor) {
	defer c.wg.Done()

	ticker := time.NewTicker(pollInterval)
	defer ticker.Stop()

	for {
		select {
		case <-c.stopCh:
			return
		case <-ctx.Done():
			return
		case <-ticker.C:
			c.runOnce(ctx, queueName, proc)
		}
	}
}

func (c *Coordinator) runOnce(ctx context.Context, queueName string, proc Processor) {
	j, err := c.backend.LeaseNext(ctx, queueName)
	if err != nil {
		return // queue.ErrEmpty or a transient backend error; retry next tick
	}

	start := time.Now()
	c.logger.LogJobTransition(ctx, queueName, j.ID, string(job.StatusPending), string(job.StatusActive), j.Attempts)

	procErr := proc(ctx, j)
	duration := time.Since(start)

	if procErr == nil {
		if err := c.backend.Ack(ctx, queueName, j.ID); err != nil {
			c.logger.Error(ctx, "failed to ack completed job", err, map[string]interface{}{"queue": queueName, "job_id": j.ID})
			return
		}
		c.logger.LogJobTransition(ctx, queueName, j.ID, string(job.StatusActive), string(job.StatusCompleted), j.Attempts)
		if c.metric != nil {
			c.metric.RecordJobCompleted("coordinator", queueName, duration)
		}
		c.publish(ctx, event.JobCompleted, j)
		return
	}

	retryable := classify(procErr)
	if err := c.backend.Fail(ctx, queueName, j.ID, procErr, retryable); err != nil {
		c.logger.Error(ctx, "failed to record job failure", err, map[string]interface{}{"queue": queueName, "job_id": j.ID})
		return
	}

	final, getErr := c.backend.Get(ctx, queueName, j.ID)
	if getErr == nil {
		c.logger.LogJobTransition(ctx, queueName, j.ID, string(job.StatusActive), string(final.Status), final.Attempts)
		if final.Status == job.StatusFailed {
			if c.metric != nil {
				c.metric.RecordJobFailed("coordinator", queueName, reasonFor(procErr), duration)
			}
			c.publish(ctx, event.JobFailed, final)
		}
	}
}

// classify reports whether procErr should be retried: an *infraerrors.Error
// carries an explicit classification (spec §7); any other error defaults
// to retryable so an unclassified failure doesn't silently dead-letter.
func classify(procErr error) bool {
	if e, ok := infraerrors.As(procErr); ok {
		return e.Retryable()
	}
	return true
}

func reasonFor(procErr error) string {
	if e, ok := infraerrors.As(procErr); ok {
		return string(e.Code)
	}
	return "unclassified"
}

func priorityLabel(p int) string {
	switch {
	case p >= 10:
		return "urgent"
	case p >= 5:
		return "high"
	case p >= 1:
		return "normal"
	default:
		return "low"
	}
}

func (c *Coordinator) publish(ctx context.Context, t event.Type, j *job.Job) {
	if c.bus == nil {
		return
	}
	c.bus.Publish(ctx, event.New(t, map[string]any{
		"queue":    j.Queue,
		"job_id":   j.ID,
		"status":   string(j.Status),
		"attempts": j.Attempts,
	}))
}
