package queue

import (
	"context"
	"encoding/json"
	"fmt"
	"strconv"
	"time"

	"github.com/go-redis/redis/v8"

	"github.com/sagexd08/autofi-core/domain/job"
)

// RedisBackend is a durable Backend built on two Redis sorted sets per
// queue (a ready set scored by priority then creation time, and a delayed
// set scored by availability time) plus one hash per job for its full
// record. Lease uses WATCH/MULTI so two coordinators sharing
// the same Redis never hand the same job to two workers.
type RedisBackend struct {
	client *redis.Client
	prefix string
}

// NewRedisBackend builds a RedisBackend. prefix namespaces all keys
// (e.g. "autofi:") so multiple deployments can share a Redis instance.
func NewRedisBackend(client *redis.Client, prefix string) *RedisBackend {
	return &RedisBackend{client: client, prefix: prefix}
}

func (b *RedisBackend) readyKey(queueName string) string  { return b.prefix + "ready:" + queueName }
func (b *RedisBackend) delayedKey(queueName string) string { return b.prefix + "delayed:" + queueName }
func (b *RedisBackend) jobKey(queueName, jobID string) string {
	return b.prefix + "job:" + queueName + ":" + jobID
}
func (b *RedisBackend) pausedKey(queueName string) string { return b.prefix + "paused:" + queueName }

// score orders the ready set by priority first (higher priority sorts
// first, so it is negated) then FIFO by creation time.
func score(priority int, createdAt time.Time) float64 {
	return float64(-priority)*1e15 + float64(createdAt.UnixNano())/1e6
}

func (b *RedisBackend) Enqueue(ctx context.Context, queueName string, payload []byte, opts job.EnqueueOptions) (*job.Job, error) {
	id := opts.JobID
	if id == "" {
		id = generateID()
	}

	key := b.jobKey(queueName, id)

	txf := func(tx *redis.Tx) error {
		exists, err := tx.Exists(ctx, key).Result()
		if err != nil {
			return err
		}
		if exists == 1 && opts.JobID != "" {
			raw, err := tx.HGet(ctx, key, "status").Result()
			if err == nil && raw != string(job.StatusFailed) {
				return ErrDuplicateJob
			}
		}

		now := Now()
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

		fields, err := marshalJob(j)
		if err != nil {
			return err
		}

		_, err = tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
			pipe.HSet(ctx, key, fields)
			if status == job.StatusDelayed {
				pipe.ZAdd(ctx, b.delayedKey(queueName), &redis.Z{Score: float64(availableAt.UnixNano()), Member: id})
			} else {
				pipe.ZAdd(ctx, b.readyKey(queueName), &redis.Z{Score: score(j.Priority, now), Member: id})
			}
			return nil
		})
		return err
	}

	if err := b.client.Watch(ctx, txf, key); err != nil {
		if err == ErrDuplicateJob {
			return nil, ErrDuplicateJob
		}
		return nil, fmt.Errorf("queue: enqueue: %w", err)
	}

	return b.Get(ctx, queueName, id)
}

func (b *RedisBackend) LeaseNext(ctx context.Context, queueName string) (*job.Job, error) {
	paused, err := b.client.Exists(ctx, b.pausedKey(queueName)).Result()
	if err != nil {
		return nil, fmt.Errorf("queue: lease: %w", err)
	}
	if paused == 1 {
		return nil, ErrEmpty
	}

	if err := b.promoteDelayed(ctx, queueName); err != nil {
		return nil, err
	}

	ids, err := b.client.ZRange(ctx, b.readyKey(queueName), 0, 0).Result()
	if err != nil {
		return nil, fmt.Errorf("queue: lease: %w", err)
	}
	if len(ids) == 0 {
		return nil, ErrEmpty
	}
	id := ids[0]
	key := b.jobKey(queueName, id)

	var leased *job.Job
	txf := func(tx *redis.Tx) error {
		removed, err := tx.ZRem(ctx, b.readyKey(queueName), id).Result()
		if err != nil {
			return err
		}
		if removed == 0 {
			return ErrEmpty
		}

		j, err := b.loadJob(ctx, tx, queueName, id)
		if err != nil {
			return err
		}
		j.Status = job.StatusActive
		j.Attempts++
		j.UpdatedAt = Now()

		fields, err := marshalJob(j)
		if err != nil {
			return err
		}
		if _, err := tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
			pipe.HSet(ctx, key, fields)
			return nil
		}); err != nil {
			return err
		}
		leased = j
		return nil
	}

	if err := b.client.Watch(ctx, txf, key); err != nil {
		if err == ErrEmpty {
			return nil, ErrEmpty
		}
		return nil, fmt.Errorf("queue: lease: %w", err)
	}
	return leased, nil
}

func (b *RedisBackend) promoteDelayed(ctx context.Context, queueName string) error {
	now := float64(Now().UnixNano())
	ids, err := b.client.ZRangeByScore(ctx, b.delayedKey(queueName), &redis.ZRangeBy{Min: "-inf", Max: strconv.FormatFloat(now, 'f', 0, 64)}).Result()
	if err != nil {
		return fmt.Errorf("queue: promote delayed: %w", err)
	}
	for _, id := range ids {
		key := b.jobKey(queueName, id)
		j, err := b.loadJobDirect(ctx, queueName, id)
		if err != nil {
			continue
		}
		j.Status = job.StatusPending
		fields, err := marshalJob(j)
		if err != nil {
			continue
		}
		_, _ = b.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
			pipe.HSet(ctx, key, fields)
			pipe.ZRem(ctx, b.delayedKey(queueName), id)
			pipe.ZAdd(ctx, b.readyKey(queueName), &redis.Z{Score: score(j.Priority, j.CreatedAt), Member: id})
			return nil
		})
	}
	return nil
}

func (b *RedisBackend) Ack(ctx context.Context, queueName, jobID string) error {
	key := b.jobKey(queueName, jobID)
	j, err := b.loadJobDirect(ctx, queueName, jobID)
	if err != nil {
		return err
	}
	now := Now()
	j.Status = job.StatusCompleted
	j.UpdatedAt = now
	j.CompletedAt = now

	fields, err := marshalJob(j)
	if err != nil {
		return err
	}
	return b.client.HSet(ctx, key, fields).Err()
}

func (b *RedisBackend) Fail(ctx context.Context, queueName, jobID string, cause error, retryable bool) error {
	key := b.jobKey(queueName, jobID)
	j, err := b.loadJobDirect(ctx, queueName, jobID)
	if err != nil {
		return err
	}

	now := Now()
	j.LastError = cause.Error()
	j.UpdatedAt = now

	if retryable && !j.ExhaustedAttempts() {
		j.Status = job.StatusDelayed
		j.AvailableAt = now.Add(j.Backoff.NextDelay(j.Attempts))
		fields, err := marshalJob(j)
		if err != nil {
			return err
		}
		_, err = b.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
			pipe.HSet(ctx, key, fields)
			pipe.ZAdd(ctx, b.delayedKey(queueName), &redis.Z{Score: float64(j.AvailableAt.UnixNano()), Member: jobID})
			return nil
		})
		return err
	}

	j.Status = job.StatusFailed
	j.DeadLettered = true
	j.CompletedAt = now
	fields, err := marshalJob(j)
	if err != nil {
		return err
	}
	return b.client.HSet(ctx, key, fields).Err()
}

func (b *RedisBackend) Get(ctx context.Context, queueName, jobID string) (*job.Job, error) {
	return b.loadJobDirect(ctx, queueName, jobID)
}

func (b *RedisBackend) Pause(ctx context.Context, queueName string) error {
	return b.client.Set(ctx, b.pausedKey(queueName), "1", 0).Err()
}

func (b *RedisBackend) Resume(ctx context.Context, queueName string) error {
	return b.client.Del(ctx, b.pausedKey(queueName)).Err()
}

func (b *RedisBackend) Paused(ctx context.Context, queueName string) (bool, error) {
	n, err := b.client.Exists(ctx, b.pausedKey(queueName)).Result()
	if err != nil {
		return false, fmt.Errorf("queue: paused: %w", err)
	}
	return n == 1, nil
}

// Counts reports Waiting and Delayed only, from the ready and delayed sorted
// sets; Active, Completed and Failed are always zero because this backend
// keeps no per-state index for them.
func (b *RedisBackend) Counts(ctx context.Context, queueName string) (job.Counts, error) {
	var c job.Counts
	waiting, err := b.client.ZCard(ctx, b.readyKey(queueName)).Result()
	if err != nil {
		return c, fmt.Errorf("queue: counts: %w", err)
	}
	delayed, err := b.client.ZCard(ctx, b.delayedKey(queueName)).Result()
	if err != nil {
		return c, fmt.Errorf("queue: counts: %w", err)
	}
	c.Waiting = int(waiting)
	c.Delayed = int(delayed)
	return c, nil
}

// Sweep does nothing for the Redis backend: the retention policy is ignored,
// and completed/failed job hashes carry no TTL, so they are never pruned.
func (b *RedisBackend) Sweep(ctx context.Context, queueName string, retention job.RetentionPolicy) error {
	return nil
}

func (b *RedisBackend) loadJobDirect(ctx context.Context, queueName, jobID string) (*job.Job, error) {
	key := b.jobKey(queueName, jobID)
	raw, err := b.client.HGetAll(ctx, key).Result()
	if err != nil {
		return nil, fmt.Errorf("queue: get: %w", err)
	}
	if len(raw) == 0 {
		return nil, ErrJobNotFound
	}
	return unmarshalJob(queueName, jobID, raw)
}

func (b *RedisBackend) loadJob(ctx context.Context, tx *redis.Tx, queueName, jobID string) (*job.Job, error) {
	raw, err := tx.HGetAll(ctx, b.jobKey(queueName, jobID)).Result()
	if err != nil {
		return nil, err
	}
	if len(raw) == 0 {
		return nil, ErrJobNotFound
	}
	return unmarshalJob(queueName, jobID, raw)
}

type jobRecord struct {
	Payload      string            `json:"payload"`
	Priority     int               `json:"priority"`
	AvailableAt  time.Time         `json:"available_at"`
	Attempts     int               `json:"attempts"`
	MaxAttempts  int               `json:"max_attempts"`
	Backoff      job.BackoffPolicy `json:"backoff"`
	Status       job.Status        `json:"status"`
	DeadLettered bool              `json:"dead_lettered"`
	LastError    string            `json:"last_error"`
	CreatedAt    time.Time         `json:"created_at"`
	UpdatedAt    time.Time         `json:"updated_at"`
	CompletedAt  time.Time         `json:"completed_at"`
}

func marshalJob(j *job.Job) (map[string]interface{}, error) {
	rec := jobRecord{
		Payload:      string(j.Payload),
		Priority:     j.Priority,
		AvailableAt:  j.AvailableAt,
		Attempts:     j.Attempts,
		MaxAttempts:  j.MaxAttempts,
		Backoff:      j.Backoff,
		Status:       j.Status,
		DeadLettered: j.DeadLettered,
		LastError:    j.LastError,
		CreatedAt:    j.CreatedAt,
		UpdatedAt:    j.UpdatedAt,
		CompletedAt:  j.CompletedAt,
	}
	data, err := json.Marshal(rec)
	if err != nil {
		return nil, err
	}
	return map[string]interface{}{"record": data, "status": string(j.Status)}, nil
}

func unmarshalJob(queueName, jobID string, raw map[string]string) (*job.Job, error) {
	data, ok := raw["record"]
	if !ok {
		return nil, ErrJobNotFound
	}
	var rec jobRecord
	if err := json.Unmarshal([]byte(data), &rec); err != nil {
		return nil, fmt.Errorf("queue: decode job record: %w", err)
	}
	return &job.Job{
		Queue:        queueName,
		ID:           jobID,
		Payload:      []byte(rec.Payload),
		Priority:     rec.Priority,
		AvailableAt:  rec.AvailableAt,
		Attempts:     rec.Attempts,
		MaxAttempts:  rec.MaxAttempts,
		Backoff:      rec.Backoff,
		Status:       rec.Status,
		DeadLettered: rec.DeadLettered,
		LastError:    rec.LastError,
		CreatedAt:    rec.CreatedAt,
		UpdatedAt:    rec.UpdatedAt,
		CompletedAt:  rec.CompletedAt,
	}, nil
}
