package queue

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/go-redis/redis/v8"

	"github.com/sagexd08/autofi-core/domain/job"
)

// backendFactory builds a fresh Backend (any cleanup is registered on t), so the whole
// suite below runs identically against every implementation.
type backendFactory func(t *testing.T) Backend

func backends(t *testing.T) map[string]backendFactory {
	return map[string]backendFactory{
		"memory": func(t *testing.T) Backend {
			return NewMemoryBackend()
		},
		"redis": func(t *testing.T) Backend {
			mr, err := miniredis.Run()
			if err != nil {
				t.Fatalf("miniredis.Run() error = %v", err)
			}
			t.Cleanup(mr.Close)
			client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
			t.Cleanup(func() { client.Close() })
			return NewRedisBackend(client, "test:")
		},
	}
}

func withBackends(t *testing.T, fn func(t *testing.T, b Backend)) {
	for name, factory := range backends(t) {
		name, factory := name, factory
		t.Run(name, func(t *testing.T) {
			fn(t, factory(t))
		})
	}
}

func TestBackend_EnqueueLeaseAck(t *testing.T) {
	withBackends(t, func(t *testing.T, b Backend) {
		ctx := context.Background()

		j, err := b.Enqueue(ctx, "plan", []byte("payload"), job.EnqueueOptions{MaxAttempts: 3})
		if err != nil {
			t.Fatalf("Enqueue() error = %v", err)
		}
		if j.Status != job.StatusPending {
			t.Errorf("Status = %v, want pending", j.Status)
		}

		leased, err := b.LeaseNext(ctx, "plan")
		if err != nil {
			t.Fatalf("LeaseNext() error = %v", err)
		}
		if leased.ID != j.ID {
			t.Errorf("leased.ID = %v, want %v", leased.ID, j.ID)
		}
		if leased.Status != job.StatusActive {
			t.Errorf("leased.Status = %v, want active", leased.Status)
		}
		if leased.Attempts != 1 {
			t.Errorf("leased.Attempts = %d, want 1", leased.Attempts)
		}

		if err := b.Ack(ctx, "plan", j.ID); err != nil {
			t.Fatalf("Ack() error = %v", err)
		}

		got, err := b.Get(ctx, "plan", j.ID)
		if err != nil {
			t.Fatalf("Get() error = %v", err)
		}
		if got.Status != job.StatusCompleted {
			t.Errorf("Status = %v, want completed", got.Status)
		}
	})
}

func TestBackend_LeaseNext_Empty(t *testing.T) {
	withBackends(t, func(t *testing.T, b Backend) {
		ctx := context.Background()
		_, err := b.LeaseNext(ctx, "transaction")
		if !errors.Is(err, ErrEmpty) {
			t.Errorf("err = %v, want ErrEmpty", err)
		}
	})
}

func TestBackend_PriorityOrdering(t *testing.T) {
	withBackends(t, func(t *testing.T, b Backend) {
		ctx := context.Background()

		low, err := b.Enqueue(ctx, "plan", []byte("low"), job.EnqueueOptions{Priority: 1, MaxAttempts: 1})
		if err != nil {
			t.Fatalf("Enqueue() error = %v", err)
		}
		high, err := b.Enqueue(ctx, "plan", []byte("high"), job.EnqueueOptions{Priority: 10, MaxAttempts: 1})
		if err != nil {
			t.Fatalf("Enqueue() error = %v", err)
		}

		leased, err := b.LeaseNext(ctx, "plan")
		if err != nil {
			t.Fatalf("LeaseNext() error = %v", err)
		}
		if leased.ID != high.ID {
			t.Errorf("leased first = %v, want the higher-priority job %v (low id %v)", leased.ID, high.ID, low.ID)
		}
	})
}

func TestBackend_DuplicateJobID(t *testing.T) {
	withBackends(t, func(t *testing.T, b Backend) {
		ctx := context.Background()
		opts := job.EnqueueOptions{JobID: "tx-123", MaxAttempts: 1}

		if _, err := b.Enqueue(ctx, "transaction", []byte("a"), opts); err != nil {
			t.Fatalf("first Enqueue() error = %v", err)
		}
		_, err := b.Enqueue(ctx, "transaction", []byte("a"), opts)
		if !errors.Is(err, ErrDuplicateJob) {
			t.Errorf("second Enqueue() err = %v, want ErrDuplicateJob", err)
		}
	})
}

func TestBackend_FailRetryableReschedules(t *testing.T) {
	withBackends(t, func(t *testing.T, b Backend) {
		ctx := context.Background()

		j, err := b.Enqueue(ctx, "transaction", []byte("a"), job.EnqueueOptions{
			MaxAttempts: 3,
			Backoff:     job.BackoffPolicy{Kind: job.BackoffFixed, BaseWait: time.Millisecond},
		})
		if err != nil {
			t.Fatalf("Enqueue() error = %v", err)
		}
		if _, err := b.LeaseNext(ctx, "transaction"); err != nil {
			t.Fatalf("LeaseNext() error = %v", err)
		}

		if err := b.Fail(ctx, "transaction", j.ID, errors.New("rpc timeout"), true); err != nil {
			t.Fatalf("Fail() error = %v", err)
		}

		got, err := b.Get(ctx, "transaction", j.ID)
		if err != nil {
			t.Fatalf("Get() error = %v", err)
		}
		if got.Status != job.StatusDelayed {
			t.Errorf("Status = %v, want delayed", got.Status)
		}
		if got.LastError == "" {
			t.Error("expected LastError to be recorded")
		}
	})
}

func TestBackend_FailExhaustedAttemptsDeadLetters(t *testing.T) {
	withBackends(t, func(t *testing.T, b Backend) {
		ctx := context.Background()

		j, err := b.Enqueue(ctx, "transaction", []byte("a"), job.EnqueueOptions{MaxAttempts: 1})
		if err != nil {
			t.Fatalf("Enqueue() error = %v", err)
		}
		if _, err := b.LeaseNext(ctx, "transaction"); err != nil {
			t.Fatalf("LeaseNext() error = %v", err)
		}

		if err := b.Fail(ctx, "transaction", j.ID, errors.New("bad signature"), true); err != nil {
			t.Fatalf("Fail() error = %v", err)
		}

		got, err := b.Get(ctx, "transaction", j.ID)
		if err != nil {
			t.Fatalf("Get() error = %v", err)
		}
		if got.Status != job.StatusFailed || !got.DeadLettered {
			t.Errorf("got status=%v deadLettered=%v, want failed/true", got.Status, got.DeadLettered)
		}
	})
}

func TestBackend_FailFatalDeadLettersImmediately(t *testing.T) {
	withBackends(t, func(t *testing.T, b Backend) {
		ctx := context.Background()

		j, err := b.Enqueue(ctx, "transaction", []byte("a"), job.EnqueueOptions{MaxAttempts: 5})
		if err != nil {
			t.Fatalf("Enqueue() error = %v", err)
		}
		if _, err := b.LeaseNext(ctx, "transaction"); err != nil {
			t.Fatalf("LeaseNext() error = %v", err)
		}

		if err := b.Fail(ctx, "transaction", j.ID, errors.New("invalid address"), false); err != nil {
			t.Fatalf("Fail() error = %v", err)
		}

		got, err := b.Get(ctx, "transaction", j.ID)
		if err != nil {
			t.Fatalf("Get() error = %v", err)
		}
		if got.Status != job.StatusFailed {
			t.Errorf("Status = %v, want failed", got.Status)
		}
	})
}

func TestBackend_PauseResume(t *testing.T) {
	withBackends(t, func(t *testing.T, b Backend) {
		ctx := context.Background()

		if _, err := b.Enqueue(ctx, "plan", []byte("a"), job.EnqueueOptions{MaxAttempts: 1}); err != nil {
			t.Fatalf("Enqueue() error = %v", err)
		}
		if err := b.Pause(ctx, "plan"); err != nil {
			t.Fatalf("Pause() error = %v", err)
		}

		paused, err := b.Paused(ctx, "plan")
		if err != nil {
			t.Fatalf("Paused() error = %v", err)
		}
		if !paused {
			t.Error("expected queue to be paused")
		}

		if _, err := b.LeaseNext(ctx, "plan"); !errors.Is(err, ErrEmpty) {
			t.Errorf("LeaseNext() on paused queue err = %v, want ErrEmpty", err)
		}

		if err := b.Resume(ctx, "plan"); err != nil {
			t.Fatalf("Resume() error = %v", err)
		}
		if _, err := b.LeaseNext(ctx, "plan"); err != nil {
			t.Errorf("LeaseNext() after resume error = %v", err)
		}
	})
}

func TestBackend_DelayedJobBecomesEligible(t *testing.T) {
	withBackends(t, func(t *testing.T, b Backend) {
		ctx := context.Background()
		restore := Now
		t.Cleanup(func() { Now = restore })

		base := time.Now()
		Now = func() time.Time { return base }

		j, err := b.Enqueue(ctx, "notification", []byte("a"), job.EnqueueOptions{
			MaxAttempts: 1,
			Delay:       time.Minute,
		})
		if err != nil {
			t.Fatalf("Enqueue() error = %v", err)
		}
		if j.Status != job.StatusDelayed {
			t.Errorf("Status = %v, want delayed", j.Status)
		}

		if _, err := b.LeaseNext(ctx, "notification"); !errors.Is(err, ErrEmpty) {
			t.Errorf("LeaseNext() before delay elapses err = %v, want ErrEmpty", err)
		}

		Now = func() time.Time { return base.Add(2 * time.Minute) }

		leased, err := b.LeaseNext(ctx, "notification")
		if err != nil {
			t.Fatalf("LeaseNext() after delay error = %v", err)
		}
		if leased.ID != j.ID {
			t.Errorf("leased.ID = %v, want %v", leased.ID, j.ID)
		}
	})
}

func TestBackend_Counts(t *testing.T) {
	withBackends(t, func(t *testing.T, b Backend) {
		ctx := context.Background()

		if _, err := b.Enqueue(ctx, "simulation", []byte("a"), job.EnqueueOptions{MaxAttempts: 1}); err != nil {
			t.Fatalf("Enqueue() error = %v", err)
		}
		if _, err := b.Enqueue(ctx, "simulation", []byte("b"), job.EnqueueOptions{MaxAttempts: 1}); err != nil {
			t.Fatalf("Enqueue() error = %v", err)
		}

		counts, err := b.Counts(ctx, "simulation")
		if err != nil {
			t.Fatalf("Counts() error = %v", err)
		}
		if counts.Waiting != 2 {
			t.Errorf("Waiting = %d, want 2", counts.Waiting)
		}
	})
}

func TestBackend_GetNotFound(t *testing.T) {
	withBackends(t, func(t *testing.T, b Backend) {
		ctx := context.Background()
		_, err := b.Get(ctx, "plan", "does-not-exist")
		if !errors.Is(err, ErrJobNotFound) {
			t.Errorf("err = %v, want ErrJobNotFound", err)
		}
	})
}

func TestMemoryBackend_Sweep(t *testing.T) {
	ctx := context.Background()
	b := NewMemoryBackend()

	for i := 0; i < 5; i++ {
		j, err := b.Enqueue(ctx, "plan", []byte("a"), job.EnqueueOptions{MaxAttempts: 1})
		if err != nil {
			t.Fatalf("Enqueue() error = %v", err)
		}
		if _, err := b.LeaseNext(ctx, "plan"); err != nil {
			t.Fatalf("LeaseNext() error = %v", err)
		}
		if err := b.Ack(ctx, "plan", j.ID); err != nil {
			t.Fatalf("Ack() error = %v", err)
		}
	}

	if err := b.Sweep(ctx, "plan", job.RetentionPolicy{KeepLastCompleted: 2}); err != nil {
		t.Fatalf("Sweep() error = %v", err)
	}

	counts, err := b.Counts(ctx, "plan")
	if err != nil {
		t.Fatalf("Counts() error = %v", err)
	}
	if counts.Completed != 2 {
		t.Errorf("Completed = %d, want 2 after sweep", counts.Completed)
	}
}
