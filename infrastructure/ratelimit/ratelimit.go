package ratelimit

import (
	"context"
	"net/http"
	"sync"
	"time"

	"golang.org/x/time/rate"
)

type RateLimitConfig struct {
	RequestsPerSecond float64
	Burst             int
	Window            time.Duration
}

func DefaultConfig() RateLimitConfig {
	return RateLimitConfig{
		RequestsPerSecond: 100,
		Burst:             200,
		Window:            time.Second,
	}
}

type RateLimiter struct {
	limiter   *rate.Limiter
	perMinute *rate.Limiter
	mu        sync.RWMutex
	config    RateLimitConfig
}

func New(cfg RateLimitConfig) *RateLimiter {
	if cfg.RequestsPerSecond <= 0 {
		cfg.RequestsPerSecond = 100
	}
	if cfg.Burst <= 0 {
		cfg.Burst = int(cfg.RequestsPerSecond * 2)
	}

	return &RateLimiter{
		limiter:   rate.NewLimiter(rate.Limit(cfg.RequestsPerSecond), cfg.Burst),
		perMinute: rate.NewLimiter(rate.Limit(cfg.RequestsPerSecond*60), cfg.Burst*2),
		config:    cfg,
	}
}

func (r *RateLimiter) Allow() bool {
	return r.limiter.Allow()
}

func (r *RateLimiter) AllowN(now time.Time, n int) bool {
	return r.limiter.AllowN(now, n)
}

func (r *RateLimiter) Wait(ctx context.Context) error {
	return r.limiter.Wait(ctx)
}

func (r *RateLimiter) LimitExceeded() bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return !r.limiter.Allow()
}

func (r *RateLimiter) PerMinuteLimitExceeded() bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return !r.perMinute.Allow()
}

func (r *RateLimiter) Reset() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.limiter = rate.NewLimiter(rate.Limit(r.config.RequestsPerSecond), r.config.Burst)
	r.perMinute = rate.NewLimiter(rate.Limit(r.config.RequestsPerSecond*60), r.config.Burst*2)
}

type RateLimitedClient struct {
	client  *http.Client
	limiter *RateLimiter
}

func NewRateLimitedClient(client *http.Client, cfg RateLimitConfig) *RateLimitedClient {
	return &RateLimitedClient{
		client:  client,
		limiter: New(cfg),
	}
}

func (c *RateLimitedClient) Do(req *http.Request) (*http.Response, error) {
	if err := c.limiter.Wait(req.Context()); err != nil {
		return nil, err
	}
	return c.client.Do(req)
}

func (c *RateLimitedClient) Allow() bool {
	return c.limiter.Allow()
}

func (c *RateLimitedClient) LimitExceeded() bool {
	return c.limiter.LimitExceeded()
}

// SlidingWindow bounds how many units of work may start within a trailing
// window, for cases where a precise count over a fixed interval matters
// more than smoothed throughput. txworker keeps one per chain to bound
// broadcasts; it is independent of the token-bucket RateLimiter.
type SlidingWindow struct {
	mu     sync.Mutex
	window time.Duration
	limit  int
	events []time.Time
}

// NewSlidingWindow builds a window allowing at most limit events in any
// trailing span of the given duration.
func NewSlidingWindow(window time.Duration, limit int) *SlidingWindow {
	if limit <= 0 {
		limit = 1
	}
	return &SlidingWindow{window: window, limit: limit}
}

// Allow admits one event at now if the trailing window has room, recording
// it and returning true, or returning false without recording it.
func (w *SlidingWindow) Allow(now time.Time) bool {
	w.mu.Lock()
	defer w.mu.Unlock()

	cutoff := now.Add(-w.window)
	kept := w.events[:0]
	for _, t := range w.events {
		if t.After(cutoff) {
			kept = append(kept, t)
		}
	}
	w.events = kept

	if len(w.events) >= w.limit {
		return false
	}
	w.events = append(w.events, now)
	return true
}

// Count returns the number of events currently inside the trailing window.
func (w *SlidingWindow) Count(now time.Time) int {
	w.mu.Lock()
	defer w.mu.Unlock()

	cutoff := now.Add(-w.window)
	n := 0
	for _, t := range w.events {
		if t.After(cutoff) {
			n++
		}
	}
	return n
}
