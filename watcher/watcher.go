// Package watcher periodically samples this process's own resource usage
// and publishes a SystemAlert event when it crosses the configured
// thresholds (SPEC_FULL.md §6 supplement).
package watcher

import (
	"context"
	"os"
	"sync"
	"time"

	"github.com/shirou/gopsutil/v3/process"

	"github.com/sagexd08/autofi-core/domain/event"
	"github.com/sagexd08/autofi-core/eventbus"
	"github.com/sagexd08/autofi-core/infrastructure/logging"
)

// Interval is how often the watcher samples the process.
const Interval = 15 * time.Second

// Watcher samples RSS and CPU usage for the running process and publishes
// SystemAlert events to the Event Bus when either exceeds its threshold.
type Watcher struct {
	rssThreshold uint64
	cpuThreshold float64
	bus          *eventbus.Bus
	logger       *logging.Logger

	proc *process.Process

	stopOnce sync.Once
	stopCh   chan struct{}
	wg       sync.WaitGroup
}

// New builds a Watcher over the current process. logger may be nil.
func New(rssThreshold uint64, cpuThreshold float64, bus *eventbus.Bus, logger *logging.Logger) *Watcher {
	if logger == nil {
		logger = logging.Default()
	}
	proc, err := process.NewProcess(int32(os.Getpid()))
	if err != nil {
		logger.Warn(context.Background(), "resource watcher could not attach to self process", map[string]interface{}{"error": err.Error()})
	}
	return &Watcher{
		rssThreshold: rssThreshold,
		cpuThreshold: cpuThreshold,
		bus:          bus,
		logger:       logger,
		proc:         proc,
		stopCh:       make(chan struct{}),
	}
}

// Start launches the sampling loop in a goroutine. It returns immediately.
func (w *Watcher) Start(ctx context.Context) {
	if w.proc == nil {
		return
	}
	w.wg.Add(1)
	go w.run(ctx)
}

// Stop signals the sampling loop to exit and waits for it to finish.
func (w *Watcher) Stop() {
	w.stopOnce.Do(func() { close(w.stopCh) })
	w.wg.Wait()
}

func (w *Watcher) run(ctx context.Context) {
	defer w.wg.Done()

	ticker := time.NewTicker(Interval)
	defer ticker.Stop()

	for {
		select {
		case <-w.stopCh:
			return
		case <-ctx.Done():
			return
		case <-ticker.C:
			w.sample(ctx)
		}
	}
}

func (w *Watcher) sample(ctx context.Context) {
	memInfo, err := w.proc.MemoryInfoWithContext(ctx)
	if err != nil {
		w.logger.Warn(ctx, "resource watcher failed to read memory info", map[string]interface{}{"error": err.Error()})
		return
	}
	cpuPct, err := w.proc.CPUPercentWithContext(ctx)
	if err != nil {
		w.logger.Warn(ctx, "resource watcher failed to read cpu percent", map[string]interface{}{"error": err.Error()})
		return
	}

	if memInfo.RSS < w.rssThreshold && cpuPct < w.cpuThreshold {
		return
	}

	if w.bus == nil {
		return
	}
	w.bus.Publish(ctx, event.New(event.SystemAlert, map[string]any{
		"rss_bytes":     memInfo.RSS,
		"rss_threshold": w.rssThreshold,
		"cpu_percent":   cpuPct,
		"cpu_threshold": w.cpuThreshold,
	}))
}
