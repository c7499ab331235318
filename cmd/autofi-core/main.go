// Command autofi-core runs the job-processing core: the Job Coordinator's
// worker pools, the Approval State Machine's expiry sweep, the Event Bus
// (with its websocket push bridge), and a thin HTTP surface for health,
// metrics and Event Bus stats.
package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-redis/redis/v8"
	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/sagexd08/autofi-core/approval"
	"github.com/sagexd08/autofi-core/coordinator"
	"github.com/sagexd08/autofi-core/domain/chain"
	"github.com/sagexd08/autofi-core/domain/job"
	"github.com/sagexd08/autofi-core/domain/transaction"
	"github.com/sagexd08/autofi-core/eventbus"
	"github.com/sagexd08/autofi-core/infrastructure/audit"
	auditpostgres "github.com/sagexd08/autofi-core/infrastructure/audit/postgres"
	"github.com/sagexd08/autofi-core/infrastructure/chainadapter"
	"github.com/sagexd08/autofi-core/infrastructure/config"
	"github.com/sagexd08/autofi-core/infrastructure/logging"
	"github.com/sagexd08/autofi-core/infrastructure/metrics"
	"github.com/sagexd08/autofi-core/infrastructure/queue"
	"github.com/sagexd08/autofi-core/store"
	"github.com/sagexd08/autofi-core/watcher"
	"github.com/sagexd08/autofi-core/workers/notifyworker"
	"github.com/sagexd08/autofi-core/workers/planworker"
	"github.com/sagexd08/autofi-core/workers/simworker"
	"github.com/sagexd08/autofi-core/workers/txworker"
)

func main() {
	addr := flag.String("addr", "", "HTTP listen address (overrides config HTTP_ADDR)")
	inMemory := flag.Bool("in-memory", false, "use the in-memory queue backend instead of Redis")
	webhookURL := flag.String("notify-webhook", "", "webhook URL the Notification Worker posts to (webhook channel disabled when empty)")
	flag.Parse()

	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("load config: %v", err)
	}

	logger := logging.New(cfg.ServiceName, cfg.LogLevel, cfg.LogFormat)
	logging.InitDefault(cfg.ServiceName, cfg.LogLevel, cfg.LogFormat)

	var metric *metrics.Metrics
	if metrics.Enabled() {
		metric = metrics.New(cfg.ServiceName)
	}

	backend := buildBackend(cfg, *inMemory, logger)

	bus := eventbus.New(logger, metric)

	band := transaction.RiskBand{
		ApprovalThreshold: cfg.Risk.ApprovalThreshold,
		HighThreshold:     cfg.Risk.HighThreshold,
		BlockThreshold:    cfg.Risk.BlockThreshold,
		MaxRiskScore:      cfg.Risk.MaxRiskScore,
	}
	approvalStore := approval.NewMemoryStore()
	auditStore := buildAuditStore(cfg, logger)

	planStore := store.NewMemoryPlanStore()
	txStore := store.NewMemoryTransactionStore()

	registry := buildChainRegistry(cfg)

	coord := coordinator.New(backend, bus, logger, metric)

	// machine needs txStore/coord wired in so resolving an approval can move
	// its linked transaction to QUEUED and enqueue the broadcast job itself
	// (spec §4.4 "Resolve paths"); planW needs machine wired in so a
	// risk-scored step's transaction is gated behind an approval instead of
	// going straight to QUEUED (spec §4.4/§4.6).
	machine := approval.New(approvalStore, band, bus, logger, metric, auditStore, txStore, coord)
	planW := planworker.New(planStore, txStore, machine, coord, bus, logger)
	txW := txworker.New(txStore, registry, bus, logger, metric)
	simW := simworker.New(registry, logger)

	notifySenders := []notifyworker.Sender{notifyworker.NewInAppSender(256)}
	if *webhookURL != "" {
		notifySenders = append(notifySenders, notifyworker.NewWebhookSender(*webhookURL))
	}
	notifyW := notifyworker.New(bus, logger, notifySenders...)

	coord.Register(coordinator.QueueSpec{
		Name:          "plan",
		Concurrency:   cfg.Queue.Plan,
		Retention:     job.RetentionPolicy{KeepLastCompleted: cfg.Retention.KeepLastCompleted, KeepLastFailed: cfg.Retention.KeepLastFailed},
		SweepSchedule: "@every 1m",
	}, planW.Process)
	coord.Register(coordinator.QueueSpec{
		Name:          "transaction",
		Concurrency:   cfg.Queue.Transaction,
		Retention:     job.RetentionPolicy{KeepLastCompleted: cfg.Retention.KeepLastCompleted, KeepLastFailed: cfg.Retention.KeepLastFailed},
		SweepSchedule: "@every 1m",
	}, txW.Process)
	coord.Register(coordinator.QueueSpec{
		Name:          "simulation",
		Concurrency:   cfg.Queue.Simulation,
		Retention:     job.RetentionPolicy{KeepLastCompleted: cfg.Retention.KeepLastCompleted, KeepLastFailed: cfg.Retention.KeepLastFailed},
		SweepSchedule: "@every 5m",
	}, simW.Process)
	coord.Register(coordinator.QueueSpec{
		Name:          "notification",
		Concurrency:   cfg.Queue.Notification,
		Retention:     job.RetentionPolicy{KeepLastCompleted: cfg.Retention.KeepLastCompleted, KeepLastFailed: cfg.Retention.KeepLastFailed},
		SweepSchedule: "@every 5m",
	}, notifyW.Process)

	rootCtx, cancelRoot := context.WithCancel(context.Background())
	defer cancelRoot()

	if err := coord.Start(rootCtx); err != nil {
		log.Fatalf("start coordinator: %v", err)
	}

	approvalSweepStop := make(chan struct{})
	go runApprovalSweep(rootCtx, machine, logger, approvalSweepStop)

	resWatcher := watcher.New(cfg.ResourceAlertRSSBytes, cfg.ResourceAlertCPUPercent, bus, logger)
	resWatcher.Start(rootCtx)

	listenAddr := determineAddr(*addr, cfg)
	httpServer := &http.Server{Addr: listenAddr, Handler: buildRouter(bus, metric)}

	go func() {
		logger.WithContext(rootCtx).Infof("autofi-core listening on %s", listenAddr)
		if err := httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatalf("http server: %v", err)
		}
	}()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	<-sigCh

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	close(approvalSweepStop)
	resWatcher.Stop()
	coord.Stop()
	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		log.Fatalf("shutdown http server: %v", err)
	}
}

func buildBackend(cfg *config.Config, inMemory bool, logger *logging.Logger) queue.Backend {
	if inMemory {
		return queue.NewMemoryBackend()
	}
	client := redis.NewClient(&redis.Options{
		Addr:     cfg.RedisAddr,
		Password: cfg.RedisPassword,
		DB:       cfg.RedisDB,
	})
	if err := client.Ping(context.Background()).Err(); err != nil {
		logger.Warn(context.Background(), "redis unreachable at startup, continuing (coordinator will retry on each lease)", map[string]interface{}{"addr": cfg.RedisAddr, "error": err.Error()})
	}
	return queue.NewRedisBackend(client, cfg.ServiceName)
}

// buildAuditStore backs the Approval Machine's audit trail with the
// Postgres-backed reference implementation when DATABASE_URL is set, and
// falls back to an in-memory store (adequate for local/dev runs and for
// the in-memory queue backend path) otherwise.
func buildAuditStore(cfg *config.Config, logger *logging.Logger) audit.Store {
	if cfg.DatabaseURL == "" {
		return audit.NewMemoryStore()
	}
	store, err := auditpostgres.Open(cfg.DatabaseURL)
	if err != nil {
		logger.Warn(context.Background(), "audit database unreachable at startup, falling back to in-memory audit store", map[string]interface{}{"error": err.Error()})
		return audit.NewMemoryStore()
	}
	return store
}

// buildChainRegistry wires one chainadapter.ReferenceAdapter per chain id
// found in CHAIN_RPC_OVERRIDES, plus the core set of chains the Transaction
// Broadcast Worker already knows how to label (txworker.chainLabel). A real
// deployment replaces these with RPC-backed chain.Adapter implementations;
// see DESIGN.md for why no concrete RPC adapter ships with this core.
func buildChainRegistry(cfg *config.Config) chain.Registry {
	chainIDs := map[int64]struct{}{1: {}, 42220: {}, 137: {}, 8453: {}}
	for id := range cfg.ChainRPCOverrides() {
		chainIDs[id] = struct{}{}
	}

	adapters := make([]chain.Adapter, 0, len(chainIDs))
	for id := range chainIDs {
		adapters = append(adapters, chainadapter.NewReferenceAdapter(id))
	}
	return chain.NewStaticRegistry(adapters...)
}

func runApprovalSweep(ctx context.Context, machine *approval.Machine, logger *logging.Logger, stop <-chan struct{}) {
	ticker := time.NewTicker(30 * time.Second)
	defer ticker.Stop()

	for {
		select {
		case <-stop:
			return
		case <-ctx.Done():
			return
		case <-ticker.C:
			n, err := machine.SweepExpired(ctx)
			if err != nil {
				logger.Error(ctx, "approval expiry sweep failed", err, nil)
				continue
			}
			if n > 0 {
				logger.WithContext(ctx).WithFields(map[string]interface{}{"expired": n}).Info("approval expiry sweep resolved pending approvals")
			}
		}
	}
}

func buildRouter(bus *eventbus.Bus, metric *metrics.Metrics) *mux.Router {
	r := mux.NewRouter()
	r.HandleFunc("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok"))
	}).Methods(http.MethodGet)

	r.HandleFunc("/stats", func(w http.ResponseWriter, _ *http.Request) {
		stats := bus.Stats()
		w.Header().Set("Content-Type", "application/json")
		fmt.Fprintf(w, `{"subscribers":%d,"stalled":%d}`, stats.Subscribers, stats.Stalled)
	}).Methods(http.MethodGet)

	r.Handle("/events", eventbus.NewWebSocketBridge(bus))

	if metric != nil {
		r.Handle("/metrics", promhttp.Handler()).Methods(http.MethodGet)
	}
	return r
}

func determineAddr(flagAddr string, cfg *config.Config) string {
	if flagAddr != "" {
		return flagAddr
	}
	if cfg.HTTPAddr != "" {
		return cfg.HTTPAddr
	}
	return ":8080"
}
