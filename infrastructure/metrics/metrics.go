// Package metrics provides Prometheus metrics collection
package metrics

import (
	"os"
	"strings"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/sagexd08/autofi-core/infrastructure/runtime"
)

// Metrics holds all Prometheus metrics
type Metrics struct {
	// HTTP metrics
	RequestsTotal    *prometheus.CounterVec
	RequestDuration  *prometheus.HistogramVec
	RequestsInFlight prometheus.Gauge

	// Error metrics
	ErrorsTotal *prometheus.CounterVec

	// Business metrics
	BlockchainTxTotal    *prometheus.CounterVec
	BlockchainTxDuration *prometheus.HistogramVec

	// Job Coordinator / queue metrics
	JobsEnqueuedTotal *prometheus.CounterVec
	JobsCompletedTotal *prometheus.CounterVec
	JobsFailedTotal    *prometheus.CounterVec
	JobDuration        *prometheus.HistogramVec
	QueueDepth         *prometheus.GaugeVec

	// Approval State Machine metrics
	ApprovalsCreatedTotal  *prometheus.CounterVec
	ApprovalsResolvedTotal *prometheus.CounterVec
	ApprovalPendingGauge   *prometheus.GaugeVec

	// Event Bus metrics
	EventsPublishedTotal  *prometheus.CounterVec
	EventSubscribersGauge *prometheus.GaugeVec

	// Database metrics
	DatabaseQueriesTotal    *prometheus.CounterVec
	DatabaseQueryDuration   *prometheus.HistogramVec
	DatabaseConnectionsOpen prometheus.Gauge

	// Service health
	ServiceUptime prometheus.Gauge
	ServiceInfo   *prometheus.GaugeVec
}

// New creates a new Metrics instance with all collectors registered
func New(serviceName string) *Metrics {
	return NewWithRegistry(serviceName, prometheus.DefaultRegisterer)
}

// NewWithRegistry creates a new Metrics instance with a custom registry
func NewWithRegistry(serviceName string, registerer prometheus.Registerer) *Metrics {
	m := &Metrics{
		// HTTP metrics
		RequestsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "http_requests_total",
				Help: "Total number of HTTP requests",
			},
			[]string{"service", "method", "path", "status"},
		),
		RequestDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "http_request_duration_seconds",
				Help:    "HTTP request duration in seconds",
				Buckets: []float64{.001, .005, .01, .025, .05, .1, .25, .5, 1, 2.5, 5, 10},
			},
			[]string{"service", "method", "path"},
		),
		RequestsInFlight: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Name: "http_requests_in_flight",
				Help: "Current number of HTTP requests being processed",
			},
		),

		// Error metrics
		ErrorsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "errors_total",
				Help: "Total number of errors",
			},
			[]string{"service", "type", "operation"},
		),

		// Business metrics
		BlockchainTxTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "blockchain_transactions_total",
				Help: "Total number of blockchain transactions",
			},
			[]string{"service", "chain", "operation", "status"},
		),
		BlockchainTxDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "blockchain_transaction_duration_seconds",
				Help:    "Blockchain transaction duration in seconds",
				Buckets: []float64{.1, .5, 1, 2, 5, 10, 30, 60, 120},
			},
			[]string{"service", "chain", "operation"},
		),

		JobsEnqueuedTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "job_enqueued_total",
				Help: "Total number of jobs enqueued, by queue",
			},
			[]string{"service", "queue", "priority"},
		),
		JobsCompletedTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "job_completed_total",
				Help: "Total number of jobs that completed successfully",
			},
			[]string{"service", "queue"},
		),
		JobsFailedTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "job_failed_total",
				Help: "Total number of jobs that failed, by terminal disposition",
			},
			[]string{"service", "queue", "reason"},
		),
		JobDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "job_duration_seconds",
				Help:    "Job processing duration from lease to ack/fail, in seconds",
				Buckets: []float64{.05, .1, .5, 1, 5, 10, 30, 60, 300},
			},
			[]string{"service", "queue"},
		),
		QueueDepth: prometheus.NewGaugeVec(
			prometheus.GaugeOpts{
				Name: "queue_depth",
				Help: "Current number of jobs waiting or delayed in a queue",
			},
			[]string{"service", "queue", "state"},
		),

		ApprovalsCreatedTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "approval_created_total",
				Help: "Total number of approval requests created, by risk level",
			},
			[]string{"service", "risk_level"},
		),
		ApprovalsResolvedTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "approval_resolved_total",
				Help: "Total number of approval requests resolved, by outcome",
			},
			[]string{"service", "outcome"},
		),
		ApprovalPendingGauge: prometheus.NewGaugeVec(
			prometheus.GaugeOpts{
				Name: "approval_pending",
				Help: "Current number of approval requests awaiting resolution, by risk level",
			},
			[]string{"service", "risk_level"},
		),

		EventsPublishedTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "events_published_total",
				Help: "Total number of Event Bus publishes, by event type",
			},
			[]string{"service", "event_type"},
		),
		EventSubscribersGauge: prometheus.NewGaugeVec(
			prometheus.GaugeOpts{
				Name: "event_subscribers",
				Help: "Current number of live Event Bus subscribers",
			},
			[]string{"service"},
		),

		// Database metrics
		DatabaseQueriesTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "database_queries_total",
				Help: "Total number of database queries",
			},
			[]string{"service", "operation", "status"},
		),
		DatabaseQueryDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "database_query_duration_seconds",
				Help:    "Database query duration in seconds",
				Buckets: []float64{.001, .005, .01, .025, .05, .1, .25, .5, 1},
			},
			[]string{"service", "operation"},
		),
		DatabaseConnectionsOpen: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Name: "database_connections_open",
				Help: "Current number of open database connections",
			},
		),

		// Service health
		ServiceUptime: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Name: "service_uptime_seconds",
				Help: "Service uptime in seconds",
			},
		),
		ServiceInfo: prometheus.NewGaugeVec(
			prometheus.GaugeOpts{
				Name: "service_info",
				Help: "Service information",
			},
			[]string{"service", "version", "environment"},
		),
	}

	// Register all collectors
	if registerer != nil {
		registerer.MustRegister(
			m.RequestsTotal,
			m.RequestDuration,
			m.RequestsInFlight,
			m.ErrorsTotal,
			m.BlockchainTxTotal,
			m.BlockchainTxDuration,
			m.JobsEnqueuedTotal,
			m.JobsCompletedTotal,
			m.JobsFailedTotal,
			m.JobDuration,
			m.QueueDepth,
			m.ApprovalsCreatedTotal,
			m.ApprovalsResolvedTotal,
			m.ApprovalPendingGauge,
			m.EventsPublishedTotal,
			m.EventSubscribersGauge,
			m.DatabaseQueriesTotal,
			m.DatabaseQueryDuration,
			m.DatabaseConnectionsOpen,
			m.ServiceUptime,
			m.ServiceInfo,
		)
	}

	// Set service info
	m.ServiceInfo.WithLabelValues(serviceName, "1.0.0", getEnvironment()).Set(1)

	return m
}

// RecordHTTPRequest records an HTTP request
func (m *Metrics) RecordHTTPRequest(service, method, path, status string, duration time.Duration) {
	m.RequestsTotal.WithLabelValues(service, method, path, status).Inc()
	m.RequestDuration.WithLabelValues(service, method, path).Observe(duration.Seconds())
}

// RecordError records an error
func (m *Metrics) RecordError(service, errorType, operation string) {
	m.ErrorsTotal.WithLabelValues(service, errorType, operation).Inc()
}

// RecordBlockchainTx records a blockchain transaction
func (m *Metrics) RecordBlockchainTx(service, chain, operation, status string, duration time.Duration) {
	m.BlockchainTxTotal.WithLabelValues(service, chain, operation, status).Inc()
	m.BlockchainTxDuration.WithLabelValues(service, chain, operation).Observe(duration.Seconds())
}

// RecordJobEnqueued records a job being admitted to a queue.
func (m *Metrics) RecordJobEnqueued(service, queue, priority string) {
	m.JobsEnqueuedTotal.WithLabelValues(service, queue, priority).Inc()
}

// RecordJobCompleted records a job reaching a successful terminal state.
func (m *Metrics) RecordJobCompleted(service, queue string, duration time.Duration) {
	m.JobsCompletedTotal.WithLabelValues(service, queue).Inc()
	m.JobDuration.WithLabelValues(service, queue).Observe(duration.Seconds())
}

// RecordJobFailed records a job reaching a failed terminal state.
func (m *Metrics) RecordJobFailed(service, queue, reason string, duration time.Duration) {
	m.JobsFailedTotal.WithLabelValues(service, queue, reason).Inc()
	m.JobDuration.WithLabelValues(service, queue).Observe(duration.Seconds())
}

// SetQueueDepth sets the current waiting/active/delayed count for a queue.
func (m *Metrics) SetQueueDepth(service, queue, state string, count int) {
	m.QueueDepth.WithLabelValues(service, queue, state).Set(float64(count))
}

// RecordApprovalCreated records a new approval request.
func (m *Metrics) RecordApprovalCreated(service, riskLevel string) {
	m.ApprovalsCreatedTotal.WithLabelValues(service, riskLevel).Inc()
}

// RecordApprovalResolved records an approval reaching a resolved state.
func (m *Metrics) RecordApprovalResolved(service, outcome string) {
	m.ApprovalsResolvedTotal.WithLabelValues(service, outcome).Inc()
}

// SetApprovalPending sets the current pending-approval count for a risk level.
func (m *Metrics) SetApprovalPending(service, riskLevel string, count int) {
	m.ApprovalPendingGauge.WithLabelValues(service, riskLevel).Set(float64(count))
}

// RecordEventPublished records one Event Bus publish.
func (m *Metrics) RecordEventPublished(service, eventType string) {
	m.EventsPublishedTotal.WithLabelValues(service, eventType).Inc()
}

// SetEventSubscribers sets the current Event Bus subscriber count.
func (m *Metrics) SetEventSubscribers(service string, count int) {
	m.EventSubscribersGauge.WithLabelValues(service).Set(float64(count))
}

// RecordDatabaseQuery records a database query
func (m *Metrics) RecordDatabaseQuery(service, operation, status string, duration time.Duration) {
	m.DatabaseQueriesTotal.WithLabelValues(service, operation, status).Inc()
	m.DatabaseQueryDuration.WithLabelValues(service, operation).Observe(duration.Seconds())
}

// SetDatabaseConnections sets the number of open database connections
func (m *Metrics) SetDatabaseConnections(count int) {
	m.DatabaseConnectionsOpen.Set(float64(count))
}

// UpdateUptime updates the service uptime
func (m *Metrics) UpdateUptime(startTime time.Time) {
	m.ServiceUptime.Set(time.Since(startTime).Seconds())
}

// IncrementInFlight increments the in-flight requests counter
func (m *Metrics) IncrementInFlight() {
	m.RequestsInFlight.Inc()
}

// DecrementInFlight decrements the in-flight requests counter
func (m *Metrics) DecrementInFlight() {
	m.RequestsInFlight.Dec()
}

// Helper functions

func getEnvironment() string {
	return string(runtime.Env())
}

// Enabled returns whether Prometheus metrics should be exposed.
//
// Defaults:
// - production: disabled unless explicitly enabled via METRICS_ENABLED
// - non-production: enabled unless explicitly disabled via METRICS_ENABLED
func Enabled() bool {
	raw := strings.ToLower(strings.TrimSpace(os.Getenv("METRICS_ENABLED")))
	if raw == "" {
		return !runtime.IsProduction()
	}
	switch raw {
	case "1", "true", "yes", "on":
		return true
	default:
		return false
	}
}

// Global metrics instance
var (
	globalMetrics *Metrics
	globalMu      sync.Mutex
)

// Init initializes the global metrics instance
func Init(serviceName string) *Metrics {
	globalMu.Lock()
	defer globalMu.Unlock()

	if globalMetrics == nil {
		globalMetrics = New(serviceName)
	}
	return globalMetrics
}

// Global returns the global metrics instance
func Global() *Metrics {
	globalMu.Lock()
	defer globalMu.Unlock()

	if globalMetrics == nil {
		globalMetrics = New("unknown")
	}
	return globalMetrics
}
