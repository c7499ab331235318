// Package config loads execution-core configuration from the process
// environment (optionally seeded from a local .env file in development),
// binding struct tags with envdecode the way the teacher's services do.
package config

import (
	"fmt"
	"strings"

	"github.com/joeshaw/envdecode"
	"github.com/joho/godotenv"

	"github.com/sagexd08/autofi-core/infrastructure/runtime"
)

// QueueConcurrency holds the per-pool worker parallelism (spec §6).
type QueueConcurrency struct {
	Plan         int `env:"QUEUE_PLAN_CONCURRENCY,default=3"`
	Transaction  int `env:"QUEUE_TRANSACTION_CONCURRENCY,default=5"`
	Simulation   int `env:"QUEUE_SIMULATION_CONCURRENCY,default=10"`
	Notification int `env:"QUEUE_NOTIFICATION_CONCURRENCY,default=10"`
}

// RetentionPolicy bounds how many completed/failed jobs a queue retains
// after a retention sweep (spec §6 `retention`).
type RetentionPolicy struct {
	KeepLastCompleted int `env:"QUEUE_RETENTION_KEEP_COMPLETED,default=100"`
	KeepLastFailed    int `env:"QUEUE_RETENTION_KEEP_FAILED,default=500"`
}

// RiskConfig holds the risk-banding thresholds (spec §3, §6, §8 invariant 5/10).
type RiskConfig struct {
	ApprovalThreshold float64 `env:"RISK_APPROVAL_THRESHOLD,default=0.5"`
	HighThreshold     float64 `env:"RISK_HIGH_THRESHOLD,default=0.7"`
	BlockThreshold    float64 `env:"RISK_BLOCK_THRESHOLD,default=0.85"`
	MaxRiskScore      float64 `env:"RISK_MAX_SCORE,default=0.95"`
}

// Config is the execution core's full configuration surface.
type Config struct {
	ServiceName string `env:"SERVICE_NAME,default=autofi-core"`
	Environment string `env:"APP_ENV,default=development"`

	LogLevel  string `env:"LOG_LEVEL,default=info"`
	LogFormat string `env:"LOG_FORMAT,default=json"`

	HTTPAddr string `env:"HTTP_ADDR,default=:8080"`

	RedisAddr     string `env:"REDIS_ADDR,default=localhost:6379"`
	RedisPassword string `env:"REDIS_PASSWORD"`
	RedisDB       int    `env:"REDIS_DB,default=0"`

	DatabaseURL string `env:"DATABASE_URL"`

	Queue     QueueConcurrency
	Retention RetentionPolicy
	Risk      RiskConfig

	// ChainRPCOverridesRaw holds the raw CHAIN_RPC_OVERRIDES value and is
	// parsed separately by the ChainRPCOverrides method, since envdecode
	// cannot bind an arbitrary-keyed map; CHAIN_RPC_OVERRIDES is a
	// comma-separated chainID=url list (spec §6 `chain-rpc-overrides`).
	ChainRPCOverridesRaw string `env:"CHAIN_RPC_OVERRIDES"`

	MetricsEnabled bool `env:"METRICS_ENABLED"`

	// ResourceAlertRSSBytes and ResourceAlertCPUPercent gate the gopsutil-backed
	// system:alert watcher (SPEC_FULL §6 supplement).
	ResourceAlertRSSBytes   uint64  `env:"RESOURCE_ALERT_RSS_BYTES,default=1073741824"`
	ResourceAlertCPUPercent float64 `env:"RESOURCE_ALERT_CPU_PERCENT,default=90"`
}

// Load reads a local .env file (if present, development convenience only)
// and decodes the process environment into a Config.
func Load() (*Config, error) {
	_ = godotenv.Load()

	var cfg Config
	if err := envdecode.Decode(&cfg); err != nil {
		return nil, fmt.Errorf("config: decode failed: %w", err)
	}
	return &cfg, nil
}

// IsProduction reports whether the configured environment is production.
func (c *Config) IsProduction() bool {
	env, _ := runtime.ParseEnvironment(c.Environment)
	return env == runtime.Production
}

// ChainRPCOverrides parses ChainRPCOverridesRaw ("42220=https://...,1=https://...")
// into a chain-id -> endpoint map. Malformed entries are skipped.
func (c *Config) ChainRPCOverrides() map[int64]string {
	out := make(map[int64]string)
	if strings.TrimSpace(c.ChainRPCOverridesRaw) == "" {
		return out
	}
	for _, pair := range strings.Split(c.ChainRPCOverridesRaw, ",") {
		pair = strings.TrimSpace(pair)
		if pair == "" {
			continue
		}
		parts := strings.SplitN(pair, "=", 2)
		if len(parts) != 2 {
			continue
		}
		var chainID int64
		if _, err := fmt.Sscanf(strings.TrimSpace(parts[0]), "%d", &chainID); err != nil {
			continue
		}
		out[chainID] = strings.TrimSpace(parts[1])
	}
	return out
}
