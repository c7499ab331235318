package config

import (
	"os"
	"testing"
)

func clearEnv(t *testing.T, keys ...string) {
	t.Helper()
	for _, k := range keys {
		saved, ok := os.LookupEnv(k)
		os.Unsetenv(k)
		if ok {
			t.Cleanup(func() { os.Setenv(k, saved) })
		}
	}
}

func TestLoad_Defaults(t *testing.T) {
	clearEnv(t, "QUEUE_PLAN_CONCURRENCY", "QUEUE_TRANSACTION_CONCURRENCY",
		"RISK_APPROVAL_THRESHOLD", "RISK_MAX_SCORE", "APP_ENV")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}

	if cfg.Queue.Plan != 3 {
		t.Errorf("Queue.Plan = %d, want 3", cfg.Queue.Plan)
	}
	if cfg.Queue.Transaction != 5 {
		t.Errorf("Queue.Transaction = %d, want 5", cfg.Queue.Transaction)
	}
	if cfg.Queue.Simulation != 10 {
		t.Errorf("Queue.Simulation = %d, want 10", cfg.Queue.Simulation)
	}
	if cfg.Risk.ApprovalThreshold != 0.5 {
		t.Errorf("Risk.ApprovalThreshold = %v, want 0.5", cfg.Risk.ApprovalThreshold)
	}
	if cfg.Risk.MaxRiskScore != 0.95 {
		t.Errorf("Risk.MaxRiskScore = %v, want 0.95", cfg.Risk.MaxRiskScore)
	}
}

func TestLoad_Overrides(t *testing.T) {
	clearEnv(t, "QUEUE_PLAN_CONCURRENCY", "RISK_APPROVAL_THRESHOLD")
	os.Setenv("QUEUE_PLAN_CONCURRENCY", "7")
	os.Setenv("RISK_APPROVAL_THRESHOLD", "0.6")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}

	if cfg.Queue.Plan != 7 {
		t.Errorf("Queue.Plan = %d, want 7", cfg.Queue.Plan)
	}
	if cfg.Risk.ApprovalThreshold != 0.6 {
		t.Errorf("Risk.ApprovalThreshold = %v, want 0.6", cfg.Risk.ApprovalThreshold)
	}
}

func TestConfig_IsProduction(t *testing.T) {
	cfg := &Config{Environment: "production"}
	if !cfg.IsProduction() {
		t.Error("expected IsProduction() true for production")
	}

	cfg.Environment = "development"
	if cfg.IsProduction() {
		t.Error("expected IsProduction() false for development")
	}
}

func TestConfig_ChainRPCOverrides(t *testing.T) {
	cfg := &Config{ChainRPCOverridesRaw: "42220=https://forno.celo.org, 1=https://eth.example.com"}

	overrides := cfg.ChainRPCOverrides()
	if len(overrides) != 2 {
		t.Fatalf("len(overrides) = %d, want 2", len(overrides))
	}
	if overrides[42220] != "https://forno.celo.org" {
		t.Errorf("overrides[42220] = %v", overrides[42220])
	}
	if overrides[1] != "https://eth.example.com" {
		t.Errorf("overrides[1] = %v", overrides[1])
	}
}

func TestConfig_ChainRPCOverrides_Empty(t *testing.T) {
	cfg := &Config{}
	if got := cfg.ChainRPCOverrides(); len(got) != 0 {
		t.Errorf("expected empty map, got %v", got)
	}
}

func TestConfig_ChainRPCOverrides_MalformedSkipped(t *testing.T) {
	cfg := &Config{ChainRPCOverridesRaw: "not-a-pair,42220=https://forno.celo.org"}

	overrides := cfg.ChainRPCOverrides()
	if len(overrides) != 1 {
		t.Fatalf("len(overrides) = %d, want 1", len(overrides))
	}
	if overrides[42220] != "https://forno.celo.org" {
		t.Errorf("overrides[42220] = %v", overrides[42220])
	}
}
