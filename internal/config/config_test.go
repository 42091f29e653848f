package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestDefaultValidates(t *testing.T) {
	cfg := Default()
	if err := cfg.Validate(); err != nil {
		t.Fatalf("Default() config should validate: %v", err)
	}
}

func TestValidateRejectsOutOfOrderTimelocks(t *testing.T) {
	cfg := Default()
	cfg.Timelocks.ResolverSeconds = cfg.Timelocks.FinalitySeconds
	if err := cfg.Validate(); err == nil {
		t.Fatal("expected error for non-increasing timelocks")
	}
}

func TestValidateRejectsMinAboveMax(t *testing.T) {
	cfg := Default()
	cfg.Limits.MinAmount = "100"
	cfg.Limits.MaxAmount = "50"
	if err := cfg.Validate(); err == nil {
		t.Fatal("expected error when min > max")
	}
}

func TestValidateRejectsBadPrivateKey(t *testing.T) {
	cfg := Default()
	cfg.EVM.PrivateKey = "not-hex"
	if err := cfg.Validate(); err == nil {
		t.Fatal("expected error for malformed private key")
	}
}

func TestLoadFromYAMLFile(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	contents := `
evm:
  rpcUrl: "https://evm.example/rpc"
solana:
  rpcUrl: "https://solana.example/rpc"
limits:
  minAmount: "1000"
  maxAmount: "5000000"
  maxConcurrentSwaps: 3
testMode: true
`
	if err := os.WriteFile(path, []byte(contents), 0o600); err != nil {
		t.Fatalf("write config: %v", err)
	}

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.EVM.RPCURL != "https://evm.example/rpc" {
		t.Errorf("EVM.RPCURL = %s", cfg.EVM.RPCURL)
	}
	if cfg.Limits.MaxConcurrentSwaps != 3 {
		t.Errorf("MaxConcurrentSwaps = %d, want 3", cfg.Limits.MaxConcurrentSwaps)
	}
	if !cfg.TestMode {
		t.Error("TestMode = false, want true")
	}
}

func TestLoadMissingFileFallsBackToDefaults(t *testing.T) {
	cfg, err := Load(filepath.Join(t.TempDir(), "does-not-exist.yaml"))
	if err != nil {
		t.Fatalf("Load with missing file should not error: %v", err)
	}
	if cfg.Limits.MaxConcurrentSwaps != Default().Limits.MaxConcurrentSwaps {
		t.Error("expected defaults when file is absent")
	}
}

func TestEnvOverridesTakePrecedence(t *testing.T) {
	t.Setenv("EVM_RPC_URL", "https://override.example/rpc")
	t.Setenv("LIMITS_MAX_CONCURRENT_SWAPS", "42")

	cfg, err := Load("")
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.EVM.RPCURL != "https://override.example/rpc" {
		t.Errorf("EVM.RPCURL = %s, want override", cfg.EVM.RPCURL)
	}
	if cfg.Limits.MaxConcurrentSwaps != 42 {
		t.Errorf("MaxConcurrentSwaps = %d, want 42", cfg.Limits.MaxConcurrentSwaps)
	}
}

func TestTimelockWindowOrdering(t *testing.T) {
	cfg := Default()
	f, r, p, c := cfg.TimelockWindow(time.Now())
	if !(f < r && r < p && p < c) {
		t.Errorf("timelock window not strictly increasing: %d %d %d %d", f, r, p, c)
	}
}
