// Package config provides centralized configuration for the swap coordinator.
// Every parameter the engine or its chain adapters need is enumerated here —
// no free-form config bags, no hardcoded values elsewhere in the codebase.
package config

import (
	"fmt"
	"math/big"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/klingon-exchange/swapd/pkg/helpers"
	"gopkg.in/yaml.v3"
)

// EVMConfig holds the parameters for the EVM-side chain adapter.
type EVMConfig struct {
	RPCURL          string `yaml:"rpcUrl"`
	RPCWSURL        string `yaml:"rpcWsUrl,omitempty"`
	PrivateKey      string `yaml:"privateKey"`
	TokenAddress    string `yaml:"tokenAddress"`
	HTLCFactoryAddr string `yaml:"htlcFactoryAddress"`
}

// SolanaConfig holds the parameters for the Solana-side chain adapter.
type SolanaConfig struct {
	RPCURL    string `yaml:"rpcUrl"`
	RPCWSURL  string `yaml:"rpcWsUrl,omitempty"`
	Keypair   string `yaml:"keypair"`
	ProgramID string `yaml:"programId"`
	TokenMint string `yaml:"tokenMint"`
}

// TimelockConfig holds the four HTLC phase durations, in seconds, measured
// from swap creation: finality, resolver-exclusive, public, cancellation.
type TimelockConfig struct {
	FinalitySeconds     uint64 `yaml:"finality"`
	ResolverSeconds     uint64 `yaml:"resolver"`
	PublicSeconds       uint64 `yaml:"public"`
	CancellationSeconds uint64 `yaml:"cancellation"`
}

// DefaultTimelockConfig returns the coordinator's default durations:
// F=30, R=F+60, P=R+300, C=P+600.
func DefaultTimelockConfig() TimelockConfig {
	return TimelockConfig{
		FinalitySeconds:     30,
		ResolverSeconds:     90,
		PublicSeconds:       390,
		CancellationSeconds: 990,
	}
}

// LimitsConfig bounds swap amounts and concurrency.
type LimitsConfig struct {
	MinAmount          string `yaml:"minAmount"`
	MaxAmount          string `yaml:"maxAmount"`
	MaxConcurrentSwaps int    `yaml:"maxConcurrentSwaps"`
}

// MinAmountBig parses MinAmount as an opaque smallest-unit integer.
func (l LimitsConfig) MinAmountBig() (*big.Int, error) {
	return parseDecimalAmount(l.MinAmount, "limits.minAmount")
}

// MaxAmountBig parses MaxAmount as an opaque smallest-unit integer. A zero
// or empty MaxAmount means "no limit".
func (l LimitsConfig) MaxAmountBig() (*big.Int, error) {
	if strings.TrimSpace(l.MaxAmount) == "" {
		return big.NewInt(0), nil
	}
	return parseDecimalAmount(l.MaxAmount, "limits.maxAmount")
}

func parseDecimalAmount(s, field string) (*big.Int, error) {
	n, ok := new(big.Int).SetString(strings.TrimSpace(s), 10)
	if !ok {
		return nil, fmt.Errorf("%w: %s has invalid integer %q", ErrInvalidConfig, field, s)
	}
	if n.Sign() < 0 {
		return nil, fmt.Errorf("%w: %s must not be negative", ErrInvalidConfig, field)
	}
	return n, nil
}

// Config is the coordinator's single configuration object.
type Config struct {
	EVM       EVMConfig      `yaml:"evm"`
	Solana    SolanaConfig   `yaml:"solana"`
	Timelocks TimelockConfig `yaml:"timelocks"`
	Limits    LimitsConfig   `yaml:"limits"`

	// TestMode, when true, disables automatic async processing after
	// initiate — callers drive the state machine with Engine.Step instead.
	TestMode bool `yaml:"testMode"`
}

// Default returns a Config with the documented default timelocks and
// conservative limits, suitable as a base before Load overlays a file and
// the environment.
func Default() *Config {
	return &Config{
		Timelocks: DefaultTimelockConfig(),
		Limits: LimitsConfig{
			MinAmount:          "100000",
			MaxAmount:          "10000000000",
			MaxConcurrentSwaps: 10,
		},
	}
}

// Load reads a YAML config file at path (if it exists) over the defaults,
// then applies environment variable overrides, then validates the result.
func Load(path string) (*Config, error) {
	cfg := Default()

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			if !os.IsNotExist(err) {
				return nil, fmt.Errorf("%w: reading %s: %v", ErrInvalidConfig, path, err)
			}
		} else if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("%w: parsing %s: %v", ErrInvalidConfig, path, err)
		}
	}

	applyEnvOverrides(cfg)

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// applyEnvOverrides reads lowercase, underscored environment variables
// (EVM_RPC_URL, SOLANA_KEYPAIR, ...) over whatever the file set.
func applyEnvOverrides(cfg *Config) {
	overlay := func(dst *string, key string) {
		if v, ok := os.LookupEnv(key); ok && v != "" {
			*dst = v
		}
	}

	overlay(&cfg.EVM.RPCURL, "EVM_RPC_URL")
	overlay(&cfg.EVM.RPCWSURL, "EVM_RPC_WS_URL")
	overlay(&cfg.EVM.PrivateKey, "EVM_PRIVATE_KEY")
	overlay(&cfg.EVM.TokenAddress, "EVM_TOKEN_ADDRESS")
	overlay(&cfg.EVM.HTLCFactoryAddr, "EVM_HTLC_FACTORY_ADDRESS")

	overlay(&cfg.Solana.RPCURL, "SOLANA_RPC_URL")
	overlay(&cfg.Solana.RPCWSURL, "SOLANA_RPC_WS_URL")
	overlay(&cfg.Solana.Keypair, "SOLANA_KEYPAIR")
	overlay(&cfg.Solana.ProgramID, "SOLANA_PROGRAM_ID")
	overlay(&cfg.Solana.TokenMint, "SOLANA_TOKEN_MINT")

	if v, ok := os.LookupEnv("LIMITS_MIN_AMOUNT"); ok && v != "" {
		cfg.Limits.MinAmount = v
	}
	if v, ok := os.LookupEnv("LIMITS_MAX_AMOUNT"); ok && v != "" {
		cfg.Limits.MaxAmount = v
	}
	if v, ok := os.LookupEnv("LIMITS_MAX_CONCURRENT_SWAPS"); ok && v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			cfg.Limits.MaxConcurrentSwaps = n
		}
	}
	if v, ok := os.LookupEnv("TEST_MODE"); ok {
		cfg.TestMode = v == "1" || strings.EqualFold(v, "true")
	}
}

// Validate checks the structural invariants of a Config: deadlines strictly
// ordered, limits sane, keys well formed. It does not dial any RPC.
func (c *Config) Validate() error {
	t := c.Timelocks
	if !(t.FinalitySeconds > 0 && t.FinalitySeconds < t.ResolverSeconds &&
		t.ResolverSeconds < t.PublicSeconds && t.PublicSeconds < t.CancellationSeconds) {
		return fmt.Errorf("%w: timelocks must satisfy 0 < finality < resolver < public < cancellation", ErrInvalidConfig)
	}

	minAmount, err := c.Limits.MinAmountBig()
	if err != nil {
		return err
	}
	maxAmount, err := c.Limits.MaxAmountBig()
	if err != nil {
		return err
	}
	if maxAmount.Sign() > 0 && minAmount.Cmp(maxAmount) > 0 {
		return fmt.Errorf("%w: limits.minAmount must not exceed limits.maxAmount", ErrInvalidConfig)
	}
	if c.Limits.MaxConcurrentSwaps <= 0 {
		return fmt.Errorf("%w: limits.maxConcurrentSwaps must be positive", ErrInvalidConfig)
	}

	if c.EVM.PrivateKey != "" {
		if _, err := helpers.HexToBytes(c.EVM.PrivateKey); err != nil || len(strings.TrimPrefix(c.EVM.PrivateKey, "0x")) != 64 {
			return fmt.Errorf("%w: evm.privateKey must be 32-byte 0x-prefixed hex", ErrInvalidConfig)
		}
	}
	if c.Solana.Keypair != "" {
		if _, err := helpers.HexToBytes(c.Solana.Keypair); err != nil {
			return fmt.Errorf("%w: solana.keypair must be hex-encoded", ErrInvalidConfig)
		}
	}

	return nil
}

// TimelockWindow computes the four absolute Unix-second deadlines for a
// swap created at createdAt: finality < resolver <
// public < cancellation.
func (c *Config) TimelockWindow(createdAt time.Time) (finality, resolver, public, cancellation int64) {
	base := createdAt.Unix()
	return base + int64(c.Timelocks.FinalitySeconds),
		base + int64(c.Timelocks.ResolverSeconds),
		base + int64(c.Timelocks.PublicSeconds),
		base + int64(c.Timelocks.CancellationSeconds)
}
