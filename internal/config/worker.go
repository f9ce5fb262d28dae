package config

import (
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/reconcore/core/internal/domain"
	"github.com/reconcore/core/internal/env"
	"github.com/reconcore/core/internal/worker"
)

// WorkerConfig holds all configuration for the reconciliation worker binary.
type WorkerConfig struct {
	Database      DatabaseConfig
	Provider      ProviderConfig
	Observability ObservabilityConfig

	ShutdownTimeout   time.Duration `env:"RECON_WORKER_SHUTDOWN_TIMEOUT"`
	PollInterval      time.Duration `env:"RECON_WORKER_POLL_INTERVAL"`
	MaxConcurrentJobs int           `env:"RECON_WORKER_MAX_CONCURRENT_JOBS"`
	AsyncJobsEnabled  bool          `env:"RECON_WORKER_ASYNC_JOBS_ENABLED"`
	AsyncTimeoutHours int           `env:"RECON_WORKER_ASYNC_TIMEOUT_HOURS"`
	TokensPerInterval float64
	TokensPerIntervalRaw string `env:"RECON_WORKER_TOKENS_PER_INTERVAL"`

	// ReorgThresholdsRaw is "eth:64,btc:6,ltc:12" (chainAlias:blocks pairs),
	// parsed into worker.Config.ReorgThresholds (spec §6
	// "CHAIN_ALIAS_REORG_THRESHOLDS"). internal/env has no map support, so
	// this is parsed by hand after Load.
	ReorgThresholdsRaw string `env:"RECON_REORG_THRESHOLDS"`
}

// LoadWorkerConfig loads and validates worker configuration from the environment.
func LoadWorkerConfig() (*WorkerConfig, error) {
	cfg := &WorkerConfig{}
	if err := env.Load(cfg); err != nil {
		return nil, fmt.Errorf("load worker config: %w", err)
	}
	if cfg.TokensPerIntervalRaw != "" {
		v, err := strconv.ParseFloat(cfg.TokensPerIntervalRaw, 64)
		if err != nil {
			return nil, fmt.Errorf("parse RECON_WORKER_TOKENS_PER_INTERVAL: %w", err)
		}
		cfg.TokensPerInterval = v
	}
	if cfg.ShutdownTimeout <= 0 {
		cfg.ShutdownTimeout = 30 * time.Second
	}
	return cfg, nil
}

// WorkerSettings converts the loaded config into worker.Config, with
// reorgThresholds parsed from ReorgThresholdsRaw and zero values left for
// worker.New to fill with its own defaults.
func (c *WorkerConfig) WorkerSettings() (worker.Config, error) {
	thresholds, err := ParseReorgThresholds(c.ReorgThresholdsRaw)
	if err != nil {
		return worker.Config{}, err
	}
	return worker.Config{
		PollInterval:      c.PollInterval,
		MaxConcurrentJobs: c.MaxConcurrentJobs,
		AsyncJobsEnabled:  c.AsyncJobsEnabled,
		AsyncTimeoutHours: c.AsyncTimeoutHours,
		TokensPerInterval: c.TokensPerInterval,
		ReorgThresholds:   thresholds,
	}, nil
}

// ParseReorgThresholds parses "chain:blocks,chain:blocks" pairs (spec §6
// "CHAIN_ALIAS_REORG_THRESHOLDS"), shared by both the server (reconciliation
// job creation) and worker configs; the worker config passes the result into
// worker.Config, which does not read it.
func ParseReorgThresholds(raw string) (map[domain.ChainAlias]int, error) {
	if raw == "" {
		return nil, nil
	}
	thresholds := make(map[domain.ChainAlias]int)
	for _, pair := range strings.Split(raw, ",") {
		pair = strings.TrimSpace(pair)
		if pair == "" {
			continue
		}
		chain, blocksStr, ok := strings.Cut(pair, ":")
		if !ok {
			return nil, fmt.Errorf("invalid RECON_REORG_THRESHOLDS entry %q: want chain:blocks", pair)
		}
		blocks, err := strconv.Atoi(strings.TrimSpace(blocksStr))
		if err != nil {
			return nil, fmt.Errorf("invalid RECON_REORG_THRESHOLDS entry %q: %w", pair, err)
		}
		thresholds[domain.ChainAlias(strings.TrimSpace(chain))] = blocks
	}
	return thresholds, nil
}
