package config

import (
	"fmt"
	"time"

	"github.com/reconcore/core/internal/domain"
	"github.com/reconcore/core/internal/env"
)

// ServerConfig holds all configuration for the HTTP server binary.
type ServerConfig struct {
	Database        DatabaseConfig
	HTTP            HTTPConfig
	APIKey          APIKeyFormat
	Provider        ProviderConfig
	Observability   ObservabilityConfig
	ShutdownTimeout time.Duration `env:"RECON_SHUTDOWN_TIMEOUT"`

	// ReorgThresholdsRaw feeds reconciliation.Service's safe-resume-point
	// calculation (spec §4.2, §6 "CHAIN_ALIAS_REORG_THRESHOLDS").
	ReorgThresholdsRaw string `env:"RECON_REORG_THRESHOLDS"`
}

// ReorgThresholds parses ReorgThresholdsRaw.
func (c *ServerConfig) ReorgThresholds() (map[domain.ChainAlias]int, error) {
	return ParseReorgThresholds(c.ReorgThresholdsRaw)
}

// HTTPConfig holds HTTP server configuration.
type HTTPConfig struct {
	Host              string        `env:"RECON_HTTP_HOST"`
	Port              string        `env:"RECON_HTTP_PORT"`
	ReadTimeout       time.Duration `env:"RECON_HTTP_READ_TIMEOUT"`
	WriteTimeout      time.Duration `env:"RECON_HTTP_WRITE_TIMEOUT"`
	IdleTimeout       time.Duration `env:"RECON_HTTP_IDLE_TIMEOUT"`
	ReadHeaderTimeout time.Duration `env:"RECON_HTTP_READ_HEADER_TIMEOUT"`
	MaxHeaderBytes    int           `env:"RECON_HTTP_MAX_HEADER_BYTES"`
	MaxBodyBytes      int64         `env:"RECON_HTTP_MAX_BODY_BYTES"`
}

// LoadServerConfig loads and validates server configuration from the environment.
func LoadServerConfig() (*ServerConfig, error) {
	cfg := &ServerConfig{}
	if err := env.Load(cfg); err != nil {
		return nil, fmt.Errorf("load server config: %w", err)
	}
	if cfg.ShutdownTimeout <= 0 {
		cfg.ShutdownTimeout = 15 * time.Second
	}
	cfg.APIKey.applyDefaults()
	return cfg, nil
}
