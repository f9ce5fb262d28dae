package config

// ObservabilityConfig holds tracing configuration (internal/observability.Config).
type ObservabilityConfig struct {
	OTelEnabled bool   `env:"RECON_OTEL_ENABLED"`
	ServiceName string `env:"OTEL_SERVICE_NAME"`
}
