package config

// ProviderConfig configures the blockbook.Gateway used as the default
// chain-data provider for the worker and the reconciliation service's
// provider.Registry.
type ProviderConfig struct {
	BlockbookBaseURL string `env:"RECON_BLOCKBOOK_BASE_URL"`
}
