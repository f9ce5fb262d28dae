package config

// APIKeyFormat holds the constant fields embedded in every issued key.
type APIKeyFormat struct {
	KeyType string `env:"RECON_API_KEY_TYPE"`
	Service string `env:"RECON_API_SERVICE_NAME"`
	Version string `env:"RECON_API_VERSION"`
}

// applyDefaults fills in the conventional recon-core key shape when unset.
func (f *APIKeyFormat) applyDefaults() {
	if f.KeyType == "" {
		f.KeyType = "sk"
	}
	if f.Service == "" {
		f.Service = "recon"
	}
	if f.Version == "" {
		f.Version = "v1"
	}
}
