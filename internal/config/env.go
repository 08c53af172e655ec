package config

import "os"

// Environment variable names for overrides.
const (
	EnvConfig   = "SCRYBBLE_CONFIG"
	EnvVaultDir = "SCRYBBLE_VAULT_DIR"
	EnvEndpoint = "SCRYBBLE_ENDPOINT"
)

// EnvOverrides holds values derived from environment variables.
type EnvOverrides struct {
	ConfigPath string // SCRYBBLE_CONFIG: override config file path
	VaultDir   string // SCRYBBLE_VAULT_DIR: vault directory override
	Endpoint   string // SCRYBBLE_ENDPOINT: self-hosted server URL
}

// ReadEnvOverrides reads environment variables and returns any overrides found.
// This does not modify the Config; Resolve applies the fields.
func ReadEnvOverrides() EnvOverrides {
	return EnvOverrides{
		ConfigPath: os.Getenv(EnvConfig),
		VaultDir:   os.Getenv(EnvVaultDir),
		Endpoint:   os.Getenv(EnvEndpoint),
	}
}
