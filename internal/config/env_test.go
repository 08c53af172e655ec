package config

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestReadEnvOverrides_AllSet(t *testing.T) {
	t.Setenv(EnvConfig, "/custom/config.toml")
	t.Setenv(EnvVaultDir, "/vaults/main")
	t.Setenv(EnvEndpoint, "https://scrybble.example.org")

	env := ReadEnvOverrides()

	assert.Equal(t, "/custom/config.toml", env.ConfigPath)
	assert.Equal(t, "/vaults/main", env.VaultDir)
	assert.Equal(t, "https://scrybble.example.org", env.Endpoint)
}

func TestReadEnvOverrides_NoneSet(t *testing.T) {
	t.Setenv(EnvConfig, "")
	t.Setenv(EnvVaultDir, "")
	t.Setenv(EnvEndpoint, "")

	assert.Equal(t, EnvOverrides{}, ReadEnvOverrides())
}
