package config

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const invalidEnumStr = "invalid-value"

func validConfig() *Config {
	return DefaultConfig()
}

func TestValidate_ValidDefaults(t *testing.T) {
	assert.NoError(t, Validate(validConfig()))
}

func TestValidate_ClientID_Empty(t *testing.T) {
	cfg := validConfig()
	cfg.ClientID = ""
	err := Validate(cfg)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "client_id")
}

func TestValidate_SelfHosted_RequiresEndpointAndSecret(t *testing.T) {
	cfg := validConfig()
	cfg.SelfHosted = true
	cfg.Endpoint = ""
	err := Validate(cfg)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "endpoint: required")
	assert.Contains(t, err.Error(), "client_secret: required")
}

func TestValidate_SelfHosted_BadEndpoint(t *testing.T) {
	for _, endpoint := range []string{"ftp://host", "not a url", "https://"} {
		t.Run(endpoint, func(t *testing.T) {
			cfg := validConfig()
			cfg.SelfHosted = true
			cfg.Endpoint = endpoint
			cfg.ClientSecret = "s"
			err := Validate(cfg)
			require.Error(t, err)
			assert.Contains(t, err.Error(), "endpoint")
		})
	}
}

func TestValidate_SelfHosted_Valid(t *testing.T) {
	cfg := validConfig()
	cfg.SelfHosted = true
	cfg.Endpoint = "http://localhost:8000"
	cfg.ClientSecret = "s"
	assert.NoError(t, Validate(cfg))
}

func TestValidate_OfficialIgnoresEndpoint(t *testing.T) {
	cfg := validConfig()
	cfg.Endpoint = "whatever"
	assert.NoError(t, Validate(cfg))
}

func TestValidate_SyncFolder(t *testing.T) {
	tests := []struct {
		name   string
		folder string
		ok     bool
	}{
		{"plain", "scrybble", true},
		{"nested", "inbox/remarkable", true},
		{"empty", "", false},
		{"absolute", "/etc", false},
		{"escapes", "../outside", false},
		{"escapes midway", "a/../../b", false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := validConfig()
			cfg.SyncFolder = tt.folder
			err := Validate(cfg)

			if tt.ok {
				assert.NoError(t, err)
				return
			}

			require.Error(t, err)
			assert.Contains(t, err.Error(), "sync_folder")
		})
	}
}

func TestValidate_TickInterval(t *testing.T) {
	cfg := validConfig()
	cfg.TickInterval = "10ms"
	err := Validate(cfg)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "tick_interval")

	cfg.TickInterval = "fast"
	err = Validate(cfg)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "invalid duration")
}

func TestValidate_DeltaInterval_TooShort(t *testing.T) {
	cfg := validConfig()
	cfg.DeltaInterval = "5s"
	err := Validate(cfg)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "delta_interval")
}

func TestValidate_BusyBudget_OutOfRange(t *testing.T) {
	for _, v := range []int{0, -1, 33} {
		cfg := validConfig()
		cfg.BusyBudget = v
		err := Validate(cfg)
		require.Error(t, err, v)
		assert.Contains(t, err.Error(), "busy_budget")
	}
}

func TestValidate_MaxAttempts(t *testing.T) {
	cfg := validConfig()
	cfg.MaxAttempts = 0
	assert.NoError(t, Validate(cfg))

	cfg.MaxAttempts = -1
	err := Validate(cfg)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "max_attempts")
}

func TestValidate_MaxArchiveSize(t *testing.T) {
	cfg := validConfig()
	cfg.MaxArchiveSize = "not-a-size"
	err := Validate(cfg)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "max_archive_size")

	cfg.MaxArchiveSize = "10KB"
	err = Validate(cfg)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "at least 1MiB")
}

func TestValidate_LogLevel_Invalid(t *testing.T) {
	cfg := validConfig()
	cfg.LogLevel = invalidEnumStr
	err := Validate(cfg)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "log_level")
}

func TestValidate_LogLevel_AllValid(t *testing.T) {
	for _, level := range []string{"debug", "info", "warn", "error"} {
		cfg := validConfig()
		cfg.LogLevel = level
		assert.NoError(t, Validate(cfg), level)
	}
}

func TestValidate_LogFormat_Invalid(t *testing.T) {
	cfg := validConfig()
	cfg.LogFormat = invalidEnumStr
	err := Validate(cfg)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "log_format")
}

func TestValidate_LogRotation_BelowMin(t *testing.T) {
	cfg := validConfig()
	cfg.LogRetentionDays = 0
	cfg.LogMaxSizeMB = 0
	cfg.LogMaxBackups = -1
	err := Validate(cfg)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "log_retention_days")
	assert.Contains(t, err.Error(), "log_max_size_mb")
	assert.Contains(t, err.Error(), "log_max_backups")
}

func TestValidate_Timeouts_TooShort(t *testing.T) {
	cfg := validConfig()
	cfg.ConnectTimeout = "100ms"
	cfg.DataTimeout = "1s"
	err := Validate(cfg)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "connect_timeout")
	assert.Contains(t, err.Error(), "data_timeout")
}

func TestValidate_RequestPacing(t *testing.T) {
	cfg := validConfig()
	cfg.RequestsPerSecond = 0
	cfg.RequestBurst = 0
	assert.NoError(t, Validate(cfg), "pacing off ignores burst")

	cfg.RequestsPerSecond = -2
	err := Validate(cfg)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "requests_per_second")

	cfg.RequestsPerSecond = 2
	err = Validate(cfg)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "request_burst")
}

func TestValidate_MultipleErrors(t *testing.T) {
	cfg := validConfig()
	cfg.BusyBudget = 0
	cfg.SyncFolder = ""
	cfg.LogLevel = invalidEnumStr

	err := Validate(cfg)
	require.Error(t, err)

	errStr := err.Error()
	assert.Contains(t, errStr, "busy_budget")
	assert.Contains(t, errStr, "sync_folder")
	assert.Contains(t, errStr, "log_level")
}

func TestValidateResolved_AbsoluteVaultDir(t *testing.T) {
	cfg := validConfig()
	cfg.VaultDir = "/home/user/vault"
	assert.NoError(t, ValidateResolved(cfg))
}

func TestValidateResolved_RelativeVaultDir(t *testing.T) {
	cfg := validConfig()
	cfg.VaultDir = "vault"
	err := ValidateResolved(cfg)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "must be absolute")
}

func TestValidateResolved_EmptyVaultDir(t *testing.T) {
	cfg := validConfig()
	cfg.VaultDir = ""
	err := ValidateResolved(cfg)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "vault_dir")
}

func TestValidateResolved_EnvEndpointNeedsSecret(t *testing.T) {
	cfg := validConfig()
	cfg.VaultDir = "/v"
	cfg.SelfHosted = true
	cfg.Endpoint = "https://notes.example.org"
	err := ValidateResolved(cfg)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "client_secret")
}
