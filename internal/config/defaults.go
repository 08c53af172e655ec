package config

// DefaultEndpoint is the official server.
const DefaultEndpoint = "https://scrybble.ink"

// Default values for configuration options. These are "layer 0" of the
// override chain.
const (
	defaultClientID          = "1"
	defaultVaultDir          = "~/Documents/Obsidian"
	defaultSyncFolder        = "scrybble"
	defaultTickInterval      = "2s"
	defaultBusyBudget        = 3
	defaultMaxAttempts       = 30
	defaultMaxBackoff        = "5m"
	defaultDeltaInterval     = "5m"
	defaultMaxArchiveSize    = "512MiB"
	defaultLogLevel          = "info"
	defaultLogFormat         = "auto"
	defaultLogMaxSizeMB      = 50
	defaultLogMaxBackups     = 3
	defaultLogRetentionDays  = 30
	defaultConnectTimeout    = "10s"
	defaultDataTimeout       = "60s"
	defaultRequestsPerSecond = 5
	defaultRequestBurst      = 10
)

// DefaultConfig returns a Config populated with all default values.
// It is the starting point for TOML decoding, so unset fields keep their
// defaults, and the fallback when no config file exists.
func DefaultConfig() *Config {
	return &Config{
		ServerConfig:  defaultServerConfig(),
		VaultConfig:   defaultVaultConfig(),
		QueueConfig:   defaultQueueConfig(),
		LoggingConfig: defaultLoggingConfig(),
		NetworkConfig: defaultNetworkConfig(),
	}
}

func defaultServerConfig() ServerConfig {
	return ServerConfig{
		Endpoint: DefaultEndpoint,
		ClientID: defaultClientID,
	}
}

func defaultVaultConfig() VaultConfig {
	return VaultConfig{
		VaultDir:   defaultVaultDir,
		SyncFolder: defaultSyncFolder,
	}
}

func defaultQueueConfig() QueueConfig {
	return QueueConfig{
		TickInterval:   defaultTickInterval,
		BusyBudget:     defaultBusyBudget,
		MaxAttempts:    defaultMaxAttempts,
		MaxBackoff:     defaultMaxBackoff,
		DeltaInterval:  defaultDeltaInterval,
		MaxArchiveSize: defaultMaxArchiveSize,
	}
}

func defaultLoggingConfig() LoggingConfig {
	return LoggingConfig{
		LogLevel:         defaultLogLevel,
		LogFormat:        defaultLogFormat,
		LogMaxSizeMB:     defaultLogMaxSizeMB,
		LogMaxBackups:    defaultLogMaxBackups,
		LogRetentionDays: defaultLogRetentionDays,
	}
}

func defaultNetworkConfig() NetworkConfig {
	return NetworkConfig{
		ConnectTimeout:    defaultConnectTimeout,
		DataTimeout:       defaultDataTimeout,
		RequestsPerSecond: defaultRequestsPerSecond,
		RequestBurst:      defaultRequestBurst,
	}
}
