// Package config implements TOML configuration loading, validation, and
// platform-specific path resolution for scrybble. Values resolve through a
// four-layer override chain: defaults -> config file -> environment -> CLI
// flags. All keys are flat; the section structs below only group them.
package config

// Config is the top-level configuration structure parsed from a TOML file.
type Config struct {
	ServerConfig
	VaultConfig
	QueueConfig
	LoggingConfig
	NetworkConfig
}

// ServerConfig selects the server and the OAuth client used against it.
// Unless self_hosted is set, the official endpoint is used and endpoint is
// ignored.
type ServerConfig struct {
	Endpoint     string `toml:"endpoint"`
	SelfHosted   bool   `toml:"self_hosted"`
	ClientID     string `toml:"client_id"`
	ClientSecret string `toml:"client_secret"`
}

// VaultConfig locates the Obsidian vault and the folder inside it that
// synced documents are written to.
type VaultConfig struct {
	VaultDir   string `toml:"vault_dir"`
	SyncFolder string `toml:"sync_folder"`
}

// QueueConfig tunes the download scheduler.
type QueueConfig struct {
	TickInterval   string `toml:"tick_interval"`
	BusyBudget     int    `toml:"busy_budget"`
	MaxAttempts    int    `toml:"max_attempts"`
	MaxBackoff     string `toml:"max_backoff"`
	DeltaInterval  string `toml:"delta_interval"`
	MaxArchiveSize string `toml:"max_archive_size"`
}

// LoggingConfig controls log output behavior: level, format, and rotation.
type LoggingConfig struct {
	LogLevel         string `toml:"log_level"`
	LogFile          string `toml:"log_file"`
	LogFormat        string `toml:"log_format"`
	LogMaxSizeMB     int    `toml:"log_max_size_mb"`
	LogMaxBackups    int    `toml:"log_max_backups"`
	LogRetentionDays int    `toml:"log_retention_days"`
}

// NetworkConfig controls HTTP client behavior: timeouts, user agent, and
// request pacing.
type NetworkConfig struct {
	ConnectTimeout    string  `toml:"connect_timeout"`
	DataTimeout       string  `toml:"data_timeout"`
	UserAgent         string  `toml:"user_agent"`
	RequestsPerSecond float64 `toml:"requests_per_second"`
	RequestBurst      int     `toml:"request_burst"`
}

// CLIOverrides holds values from CLI flags that override config file and
// environment settings. Pointer fields distinguish "not specified" (nil)
// from "explicitly set to the zero value".
type CLIOverrides struct {
	ConfigPath string  // --config flag (empty = use default)
	VaultDir   *string // --vault flag
}
