package config

import (
	"fmt"
	"io"
)

// RenderEffective writes the resolved configuration as a human-readable
// annotated summary to w. This powers the "config show" command, giving
// users visibility into the effective values after all four override layers
// (defaults -> file -> env -> CLI) have been applied.
func RenderEffective(cfg *Config, path string, w io.Writer) error {
	ew := &errWriter{w: w}

	ew.printf("# Effective configuration (file: %s)\n\n", path)

	renderServerSection(ew, cfg)
	renderVaultSection(ew, &cfg.VaultConfig)
	renderQueueSection(ew, &cfg.QueueConfig)
	renderLoggingSection(ew, &cfg.LoggingConfig)
	renderNetworkSection(ew, &cfg.NetworkConfig)

	return ew.err
}

// errWriter wraps an io.Writer and captures the first write error.
// Subsequent writes after an error are no-ops, so callers can chain
// printf calls without checking each one individually.
type errWriter struct {
	w   io.Writer
	err error
}

func (ew *errWriter) printf(format string, args ...any) {
	if ew.err != nil {
		return
	}

	_, ew.err = fmt.Fprintf(ew.w, format, args...)
}

func renderServerSection(ew *errWriter, cfg *Config) {
	ew.printf("# server\n")
	ew.printf("self_hosted   = %t\n", cfg.SelfHosted)
	ew.printf("endpoint      = %q  # effective: %s\n", cfg.Endpoint, cfg.ServerURL())
	ew.printf("client_id     = %q\n", cfg.ClientID)

	// Never echo the secret itself.
	if cfg.ClientSecret != "" {
		ew.printf("client_secret = \"(set)\"\n")
	}

	ew.printf("\n")
}

func renderVaultSection(ew *errWriter, v *VaultConfig) {
	ew.printf("# vault\n")
	ew.printf("vault_dir   = %q\n", v.VaultDir)
	ew.printf("sync_folder = %q\n", v.SyncFolder)
	ew.printf("\n")
}

func renderQueueSection(ew *errWriter, q *QueueConfig) {
	ew.printf("# queue\n")
	ew.printf("tick_interval    = %q\n", q.TickInterval)
	ew.printf("busy_budget      = %d\n", q.BusyBudget)
	ew.printf("max_attempts     = %d\n", q.MaxAttempts)
	ew.printf("max_backoff      = %q\n", q.MaxBackoff)
	ew.printf("delta_interval   = %q\n", q.DeltaInterval)
	ew.printf("max_archive_size = %q\n", q.MaxArchiveSize)
	ew.printf("\n")
}

func renderLoggingSection(ew *errWriter, l *LoggingConfig) {
	ew.printf("# logging\n")
	ew.printf("log_level          = %q\n", l.LogLevel)
	ew.printf("log_format         = %q\n", l.LogFormat)

	if l.LogFile != "" {
		ew.printf("log_file           = %q\n", l.LogFile)
	}

	ew.printf("log_max_size_mb    = %d\n", l.LogMaxSizeMB)
	ew.printf("log_max_backups    = %d\n", l.LogMaxBackups)
	ew.printf("log_retention_days = %d\n", l.LogRetentionDays)
	ew.printf("\n")
}

func renderNetworkSection(ew *errWriter, n *NetworkConfig) {
	ew.printf("# network\n")
	ew.printf("connect_timeout     = %q\n", n.ConnectTimeout)
	ew.printf("data_timeout        = %q\n", n.DataTimeout)

	if n.UserAgent != "" {
		ew.printf("user_agent          = %q\n", n.UserAgent)
	}

	ew.printf("requests_per_second = %g\n", n.RequestsPerSecond)
	ew.printf("request_burst       = %d\n", n.RequestBurst)
}
