package config

import (
	"errors"
	"fmt"
	"net/url"
	"path/filepath"
	"strings"
	"time"
)

// Validation range constants.
const (
	minTickInterval    = 100 * time.Millisecond
	minDeltaInterval   = 30 * time.Second
	minBusyBudget      = 1
	maxBusyBudget      = 32
	minConnectTimeout  = 1 * time.Second
	minDataTimeout     = 5 * time.Second
	minArchiveBytes    = 1 << 20
	minLogRetention    = 1
	minLogMaxSizeMB    = 1
	minRequestBurst    = 1
	maxSyncFolderDepth = 16
)

// Validate checks all configuration values and returns all errors found.
// It accumulates every error rather than stopping at the first, so users
// see a complete report and can fix all issues in one pass.
func Validate(cfg *Config) error {
	var errs []error

	errs = append(errs, validateServer(&cfg.ServerConfig)...)
	errs = append(errs, validateVault(&cfg.VaultConfig)...)
	errs = append(errs, validateQueue(&cfg.QueueConfig)...)
	errs = append(errs, validateLogging(&cfg.LoggingConfig)...)
	errs = append(errs, validateNetwork(&cfg.NetworkConfig)...)

	return errors.Join(errs...)
}

// ValidateResolved checks constraints that only make sense after the
// override chain has been applied.
func ValidateResolved(cfg *Config) error {
	var errs []error

	if cfg.VaultDir == "" {
		errs = append(errs, errors.New("vault_dir: must not be empty"))
	} else if !filepath.IsAbs(cfg.VaultDir) {
		errs = append(errs, fmt.Errorf("vault_dir: must be absolute after expansion, got %q", cfg.VaultDir))
	}

	errs = append(errs, validateServer(&cfg.ServerConfig)...)

	return errors.Join(errs...)
}

func validateServer(s *ServerConfig) []error {
	var errs []error

	if s.ClientID == "" {
		errs = append(errs, errors.New("client_id: must not be empty"))
	}

	if !s.SelfHosted {
		return errs
	}

	u, err := url.Parse(s.Endpoint)

	switch {
	case s.Endpoint == "":
		errs = append(errs, errors.New("endpoint: required when self_hosted is set"))
	case err != nil:
		errs = append(errs, fmt.Errorf("endpoint: %w", err))
	case u.Scheme != "http" && u.Scheme != "https", u.Host == "":
		errs = append(errs, fmt.Errorf("endpoint: must be an http(s) URL, got %q", s.Endpoint))
	}

	if s.ClientSecret == "" {
		errs = append(errs, errors.New("client_secret: required when self_hosted is set"))
	}

	return errs
}

func validateVault(v *VaultConfig) []error {
	var errs []error

	if v.SyncFolder == "" {
		errs = append(errs, errors.New("sync_folder: must not be empty"))
	}

	if strings.HasPrefix(v.SyncFolder, "/") {
		errs = append(errs, fmt.Errorf("sync_folder: must be relative to the vault, got %q", v.SyncFolder))
	}

	segments := strings.Split(v.SyncFolder, "/")
	for _, seg := range segments {
		if seg == ".." {
			errs = append(errs, fmt.Errorf("sync_folder: must not leave the vault, got %q", v.SyncFolder))
			break
		}
	}

	if len(segments) > maxSyncFolderDepth {
		errs = append(errs, fmt.Errorf("sync_folder: at most %d levels deep, got %d", maxSyncFolderDepth, len(segments)))
	}

	return errs
}

func validateQueue(q *QueueConfig) []error {
	var errs []error

	errs = append(errs, validateDurationMin("tick_interval", q.TickInterval, minTickInterval)...)
	errs = append(errs, validateDurationMin("max_backoff", q.MaxBackoff, minTickInterval)...)
	errs = append(errs, validateDurationMin("delta_interval", q.DeltaInterval, minDeltaInterval)...)

	if q.BusyBudget < minBusyBudget || q.BusyBudget > maxBusyBudget {
		errs = append(errs, fmt.Errorf("busy_budget: must be between %d and %d, got %d",
			minBusyBudget, maxBusyBudget, q.BusyBudget))
	}

	if q.MaxAttempts < 0 {
		errs = append(errs, fmt.Errorf("max_attempts: must be >= 0 (0 = unlimited), got %d", q.MaxAttempts))
	}

	n, err := ParseSize(q.MaxArchiveSize)

	switch {
	case err != nil:
		errs = append(errs, fmt.Errorf("max_archive_size: %w", err))
	case n < minArchiveBytes:
		errs = append(errs, fmt.Errorf("max_archive_size: must be at least 1MiB, got %q", q.MaxArchiveSize))
	}

	return errs
}

// validateDuration checks that a duration string is valid and meets a minimum.
func validateDuration(field, value string, minimum time.Duration) error {
	d, err := time.ParseDuration(value)
	if err != nil {
		return fmt.Errorf("%s: invalid duration %q: %w", field, value, err)
	}

	if d < minimum {
		return fmt.Errorf("%s: must be >= %s, got %s", field, minimum, d)
	}

	return nil
}

func validateDurationMin(field, value string, minimum time.Duration) []error {
	if err := validateDuration(field, value, minimum); err != nil {
		return []error{err}
	}

	return nil
}

func validateLogging(l *LoggingConfig) []error {
	var errs []error

	errs = append(errs, validateLogLevel(l.LogLevel)...)
	errs = append(errs, validateLogFormat(l.LogFormat)...)

	if l.LogRetentionDays < minLogRetention {
		errs = append(errs, fmt.Errorf("log_retention_days: must be >= %d, got %d",
			minLogRetention, l.LogRetentionDays))
	}

	if l.LogMaxSizeMB < minLogMaxSizeMB {
		errs = append(errs, fmt.Errorf("log_max_size_mb: must be >= %d, got %d",
			minLogMaxSizeMB, l.LogMaxSizeMB))
	}

	if l.LogMaxBackups < 0 {
		errs = append(errs, fmt.Errorf("log_max_backups: must be >= 0, got %d", l.LogMaxBackups))
	}

	return errs
}

var validLogLevels = map[string]bool{
	"debug": true,
	"info":  true,
	"warn":  true,
	"error": true,
}

func validateLogLevel(level string) []error {
	if !validLogLevels[level] {
		return []error{fmt.Errorf("log_level: must be one of debug, info, warn, error; got %q", level)}
	}

	return nil
}

var validLogFormats = map[string]bool{
	"auto": true,
	"text": true,
	"json": true,
}

func validateLogFormat(format string) []error {
	if !validLogFormats[format] {
		return []error{fmt.Errorf("log_format: must be one of auto, text, json; got %q", format)}
	}

	return nil
}

func validateNetwork(n *NetworkConfig) []error {
	var errs []error

	errs = append(errs, validateDurationMin("connect_timeout", n.ConnectTimeout, minConnectTimeout)...)
	errs = append(errs, validateDurationMin("data_timeout", n.DataTimeout, minDataTimeout)...)

	// Zero turns pacing off.
	if n.RequestsPerSecond < 0 {
		errs = append(errs, fmt.Errorf("requests_per_second: must be >= 0, got %g", n.RequestsPerSecond))
	}

	if n.RequestsPerSecond > 0 && n.RequestBurst < minRequestBurst {
		errs = append(errs, fmt.Errorf("request_burst: must be >= %d, got %d", minRequestBurst, n.RequestBurst))
	}

	return errs
}
