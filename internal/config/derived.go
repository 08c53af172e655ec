package config

import (
	"strings"
	"time"
)

// The accessors below read validated string fields. A value that fails to
// parse (only possible for a Config that skipped Validate) yields zero, and
// consumers fall back to their own defaults.

// ServerURL returns the base URL requests go to.
func (c *Config) ServerURL() string {
	if !c.SelfHosted || c.Endpoint == "" {
		return DefaultEndpoint
	}

	return strings.TrimRight(c.Endpoint, "/")
}

// TickIntervalDuration returns tick_interval.
func (c *Config) TickIntervalDuration() time.Duration {
	return parseDurationOrZero(c.TickInterval)
}

// MaxBackoffDuration returns max_backoff.
func (c *Config) MaxBackoffDuration() time.Duration {
	return parseDurationOrZero(c.MaxBackoff)
}

// DeltaIntervalDuration returns delta_interval.
func (c *Config) DeltaIntervalDuration() time.Duration {
	return parseDurationOrZero(c.DeltaInterval)
}

// ConnectTimeoutDuration returns connect_timeout.
func (c *Config) ConnectTimeoutDuration() time.Duration {
	return parseDurationOrZero(c.ConnectTimeout)
}

// DataTimeoutDuration returns data_timeout.
func (c *Config) DataTimeoutDuration() time.Duration {
	return parseDurationOrZero(c.DataTimeout)
}

// MaxArchiveBytes returns max_archive_size in bytes.
func (c *Config) MaxArchiveBytes() int64 {
	n, err := ParseSize(c.MaxArchiveSize)
	if err != nil {
		return 0
	}

	return n
}

func parseDurationOrZero(s string) time.Duration {
	d, err := time.ParseDuration(s)
	if err != nil {
		return 0
	}

	return d
}
