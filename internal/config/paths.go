package config

import (
	"os"
	"path/filepath"
	"runtime"
)

// Platform identifiers.
const (
	platformLinux  = "linux"
	platformDarwin = "darwin"
)

// Application directory name used across all platforms.
const appName = "scrybble"

// File names inside the config and data directories.
const (
	configFileName = "config.toml"
	tokenFileName  = "token.json"
	ledgerFileName = "ledger.db"
	pidFileName    = "sync.pid"
)

// DefaultConfigDir returns the platform-specific directory for config files.
// On Linux, respects XDG_CONFIG_HOME (defaults to ~/.config/scrybble).
// On macOS, uses ~/Library/Application Support/scrybble.
// Other platforms fall back to ~/.config/scrybble.
func DefaultConfigDir() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return ""
	}

	switch runtime.GOOS {
	case platformLinux:
		return linuxConfigDir(home)
	case platformDarwin:
		return filepath.Join(home, "Library", "Application Support", appName)
	default:
		return filepath.Join(home, ".config", appName)
	}
}

// linuxConfigDir returns the XDG-compliant config directory for Linux.
func linuxConfigDir(home string) string {
	if xdg := os.Getenv("XDG_CONFIG_HOME"); xdg != "" {
		return filepath.Join(xdg, appName)
	}

	return filepath.Join(home, ".config", appName)
}

// DefaultDataDir returns the platform-specific directory for application data
// (token, ledger, pid file).
// On Linux, respects XDG_DATA_HOME (defaults to ~/.local/share/scrybble).
// On macOS, uses ~/Library/Application Support/scrybble.
func DefaultDataDir() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return ""
	}

	switch runtime.GOOS {
	case platformLinux:
		return linuxDataDir(home)
	case platformDarwin:
		return filepath.Join(home, "Library", "Application Support", appName)
	default:
		return filepath.Join(home, ".local", "share", appName)
	}
}

// linuxDataDir returns the XDG-compliant data directory for Linux.
func linuxDataDir(home string) string {
	if xdg := os.Getenv("XDG_DATA_HOME"); xdg != "" {
		return filepath.Join(xdg, appName)
	}

	return filepath.Join(home, ".local", "share", appName)
}

// DefaultConfigPath returns the full path to the default config file.
func DefaultConfigPath() string {
	return inDir(DefaultConfigDir(), configFileName)
}

// TokenPath returns the OAuth token file path.
func TokenPath() string {
	return inDir(DefaultDataDir(), tokenFileName)
}

// LedgerPath returns the sync ledger database path.
func LedgerPath() string {
	return inDir(DefaultDataDir(), ledgerFileName)
}

// PIDPath returns the watch-mode PID file path.
func PIDPath() string {
	return inDir(DefaultDataDir(), pidFileName)
}

func inDir(dir, name string) string {
	if dir == "" {
		return ""
	}

	return filepath.Join(dir, name)
}
