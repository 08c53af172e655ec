// Package testutil provides shared test environment helpers for E2E tests
// and the credential bootstrap tool. It depends only on stdlib so that E2E
// tests (which drive the built binary) can use it.
package testutil

import (
	"bufio"
	"fmt"
	"os"
	"path/filepath"
	"strings"
)

// Credential files under .testdata/.
const (
	TokenFileName  = "token.json"
	ConfigFileName = "config.toml"
)

// LoadDotEnv reads KEY=VALUE pairs from a .env file at the given path.
// Missing file is not an error (CI sets env vars directly).
// Existing env vars take precedence over .env values.
func LoadDotEnv(envPath string) {
	f, err := os.Open(envPath)
	if err != nil {
		return
	}
	defer f.Close()

	scanner := bufio.NewScanner(f)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}

		key, value, ok := strings.Cut(line, "=")
		if !ok {
			continue
		}

		key = strings.TrimSpace(key)
		value = strings.Trim(strings.TrimSpace(value), "\"'")

		if os.Getenv(key) == "" {
			os.Setenv(key, value)
		}
	}
}

// ValidateAllowlist crashes the process unless the account named by
// accountEnvVar appears in SCRYBBLE_ALLOWED_TEST_ACCOUNTS. Live tests request
// and download real documents, so they must never run against a personal
// account by accident.
func ValidateAllowlist(accountEnvVar string) {
	allowlist := os.Getenv("SCRYBBLE_ALLOWED_TEST_ACCOUNTS")
	if allowlist == "" {
		fmt.Fprintln(os.Stderr, "FATAL: SCRYBBLE_ALLOWED_TEST_ACCOUNTS not set")
		fmt.Fprintln(os.Stderr, "Example: SCRYBBLE_ALLOWED_TEST_ACCOUNTS=tester@example.com")
		os.Exit(1)
	}

	account := os.Getenv(accountEnvVar)
	if account == "" {
		fmt.Fprintf(os.Stderr, "FATAL: %s not set\n", accountEnvVar)
		os.Exit(1)
	}

	for _, a := range strings.Split(allowlist, ",") {
		if strings.TrimSpace(a) == account {
			return
		}
	}

	fmt.Fprintf(os.Stderr, "FATAL: %s=%q is not in SCRYBBLE_ALLOWED_TEST_ACCOUNTS=%q\n",
		accountEnvVar, account, allowlist)
	os.Exit(1)
}

// FindModuleRoot walks up from the current directory to find go.mod.
// Returns the fallback if the root is not found.
func FindModuleRoot(fallback string) string {
	dir, err := os.Getwd()
	if err != nil {
		return fallback
	}

	for {
		if _, err := os.Stat(filepath.Join(dir, "go.mod")); err == nil {
			return dir
		}

		parent := filepath.Dir(dir)
		if parent == dir {
			return fallback
		}

		dir = parent
	}
}

// CredentialDir returns .testdata/ under the module root. When mustExist is
// set a missing directory is fatal.
func CredentialDir(moduleRoot string, mustExist bool) string {
	dir := filepath.Join(moduleRoot, ".testdata")

	if _, err := os.Stat(dir); err != nil && mustExist {
		fmt.Fprintln(os.Stderr, "FATAL: .testdata/ directory not found at "+dir)
		fmt.Fprintln(os.Stderr, "Run go run ./cmd/integration-bootstrap to create test credentials.")
		os.Exit(1)
	}

	return dir
}

// CopyFile copies a file from src to dst with the given permissions.
// Crashes on failure because tests cannot proceed without the file.
func CopyFile(src, dst string, perm os.FileMode) {
	data, err := os.ReadFile(src)
	if err != nil {
		fmt.Fprintf(os.Stderr, "FATAL: cannot read %s: %v\n", src, err)
		fmt.Fprintln(os.Stderr, "Run go run ./cmd/integration-bootstrap to create test credentials.")
		os.Exit(1)
	}

	if err := os.MkdirAll(filepath.Dir(dst), 0o700); err != nil {
		fmt.Fprintf(os.Stderr, "FATAL: creating %s: %v\n", filepath.Dir(dst), err)
		os.Exit(1)
	}

	if err := os.WriteFile(dst, data, perm); err != nil {
		fmt.Fprintf(os.Stderr, "FATAL: writing %s: %v\n", dst, err)
		os.Exit(1)
	}
}
