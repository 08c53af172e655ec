package config

import (
	"errors"
	"fmt"
	"sort"

	"github.com/BurntSushi/toml"
)

// maxLevenshteinDistance is the maximum edit distance for "did you mean?"
// suggestions when unknown config keys are detected.
const maxLevenshteinDistance = 3

// knownKeys are the valid keys in the config file.
var knownKeys = map[string]bool{
	// Server
	"endpoint": true, "self_hosted": true, "client_id": true, "client_secret": true,
	// Vault
	"vault_dir": true, "sync_folder": true,
	// Queue
	"tick_interval": true, "busy_budget": true, "max_attempts": true, "max_backoff": true,
	"delta_interval": true, "max_archive_size": true,
	// Logging
	"log_level": true, "log_file": true, "log_format": true, "log_max_size_mb": true,
	"log_max_backups": true, "log_retention_days": true,
	// Network
	"connect_timeout": true, "data_timeout": true, "user_agent": true,
	"requests_per_second": true, "request_burst": true,
}

// knownKeysList is the sorted slice form of knownKeys. Sorted for
// deterministic suggestions when two candidates have the same edit distance.
var knownKeysList = func() []string {
	keys := make([]string, 0, len(knownKeys))
	for k := range knownKeys {
		keys = append(keys, k)
	}

	sort.Strings(keys)

	return keys
}()

// checkUnknownKeys inspects TOML metadata for undecoded keys and returns
// an error with "did you mean?" suggestions for each unknown key.
func checkUnknownKeys(md *toml.MetaData) error {
	var errs []error

	for _, key := range md.Undecoded() {
		// Suggest from the leaf: a key typed inside a [table] is still a
		// flat key in the wrong place.
		errs = append(errs, buildKeyError(key.String(), key[len(key)-1]))
	}

	return errors.Join(errs...)
}

// buildKeyError creates a descriptive error for an unknown key, suggesting
// the closest known key when one is near enough.
func buildKeyError(fullKey, name string) error {
	suggestion := closestMatch(name, knownKeysList)

	switch {
	case suggestion == "":
		return fmt.Errorf("unknown config key %q", fullKey)
	case fullKey != name:
		return fmt.Errorf("unknown config key %q; keys are not grouped in tables, did you mean %q?", fullKey, suggestion)
	default:
		return fmt.Errorf("unknown config key %q; did you mean %q?", fullKey, suggestion)
	}
}

// closestMatch finds the closest known key by Levenshtein distance.
// Returns empty string if no match is within maxLevenshteinDistance.
func closestMatch(unknown string, known []string) string {
	best := ""
	bestDist := maxLevenshteinDistance + 1

	for _, k := range known {
		d := levenshtein(unknown, k)
		if d < bestDist {
			bestDist = d
			best = k
		}
	}

	if bestDist <= maxLevenshteinDistance {
		return best
	}

	return ""
}

// levenshtein computes the edit distance between two strings.
func levenshtein(a, b string) int {
	if a == "" {
		return len(b)
	}

	if b == "" {
		return len(a)
	}

	// Single-row optimization avoids allocating a full matrix.
	prev := make([]int, len(b)+1)
	curr := make([]int, len(b)+1)

	for j := range prev {
		prev[j] = j
	}

	for i := range len(a) {
		curr[0] = i + 1

		for j := range len(b) {
			cost := 1
			if a[i] == b[j] {
				cost = 0
			}

			curr[j+1] = min(curr[j]+1, prev[j+1]+1, prev[j]+cost)
		}

		prev, curr = curr, prev
	}

	return prev[len(b)]
}
