package config

import (
	"fmt"
	"math"
	"strconv"
	"strings"
)

// sizeUnits maps the accepted suffixes of max_archive_size to byte
// multipliers. Longer suffixes come first so "MiB" is not read as "B".
var sizeUnits = []struct {
	suffix string
	bytes  float64
}{
	{"GIB", 1 << 30},
	{"MIB", 1 << 20},
	{"KIB", 1 << 10},
	{"GB", 1e9},
	{"MB", 1e6},
	{"KB", 1e3},
	{"B", 1},
}

// ParseSize reads an archive size limit such as "512MiB", "1.5GB" or a bare
// byte count. Suffixes are case-insensitive. "" and "0" mean no limit.
func ParseSize(s string) (int64, error) {
	s = strings.TrimSpace(s)
	if s == "" || s == "0" {
		return 0, nil
	}

	upper := strings.ToUpper(s)

	for _, u := range sizeUnits {
		if !strings.HasSuffix(upper, u.suffix) {
			continue
		}

		num := strings.TrimSpace(s[:len(s)-len(u.suffix)])

		f, err := strconv.ParseFloat(num, 64)
		if err != nil {
			return 0, fmt.Errorf("invalid size %q: %w", s, err)
		}

		return sizeBytes(s, f*u.bytes)
	}

	n, err := strconv.ParseInt(s, 10, 64)
	if err != nil {
		return 0, fmt.Errorf("invalid size %q: %w", s, err)
	}

	return sizeBytes(s, float64(n))
}

func sizeBytes(original string, n float64) (int64, error) {
	switch {
	case n < 0:
		return 0, fmt.Errorf("invalid size %q: must be non-negative", original)
	case n >= math.MaxInt64:
		return 0, fmt.Errorf("invalid size %q: too large", original)
	}

	return int64(n), nil
}
