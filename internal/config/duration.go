package config

import (
	"fmt"
	"strings"
	"time"
)

func ParseDurationField(path, raw string) (time.Duration, error) {
	s := strings.TrimSpace(raw)
	if s == "" {
		return 0, nil
	}
	d, err := time.ParseDuration(s)
	if err != nil {
		return 0, fmt.Errorf("%s: invalid duration %q: %w", path, raw, err)
	}
	if d < 0 {
		return 0, fmt.Errorf("%s: duration must be >= 0", path)
	}
	return d, nil
}

// ParseDurationOrDefault returns def for an empty, zero or malformed value.
// A non-nil error still comes back with def so callers can log and go on.
func ParseDurationOrDefault(path, raw string, def time.Duration) (time.Duration, error) {
	d, err := ParseDurationField(path, raw)
	if err != nil {
		return def, err
	}
	if d <= 0 {
		return def, nil
	}
	return d, nil
}

// parsePair parses a min/max pair. If either side is malformed both come back
// zero, which the consumer treats as unset. Ordering is left to the consumer,
// which swaps or widens as its own rules say.
func parsePair(path, lo, hi string) (time.Duration, time.Duration, error) {
	a, err := ParseDurationField(path+".min", lo)
	if err != nil {
		return 0, 0, err
	}
	b, err := ParseDurationField(path+".max", hi)
	if err != nil {
		return 0, 0, err
	}
	return a, b, nil
}
