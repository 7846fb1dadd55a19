package config

import (
	"fmt"
	"strconv"
	"strings"
	"time"
)

// ParseDurationField reads a duration out of a config field. Accepted
// forms are Go duration strings ("90s", "2m30s") and bare numbers, which
// are taken as seconds. An empty field means zero. Negative durations
// are configuration errors; path names the offending field in them.
func ParseDurationField(path, raw string) (time.Duration, error) {
	s := strings.TrimSpace(raw)
	if s == "" {
		return 0, nil
	}

	var d time.Duration
	if secs, err := strconv.Atoi(s); err == nil {
		d = time.Duration(secs) * time.Second
	} else if d, err = time.ParseDuration(s); err != nil {
		return 0, fmt.Errorf("%s: invalid duration %q: %w", path, raw, err)
	}

	if d < 0 {
		return 0, fmt.Errorf("%s: duration must be >= 0", path)
	}
	return d, nil
}

// ParseDurationOrDefault substitutes def when the field is empty or zero.
func ParseDurationOrDefault(path, raw string, def time.Duration) (time.Duration, error) {
	d, err := ParseDurationField(path, raw)
	switch {
	case err != nil:
		return 0, err
	case d == 0:
		return def, nil
	default:
		return d, nil
	}
}
