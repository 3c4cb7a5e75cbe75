package config

import (
	"fmt"
	"strings"
	"time"
)

// MinPollInterval is the shortest accepted pollers.*.interval and
// health_interval.
const MinPollInterval = 10 * time.Millisecond

// span bounds a duration setting; a zero field is unbounded.
type span struct {
	min, max time.Duration
}

// ParseDurationField parses an optional duration setting ("30s", "5m").
// Empty means 0 and negative values are rejected.
func ParseDurationField(path, raw string) (time.Duration, error) {
	return parseSpan(path, raw, span{})
}

// ParseDurationOrDefault is ParseDurationField with def for empty or zero.
func ParseDurationOrDefault(path, raw string, def time.Duration) (time.Duration, error) {
	d, err := ParseDurationField(path, raw)
	if err != nil || d > 0 {
		return d, err
	}
	return def, nil
}

func parseSpan(path, raw string, b span) (time.Duration, error) {
	s := strings.TrimSpace(raw)
	if s == "" {
		return 0, nil
	}
	d, err := time.ParseDuration(s)
	if err != nil {
		return 0, fmt.Errorf("%s: %q is not a duration such as 45s or 5m", path, raw)
	}
	switch {
	case d < 0:
		return 0, fmt.Errorf("%s: %s is negative", path, d)
	case d > 0 && b.min > 0 && d < b.min:
		return 0, fmt.Errorf("%s: %s is below the minimum of %s", path, d, b.min)
	case b.max > 0 && d > b.max:
		return 0, fmt.Errorf("%s: %s exceeds %s", path, d, b.max)
	}
	return d, nil
}

// pollDurations resolves a poller's sweep interval and health tick. The
// health tick defaults to half the interval and may not be slower than the
// sweep itself.
func pollDurations(path string, pc PollerConfig, def time.Duration) (interval, health time.Duration, err error) {
	interval, err = parseSpan(path+".interval", pc.Interval, span{min: MinPollInterval})
	if err != nil {
		return 0, 0, err
	}
	if interval == 0 {
		interval = def
	}
	health, err = parseSpan(path+".health_interval", pc.HealthInterval, span{min: MinPollInterval, max: interval})
	if err != nil {
		return 0, 0, err
	}
	if health == 0 {
		health = max(interval/2, MinPollInterval)
	}
	return interval, health, nil
}
