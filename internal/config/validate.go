package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/robfig/cron/v3"
)

// Default sweep intervals per poller.
var DefaultIntervals = map[string]time.Duration{
	"schedule": time.Minute,
	"autopay":  time.Minute,
	"ledger":   5 * time.Minute,
}

// PollerSettings is a PollerConfig with durations parsed and defaults applied.
type PollerSettings struct {
	Name                 string
	Enabled              bool
	Interval             time.Duration
	HealthInterval       time.Duration
	NotifyResetOnSuccess bool
	FailureSetMax        int
}

func (c *Config) pollerConfig(name string) (PollerConfig, bool) {
	switch name {
	case "schedule":
		return c.Pollers.Schedule, true
	case "autopay":
		return c.Pollers.Autopay, true
	case "ledger":
		return c.Pollers.Ledger, true
	}
	return PollerConfig{}, false
}

func (c *Config) Poller(name string) (PollerSettings, error) {
	pc, ok := c.pollerConfig(name)
	if !ok {
		return PollerSettings{}, fmt.Errorf("pollers.%s: unknown poller", name)
	}
	path := "pollers." + name
	iv, health, err := pollDurations(path, pc, DefaultIntervals[name])
	if err != nil {
		return PollerSettings{}, err
	}
	return PollerSettings{
		Name:                 name,
		Enabled:              pc.Enabled,
		Interval:             iv,
		HealthInterval:       health,
		NotifyResetOnSuccess: pc.NotifyResetOnSuccess,
		FailureSetMax:        pc.FailureSetMax,
	}, nil
}

var storageDrivers = map[string]bool{"": true, "none": true, "file": true, "sqlite": true, "mongo": true, "postgres": true}

// Validate reports every problem in cfg at once.
func Validate(cfg *Config) error {
	if cfg == nil {
		return errors.New("config is nil")
	}
	var errs []error
	add := func(err error) {
		if err != nil {
			errs = append(errs, err)
		}
	}

	driver := strings.ToLower(strings.TrimSpace(cfg.Storage.Driver))
	if !storageDrivers[driver] {
		add(fmt.Errorf("storage.driver: unknown driver %q", cfg.Storage.Driver))
	}
	if (driver == "mongo" || driver == "postgres") && strings.TrimSpace(cfg.Storage.DSN) == "" {
		add(fmt.Errorf("storage.dsn: required for driver %q", driver))
	}
	_, err := ParseDurationField("storage.busy_timeout", cfg.Storage.BusyTimeout)
	add(err)

	anyPoller := false
	for name := range DefaultIntervals {
		_, err := cfg.Poller(name)
		add(err)
		pc, _ := cfg.pollerConfig(name)
		anyPoller = anyPoller || pc.Enabled
		if pc.FailureSetMax < 0 {
			add(fmt.Errorf("pollers.%s.failure_set_max: must be >= 0", name))
		}
	}
	if anyPoller && strings.TrimSpace(cfg.Provider.BaseURL) == "" {
		add(errors.New("provider.base_url: required when a poller is enabled"))
	}
	_, err = ParseDurationField("provider.timeout", cfg.Provider.Timeout)
	add(err)
	_, err = ParseDurationField("provider.refresh_skew", cfg.Provider.RefreshSkew)
	add(err)
	_, err = ParseDurationField("telegram.timeout", cfg.Telegram.Timeout)
	add(err)

	if n := cfg.Notifier; n != nil {
		for path, raw := range map[string]string{
			"notifier.retry_base":      n.RetryBase,
			"notifier.retry_max_delay": n.RetryMaxDelay,
			"notifier.dedup_window":    n.DedupWindow,
		} {
			_, err := ParseDurationField(path, raw)
			add(err)
		}
	}

	if tz := strings.TrimSpace(cfg.DefaultTimezone); tz != "" {
		if _, err := time.LoadLocation(tz); err != nil {
			add(fmt.Errorf("default_timezone: %w", err))
		}
	}
	if spec := strings.TrimSpace(cfg.Maintenance.PruneSpec); spec != "" {
		if _, err := cron.ParseStandard(spec); err != nil {
			add(fmt.Errorf("maintenance.prune_spec: %w", err))
		}
	}
	_, err = ParseDurationField("maintenance.audit_retention", cfg.Maintenance.AuditRetention)
	add(err)

	return errors.Join(errs...)
}
