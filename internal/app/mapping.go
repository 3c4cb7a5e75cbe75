package app

import (
	"fmt"
	"strings"
	"time"

	"paybot/internal/config"
	"paybot/internal/notifier"
	"paybot/internal/poller"
	"paybot/internal/provider"
	"paybot/internal/storage"
	telegram "paybot/internal/transport/telegram/adapter"
	logx "paybot/pkg/logx"
)

func mapLoggingConfig(cfg *config.Config) logx.Config {
	return logx.Config{
		Level:   cfg.Logging.Level,
		Console: cfg.Logging.Console,
		File: logx.FileConfig{
			Enabled: cfg.Logging.File.Enabled,
			Path:    cfg.Logging.File.Path,
		},
		Chat: logx.ChatConfig{
			Enabled:    cfg.Logging.Chat.Enabled && cfg.Telegram.LogChatID != 0,
			ChatID:     cfg.Telegram.LogChatID,
			MinLevel:   cfg.Logging.Chat.MinLevel,
			RatePerSec: cfg.Logging.Chat.RatePerSec,
		},
	}
}

func mapTelegramConfig(cfg *config.Config) (telegram.Config, error) {
	timeout, err := config.ParseDurationOrDefault("telegram.timeout", cfg.Telegram.Timeout, 10*time.Second)
	if err != nil {
		return telegram.Config{}, err
	}
	return telegram.Config{Token: cfg.Telegram.Token, Timeout: timeout}, nil
}

func mapStorageConfig(cfg *config.Config) (storage.Config, error) {
	sc := cfg.Storage
	driver := strings.ToLower(strings.TrimSpace(sc.Driver))
	if driver == "" {
		driver = "file"
	}
	busy, err := config.ParseDurationOrDefault("storage.busy_timeout", sc.BusyTimeout, 5*time.Second)
	if err != nil {
		return storage.Config{}, err
	}
	return storage.Config{
		Driver:      driver,
		Path:        strings.TrimSpace(sc.Path),
		DSN:         strings.TrimSpace(sc.DSN),
		Database:    strings.TrimSpace(sc.Database),
		BusyTimeout: busy,
		Tenants:     sc.Tenants,
	}, nil
}

func mapProviderConfig(cfg *config.Config) (provider.Config, error) {
	pc := cfg.Provider
	timeout, err := config.ParseDurationField("provider.timeout", pc.Timeout)
	if err != nil {
		return provider.Config{}, err
	}
	skew, err := config.ParseDurationField("provider.refresh_skew", pc.RefreshSkew)
	if err != nil {
		return provider.Config{}, err
	}
	return provider.Config{
		BaseURL:      pc.BaseURL,
		ClientID:     pc.ClientID,
		ClientSecret: pc.ClientSecret,
		Timeout:      timeout,
		RatePerSec:   pc.RatePerSec,
		Burst:        pc.Burst,
		RefreshSkew:  skew,
	}, nil
}

// mapNotifierConfig: a missing section means enabled with defaults.
func mapNotifierConfig(cfg *config.Config) (notifier.Config, error) {
	n := cfg.Notifier
	if n == nil {
		return notifier.Config{Enabled: true, DedupWindow: 10 * time.Minute}, nil
	}
	if n.Workers < 0 || n.QueueSize < 0 || n.RatePerSec < 0 || n.RetryMax < 0 || n.DedupMaxEntries < 0 {
		return notifier.Config{}, fmt.Errorf("notifier: counts must be >= 0")
	}
	base, err := config.ParseDurationField("notifier.retry_base", n.RetryBase)
	if err != nil {
		return notifier.Config{}, err
	}
	maxDelay, err := config.ParseDurationField("notifier.retry_max_delay", n.RetryMaxDelay)
	if err != nil {
		return notifier.Config{}, err
	}
	dedup, err := config.ParseDurationField("notifier.dedup_window", n.DedupWindow)
	if err != nil {
		return notifier.Config{}, err
	}
	return notifier.Config{
		Enabled:         n.Enabled,
		Workers:         n.Workers,
		QueueSize:       n.QueueSize,
		RatePerSec:      n.RatePerSec,
		RetryMax:        n.RetryMax,
		RetryBase:       base,
		RetryMaxDelay:   maxDelay,
		DedupWindow:     dedup,
		DedupMaxEntries: n.DedupMaxEntries,
		PersistDedup:    n.PersistDedup,
	}, nil
}

func failurePolicy(ps config.PollerSettings) poller.FailurePolicy {
	return poller.FailurePolicy{ResetOnSuccess: ps.NotifyResetOnSuccess, Max: ps.FailureSetMax}
}
