package config

import (
	"fmt"

	"github.com/kelseyhightower/envconfig"
)

// EnvPrefix namespaces secret overrides, e.g. PAYBOT_TELEGRAM_TOKEN.
const EnvPrefix = "PAYBOT"

type secrets struct {
	TelegramToken        string `envconfig:"TELEGRAM_TOKEN"`
	ProviderClientSecret string `envconfig:"PROVIDER_CLIENT_SECRET"`
	StorageDSN           string `envconfig:"STORAGE_DSN"`
}

// applyEnv overlays secrets from the environment. Unset variables keep the
// file value.
func applyEnv(cfg *Config) error {
	var s secrets
	if err := envconfig.Process(EnvPrefix, &s); err != nil {
		return fmt.Errorf("env overrides: %w", err)
	}
	if s.TelegramToken != "" {
		cfg.Telegram.Token = s.TelegramToken
	}
	if s.ProviderClientSecret != "" {
		cfg.Provider.ClientSecret = s.ProviderClientSecret
	}
	if s.StorageDSN != "" {
		cfg.Storage.DSN = s.StorageDSN
	}
	return nil
}
