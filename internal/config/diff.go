package config

import (
	"reflect"
	"strings"

	logx "paybot/pkg/logx"
)

// SummarizeConfigChange lists the changed sections plus log fields that are
// safe to print (no tokens, secrets or DSNs).
//
// Storage, provider and telegram changes only take effect after a restart;
// the caller warns about those.
func SummarizeConfigChange(oldCfg, newCfg *Config) ([]string, []logx.Field) {
	if oldCfg == nil {
		oldCfg = &Config{}
	}
	if newCfg == nil {
		newCfg = &Config{}
	}
	var (
		changed []string
		fields  []logx.Field
	)

	if !reflect.DeepEqual(oldCfg.Telegram, newCfg.Telegram) {
		changed = append(changed, "telegram")
		fields = append(fields, logx.Bool("telegram.log_chat_set", newCfg.Telegram.LogChatID != 0))
	}
	if !reflect.DeepEqual(oldCfg.Logging, newCfg.Logging) {
		changed = append(changed, "logging")
		fields = append(fields,
			logx.String("logging.level", strings.TrimSpace(newCfg.Logging.Level)),
			logx.Bool("logging.file", newCfg.Logging.File.Enabled),
			logx.Bool("logging.chat", newCfg.Logging.Chat.Enabled),
		)
	}
	if !reflect.DeepEqual(oldCfg.Storage, newCfg.Storage) {
		changed = append(changed, "storage")
		fields = append(fields, logx.String("storage.driver", newCfg.Storage.Driver))
	}
	if !reflect.DeepEqual(oldCfg.Provider, newCfg.Provider) {
		changed = append(changed, "provider")
		fields = append(fields, logx.String("provider.base_url", newCfg.Provider.BaseURL))
	}
	if !reflect.DeepEqual(oldCfg.Notifier, newCfg.Notifier) {
		changed = append(changed, "notifier")
	}
	for _, name := range []string{"schedule", "autopay", "ledger"} {
		o, _ := oldCfg.pollerConfig(name)
		n, _ := newCfg.pollerConfig(name)
		if o != n {
			changed = append(changed, "pollers."+name)
			fields = append(fields,
				logx.Bool("pollers."+name+".enabled", n.Enabled),
				logx.String("pollers."+name+".interval", n.Interval),
			)
		}
	}
	if oldCfg.Maintenance != newCfg.Maintenance {
		changed = append(changed, "maintenance")
		fields = append(fields, logx.String("maintenance.prune_spec", newCfg.Maintenance.PruneSpec))
	}
	if oldCfg.DefaultTimezone != newCfg.DefaultTimezone {
		changed = append(changed, "default_timezone")
		fields = append(fields, logx.String("default_timezone", newCfg.DefaultTimezone))
	}
	return changed, fields
}

// RequiresRestart reports sections in changed that cannot be applied live.
func RequiresRestart(changed []string) []string {
	var out []string
	for _, s := range changed {
		switch s {
		case "telegram", "storage", "provider":
			out = append(out, s)
		}
	}
	return out
}
