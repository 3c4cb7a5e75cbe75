package config

// Config is the on-disk configuration (JSON or YAML). All durations are Go
// duration strings ("30s", "5m").
type Config struct {
	Telegram    TelegramConfig    `json:"telegram"`
	Logging     LoggingConfig     `json:"logging"`
	Storage     StorageConfig     `json:"storage"`
	Provider    ProviderConfig    `json:"provider"`
	Notifier    *NotifierConfig   `json:"notifier,omitempty"`
	Pollers     PollersConfig     `json:"pollers"`
	Maintenance MaintenanceConfig `json:"maintenance"`

	// DefaultTimezone is used for users without a profile timezone.
	DefaultTimezone string `json:"default_timezone,omitempty"`
}

type TelegramConfig struct {
	Token string `json:"token"` // overridable by PAYBOT_TELEGRAM_TOKEN
	// LogChatID receives forwarded warnings when logging.chat is enabled.
	LogChatID int64  `json:"log_chat_id,omitempty"`
	Timeout   string `json:"timeout,omitempty"`
}

type LoggingConfig struct {
	Level   string      `json:"level"`
	Console bool        `json:"console"`
	File    LoggingFile `json:"file"`
	Chat    LoggingChat `json:"chat"`
}

type LoggingFile struct {
	Enabled bool   `json:"enabled"`
	Path    string `json:"path"`
}

type LoggingChat struct {
	Enabled    bool   `json:"enabled"`
	MinLevel   string `json:"min_level"`
	RatePerSec int    `json:"rate_per_sec"`
}

// StorageConfig selects the persistence driver.
//
//	"storage": { "driver": "sqlite", "path": "./paybot.db" }
//	"storage": { "driver": "postgres", "dsn": "postgres://..." }
//	"storage": { "driver": "mongo", "dsn": "mongodb://...", "database": "paybot" }
type StorageConfig struct {
	Driver      string `json:"driver"`
	Path        string `json:"path,omitempty"`
	DSN         string `json:"dsn,omitempty"` // overridable by PAYBOT_STORAGE_DSN
	Database    string `json:"database,omitempty"`
	BusyTimeout string `json:"busy_timeout,omitempty"`
	// Tenants seeds the tenant list for drivers that cannot enumerate tenants
	// before the first user is saved.
	Tenants []string `json:"tenants,omitempty"`
}

type ProviderConfig struct {
	BaseURL      string `json:"base_url"`
	ClientID     string `json:"client_id"`
	ClientSecret string `json:"client_secret,omitempty"` // overridable by PAYBOT_PROVIDER_CLIENT_SECRET
	Timeout      string `json:"timeout,omitempty"`
	RatePerSec   int    `json:"rate_per_sec,omitempty"`
	Burst        int    `json:"burst,omitempty"`
	// RefreshSkew refreshes tokens this long before they expire.
	RefreshSkew string `json:"refresh_skew,omitempty"`
}

// NotifierConfig controls the async notification pipeline. When the section
// is omitted the notifier runs with defaults.
type NotifierConfig struct {
	Enabled         bool   `json:"enabled"`
	Workers         int    `json:"workers"`
	QueueSize       int    `json:"queue_size"`
	RatePerSec      int    `json:"rate_per_sec"`
	RetryMax        int    `json:"retry_max"`
	RetryBase       string `json:"retry_base"`
	RetryMaxDelay   string `json:"retry_max_delay"`
	DedupWindow     string `json:"dedup_window"`
	DedupMaxEntries int    `json:"dedup_max_entries"`
	PersistDedup    bool   `json:"persist_dedup,omitempty"`
}

type PollersConfig struct {
	Schedule PollerConfig `json:"schedule"`
	Autopay  PollerConfig `json:"autopay"`
	Ledger   PollerConfig `json:"ledger"`
}

type PollerConfig struct {
	Enabled  bool   `json:"enabled"`
	Interval string `json:"interval"`
	// HealthInterval defaults to half of Interval.
	HealthInterval string `json:"health_interval,omitempty"`
	// NotifyResetOnSuccess re-arms the token failure notification after a
	// successful refresh. Off: notify once per process lifetime.
	NotifyResetOnSuccess bool `json:"notify_reset_on_success,omitempty"`
	FailureSetMax        int  `json:"failure_set_max,omitempty"`
}

type MaintenanceConfig struct {
	// PruneSpec is a standard 5-field cron expression. Empty disables pruning.
	PruneSpec      string `json:"prune_spec,omitempty"`
	AuditRetention string `json:"audit_retention,omitempty"`
}
