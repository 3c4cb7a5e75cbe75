package config

import (
	"context"
	"os"
	"path/filepath"
	"slices"
	"strings"
	"testing"
	"time"
)

const sampleJSON = `{
  "telegram": {"token": "file-token"},
  "logging": {"level": "info", "console": true},
  "storage": {"driver": "sqlite", "path": "./paybot.db"},
  "provider": {"base_url": "https://api.example.test", "client_id": "paybot"},
  "pollers": {
    "schedule": {"enabled": true, "interval": "30s"},
    "autopay": {"enabled": true},
    "ledger": {"enabled": false, "interval": "10m", "health_interval": "1m"}
  },
  "maintenance": {"prune_spec": "0 3 * * *"},
  "default_timezone": "America/New_York"
}`

func writeFile(t *testing.T, name, body string) string {
	t.Helper()
	p := filepath.Join(t.TempDir(), name)
	if err := os.WriteFile(p, []byte(body), 0o600); err != nil {
		t.Fatalf("write: %v", err)
	}
	return p
}

func TestLoadJSON(t *testing.T) {
	cfg, err := NewConfigManager(writeFile(t, "config.json", sampleJSON)).Load()
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Storage.Driver != "sqlite" || cfg.Telegram.Token != "file-token" {
		t.Fatalf("unexpected cfg: %+v", cfg)
	}

	sched, err := cfg.Poller("schedule")
	if err != nil {
		t.Fatalf("Poller: %v", err)
	}
	if sched.Interval != 30*time.Second || sched.HealthInterval != 15*time.Second {
		t.Fatalf("schedule settings = %+v", sched)
	}
	auto, _ := cfg.Poller("autopay")
	if auto.Interval != time.Minute || auto.HealthInterval != 30*time.Second {
		t.Fatalf("autopay defaults = %+v", auto)
	}
	led, _ := cfg.Poller("ledger")
	if led.Enabled || led.HealthInterval != time.Minute {
		t.Fatalf("ledger settings = %+v", led)
	}
}

func TestLoadYAMLMatchesJSON(t *testing.T) {
	yml := `
telegram:
  token: file-token
storage:
  driver: file
  path: ./store
provider:
  base_url: https://api.example.test
pollers:
  schedule:
    enabled: true
    interval: 45s
`
	cfg, err := NewConfigManager(writeFile(t, "config.yaml", yml)).Load()
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Pollers.Schedule.Interval != "45s" || cfg.Storage.Path != "./store" {
		t.Fatalf("unexpected cfg: %+v", cfg)
	}
}

func TestParseRejectsUnknownAndTrailing(t *testing.T) {
	cases := map[string]string{
		"unknown field": `{"telegram": {"token": "x", "owner": 1}}`,
		"trailing":      `{"telegram": {"token": "x"}} {}`,
	}
	for name, body := range cases {
		t.Run(name, func(t *testing.T) {
			if _, err := NewConfigManager(writeFile(t, "c.json", body)).Parse(); err == nil {
				t.Fatal("expected parse error")
			}
		})
	}
}

func TestEnvOverridesSecrets(t *testing.T) {
	t.Setenv("PAYBOT_TELEGRAM_TOKEN", "env-token")
	t.Setenv("PAYBOT_PROVIDER_CLIENT_SECRET", "env-secret")

	cfg, err := NewConfigManager(writeFile(t, "config.json", sampleJSON)).Load()
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Telegram.Token != "env-token" || cfg.Provider.ClientSecret != "env-secret" {
		t.Fatalf("env not applied: %+v %+v", cfg.Telegram, cfg.Provider)
	}
	if cfg.Storage.DSN != "" {
		t.Fatalf("unset env must not override: %q", cfg.Storage.DSN)
	}
}

func TestValidateCollectsErrors(t *testing.T) {
	t.Parallel()

	cfg := &Config{
		Storage:         StorageConfig{Driver: "postgres"},
		Pollers:         PollersConfig{Schedule: PollerConfig{Enabled: true, Interval: "soon"}},
		Maintenance:     MaintenanceConfig{PruneSpec: "every day"},
		DefaultTimezone: "Mars/Olympus",
	}
	err := Validate(cfg)
	if err == nil {
		t.Fatal("expected validation error")
	}
	for _, want := range []string{"storage.dsn", "pollers.schedule.interval", "maintenance.prune_spec", "default_timezone", "provider.base_url"} {
		if !strings.Contains(err.Error(), want) {
			t.Errorf("error %q does not mention %s", err, want)
		}
	}
}

func TestPollerDurationBounds(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name       string
		pc         PollerConfig
		wantErr    string
		wantIv     time.Duration
		wantHealth time.Duration
	}{
		{name: "defaults", wantIv: time.Minute, wantHealth: 30 * time.Second},
		{name: "fast sweep", pc: PollerConfig{Interval: "50ms"}, wantIv: 50 * time.Millisecond, wantHealth: 25 * time.Millisecond},
		{name: "health floor", pc: PollerConfig{Interval: "15ms"}, wantIv: 15 * time.Millisecond, wantHealth: MinPollInterval},
		{name: "too fast", pc: PollerConfig{Interval: "1ms"}, wantErr: "pollers.autopay.interval: 1ms is below the minimum"},
		{name: "health slower than sweep", pc: PollerConfig{Interval: "30s", HealthInterval: "1m"}, wantErr: "pollers.autopay.health_interval: 1m0s exceeds 30s"},
		{name: "negative", pc: PollerConfig{Interval: "-5s"}, wantErr: "is negative"},
		{name: "garbage", pc: PollerConfig{Interval: "soon"}, wantErr: `"soon" is not a duration`},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			cfg := &Config{Pollers: PollersConfig{Autopay: tt.pc}}
			got, err := cfg.Poller("autopay")
			if tt.wantErr != "" {
				if err == nil || !strings.Contains(err.Error(), tt.wantErr) {
					t.Fatalf("err = %v, want %q", err, tt.wantErr)
				}
				return
			}
			if err != nil {
				t.Fatalf("Poller: %v", err)
			}
			if got.Interval != tt.wantIv || got.HealthInterval != tt.wantHealth {
				t.Fatalf("got %s/%s, want %s/%s", got.Interval, got.HealthInterval, tt.wantIv, tt.wantHealth)
			}
		})
	}
}

func TestSummarizeConfigChange(t *testing.T) {
	t.Parallel()

	old := &Config{Telegram: TelegramConfig{Token: "a"}, Pollers: PollersConfig{Autopay: PollerConfig{Interval: "1m"}}}
	cur := &Config{Telegram: TelegramConfig{Token: "b"}, Pollers: PollersConfig{Autopay: PollerConfig{Interval: "2m"}}}

	changed, fields := SummarizeConfigChange(old, cur)
	if !slices.Equal(changed, []string{"telegram", "pollers.autopay"}) {
		t.Fatalf("changed = %v", changed)
	}
	if len(fields) == 0 {
		t.Fatal("expected log fields")
	}
	if got := RequiresRestart(changed); !slices.Equal(got, []string{"telegram"}) {
		t.Fatalf("RequiresRestart = %v", got)
	}
}

func TestWatchPublishesChanges(t *testing.T) {
	path := writeFile(t, "config.json", sampleJSON)
	m := NewConfigManager(path)
	if _, err := m.Load(); err != nil {
		t.Fatalf("Load: %v", err)
	}
	ch := m.Subscribe(1)
	defer m.Unsubscribe(ch)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	done := make(chan struct{})
	go func() {
		defer close(done)
		_ = m.Watch(ctx)
	}()

	updated := strings.Replace(sampleJSON, `"interval": "30s"`, `"interval": "20s"`, 1)
	deadline := time.After(5 * time.Second)
	tick := time.NewTicker(300 * time.Millisecond)
	defer tick.Stop()
	for {
		select {
		case cfg := <-ch:
			if cfg.Pollers.Schedule.Interval != "20s" {
				t.Fatalf("published interval = %q", cfg.Pollers.Schedule.Interval)
			}
			cancel()
			<-done
			return
		case <-tick.C:
			// Rewrite until the watcher is up and sees it.
			if err := os.WriteFile(path, []byte(updated), 0o600); err != nil {
				t.Fatalf("rewrite: %v", err)
			}
		case <-deadline:
			t.Fatal("no config published")
		}
	}
}
