package config

import (
	"os"
	"path/filepath"
	"testing"
)

func writeFile(t *testing.T, path, content string) {
	t.Helper()
	if err := os.WriteFile(path, []byte(content), 0o600); err != nil {
		t.Fatal(err)
	}
}

const minimalJSON = `{
  "telegram": {"token": "123:abc", "recipients": ["100"]},
  "logging": {"level": "info", "console": true, "file": {"enabled": false, "path": ""}, "feed": {"enabled": true}},
  "schedule": {"path": "./data/schedule.json"},
  "dispatch": {"message": "daily reminder", "retry_interval": "60s"}
}`

func TestLoadJSON(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.json")
	writeFile(t, path, minimalJSON)

	m := NewManager(path)
	cfg, err := m.Load()
	if err != nil {
		t.Fatal(err)
	}
	if cfg.Telegram.Token != "123:abc" {
		t.Fatalf("token = %q", cfg.Telegram.Token)
	}
	if cfg.Dispatch.RetryInterval != "60s" {
		t.Fatalf("retry_interval = %q", cfg.Dispatch.RetryInterval)
	}
	if got := m.Get(); got != cfg {
		t.Fatal("Get should return the committed config")
	}
}

func TestLoadYAML(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	writeFile(t, path, `
telegram:
  token: "123:abc"
  recipients: ["100", "200"]
logging:
  level: debug
  console: true
  file: {enabled: false, path: ""}
  feed: {enabled: true, size: 200}
schedule:
  path: ./data/schedule.json
  factory:
    timezone: Asia/Makassar
    version: 2026-01-wita
    daily_times: {"1": "16:00", "5": "16:30", "6": null, "7": null}
dispatch:
  message: daily reminder
`)

	cfg, err := NewManager(path).Load()
	if err != nil {
		t.Fatal(err)
	}
	if len(cfg.Telegram.Recipients) != 2 {
		t.Fatalf("recipients = %v", cfg.Telegram.Recipients)
	}
	f := cfg.Schedule.Factory
	if f == nil || f.Timezone != "Asia/Makassar" {
		t.Fatalf("factory = %+v", f)
	}
	if f.DailyTimes["1"] == nil || *f.DailyTimes["1"] != "16:00" {
		t.Fatal("daily_times[1] not parsed")
	}
	if v, ok := f.DailyTimes["6"]; !ok || v != nil {
		t.Fatal("daily_times[6] should be an explicit null")
	}
	if err := cfg.Validate(); err != nil {
		t.Fatal(err)
	}
}

func TestUnknownFieldRejected(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.json")
	writeFile(t, path, `{"telegram": {"token": "x", "recipients": ["1"], "typo_field": true},
		"logging": {"level":"info","console":true,"file":{"enabled":false,"path":""},"feed":{"enabled":false}},
		"schedule": {"path":"s.json"}, "dispatch": {"message":"m"}}`)

	if _, err := NewManager(path).Load(); err == nil {
		t.Fatal("unknown field must be rejected")
	}
}

func TestValidate(t *testing.T) {
	base := func() *Config {
		cfg, err := NewManager("x.json").parseBytes([]byte(minimalJSON))
		if err != nil {
			t.Fatal(err)
		}
		return cfg
	}

	cfg := base()
	if err := cfg.Validate(); err != nil {
		t.Fatal(err)
	}

	cfg = base()
	cfg.Telegram.Recipients = nil
	if err := cfg.Validate(); err == nil {
		t.Fatal("empty recipients must fail")
	}

	cfg = base()
	cfg.Dispatch.RetryInterval = "soon"
	if err := cfg.Validate(); err == nil {
		t.Fatal("bad duration must fail")
	}

	cfg = base()
	bad := "25:00"
	cfg.Schedule.Factory = &FactoryConfig{Timezone: "UTC", DailyTimes: map[string]*string{"1": &bad}}
	if err := cfg.Validate(); err == nil {
		t.Fatal("bad factory time must fail")
	}

	cfg = base()
	cfg.Admin = &AdminConfig{Enabled: true, Addr: "0.0.0.0:8380"}
	if err := cfg.Validate(); err == nil {
		t.Fatal("non-loopback admin without token must fail")
	}
}
