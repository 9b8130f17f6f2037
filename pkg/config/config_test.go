package config

import (
	"encoding/json"
	"os"
	"path/filepath"
	"testing"
)

func TestDefaultConfig(t *testing.T) {
	cfg := DefaultConfig()

	if cfg.Correlation.TTLMinutes != 60 {
		t.Errorf("ttl: got %d", cfg.Correlation.TTLMinutes)
	}
	if cfg.Correlation.SweepSchedule != "*/5 * * * *" {
		t.Errorf("sweep schedule: got %q", cfg.Correlation.SweepSchedule)
	}
	if cfg.Dedup.Backend != "file" {
		t.Errorf("dedup backend: got %q", cfg.Dedup.Backend)
	}
	if cfg.Switchboard.CacheTTLHours != 24 {
		t.Errorf("cache ttl: got %d", cfg.Switchboard.CacheTTLHours)
	}
	if !cfg.Channels.Console.Enabled {
		t.Error("console channel should be enabled by default")
	}
	if err := cfg.Validate(); err != nil {
		t.Errorf("defaults must validate: %v", err)
	}
}

func TestLoadConfig_MissingFileYieldsDefaults(t *testing.T) {
	cfg, err := LoadConfig(filepath.Join(t.TempDir(), "nope.json"))
	if err != nil {
		t.Fatalf("missing file must not fail: %v", err)
	}
	if cfg.Correlation.TTLMinutes != 60 {
		t.Errorf("expected defaults, got ttl %d", cfg.Correlation.TTLMinutes)
	}
}

func TestLoadConfig_FileOverridesDefaults(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.json")
	data := `{
		"correlation": {"ttl_minutes": 5},
		"dedup": {"backend": "memory"},
		"channels": {"telegram": {"enabled": true, "token": "tg-token"}}
	}`
	if err := os.WriteFile(path, []byte(data), 0o600); err != nil {
		t.Fatal(err)
	}

	cfg, err := LoadConfig(path)
	if err != nil {
		t.Fatal(err)
	}
	if cfg.Correlation.TTLMinutes != 5 {
		t.Errorf("ttl: got %d", cfg.Correlation.TTLMinutes)
	}
	if cfg.Dedup.Backend != "memory" {
		t.Errorf("backend: got %q", cfg.Dedup.Backend)
	}
	if !cfg.Channels.Telegram.Enabled || cfg.Channels.Telegram.Token != "tg-token" {
		t.Errorf("telegram: %+v", cfg.Channels.Telegram)
	}
}

func TestLoadConfig_EnvOverridesFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.json")
	if err := os.WriteFile(path, []byte(`{"logging": {"level": "info"}}`), 0o600); err != nil {
		t.Fatal(err)
	}
	t.Setenv("DESKCLAW_LOG_LEVEL", "debug")

	cfg, err := LoadConfig(path)
	if err != nil {
		t.Fatal(err)
	}
	if cfg.Logging.Level != "debug" {
		t.Errorf("env override lost: got %q", cfg.Logging.Level)
	}
}

func TestValidate_Rejections(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*Config)
	}{
		{"zero ttl", func(c *Config) { c.Correlation.TTLMinutes = 0 }},
		{"unknown dedup backend", func(c *Config) { c.Dedup.Backend = "redis" }},
		{"file backend without dir", func(c *Config) { c.Dedup.Backend = "file"; c.Dedup.Dir = "" }},
		{"slack without tokens", func(c *Config) { c.Channels.Slack.Enabled = true }},
		{"telegram without token", func(c *Config) { c.Channels.Telegram.Enabled = true }},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := DefaultConfig()
			tt.mutate(cfg)
			if err := cfg.Validate(); err == nil {
				t.Error("expected validation error")
			}
		})
	}
}

func TestSaveAndReload(t *testing.T) {
	path := filepath.Join(t.TempDir(), "deep", "config.json")
	cfg := DefaultConfig()
	cfg.Ticket.BaseURL = "https://tickets.example.com"

	if err := cfg.Save(path); err != nil {
		t.Fatal(err)
	}
	loaded, err := LoadConfig(path)
	if err != nil {
		t.Fatal(err)
	}
	if loaded.Ticket.BaseURL != "https://tickets.example.com" {
		t.Errorf("base url: got %q", loaded.Ticket.BaseURL)
	}
}

func TestFlexibleStringSlice(t *testing.T) {
	var cfg struct {
		AllowFrom FlexibleStringSlice `json:"allow_from"`
	}
	data := `{"allow_from": ["alice", 123456, "@bob"]}`
	if err := json.Unmarshal([]byte(data), &cfg); err != nil {
		t.Fatal(err)
	}
	want := []string{"alice", "123456", "@bob"}
	if len(cfg.AllowFrom) != len(want) {
		t.Fatalf("got %v", cfg.AllowFrom)
	}
	for i, w := range want {
		if cfg.AllowFrom[i] != w {
			t.Errorf("index %d: got %q, want %q", i, cfg.AllowFrom[i], w)
		}
	}
}
