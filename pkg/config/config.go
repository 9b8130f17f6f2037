// Package config loads deskclaw configuration from a JSON file with
// environment variable overrides.
package config

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"github.com/caarlos0/env/v11"
)

// FlexibleStringSlice is a []string that also accepts JSON numbers,
// so allow_from can contain both "123" and 123.
type FlexibleStringSlice []string

func (f *FlexibleStringSlice) UnmarshalJSON(data []byte) error {
	var ss []string
	if err := json.Unmarshal(data, &ss); err == nil {
		*f = ss
		return nil
	}

	var raw []any
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}

	result := make([]string, 0, len(raw))
	for _, v := range raw {
		switch val := v.(type) {
		case string:
			result = append(result, val)
		case float64:
			result = append(result, fmt.Sprintf("%.0f", val))
		default:
			result = append(result, fmt.Sprintf("%v", val))
		}
	}
	*f = result
	return nil
}

type Config struct {
	Logging     LoggingConfig     `json:"logging,omitzero"`
	Channels    ChannelsConfig    `json:"channels"`
	Ticket      TicketConfig      `json:"ticket"`
	OAuth       OAuthConfig       `json:"oauth"`
	Correlation CorrelationConfig `json:"correlation,omitzero"`
	Dedup       DedupConfig       `json:"dedup,omitzero"`
	Switchboard SwitchboardConfig `json:"switchboard,omitzero"`
}

type LoggingConfig struct {
	Level string `env:"DESKCLAW_LOG_LEVEL" json:"level,omitempty"`
}

type ChannelsConfig struct {
	Slack    SlackConfig    `json:"slack,omitzero"`
	Telegram TelegramConfig `json:"telegram,omitzero"`
	Console  ConsoleConfig  `json:"console,omitzero"`
}

type SlackConfig struct {
	Enabled   bool                `env:"DESKCLAW_SLACK_ENABLED"   json:"enabled"`
	BotToken  string              `env:"DESKCLAW_SLACK_BOT_TOKEN" json:"bot_token,omitempty"`
	AppToken  string              `env:"DESKCLAW_SLACK_APP_TOKEN" json:"app_token,omitempty"`
	AllowFrom FlexibleStringSlice `json:"allow_from,omitempty"`
}

type TelegramConfig struct {
	Enabled   bool                `env:"DESKCLAW_TELEGRAM_ENABLED" json:"enabled"`
	Token     string              `env:"DESKCLAW_TELEGRAM_TOKEN"   json:"token,omitempty"`
	AllowFrom FlexibleStringSlice `json:"allow_from,omitempty"`
}

type ConsoleConfig struct {
	Enabled bool `env:"DESKCLAW_CONSOLE_ENABLED" json:"enabled"`
}

// TicketConfig points deskclaw at the ticketing backend. The service token
// authenticates read-only lookups; writes require a per-user delegated
// credential obtained through the consent flow.
type TicketConfig struct {
	BaseURL        string `env:"DESKCLAW_TICKET_BASE_URL"      json:"base_url"`
	ServiceToken   string `env:"DESKCLAW_TICKET_SERVICE_TOKEN" json:"service_token,omitempty"`
	TimeoutSeconds int    `json:"timeout_seconds,omitempty"`
}

// OAuthConfig configures the delegated-credential provider used by the
// consent saga.
type OAuthConfig struct {
	ClientID     string   `env:"DESKCLAW_OAUTH_CLIENT_ID"     json:"client_id"`
	ClientSecret string   `env:"DESKCLAW_OAUTH_CLIENT_SECRET" json:"client_secret,omitempty"`
	AuthURL      string   `env:"DESKCLAW_OAUTH_AUTH_URL"      json:"auth_url"`
	TokenURL     string   `env:"DESKCLAW_OAUTH_TOKEN_URL"     json:"token_url"`
	RedirectURL  string   `env:"DESKCLAW_OAUTH_REDIRECT_URL"  json:"redirect_url"`
	Scopes       []string `json:"scopes,omitempty"`
}

type CorrelationConfig struct {
	TTLMinutes    int    `env:"DESKCLAW_CORRELATION_TTL_MINUTES" json:"ttl_minutes,omitempty"`
	SweepSchedule string `json:"sweep_schedule,omitempty"` // cron expression
}

type DedupConfig struct {
	Backend string `env:"DESKCLAW_DEDUP_BACKEND" json:"backend,omitempty"` // "memory" or "file"
	Dir     string `env:"DESKCLAW_DEDUP_DIR"     json:"dir,omitempty"`
}

type SwitchboardConfig struct {
	CacheTTLHours int `json:"cache_ttl_hours,omitempty"`
}

// DefaultConfig returns a config with workable defaults. Channel tokens and
// the ticket backend still have to be filled in.
func DefaultConfig() *Config {
	home, _ := os.UserHomeDir()
	return &Config{
		Logging: LoggingConfig{Level: "info"},
		Channels: ChannelsConfig{
			Console: ConsoleConfig{Enabled: true},
		},
		Ticket: TicketConfig{
			TimeoutSeconds: 15,
		},
		Correlation: CorrelationConfig{
			TTLMinutes:    60,
			SweepSchedule: "*/5 * * * *",
		},
		Dedup: DedupConfig{
			Backend: "file",
			Dir:     filepath.Join(home, ".deskclaw", "dedup"),
		},
		Switchboard: SwitchboardConfig{CacheTTLHours: 24},
	}
}

// LoadConfig reads the JSON config at path, fills gaps with defaults, and
// applies environment overrides. A missing file yields defaults plus env.
func LoadConfig(path string) (*Config, error) {
	cfg := DefaultConfig()

	data, err := os.ReadFile(path)
	switch {
	case errors.Is(err, os.ErrNotExist):
		// fall through to env overlay
	case err != nil:
		return nil, fmt.Errorf("reading config: %w", err)
	default:
		if err := json.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("parsing config %s: %w", path, err)
		}
	}

	if err := env.Parse(cfg); err != nil {
		return nil, fmt.Errorf("applying env overrides: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate rejects configurations the gateway cannot start with. Collaborator
// wiring problems must fail here, before any event is accepted.
func (c *Config) Validate() error {
	if c.Correlation.TTLMinutes <= 0 {
		return errors.New("correlation.ttl_minutes must be positive")
	}
	switch c.Dedup.Backend {
	case "", "memory":
	case "file":
		if c.Dedup.Dir == "" {
			return errors.New("dedup.dir is required for the file backend")
		}
	default:
		return fmt.Errorf("unknown dedup backend %q", c.Dedup.Backend)
	}
	if c.Channels.Slack.Enabled && (c.Channels.Slack.BotToken == "" || c.Channels.Slack.AppToken == "") {
		return errors.New("slack channel enabled but bot_token/app_token missing")
	}
	if c.Channels.Telegram.Enabled && c.Channels.Telegram.Token == "" {
		return errors.New("telegram channel enabled but token missing")
	}
	return nil
}

// Save writes the config back as indented JSON.
func (c *Config) Save(path string) error {
	data, err := json.MarshalIndent(c, "", "  ")
	if err != nil {
		return err
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return err
	}
	return os.WriteFile(path, append(data, '\n'), 0o600)
}
