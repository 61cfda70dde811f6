// Package config provides YAML (or TOML) configuration loading for Quill.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
	"github.com/robfig/cron/v3"
	"gopkg.in/yaml.v3"
)

// Provider types understood by the connection resolver.
const (
	ProviderLocal     = "local"
	ProviderAnthropic = "anthropic"
)

// Config is the top-level Quill configuration, loaded from quill.yaml.
type Config struct {
	Database   DatabaseConfig   `yaml:"database" toml:"database"`
	Provider   ProviderConfig   `yaml:"provider" toml:"provider"`
	General    GeneralConfig    `yaml:"general" toml:"general"`
	Enhance    EnhanceConfig    `yaml:"enhance" toml:"enhance"`
	Onboarding OnboardingConfig `yaml:"onboarding" toml:"onboarding"`
	Templates  []TemplateConfig `yaml:"templates" toml:"templates"`
	Dashboard  DashboardConfig  `yaml:"dashboard" toml:"dashboard"`
	Notify     NotifyConfig     `yaml:"notify" toml:"notify"`
	Analytics  AnalyticsConfig  `yaml:"analytics" toml:"analytics"`
	Recording  RecordingConfig  `yaml:"recording" toml:"recording"`
	Logging    LoggingConfig    `yaml:"logging" toml:"logging"`
}

// DatabaseConfig selects the storage backend.
type DatabaseConfig struct {
	Driver   string `yaml:"driver" toml:"driver"` // sqlite or mysql
	Path     string `yaml:"path" toml:"path"`     // sqlite file
	Host     string `yaml:"host" toml:"host"`
	Port     int    `yaml:"port" toml:"port"`
	Name     string `yaml:"name" toml:"name"`
	User     string `yaml:"user" toml:"user"`
	Password string `yaml:"password" toml:"password"`
}

// ProviderConfig is the default generation connection. Runtime settings
// stored in the database take precedence.
type ProviderConfig struct {
	Type            string `yaml:"type" toml:"type"`
	Model           string `yaml:"model" toml:"model"`
	OnboardingModel string `yaml:"onboarding_model" toml:"onboarding_model"`
	BaseURL         string `yaml:"base_url" toml:"base_url"`
	APIKeyEnv       string `yaml:"api_key_env" toml:"api_key_env"`
	MaxTokens       int    `yaml:"max_tokens" toml:"max_tokens"`
}

// GeneralConfig holds user-level defaults.
type GeneralConfig struct {
	SelectedTemplateID string `yaml:"selected_template_id" toml:"selected_template_id"`
	Language           string `yaml:"language" toml:"language"`
}

// EnhanceConfig tunes the enhancement run.
type EnhanceConfig struct {
	TimeoutSeconds      int      `yaml:"timeout_seconds" toml:"timeout_seconds"`
	TitleTimeoutSeconds int      `yaml:"title_timeout_seconds" toml:"title_timeout_seconds"`
	SettleDelayMS       int      `yaml:"settle_delay_ms" toml:"settle_delay_ms"`
	NoiseMarkers        []string `yaml:"noise_markers" toml:"noise_markers"`
}

// OnboardingConfig identifies the demo session that uses a bundled transcript.
type OnboardingConfig struct {
	SessionID string `yaml:"session_id" toml:"session_id"`
}

// TemplateConfig seeds a note template into the database.
type TemplateConfig struct {
	ID          string          `yaml:"id" toml:"id"`
	Title       string          `yaml:"title" toml:"title"`
	Description string          `yaml:"description" toml:"description"`
	Sections    []SectionConfig `yaml:"sections" toml:"sections"`
}

// SectionConfig is one ordered section of a template.
type SectionConfig struct {
	Title       string `yaml:"title" toml:"title"`
	Description string `yaml:"description" toml:"description"`
}

// DashboardConfig controls the HTTP API.
type DashboardConfig struct {
	Port int `yaml:"port" toml:"port"`
}

// NotifyConfig controls where user-visible notices and digests are delivered.
type NotifyConfig struct {
	Command    string        `yaml:"command" toml:"command"` // e.g. "notify-send 'Quill' '{{.Title}}'"
	DigestCron string        `yaml:"digest_cron" toml:"digest_cron"`
	Slack      SlackConfig   `yaml:"slack" toml:"slack"`
	Discord    DiscordConfig `yaml:"discord" toml:"discord"`
}

// SlackConfig holds Slack bot credentials.
type SlackConfig struct {
	BotToken  string `yaml:"bot_token" toml:"bot_token"`
	ChannelID string `yaml:"channel_id" toml:"channel_id"`
}

// DiscordConfig holds Discord bot credentials.
type DiscordConfig struct {
	BotToken  string `yaml:"bot_token" toml:"bot_token"`
	ChannelID string `yaml:"channel_id" toml:"channel_id"`
}

// AnalyticsConfig controls the local analytics recorder.
type AnalyticsConfig struct {
	Enabled    *bool  `yaml:"enabled" toml:"enabled"`
	BufferSize int    `yaml:"buffer_size" toml:"buffer_size"`
	DistinctID string `yaml:"distinct_id" toml:"distinct_id"`
}

// RecordingConfig controls the recording-state poller.
type RecordingConfig struct {
	PollIntervalMS int `yaml:"poll_interval_ms" toml:"poll_interval_ms"`
}

// LoggingConfig controls slog output.
type LoggingConfig struct {
	Level  string `yaml:"level" toml:"level"`
	Format string `yaml:"format" toml:"format"`
}

// CronParser accepts standard 5-field cron expressions (minute, hour, dom, month, dow).
var CronParser = cron.NewParser(cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow)

// DefaultNoiseMarkers are transcript tokens that do not count as speech.
var DefaultNoiseMarkers = []string{"[BLANK_AUDIO]", "[noise]", "[music]", "[silence]", "(silence)"}

// Load reads a config file from path and returns a validated Config. Files
// ending in .toml are decoded as TOML, everything else as YAML.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("config: read %s: %w", path, err)
	}
	if strings.EqualFold(filepath.Ext(path), ".toml") {
		return ParseTOML(data)
	}
	return Parse(data)
}

// Parse unmarshals YAML bytes into a validated Config.
func Parse(data []byte) (*Config, error) {
	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("config: parse: %w", err)
	}
	return finish(&cfg)
}

// ParseTOML unmarshals TOML bytes into a validated Config.
func ParseTOML(data []byte) (*Config, error) {
	var cfg Config
	if _, err := toml.Decode(string(data), &cfg); err != nil {
		return nil, fmt.Errorf("config: parse toml: %w", err)
	}
	return finish(&cfg)
}

func finish(cfg *Config) (*Config, error) {
	cfg.applyDefaults()
	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Default returns a validated Config with every default applied. Used when
// no config file exists.
func Default() *Config {
	cfg := &Config{}
	cfg.applyDefaults()
	return cfg
}

// applyDefaults fills in derived and default values.
func (c *Config) applyDefaults() {
	if c.Database.Driver == "" {
		c.Database.Driver = "sqlite"
	}
	if c.Database.Driver == "sqlite" && c.Database.Path == "" {
		c.Database.Path = "quill.db"
	}
	if c.Database.Driver == "mysql" {
		if c.Database.Host == "" {
			c.Database.Host = "127.0.0.1"
		}
		if c.Database.Port == 0 {
			c.Database.Port = 3306
		}
		if c.Database.Name == "" {
			c.Database.Name = "quill"
		}
		if c.Database.User == "" {
			c.Database.User = "root"
		}
	}
	if c.Provider.Type == "" {
		c.Provider.Type = ProviderAnthropic
	}
	if c.Provider.Type == ProviderAnthropic {
		if c.Provider.Model == "" {
			c.Provider.Model = "claude-sonnet-4-5"
		}
		if c.Provider.APIKeyEnv == "" {
			c.Provider.APIKeyEnv = "ANTHROPIC_API_KEY"
		}
	}
	if c.Provider.Type == ProviderLocal && c.Provider.BaseURL == "" {
		c.Provider.BaseURL = "http://127.0.0.1:8080"
	}
	if c.Provider.OnboardingModel == "" {
		c.Provider.OnboardingModel = c.Provider.Model
	}
	if c.Provider.MaxTokens == 0 {
		c.Provider.MaxTokens = 4096
	}
	if c.General.Language == "" {
		c.General.Language = "en"
	}
	if c.Enhance.TimeoutSeconds == 0 {
		c.Enhance.TimeoutSeconds = 60
	}
	if c.Enhance.TitleTimeoutSeconds == 0 {
		c.Enhance.TitleTimeoutSeconds = 30
	}
	if c.Enhance.SettleDelayMS == 0 {
		c.Enhance.SettleDelayMS = 100
	}
	if c.Enhance.NoiseMarkers == nil {
		c.Enhance.NoiseMarkers = append([]string(nil), DefaultNoiseMarkers...)
	}
	if c.Onboarding.SessionID == "" {
		c.Onboarding.SessionID = "onboarding"
	}
	if c.Dashboard.Port == 0 {
		c.Dashboard.Port = 7313
	}
	if c.Analytics.Enabled == nil {
		on := true
		c.Analytics.Enabled = &on
	}
	if c.Analytics.BufferSize == 0 {
		c.Analytics.BufferSize = 256
	}
	if c.Recording.PollIntervalMS == 0 {
		c.Recording.PollIntervalMS = 1000
	}
	if c.Logging.Format == "" {
		c.Logging.Format = "text"
	}
}

// validate checks that all required fields are present and consistent.
func (c *Config) validate() error {
	var errs []string
	switch c.Database.Driver {
	case "sqlite", "mysql":
	default:
		errs = append(errs, fmt.Sprintf("database.driver %q must be sqlite or mysql", c.Database.Driver))
	}
	switch c.Provider.Type {
	case ProviderLocal, ProviderAnthropic:
	default:
		errs = append(errs, fmt.Sprintf("provider.type %q must be %s or %s", c.Provider.Type, ProviderLocal, ProviderAnthropic))
	}
	if c.Notify.DigestCron != "" {
		if _, err := CronParser.Parse(c.Notify.DigestCron); err != nil {
			errs = append(errs, fmt.Sprintf("notify.digest_cron: %v", err))
		}
	}
	if c.Enhance.TimeoutSeconds < 0 {
		errs = append(errs, "enhance.timeout_seconds must be positive")
	}
	if c.Enhance.TitleTimeoutSeconds < 0 {
		errs = append(errs, "enhance.title_timeout_seconds must be positive")
	}
	seen := make(map[string]bool, len(c.Templates))
	for i, t := range c.Templates {
		if t.ID == "" {
			errs = append(errs, fmt.Sprintf("templates[%d].id is required", i))
			continue
		}
		if seen[t.ID] {
			errs = append(errs, fmt.Sprintf("templates[%d].id %q is duplicated", i, t.ID))
		}
		seen[t.ID] = true
	}
	if id := c.General.SelectedTemplateID; id != "" && len(c.Templates) > 0 && !seen[id] {
		errs = append(errs, fmt.Sprintf("general.selected_template_id %q does not match any template", id))
	}
	if len(errs) > 0 {
		return fmt.Errorf("config: validation failed: %s", strings.Join(errs, "; "))
	}
	return nil
}

// EnhanceTimeout returns the enhancement deadline.
func (c *Config) EnhanceTimeout() time.Duration {
	return time.Duration(c.Enhance.TimeoutSeconds) * time.Second
}

// TitleTimeout returns the title-generation deadline.
func (c *Config) TitleTimeout() time.Duration {
	return time.Duration(c.Enhance.TitleTimeoutSeconds) * time.Second
}

// SettleDelay returns the pause after a connection refresh.
func (c *Config) SettleDelay() time.Duration {
	return time.Duration(c.Enhance.SettleDelayMS) * time.Millisecond
}

// PollInterval returns the recording-state poll interval.
func (c *Config) PollInterval() time.Duration {
	return time.Duration(c.Recording.PollIntervalMS) * time.Millisecond
}

// AnalyticsEnabled reports whether analytics events are recorded.
func (c *Config) AnalyticsEnabled() bool {
	return c.Analytics.Enabled == nil || *c.Analytics.Enabled
}
