package config

import (
	"errors"
	"os"
	"path/filepath"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"

	"xwatch/internal/model"
	"xwatch/internal/query"
	"xwatch/internal/ratelimit"
)

// Config is the application's configuration model.
// It captures the watched queries, fetch strategy, sinks and pacing.
type Config struct {
	// BuiltinQueries includes the fixed query set ahead of Queries.
	BuiltinQueries bool                       `yaml:"builtinQueries"`
	Queries        []model.SearchQuery        `yaml:"queries"`
	Fetch          FetchConfig                `yaml:"fetch"`
	Delivery       DeliveryConfig             `yaml:"delivery"`
	RateLimits     map[string]RateLimitConfig `yaml:"rateLimits"`
	Notify         NotifyConfig               `yaml:"notify"`
	Storage        StorageConfig              `yaml:"storage"`
	Schedule       ScheduleConfig             `yaml:"schedule"`
	Server         ServerConfig               `yaml:"server"`
	Logging        LoggingConfig              `yaml:"logging"`
}

type FetchConfig struct {
	// UseProxy skips the browser and searches the mirror directly.
	UseProxy bool `yaml:"useProxy"`
	// Mirror front-end root. If empty, read from env XWATCH_PROXY_URL
	ProxyURL          string        `yaml:"proxyURL"`
	ProxyRSS          bool          `yaml:"proxyRSS"`
	Browser           BrowserConfig `yaml:"browser"`
	MaxRetries        int           `yaml:"maxRetries"`
	BaseDelayMs       int           `yaml:"baseDelayMs"`
	SyntheticFallback bool          `yaml:"syntheticFallback"`
	SyntheticCount    int           `yaml:"syntheticCount"`
	MaxTerms          int           `yaml:"maxTerms"`
}

type BrowserConfig struct {
	Enabled   bool   `yaml:"enabled"`
	Headless  bool   `yaml:"headless"`
	RemoteURL string `yaml:"remoteURL"`
	Bin       string `yaml:"bin"`
}

type DeliveryConfig struct {
	InterQueryDelayMs    int  `yaml:"interQueryDelayMs"`
	InterDeliveryDelayMs int  `yaml:"interDeliveryDelayMs"`
	ContinueOnError      bool `yaml:"continueOnError"`
	AbortOnSoftFail      bool `yaml:"abortOnSoftFail"`
}

type RateLimitConfig struct {
	Ceiling  int `yaml:"ceiling"`
	WindowMs int `yaml:"windowMs"`
}

type NotifyConfig struct {
	TimeoutSec int            `yaml:"timeoutSec"`
	Telegram   TelegramConfig `yaml:"telegram"`
	Webhook    WebhookConfig  `yaml:"webhook"`
	Sheets     SheetsConfig   `yaml:"sheets"`
	Notion     NotionConfig   `yaml:"notion"`
}

type TelegramConfig struct {
	// If empty, read from env TELEGRAM_BOT_TOKEN / TELEGRAM_CHAT_ID
	BotToken string `yaml:"botToken"`
	ChatID   string `yaml:"chatID"`
	Endpoint string `yaml:"endpoint"`
}

type WebhookConfig struct {
	URL    string `yaml:"url"`
	Secret string `yaml:"secret"`
}

type SheetsConfig struct {
	// Service account key JSON or a path to it.
	Credentials   string `yaml:"credentials"`
	SpreadsheetID string `yaml:"spreadsheetID"`
	Range         string `yaml:"range"`
}

type NotionConfig struct {
	Token      string `yaml:"token"`
	DatabaseID string `yaml:"databaseID"`
}

type StorageConfig struct {
	// sqlite or postgres. Empty picks postgres when a URL is present.
	Driver        string `yaml:"driver"`
	DBPath        string `yaml:"dbPath"`
	PostgresURL   string `yaml:"postgresURL"`
	RetentionDays int    `yaml:"retentionDays"`
}

type ScheduleConfig struct {
	IntervalMin int `yaml:"intervalMin"`
	// Quiet hours in Timezone (UTC when empty) to skip scheduled runs
	QuietHours []int  `yaml:"quietHours"`
	Timezone   string `yaml:"timezone"`
}

type ServerConfig struct {
	Addr string `yaml:"addr"`
}

type LoggingConfig struct {
	Level string `yaml:"level"`
}

// Default returns a sensible default configuration.
func Default() Config {
	return Config{
		BuiltinQueries: true,
		Fetch: FetchConfig{
			ProxyRSS:          true,
			Browser:           BrowserConfig{Enabled: true, Headless: true},
			MaxRetries:        3,
			BaseDelayMs:       2000,
			SyntheticFallback: true,
			SyntheticCount:    3,
			MaxTerms:          query.DefaultMaxTerms,
		},
		Delivery: DeliveryConfig{InterQueryDelayMs: 2000, InterDeliveryDelayMs: 1000},
		RateLimits: map[string]RateLimitConfig{
			"source":       {Ceiling: 30, WindowMs: 60_000},
			"notification": {Ceiling: 20, WindowMs: 60_000},
			"sheets":       {Ceiling: 60, WindowMs: 60_000},
			"notion":       {Ceiling: 90, WindowMs: 60_000},
		},
		Notify:   NotifyConfig{TimeoutSec: 10},
		Storage:  StorageConfig{DBPath: "./xwatch.db"},
		Schedule: ScheduleConfig{IntervalMin: 60},
		Server:   ServerConfig{Addr: ":9090"},
		Logging:  LoggingConfig{Level: "info"},
	}
}

// ResolveEnv fills in config fields from environment variables if not set.
func (c *Config) ResolveEnv() {
	setIfEmpty(&c.Notify.Telegram.BotToken, "TELEGRAM_BOT_TOKEN")
	setIfEmpty(&c.Notify.Telegram.ChatID, "TELEGRAM_CHAT_ID")
	setIfEmpty(&c.Notify.Webhook.URL, "CHAT_WEBHOOK_URL")
	setIfEmpty(&c.Notify.Sheets.Credentials, "GOOGLE_SHEETS_CREDENTIALS")
	setIfEmpty(&c.Notify.Sheets.SpreadsheetID, "GOOGLE_SHEETS_ID")
	setIfEmpty(&c.Notify.Notion.Token, "NOTION_TOKEN")
	setIfEmpty(&c.Notify.Notion.DatabaseID, "NOTION_DATABASE_ID")
	setIfEmpty(&c.Storage.PostgresURL, "DATABASE_URL")
	setIfEmpty(&c.Fetch.ProxyURL, "XWATCH_PROXY_URL")
	if v := os.Getenv("METRICS_ADDR"); v != "" {
		c.Server.Addr = v
	}
	if v := os.Getenv("XWATCH_LOG_LEVEL"); v != "" {
		c.Logging.Level = v
	}
}

func setIfEmpty(dst *string, env string) {
	if *dst == "" {
		*dst = os.Getenv(env)
	}
}

// LoadDotEnv loads KEY=VALUE files into the environment without overriding
// variables that are already set. Missing files are ignored.
func LoadDotEnv(paths ...string) error {
	if len(paths) == 0 {
		paths = []string{".env"}
	}
	for _, p := range paths {
		if _, err := os.Stat(p); errors.Is(err, os.ErrNotExist) {
			continue
		}
		if err := godotenv.Load(p); err != nil {
			return err
		}
	}
	return nil
}

// Load reads YAML config from path on top of Default and resolves env.
// A missing file yields the defaults.
func Load(path string) (Config, error) {
	cfg := Default()
	b, err := os.ReadFile(path)
	if err != nil && !errors.Is(err, os.ErrNotExist) {
		return cfg, err
	}
	if err == nil {
		if err := yaml.Unmarshal(b, &cfg); err != nil {
			return cfg, err
		}
	}
	cfg.ResolveEnv()
	return cfg, nil
}

// Save writes YAML config to path, creating directories as needed.
func Save(path string, cfg Config) error {
	if path == "" {
		return errors.New("empty path")
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return err
	}
	b, err := yaml.Marshal(cfg)
	if err != nil {
		return err
	}
	return os.WriteFile(path, b, 0o644)
}

// AllQueries returns the built-in set (when enabled) followed by custom entries.
func (c Config) AllQueries() []model.SearchQuery {
	var out []model.SearchQuery
	if c.BuiltinQueries {
		out = append(out, query.Builtin()...)
	}
	return append(out, c.Queries...)
}

// Limits converts the rate limit section for ratelimit.New.
func (c Config) Limits() map[string]ratelimit.Limit {
	out := make(map[string]ratelimit.Limit, len(c.RateLimits))
	for dest, l := range c.RateLimits {
		out[dest] = ratelimit.Limit{Ceiling: l.Ceiling, Window: ms(l.WindowMs)}
	}
	return out
}

// StorageDriver resolves the effective storage backend.
func (c Config) StorageDriver() string {
	if c.Storage.Driver != "" {
		return c.Storage.Driver
	}
	if c.Storage.PostgresURL != "" {
		return "postgres"
	}
	return "sqlite"
}

func (c Config) Timeout() time.Duration { return time.Duration(c.Notify.TimeoutSec) * time.Second }
func (c Config) BaseDelay() time.Duration { return ms(c.Fetch.BaseDelayMs) }
func (c Config) Interval() time.Duration { return time.Duration(c.Schedule.IntervalMin) * time.Minute }
func (c Config) InterQuery() time.Duration { return ms(c.Delivery.InterQueryDelayMs) }
func (c Config) InterDelivery() time.Duration { return ms(c.Delivery.InterDeliveryDelayMs) }

// TelegramEnabled reports whether the Telegram sink is configured.
func (c Config) TelegramEnabled() bool { return c.Notify.Telegram.BotToken != "" }

func (c Config) SheetsEnabled() bool {
	return c.Notify.Sheets.Credentials != "" && c.Notify.Sheets.SpreadsheetID != ""
}

func (c Config) NotionEnabled() bool {
	return c.Notify.Notion.Token != "" && c.Notify.Notion.DatabaseID != ""
}

func ms(n int) time.Duration { return time.Duration(n) * time.Millisecond }
