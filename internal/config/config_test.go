package config

import (
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"
)

func clearEnv(t *testing.T) {
	for _, k := range []string{"TELEGRAM_BOT_TOKEN", "TELEGRAM_CHAT_ID", "CHAT_WEBHOOK_URL", "GOOGLE_SHEETS_CREDENTIALS",
		"GOOGLE_SHEETS_ID", "NOTION_TOKEN", "NOTION_DATABASE_ID", "DATABASE_URL", "XWATCH_PROXY_URL", "METRICS_ADDR", "XWATCH_LOG_LEVEL"} {
		t.Setenv(k, "")
	}
}

func TestSaveLoadRoundTripKeepsDefaults(t *testing.T) {
	clearEnv(t)
	dir := t.TempDir()
	path := filepath.Join(dir, "nested", "xwatch.yaml")
	cfg := Default()
	cfg.Notify.Webhook.URL = "https://hooks.example/abc"
	cfg.Delivery.ContinueOnError = true
	if err := Save(path, cfg); err != nil {
		t.Fatal(err)
	}
	got, err := Load(path)
	if err != nil {
		t.Fatal(err)
	}
	if got.Notify.Webhook.URL != cfg.Notify.Webhook.URL || !got.Delivery.ContinueOnError || got.Fetch.MaxRetries != 3 {
		t.Fatalf("round trip mismatch: %+v", got)
	}
	if err := got.Validate(); err != nil {
		t.Fatalf("expected valid config: %v", err)
	}
}

func TestLoadPartialYAMLOverlaysDefaults(t *testing.T) {
	clearEnv(t)
	path := filepath.Join(t.TempDir(), "c.yaml")
	yml := "fetch:\n  useProxy: true\n  proxyURL: https://nitter.example\nqueries:\n  - name: custom\n    raw: 'Podha lang:en'\n"
	if err := os.WriteFile(path, []byte(yml), 0o644); err != nil {
		t.Fatal(err)
	}
	cfg, err := Load(path)
	if err != nil {
		t.Fatal(err)
	}
	if !cfg.Fetch.UseProxy || cfg.Fetch.BaseDelayMs != 2000 || cfg.Delivery.InterDeliveryDelayMs != 1000 {
		t.Fatalf("defaults lost: %+v", cfg.Fetch)
	}
	qs := cfg.AllQueries()
	if qs[len(qs)-1].Name != "custom" || len(qs) < 2 {
		t.Fatalf("custom query should follow builtins: %d", len(qs))
	}
	if cfg.BaseDelay() != 2*time.Second || cfg.Limits()["notification"].Window != time.Minute {
		t.Fatal("duration helpers")
	}
}

func TestMissingFileYieldsDefaults(t *testing.T) {
	clearEnv(t)
	cfg, err := Load(filepath.Join(t.TempDir(), "nope.yaml"))
	if err != nil || cfg.Schedule.IntervalMin != 60 {
		t.Fatalf("expected defaults: %v %+v", err, cfg.Schedule)
	}
}

func TestResolveEnvAndDotEnv(t *testing.T) {
	clearEnv(t)
	os.Unsetenv("NOTION_TOKEN")
	path := filepath.Join(t.TempDir(), ".env")
	if err := os.WriteFile(path, []byte("NOTION_TOKEN=secret_dotenv\n"), 0o600); err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { os.Unsetenv("NOTION_TOKEN") })
	if err := LoadDotEnv(path, filepath.Join(t.TempDir(), "missing.env")); err != nil {
		t.Fatal(err)
	}
	t.Setenv("TELEGRAM_BOT_TOKEN", "123:abc")
	t.Setenv("TELEGRAM_CHAT_ID", "42")
	t.Setenv("DATABASE_URL", "postgres://localhost/xwatch")
	t.Setenv("METRICS_ADDR", ":9999")
	cfg := Default()
	cfg.ResolveEnv()
	if cfg.Notify.Notion.Token != "secret_dotenv" || cfg.Notify.Telegram.ChatID != "42" || cfg.Server.Addr != ":9999" {
		t.Fatalf("env not resolved: %+v", cfg.Notify)
	}
	if cfg.StorageDriver() != "postgres" {
		t.Fatalf("DATABASE_URL should select postgres, got %s", cfg.StorageDriver())
	}
}

func TestValidateReportsConfigurationErrors(t *testing.T) {
	clearEnv(t)
	cfg := Default()
	cfg.Fetch.UseProxy = true
	cfg.Schedule.QuietHours = []int{25}
	cfg.Storage.Driver = "mongo"
	err := cfg.Validate()
	if err == nil {
		t.Fatal("expected errors")
	}
	var ce *ConfigurationError
	if !errors.As(err, &ce) {
		t.Fatalf("expected ConfigurationError, got %T", err)
	}
	for _, sentinel := range []error{ErrNoSink, ErrMissingValue, ErrOutOfRange, ErrUnknownValue} {
		if !errors.Is(err, sentinel) {
			t.Errorf("expected %v in %v", sentinel, err)
		}
	}

	cfg = Default()
	cfg.BuiltinQueries = false
	cfg.Notify.Webhook.URL = "https://hooks.example/x"
	if err := cfg.Validate(); !errors.Is(err, ErrNoQueries) {
		t.Fatalf("expected ErrNoQueries, got %v", err)
	}
}
