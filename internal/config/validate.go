package config

import (
	"errors"
	"fmt"
	"time"
)

var (
	ErrNoQueries    = errors.New("no queries configured")
	ErrNoSink       = errors.New("no notification sink configured")
	ErrMissingValue = errors.New("required value missing")
	ErrOutOfRange   = errors.New("value out of range")
	ErrUnknownValue = errors.New("unknown value")
)

// ConfigurationError names the offending field. It wraps one of the ErrXxx
// sentinels.
type ConfigurationError struct {
	Field  string
	Reason string
	Err    error
}

func (e *ConfigurationError) Error() string {
	return fmt.Sprintf("config %s: %s", e.Field, e.Reason)
}

func (e *ConfigurationError) Unwrap() error { return e.Err }

func invalid(field string, sentinel error, format string, args ...any) *ConfigurationError {
	return &ConfigurationError{Field: field, Reason: fmt.Sprintf(format, args...), Err: sentinel}
}

// Validate checks the configuration after env resolution. All problems are
// returned joined; each is a *ConfigurationError.
func (c Config) Validate() error {
	var errs []error
	add := func(e *ConfigurationError) { errs = append(errs, e) }

	qs := c.AllQueries()
	if len(qs) == 0 {
		add(invalid("queries", ErrNoQueries, "enable builtinQueries or add custom queries"))
	}
	for i, q := range qs {
		if q.Expression() == "" {
			add(invalid(fmt.Sprintf("queries[%d]", i), ErrMissingValue, "query %q renders an empty expression", q.Name))
		}
	}

	if !c.TelegramEnabled() && c.Notify.Webhook.URL == "" {
		add(invalid("notify", ErrNoSink, "set TELEGRAM_BOT_TOKEN or CHAT_WEBHOOK_URL"))
	}
	if c.TelegramEnabled() && c.Notify.Telegram.ChatID == "" {
		add(invalid("notify.telegram.chatID", ErrMissingValue, "TELEGRAM_CHAT_ID is required with a bot token"))
	}
	if (c.Notify.Sheets.Credentials == "") != (c.Notify.Sheets.SpreadsheetID == "") {
		add(invalid("notify.sheets", ErrMissingValue, "credentials and spreadsheetID go together"))
	}
	if (c.Notify.Notion.Token == "") != (c.Notify.Notion.DatabaseID == "") {
		add(invalid("notify.notion", ErrMissingValue, "token and databaseID go together"))
	}
	if c.Notify.TimeoutSec <= 0 {
		add(invalid("notify.timeoutSec", ErrOutOfRange, "must be positive"))
	}

	if c.Fetch.UseProxy && c.Fetch.ProxyURL == "" {
		add(invalid("fetch.proxyURL", ErrMissingValue, "useProxy needs XWATCH_PROXY_URL"))
	}
	if !c.Fetch.UseProxy && !c.Fetch.Browser.Enabled && c.Fetch.ProxyURL == "" && !c.Fetch.SyntheticFallback {
		add(invalid("fetch", ErrMissingValue, "no fetch strategy enabled"))
	}
	if c.Fetch.MaxRetries <= 0 {
		add(invalid("fetch.maxRetries", ErrOutOfRange, "must be positive"))
	}
	if c.Fetch.BaseDelayMs < 0 {
		add(invalid("fetch.baseDelayMs", ErrOutOfRange, "must not be negative"))
	}
	if c.Delivery.InterQueryDelayMs < 0 || c.Delivery.InterDeliveryDelayMs < 0 {
		add(invalid("delivery", ErrOutOfRange, "delays must not be negative"))
	}

	for dest, l := range c.RateLimits {
		if l.Ceiling <= 0 || l.WindowMs <= 0 {
			add(invalid("rateLimits."+dest, ErrOutOfRange, "ceiling and windowMs must be positive"))
		}
	}

	switch c.StorageDriver() {
	case "sqlite":
		if c.Storage.DBPath == "" {
			add(invalid("storage.dbPath", ErrMissingValue, "sqlite needs a path"))
		}
	case "postgres":
		if c.Storage.PostgresURL == "" {
			add(invalid("storage.postgresURL", ErrMissingValue, "postgres needs DATABASE_URL"))
		}
	default:
		add(invalid("storage.driver", ErrUnknownValue, "%q is not sqlite or postgres", c.Storage.Driver))
	}
	if c.Storage.RetentionDays < 0 {
		add(invalid("storage.retentionDays", ErrOutOfRange, "must not be negative"))
	}

	if c.Schedule.IntervalMin <= 0 {
		add(invalid("schedule.intervalMin", ErrOutOfRange, "must be positive"))
	}
	for _, h := range c.Schedule.QuietHours {
		if h < 0 || h > 23 {
			add(invalid("schedule.quietHours", ErrOutOfRange, "hour %d not in 0..23", h))
		}
	}
	if c.Schedule.Timezone != "" {
		if _, err := time.LoadLocation(c.Schedule.Timezone); err != nil {
			add(invalid("schedule.timezone", ErrUnknownValue, "%v", err))
		}
	}
	switch c.Logging.Level {
	case "", "debug", "info", "warn", "warning", "error":
	default:
		add(invalid("logging.level", ErrUnknownValue, "%q", c.Logging.Level))
	}
	return errors.Join(errs...)
}
