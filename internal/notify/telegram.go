package notify

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"time"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"

	"xwatch/internal/model"
)

// Telegram sends one Markdown message per record to a chat or channel.
type Telegram struct {
	Bot         *tgbotapi.BotAPI
	chatID      int64
	channel     string
	maxAttempts int
	backoff     time.Duration
}

// NewTelegram connects with the bot token. chatID is a numeric id or an
// @channel username. An empty endpoint means the public Bot API.
func NewTelegram(token, chatID, endpoint string, timeout time.Duration) (*Telegram, error) {
	if endpoint == "" {
		endpoint = tgbotapi.APIEndpoint
	}
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	bot, err := tgbotapi.NewBotAPIWithClient(token, endpoint, &http.Client{Timeout: timeout})
	if err != nil {
		return nil, fmt.Errorf("telegram: %w", err)
	}
	t := &Telegram{Bot: bot, maxAttempts: DefaultMaxAttempts, backoff: 500 * time.Millisecond}
	if strings.HasPrefix(chatID, "@") {
		t.channel = chatID
	} else {
		id, err := strconv.ParseInt(chatID, 10, 64)
		if err != nil {
			return nil, fmt.Errorf("invalid chat id: %v", err)
		}
		t.chatID = id
	}
	return t, nil
}

func (t *Telegram) message(rec model.Record) tgbotapi.MessageConfig {
	var msg tgbotapi.MessageConfig
	if t.channel != "" {
		msg = tgbotapi.NewMessageToChannel(t.channel, FormatMarkdown(rec))
	} else {
		msg = tgbotapi.NewMessage(t.chatID, FormatMarkdown(rec))
	}
	msg.ParseMode = tgbotapi.ModeMarkdown
	msg.DisableWebPagePreview = true
	return msg
}

func (t *Telegram) Notify(ctx context.Context, rec model.Record) (Receipt, error) {
	msg := t.message(rec)
	backoff := t.backoff
	var lastErr error
	for attempt := 1; attempt <= t.maxAttempts; attempt++ {
		if err := ctx.Err(); err != nil {
			return Receipt{}, err
		}
		_, err := t.Bot.Send(msg)
		if err == nil {
			return Receipt{OK: true, Status: http.StatusOK}, nil
		}
		wait := backoff
		var apiErr *tgbotapi.Error
		if errors.As(err, &apiErr) {
			switch {
			case apiErr.Code == http.StatusTooManyRequests:
				if apiErr.RetryAfter > 0 {
					wait = time.Duration(apiErr.RetryAfter) * time.Second
				}
			case apiErr.Code < 500:
				return Receipt{OK: false, Status: apiErr.Code, Detail: apiErr.Message}, nil
			}
		}
		lastErr = err
		if attempt == t.maxAttempts {
			break
		}
		select {
		case <-time.After(wait):
		case <-ctx.Done():
			return Receipt{}, ctx.Err()
		}
		backoff *= 2
	}
	return Receipt{}, fmt.Errorf("telegram: send failed after %d attempts: %w", t.maxAttempts, lastErr)
}

var mdEscaper = strings.NewReplacer("_", "\\_", "*", "\\*", "`", "\\`", "[", "\\[")

// FormatMarkdown renders a record for Telegram's legacy Markdown mode.
func FormatMarkdown(rec model.Record) string {
	var sb strings.Builder
	if rec.IsSynthetic() {
		sb.WriteString("_synthetic sample_\n")
	}
	fmt.Fprintf(&sb, "*@%s*\n%s\n\n", mdEscaper.Replace(rec.Author), mdEscaper.Replace(rec.Text))
	fmt.Fprintf(&sb, "likes %d · reposts %d · replies %d", rec.Engagement.Likes, rec.Engagement.Reposts, rec.Engagement.Replies)
	if rec.Query != "" {
		fmt.Fprintf(&sb, "\nquery: %s", mdEscaper.Replace(rec.Query))
	}
	if rec.URL != "" {
		// link targets are not parsed for entities, bare text is
		fmt.Fprintf(&sb, "\n[open post](%s)", strings.ReplaceAll(rec.URL, ")", "%29"))
	}
	return sb.String()
}

var _ Notifier = (*Telegram)(nil)
