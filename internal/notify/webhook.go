package notify

import (
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"time"

	"xwatch/internal/model"
)

// Webhook posts records to a Slack or Discord compatible incoming webhook.
// With a secret, the body is signed into X-Signature-256 as sha256=<hex>.
type Webhook struct {
	URL    string
	Secret string
	poster
}

func NewWebhook(url, secret string, timeout time.Duration) *Webhook {
	return &Webhook{URL: url, Secret: secret, poster: newPoster(timeout)}
}

type webhookPayload struct {
	Text    string       `json:"text"`
	Content string       `json:"content"`
	Record  model.Record `json:"record"`
}

func (w *Webhook) Notify(ctx context.Context, rec model.Record) (Receipt, error) {
	text := FormatText(rec)
	payload := webhookPayload{Text: text, Content: text, Record: rec}
	body, err := json.Marshal(payload)
	if err != nil {
		return Receipt{}, err
	}
	headers := map[string]string{}
	if w.Secret != "" {
		headers["X-Signature-256"] = "sha256=" + Sign(w.Secret, body)
	}
	resp, err := w.post(ctx, w.URL, headers, body)
	if err != nil {
		return Receipt{}, err
	}
	r := Receipt{OK: resp.Status < 300, Status: resp.Status}
	if !r.OK {
		r.Detail = truncate(string(resp.Body), 200)
	}
	return r, nil
}

// Sign returns the hex HMAC-SHA256 of body.
func Sign(secret string, body []byte) string {
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write(body)
	return hex.EncodeToString(mac.Sum(nil))
}

var _ Notifier = (*Webhook)(nil)
