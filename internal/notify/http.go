package notify

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"time"

	"xwatch/internal/metrics"
)

// response is a completed HTTP exchange. Transport failures and 5xx/429
// are retried before one is returned.
type response struct {
	Status int
	Body   []byte
}

type poster struct {
	client      *http.Client
	maxAttempts int
	backoff     time.Duration
}

func newPoster(timeout time.Duration) poster {
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	return poster{client: &http.Client{Timeout: timeout}, maxAttempts: DefaultMaxAttempts, backoff: 500 * time.Millisecond}
}

func (p poster) postJSON(ctx context.Context, url string, headers map[string]string, payload any) (response, error) {
	body, err := json.Marshal(payload)
	if err != nil {
		return response{}, err
	}
	return p.post(ctx, url, headers, body)
}

func (p poster) post(ctx context.Context, url string, headers map[string]string, body []byte) (response, error) {
	backoff := p.backoff
	attempts := p.maxAttempts
	if attempts <= 0 { attempts = 1 }
	var lastErr error
	for attempt := 1; attempt <= attempts; attempt++ {
		req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
		if err != nil { return response{}, err }
		req.Header.Set("Content-Type", "application/json")
		for k, v := range headers {
			req.Header.Set(k, v)
		}
		wait := backoff
		resp, err := p.client.Do(req)
		if err == nil {
			b, _ := io.ReadAll(io.LimitReader(resp.Body, 64<<10))
			_ = resp.Body.Close()
			if resp.StatusCode != http.StatusTooManyRequests && resp.StatusCode < 500 {
				return response{Status: resp.StatusCode, Body: b}, nil
			}
			lastErr = fmt.Errorf("status %d: %s", resp.StatusCode, truncate(string(b), 200))
			if ra := resp.Header.Get("Retry-After"); ra != "" {
				if secs, err := strconv.Atoi(ra); err == nil && secs >= 0 {
					wait = time.Duration(secs) * time.Second
				}
			}
		} else {
			lastErr = err
		}
		if attempt == attempts || ctx.Err() != nil {
			break
		}
		metrics.IncAPIRetry(req.URL.Host)
		select {
		case <-time.After(wait):
		case <-ctx.Done():
			return response{}, ctx.Err()
		}
		backoff *= 2
	}
	return response{}, fmt.Errorf("post %s failed after %d attempts: %w", url, attempts, lastErr)
}

func truncate(s string, n int) string {
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	return string(r[:n])
}
