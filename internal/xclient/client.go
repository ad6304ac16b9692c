package xclient

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"os"
	"strconv"
	"strings"
	"time"

	"golang.org/x/time/rate"

	"xwatch/internal/metrics"
)

// DefaultUserAgent is sent on every proxy request; mirrors instances tend to
// reject obvious bot agents.
const DefaultUserAgent = "Mozilla/5.0 (X11; Linux x86_64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/124.0 Safari/537.36"

const maxBody = 4 << 20

// Searcher is what the proxy fetch strategy needs from a client.
type Searcher interface {
	SearchHTML(ctx context.Context, query string) (string, error)
	SearchRSS(ctx context.Context, query string) ([]byte, error)
}

// ProxyClient talks to a public mirror front-end of the search site.
type ProxyClient struct {
	baseURL     string
	userAgent   string
	httpClient  *http.Client
	limiter     *rate.Limiter
	maxAttempts int
	baseBackoff time.Duration
}

func NewProxyClient(baseURL string) *ProxyClient {
	return &ProxyClient{
		baseURL:     strings.TrimRight(baseURL, "/"),
		userAgent:   DefaultUserAgent,
		httpClient:  &http.Client{Timeout: 20 * time.Second},
		limiter:     newDefaultLimiter(),
		maxAttempts: getEnvInt("XWATCH_PROXY_MAX_ATTEMPTS", 3),
		baseBackoff: time.Duration(getEnvInt("XWATCH_PROXY_BASE_BACKOFF_MS", 500)) * time.Millisecond,
	}
}

// BaseURL returns the configured mirror root.
func (c *ProxyClient) BaseURL() string { return c.baseURL }

// SearchHTML returns the raw timeline markup for a live search.
func (c *ProxyClient) SearchHTML(ctx context.Context, query string) (string, error) {
	b, err := c.get(ctx, "/search", query)
	if err != nil {
		return "", err
	}
	return string(b), nil
}

// SearchRSS returns the RSS feed for the same search.
func (c *ProxyClient) SearchRSS(ctx context.Context, query string) ([]byte, error) {
	return c.get(ctx, "/search/rss", query)
}

func (c *ProxyClient) get(ctx context.Context, path, query string) ([]byte, error) {
	if c.baseURL == "" {
		return nil, fmt.Errorf("proxy url not configured")
	}
	u := fmt.Sprintf("%s%s?f=tweets&q=%s", c.baseURL, path, url.QueryEscape(query))
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u, nil)
	if err != nil { return nil, err }
	req.Header.Set("User-Agent", c.userAgent)
	req.Header.Set("Accept", "text/html,application/rss+xml,application/xml;q=0.9,*/*;q=0.8")
	if err := c.limiter.Wait(ctx); err != nil { return nil, err }
	resp, err := c.doWithRetry(ctx, req)
	if err != nil { return nil, err }
	defer resp.Body.Close()
	if resp.StatusCode >= 400 {
		return nil, fmt.Errorf("proxy status %d", resp.StatusCode)
	}
	return io.ReadAll(io.LimitReader(resp.Body, maxBody))
}

func (c *ProxyClient) doWithRetry(ctx context.Context, req *http.Request) (*http.Response, error) {
	backoff := c.baseBackoff
	var lastErr error
	for attempt := 1; attempt <= c.maxAttempts; attempt++ {
		resp, err := c.httpClient.Do(req.Clone(ctx))
		if err == nil {
			if resp.StatusCode == http.StatusTooManyRequests || (resp.StatusCode >= 500 && resp.StatusCode <= 599) {
				if attempt == c.maxAttempts {
					return resp, nil
				}
				wait := retryAfter(resp.Header.Get("Retry-After"), backoff)
				_ = resp.Body.Close()
				// jitter +/-20%
				jitter := time.Duration(float64(wait) * 0.2)
				if jitter > 0 {
					wait = wait - jitter + time.Duration(time.Now().UnixNano()%int64(2*jitter))
				}
				metrics.IncAPIRetry(req.URL.Path)
				select {
				case <-time.After(wait):
				case <-ctx.Done():
					return nil, ctx.Err()
				}
				backoff *= 2
				continue
			}
			return resp, nil
		}
		lastErr = err
		if attempt == c.maxAttempts {
			break
		}
		metrics.IncAPIRetry(req.URL.Path)
		select {
		case <-time.After(backoff):
		case <-ctx.Done():
			return nil, ctx.Err()
		}
		backoff *= 2
	}
	return nil, fmt.Errorf("request failed after %d attempts: %w", c.maxAttempts, lastErr)
}

func retryAfter(ra string, def time.Duration) time.Duration {
	if ra == "" {
		return def
	}
	if secs, err := strconv.Atoi(ra); err == nil {
		return time.Duration(secs) * time.Second
	}
	if t, err := http.ParseTime(ra); err == nil {
		if d := time.Until(t); d > 0 { return d }
	}
	return def
}

func getEnvInt(key string, def int) int {
	v := os.Getenv(key)
	if v == "" { return def }
	if i, err := strconv.Atoi(v); err == nil && i > 0 { return i }
	return def
}
