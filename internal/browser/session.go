// Package browser owns the headless Chrome used by the live search strategy.
package browser

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/go-rod/rod"
	"github.com/go-rod/rod/lib/launcher"
	"github.com/go-rod/stealth"

	"xwatch/internal/logging"
)

// ErrLaunch marks failures to start or reach Chrome at all, as opposed to a
// single page failing to render.
var ErrLaunch = errors.New("browser: launch failed")

// Config configures a Session.
type Config struct {
	// RemoteURL is the DevTools websocket of an external Chrome. Empty launches a local one.
	RemoteURL string
	Headless  bool
	// Bin overrides the Chrome binary path.
	Bin         string
	NavTimeout  time.Duration
	SettleDelay time.Duration
}

func (c *Config) defaults() {
	if c.NavTimeout <= 0 {
		c.NavTimeout = 30 * time.Second
	}
	if c.SettleDelay <= 0 {
		c.SettleDelay = 3 * time.Second
	}
}

// Session lazily launches Chrome on first Render and keeps it until Close.
type Session struct {
	cfg     Config
	mu      sync.Mutex
	browser *rod.Browser
	lnch    *launcher.Launcher
	closed  bool
}

func NewSession(cfg Config) *Session {
	cfg.defaults()
	return &Session{cfg: cfg}
}

// Render opens url in a stealth page, waits for the client-side app to
// settle and returns the serialized DOM.
func (s *Session) Render(ctx context.Context, url string) (string, error) {
	b, err := s.ensure()
	if err != nil {
		return "", err
	}
	page, err := stealth.Page(b)
	if err != nil {
		return "", fmt.Errorf("browser: create page: %w", err)
	}
	defer page.Close()

	navCtx, cancel := context.WithTimeout(ctx, s.cfg.NavTimeout)
	defer cancel()
	p := page.Context(navCtx)
	if err := p.Navigate(url); err != nil {
		return "", fmt.Errorf("browser: navigate %s: %w", url, err)
	}
	if err := p.WaitLoad(); err != nil {
		logging.Warn("browser_wait_load", map[string]any{"url": url, "error": err})
	}
	// search results stream in after load
	_, _ = p.Timeout(s.cfg.SettleDelay).Element(`article[data-testid="tweet"]`)
	html, err := p.HTML()
	if err != nil {
		return "", fmt.Errorf("browser: get DOM: %w", err)
	}
	return html, nil
}

func (s *Session) ensure() (*rod.Browser, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return nil, fmt.Errorf("%w: session closed", ErrLaunch)
	}
	if s.browser != nil {
		return s.browser, nil
	}
	wsURL := s.cfg.RemoteURL
	if wsURL == "" {
		l := launcher.New().Headless(s.cfg.Headless).
			Set("disable-blink-features", "AutomationControlled")
		if s.cfg.Bin != "" {
			l = l.Bin(s.cfg.Bin)
		}
		u, err := l.Launch()
		if err != nil {
			return nil, fmt.Errorf("%w: %v", ErrLaunch, err)
		}
		wsURL = u
		s.lnch = l
	}
	b := rod.New().ControlURL(wsURL)
	if err := b.Connect(); err != nil {
		s.cleanup()
		return nil, fmt.Errorf("%w: connect: %v", ErrLaunch, err)
	}
	s.browser = b
	logging.Info("browser_started", map[string]any{"remote": s.cfg.RemoteURL != "", "headless": s.cfg.Headless})
	return b, nil
}

// Close releases Chrome. Safe to call more than once.
func (s *Session) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closed = true
	return s.cleanup()
}

func (s *Session) cleanup() error {
	var err error
	if s.browser != nil {
		err = s.browser.Close()
		s.browser = nil
	}
	if s.lnch != nil {
		s.lnch.Cleanup()
		s.lnch = nil
	}
	return err
}
