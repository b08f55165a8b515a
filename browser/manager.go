// Package browser attaches fieldtrail to a Chrome instance via Rod: it
// launches or connects to the browser, watches viewports for completed page
// loads, and exposes the playing <video> element as a frame source.
package browser

import (
	"context"
	"fmt"
	"log/slog"
	"sync"

	"github.com/go-rod/rod"
	"github.com/go-rod/rod/lib/launcher"
	"github.com/go-rod/stealth"

	"github.com/hazyhaar/fieldtrail/frame"
	"github.com/hazyhaar/fieldtrail/model"
)

// Config configures the browser manager.
type Config struct {
	// RemoteURL is the WebSocket URL of an external Chrome instance.
	// Empty = launch a local Chrome via launcher.
	RemoteURL string

	// Headless controls the local launch mode. Researchers normally browse in
	// a visible window.
	Headless bool

	Logger *slog.Logger
}

func (c *Config) defaults() {
	if c.Logger == nil {
		c.Logger = slog.Default()
	}
}

// Manager owns the Chrome connection.
type Manager struct {
	cfg     Config
	mu      sync.RWMutex
	browser *rod.Browser
	lnch    *launcher.Launcher
	closed  bool
}

// NewManager creates a Manager. Call Start to launch or attach.
func NewManager(cfg Config) *Manager {
	cfg.defaults()
	return &Manager{cfg: cfg}
}

// Start launches Chrome (or connects to a remote instance) and returns the
// Rod browser handle.
func (m *Manager) Start(ctx context.Context) (*rod.Browser, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.closed {
		return nil, fmt.Errorf("browser: manager is closed")
	}

	log := m.cfg.Logger
	var wsURL string

	if m.cfg.RemoteURL != "" {
		wsURL = m.cfg.RemoteURL
		log.Info("browser: connecting to remote", "url", wsURL)
	} else {
		l := launcher.New().
			Headless(m.cfg.Headless).
			Set("disable-blink-features", "AutomationControlled")
		u, err := l.Launch()
		if err != nil {
			return nil, fmt.Errorf("browser: launch: %w", err)
		}
		wsURL = u
		m.lnch = l
		log.Info("browser: launched local chrome", "headless", m.cfg.Headless)
	}

	b := rod.New().ControlURL(wsURL)
	if err := b.Connect(); err != nil {
		return nil, fmt.Errorf("browser: connect: %w", err)
	}

	// On a local launch, open the first viewport through stealth so tracked
	// browsing does not expose automation markers to the sites visited.
	if m.cfg.RemoteURL == "" {
		if _, err := stealth.Page(b); err != nil {
			log.Warn("browser: stealth page failed", "error", err)
		}
	}

	m.browser = b
	return b, nil
}

// Browser returns the current Rod browser handle, or nil before Start.
func (m *Manager) Browser() *rod.Browser {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.browser
}

// Close shuts down Chrome.
func (m *Manager) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.closed = true
	if m.browser != nil {
		m.browser.Close()
		m.browser = nil
	}
	if m.lnch != nil {
		m.lnch.Cleanup()
		m.lnch = nil
	}
	return nil
}

// ActiveVideo finds a viewport with a <video> element, preferring pages on
// known video platforms, and wraps it as a frame source. It implements the
// dispatcher's VideoProvider.
func (m *Manager) ActiveVideo(ctx context.Context) (frame.VideoSource, bool) {
	b := m.Browser()
	if b == nil {
		return nil, false
	}
	pages, err := b.Pages()
	if err != nil {
		m.cfg.Logger.Debug("browser: list pages failed", "error", err)
		return nil, false
	}

	var fallback *rod.Page
	for _, p := range pages {
		info, err := p.Context(ctx).Info()
		if err != nil {
			continue
		}
		has, err := hasVideo(ctx, p)
		if err != nil || !has {
			continue
		}
		if model.IsVideoURL(info.URL) {
			return NewPageVideo(p), true
		}
		if fallback == nil {
			fallback = p
		}
	}
	if fallback != nil {
		return NewPageVideo(fallback), true
	}
	return nil, false
}

func hasVideo(ctx context.Context, p *rod.Page) (bool, error) {
	res, err := p.Context(ctx).Eval(`() => !!document.querySelector('video')`)
	if err != nil {
		return false, err
	}
	return res.Value.Bool(), nil
}
