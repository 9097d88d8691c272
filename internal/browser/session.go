// Package browser owns the Chrome instance driven against the chat
// client: launch with a persistent profile, readiness detection, and
// the selector waterfalls shared by the poller and responder.
package browser

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/go-rod/rod"
	"github.com/go-rod/rod/lib/launcher"
	"github.com/go-rod/rod/lib/proto"
	"github.com/google/uuid"
	"go.uber.org/zap"
)

// Config holds browser configuration.
type Config struct {
	ProfileDir     string
	TargetURL      string
	Headless       bool
	ViewportWidth  int
	ViewportHeight int
	LoadTimeout    time.Duration
	SessionStore   string
}

// Session describes the public metadata of the tracked browser context.
type Session struct {
	ID         string    `json:"id"`
	TargetID   string    `json:"target_id,omitempty"`
	URL        string    `json:"url,omitempty"`
	Status     string    `json:"status,omitempty"`
	CreatedAt  time.Time `json:"created_at"`
	LastActive time.Time `json:"last_active"`
}

// readyLocators mark a loaded chat list. Several selector generations
// of the upstream client are tried.
var readyLocators = []Locator{
	{Name: "chat-list-testid", Query: `div[data-testid="chat-list"]`, Kind: CSS},
	{Name: "side-pane", Query: `#pane-side`, Kind: CSS},
	{Name: "chat-list-aria", Query: `//div[@aria-label="Chat list"]`, Kind: XPath},
}

// Injected before any site script runs so the page cannot observe the
// automation driver.
const stealthScript = `Object.defineProperty(navigator, 'webdriver', {get: () => undefined});
Object.defineProperty(navigator, 'languages', {get: () => ['en-US', 'en']});
if (!window.chrome) { window.chrome = { runtime: {} }; }`

const readyPollInterval = 500 * time.Millisecond

// Manager owns the Chrome instance and the single page driven against
// the target site.
type Manager struct {
	cfg     Config
	log     *zap.Logger
	browser *rod.Browser
	page    *rod.Page
	meta    Session
}

// NewManager creates a session manager.
func NewManager(cfg Config, log *zap.Logger) *Manager {
	return &Manager{cfg: cfg, log: log}
}

// Start launches Chrome bound to the persistent profile directory and
// navigates to the target URL. Automation fingerprinting is suppressed
// via launch flags and an init script; the profile keeps the login
// session across runs.
func (m *Manager) Start(ctx context.Context) error {
	if m.browser != nil {
		return nil
	}

	if err := os.MkdirAll(m.cfg.ProfileDir, 0o755); err != nil {
		return fmt.Errorf("create profile dir: %w", err)
	}

	l := launcher.New().
		UserDataDir(m.cfg.ProfileDir).
		ProfileDir("Default").
		Headless(m.cfg.Headless).
		Set("disable-blink-features", "AutomationControlled").
		Delete("enable-automation")

	controlURL, err := l.Launch()
	if err != nil {
		return fmt.Errorf("launch chrome: %w", err)
	}

	browser := rod.New().ControlURL(controlURL).Context(ctx)
	if err := browser.Connect(); err != nil {
		return fmt.Errorf("connect to chrome: %w", err)
	}

	page, err := browser.Page(proto.TargetCreateTarget{})
	if err != nil {
		_ = browser.Close()
		return fmt.Errorf("create page: %w", err)
	}

	if _, err := page.EvalOnNewDocument(stealthScript); err != nil {
		m.log.Warn("failed to install stealth script", zap.Error(err))
	}

	if err := (proto.EmulationSetDeviceMetricsOverride{
		Width:             m.cfg.ViewportWidth,
		Height:            m.cfg.ViewportHeight,
		DeviceScaleFactor: 1.0,
		Mobile:            false,
	}).Call(page); err != nil {
		m.log.Warn("failed to set viewport", zap.Error(err))
	}

	if err := page.Timeout(m.cfg.LoadTimeout).Navigate(m.cfg.TargetURL); err != nil {
		_ = browser.Close()
		return fmt.Errorf("navigate %s: %w", m.cfg.TargetURL, err)
	}

	now := time.Now()
	m.browser = browser
	m.page = page
	m.meta = Session{
		ID:         uuid.NewString(),
		TargetID:   string(page.TargetID),
		URL:        m.cfg.TargetURL,
		Status:     "loading",
		CreatedAt:  now,
		LastActive: now,
	}
	m.persistSession()

	m.log.Info("browser started",
		zap.String("session", m.meta.ID),
		zap.String("profile", m.cfg.ProfileDir),
		zap.Bool("headless", m.cfg.Headless))
	return nil
}

// AwaitReady blocks until a loaded-chat-list marker appears, polling
// the readiness waterfall bounded by the configured timeout. On a
// fresh profile the marker only appears after the operator scans the
// QR code; that flow is external and not automated here.
func (m *Manager) AwaitReady(ctx context.Context) error {
	if m.page == nil {
		return fmt.Errorf("browser not started")
	}

	_, loc, err := AwaitAny(ctx, m.page, readyLocators, m.cfg.LoadTimeout, readyPollInterval)
	if err != nil {
		return fmt.Errorf("page never became ready (login pending?): %w", err)
	}

	m.meta.Status = "ready"
	m.meta.LastActive = time.Now()
	m.persistSession()

	m.log.Info("chat list loaded", zap.String("marker", loc.Name))
	return nil
}

// Reload refreshes the page. Used by the watchdog as a self-healing
// measure after prolonged inactivity.
func (m *Manager) Reload(ctx context.Context) error {
	if m.page == nil {
		return fmt.Errorf("browser not started")
	}
	if err := m.page.Context(ctx).Reload(); err != nil {
		return fmt.Errorf("reload: %w", err)
	}
	return m.AwaitReady(ctx)
}

// Restart tears the browser down and launches it again.
func (m *Manager) Restart(ctx context.Context) error {
	_ = m.Shutdown(ctx)
	return m.Start(ctx)
}

// Shutdown closes the page and the browser, best effort and bounded
// by ctx so a wedged driver cannot stall process exit.
func (m *Manager) Shutdown(ctx context.Context) error {
	if m.page != nil {
		_ = m.page.Context(ctx).Close()
		m.page = nil
	}

	var err error
	if m.browser != nil {
		err = m.browser.Context(ctx).Close()
		m.browser = nil
	}

	m.meta.Status = "closed"
	m.persistSession()

	m.log.Info("browser shut down")
	return err
}

// Page returns the live page for the poller and responder.
func (m *Manager) Page() *rod.Page {
	return m.page
}

// Meta returns the current session metadata.
func (m *Manager) Meta() Session {
	return m.meta
}

// Health checks that the devtools connection still serves the page.
// Element misses are routine and handled by the waterfalls; a failure
// here means the driver itself is gone and the session needs recovery.
func Health(page *rod.Page) error {
	if page == nil {
		return fmt.Errorf("no page attached")
	}
	if _, err := page.Info(); err != nil {
		return fmt.Errorf("page unresponsive: %w", err)
	}
	return nil
}

// persistSession mirrors session metadata to disk.
func (m *Manager) persistSession() {
	if m.cfg.SessionStore == "" || m.meta.ID == "" {
		return
	}

	data, err := json.MarshalIndent(m.meta, "", "  ")
	if err != nil {
		m.log.Warn("marshal session metadata", zap.Error(err))
		return
	}
	if err := os.MkdirAll(filepath.Dir(m.cfg.SessionStore), 0o755); err != nil {
		m.log.Warn("create session store dir", zap.Error(err))
		return
	}
	if err := os.WriteFile(m.cfg.SessionStore, data, 0o644); err != nil {
		m.log.Warn("write session metadata", zap.Error(err))
	}
}

// LoadSession reads persisted session metadata. A missing file is not
// an error and yields a zero Session.
func LoadSession(path string) (Session, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return Session{}, nil
		}
		return Session{}, err
	}

	var s Session
	if err := json.Unmarshal(data, &s); err != nil {
		return Session{}, err
	}
	return s, nil
}
