// Package browser owns the shared headless Chrome instance and hands out
// isolated, network-recorded pages for imports.
package browser

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"sync/atomic"

	"chatimport/internal/capture"

	"github.com/go-rod/rod"
	"github.com/go-rod/rod/lib/launcher"
	"github.com/go-rod/rod/lib/launcher/flags"
	"github.com/go-rod/rod/lib/proto"
	"github.com/google/uuid"
	"go.uber.org/zap"
	"golang.org/x/sync/singleflight"
)

// DefaultUserAgent is a current desktop Chrome on Windows.
const DefaultUserAgent = "Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/130.0.0.0 Safari/537.36"

// hideWebdriverJS runs before any page script in every document.
const hideWebdriverJS = `Object.defineProperty(navigator, 'webdriver', { get: () => undefined });`

// ErrNotConnected is returned when no browser is available.
var ErrNotConnected = errors.New("browser not connected")

// Config holds browser configuration.
type Config struct {
	// Bin is the Chrome executable. Empty lets the launcher find or fetch one.
	Bin string `json:"bin" yaml:"bin"`
	// DebuggerURL connects to an already running Chrome instead of launching.
	DebuggerURL string `json:"debugger_url" yaml:"debugger_url"`
	// Launch holds extra command line flags, e.g. "--lang=en-US".
	Launch         []string `json:"launch" yaml:"launch"`
	Headless       bool     `json:"headless" yaml:"headless"`
	NoSandbox      bool     `json:"no_sandbox" yaml:"no_sandbox"`
	ViewportWidth  int      `json:"viewport_width" yaml:"viewport_width"`
	ViewportHeight int      `json:"viewport_height" yaml:"viewport_height"`
	UserAgent      string   `json:"user_agent" yaml:"user_agent"`
	AcceptLanguage string   `json:"accept_language" yaml:"accept_language"`
}

// DefaultConfig returns sensible defaults.
func DefaultConfig() Config {
	return Config{
		Headless:       true,
		NoSandbox:      true,
		ViewportWidth:  1920,
		ViewportHeight: 1080,
		UserAgent:      DefaultUserAgent,
		AcceptLanguage: "en-US,en;q=0.9",
	}
}

// GetViewportWidth returns viewport width.
func (c Config) GetViewportWidth() int {
	if c.ViewportWidth == 0 {
		return 1920
	}
	return c.ViewportWidth
}

// GetViewportHeight returns viewport height.
func (c Config) GetViewportHeight() int {
	if c.ViewportHeight == 0 {
		return 1080
	}
	return c.ViewportHeight
}

// GetUserAgent returns the user agent string pages present.
func (c Config) GetUserAgent() string {
	if c.UserAgent == "" {
		return DefaultUserAgent
	}
	return c.UserAgent
}

// SessionManager owns the Chrome process. The browser is started lazily on
// the first page request and shared by every import after that.
type SessionManager struct {
	cfg        Config
	log        *zap.Logger
	classifier *capture.Classifier

	mu         sync.RWMutex
	browser    *rod.Browser
	launcher   *launcher.Launcher
	controlURL string
	cancel     context.CancelFunc
	closed     bool

	launches singleflight.Group
	open     atomic.Int64
}

// NewSessionManager creates a new session manager. Nothing is launched until
// NewPage is called.
func NewSessionManager(cfg Config, classifier *capture.Classifier, log *zap.Logger) *SessionManager {
	if log == nil {
		log = zap.NewNop()
	}
	if classifier == nil {
		classifier = capture.DefaultClassifier()
	}
	return &SessionManager{cfg: cfg, classifier: classifier, log: log}
}

// Start connects to the configured Chrome or launches a new one. Concurrent
// callers share a single launch; a failed launch is retried by the next call.
func (m *SessionManager) Start(ctx context.Context) error {
	return m.ensureStarted(ctx)
}

func (m *SessionManager) ensureStarted(ctx context.Context) error {
	m.mu.RLock()
	if m.closed {
		m.mu.RUnlock()
		return ErrNotConnected
	}
	if m.browser != nil {
		m.mu.RUnlock()
		return nil
	}
	m.mu.RUnlock()

	_, err, _ := m.launches.Do("browser", func() (interface{}, error) {
		m.mu.RLock()
		started := m.browser != nil
		m.mu.RUnlock()
		if started {
			return nil, nil
		}
		return nil, m.start(ctx)
	})
	return err
}

func (m *SessionManager) start(ctx context.Context) error {
	var (
		l          *launcher.Launcher
		controlURL = m.cfg.DebuggerURL
	)
	if controlURL == "" {
		l = m.newLauncher()
		u, err := l.Launch()
		if err != nil {
			return fmt.Errorf("launch chrome: %w", err)
		}
		controlURL = u
	}

	// The connection outlives the request that triggered the launch.
	bctx, cancel := context.WithCancel(context.WithoutCancel(ctx))
	browser := rod.New().ControlURL(controlURL).Context(bctx)
	if err := browser.Connect(); err != nil {
		cancel()
		if l != nil {
			l.Kill()
			l.Cleanup()
		}
		return fmt.Errorf("connect to chrome: %w", err)
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		cancel()
		if l != nil {
			l.Kill()
			l.Cleanup()
		}
		return ErrNotConnected
	}
	m.browser = browser
	m.launcher = l
	m.controlURL = controlURL
	m.cancel = cancel
	m.log.Info("browser connected", zap.String("control_url", controlURL), zap.Bool("launched", l != nil))
	return nil
}

func (m *SessionManager) newLauncher() *launcher.Launcher {
	l := launcher.New().
		Headless(m.cfg.Headless).
		NoSandbox(m.cfg.NoSandbox).
		Set(flags.Flag("disable-blink-features"), "AutomationControlled").
		Set(flags.Flag("window-size"), fmt.Sprintf("%d,%d", m.cfg.GetViewportWidth(), m.cfg.GetViewportHeight()))
	if m.cfg.Bin != "" {
		l = l.Bin(m.cfg.Bin)
	}
	for _, rawFlag := range m.cfg.Launch {
		flagStr := strings.TrimLeft(strings.TrimSpace(rawFlag), "-")
		if flagStr == "" {
			continue
		}
		name, val, hasVal := strings.Cut(flagStr, "=")
		if hasVal {
			l = l.Set(flags.Flag(name), val)
		} else {
			l = l.Set(flags.Flag(name))
		}
	}
	return l
}

// reset drops a browser that stopped answering so the next call relaunches.
func (m *SessionManager) reset(stale *rod.Browser) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.browser != stale || stale == nil {
		return
	}
	m.log.Warn("browser unresponsive, discarding connection")
	m.teardownLocked()
}

func (m *SessionManager) teardownLocked() error {
	var err error
	if m.browser != nil && m.launcher != nil {
		err = m.browser.Close()
	}
	if m.cancel != nil {
		m.cancel()
	}
	if m.launcher != nil {
		m.launcher.Kill()
		m.launcher.Cleanup()
	}
	m.browser = nil
	m.launcher = nil
	m.cancel = nil
	m.controlURL = ""
	return err
}

// ControlURL returns the WebSocket debugger URL.
func (m *SessionManager) ControlURL() string {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.controlURL
}

// IsConnected returns whether the browser is connected.
func (m *SessionManager) IsConnected() bool {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.browser != nil
}

// OpenPages returns the number of pages handed out and not yet closed.
func (m *SessionManager) OpenPages() int {
	return int(m.open.Load())
}

// Shutdown closes the browser. A launched Chrome is killed and its profile
// removed; a Chrome reached through DebuggerURL is only disconnected. Later
// NewPage calls fail.
func (m *SessionManager) Shutdown(ctx context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return nil
	}
	m.closed = true
	if m.browser == nil {
		return nil
	}
	if n := m.open.Load(); n > 0 {
		m.log.Warn("shutting down with open pages", zap.Int64("pages", n))
	}
	err := m.teardownLocked()
	m.log.Info("browser shut down")
	return err
}

// NewPage opens a fresh page in its own incognito context with network
// capture already running. If the browser has died it is relaunched once.
func (m *SessionManager) NewPage(ctx context.Context) (*Page, error) {
	if err := m.ensureStarted(ctx); err != nil {
		return nil, err
	}
	page, err := m.openPage(ctx)
	if err == nil {
		return page, nil
	}

	m.mu.RLock()
	b := m.browser
	m.mu.RUnlock()
	if b == nil {
		return nil, err
	}
	if _, verr := b.Version(); verr == nil {
		return nil, err
	}

	m.reset(b)
	if serr := m.ensureStarted(ctx); serr != nil {
		return nil, fmt.Errorf("relaunch after %v: %w", err, serr)
	}
	return m.openPage(ctx)
}

func (m *SessionManager) openPage(ctx context.Context) (*Page, error) {
	m.mu.RLock()
	b := m.browser
	m.mu.RUnlock()
	if b == nil {
		return nil, ErrNotConnected
	}

	incognito, err := b.Incognito()
	if err != nil {
		return nil, fmt.Errorf("incognito context: %w", err)
	}
	rp, err := incognito.Page(proto.TargetCreateTarget{})
	if err != nil {
		_ = incognito.Close()
		return nil, fmt.Errorf("create page: %w", err)
	}

	id := uuid.NewString()
	log := m.log.With(zap.String("page", id[:8]))

	if err := rp.SetViewport(&proto.EmulationSetDeviceMetricsOverride{
		Width:             m.cfg.GetViewportWidth(),
		Height:            m.cfg.GetViewportHeight(),
		DeviceScaleFactor: 1.0,
	}); err != nil {
		log.Warn("failed to set viewport", zap.Error(err))
	}
	if err := rp.SetUserAgent(&proto.NetworkSetUserAgentOverride{
		UserAgent:      m.cfg.GetUserAgent(),
		AcceptLanguage: m.cfg.AcceptLanguage,
	}); err != nil {
		log.Warn("failed to set user agent", zap.Error(err))
	}
	if _, err := rp.EvalOnNewDocument(hideWebdriverJS); err != nil {
		log.Warn("failed to install webdriver override", zap.Error(err))
	}

	cache := capture.NewCache()
	rec, err := capture.Attach(rp, cache, m.classifier, log)
	if err != nil {
		_ = rp.Close()
		_ = incognito.Close()
		return nil, fmt.Errorf("attach network capture: %w", err)
	}

	m.open.Add(1)
	log.Debug("page opened")
	return &Page{
		id:        id,
		page:      rp,
		incognito: incognito,
		recorder:  rec,
		cache:     cache,
		log:       log,
		release:   func() { m.open.Add(-1) },
	}, nil
}
