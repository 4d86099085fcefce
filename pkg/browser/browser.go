// Package browser drives Chrome over the DevTools protocol and exposes an
// inspected tab as the document, window and drawing surfaces the inspection
// engine runs against.
package browser

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/go-rod/rod"
	"github.com/go-rod/rod/lib/launcher"
	"github.com/go-rod/rod/lib/proto"
)

// ErrNotRunning is returned by operations that need a connected browser.
var ErrNotRunning = errors.New("browser not running")

const maxConsoleMessages = 500

// Manager handles the Chrome browser lifecycle and the inspected pages.
type Manager struct {
	mu          sync.Mutex
	browser     *rod.Browser
	launcher    *launcher.Launcher
	pages       map[string]*Page
	console     map[string][]ConsoleMessage
	headless    bool
	bin         string
	remoteURL   string
	userDataDir string
	width       int
	height      int
	evalTimeout time.Duration
	logger      *slog.Logger
}

// Option configures a Manager.
type Option func(*Manager)

// WithHeadless sets headless mode (default false).
func WithHeadless(h bool) Option {
	return func(m *Manager) { m.headless = h }
}

// WithLogger sets a custom logger.
func WithLogger(l *slog.Logger) Option {
	return func(m *Manager) { m.logger = l }
}

// WithBin launches the given Chrome binary instead of the launcher's pick.
func WithBin(path string) Option {
	return func(m *Manager) { m.bin = path }
}

// WithRemoteURL attaches to a running Chrome instead of launching one.
func WithRemoteURL(u string) Option {
	return func(m *Manager) { m.remoteURL = u }
}

// WithUserDataDir keeps the Chrome profile in dir.
func WithUserDataDir(dir string) Option {
	return func(m *Manager) { m.userDataDir = dir }
}

// WithWindowSize sets the initial window size in CSS pixels.
func WithWindowSize(w, h int) Option {
	return func(m *Manager) { m.width, m.height = w, h }
}

// WithEvalTimeout bounds every page evaluation (default 5s).
func WithEvalTimeout(d time.Duration) Option {
	return func(m *Manager) { m.evalTimeout = d }
}

// New creates a Manager with options.
func New(opts ...Option) *Manager {
	m := &Manager{
		pages:       make(map[string]*Page),
		console:     make(map[string][]ConsoleMessage),
		evalTimeout: 5 * time.Second,
		logger:      slog.Default(),
	}
	for _, o := range opts {
		o(m)
	}
	return m
}

// Start launches Chrome, or connects to the remote one when configured.
func (m *Manager) Start(ctx context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.browser != nil {
		return fmt.Errorf("browser already running")
	}

	controlURL, err := m.controlURL()
	if err != nil {
		return err
	}

	b := rod.New().ControlURL(controlURL)
	if err := b.Connect(); err != nil {
		if m.launcher != nil {
			m.launcher.Kill()
			m.launcher = nil
		}
		return fmt.Errorf("connect to Chrome: %w", err)
	}

	m.browser = b
	return nil
}

func (m *Manager) controlURL() (string, error) {
	if m.remoteURL != "" {
		u, err := launcher.ResolveURL(m.remoteURL)
		if err != nil {
			return "", fmt.Errorf("resolve remote Chrome %q: %w", m.remoteURL, err)
		}
		m.logger.Info("browser.remote", "cdp", u)
		return u, nil
	}

	l := launcher.New().
		Headless(m.headless).
		Set("disable-gpu").
		Set("no-first-run").
		Set("no-default-browser-check")
	if m.bin != "" {
		l = l.Bin(m.bin)
	}
	if m.userDataDir != "" {
		l = l.UserDataDir(m.userDataDir)
	}
	if m.width > 0 && m.height > 0 {
		l = l.Set("window-size", fmt.Sprintf("%d,%d", m.width, m.height))
	}

	u, err := l.Launch()
	if err != nil {
		return "", fmt.Errorf("launch Chrome: %w", err)
	}
	m.launcher = l
	m.logger.Info("browser.launched", "cdp", u, "headless", m.headless)
	return u, nil
}

// Stop closes every page and the browser. A remote browser is disconnected
// but left running.
func (m *Manager) Stop(ctx context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.browser == nil {
		return nil
	}

	for _, p := range m.pages {
		p.detach()
	}
	var err error
	if m.remoteURL != "" {
		for _, p := range m.pages {
			_ = p.page.Close()
		}
	} else {
		err = m.browser.Close()
	}
	if m.launcher != nil {
		m.launcher.Cleanup()
		m.launcher = nil
	}
	m.browser = nil
	m.pages = make(map[string]*Page)
	m.console = make(map[string][]ConsoleMessage)
	return err
}

// Close shuts down the browser if running.
func (m *Manager) Close() error {
	return m.Stop(context.Background())
}

// Status returns current browser status.
func (m *Manager) Status() *StatusInfo {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.browser == nil {
		return &StatusInfo{Running: false}
	}

	pages, _ := m.browser.Pages()
	info := &StatusInfo{
		Running: true,
		Remote:  m.remoteURL != "",
		Tabs:    len(pages),
	}
	for _, p := range m.pages {
		if pageInfo, err := p.page.Info(); err == nil {
			info.URL = pageInfo.URL
		}
		break
	}
	return info
}

// Open creates a tab at url, waits for it to load and installs the page
// agent. The returned Page serves as both dom.Document and the source of the
// tab's window and surfaces.
func (m *Manager) Open(ctx context.Context, url string) (*Page, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.browser == nil {
		return nil, ErrNotRunning
	}

	rp, err := m.browser.Page(proto.TargetCreateTarget{URL: url})
	if err != nil {
		return nil, fmt.Errorf("open tab: %w", err)
	}
	if err := rp.Context(ctx).WaitLoad(); err != nil {
		_ = rp.Close()
		return nil, fmt.Errorf("wait load: %w", err)
	}

	tid := string(rp.TargetID)
	p, err := newPage(ctx, rp, tid, m.evalTimeout, m.logger)
	if err != nil {
		_ = rp.Close()
		return nil, err
	}
	m.pages[tid] = p
	m.setupConsoleListener(rp, tid)
	return p, nil
}

// ListTabs returns all open tabs.
func (m *Manager) ListTabs(ctx context.Context) ([]TabInfo, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.browser == nil {
		return nil, ErrNotRunning
	}

	pages, err := m.browser.Pages()
	if err != nil {
		return nil, fmt.Errorf("list pages: %w", err)
	}

	tabs := make([]TabInfo, 0, len(pages))
	for _, p := range pages {
		info, err := p.Info()
		if err != nil || info == nil {
			continue
		}
		tabs = append(tabs, TabInfo{
			TargetID: string(p.TargetID),
			URL:      info.URL,
			Title:    info.Title,
		})
	}
	return tabs, nil
}

// ConsoleMessages returns and clears the captured console messages for a tab.
func (m *Manager) ConsoleMessages(targetID string) []ConsoleMessage {
	m.mu.Lock()
	defer m.mu.Unlock()

	msgs := m.console[targetID]
	if msgs == nil {
		return []ConsoleMessage{}
	}

	result := make([]ConsoleMessage, len(msgs))
	copy(result, msgs)
	m.console[targetID] = nil
	return result
}

// setupConsoleListener attaches a console message listener to a page via Rod's EachEvent.
func (m *Manager) setupConsoleListener(page *rod.Page, targetID string) {
	go page.EachEvent(func(e *proto.RuntimeConsoleAPICalled) {
		var text string
		for _, arg := range e.Args {
			s := arg.Value.String()
			if s != "" && s != "null" {
				text += s + " "
			}
		}

		level := consoleLevel(e.Type)
		if level == "error" {
			m.logger.Debug("browser.console_error", "tab", targetID, "text", text)
		}

		m.mu.Lock()
		m.console[targetID] = appendBounded(m.console[targetID], ConsoleMessage{Level: level, Text: text}, maxConsoleMessages)
		m.mu.Unlock()
	})()
}

func consoleLevel(t proto.RuntimeConsoleAPICalledType) string {
	switch t {
	case proto.RuntimeConsoleAPICalledTypeWarning:
		return "warn"
	case proto.RuntimeConsoleAPICalledTypeError:
		return "error"
	case proto.RuntimeConsoleAPICalledTypeInfo:
		return "info"
	}
	return "log"
}

func appendBounded(msgs []ConsoleMessage, msg ConsoleMessage, limit int) []ConsoleMessage {
	if len(msgs) >= limit {
		msgs = msgs[len(msgs)-limit+1:]
	}
	return append(msgs, msg)
}
