package browser

import (
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
)

// Options configures the browser manager and its driver.
type Options struct {
	Driver         string
	Headless       bool
	SlowMo         time.Duration
	DefaultTimeout time.Duration
	UserAgent      string
	ViewportWidth  int
	ViewportHeight int
	// BrowsersPath is where the Playwright driver and browsers live.
	BrowsersPath string
	// ChromePath overrides Chrome discovery for the chromedp driver.
	ChromePath string
	Stealth    bool
}

// DefaultOptions returns sensible defaults.
func DefaultOptions() *Options {
	return &Options{
		Driver:         DriverPlaywright,
		Headless:       true,
		DefaultTimeout: 30 * time.Second,
		UserAgent:      "Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/124.0.0.0 Safari/537.36",
		ViewportWidth:  1920,
		ViewportHeight: 1080,
		Stealth:        true,
	}
}

// Session is the execution context of one scenario. It owns its page
// exclusively.
type Session struct {
	ID      string
	Name    string
	Page    Page
	Started time.Time
}

// Manager starts the driver lazily and tracks open sessions.
type Manager struct {
	opts      *Options
	driver    Driver
	sessions  map[string]*Session
	sessionMu sync.RWMutex
	initMu    sync.Mutex
	started   bool
	closed    bool
}

// NewManager creates a manager for the driver named in opts. The browser is
// not launched until the first session.
func NewManager(opts *Options) (*Manager, error) {
	if opts == nil {
		opts = DefaultOptions()
	}
	d, err := NewDriver(opts)
	if err != nil {
		return nil, err
	}
	return NewManagerWithDriver(d, opts), nil
}

// NewManagerWithDriver wraps an existing driver.
func NewManagerWithDriver(d Driver, opts *Options) *Manager {
	if opts == nil {
		opts = DefaultOptions()
	}
	return &Manager{
		opts:     opts,
		driver:   d,
		sessions: make(map[string]*Session),
	}
}

// DriverName reports which driver backs the manager.
func (m *Manager) DriverName() string {
	return m.driver.Name()
}

// EnsureStarted launches the browser if it is not already running.
func (m *Manager) EnsureStarted() error {
	m.initMu.Lock()
	defer m.initMu.Unlock()
	if m.closed {
		return fmt.Errorf("browser manager is closed")
	}
	if m.started {
		return nil
	}
	if err := m.driver.Start(); err != nil {
		return fmt.Errorf("%s failed to start: %w", m.driver.Name(), err)
	}
	m.started = true
	return nil
}

// NewSession opens a page in a fresh browser context and registers it.
func (m *Manager) NewSession(name string) (*Session, error) {
	if err := m.EnsureStarted(); err != nil {
		return nil, err
	}
	page, err := m.driver.NewPage(PageOptions{
		ViewportWidth:  m.opts.ViewportWidth,
		ViewportHeight: m.opts.ViewportHeight,
		UserAgent:      m.opts.UserAgent,
	})
	if err != nil {
		return nil, fmt.Errorf("open page for %q: %w", name, err)
	}
	s := &Session{
		ID:      uuid.NewString(),
		Name:    name,
		Page:    page,
		Started: time.Now(),
	}
	m.sessionMu.Lock()
	m.sessions[s.ID] = s
	m.sessionMu.Unlock()
	return s, nil
}

// CloseSession closes the session's page. Closing an unknown session is a
// no-op.
func (m *Manager) CloseSession(id string) error {
	m.sessionMu.Lock()
	s, ok := m.sessions[id]
	delete(m.sessions, id)
	m.sessionMu.Unlock()
	if !ok {
		return nil
	}
	if err := s.Page.Close(); err != nil && !errors.Is(err, ErrClosed) {
		return fmt.Errorf("close session %q: %w", s.Name, err)
	}
	return nil
}

// WithSession runs fn inside a new session. The session is closed on every
// exit path, including a panic in fn, which is re-raised after the close.
func (m *Manager) WithSession(name string, fn func(*Session) error) (err error) {
	s, err := m.NewSession(name)
	if err != nil {
		return err
	}
	defer func() {
		if cerr := m.CloseSession(s.ID); cerr != nil {
			err = errors.Join(err, cerr)
		}
	}()
	return fn(s)
}

// ActiveSessions returns the names of open sessions, sorted.
func (m *Manager) ActiveSessions() []string {
	m.sessionMu.RLock()
	defer m.sessionMu.RUnlock()
	names := make([]string, 0, len(m.sessions))
	for _, s := range m.sessions {
		names = append(names, s.Name)
	}
	sort.Strings(names)
	return names
}

// CloseAll closes every open session.
func (m *Manager) CloseAll() error {
	m.sessionMu.Lock()
	open := make([]*Session, 0, len(m.sessions))
	for id, s := range m.sessions {
		open = append(open, s)
		delete(m.sessions, id)
	}
	m.sessionMu.Unlock()

	var errs []error
	for _, s := range open {
		if err := s.Page.Close(); err != nil && !errors.Is(err, ErrClosed) {
			errs = append(errs, fmt.Errorf("close session %q: %w", s.Name, err))
		}
	}
	return errors.Join(errs...)
}

// Close shuts down all sessions and the browser.
func (m *Manager) Close() error {
	err := m.CloseAll()
	m.initMu.Lock()
	defer m.initMu.Unlock()
	if m.closed {
		return err
	}
	m.closed = true
	if m.started {
		err = errors.Join(err, m.driver.Close())
	}
	return err
}
