// Package browser is the automation runtime boundary: a small Page/Locator
// surface implemented by a playwright-go driver and a chromedp driver, plus the
// session manager that gives every scenario its own isolated page.
package browser

import (
	"errors"
	"fmt"
	"regexp"
	"time"
)

// ReadyState is the document lifecycle point a navigation waits for.
type ReadyState string

const (
	ReadyCommit           ReadyState = "commit"
	ReadyDOMContentLoaded ReadyState = "domcontentloaded"
	ReadyLoad             ReadyState = "load"
)

// Reached reports whether a document.readyState value satisfies s.
func (s ReadyState) Reached(documentState string) bool {
	switch s {
	case ReadyCommit:
		return documentState != ""
	case ReadyLoad:
		return documentState == "complete"
	default:
		return documentState == "interactive" || documentState == "complete"
	}
}

// ParseReadyState accepts the names used in config and scenario files.
func ParseReadyState(name string) (ReadyState, error) {
	switch ReadyState(name) {
	case ReadyCommit, ReadyDOMContentLoaded, ReadyLoad:
		return ReadyState(name), nil
	case "":
		return ReadyDOMContentLoaded, nil
	}
	return "", fmt.Errorf("unknown ready state %q", name)
}

// GotoOptions bounds a navigation.
type GotoOptions struct {
	WaitUntil ReadyState
	Timeout   time.Duration
}

// ClickOptions controls a locator click. Force skips the visibility checks.
type ClickOptions struct {
	Force   bool
	Timeout time.Duration
}

// PageOptions overrides the driver defaults for one page. Zero values keep
// the driver's Options.
type PageOptions struct {
	ViewportWidth  int
	ViewportHeight int
	UserAgent      string
}

var (
	// ErrTimeout is wrapped by every error caused by a bounded wait expiring.
	ErrTimeout = errors.New("timeout")
	// ErrClosed is returned when a page is used after its session ended.
	ErrClosed = errors.New("page closed")
	// ErrNoElement is returned when a locator matched nothing within its wait.
	ErrNoElement = errors.New("no element matches locator")
)

// Page is a handle to one open page. It is valid only inside the session
// that created it.
type Page interface {
	Goto(url string, opts GotoOptions) error
	WaitForLoadState(state ReadyState, timeout time.Duration) error
	WaitForSelector(selector string, timeout time.Duration) error
	WaitForURL(pattern *regexp.Regexp, timeout time.Duration) error
	GoBack(timeout time.Duration) error
	URL() string
	Locator(selector string) Locator
	Evaluate(script string) (any, error)
	Screenshot(path string) error
	Close() error
}

// Locator is a deferred query. Nothing is cached: every call re-evaluates the
// selector against the current document.
type Locator interface {
	Selector() string
	Locator(selector string) Locator
	Nth(i int) Locator
	First() Locator
	Count() (int, error)
	IsVisible() (bool, error)
	TextContent() (string, error)
	ScrollIntoView(timeout time.Duration) error
	Click(opts ClickOptions) error
}

// Driver owns the browser process.
type Driver interface {
	Name() string
	Start() error
	// NewPage opens a page in a fresh browser context; cookies and storage
	// are never shared between pages.
	NewPage(opts PageOptions) (Page, error)
	Close() error
}

// Driver names accepted by NewDriver.
const (
	DriverPlaywright = "playwright"
	DriverChromedp   = "chromedp"
)

// NewDriver returns the driver named by opts.Driver. Nothing is launched
// until Start.
func NewDriver(opts *Options) (Driver, error) {
	if opts == nil {
		opts = DefaultOptions()
	}
	switch opts.Driver {
	case "", DriverPlaywright:
		return newPlaywrightDriver(opts), nil
	case DriverChromedp:
		return newChromeDriver(opts), nil
	}
	return nil, fmt.Errorf("unknown browser driver %q (want %s or %s)", opts.Driver, DriverPlaywright, DriverChromedp)
}

func timeoutError(what string, d time.Duration, cause error) error {
	if cause == nil {
		return fmt.Errorf("%s: %w after %s", what, ErrTimeout, d)
	}
	return fmt.Errorf("%s: %w after %s: %v", what, ErrTimeout, d, cause)
}
