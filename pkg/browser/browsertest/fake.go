// Package browsertest provides an in-memory browser.Driver for tests. Pages
// are Documents keyed by URL; selectors are matched literally against the
// keys of Document.Elements and Element.Children.
package browsertest

import (
	"fmt"
	"os"
	"regexp"
	"sync"
	"time"

	"FunnelCheck/pkg/browser"
)

// Element is one node of a fake document.
type Element struct {
	Text   string
	Hidden bool
	// Href is navigated to when the element is clicked.
	Href string
	// OnClick runs after Href navigation.
	OnClick  func(p *Page) error
	ClickErr error
	Children map[string][]*Element

	mu     sync.Mutex
	clicks int
}

// Clicks reports how many times the element was clicked.
func (e *Element) Clicks() int {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.clicks
}

// Document is the content served at one URL.
type Document struct {
	Elements map[string][]*Element
	// GotoErr is returned by Goto after the URL has been committed.
	GotoErr error
}

// Site is the set of documents the fake browser can reach.
type Site struct {
	mu   sync.Mutex
	docs map[string]*Document
	// Evaluate answers Page.Evaluate. Nil returns (nil, nil).
	Evaluate func(p *Page, script string) (any, error)
}

// NewSite returns an empty site.
func NewSite() *Site {
	return &Site{docs: make(map[string]*Document)}
}

// Add serves doc at url, replacing any previous document.
func (s *Site) Add(url string, doc *Document) *Site {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.docs[url] = doc
	return s
}

// Doc returns the document at url, or nil.
func (s *Site) Doc(url string) *Document {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.docs[url]
}

// Driver is a browser.Driver over a Site.
type Driver struct {
	Site       *Site
	StartErr   error
	NewPageErr error

	mu      sync.Mutex
	started bool
	closed  bool
	pages   []*Page
}

// NewDriver returns a driver serving site.
func NewDriver(site *Site) *Driver {
	return &Driver{Site: site}
}

func (d *Driver) Name() string { return "fake" }

func (d *Driver) Start() error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.StartErr != nil {
		return d.StartErr
	}
	d.started = true
	return nil
}

func (d *Driver) NewPage(browser.PageOptions) (browser.Page, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if !d.started {
		return nil, fmt.Errorf("fake driver not started")
	}
	if d.NewPageErr != nil {
		return nil, d.NewPageErr
	}
	p := &Page{site: d.Site, url: "about:blank"}
	d.pages = append(d.pages, p)
	return p, nil
}

func (d *Driver) Close() error {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.closed = true
	return nil
}

// Started reports whether Start succeeded.
func (d *Driver) Started() bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.started
}

// Closed reports whether Close was called.
func (d *Driver) Closed() bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.closed
}

// Pages returns every page ever opened.
func (d *Driver) Pages() []*Page {
	d.mu.Lock()
	defer d.mu.Unlock()
	return append([]*Page(nil), d.pages...)
}

// OpenPages counts pages not yet closed.
func (d *Driver) OpenPages() int {
	n := 0
	for _, p := range d.Pages() {
		if !p.IsClosed() {
			n++
		}
	}
	return n
}

// Page is a fake browser.Page.
type Page struct {
	site *Site

	mu      sync.Mutex
	url     string
	history []string
	closed  bool
	calls   []string
}

// Calls returns the log of operations performed on the page, e.g.
// "goto https://x", "click #btn", "screenshot /tmp/a.png".
func (p *Page) Calls() []string {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]string(nil), p.calls...)
}

// IsClosed reports whether Close was called.
func (p *Page) IsClosed() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.closed
}

// Navigate moves the page to url, pushing the current URL on the history.
func (p *Page) Navigate(url string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.history = append(p.history, p.url)
	p.url = url
}

func (p *Page) record(format string, args ...any) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.closed {
		return browser.ErrClosed
	}
	p.calls = append(p.calls, fmt.Sprintf(format, args...))
	return nil
}

func (p *Page) Goto(url string, opts browser.GotoOptions) error {
	if err := p.record("goto %s", url); err != nil {
		return err
	}
	doc := p.site.Doc(url)
	if doc == nil {
		return fmt.Errorf("goto %s: net::ERR_NAME_NOT_RESOLVED", url)
	}
	p.Navigate(url)
	return doc.GotoErr
}

func (p *Page) WaitForLoadState(state browser.ReadyState, timeout time.Duration) error {
	return p.record("wait %s", state)
}

func (p *Page) WaitForSelector(selector string, timeout time.Duration) error {
	if err := p.record("wait selector %s", selector); err != nil {
		return err
	}
	for _, el := range p.resolve([]step{{selector: selector, index: -1}}) {
		if !el.Hidden {
			return nil
		}
	}
	return fmt.Errorf("wait for selector %q: %w", selector, browser.ErrTimeout)
}

func (p *Page) WaitForURL(pattern *regexp.Regexp, timeout time.Duration) error {
	if err := p.record("wait url %s", pattern); err != nil {
		return err
	}
	if u := p.URL(); !pattern.MatchString(u) {
		return fmt.Errorf("wait for url %s (at %s): %w", pattern, u, browser.ErrTimeout)
	}
	return nil
}

func (p *Page) GoBack(timeout time.Duration) error {
	if err := p.record("back"); err != nil {
		return err
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	if len(p.history) == 0 {
		return nil
	}
	p.url = p.history[len(p.history)-1]
	p.history = p.history[:len(p.history)-1]
	return nil
}

func (p *Page) URL() string {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.url
}

func (p *Page) Locator(selector string) browser.Locator {
	return &Locator{page: p, steps: []step{{selector: selector, index: -1}}}
}

func (p *Page) Evaluate(script string) (any, error) {
	if err := p.record("evaluate"); err != nil {
		return nil, err
	}
	if p.site.Evaluate == nil {
		return nil, nil
	}
	return p.site.Evaluate(p, script)
}

func (p *Page) Screenshot(path string) error {
	if err := p.record("screenshot %s", path); err != nil {
		return err
	}
	return os.WriteFile(path, []byte("fake screenshot of "+p.URL()), 0644)
}

func (p *Page) Close() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.closed {
		return browser.ErrClosed
	}
	p.closed = true
	return nil
}

type step struct {
	selector string
	index    int
}

func (p *Page) resolve(steps []step) []*Element {
	doc := p.site.Doc(p.URL())
	if doc == nil {
		return nil
	}
	var current []*Element
	for i, s := range steps {
		var next []*Element
		switch {
		case s.selector == "":
			next = current
		case i == 0:
			next = doc.Elements[s.selector]
		default:
			for _, el := range current {
				next = append(next, el.Children[s.selector]...)
			}
		}
		if s.index >= 0 {
			if s.index < len(next) {
				next = []*Element{next[s.index]}
			} else {
				next = nil
			}
		}
		current = next
	}
	return current
}

// Locator is a fake browser.Locator. Like Playwright, single-element
// operations fail when more than one element matches.
type Locator struct {
	page  *Page
	steps []step
}

func (l *Locator) Selector() string {
	s := ""
	for i, st := range l.steps {
		if i > 0 {
			s += " >> "
		}
		if st.selector != "" {
			s += st.selector
		}
		if st.index >= 0 {
			if st.selector != "" {
				s += " >> "
			}
			s += fmt.Sprintf("nth=%d", st.index)
		}
	}
	return s
}

func (l *Locator) with(s step) *Locator {
	steps := append(append([]step(nil), l.steps...), s)
	return &Locator{page: l.page, steps: steps}
}

func (l *Locator) Locator(selector string) browser.Locator {
	return l.with(step{selector: selector, index: -1})
}

func (l *Locator) Nth(i int) browser.Locator {
	steps := append([]step(nil), l.steps...)
	if last := &steps[len(steps)-1]; last.index < 0 {
		last.index = i
	} else {
		steps = append(steps, step{index: i})
	}
	return &Locator{page: l.page, steps: steps}
}

func (l *Locator) First() browser.Locator { return l.Nth(0) }

func (l *Locator) Count() (int, error) {
	if l.page.IsClosed() {
		return 0, browser.ErrClosed
	}
	return len(l.page.resolve(l.steps)), nil
}

// single resolves exactly one element.
func (l *Locator) single(what string) (*Element, error) {
	if l.page.IsClosed() {
		return nil, browser.ErrClosed
	}
	els := l.page.resolve(l.steps)
	switch len(els) {
	case 0:
		return nil, fmt.Errorf("%s %q: %w: %w", what, l.Selector(), browser.ErrTimeout, browser.ErrNoElement)
	case 1:
		return els[0], nil
	}
	return nil, fmt.Errorf("%s %q: strict mode violation: %d elements", what, l.Selector(), len(els))
}

func (l *Locator) IsVisible() (bool, error) {
	if l.page.IsClosed() {
		return false, browser.ErrClosed
	}
	els := l.page.resolve(l.steps)
	if len(els) == 0 {
		return false, nil
	}
	if len(els) > 1 {
		return false, fmt.Errorf("is visible %q: strict mode violation: %d elements", l.Selector(), len(els))
	}
	return !els[0].Hidden, nil
}

func (l *Locator) TextContent() (string, error) {
	el, err := l.single("text of")
	if err != nil {
		return "", err
	}
	return el.Text, nil
}

func (l *Locator) ScrollIntoView(timeout time.Duration) error {
	el, err := l.single("scroll to")
	if err != nil {
		return err
	}
	if el.Hidden {
		return fmt.Errorf("scroll to %q: element not visible: %w", l.Selector(), browser.ErrTimeout)
	}
	return l.page.record("scroll %s", l.Selector())
}

func (l *Locator) Click(opts browser.ClickOptions) error {
	el, err := l.single("click")
	if err != nil {
		return err
	}
	if el.Hidden && !opts.Force {
		return fmt.Errorf("click %q: element not visible: %w", l.Selector(), browser.ErrTimeout)
	}
	if err := l.page.record("click %s", l.Selector()); err != nil {
		return err
	}
	el.mu.Lock()
	el.clicks++
	el.mu.Unlock()
	if el.ClickErr != nil {
		return el.ClickErr
	}
	if el.Href != "" {
		l.page.Navigate(el.Href)
	}
	if el.OnClick != nil {
		return el.OnClick(l.page)
	}
	return nil
}
