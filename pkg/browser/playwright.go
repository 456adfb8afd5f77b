package browser

import (
	"errors"
	"fmt"
	"regexp"
	"sync"
	"time"

	"github.com/playwright-community/playwright-go"
)

// playwrightDriver runs Chromium through the Playwright driver.
type playwrightDriver struct {
	opts    *Options
	mu      sync.Mutex
	pw      *playwright.Playwright
	browser playwright.Browser
}

func newPlaywrightDriver(opts *Options) *playwrightDriver {
	return &playwrightDriver{opts: opts}
}

func (d *playwrightDriver) Name() string { return DriverPlaywright }

func (d *playwrightDriver) Start() error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.browser != nil {
		return nil
	}

	pw, err := playwright.Run(&playwright.RunOptions{
		DriverDirectory:     d.opts.BrowsersPath,
		SkipInstallBrowsers: true,
		Verbose:             false,
	})
	if err != nil {
		return fmt.Errorf("start playwright (run with -install first?): %w", err)
	}

	launch := playwright.BrowserTypeLaunchOptions{
		Headless: playwright.Bool(d.opts.Headless),
		Args: []string{
			"--disable-blink-features=AutomationControlled",
			"--disable-dev-shm-usage",
		},
	}
	if d.opts.SlowMo > 0 {
		launch.SlowMo = playwright.Float(millis(d.opts.SlowMo))
	}
	browser, err := pw.Chromium.Launch(launch)
	if err != nil {
		_ = pw.Stop()
		return fmt.Errorf("launch chromium: %w", err)
	}
	d.pw = pw
	d.browser = browser
	return nil
}

func (d *playwrightDriver) NewPage(opts PageOptions) (Page, error) {
	d.mu.Lock()
	browser := d.browser
	d.mu.Unlock()
	if browser == nil {
		return nil, fmt.Errorf("playwright driver not started")
	}

	width, height, ua := pageDefaults(d.opts, opts)
	ctxOpts := playwright.BrowserNewContextOptions{
		Viewport: &playwright.Size{Width: width, Height: height},
	}
	if ua != "" {
		ctxOpts.UserAgent = playwright.String(ua)
	}
	bctx, err := browser.NewContext(ctxOpts)
	if err != nil {
		return nil, fmt.Errorf("new browser context: %w", err)
	}
	if d.opts.DefaultTimeout > 0 {
		bctx.SetDefaultTimeout(millis(d.opts.DefaultTimeout))
	}

	page, err := bctx.NewPage()
	if err != nil {
		_ = bctx.Close()
		return nil, fmt.Errorf("new page: %w", err)
	}
	return &playwrightPage{bctx: bctx, page: page, timeout: d.opts.DefaultTimeout}, nil
}

func (d *playwrightDriver) Close() error {
	d.mu.Lock()
	defer d.mu.Unlock()
	var errs []error
	if d.browser != nil {
		errs = append(errs, d.browser.Close())
		d.browser = nil
	}
	if d.pw != nil {
		errs = append(errs, d.pw.Stop())
		d.pw = nil
	}
	return errors.Join(errs...)
}

type playwrightPage struct {
	bctx    playwright.BrowserContext
	page    playwright.Page
	timeout time.Duration

	mu     sync.Mutex
	closed bool
}

func (p *playwrightPage) Goto(url string, opts GotoOptions) error {
	if p.isClosed() {
		return ErrClosed
	}
	_, err := p.page.Goto(url, playwright.PageGotoOptions{
		WaitUntil: waitUntil(opts.WaitUntil),
		Timeout:   p.ms(opts.Timeout),
	})
	return p.wrap(fmt.Sprintf("goto %s", url), opts.Timeout, err)
}

func (p *playwrightPage) WaitForLoadState(state ReadyState, timeout time.Duration) error {
	if p.isClosed() {
		return ErrClosed
	}
	var ls *playwright.LoadState
	switch state {
	case ReadyCommit:
		return nil
	case ReadyLoad:
		ls = playwright.LoadStateLoad
	default:
		ls = playwright.LoadStateDomcontentloaded
	}
	err := p.page.WaitForLoadState(playwright.PageWaitForLoadStateOptions{
		State:   ls,
		Timeout: p.ms(timeout),
	})
	return p.wrap("wait for "+string(state), timeout, err)
}

func (p *playwrightPage) WaitForSelector(selector string, timeout time.Duration) error {
	if p.isClosed() {
		return ErrClosed
	}
	err := p.page.Locator(selector).First().WaitFor(playwright.LocatorWaitForOptions{
		State:   playwright.WaitForSelectorStateVisible,
		Timeout: p.ms(timeout),
	})
	return p.wrap(fmt.Sprintf("wait for selector %q", selector), timeout, err)
}

func (p *playwrightPage) WaitForURL(pattern *regexp.Regexp, timeout time.Duration) error {
	if p.isClosed() {
		return ErrClosed
	}
	err := p.page.WaitForURL(pattern, playwright.PageWaitForURLOptions{
		Timeout:   p.ms(timeout),
		WaitUntil: playwright.WaitUntilStateDomcontentloaded,
	})
	return p.wrap(fmt.Sprintf("wait for url %s", pattern), timeout, err)
}

func (p *playwrightPage) GoBack(timeout time.Duration) error {
	if p.isClosed() {
		return ErrClosed
	}
	_, err := p.page.GoBack(playwright.PageGoBackOptions{
		Timeout:   p.ms(timeout),
		WaitUntil: playwright.WaitUntilStateDomcontentloaded,
	})
	return p.wrap("go back", timeout, err)
}

func (p *playwrightPage) URL() string {
	if p.isClosed() {
		return ""
	}
	return p.page.URL()
}

func (p *playwrightPage) Locator(selector string) Locator {
	return &playwrightLocator{page: p, loc: p.page.Locator(selector), selector: selector}
}

func (p *playwrightPage) Evaluate(script string) (any, error) {
	if p.isClosed() {
		return nil, ErrClosed
	}
	v, err := p.page.Evaluate(script)
	if err != nil {
		return nil, fmt.Errorf("evaluate: %w", err)
	}
	return v, nil
}

func (p *playwrightPage) Screenshot(path string) error {
	if p.isClosed() {
		return ErrClosed
	}
	_, err := p.page.Screenshot(playwright.PageScreenshotOptions{
		Path:     playwright.String(path),
		FullPage: playwright.Bool(true),
	})
	if err != nil {
		return fmt.Errorf("screenshot: %w", err)
	}
	return nil
}

// Close closes the page's browser context, which also closes the page.
func (p *playwrightPage) Close() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.closed {
		return ErrClosed
	}
	p.closed = true
	if err := p.bctx.Close(); err != nil {
		return fmt.Errorf("close browser context: %w", err)
	}
	return nil
}

func (p *playwrightPage) isClosed() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.closed
}

// ms converts a bound to Playwright milliseconds; zero keeps the page default.
func (p *playwrightPage) ms(d time.Duration) *float64 {
	if d <= 0 {
		d = p.timeout
	}
	if d <= 0 {
		return nil
	}
	return playwright.Float(millis(d))
}

func (p *playwrightPage) wrap(what string, d time.Duration, err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, playwright.ErrTimeout) {
		if d <= 0 {
			d = p.timeout
		}
		return timeoutError(what, d, err)
	}
	if p.isClosed() {
		return fmt.Errorf("%s: %w", what, ErrClosed)
	}
	return fmt.Errorf("%s: %w", what, err)
}

type playwrightLocator struct {
	page     *playwrightPage
	loc      playwright.Locator
	selector string
}

func (l *playwrightLocator) Selector() string { return l.selector }

func (l *playwrightLocator) Locator(selector string) Locator {
	return &playwrightLocator{
		page:     l.page,
		loc:      l.loc.Locator(selector),
		selector: l.selector + " >> " + selector,
	}
}

func (l *playwrightLocator) Nth(i int) Locator {
	return &playwrightLocator{page: l.page, loc: l.loc.Nth(i), selector: fmt.Sprintf("%s >> nth=%d", l.selector, i)}
}

func (l *playwrightLocator) First() Locator { return l.Nth(0) }

func (l *playwrightLocator) Count() (int, error) {
	if l.page.isClosed() {
		return 0, ErrClosed
	}
	n, err := l.loc.Count()
	if err != nil {
		return 0, fmt.Errorf("count %q: %w", l.selector, err)
	}
	return n, nil
}

func (l *playwrightLocator) IsVisible() (bool, error) {
	if l.page.isClosed() {
		return false, ErrClosed
	}
	ok, err := l.loc.IsVisible()
	if err != nil {
		return false, fmt.Errorf("is visible %q: %w", l.selector, err)
	}
	return ok, nil
}

func (l *playwrightLocator) TextContent() (string, error) {
	if l.page.isClosed() {
		return "", ErrClosed
	}
	text, err := l.loc.TextContent(playwright.LocatorTextContentOptions{Timeout: l.page.ms(0)})
	return text, l.page.wrap(fmt.Sprintf("text of %q", l.selector), 0, err)
}

func (l *playwrightLocator) ScrollIntoView(timeout time.Duration) error {
	if l.page.isClosed() {
		return ErrClosed
	}
	err := l.loc.ScrollIntoViewIfNeeded(playwright.LocatorScrollIntoViewIfNeededOptions{
		Timeout: l.page.ms(timeout),
	})
	return l.page.wrap(fmt.Sprintf("scroll to %q", l.selector), timeout, err)
}

func (l *playwrightLocator) Click(opts ClickOptions) error {
	if l.page.isClosed() {
		return ErrClosed
	}
	err := l.loc.Click(playwright.LocatorClickOptions{
		Force:   playwright.Bool(opts.Force),
		Timeout: l.page.ms(opts.Timeout),
	})
	return l.page.wrap(fmt.Sprintf("click %q", l.selector), opts.Timeout, err)
}

func waitUntil(s ReadyState) *playwright.WaitUntilState {
	switch s {
	case ReadyCommit:
		return playwright.WaitUntilStateCommit
	case ReadyLoad:
		return playwright.WaitUntilStateLoad
	default:
		return playwright.WaitUntilStateDomcontentloaded
	}
}

func millis(d time.Duration) float64 {
	return float64(d) / float64(time.Millisecond)
}

func pageDefaults(opts *Options, po PageOptions) (width, height int, ua string) {
	width, height, ua = opts.ViewportWidth, opts.ViewportHeight, opts.UserAgent
	if po.ViewportWidth > 0 {
		width = po.ViewportWidth
	}
	if po.ViewportHeight > 0 {
		height = po.ViewportHeight
	}
	if po.UserAgent != "" {
		ua = po.UserAgent
	}
	if width <= 0 {
		width = 1920
	}
	if height <= 0 {
		height = 1080
	}
	return width, height, ua
}
