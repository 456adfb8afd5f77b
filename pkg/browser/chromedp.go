package browser

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"regexp"
	"strings"
	"sync"
	"time"

	"github.com/chromedp/cdproto/emulation"
	cdppage "github.com/chromedp/cdproto/page"
	"github.com/chromedp/chromedp"

	"FunnelCheck/pkg/selector"
)

// pollInterval is how often a chromedp.Poll predicate is re-evaluated.
const pollInterval = 100 * time.Millisecond

// stealthScript removes common automation fingerprints.
const stealthScript = `(function(){
	Object.defineProperty(navigator,'webdriver',{get:()=>undefined});
	window.chrome={runtime:{}};
	Object.defineProperty(navigator,'plugins',{get:()=>[1,2,3]});
	Object.defineProperty(navigator,'languages',{get:()=>['en-US','en']});
})();`

// chromeDriver drives the system Chrome over the DevTools protocol. One
// allocator is shared; every page gets its own chromedp browser context.
type chromeDriver struct {
	opts     *Options
	mu       sync.Mutex
	allocCtx context.Context    // chromedp allocator context
	allocCnl context.CancelFunc // cancels the allocator / closes Chrome
}

func newChromeDriver(opts *Options) *chromeDriver {
	return &chromeDriver{opts: opts}
}

func (d *chromeDriver) Name() string { return DriverChromedp }

func (d *chromeDriver) Start() error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.allocCtx != nil {
		return nil
	}

	execPath := d.opts.ChromePath
	if execPath == "" {
		found, err := FindChrome()
		if err != nil {
			return err
		}
		execPath = found
	}

	allocOpts := append(chromedp.DefaultExecAllocatorOptions[:],
		chromedp.ExecPath(execPath),
		chromedp.Flag("headless", d.opts.Headless),
		chromedp.Flag("disable-blink-features", "AutomationControlled"),
		chromedp.Flag("disable-infobars", true),
		chromedp.Flag("disable-dev-shm-usage", true),
		chromedp.Flag("no-sandbox", true),
		chromedp.Flag("disable-setuid-sandbox", true),
		chromedp.Flag("window-size", fmt.Sprintf("%d,%d", d.opts.ViewportWidth, d.opts.ViewportHeight)),
	)
	if d.opts.UserAgent != "" {
		allocOpts = append(allocOpts, chromedp.UserAgent(d.opts.UserAgent))
	}
	d.allocCtx, d.allocCnl = chromedp.NewExecAllocator(context.Background(), allocOpts...)
	return nil
}

func (d *chromeDriver) NewPage(opts PageOptions) (Page, error) {
	d.mu.Lock()
	allocCtx := d.allocCtx
	d.mu.Unlock()
	if allocCtx == nil {
		return nil, fmt.Errorf("chromedp driver not started")
	}

	width, height, _ := pageDefaults(d.opts, opts)
	ctx, cancel := chromedp.NewContext(allocCtx)
	p := &chromePage{ctx: ctx, cancel: cancel, timeout: d.opts.DefaultTimeout}
	if p.timeout <= 0 {
		p.timeout = 30 * time.Second
	}

	// The first Run launches the browser for this context.
	err := p.run(p.timeout,
		emulation.SetDeviceMetricsOverride(int64(width), int64(height), 1.0, false),
		chromedp.ActionFunc(func(ctx context.Context) error {
			if !d.opts.Stealth {
				return nil
			}
			_, err := cdppage.AddScriptToEvaluateOnNewDocument(stealthScript).Do(ctx)
			return err
		}),
	)
	if err != nil {
		cancel()
		return nil, fmt.Errorf("open chrome tab: %w", err)
	}
	return p, nil
}

func (d *chromeDriver) Close() error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.allocCnl != nil {
		d.allocCnl()
		d.allocCnl = nil
		d.allocCtx = nil
	}
	return nil
}

type chromePage struct {
	ctx     context.Context
	cancel  context.CancelFunc
	timeout time.Duration

	mu     sync.Mutex
	closed bool
	navSeq int
}

// run executes actions with a per-call bound derived from the page context.
func (p *chromePage) run(timeout time.Duration, actions ...chromedp.Action) error {
	if p.isClosed() {
		return ErrClosed
	}
	ctx, cancel := context.WithTimeout(p.ctx, timeout)
	defer cancel()
	return chromedp.Run(ctx, actions...)
}

// pollJS waits until expr evaluates to a truthy value, decoding it into
// out. chromedp.Poll is torn down when the document changes, so a poll
// interrupted by a navigation is re-armed on the new document until the
// bound expires.
func (p *chromePage) pollJS(what string, timeout time.Duration, expr string, out any) error {
	if timeout <= 0 {
		timeout = p.timeout
	}
	deadline := time.Now().Add(timeout)
	var last error
	for {
		remaining := time.Until(deadline)
		if remaining <= 0 {
			return timeoutError(what, timeout, last)
		}
		err := p.run(remaining+time.Second, chromedp.Poll(expr, out,
			chromedp.WithPollingInterval(pollInterval),
			chromedp.WithPollingTimeout(remaining),
		))
		if err == nil {
			return nil
		}
		if p.isClosed() {
			return fmt.Errorf("%s: %w", what, ErrClosed)
		}
		if isPollTimeout(err) {
			return timeoutError(what, timeout, last)
		}
		last = err
		select {
		case <-p.ctx.Done():
			return fmt.Errorf("%s: %w", what, ErrClosed)
		case <-time.After(pollInterval):
		}
	}
}

// isPollTimeout reports whether err means a poll ran out of time rather
// than failed.
func isPollTimeout(err error) bool {
	return errors.Is(err, chromedp.ErrPollingTimeout) || errors.Is(err, context.DeadlineExceeded)
}

// readyCondition is the JavaScript form of ReadyState.Reached over rs.
func readyCondition(s ReadyState) string {
	switch s {
	case ReadyCommit:
		return `rs !== ""`
	case ReadyLoad:
		return `rs === "complete"`
	default:
		return `rs === "interactive" || rs === "complete"`
	}
}

func (p *chromePage) eval(expr string, out any) error {
	return p.run(p.callBound(), chromedp.Evaluate(expr, out))
}

// callBound caps a single protocol round trip inside a longer poll.
func (p *chromePage) callBound() time.Duration {
	if p.timeout < 5*time.Second {
		return p.timeout
	}
	return 5 * time.Second
}

// navigate marks the current document, runs trigger and waits for a new
// document to reach state.
func (p *chromePage) navigate(what, trigger string, state ReadyState, timeout time.Duration) error {
	p.mu.Lock()
	p.navSeq++
	token := fmt.Sprintf("nav-%d", p.navSeq)
	p.mu.Unlock()

	mark := fmt.Sprintf(`(() => { window.__funnelNav = %q; setTimeout(() => { %s }, 0); return true; })()`, token, trigger)
	var ok bool
	if err := p.eval(mark, &ok); err != nil {
		return fmt.Errorf("%s: %w", what, err)
	}

	// The marker only disappears once a new document replaced the old one.
	wait := fmt.Sprintf(`(() => {
  if (window.__funnelNav === %q) return false;
  const rs = document.readyState;
  return (%s) ? rs : false;
})()`, token, readyCondition(state))
	var rs string
	if err := p.pollJS(what, timeout, wait, &rs); err != nil {
		return err
	}
	if u := p.URL(); strings.HasPrefix(u, "chrome-error://") {
		return fmt.Errorf("%s: navigation failed (%s)", what, u)
	}
	return nil
}

func (p *chromePage) Goto(url string, opts GotoOptions) error {
	target, err := json.Marshal(url)
	if err != nil {
		return fmt.Errorf("goto %s: %w", url, err)
	}
	return p.navigate("goto "+url, "location.href = "+string(target)+";", opts.WaitUntil, opts.Timeout)
}

func (p *chromePage) WaitForLoadState(state ReadyState, timeout time.Duration) error {
	wait := fmt.Sprintf(`(() => { const rs = document.readyState; return (%s) ? rs : false; })()`, readyCondition(state))
	var rs string
	return p.pollJS("wait for "+string(state), timeout, wait, &rs)
}

func (p *chromePage) WaitForSelector(sel string, timeout time.Duration) error {
	loc := p.Locator(sel).First().(*chromeLocator)
	_, err := loc.waitElement(fmt.Sprintf("wait for selector %q", sel), timeout, true, "")
	return err
}

// WaitForURL matches the location in the page with the pattern's source,
// which RE2 and JavaScript read the same way for the URL patterns used
// here, then confirms the final URL with the Go regexp.
func (p *chromePage) WaitForURL(pattern *regexp.Regexp, timeout time.Duration) error {
	what := fmt.Sprintf("wait for url %s", pattern)
	source, err := json.Marshal(pattern.String())
	if err != nil {
		return fmt.Errorf("%s: %w", what, err)
	}
	wait := fmt.Sprintf(`(() => {
  let re;
  try { re = new RegExp(%s); } catch (e) { return location.href; }
  const rs = document.readyState;
  return re.test(location.href) && (%s) ? location.href : false;
})()`, source, readyCondition(ReadyDOMContentLoaded))
	if timeout <= 0 {
		timeout = p.timeout
	}
	deadline := time.Now().Add(timeout)
	for {
		remaining := time.Until(deadline)
		if remaining <= 0 {
			return timeoutError(what, timeout, fmt.Errorf("last url %s", p.URL()))
		}
		var href string
		if err := p.pollJS(what, remaining, wait, &href); err != nil {
			if errors.Is(err, ErrTimeout) {
				return timeoutError(what, timeout, fmt.Errorf("last url %s", p.URL()))
			}
			return err
		}
		if pattern.MatchString(href) {
			return nil
		}
		// The browser accepted a URL the Go pattern rejects; keep waiting.
		select {
		case <-p.ctx.Done():
			return fmt.Errorf("%s: %w", what, ErrClosed)
		case <-time.After(pollInterval):
		}
	}
}

func (p *chromePage) GoBack(timeout time.Duration) error {
	return p.navigate("go back", "history.back();", ReadyDOMContentLoaded, timeout)
}

func (p *chromePage) URL() string {
	var u string
	if err := p.run(p.callBound(), chromedp.Location(&u)); err != nil {
		return ""
	}
	return u
}

func (p *chromePage) Locator(sel string) Locator {
	parsed, err := selector.Parse(sel)
	return &chromeLocator{
		page:     p,
		steps:    []selector.Step{{Selector: parsed, Index: -1}},
		selector: sel,
		err:      err,
	}
}

func (p *chromePage) Evaluate(script string) (any, error) {
	var v any
	if err := p.run(p.timeout, chromedp.Evaluate(script, &v)); err != nil {
		return nil, fmt.Errorf("evaluate: %w", err)
	}
	return v, nil
}

func (p *chromePage) Screenshot(path string) error {
	var buf []byte
	if err := p.run(p.timeout, chromedp.FullScreenshot(&buf, 100)); err != nil {
		return fmt.Errorf("screenshot: %w", err)
	}
	if len(buf) == 0 {
		return fmt.Errorf("screenshot produced empty image")
	}
	return os.WriteFile(path, buf, 0644)
}

// Close cancels the page's browser context, closing its tab.
func (p *chromePage) Close() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.closed {
		return ErrClosed
	}
	p.closed = true
	p.cancel()
	return nil
}

func (p *chromePage) isClosed() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.closed || p.ctx.Err() != nil
}

type chromeLocator struct {
	page     *chromePage
	steps    []selector.Step
	selector string
	err      error
}

func (l *chromeLocator) Selector() string { return l.selector }

func (l *chromeLocator) with(step selector.Step, name string) *chromeLocator {
	steps := make([]selector.Step, len(l.steps), len(l.steps)+1)
	copy(steps, l.steps)
	return &chromeLocator{page: l.page, steps: append(steps, step), selector: name, err: l.err}
}

func (l *chromeLocator) Locator(sel string) Locator {
	parsed, err := selector.Parse(sel)
	next := l.with(selector.Step{Selector: parsed, Index: -1}, l.selector+" >> "+sel)
	if next.err == nil {
		next.err = err
	}
	return next
}

func (l *chromeLocator) Nth(i int) Locator {
	steps := make([]selector.Step, len(l.steps), len(l.steps)+1)
	copy(steps, l.steps)
	if last := &steps[len(steps)-1]; last.Index < 0 {
		last.Index = i
	} else {
		steps = append(steps, selector.Step{Index: i})
	}
	return &chromeLocator{page: l.page, steps: steps, selector: fmt.Sprintf("%s >> nth=%d", l.selector, i), err: l.err}
}

func (l *chromeLocator) First() Locator { return l.Nth(0) }

// query evaluates body with the current matches bound to els.
func (l *chromeLocator) query(body string, out any) error {
	if l.err != nil {
		return l.err
	}
	expr, err := selector.Expression(l.steps, body)
	if err != nil {
		return err
	}
	return l.page.eval(expr, out)
}

func (l *chromeLocator) Count() (int, error) {
	var n int
	if err := l.query(`return els.length;`, &n); err != nil {
		return 0, fmt.Errorf("count %q: %w", l.selector, err)
	}
	return n, nil
}

func (l *chromeLocator) IsVisible() (bool, error) {
	var ok bool
	if err := l.query(`return els.length > 0 && window.__funnelVisible(els[0]);`, &ok); err != nil {
		return false, fmt.Errorf("is visible %q: %w", l.selector, err)
	}
	return ok, nil
}

type elementState struct {
	Visible bool    `json:"visible"`
	Text    string  `json:"text"`
	X       float64 `json:"x"`
	Y       float64 `json:"y"`
}

// elementCheck resolves to the first match's state once it exists (and is
// visible, when the verb is true) or to false until then.
const elementCheck = `if (!els.length) return false;
const el = els[0];
const visible = window.__funnelVisible(el);
if (%t && !visible) return false;
const r = el.getBoundingClientRect();
return {visible: visible, text: el.textContent || '',
  x: r.left + r.width / 2, y: r.top + r.height / 2};`

// waitElement waits until the first match exists (and is visible when
// requested), running body against the matches on every check.
func (l *chromeLocator) waitElement(what string, timeout time.Duration, visible bool, body string) (elementState, error) {
	var state elementState
	if l.err != nil {
		return state, l.err
	}
	expr, err := selector.Expression(l.steps, body+"\n"+fmt.Sprintf(elementCheck, visible))
	if err != nil {
		return state, err
	}
	err = l.page.pollJS(what, timeout, expr, &state)
	if errors.Is(err, ErrTimeout) {
		if n, cerr := l.Count(); cerr == nil && n == 0 {
			return state, fmt.Errorf("%w: %w", err, ErrNoElement)
		}
	}
	return state, err
}

func (l *chromeLocator) TextContent() (string, error) {
	el, err := l.waitElement(fmt.Sprintf("text of %q", l.selector), 0, false, "")
	if err != nil {
		return "", err
	}
	return el.Text, nil
}

func (l *chromeLocator) ScrollIntoView(timeout time.Duration) error {
	_, err := l.waitElement(fmt.Sprintf("scroll to %q", l.selector), timeout, true,
		`if (els.length) els[0].scrollIntoView({block: 'center', inline: 'center'});`)
	return err
}

func (l *chromeLocator) Click(opts ClickOptions) error {
	what := fmt.Sprintf("click %q", l.selector)
	if opts.Force {
		_, err := l.waitElement(what, opts.Timeout, false, `if (els.length) { const el = els[0]; setTimeout(() => el.click(), 0); }`)
		return err
	}
	el, err := l.waitElement(what, opts.Timeout, true,
		`if (els.length) els[0].scrollIntoView({block: 'center', inline: 'center'});`)
	if err != nil {
		return err
	}
	if err := l.page.run(l.page.callBound(), chromedp.MouseClickXY(el.X, el.Y)); err != nil {
		if errors.Is(err, context.DeadlineExceeded) {
			return timeoutError(what, l.page.callBound(), err)
		}
		return fmt.Errorf("%s: %w", what, err)
	}
	return nil
}
