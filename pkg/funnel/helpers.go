// Package funnel holds the best-effort page helpers every scenario builds
// on: navigate-and-prepare, consent dismissal and click-and-wait.
package funnel

import (
	"context"
	"fmt"
	"regexp"
	"time"

	"FunnelCheck/pkg/browser"
	"FunnelCheck/pkg/logger"
	"FunnelCheck/pkg/utils"
)

// DefaultConsentSelector matches the cookie banner's accept-all button.
const DefaultConsentSelector = `[data-testid="consent-widget-accept-all"]`

// Timeouts bounds every wait the helpers perform.
type Timeouts struct {
	Navigation time.Duration
	Ready      time.Duration
	ClickWait  time.Duration
	Consent    time.Duration
}

// DefaultTimeouts returns the standard bounds.
func DefaultTimeouts() Timeouts {
	return Timeouts{
		Navigation: 60 * time.Second,
		Ready:      10 * time.Second,
		ClickWait:  30 * time.Second,
		Consent:    10 * time.Second,
	}
}

// Helpers carries the configuration shared by all helper calls of a run.
// The zero value is not usable; call New.
type Helpers struct {
	Timeouts        Timeouts
	ConsentSelector string
	// Limiter throttles navigations against the remote site. May be nil.
	Limiter *utils.RateLimiter
	// Log receives a copy of every diagnostic. May be nil.
	Log *logger.Logger
}

// New returns helpers with default timeouts and consent selector.
func New() *Helpers {
	return &Helpers{
		Timeouts:        DefaultTimeouts(),
		ConsentSelector: DefaultConsentSelector,
	}
}

// NavigateAndPrepare loads url, waits for the body and dismisses the consent
// banner. Failures are logged and reported in the result, never raised.
// Consent dismissal is attempted exactly once whatever the navigation outcome.
func (h *Helpers) NavigateAndPrepare(ctx context.Context, page browser.Page, url string) Result {
	res := h.navigate(ctx, page, url)
	if res.Failed() {
		h.warnf("navigation to %s failed: %v", utils.SanitizeURL(url), res.Cause)
	}
	consent := h.AcceptConsentIfPresent(page)
	res.Notes = append(res.Notes, consent.String())
	return res
}

func (h *Helpers) navigate(ctx context.Context, page browser.Page, url string) Result {
	const step = "navigate"
	if err := h.Limiter.Wait(ctx); err != nil {
		return failed(step, url, err)
	}
	err := page.Goto(url, browser.GotoOptions{
		WaitUntil: browser.ReadyDOMContentLoaded,
		Timeout:   h.Timeouts.Navigation,
	})
	if err != nil {
		return failed(step, url, err)
	}
	if err := page.WaitForSelector("body", h.Timeouts.Ready); err != nil {
		return failed(step, url, err)
	}
	h.debugf("navigated to %s", utils.SanitizeURL(page.URL()))
	return ok(step, url)
}

// AcceptConsentIfPresent clicks the first consent accept button if one is
// present. Absence is success; a failed click is reported but callers may
// ignore it.
func (h *Helpers) AcceptConsentIfPresent(page browser.Page) Result {
	const step = "consent"
	sel := h.ConsentSelector
	if sel == "" {
		sel = DefaultConsentSelector
	}
	buttons := page.Locator(sel)
	n, err := buttons.Count()
	if err != nil {
		h.warnf("consent check failed: %v", err)
		return failed(step, "count failed", err)
	}
	if n == 0 {
		return ok(step, "consent dialog not present")
	}
	if err := buttons.First().Click(browser.ClickOptions{Timeout: h.Timeouts.Consent}); err != nil {
		h.warnf("consent click failed: %v", err)
		return failed(step, "click failed", err)
	}
	return ok(step, "consent accepted")
}

// ClickAndWaitForURL clicks button and waits for the page URL to match
// pattern within the click-wait bound.
func (h *Helpers) ClickAndWaitForURL(button browser.Locator, page browser.Page, pattern *regexp.Regexp) Result {
	const step = "click and wait"
	detail := fmt.Sprintf("%s -> %s", button.Selector(), pattern)
	if err := button.Click(browser.ClickOptions{Timeout: h.Timeouts.ClickWait}); err != nil {
		h.debugf("click %s failed: %v", button.Selector(), err)
		return failed(step, detail, err)
	}
	if err := page.WaitForURL(pattern, h.Timeouts.ClickWait); err != nil {
		h.debugf("url never matched %s (at %s): %v", pattern, utils.SanitizeURL(page.URL()), err)
		return failed(step, detail, err)
	}
	return ok(step, detail)
}

func (h *Helpers) warnf(format string, args ...any) {
	if h.Log != nil {
		h.Log.Warn(format, args...)
		return
	}
	logger.Warnf(format, args...)
}

func (h *Helpers) debugf(format string, args ...any) {
	if h.Log != nil {
		h.Log.Debug(format, args...)
		return
	}
	logger.Debugf(format, args...)
}
