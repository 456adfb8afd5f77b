package scenario

import (
	"context"
	"fmt"

	"FunnelCheck/pkg/browser"
	"FunnelCheck/pkg/expect"
)

// runEnumerate clicks every control whose text maps to an expected title and
// checks the destination page. The control count is read again on every
// iteration and must be unchanged after each return to the entry page.
func (d *Definition) runEnumerate(ctx context.Context, env Env, out *Outcome) error {
	h := env.Helpers
	page := env.Page

	out.tolerate("entry", h.NavigateAndPrepare(ctx, page, d.EntryURL))

	controls := page.Locator(d.ControlSelector)
	initial, err := controls.Count()
	if err != nil {
		return fmt.Errorf("count %s: %w", d.ControlSelector, err)
	}

	mapped := 0
	for i := 0; ; i++ {
		if err := ctx.Err(); err != nil {
			return err
		}
		n, err := controls.Count()
		if err != nil {
			return fmt.Errorf("count %s: %w", d.ControlSelector, err)
		}
		if i >= n {
			break
		}

		control := controls.Nth(i)
		text, err := control.TextContent()
		if err != nil {
			out.notef("control #%d: unreadable, skipped: %v", i, err)
			continue
		}
		m := d.Match(text)
		if m == nil {
			out.notef("control #%d: %q is not mapped, skipped", i, normalizeSpace(text))
			continue
		}
		mapped++

		if err := control.Click(browser.ClickOptions{Timeout: h.Timeouts.ClickWait}); err != nil {
			out.notef("control %q: click failed: %v", m.Label, err)
		}
		if err := page.WaitForLoadState(browser.ReadyDOMContentLoaded, h.Timeouts.Navigation); err != nil {
			out.notef("control %q: %v", m.Label, err)
		}
		if err := expect.URL(page, d.destination, env.ExpectTimeout); err != nil {
			return fmt.Errorf("control %q: %w", m.Label, err)
		}
		title := page.Locator(d.TitleSelector).First()
		if err := expect.Text(title, m.Expected, env.ExpectTimeout); err != nil {
			return fmt.Errorf("control %q: %w", m.Label, err)
		}
		out.Verified++

		out.tolerate("reset", h.NavigateAndPrepare(ctx, page, d.EntryURL))
		if err := expect.Count(controls, initial, env.ExpectTimeout); err != nil {
			return fmt.Errorf("after returning from %q: %w", m.Label, err)
		}
	}

	if mapped == 0 {
		return &expect.AssertionError{
			Assertion: "mapped controls",
			Want:      fmt.Sprintf(">= 1 of %d", initial),
			Got:       "0",
		}
	}
	return nil
}
