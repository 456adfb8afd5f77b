package scenario

import (
	"context"
	"fmt"

	"FunnelCheck/pkg/browser"
	"FunnelCheck/pkg/expect"
)

// SelectValueScript sets the value of the first element matching sel and
// fires a bubbling change event. It evaluates to false when nothing matches.
func SelectValueScript(sel, value string) string {
	return fmt.Sprintf(`(() => {
  const el = document.querySelector(%s);
  if (!el) return false;
  el.value = %s;
  el.dispatchEvent(new Event('change', { bubbles: true }));
  return true;
})()`, jsString(sel), jsString(value))
}

// ClickScript clicks the first element matching sel from inside the page.
// It evaluates to false when nothing matches.
func ClickScript(sel string) string {
	return fmt.Sprintf(`(() => {
  const el = document.querySelector(%s);
  if (!el) return false;
  el.click();
  return true;
})()`, jsString(sel))
}

// runPlanSwitch selects each billing period in turn, follows the plan card
// and checks the payment page, going back between periods. The entry page
// is loaded again at the end.
func (d *Definition) runPlanSwitch(ctx context.Context, env Env, out *Outcome) error {
	h := env.Helpers
	page := env.Page
	selectSel := d.SelectSelector
	if selectSel == "" {
		selectSel = "select"
	}

	out.tolerate("entry", h.NavigateAndPrepare(ctx, page, d.EntryURL))
	dropdown := page.Locator(d.DropdownSelector).First()

	for i, period := range d.Periods {
		if err := ctx.Err(); err != nil {
			return err
		}
		if i > 0 {
			if err := page.GoBack(h.Timeouts.Navigation); err != nil {
				out.notef("period %s: going back failed: %v", period, err)
			}
		}

		if err := dropdown.Click(browser.ClickOptions{Force: true, Timeout: h.Timeouts.ClickWait}); err != nil {
			out.notef("period %s: opening dropdown failed: %v", period, err)
		}
		if v, err := page.Evaluate(SelectValueScript(selectSel, period)); err != nil {
			out.notef("period %s: selecting failed: %v", period, err)
		} else if v == false {
			out.notef("period %s: no %s element", period, selectSel)
		}
		if v, err := page.Evaluate(ClickScript(d.PlanSelector)); err != nil {
			out.notef("period %s: plan click failed: %v", period, err)
		} else if v == false {
			out.notef("period %s: plan card not found", period)
		}

		if err := expect.URL(page, d.destination, env.ExpectTimeout); err != nil {
			return fmt.Errorf("period %s: %w", period, err)
		}
		title := page.Locator(d.TitleSelector).First()
		if err := expect.TextMatches(title, d.titlePattern, env.ExpectTimeout); err != nil {
			return fmt.Errorf("period %s: %w", period, err)
		}
		out.Verified++
	}

	out.tolerate("return", h.NavigateAndPrepare(ctx, page, d.EntryURL))
	return nil
}
