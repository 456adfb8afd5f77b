package scenario

import (
	"context"
	"fmt"
	"time"

	"FunnelCheck/pkg/browser"
	"FunnelCheck/pkg/expect"
)

// runFanOut checks every region independently: reload the entry page,
// bring the region into view, follow the first visible CTA and assert the
// destination. Regions that are absent are skipped; at least one region
// must be verified.
func (d *Definition) runFanOut(ctx context.Context, env Env, out *Outcome) error {
	h := env.Helpers
	page := env.Page
	cta := d.CTASelector()

	for _, region := range d.Regions {
		if err := ctx.Err(); err != nil {
			return err
		}
		name := region.Name
		if name == "" {
			name = region.Selector
		}

		out.tolerate("region "+name, h.NavigateAndPrepare(ctx, page, d.EntryURL))

		section := page.Locator(region.Selector).First()
		visible, err := section.IsVisible()
		if err != nil || !visible {
			out.notef("region %s: not visible, skipped", name)
			continue
		}
		if err := section.ScrollIntoView(h.Timeouts.Ready); err != nil {
			out.notef("region %s: scroll failed, skipped: %v", name, err)
			continue
		}
		if err := sleep(ctx, time.Duration(d.SettleDelay)); err != nil {
			return err
		}

		// A region whose CTAs are all hidden (e.g. a collapsed mobile
		// variant) falls back to the page like one without CTAs.
		button, _, inRegion, _ := firstVisible(section.Locator(cta))
		if button == nil {
			var i int
			var err error
			button, i, _, err = firstVisible(page.Locator(cta))
			if err != nil {
				out.notef("region %s: counting CTAs failed: %v", name, err)
				continue
			}
			if button == nil {
				out.notef("region %s: no visible CTA", name)
				continue
			}
			if inRegion == 0 {
				out.notef("region %s: no CTA inside the region, used CTA #%d of the page", name, i)
			} else {
				out.notef("region %s: none of %d CTAs inside the region is visible, used CTA #%d of the page", name, inRegion, i)
			}
		}

		out.tolerate("region "+name, h.ClickAndWaitForURL(button, page, d.destination))
		if err := expect.URL(page, d.destination, env.ExpectTimeout); err != nil {
			return fmt.Errorf("region %s: %w", name, err)
		}
		out.Verified++
	}

	if out.Verified == 0 {
		return &expect.AssertionError{
			Assertion: "verified regions",
			Want:      fmt.Sprintf(">= 1 of %d", len(d.Regions)),
			Got:       "0",
		}
	}
	return nil
}

// firstVisible returns the first visible match of buttons with its index,
// along with how many matches there are. The locator is nil when none is
// visible.
func firstVisible(buttons browser.Locator) (browser.Locator, int, int, error) {
	n, err := buttons.Count()
	if err != nil {
		return nil, -1, 0, err
	}
	for i := 0; i < n; i++ {
		button := buttons.Nth(i)
		if ok, err := button.IsVisible(); err == nil && ok {
			return button, i, n, nil
		}
	}
	return nil, -1, n, nil
}
