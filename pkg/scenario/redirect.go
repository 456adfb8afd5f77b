package scenario

import (
	"context"
	"fmt"

	"FunnelCheck/pkg/expect"
)

// runRedirect clicks a single control and checks the destination.
func (d *Definition) runRedirect(ctx context.Context, env Env, out *Outcome) error {
	h := env.Helpers
	page := env.Page

	out.tolerate("entry", h.NavigateAndPrepare(ctx, page, d.EntryURL))
	if err := ctx.Err(); err != nil {
		return err
	}

	control := page.Locator(d.ControlSelector).First()
	out.tolerate(d.ControlSelector, h.ClickAndWaitForURL(control, page, d.destination))
	if err := expect.URL(page, d.destination, env.ExpectTimeout); err != nil {
		return fmt.Errorf("%s: %w", d.ControlSelector, err)
	}
	out.Verified++
	return nil
}
