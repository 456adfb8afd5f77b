package scenario

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"FunnelCheck/pkg/browser"
	"FunnelCheck/pkg/expect"
	"FunnelCheck/pkg/funnel"
)

// DefaultExpectTimeout bounds each assertion.
const DefaultExpectTimeout = 5 * time.Second

// Env is what a running scenario may use. The page belongs to the
// scenario's session and to nothing else.
type Env struct {
	Page          browser.Page
	Helpers       *funnel.Helpers
	ExpectTimeout time.Duration
}

// Outcome is the non-fatal record of a run: what was verified and what was
// skipped or tolerated on the way.
type Outcome struct {
	Verified int
	Notes    []string
}

func (o *Outcome) notef(format string, args ...any) {
	o.Notes = append(o.Notes, fmt.Sprintf(format, args...))
}

func (o *Outcome) tolerate(prefix string, r funnel.Result) {
	if r.Failed() {
		o.notef("%s: %s", prefix, r.String())
	}
}

// IsAssertion reports whether err failed an assertion (as opposed to the
// run being cancelled or misconfigured).
func IsAssertion(err error) bool {
	return expect.IsAssertion(err)
}

// Run executes the definition. The returned error is non-nil only when an
// assertion failed, the context was cancelled or the definition is invalid.
func (d *Definition) Run(ctx context.Context, env Env) (*Outcome, error) {
	if err := d.Validate(); err != nil {
		return nil, err
	}
	if env.Helpers == nil {
		env.Helpers = funnel.New()
	}
	if env.ExpectTimeout <= 0 {
		env.ExpectTimeout = DefaultExpectTimeout
	}

	out := &Outcome{}
	var err error
	switch d.Kind {
	case KindFanOut:
		err = d.runFanOut(ctx, env, out)
	case KindEnumerate:
		err = d.runEnumerate(ctx, env, out)
	case KindPlanSwitch:
		err = d.runPlanSwitch(ctx, env, out)
	case KindRedirect:
		err = d.runRedirect(ctx, env, out)
	default:
		err = fmt.Errorf("scenario %s: unknown kind %q", d.Name, d.Kind)
	}
	return out, err
}

// sleep waits for d or until ctx is done.
func sleep(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}

func jsString(s string) string {
	b, _ := json.Marshal(s)
	return string(b)
}

func normalizeSpace(s string) string {
	return strings.Join(strings.Fields(s), " ")
}
