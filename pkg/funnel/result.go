package funnel

import (
	"fmt"
	"strings"
)

// Result is the outcome of a best-effort helper. Helpers never raise; the
// failure reason travels in Cause.
type Result struct {
	Step   string
	OK     bool
	Detail string
	Cause  error
	Notes  []string
}

// Failed reports whether the step did not succeed.
func (r Result) Failed() bool { return !r.OK }

// Err returns nil for a successful step, otherwise an error naming the step
// and wrapping Cause.
func (r Result) Err() error {
	if r.OK {
		return nil
	}
	if r.Cause != nil {
		return fmt.Errorf("%s: %w", r.Step, r.Cause)
	}
	return fmt.Errorf("%s: %s", r.Step, r.Detail)
}

func (r Result) String() string {
	var sb strings.Builder
	sb.WriteString(r.Step)
	if r.OK {
		sb.WriteString(": ok")
	} else {
		sb.WriteString(": failed")
	}
	if r.Detail != "" {
		sb.WriteString(" (" + r.Detail + ")")
	}
	if !r.OK && r.Cause != nil {
		sb.WriteString(": " + r.Cause.Error())
	}
	for _, n := range r.Notes {
		sb.WriteString("; " + n)
	}
	return sb.String()
}

func ok(step, detail string) Result {
	return Result{Step: step, OK: true, Detail: detail}
}

func failed(step, detail string, cause error) Result {
	return Result{Step: step, Detail: detail, Cause: cause}
}
