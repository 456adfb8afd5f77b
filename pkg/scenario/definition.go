// Package scenario defines the end-to-end checks as data. A Definition names
// one of four procedures (fan-out, enumerate, plan-switch, redirect) and the
// selectors, labels and URL patterns it runs with.
package scenario

import (
	"encoding/json"
	"errors"
	"fmt"
	"regexp"
	"strings"
	"time"

	"FunnelCheck/pkg/selector"
)

// Kind selects the procedure a Definition runs.
type Kind string

const (
	// KindFanOut visits every page region and follows one CTA per region.
	KindFanOut Kind = "fan-out"
	// KindEnumerate clicks every mapped control and checks where it leads.
	KindEnumerate Kind = "enumerate"
	// KindPlanSwitch changes the billing period and follows a plan card.
	KindPlanSwitch Kind = "plan-switch"
	// KindRedirect clicks one control and checks the destination.
	KindRedirect Kind = "redirect"
)

// Kinds lists every supported kind.
var Kinds = []Kind{KindFanOut, KindEnumerate, KindPlanSwitch, KindRedirect}

// Region is a named area of a page that should lead to the destination.
type Region struct {
	Name     string `json:"name"`
	Selector string `json:"selector"`
}

// LabelMapping maps a control label to the title expected after clicking it.
type LabelMapping struct {
	Label    string `json:"label"`
	Expected string `json:"expected"`
}

// Duration is a time.Duration that reads "1s" style strings from JSON.
// Bare numbers are milliseconds.
type Duration time.Duration

func (d Duration) MarshalJSON() ([]byte, error) {
	return json.Marshal(time.Duration(d).String())
}

func (d *Duration) UnmarshalJSON(b []byte) error {
	var v any
	if err := json.Unmarshal(b, &v); err != nil {
		return err
	}
	switch val := v.(type) {
	case float64:
		*d = Duration(time.Duration(val) * time.Millisecond)
	case string:
		parsed, err := time.ParseDuration(val)
		if err != nil {
			return fmt.Errorf("invalid duration %q: %w", val, err)
		}
		*d = Duration(parsed)
	default:
		return fmt.Errorf("invalid duration %s", string(b))
	}
	return nil
}

// Definition is one scenario of the table. Which fields are required depends
// on Kind; see Validate.
type Definition struct {
	Name        string `json:"name"`
	Kind        Kind   `json:"kind"`
	Description string `json:"description,omitempty"`
	// EntryURL is where the scenario starts and where enumerate and
	// plan-switch return between iterations.
	EntryURL string `json:"entry_url"`
	// Destination is the URL pattern every followed control must reach.
	Destination string `json:"destination"`

	// fan-out
	Regions     []Region `json:"regions,omitempty"`
	CTALabels   []string `json:"cta_labels,omitempty"`
	CTATags     []string `json:"cta_tags,omitempty"`
	SettleDelay Duration `json:"settle_delay,omitempty"`

	// enumerate, redirect
	ControlSelector string         `json:"control_selector,omitempty"`
	Mapping         []LabelMapping `json:"mapping,omitempty"`
	TitleSelector   string         `json:"title_selector,omitempty"`

	// plan-switch
	DropdownSelector string   `json:"dropdown_selector,omitempty"`
	SelectSelector   string   `json:"select_selector,omitempty"`
	Periods          []string `json:"periods,omitempty"`
	PlanSelector     string   `json:"plan_selector,omitempty"`
	TitlePattern     string   `json:"title_pattern,omitempty"`

	destination  *regexp.Regexp
	titlePattern *regexp.Regexp
}

// DefaultCTATags are the elements searched for CTA labels.
var DefaultCTATags = []string{"button", "a"}

// CTASelector is the union of every CTA tag carrying any CTA label.
func (d *Definition) CTASelector() string {
	tags := d.CTATags
	if len(tags) == 0 {
		tags = DefaultCTATags
	}
	return selector.AnyWithText(tags, d.CTALabels)
}

// Match returns the first mapping, in table order, whose label text
// contains. Nil means the control is not mapped.
func (d *Definition) Match(text string) *LabelMapping {
	for i := range d.Mapping {
		if strings.Contains(text, d.Mapping[i].Label) {
			return &d.Mapping[i]
		}
	}
	return nil
}

// DestinationPattern returns the compiled destination. Validate must have
// succeeded.
func (d *Definition) DestinationPattern() *regexp.Regexp { return d.destination }

// ValidationError collects every problem found in one definition.
type ValidationError struct {
	Name     string
	Problems []string
}

func (e *ValidationError) Error() string {
	name := e.Name
	if name == "" {
		name = "<unnamed>"
	}
	return fmt.Sprintf("scenario %s: %s", name, strings.Join(e.Problems, "; "))
}

// Validate checks the fields required by the definition's kind, parses its
// selectors and compiles its patterns. The compiled patterns are kept only
// when every check passed.
func (d *Definition) Validate() error {
	v := &ValidationError{Name: d.Name}
	var destination, titlePattern *regexp.Regexp
	bad := func(format string, args ...any) {
		v.Problems = append(v.Problems, fmt.Sprintf(format, args...))
	}
	need := func(field, value string) {
		if strings.TrimSpace(value) == "" {
			bad("%s is required", field)
		}
	}
	sel := func(field, value string) {
		if value == "" {
			return
		}
		if _, err := selector.Parse(value); err != nil {
			bad("%s: %v", field, err)
		}
	}

	need("name", d.Name)
	need("entry_url", d.EntryURL)
	need("destination", d.Destination)

	if d.Destination != "" {
		re, err := regexp.Compile(d.Destination)
		if err != nil {
			bad("destination: %v", err)
		}
		destination = re
	}

	switch d.Kind {
	case KindFanOut:
		if len(d.Regions) == 0 {
			bad("regions are required")
		}
		for i, r := range d.Regions {
			need(fmt.Sprintf("regions[%d].selector", i), r.Selector)
			sel(fmt.Sprintf("regions[%d].selector", i), r.Selector)
		}
		if len(d.CTALabels) == 0 {
			bad("cta_labels are required")
		}
		for i, l := range d.CTALabels {
			need(fmt.Sprintf("cta_labels[%d]", i), l)
		}
		if d.SettleDelay < 0 {
			bad("settle_delay must not be negative")
		}
	case KindEnumerate:
		need("control_selector", d.ControlSelector)
		sel("control_selector", d.ControlSelector)
		need("title_selector", d.TitleSelector)
		sel("title_selector", d.TitleSelector)
		if len(d.Mapping) == 0 {
			bad("mapping is required")
		}
		for i, m := range d.Mapping {
			need(fmt.Sprintf("mapping[%d].label", i), m.Label)
			need(fmt.Sprintf("mapping[%d].expected", i), m.Expected)
		}
	case KindPlanSwitch:
		need("dropdown_selector", d.DropdownSelector)
		sel("dropdown_selector", d.DropdownSelector)
		need("plan_selector", d.PlanSelector)
		need("title_selector", d.TitleSelector)
		sel("title_selector", d.TitleSelector)
		need("title_pattern", d.TitlePattern)
		if len(d.Periods) == 0 {
			bad("periods are required")
		}
		// These two run through document.querySelector in the page.
		if d.PlanSelector != "" && !isPlainCSS(d.PlanSelector) {
			bad("plan_selector must be a plain CSS selector")
		}
		if d.SelectSelector != "" && !isPlainCSS(d.SelectSelector) {
			bad("select_selector must be a plain CSS selector")
		}
		if d.TitlePattern != "" {
			re, err := regexp.Compile(d.TitlePattern)
			if err != nil {
				bad("title_pattern: %v", err)
			}
			titlePattern = re
		}
	case KindRedirect:
		need("control_selector", d.ControlSelector)
		sel("control_selector", d.ControlSelector)
	case "":
		bad("kind is required")
	default:
		bad("unknown kind %q", d.Kind)
	}

	if len(v.Problems) > 0 {
		d.destination, d.titlePattern = nil, nil
		return v
	}
	d.destination, d.titlePattern = destination, titlePattern
	return nil
}

// isPlainCSS reports whether s parses to a single CSS part without text
// filters, i.e. something document.querySelector understands.
func isPlainCSS(s string) bool {
	parsed, err := selector.Parse(s)
	if err != nil || len(parsed.Alternatives) != 1 {
		return false
	}
	parts := parsed.Alternatives[0].Parts
	return len(parts) == 1 && parts[0].Kind == selector.KindCSS && len(parts[0].HasText) == 0
}

// ValidateAll validates every definition and rejects duplicate names.
func ValidateAll(defs []*Definition) error {
	var errs []error
	seen := make(map[string]bool)
	for _, d := range defs {
		if err := d.Validate(); err != nil {
			errs = append(errs, err)
		}
		if seen[d.Name] {
			errs = append(errs, fmt.Errorf("scenario %s: duplicate name", d.Name))
		}
		seen[d.Name] = true
	}
	return errors.Join(errs...)
}
