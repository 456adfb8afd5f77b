// Package expect provides auto-waiting assertions over browser pages and
// locators. An assertion polls until it holds or its bound expires; only
// then does it fail with an *AssertionError. These are the only errors that
// fail a scenario.
package expect

import (
	"errors"
	"fmt"
	"regexp"
	"strings"
	"time"

	"FunnelCheck/pkg/browser"
)

// PollInterval is the pause between two evaluations of an assertion.
var PollInterval = 100 * time.Millisecond

// AssertionError describes an assertion that did not hold within its bound.
type AssertionError struct {
	Assertion string
	Want      string
	Got       string
	// Cause is the last error seen while evaluating, if any.
	Cause error
}

func (e *AssertionError) Error() string {
	msg := fmt.Sprintf("expect %s: want %s, got %s", e.Assertion, e.Want, e.Got)
	if e.Cause != nil {
		msg += " (" + e.Cause.Error() + ")"
	}
	return msg
}

func (e *AssertionError) Unwrap() error { return e.Cause }

// IsAssertion reports whether err (or anything it wraps) is an AssertionError.
func IsAssertion(err error) bool {
	var ae *AssertionError
	return errors.As(err, &ae)
}

// eventually evaluates check until it returns true or timeout passes. check
// returns what it observed so the failure can report it.
func eventually(name, want string, timeout time.Duration, check func() (bool, string, error)) error {
	deadline := time.Now().Add(timeout)
	var (
		got  string
		last error
	)
	for {
		held, observed, err := check()
		if err == nil && held {
			return nil
		}
		got, last = observed, err
		if !time.Now().Before(deadline) {
			if got == "" {
				got = "nothing"
			}
			return &AssertionError{Assertion: name, Want: want, Got: got, Cause: last}
		}
		time.Sleep(PollInterval)
	}
}

// URL asserts the page URL matches pattern.
func URL(page browser.Page, pattern *regexp.Regexp, timeout time.Duration) error {
	return eventually("url", "match "+pattern.String(), timeout, func() (bool, string, error) {
		u := page.URL()
		return pattern.MatchString(u), quote(u), nil
	})
}

// URLContains asserts the page URL contains substr.
func URLContains(page browser.Page, substr string, timeout time.Duration) error {
	return eventually("url", "containing "+quote(substr), timeout, func() (bool, string, error) {
		u := page.URL()
		return strings.Contains(u, substr), quote(u), nil
	})
}

// Text asserts the first match's text, whitespace-normalised, equals want.
func Text(loc browser.Locator, want string, timeout time.Duration) error {
	want = normalize(want)
	return eventually(fmt.Sprintf("text of %s", loc.Selector()), quote(want), timeout, func() (bool, string, error) {
		text, err := firstText(loc)
		if err != nil {
			return false, "", err
		}
		return text == want, quote(text), nil
	})
}

// TextMatches asserts the first match's text matches pattern.
func TextMatches(loc browser.Locator, pattern *regexp.Regexp, timeout time.Duration) error {
	return eventually(fmt.Sprintf("text of %s", loc.Selector()), "match "+pattern.String(), timeout, func() (bool, string, error) {
		text, err := firstText(loc)
		if err != nil {
			return false, "", err
		}
		return pattern.MatchString(text), quote(text), nil
	})
}

// Visible asserts the first match is visible.
func Visible(loc browser.Locator, timeout time.Duration) error {
	return eventually(loc.Selector(), "visible", timeout, func() (bool, string, error) {
		ok, err := loc.First().IsVisible()
		if err != nil {
			return false, "", err
		}
		if ok {
			return true, "visible", nil
		}
		return false, "hidden or absent", nil
	})
}

// CountAtLeast asserts the locator matches at least n elements.
func CountAtLeast(loc browser.Locator, n int, timeout time.Duration) error {
	return eventually(fmt.Sprintf("count of %s", loc.Selector()), fmt.Sprintf(">= %d", n), timeout, func() (bool, string, error) {
		c, err := loc.Count()
		if err != nil {
			return false, "", err
		}
		return c >= n, fmt.Sprint(c), nil
	})
}

// Count asserts the locator matches exactly n elements.
func Count(loc browser.Locator, n int, timeout time.Duration) error {
	return eventually(fmt.Sprintf("count of %s", loc.Selector()), fmt.Sprint(n), timeout, func() (bool, string, error) {
		c, err := loc.Count()
		if err != nil {
			return false, "", err
		}
		return c == n, fmt.Sprint(c), nil
	})
}

// firstText reads the first match without blocking on a missing element.
func firstText(loc browser.Locator) (string, error) {
	n, err := loc.Count()
	if err != nil {
		return "", err
	}
	if n == 0 {
		return "", browser.ErrNoElement
	}
	text, err := loc.First().TextContent()
	if err != nil {
		return "", err
	}
	return normalize(text), nil
}

func normalize(s string) string {
	return strings.Join(strings.Fields(s), " ")
}

func quote(s string) string {
	return fmt.Sprintf("%q", s)
}
