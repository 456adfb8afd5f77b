// Package selector parses the Playwright-style selector strings used by the
// scenarios so that drivers without a native selector engine (chromedp) can
// evaluate them in the page.
//
// Supported grammar:
//
//	selector    = alternative { "," alternative }
//	alternative = part { ">>" part }
//	part        = `text="exact"` | "text=" substring | css { `:has-text("...")` }
//
// Commas and ">>" inside quotes, brackets or parentheses never split.
package selector

import (
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
)

// Kind identifies the engine a Part is evaluated with.
type Kind string

const (
	KindCSS  Kind = "css"
	KindText Kind = "text"
)

// Part is one step of a chain.
type Part struct {
	Kind Kind `json:"kind"`
	// CSS is the selector with any trailing :has-text filters removed.
	CSS string `json:"css,omitempty"`
	// HasText filters CSS matches by case-insensitive substring of their text.
	HasText []string `json:"hasText,omitempty"`
	// Text is the text to look for when Kind is KindText.
	Text string `json:"text,omitempty"`
	// Exact requests whitespace-normalised, case-sensitive equality.
	Exact bool `json:"exact,omitempty"`
}

// Chain is a ">>"-separated sequence of parts.
type Chain struct {
	Parts []Part `json:"parts"`
}

// Selector is a parsed selector: the union of its alternatives.
type Selector struct {
	Source       string  `json:"-"`
	Alternatives []Chain `json:"alternatives"`
}

// ParseError reports a malformed selector.
type ParseError struct {
	Selector string
	Reason   string
}

func (e *ParseError) Error() string {
	return fmt.Sprintf("invalid selector %q: %s", e.Selector, e.Reason)
}

// Parse parses a selector string.
func Parse(s string) (*Selector, error) {
	if strings.TrimSpace(s) == "" {
		return nil, &ParseError{Selector: s, Reason: "empty selector"}
	}

	alts, err := splitTopLevel(s, ",")
	if err != nil {
		return nil, &ParseError{Selector: s, Reason: err.Error()}
	}

	sel := &Selector{Source: s}
	for _, alt := range alts {
		rawParts, err := splitTopLevel(alt, ">>")
		if err != nil {
			return nil, &ParseError{Selector: s, Reason: err.Error()}
		}
		var chain Chain
		for _, raw := range rawParts {
			part, err := parsePart(strings.TrimSpace(raw))
			if err != nil {
				return nil, &ParseError{Selector: s, Reason: err.Error()}
			}
			chain.Parts = append(chain.Parts, part)
		}
		sel.Alternatives = append(sel.Alternatives, chain)
	}
	return sel, nil
}

// MustParse is Parse for selectors known at compile time.
func MustParse(s string) *Selector {
	sel, err := Parse(s)
	if err != nil {
		panic(err)
	}
	return sel
}

// JSON returns the selector in the form ResolverJS expects.
func (s *Selector) JSON() string {
	b, err := json.Marshal(s)
	if err != nil {
		// Only strings and slices: cannot fail.
		panic(err)
	}
	return string(b)
}

func parsePart(raw string) (Part, error) {
	if raw == "" {
		return Part{}, fmt.Errorf("empty part")
	}

	if rest, ok := strings.CutPrefix(raw, "text="); ok {
		rest = strings.TrimSpace(rest)
		if rest == "" {
			return Part{}, fmt.Errorf("empty text engine argument")
		}
		if rest[0] == '"' || rest[0] == '\'' {
			text, tail, err := unquote(rest)
			if err != nil {
				return Part{}, err
			}
			if strings.TrimSpace(tail) != "" {
				return Part{}, fmt.Errorf("unexpected %q after quoted text", tail)
			}
			return Part{Kind: KindText, Text: text, Exact: true}, nil
		}
		return Part{Kind: KindText, Text: rest}, nil
	}

	css, filters, err := stripHasText(raw)
	if err != nil {
		return Part{}, err
	}
	if css == "" {
		css = "*"
	}
	if strings.Contains(css, ":has-text(") {
		return Part{}, fmt.Errorf(":has-text is only supported at the end of a part")
	}
	return Part{Kind: KindCSS, CSS: css, HasText: filters}, nil
}

// stripHasText peels trailing :has-text("...") filters off a CSS part.
func stripHasText(raw string) (string, []string, error) {
	const pseudo = ":has-text("
	var filters []string
	css := raw
	for strings.HasSuffix(css, ")") {
		idx := lastTopLevelIndex(css, pseudo)
		if idx < 0 {
			break
		}
		arg := strings.TrimSpace(css[idx+len(pseudo) : len(css)-1])
		if arg == "" {
			return "", nil, fmt.Errorf("empty :has-text argument")
		}
		text, tail, err := unquote(arg)
		if err != nil {
			return "", nil, err
		}
		if strings.TrimSpace(tail) != "" {
			return "", nil, fmt.Errorf("unexpected %q in :has-text", tail)
		}
		filters = append([]string{text}, filters...)
		css = strings.TrimSpace(css[:idx])
	}
	return css, filters, nil
}

// lastTopLevelIndex finds the last occurrence of needle outside quotes.
func lastTopLevelIndex(s, needle string) int {
	last := -1
	var quote byte
	for i := 0; i < len(s); i++ {
		c := s[i]
		switch {
		case quote != 0:
			if c == '\\' {
				i++
			} else if c == quote {
				quote = 0
			}
		case c == '"' || c == '\'':
			quote = c
		case strings.HasPrefix(s[i:], needle):
			last = i
		}
	}
	return last
}

// unquote reads a leading quoted string and returns it with the remainder.
func unquote(s string) (string, string, error) {
	if s == "" || (s[0] != '"' && s[0] != '\'') {
		return "", "", fmt.Errorf("expected quoted string, got %q", s)
	}
	q := s[0]
	var sb strings.Builder
	for i := 1; i < len(s); i++ {
		c := s[i]
		if c == '\\' && i+1 < len(s) {
			sb.WriteByte(s[i+1])
			i++
			continue
		}
		if c == q {
			return sb.String(), s[i+1:], nil
		}
		sb.WriteByte(c)
	}
	return "", "", fmt.Errorf("unterminated quote in %q", s)
}

// splitTopLevel splits s on sep outside quotes, brackets and parentheses.
func splitTopLevel(s, sep string) ([]string, error) {
	var out []string
	var quote byte
	depth := 0
	start := 0
	for i := 0; i < len(s); i++ {
		c := s[i]
		if quote != 0 {
			if c == '\\' {
				i++
			} else if c == quote {
				quote = 0
			}
			continue
		}
		switch c {
		case '"', '\'':
			quote = c
		case '(', '[':
			depth++
		case ')', ']':
			depth--
			if depth < 0 {
				return nil, fmt.Errorf("unbalanced %q at offset %d", c, i)
			}
		default:
			if depth == 0 && strings.HasPrefix(s[i:], sep) {
				out = append(out, s[start:i])
				i += len(sep) - 1
				start = i + 1
			}
		}
	}
	if quote != 0 {
		return nil, fmt.Errorf("unterminated quote")
	}
	if depth != 0 {
		return nil, fmt.Errorf("unbalanced brackets")
	}
	out = append(out, s[start:])
	for i, p := range out {
		if strings.TrimSpace(p) == "" {
			return nil, fmt.Errorf("empty selector at position %d", i)
		}
	}
	return out, nil
}

// HasText builds `tag:has-text("text")` with text quoted safely.
func HasText(tag, text string) string {
	return tag + ":has-text(" + strconv.Quote(text) + ")"
}

// AnyWithText builds the union of every tag having any of texts, e.g. the
// CTA selector `button:has-text("Get"), a:has-text("Get")`.
func AnyWithText(tags []string, texts []string) string {
	var parts []string
	for _, text := range texts {
		for _, tag := range tags {
			parts = append(parts, HasText(tag, text))
		}
	}
	return strings.Join(parts, ", ")
}
