package browser

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"sort"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/PuerkitoBio/goquery"
	"golang.org/x/net/html"
)

// FetchResult contains the result of a lightweight HTTP fetch.
type FetchResult struct {
	URL        string
	Title      string
	StatusCode int
	Text       string   // Clean readable text extracted from HTML
	TestIDs    []string // Sorted data-testid values present in the static HTML
}

// HasTestID reports whether the static HTML carries data-testid=id.
func (r *FetchResult) HasTestID(id string) bool {
	i := sort.SearchStrings(r.TestIDs, id)
	return i < len(r.TestIDs) && r.TestIDs[i] == id
}

// HasText reports whether the readable text contains s, ignoring case.
func (r *FetchResult) HasText(s string) bool {
	return s != "" && strings.Contains(strings.ToLower(r.Text), strings.ToLower(s))
}

// FetchPage fetches a URL using a plain HTTP request and extracts the title,
// readable text and data-testid markers. No JS execution, no Chrome needed.
func FetchPage(ctx context.Context, rawURL string, timeout time.Duration) (*FetchResult, error) {
	if timeout <= 0 {
		timeout = 30 * time.Second
	}

	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, rawURL, nil)
	if err != nil {
		return nil, fmt.Errorf("invalid URL %q: %w", rawURL, err)
	}
	req.Header.Set("User-Agent", DefaultOptions().UserAgent)
	req.Header.Set("Accept", "text/html,application/xhtml+xml,application/xml;q=0.9,*/*;q=0.8")
	req.Header.Set("Accept-Language", "en-US,en;q=0.9")

	client := &http.Client{
		Timeout: timeout,
		CheckRedirect: func(req *http.Request, via []*http.Request) error {
			if len(via) >= 5 {
				return fmt.Errorf("too many redirects")
			}
			return nil
		},
	}

	resp, err := client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("fetch %s: %w", rawURL, err)
	}
	defer resp.Body.Close()

	// Read with a size cap to avoid huge pages blowing memory
	const maxBytes = 2 << 20 // 2 MB
	body, err := io.ReadAll(io.LimitReader(resp.Body, maxBytes))
	if err != nil {
		return nil, fmt.Errorf("read body: %w", err)
	}

	result := &FetchResult{
		URL:        resp.Request.URL.String(),
		StatusCode: resp.StatusCode,
	}

	if !strings.Contains(resp.Header.Get("Content-Type"), "html") {
		result.Text = truncate(string(body), 8000)
		return result, nil
	}

	doc, err := goquery.NewDocumentFromReader(strings.NewReader(string(body)))
	if err != nil {
		return nil, fmt.Errorf("parse HTML: %w", err)
	}

	result.Title = strings.TrimSpace(doc.Find("title").First().Text())

	seen := make(map[string]bool)
	doc.Find("[data-testid]").Each(func(_ int, s *goquery.Selection) {
		if id, ok := s.Attr("data-testid"); ok && id != "" && !seen[id] {
			seen[id] = true
			result.TestIDs = append(result.TestIDs, id)
		}
	})
	sort.Strings(result.TestIDs)

	doc.Find("script, style, noscript").Remove()
	result.Text = truncate(htmlToText(doc), 8000)
	return result, nil
}

// htmlToText extracts all text from the document, one line per block element.
func htmlToText(doc *goquery.Document) string {
	var sb strings.Builder
	var walk func(*goquery.Selection)
	walk = func(sel *goquery.Selection) {
		sel.Contents().Each(func(_ int, s *goquery.Selection) {
			node := s.Get(0)
			if node == nil {
				return
			}
			switch node.Type {
			case html.TextNode:
				t := strings.TrimSpace(node.Data)
				if t != "" {
					sb.WriteString(t)
					sb.WriteString(" ")
				}
				return
			case html.CommentNode, html.DoctypeNode:
				return
			}
			block := isBlock(strings.ToLower(node.Data))
			if block {
				sb.WriteString("\n")
			}
			walk(s)
			if block {
				sb.WriteString("\n")
			}
		})
	}
	walk(doc.Selection)

	// Collapse excessive blank lines
	var out []string
	blank := 0
	for _, l := range strings.Split(sb.String(), "\n") {
		l = strings.TrimSpace(l)
		if l == "" {
			blank++
			if blank <= 1 {
				out = append(out, "")
			}
			continue
		}
		blank = 0
		out = append(out, l)
	}
	return strings.TrimSpace(strings.Join(out, "\n"))
}

func isBlock(tag string) bool {
	switch tag {
	case "p", "div", "section", "article", "header", "footer", "li", "tr",
		"h1", "h2", "h3", "h4", "h5", "h6", "blockquote", "pre", "br", "hr":
		return true
	}
	return false
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	for n > 0 && !utf8.RuneStart(s[n]) {
		n--
	}
	return s[:n] + "\n[... content truncated ...]"
}
