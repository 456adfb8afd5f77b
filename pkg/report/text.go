package report

import (
	"fmt"
	"strings"
	"time"

	"github.com/charmbracelet/lipgloss"
	"github.com/muesli/reflow/truncate"
	"github.com/muesli/reflow/wordwrap"
)

var (
	SuccessColor = lipgloss.Color("#10B981") // Emerald 500
	ErrorColor   = lipgloss.Color("#EF4444") // Red 500
	AccentColor  = lipgloss.Color("#F59E0B") // Amber 500
	PrimaryColor = lipgloss.Color("#6366F1") // Indigo 500
	MutedColor   = lipgloss.Color("#64748B") // Slate 500
)

var (
	TitleStyle = lipgloss.NewStyle().
			Bold(true).
			Foreground(PrimaryColor)

	PassStyle = lipgloss.NewStyle().
			Bold(true).
			Foreground(SuccessColor)

	FailStyle = lipgloss.NewStyle().
			Bold(true).
			Foreground(ErrorColor)

	SkipStyle = lipgloss.NewStyle().
			Bold(true).
			Foreground(AccentColor)

	MutedStyle = lipgloss.NewStyle().
			Foreground(MutedColor)

	nameStyle = lipgloss.NewStyle().Width(36)
	kindStyle = lipgloss.NewStyle().Width(12)
)

// TextOptions controls the text renderer.
type TextOptions struct {
	// Width bounds error and note lines. Zero means 100.
	Width int
	// Notes lists the tolerated problems of every scenario, not only of
	// failed ones.
	Notes bool
}

const indent = "       "

// Text renders the report for a terminal.
func Text(r *Report, opts TextOptions) string {
	width := opts.Width
	if width <= 0 {
		width = 100
	}
	inner := width - len(indent)
	if inner < 20 {
		inner = 20
	}

	var sb strings.Builder
	sb.WriteString(TitleStyle.Render("FunnelCheck run " + shortID(r.RunID)))
	sb.WriteString(MutedStyle.Render(fmt.Sprintf(" (%s) %s, %s",
		r.Driver, r.Started.Format("2006-01-02 15:04:05"), seconds(r.Duration()))))
	sb.WriteString("\n\n")

	for _, res := range r.Results {
		sb.WriteString(" ")
		sb.WriteString(badge(res.Status))
		sb.WriteString("  ")
		sb.WriteString(nameStyle.Render(truncate.StringWithTail(res.Name, 35, "…")))
		sb.WriteString(kindStyle.Render(res.Kind))
		sb.WriteString(MutedStyle.Render(seconds(res.Duration)))
		sb.WriteString("\n")

		if res.Error != "" {
			for _, line := range strings.Split(wordwrap.String(res.Error, inner), "\n") {
				sb.WriteString(indent + truncate.StringWithTail(line, uint(inner), "…") + "\n")
			}
		}
		if res.Status == StatusFailed || opts.Notes {
			for _, n := range res.Notes {
				sb.WriteString(indent + MutedStyle.Render("· "+truncate.StringWithTail(n, uint(inner-2), "…")) + "\n")
			}
		}
		if res.Screenshot != "" {
			sb.WriteString(indent + MutedStyle.Render("screenshot: "+res.Screenshot) + "\n")
		}
	}

	sb.WriteString("\n")
	summary := r.Summary()
	switch {
	case summary.Failed > 0:
		sb.WriteString(FailStyle.Render(summary.String()))
	case summary.Skipped > 0:
		sb.WriteString(SkipStyle.Render(summary.String()))
	default:
		sb.WriteString(PassStyle.Render(summary.String()))
	}
	sb.WriteString("\n")
	if r.LogPath != "" {
		sb.WriteString(MutedStyle.Render("debug log: "+r.LogPath) + "\n")
	}
	return sb.String()
}

func badge(s Status) string {
	switch s {
	case StatusPassed:
		return PassStyle.Render("PASS")
	case StatusFailed:
		return FailStyle.Render("FAIL")
	default:
		return SkipStyle.Render("SKIP")
	}
}

func seconds(d time.Duration) string {
	return fmt.Sprintf("%.1fs", d.Seconds())
}

func shortID(id string) string {
	if len(id) > 8 {
		return id[:8]
	}
	return id
}
