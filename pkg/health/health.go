// Package health runs the preflight checks: is a browser driver usable and
// are the target pages reachable.
package health

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"FunnelCheck/pkg/browser"
	"FunnelCheck/pkg/telegram"
	"FunnelCheck/pkg/utils"
)

// TargetStatus is the static-HTML view of one target page.
type TargetStatus struct {
	URL        string
	FinalURL   string
	Reachable  bool
	StatusCode int
	Title      string
	// ConsentInHTML reports whether the consent marker is in the static
	// markup. Sites often inject it later, so absence is only informative.
	ConsentInHTML bool
	// CTALabels are the CTA texts found in the static page text.
	CTALabels []string
	Latency   time.Duration
	Error     string
}

// Status represents the outcome of a preflight run
type Status struct {
	Timestamp         time.Time
	Driver            string
	DriverStatus      string // "ready", "missing", "unknown"
	DriverDetail      string
	ArtifactsDir      string
	ArtifactsWritable bool
	Targets           []TargetStatus
	// Telegram is "disabled", "ready" or "invalid".
	Telegram        string
	TelegramDetail  string
	Warnings        []string
	Recommendations []string
}

// Ready reports whether a run can start: the driver is usable. Unreachable
// targets only produce warnings.
func (s *Status) Ready() bool {
	return s.DriverStatus == "ready"
}

// Options configures a Checker.
type Options struct {
	Driver       string
	BrowsersPath string
	ChromePath   string
	ArtifactsDir string
	Targets      []string
	// ConsentTestID is the data-testid of the consent widget.
	ConsentTestID string
	// CTALabels are looked up in each target's static text.
	CTALabels []string
	// TelegramToken, when set, is checked against the Bot API.
	TelegramToken string
	Timeout       time.Duration
}

// Checker performs preflight checks
type Checker struct {
	opts Options

	checkPlaywright func(browsersPath string) bool
	findChrome      func() (string, error)
	fetch           func(ctx context.Context, url string, timeout time.Duration) (*browser.FetchResult, error)
	validateToken   func(token string) (string, error)
}

// NewChecker creates a new preflight checker
func NewChecker(opts Options) *Checker {
	if opts.Driver == "" {
		opts.Driver = browser.DriverPlaywright
	}
	if opts.ConsentTestID == "" {
		opts.ConsentTestID = "consent-widget"
	}
	if opts.Timeout <= 0 {
		opts.Timeout = 15 * time.Second
	}
	return &Checker{
		opts:            opts,
		checkPlaywright: browser.CheckDeps,
		findChrome:      browser.FindChrome,
		fetch:           browser.FetchPage,
		validateToken:   telegram.ValidateToken,
	}
}

// Check performs every preflight check
func (c *Checker) Check(ctx context.Context) *Status {
	status := &Status{
		Timestamp:       time.Now(),
		Driver:          c.opts.Driver,
		DriverStatus:    "unknown",
		ArtifactsDir:    c.opts.ArtifactsDir,
		Warnings:        []string{},
		Recommendations: []string{},
	}

	c.checkDriver(status)
	c.checkArtifacts(status)
	c.checkTargets(ctx, status)
	c.checkTelegram(status)
	c.generateRecommendations(status)

	return status
}

// checkDriver checks that the configured driver can be launched
func (c *Checker) checkDriver(status *Status) {
	switch c.opts.Driver {
	case browser.DriverPlaywright:
		if c.checkPlaywright(c.opts.BrowsersPath) {
			status.DriverStatus = "ready"
			status.DriverDetail = "Playwright driver installed"
			return
		}
		status.DriverStatus = "missing"
		status.DriverDetail = "Playwright driver or browsers not installed"
		status.Warnings = append(status.Warnings, "Playwright is not installed")
	case browser.DriverChromedp:
		if c.opts.ChromePath != "" {
			if _, err := os.Stat(c.opts.ChromePath); err != nil {
				status.DriverStatus = "missing"
				status.DriverDetail = fmt.Sprintf("chrome_path %s: %v", c.opts.ChromePath, err)
				status.Warnings = append(status.Warnings, "Configured Chrome binary does not exist")
				return
			}
			status.DriverStatus = "ready"
			status.DriverDetail = c.opts.ChromePath
			return
		}
		path, err := c.findChrome()
		if err != nil {
			status.DriverStatus = "missing"
			status.DriverDetail = err.Error()
			status.Warnings = append(status.Warnings, "Chrome/Chromium not found")
			return
		}
		status.DriverStatus = "ready"
		status.DriverDetail = path
	default:
		status.DriverStatus = "missing"
		status.DriverDetail = fmt.Sprintf("unknown driver %q", c.opts.Driver)
		status.Warnings = append(status.Warnings, status.DriverDetail)
	}
}

// checkArtifacts checks that screenshots and logs can be written
func (c *Checker) checkArtifacts(status *Status) {
	dir := c.opts.ArtifactsDir
	if dir == "" {
		return
	}
	if err := os.MkdirAll(dir, 0755); err != nil {
		status.Warnings = append(status.Warnings, fmt.Sprintf("Artifacts directory %s: %v", dir, err))
		return
	}
	testFile := filepath.Join(dir, ".write-test")
	if err := os.WriteFile(testFile, []byte("ok"), 0644); err != nil {
		status.Warnings = append(status.Warnings, fmt.Sprintf("Artifacts directory %s is not writable: %v", dir, err))
		return
	}
	_ = os.Remove(testFile)
	status.ArtifactsWritable = true
}

// checkTargets fetches each target page without a browser
func (c *Checker) checkTargets(ctx context.Context, status *Status) {
	for _, url := range c.opts.Targets {
		ts := TargetStatus{URL: url}
		started := time.Now()
		res, err := c.fetch(ctx, url, c.opts.Timeout)
		ts.Latency = time.Since(started)
		switch {
		case err != nil:
			ts.Error = err.Error()
			status.Warnings = append(status.Warnings, fmt.Sprintf("%s is unreachable", url))
		case res.StatusCode >= 400:
			ts.Reachable = true
			ts.StatusCode = res.StatusCode
			ts.FinalURL = res.URL
			ts.Error = fmt.Sprintf("HTTP %d", res.StatusCode)
			status.Warnings = append(status.Warnings, fmt.Sprintf("%s answered HTTP %d", url, res.StatusCode))
		default:
			ts.Reachable = true
			ts.StatusCode = res.StatusCode
			ts.FinalURL = res.URL
			ts.Title = res.Title
			ts.ConsentInHTML = res.HasTestID(c.opts.ConsentTestID) || res.HasTestID(c.opts.ConsentTestID+"-accept-all")
			for _, label := range c.opts.CTALabels {
				if res.HasText(label) {
					ts.CTALabels = append(ts.CTALabels, label)
				}
			}
		}
		status.Targets = append(status.Targets, ts)
	}
}

// checkTelegram validates the bot token used for run summaries
func (c *Checker) checkTelegram(status *Status) {
	if c.opts.TelegramToken == "" {
		status.Telegram = "disabled"
		return
	}
	name, err := c.validateToken(c.opts.TelegramToken)
	if err != nil {
		status.Telegram = "invalid"
		status.TelegramDetail = err.Error()
		status.Warnings = append(status.Warnings, "Telegram bot token was rejected")
		return
	}
	status.Telegram = "ready"
	status.TelegramDetail = "@" + name
}

// generateRecommendations generates actionable recommendations
func (c *Checker) generateRecommendations(status *Status) {
	if status.DriverStatus == "missing" {
		switch c.opts.Driver {
		case browser.DriverChromedp:
			status.Recommendations = append(status.Recommendations,
				"🔧 Install Google Chrome or set CHROME_PATH / browser.chrome_path")
		default:
			status.Recommendations = append(status.Recommendations,
				"🔧 Run `funnelcheck -install` to download the Playwright driver and Chromium")
		}
	}

	unreachable := 0
	for _, t := range status.Targets {
		if !t.Reachable || t.StatusCode >= 400 {
			unreachable++
		}
	}
	if unreachable > 0 {
		status.Recommendations = append(status.Recommendations,
			"🌐 Check network access and targets.base_url; scenarios on unreachable pages will fail")
	}

	if status.Telegram == "invalid" {
		status.Recommendations = append(status.Recommendations,
			"🤖 Check TELEGRAM_BOT_TOKEN; run summaries will not be sent")
	}

	if c.opts.ArtifactsDir != "" && !status.ArtifactsWritable {
		status.Recommendations = append(status.Recommendations,
			"📁 Point artifacts_dir at a writable directory to keep failure screenshots")
	}

	if len(status.Recommendations) == 0 {
		status.Recommendations = append(status.Recommendations,
			"✅ Ready to run!")
	}
}

// FormatReport renders a preflight status as Markdown
func FormatReport(status *Status) string {
	var sb strings.Builder

	sb.WriteString("# 🩺 Preflight Report\n\n")
	sb.WriteString(fmt.Sprintf("**Timestamp:** %s\n\n", status.Timestamp.Format("2006-01-02 15:04:05")))

	sb.WriteString(fmt.Sprintf("## 🌍 Driver: %s %s (%s)\n", statusEmoji(status.DriverStatus), status.Driver, status.DriverStatus))
	if status.DriverDetail != "" {
		sb.WriteString(fmt.Sprintf("%s\n", status.DriverDetail))
	}
	sb.WriteString("\n")

	if status.ArtifactsDir != "" {
		state := "writable"
		if !status.ArtifactsWritable {
			state = "not writable"
		}
		sb.WriteString(fmt.Sprintf("## 📁 Artifacts: %s (%s)\n\n", status.ArtifactsDir, state))
	}

	if status.Telegram != "" && status.Telegram != "disabled" {
		sb.WriteString(fmt.Sprintf("## 🤖 Telegram: %s %s", statusEmoji(status.Telegram), status.Telegram))
		if status.TelegramDetail != "" {
			sb.WriteString(" (" + utils.SanitizeLog(status.TelegramDetail) + ")")
		}
		sb.WriteString("\n\n")
	}

	if len(status.Targets) > 0 {
		sb.WriteString("## 🎯 Targets\n")
		for _, t := range status.Targets {
			if t.Error != "" {
				sb.WriteString(fmt.Sprintf("- ❌ %s: %s\n", t.URL, truncate(t.Error, 200)))
				continue
			}
			consent := "no consent marker in static HTML"
			if t.ConsentInHTML {
				consent = "consent marker present"
			}
			sb.WriteString(fmt.Sprintf("- ✅ %s: HTTP %d, %q, %s, %s\n",
				t.URL, t.StatusCode, t.Title, consent, t.Latency.Round(time.Millisecond)))
			if len(t.CTALabels) > 0 {
				sb.WriteString(fmt.Sprintf("  CTA labels in static HTML: %s\n", strings.Join(t.CTALabels, ", ")))
			}
		}
		sb.WriteString("\n")
	}

	if len(status.Warnings) > 0 {
		sb.WriteString("## ⚠️ Warnings\n")
		for _, warning := range status.Warnings {
			sb.WriteString(fmt.Sprintf("- %s\n", warning))
		}
		sb.WriteString("\n")
	}

	sb.WriteString("## 💡 Recommendations\n")
	for _, rec := range status.Recommendations {
		sb.WriteString(fmt.Sprintf("- %s\n", rec))
	}

	return sb.String()
}

// statusEmoji returns an emoji for a given status
func statusEmoji(status string) string {
	switch status {
	case "ready":
		return "✅"
	case "missing", "invalid":
		return "❌"
	case "unknown":
		return "⚪"
	default:
		return "❔"
	}
}

// truncate truncates a string to a maximum length
func truncate(s string, maxLen int) string {
	if len(s) <= maxLen {
		return s
	}
	return s[:maxLen] + "... (truncated)"
}
