// Package config provides configuration management.
package config

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/url"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"

	"FunnelCheck/pkg/browser"
	"FunnelCheck/pkg/funnel"
	"FunnelCheck/pkg/report"
	"FunnelCheck/pkg/scenario"
	"FunnelCheck/pkg/telegram"
	"FunnelCheck/pkg/utils"
)

// DefaultPath is where a config is looked for first when -config is not given.
const DefaultPath = ".funnelcheck/config.json"

// MaxParallel caps concurrent browser sessions.
const MaxParallel = 16

// Config holds all configuration settings
type Config struct {
	// Documentation fields (ignored on load, present in saved JSON)
	TargetsDoc  string `json:"// targets,omitempty"`
	TimeoutsDoc string `json:"// timeouts,omitempty"`
	RateDoc     string `json:"// rate_limit,omitempty"`
	TelegramDoc string `json:"// telegram,omitempty"`

	Targets  TargetsConfig  `json:"targets"`
	Browser  BrowserConfig  `json:"browser"`
	Timeouts TimeoutsConfig `json:"timeouts"`

	// ConsentSelector matches the cookie banner's accept-all button.
	ConsentSelector string `json:"consent_selector"`

	// Parallel is the number of scenarios run at once, each in its own
	// browser context.
	Parallel  int             `json:"parallel"`
	RateLimit RateLimitConfig `json:"rate_limit"`

	// ArtifactsDir receives failure screenshots and the per-run debug log.
	ArtifactsDir string       `json:"artifacts_dir"`
	Report       ReportConfig `json:"report"`

	Telegram TelegramConfig `json:"telegram"`

	LogLevel string `json:"log_level"`
	LogFile  string `json:"log_file,omitempty"`

	// ScenariosFile is an optional JSON catalog merged over the built-in one.
	ScenariosFile string `json:"scenarios_file,omitempty"`
}

// TargetsConfig holds the entry URLs of the built-in scenarios. Empty
// page URLs are derived from BaseURL.
type TargetsConfig struct {
	BaseURL      string `json:"base_url"`
	Offer        string `json:"offer,omitempty"`
	OfferPricing string `json:"offer_pricing,omitempty"`
	Pricing      string `json:"pricing,omitempty"`
	Products     string `json:"products,omitempty"`
}

// BrowserConfig holds browser automation configuration
type BrowserConfig struct {
	Driver         string `json:"driver"` // "playwright" or "chromedp"
	Headless       bool   `json:"headless"`
	Stealth        bool   `json:"stealth"`
	SlowMo         int    `json:"slow_mo_ms,omitempty"`
	ViewportWidth  int    `json:"viewport_width,omitempty"`
	ViewportHeight int    `json:"viewport_height,omitempty"`
	UserAgent      string `json:"user_agent,omitempty"`
	BrowsersPath   string `json:"browsers_path,omitempty"`
	ChromePath     string `json:"chrome_path,omitempty"`
}

// TimeoutsConfig holds the wait bounds in seconds. Zero keeps the default.
type TimeoutsConfig struct {
	Navigation int `json:"navigation"`
	Ready      int `json:"ready"`
	ClickWait  int `json:"click_wait"`
	Consent    int `json:"consent"`
	Expect     int `json:"expect"`
}

// RateLimitConfig throttles navigations. RequestsPerSecond <= 0 disables it.
type RateLimitConfig struct {
	RequestsPerSecond float64 `json:"requests_per_second"`
	Burst             int     `json:"burst"`
}

// ReportConfig selects the report format and destination.
type ReportConfig struct {
	Format string `json:"format"`         // "text", "json" or "junit"
	Path   string `json:"path,omitempty"` // empty or "-" means stdout
	Notes  bool   `json:"notes"`          // show notes of passed scenarios in text output
}

// TelegramConfig holds Telegram bot configuration
type TelegramConfig struct {
	BotToken string `json:"bot_token"`
	ChatID   int64  `json:"chat_id"`
	Notify   string `json:"notify"` // "never", "failure" or "always"
}

// DefaultConfig returns sensible defaults
func DefaultConfig() *Config {
	bo := browser.DefaultOptions()
	t := funnel.DefaultTimeouts()
	return &Config{
		TargetsDoc:  "Entry pages; empty page URLs are derived from base_url",
		TimeoutsDoc: "Wait bounds in seconds (0 = default)",
		RateDoc:     "Navigation throttle shared by parallel scenarios (0 = off)",
		TelegramDoc: "Run summaries to a chat: notify is never, failure or always",

		Targets: TargetsConfig{
			BaseURL: "https://nordvpn.com",
		},
		Browser: BrowserConfig{
			Driver:         browser.DriverPlaywright,
			Headless:       true,
			Stealth:        true,
			ViewportWidth:  bo.ViewportWidth,
			ViewportHeight: bo.ViewportHeight,
		},
		Timeouts: TimeoutsConfig{
			Navigation: int(t.Navigation / time.Second),
			Ready:      int(t.Ready / time.Second),
			ClickWait:  int(t.ClickWait / time.Second),
			Consent:    int(t.Consent / time.Second),
			Expect:     int(scenario.DefaultExpectTimeout / time.Second),
		},
		ConsentSelector: funnel.DefaultConsentSelector,
		Parallel:        2,
		RateLimit: RateLimitConfig{
			RequestsPerSecond: 2,
			Burst:             2,
		},
		ArtifactsDir: "artifacts",
		Report: ReportConfig{
			Format: string(report.FormatText),
		},
		Telegram: TelegramConfig{
			Notify: telegram.NotifyFailure,
		},
		LogLevel: "info",
	}
}

// GetConfigPaths returns a prioritized list of configuration file paths
func GetConfigPaths(cliPath string) []string {
	// An explicit path is the only candidate
	if cliPath != "" {
		return []string{cliPath}
	}

	paths := []string{DefaultPath, "configs/config.json", "config.json"}
	if homeDir, err := os.UserHomeDir(); err == nil {
		paths = append(paths, filepath.Join(homeDir, ".funnelcheck", "config.json"))
	}
	return paths
}

// Load loads configuration from the first available path in the prioritized
// list and returns it with the path it came from. With no file found the
// defaults are used and the path is empty. An explicit cliPath must exist.
func Load(cliPath string) (*Config, string, error) {
	loadDotEnv(".env")

	for _, path := range GetConfigPaths(cliPath) {
		data, err := os.ReadFile(path)
		if err != nil {
			if cliPath != "" {
				return nil, path, fmt.Errorf("read config: %w", err)
			}
			continue
		}
		cfg := DefaultConfig()
		if err := json.Unmarshal(data, cfg); err != nil {
			return nil, path, fmt.Errorf("invalid JSON in config file %s: %w", path, err)
		}
		applyEnvOverrides(cfg)
		if err := cfg.Validate(); err != nil {
			return nil, path, fmt.Errorf("configuration validation failed in %s: %w", path, err)
		}
		return cfg, path, nil
	}

	cfg := DefaultConfig()
	applyEnvOverrides(cfg)
	if err := cfg.Validate(); err != nil {
		return nil, "", fmt.Errorf("configuration validation failed: %w", err)
	}
	return cfg, "", nil
}

// allowedEnvVars is a whitelist of environment variable names that may be set from .env
var allowedEnvVars = map[string]bool{
	"FUNNEL_DRIVER":          true,
	"FUNNEL_HEADLESS":        true,
	"FUNNEL_PARALLEL":        true,
	"FUNNEL_BASE_URL":        true,
	"FUNNEL_ARTIFACTS_DIR":   true,
	"TELEGRAM_BOT_TOKEN":     true,
	"TELEGRAM_CHAT_ID":       true,
	"LOG_LEVEL":              true,
	"CHROME_PATH":            true,
	"PLAYWRIGHT_DRIVER_PATH": true,
}

// loadDotEnv copies whitelisted keys from a .env file into the environment.
// Variables already set win.
func loadDotEnv(path string) {
	values, err := godotenv.Read(path)
	if err != nil {
		return // missing .env is fine
	}
	for key, value := range values {
		if !allowedEnvVars[key] || os.Getenv(key) != "" {
			continue
		}
		if err := os.Setenv(key, value); err != nil {
			fmt.Fprintf(os.Stderr, "Warning: failed to set environment variable %s: %v\n", key, err)
		}
	}
}

func applyEnvOverrides(cfg *Config) {
	if driver := os.Getenv("FUNNEL_DRIVER"); driver != "" {
		cfg.Browser.Driver = driver
	}
	if headless := os.Getenv("FUNNEL_HEADLESS"); headless != "" {
		if b, err := strconv.ParseBool(headless); err == nil {
			cfg.Browser.Headless = b
		}
	}
	if parallel := os.Getenv("FUNNEL_PARALLEL"); parallel != "" {
		if n, err := strconv.Atoi(parallel); err == nil {
			cfg.Parallel = n
		}
	}
	if base := os.Getenv("FUNNEL_BASE_URL"); base != "" {
		cfg.Targets.BaseURL = base
	}
	if dir := os.Getenv("FUNNEL_ARTIFACTS_DIR"); dir != "" {
		cfg.ArtifactsDir = dir
	}
	if level := os.Getenv("LOG_LEVEL"); level != "" {
		cfg.LogLevel = level
	}
	if chrome := os.Getenv("CHROME_PATH"); chrome != "" {
		cfg.Browser.ChromePath = chrome
	}
	if driverPath := os.Getenv("PLAYWRIGHT_DRIVER_PATH"); driverPath != "" {
		cfg.Browser.BrowsersPath = driverPath
	}

	// Telegram environment variables
	if botToken := os.Getenv("TELEGRAM_BOT_TOKEN"); botToken != "" {
		cfg.Telegram.BotToken = botToken
	}
	if chatIDStr := os.Getenv("TELEGRAM_CHAT_ID"); chatIDStr != "" {
		if chatID, err := strconv.ParseInt(chatIDStr, 10, 64); err == nil {
			cfg.Telegram.ChatID = chatID
		}
	}
}

// URLs returns the entry points of the built-in scenarios.
func (c *Config) URLs() scenario.URLs {
	urls := scenario.DefaultURLs(c.Targets.BaseURL)
	if c.Targets.Offer != "" {
		urls.Offer = c.Targets.Offer
	}
	if c.Targets.OfferPricing != "" {
		urls.OfferPricing = c.Targets.OfferPricing
	}
	if c.Targets.Pricing != "" {
		urls.Pricing = c.Targets.Pricing
	}
	if c.Targets.Products != "" {
		urls.Products = c.Targets.Products
	}
	return urls
}

// TargetList returns the distinct entry URLs, for preflight checks.
func (c *Config) TargetList() []string {
	u := c.URLs()
	var out []string
	seen := map[string]bool{}
	for _, s := range []string{u.Offer, u.OfferPricing, u.Pricing, u.Products} {
		if s != "" && !seen[s] {
			seen[s] = true
			out = append(out, s)
		}
	}
	return out
}

// BrowserOptions converts the browser section into manager options.
func (c *Config) BrowserOptions() *browser.Options {
	opts := browser.DefaultOptions()
	opts.Driver = c.Browser.Driver
	opts.Headless = c.Browser.Headless
	opts.Stealth = c.Browser.Stealth
	opts.SlowMo = time.Duration(c.Browser.SlowMo) * time.Millisecond
	if c.Browser.ViewportWidth > 0 {
		opts.ViewportWidth = c.Browser.ViewportWidth
	}
	if c.Browser.ViewportHeight > 0 {
		opts.ViewportHeight = c.Browser.ViewportHeight
	}
	if c.Browser.UserAgent != "" {
		opts.UserAgent = c.Browser.UserAgent
	}
	opts.BrowsersPath = c.Browser.BrowsersPath
	opts.ChromePath = c.Browser.ChromePath
	return opts
}

// Helpers builds the funnel helpers for a run. limiter may be nil.
func (c *Config) Helpers(limiter *utils.RateLimiter) *funnel.Helpers {
	h := funnel.New()
	h.Timeouts = funnel.Timeouts{
		Navigation: seconds(c.Timeouts.Navigation, h.Timeouts.Navigation),
		Ready:      seconds(c.Timeouts.Ready, h.Timeouts.Ready),
		ClickWait:  seconds(c.Timeouts.ClickWait, h.Timeouts.ClickWait),
		Consent:    seconds(c.Timeouts.Consent, h.Timeouts.Consent),
	}
	if c.ConsentSelector != "" {
		h.ConsentSelector = c.ConsentSelector
	}
	h.Limiter = limiter
	return h
}

// ExpectTimeout returns the bound of scenario assertions.
func (c *Config) ExpectTimeout() time.Duration {
	return seconds(c.Timeouts.Expect, scenario.DefaultExpectTimeout)
}

// NewRateLimiter returns the navigation limiter, or nil when disabled.
func (c *Config) NewRateLimiter() *utils.RateLimiter {
	if c.RateLimit.RequestsPerSecond <= 0 {
		return nil
	}
	return utils.NewRateLimiter(c.RateLimit.RequestsPerSecond, c.RateLimit.Burst)
}

func seconds(n int, fallback time.Duration) time.Duration {
	if n > 0 {
		return time.Duration(n) * time.Second
	}
	return fallback
}

// Save saves configuration to a file
func (c *Config) Save(path string) error {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return err
	}

	data, err := json.MarshalIndent(c, "", "  ")
	if err != nil {
		return err
	}
	return os.WriteFile(path, data, 0600) // 0600: owner read/write only (protects bot_token)
}

// WriteDefault saves the default configuration to path (DefaultPath when
// empty) as a starting point to edit. An existing file is left alone.
func WriteDefault(path string) (string, error) {
	if path == "" {
		path = DefaultPath
	}
	if _, err := os.Stat(path); err == nil {
		return path, fmt.Errorf("%s already exists", path)
	}
	if err := DefaultConfig().Save(path); err != nil {
		return path, fmt.Errorf("write config: %w", err)
	}
	return path, nil
}

// Validate checks every section and returns all problems joined into one error.
func (c *Config) Validate() error {
	var errs []error

	if err := validateURL(c.Targets.BaseURL); err != nil {
		errs = append(errs, fmt.Errorf("targets.base_url: %w", err))
	}
	for name, u := range map[string]string{
		"offer":         c.Targets.Offer,
		"offer_pricing": c.Targets.OfferPricing,
		"pricing":       c.Targets.Pricing,
		"products":      c.Targets.Products,
	} {
		if u == "" {
			continue
		}
		if err := validateURL(u); err != nil {
			errs = append(errs, fmt.Errorf("targets.%s: %w", name, err))
		}
	}

	switch c.Browser.Driver {
	case browser.DriverPlaywright, browser.DriverChromedp:
	default:
		errs = append(errs, fmt.Errorf("browser.driver must be %q or %q, got %q",
			browser.DriverPlaywright, browser.DriverChromedp, c.Browser.Driver))
	}
	if c.Browser.SlowMo < 0 || c.Browser.ViewportWidth < 0 || c.Browser.ViewportHeight < 0 {
		errs = append(errs, fmt.Errorf("browser: slow_mo_ms and viewport sizes must not be negative"))
	}

	for name, v := range map[string]int{
		"navigation": c.Timeouts.Navigation,
		"ready":      c.Timeouts.Ready,
		"click_wait": c.Timeouts.ClickWait,
		"consent":    c.Timeouts.Consent,
		"expect":     c.Timeouts.Expect,
	} {
		if v < 0 {
			errs = append(errs, fmt.Errorf("timeouts.%s must not be negative, got %d", name, v))
		}
	}

	if c.Parallel < 1 || c.Parallel > MaxParallel {
		errs = append(errs, fmt.Errorf("parallel must be between 1 and %d, got %d", MaxParallel, c.Parallel))
	}
	if c.RateLimit.RequestsPerSecond < 0 || c.RateLimit.Burst < 0 {
		errs = append(errs, fmt.Errorf("rate_limit values must not be negative"))
	}

	if _, err := report.ParseFormat(c.Report.Format); err != nil {
		errs = append(errs, fmt.Errorf("report.format: %w", err))
	}

	switch c.Telegram.Notify {
	case "", telegram.NotifyNever, telegram.NotifyFailure, telegram.NotifyAlways:
	default:
		errs = append(errs, fmt.Errorf("telegram.notify must be never, failure or always, got %q", c.Telegram.Notify))
	}
	if c.Telegram.BotToken != "" && c.Telegram.ChatID == 0 {
		errs = append(errs, fmt.Errorf("telegram.chat_id is required when bot_token is set"))
	}

	switch strings.ToLower(c.LogLevel) {
	case "", "debug", "info", "warn", "warning", "error":
	default:
		errs = append(errs, fmt.Errorf("log_level must be debug, info, warn or error, got %q", c.LogLevel))
	}

	return errors.Join(errs...)
}

// validateURL validates that a URL is properly formatted
func validateURL(rawURL string) error {
	if rawURL == "" {
		return fmt.Errorf("URL is required")
	}

	parsedURL, err := url.Parse(rawURL)
	if err != nil {
		return fmt.Errorf("invalid URL format: %w", err)
	}

	if parsedURL.Scheme != "http" && parsedURL.Scheme != "https" {
		return fmt.Errorf("URL must use http or https scheme")
	}

	if parsedURL.Host == "" {
		return fmt.Errorf("URL must have a valid host")
	}

	return nil
}
