package browser

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"runtime"
	"time"

	"github.com/playwright-community/playwright-go"

	"FunnelCheck/pkg/logger"
	"FunnelCheck/pkg/utils"
)

// InstallDeps downloads the Playwright driver and Chromium browser into
// browsersPath (empty means the Playwright default cache). Transient download
// failures are retried with backoff.
func InstallDeps(browsersPath string) error {
	logger.Infof("[Browser] Installing Playwright driver and Chromium browser...")
	install := func() error {
		return playwright.Install(&playwright.RunOptions{
			DriverDirectory: browsersPath,
			Browsers:        []string{"chromium"},
			Verbose:         true,
		})
	}
	notify := func(err error, wait time.Duration) {
		logger.Warnf("[Browser] Install attempt failed, retrying in %s: %v", wait.Round(time.Second), err)
	}
	cfg := utils.DefaultRetryConfig()
	cfg.InitialDelay = 2 * time.Second
	if err := utils.ExecuteWithRetryContext(context.Background(), install, cfg, notify); err != nil {
		return fmt.Errorf("failed to install Playwright browsers: %w", err)
	}
	logger.Infof("[Browser] Playwright installation complete.")
	return nil
}

// CheckDeps returns true if the Playwright driver is already installed and runnable.
func CheckDeps(browsersPath string) bool {
	driver, err := playwright.NewDriver(&playwright.RunOptions{
		DriverDirectory:     browsersPath,
		SkipInstallBrowsers: true,
		Verbose:             false,
	})
	if err != nil {
		return false
	}
	// Command("--version") fails if the driver binary is missing
	cmd := driver.Command("--version")
	if err := cmd.Run(); err != nil {
		return false
	}
	return true
}

// ErrChromeNotFound is returned by FindChrome when no browser binary exists.
var ErrChromeNotFound = errors.New("Chrome/Chromium not found: install Google Chrome or set browser.chrome_path")

// FindChrome locates a Chrome or Chromium binary for the chromedp driver.
// CHROME_PATH wins over the search.
func FindChrome() (string, error) {
	if p := os.Getenv("CHROME_PATH"); p != "" {
		if _, err := os.Stat(p); err == nil {
			return p, nil
		}
		return "", fmt.Errorf("CHROME_PATH %q: %w", p, ErrChromeNotFound)
	}

	for _, name := range []string{
		"google-chrome", "google-chrome-stable", "chromium", "chromium-browser", "chrome",
	} {
		if p, err := exec.LookPath(name); err == nil {
			return p, nil
		}
	}

	var candidates []string
	switch runtime.GOOS {
	case "darwin":
		candidates = []string{
			"/Applications/Google Chrome.app/Contents/MacOS/Google Chrome",
			"/Applications/Chromium.app/Contents/MacOS/Chromium",
		}
	case "windows":
		candidates = []string{
			os.Getenv("ProgramFiles") + `\Google\Chrome\Application\chrome.exe`,
			os.Getenv("ProgramFiles(x86)") + `\Google\Chrome\Application\chrome.exe`,
			os.Getenv("LocalAppData") + `\Google\Chrome\Application\chrome.exe`,
		}
	}
	for _, p := range candidates {
		if _, err := os.Stat(p); err == nil {
			return p, nil
		}
	}
	return "", ErrChromeNotFound
}
