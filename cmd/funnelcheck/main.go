package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"
	"time"

	"FunnelCheck/pkg/browser"
	"FunnelCheck/pkg/config"
	"FunnelCheck/pkg/health"
	"FunnelCheck/pkg/logger"
	"FunnelCheck/pkg/report"
	"FunnelCheck/pkg/scenario"
	"FunnelCheck/pkg/suite"
	"FunnelCheck/pkg/telegram"
	"FunnelCheck/pkg/utils"

	"github.com/charmbracelet/lipgloss"
)

const version = "0.1.0"

// Exit codes.
const (
	exitPassed = 0
	exitFailed = 1
	exitSetup  = 2
)

var (
	successStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("#10B981")).
			Bold(true)
	errorStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("#EF4444")).
			Bold(true)
)

type options struct {
	configPath string
	scenarios  string
	run        string
	list       bool
	preflight  bool
	install    bool
	driver     string
	headed     bool
	parallel   int
	format     string
	reportPath string
	open       bool
	initConfig bool
	verbose    bool
}

func main() {
	var opts options
	flag.StringVar(&opts.configPath, "config", "", "Path to configuration file")
	flag.StringVar(&opts.scenarios, "scenarios", "", "JSON scenario file merged over the built-in catalog")
	flag.StringVar(&opts.run, "run", "", "Comma-separated scenario names to run (default: all)")
	flag.BoolVar(&opts.list, "list", false, "List scenarios and exit")
	flag.BoolVar(&opts.preflight, "preflight", false, "Check driver, artifacts and targets, then exit")
	flag.BoolVar(&opts.install, "install", false, "Install the Playwright driver and Chromium, then exit")
	flag.StringVar(&opts.driver, "driver", "", "Browser driver: playwright or chromedp")
	flag.BoolVar(&opts.headed, "headed", false, "Show the browser window")
	flag.IntVar(&opts.parallel, "parallel", 0, "Scenarios run at once")
	flag.StringVar(&opts.format, "format", "", "Report format: text, json or junit")
	flag.StringVar(&opts.reportPath, "report", "", "Write the report to this file instead of stdout")
	flag.BoolVar(&opts.open, "open", false, "Open the report or artifacts when done")
	flag.BoolVar(&opts.initConfig, "init-config", false, "Write a default config file (to -config or "+config.DefaultPath+"), then exit")
	flag.BoolVar(&opts.verbose, "verbose", false, "Echo the run log to the console")
	showVersion := flag.Bool("version", false, "Show version")
	showHelp := flag.Bool("help", false, "Show help")
	flag.Usage = printHelp
	flag.Parse()

	if *showHelp {
		printHelp()
		return
	}
	if *showVersion {
		fmt.Printf("FunnelCheck v%s\n", version)
		return
	}

	os.Exit(run(opts))
}

func run(opts options) int {
	if opts.initConfig {
		path, err := config.WriteDefault(opts.configPath)
		if err != nil {
			return fail("%v", err)
		}
		fmt.Println(successStyle.Render("✅ Wrote " + path))
		return exitPassed
	}

	cfg, path, err := config.Load(opts.configPath)
	if err != nil {
		return fail("Failed to load config: %v", err)
	}
	applyFlags(cfg, opts)
	if err := cfg.Validate(); err != nil {
		return fail("Invalid settings: %v", err)
	}

	if err := logger.Init(cfg.LogLevel, cfg.LogFile); err != nil {
		return fail("Failed to initialize logger: %v", err)
	}
	defer logger.Sync()
	if path != "" {
		logger.Debugf("config loaded from %s", path)
	}

	if opts.install {
		if err := browser.InstallDeps(cfg.Browser.BrowsersPath); err != nil {
			return fail("%v", err)
		}
		fmt.Println(successStyle.Render("✅ Playwright driver and Chromium installed"))
		return exitPassed
	}

	defs, err := loadScenarios(cfg, opts)
	if err != nil {
		return fail("%v", err)
	}

	if opts.list {
		printList(defs)
		return exitPassed
	}

	// First SIGINT/SIGTERM cancels the run, second force-exits
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	defer signal.Stop(sigCh)
	done := make(chan struct{})
	defer close(done)
	go watchSignals(done, cancel, sigCh, func() { os.Exit(exitFailed) })

	if opts.preflight {
		return preflight(ctx, cfg, defs)
	}

	return runSuite(ctx, cfg, defs, opts)
}

// watchSignals cancels the run on the first signal and calls force on the
// second. It returns as soon as done is closed.
func watchSignals(done <-chan struct{}, cancel context.CancelFunc, sigCh <-chan os.Signal, force func()) {
	select {
	case <-sigCh:
	case <-done:
		return
	}
	fmt.Fprintln(os.Stderr, "\nInterrupted, finishing running scenarios (Ctrl+C again to force exit)")
	cancel()
	select {
	case <-sigCh:
		force()
	case <-done:
	}
}

// applyFlags lets command-line flags win over the file and environment.
func applyFlags(cfg *config.Config, opts options) {
	if opts.driver != "" {
		cfg.Browser.Driver = opts.driver
	}
	if opts.headed {
		cfg.Browser.Headless = false
	}
	if opts.parallel > 0 {
		cfg.Parallel = opts.parallel
	}
	if opts.format != "" {
		cfg.Report.Format = opts.format
	}
	if opts.reportPath != "" {
		cfg.Report.Path = opts.reportPath
	}
	if opts.scenarios != "" {
		cfg.ScenariosFile = opts.scenarios
	}
}

func loadScenarios(cfg *config.Config, opts options) ([]*scenario.Definition, error) {
	defs := scenario.DefaultCatalog(cfg.URLs())
	if cfg.ScenariosFile != "" {
		f, err := scenario.LoadCatalog(cfg.ScenariosFile)
		if err != nil {
			return nil, err
		}
		defs = scenario.Merge(defs, f)
	}
	if err := scenario.ValidateAll(defs); err != nil {
		return nil, err
	}
	var names []string
	if opts.run != "" {
		names = strings.Split(opts.run, ",")
	}
	defs, err := scenario.Filter(defs, names)
	if err != nil {
		return nil, err
	}
	if len(defs) == 0 {
		return nil, fmt.Errorf("no scenarios selected")
	}
	return defs, nil
}

func preflight(ctx context.Context, cfg *config.Config, defs []*scenario.Definition) int {
	var labels []string
	seen := make(map[string]bool)
	for _, d := range defs {
		for _, l := range d.CTALabels {
			if !seen[l] {
				seen[l] = true
				labels = append(labels, l)
			}
		}
	}
	checker := health.NewChecker(health.Options{
		Driver:        cfg.Browser.Driver,
		BrowsersPath:  cfg.Browser.BrowsersPath,
		ChromePath:    cfg.Browser.ChromePath,
		ArtifactsDir:  cfg.ArtifactsDir,
		Targets:       cfg.TargetList(),
		CTALabels:     labels,
		TelegramToken: cfg.Telegram.BotToken,
	})
	status := checker.Check(ctx)
	fmt.Println(health.FormatReport(status))
	if !status.Ready() {
		return exitSetup
	}
	return exitPassed
}

func runSuite(ctx context.Context, cfg *config.Config, defs []*scenario.Definition, opts options) int {
	format, err := report.ParseFormat(cfg.Report.Format)
	if err != nil {
		return fail("%v", err)
	}

	runDir := filepath.Join(cfg.ArtifactsDir, time.Now().Format("20060102-150405"))
	runLog, err := logger.New(runDir)
	if err != nil {
		return fail("Failed to create run log: %v", err)
	}
	defer runLog.Close()
	runLog.Mirror(opts.verbose)

	limiter := cfg.NewRateLimiter()
	defer limiter.Stop()
	helpers := cfg.Helpers(limiter)
	helpers.Log = runLog

	manager, err := browser.NewManager(cfg.BrowserOptions())
	if err != nil {
		return fail("%v", err)
	}
	defer closeManager(manager)

	bot, err := telegram.NewBot(cfg.Telegram.BotToken, cfg.Telegram.ChatID, runLog)
	if err != nil {
		logger.Warnf("Telegram disabled: %v", err)
	} else if bot != nil {
		logger.Debugf("run summaries go to @%s", bot.GetBotUsername())
	}

	runner := suite.NewRunner(manager, helpers, suite.Options{
		Parallel:      cfg.Parallel,
		ArtifactsDir:  runDir,
		ExpectTimeout: cfg.ExpectTimeout(),
		Progress:      os.Stderr,
	})
	runner.SetLog(runLog)

	rep, err := runner.Run(ctx, defs)
	if err != nil {
		if cfg.Browser.Driver == browser.DriverPlaywright {
			fmt.Fprintln(os.Stderr, "Hint: run `funnelcheck -install` or try -driver chromedp")
		}
		return fail("Failed to start %s: %v", cfg.Browser.Driver, err)
	}

	if format == report.FormatText && (cfg.Report.Path == "" || cfg.Report.Path == "-") {
		fmt.Print(report.Text(rep, report.TextOptions{Notes: cfg.Report.Notes}))
	} else if err := report.Write(rep, format, cfg.Report.Path); err != nil {
		return fail("%v", err)
	}

	notifyCtx, cancelNotify := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancelNotify()
	if sent, err := bot.NotifyRun(notifyCtx, rep, cfg.Telegram.Notify); err != nil {
		logger.Warnf("Telegram notification failed: %v", err)
	} else if sent {
		logger.Infof("Run summary sent to Telegram")
	}

	if opts.open {
		target := runDir
		if cfg.Report.Path != "" && cfg.Report.Path != "-" {
			target = cfg.Report.Path
		}
		if err := utils.OpenBrowser(target); err != nil {
			logger.Warnf("Could not open %s: %v", target, err)
		}
	}

	if !rep.Passed() {
		return exitFailed
	}
	return exitPassed
}

// closeManager bounds browser shutdown so a hung driver cannot block exit.
func closeManager(m *browser.Manager) {
	done := make(chan struct{})
	go func() {
		if err := m.Close(); err != nil {
			logger.Warnf("browser shutdown: %v", err)
		}
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(5 * time.Second):
		logger.Warnf("Browser shutdown timed out")
	}
}

func printList(defs []*scenario.Definition) {
	fmt.Println(report.TitleStyle.Render(fmt.Sprintf("%d scenario(s)", len(defs))))
	for _, d := range defs {
		fmt.Printf("  %-40s %-12s %s\n", d.Name, report.MutedStyle.Render(string(d.Kind)), d.EntryURL)
	}
}

func fail(format string, args ...any) int {
	fmt.Fprintln(os.Stderr, errorStyle.Render("❌ "+fmt.Sprintf(format, args...)))
	return exitSetup
}

func printHelp() {
	fmt.Printf("FunnelCheck v%s - end-to-end checks of the purchase funnel\n\n", version)
	fmt.Println("Usage: funnelcheck [options]")
	fmt.Println()
	fmt.Println("Options:")
	flag.PrintDefaults()
	fmt.Println()
	fmt.Println("Environment Variables:")
	fmt.Println("  FUNNEL_DRIVER         playwright or chromedp")
	fmt.Println("  FUNNEL_HEADLESS       true or false")
	fmt.Println("  FUNNEL_PARALLEL       scenarios run at once")
	fmt.Println("  FUNNEL_BASE_URL       site under test (default: https://nordvpn.com)")
	fmt.Println("  TELEGRAM_BOT_TOKEN    bot used for run summaries (optional)")
	fmt.Println("  TELEGRAM_CHAT_ID      chat receiving run summaries (optional)")
	fmt.Println("  CHROME_PATH           Chrome binary for the chromedp driver")
	fmt.Println("  LOG_LEVEL             debug, info, warn or error")
	fmt.Println()
	fmt.Println("Exit status: 0 all passed, 1 a scenario failed, 2 setup or config error.")
	fmt.Println()
	fmt.Println("Examples:")
	fmt.Println("  funnelcheck -init-config")
	fmt.Println("  funnelcheck -install")
	fmt.Println("  funnelcheck -preflight")
	fmt.Println("  funnelcheck -run login-button-leads-to-login -headed")
	fmt.Println("  funnelcheck -format junit -report artifacts/junit.xml")
}
