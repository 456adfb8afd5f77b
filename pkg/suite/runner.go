// Package suite runs a scenario table: one browser session per scenario,
// a bounded number of scenarios at a time, every result collected into a
// report.
package suite

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"regexp"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/schollz/progressbar/v3"
	"golang.org/x/sync/errgroup"

	"FunnelCheck/pkg/browser"
	"FunnelCheck/pkg/funnel"
	"FunnelCheck/pkg/logger"
	"FunnelCheck/pkg/report"
	"FunnelCheck/pkg/scenario"
)

// logTailLines is how much of the debug log a failed run's report carries.
const logTailLines = 40

// Options configures a Runner.
type Options struct {
	// Parallel bounds concurrently running scenarios. Values below 1 mean 1.
	Parallel int
	// ArtifactsDir receives failure screenshots. Empty disables them.
	ArtifactsDir string
	// ExpectTimeout bounds each assertion. Zero uses the scenario default.
	ExpectTimeout time.Duration
	// Progress receives a progress bar. Nil disables it.
	Progress io.Writer
}

// Runner executes scenarios against a browser manager.
type Runner struct {
	manager *browser.Manager
	helpers *funnel.Helpers
	opts    Options
	log     *logger.Logger
	runID   string
}

// NewRunner creates a runner. helpers may be nil for defaults; they are
// shared by every scenario, including their rate limiter.
func NewRunner(m *browser.Manager, helpers *funnel.Helpers, opts Options) *Runner {
	if helpers == nil {
		helpers = funnel.New()
	}
	if opts.Parallel < 1 {
		opts.Parallel = 1
	}
	return &Runner{
		manager: m,
		helpers: helpers,
		opts:    opts,
		runID:   uuid.NewString(),
	}
}

// SetLog attaches the run's debug log.
func (r *Runner) SetLog(l *logger.Logger) {
	r.log = l
}

// RunID identifies the run in reports and artifact names.
func (r *Runner) RunID() string {
	return r.runID
}

// Run executes defs and reports every one of them. The error is non-nil only
// when the browser could not be started; scenario failures are in the
// report. When ctx is cancelled no new scenario starts and the remaining
// ones are reported as skipped.
func (r *Runner) Run(ctx context.Context, defs []*scenario.Definition) (*report.Report, error) {
	rep := report.New(r.runID, r.manager.DriverName())
	if r.log != nil {
		rep.LogPath = r.log.Path()
	}
	defer rep.Finish()

	if err := r.manager.EnsureStarted(); err != nil {
		return rep, err
	}
	r.infof("run %s: %d scenario(s), parallel %d, driver %s", r.runID, len(defs), r.opts.Parallel, r.manager.DriverName())

	results := make([]report.ScenarioResult, len(defs))
	for i, d := range defs {
		results[i] = report.ScenarioResult{
			Name:   d.Name,
			Kind:   string(d.Kind),
			Status: report.StatusSkipped,
			Error:  "not started: run interrupted",
		}
	}

	bar := r.newProgressBar(len(defs))
	var barMu sync.Mutex
	done := func(res report.ScenarioResult) {
		if bar == nil {
			return
		}
		barMu.Lock()
		defer barMu.Unlock()
		bar.Describe(fmt.Sprintf("%-7s %s", res.Status, res.Name))
		_ = bar.Add(1)
	}

	var g errgroup.Group
	g.SetLimit(r.opts.Parallel)
	for i, d := range defs {
		if ctx.Err() != nil {
			break
		}
		g.Go(func() error {
			if ctx.Err() != nil {
				return nil
			}
			results[i] = r.runOne(ctx, i, d)
			done(results[i])
			return nil
		})
	}
	_ = g.Wait()
	if bar != nil {
		_ = bar.Finish()
	}

	for _, res := range results {
		rep.Add(res)
	}
	r.infof("run %s finished: %s", r.runID, rep.Summary())
	if r.log != nil && !rep.Passed() {
		_ = r.log.Sync()
		rep.LogTail = r.log.GetLastLines(logTailLines)
	}
	return rep, nil
}

func (r *Runner) runOne(ctx context.Context, index int, def *scenario.Definition) report.ScenarioResult {
	res := report.ScenarioResult{Name: def.Name, Kind: string(def.Kind)}
	started := time.Now()
	r.debugf("scenario %s: start", def.Name)

	err := r.manager.WithSession(def.Name, func(s *browser.Session) error {
		out, runErr := safeRun(ctx, def, scenario.Env{
			Page:          s.Page,
			Helpers:       r.helpers,
			ExpectTimeout: r.opts.ExpectTimeout,
		})
		if out != nil {
			res.Notes = out.Notes
			res.Verified = out.Verified
		}
		if runErr != nil {
			res.Screenshot = r.screenshot(s.Page, index, def.Name)
		}
		return runErr
	})
	res.Duration = time.Since(started)

	switch {
	case err == nil:
		res.Status = report.StatusPassed
		r.infof("scenario %s: passed in %s (%d verified)", def.Name, res.Duration.Round(time.Millisecond), res.Verified)
	case errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded):
		res.Status = report.StatusFailed
		res.Error = "interrupted: " + err.Error()
		r.warnf("scenario %s: interrupted after %s", def.Name, res.Duration.Round(time.Millisecond))
	default:
		res.Status = report.StatusFailed
		res.Error = err.Error()
		r.warnf("scenario %s: failed: %v", def.Name, err)
	}
	for _, n := range res.Notes {
		r.debugf("scenario %s: %s", def.Name, n)
	}
	return res
}

// safeRun turns a panic inside a scenario into its failure.
func safeRun(ctx context.Context, def *scenario.Definition, env scenario.Env) (out *scenario.Outcome, err error) {
	defer func() {
		if p := recover(); p != nil {
			err = fmt.Errorf("scenario panicked: %v", p)
		}
	}()
	return def.Run(ctx, env)
}

var unsafeChars = regexp.MustCompile(`[^A-Za-z0-9._-]+`)

// screenshot saves a full-page screenshot of a failed scenario. Failures
// are logged and yield an empty path.
func (r *Runner) screenshot(page browser.Page, index int, name string) string {
	if r.opts.ArtifactsDir == "" {
		return ""
	}
	if err := os.MkdirAll(r.opts.ArtifactsDir, 0755); err != nil {
		r.warnf("screenshot of %s: %v", name, err)
		return ""
	}
	path := filepath.Join(r.opts.ArtifactsDir, fmt.Sprintf("%02d-%s.png", index+1, unsafeChars.ReplaceAllString(name, "_")))
	if err := page.Screenshot(path); err != nil {
		r.warnf("screenshot of %s: %v", name, err)
		return ""
	}
	return path
}

func (r *Runner) newProgressBar(total int) *progressbar.ProgressBar {
	if r.opts.Progress == nil || total == 0 {
		return nil
	}
	w := r.opts.Progress
	return progressbar.NewOptions(total,
		progressbar.OptionSetDescription("Running scenarios"),
		progressbar.OptionSetWidth(30),
		progressbar.OptionShowCount(),
		progressbar.OptionSetTheme(progressbar.Theme{
			Saucer:        "█",
			SaucerHead:    "█",
			SaucerPadding: "░",
			BarStart:      "│",
			BarEnd:        "│",
		}),
		progressbar.OptionSetWriter(w),
		progressbar.OptionOnCompletion(func() {
			fmt.Fprint(w, "\n")
		}),
		progressbar.OptionSetRenderBlankState(true),
	)
}

func (r *Runner) infof(format string, args ...any) {
	if r.log != nil {
		r.log.Info(format, args...)
		return
	}
	logger.Infof(format, args...)
}

func (r *Runner) warnf(format string, args ...any) {
	if r.log != nil {
		r.log.Warn(format, args...)
		return
	}
	logger.Warnf(format, args...)
}

func (r *Runner) debugf(format string, args ...any) {
	if r.log != nil {
		r.log.Debug(format, args...)
		return
	}
	logger.Debugf(format, args...)
}
