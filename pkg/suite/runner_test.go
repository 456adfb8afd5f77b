package suite

import (
	"bytes"
	"context"
	"errors"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"

	"FunnelCheck/pkg/browser"
	"FunnelCheck/pkg/browser/browsertest"
	"FunnelCheck/pkg/expect"
	"FunnelCheck/pkg/logger"
	"FunnelCheck/pkg/report"
	"FunnelCheck/pkg/scenario"
)

const (
	base     = "https://nordvpn.example"
	loginURL = base + "/login/"
)

type elements = map[string][]*browsertest.Element

func init() {
	expect.PollInterval = 5 * time.Millisecond
}

func entryURL(name string) string {
	return base + "/" + name
}

// redirect builds a redirect scenario whose entry page has one button. The
// button leads to login when ok, elsewhere otherwise.
func redirect(site *browsertest.Site, name string, ok bool, onClick func(*browsertest.Page) error) *scenario.Definition {
	href := loginURL
	if !ok {
		href = base + "/nowhere/"
	}
	site.Add(entryURL(name), &browsertest.Document{Elements: elements{
		"body":   {{Text: "page"}},
		"#login": {{Text: "Log in", Href: href, OnClick: onClick}},
	}})
	return &scenario.Definition{
		Name:            name,
		Kind:            scenario.KindRedirect,
		EntryURL:        entryURL(name),
		Destination:     `.*/login/`,
		ControlSelector: "#login",
	}
}

func newRunner(t *testing.T, d *browsertest.Driver, opts Options) (*Runner, *browser.Manager) {
	t.Helper()
	m := browser.NewManagerWithDriver(d, nil)
	t.Cleanup(func() { _ = m.Close() })
	if opts.ExpectTimeout == 0 {
		opts.ExpectTimeout = 30 * time.Millisecond
	}
	return NewRunner(m, nil, opts), m
}

func TestRun_AllPass(t *testing.T) {
	site := browsertest.NewSite()
	defs := []*scenario.Definition{
		redirect(site, "a", true, nil),
		redirect(site, "b", true, nil),
		redirect(site, "c", true, nil),
	}
	d := browsertest.NewDriver(site)
	r, _ := newRunner(t, d, Options{Parallel: 2})

	rep, err := r.Run(context.Background(), defs)
	require.NoError(t, err)
	assert.True(t, rep.Passed())
	assert.Equal(t, []string{"a", "b", "c"}, names(rep))
	assert.Equal(t, r.RunID(), rep.RunID)
	assert.Equal(t, "fake", rep.Driver)
	assert.False(t, rep.Finished.IsZero())
	assert.Len(t, d.Pages(), 3, "one page per scenario")
	assert.Zero(t, d.OpenPages(), "every session is closed")
}

func TestRun_FailureTakesScreenshot(t *testing.T) {
	site := browsertest.NewSite()
	defs := []*scenario.Definition{
		redirect(site, "good", true, nil),
		redirect(site, "bad one", false, nil),
	}
	dir := t.TempDir()
	d := browsertest.NewDriver(site)
	r, _ := newRunner(t, d, Options{ArtifactsDir: dir})

	rep, err := r.Run(context.Background(), defs)
	require.NoError(t, err)
	assert.False(t, rep.Passed())
	require.Len(t, rep.Results, 2)

	assert.Equal(t, report.StatusPassed, rep.Results[0].Status)
	assert.Empty(t, rep.Results[0].Screenshot)

	bad := rep.Results[1]
	assert.Equal(t, report.StatusFailed, bad.Status)
	assert.Contains(t, bad.Error, "expect url")
	assert.Equal(t, filepath.Join(dir, "02-bad_one.png"), bad.Screenshot)
	_, statErr := os.Stat(bad.Screenshot)
	assert.NoError(t, statErr)
	assert.Zero(t, d.OpenPages())
}

func TestRun_PanicIsAFailure(t *testing.T) {
	site := browsertest.NewSite()
	defs := []*scenario.Definition{
		redirect(site, "panics", true, func(*browsertest.Page) error { panic("boom") }),
		redirect(site, "after", true, nil),
	}
	d := browsertest.NewDriver(site)
	r, _ := newRunner(t, d, Options{})

	rep, err := r.Run(context.Background(), defs)
	require.NoError(t, err)
	require.Len(t, rep.Results, 2)
	assert.Equal(t, report.StatusFailed, rep.Results[0].Status)
	assert.Contains(t, rep.Results[0].Error, "scenario panicked: boom")
	assert.Equal(t, report.StatusPassed, rep.Results[1].Status)
	assert.Zero(t, d.OpenPages())
}

func TestRun_CancelledBeforeStartSkipsEverything(t *testing.T) {
	site := browsertest.NewSite()
	defs := []*scenario.Definition{redirect(site, "a", true, nil), redirect(site, "b", true, nil)}
	d := browsertest.NewDriver(site)
	r, _ := newRunner(t, d, Options{})

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	rep, err := r.Run(ctx, defs)
	require.NoError(t, err)
	assert.Equal(t, report.Summary{Total: 2, Skipped: 2}, rep.Summary())
	assert.False(t, rep.Passed())
	assert.Empty(t, d.Pages())
}

func TestRun_CancelStopsScheduling(t *testing.T) {
	site := browsertest.NewSite()
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	defs := []*scenario.Definition{
		redirect(site, "first", true, func(*browsertest.Page) error { cancel(); return nil }),
		redirect(site, "second", true, nil),
	}
	d := browsertest.NewDriver(site)
	r, _ := newRunner(t, d, Options{Parallel: 1})

	rep, err := r.Run(ctx, defs)
	require.NoError(t, err)
	require.Len(t, rep.Results, 2)
	assert.Equal(t, report.StatusPassed, rep.Results[0].Status, "a running scenario finishes its current step")
	assert.Equal(t, report.StatusSkipped, rep.Results[1].Status)
	assert.Len(t, d.Pages(), 1)
}

func TestRun_RespectsParallelLimit(t *testing.T) {
	site := browsertest.NewSite()
	d := browsertest.NewDriver(site)
	r, m := newRunner(t, d, Options{Parallel: 2})

	var mu sync.Mutex
	peak := 0
	track := func(*browsertest.Page) error {
		mu.Lock()
		defer mu.Unlock()
		if n := len(m.ActiveSessions()); n > peak {
			peak = n
		}
		time.Sleep(10 * time.Millisecond)
		return nil
	}
	var defs []*scenario.Definition
	for _, name := range []string{"a", "b", "c", "d", "e"} {
		defs = append(defs, redirect(site, name, true, track))
	}

	rep, err := r.Run(context.Background(), defs)
	require.NoError(t, err)
	assert.True(t, rep.Passed())
	assert.GreaterOrEqual(t, peak, 1)
	assert.LessOrEqual(t, peak, 2)
}

func TestRun_DriverStartFailure(t *testing.T) {
	site := browsertest.NewSite()
	d := browsertest.NewDriver(site)
	d.StartErr = errors.New("no browser")
	r, _ := newRunner(t, d, Options{})

	rep, err := r.Run(context.Background(), []*scenario.Definition{redirect(site, "a", true, nil)})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "no browser")
	assert.NotNil(t, rep)
	assert.Empty(t, rep.Results)
}

func TestRun_PageFailureIsAFailedScenario(t *testing.T) {
	site := browsertest.NewSite()
	d := browsertest.NewDriver(site)
	d.NewPageErr = errors.New("context refused")
	r, _ := newRunner(t, d, Options{})

	rep, err := r.Run(context.Background(), []*scenario.Definition{redirect(site, "a", true, nil)})
	require.NoError(t, err)
	require.Len(t, rep.Results, 1)
	assert.Equal(t, report.StatusFailed, rep.Results[0].Status)
	assert.Contains(t, rep.Results[0].Error, "context refused")
}

func TestRun_ProgressAndLogs(t *testing.T) {
	core, logs := observer.New(zapcore.DebugLevel)
	logger.SetLogger(zap.New(core))

	site := browsertest.NewSite()
	var progress bytes.Buffer
	d := browsertest.NewDriver(site)
	r, _ := newRunner(t, d, Options{Progress: &progress})

	_, err := r.Run(context.Background(), []*scenario.Definition{
		redirect(site, "ok", true, nil),
		redirect(site, "broken", false, nil),
	})
	require.NoError(t, err)
	assert.Contains(t, progress.String(), "2/2")
	assert.Equal(t, 1, logs.FilterMessageSnippet("scenario broken: failed").Len())
	assert.Equal(t, 1, logs.FilterMessageSnippet("scenario ok: passed").Len())
}

func TestRun_WritesRunLog(t *testing.T) {
	dir := t.TempDir()
	runLog, err := logger.New(dir)
	require.NoError(t, err)
	defer runLog.Close()

	site := browsertest.NewSite()
	r, _ := newRunner(t, browsertest.NewDriver(site), Options{})
	r.SetLog(runLog)

	rep, err := r.Run(context.Background(), []*scenario.Definition{redirect(site, "logged", true, nil)})
	require.NoError(t, err)
	assert.Equal(t, runLog.Path(), rep.LogPath)
	require.NoError(t, runLog.Sync())
	assert.Contains(t, runLog.GetLastLines(20), "scenario logged: passed")
	assert.Empty(t, rep.LogTail, "passing runs carry no log tail")
}

func TestRun_FailedRunCarriesLogTail(t *testing.T) {
	runLog, err := logger.New(t.TempDir())
	require.NoError(t, err)
	defer runLog.Close()

	site := browsertest.NewSite()
	r, _ := newRunner(t, browsertest.NewDriver(site), Options{})
	r.SetLog(runLog)

	rep, err := r.Run(context.Background(), []*scenario.Definition{redirect(site, "broken", false, nil)})
	require.NoError(t, err)
	require.False(t, rep.Passed())
	assert.Contains(t, rep.LogTail, "scenario broken: failed")
	assert.Contains(t, rep.LogTail, "finished")
}

func names(rep *report.Report) []string {
	var out []string
	for _, res := range rep.Results {
		out = append(out, res.Name)
	}
	return out
}
