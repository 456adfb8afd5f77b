package suite

import (
	"context"
	"fmt"
	"net/http"
	"net/http/httptest"
	"os"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"FunnelCheck/pkg/browser"
	"FunnelCheck/pkg/funnel"
	"FunnelCheck/pkg/report"
	"FunnelCheck/pkg/scenario"
)

const fixturePage = `<!doctype html>
<html><head><title>%s</title></head>
<body>
<div id="consent"><button data-testid="consent-widget-accept-all" onclick="document.getElementById('consent').remove()">Accept all</button></div>
%s
</body></html>`

func fixtureSite() *httptest.Server {
	pages := map[string]string{
		"/offer": `<header data-section="Hero"><h1>Special offer</h1><a href="/pricing/">Get NordVPN</a></header>
<section><p>No CTA here</p></section>`,
		"/offer/pricing/": `<a data-testid="MultipleHighlightedCards-PlanCard-cta" href="/payment?plan=Ultra">Select Ultra</a>
<a data-testid="MultipleHighlightedCards-PlanCard-cta" href="/payment?plan=Basic">Select Basic</a>
<a data-testid="MultipleHighlightedCards-PlanCard-cta" href="/compare/">Compare</a>`,
		"/pricing/": `<div data-testid="PricingDropdown"><select><option value="1y">1 year</option><option value="1m">1 month</option></select></div>
<a data-testid="MultipleHighlightedCards-PlanCard-cta" data-ga-slug="Get Ultra" href="/payment?plan=Ultra">Select Ultra</a>`,
		"/products/": `<button data-testid="UserProfile-login-button" onclick="location.href='/login/'">Log in</button>`,
		"/login/":    `<h1>Log in</h1>`,
		"/compare/":  `<h1>Compare</h1>`,
	}
	mux := http.NewServeMux()
	mux.HandleFunc("/", func(w http.ResponseWriter, r *http.Request) {
		body, ok := pages[r.URL.Path]
		if !ok {
			http.NotFound(w, r)
			return
		}
		w.Header().Set("Content-Type", "text/html; charset=utf-8")
		fmt.Fprintf(w, fixturePage, r.URL.Path, body)
	})
	mux.HandleFunc("/payment", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/html; charset=utf-8")
		plan := r.URL.Query().Get("plan")
		fmt.Fprintf(w, fixturePage, "Payment", `<h2 data-testid="CardTitle-title">`+plan+`</h2>`)
	})
	return httptest.NewServer(mux)
}

// realManagers starts every real driver available on this machine, so
// each integration test covers both the Playwright and chromedp paths.
// The test is skipped when none starts.
func realManagers(t *testing.T) map[string]*browser.Manager {
	t.Helper()
	if testing.Short() {
		t.Skip("skipping browser test in -short mode")
	}
	var candidates []string
	if browser.CheckDeps(os.Getenv("PLAYWRIGHT_DRIVER_PATH")) {
		candidates = append(candidates, browser.DriverPlaywright)
	}
	if _, err := browser.FindChrome(); err == nil {
		candidates = append(candidates, browser.DriverChromedp)
	}
	managers := make(map[string]*browser.Manager)
	for _, name := range candidates {
		opts := browser.DefaultOptions()
		opts.Driver = name
		opts.BrowsersPath = os.Getenv("PLAYWRIGHT_DRIVER_PATH")
		m, err := browser.NewManager(opts)
		if err != nil {
			continue
		}
		if err := m.EnsureStarted(); err != nil {
			t.Logf("%s unavailable: %v", name, err)
			_ = m.Close()
			continue
		}
		t.Cleanup(func() { _ = m.Close() })
		managers[name] = m
	}
	if len(managers) == 0 {
		t.Skip("no browser available (install Playwright with -install or set CHROME_PATH)")
	}
	return managers
}

// forEachDriver runs fn as a subtest per available driver.
func forEachDriver(t *testing.T, fn func(t *testing.T, m *browser.Manager)) {
	t.Helper()
	for name, m := range realManagers(t) {
		t.Run(name, func(t *testing.T) {
			fn(t, m)
		})
	}
}

func fastHelpers() *funnel.Helpers {
	h := funnel.New()
	h.Timeouts = funnel.Timeouts{
		Navigation: 15 * time.Second,
		Ready:      5 * time.Second,
		ClickWait:  5 * time.Second,
		Consent:    5 * time.Second,
	}
	return h
}

func TestIntegration_FixtureSite(t *testing.T) {
	srv := fixtureSite()
	defer srv.Close()

	forEachDriver(t, func(t *testing.T, m *browser.Manager) {
		testFixtureSite(t, m, srv)
	})
}

func testFixtureSite(t *testing.T, m *browser.Manager, srv *httptest.Server) {

	defs := scenario.DefaultCatalog(scenario.DefaultURLs(srv.URL))
	defs[0].SettleDelay = 0
	defs[3].EntryURL = srv.URL + "/products/"

	dir := t.TempDir()
	r := NewRunner(m, fastHelpers(), Options{Parallel: 2, ArtifactsDir: dir, ExpectTimeout: 5 * time.Second})
	rep, err := r.Run(context.Background(), defs)
	require.NoError(t, err)

	t.Log("\n" + report.Text(rep, report.TextOptions{Notes: true}))
	require.Len(t, rep.Results, 4)
	for _, res := range rep.Results {
		assert.Equal(t, report.StatusPassed, res.Status, "%s: %s", res.Name, res.Error)
	}
	assert.Equal(t, 1, rep.Results[0].Verified, "only the hero region exists on the fixture")
	assert.Equal(t, 2, rep.Results[1].Verified)
	assert.Equal(t, 2, rep.Results[2].Verified)
	assert.Empty(t, m.ActiveSessions())
}

func TestIntegration_FixtureSiteDetectsBrokenFunnel(t *testing.T) {
	srv := fixtureSite()
	defer srv.Close()

	forEachDriver(t, func(t *testing.T, m *browser.Manager) {
		testBrokenFunnel(t, m, srv)
	})
}

func testBrokenFunnel(t *testing.T, m *browser.Manager, srv *httptest.Server) {

	def := &scenario.Definition{
		Name:            "login-goes-to-checkout",
		Kind:            scenario.KindRedirect,
		EntryURL:        srv.URL + "/products/",
		Destination:     `.*/checkout/.*`,
		ControlSelector: scenario.LoginSelector,
	}
	dir := t.TempDir()
	r := NewRunner(m, fastHelpers(), Options{ArtifactsDir: dir, ExpectTimeout: time.Second})
	rep, err := r.Run(context.Background(), []*scenario.Definition{def})
	require.NoError(t, err)
	require.Len(t, rep.Results, 1)
	assert.Equal(t, report.StatusFailed, rep.Results[0].Status)
	assert.Contains(t, rep.Results[0].Error, "/login/")
	assert.FileExists(t, rep.Results[0].Screenshot)
}

// TestLive runs the built-in catalog against the real site. It needs
// network access and FUNNEL_LIVE=1.
func TestLive(t *testing.T) {
	if os.Getenv("FUNNEL_LIVE") != "1" {
		t.Skip("set FUNNEL_LIVE=1 to run against the live site")
	}
	forEachDriver(t, func(t *testing.T, m *browser.Manager) {
		defs := scenario.DefaultCatalog(scenario.DefaultURLs(os.Getenv("FUNNEL_BASE_URL")))
		r := NewRunner(m, nil, Options{Parallel: 1, ArtifactsDir: t.TempDir()})
		rep, err := r.Run(context.Background(), defs)
		require.NoError(t, err)

		t.Log("\n" + report.Text(rep, report.TextOptions{Notes: true}))
		assert.True(t, rep.Passed(), rep.Summary().String())
	})
}
