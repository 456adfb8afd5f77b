package scenario_test

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"FunnelCheck/pkg/browser"
	"FunnelCheck/pkg/browser/browsertest"
	"FunnelCheck/pkg/expect"
	"FunnelCheck/pkg/scenario"
)

const (
	base       = "https://nordvpn.example"
	offerURL   = base + "/offer"
	pricingURL = base + "/pricing/"
	paymentURL = "https://order.nordvpn.example/payment"
	loginURL   = "https://my.nordaccount.example/login/"
)

type elements = map[string][]*browsertest.Element

func init() {
	expect.PollInterval = 5 * time.Millisecond
}

func newPage(t *testing.T, site *browsertest.Site) *browsertest.Page {
	t.Helper()
	d := browsertest.NewDriver(site)
	require.NoError(t, d.Start())
	p, err := d.NewPage(browser.PageOptions{})
	require.NoError(t, err)
	return p.(*browsertest.Page)
}

func run(t *testing.T, d *scenario.Definition, page browser.Page) (*scenario.Outcome, error) {
	t.Helper()
	return d.Run(context.Background(), scenario.Env{Page: page, ExpectTimeout: 30 * time.Millisecond})
}

func body() []*browsertest.Element {
	return []*browsertest.Element{{Text: "page"}}
}

func notesContain(out *scenario.Outcome, substr string) bool {
	for _, n := range out.Notes {
		if strings.Contains(n, substr) {
			return true
		}
	}
	return false
}

func fanOut(regions ...scenario.Region) *scenario.Definition {
	return &scenario.Definition{
		Name:        "ctas",
		Kind:        scenario.KindFanOut,
		EntryURL:    offerURL,
		Destination: `.*/(pricing|checkout).*`,
		Regions:     regions,
		CTALabels:   []string{"Get NordVPN", "Get the Deal"},
	}
}

func TestFanOut_EveryRegionLeadsToPricing(t *testing.T) {
	def := fanOut(
		scenario.Region{Name: "hero", Selector: "#hero"},
		scenario.Region{Name: "banner", Selector: "#banner"},
		scenario.Region{Name: "missing", Selector: "#missing"},
	)
	cta := def.CTASelector()
	heroCTA := &browsertest.Element{Text: "Get NordVPN", Href: pricingURL}
	hiddenCTA := &browsertest.Element{Text: "Get the Deal", Hidden: true, Href: base + "/elsewhere"}
	bannerCTA := &browsertest.Element{Text: "Get the Deal", Href: base + "/checkout/"}

	site := browsertest.NewSite().Add(offerURL, &browsertest.Document{Elements: elements{
		"body":    body(),
		"#hero":   {{Children: elements{cta: {hiddenCTA, heroCTA}}}},
		"#banner": {{Children: elements{cta: {bannerCTA}}}},
	}})
	page := newPage(t, site)

	out, err := run(t, def, page)
	require.NoError(t, err)
	assert.Equal(t, 2, out.Verified)
	assert.Equal(t, 1, heroCTA.Clicks())
	assert.Equal(t, 0, hiddenCTA.Clicks())
	assert.Equal(t, 1, bannerCTA.Clicks())
	assert.True(t, notesContain(out, "region missing: not visible, skipped"), out.Notes)

	gotos := 0
	for _, c := range page.Calls() {
		if c == "goto "+offerURL {
			gotos++
		}
	}
	assert.Equal(t, 3, gotos, "each region starts from a fresh entry page")
}

func TestFanOut_FallsBackToPageCTA(t *testing.T) {
	def := fanOut(scenario.Region{Name: "heading", Selector: "h2"})
	pageCTA := &browsertest.Element{Text: "Get NordVPN", Href: pricingURL}
	site := browsertest.NewSite().Add(offerURL, &browsertest.Document{Elements: elements{
		"body":            body(),
		"h2":              {{Text: "Why choose NordVPN?"}},
		def.CTASelector(): {pageCTA},
	}})

	out, err := run(t, def, newPage(t, site))
	require.NoError(t, err)
	assert.Equal(t, 1, out.Verified)
	assert.Equal(t, 1, pageCTA.Clicks())
	assert.True(t, notesContain(out, "no CTA inside the region"), out.Notes)
}

func TestFanOut_HiddenRegionCTAsFallBackToPage(t *testing.T) {
	def := fanOut(scenario.Region{Name: "hero", Selector: "#hero"})
	cta := def.CTASelector()
	collapsed := &browsertest.Element{Text: "Get NordVPN", Hidden: true, Href: pricingURL}
	pageCTA := &browsertest.Element{Text: "Get the Deal", Href: pricingURL}
	site := browsertest.NewSite().Add(offerURL, &browsertest.Document{Elements: elements{
		"body":  body(),
		"#hero": {{Children: elements{cta: {collapsed}}}},
		cta:     {pageCTA},
	}})

	out, err := run(t, def, newPage(t, site))
	require.NoError(t, err)
	assert.Equal(t, 1, out.Verified)
	assert.Equal(t, 0, collapsed.Clicks())
	assert.Equal(t, 1, pageCTA.Clicks())
	assert.True(t, notesContain(out, "none of 1 CTAs inside the region is visible, used CTA #0 of the page"), out.Notes)
}

func TestFanOut_WrongDestinationFails(t *testing.T) {
	def := fanOut(scenario.Region{Name: "hero", Selector: "#hero"})
	site := browsertest.NewSite().Add(offerURL, &browsertest.Document{Elements: elements{
		"body":  body(),
		"#hero": {{Children: elements{def.CTASelector(): {{Text: "Get NordVPN", Href: base + "/blog/"}}}}},
	}})

	out, err := run(t, def, newPage(t, site))
	require.Error(t, err)
	assert.True(t, scenario.IsAssertion(err))
	assert.Contains(t, err.Error(), "region hero")
	assert.Contains(t, err.Error(), "/blog/")
	assert.Equal(t, 0, out.Verified)
	assert.True(t, notesContain(out, "click and wait: failed"), out.Notes)
}

func TestFanOut_NothingVerifiedFails(t *testing.T) {
	def := fanOut(scenario.Region{Name: "hero", Selector: "#hero"})
	site := browsertest.NewSite().Add(offerURL, &browsertest.Document{Elements: elements{"body": body()}})

	_, err := run(t, def, newPage(t, site))
	require.Error(t, err)
	assert.True(t, scenario.IsAssertion(err))
	assert.Contains(t, err.Error(), "verified regions")
}

func TestFanOut_Cancelled(t *testing.T) {
	def := fanOut(scenario.Region{Name: "hero", Selector: "#hero"})
	site := browsertest.NewSite().Add(offerURL, &browsertest.Document{Elements: elements{"body": body()}})
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := def.Run(ctx, scenario.Env{Page: newPage(t, site)})
	assert.ErrorIs(t, err, context.Canceled)
	assert.False(t, scenario.IsAssertion(err))
}

func plans() *scenario.Definition {
	return &scenario.Definition{
		Name:            "plans",
		Kind:            scenario.KindEnumerate,
		EntryURL:        offerURL,
		Destination:     `.*/payment`,
		ControlSelector: scenario.PlanCardSelector,
		TitleSelector:   scenario.CardTitleSelector,
		Mapping:         append([]scenario.LabelMapping(nil), scenario.DefaultPlanMapping...),
	}
}

func paymentPage(title string) *browsertest.Document {
	return &browsertest.Document{Elements: elements{
		"body":                     body(),
		scenario.CardTitleSelector: {{Text: "  " + title + "\n"}},
	}}
}

func TestEnumerate_EveryMappedPlanReachesItsPayment(t *testing.T) {
	ultra := &browsertest.Element{Text: "Select Ultra", Href: paymentURL + "?plan=ultra"}
	plus := &browsertest.Element{Text: "Select Plus", Href: paymentURL + "?plan=plus"}
	other := &browsertest.Element{Text: "Compare plans", Href: base + "/compare/"}

	site := browsertest.NewSite().
		Add(offerURL, &browsertest.Document{Elements: elements{
			"body":                    body(),
			scenario.PlanCardSelector: {ultra, other, plus},
		}}).
		Add(paymentURL+"?plan=ultra", paymentPage("Ultra")).
		Add(paymentURL+"?plan=plus", paymentPage("Plus"))

	out, err := run(t, plans(), newPage(t, site))
	require.NoError(t, err)
	assert.Equal(t, 2, out.Verified)
	assert.Equal(t, 1, ultra.Clicks())
	assert.Equal(t, 1, plus.Clicks())
	assert.Equal(t, 0, other.Clicks())
	assert.True(t, notesContain(out, `"Compare plans" is not mapped`), out.Notes)
}

func TestEnumerate_WrongTitleFails(t *testing.T) {
	site := browsertest.NewSite().
		Add(offerURL, &browsertest.Document{Elements: elements{
			"body":                    body(),
			scenario.PlanCardSelector: {{Text: "Select Complete", Href: paymentURL + "?plan=complete"}},
		}}).
		Add(paymentURL+"?plan=complete", paymentPage("Basic"))

	_, err := run(t, plans(), newPage(t, site))
	require.Error(t, err)
	assert.True(t, scenario.IsAssertion(err))
	assert.Contains(t, err.Error(), `control "Select Complete"`)
	assert.Contains(t, err.Error(), `"Basic"`)
}

func TestEnumerate_ControlCountMustSurviveReset(t *testing.T) {
	entry := &browsertest.Document{Elements: elements{"body": body()}}
	grow := func(*browsertest.Page) error {
		entry.Elements[scenario.PlanCardSelector] = append(entry.Elements[scenario.PlanCardSelector],
			&browsertest.Element{Text: "Select Basic"})
		return nil
	}
	entry.Elements[scenario.PlanCardSelector] = []*browsertest.Element{
		{Text: "Select Ultra", Href: paymentURL, OnClick: grow},
	}
	site := browsertest.NewSite().Add(offerURL, entry).Add(paymentURL, paymentPage("Ultra"))

	_, err := run(t, plans(), newPage(t, site))
	require.Error(t, err)
	assert.True(t, scenario.IsAssertion(err))
	assert.Contains(t, err.Error(), `after returning from "Select Ultra"`)
}

func TestEnumerate_NoMappedControlFails(t *testing.T) {
	site := browsertest.NewSite().Add(offerURL, &browsertest.Document{Elements: elements{
		"body":                    body(),
		scenario.PlanCardSelector: {{Text: "Something else"}},
	}})

	_, err := run(t, plans(), newPage(t, site))
	require.Error(t, err)
	assert.True(t, scenario.IsAssertion(err))
	assert.Contains(t, err.Error(), "mapped controls")
}

func periodSwitch() *scenario.Definition {
	return &scenario.Definition{
		Name:             "period",
		Kind:             scenario.KindPlanSwitch,
		EntryURL:         pricingURL,
		Destination:      `.*/payment.*`,
		DropdownSelector: scenario.DropdownSelector,
		SelectSelector:   "select",
		Periods:          []string{"1y", "1m"},
		PlanSelector:     scenario.PlanCardSelector + `[data-ga-slug="Get Ultra"]`,
		TitleSelector:    scenario.CardTitleSelector,
		TitlePattern:     `Ultra`,
	}
}

func TestPlanSwitch_EachPeriodReachesPayment(t *testing.T) {
	def := periodSwitch()
	dropdown := &browsertest.Element{Text: "1-year plan", Hidden: true}
	site := browsertest.NewSite().
		Add(pricingURL, &browsertest.Document{Elements: elements{
			"body":                    body(),
			scenario.DropdownSelector: {dropdown},
		}}).
		Add(paymentURL, paymentPage("NordVPN Ultra"))

	var selected []string
	site.Evaluate = func(p *browsertest.Page, script string) (any, error) {
		switch script {
		case scenario.SelectValueScript("select", "1y"):
			selected = append(selected, "1y")
		case scenario.SelectValueScript("select", "1m"):
			selected = append(selected, "1m")
		case scenario.ClickScript(def.PlanSelector):
			p.Navigate(paymentURL)
		default:
			return false, nil
		}
		return true, nil
	}
	page := newPage(t, site)

	out, err := run(t, def, page)
	require.NoError(t, err)
	assert.Equal(t, 2, out.Verified)
	assert.Equal(t, []string{"1y", "1m"}, selected)
	assert.Equal(t, 2, dropdown.Clicks(), "hidden dropdown is force-clicked")
	assert.Contains(t, page.Calls(), "back")
	assert.Equal(t, pricingURL, page.URL(), "ends on the entry page")
}

func TestPlanSwitch_PlanCardMissingFails(t *testing.T) {
	site := browsertest.NewSite().Add(pricingURL, &browsertest.Document{Elements: elements{
		"body":                    body(),
		scenario.DropdownSelector: {{Text: "1-year plan"}},
	}})
	site.Evaluate = func(*browsertest.Page, string) (any, error) { return false, nil }

	out, err := run(t, periodSwitch(), newPage(t, site))
	require.Error(t, err)
	assert.True(t, scenario.IsAssertion(err))
	assert.Contains(t, err.Error(), "period 1y")
	assert.True(t, notesContain(out, "plan card not found"), out.Notes)
}

func TestScripts_QuoteArguments(t *testing.T) {
	s := scenario.SelectValueScript(`select[name="period"]`, `1"y`)
	assert.Contains(t, s, `document.querySelector("select[name=\"period\"]")`)
	assert.Contains(t, s, `el.value = "1\"y"`)
	assert.Contains(t, s, "dispatchEvent(new Event('change'")

	c := scenario.ClickScript("#plan")
	assert.Contains(t, c, `document.querySelector("#plan")`)
	assert.Contains(t, c, "el.click()")
}

func login() *scenario.Definition {
	return &scenario.Definition{
		Name:            "login",
		Kind:            scenario.KindRedirect,
		EntryURL:        base + "/products/",
		Destination:     `.*/login.*`,
		ControlSelector: scenario.LoginSelector,
	}
}

func TestRedirect(t *testing.T) {
	button := &browsertest.Element{Text: "Log in", Href: loginURL}
	site := browsertest.NewSite().Add(base+"/products/", &browsertest.Document{Elements: elements{
		"body":                 body(),
		scenario.LoginSelector: {button},
	}})

	out, err := run(t, login(), newPage(t, site))
	require.NoError(t, err)
	assert.Equal(t, 1, out.Verified)
	assert.Equal(t, 1, button.Clicks())
}

func TestRedirect_MissingButtonFails(t *testing.T) {
	site := browsertest.NewSite().Add(base+"/products/", &browsertest.Document{Elements: elements{"body": body()}})

	out, err := run(t, login(), newPage(t, site))
	require.Error(t, err)
	assert.True(t, scenario.IsAssertion(err))
	assert.True(t, notesContain(out, scenario.LoginSelector), out.Notes)
}

func TestRedirect_NavigationFailureIsTolerated(t *testing.T) {
	site := browsertest.NewSite().Add(base+"/products/", &browsertest.Document{
		Elements: elements{
			"body":                 body(),
			scenario.LoginSelector: {{Text: "Log in", Href: loginURL}},
		},
		GotoErr: errors.New("net::ERR_ABORTED"),
	})

	out, err := run(t, login(), newPage(t, site))
	require.NoError(t, err)
	assert.True(t, notesContain(out, "entry: navigate: failed"), out.Notes)
}

func TestRun_InvalidDefinition(t *testing.T) {
	_, err := (&scenario.Definition{Name: "broken", Kind: scenario.KindRedirect}).Run(context.Background(), scenario.Env{})
	var ve *scenario.ValidationError
	require.ErrorAs(t, err, &ve)
	assert.False(t, scenario.IsAssertion(err))
}

func TestRun_InvalidPatternStaysInvalid(t *testing.T) {
	def := periodSwitch()
	def.TitlePattern = "Ultra("
	site := browsertest.NewSite().Add(pricingURL, &browsertest.Document{Elements: elements{"body": body()}})
	page := newPage(t, site)

	for attempt := 1; attempt <= 2; attempt++ {
		var out *scenario.Outcome
		var err error
		require.NotPanics(t, func() { out, err = run(t, def, page) }, "attempt %d", attempt)
		var ve *scenario.ValidationError
		require.ErrorAs(t, err, &ve, "attempt %d", attempt)
		assert.Contains(t, err.Error(), "title_pattern")
		assert.Nil(t, out)
		assert.Nil(t, def.DestinationPattern(), "a failed validation must not keep compiled patterns")
	}

	def.TitlePattern = "Ultra"
	require.NoError(t, def.Validate())
	assert.NotNil(t, def.DestinationPattern())
}
