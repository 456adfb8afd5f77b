package scenario

import (
	"encoding/json"
	"fmt"
	"os"
	"sort"
	"strings"
	"time"
)

// Names of the built-in scenarios.
const (
	NameOfferCTAs    = "offer-ctas-lead-to-pricing"
	NamePlanPayment  = "plan-selection-leads-to-payment"
	NamePeriodSwitch = "plan-period-switch"
	NameLoginButton  = "login-button-leads-to-login"
)

// URLs are the entry points of the built-in scenarios.
type URLs struct {
	Offer        string `json:"offer"`
	OfferPricing string `json:"offer_pricing"`
	Pricing      string `json:"pricing"`
	Products     string `json:"products"`
}

// DefaultURLs points the built-in scenarios at base (e.g.
// "https://nordvpn.com"). The order site lives on its own host.
func DefaultURLs(base string) URLs {
	base = strings.TrimRight(base, "/")
	if base == "" {
		base = "https://nordvpn.com"
	}
	return URLs{
		Offer:        base + "/offer",
		OfferPricing: base + "/offer/pricing/",
		Pricing:      base + "/pricing/",
		Products:     "https://order.nordvpn.com/pl/products/",
	}
}

// Shared selectors of the site under test.
const (
	PlanCardSelector  = `[data-testid="MultipleHighlightedCards-PlanCard-cta"]`
	CardTitleSelector = `[data-testid="CardTitle-title"]`
	DropdownSelector  = `[data-testid="PricingDropdown"]`
	LoginSelector     = `[data-testid="UserProfile-login-button"]`
)

// DefaultCTALabels are the texts a CTA on the offer page may carry.
var DefaultCTALabels = []string{"Get NordVPN", "Get the Deal", "Get Extra Savings", "Try NordVPN Risk-Free"}

// DefaultRegions are the offer page areas that must each lead to pricing.
var DefaultRegions = []Region{
	{Name: "hero", Selector: `header[data-section="Hero"]`},
	{Name: "why-choose", Selector: `h2.heading-xl >> text="Why choose NordVPN?"`},
	{Name: "cross-sell", Selector: `section[data-section="CrossSell Section"]`},
	{Name: "data-safe", Selector: `h3.heading-xl.text-primary >> text="Keep your data safe from prying eyes"`},
	{Name: "fast-connection", Selector: `h3.heading-xl.text-primary >> text="Enjoy fast and stable connection anywhere"`},
	{Name: "money-back-heading", Selector: `h2.heading-lg >> text="30-day money-back guarantee"`},
	{Name: "money-back-banner", Selector: `section[data-section="MoneyBackBanner"]`},
}

// DefaultPlanMapping maps plan card labels to payment page titles. Order
// matters: the first label contained in a card's text wins.
var DefaultPlanMapping = []LabelMapping{
	{Label: "Select Ultra", Expected: "Ultra"},
	{Label: "Select Complete", Expected: "Complete"},
	{Label: "Select Plus", Expected: "Plus"},
	{Label: "Select Basic", Expected: "Basic"},
}

// DefaultCatalog builds the built-in scenario table.
func DefaultCatalog(urls URLs) []*Definition {
	return []*Definition{
		{
			Name:        NameOfferCTAs,
			Kind:        KindFanOut,
			Description: "every CTA region of the offer page leads to pricing or checkout",
			EntryURL:    urls.Offer,
			Destination: `.*/(pricing|checkout).*`,
			Regions:     append([]Region(nil), DefaultRegions...),
			CTALabels:   append([]string(nil), DefaultCTALabels...),
			SettleDelay: Duration(time.Second),
		},
		{
			Name:            NamePlanPayment,
			Kind:            KindEnumerate,
			Description:     "each plan card leads to the payment page of that plan",
			EntryURL:        urls.OfferPricing,
			Destination:     `.*/payment`,
			ControlSelector: PlanCardSelector,
			Mapping:         append([]LabelMapping(nil), DefaultPlanMapping...),
			TitleSelector:   CardTitleSelector,
		},
		{
			Name:             NamePeriodSwitch,
			Kind:             KindPlanSwitch,
			Description:      "switching from yearly to monthly still leads to the Ultra payment page",
			EntryURL:         urls.Pricing,
			Destination:      `.*/payment.*`,
			DropdownSelector: DropdownSelector,
			SelectSelector:   "select",
			Periods:          []string{"1y", "1m"},
			PlanSelector:     PlanCardSelector + `[data-ga-slug="Get Ultra"]`,
			TitleSelector:    CardTitleSelector,
			TitlePattern:     `Ultra`,
		},
		{
			Name:            NameLoginButton,
			Kind:            KindRedirect,
			Description:     "the login button of the order page leads to login",
			EntryURL:        urls.Products,
			Destination:     `.*/login.*`,
			ControlSelector: LoginSelector,
		},
	}
}

// File is the JSON form of a scenario file.
type File struct {
	// ReplaceDefaults drops the built-in scenarios instead of merging.
	ReplaceDefaults bool          `json:"replace_defaults"`
	Scenarios       []*Definition `json:"scenarios"`
}

// LoadCatalog reads a scenario file. Definitions are validated.
func LoadCatalog(path string) (*File, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read scenarios: %w", err)
	}
	var f File
	if err := json.Unmarshal(data, &f); err != nil {
		return nil, fmt.Errorf("parse scenarios %s: %w", path, err)
	}
	if err := ValidateAll(f.Scenarios); err != nil {
		return nil, fmt.Errorf("invalid scenarios in %s: %w", path, err)
	}
	return &f, nil
}

// Merge overlays extra on base: a definition with a known name replaces the
// base one in place, new names are appended in file order.
func Merge(base []*Definition, f *File) []*Definition {
	if f == nil {
		return base
	}
	if f.ReplaceDefaults {
		return append([]*Definition(nil), f.Scenarios...)
	}
	out := append([]*Definition(nil), base...)
	index := make(map[string]int, len(out))
	for i, d := range out {
		index[d.Name] = i
	}
	for _, d := range f.Scenarios {
		if i, ok := index[d.Name]; ok {
			out[i] = d
			continue
		}
		index[d.Name] = len(out)
		out = append(out, d)
	}
	return out
}

// Filter keeps the definitions named in names, in table order. An empty
// names list keeps everything; an unknown name is an error.
func Filter(defs []*Definition, names []string) ([]*Definition, error) {
	if len(names) == 0 {
		return defs, nil
	}
	want := make(map[string]bool, len(names))
	for _, n := range names {
		if n = strings.TrimSpace(n); n != "" {
			want[n] = true
		}
	}
	var out []*Definition
	for _, d := range defs {
		if want[d.Name] {
			out = append(out, d)
			delete(want, d.Name)
		}
	}
	if len(want) > 0 {
		var unknown []string
		for n := range want {
			unknown = append(unknown, n)
		}
		sort.Strings(unknown)
		return nil, fmt.Errorf("unknown scenario(s) %s; known: %s",
			strings.Join(unknown, ", "), strings.Join(Names(defs), ", "))
	}
	return out, nil
}

// Names lists definition names in table order.
func Names(defs []*Definition) []string {
	names := make([]string, len(defs))
	for i, d := range defs {
		names[i] = d.Name
	}
	return names
}
