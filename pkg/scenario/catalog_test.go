package scenario

import (
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"pgregory.net/rapid"
)

func TestDefaultCatalog_Validates(t *testing.T) {
	defs := DefaultCatalog(DefaultURLs(""))
	require.NoError(t, ValidateAll(defs))

	assert.Equal(t, []string{NameOfferCTAs, NamePlanPayment, NamePeriodSwitch, NameLoginButton}, Names(defs))
	for _, d := range defs {
		assert.NotNil(t, d.DestinationPattern(), d.Name)
	}
	assert.Equal(t, "https://nordvpn.com/offer", defs[0].EntryURL)
	assert.Len(t, defs[0].Regions, 7)
	assert.Equal(t, []string{"1y", "1m"}, defs[2].Periods)
}

func TestDefaultURLs(t *testing.T) {
	u := DefaultURLs("http://127.0.0.1:8080/")
	assert.Equal(t, "http://127.0.0.1:8080/offer", u.Offer)
	assert.Equal(t, "http://127.0.0.1:8080/offer/pricing/", u.OfferPricing)
	assert.Equal(t, "http://127.0.0.1:8080/pricing/", u.Pricing)
	assert.Equal(t, "https://order.nordvpn.com/pl/products/", u.Products)
}

func TestDefaultCatalog_DestinationPatterns(t *testing.T) {
	defs := DefaultCatalog(DefaultURLs(""))
	require.NoError(t, ValidateAll(defs))

	tests := []struct {
		name  string
		url   string
		match bool
	}{
		{NameOfferCTAs, "https://nordvpn.com/pricing/", true},
		{NameOfferCTAs, "https://nordvpn.com/checkout/?plan=1", true},
		{NameOfferCTAs, "https://nordvpn.com/offer", false},
		{NamePlanPayment, "https://order.nordvpn.com/payment", true},
		{NamePlanPayment, "https://nordvpn.com/pricing/", false},
		{NamePeriodSwitch, "https://order.nordvpn.com/payment?period=1m", true},
		{NameLoginButton, "https://my.nordaccount.com/login/?x=1", true},
		{NameLoginButton, "https://order.nordvpn.com/pl/products/", false},
	}

	byName := make(map[string]*Definition)
	for _, d := range defs {
		byName[d.Name] = d
	}
	for _, tt := range tests {
		t.Run(tt.name+" "+tt.url, func(t *testing.T) {
			assert.Equal(t, tt.match, byName[tt.name].DestinationPattern().MatchString(tt.url))
		})
	}
}

func TestValidate_Problems(t *testing.T) {
	tests := []struct {
		name string
		def  Definition
		want []string
	}{
		{
			name: "empty",
			def:  Definition{},
			want: []string{"name is required", "entry_url is required", "destination is required", "kind is required"},
		},
		{
			name: "unknown kind",
			def:  Definition{Name: "x", Kind: "bogus", EntryURL: "u", Destination: "d"},
			want: []string{`unknown kind "bogus"`},
		},
		{
			name: "bad destination",
			def:  Definition{Name: "x", Kind: KindRedirect, EntryURL: "u", Destination: "(", ControlSelector: "#a"},
			want: []string{"destination:"},
		},
		{
			name: "fan-out without regions or labels",
			def:  Definition{Name: "x", Kind: KindFanOut, EntryURL: "u", Destination: "d", SettleDelay: -1},
			want: []string{"regions are required", "cta_labels are required", "settle_delay must not be negative"},
		},
		{
			name: "fan-out with a bad region selector",
			def: Definition{Name: "x", Kind: KindFanOut, EntryURL: "u", Destination: "d",
				Regions: []Region{{Name: "r", Selector: "section >> "}}, CTALabels: []string{"Go"}},
			want: []string{"regions[0].selector:"},
		},
		{
			name: "enumerate",
			def: Definition{Name: "x", Kind: KindEnumerate, EntryURL: "u", Destination: "d",
				Mapping: []LabelMapping{{Label: "a"}}},
			want: []string{"control_selector is required", "title_selector is required", "mapping[0].expected is required"},
		},
		{
			name: "plan-switch",
			def: Definition{Name: "x", Kind: KindPlanSwitch, EntryURL: "u", Destination: "d",
				DropdownSelector: "#dd", TitleSelector: "h1", TitlePattern: "[",
				PlanSelector: `button >> text="Go"`, SelectSelector: `select:has-text("x")`},
			want: []string{
				"periods are required",
				"plan_selector must be a plain CSS selector",
				"select_selector must be a plain CSS selector",
				"title_pattern:",
			},
		},
		{
			name: "redirect",
			def:  Definition{Name: "x", Kind: KindRedirect, EntryURL: "u", Destination: "d"},
			want: []string{"control_selector is required"},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.def.Validate()
			require.Error(t, err)
			var ve *ValidationError
			require.ErrorAs(t, err, &ve)
			for _, w := range tt.want {
				assert.Contains(t, err.Error(), w)
			}
		})
	}
}

func TestValidateAll_DuplicateNames(t *testing.T) {
	a := &Definition{Name: "same", Kind: KindRedirect, EntryURL: "u", Destination: "d", ControlSelector: "#a"}
	b := &Definition{Name: "same", Kind: KindRedirect, EntryURL: "u", Destination: "d", ControlSelector: "#b"}
	err := ValidateAll([]*Definition{a, b})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "duplicate name")
}

func TestDuration_JSON(t *testing.T) {
	tests := []struct {
		in      string
		want    time.Duration
		wantErr bool
	}{
		{`"1.5s"`, 1500 * time.Millisecond, false},
		{`250`, 250 * time.Millisecond, false},
		{`"0s"`, 0, false},
		{`"soon"`, 0, true},
		{`true`, 0, true},
	}
	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			var d Duration
			err := json.Unmarshal([]byte(tt.in), &d)
			if tt.wantErr {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, time.Duration(d))
		})
	}

	b, err := json.Marshal(Duration(2 * time.Second))
	require.NoError(t, err)
	assert.Equal(t, `"2s"`, string(b))
}

func writeFile(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "scenarios.json")
	require.NoError(t, os.WriteFile(path, []byte(content), 0644))
	return path
}

func TestLoadCatalog(t *testing.T) {
	path := writeFile(t, `{
  "scenarios": [
    {
      "name": "support-link",
      "kind": "redirect",
      "entry_url": "https://nordvpn.com/",
      "destination": ".*/support.*",
      "control_selector": "a:has-text(\"Help\")"
    },
    {
      "name": "offer-ctas-lead-to-pricing",
      "kind": "fan-out",
      "entry_url": "https://nordvpn.com/offer",
      "destination": ".*/pricing.*",
      "regions": [{"name": "hero", "selector": "header"}],
      "cta_labels": ["Get NordVPN"],
      "settle_delay": "250ms"
    }
  ]
}`)

	f, err := LoadCatalog(path)
	require.NoError(t, err)
	require.Len(t, f.Scenarios, 2)
	assert.False(t, f.ReplaceDefaults)
	assert.Equal(t, Duration(250*time.Millisecond), f.Scenarios[1].SettleDelay)
	assert.NotNil(t, f.Scenarios[0].DestinationPattern())
}

func TestLoadCatalog_Errors(t *testing.T) {
	_, err := LoadCatalog(filepath.Join(t.TempDir(), "missing.json"))
	assert.ErrorContains(t, err, "read scenarios")

	_, err = LoadCatalog(writeFile(t, `{"scenarios": [`))
	assert.ErrorContains(t, err, "parse scenarios")

	_, err = LoadCatalog(writeFile(t, `{"scenarios": [{"name": "x", "kind": "redirect"}]}`))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "entry_url is required")
}

func TestMerge(t *testing.T) {
	base := DefaultCatalog(DefaultURLs(""))
	override := &Definition{Name: NamePlanPayment, Kind: KindRedirect, EntryURL: "u", Destination: "d", ControlSelector: "#a"}
	extra := &Definition{Name: "extra", Kind: KindRedirect, EntryURL: "u", Destination: "d", ControlSelector: "#b"}

	merged := Merge(base, &File{Scenarios: []*Definition{extra, override}})
	assert.Equal(t, []string{NameOfferCTAs, NamePlanPayment, NamePeriodSwitch, NameLoginButton, "extra"}, Names(merged))
	assert.Same(t, override, merged[1])
	assert.NotSame(t, override, base[1], "base must not be modified")

	replaced := Merge(base, &File{ReplaceDefaults: true, Scenarios: []*Definition{extra}})
	assert.Equal(t, []string{"extra"}, Names(replaced))

	assert.Equal(t, Names(base), Names(Merge(base, nil)))
}

func TestFilter(t *testing.T) {
	defs := DefaultCatalog(DefaultURLs(""))

	all, err := Filter(defs, nil)
	require.NoError(t, err)
	assert.Len(t, all, len(defs))

	some, err := Filter(defs, []string{NameLoginButton, " " + NameOfferCTAs})
	require.NoError(t, err)
	assert.Equal(t, []string{NameOfferCTAs, NameLoginButton}, Names(some), "table order is kept")

	_, err = Filter(defs, []string{"nope", NameOfferCTAs})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "unknown scenario(s) nope")
	assert.Contains(t, err.Error(), NamePeriodSwitch)
}

func TestCTASelector(t *testing.T) {
	d := &Definition{CTALabels: []string{"Get NordVPN"}}
	assert.Equal(t, `button:has-text("Get NordVPN"), a:has-text("Get NordVPN")`, d.CTASelector())

	d.CTATags = []string{"a"}
	assert.Equal(t, `a:has-text("Get NordVPN")`, d.CTASelector())
}

func TestMatch_FirstContainedLabelWins(t *testing.T) {
	rapid.Check(t, func(t *rapid.T) {
		labels := rapid.SliceOfNDistinct(rapid.StringMatching(`[A-Za-z ]{1,8}`), 1, 6, rapid.ID[string]).Draw(t, "labels")
		d := &Definition{}
		for _, l := range labels {
			d.Mapping = append(d.Mapping, LabelMapping{Label: l, Expected: strings.ToUpper(l)})
		}
		j := rapid.IntRange(0, len(labels)-1).Draw(t, "j")
		text := rapid.String().Draw(t, "prefix") + labels[j] + rapid.String().Draw(t, "suffix")

		m := d.Match(text)
		if m == nil {
			t.Fatalf("no mapping matched %q", text)
		}
		if !strings.Contains(text, m.Label) {
			t.Fatalf("matched %q which %q does not contain", m.Label, text)
		}
		for i := range d.Mapping {
			if &d.Mapping[i] == m {
				if i > j {
					t.Fatalf("matched mapping %d, but %d also matches", i, j)
				}
				for k := 0; k < i; k++ {
					if strings.Contains(text, d.Mapping[k].Label) {
						t.Fatalf("mapping %d matches earlier than %d", k, i)
					}
				}
				return
			}
		}
		t.Fatalf("Match returned a mapping outside the table")
	})
}
