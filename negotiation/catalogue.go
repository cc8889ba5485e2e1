package negotiation

import (
	"context"
	"sort"
	"strings"
)

// DefaultSpreadRatio derives a band's low and high ends from its base price.
const DefaultSpreadRatio = 0.1

// Catalogue is a static per-seat monthly price list. Products are matched
// case-insensitively after trimming. Unknown products get a deterministic
// length-based price so the pipeline stays predictable in development.
type Catalogue struct {
	prices      map[string]float64
	spreadRatio float64
}

// DefaultPrices is the built-in SaaS price list (USD per seat per month).
// The figures are illustrative.
var DefaultPrices = map[string]float64{
	"salesforce sales cloud":             80,
	"salesforce service cloud":           75,
	"hubspot marketing hub":              60,
	"hubspot sales hub":                  50,
	"microsoft 365 business standard":    15,
	"google workspace business standard": 12,
	"jira software standard":             8,
	"asana advanced":                     25,
	"slack pro":                          8,
	"slack business+":                    15,
	"zoom pro":                           15,
	"zoom business":                      20,
	"zendesk support professional":       49,
	"zendesk support enterprise":         99,
	"datadog infrastructure pro":         23,
	"snowflake standard":                 40,
}

// NewCatalogue creates a Catalogue over prices. A nil map uses DefaultPrices;
// a non-positive spreadRatio uses DefaultSpreadRatio.
func NewCatalogue(prices map[string]float64, spreadRatio float64) *Catalogue {
	if prices == nil {
		prices = DefaultPrices
	}
	if spreadRatio <= 0 {
		spreadRatio = DefaultSpreadRatio
	}
	normalized := make(map[string]float64, len(prices))
	for name, price := range prices {
		normalized[normalizeProduct(name)] = price
	}
	return &Catalogue{prices: normalized, spreadRatio: spreadRatio}
}

// Lookup implements MarketReference. The target is the base price and the
// band spans base±base*spreadRatio, rounded to cents.
func (c *Catalogue) Lookup(_ context.Context, product string) (ReferenceBand, error) {
	base := c.basePrice(product)
	spread := base * c.spreadRatio
	return ReferenceBand{
		Low:    Round(base-spread, 2),
		High:   Round(base+spread, 2),
		Target: Round(base, 2),
	}, nil
}

// Known reports whether product is listed.
func (c *Catalogue) Known(product string) bool {
	_, ok := c.prices[normalizeProduct(product)]
	return ok
}

// Match returns the longest listed product name contained in text.
func (c *Catalogue) Match(text string) (string, bool) {
	lower := strings.ToLower(text)
	names := make([]string, 0, len(c.prices))
	for name := range c.prices {
		names = append(names, name)
	}
	sort.Slice(names, func(i, j int) bool {
		if len(names[i]) != len(names[j]) {
			return len(names[i]) > len(names[j])
		}
		return names[i] < names[j]
	})
	for _, name := range names {
		if strings.Contains(lower, name) {
			return name, true
		}
	}
	return "", false
}

func (c *Catalogue) basePrice(product string) float64 {
	name := normalizeProduct(product)
	if price, ok := c.prices[name]; ok {
		return price
	}
	n := len(name)
	if n < 1 {
		n = 1
	}
	return float64(n * 10)
}

func normalizeProduct(name string) string {
	return strings.ToLower(strings.TrimSpace(name))
}
