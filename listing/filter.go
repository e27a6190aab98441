package listing

import (
	"regexp"
	"strings"

	"github.com/PuerkitoBio/goquery"

	"github.com/shelfgrab/shelfgrab/config"
	"github.com/shelfgrab/shelfgrab/parser"
)

var (
	notAvailableRe = regexp.MustCompile(`(?i)not\s*available`)
	shippingRe     = regexp.MustCompile(`(?i)shipping`)
	pickupRe       = regexp.MustCompile(`(?i)pickup`)
	deliveryRe     = regexp.MustCompile(`(?i)delivery`)
)

// filter evaluates the exclusion rules for one run. Rules compose with
// AND semantics: a candidate matching any single rule is excluded.
type filter struct {
	opts   *config.ScrapeOptions
	brands map[string]struct{}
}

func newFilter(opts *config.ScrapeOptions) *filter {
	if opts == nil {
		opts = &config.ScrapeOptions{}
	}
	brands := make(map[string]struct{}, len(opts.ExcludeBrands))
	for _, brand := range opts.ExcludeBrands {
		if trimmed := strings.TrimSpace(brand); trimmed != "" {
			brands[trimmed] = struct{}{}
		}
	}
	return &filter{opts: opts, brands: brands}
}

// excludes reports whether the tile should be dropped and why. The
// availability rules fire when the combined info text mentions the
// fulfillment method without also indicating it is not available.
func (f *filter) excludes(tile *goquery.Selection, sel *Selectors) (string, bool) {
	info := f.infoText(tile, sel)

	if f.opts.ShippingUnavailableOnly && mentionsAvailable(shippingRe, info) {
		return "shipping_available", true
	}
	if f.opts.PickupUnavailableOnly && mentionsAvailable(pickupRe, info) {
		return "pickup_available", true
	}
	if f.opts.DeliveryUnavailableOnly && mentionsAvailable(deliveryRe, info) {
		return "delivery_available", true
	}

	if len(f.brands) > 0 {
		title := strings.TrimSpace(tile.Find(sel.Title).First().Text())
		if _, excluded := f.brands[title]; excluded {
			return "brand", true
		}
	}
	return "", false
}

// infoText concatenates all availability info sub-elements' text with
// whitespace collapsed.
func (f *filter) infoText(tile *goquery.Selection, sel *Selectors) string {
	var combined strings.Builder
	tile.Find(sel.Info).Each(func(_ int, el *goquery.Selection) {
		combined.WriteString(el.Text())
		combined.WriteString(" ")
	})
	return parser.CollapseWhitespace(combined.String())
}

func mentionsAvailable(method *regexp.Regexp, info string) bool {
	return method.MatchString(info) && !notAvailableRe.MatchString(info)
}
