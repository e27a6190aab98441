package listing

import (
	"net/url"
	"strings"

	"github.com/shelfgrab/shelfgrab/config"
)

// BuildTargetURL resolves the user's search input permissively: input
// that parses as an absolute URL is used as-is, anything else becomes a
// search query against the configured base. FulfillToday appends the
// fulfillment-speed facet either way.
func BuildTargetURL(cfg *config.Config, input string, opts *config.ScrapeOptions) string {
	input = strings.TrimSpace(input)

	target := ""
	if parsed, err := url.Parse(input); err == nil && parsed.Scheme != "" && parsed.Host != "" {
		target = input
	} else {
		target = strings.TrimSuffix(cfg.BaseURL, "/") + cfg.SearchPath + "?q=" + url.QueryEscape(input)
	}

	if opts != nil && opts.FulfillToday {
		sep := "?"
		if strings.Contains(target, "?") {
			sep = "&"
		}
		target += sep + "facet=" + url.QueryEscape("fulfillment_speed:Today")
	}
	return target
}
