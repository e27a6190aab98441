// Package listing enumerates product candidates from search result
// pages, applying the user's exclusion rules and following pagination.
package listing

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"net/url"
	"sync/atomic"
	"time"

	"github.com/gocolly/colly/v2"

	"github.com/shelfgrab/shelfgrab/config"
	"github.com/shelfgrab/shelfgrab/models"
	"github.com/shelfgrab/shelfgrab/scrape"
)

// Selectors locates listing tiles and their sub-elements. Overriding
// Item is how a rotted site selector gets fixed without a rebuild.
type Selectors struct {
	Item            string // one product tile
	ItemIDAttr      string // attribute on the tile carrying the primary id
	SecondaryID     string // child element carrying the secondary id
	SecondaryIDAttr string
	Info            string // availability info sub-elements
	Title           string // displayed brand/title text
	NextPage        string // pagination control, href-bearing
}

// DefaultSelectors matches the retail site markup the project targets.
func DefaultSelectors() *Selectors {
	return &Selectors{
		Item:            `[data-testid="item-stack"] [data-item-id]`,
		ItemIDAttr:      "data-item-id",
		SecondaryID:     `[link-identifier]`,
		SecondaryIDAttr: "link-identifier",
		Info:            `.f7.flex.self-baseline.dark-gray`,
		Title:           `[data-automation-id="product-title"]`,
		NextPage:        `[data-testid="NextPage"]`,
	}
}

// Enumerator scans listing pages into ordered ListingEntry sequences.
type Enumerator struct {
	cfg     *config.Config
	sel     *Selectors
	metrics *scrape.Metrics

	transport http.RoundTripper // swapped in tests
}

// New builds an enumerator; nil selectors fall back to defaults.
func New(cfg *config.Config, sel *Selectors, metrics *scrape.Metrics) *Enumerator {
	if sel == nil {
		sel = DefaultSelectors()
	}
	return &Enumerator{cfg: cfg, sel: sel, metrics: metrics}
}

// Enumerate loads the target listing page, scans its tiles, and keeps
// advancing pagination until no next control is found or the page cap
// is hit. Candidates without a primary identifier are silently
// dropped; excluded candidates are counted, not reported as errors.
// Only a failure to load the initial page is fatal.
func (e *Enumerator) Enumerate(ctx context.Context, target string, opts *config.ScrapeOptions) ([]models.ListingEntry, error) {
	parsed, err := url.Parse(target)
	if err != nil {
		return nil, fmt.Errorf("parse listing url: %w", err)
	}
	if parsed.Host == "" {
		return nil, fmt.Errorf("listing url must include a host")
	}

	c, err := e.newCollector(parsed.Host)
	if err != nil {
		return nil, err
	}

	var (
		entries []models.ListingEntry
		pages   int64
		flt     = newFilter(opts)
	)

	c.OnRequest(func(r *colly.Request) {
		r.Ctx.Put("start", time.Now())
		e.metrics.IncRequest("listing")
	})

	c.OnResponse(func(r *colly.Response) {
		atomic.AddInt64(&pages, 1)
		e.metrics.IncPages()
		if start, ok := r.Ctx.GetAny("start").(time.Time); ok {
			e.metrics.ObserveDuration(time.Since(start))
		}
	})

	c.OnHTML(e.sel.Item, func(el *colly.HTMLElement) {
		itemID := el.Attr(e.sel.ItemIDAttr)
		if itemID == "" {
			e.metrics.IncDropped("missing_item_id")
			return
		}
		if reason, excluded := flt.excludes(el.DOM, e.sel); excluded {
			slog.Debug("listing candidate excluded",
				slog.String("item_id", itemID),
				slog.String("reason", reason),
			)
			e.metrics.IncDropped(reason)
			return
		}

		secondary, _ := el.DOM.Find(e.sel.SecondaryID).First().Attr(e.sel.SecondaryIDAttr)
		entries = append(entries, models.ListingEntry{
			ItemID:    itemID,
			ProductID: secondary,
		})
	})

	c.OnHTML(e.sel.NextPage, func(el *colly.HTMLElement) {
		if atomic.LoadInt64(&pages) >= int64(e.cfg.MaxPages) {
			slog.Warn("pagination stopped at page cap", slog.Int("max_pages", e.cfg.MaxPages))
			return
		}
		if ctx.Err() != nil {
			return
		}
		href := el.Attr("href")
		if href == "" {
			return
		}
		next := el.Request.AbsoluteURL(href)
		if err := c.Visit(next); err != nil {
			// Later pages failing only truncates the sequence.
			slog.Warn("pagination visit failed", slog.String("url", next), slog.Any("error", err))
		}
	})

	if err := c.Visit(target); err != nil {
		classified := scrape.ClassifyError(err, 0)
		e.metrics.IncError(scrape.ErrorTypeLabel(classified))
		return nil, fmt.Errorf("load listing page: %w", classified)
	}
	c.Wait()

	return entries, nil
}

func (e *Enumerator) newCollector(host string) (*colly.Collector, error) {
	c := colly.NewCollector(
		colly.AllowedDomains(host),
		colly.UserAgent(e.cfg.UserAgent),
	)
	c.SetRequestTimeout(e.cfg.Timeout)
	c.IgnoreRobotsTxt = true
	if e.transport != nil {
		c.WithTransport(e.transport)
	}

	// The settle delay between pagination loads lives in the limit
	// rule, so every follow-up page load waits it out.
	if err := c.Limit(&colly.LimitRule{
		DomainGlob: "*",
		Delay:      e.cfg.SettleDelay,
	}); err != nil {
		return nil, fmt.Errorf("configure rate limits: %w", err)
	}
	return c, nil
}
