// Package detail fetches one product's detail page and completes its
// record. Missing fields fail softly; only a page that cannot be
// loaded at all fails the item.
package detail

import (
	"context"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/gocolly/colly/v2"

	"github.com/shelfgrab/shelfgrab/config"
	"github.com/shelfgrab/shelfgrab/extract"
	"github.com/shelfgrab/shelfgrab/models"
	"github.com/shelfgrab/shelfgrab/scrape"
)

// Worker loads detail pages sequentially on demand.
type Worker struct {
	cfg       *config.Config
	extractor *extract.Extractor
	metrics   *scrape.Metrics
	host      string

	transport http.RoundTripper // swapped in tests
}

// New builds a worker bound to the configured site.
func New(cfg *config.Config, extractor *extract.Extractor, metrics *scrape.Metrics) (*Worker, error) {
	parsed, err := url.Parse(cfg.BaseURL)
	if err != nil {
		return nil, fmt.Errorf("parse base url: %w", err)
	}
	if parsed.Host == "" {
		return nil, fmt.Errorf("base url must include a host")
	}
	if extractor == nil {
		extractor = extract.New(nil)
	}
	return &Worker{
		cfg:       cfg,
		extractor: extractor,
		metrics:   metrics,
		host:      parsed.Host,
	}, nil
}

// DetailURL builds the detail page address from the primary identifier.
func (w *Worker) DetailURL(entry models.ListingEntry) string {
	base := strings.TrimSuffix(w.cfg.BaseURL, "/")
	path := "/" + strings.Trim(w.cfg.DetailPath, "/")
	return base + path + "/" + url.PathEscape(entry.ItemID)
}

// Fetch loads the entry's detail page, extracts its fields, and merges
// the listing identifiers. Navigation failures are retried with
// exponential backoff; the final failure is classified and returned as
// a hard error for this item only.
func (w *Worker) Fetch(ctx context.Context, entry models.ListingEntry) (*models.Record, error) {
	if entry.ItemID == "" {
		return nil, fmt.Errorf("listing entry missing item id")
	}
	target := w.DetailURL(entry)

	var lastErr error
	for attempt := 0; attempt <= w.cfg.MaxRetries; attempt++ {
		if attempt > 0 {
			w.metrics.IncRetries()
			if err := sleepCtx(ctx, w.backoff(attempt)); err != nil {
				return nil, err
			}
		}
		if err := ctx.Err(); err != nil {
			return nil, err
		}

		rec, err := w.visit(target)
		if err != nil {
			lastErr = err
			continue
		}

		// The page-derived identifier becomes redundant as soon as the
		// listing's primary id is merged in.
		rec.ProductID = idFromURL(target)
		return models.Merge(entry, rec), nil
	}
	return nil, lastErr
}

func (w *Worker) visit(target string) (*models.Record, error) {
	c := colly.NewCollector(
		colly.AllowedDomains(w.host),
		colly.UserAgent(w.cfg.UserAgent),
	)
	c.SetRequestTimeout(w.cfg.Timeout)
	c.IgnoreRobotsTxt = true
	if w.transport != nil {
		c.WithTransport(w.transport)
	}

	var (
		rec      *models.Record
		fetchErr error
		status   int
	)

	c.OnRequest(func(r *colly.Request) {
		r.Ctx.Put("start", time.Now())
		w.metrics.IncRequest("detail")
	})

	c.OnResponse(func(r *colly.Response) {
		if start, ok := r.Ctx.GetAny("start").(time.Time); ok {
			w.metrics.ObserveDuration(time.Since(start))
		}
	})

	c.OnHTML("html", func(e *colly.HTMLElement) {
		rec = w.extractor.Extract(e.DOM)
	})

	c.OnError(func(r *colly.Response, err error) {
		if r != nil {
			status = r.StatusCode
		}
		fetchErr = err
	})

	if err := c.Visit(target); err != nil && fetchErr == nil {
		fetchErr = err
	}
	c.Wait()

	if fetchErr != nil {
		return nil, scrape.ClassifyError(fetchErr, status)
	}
	if rec == nil {
		return nil, scrape.ClassifyError(fmt.Errorf("empty document for %s", target), status)
	}
	return rec, nil
}

func (w *Worker) backoff(attempt int) time.Duration {
	if attempt <= 0 {
		attempt = 1
	}
	base := w.cfg.RetryBackoff
	if base <= 0 {
		base = 100 * time.Millisecond
	}
	delay := base * time.Duration(1<<(attempt-1))
	if max := w.cfg.RetryBackoffMax; max > 0 && delay > max {
		delay = max
	}
	return delay
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}

// idFromURL pulls the page-derived identifier out of a detail URL.
func idFromURL(target string) string {
	parsed, err := url.Parse(target)
	if err != nil {
		return ""
	}
	segments := strings.Split(strings.Trim(parsed.Path, "/"), "/")
	if len(segments) == 0 {
		return ""
	}
	return segments[len(segments)-1]
}
