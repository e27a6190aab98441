package detail

import (
	"context"
	"errors"
	"net/http"
	"strings"
	"testing"
	"time"

	"github.com/jarcoal/httpmock"

	"github.com/shelfgrab/shelfgrab/config"
	"github.com/shelfgrab/shelfgrab/models"
	"github.com/shelfgrab/shelfgrab/scrape"
)

func testConfig() *config.Config {
	cfg := config.DefaultConfig()
	cfg.BaseURL = "https://site.example.test"
	cfg.Timeout = 2 * time.Second
	cfg.MaxRetries = 1
	cfg.RetryBackoff = time.Millisecond
	cfg.RetryBackoffMax = 5 * time.Millisecond
	return cfg
}

func htmlResponder(body string) httpmock.Responder {
	resp := httpmock.NewStringResponse(200, body)
	resp.Header.Set("Content-Type", "text/html")
	return httpmock.ResponderFromResponse(resp)
}

func detailPage(title string) string {
	var sb strings.Builder
	sb.WriteString(`<html><body>`)
	sb.WriteString(`<h1 data-fs-element="name">` + title + `</h1>`)
	sb.WriteString(`<a data-seo-id="brand-name">Acme</a>`)
	sb.WriteString(`<div class="buy-box-container"><span itemprop="price">$19.99</span></div>`)
	sb.WriteString(`</body></html>`)
	return sb.String()
}

func newWorker(t *testing.T, cfg *config.Config, transport http.RoundTripper) *Worker {
	t.Helper()
	w, err := New(cfg, nil, nil)
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}
	w.transport = transport
	return w
}

func TestDetailURL(t *testing.T) {
	w := newWorker(t, testConfig(), nil)

	entry := models.ListingEntry{ItemID: "A1"}
	if got := w.DetailURL(entry); got != "https://site.example.test/ip/A1" {
		t.Errorf("DetailURL() = %q", got)
	}

	entry = models.ListingEntry{ItemID: "has space"}
	if got := w.DetailURL(entry); got != "https://site.example.test/ip/has%20space" {
		t.Errorf("DetailURL() = %q", got)
	}
}

func TestFetchSuccess(t *testing.T) {
	transport := httpmock.NewMockTransport()
	transport.RegisterResponder("GET", "https://site.example.test/ip/A1",
		htmlResponder(detailPage("Steel Widget")))

	w := newWorker(t, testConfig(), transport)
	rec, err := w.Fetch(context.Background(), models.ListingEntry{ItemID: "A1", ProductID: "p-100"})
	if err != nil {
		t.Fatalf("Fetch() error = %v", err)
	}

	if rec.ItemID != "A1" {
		t.Errorf("ItemID = %q, want A1", rec.ItemID)
	}
	// The listing id is authoritative; the page-derived id is dropped.
	if rec.ProductID != "" {
		t.Errorf("ProductID = %q, want empty", rec.ProductID)
	}
	if rec.Title != "Steel Widget" || rec.Brand != "Acme" || rec.Price != "19.99" {
		t.Errorf("extracted record = %+v", rec)
	}
}

func TestFetchMissingItemID(t *testing.T) {
	w := newWorker(t, testConfig(), httpmock.NewMockTransport())
	if _, err := w.Fetch(context.Background(), models.ListingEntry{}); err == nil {
		t.Error("Fetch() without item id succeeded, want error")
	}
}

func TestFetchNotFound(t *testing.T) {
	transport := httpmock.NewMockTransport()
	transport.RegisterResponder("GET", "https://site.example.test/ip/gone",
		httpmock.NewStringResponder(404, "not here"))

	w := newWorker(t, testConfig(), transport)
	_, err := w.Fetch(context.Background(), models.ListingEntry{ItemID: "gone"})

	var notFound scrape.ErrPageNotFound
	if !errors.As(err, &notFound) {
		t.Errorf("Fetch() error = %v, want ErrPageNotFound", err)
	}
}

func TestFetchRetriesThenSucceeds(t *testing.T) {
	transport := httpmock.NewMockTransport()
	calls := 0
	transport.RegisterResponder("GET", "https://site.example.test/ip/A1",
		func(req *http.Request) (*http.Response, error) {
			calls++
			if calls == 1 {
				return httpmock.NewStringResponse(500, "flaky"), nil
			}
			resp := httpmock.NewStringResponse(200, detailPage("Steel Widget"))
			resp.Header.Set("Content-Type", "text/html")
			return resp, nil
		})

	w := newWorker(t, testConfig(), transport)
	rec, err := w.Fetch(context.Background(), models.ListingEntry{ItemID: "A1"})
	if err != nil {
		t.Fatalf("Fetch() after retry error = %v", err)
	}
	if calls != 2 {
		t.Errorf("responder called %d times, want 2", calls)
	}
	if rec.Title != "Steel Widget" {
		t.Errorf("Title = %q", rec.Title)
	}
}

func TestFetchGivesUpAfterRetries(t *testing.T) {
	transport := httpmock.NewMockTransport()
	calls := 0
	transport.RegisterResponder("GET", "https://site.example.test/ip/A1",
		func(req *http.Request) (*http.Response, error) {
			calls++
			return httpmock.NewStringResponse(500, "still broken"), nil
		})

	w := newWorker(t, testConfig(), transport)
	if _, err := w.Fetch(context.Background(), models.ListingEntry{ItemID: "A1"}); err == nil {
		t.Fatal("Fetch() succeeded, want error after retries exhausted")
	}
	if calls != 2 {
		t.Errorf("responder called %d times, want 2 (initial try plus one retry)", calls)
	}
}

func TestFetchCancelledContext(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	w := newWorker(t, testConfig(), httpmock.NewMockTransport())
	if _, err := w.Fetch(ctx, models.ListingEntry{ItemID: "A1"}); !errors.Is(err, context.Canceled) {
		t.Errorf("Fetch() error = %v, want context.Canceled", err)
	}
}

func TestBackoffGrowsAndCaps(t *testing.T) {
	cfg := testConfig()
	cfg.RetryBackoff = 100 * time.Millisecond
	cfg.RetryBackoffMax = 250 * time.Millisecond
	w := newWorker(t, cfg, nil)

	tests := []struct {
		attempt int
		want    time.Duration
	}{
		{1, 100 * time.Millisecond},
		{2, 200 * time.Millisecond},
		{3, 250 * time.Millisecond},
		{4, 250 * time.Millisecond},
	}
	for _, tt := range tests {
		if got := w.backoff(tt.attempt); got != tt.want {
			t.Errorf("backoff(%d) = %v, want %v", tt.attempt, got, tt.want)
		}
	}
}
