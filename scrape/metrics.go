package scrape

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// Metrics bundles Prometheus collectors for the scrape pipeline.
type Metrics struct {
	Registry             *prometheus.Registry
	RequestsTotal        *prometheus.CounterVec
	RequestDuration      prometheus.Histogram
	ItemsScrapedTotal    prometheus.Counter
	ItemsDroppedTotal    *prometheus.CounterVec
	PagesScannedTotal    prometheus.Counter
	RetriesTotal         prometheus.Counter
	ErrorsTotal          *prometheus.CounterVec
	BatchRecords         prometheus.Histogram
	RelayDeliveriesTotal *prometheus.CounterVec
}

// NewMetrics constructs and registers all metrics on a dedicated registry.
func NewMetrics() *Metrics {
	registry := prometheus.NewRegistry()

	requests := prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "scraper_requests_total",
			Help: "Total HTTP requests issued, by phase (listing, detail).",
		},
		[]string{"phase"},
	)
	requestDuration := prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "scraper_request_duration_seconds",
			Help:    "HTTP request latency for scraper requests.",
			Buckets: prometheus.DefBuckets,
		},
	)
	itemsScraped := prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "scraper_items_scraped_total",
			Help: "Total number of completed records appended to a batch.",
		},
	)
	itemsDropped := prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "scraper_items_dropped_total",
			Help: "Listing candidates dropped before dispatch, by reason.",
		},
		[]string{"reason"},
	)
	pagesScanned := prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "scraper_pages_scanned_total",
			Help: "Total listing pages scanned across runs.",
		},
	)
	retries := prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "scraper_retries_total",
			Help: "Total number of detail fetch retry attempts.",
		},
	)
	errorsTotal := prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "scraper_errors_total",
			Help: "Total number of scraper errors by type.",
		},
		[]string{"error_type"},
	)
	batchRecords := prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "scraper_batch_records",
			Help:    "Records per finalized batch.",
			Buckets: prometheus.ExponentialBuckets(1, 4, 8),
		},
	)
	relayDeliveries := prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "scraper_relay_deliveries_total",
			Help: "Batch forwarding attempts by outcome.",
		},
		[]string{"outcome"},
	)

	registry.MustRegister(requests, requestDuration, itemsScraped, itemsDropped,
		pagesScanned, retries, errorsTotal, batchRecords, relayDeliveries)

	return &Metrics{
		Registry:             registry,
		RequestsTotal:        requests,
		RequestDuration:      requestDuration,
		ItemsScrapedTotal:    itemsScraped,
		ItemsDroppedTotal:    itemsDropped,
		PagesScannedTotal:    pagesScanned,
		RetriesTotal:         retries,
		ErrorsTotal:          errorsTotal,
		BatchRecords:         batchRecords,
		RelayDeliveriesTotal: relayDeliveries,
	}
}

// IncRequest increments the requests total counter for a phase.
func (m *Metrics) IncRequest(phase string) {
	if m == nil {
		return
	}
	m.RequestsTotal.WithLabelValues(phase).Inc()
}

// ObserveDuration records an HTTP request duration.
func (m *Metrics) ObserveDuration(d time.Duration) {
	if m == nil {
		return
	}
	m.RequestDuration.Observe(d.Seconds())
}

// IncItems increments the completed records counter.
func (m *Metrics) IncItems() {
	if m == nil {
		return
	}
	m.ItemsScrapedTotal.Inc()
}

// IncDropped counts a listing candidate excluded before dispatch.
func (m *Metrics) IncDropped(reason string) {
	if m == nil {
		return
	}
	m.ItemsDroppedTotal.WithLabelValues(reason).Inc()
}

// IncPages counts a scanned listing page.
func (m *Metrics) IncPages() {
	if m == nil {
		return
	}
	m.PagesScannedTotal.Inc()
}

// IncRetries increments the retries counter.
func (m *Metrics) IncRetries() {
	if m == nil {
		return
	}
	m.RetriesTotal.Inc()
}

// IncError increments the errors counter for a type label.
func (m *Metrics) IncError(errorType string) {
	if m == nil {
		return
	}
	m.ErrorsTotal.WithLabelValues(errorType).Inc()
}

// ObserveBatch records the size of a finalized batch.
func (m *Metrics) ObserveBatch(records int) {
	if m == nil {
		return
	}
	m.BatchRecords.Observe(float64(records))
}

// IncDelivery counts a relay forwarding outcome.
func (m *Metrics) IncDelivery(outcome string) {
	if m == nil {
		return
	}
	m.RelayDeliveriesTotal.WithLabelValues(outcome).Inc()
}
