// Package scrape drives a scrape run: listing enumeration, paced detail
// dispatch, batch collection, and finalization into the result store.
package scrape

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	lru "github.com/hashicorp/golang-lru/v2"
	"golang.org/x/time/rate"

	"github.com/shelfgrab/shelfgrab/config"
	"github.com/shelfgrab/shelfgrab/models"
	"github.com/shelfgrab/shelfgrab/store"
)

// State is the orchestrator's current phase.
type State int32

const (
	StateIdle State = iota
	StateEnumerating
	StateDispatching
	StateFinalizing
)

func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateEnumerating:
		return "enumerating"
	case StateDispatching:
		return "dispatching"
	case StateFinalizing:
		return "finalizing"
	default:
		return fmt.Sprintf("state(%d)", int32(s))
	}
}

// Enumerator yields the ordered listing entries for a target URL.
type Enumerator interface {
	Enumerate(ctx context.Context, target string, opts *config.ScrapeOptions) ([]models.ListingEntry, error)
}

// Fetcher loads one detail page and returns the completed record.
type Fetcher interface {
	Fetch(ctx context.Context, entry models.ListingEntry) (*models.Record, error)
}

// Forwarder hands a finalized batch to the external relay.
type Forwarder interface {
	Forward(ctx context.Context, timestamp string, batch models.Batch) error
}

// Orchestrator owns the run lifecycle. A single instance runs at most
// one scrape at a time; Run reports ErrBusy otherwise.
type Orchestrator struct {
	cfg       *config.Config
	enum      Enumerator
	fetcher   Fetcher
	store     *store.Store
	forwarder Forwarder // optional
	Metrics   *Metrics

	state   atomic.Int32
	limiter *rate.Limiter
}

// New wires an orchestrator. forwarder may be nil to disable batch
// forwarding; metrics may be nil.
func New(cfg *config.Config, enum Enumerator, fetcher Fetcher, st *store.Store, forwarder Forwarder, metrics *Metrics) *Orchestrator {
	every := rate.Inf
	if cfg.FetchEvery > 0 {
		every = rate.Every(cfg.FetchEvery)
	}
	return &Orchestrator{
		cfg:       cfg,
		enum:      enum,
		fetcher:   fetcher,
		store:     st,
		forwarder: forwarder,
		Metrics:   metrics,
		limiter:   rate.NewLimiter(every, 1),
	}
}

// State reports the current phase.
func (o *Orchestrator) State() State {
	return State(o.state.Load())
}

// run holds the state owned by one scrape run. A new run always starts
// from a fresh instance; nothing is merged across runs.
type run struct {
	mu           sync.Mutex
	batch        models.Batch
	failedItems  []string
	errorsByType map[string]int
}

func (r *run) append(rec *models.Record) {
	r.mu.Lock()
	r.batch = append(r.batch, rec)
	r.mu.Unlock()
}

func (r *run) recordFailure(itemID string, category string) {
	r.mu.Lock()
	r.failedItems = append(r.failedItems, itemID)
	r.errorsByType[category]++
	r.mu.Unlock()
}

// Run executes one scrape: Idle -> Enumerating -> Dispatching ->
// Finalizing -> Idle. The scrape options are cached in the store for
// the next run. A listing page that cannot be loaded is fatal; any
// other failure only affects its own item.
func (o *Orchestrator) Run(ctx context.Context, target string, opts *config.ScrapeOptions) (*models.RunResult, error) {
	if !o.state.CompareAndSwap(int32(StateIdle), int32(StateEnumerating)) {
		return nil, ErrBusy
	}
	defer o.state.Store(int32(StateIdle))

	if opts == nil {
		opts = &config.ScrapeOptions{}
	}
	if err := o.store.SaveOptions(opts); err != nil {
		slog.Warn("caching scrape options failed", slog.Any("error", err))
	}

	start := time.Now()
	slog.Info("scrape started", slog.String("target", target))

	entries, err := o.enum.Enumerate(ctx, target, opts)
	if err != nil {
		return nil, fmt.Errorf("enumerate listing: %w", err)
	}
	slog.Info("listing enumerated", slog.Int("entries", len(entries)))

	o.state.Store(int32(StateDispatching))
	rn := &run{errorsByType: make(map[string]int)}
	o.dispatch(ctx, entries, rn)

	o.state.Store(int32(StateFinalizing))
	timestamp, err := o.finalize(rn)
	if err != nil {
		return nil, err
	}

	result := &models.RunResult{
		Timestamp:    timestamp,
		StartTime:    start,
		EndTime:      time.Now(),
		EntryCount:   len(entries),
		TotalCount:   len(rn.batch),
		ErrorCount:   len(rn.failedItems),
		FailedItems:  rn.failedItems,
		ErrorsByType: rn.errorsByType,
	}
	slog.Info("scrape finished",
		slog.String("timestamp", timestamp),
		slog.Int("records", result.TotalCount),
		slog.Int("errors", result.ErrorCount),
	)
	return result, nil
}

// dispatch feeds entries to the worker pool. Parallelism is 1 by
// default so at most one detail fetch is in flight; the contract
// generalizes to N workers with the batch append staying atomic and a
// join barrier preceding finalization.
func (o *Orchestrator) dispatch(ctx context.Context, entries []models.ListingEntry, rn *run) {
	seen, err := lru.New[string, struct{}](o.cfg.DedupeMaxSize)
	if err != nil {
		// Only possible with a non-positive size, which Validate rejects.
		seen = nil
	}

	queue := make(chan models.ListingEntry, len(entries))
	for _, entry := range entries {
		if entry.ItemID == "" {
			o.Metrics.IncDropped("missing_item_id")
			continue
		}
		if seen != nil {
			if _, dup := seen.Get(entry.ItemID); dup {
				o.Metrics.IncDropped("duplicate")
				continue
			}
			seen.Add(entry.ItemID, struct{}{})
		}
		queue <- entry
	}
	close(queue)

	workers := o.cfg.Parallelism
	if workers <= 0 {
		workers = 1
	}

	var wg sync.WaitGroup
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			o.worker(ctx, queue, rn)
		}()
	}
	wg.Wait()
}

func (o *Orchestrator) worker(ctx context.Context, queue <-chan models.ListingEntry, rn *run) {
	for entry := range queue {
		// Cancellation is observed between items; the batch collected so
		// far still gets finalized.
		if ctx.Err() != nil {
			return
		}
		if err := o.limiter.Wait(ctx); err != nil {
			return
		}

		rec, err := o.fetcher.Fetch(ctx, entry)
		if err != nil {
			category := ErrorTypeLabel(err)
			slog.Error("detail fetch failed",
				slog.String("item_id", entry.ItemID),
				slog.String("category", category),
				slog.Any("error", err),
			)
			o.Metrics.IncError(category)
			rn.recordFailure(entry.ItemID, category)

			// A failed item still advances the queue, recorded as a
			// partial record with an error marker.
			rec = &models.Record{ItemID: entry.ItemID}
			rec.SetExtra(models.FieldScrapeError, err.Error())
			rn.append(rec)
			continue
		}

		rn.append(models.Merge(entry, rec))
		o.Metrics.IncItems()
	}
}

// finalize assigns a fresh timestamp, persists the batch, and kicks off
// forwarding without waiting for it.
func (o *Orchestrator) finalize(rn *run) (string, error) {
	timestamp := store.NewTimestamp()
	if err := o.store.Put(timestamp, rn.batch); err != nil {
		return "", fmt.Errorf("persist batch: %w", err)
	}
	o.Metrics.ObserveBatch(len(rn.batch))

	if o.forwarder != nil {
		batch := rn.batch
		timeout := o.cfg.RelayTimeout
		if timeout <= 0 {
			timeout = 30 * time.Second
		}
		go func() {
			ctx, cancel := context.WithTimeout(context.Background(), timeout)
			defer cancel()
			if err := o.forwarder.Forward(ctx, timestamp, batch); err != nil {
				slog.Error("batch forwarding failed",
					slog.String("timestamp", timestamp),
					slog.Any("error", err),
				)
				o.Metrics.IncDelivery("failed")
				return
			}
			o.Metrics.IncDelivery("delivered")
		}()
	}
	return timestamp, nil
}
