package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/shelfgrab/shelfgrab/config"
	"github.com/shelfgrab/shelfgrab/detail"
	"github.com/shelfgrab/shelfgrab/export"
	"github.com/shelfgrab/shelfgrab/extract"
	"github.com/shelfgrab/shelfgrab/listing"
	"github.com/shelfgrab/shelfgrab/models"
	"github.com/shelfgrab/shelfgrab/parser"
	"github.com/shelfgrab/shelfgrab/relay"
	"github.com/shelfgrab/shelfgrab/scrape"
	"github.com/shelfgrab/shelfgrab/store"
)

func main() {
	_ = godotenv.Load()

	defaultCfg := config.DefaultConfig()
	baseURLDefault := defaultCfg.BaseURL
	if value, ok := config.EnvString("SCRAPER_BASE_URL"); ok {
		baseURLDefault = value
	}
	pagesDefault := defaultCfg.MaxPages
	if value, ok, err := config.EnvInt("SCRAPER_PAGES"); err != nil {
		fmt.Fprintf(os.Stderr, "invalid SCRAPER_PAGES: %v\n", err)
		os.Exit(1)
	} else if ok {
		pagesDefault = value
	}
	parallelDefault := defaultCfg.Parallelism
	if value, ok, err := config.EnvInt("SCRAPER_PARALLEL"); err != nil {
		fmt.Fprintf(os.Stderr, "invalid SCRAPER_PARALLEL: %v\n", err)
		os.Exit(1)
	} else if ok {
		parallelDefault = value
	}
	outputDefault := defaultCfg.OutputDir
	if value, ok := config.EnvString("SCRAPER_OUTPUT_DIR"); ok {
		outputDefault = value
	}
	storeDefault := defaultCfg.StorePath
	if value, ok := config.EnvString("SCRAPER_STORE"); ok {
		storeDefault = value
	}
	relayDefault := ""
	if value, ok := config.EnvString("SCRAPER_RELAY_URL"); ok {
		relayDefault = value
	}
	metricsDefault := ""
	if value, ok := config.EnvString("SCRAPER_METRICS_ADDR"); ok {
		metricsDefault = value
	}

	query := flag.String("query", "", "Search text or a full listing page URL")
	baseURL := flag.String("base-url", baseURLDefault, "Base URL of the target site")
	maxPages := flag.Int("pages", pagesDefault, "Maximum listing pages to scan")
	parallelism := flag.Int("parallel", parallelDefault, "Concurrent detail fetches (1 keeps load sequential)")
	settleDelayMs := flag.Int("settle-delay", int(defaultCfg.SettleDelay/time.Millisecond), "Wait after advancing pagination (milliseconds)")
	fetchEveryMs := flag.Int("fetch-every", int(defaultCfg.FetchEvery/time.Millisecond), "Minimum interval between detail fetches (milliseconds)")
	timeoutMs := flag.Int("timeout", int(defaultCfg.Timeout/time.Millisecond), "Page load timeout (milliseconds)")
	maxRetries := flag.Int("max-retries", defaultCfg.MaxRetries, "Maximum retry attempts per detail page")
	retryBackoffMs := flag.Int("retry-backoff", int(defaultCfg.RetryBackoff/time.Millisecond), "Initial retry backoff (milliseconds)")
	retryBackoffMaxMs := flag.Int("retry-backoff-max", int(defaultCfg.RetryBackoffMax/time.Millisecond), "Maximum retry backoff (milliseconds)")
	outputDir := flag.String("output-dir", outputDefault, "Directory for CSV exports")
	filePrefix := flag.String("prefix", defaultCfg.FilePrefix, "CSV filename prefix")
	storePath := flag.String("store", storeDefault, "Result store snapshot path (empty keeps results in memory)")
	relayURL := flag.String("relay-url", relayDefault, "Relay endpoint for batch forwarding (empty disables)")
	metricsAddr := flag.String("metrics-addr", metricsDefault, "Prometheus metrics listen address (e.g. :9090)")
	itemSelector := flag.String("item-selector", "", "Override the listing item selector")

	excludeBrands := flag.String("exclude-brands", "", "Comma-separated brand names to exclude")
	shippingNA := flag.Bool("shipping-na", false, "Keep only items whose shipping is not available")
	pickupNA := flag.Bool("pickup-na", false, "Keep only items whose pickup is not available")
	deliveryNA := flag.Bool("delivery-na", false, "Keep only items whose delivery is not available")
	fulfillToday := flag.Bool("fulfill-today", false, "Restrict the search to same-day fulfillment")
	savedOptions := flag.Bool("saved-options", false, "Reuse the scrape options cached from the previous run")

	verbose := flag.Bool("v", false, "Enable verbose logging")

	flag.Parse()

	logger, level := newLogger(*verbose)
	slog.SetDefault(logger)
	slog.SetLogLoggerLevel(level.Level())

	cfg := defaultCfg
	cfg.BaseURL = *baseURL
	cfg.MaxPages = *maxPages
	cfg.Parallelism = *parallelism
	cfg.SettleDelay = time.Duration(*settleDelayMs) * time.Millisecond
	cfg.FetchEvery = time.Duration(*fetchEveryMs) * time.Millisecond
	cfg.Timeout = time.Duration(*timeoutMs) * time.Millisecond
	cfg.MaxRetries = *maxRetries
	cfg.RetryBackoff = time.Duration(*retryBackoffMs) * time.Millisecond
	cfg.RetryBackoffMax = time.Duration(*retryBackoffMaxMs) * time.Millisecond
	cfg.OutputDir = *outputDir
	cfg.FilePrefix = *filePrefix
	cfg.StorePath = *storePath
	cfg.RelayURL = *relayURL
	cfg.MetricsAddr = *metricsAddr
	cfg.Verbose = *verbose

	if err := cfg.Validate(); err != nil {
		slog.Error("invalid configuration", slog.Any("error", err))
		os.Exit(1)
	}

	st := store.New(cfg.StorePath)
	if err := st.Load(); err != nil {
		slog.Warn("loading result store failed, starting empty", slog.Any("error", err))
	}

	opts := &config.ScrapeOptions{
		ExcludeBrands:           parser.SplitList(*excludeBrands),
		ShippingUnavailableOnly: *shippingNA,
		PickupUnavailableOnly:   *pickupNA,
		DeliveryUnavailableOnly: *deliveryNA,
		FulfillToday:            *fulfillToday,
	}
	if *savedOptions {
		if cached := st.Options(); cached != nil {
			opts = cached
			slog.Info("reusing cached scrape options")
		} else {
			slog.Warn("no cached scrape options found, using flags")
		}
	}

	metrics := scrape.NewMetrics()

	listingSel := listing.DefaultSelectors()
	if *itemSelector != "" {
		listingSel.Item = *itemSelector
	}
	enumerator := listing.New(cfg, listingSel, metrics)

	worker, err := detail.New(cfg, extract.New(nil), metrics)
	if err != nil {
		slog.Error("initialising detail worker", slog.Any("error", err))
		os.Exit(1)
	}

	var forwarder *relay.Client
	var orchForwarder scrape.Forwarder
	if cfg.RelayURL != "" {
		forwarder = relay.NewClient(cfg.RelayURL, cfg.RelayTimeout)
		orchForwarder = forwarder
	}

	orch := scrape.New(cfg, enumerator, worker, st, orchForwarder, metrics)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	go func() {
		<-ctx.Done()
		slog.Info("shutdown signal received, finishing in-flight work")
	}()

	var metricsServer *http.Server
	if cfg.MetricsAddr != "" {
		metricsServer = &http.Server{
			Addr:    cfg.MetricsAddr,
			Handler: promhttp.HandlerFor(metrics.Registry, promhttp.HandlerOpts{}),
		}
		go func() {
			if err := metricsServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				slog.Error("metrics server failed", slog.Any("error", err))
			}
		}()
		slog.Info("metrics server enabled", slog.String("addr", cfg.MetricsAddr))
	}

	target := listing.BuildTargetURL(cfg, *query, opts)
	slog.Info("starting scrape",
		slog.String("target", target),
		slog.Int("pages", cfg.MaxPages),
		slog.Int("workers", cfg.Parallelism),
	)

	result, err := orch.Run(ctx, target, opts)
	if err != nil {
		slog.Error("scraping failed", slog.Any("error", err))
		os.Exit(1)
	}

	batch, err := st.Get(result.Timestamp)
	if err != nil {
		slog.Error("reading back stored batch", slog.Any("error", err))
		os.Exit(1)
	}

	outputFile := filepath.Join(cfg.OutputDir, export.Filename(cfg.FilePrefix, result.Timestamp))
	writer, err := export.NewFileWriter(outputFile)
	if err != nil {
		slog.Error("creating csv writer", slog.Any("error", err))
		os.Exit(1)
	}
	if err := writer.Write(batch); err != nil {
		slog.Error("writing csv export", slog.Any("error", err))
		os.Exit(1)
	}
	if err := writer.Validate(); err != nil {
		slog.Error("output validation failed", slog.Any("error", err))
		os.Exit(1)
	}

	delivery := awaitDelivery(forwarder, result.Timestamp, cfg.RelayTimeout)

	if metricsServer != nil {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		if err := metricsServer.Shutdown(shutdownCtx); err != nil {
			slog.Error("metrics server shutdown failed", slog.Any("error", err))
		}
		cancel()
	}

	printSummary(result, outputFile, delivery)
}

// awaitDelivery gives the fire-and-forget forwarding a chance to finish
// before the process exits, so the outcome makes it into the summary.
func awaitDelivery(client *relay.Client, timestamp string, timeout time.Duration) *relay.Delivery {
	if client == nil {
		return nil
	}
	deadline := time.Now().Add(timeout)
	for {
		if d, ok := client.Delivery(timestamp); ok && d.State != relay.DeliveryPending {
			return &d
		}
		if time.Now().After(deadline) {
			d, ok := client.Delivery(timestamp)
			if !ok {
				return nil
			}
			return &d
		}
		time.Sleep(100 * time.Millisecond)
	}
}

func printSummary(result *models.RunResult, outputFile string, delivery *relay.Delivery) {
	separator := "--------------------------------------------------"
	fmt.Println("\n" + separator)
	fmt.Println("Scrape complete")
	fmt.Printf("  Batch:         %s\n", result.Timestamp)
	fmt.Printf("  Entries:       %d\n", result.EntryCount)
	fmt.Printf("  Records:       %d\n", result.TotalCount)
	fmt.Printf("  Failed items:  %d\n", result.ErrorCount)
	if len(result.ErrorsByType) > 0 {
		fmt.Printf("  Error types:   %v\n", result.ErrorsByType)
	}
	fmt.Printf("  Duration:      %v\n", result.Duration())
	fmt.Printf("  Output file:   %s\n", outputFile)
	if delivery != nil {
		fmt.Printf("  Relay:         %s\n", delivery.State)
		if delivery.Error != "" {
			fmt.Printf("  Relay error:   %s\n", delivery.Error)
		}
	}
	fmt.Println(separator)
}

func newLogger(verbose bool) (*slog.Logger, *slog.LevelVar) {
	level := &slog.LevelVar{}
	if verbose {
		level.Set(slog.LevelDebug)
	} else {
		level.Set(slog.LevelInfo)
	}

	opts := &slog.HandlerOptions{Level: level}
	var handler slog.Handler
	if isTerminal(os.Stdout) {
		handler = slog.NewTextHandler(os.Stdout, opts)
	} else {
		handler = slog.NewJSONHandler(os.Stdout, opts)
	}

	return slog.New(handler), level
}

func isTerminal(f *os.File) bool {
	info, err := f.Stat()
	if err != nil {
		return false
	}
	return (info.Mode() & os.ModeCharDevice) != 0
}
