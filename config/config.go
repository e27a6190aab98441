// Package config holds scraper and relay configuration.
package config

import (
	"fmt"
	"net/url"
	"time"
)

// Config holds the knobs for a scrape run and the relay server.
type Config struct {
	BaseURL    string
	SearchPath string // listing search path on the target site
	DetailPath string // detail page path, joined with the item ID

	MaxPages    int
	Parallelism int           // concurrent detail fetches; 1 keeps site load sequential
	SettleDelay time.Duration // wait after advancing pagination
	FetchEvery  time.Duration // minimum interval between detail fetches
	Timeout     time.Duration

	MaxRetries      int
	RetryBackoff    time.Duration
	RetryBackoffMax time.Duration

	DedupeMaxSize int

	OutputDir  string
	FilePrefix string
	StorePath  string // result store snapshot; empty keeps results in memory

	RelayURL     string // batch forwarding endpoint; empty disables forwarding
	RelayTimeout time.Duration

	SheetsURL  string // upstream spreadsheet endpoint, used by the relay server
	ListenAddr string
	Mode       string // gin mode: debug, release, or test

	MetricsAddr string
	UserAgent   string
	Verbose     bool
}

// ScrapeOptions are the user-selected inclusion rules for one run. They
// affect listing enumeration only; the cached copy is reused as the
// defaults for the next run.
type ScrapeOptions struct {
	ExcludeBrands           []string `json:"excludeBrands,omitempty"`
	ShippingUnavailableOnly bool     `json:"shippingUnavailableOnly"`
	PickupUnavailableOnly   bool     `json:"pickupUnavailableOnly"`
	DeliveryUnavailableOnly bool     `json:"deliveryUnavailableOnly"`
	FulfillToday            bool     `json:"fulfillToday"`
}

// DefaultConfig returns conservative defaults for the demo target.
func DefaultConfig() *Config {
	return &Config{
		BaseURL:         "https://www.walmart.com",
		SearchPath:      "/search",
		DetailPath:      "/ip",
		MaxPages:        25,
		Parallelism:     1,
		SettleDelay:     2 * time.Second,
		FetchEvery:      time.Second,
		Timeout:         15 * time.Second,
		MaxRetries:      2,
		RetryBackoff:    200 * time.Millisecond,
		RetryBackoffMax: 2 * time.Second,
		DedupeMaxSize:   10000,
		OutputDir:       "output",
		FilePrefix:      "product_data",
		StorePath:       "output/results.json",
		RelayTimeout:    30 * time.Second,
		ListenAddr:      ":3000",
		Mode:            "release",
		UserAgent:       "Mozilla/5.0 (X11; Linux x86_64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/117.0.0.0 Safari/537.36",
	}
}

// Validate ensures all configuration values are coherent.
func (c *Config) Validate() error {
	if c.BaseURL == "" {
		return fmt.Errorf("base URL cannot be empty")
	}
	parsedURL, err := url.Parse(c.BaseURL)
	if err != nil {
		return fmt.Errorf("invalid base URL: %w", err)
	}
	if parsedURL.Host == "" {
		return fmt.Errorf("base URL must include a host")
	}

	if c.MaxPages <= 0 {
		return fmt.Errorf("max pages must be positive")
	}
	if c.Parallelism <= 0 {
		return fmt.Errorf("parallelism must be positive")
	}
	if c.SettleDelay < 0 {
		return fmt.Errorf("settle delay cannot be negative")
	}
	if c.FetchEvery < 0 {
		return fmt.Errorf("fetch interval cannot be negative")
	}
	if c.Timeout <= 0 {
		return fmt.Errorf("timeout must be positive")
	}
	if c.MaxRetries < 0 {
		return fmt.Errorf("max retries cannot be negative")
	}
	if c.RetryBackoff < 0 {
		return fmt.Errorf("retry backoff cannot be negative")
	}
	if c.RetryBackoffMax < 0 {
		return fmt.Errorf("retry backoff max cannot be negative")
	}
	if c.RetryBackoffMax > 0 && c.RetryBackoff > c.RetryBackoffMax {
		return fmt.Errorf("retry backoff (%s) cannot exceed retry backoff max (%s)", c.RetryBackoff, c.RetryBackoffMax)
	}
	if c.DedupeMaxSize <= 0 {
		return fmt.Errorf("dedupe max size must be positive")
	}
	if c.FilePrefix == "" {
		return fmt.Errorf("file prefix cannot be empty")
	}
	if c.RelayURL != "" {
		if _, err := url.Parse(c.RelayURL); err != nil {
			return fmt.Errorf("invalid relay URL: %w", err)
		}
	}
	if c.UserAgent == "" {
		return fmt.Errorf("user agent cannot be empty")
	}
	return nil
}
