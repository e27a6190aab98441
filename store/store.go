// Package store keeps completed batches keyed by run timestamp, plus
// the cached scrape options, with an optional JSON snapshot on disk.
package store

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/shelfgrab/shelfgrab/config"
	"github.com/shelfgrab/shelfgrab/models"
)

// ErrNotFound is returned when no batch exists for a timestamp.
var ErrNotFound = errors.New("store: batch not found")

// timestampLayout keeps millisecond precision; fractional seconds only
// format after a dot, so the dot is swapped for a dash afterwards to
// keep the key lexically sortable and filename-safe.
const timestampLayout = "2006-01-02T15-04-05.000Z"

// NewTimestamp returns a fresh sortable batch key. Sub-millisecond
// collisions fall under last-write-wins, which Put accepts.
func NewTimestamp() string {
	return formatTimestamp(time.Now())
}

func formatTimestamp(t time.Time) string {
	return strings.ReplaceAll(t.UTC().Format(timestampLayout), ".", "-")
}

// Store is safe for concurrent use. Batches are append-only: a written
// timestamp is never mutated, only read or superseded by a newer one.
type Store struct {
	mu      sync.RWMutex
	batches map[string]models.Batch
	opts    *config.ScrapeOptions
	path    string
}

// snapshot is the on-disk layout.
type snapshot struct {
	ScrapeOptions *config.ScrapeOptions   `json:"scrapeOptions,omitempty"`
	AllResults    map[string]models.Batch `json:"allResults"`
}

// New builds a store backed by the snapshot file at path; an empty
// path keeps everything in memory.
func New(path string) *Store {
	return &Store{
		batches: make(map[string]models.Batch),
		path:    path,
	}
}

// Load reads the snapshot file. A missing file is not an error.
func (s *Store) Load() error {
	if s.path == "" {
		return nil
	}
	data, err := os.ReadFile(s.path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return fmt.Errorf("read store snapshot: %w", err)
	}

	var snap snapshot
	if err := json.Unmarshal(data, &snap); err != nil {
		return fmt.Errorf("decode store snapshot: %w", err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	s.opts = snap.ScrapeOptions
	s.batches = snap.AllResults
	if s.batches == nil {
		s.batches = make(map[string]models.Batch)
	}
	return nil
}

// Put stores a batch under a timestamp and flushes the snapshot.
// Writing an existing timestamp overwrites it (last-write-wins).
func (s *Store) Put(timestamp string, batch models.Batch) error {
	if strings.TrimSpace(timestamp) == "" {
		return fmt.Errorf("timestamp cannot be empty")
	}

	s.mu.Lock()
	s.batches[timestamp] = batch
	s.mu.Unlock()

	return s.flush()
}

// Get retrieves the batch stored under a timestamp.
func (s *Store) Get(timestamp string) (models.Batch, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	batch, ok := s.batches[timestamp]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrNotFound, timestamp)
	}
	return batch, nil
}

// Timestamps lists all known batch keys, oldest first.
func (s *Store) Timestamps() []string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]string, 0, len(s.batches))
	for ts := range s.batches {
		out = append(out, ts)
	}
	sort.Strings(out)
	return out
}

// Latest returns the newest batch and its timestamp.
func (s *Store) Latest() (string, models.Batch, error) {
	timestamps := s.Timestamps()
	if len(timestamps) == 0 {
		return "", nil, ErrNotFound
	}
	ts := timestamps[len(timestamps)-1]
	batch, err := s.Get(ts)
	return ts, batch, err
}

// SaveOptions caches the latest scrape options and flushes.
func (s *Store) SaveOptions(opts *config.ScrapeOptions) error {
	s.mu.Lock()
	s.opts = opts
	s.mu.Unlock()
	return s.flush()
}

// Options returns the cached scrape options, or nil when none were
// saved yet.
func (s *Store) Options() *config.ScrapeOptions {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.opts
}

// flush writes the snapshot atomically via a temp file rename.
func (s *Store) flush() error {
	if s.path == "" {
		return nil
	}

	s.mu.RLock()
	snap := snapshot{
		ScrapeOptions: s.opts,
		AllResults:    s.batches,
	}
	data, err := json.Marshal(snap)
	s.mu.RUnlock()
	if err != nil {
		return fmt.Errorf("encode store snapshot: %w", err)
	}

	dir := filepath.Dir(s.path)
	if dir != "" && dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("create store directory %q: %w", dir, err)
		}
	}

	tmp := s.path + ".tmp"
	if err := os.WriteFile(tmp, data, 0o644); err != nil {
		return fmt.Errorf("write store snapshot: %w", err)
	}
	if err := os.Rename(tmp, s.path); err != nil {
		return fmt.Errorf("replace store snapshot: %w", err)
	}
	return nil
}
