// Package cache persists (page, instruction) → last-known locator
// strategy across runs, so repeat instructions skip the full resolution
// cascade. The store is a local best-effort JSON file with debounced
// writes; concurrent processes sharing one file may lose updates.
package cache

import (
	"encoding/json"
	"fmt"
	"net/url"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/polzovatel/stepwright/internal/fingerprint"
)

const (
	schemaVersion = 1

	// DefaultTTL bounds how stale a cached locator may be before get
	// refuses to return it.
	DefaultTTL = 24 * time.Hour

	defaultMaxEntries = 500
	debounceDelay     = 2 * time.Second
	sweepInterval     = time.Hour

	maxEntryAge      = 7 * 24 * time.Hour
	evictFailureRate = 0.5
	sweepFailureRate = 0.7
	sweepMinUses     = 3

	statsDecayAge   = 30 * 24 * time.Hour
	minObservations = 5

	// Recommended acceptance thresholds derived from page history.
	ThresholdFloor   = 0.4
	ThresholdDefault = 0.6
	ThresholdCeiling = 0.7
)

// Entry is one learned locator. Created on first success, updated on
// reuse, evicted on TTL expiry, failure rate or LRU pressure.
type Entry struct {
	Fingerprint  *fingerprint.Fingerprint `json:"fingerprint,omitempty"`
	Strategy     string                   `json:"strategy"`
	Description  string                   `json:"description"`
	Confidence   float64                  `json:"confidence"`
	SuccessCount int                      `json:"successCount"`
	FailureCount int                      `json:"failureCount"`
	CreatedAt    time.Time                `json:"createdAt"`
	LastUsed     time.Time                `json:"lastUsed"`
}

func (e *Entry) failureRate() float64 {
	total := e.SuccessCount + e.FailureCount
	if total == 0 {
		return 0
	}
	return float64(e.FailureCount) / float64(total)
}

// PageStats is the rolling resolution history of one page pattern,
// used to derive a per-page acceptance threshold.
type PageStats struct {
	Observations  int       `json:"observations"`
	Successes     int       `json:"successes"`
	AvgConfidence float64   `json:"avgConfidence"`
	UpdatedAt     time.Time `json:"updatedAt"`
}

type fileFormat struct {
	Version     int                   `json:"version"`
	Entries     map[string]*Entry     `json:"entries"`
	PageStats   map[string]*PageStats `json:"pageStats"`
	LastCleanup time.Time             `json:"lastCleanup"`
}

// Store is the in-memory cache plus its file persistence. Safe for
// concurrent use within one process.
type Store struct {
	mu          sync.Mutex
	path        string
	ttl         time.Duration
	maxEntries  int
	entries     map[string]*Entry
	pageStats   map[string]*PageStats
	lastCleanup time.Time
	dirty       bool
	timer       *time.Timer
	closed      bool
	now         func() time.Time
	log         zerolog.Logger
}

type Option func(*Store)

func WithTTL(ttl time.Duration) Option {
	return func(s *Store) {
		if ttl > 0 {
			s.ttl = ttl
		}
	}
}

func WithMaxEntries(n int) Option {
	return func(s *Store) {
		if n > 0 {
			s.maxEntries = n
		}
	}
}

// WithClock overrides the time source. Test hook.
func WithClock(now func() time.Time) Option {
	return func(s *Store) { s.now = now }
}

// Open loads the cache file at path, or starts empty when the file is
// missing, unreadable or carries an unknown schema version.
func Open(path string, log zerolog.Logger, opts ...Option) (*Store, error) {
	s := &Store{
		path:       path,
		ttl:        DefaultTTL,
		maxEntries: defaultMaxEntries,
		entries:    map[string]*Entry{},
		pageStats:  map[string]*PageStats{},
		now:        time.Now,
		log:        log.With().Str("comp", "cache").Logger(),
	}
	for _, opt := range opts {
		opt(s)
	}
	s.load()
	return s, nil
}

func (s *Store) load() {
	raw, err := os.ReadFile(s.path)
	if err != nil {
		if !os.IsNotExist(err) {
			s.log.Warn().Err(err).Str("path", s.path).Msg("cache file unreadable, starting empty")
		}
		return
	}
	var f fileFormat
	if err := json.Unmarshal(raw, &f); err != nil {
		s.log.Warn().Err(err).Str("path", s.path).Msg("cache file corrupt, starting empty")
		return
	}
	if f.Version != schemaVersion {
		s.log.Warn().
			Int("version", f.Version).
			Int("expected", schemaVersion).
			Msg("unknown cache schema version, rebuilding from empty")
		return
	}
	if f.Entries != nil {
		s.entries = f.Entries
	}
	if f.PageStats != nil {
		s.pageStats = f.PageStats
	}
	s.lastCleanup = f.LastCleanup
}

// Key normalizes (page URL, instruction) so query strings, fragments
// and case variation do not fragment the cache.
func Key(pageURL, instruction string) string {
	return PagePattern(pageURL) + "|" + strings.ToLower(strings.TrimSpace(instruction))
}

// PagePattern reduces a URL to scheme://host/path.
func PagePattern(pageURL string) string {
	u, err := url.Parse(strings.TrimSpace(pageURL))
	if err != nil || u.Host == "" {
		return strings.TrimSpace(pageURL)
	}
	return u.Scheme + "://" + u.Host + strings.TrimRight(u.Path, "/")
}

// Get returns the cached entry, or nil when absent, expired or failing
// too often. Expired and failing entries are evicted on the spot.
func (s *Store) Get(pageURL, instruction string) *Entry {
	s.mu.Lock()
	defer s.mu.Unlock()

	key := Key(pageURL, instruction)
	e, ok := s.entries[key]
	if !ok {
		return nil
	}
	now := s.now()
	if now.Sub(e.LastUsed) > s.ttl || e.failureRate() > evictFailureRate {
		delete(s.entries, key)
		s.markDirtyLocked()
		return nil
	}
	e.LastUsed = now
	s.markDirtyLocked()
	cp := *e
	return &cp
}

// Put upserts the learned locator for an instruction, crediting a
// success. Triggers the debounced write and, at most hourly, a sweep.
func (s *Store) Put(pageURL, instruction, strategy, description string, confidence float64, fp *fingerprint.Fingerprint) {
	s.mu.Lock()
	defer s.mu.Unlock()

	key := Key(pageURL, instruction)
	now := s.now()
	e, ok := s.entries[key]
	if !ok {
		e = &Entry{CreatedAt: now}
		s.entries[key] = e
	}
	e.Strategy = strategy
	e.Description = description
	e.Confidence = confidence
	if fp != nil {
		e.Fingerprint = fp
	}
	e.SuccessCount++
	e.LastUsed = now

	s.sweepLocked(now)
	s.markDirtyLocked()
}

// RecordFailure debits a cached entry after its locator stopped
// working; past the failure-rate bar the entry is dropped outright.
func (s *Store) RecordFailure(pageURL, instruction string) {
	s.mu.Lock()
	defer s.mu.Unlock()

	key := Key(pageURL, instruction)
	e, ok := s.entries[key]
	if !ok {
		return
	}
	e.FailureCount++
	if e.failureRate() > evictFailureRate {
		delete(s.entries, key)
	}
	s.markDirtyLocked()
}

// UpdatePageStats folds one resolution outcome into the page pattern's
// rolling history.
func (s *Store) UpdatePageStats(pageURL string, success bool, confidence float64) {
	s.mu.Lock()
	defer s.mu.Unlock()

	pattern := PagePattern(pageURL)
	now := s.now()
	st, ok := s.pageStats[pattern]
	if !ok || now.Sub(st.UpdatedAt) > statsDecayAge {
		st = &PageStats{}
		s.pageStats[pattern] = st
	}
	st.Observations++
	if success {
		st.Successes++
	}
	// Running average over all observations.
	st.AvgConfidence += (confidence - st.AvgConfidence) / float64(st.Observations)
	st.UpdatedAt = now
	s.markDirtyLocked()
}

// RecommendedThreshold derives the per-page acceptance threshold from
// history: struggling pages relax it, reliably-confident pages tighten
// it. History is only trusted after enough observations.
func (s *Store) RecommendedThreshold(pageURL string) float64 {
	s.mu.Lock()
	defer s.mu.Unlock()

	st, ok := s.pageStats[PagePattern(pageURL)]
	if !ok || st.Observations < minObservations {
		return ThresholdDefault
	}
	if s.now().Sub(st.UpdatedAt) > statsDecayAge {
		return ThresholdDefault
	}
	successRate := float64(st.Successes) / float64(st.Observations)
	switch {
	case successRate < 0.5:
		return ThresholdFloor
	case successRate > 0.9 && st.AvgConfidence > 0.7:
		return ThresholdCeiling
	default:
		return ThresholdDefault
	}
}

// Len reports the live entry count.
func (s *Store) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.entries)
}

func (s *Store) markDirtyLocked() {
	s.dirty = true
	if s.closed {
		return
	}
	if s.timer == nil {
		s.timer = time.AfterFunc(debounceDelay, func() {
			if err := s.Flush(); err != nil {
				s.log.Warn().Err(err).Msg("debounced cache write failed")
			}
		})
		return
	}
	s.timer.Reset(debounceDelay)
}

// sweepLocked removes stale, failing and LRU-excess entries, at most
// once per sweep interval.
func (s *Store) sweepLocked(now time.Time) {
	if now.Sub(s.lastCleanup) < sweepInterval {
		return
	}
	s.lastCleanup = now

	for key, e := range s.entries {
		switch {
		case now.Sub(e.CreatedAt) > maxEntryAge:
			delete(s.entries, key)
		case e.SuccessCount+e.FailureCount >= sweepMinUses && e.failureRate() > sweepFailureRate:
			delete(s.entries, key)
		}
	}

	excess := len(s.entries) - s.maxEntries
	for ; excess > 0; excess-- {
		oldestKey := ""
		var oldest time.Time
		for key, e := range s.entries {
			if oldestKey == "" || e.LastUsed.Before(oldest) {
				oldestKey = key
				oldest = e.LastUsed
			}
		}
		delete(s.entries, oldestKey)
	}

	s.log.Debug().Int("entries", len(s.entries)).Msg("cache sweep done")
}

// Flush writes the cache file immediately, cancelling any pending
// debounced write. Call at teardown so the last debounce window is not
// lost.
func (s *Store) Flush() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.flushLocked()
}

func (s *Store) flushLocked() error {
	if s.timer != nil {
		s.timer.Stop()
		s.timer = nil
	}
	if !s.dirty {
		return nil
	}
	f := fileFormat{
		Version:     schemaVersion,
		Entries:     s.entries,
		PageStats:   s.pageStats,
		LastCleanup: s.lastCleanup,
	}
	raw, err := json.MarshalIndent(f, "", "  ")
	if err != nil {
		return fmt.Errorf("encode cache: %w", err)
	}
	if dir := filepath.Dir(s.path); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("cache dir: %w", err)
		}
	}
	tmp := s.path + ".tmp"
	if err := os.WriteFile(tmp, raw, 0o644); err != nil {
		return fmt.Errorf("write cache: %w", err)
	}
	if err := os.Rename(tmp, s.path); err != nil {
		return fmt.Errorf("replace cache: %w", err)
	}
	s.dirty = false
	return nil
}

// Close flushes and stops accepting debounced writes.
func (s *Store) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closed = true
	return s.flushLocked()
}
