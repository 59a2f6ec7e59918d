// Package pricecache caches daily closing prices per symbol, on disk and in
// memory, and serves date-range queries with gap detection.
package pricecache

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/bobmcallan/tally/internal/common"
	"github.com/bobmcallan/tally/internal/models"
)

// cacheFile is the on-disk shape of one symbol's cache.
type cacheFile struct {
	Symbol    string             `json:"symbol"`
	UpdatedAt time.Time          `json:"updatedAt"`
	Ranges    []models.DateRange `json:"ranges"`
	Prices    map[string]float64 `json:"prices"`
}

// entry is the in-memory state for one symbol. Each symbol has its own lock
// so different symbols can fetch in parallel.
type entry struct {
	mu     sync.Mutex
	loaded bool
	ranges []models.DateRange
	prices map[string]float64
}

// Cache is the two-level (memory + disk) daily close cache.
type Cache struct {
	dir    string
	logger *common.Logger
	clock  common.Clock

	mu      sync.Mutex // guards entries map only
	entries map[string]*entry
}

// Option configures the cache
type Option func(*Cache)

// WithClock sets the clock used to clamp today's date
func WithClock(clock common.Clock) Option {
	return func(c *Cache) { c.clock = clock }
}

// WithLogger sets the logger
func WithLogger(logger *common.Logger) Option {
	return func(c *Cache) { c.logger = logger }
}

// New creates a price cache rooted at dir, creating it if needed.
func New(dir string, opts ...Option) (*Cache, error) {
	c := &Cache{
		dir:     dir,
		logger:  common.NewSilentLogger(),
		clock:   common.SystemClock{},
		entries: make(map[string]*entry),
	}
	for _, opt := range opts {
		opt(c)
	}
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create price cache dir: %w", err)
	}
	return c, nil
}

// sanitizeSymbol makes a symbol safe for use as a filename.
func sanitizeSymbol(symbol string) string {
	r := strings.NewReplacer("/", "_", "\\", "_", ":", "_", "=", "_", "..", "_")
	return r.Replace(symbol)
}

func (c *Cache) filePath(symbol string) string {
	return filepath.Join(c.dir, sanitizeSymbol(symbol)+".json")
}

// entryFor returns (creating if needed) the symbol's entry. The entry's own
// lock must be taken by the caller.
func (c *Cache) entryFor(symbol string) *entry {
	c.mu.Lock()
	defer c.mu.Unlock()
	e, ok := c.entries[symbol]
	if !ok {
		e = &entry{}
		c.entries[symbol] = e
	}
	return e
}

// loadLocked reads the symbol's disk file into the entry. e.mu must be held.
func (c *Cache) loadLocked(symbol string, e *entry) {
	if e.loaded {
		return
	}
	e.loaded = true
	e.prices = map[string]float64{}

	data, err := os.ReadFile(c.filePath(symbol))
	if err != nil {
		return // cold cache
	}
	var cf cacheFile
	if err := json.Unmarshal(data, &cf); err != nil {
		c.logger.Warn().Str("symbol", symbol).Err(err).Msg("Discarding unreadable price cache file")
		return
	}
	e.ranges = cf.Ranges
	if cf.Prices != nil {
		e.prices = cf.Prices
	}
}

// clampEnd pulls endKey back to yesterday when it reaches into today or
// beyond; intraday values are always refetched.
func (c *Cache) clampEnd(endKey string) string {
	today := common.DateKey(c.clock.Now())
	if endKey >= today {
		yesterday := c.clock.Now().UTC().AddDate(0, 0, -1)
		return common.DateKey(yesterday)
	}
	return endKey
}

// GetDailyCloses returns cached points for [startKey, endKey]. The second
// return is false on a gap: the caller should fetch and Record.
func (c *Cache) GetDailyCloses(symbol, startKey, endKey string) ([]models.PricePoint, bool) {
	endKey = c.clampEnd(endKey)
	if startKey > endKey {
		return nil, true // empty window is trivially covered
	}

	e := c.entryFor(symbol)
	e.mu.Lock()
	defer e.mu.Unlock()
	c.loadLocked(symbol, e)

	covered := false
	for _, r := range e.ranges {
		if r.Contains(startKey, endKey) {
			covered = true
			break
		}
	}
	if !covered {
		return nil, false
	}

	var out []models.PricePoint
	for date, price := range e.prices {
		if date >= startKey && date <= endKey {
			out = append(out, models.PricePoint{Symbol: symbol, Date: date, Close: price})
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Date < out[j].Date })
	return out, true
}

// LatestCloseAtOrBefore returns the most recent cached close on or before
// the given date key, for fallback FX lookups.
func (c *Cache) LatestCloseAtOrBefore(symbol, dateKey string) (models.PricePoint, bool) {
	e := c.entryFor(symbol)
	e.mu.Lock()
	defer e.mu.Unlock()
	c.loadLocked(symbol, e)

	best := models.PricePoint{}
	found := false
	for date, price := range e.prices {
		if date <= dateKey && (!found || date > best.Date) {
			best = models.PricePoint{Symbol: symbol, Date: date, Close: price}
			found = true
		}
	}
	return best, found
}

// Record merges fetched points and their covered range into the cache and
// persists the symbol's file. Today's key is never admitted.
func (c *Cache) Record(symbol string, fetched models.DateRange, points []models.PricePoint) error {
	today := common.DateKey(c.clock.Now())
	fetched.End = c.clampEnd(fetched.End)
	if fetched.Start > fetched.End {
		return nil
	}

	e := c.entryFor(symbol)
	e.mu.Lock()
	defer e.mu.Unlock()
	c.loadLocked(symbol, e)

	for _, p := range points {
		if p.Date >= today {
			continue
		}
		e.prices[p.Date] = p.Close
	}
	e.ranges = mergeRanges(append(e.ranges, fetched))

	cf := cacheFile{
		Symbol:    symbol,
		UpdatedAt: c.clock.Now().UTC(),
		Ranges:    e.ranges,
		Prices:    e.prices,
	}
	data, err := json.MarshalIndent(cf, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal price cache: %w", err)
	}
	data = append(data, '\n')

	tmp, err := os.CreateTemp(c.dir, ".price-*")
	if err != nil {
		return fmt.Errorf("failed to create temp file: %w", err)
	}
	tmpPath := tmp.Name()
	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		os.Remove(tmpPath)
		return fmt.Errorf("failed to write temp file: %w", err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpPath)
		return fmt.Errorf("failed to close temp file: %w", err)
	}
	if err := os.Rename(tmpPath, c.filePath(symbol)); err != nil {
		os.Remove(tmpPath)
		return fmt.Errorf("failed to rename temp file: %w", err)
	}
	return nil
}

// mergeRanges sorts and coalesces overlapping or day-adjacent ranges.
func mergeRanges(ranges []models.DateRange) []models.DateRange {
	if len(ranges) <= 1 {
		return ranges
	}
	sort.Slice(ranges, func(i, j int) bool { return ranges[i].Start < ranges[j].Start })

	out := []models.DateRange{ranges[0]}
	for _, r := range ranges[1:] {
		last := &out[len(out)-1]
		if r.Start <= last.End || isNextDay(last.End, r.Start) {
			if r.End > last.End {
				last.End = r.End
			}
			continue
		}
		out = append(out, r)
	}
	return out
}

// isNextDay reports whether b is the calendar day after a.
func isNextDay(a, b string) bool {
	ta, err := common.ParseDateKey(a)
	if err != nil {
		return false
	}
	return common.DateKey(ta.AddDate(0, 0, 1)) == b
}
