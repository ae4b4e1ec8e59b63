package data

import (
	"context"
	"math"
	"strings"
	"sync"
	"time"

	"github.com/contactkeval/option-density/internal/logger"
)

// SeriesCache holds daily bar series per ticker, loaded from a Provider on
// first use and reloaded once older than TTL. A zero TTL never expires.
type SeriesCache struct {
	Provider Provider
	From, To time.Time
	TTL      time.Duration

	now     func() time.Time
	mu      sync.Mutex
	entries map[string]cacheEntry
}

type cacheEntry struct {
	bars     []Bar
	loadedAt time.Time
}

// NewSeriesCache caches bars in [from, to] fetched through prov.
func NewSeriesCache(prov Provider, from, to time.Time, ttl time.Duration) *SeriesCache {
	return &SeriesCache{Provider: prov, From: from, To: to, TTL: ttl, now: time.Now}
}

// Bars returns the cached series for ticker, fetching it when missing or stale.
func (c *SeriesCache) Bars(ctx context.Context, ticker string) ([]Bar, error) {
	key := strings.ToUpper(ticker)

	c.mu.Lock()
	defer c.mu.Unlock()

	if c.entries == nil {
		c.entries = map[string]cacheEntry{}
	}
	if c.now == nil {
		c.now = time.Now
	}

	if e, ok := c.entries[key]; ok && (c.TTL <= 0 || c.now().Sub(e.loadedAt) < c.TTL) {
		return e.bars, nil
	}

	logger.Debugf("series cache miss for %s", key)
	bars, err := c.Provider.GetBars(ctx, ticker, c.From, c.To)
	if err != nil {
		return nil, err
	}
	c.entries[key] = cacheEntry{bars: bars, loadedAt: c.now()}
	return bars, nil
}

// LogReturns returns ln(p[i+1]/p[i]) for consecutive closes. Pairs with a
// non-positive price are skipped.
func LogReturns(closes []float64) []float64 {
	if len(closes) < 2 {
		return nil
	}
	out := make([]float64, 0, len(closes)-1)
	for i := 1; i < len(closes); i++ {
		if closes[i-1] <= 0 || closes[i] <= 0 {
			continue
		}
		out = append(out, math.Log(closes[i]/closes[i-1]))
	}
	return out
}
