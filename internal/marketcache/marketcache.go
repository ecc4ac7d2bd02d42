// Package marketcache is the freshness-tracked Market store of spec.md §4.4,
// generalized from the teacher's data.Store RWMutex-guarded OHLCV cache to a
// single keyed map of the latest Market snapshot per market id.
package marketcache

import (
	"sync"
	"time"

	"github.com/polytrader/polytrader/pkg/types"
)

const evictAfterMissedCycles = 3
const evictAfterPastEnd = time.Hour

// entry pairs a Market with the wall-clock time it was last refreshed, which
// is the freshness signal the execution gate and data validator consult —
// distinct from Market.FetchedAt, which the source client sets.
type entry struct {
	market        types.Market
	lastUpdatedAt time.Time
}

// Cache is the sole owner of Market records; readers get copies so no
// caller can mutate cached state out from under the writer.
type Cache struct {
	mu      sync.RWMutex
	markets map[string]entry
}

func New() *Cache {
	return &Cache{markets: make(map[string]entry)}
}

// Put inserts or updates a market, resetting its missed-cycle counter.
func (c *Cache) Put(m types.Market) {
	c.mu.Lock()
	defer c.mu.Unlock()
	m.MissedCycles = 0
	c.markets[m.MarketID] = entry{market: m, lastUpdatedAt: time.Now()}
}

// Fresh returns a copy of the market if it exists and was updated within
// maxAge, else (zero, false). Never serves a stale market to a caller
// asking for freshness, per spec.md §4.4.
func (c *Cache) Fresh(id string, maxAge time.Duration) (types.Market, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	e, ok := c.markets[id]
	if !ok || time.Since(e.lastUpdatedAt) > maxAge {
		return types.Market{}, false
	}
	return e.market, true
}

// Get returns a copy of the market regardless of freshness, for callers
// that perform their own staleness check (e.g. against a quote-specific age).
func (c *Cache) Get(id string) (types.Market, time.Time, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	e, ok := c.markets[id]
	if !ok {
		return types.Market{}, time.Time{}, false
	}
	return e.market, e.lastUpdatedAt, true
}

// AllActive returns copies of every market not yet evicted.
func (c *Cache) AllActive() []types.Market {
	c.mu.RLock()
	defer c.mu.RUnlock()
	out := make([]types.Market, 0, len(c.markets))
	for _, e := range c.markets {
		out = append(out, e.market)
	}
	return out
}

// ReconcileMissing marks every cached market not present in seenIDs as
// having missed a refresh cycle, and evicts per spec.md §3's lifecycle rule:
// end_time passed by more than an hour, or absent from 3 consecutive
// refreshes.
func (c *Cache) ReconcileMissing(seenIDs map[string]struct{}) (evicted []string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	now := time.Now()
	for id, e := range c.markets {
		if _, seen := seenIDs[id]; !seen {
			e.market.MissedCycles++
			c.markets[id] = e
		}
		if e.market.MissedCycles >= evictAfterMissedCycles || now.Sub(e.market.EndTime) > evictAfterPastEnd {
			delete(c.markets, id)
			evicted = append(evicted, id)
		}
	}
	return evicted
}

// Len reports the number of cached markets, for observability gauges.
func (c *Cache) Len() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.markets)
}
