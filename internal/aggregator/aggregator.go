// Package aggregator computes a ConsensusPrice from multiple PriceQuotes,
// per spec.md §4.3: staleness filtering, median-based outlier rejection,
// and a confidence score that degrades with disagreement and reduced
// source count. The scoring idiom (weighted checks producing a bounded
// score) is grounded on the teacher's data/quality.go data-quality scorer.
package aggregator

import (
	"math"
	"sort"
	"sync"
	"time"

	"github.com/polytrader/polytrader/pkg/types"
	"github.com/shopspring/decimal"
)

// Aggregator holds per-symbol quote buffers: one slot per configured source,
// refreshed by the driver each cycle (and, if streaming is enabled, pushed
// to directly by the stream reader) — hence the mutex, since those two
// writers run on different goroutines.
type Aggregator struct {
	stalenessMs      int64
	outlierThreshold float64
	configuredSources int

	mu     sync.Mutex
	quotes map[string]map[string]types.PriceQuote // symbol -> source -> quote
}

func New(stalenessMs int64, outlierThreshold float64, configuredSources int) *Aggregator {
	return &Aggregator{
		stalenessMs:       stalenessMs,
		outlierThreshold:  outlierThreshold,
		configuredSources: configuredSources,
		quotes:            make(map[string]map[string]types.PriceQuote),
	}
}

// Ingest records (or replaces) the latest quote for (symbol, source).
func (a *Aggregator) Ingest(q types.PriceQuote) {
	a.mu.Lock()
	defer a.mu.Unlock()
	bySource, ok := a.quotes[q.Symbol]
	if !ok {
		bySource = make(map[string]types.PriceQuote)
		a.quotes[q.Symbol] = bySource
	}
	bySource[q.Source] = q
}

// BestPrice implements spec.md §4.3's algorithm, returning nil if fewer than
// one quote survives staleness + outlier filtering.
func (a *Aggregator) BestPrice(symbol string) *types.ConsensusPrice {
	a.mu.Lock()
	bySourceOrig, ok := a.quotes[symbol]
	bySource := make(map[string]types.PriceQuote, len(bySourceOrig))
	for k, v := range bySourceOrig {
		bySource[k] = v
	}
	a.mu.Unlock()
	if !ok || len(bySource) == 0 {
		return nil
	}

	now := time.Now()
	var fresh []types.PriceQuote
	for _, q := range bySource {
		age := now.Sub(q.Timestamp)
		if age.Milliseconds() > a.stalenessMs {
			continue
		}
		q.AgeMs = age.Milliseconds()
		fresh = append(fresh, q)
	}
	if len(fresh) == 0 {
		return nil
	}

	survivors := fresh
	if len(fresh) >= 2 {
		m := median(fresh)
		var kept []types.PriceQuote
		for _, q := range fresh {
			price, _ := q.Price.Float64()
			if m == 0 || math.Abs(price-m)/m <= a.outlierThreshold {
				kept = append(kept, q)
			}
		}
		if len(kept) > 0 {
			survivors = kept
		}
	}
	if len(survivors) == 0 {
		return nil
	}

	finalMedian := median(survivors)
	sources := make([]string, 0, len(survivors))
	for _, q := range survivors {
		sources = append(sources, q.Source)
	}
	sort.Strings(sources)

	confidence := confidenceFor(survivors, finalMedian, a.configuredSources)

	stale := false
	for _, q := range survivors {
		if q.AgeMs > a.stalenessMs {
			stale = true
		}
	}

	return &types.ConsensusPrice{
		Symbol:     symbol,
		Median:     decimal.NewFromFloat(finalMedian).Round(8),
		Sources:    sources,
		Confidence: confidence,
		Stale:      stale,
		ComputedAt: now,
	}
}

// confidenceFor implements spec.md §4.3 step 4: 0.5 + 0.5*(survivors/total
// configured), reduced by 0.1 per order-of-magnitude of spread above 0.5%.
func confidenceFor(survivors []types.PriceQuote, m float64, configuredSources int) float64 {
	if configuredSources <= 0 {
		configuredSources = len(survivors)
	}
	confidence := 0.5 + 0.5*(float64(len(survivors))/float64(configuredSources))

	if m > 0 && len(survivors) > 1 {
		maxSpread := 0.0
		for _, q := range survivors {
			p, _ := q.Price.Float64()
			spread := math.Abs(p-m) / m
			if spread > maxSpread {
				maxSpread = spread
			}
		}
		if maxSpread > 0.005 {
			orders := math.Log10(maxSpread / 0.005)
			if orders > 0 {
				confidence -= 0.1 * orders
			}
		}
	}

	if confidence < 0 {
		confidence = 0
	}
	if confidence > 1 {
		confidence = 1
	}
	return confidence
}

func median(quotes []types.PriceQuote) float64 {
	prices := make([]float64, len(quotes))
	for i, q := range quotes {
		prices[i], _ = q.Price.Float64()
	}
	sort.Float64s(prices)
	n := len(prices)
	if n%2 == 1 {
		return prices[n/2]
	}
	return (prices[n/2-1] + prices[n/2]) / 2
}
