package strategy

import (
	"math"
	"sync"

	"github.com/shopspring/decimal"
)

// priceHistory keeps the last N snapshots of a market's YES price for the
// EMA/z-score bookkeeping spec.md §4.5 requires of Momentum and
// MeanReversion, grounded on the teacher's rolling-window idiom
// (internal/regime/detector.go) generalized from OHLCV closes to a single
// tracked outcome price per market.
type priceHistory struct {
	mu      sync.Mutex
	samples map[string][]float64
	maxLen  int
}

func newPriceHistory(maxLen int) *priceHistory {
	if maxLen < 20 {
		maxLen = 20
	}
	if maxLen > 100 {
		maxLen = 100
	}
	return &priceHistory{samples: make(map[string][]float64), maxLen: maxLen}
}

func (h *priceHistory) push(marketID string, price decimal.Decimal) []float64 {
	h.mu.Lock()
	defer h.mu.Unlock()
	p, _ := price.Float64()
	s := append(h.samples[marketID], p)
	if len(s) > h.maxLen {
		s = s[len(s)-h.maxLen:]
	}
	h.samples[marketID] = s
	out := make([]float64, len(s))
	copy(out, s)
	return out
}

// ema computes the exponential moving average over the given window length
// of the most recent samples in series (series ordered oldest-to-newest).
func ema(series []float64, window int) float64 {
	if len(series) == 0 {
		return 0
	}
	if window > len(series) {
		window = len(series)
	}
	alpha := 2.0 / (float64(window) + 1.0)
	start := len(series) - window
	avg := series[start]
	for i := start + 1; i < len(series); i++ {
		avg = alpha*series[i] + (1-alpha)*avg
	}
	return avg
}

func mean(series []float64) float64 {
	if len(series) == 0 {
		return 0
	}
	sum := 0.0
	for _, v := range series {
		sum += v
	}
	return sum / float64(len(series))
}

func stddev(series []float64, m float64) float64 {
	if len(series) < 2 {
		return 0
	}
	sumSq := 0.0
	for _, v := range series {
		d := v - m
		sumSq += d * d
	}
	return math.Sqrt(sumSq / float64(len(series)-1))
}
