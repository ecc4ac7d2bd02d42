package strategy

import (
	"math"
	"sync"

	"github.com/polytrader/polytrader/pkg/types"
	"github.com/shopspring/decimal"
)

// StatisticalArbConfig tunes the pair-spread signal.
type StatisticalArbConfig struct {
	Window          int
	ZThreshold      float64
	MinCorrelation  float64
	MaxTradeSize    decimal.Decimal
	MinLiquidityUSD decimal.Decimal
	TTL             int64
	Pairs           [][2]string // configured (marketA, marketB) id pairs to track
}

// StatisticalArbDetector maintains a rolling correlation between two
// configured markets' price series and emits a pair opportunity when the
// z-score of their spread exceeds threshold while correlation stays above
// rho_min, per spec.md §4.5.
type StatisticalArbDetector struct {
	name   string
	config StatisticalArbConfig

	mu      sync.Mutex
	seriesA map[string][]float64 // keyed by "marketA|marketB"
	seriesB map[string][]float64
}

func NewStatisticalArbDetector(name string, cfg StatisticalArbConfig) *StatisticalArbDetector {
	return &StatisticalArbDetector{
		name:    name,
		config:  cfg,
		seriesA: make(map[string][]float64),
		seriesB: make(map[string][]float64),
	}
}

func (d *StatisticalArbDetector) Name() string { return d.name }

func (d *StatisticalArbDetector) Detect(in DetectInput) []types.Opportunity {
	byID := make(map[string]types.Market, len(in.Markets))
	for _, m := range in.Markets {
		byID[m.MarketID] = m
	}

	var out []types.Opportunity
	for _, pair := range d.config.Pairs {
		mA, okA := byID[pair[0]]
		mB, okB := byID[pair[1]]
		if !okA || !okB || len(mA.Outcomes) == 0 || len(mB.Outcomes) == 0 {
			continue
		}
		pA, okPA := mA.Prices[mA.Outcomes[0]]
		pB, okPB := mB.Prices[mB.Outcomes[0]]
		if !okPA || !okPB {
			continue
		}
		if mA.LiquidityUSD.LessThan(d.config.MinLiquidityUSD) || mB.LiquidityUSD.LessThan(d.config.MinLiquidityUSD) {
			continue
		}

		key := pair[0] + "|" + pair[1]
		fa, _ := pA.Float64()
		fb, _ := pB.Float64()

		d.mu.Lock()
		d.seriesA[key] = appendCapped(d.seriesA[key], fa, d.config.Window)
		d.seriesB[key] = appendCapped(d.seriesB[key], fb, d.config.Window)
		sa := append([]float64(nil), d.seriesA[key]...)
		sb := append([]float64(nil), d.seriesB[key]...)
		d.mu.Unlock()

		if len(sa) < d.config.Window || len(sb) < d.config.Window {
			continue
		}

		rho := correlation(sa, sb)
		if rho < d.config.MinCorrelation {
			continue
		}

		spreads := make([]float64, len(sa))
		for i := range sa {
			spreads[i] = sa[i] - sb[i]
		}
		mu := mean(spreads)
		sigma := stddev(spreads, mu)
		if sigma == 0 {
			continue
		}
		z := (spreads[len(spreads)-1] - mu) / sigma
		if abs(z) < d.config.ZThreshold {
			continue
		}

		// Spread too wide (A rich vs B) -> short A leg (take NO), long B leg (take YES).
		sideA, sideB := types.SideNo, types.SideYes
		if z < 0 {
			sideA, sideB = types.SideYes, types.SideNo
		}

		keyA := types.PositionKey{StrategyName: d.name, MarketID: mA.MarketID, Side: sideA}
		if _, open := in.OpenPositions[keyA]; open {
			continue
		}

		edgeBps := int64(abs(z) * 100)
		if edgeBps < in.MinEdgeBps {
			continue
		}

		out = append(out, types.Opportunity{
			StrategyName: d.name,
			MarketID:     mA.MarketID,
			CreatedAt:    in.Now,
			Side:         sideA,
			EdgeBps:      edgeBps,
			SizeUSD:      d.config.MaxTradeSize,
			ExpiresAt:    in.Now.Add(durationFromSeconds(d.config.TTL)),
			Rationale: types.Rationale{
				Kind:         "statistical_arb",
				ZScore:       z,
				Correlation:  rho,
				PairMarketID: mB.MarketID,
				Direction:    string(sideB),
				Notes:        "pair spread z-score exceeded threshold at sufficient correlation",
			},
		})
	}
	return out
}

func (d *StatisticalArbDetector) OnFill(types.Trade)  {}
func (d *StatisticalArbDetector) OnClose(types.Trade) {}

func appendCapped(series []float64, v float64, max int) []float64 {
	series = append(series, v)
	if len(series) > max {
		series = series[len(series)-max:]
	}
	return series
}

func correlation(a, b []float64) float64 {
	if len(a) != len(b) || len(a) < 2 {
		return 0
	}
	ma, mb := mean(a), mean(b)
	var num, da, db float64
	for i := range a {
		x := a[i] - ma
		y := b[i] - mb
		num += x * y
		da += x * x
		db += y * y
	}
	if da == 0 || db == 0 {
		return 0
	}
	return num / math.Sqrt(da*db)
}
