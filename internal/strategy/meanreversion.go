package strategy

import (
	"github.com/polytrader/polytrader/pkg/types"
	"github.com/shopspring/decimal"
)

// MeanReversionConfig tunes the z-score signal.
type MeanReversionConfig struct {
	Window          int
	ZThreshold      float64
	MaxSpreadPct    float64 // order-book spread proxy: |p_yes+p_no-1|
	MaxTradeSize    decimal.Decimal
	MinLiquidityUSD decimal.Decimal
	TTL             int64
}

// MeanReversionDetector emits an opportunity when a market's price z-score
// vs its rolling window exceeds the configured threshold while the implied
// spread stays below the cap, per spec.md §4.5.
type MeanReversionDetector struct {
	name    string
	config  MeanReversionConfig
	history *priceHistory
}

func NewMeanReversionDetector(name string, cfg MeanReversionConfig) *MeanReversionDetector {
	return &MeanReversionDetector{name: name, config: cfg, history: newPriceHistory(cfg.Window)}
}

func (d *MeanReversionDetector) Name() string { return d.name }

func (d *MeanReversionDetector) Detect(in DetectInput) []types.Opportunity {
	var out []types.Opportunity
	for _, m := range in.Markets {
		if len(m.Outcomes) != 2 {
			continue
		}
		yes, okY := m.Prices[m.Outcomes[0]]
		no, okN := m.Prices[m.Outcomes[1]]
		if !okY || !okN {
			continue
		}
		if m.LiquidityUSD.LessThan(d.config.MinLiquidityUSD) {
			continue
		}

		spread := yes.Add(no).Sub(decimal.NewFromInt(1)).Abs()
		spreadPct, _ := spread.Float64()
		if spreadPct > d.config.MaxSpreadPct {
			continue
		}

		series := d.history.push(m.MarketID, yes)
		if len(series) < d.config.Window {
			continue
		}

		mu := mean(series)
		sigma := stddev(series, mu)
		if sigma == 0 {
			continue
		}
		price, _ := yes.Float64()
		z := (price - mu) / sigma
		if abs(z) < d.config.ZThreshold {
			continue
		}

		side := types.SideYes
		if z > 0 {
			// priced above its mean -> expect reversion down -> take NO
			side = types.SideNo
		}

		key := types.PositionKey{StrategyName: d.name, MarketID: m.MarketID, Side: side}
		if _, open := in.OpenPositions[key]; open {
			continue
		}

		edgeBps := int64(abs(z) * 100) // 1 z-unit modeled as 100bps of edge
		if edgeBps < in.MinEdgeBps {
			continue
		}

		out = append(out, types.Opportunity{
			StrategyName: d.name,
			MarketID:     m.MarketID,
			CreatedAt:    in.Now,
			Side:         side,
			EdgeBps:      edgeBps,
			SizeUSD:      d.config.MaxTradeSize,
			ExpiresAt:    in.Now.Add(durationFromSeconds(d.config.TTL)),
			Rationale: types.Rationale{
				Kind:   "mean_reversion",
				ZScore: z,
				Spread: spread,
				Notes:  "price z-score exceeded threshold",
			},
		})
	}
	return out
}

func (d *MeanReversionDetector) OnFill(types.Trade)  {}
func (d *MeanReversionDetector) OnClose(types.Trade) {}

func abs(f float64) float64 {
	if f < 0 {
		return -f
	}
	return f
}
