package strategy

import (
	"sort"

	"github.com/polytrader/polytrader/pkg/types"
	"github.com/shopspring/decimal"
)

// MomentumConfig tunes the EMA-cross signal.
type MomentumConfig struct {
	ShortWindow        int
	LongWindow         int
	VolumePercentile    float64 // minimum trailing-volume percentile, e.g. 0.7
	MaxTradeSize       decimal.Decimal
	MinLiquidityUSD    decimal.Decimal
	TTL                int64
}

// MomentumDetector emits an opportunity when a market's short EMA crosses
// above its long EMA with trailing volume above the configured percentile,
// per spec.md §4.5. It keeps its own rolling price history, N in [20,100].
type MomentumDetector struct {
	name    string
	config  MomentumConfig
	history *priceHistory
}

func NewMomentumDetector(name string, cfg MomentumConfig) *MomentumDetector {
	return &MomentumDetector{name: name, config: cfg, history: newPriceHistory(cfg.LongWindow)}
}

func (d *MomentumDetector) Name() string { return d.name }

func (d *MomentumDetector) Detect(in DetectInput) []types.Opportunity {
	var volumes []float64
	for _, m := range in.Markets {
		v, _ := m.Volume24hUSD.Float64()
		volumes = append(volumes, v)
	}
	sort.Float64s(volumes)

	var out []types.Opportunity
	for _, m := range in.Markets {
		if len(m.Outcomes) == 0 {
			continue
		}
		price, ok := m.Prices[m.Outcomes[0]]
		if !ok {
			continue
		}
		if m.LiquidityUSD.LessThan(d.config.MinLiquidityUSD) {
			continue
		}

		series := d.history.push(m.MarketID, price)
		if len(series) < d.config.LongWindow {
			continue // not enough history yet
		}

		shortEMA := ema(series, d.config.ShortWindow)
		longEMA := ema(series[:len(series)-1], d.config.LongWindow) // prior long EMA, to detect the cross
		longEMANow := ema(series, d.config.LongWindow)

		crossedUp := shortEMA > longEMANow && ema(series[:len(series)-1], d.config.ShortWindow) <= longEMA
		if !crossedUp {
			continue
		}

		vol, _ := m.Volume24hUSD.Float64()
		pct := percentileRank(volumes, vol)
		if pct < d.config.VolumePercentile {
			continue
		}

		key := types.PositionKey{StrategyName: d.name, MarketID: m.MarketID, Side: types.SideYes}
		if _, open := in.OpenPositions[key]; open {
			continue
		}

		edgeBps := int64((shortEMA/longEMANow - 1) * 10000)
		if edgeBps < 0 {
			edgeBps = -edgeBps
		}
		if edgeBps < in.MinEdgeBps {
			continue
		}

		out = append(out, types.Opportunity{
			StrategyName: d.name,
			MarketID:     m.MarketID,
			CreatedAt:    in.Now,
			Side:         types.SideYes,
			EdgeBps:      edgeBps,
			SizeUSD:      d.config.MaxTradeSize,
			ExpiresAt:    in.Now.Add(durationFromSeconds(d.config.TTL)),
			Rationale: types.Rationale{
				Kind:             "momentum",
				EMAShort:         decimal.NewFromFloat(shortEMA),
				EMALong:          decimal.NewFromFloat(longEMANow),
				VolumePercentile: pct,
				Notes:            "short EMA crossed above long EMA",
			},
		})
	}
	return out
}

func (d *MomentumDetector) OnFill(types.Trade)  {}
func (d *MomentumDetector) OnClose(types.Trade) {}

// percentileRank returns the fraction of sorted values < v.
func percentileRank(sorted []float64, v float64) float64 {
	if len(sorted) == 0 {
		return 0
	}
	idx := sort.SearchFloat64s(sorted, v)
	return float64(idx) / float64(len(sorted))
}
