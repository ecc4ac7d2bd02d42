package strategy

import (
	"github.com/polytrader/polytrader/pkg/types"
	"github.com/shopspring/decimal"
)

// ArbitrageConfig bounds emitted opportunities.
type ArbitrageConfig struct {
	MarginFloor  decimal.Decimal // required shortfall below 1, e.g. 0.0 means any p_yes+p_no<1 qualifies
	MaxTradeSize decimal.Decimal
	MinLiquidityUSD decimal.Decimal
	TTL          int64 // opportunity lifetime in seconds
}

// ArbitrageDetector emits a PAIR opportunity whenever a market's outcome
// prices sum to less than 1 minus the configured margin floor, per
// spec.md §4.5.
type ArbitrageDetector struct {
	name   string
	config ArbitrageConfig
}

func NewArbitrageDetector(name string, cfg ArbitrageConfig) *ArbitrageDetector {
	return &ArbitrageDetector{name: name, config: cfg}
}

func (d *ArbitrageDetector) Name() string { return d.name }

func (d *ArbitrageDetector) Detect(in DetectInput) []types.Opportunity {
	var out []types.Opportunity
	for _, m := range in.Markets {
		if len(m.Outcomes) != 2 {
			continue
		}
		yes, yesOK := m.Prices[m.Outcomes[0]]
		no, noOK := m.Prices[m.Outcomes[1]]
		if !yesOK || !noOK {
			continue // missing price -> skip, per spec.md §4.5 edge cases
		}
		if yes.LessThanOrEqual(decimal.Zero) || yes.GreaterThanOrEqual(decimal.NewFromInt(1)) {
			continue
		}
		if no.LessThanOrEqual(decimal.Zero) || no.GreaterThanOrEqual(decimal.NewFromInt(1)) {
			continue
		}
		if m.LiquidityUSD.LessThan(d.config.MinLiquidityUSD) {
			continue
		}

		sum := yes.Add(no)
		threshold := decimal.NewFromInt(1).Sub(d.config.MarginFloor)
		if !sum.LessThan(threshold) {
			continue
		}

		key := types.PositionKey{StrategyName: d.name, MarketID: m.MarketID, Side: types.SidePair}
		if _, open := in.OpenPositions[key]; open {
			continue // duplicate of an already-open position -> skip
		}

		edgeBps := decimal.NewFromInt(1).Sub(sum).Mul(decimal.NewFromInt(10000)).IntPart()
		if edgeBps < in.MinEdgeBps {
			continue
		}

		out = append(out, types.Opportunity{
			StrategyName: d.name,
			MarketID:     m.MarketID,
			CreatedAt:    in.Now,
			Side:         types.SidePair,
			EdgeBps:      edgeBps,
			SizeUSD:      d.config.MaxTradeSize,
			RefPrices:    map[string]decimal.Decimal{m.Outcomes[0]: yes, m.Outcomes[1]: no},
			ExpiresAt:    in.Now.Add(durationFromSeconds(d.config.TTL)),
			Rationale: types.Rationale{
				Kind:            "arbitrage",
				ArbitrageMargin: threshold.Sub(sum),
				Notes:           "p_yes + p_no < 1 - margin_floor",
			},
		})
	}
	return out
}

func (d *ArbitrageDetector) OnFill(types.Trade)  {}
func (d *ArbitrageDetector) OnClose(types.Trade) {}
