package strategy

import (
	"testing"
	"time"

	"github.com/polytrader/polytrader/pkg/types"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func volumeMarket(id string, price, volume, liquidity float64) types.Market {
	return types.Market{
		MarketID:     id,
		Outcomes:     []string{"YES", "NO"},
		Prices:       map[string]decimal.Decimal{"YES": decimal.NewFromFloat(price), "NO": decimal.NewFromFloat(1 - price)},
		Volume24hUSD: decimal.NewFromFloat(volume),
		LiquidityUSD: decimal.NewFromFloat(liquidity),
	}
}

func defaultMomentumConfig() MomentumConfig {
	return MomentumConfig{
		ShortWindow:      2,
		LongWindow:       3,
		VolumePercentile: 0,
		MaxTradeSize:     decimal.NewFromInt(100),
		MinLiquidityUSD:  decimal.NewFromInt(1000),
		TTL:              300,
	}
}

func TestMomentumDetectorEmitsOnShortEMACrossingAboveLong(t *testing.T) {
	d := NewMomentumDetector("momentum", defaultMomentumConfig())

	prices := []float64{0.1, 0.1, 0.1, 0.9}
	var opps []types.Opportunity
	for _, p := range prices {
		opps = d.Detect(DetectInput{
			Markets:    []types.Market{volumeMarket("m1", p, 1000, 5000)},
			MinEdgeBps: 100,
			Now:        time.Now(),
		})
	}

	require.Len(t, opps, 1)
	assert.Equal(t, types.SideYes, opps[0].Side)
	assert.Equal(t, "momentum", opps[0].Rationale.Kind)
}

func TestMomentumDetectorStaysSilentOnFlatPriceSeries(t *testing.T) {
	d := NewMomentumDetector("momentum", defaultMomentumConfig())

	var opps []types.Opportunity
	for i := 0; i < 3; i++ {
		opps = d.Detect(DetectInput{
			Markets:    []types.Market{volumeMarket("m1", 0.1, 1000, 5000)},
			MinEdgeBps: 100,
			Now:        time.Now(),
		})
	}
	assert.Empty(t, opps)
}

func TestMomentumDetectorSkipsBelowLiquidityFloor(t *testing.T) {
	d := NewMomentumDetector("momentum", defaultMomentumConfig())

	var opps []types.Opportunity
	for _, p := range []float64{0.1, 0.1, 0.1, 0.9} {
		opps = d.Detect(DetectInput{
			Markets:    []types.Market{volumeMarket("m1", p, 1000, 500)},
			MinEdgeBps: 100,
			Now:        time.Now(),
		})
	}
	assert.Empty(t, opps)
}

func TestMomentumDetectorSkipsAlreadyOpenPosition(t *testing.T) {
	d := NewMomentumDetector("momentum", defaultMomentumConfig())

	key := types.PositionKey{StrategyName: "momentum", MarketID: "m1", Side: types.SideYes}
	var opps []types.Opportunity
	for _, p := range []float64{0.1, 0.1, 0.1, 0.9} {
		opps = d.Detect(DetectInput{
			Markets:       []types.Market{volumeMarket("m1", p, 1000, 5000)},
			OpenPositions: map[types.PositionKey]types.Position{key: {}},
			MinEdgeBps:    100,
			Now:           time.Now(),
		})
	}
	assert.Empty(t, opps)
}
