package driver

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/polytrader/polytrader/internal/aggregator"
	"github.com/polytrader/polytrader/internal/control"
	"github.com/polytrader/polytrader/internal/gate"
	"github.com/polytrader/polytrader/internal/health"
	"github.com/polytrader/polytrader/internal/marketcache"
	"github.com/polytrader/polytrader/internal/observer"
	"github.com/polytrader/polytrader/internal/paperengine"
	"github.com/polytrader/polytrader/internal/portfolio"
	"github.com/polytrader/polytrader/internal/snapshot"
	"github.com/polytrader/polytrader/internal/sources"
	"github.com/polytrader/polytrader/internal/strategy"
	"github.com/polytrader/polytrader/internal/tradelog"
	"github.com/polytrader/polytrader/internal/validator"
	"github.com/polytrader/polytrader/pkg/types"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

// stubMarketPricer always returns the same outcome prices for any market
// id, including ids no longer present in the driver's market listing — used
// to exercise the case where a position's market has been evicted from
// marketcache.Cache but refreshOpenMarketPrices still has a live quote.
type stubMarketPricer struct {
	prices map[string]decimal.Decimal
}

func (s stubMarketPricer) Name() string { return "stub" }
func (s stubMarketPricer) GetMarketPrices(context.Context, string) (map[string]decimal.Decimal, error) {
	return s.prices, nil
}
func (s stubMarketPricer) Health() sources.Health {
	return sources.Health{Healthy: true}
}

// exitHarness builds a Driver plus a single open position ready to exit, so
// markAndCloseExits can be exercised directly without relying on a
// detector to have produced the opportunity.
type exitHarness struct {
	drv     *Driver
	tracker *portfolio.Tracker
	engine  *paperengine.Engine
	tradeID uint64
}

func newExitHarness(t *testing.T, profitTargetPct float64, marketPricer sources.MarketPricer) *exitHarness {
	t.Helper()
	dir := t.TempDir()

	cfg := types.Config{
		PaperTrading: true,
		Strategies: types.StrategiesConfig{
			Thresholds: map[string]types.StrategyThresholds{
				"arbitrage": {MinEdgeBps: 100, MaxOpensPerCycle: 5, ProfitTargetPct: profitTargetPct},
			},
		},
	}

	cache := marketcache.New()
	strategies := strategy.NewManager()
	det := strategy.NewArbitrageDetector("arbitrage", strategy.ArbitrageConfig{
		MarginFloor:     decimal.NewFromFloat(0.01),
		MaxTradeSize:    decimal.NewFromInt(100),
		MinLiquidityUSD: decimal.NewFromInt(1000),
		TTL:             300,
	})
	strategies.Register("arbitrage", det, 1.0, types.StagePaper)

	tracker := portfolio.New("arbitrage", decimal.NewFromInt(10000), 60)
	engine := paperengine.New(0)

	opp := types.Opportunity{
		StrategyName: "arbitrage",
		MarketID:     "m1",
		Side:         types.SideYes,
		SizeUSD:      decimal.NewFromInt(100),
		CreatedAt:    time.Now(),
		ExpiresAt:    time.Now().Add(time.Hour),
	}
	trade, err := engine.Place(opp, map[string]decimal.Decimal{"YES": decimal.NewFromFloat(0.5)}, tracker)
	require.NoError(t, err)
	require.Len(t, tracker.OpenPositions(), 1)

	v := validator.New(validator.Config{FreshnessMs: 60000, PriceDiscrepancyPct: 0.5, MinLiquidityUSD: 100, MinTimeToCloseSec: 60})
	g := gate.New(v)
	healthMon := health.New(health.Thresholds{DailyLossPct: -100, ConsecutiveLosses: 100, MaxDrawdownPct: 100, MinWinRate: 0, MinTradesForWinRate: 1000000})
	ctrl := control.New(filepath.Join(dir, "control.record"))
	logs, err := tradelog.Open(dir, 1000)
	require.NoError(t, err)
	t.Cleanup(func() { logs.Close() })

	snapWriter := snapshot.NewWriter(filepath.Join(dir, "bot_state.snapshot"))
	hub := observer.NewHub(zap.NewNop(), 64)
	selector := snapshot.NewSelector(snapshot.SelectorThresholds{MinSharpe: 1, MinWinRate: 0.5, MaxDrawdownPct: 20, MinTrades: 10})

	drv := New(Config{
		Logger:         zap.NewNop(),
		Cfg:            cfg,
		Cache:          cache,
		Aggregator:     aggregator.New(10000, 0.05, 0),
		Strategies:     strategies,
		Trackers:       map[string]*portfolio.Tracker{"arbitrage": tracker},
		Gate:           g,
		Engine:         engine,
		HealthMonitor:  healthMon,
		Control:        ctrl,
		Logs:           logs,
		SnapshotWriter: snapWriter,
		Hub:            hub,
		Selector:       selector,
	})
	if marketPricer != nil {
		drv.marketPricer = marketPricer
	}

	return &exitHarness{drv: drv, tracker: tracker, engine: engine, tradeID: trade.TradeID}
}

func TestMarkAndCloseExitsSubmitsThroughTheGateAndCloses(t *testing.T) {
	h := newExitHarness(t, 0.2, nil)

	market := types.Market{
		MarketID:     "m1",
		Outcomes:     []string{"YES", "NO"},
		Prices:       map[string]decimal.Decimal{"YES": decimal.NewFromFloat(0.65), "NO": decimal.NewFromFloat(0.35)},
		LiquidityUSD: decimal.NewFromInt(5000),
		EndTime:      time.Now().Add(48 * time.Hour),
	}
	h.drv.cache.Put(market)

	h.drv.markAndCloseExits([]types.Market{market}, types.ControlState{}, map[string]*types.ConsensusPrice{})

	assert.Empty(t, h.tracker.OpenPositions(), "a 30pct favorable move should cross the 20pct profit target and close")
	closed, ok := h.engine.Snapshot(h.tradeID)
	require.True(t, ok)
	assert.Equal(t, "profit_target", closed.ExitReason)
}

func TestMarkAndCloseExitsDeniesThroughTheGateWhenStrategyDisabled(t *testing.T) {
	h := newExitHarness(t, 0.2, stubMarketPricer{prices: map[string]decimal.Decimal{"YES": decimal.NewFromFloat(0.8)}})
	h.drv.strategies.Disable("arbitrage", "test disable")

	h.drv.markAndCloseExits(nil, types.ControlState{}, map[string]*types.ConsensusPrice{})

	assert.Len(t, h.tracker.OpenPositions(), 1, "a disabled strategy's exit must be denied by the gate, not closed")
}

func TestMarkAndCloseExitsClosesOnceMarketIsEvictedButPricerStillHasAQuote(t *testing.T) {
	h := newExitHarness(t, 0.2, stubMarketPricer{prices: map[string]decimal.Decimal{"YES": decimal.NewFromFloat(0.8)}})

	h.drv.markAndCloseExits(nil, types.ControlState{}, map[string]*types.ConsensusPrice{})

	assert.Empty(t, h.tracker.OpenPositions(), "an evicted market's exit should still close via the gate's universal checks")
}
