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
	"github.com/polytrader/polytrader/internal/strategy"
	"github.com/polytrader/polytrader/internal/tradelog"
	"github.com/polytrader/polytrader/internal/validator"
	"github.com/polytrader/polytrader/pkg/types"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func mispricedTestMarket() types.Market {
	return types.Market{
		MarketID:     "m1",
		Question:     "Will this resolve yes?",
		Outcomes:     []string{"YES", "NO"},
		Prices:       map[string]decimal.Decimal{"YES": decimal.NewFromFloat(0.45), "NO": decimal.NewFromFloat(0.45)},
		LiquidityUSD: decimal.NewFromInt(5000),
		EndTime:      time.Now().Add(48 * time.Hour),
	}
}

// testHarness wires a Driver with real collaborators (no mocks), matching
// the package's own style, against a temp-dir state directory.
type testHarness struct {
	drv     *Driver
	cache   *marketcache.Cache
	ctrl    *control.Channel
	tracker *portfolio.Tracker
	engine  *paperengine.Engine
	logs    *tradelog.Logs
	snapPath string
}

func newHarness(t *testing.T, killSwitch bool) *testHarness {
	t.Helper()
	dir := t.TempDir()

	cfg := types.Config{
		PaperTrading:        true,
		KillSwitch:          killSwitch,
		ScanIntervalSeconds: 60,
		Strategies: types.StrategiesConfig{
			Thresholds: map[string]types.StrategyThresholds{
				"arbitrage": {MinEdgeBps: 100, MaxOpensPerCycle: 5},
			},
		},
	}

	cache := marketcache.New()
	cache.Put(mispricedTestMarket())

	agg := aggregator.New(10000, 0.05, 0)

	strategies := strategy.NewManager()
	det := strategy.NewArbitrageDetector("arbitrage", strategy.ArbitrageConfig{
		MarginFloor:     decimal.NewFromFloat(0.01),
		MaxTradeSize:    decimal.NewFromInt(100),
		MinLiquidityUSD: decimal.NewFromInt(1000),
		TTL:             300,
	})
	strategies.Register("arbitrage", det, 1.0, types.StagePaper)

	tracker := portfolio.New("arbitrage", decimal.NewFromInt(10000), 60)

	v := validator.New(validator.Config{
		FreshnessMs:         60000,
		PriceDiscrepancyPct: 0.5,
		MinLiquidityUSD:     100,
		MinTimeToCloseSec:   60,
	})
	g := gate.New(v)
	engine := paperengine.New(0)
	healthMon := health.New(health.Thresholds{DailyLossPct: -100, ConsecutiveLosses: 100, MaxDrawdownPct: 100, MinWinRate: 0, MinTradesForWinRate: 1000000})
	ctrl := control.New(filepath.Join(dir, "control.record"))

	logs, err := tradelog.Open(dir, 1000)
	require.NoError(t, err)

	snapPath := filepath.Join(dir, "bot_state.snapshot")
	snapWriter := snapshot.NewWriter(snapPath)
	hub := observer.NewHub(zap.NewNop(), 64)
	selector := snapshot.NewSelector(snapshot.SelectorThresholds{MinSharpe: 1, MinWinRate: 0.5, MaxDrawdownPct: 20, MinTrades: 10})

	drv := New(Config{
		Logger:         zap.NewNop(),
		Cfg:            cfg,
		CryptoPricers:  nil,
		MarketLister:   nil,
		MarketPricer:   nil,
		Cache:          cache,
		Aggregator:     agg,
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
		CryptoSymbols:  nil,
	})

	t.Cleanup(func() { logs.Close() })

	return &testHarness{drv: drv, cache: cache, ctrl: ctrl, tracker: tracker, engine: engine, logs: logs, snapPath: snapPath}
}

func TestRunCycleOpensATradeOnAMispricedMarket(t *testing.T) {
	h := newHarness(t, false)

	require.NoError(t, h.drv.runCycle(context.Background()))

	open := h.tracker.OpenPositions()
	assert.Len(t, open, 1, "the arbitrage detector should have found and opened the mispriced position")
	assert.Len(t, h.engine.OpenTrades(), 1)

	_, err := snapshot.Read(h.snapPath)
	assert.NoError(t, err, "a completed cycle should persist a snapshot")
}

func TestRunCycleShortCircuitsOnKillSwitch(t *testing.T) {
	h := newHarness(t, true)

	require.NoError(t, h.drv.runCycle(context.Background()))

	assert.Empty(t, h.tracker.OpenPositions(), "the kill switch must prevent any trade from being placed")
	_, err := snapshot.Read(h.snapPath)
	assert.Error(t, err, "a kill-switched cycle must never reach the snapshot-persist step")
}

func TestRunCycleShortCircuitsOnControlPause(t *testing.T) {
	h := newHarness(t, false)
	require.NoError(t, h.ctrl.Pause())

	require.NoError(t, h.drv.runCycle(context.Background()))

	assert.Empty(t, h.tracker.OpenPositions(), "a paused control state must prevent any strategy run")
	_, err := snapshot.Read(h.snapPath)
	assert.Error(t, err, "a paused cycle must never reach the snapshot-persist step")
}

func TestRunCycleKillActiveViaControlRecordAlsoShortCircuits(t *testing.T) {
	h := newHarness(t, false)
	require.NoError(t, h.ctrl.Kill("manual stop"))

	require.NoError(t, h.drv.runCycle(context.Background()))

	assert.Empty(t, h.tracker.OpenPositions())
}
