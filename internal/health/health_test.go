package health

import (
	"testing"

	"github.com/polytrader/polytrader/pkg/types"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
)

func defaultThresholds() Thresholds {
	return Thresholds{
		DailyLossPct:        -10,
		ConsecutiveLosses:   5,
		MaxDrawdownPct:      20,
		MinWinRate:          0.40,
		MinTradesForWinRate: 20,
	}
}

func healthySnapshot() types.PortfolioSnapshot {
	return types.PortfolioSnapshot{
		EquityUSD:   decimal.NewFromInt(10000),
		DailyPnLUSD: decimal.NewFromInt(100),
		Metrics: types.PerformanceMetrics{
			ConsecutiveLosses: 1,
			MaxDrawdownPct:    decimal.NewFromInt(5),
			WinRate:           decimal.NewFromFloat(0.55),
			TotalTrades:       25,
		},
	}
}

func TestEvaluateAllowsHealthySnapshot(t *testing.T) {
	m := New(defaultThresholds())
	disable, reason := m.Evaluate(healthySnapshot())
	assert.False(t, disable)
	assert.Empty(t, reason)
}

func TestEvaluateTripsOnDailyLoss(t *testing.T) {
	m := New(defaultThresholds())
	snap := healthySnapshot()
	snap.DailyPnLUSD = decimal.NewFromInt(-1500)

	disable, reason := m.Evaluate(snap)
	assert.True(t, disable)
	assert.Contains(t, reason, "daily_pnl_pct")
}

func TestEvaluateTripsOnConsecutiveLosses(t *testing.T) {
	m := New(defaultThresholds())
	snap := healthySnapshot()
	snap.Metrics.ConsecutiveLosses = 5

	disable, reason := m.Evaluate(snap)
	assert.True(t, disable)
	assert.Contains(t, reason, "consecutive_losses")
}

func TestEvaluateTripsOnMaxDrawdown(t *testing.T) {
	m := New(defaultThresholds())
	snap := healthySnapshot()
	snap.Metrics.MaxDrawdownPct = decimal.NewFromInt(25)

	disable, reason := m.Evaluate(snap)
	assert.True(t, disable)
	assert.Contains(t, reason, "max_drawdown_pct")
}

func TestEvaluateTripsOnLowWinRateAboveMinTrades(t *testing.T) {
	m := New(defaultThresholds())
	snap := healthySnapshot()
	snap.Metrics.WinRate = decimal.NewFromFloat(0.1)
	snap.Metrics.TotalTrades = 30

	disable, reason := m.Evaluate(snap)
	assert.True(t, disable)
	assert.Contains(t, reason, "win_rate")
}

func TestEvaluateIgnoresLowWinRateBelowMinTrades(t *testing.T) {
	m := New(defaultThresholds())
	snap := healthySnapshot()
	snap.Metrics.WinRate = decimal.NewFromFloat(0.1)
	snap.Metrics.TotalTrades = 5

	disable, _ := m.Evaluate(snap)
	assert.False(t, disable, "win rate floor should not apply before min_trades_for_winrate")
}
