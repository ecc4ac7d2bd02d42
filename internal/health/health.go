// Package health implements the per-strategy auto-disable monitor of
// spec.md §4.13, run once per cycle. Grounded on the teacher's
// execution/risk_manager.go kill-switch/cooldown bookkeeping, adapted from
// a single global kill-switch to a per-strategy persistent disablement.
package health

import (
	"fmt"

	"github.com/polytrader/polytrader/pkg/types"
	"github.com/shopspring/decimal"
)

// Thresholds mirrors spec.md §6's health.auto_disable.* config.
type Thresholds struct {
	DailyLossPct        float64
	ConsecutiveLosses   int
	MaxDrawdownPct      float64
	MinWinRate          float64
	MinTradesForWinRate int
}

// Monitor evaluates one strategy's PortfolioSnapshot against Thresholds and
// reports whether it should be disabled and why.
type Monitor struct {
	thresholds Thresholds
}

func New(t Thresholds) *Monitor {
	return &Monitor{thresholds: t}
}

// Evaluate returns (shouldDisable, reason). Only the first matching
// condition is reported; all four are still independently true conditions
// per spec.md §4.13 (any one triggers disablement).
func (m *Monitor) Evaluate(snapshot types.PortfolioSnapshot) (bool, string) {
	if !snapshot.EquityUSD.IsZero() {
		dailyPnLPct, _ := snapshot.DailyPnLUSD.Div(snapshot.EquityUSD).Mul(decimal.NewFromInt(100)).Float64()
		if dailyPnLPct < m.thresholds.DailyLossPct {
			return true, fmt.Sprintf("daily_pnl_pct<%.2f", m.thresholds.DailyLossPct)
		}
	}
	if snapshot.Metrics.ConsecutiveLosses >= m.thresholds.ConsecutiveLosses {
		return true, fmt.Sprintf("consecutive_losses>=%d", m.thresholds.ConsecutiveLosses)
	}
	maxDD, _ := snapshot.Metrics.MaxDrawdownPct.Float64()
	if maxDD > m.thresholds.MaxDrawdownPct {
		return true, fmt.Sprintf("max_drawdown_pct>%.2f", m.thresholds.MaxDrawdownPct)
	}
	winRate, _ := snapshot.Metrics.WinRate.Float64()
	if snapshot.Metrics.TotalTrades >= m.thresholds.MinTradesForWinRate && winRate < m.thresholds.MinWinRate {
		return true, fmt.Sprintf("win_rate<%.2f", m.thresholds.MinWinRate)
	}
	return false, ""
}
