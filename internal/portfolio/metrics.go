package portfolio

import (
	"math"

	"github.com/polytrader/polytrader/pkg/types"
	"github.com/shopspring/decimal"
)

// performanceMetricsLocked computes PerformanceMetrics from the ordered
// closed-trade stream. Consecutive losses are derived from that stream
// directly rather than from a separate counter, per spec.md §9 Open
// Question #3 (the source's separate counter could desync from the trade
// log; this implementation has one source of truth).
func (t *Tracker) performanceMetricsLocked() types.PerformanceMetrics {
	trades := t.closedTrades
	m := types.PerformanceMetrics{AnnualizationBasis: cadencePerYear(t.scanIntervalSeconds)}
	if len(trades) == 0 {
		return m
	}

	returns := make([]float64, len(trades))
	var grossWin, grossLoss decimal.Decimal
	var wins, losses int

	for i, tr := range trades {
		pnl := tr.RealizedPnLUSD
		if tr.NotionalUSD.GreaterThan(decimal.Zero) {
			r, _ := pnl.Div(tr.NotionalUSD).Float64()
			returns[i] = r
		}
		if pnl.GreaterThan(decimal.Zero) {
			wins++
			grossWin = grossWin.Add(pnl)
		} else if pnl.LessThan(decimal.Zero) {
			losses++
			grossLoss = grossLoss.Add(pnl.Abs())
		}
	}
	// Consecutive losses is a trailing count, not a historical max: walk from
	// the end of the stream until a non-loss breaks the run.
	trailingConsec := 0
	for i := len(trades) - 1; i >= 0; i-- {
		if trades[i].RealizedPnLUSD.LessThan(decimal.Zero) {
			trailingConsec++
		} else {
			break
		}
	}

	startingEquity := t.equityCurve
	var startEquity decimal.Decimal
	if len(startingEquity) > 0 {
		startEquity = startingEquity[0].Equity
	}
	endEquity := t.equityLocked()
	if !startEquity.IsZero() {
		m.TotalReturnPct = endEquity.Sub(startEquity).Div(startEquity).Mul(decimal.NewFromInt(100))
	}

	meanReturn := meanFloat(returns)
	stdReturn := stdFloat(returns, meanReturn)
	annualizer := math.Sqrt(float64(m.AnnualizationBasis) / float64(annualizationDenominator(len(trades))))
	if stdReturn > 0 {
		m.SharpeRatio = decimal.NewFromFloat(meanReturn / stdReturn * annualizer)
	}

	downside := downsideOnly(returns)
	downsideStd := stdFloat(downside, 0)
	if downsideStd > 0 {
		m.SortinoRatio = decimal.NewFromFloat(meanReturn / downsideStd * annualizer)
	}

	maxDD := maxDrawdown(t.equityCurve)
	m.MaxDrawdownPct = decimal.NewFromFloat(maxDD * 100)
	if maxDD > 0 {
		retFrac, _ := m.TotalReturnPct.Float64()
		m.CalmarRatio = decimal.NewFromFloat((retFrac / 100) / maxDD)
	}

	m.TotalTrades = len(trades)
	m.WinningTrades = wins
	m.LosingTrades = losses
	m.ConsecutiveLosses = trailingConsec
	if len(trades) > 0 {
		m.WinRate = decimal.NewFromFloat(float64(wins) / float64(len(trades)))
	}
	if grossLoss.GreaterThan(decimal.Zero) {
		m.ProfitFactor = grossWin.Div(grossLoss)
	}
	if wins > 0 {
		m.AvgWinUSD = grossWin.Div(decimal.NewFromInt(int64(wins)))
	}
	if losses > 0 {
		m.AvgLossUSD = grossLoss.Div(decimal.NewFromInt(int64(losses))).Neg()
	}

	return m
}

// annualizationDenominator is "trades so far", the documented cadence
// assumption for scaling per-trade returns up to an annual Sharpe/Sortino.
func annualizationDenominator(numTrades int) int {
	if numTrades == 0 {
		return 1
	}
	return numTrades
}

func meanFloat(xs []float64) float64 {
	if len(xs) == 0 {
		return 0
	}
	sum := 0.0
	for _, x := range xs {
		sum += x
	}
	return sum / float64(len(xs))
}

func stdFloat(xs []float64, mean float64) float64 {
	if len(xs) < 2 {
		return 0
	}
	sum := 0.0
	for _, x := range xs {
		d := x - mean
		sum += d * d
	}
	return math.Sqrt(sum / float64(len(xs)-1))
}

func downsideOnly(xs []float64) []float64 {
	var out []float64
	for _, x := range xs {
		if x < 0 {
			out = append(out, x)
		}
	}
	return out
}

func maxDrawdown(curve []types.EquityCurvePoint) float64 {
	if len(curve) == 0 {
		return 0
	}
	peak := 0.0
	maxDD := 0.0
	for _, p := range curve {
		eq, _ := p.Equity.Float64()
		if eq > peak {
			peak = eq
		}
		if peak > 0 {
			dd := (peak - eq) / peak
			if dd > maxDD {
				maxDD = dd
			}
		}
	}
	return maxDD
}
