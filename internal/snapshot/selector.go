package snapshot

import (
	"sort"
	"time"

	"github.com/polytrader/polytrader/pkg/types"
	"github.com/shopspring/decimal"
)

// SelectorThresholds are the qualifier cutoffs of spec.md §4.11/§6.
type SelectorThresholds struct {
	MinSharpe      float64
	MinWinRate     float64
	MaxDrawdownPct float64
	MinTrades      int
}

// Selector runs once per week and proposes a 70/20/10 capital split among
// the top three ranked strategies, gated on at least one of them qualifying,
// grounded on the teacher's optimization/optimizer.go composite-score-and-
// rank idiom.
type Selector struct {
	thresholds SelectorThresholds
}

func NewSelector(t SelectorThresholds) *Selector {
	return &Selector{thresholds: t}
}

type scoredStrategy struct {
	name      string
	score     float64
	qualifies bool
}

// Propose scores every active strategy's PortfolioSnapshot by composite
// score (0.4*return + 0.3*sharpe + 0.2*win_rate - 0.1*drawdown), ranks all of
// them, and splits 70/20/10 among the top three by rank — qualification
// (positive return, Sharpe>threshold, win rate>threshold, drawdown<threshold,
// trades>=minimum) gates whether a proposal is emitted at all, not which
// ranked strategies receive allocation: with three active strategies and
// only the top-ranked one qualifying, the proposal still splits 70/20/10
// across all three (spec.md §8 Scenario F). Fewer than three active
// strategies scales the split down (two get 70/30, one gets 100). No
// qualifiers at all returns a nil proposal — the caller should leave
// allocations untouched.
func (s *Selector) Propose(weekOf time.Time, snapshots map[string]types.PortfolioSnapshot) *types.AllocationProposal {
	var ranked []scoredStrategy
	for name, snap := range snapshots {
		m := snap.Metrics
		totalReturn, _ := m.TotalReturnPct.Float64()
		sharpe, _ := m.SharpeRatio.Float64()
		winRate, _ := m.WinRate.Float64()
		maxDD, _ := m.MaxDrawdownPct.Float64()

		qualifies := totalReturn > 0 && sharpe > s.thresholds.MinSharpe && winRate > s.thresholds.MinWinRate &&
			maxDD < s.thresholds.MaxDrawdownPct && m.TotalTrades >= s.thresholds.MinTrades

		score := 0.4*totalReturn + 0.3*sharpe + 0.2*winRate - 0.1*maxDD
		ranked = append(ranked, scoredStrategy{name: name, score: score, qualifies: qualifies})
	}

	anyQualifies := false
	for _, r := range ranked {
		if r.qualifies {
			anyQualifies = true
			break
		}
	}
	if !anyQualifies {
		return nil
	}

	sort.Slice(ranked, func(i, j int) bool { return ranked[i].score > ranked[j].score })
	if len(ranked) > 3 {
		ranked = ranked[:3]
	}

	splits := map[int][]int64{
		1: {10000},
		2: {7000, 3000},
		3: {7000, 2000, 1000},
	}[len(ranked)]

	allocations := make(map[string]decimal.Decimal, len(ranked))
	qualifiers := make([]string, 0, len(ranked))
	for i, r := range ranked {
		allocations[r.name] = decimal.NewFromInt(splits[i]).Div(decimal.NewFromInt(10000))
		if r.qualifies {
			qualifiers = append(qualifiers, r.name)
		}
	}

	return &types.AllocationProposal{
		WeekOf:      weekOf,
		Allocations: allocations,
		Qualifiers:  qualifiers,
	}
}
