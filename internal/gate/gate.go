// Package gate implements the composite execution-gate predicate of
// spec.md §4.7: every code path that could create a Trade must call
// MayExecute first, and there is no bypass. Grounded on the teacher's
// execution/risk_manager.go CheckOrder -> RiskCheckResult{Approved,
// Violations} shape, adapted from a violations-accumulating risk check into
// the spec's fail-fast, single-reason gate — spec.md's testable property #1
// requires a definite (allowed, reason), so accumulation is dropped in
// favor of ordered short-circuit (see DESIGN.md).
package gate

import (
	"time"

	"github.com/polytrader/polytrader/internal/apperrors"
	"github.com/polytrader/polytrader/internal/validator"
	"github.com/polytrader/polytrader/pkg/types"
)

// Context bundles everything MayExecute needs to evaluate a single
// opportunity's six checks, per spec.md §4.7.
type Context struct {
	PaperTrading bool
	KillSwitch   bool
	Control      types.ControlState
	Strategy     types.Strategy
	Opportunity  types.Opportunity
	Market       types.Market
	MarketAge    time.Time
	Consensus    map[string]*types.ConsensusPrice
	Now          time.Time
}

// DenialCounts tallies denials per reason for the gate_denials{reason}
// observability counter of spec.md §4.18.
type DenialCounts struct {
	counts map[string]int64
}

func NewDenialCounts() *DenialCounts { return &DenialCounts{counts: make(map[string]int64)} }

func (d *DenialCounts) record(reason string) {
	d.counts[reason]++
}

func (d *DenialCounts) Snapshot() map[string]int64 {
	out := make(map[string]int64, len(d.counts))
	for k, v := range d.counts {
		out[k] = v
	}
	return out
}

// Gate is the sole authority over whether an opportunity may become a
// Trade.
type Gate struct {
	validator *validator.Validator
	denials   *DenialCounts
}

func New(v *validator.Validator) *Gate {
	return &Gate{validator: v, denials: NewDenialCounts()}
}

// MayExecute runs the six checks of spec.md §4.7 in order, returning on the
// first failure. There is no code path to a Trade that does not go through
// here.
func (g *Gate) MayExecute(ctx Context) (bool, string) {
	if !ctx.PaperTrading {
		return g.deny("not_paper_trading")
	}
	if ctx.KillSwitch {
		return g.deny("kill_switch_config")
	}
	if ctx.Control.KillActive {
		return g.deny("kill_active")
	}
	if ctx.Control.Paused {
		return g.deny("paused")
	}
	if err := g.validator.Check(ctx.Market, ctx.MarketAge, ctx.Consensus, ctx.Opportunity, ctx.Now); err != nil {
		if ae, ok := err.(*apperrors.Error); ok && ae.Reason != "" {
			return g.deny(ae.Reason)
		}
		return g.deny("data_validation_failed")
	}
	if !ctx.Strategy.Enabled || ctx.Strategy.Paused {
		return g.deny("strategy_disabled")
	}
	return true, ""
}

func (g *Gate) deny(reason string) (bool, string) {
	g.denials.record(reason)
	return false, reason
}

// Denials exposes the running denial tally for the observer/metrics layer.
func (g *Gate) Denials() map[string]int64 {
	return g.denials.Snapshot()
}
