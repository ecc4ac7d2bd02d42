// Package validator implements the pre-trade checks spec.md §4.14
// describes: staleness, cross-source discrepancy, liquidity floor, and
// time-to-close floor. Grounded on the teacher's data/quality.go
// multi-check validation idiom, generalized from OHLCV-series checks to a
// single opportunity's dependencies.
package validator

import (
	"time"

	"github.com/polytrader/polytrader/internal/apperrors"
	"github.com/polytrader/polytrader/pkg/types"
)

// Config mirrors spec.md §6's execution_gate.* knobs.
type Config struct {
	FreshnessMs         int64
	PriceDiscrepancyPct float64
	MinLiquidityUSD     float64
	MinTimeToCloseSec   int64
}

// Validator runs the pre-execution checks the gate consults before any
// trade may be created.
type Validator struct {
	config Config
}

func New(cfg Config) *Validator {
	return &Validator{config: cfg}
}

// Check runs every check in order and returns the first failure as an
// apperrors.KindDataStale error whose Reason names the failed check, or nil
// if the opportunity may proceed.
func (v *Validator) Check(market types.Market, marketLastUpdated time.Time, consensus map[string]*types.ConsensusPrice, opp types.Opportunity, now time.Time) error {
	if now.Sub(marketLastUpdated).Milliseconds() > v.config.FreshnessMs {
		return denial("stale market data", "stale_market_data")
	}

	for _, symbol := range opp.SourcesUsed {
		cp := consensus[symbol]
		if cp == nil {
			continue
		}
		if now.Sub(cp.ComputedAt).Milliseconds() > v.config.FreshnessMs {
			return denial("stale consensus price", "stale_consensus_price")
		}
	}

	if !opp.SingleSourceOK && v.crossSourceDiscrepant(opp, consensus) {
		return denial("cross-source price discrepancy", "price_discrepancy")
	}

	liq, _ := market.LiquidityUSD.Float64()
	if liq < v.config.MinLiquidityUSD {
		return denial("liquidity below floor", "liquidity_below_floor")
	}

	if market.EndTime.Sub(now) < time.Duration(v.config.MinTimeToCloseSec)*time.Second {
		return denial("time to close below floor", "time_to_close_below_floor")
	}

	return nil
}

// denial builds a KindDataStale error with Reason populated so the gate can
// surface the specific check that failed rather than a generic message.
func denial(message, reason string) error {
	return &apperrors.Error{Kind: apperrors.KindDataStale, Message: message, Reason: reason}
}

// crossSourceDiscrepant reports whether any consensus price the opportunity
// references disagrees with its own RefPrices snapshot by more than
// price_discrepancy_pct.
func (v *Validator) crossSourceDiscrepant(opp types.Opportunity, consensus map[string]*types.ConsensusPrice) bool {
	for symbol, refPrice := range opp.RefPrices {
		cp, ok := consensus[symbol]
		if !ok || cp == nil {
			continue
		}
		ref, _ := refPrice.Float64()
		med, _ := cp.Median.Float64()
		if med == 0 {
			continue
		}
		diff := (ref - med) / med
		if diff < 0 {
			diff = -diff
		}
		if diff > v.config.PriceDiscrepancyPct {
			return true
		}
	}
	return false
}
