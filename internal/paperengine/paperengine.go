// Package paperengine implements the paper trading engine of spec.md §4.8:
// opportunity -> simulated fill -> position update -> TradeEvent, following
// the Proposed -> Gated -> Filled -> Open -> Closing -> Closed state
// machine. Grounded on the teacher's execution/executor.go PaperTrading
// branch, generalized from a single-asset broker into the
// opportunity->trade flow spec.md describes. The Engine is the sole writer
// of Trade records; everything else reads snapshots.
package paperengine

import (
	"sync"
	"sync/atomic"
	"time"

	"github.com/polytrader/polytrader/internal/apperrors"
	"github.com/polytrader/polytrader/internal/portfolio"
	"github.com/polytrader/polytrader/pkg/types"
	"github.com/shopspring/decimal"
)

// Engine is the authoritative owner of Trade records. The gate must have
// already approved an opportunity before Place is called; Engine performs
// no gating itself.
type Engine struct {
	nextTradeID atomic.Uint64
	slippageBps int64

	mu     sync.Mutex
	trades map[uint64]types.Trade
}

func New(slippageBps int64) *Engine {
	return &Engine{slippageBps: slippageBps, trades: make(map[uint64]types.Trade)}
}

// Place fills an already-gated opportunity at the supplied reference prices
// (the market/consensus price the driver observed this cycle), applying the
// configured slippage, and commits the fill to the strategy's tracker
// atomically. Returns apperrors.KindInsufficientCash/PositionLimit/
// DuplicatePosition on rejection, per spec.md §4.8.
func (e *Engine) Place(opp types.Opportunity, refPrices map[string]decimal.Decimal, tracker *portfolio.Tracker) (types.Trade, error) {
	fillPrices := applySlippage(refPrices, opp.Side, e.slippageBps)

	trade := types.Trade{
		TradeID:      e.nextTradeID.Add(1),
		Opportunity:  opp,
		State:        types.TradeStateFilled,
		Status:       types.TradeStatusOpen,
		FilledAt:     time.Now(),
		FillPrices:   fillPrices,
		NotionalUSD:  opp.SizeUSD,
		StrategyName: opp.StrategyName,
	}

	if err := tracker.ApplyFill(trade); err != nil {
		trade.State = types.TradeStateRejected
		trade.Status = types.TradeStatusCancelled
		return trade, err
	}

	trade.State = types.TradeStateOpen
	e.mu.Lock()
	e.trades[trade.TradeID] = trade
	e.mu.Unlock()

	return trade, nil
}

// Close settles an open trade's exit at exitPrice (target/stop/expiry/manual),
// per spec.md §4.8. reason is recorded for the activity log.
func (e *Engine) Close(tradeID uint64, exitPrice decimal.Decimal, reason string, tracker *portfolio.Tracker) (types.Trade, error) {
	e.mu.Lock()
	trade, ok := e.trades[tradeID]
	e.mu.Unlock()
	if !ok {
		return types.Trade{}, apperrors.New(apperrors.KindInternalInvariant, "close on unknown trade id")
	}

	trade.State = types.TradeStateClosing
	pos, hasPos := tracker.OpenPositions()[trade.Opportunity.Key()]
	if err := tracker.ApplyClose(trade, exitPrice); err != nil {
		return trade, err
	}

	trade.State = types.TradeStateClosed
	trade.Status = types.TradeStatusClosed
	if hasPos {
		trade.RealizedPnLUSD = exitPrice.Sub(pos.AvgEntryPrice).Mul(pos.Units)
	}
	trade.ExitPrice = exitPrice
	trade.ExitReason = reason
	now := time.Now()
	trade.ClosedAt = &now

	e.mu.Lock()
	e.trades[tradeID] = trade
	e.mu.Unlock()

	return trade, nil
}

// Snapshot returns a copy of a trade record.
func (e *Engine) Snapshot(tradeID uint64) (types.Trade, bool) {
	e.mu.Lock()
	defer e.mu.Unlock()
	t, ok := e.trades[tradeID]
	return t, ok
}

// OpenTrades returns copies of every trade not yet closed or cancelled.
func (e *Engine) OpenTrades() []types.Trade {
	e.mu.Lock()
	defer e.mu.Unlock()
	var out []types.Trade
	for _, t := range e.trades {
		if t.Status == types.TradeStatusOpen {
			out = append(out, t)
		}
	}
	return out
}

// applySlippage subtracts slippage_bps from the entry edge by nudging the
// fill price against the side taken, per spec.md §4.8 (no full slippage
// model is required, only this configurable haircut).
func applySlippage(refPrices map[string]decimal.Decimal, side types.Side, slippageBps int64) map[string]decimal.Decimal {
	if slippageBps <= 0 {
		return refPrices
	}
	factor := decimal.NewFromInt(10000 + slippageBps).Div(decimal.NewFromInt(10000))
	out := make(map[string]decimal.Decimal, len(refPrices))
	for outcome, p := range refPrices {
		out[outcome] = p.Mul(factor)
	}
	return out
}
