// Package portfolio implements the per-strategy single-writer ledger of
// spec.md §4.9: apply_fill, apply_close, mark_to_market, metrics, with the
// cash>=0 and equity=cash+sum(units*price) invariants enforced after every
// mutation. Grounded on the teacher's backtester/portfolio.go
// cash/positions bookkeeping, repurposed here for live paper trading rather
// than backtesting.
package portfolio

import (
	"sync"
	"time"

	"github.com/polytrader/polytrader/internal/apperrors"
	"github.com/polytrader/polytrader/pkg/types"
	"github.com/shopspring/decimal"
)

// cadencePerYear is the scan cadence used to annualize Sharpe/Sortino from
// per-closed-trade returns, per spec.md §9 Open Question #2: the source's
// annualization factor was inconsistent, so this implementation documents
// the cadence explicitly: PerformanceMetrics.AnnualizationBasis records the
// scan cycles per year, and per-trade Sharpe/Sortino are scaled by
// sqrt(AnnualizationBasis / closed trades).
func cadencePerYear(scanIntervalSeconds int) int {
	if scanIntervalSeconds <= 0 {
		scanIntervalSeconds = 60
	}
	secondsPerYear := 365 * 24 * 60 * 60
	return secondsPerYear / scanIntervalSeconds
}

// Tracker is the single writer for one strategy's ledger.
type Tracker struct {
	strategyName        string
	scanIntervalSeconds int

	mu          sync.Mutex
	cash        decimal.Decimal
	positions   map[types.PositionKey]types.Position
	peakEquity  decimal.Decimal
	closedTrades []types.Trade // ordered, for consecutive-loss and metrics computation
	equityCurve []types.EquityCurvePoint
	dailyPnL    decimal.Decimal
	dailyAnchor time.Time
}

func New(strategyName string, startingCapital decimal.Decimal, scanIntervalSeconds int) *Tracker {
	return &Tracker{
		strategyName:        strategyName,
		scanIntervalSeconds: scanIntervalSeconds,
		cash:                startingCapital,
		positions:           make(map[types.PositionKey]types.Position),
		peakEquity:          startingCapital,
		dailyAnchor:         time.Now().Truncate(24 * time.Hour),
	}
}

// ApplyFill commits an entry: cash decremented by notional, position opened
// or augmented at a volume-weighted average entry price. Rejects (rolls
// back) if cash would go negative.
func (t *Tracker) ApplyFill(trade types.Trade) error {
	t.mu.Lock()
	defer t.mu.Unlock()

	if trade.NotionalUSD.GreaterThan(t.cash) {
		return apperrors.New(apperrors.KindInsufficientCash, "fill would drive cash negative")
	}

	key := trade.Opportunity.Key()
	pos, exists := t.positions[key]
	if exists && pos.Units.GreaterThan(decimal.Zero) {
		return apperrors.New(apperrors.KindDuplicatePosition, "position already open for this strategy/market/side")
	}

	entryPrice := weightedEntryPrice(trade)
	units := decimal.Zero
	if entryPrice.GreaterThan(decimal.Zero) {
		units = trade.NotionalUSD.Div(entryPrice)
	}

	t.cash = t.cash.Sub(trade.NotionalUSD)
	t.positions[key] = types.Position{
		Key:           key,
		Units:         units,
		AvgEntryPrice: entryPrice,
		OpenedAt:      trade.FilledAt,
	}

	return t.checkInvariants()
}

// ApplyClose settles realized P&L = (exit_price - entry_price) * units,
// returns cash (notional + P&L), zeroes the position, and records the trade
// on the closed-trade stream consecutive-loss tracking reads from, per
// spec.md §9 Open Question #3.
func (t *Tracker) ApplyClose(trade types.Trade, exitPrice decimal.Decimal) error {
	t.mu.Lock()
	defer t.mu.Unlock()

	key := trade.Opportunity.Key()
	pos, exists := t.positions[key]
	if !exists {
		return apperrors.New(apperrors.KindInternalInvariant, "apply_close on a position that was never opened")
	}

	pnl := exitPrice.Sub(pos.AvgEntryPrice).Mul(pos.Units)

	proceeds := pos.Units.Mul(exitPrice)
	t.cash = t.cash.Add(proceeds)
	delete(t.positions, key)

	closed := trade
	closed.RealizedPnLUSD = pnl
	closed.ExitPrice = exitPrice
	closed.Status = types.TradeStatusClosed
	closed.State = types.TradeStateClosed
	now := time.Now()
	closed.ClosedAt = &now
	t.closedTrades = append(t.closedTrades, closed)

	t.rolloverDailyPnL(now)
	t.dailyPnL = t.dailyPnL.Add(pnl)

	return t.checkInvariants()
}

// MarkToMarket recomputes unrealized P&L for every open position against
// the supplied latest prices (keyed by market id -> outcome -> price).
func (t *Tracker) MarkToMarket(latest map[string]map[string]decimal.Decimal) {
	t.mu.Lock()
	defer t.mu.Unlock()
	for key, pos := range t.positions {
		outcomes, ok := latest[key.MarketID]
		if !ok {
			continue
		}
		price := markPrice(outcomes, key.Side)
		if price.IsZero() {
			continue
		}
		pos.UnrealizedPnLUSD = price.Sub(pos.AvgEntryPrice).Mul(pos.Units)
		t.positions[key] = pos
	}
}

// Equity returns cash + sum(units*price) using the last marked unrealized
// P&L, enforcing the equity invariant of spec.md §3.
func (t *Tracker) equityLocked() decimal.Decimal {
	equity := t.cash
	for _, pos := range t.positions {
		equity = equity.Add(pos.Units.Mul(pos.AvgEntryPrice)).Add(pos.UnrealizedPnLUSD)
	}
	return equity
}

func (t *Tracker) checkInvariants() error {
	if t.cash.LessThan(decimal.Zero) {
		return apperrors.New(apperrors.KindInternalInvariant, "cash went negative")
	}
	equity := t.equityLocked()
	if equity.GreaterThan(t.peakEquity) {
		t.peakEquity = equity
	}
	t.equityCurve = append(t.equityCurve, types.EquityCurvePoint{
		Timestamp:   time.Now(),
		Equity:      equity,
		Cash:        t.cash,
		DrawdownPct: t.drawdownLocked(equity),
	})
	if len(t.equityCurve) > 10000 {
		t.equityCurve = t.equityCurve[len(t.equityCurve)-10000:]
	}
	return nil
}

func (t *Tracker) drawdownLocked(equity decimal.Decimal) decimal.Decimal {
	if t.peakEquity.IsZero() {
		return decimal.Zero
	}
	return t.peakEquity.Sub(equity).Div(t.peakEquity)
}

func (t *Tracker) rolloverDailyPnL(now time.Time) {
	today := now.Truncate(24 * time.Hour)
	if today.After(t.dailyAnchor) {
		t.dailyAnchor = today
		t.dailyPnL = decimal.Zero
	}
}

// OpenPositions returns a copy of all currently-open positions.
func (t *Tracker) OpenPositions() map[types.PositionKey]types.Position {
	t.mu.Lock()
	defer t.mu.Unlock()
	out := make(map[types.PositionKey]types.Position, len(t.positions))
	for k, v := range t.positions {
		out[k] = v
	}
	return out
}

// Metrics computes the PortfolioSnapshot, per spec.md §4.9.
func (t *Tracker) Metrics() types.PortfolioSnapshot {
	t.mu.Lock()
	defer t.mu.Unlock()

	equity := t.equityLocked()
	positions := make([]types.Position, 0, len(t.positions))
	for _, p := range t.positions {
		positions = append(positions, p)
	}

	return types.PortfolioSnapshot{
		StrategyName:  t.strategyName,
		CashUSD:       t.cash,
		PositionList:  positions,
		EquityUSD:     equity,
		DailyPnLUSD:   t.dailyPnL,
		PeakEquityUSD: t.peakEquity,
		Metrics:       t.performanceMetricsLocked(),
		EquityCurve:   append([]types.EquityCurvePoint(nil), t.equityCurve...),
		UpdatedAt:     time.Now(),
	}
}

// weightedEntryPrice derives a single fill price from a trade's per-outcome
// fill prices given its side.
func weightedEntryPrice(trade types.Trade) decimal.Decimal {
	switch trade.Opportunity.Side {
	case types.SideYes, types.SideNo:
		outcome := outcomeForSide(trade)
		if p, ok := trade.FillPrices[outcome]; ok {
			return p
		}
	case types.SidePair:
		// PAIR positions are sized on notional directly; entry price of 1
		// unit == $1 notional since both legs are bought to guarantee payout.
		return decimal.NewFromInt(1)
	}
	return decimal.Zero
}

// outcomeForSide picks the fill-price outcome whose name equals the trade's
// side ("YES"/"NO"), falling back to any present outcome when none matches.
func outcomeForSide(trade types.Trade) string {
	for outcome := range trade.FillPrices {
		if types.Side(outcome) == trade.Opportunity.Side {
			return outcome
		}
	}
	for outcome := range trade.FillPrices {
		return outcome
	}
	return ""
}

func markPrice(outcomes map[string]decimal.Decimal, side types.Side) decimal.Decimal {
	for outcome, p := range outcomes {
		if side == types.SidePair {
			return decimal.NewFromInt(1)
		}
		if types.Side(outcome) == side {
			return p
		}
	}
	for _, p := range outcomes {
		return p
	}
	return decimal.Zero
}
