// Package types provides shared type definitions for the paper-trading engine.
package types

import (
	"time"

	"github.com/shopspring/decimal"
)

// Side identifies which leg of a prediction market an opportunity targets.
type Side string

const (
	SideYes  Side = "YES"
	SideNo   Side = "NO"
	SidePair Side = "PAIR"
)

// StrategyStage is a strategy's maturity level, bounding its capital exposure.
type StrategyStage string

const (
	StageBacktest  StrategyStage = "backtest"
	StagePaper     StrategyStage = "paper"
	StageMicroLive StrategyStage = "micro_live"
	StageMiniLive  StrategyStage = "mini_live"
	StageFullLive  StrategyStage = "full_live"
)

// TradeStatus is the lifecycle status of a Trade record.
type TradeStatus string

const (
	TradeStatusOpen      TradeStatus = "open"
	TradeStatusClosed    TradeStatus = "closed"
	TradeStatusCancelled TradeStatus = "cancelled"
)

// TradeState is the fine-grained state machine a Trade moves through before
// settling into one of the TradeStatus terminal states.
type TradeState string

const (
	TradeStateProposed TradeState = "proposed"
	TradeStateGated    TradeState = "gated"
	TradeStateFilled   TradeState = "filled"
	TradeStateOpen     TradeState = "open"
	TradeStateClosing  TradeState = "closing"
	TradeStateClosed   TradeState = "closed"
	TradeStateRejected TradeState = "rejected"
)

// Market is a single Polymarket-style binary prediction market.
type Market struct {
	MarketID     string                     `json:"marketId"`
	Question     string                     `json:"question"`
	Outcomes     []string                   `json:"outcomes"`
	Prices       map[string]decimal.Decimal `json:"prices"`
	LiquidityUSD decimal.Decimal            `json:"liquidityUsd"`
	Volume24hUSD decimal.Decimal            `json:"volume24hUsd"`
	EndTime      time.Time                  `json:"endTime"`
	Category     string                     `json:"category,omitempty"`
	Source       string                     `json:"source"`
	FetchedAt    time.Time                  `json:"fetchedAt"`
	MissedCycles int                        `json:"missedCycles"`
}

// PriceSum returns the sum of the outcome prices — the bot's edge hinges on
// this being below 1.
func (m Market) PriceSum() decimal.Decimal {
	sum := decimal.Zero
	for _, p := range m.Prices {
		sum = sum.Add(p)
	}
	return sum
}

// PriceQuote is a single-source price observation for a symbol.
type PriceQuote struct {
	Symbol    string          `json:"symbol"`
	Source    string          `json:"source"`
	Price     decimal.Decimal `json:"price"`
	Volume24h decimal.Decimal `json:"volume24h"`
	Timestamp time.Time       `json:"timestamp"`
	AgeMs     int64           `json:"ageMs"`
	Stale     bool            `json:"stale"`
}

// ConsensusPrice is the aggregator's combined view of a symbol across sources.
type ConsensusPrice struct {
	Symbol     string          `json:"symbol"`
	Median     decimal.Decimal `json:"median"`
	Sources    []string        `json:"sources"`
	Confidence float64         `json:"confidence"`
	Stale      bool            `json:"stale"`
	ComputedAt time.Time       `json:"computedAt"`
}

// Strategy holds the metadata StrategyManager tracks for a registered strategy.
type Strategy struct {
	Name       string          `json:"name"`
	Enabled    bool            `json:"enabled"`
	Paused     bool            `json:"paused"`
	Stage      StrategyStage   `json:"stage"`
	Allocation decimal.Decimal `json:"allocation"`
	DisabledAt *time.Time      `json:"disabledAt,omitempty"`
	DisableReason string       `json:"disableReason,omitempty"`
}

// Opportunity is a candidate trade surfaced by a detector.
type Opportunity struct {
	StrategyName string                     `json:"strategyName"`
	MarketID     string                     `json:"marketId"`
	CreatedAt    time.Time                  `json:"createdAt"`
	Side         Side                       `json:"side"`
	EdgeBps      int64                      `json:"edgeBps"`
	SizeUSD      decimal.Decimal            `json:"sizeUsd"`
	Rationale    Rationale                  `json:"rationale"`
	ExpiresAt    time.Time                  `json:"expiresAt"`
	RefPrices    map[string]decimal.Decimal `json:"refPrices,omitempty"`
	SourcesUsed  []string                   `json:"sourcesUsed,omitempty"`
	MaxAgeMs     int64                      `json:"maxAgeMs"`
	SingleSourceOK bool                     `json:"singleSourceOk,omitempty"`
}

// Key identifies the (strategy, market, side) tuple used for dedup and Position lookups.
func (o Opportunity) Key() PositionKey {
	return PositionKey{StrategyName: o.StrategyName, MarketID: o.MarketID, Side: o.Side}
}

// Rationale is a tagged, detector-specific structured explanation attached to
// an Opportunity, so observers can render strategy-specific detail without a
// type downcast. Kind selects which field is populated.
type Rationale struct {
	Kind            string          `json:"kind"`
	ArbitrageMargin decimal.Decimal `json:"arbitrageMargin,omitempty"`
	EMAShort        decimal.Decimal `json:"emaShort,omitempty"`
	EMALong         decimal.Decimal `json:"emaLong,omitempty"`
	VolumePercentile float64        `json:"volumePercentile,omitempty"`
	ZScore          float64         `json:"zScore,omitempty"`
	Spread          decimal.Decimal `json:"spread,omitempty"`
	Symbol          string          `json:"symbol,omitempty"`
	Threshold       decimal.Decimal `json:"threshold,omitempty"`
	Direction       string          `json:"direction,omitempty"`
	ConsensusPrice  decimal.Decimal `json:"consensusPrice,omitempty"`
	Correlation     float64         `json:"correlation,omitempty"`
	PairMarketID    string          `json:"pairMarketId,omitempty"`
	Notes           string          `json:"notes,omitempty"`
}

// Trade is a simulated fill and its downstream lifecycle.
type Trade struct {
	TradeID        uint64                     `json:"tradeId"`
	Opportunity    Opportunity                `json:"opportunity"`
	State          TradeState                 `json:"state"`
	Status         TradeStatus                `json:"status"`
	FilledAt       time.Time                  `json:"filledAt"`
	FillPrices     map[string]decimal.Decimal `json:"fillPrices"`
	NotionalUSD    decimal.Decimal            `json:"notionalUsd"`
	Units          decimal.Decimal            `json:"units"`
	RealizedPnLUSD decimal.Decimal            `json:"realizedPnlUsd"`
	StrategyName   string                     `json:"strategyName"`
	ClosedAt       *time.Time                 `json:"closedAt,omitempty"`
	ExitPrice      decimal.Decimal            `json:"exitPrice,omitempty"`
	ExitReason     string                     `json:"exitReason,omitempty"`
}

// PositionKey is the identity of a Position: (strategy, market, side).
type PositionKey struct {
	StrategyName string `json:"strategyName"`
	MarketID     string `json:"marketId"`
	Side         Side   `json:"side"`
}

// Position is an open (or flat) holding in one market for one strategy.
type Position struct {
	Key             PositionKey     `json:"key"`
	Units           decimal.Decimal `json:"units"`
	AvgEntryPrice   decimal.Decimal `json:"avgEntryPrice"`
	UnrealizedPnLUSD decimal.Decimal `json:"unrealizedPnlUsd"`
	OpenedAt        time.Time       `json:"openedAt"`
}

// PerformanceMetrics are rolling statistics computed from a strategy's closed
// trade stream. Sharpe/Sortino are scaled by sqrt(AnnualizationBasis /
// TotalTrades), where AnnualizationBasis is scan cycles per year (see
// portfolio.cadencePerYear for the cadence assumption).
type PerformanceMetrics struct {
	TotalReturnPct     decimal.Decimal `json:"totalReturnPct"`
	SharpeRatio        decimal.Decimal `json:"sharpeRatio"`
	SortinoRatio       decimal.Decimal `json:"sortinoRatio"`
	CalmarRatio        decimal.Decimal `json:"calmarRatio"`
	MaxDrawdownPct     decimal.Decimal `json:"maxDrawdownPct"`
	WinRate            decimal.Decimal `json:"winRate"`
	ProfitFactor       decimal.Decimal `json:"profitFactor"`
	TotalTrades        int             `json:"totalTrades"`
	WinningTrades      int             `json:"winningTrades"`
	LosingTrades       int             `json:"losingTrades"`
	ConsecutiveLosses  int             `json:"consecutiveLosses"`
	AvgWinUSD          decimal.Decimal `json:"avgWinUsd"`
	AvgLossUSD         decimal.Decimal `json:"avgLossUsd"`
	AnnualizationBasis int             `json:"annualizationBasis"`
}

// EquityCurvePoint is one sample of a strategy's equity curve, retained for
// the weekly selector and dashboard consumers.
type EquityCurvePoint struct {
	Timestamp time.Time       `json:"timestamp"`
	Equity    decimal.Decimal `json:"equity"`
	Cash      decimal.Decimal `json:"cash"`
	DrawdownPct decimal.Decimal `json:"drawdownPct"`
}

// PortfolioSnapshot is the per-strategy (or aggregate) state exposed to
// observers and persisted in the engine snapshot.
type PortfolioSnapshot struct {
	StrategyName string                  `json:"strategyName"`
	CashUSD      decimal.Decimal         `json:"cashUsd"`
	Positions    map[PositionKey]Position `json:"-"`
	PositionList []Position              `json:"positions"`
	EquityUSD    decimal.Decimal         `json:"equityUsd"`
	DailyPnLUSD  decimal.Decimal         `json:"dailyPnlUsd"`
	PeakEquityUSD decimal.Decimal        `json:"peakEquityUsd"`
	Metrics      PerformanceMetrics      `json:"metrics"`
	EquityCurve  []EquityCurvePoint      `json:"equityCurve,omitempty"`
	UpdatedAt    time.Time               `json:"updatedAt"`
}

// ControlState is the externally-mutated pause/kill signal read each cycle.
type ControlState struct {
	Paused     bool      `json:"paused"`
	KillActive bool      `json:"killActive"`
	KillReason string    `json:"killReason,omitempty"`
	UpdatedAt  time.Time `json:"updatedAt"`
}

// ActivityEventKind tags the variant of an ActivityEvent.
type ActivityEventKind string

const (
	ActivityCycleStarted    ActivityEventKind = "CycleStarted"
	ActivityCycleEnded      ActivityEventKind = "CycleEnded"
	ActivityMarketsFetched  ActivityEventKind = "MarketsFetched"
	ActivityOpportunityFound ActivityEventKind = "OpportunityFound"
	ActivityTradeExecuted   ActivityEventKind = "TradeExecuted"
	ActivityTradeClosed     ActivityEventKind = "TradeClosed"
	ActivityError           ActivityEventKind = "Error"
	ActivityHeartbeat       ActivityEventKind = "Heartbeat"
)

// ActivityEvent is one entry in the append-only activity log.
type ActivityEvent struct {
	ID           uint64            `json:"id"`
	Kind         ActivityEventKind `json:"kind"`
	Timestamp    time.Time         `json:"timestamp"`
	TraceID      string            `json:"traceId"`
	Count        int               `json:"count,omitempty"`
	StrategyName string            `json:"strategyName,omitempty"`
	MarketID     string            `json:"marketId,omitempty"`
	ErrorKind    string            `json:"errorKind,omitempty"`
	Message      string            `json:"message,omitempty"`
	RefID        *uint64           `json:"refId,omitempty"`
}

// AllocationProposal is the weekly selector's reallocation proposal, emitted
// on the observer stream but never applied automatically unless
// auto_reallocation is enabled.
type AllocationProposal struct {
	WeekOf      time.Time                  `json:"weekOf"`
	Allocations map[string]decimal.Decimal `json:"allocations"`
	Qualifiers  []string                   `json:"qualifiers"`
}
