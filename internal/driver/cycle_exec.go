package driver

import (
	"context"
	"time"

	"github.com/polytrader/polytrader/internal/apperrors"
	"github.com/polytrader/polytrader/internal/gate"
	"github.com/polytrader/polytrader/internal/metrics"
	"github.com/polytrader/polytrader/internal/observer"
	"github.com/polytrader/polytrader/internal/snapshot"
	"github.com/polytrader/polytrader/pkg/types"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"
)

// processOpportunities runs steps 6 of spec.md §4.15: gate every detected
// opportunity (capped at the strategy's max_opens_per_cycle), and fill the
// ones that pass.
func (d *Driver) processOpportunities(traceID string, markets []types.Market, consensus map[string]*types.ConsensusPrice, ctrl types.ControlState, byStrategy map[string][]types.Opportunity) {
	marketByID := make(map[string]types.Market, len(markets))
	for _, m := range markets {
		marketByID[m.MarketID] = m
	}

	for name, opps := range byStrategy {
		strat, ok := d.strategies.Strategy(name)
		if !ok {
			continue
		}
		tr, ok := d.trackers[name]
		if !ok {
			continue
		}

		maxOpens := d.cfg.Strategies.Thresholds[name].MaxOpensPerCycle
		if maxOpens <= 0 {
			maxOpens = len(opps)
		}

		opened := 0
		for _, opp := range opps {
			if opened >= maxOpens {
				break
			}
			metrics.OpportunitiesDetected.WithLabelValues(name).Inc()
			if err := d.logs.LogOpportunity(opp); err != nil {
				d.logger.Warn("opportunity log append failed", zap.Error(err))
			}
			d.logActivity(types.ActivityOpportunityFound, traceID, opp.MarketID)

			market, marketOK := marketByID[opp.MarketID]
			_, marketAge, _ := d.cache.Get(opp.MarketID)

			allowed, reason := d.gate.MayExecute(gate.Context{
				PaperTrading: d.cfg.PaperTrading,
				KillSwitch:   d.cfg.KillSwitch,
				Control:      ctrl,
				Strategy:     strat,
				Opportunity:  opp,
				Market:       market,
				MarketAge:    marketAge,
				Consensus:    consensus,
				Now:          time.Now(),
			})
			if !allowed {
				metrics.GateDenialsTotal.WithLabelValues(reason).Inc()
				continue
			}
			if !marketOK {
				continue
			}

			trade, err := d.engine.Place(opp, market.Prices, tr)
			if err != nil {
				metrics.ErrorsTotal.WithLabelValues(errKind(err)).Inc()
				d.logActivity(types.ActivityError, traceID, err.Error())
				continue
			}

			opened++
			metrics.TradesFilled.WithLabelValues(name).Inc()
			d.strategies.NotifyFill(trade)
			if err := d.logs.LogTrade(trade); err != nil {
				d.logger.Warn("trade log append failed", zap.Error(err))
			}
			d.logActivity(types.ActivityTradeExecuted, traceID, opp.MarketID)
		}
	}
}

// markAndCloseExits runs step 7: mark every open position to the latest
// cached market price, then close any that crossed its strategy's
// profit-target, stop-loss, or max-hold-minutes threshold, per spec.md
// §4.8/§4.9. An exit on a market still in the cache is submitted through the
// same gate.MayExecute chokepoint as an open (spec.md §4.15 step 7); an exit
// on a market already evicted from the cache runs only the gate's universal
// checks inline, and an exit for a strategy the manager does not know is
// closed without any check. A denied exit stays open until a later cycle.
// runCycle returns before this step on a paused or kill-switched cycle, so
// pause/kill are not what defers an exit here; the validator checks can (see
// DESIGN.md).
func (d *Driver) markAndCloseExits(markets []types.Market, ctrl types.ControlState, consensus map[string]*types.ConsensusPrice) {
	marketByID := make(map[string]types.Market, len(markets))
	latest := make(map[string]map[string]decimal.Decimal, len(markets))
	for _, m := range markets {
		marketByID[m.MarketID] = m
		latest[m.MarketID] = m.Prices
	}
	d.refreshOpenMarketPrices(latest)

	now := time.Now()
	for name, tr := range d.trackers {
		tr.MarkToMarket(latest)
		th := d.cfg.Strategies.Thresholds[name]
		strat, stratOK := d.strategies.Strategy(name)

		for key, pos := range tr.OpenPositions() {
			outcomes, ok := latest[key.MarketID]
			if !ok {
				continue
			}
			price := markExitPrice(outcomes, key.Side)
			if price.IsZero() {
				continue
			}

			pnlPct := unrealizedPnLPct(pos, price, key.Side)
			held := now.Sub(pos.OpenedAt)

			var reason string
			switch {
			case th.ProfitTargetPct > 0 && pnlPct >= th.ProfitTargetPct:
				reason = "profit_target"
			case th.StopLossPct > 0 && pnlPct <= -th.StopLossPct:
				reason = "stop_loss"
			case th.MaxHoldMinutes > 0 && held >= time.Duration(th.MaxHoldMinutes)*time.Minute:
				reason = "max_hold_exceeded"
			}
			if reason == "" {
				continue
			}

			trade, err := d.findOpenTrade(name, key)
			if err != nil {
				continue
			}

			if stratOK {
				var allowed bool
				var denyReason string
				if market, marketOK := marketByID[key.MarketID]; marketOK {
					_, marketAge, _ := d.cache.Get(key.MarketID)
					allowed, denyReason = d.gate.MayExecute(gate.Context{
						PaperTrading: d.cfg.PaperTrading,
						KillSwitch:   d.cfg.KillSwitch,
						Control:      ctrl,
						Strategy:     strat,
						Opportunity:  trade.Opportunity,
						Market:       market,
						MarketAge:    marketAge,
						Consensus:    consensus,
						Now:          now,
					})
				} else {
					// The market has already been evicted from the cache
					// (resolved or missing from the listing for too many
					// cycles) but the position is still open. There is no
					// listing metadata left to validate freshness/liquidity/
					// time-to-close against, so only the gate's
					// universal checks apply — an exit must never stay
					// stuck open just because its market disappeared from
					// the feed.
					allowed, denyReason = true, ""
					switch {
					case !d.cfg.PaperTrading:
						allowed, denyReason = false, "not_paper_trading"
					case d.cfg.KillSwitch:
						allowed, denyReason = false, "kill_switch_config"
					case ctrl.KillActive:
						allowed, denyReason = false, "kill_active"
					case ctrl.Paused:
						allowed, denyReason = false, "paused"
					case !strat.Enabled || strat.Paused:
						allowed, denyReason = false, "strategy_disabled"
					}
				}
				if !allowed {
					metrics.GateDenialsTotal.WithLabelValues(denyReason).Inc()
					continue
				}
			}

			closed, err := d.engine.Close(trade.TradeID, price, reason, tr)
			if err != nil {
				metrics.ErrorsTotal.WithLabelValues(errKind(err)).Inc()
				continue
			}
			metrics.RecordTradeClosed(name, closed.RealizedPnLUSD.GreaterThan(decimal.Zero))
			d.strategies.NotifyClose(closed)
			if err := d.logs.LogTrade(closed); err != nil {
				d.logger.Warn("trade log append failed", zap.Error(err))
			}
			d.logActivity(types.ActivityTradeClosed, "", key.MarketID)
		}
	}
}

// refreshOpenMarketPrices replaces the listing-derived price for any market
// with an open position in any strategy with a fresher order-book mid from
// the MarketPricer, per spec.md §4.2 — exit decisions should use the
// tightest price available, not the last full market listing.
func (d *Driver) refreshOpenMarketPrices(latest map[string]map[string]decimal.Decimal) {
	if d.marketPricer == nil {
		return
	}
	openMarketIDs := make(map[string]struct{})
	for _, tr := range d.trackers {
		for key := range tr.OpenPositions() {
			openMarketIDs[key.MarketID] = struct{}{}
		}
	}
	if len(openMarketIDs) == 0 {
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), stepTimeout)
	defer cancel()
	for marketID := range openMarketIDs {
		prices, err := d.marketPricer.GetMarketPrices(ctx, marketID)
		if err != nil || len(prices) == 0 {
			continue
		}
		latest[marketID] = prices
	}
}

func (d *Driver) findOpenTrade(strategyName string, key types.PositionKey) (types.Trade, error) {
	for _, t := range d.engine.OpenTrades() {
		if t.StrategyName == strategyName && t.Opportunity.Key() == key {
			return t, nil
		}
	}
	return types.Trade{}, apperrors.New(apperrors.KindInternalInvariant, "no open trade for position")
}

func markExitPrice(outcomes map[string]decimal.Decimal, side types.Side) decimal.Decimal {
	for outcome, p := range outcomes {
		if side == types.SidePair {
			return decimal.NewFromInt(1)
		}
		if types.Side(outcome) == side {
			return p
		}
	}
	// fall back to whatever single price is present, as markPrice does in
	// the portfolio package, for outcome-name mismatches from upstream data.
	for _, p := range outcomes {
		return p
	}
	return decimal.Zero
}

func unrealizedPnLPct(pos types.Position, price decimal.Decimal, side types.Side) float64 {
	if pos.AvgEntryPrice.IsZero() {
		return 0
	}
	diff := price.Sub(pos.AvgEntryPrice)
	pct, _ := diff.Div(pos.AvgEntryPrice).Float64()
	return pct
}

// persistSnapshot runs step 8: write the durable snapshot artifact and fan
// the resulting per-strategy/aggregate state out to observers.
func (d *Driver) persistSnapshot() {
	snaps := make(map[string]types.PortfolioSnapshot, len(d.trackers))
	aggregate := types.PortfolioSnapshot{StrategyName: "aggregate", UpdatedAt: time.Now()}
	for name, tr := range d.trackers {
		s := tr.Metrics()
		snaps[name] = s
		aggregate.CashUSD = aggregate.CashUSD.Add(s.CashUSD)
		aggregate.EquityUSD = aggregate.EquityUSD.Add(s.EquityUSD)
		aggregate.DailyPnLUSD = aggregate.DailyPnLUSD.Add(s.DailyPnLUSD)
		aggregate.PositionList = append(aggregate.PositionList, s.PositionList...)
	}

	snap := snapshot.EngineSnapshot{
		DriverStatus: "running",
		Portfolios:   snaps,
		Aggregate:    aggregate,
		LastCycleAt:  time.Now(),
		LastCycleSeq: d.cycleSeq,
		CacheMarkets: d.cache.Len(),
	}
	if err := d.snapWriter.Write(snap); err != nil {
		d.logger.Warn("snapshot write failed", zap.Error(err))
	}

	d.hub.Publish(observer.Event{Kind: "snapshot", Payload: snap})
	d.hub.Publish(observer.Event{Kind: "gate_denials", Payload: d.gate.Denials()})
}

// maybeRunWeeklySelector runs the weekly reallocation proposal of spec.md
// §4.11 once seven days have elapsed since the last run. The proposal is
// always published to observers; it is only applied to the strategy
// manager's allocations when auto_reallocation is enabled.
func (d *Driver) maybeRunWeeklySelector() {
	if d.selector == nil || time.Since(d.lastSelection) < 7*24*time.Hour {
		return
	}
	d.lastSelection = time.Now()

	snaps := make(map[string]types.PortfolioSnapshot, len(d.trackers))
	for name, tr := range d.trackers {
		snaps[name] = tr.Metrics()
	}

	proposal := d.selector.Propose(d.lastSelection, snaps)
	if proposal == nil {
		return
	}

	d.hub.Publish(observer.Event{Kind: "allocation_proposal", Payload: proposal})
	d.logger.Info("weekly allocation proposal", zap.Any("qualifiers", proposal.Qualifiers))

	if !d.cfg.AutoReallocation {
		return
	}
	allocs := make(map[string]float64, len(proposal.Allocations))
	for name, a := range proposal.Allocations {
		f, _ := a.Float64()
		allocs[name] = f
	}
	if err := d.strategies.Rebalance(allocs); err != nil {
		d.logger.Warn("auto-reallocation rejected", zap.Error(err))
	}
}
