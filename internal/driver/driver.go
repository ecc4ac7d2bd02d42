// Package driver runs the scan-cycle loop of spec.md §4.15: read control
// state, evaluate health, fetch markets, refresh prices, run strategies,
// gate and fill opportunities, mark positions to market and process exits,
// persist logs/snapshot, fan out to observers, sleep. Grounded on the
// teacher's orchestrator/engine.go Run loop shape (ticker-driven cycle with
// a per-step timeout and a total cycle deadline), generalized from a
// single-asset trading loop to the multi-strategy, multi-source cycle
// spec.md describes.
package driver

import (
	"context"
	"time"

	"github.com/polytrader/polytrader/internal/aggregator"
	"github.com/polytrader/polytrader/internal/apperrors"
	"github.com/polytrader/polytrader/internal/control"
	"github.com/polytrader/polytrader/internal/gate"
	"github.com/polytrader/polytrader/internal/health"
	"github.com/polytrader/polytrader/internal/marketcache"
	"github.com/polytrader/polytrader/internal/metrics"
	"github.com/polytrader/polytrader/internal/observer"
	"github.com/polytrader/polytrader/internal/paperengine"
	"github.com/polytrader/polytrader/internal/portfolio"
	"github.com/polytrader/polytrader/internal/snapshot"
	"github.com/polytrader/polytrader/internal/sources"
	"github.com/polytrader/polytrader/internal/strategy"
	"github.com/polytrader/polytrader/internal/tradelog"
	"github.com/polytrader/polytrader/pkg/types"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"
)

// stepTimeout bounds any single step of the cycle; totalCycleDeadline
// bounds the cycle as a whole, per spec.md §4.15.
const (
	stepTimeout         = 20 * time.Second
	totalCycleDeadline  = 90 * time.Second
)

// Driver owns every component assembled by cmd/bot and runs the cycle loop.
type Driver struct {
	logger *zap.Logger
	cfg    types.Config

	cryptoPricers  []sources.Pricer
	marketLister   sources.MarketLister
	marketPricer   sources.MarketPricer

	cache      *marketcache.Cache
	agg        *aggregator.Aggregator
	strategies *strategy.Manager
	trackers   map[string]*portfolio.Tracker
	gate       *gate.Gate
	engine     *paperengine.Engine
	healthMon  *health.Monitor
	control    *control.Channel
	logs       *tradelog.Logs
	snapWriter *snapshot.Writer
	hub        *observer.Hub
	selector   *snapshot.Selector

	cryptoSymbols []string
	minEdgeBps    map[string]int64

	cycleSeq      uint64
	lastSelection time.Time
}

// Config bundles every collaborator the driver needs. Built by cmd/bot.
type Config struct {
	Logger        *zap.Logger
	Cfg           types.Config
	CryptoPricers []sources.Pricer
	MarketLister  sources.MarketLister
	MarketPricer  sources.MarketPricer
	Cache         *marketcache.Cache
	Aggregator    *aggregator.Aggregator
	Strategies    *strategy.Manager
	Trackers      map[string]*portfolio.Tracker
	Gate          *gate.Gate
	Engine        *paperengine.Engine
	HealthMonitor *health.Monitor
	Control       *control.Channel
	Logs          *tradelog.Logs
	SnapshotWriter *snapshot.Writer
	Hub           *observer.Hub
	Selector      *snapshot.Selector
	CryptoSymbols []string
}

func New(c Config) *Driver {
	minEdge := make(map[string]int64)
	for name, th := range c.Cfg.Strategies.Thresholds {
		minEdge[name] = th.MinEdgeBps
	}
	return &Driver{
		logger:        c.Logger,
		cfg:           c.Cfg,
		cryptoPricers: c.CryptoPricers,
		marketLister:  c.MarketLister,
		marketPricer:  c.MarketPricer,
		cache:         c.Cache,
		agg:           c.Aggregator,
		strategies:    c.Strategies,
		trackers:      c.Trackers,
		gate:          c.Gate,
		engine:        c.Engine,
		healthMon:     c.HealthMonitor,
		control:       c.Control,
		logs:          c.Logs,
		snapWriter:    c.SnapshotWriter,
		hub:           c.Hub,
		selector:      c.Selector,
		cryptoSymbols: c.CryptoSymbols,
		minEdgeBps:    minEdge,
		lastSelection: time.Now(),
	}
}

// Run blocks until ctx is cancelled, running one cycle every
// scan_interval_seconds. A cycle's own errors are logged and folded into the
// next cycle rather than crashing the loop, except for apperrors.Fatal
// kinds, which stop the loop so cmd/bot can exit non-zero. When a cycle ends
// with the kill switch active (config kill_switch or the control record's
// kill flag), Run writes a final snapshot and returns nil.
func (d *Driver) Run(ctx context.Context) error {
	interval := time.Duration(d.cfg.ScanIntervalSeconds) * time.Second
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	killed := func() bool {
		if !d.cfg.KillSwitch && !d.control.Snapshot().KillActive {
			return false
		}
		d.logger.Warn("kill switch active, stopping the scan loop")
		d.persistSnapshot()
		return true
	}

	if err := d.runCycle(ctx); err != nil {
		if fatalErr, ok := asFatal(err); ok {
			return fatalErr
		}
	}
	if killed() {
		return nil
	}

	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			if err := d.runCycle(ctx); err != nil {
				if fatalErr, ok := asFatal(err); ok {
					return fatalErr
				}
			}
			if killed() {
				return nil
			}
		}
	}
}

func asFatal(err error) (error, bool) {
	if ae, ok := err.(*apperrors.Error); ok && apperrors.Fatal(ae.Kind) {
		return ae, true
	}
	return nil, false
}

// runCycle executes the nine steps of spec.md §4.15 in order, the whole
// bounded by totalCycleDeadline; the market and consensus refreshes are
// each further bounded by stepTimeout.
func (d *Driver) runCycle(parent context.Context) error {
	d.cycleSeq++
	traceID := tradelog.NewTraceID()
	start := time.Now()

	ctx, cancel := context.WithTimeout(parent, totalCycleDeadline)
	defer cancel()

	d.logActivity(types.ActivityCycleStarted, traceID, "")

	// 1. Refresh control state; fail-closed behavior lives in control.Channel.
	if err := d.control.Refresh(); err != nil {
		d.logger.Warn("control refresh failed, failing closed", zap.Error(err))
	}
	ctrl := d.control.Snapshot()

	// 2. Evaluate health; auto-disable any strategy that tripped a threshold.
	d.evaluateHealth()

	if ctrl.KillActive || d.cfg.KillSwitch {
		d.logActivity(types.ActivityCycleEnded, traceID, "kill_active")
		metrics.CycleDuration.WithLabelValues("total").Observe(time.Since(start).Seconds())
		return nil
	}

	// 3. Fetch/refresh markets.
	markets, err := d.refreshMarkets(ctx)
	if err != nil {
		d.logActivity(types.ActivityError, traceID, err.Error())
	}
	d.logActivity(types.ActivityMarketsFetched, traceID, "")

	// 4. Refresh crypto consensus prices.
	consensus := d.refreshConsensus(ctx)

	if ctrl.Paused {
		d.logActivity(types.ActivityCycleEnded, traceID, "paused")
		metrics.CycleDuration.WithLabelValues("total").Observe(time.Since(start).Seconds())
		return nil
	}

	// 5. Run strategies.
	openByStrategy := make(map[string]map[types.PositionKey]types.Position, len(d.trackers))
	for name, tr := range d.trackers {
		openByStrategy[name] = tr.OpenPositions()
	}
	opportunities := d.strategies.RunAll(markets, consensus, openByStrategy, d.minEdgeBps)

	// 6/7. Gate and fill; mark-to-market and process exits.
	d.processOpportunities(traceID, markets, consensus, ctrl, opportunities)
	d.markAndCloseExits(markets, ctrl, consensus)

	// 8. Persist snapshot, publish to observers.
	d.persistSnapshot()

	// 9. Once a week, propose a reallocation based on trailing performance.
	d.maybeRunWeeklySelector()

	d.logActivity(types.ActivityCycleEnded, traceID, "")
	metrics.CycleDuration.WithLabelValues("total").Observe(time.Since(start).Seconds())
	return nil
}

func (d *Driver) logActivity(kind types.ActivityEventKind, traceID, message string) {
	ev := d.logs.NewActivityEvent(kind, traceID)
	ev.Message = message
	if err := d.logs.LogActivity(ev); err != nil {
		d.logger.Warn("activity log append failed", zap.Error(err))
	}
}

func (d *Driver) evaluateHealth() {
	for name, tr := range d.trackers {
		snap := tr.Metrics()
		metrics.StrategyEquity.WithLabelValues(name).Set(mustFloat(snap.EquityUSD))
		metrics.StrategyDrawdownPct.WithLabelValues(name).Set(mustFloat(snap.Metrics.MaxDrawdownPct))

		s, ok := d.strategies.Strategy(name)
		if !ok {
			continue
		}
		if s.Enabled {
			if disable, reason := d.healthMon.Evaluate(snap); disable {
				d.strategies.Disable(name, reason)
				d.logger.Warn("strategy auto-disabled", zap.String("strategy", name), zap.String("reason", reason))
			}
		}
		s, _ = d.strategies.Strategy(name)
		metrics.SetStrategyEnabled(name, s.Enabled)
	}
}

func mustFloat(d decimal.Decimal) float64 {
	f, _ := d.Float64()
	return f
}

func (d *Driver) refreshMarkets(parent context.Context) ([]types.Market, error) {
	ctx, cancel := context.WithTimeout(parent, stepTimeout)
	defer cancel()

	if d.marketLister == nil {
		return d.cache.AllActive(), nil
	}

	listed, err := d.marketLister.ListMarkets(ctx, sources.MarketFilter{
		MinLiquidityUSD: d.cfg.Markets.MinLiquidityUSD,
		MinVolume24hUSD: d.cfg.Markets.MinVolume24hUSD,
		Categories:      d.cfg.Markets.Categories,
		Keywords:        d.cfg.Markets.Keywords,
		ExcludeKeywords: d.cfg.Markets.ExcludeKeywords,
	})
	if err != nil {
		metrics.ErrorsTotal.WithLabelValues(errKind(err)).Inc()
		return d.cache.AllActive(), err
	}

	seen := make(map[string]struct{}, len(listed))
	for _, m := range listed {
		d.cache.Put(m)
		seen[m.MarketID] = struct{}{}
	}
	d.cache.ReconcileMissing(seen)

	return d.cache.AllActive(), nil
}

// refreshConsensus fetches every configured crypto pricer concurrently
// through a bounded worker pool, so one stalled source never holds up the
// others — see internal/sources.Pool.
func (d *Driver) refreshConsensus(parent context.Context) map[string]*types.ConsensusPrice {
	ctx, cancel := context.WithTimeout(parent, stepTimeout)
	defer cancel()

	tasks := make([]sources.FetchTask, len(d.cryptoPricers))
	for i, pricer := range d.cryptoPricers {
		pricer := pricer
		tasks[i] = sources.FetchTask{
			Source: pricer.Name(),
			Run: func(ctx context.Context) error {
				quotes, err := pricer.GetPrices(ctx, d.cryptoSymbols)
				metrics.SetSourceHealthy(pricer.Name(), pricer.Health().Healthy)
				if err != nil {
					return err
				}
				for _, q := range quotes {
					d.agg.Ingest(q)
				}
				return nil
			},
		}
	}

	pool := sources.NewPool(len(tasks))
	for source, err := range pool.RunAll(ctx, tasks) {
		if err != nil {
			metrics.ErrorsTotal.WithLabelValues(errKind(err)).Inc()
			d.logger.Warn("crypto pricer fetch failed", zap.String("source", source), zap.Error(err))
		}
	}

	out := make(map[string]*types.ConsensusPrice, len(d.cryptoSymbols))
	for _, sym := range d.cryptoSymbols {
		if cp := d.agg.BestPrice(sym); cp != nil {
			out[sym] = cp
		}
	}
	return out
}

func errKind(err error) string {
	if ae, ok := err.(*apperrors.Error); ok {
		return string(ae.Kind)
	}
	return "unknown"
}
