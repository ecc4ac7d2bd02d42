// Command bot is the entry point of the paper-trading engine: it loads
// configuration, wires every collaborator package together, and runs the
// scan-cycle driver until a signal, the kill switch, or a fatal error stops it, per
// spec.md §6. Grounded on the teacher's cmd/server/main.go wiring shape
// (flags -> logger -> component construction -> signal-driven shutdown),
// adapted from the teacher's PhD-level autonomous-agent stack to this
// engine's much narrower, paper-trading-only component set.
package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/polytrader/polytrader/internal/aggregator"
	"github.com/polytrader/polytrader/internal/api"
	"github.com/polytrader/polytrader/internal/apperrors"
	"github.com/polytrader/polytrader/internal/config"
	"github.com/polytrader/polytrader/internal/control"
	"github.com/polytrader/polytrader/internal/driver"
	"github.com/polytrader/polytrader/internal/gate"
	"github.com/polytrader/polytrader/internal/health"
	"github.com/polytrader/polytrader/internal/marketcache"
	"github.com/polytrader/polytrader/internal/metrics"
	"github.com/polytrader/polytrader/internal/observer"
	"github.com/polytrader/polytrader/internal/paperengine"
	"github.com/polytrader/polytrader/internal/portfolio"
	"github.com/polytrader/polytrader/internal/ratelimit"
	"github.com/polytrader/polytrader/internal/snapshot"
	"github.com/polytrader/polytrader/internal/sources"
	"github.com/polytrader/polytrader/internal/strategy"
	"github.com/polytrader/polytrader/internal/tradelog"
	"github.com/polytrader/polytrader/internal/validator"
	"github.com/polytrader/polytrader/pkg/types"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// Exit codes per spec.md §6.
const (
	exitOK            = 0
	exitConfigInvalid = 2
	exitFatal         = 3
	exitInterrupted   = 130
)

func main() {
	configPath := flag.String("config", "", "path to a YAML config file; built-in defaults are used if empty")
	logLevel := flag.String("log-level", "info", "log level (debug, info, warn, error)")
	flag.Parse()

	logger := newLogger(*logLevel)
	defer logger.Sync()

	cfg, err := config.Load(*configPath)
	if err != nil {
		logger.Error("failed to load configuration", zap.Error(err))
		os.Exit(exitConfigInvalid)
	}
	if err := config.Validate(cfg); err != nil {
		logger.Error("invalid configuration", zap.Error(err))
		os.Exit(exitConfigInvalid)
	}

	metrics.Init()

	components, err := wire(logger, cfg)
	if err != nil {
		logger.Error("failed to wire components", zap.Error(err))
		os.Exit(exitFatal)
	}
	defer components.logs.Close()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	if components.streamPricer != nil {
		go runStream(ctx, logger, components)
	}

	go func() {
		if err := components.apiServer.Start(); err != nil {
			logger.Error("api server error", zap.Error(err))
		}
	}()

	runErrCh := make(chan error, 1)
	go func() {
		runErrCh <- components.drv.Run(ctx)
	}()

	var runErr error
	interrupted := false
	select {
	case <-sigCh:
		logger.Info("shutdown signal received")
		interrupted = true
		cancel()
		runErr = <-runErrCh
	case runErr = <-runErrCh:
		cancel()
	}

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()
	if err := components.apiServer.Stop(shutdownCtx); err != nil {
		logger.Warn("api server shutdown error", zap.Error(err))
	}

	if runErr == nil {
		if interrupted {
			os.Exit(exitInterrupted)
		}
		os.Exit(exitOK)
	}
	if apperrors.AsKind(runErr, apperrors.KindInternalInvariant) {
		logger.Error("driver stopped on a fatal internal invariant violation", zap.Error(runErr))
		os.Exit(exitFatal)
	}
	logger.Error("driver stopped with an error", zap.Error(runErr))
	os.Exit(exitFatal)
}

// runStream drives the optional streaming crypto pricer in the background,
// feeding ticks directly into the aggregator so the driver's per-cycle poll
// of the REST pricers is supplemented by push updates between cycles.
func runStream(ctx context.Context, logger *zap.Logger, c *wiredComponents) {
	err := c.streamPricer.Run(ctx, c.cfg.CryptoSymbols, func(q types.PriceQuote) {
		c.agg.Ingest(q)
	})
	if err != nil && ctx.Err() == nil {
		logger.Warn("streaming pricer exited", zap.Error(err))
	}
}

// wiredComponents bundles everything main needs to hold a reference to
// beyond the driver itself (for background goroutines and shutdown).
type wiredComponents struct {
	cfg          types.Config
	drv          *driver.Driver
	apiServer    *api.Server
	logs         *tradelog.Logs
	agg          *aggregator.Aggregator
	streamPricer sources.StreamingPricer
}

// wire constructs every collaborator package from cfg and assembles the
// driver, following spec.md §6's component list.
func wire(logger *zap.Logger, cfg *types.Config) (*wiredComponents, error) {
	limiter := ratelimit.New()
	for name, rl := range cfg.RateLimits {
		limiter.Register(name, rl.Burst, rl.PerMinute)
	}

	cryptoPricers := []sources.Pricer{
		sources.NewPrimaryCryptoPricer(cfg.Sources.Crypto.Primary, cfg.Sources.Crypto.PrimaryBaseURL, limiter, logger),
	}
	if cfg.Sources.Crypto.Fallback != "" {
		cryptoPricers = append(cryptoPricers, sources.NewFallbackCryptoPricer(cfg.Sources.Crypto.Fallback, cfg.Sources.Crypto.FallbackBaseURL, limiter, logger))
	}

	var streamPricer sources.StreamingPricer
	if cfg.Sources.Crypto.UseStream {
		streamPricer = sources.NewWebSocketStreamingPricer(cfg.Sources.Crypto.Primary+"_stream", cfg.Sources.Crypto.StreamURL, logger)
	}

	marketLister := sources.NewPredictionMarketLister(cfg.Sources.PredictionMarket.ListerName, cfg.Sources.PredictionMarket.ListerBaseURL, limiter, logger)
	marketPricer := sources.NewPredictionMarketPricer(cfg.Sources.PredictionMarket.PricerName, cfg.Sources.PredictionMarket.PricerBaseURL, limiter, logger)

	cache := marketcache.New()
	agg := aggregator.New(cfg.Aggregator.StalenessMs, cfg.Aggregator.OutlierThreshold, len(cryptoPricers))

	strategies := strategy.NewManager()
	trackers := make(map[string]*portfolio.Tracker, len(cfg.Strategies.Enabled))
	for _, name := range cfg.Strategies.Enabled {
		th := cfg.Strategies.Thresholds[name]
		alloc := cfg.Strategies.Allocation[name]
		detector := newDetector(name, cfg, th)
		if detector == nil {
			return nil, apperrors.New(apperrors.KindConfigInvalid, fmt.Sprintf("strategy %q has no known detector", name))
		}
		strategies.Register(name, detector, alloc, types.StagePaper)
		startingCapital := decimal.NewFromFloat(cfg.StartingCapitalUSD * alloc)
		trackers[name] = portfolio.New(name, startingCapital, cfg.ScanIntervalSeconds)
	}

	v := validator.New(validator.Config{
		FreshnessMs:         cfg.ExecutionGate.FreshnessMs,
		PriceDiscrepancyPct: cfg.ExecutionGate.PriceDiscrepancyPct,
		MinLiquidityUSD:     cfg.ExecutionGate.MinLiquidityUSD,
		MinTimeToCloseSec:   cfg.ExecutionGate.MinTimeToCloseSec,
	})
	g := gate.New(v)
	engine := paperengine.New(cfg.SlippageBps)
	healthMon := health.New(health.Thresholds{
		DailyLossPct:        cfg.Health.AutoDisable.DailyLossPct,
		ConsecutiveLosses:   cfg.Health.AutoDisable.ConsecutiveLosses,
		MaxDrawdownPct:      cfg.Health.AutoDisable.MaxDrawdownPct,
		MinWinRate:          cfg.Health.AutoDisable.MinWinRate,
		MinTradesForWinRate: cfg.Health.AutoDisable.MinTradesForWinRate,
	})
	ctrl := control.New(cfg.ControlPath)

	logs, err := tradelog.Open(cfg.LogsDir, cfg.ActivityLogMaxEntries)
	if err != nil {
		return nil, fmt.Errorf("open trade logs: %w", err)
	}

	snapWriter := snapshot.NewWriter(cfg.SnapshotPath)
	hub := observer.NewHub(logger, cfg.ObserverBacklogPerSubscriber)
	selector := snapshot.NewSelector(snapshot.SelectorThresholds{
		MinSharpe:      cfg.Selector.MinSharpe,
		MinWinRate:     cfg.Selector.MinWinRate,
		MaxDrawdownPct: cfg.Selector.MaxDrawdownPct,
		MinTrades:      cfg.Selector.MinTrades,
	})

	drv := driver.New(driver.Config{
		Logger:         logger,
		Cfg:            *cfg,
		CryptoPricers:  cryptoPricers,
		MarketLister:   marketLister,
		MarketPricer:   marketPricer,
		Cache:          cache,
		Aggregator:     agg,
		Strategies:     strategies,
		Trackers:       trackers,
		Gate:           g,
		Engine:         engine,
		HealthMonitor:  healthMon,
		Control:        ctrl,
		Logs:           logs,
		SnapshotWriter: snapWriter,
		Hub:            hub,
		Selector:       selector,
		CryptoSymbols:  cfg.CryptoSymbols,
	})

	apiServer := api.NewServer(logger, cfg.Server, hub, ctrl, cfg.SnapshotPath)

	return &wiredComponents{
		cfg:          *cfg,
		drv:          drv,
		apiServer:    apiServer,
		logs:         logs,
		agg:          agg,
		streamPricer: streamPricer,
	}, nil
}

// newDetector builds the Detector for a named strategy from its
// spec.md §6 thresholds plus the detector-specific tunables the config
// surface does not expose per-strategy (windows, z-thresholds,
// correlation floors) — those are fixed per detector type, matching
// spec.md's emphasis on the five algorithms themselves rather than a
// per-hyperparameter config surface; see DESIGN.md.
func newDetector(name string, cfg *types.Config, th types.StrategyThresholds) strategy.Detector {
	maxTradeSize := decimal.NewFromFloat(cfg.Strategies.MaxTradeSize)
	minLiquidity := decimal.NewFromFloat(cfg.Markets.MinLiquidityUSD)
	ttl := int64(cfg.ScanIntervalSeconds) * 5

	switch name {
	case "arbitrage":
		return strategy.NewArbitrageDetector(name, strategy.ArbitrageConfig{
			MarginFloor:     decimal.NewFromFloat(0.01),
			MaxTradeSize:    maxTradeSize,
			MinLiquidityUSD: minLiquidity,
			TTL:             ttl,
		})
	case "momentum":
		return strategy.NewMomentumDetector(name, strategy.MomentumConfig{
			ShortWindow:      5,
			LongWindow:       20,
			VolumePercentile: 0.7,
			MaxTradeSize:     maxTradeSize,
			MinLiquidityUSD:  minLiquidity,
			TTL:              ttl,
		})
	case "mean_reversion":
		return strategy.NewMeanReversionDetector(name, strategy.MeanReversionConfig{
			Window:          20,
			ZThreshold:      2.0,
			MaxSpreadPct:    0.03,
			MaxTradeSize:    maxTradeSize,
			MinLiquidityUSD: minLiquidity,
			TTL:             ttl,
		})
	case "reality_arbitrage":
		return strategy.NewRealityArbitrageDetector(name, strategy.RealityArbitrageConfig{
			MinProfitPct:    float64(th.MinEdgeBps) / 10000,
			MinConfidence:   0.75,
			MaxTradeSize:    maxTradeSize,
			MinLiquidityUSD: minLiquidity,
			TTL:             ttl,
		})
	case "statistical_arbitrage":
		return strategy.NewStatisticalArbDetector(name, strategy.StatisticalArbConfig{
			Window:          30,
			ZThreshold:      2.0,
			MinCorrelation:  0.6,
			MaxTradeSize:    maxTradeSize,
			MinLiquidityUSD: minLiquidity,
			TTL:             ttl,
		})
	default:
		return nil
	}
}

func newLogger(level string) *zap.Logger {
	var zapLevel zapcore.Level
	switch level {
	case "debug":
		zapLevel = zapcore.DebugLevel
	case "warn":
		zapLevel = zapcore.WarnLevel
	case "error":
		zapLevel = zapcore.ErrorLevel
	default:
		zapLevel = zapcore.InfoLevel
	}

	cfg := zap.Config{
		Level:       zap.NewAtomicLevelAt(zapLevel),
		Development: false,
		Encoding:    "console",
		EncoderConfig: zapcore.EncoderConfig{
			TimeKey:        "time",
			LevelKey:       "level",
			NameKey:        "logger",
			CallerKey:      "caller",
			MessageKey:     "msg",
			StacktraceKey:  "stacktrace",
			LineEnding:     zapcore.DefaultLineEnding,
			EncodeLevel:    zapcore.CapitalLevelEncoder,
			EncodeTime:     zapcore.ISO8601TimeEncoder,
			EncodeDuration: zapcore.SecondsDurationEncoder,
			EncodeCaller:   zapcore.ShortCallerEncoder,
		},
		OutputPaths:      []string{"stdout"},
		ErrorOutputPaths: []string{"stderr"},
	}

	logger, err := cfg.Build()
	if err != nil {
		panic(err)
	}
	return logger
}
