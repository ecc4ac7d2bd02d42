// Package config loads and validates the engine's layered configuration:
// environment variables override a YAML file, which overrides the built-in
// defaults returned by Default(). Precedence and keys follow spec.md §6 and
// §4.17, modeled on 0xtitan6-polymarket-mm/internal/config's viper usage.
package config

import (
	"fmt"
	"strings"

	"github.com/polytrader/polytrader/pkg/types"
	"github.com/spf13/viper"
)

const envPrefix = "POLYTRADER"

// Default returns the built-in configuration defaults. File and environment
// layers are applied on top of this by Load.
func Default() types.Config {
	return types.Config{
		PaperTrading:        true,
		KillSwitch:          false,
		ScanIntervalSeconds: 60,
		StartingCapitalUSD:  10000,
		CryptoSymbols:       []string{"BTC", "ETH", "SOL"},
		Markets: types.MarketsConfig{
			MinLiquidityUSD: 1000,
			MinVolume24hUSD: 500,
		},
		Strategies: types.StrategiesConfig{
			Enabled:      []string{"arbitrage"},
			Allocation:   map[string]float64{"arbitrage": 1.0},
			MaxTradeSize: 50,
			Thresholds: map[string]types.StrategyThresholds{
				"arbitrage": {
					MinEdgeBps:       200,
					MaxOpensPerCycle: 5,
					ProfitTargetPct:  0.5,
					StopLossPct:      0.5,
					MaxHoldMinutes:   1440,
				},
			},
		},
		Sources: types.SourcesConfig{
			Crypto: types.CryptoSourcesConfig{
				Primary:         "primary_crypto",
				PrimaryBaseURL:  "https://api.primary-crypto.example/v1",
				Fallback:        "fallback_crypto",
				FallbackBaseURL: "https://api.fallback-crypto.example/v1",
				UseStream:       false,
				StreamURL:       "wss://stream.primary-crypto.example/v1",
			},
			PredictionMarket: types.PredictionMarketSourcesConfig{
				ListerName:    "market_lister",
				ListerBaseURL: "https://gamma-api.polymarket.com",
				PricerName:    "market_pricer",
				PricerBaseURL: "https://clob.polymarket.com",
			},
		},
		RateLimits: map[string]types.RateLimitConfig{
			"primary_crypto":   {PerMinute: 1000, Burst: 50},
			"fallback_crypto":  {PerMinute: 60, Burst: 10},
			"market_lister":    {PerMinute: 120, Burst: 20},
			"market_pricer":    {PerMinute: 300, Burst: 30},
		},
		ExecutionGate: types.ExecutionGateConfig{
			FreshnessMs:         5000,
			PriceDiscrepancyPct: 0.05,
			MinLiquidityUSD:     1000,
			MinTimeToCloseSec:   3600,
		},
		Health: types.HealthConfig{
			AutoDisable: types.AutoDisableConfig{
				DailyLossPct:        -10,
				ConsecutiveLosses:   5,
				MaxDrawdownPct:      20,
				MinWinRate:          0.40,
				MinTradesForWinRate: 20,
			},
		},
		Aggregator: types.AggregatorConfig{
			StalenessMs:      10000,
			OutlierThreshold: 0.05,
		},
		Selector: types.SelectorConfig{
			MinSharpe:      1.5,
			MinWinRate:     0.55,
			MaxDrawdownPct: 15,
			MinTrades:      20,
		},
		AutoReallocation:             false,
		SlippageBps:                  25,
		SnapshotPath:                 "state/bot_state.snapshot",
		LogsDir:                      "logs",
		ControlPath:                  "state/control.record",
		ObserverBacklogPerSubscriber: 256,
		ActivityLogMaxEntries:        1000,
		Server: types.ServerConfig{
			Host:          "0.0.0.0",
			Port:          8080,
			WebSocketPath: "/ws",
			MetricsPort:   9090,
		},
	}
}

// Load reads configuration from an optional YAML file and overlays
// environment variables prefixed POLYTRADER_ (dots and nested keys become
// underscores, e.g. POLYTRADER_SCAN_INTERVAL_SECONDS), on top of Default().
func Load(path string) (*types.Config, error) {
	v := viper.New()
	setDefaults(v, Default())

	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
				return nil, fmt.Errorf("read config file %s: %w", path, err)
			}
		}
	}

	v.SetEnvPrefix(envPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	var cfg types.Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("unmarshal config: %w", err)
	}

	return &cfg, nil
}

// setDefaults seeds viper with every field of a Config so that partial YAML
// files and env overrides layer on top of sane values instead of zeroing
// unset fields.
func setDefaults(v *viper.Viper, def types.Config) {
	v.SetDefault("paper_trading", def.PaperTrading)
	v.SetDefault("kill_switch", def.KillSwitch)
	v.SetDefault("scan_interval_seconds", def.ScanIntervalSeconds)
	v.SetDefault("starting_capital_usd", def.StartingCapitalUSD)
	v.SetDefault("crypto_symbols", def.CryptoSymbols)
	v.SetDefault("markets.min_liquidity_usd", def.Markets.MinLiquidityUSD)
	v.SetDefault("markets.min_volume_24h_usd", def.Markets.MinVolume24hUSD)
	v.SetDefault("markets.categories", def.Markets.Categories)
	v.SetDefault("markets.keywords", def.Markets.Keywords)
	v.SetDefault("markets.exclude_keywords", def.Markets.ExcludeKeywords)
	v.SetDefault("strategies.enabled", def.Strategies.Enabled)
	v.SetDefault("strategies.allocation", def.Strategies.Allocation)
	v.SetDefault("strategies.thresholds", def.Strategies.Thresholds)
	v.SetDefault("strategies.max_trade_size", def.Strategies.MaxTradeSize)
	v.SetDefault("sources.crypto.primary", def.Sources.Crypto.Primary)
	v.SetDefault("sources.crypto.primary_base_url", def.Sources.Crypto.PrimaryBaseURL)
	v.SetDefault("sources.crypto.fallback", def.Sources.Crypto.Fallback)
	v.SetDefault("sources.crypto.fallback_base_url", def.Sources.Crypto.FallbackBaseURL)
	v.SetDefault("sources.crypto.use_stream", def.Sources.Crypto.UseStream)
	v.SetDefault("sources.crypto.stream_url", def.Sources.Crypto.StreamURL)
	v.SetDefault("sources.prediction_market.lister_name", def.Sources.PredictionMarket.ListerName)
	v.SetDefault("sources.prediction_market.lister_base_url", def.Sources.PredictionMarket.ListerBaseURL)
	v.SetDefault("sources.prediction_market.pricer_name", def.Sources.PredictionMarket.PricerName)
	v.SetDefault("sources.prediction_market.pricer_base_url", def.Sources.PredictionMarket.PricerBaseURL)
	v.SetDefault("rate_limits", def.RateLimits)
	v.SetDefault("execution_gate.freshness_ms", def.ExecutionGate.FreshnessMs)
	v.SetDefault("execution_gate.price_discrepancy_pct", def.ExecutionGate.PriceDiscrepancyPct)
	v.SetDefault("execution_gate.min_liquidity_usd", def.ExecutionGate.MinLiquidityUSD)
	v.SetDefault("execution_gate.min_time_to_close_sec", def.ExecutionGate.MinTimeToCloseSec)
	v.SetDefault("health.auto_disable.daily_loss_pct", def.Health.AutoDisable.DailyLossPct)
	v.SetDefault("health.auto_disable.consecutive_losses", def.Health.AutoDisable.ConsecutiveLosses)
	v.SetDefault("health.auto_disable.max_drawdown_pct", def.Health.AutoDisable.MaxDrawdownPct)
	v.SetDefault("health.auto_disable.min_win_rate", def.Health.AutoDisable.MinWinRate)
	v.SetDefault("health.auto_disable.min_trades_for_winrate", def.Health.AutoDisable.MinTradesForWinRate)
	v.SetDefault("aggregator.staleness_ms", def.Aggregator.StalenessMs)
	v.SetDefault("aggregator.outlier_threshold", def.Aggregator.OutlierThreshold)
	v.SetDefault("selector.min_sharpe", def.Selector.MinSharpe)
	v.SetDefault("selector.min_win_rate", def.Selector.MinWinRate)
	v.SetDefault("selector.max_drawdown_pct", def.Selector.MaxDrawdownPct)
	v.SetDefault("selector.min_trades", def.Selector.MinTrades)
	v.SetDefault("auto_reallocation", def.AutoReallocation)
	v.SetDefault("slippage_bps", def.SlippageBps)
	v.SetDefault("snapshot_path", def.SnapshotPath)
	v.SetDefault("logs_dir", def.LogsDir)
	v.SetDefault("control_path", def.ControlPath)
	v.SetDefault("observer_backlog_per_subscriber", def.ObserverBacklogPerSubscriber)
	v.SetDefault("activity_log_max_entries", def.ActivityLogMaxEntries)
	v.SetDefault("server.host", def.Server.Host)
	v.SetDefault("server.port", def.Server.Port)
	v.SetDefault("server.websocket_path", def.Server.WebSocketPath)
	v.SetDefault("server.metrics_port", def.Server.MetricsPort)
}

// Validate enforces the invariants spec.md §4.17 requires. Returns a
// descriptive error; the caller (cmd/bot) maps this to apperrors.KindConfigInvalid
// and exit code 2.
func Validate(cfg *types.Config) error {
	if !cfg.PaperTrading {
		return fmt.Errorf("paper_trading must be true: live execution is out of scope for this engine")
	}
	if cfg.ScanIntervalSeconds <= 0 {
		return fmt.Errorf("scan_interval_seconds must be > 0")
	}
	if cfg.StartingCapitalUSD <= 0 {
		return fmt.Errorf("starting_capital_usd must be > 0")
	}

	var allocSum float64
	for _, name := range cfg.Strategies.Enabled {
		alloc, ok := cfg.Strategies.Allocation[name]
		if !ok {
			return fmt.Errorf("strategy %q is enabled but has no allocation entry", name)
		}
		if alloc < 0 {
			return fmt.Errorf("strategy %q has negative allocation", name)
		}
		allocSum += alloc
		th, ok := cfg.Strategies.Thresholds[name]
		if !ok {
			return fmt.Errorf("strategy %q is enabled but has no threshold entry", name)
		}
		if th.MinEdgeBps < 0 {
			return fmt.Errorf("strategy %q min_edge_bps must be >= 0", name)
		}
		if th.MaxOpensPerCycle <= 0 {
			return fmt.Errorf("strategy %q max_opens_per_cycle must be > 0", name)
		}
	}
	if allocSum > 1.0000001 {
		return fmt.Errorf("strategy allocations sum to %.4f, exceeding 1.0", allocSum)
	}

	if cfg.Sources.Crypto.Primary == "" {
		return fmt.Errorf("sources.crypto.primary must name a source")
	}
	if _, ok := cfg.RateLimits[cfg.Sources.Crypto.Primary]; !ok {
		return fmt.Errorf("source %q has no rate_limits entry", cfg.Sources.Crypto.Primary)
	}
	if cfg.Sources.Crypto.Fallback != "" {
		if _, ok := cfg.RateLimits[cfg.Sources.Crypto.Fallback]; !ok {
			return fmt.Errorf("source %q has no rate_limits entry", cfg.Sources.Crypto.Fallback)
		}
	}

	if cfg.ExecutionGate.FreshnessMs <= 0 {
		return fmt.Errorf("execution_gate.freshness_ms must be > 0")
	}
	if cfg.ExecutionGate.PriceDiscrepancyPct <= 0 || cfg.ExecutionGate.PriceDiscrepancyPct >= 1 {
		return fmt.Errorf("execution_gate.price_discrepancy_pct must be in (0, 1)")
	}
	if cfg.Aggregator.OutlierThreshold <= 0 || cfg.Aggregator.OutlierThreshold >= 1 {
		return fmt.Errorf("aggregator.outlier_threshold must be in (0, 1)")
	}

	if cfg.SlippageBps < 0 {
		return fmt.Errorf("slippage_bps must be >= 0")
	}
	if len(cfg.CryptoSymbols) == 0 {
		return fmt.Errorf("crypto_symbols must name at least one symbol")
	}
	if cfg.Sources.Crypto.PrimaryBaseURL == "" {
		return fmt.Errorf("sources.crypto.primary_base_url must not be empty")
	}
	if cfg.Sources.Crypto.Fallback != "" && cfg.Sources.Crypto.FallbackBaseURL == "" {
		return fmt.Errorf("sources.crypto.fallback_base_url must not be empty when a fallback source is configured")
	}
	if cfg.Sources.Crypto.UseStream && cfg.Sources.Crypto.StreamURL == "" {
		return fmt.Errorf("sources.crypto.stream_url must not be empty when use_stream is true")
	}
	if cfg.Sources.PredictionMarket.ListerBaseURL == "" {
		return fmt.Errorf("sources.prediction_market.lister_base_url must not be empty")
	}
	if cfg.Sources.PredictionMarket.PricerBaseURL == "" {
		return fmt.Errorf("sources.prediction_market.pricer_base_url must not be empty")
	}

	return nil
}
