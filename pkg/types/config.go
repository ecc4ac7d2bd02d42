package types

import "time"

// MarketsConfig bounds the PredictionMarketLister query.
type MarketsConfig struct {
	MinLiquidityUSD  float64  `mapstructure:"min_liquidity_usd"`
	MinVolume24hUSD  float64  `mapstructure:"min_volume_24h_usd"`
	Categories       []string `mapstructure:"categories"`
	Keywords         []string `mapstructure:"keywords"`
	ExcludeKeywords  []string `mapstructure:"exclude_keywords"`
}

// StrategyThresholds are the per-strategy knobs referenced in spec.md §6.
type StrategyThresholds struct {
	MinEdgeBps       int64   `mapstructure:"min_edge_bps"`
	MaxOpensPerCycle int     `mapstructure:"max_opens_per_cycle"`
	ProfitTargetPct  float64 `mapstructure:"profit_target_pct"`
	StopLossPct      float64 `mapstructure:"stop_loss_pct"`
	MaxHoldMinutes   int     `mapstructure:"max_hold_minutes"`
}

// StrategiesConfig holds the enabled set, allocation map, and per-strategy thresholds.
type StrategiesConfig struct {
	Enabled    []string                      `mapstructure:"enabled"`
	Allocation map[string]float64            `mapstructure:"allocation"`
	Thresholds map[string]StrategyThresholds `mapstructure:"thresholds"`
	MaxTradeSize float64                     `mapstructure:"max_trade_size"`
}

// CryptoSourcesConfig names the primary/fallback crypto price providers and
// their endpoints.
type CryptoSourcesConfig struct {
	Primary         string `mapstructure:"primary"`
	PrimaryBaseURL  string `mapstructure:"primary_base_url"`
	Fallback        string `mapstructure:"fallback"`
	FallbackBaseURL string `mapstructure:"fallback_base_url"`
	UseStream       bool   `mapstructure:"use_stream"`
	StreamURL       string `mapstructure:"stream_url"`
}

// PredictionMarketSourcesConfig names the Polymarket-shaped lister/pricer
// endpoints.
type PredictionMarketSourcesConfig struct {
	ListerName    string `mapstructure:"lister_name"`
	ListerBaseURL string `mapstructure:"lister_base_url"`
	PricerName    string `mapstructure:"pricer_name"`
	PricerBaseURL string `mapstructure:"pricer_base_url"`
}

// SourcesConfig groups all external-source configuration.
type SourcesConfig struct {
	Crypto           CryptoSourcesConfig           `mapstructure:"crypto"`
	PredictionMarket PredictionMarketSourcesConfig `mapstructure:"prediction_market"`
}

// RateLimitConfig is the per-minute/burst budget for one named source.
type RateLimitConfig struct {
	PerMinute float64 `mapstructure:"per_minute"`
	Burst     float64 `mapstructure:"burst"`
}

// ExecutionGateConfig tunes the DataValidator checks the gate runs.
type ExecutionGateConfig struct {
	FreshnessMs       int64   `mapstructure:"freshness_ms"`
	PriceDiscrepancyPct float64 `mapstructure:"price_discrepancy_pct"`
	MinLiquidityUSD   float64 `mapstructure:"min_liquidity_usd"`
	MinTimeToCloseSec int64   `mapstructure:"min_time_to_close_sec"`
}

// AutoDisableConfig is the HealthMonitor's threshold set.
type AutoDisableConfig struct {
	DailyLossPct         float64 `mapstructure:"daily_loss_pct"`
	ConsecutiveLosses    int     `mapstructure:"consecutive_losses"`
	MaxDrawdownPct       float64 `mapstructure:"max_drawdown_pct"`
	MinWinRate           float64 `mapstructure:"min_win_rate"`
	MinTradesForWinRate  int     `mapstructure:"min_trades_for_winrate"`
}

// HealthConfig wraps the auto-disable thresholds.
type HealthConfig struct {
	AutoDisable AutoDisableConfig `mapstructure:"auto_disable"`
}

// AggregatorConfig tunes the price aggregator's outlier rejection.
type AggregatorConfig struct {
	StalenessMs      int64   `mapstructure:"staleness_ms"`
	OutlierThreshold float64 `mapstructure:"outlier_threshold"`
}

// SelectorConfig tunes the weekly strategy selector's qualifier thresholds,
// per spec.md §4.11.
type SelectorConfig struct {
	MinSharpe      float64 `mapstructure:"min_sharpe"`
	MinWinRate     float64 `mapstructure:"min_win_rate"`
	MaxDrawdownPct float64 `mapstructure:"max_drawdown_pct"`
	MinTrades      int     `mapstructure:"min_trades"`
}

// ServerConfig controls the thin HTTP/dashboard adapter.
type ServerConfig struct {
	Host           string        `mapstructure:"host"`
	Port           int           `mapstructure:"port"`
	WebSocketPath  string        `mapstructure:"websocket_path"`
	ReadTimeout    time.Duration `mapstructure:"read_timeout"`
	WriteTimeout   time.Duration `mapstructure:"write_timeout"`
	AllowedOrigins []string      `mapstructure:"allowed_origins"`
	MetricsPort    int           `mapstructure:"metrics_port"`
}

// Config is the top-level, frozen configuration object. Precedence is
// environment variables > file > the defaults returned by Default().
type Config struct {
	PaperTrading   bool                       `mapstructure:"paper_trading"`
	KillSwitch     bool                       `mapstructure:"kill_switch"`
	ScanIntervalSeconds int                   `mapstructure:"scan_interval_seconds"`
	StartingCapitalUSD float64                `mapstructure:"starting_capital_usd"`
	CryptoSymbols  []string                   `mapstructure:"crypto_symbols"`
	Markets        MarketsConfig              `mapstructure:"markets"`
	Strategies     StrategiesConfig           `mapstructure:"strategies"`
	Sources        SourcesConfig              `mapstructure:"sources"`
	RateLimits     map[string]RateLimitConfig `mapstructure:"rate_limits"`
	ExecutionGate  ExecutionGateConfig        `mapstructure:"execution_gate"`
	Health         HealthConfig               `mapstructure:"health"`
	Aggregator     AggregatorConfig           `mapstructure:"aggregator"`
	Selector       SelectorConfig             `mapstructure:"selector"`
	AutoReallocation bool                     `mapstructure:"auto_reallocation"`
	SlippageBps      int64                    `mapstructure:"slippage_bps"`

	SnapshotPath string `mapstructure:"snapshot_path"`
	LogsDir      string `mapstructure:"logs_dir"`
	ControlPath  string `mapstructure:"control_path"`

	ObserverBacklogPerSubscriber int `mapstructure:"observer_backlog_per_subscriber"`
	ActivityLogMaxEntries        int `mapstructure:"activity_log_max_entries"`

	Server ServerConfig `mapstructure:"server"`
}
