// Package metrics exposes the bot's Prometheus instrumentation, grounded
// on the teacher's metrics/metrics.go package-level promauto vars and
// custom registry, adapted from per-trader AI-agent metrics to the
// per-strategy/per-source metrics spec.md §4.18 calls for.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// Registry is the custom registry so /metrics never mixes in whatever
	// the default global registry happens to have registered.
	Registry = prometheus.NewRegistry()

	OpportunitiesDetected = promauto.With(Registry).NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "polytrader",
			Name:      "opportunities_detected_total",
			Help:      "Opportunities emitted by a detector, before gating.",
		},
		[]string{"strategy"},
	)

	TradesFilled = promauto.With(Registry).NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "polytrader",
			Name:      "trades_filled_total",
			Help:      "Paper trades filled.",
		},
		[]string{"strategy"},
	)

	TradesClosed = promauto.With(Registry).NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "polytrader",
			Name:      "trades_closed_total",
			Help:      "Paper trades closed, by outcome.",
		},
		[]string{"strategy", "result"}, // result: win, loss
	)

	ErrorsTotal = promauto.With(Registry).NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "polytrader",
			Name:      "errors_total",
			Help:      "Errors encountered, by apperrors.Kind.",
		},
		[]string{"kind"},
	)

	GateDenialsTotal = promauto.With(Registry).NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "polytrader",
			Name:      "gate_denials_total",
			Help:      "Opportunities denied execution, by reason.",
		},
		[]string{"reason"},
	)

	SourceCallsTotal = promauto.With(Registry).NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "polytrader",
			Name:      "source_calls_total",
			Help:      "Calls to an external source, by source and status.",
		},
		[]string{"source", "status"}, // status: ok, rate_limited, error
	)

	SourceCallLatency = promauto.With(Registry).NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "polytrader",
			Name:      "source_call_duration_seconds",
			Help:      "External source call latency.",
			Buckets:   []float64{0.05, 0.1, 0.25, 0.5, 1, 2, 5, 10},
		},
		[]string{"source"},
	)

	CycleDuration = promauto.With(Registry).NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "polytrader",
			Name:      "cycle_duration_seconds",
			Help:      "Scan cycle duration, by step.",
			Buckets:   []float64{0.1, 0.25, 0.5, 1, 2, 5, 10, 30},
		},
		[]string{"step"},
	)

	SourceHealthy = promauto.With(Registry).NewGaugeVec(
		prometheus.GaugeOpts{
			Namespace: "polytrader",
			Name:      "source_healthy",
			Help:      "Whether a source's trailing health window is healthy (1) or not (0).",
		},
		[]string{"source"},
	)

	StrategyEquity = promauto.With(Registry).NewGaugeVec(
		prometheus.GaugeOpts{
			Namespace: "polytrader",
			Name:      "strategy_equity_usd",
			Help:      "Per-strategy equity in USD.",
		},
		[]string{"strategy"},
	)

	StrategyDrawdownPct = promauto.With(Registry).NewGaugeVec(
		prometheus.GaugeOpts{
			Namespace: "polytrader",
			Name:      "strategy_drawdown_pct",
			Help:      "Per-strategy maximum drawdown from peak equity, percent.",
		},
		[]string{"strategy"},
	)

	StrategyEnabled = promauto.With(Registry).NewGaugeVec(
		prometheus.GaugeOpts{
			Namespace: "polytrader",
			Name:      "strategy_enabled",
			Help:      "Whether a strategy is currently enabled (1) or auto-disabled (0).",
		},
		[]string{"strategy"},
	)
)

// Init registers the Go runtime/process collectors alongside the
// domain-specific ones above.
func Init() {
	Registry.MustRegister(prometheus.NewGoCollector())
	Registry.MustRegister(prometheus.NewProcessCollector(prometheus.ProcessCollectorOpts{}))
}

func RecordSourceCall(source, status string, seconds float64) {
	SourceCallsTotal.WithLabelValues(source, status).Inc()
	SourceCallLatency.WithLabelValues(source).Observe(seconds)
}

func RecordTradeClosed(strategy string, isWin bool) {
	result := "loss"
	if isWin {
		result = "win"
	}
	TradesClosed.WithLabelValues(strategy, result).Inc()
}

func SetSourceHealthy(source string, healthy bool) {
	v := 0.0
	if healthy {
		v = 1.0
	}
	SourceHealthy.WithLabelValues(source).Set(v)
}

func SetStrategyEnabled(strategy string, enabled bool) {
	v := 0.0
	if enabled {
		v = 1.0
	}
	StrategyEnabled.WithLabelValues(strategy).Set(v)
}
