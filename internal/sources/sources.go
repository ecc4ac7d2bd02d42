// Package sources implements the external data-source clients spec.md §4.2
// describes: crypto price pullers and Polymarket market/price pullers. Every
// client is required to respect the shared rate limiter, normalize numbers
// to decimal.Decimal, and retry transient failures with capped exponential
// backoff before surfacing an apperrors.Kind.
package sources

import (
	"context"
	"math"
	"math/rand"
	"time"

	"github.com/polytrader/polytrader/internal/apperrors"
	"github.com/polytrader/polytrader/internal/ratelimit"
	"github.com/polytrader/polytrader/pkg/types"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"
)

// Pricer fetches current spot prices for one or more symbols.
type Pricer interface {
	Name() string
	GetPrices(ctx context.Context, symbols []string) ([]types.PriceQuote, error)
	Health() Health
}

// MarketLister fetches the active Polymarket market set, filtered server-side
// where the provider supports it.
type MarketLister interface {
	Name() string
	ListMarkets(ctx context.Context, filter MarketFilter) ([]types.Market, error)
	Health() Health
}

// MarketPricer refreshes per-outcome prices for one known market id.
type MarketPricer interface {
	Name() string
	GetMarketPrices(ctx context.Context, marketID string) (map[string]decimal.Decimal, error)
	Health() Health
}

// StreamingPricer pushes price ticks over a long-lived connection rather
// than being polled. Run blocks until ctx is cancelled; the implementation
// reconnects with backoff itself when the connection drops.
type StreamingPricer interface {
	Name() string
	Run(ctx context.Context, symbols []string, onTick func(types.PriceQuote)) error
}

// MarketFilter bounds a ListMarkets call, mirroring spec.md §6's
// markets.min_liquidity_usd/min_volume_24h_usd/categories/keywords knobs.
type MarketFilter struct {
	MinLiquidityUSD float64
	MinVolume24hUSD float64
	Categories      []string
	Keywords        []string
	ExcludeKeywords []string
}

// Health is the trailing-health bit spec.md §4.2 requires every client to
// derive from call-age, error rate, and rate-limit saturation.
type Health struct {
	Healthy        bool
	LastSuccessAt  time.Time
	TrailingErrors int // errors in the last 20 calls
	Saturation     float64
}

// healthTracker is embedded by every client to compute Health uniformly.
type healthTracker struct {
	window        [20]bool // true = call succeeded
	windowPos     int
	windowFilled  int
	lastSuccessAt time.Time
}

func (h *healthTracker) record(ok bool, now time.Time) {
	h.window[h.windowPos] = ok
	h.windowPos = (h.windowPos + 1) % len(h.window)
	if h.windowFilled < len(h.window) {
		h.windowFilled++
	}
	if ok {
		h.lastSuccessAt = now
	}
}

func (h *healthTracker) errorCount() int {
	n := 0
	for i := 0; i < h.windowFilled; i++ {
		if !h.window[i] {
			n++
		}
	}
	return n
}

func (h *healthTracker) health(saturation float64, staleAfter time.Duration) Health {
	errs := h.errorCount()
	healthy := errs <= h.windowFilled/4 && saturation < 0.95
	if !h.lastSuccessAt.IsZero() && time.Since(h.lastSuccessAt) > staleAfter {
		healthy = false
	}
	return Health{
		Healthy:        healthy,
		LastSuccessAt:  h.lastSuccessAt,
		TrailingErrors: errs,
		Saturation:     saturation,
	}
}

// retryConfig is the exponential-backoff-with-jitter policy spec.md §4.2
// requires for TransientNetworkError, capped at maxDelay.
type retryConfig struct {
	attempts int
	base     time.Duration
	maxDelay time.Duration
}

var defaultRetry = retryConfig{attempts: 3, base: 250 * time.Millisecond, maxDelay: 5 * time.Second}

// withRetry runs fn, retrying on transient errors with base*2^attempt+jitter
// backoff, capped at cfg.maxDelay. Non-transient apperrors are returned
// immediately.
func withRetry(ctx context.Context, cfg retryConfig, logger *zap.Logger, fn func() error) error {
	var lastErr error
	for attempt := 0; attempt < cfg.attempts; attempt++ {
		lastErr = fn()
		if lastErr == nil {
			return nil
		}
		if !apperrors.AsKind(lastErr, apperrors.KindTransientNetwork) {
			return lastErr
		}
		delay := time.Duration(float64(cfg.base) * math.Pow(2, float64(attempt)))
		if delay > cfg.maxDelay {
			delay = cfg.maxDelay
		}
		delay += time.Duration(rand.Int63n(int64(cfg.base) + 1))
		logger.Warn("transient source error, retrying", zap.Int("attempt", attempt), zap.Duration("delay", delay), zap.Error(lastErr))
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(delay):
		}
	}
	return lastErr
}

// acquire respects the shared rate limiter before a call is allowed to
// proceed, blocking up to deadline per spec.md §4.1/§5.
func acquire(limiter *ratelimit.Limiter, source string, deadline time.Time) error {
	if limiter == nil {
		return nil
	}
	if !limiter.WaitUntilAvailable(source, deadline) {
		return apperrors.New(apperrors.KindRateLimit, "rate limit exhausted for source "+source)
	}
	return nil
}
