package sources

import (
	"context"
	"fmt"
	"time"

	"github.com/go-resty/resty/v2"
	"github.com/polytrader/polytrader/internal/apperrors"
	"github.com/polytrader/polytrader/internal/ratelimit"
	"github.com/polytrader/polytrader/pkg/types"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"
)

// cryptoTickerResponse is the normalized shape both crypto REST providers
// return once mapped through their respective field names.
type cryptoTickerResponse struct {
	Symbol string  `json:"symbol"`
	Price  string  `json:"price"`
	Volume string  `json:"volume"`
}

// RESTCryptoPricer is a resty-backed Pricer hitting a single REST ticker
// endpoint per symbol batch. PrimaryCryptoPricer and FallbackCryptoPricer are
// both instances of this client, differing only in name/base URL/rate-limit
// budget, per spec.md §4.2.
type RESTCryptoPricer struct {
	name        string
	client      *resty.Client
	limiter     *ratelimit.Limiter
	logger      *zap.Logger
	callTimeout time.Duration

	health healthTracker
}

// NewPrimaryCryptoPricer builds the high-limit crypto pricer (>=1000 req/min
// budget, symbol-batch support), per spec.md §4.2.
func NewPrimaryCryptoPricer(name, baseURL string, limiter *ratelimit.Limiter, logger *zap.Logger) *RESTCryptoPricer {
	return newRESTCryptoPricer(name, baseURL, limiter, logger)
}

// NewFallbackCryptoPricer builds the lower-rate, broader-coverage crypto
// pricer. The driver polls it every cycle alongside the primary, and the
// aggregator combines both sources' quotes.
func NewFallbackCryptoPricer(name, baseURL string, limiter *ratelimit.Limiter, logger *zap.Logger) *RESTCryptoPricer {
	return newRESTCryptoPricer(name, baseURL, limiter, logger)
}

func newRESTCryptoPricer(name, baseURL string, limiter *ratelimit.Limiter, logger *zap.Logger) *RESTCryptoPricer {
	client := resty.New().
		SetBaseURL(baseURL).
		SetTimeout(10 * time.Second).
		SetRetryCount(0) // retries are handled by withRetry to distinguish error kinds

	return &RESTCryptoPricer{
		name:        name,
		client:      client,
		limiter:     limiter,
		logger:      logger.Named(name),
		callTimeout: 10 * time.Second,
	}
}

func (p *RESTCryptoPricer) Name() string { return p.name }

func (p *RESTCryptoPricer) GetPrices(ctx context.Context, symbols []string) ([]types.PriceQuote, error) {
	if err := acquire(p.limiter, p.name, time.Now().Add(p.callTimeout)); err != nil {
		p.health.record(false, time.Now())
		return nil, err
	}

	quotes := make([]types.PriceQuote, 0, len(symbols))
	err := withRetry(ctx, defaultRetry, p.logger, func() error {
		cctx, cancel := context.WithTimeout(ctx, p.callTimeout)
		defer cancel()

		var body []cryptoTickerResponse
		resp, httpErr := p.client.R().
			SetContext(cctx).
			SetQueryParam("symbols", joinSymbols(symbols)).
			SetResult(&body).
			Get("/ticker")
		if httpErr != nil {
			return apperrors.Wrap(apperrors.KindTransientNetwork, "crypto ticker request failed", httpErr)
		}
		if resp.StatusCode() == 429 {
			return apperrors.New(apperrors.KindRateLimit, "crypto source returned 429")
		}
		if resp.StatusCode() >= 500 {
			return apperrors.New(apperrors.KindTransientNetwork, fmt.Sprintf("crypto source returned %d", resp.StatusCode()))
		}
		if resp.StatusCode() >= 400 {
			return apperrors.New(apperrors.KindProtocolFormatError, fmt.Sprintf("crypto source returned %d", resp.StatusCode()))
		}

		now := time.Now()
		quotes = quotes[:0]
		for _, row := range body {
			price, perr := decimal.NewFromString(row.Price)
			if perr != nil || price.LessThanOrEqual(decimal.Zero) {
				continue // per spec.md §3, price must be > 0; skip malformed rows rather than fail the batch
			}
			volume, _ := decimal.NewFromString(row.Volume)
			quotes = append(quotes, types.PriceQuote{
				Symbol:    row.Symbol,
				Source:    p.name,
				Price:     price.Round(8),
				Volume24h: volume.Round(8),
				Timestamp: now,
				AgeMs:     0,
			})
		}
		return nil
	})

	p.health.record(err == nil, time.Now())
	if err != nil {
		return nil, err
	}
	return quotes, nil
}

func (p *RESTCryptoPricer) Health() Health {
	return p.health.health(p.utilization(), 30*time.Second)
}

func (p *RESTCryptoPricer) utilization() float64 {
	if p.limiter == nil {
		return 0
	}
	return p.limiter.Utilization(p.name)
}

func joinSymbols(symbols []string) string {
	out := ""
	for i, s := range symbols {
		if i > 0 {
			out += ","
		}
		out += s
	}
	return out
}
