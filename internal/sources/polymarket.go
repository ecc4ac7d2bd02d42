package sources

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/go-resty/resty/v2"
	"github.com/polytrader/polytrader/internal/apperrors"
	"github.com/polytrader/polytrader/internal/ratelimit"
	"github.com/polytrader/polytrader/pkg/types"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"
)

// gammaMarket is the wire shape of Polymarket's Gamma markets endpoint,
// trimmed to the fields the engine needs.
type gammaMarket struct {
	ID           string   `json:"id"`
	Question     string   `json:"question"`
	Outcomes     []string `json:"outcomes"`
	OutcomePrices []string `json:"outcomePrices"`
	Liquidity    string   `json:"liquidity"`
	Volume24hr   string   `json:"volume24hr"`
	EndDateISO   string   `json:"endDateIso"`
	Category     string   `json:"category"`
	Active       bool     `json:"active"`
	Closed       bool     `json:"closed"`
}

// PredictionMarketLister fetches active Polymarket markets via a gamma-API
// shaped REST endpoint, with pagination and server-side active filtering.
type PredictionMarketLister struct {
	name    string
	client  *resty.Client
	limiter *ratelimit.Limiter
	logger  *zap.Logger
	pageSize int

	health healthTracker
}

// NewPredictionMarketLister constructs the lister against baseURL (the
// Gamma API root, e.g. https://gamma-api.polymarket.com).
func NewPredictionMarketLister(name, baseURL string, limiter *ratelimit.Limiter, logger *zap.Logger) *PredictionMarketLister {
	return &PredictionMarketLister{
		name:     name,
		client:   resty.New().SetBaseURL(baseURL).SetTimeout(15 * time.Second),
		limiter:  limiter,
		logger:   logger.Named(name),
		pageSize: 100,
	}
}

func (l *PredictionMarketLister) Name() string { return l.name }

func (l *PredictionMarketLister) ListMarkets(ctx context.Context, filter MarketFilter) ([]types.Market, error) {
	var out []types.Market
	offset := 0

	for {
		if err := acquire(l.limiter, l.name, time.Now().Add(15*time.Second)); err != nil {
			l.health.record(false, time.Now())
			return nil, err
		}

		var page []gammaMarket
		err := withRetry(ctx, defaultRetry, l.logger, func() error {
			cctx, cancel := context.WithTimeout(ctx, 15*time.Second)
			defer cancel()

			resp, httpErr := l.client.R().
				SetContext(cctx).
				SetQueryParam("active", "true").
				SetQueryParam("closed", "false").
				SetQueryParam("limit", fmt.Sprintf("%d", l.pageSize)).
				SetQueryParam("offset", fmt.Sprintf("%d", offset)).
				SetResult(&page).
				Get("/markets")
			if httpErr != nil {
				return apperrors.Wrap(apperrors.KindTransientNetwork, "market list request failed", httpErr)
			}
			if resp.StatusCode() == 429 {
				return apperrors.New(apperrors.KindRateLimit, "market lister returned 429")
			}
			if resp.StatusCode() >= 500 {
				return apperrors.New(apperrors.KindTransientNetwork, fmt.Sprintf("market lister returned %d", resp.StatusCode()))
			}
			if resp.StatusCode() >= 400 {
				return apperrors.New(apperrors.KindProtocolFormatError, fmt.Sprintf("market lister returned %d", resp.StatusCode()))
			}
			return nil
		})
		l.health.record(err == nil, time.Now())
		if err != nil {
			return nil, err
		}

		for _, gm := range page {
			m, ok := convertGammaMarket(gm, l.name)
			if !ok {
				continue
			}
			if !passesFilter(m, filter, gm.Question) {
				continue
			}
			out = append(out, m)
		}

		if len(page) < l.pageSize {
			break
		}
		offset += l.pageSize
	}

	return out, nil
}

func (l *PredictionMarketLister) Health() Health {
	sat := 0.0
	if l.limiter != nil {
		sat = l.limiter.Utilization(l.name)
	}
	return l.health.health(sat, 60*time.Second)
}

// convertGammaMarket maps the wire shape to the engine's Market type,
// rejecting rows that would violate spec.md §3 invariants.
func convertGammaMarket(gm gammaMarket, source string) (types.Market, bool) {
	if len(gm.Outcomes) != 2 || len(gm.OutcomePrices) != 2 {
		return types.Market{}, false
	}
	prices := make(map[string]decimal.Decimal, 2)
	for i, outcome := range gm.Outcomes {
		p, err := decimal.NewFromString(gm.OutcomePrices[i])
		if err != nil {
			return types.Market{}, false
		}
		prices[outcome] = p
	}
	liquidity, _ := decimal.NewFromString(gm.Liquidity)
	volume, _ := decimal.NewFromString(gm.Volume24hr)
	endTime, err := time.Parse(time.RFC3339, gm.EndDateISO)
	if err != nil {
		return types.Market{}, false
	}

	now := time.Now().UTC()
	return types.Market{
		MarketID:     gm.ID,
		Question:     gm.Question,
		Outcomes:     gm.Outcomes,
		Prices:       prices,
		LiquidityUSD: liquidity,
		Volume24hUSD: volume,
		EndTime:      endTime,
		Category:     gm.Category,
		Source:       source,
		FetchedAt:    now,
	}, true
}

func passesFilter(m types.Market, filter MarketFilter, question string) bool {
	liq, _ := m.LiquidityUSD.Float64()
	vol, _ := m.Volume24hUSD.Float64()
	if liq < filter.MinLiquidityUSD {
		return false
	}
	if vol < filter.MinVolume24hUSD {
		return false
	}
	if len(filter.Categories) > 0 && !containsFold(filter.Categories, m.Category) {
		return false
	}
	lowerQ := strings.ToLower(question)
	if len(filter.Keywords) > 0 && !anyContains(lowerQ, filter.Keywords) {
		return false
	}
	if anyContains(lowerQ, filter.ExcludeKeywords) {
		return false
	}
	return true
}

func containsFold(list []string, v string) bool {
	for _, x := range list {
		if strings.EqualFold(x, v) {
			return true
		}
	}
	return false
}

func anyContains(haystack string, needles []string) bool {
	for _, n := range needles {
		if n != "" && strings.Contains(haystack, strings.ToLower(n)) {
			return true
		}
	}
	return false
}

// gammaOrderBookPrice is the per-outcome best-price wire shape returned by
// the order-book endpoint.
type gammaOrderBookPrice struct {
	Outcome  string `json:"outcome"`
	BestBid  string `json:"bestBid"`
	BestAsk  string `json:"bestAsk"`
}

// PredictionMarketPricer refreshes per-outcome prices for one market id from
// an order-book endpoint, using the mid of best bid/ask as the outcome price.
type PredictionMarketPricer struct {
	name    string
	client  *resty.Client
	limiter *ratelimit.Limiter
	logger  *zap.Logger

	health healthTracker
}

func NewPredictionMarketPricer(name, baseURL string, limiter *ratelimit.Limiter, logger *zap.Logger) *PredictionMarketPricer {
	return &PredictionMarketPricer{
		name:    name,
		client:  resty.New().SetBaseURL(baseURL).SetTimeout(10 * time.Second),
		limiter: limiter,
		logger:  logger.Named(name),
	}
}

func (p *PredictionMarketPricer) Name() string { return p.name }

func (p *PredictionMarketPricer) GetMarketPrices(ctx context.Context, marketID string) (map[string]decimal.Decimal, error) {
	if err := acquire(p.limiter, p.name, time.Now().Add(10*time.Second)); err != nil {
		p.health.record(false, time.Now())
		return nil, err
	}

	var book []gammaOrderBookPrice
	err := withRetry(ctx, defaultRetry, p.logger, func() error {
		cctx, cancel := context.WithTimeout(ctx, 10*time.Second)
		defer cancel()

		resp, httpErr := p.client.R().
			SetContext(cctx).
			SetPathParam("marketId", marketID).
			SetResult(&book).
			Get("/book/{marketId}")
		if httpErr != nil {
			return apperrors.Wrap(apperrors.KindTransientNetwork, "order book request failed", httpErr)
		}
		if resp.StatusCode() == 429 {
			return apperrors.New(apperrors.KindRateLimit, "market pricer returned 429")
		}
		if resp.StatusCode() >= 500 {
			return apperrors.New(apperrors.KindTransientNetwork, fmt.Sprintf("market pricer returned %d", resp.StatusCode()))
		}
		if resp.StatusCode() >= 400 {
			return apperrors.New(apperrors.KindProtocolFormatError, fmt.Sprintf("market pricer returned %d", resp.StatusCode()))
		}
		return nil
	})
	p.health.record(err == nil, time.Now())
	if err != nil {
		return nil, err
	}

	prices := make(map[string]decimal.Decimal, len(book))
	for _, row := range book {
		bid, bErr := decimal.NewFromString(row.BestBid)
		ask, aErr := decimal.NewFromString(row.BestAsk)
		if bErr != nil || aErr != nil {
			continue
		}
		prices[row.Outcome] = bid.Add(ask).Div(decimal.NewFromInt(2)).Round(6)
	}
	return prices, nil
}

func (p *PredictionMarketPricer) Health() Health {
	sat := 0.0
	if p.limiter != nil {
		sat = p.limiter.Utilization(p.name)
	}
	return p.health.health(sat, 30*time.Second)
}
