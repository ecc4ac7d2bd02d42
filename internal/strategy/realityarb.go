package strategy

import (
	"regexp"
	"strconv"
	"strings"

	"github.com/polytrader/polytrader/pkg/types"
	"github.com/shopspring/decimal"
)

// parsedQuestion is what the RealityArbitrageDetector extracts from a
// crypto-linked market question, grounded on the teacher's
// signals/parser.go text-pattern extraction idiom (regex capture groups
// over a small set of phrasings) generalized from generic signal text to
// Polymarket's "Will X reach $Y by Z" question shape.
type parsedQuestion struct {
	Symbol    string
	Threshold decimal.Decimal
	Direction string // "above" or "below"
}

var realityQuestionPattern = regexp.MustCompile(`(?i)will\s+([A-Za-z]{2,6})\s+(?:reach|hit|be\s+(?:above|below)|exceed|drop\s+below)\s*\$?\s*([0-9,]+(?:\.[0-9]+)?)`)
var directionAbove = regexp.MustCompile(`(?i)reach|hit|above|exceed`)
var directionBelow = regexp.MustCompile(`(?i)below|drop`)

func parseQuestion(question string) (parsedQuestion, bool) {
	m := realityQuestionPattern.FindStringSubmatch(question)
	if len(m) != 3 {
		return parsedQuestion{}, false
	}
	clean := strings.ReplaceAll(m[2], ",", "")
	threshold, err := strconv.ParseFloat(clean, 64)
	if err != nil {
		return parsedQuestion{}, false
	}
	direction := "above"
	if directionBelow.MatchString(question) && !directionAbove.MatchString(question) {
		direction = "below"
	}
	return parsedQuestion{
		Symbol:    strings.ToUpper(m[1]),
		Threshold: decimal.NewFromFloat(threshold),
		Direction: direction,
	}, true
}

// RealityArbitrageConfig tunes the confidence/profit requirements.
type RealityArbitrageConfig struct {
	MinProfitPct    float64
	MinConfidence   float64
	MaxTradeSize    decimal.Decimal
	MinLiquidityUSD decimal.Decimal
	TTL             int64
}

// RealityArbitrageDetector parses a market's question to extract
// {symbol, threshold, direction}, compares against the crypto consensus
// price, and emits an opportunity when the market's implied probability
// contradicts current reality by at least min_profit_pct, per spec.md §4.5.
type RealityArbitrageDetector struct {
	name   string
	config RealityArbitrageConfig
}

func NewRealityArbitrageDetector(name string, cfg RealityArbitrageConfig) *RealityArbitrageDetector {
	return &RealityArbitrageDetector{name: name, config: cfg}
}

func (d *RealityArbitrageDetector) Name() string { return d.name }

func (d *RealityArbitrageDetector) Detect(in DetectInput) []types.Opportunity {
	var out []types.Opportunity
	for _, m := range in.Markets {
		if len(m.Outcomes) != 2 {
			continue
		}
		parsed, ok := parseQuestion(m.Question)
		if !ok {
			continue
		}
		cp, ok := in.ConsensusByID[parsed.Symbol]
		if !ok || cp == nil || cp.Stale {
			continue // missing/stale reference price -> skip
		}
		if cp.Confidence < d.config.MinConfidence {
			continue
		}
		if m.LiquidityUSD.LessThan(d.config.MinLiquidityUSD) {
			continue
		}

		yesPrice, okY := m.Prices[m.Outcomes[0]]
		if !okY {
			continue
		}

		realityYes := parsed.Direction == "above" && cp.Median.GreaterThanOrEqual(parsed.Threshold)
		realityNo := parsed.Direction == "above" && cp.Median.LessThan(parsed.Threshold)
		if parsed.Direction == "below" {
			realityYes = cp.Median.LessThanOrEqual(parsed.Threshold)
			realityNo = cp.Median.GreaterThan(parsed.Threshold)
		}

		var side types.Side
		var mispricing decimal.Decimal
		switch {
		case realityYes && yesPrice.LessThan(decimal.NewFromFloat(1-d.config.MinProfitPct)):
			side = types.SideYes
			mispricing = decimal.NewFromInt(1).Sub(yesPrice)
		case realityNo && yesPrice.GreaterThan(decimal.NewFromFloat(d.config.MinProfitPct)):
			side = types.SideNo
			mispricing = yesPrice
		default:
			continue
		}

		key := types.PositionKey{StrategyName: d.name, MarketID: m.MarketID, Side: side}
		if _, open := in.OpenPositions[key]; open {
			continue
		}

		edgeBps := mispricing.Mul(decimal.NewFromInt(10000)).IntPart()
		if edgeBps < in.MinEdgeBps {
			continue
		}

		out = append(out, types.Opportunity{
			StrategyName: d.name,
			MarketID:     m.MarketID,
			CreatedAt:    in.Now,
			Side:         side,
			EdgeBps:      edgeBps,
			SizeUSD:      d.config.MaxTradeSize,
			SourcesUsed:  cp.Sources,
			ExpiresAt:    in.Now.Add(durationFromSeconds(d.config.TTL)),
			Rationale: types.Rationale{
				Kind:           "reality_arbitrage",
				Symbol:         parsed.Symbol,
				Threshold:      parsed.Threshold,
				Direction:      parsed.Direction,
				ConsensusPrice: cp.Median,
				Notes:          "market-implied probability contradicts current reality",
			},
		})
	}
	return out
}

func (d *RealityArbitrageDetector) OnFill(types.Trade)  {}
func (d *RealityArbitrageDetector) OnClose(types.Trade) {}
