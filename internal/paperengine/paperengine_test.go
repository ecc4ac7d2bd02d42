package paperengine

import (
	"testing"

	"github.com/polytrader/polytrader/internal/portfolio"
	"github.com/polytrader/polytrader/pkg/types"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func yesOpportunity(marketID string, sizeUSD float64) types.Opportunity {
	return types.Opportunity{
		StrategyName: "arbitrage",
		MarketID:     marketID,
		Side:         types.SideYes,
		SizeUSD:      decimal.NewFromFloat(sizeUSD),
	}
}

func TestPlaceAppliesSlippageAgainstTheTaker(t *testing.T) {
	e := New(100) // 1% slippage
	tr := portfolio.New("arbitrage", decimal.NewFromInt(10000), 60)

	opp := yesOpportunity("m1", 100)
	refPrices := map[string]decimal.Decimal{"YES": decimal.NewFromFloat(0.50)}

	trade, err := e.Place(opp, refPrices, tr)
	require.NoError(t, err)
	assert.Equal(t, types.TradeStateOpen, trade.State)

	fillPrice := trade.FillPrices["YES"]
	assert.True(t, fillPrice.GreaterThan(decimal.NewFromFloat(0.50)), "slippage should move the fill price against the buyer")
}

func TestPlaceRejectsInsufficientCash(t *testing.T) {
	e := New(0)
	tr := portfolio.New("arbitrage", decimal.NewFromInt(50), 60)

	opp := yesOpportunity("m1", 100)
	refPrices := map[string]decimal.Decimal{"YES": decimal.NewFromFloat(0.50)}

	_, err := e.Place(opp, refPrices, tr)
	require.Error(t, err)
}

func TestPlaceThenCloseRoundTrips(t *testing.T) {
	e := New(0)
	tr := portfolio.New("arbitrage", decimal.NewFromInt(10000), 60)

	opp := yesOpportunity("m1", 100)
	refPrices := map[string]decimal.Decimal{"YES": decimal.NewFromFloat(0.50)}

	trade, err := e.Place(opp, refPrices, tr)
	require.NoError(t, err)

	closed, err := e.Close(trade.TradeID, decimal.NewFromFloat(0.60), "profit_target", tr)
	require.NoError(t, err)
	assert.Equal(t, types.TradeStateClosed, closed.State)
	assert.True(t, closed.RealizedPnLUSD.GreaterThan(decimal.Zero), "a YES position exiting above entry should realize a profit")

	assert.Empty(t, e.OpenTrades())
}

func TestCloseUnknownTradeIsAnInternalInvariant(t *testing.T) {
	e := New(0)
	tr := portfolio.New("arbitrage", decimal.NewFromInt(10000), 60)

	_, err := e.Close(999, decimal.NewFromFloat(0.5), "manual", tr)
	require.Error(t, err)
}
