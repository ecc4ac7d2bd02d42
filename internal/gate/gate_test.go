package gate

import (
	"testing"
	"time"

	"github.com/polytrader/polytrader/internal/validator"
	"github.com/polytrader/polytrader/pkg/types"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func healthyContext(now time.Time) Context {
	return Context{
		PaperTrading: true,
		Strategy:     types.Strategy{Enabled: true},
		Market: types.Market{
			MarketID:     "m1",
			LiquidityUSD: decimal.NewFromInt(5000),
			EndTime:      now.Add(24 * time.Hour),
		},
		MarketAge:   now,
		Opportunity: types.Opportunity{SingleSourceOK: true},
		Now:         now,
	}
}

func newGate() *Gate {
	return New(validator.New(validator.Config{
		FreshnessMs:         5000,
		PriceDiscrepancyPct: 0.05,
		MinLiquidityUSD:     1000,
		MinTimeToCloseSec:   3600,
	}))
}

func TestMayExecuteApprovesHealthyContext(t *testing.T) {
	g := newGate()
	ok, reason := g.MayExecute(healthyContext(time.Now()))
	assert.True(t, ok)
	assert.Empty(t, reason)
}

func TestMayExecuteDeniesLiveTrading(t *testing.T) {
	g := newGate()
	ctx := healthyContext(time.Now())
	ctx.PaperTrading = false

	ok, reason := g.MayExecute(ctx)
	assert.False(t, ok)
	assert.Equal(t, "not_paper_trading", reason)
}

func TestMayExecuteDeniesOnKillSwitch(t *testing.T) {
	g := newGate()
	ctx := healthyContext(time.Now())
	ctx.KillSwitch = true

	ok, reason := g.MayExecute(ctx)
	assert.False(t, ok)
	assert.Equal(t, "kill_switch_config", reason)
}

func TestMayExecuteDeniesWhenPaused(t *testing.T) {
	g := newGate()
	ctx := healthyContext(time.Now())
	ctx.Control = types.ControlState{Paused: true}

	ok, reason := g.MayExecute(ctx)
	assert.False(t, ok)
	assert.Equal(t, "paused", reason)
}

func TestMayExecuteDeniesDisabledStrategy(t *testing.T) {
	g := newGate()
	ctx := healthyContext(time.Now())
	ctx.Strategy = types.Strategy{Enabled: false}

	ok, reason := g.MayExecute(ctx)
	assert.False(t, ok)
	assert.Equal(t, "strategy_disabled", reason)
}

func TestMayExecuteSurfacesValidatorReason(t *testing.T) {
	g := newGate()
	ctx := healthyContext(time.Now())
	ctx.Market.LiquidityUSD = decimal.NewFromInt(1)

	ok, reason := g.MayExecute(ctx)
	assert.False(t, ok)
	assert.Equal(t, "liquidity_below_floor", reason)
}

func TestDenialsTalliesByReason(t *testing.T) {
	g := newGate()
	ctx := healthyContext(time.Now())
	ctx.KillSwitch = true

	g.MayExecute(ctx)
	g.MayExecute(ctx)

	counts := g.Denials()
	require.Equal(t, int64(2), counts["kill_switch_config"])
}
