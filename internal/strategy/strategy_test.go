package strategy

import (
	"testing"
	"time"

	"github.com/polytrader/polytrader/pkg/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type stubDetector struct {
	name     string
	opps     []types.Opportunity
	fills    []types.Trade
	closes   []types.Trade
}

func (s *stubDetector) Name() string { return s.name }
func (s *stubDetector) Detect(DetectInput) []types.Opportunity { return s.opps }
func (s *stubDetector) OnFill(trade types.Trade)  { s.fills = append(s.fills, trade) }
func (s *stubDetector) OnClose(trade types.Trade) { s.closes = append(s.closes, trade) }

func TestManagerRegisterAndEnabledOrder(t *testing.T) {
	m := NewManager()
	m.Register("arbitrage", &stubDetector{name: "arbitrage"}, 0.5, types.StagePaper)
	m.Register("momentum", &stubDetector{name: "momentum"}, 0.5, types.StagePaper)

	assert.Equal(t, []string{"arbitrage", "momentum"}, m.Enabled())

	s, ok := m.Strategy("arbitrage")
	require.True(t, ok)
	assert.True(t, s.Enabled)
	assert.Equal(t, types.StagePaper, s.Stage)
}

func TestManagerDisableRemovesFromEnabledUntilReEnabled(t *testing.T) {
	m := NewManager()
	m.Register("arbitrage", &stubDetector{name: "arbitrage"}, 1.0, types.StagePaper)

	m.Disable("arbitrage", "daily loss limit breached")
	assert.Empty(t, m.Enabled())

	s, ok := m.Strategy("arbitrage")
	require.True(t, ok)
	assert.False(t, s.Enabled)
	assert.Equal(t, "daily loss limit breached", s.DisableReason)
	require.NotNil(t, s.DisabledAt)

	m.ReEnable("arbitrage")
	assert.Equal(t, []string{"arbitrage"}, m.Enabled())
}

func TestManagerRunAllSkipsDisabledStrategiesAndSortsByEdge(t *testing.T) {
	m := NewManager()
	low := types.Opportunity{StrategyName: "a", MarketID: "m1", EdgeBps: 50}
	high := types.Opportunity{StrategyName: "a", MarketID: "m2", EdgeBps: 500}
	m.Register("a", &stubDetector{name: "a", opps: []types.Opportunity{low, high}}, 0.5, types.StagePaper)
	m.Register("b", &stubDetector{name: "b", opps: []types.Opportunity{{EdgeBps: 10}}}, 0.5, types.StagePaper)
	m.Disable("b", "test")

	out := m.RunAll(nil, nil, nil, map[string]int64{"a": 0, "b": 0})

	require.Contains(t, out, "a")
	require.NotContains(t, out, "b")
	require.Len(t, out["a"], 2)
	assert.Equal(t, int64(500), out["a"][0].EdgeBps, "opportunities should be ranked by edge_bps descending")
}

func TestManagerNotifyFillAndCloseForwardToTheOwningDetector(t *testing.T) {
	m := NewManager()
	det := &stubDetector{name: "a"}
	m.Register("a", det, 1.0, types.StagePaper)

	trade := types.Trade{StrategyName: "a", FilledAt: time.Now()}
	m.NotifyFill(trade)
	require.Len(t, det.fills, 1)

	m.NotifyClose(trade)
	require.Len(t, det.closes, 1)
}

func TestManagerRebalanceRejectsAllocationsOverOne(t *testing.T) {
	m := NewManager()
	m.Register("a", &stubDetector{name: "a"}, 0.5, types.StagePaper)
	m.Register("b", &stubDetector{name: "b"}, 0.5, types.StagePaper)

	err := m.Rebalance(map[string]float64{"a": 0.7, "b": 0.5})
	assert.Error(t, err)

	require.NoError(t, m.Rebalance(map[string]float64{"a": 0.3, "b": 0.7}))
	s, _ := m.Strategy("a")
	assert.True(t, s.Allocation.Equal(decimalFromFloat(0.3)))
}
