// Package strategy holds the Detector capability interface and the
// StrategyManager that owns strategy metadata, orchestrates detectors once
// per cycle, and ranks the opportunities they emit. Grounded on the
// teacher's strategy.Strategy interface (Name/Description/Initialize/OnBar)
// and its StrategyRegistry factory-map pattern, generalized from OHLCV bars
// to the (markets, prices) inputs spec.md §4.5 specifies.
package strategy

import (
	"sort"
	"sync"
	"time"

	"github.com/polytrader/polytrader/pkg/types"
)

// Detector is the pure-function capability every strategy implements, per
// spec.md §9's tagged-variant capability interface.
type Detector interface {
	Name() string
	Detect(input DetectInput) []types.Opportunity
	OnFill(trade types.Trade)
	OnClose(trade types.Trade)
}

// DetectInput bundles everything a detector needs to stay a pure function of
// its own rolling state: the current market set, the crypto consensus
// prices referenced by strategies, and the caller's already-open positions
// for this strategy (so the detector can skip duplicates itself too).
type DetectInput struct {
	Markets       []types.Market
	ConsensusByID map[string]*types.ConsensusPrice
	OpenPositions map[types.PositionKey]types.Position
	MinEdgeBps    int64
	Now           time.Time
}

// Manager is the sole owner of Strategy metadata and the detector registry.
// Per-strategy virtual portfolios are tracked by the caller (the driver)
// via the portfolio package; Manager only ranks and selects.
type Manager struct {
	mu         sync.RWMutex
	strategies map[string]*types.Strategy
	detectors  map[string]Detector
	order      []string // registration order, for deterministic iteration
}

func NewManager() *Manager {
	return &Manager{
		strategies: make(map[string]*types.Strategy),
		detectors:  make(map[string]Detector),
	}
}

// Register adds a strategy and its detector to the registry at the given
// allocation and stage.
func (m *Manager) Register(name string, detector Detector, allocation float64, stage types.StrategyStage) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.strategies[name] = &types.Strategy{
		Name:       name,
		Enabled:    true,
		Stage:      stage,
		Allocation: decimalFromFloat(allocation),
	}
	m.detectors[name] = detector
	m.order = append(m.order, name)
}

// Strategy returns a copy of a strategy's metadata.
func (m *Manager) Strategy(name string) (types.Strategy, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	s, ok := m.strategies[name]
	if !ok {
		return types.Strategy{}, false
	}
	return *s, true
}

// Enabled lists the names of strategies currently enabled and not paused, in
// registration order.
func (m *Manager) Enabled() []string {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var out []string
	for _, name := range m.order {
		s := m.strategies[name]
		if s.Enabled && !s.Paused {
			out = append(out, name)
		}
	}
	return out
}

// Disable marks a strategy disabled persistently until ReEnable is called,
// per spec.md §4.13.
func (m *Manager) Disable(name, reason string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	s, ok := m.strategies[name]
	if !ok {
		return
	}
	s.Enabled = false
	now := time.Now()
	s.DisabledAt = &now
	s.DisableReason = reason
}

// ReEnable clears a strategy's disabled state.
func (m *Manager) ReEnable(name string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	s, ok := m.strategies[name]
	if !ok {
		return
	}
	s.Enabled = true
	s.DisabledAt = nil
	s.DisableReason = ""
}

// RunAll invokes each enabled strategy's detector and returns its raw
// opportunities, sorted by edge_bps descending, per spec.md §4.5.
func (m *Manager) RunAll(markets []types.Market, consensus map[string]*types.ConsensusPrice, openByStrategy map[string]map[types.PositionKey]types.Position, minEdgeBps map[string]int64) map[string][]types.Opportunity {
	m.mu.RLock()
	names := append([]string(nil), m.order...)
	strategiesCopy := make(map[string]types.Strategy, len(m.strategies))
	detectors := make(map[string]Detector, len(m.detectors))
	for name, s := range m.strategies {
		strategiesCopy[name] = *s
		detectors[name] = m.detectors[name]
	}
	m.mu.RUnlock()

	out := make(map[string][]types.Opportunity, len(names))
	for _, name := range names {
		s := strategiesCopy[name]
		if !s.Enabled || s.Paused {
			continue
		}
		det := detectors[name]
		opps := det.Detect(DetectInput{
			Markets:       markets,
			ConsensusByID: consensus,
			OpenPositions: openByStrategy[name],
			MinEdgeBps:    minEdgeBps[name],
			Now:           time.Now(),
		})
		sort.Slice(opps, func(i, j int) bool { return opps[i].EdgeBps > opps[j].EdgeBps })
		out[name] = opps
	}
	return out
}

// NotifyFill and NotifyClose forward fill/close events to the owning
// detector's OnFill/OnClose. The five detectors in this package implement
// both as no-ops; their rolling windows are updated inside Detect.
func (m *Manager) NotifyFill(trade types.Trade) {
	m.mu.RLock()
	det, ok := m.detectors[trade.StrategyName]
	m.mu.RUnlock()
	if ok {
		det.OnFill(trade)
	}
}

func (m *Manager) NotifyClose(trade types.Trade) {
	m.mu.RLock()
	det, ok := m.detectors[trade.StrategyName]
	m.mu.RUnlock()
	if ok {
		det.OnClose(trade)
	}
}

// Rebalance validates and applies a new allocation map, rejecting it if the
// sum exceeds 1, per spec.md §4.6.
func (m *Manager) Rebalance(allocations map[string]float64) error {
	sum := 0.0
	for _, a := range allocations {
		sum += a
	}
	if sum > 1.0000001 {
		return errAllocationExceedsOne
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	for name, a := range allocations {
		if s, ok := m.strategies[name]; ok {
			s.Allocation = decimalFromFloat(a)
		}
	}
	return nil
}
