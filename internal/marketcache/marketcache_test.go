package marketcache

import (
	"testing"
	"time"

	"github.com/polytrader/polytrader/pkg/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func market(id string, endTime time.Time) types.Market {
	return types.Market{MarketID: id, EndTime: endTime}
}

func TestPutThenFresh(t *testing.T) {
	c := New()
	c.Put(market("m1", time.Now().Add(24*time.Hour)))

	m, ok := c.Fresh("m1", time.Minute)
	require.True(t, ok)
	assert.Equal(t, "m1", m.MarketID)
}

func TestFreshRejectsStaleEntry(t *testing.T) {
	c := New()
	c.Put(market("m1", time.Now().Add(24*time.Hour)))

	_, ok := c.Fresh("m1", -time.Second)
	assert.False(t, ok, "an entry updated in the past must not satisfy a negative max age")
}

func TestReconcileMissingEvictsAfterThreeMisses(t *testing.T) {
	c := New()
	c.Put(market("m1", time.Now().Add(24*time.Hour)))

	for i := 0; i < 2; i++ {
		evicted := c.ReconcileMissing(map[string]struct{}{})
		assert.Empty(t, evicted)
	}
	evicted := c.ReconcileMissing(map[string]struct{}{})
	assert.Equal(t, []string{"m1"}, evicted)
	assert.Equal(t, 0, c.Len())
}

func TestReconcileMissingEvictsPastEndTime(t *testing.T) {
	c := New()
	c.Put(market("m1", time.Now().Add(-2*time.Hour)))

	evicted := c.ReconcileMissing(map[string]struct{}{"m1": {}})
	assert.Equal(t, []string{"m1"}, evicted)
}

func TestReconcileMissingResetsOnReappearance(t *testing.T) {
	c := New()
	c.Put(market("m1", time.Now().Add(24*time.Hour)))

	c.ReconcileMissing(map[string]struct{}{})
	c.Put(market("m1", time.Now().Add(24*time.Hour)))

	m, _, ok := c.Get("m1")
	require.True(t, ok)
	assert.Equal(t, 0, m.MissedCycles)
}
