package ratelimit

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestAcquireGrantsWithinCapacity(t *testing.T) {
	l := New()
	l.Register("src", 5, 60) // 1 token/sec

	now := time.Now()
	for i := 0; i < 5; i++ {
		d := l.Acquire("src", now)
		require.True(t, d.Granted, "token %d should be granted", i)
	}

	d := l.Acquire("src", now)
	assert.False(t, d.Granted)
	assert.Greater(t, d.Wait, time.Duration(0))
}

func TestAcquireRefillsOverTime(t *testing.T) {
	l := New()
	l.Register("src", 2, 60) // 1 token/sec

	now := time.Now()
	require.True(t, l.Acquire("src", now).Granted)
	require.True(t, l.Acquire("src", now).Granted)
	require.False(t, l.Acquire("src", now).Granted)

	later := now.Add(1100 * time.Millisecond)
	require.True(t, l.Acquire("src", later).Granted)
}

func TestHardPauseAt95Percent(t *testing.T) {
	l := New()
	l.Register("src", 100, 6000) // 100 tok/sec

	now := time.Now()
	var lastDecision Decision
	for i := 0; i < 96; i++ {
		lastDecision = l.Acquire("src", now)
	}
	assert.False(t, lastDecision.Granted, "should hard-pause at 95%% consumption")

	// Refill to capacity/2 should resume.
	later := now.Add(time.Second)
	d := l.Acquire("src", later)
	assert.True(t, d.Granted)
}

func TestWaitUntilAvailableRespectsDeadline(t *testing.T) {
	l := New()
	l.Register("src", 1, 1) // 1 token per 60s

	now := time.Now()
	require.True(t, l.Acquire("src", now).Granted)

	deadline := time.Now().Add(50 * time.Millisecond)
	ok := l.WaitUntilAvailable("src", deadline)
	assert.False(t, ok)
}
