package sources

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/polytrader/polytrader/internal/apperrors"
	"github.com/polytrader/polytrader/internal/ratelimit"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func TestWithRetrySucceedsImmediatelyOnNoError(t *testing.T) {
	calls := 0
	err := withRetry(context.Background(), defaultRetry, zap.NewNop(), func() error {
		calls++
		return nil
	})
	require.NoError(t, err)
	assert.Equal(t, 1, calls)
}

func TestWithRetryRetriesTransientErrorsThenSucceeds(t *testing.T) {
	calls := 0
	cfg := retryConfig{attempts: 3, base: time.Millisecond, maxDelay: 5 * time.Millisecond}
	err := withRetry(context.Background(), cfg, zap.NewNop(), func() error {
		calls++
		if calls < 2 {
			return apperrors.New(apperrors.KindTransientNetwork, "timeout")
		}
		return nil
	})
	require.NoError(t, err)
	assert.Equal(t, 2, calls)
}

func TestWithRetryReturnsImmediatelyOnNonTransientError(t *testing.T) {
	calls := 0
	permanent := errors.New("malformed response")
	err := withRetry(context.Background(), defaultRetry, zap.NewNop(), func() error {
		calls++
		return permanent
	})
	assert.Equal(t, permanent, err)
	assert.Equal(t, 1, calls)
}

func TestWithRetryGivesUpAfterConfiguredAttempts(t *testing.T) {
	calls := 0
	cfg := retryConfig{attempts: 3, base: time.Millisecond, maxDelay: 5 * time.Millisecond}
	err := withRetry(context.Background(), cfg, zap.NewNop(), func() error {
		calls++
		return apperrors.New(apperrors.KindTransientNetwork, "still down")
	})
	assert.Error(t, err)
	assert.Equal(t, 3, calls)
}

func TestWithRetryAbortsOnContextCancellation(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	cfg := retryConfig{attempts: 3, base: time.Millisecond, maxDelay: 5 * time.Millisecond}
	calls := 0
	err := withRetry(ctx, cfg, zap.NewNop(), func() error {
		calls++
		return apperrors.New(apperrors.KindTransientNetwork, "down")
	})
	assert.Error(t, err)
}

func TestHealthTrackerReportsUnhealthyAboveQuarterErrorRate(t *testing.T) {
	var h healthTracker
	now := time.Now()
	for i := 0; i < 20; i++ {
		h.record(true, now)
	}
	assert.True(t, h.health(0, time.Hour).Healthy)

	for i := 0; i < 6; i++ {
		h.record(false, now)
	}
	assert.False(t, h.health(0, time.Hour).Healthy, "more than a quarter of the trailing window failing should flip unhealthy")
}

func TestHealthTrackerReportsUnhealthyWhenStale(t *testing.T) {
	var h healthTracker
	h.record(true, time.Now().Add(-time.Hour))
	assert.False(t, h.health(0, time.Minute).Healthy)
}

func TestHealthTrackerReportsUnhealthyAtHighSaturation(t *testing.T) {
	var h healthTracker
	h.record(true, time.Now())
	assert.False(t, h.health(0.99, time.Hour).Healthy)
}

func TestAcquireWithNilLimiterAlwaysSucceeds(t *testing.T) {
	assert.NoError(t, acquire(nil, "primary_crypto", time.Now().Add(time.Second)))
}

func TestAcquireRespectsRegisteredLimiterCapacity(t *testing.T) {
	limiter := ratelimit.New()
	limiter.Register("primary_crypto", 1, 60)

	require.NoError(t, acquire(limiter, "primary_crypto", time.Now().Add(time.Second)))

	err := acquire(limiter, "primary_crypto", time.Now().Add(-time.Millisecond))
	assert.Error(t, err)
	assert.True(t, apperrors.AsKind(err, apperrors.KindRateLimit))
}
