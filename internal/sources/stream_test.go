package sources

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPoolRunAllCollectsPerTaskResults(t *testing.T) {
	p := NewPool(2)
	tasks := []FetchTask{
		{Source: "ok", Run: func(context.Context) error { return nil }},
		{Source: "bad", Run: func(context.Context) error { return errors.New("boom") }},
	}

	results := p.RunAll(context.Background(), tasks)

	require.Len(t, results, 2)
	assert.NoError(t, results["ok"])
	assert.EqualError(t, results["bad"], "boom")
}

func TestPoolRunAllBoundsConcurrencyToWorkerCount(t *testing.T) {
	p := NewPool(1)

	inFlight := 0
	maxInFlight := 0
	guard := make(chan struct{}, 1)
	guard <- struct{}{}

	tasks := make([]FetchTask, 5)
	for i := range tasks {
		tasks[i] = FetchTask{Source: string(rune('a' + i)), Run: func(context.Context) error {
			<-guard
			inFlight++
			if inFlight > maxInFlight {
				maxInFlight = inFlight
			}
			guard <- struct{}{}

			<-guard
			inFlight--
			guard <- struct{}{}
			return nil
		}}
	}

	p.RunAll(context.Background(), tasks)
	assert.Equal(t, 1, maxInFlight, "a pool of 1 worker should never run two tasks concurrently")
}

func TestChanGuardSerializesAccess(t *testing.T) {
	var g chanGuard
	g.init()
	g.lock()
	g.unlock()
	g.lock()
	g.unlock()
}
