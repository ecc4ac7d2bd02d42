package observer

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func TestSubscribePublishDeliversEvent(t *testing.T) {
	h := NewHub(zap.NewNop(), 4)
	sub := h.Subscribe()

	h.Publish(Event{Kind: "activity", Payload: "cycle_started"})

	ev := <-sub.Events()
	assert.Equal(t, "activity", ev.Kind)
}

func TestUnsubscribeRemovesSubscriberAndClosesChannel(t *testing.T) {
	h := NewHub(zap.NewNop(), 4)
	sub := h.Subscribe()
	require.Equal(t, 1, h.SubscriberCount())

	h.Unsubscribe(sub)
	assert.Equal(t, 0, h.SubscriberCount())

	_, ok := <-sub.Events()
	assert.False(t, ok, "the subscription's channel must be closed on unsubscribe")
}

func TestPublishDropsOldestOnFullBuffer(t *testing.T) {
	h := NewHub(zap.NewNop(), 2)
	sub := h.Subscribe()

	h.Publish(Event{Kind: "a"})
	h.Publish(Event{Kind: "b"})
	h.Publish(Event{Kind: "c"})

	assert.Equal(t, uint64(1), sub.Dropped())

	first := <-sub.Events()
	assert.Equal(t, "b", first.Kind, "the oldest queued event should have been dropped, not the newest")
}

func TestPublishNeverBlocksOnAFullSubscriber(t *testing.T) {
	h := NewHub(zap.NewNop(), 1)
	h.Subscribe()

	done := make(chan struct{})
	go func() {
		for i := 0; i < 100; i++ {
			h.Publish(Event{Kind: "flood"})
		}
		close(done)
	}()

	select {
	case <-done:
	default:
	}
	<-done
}
