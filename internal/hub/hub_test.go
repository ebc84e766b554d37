package hub

import (
	"testing"

	"github.com/flowgrid/flowplane/internal/broker"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSubscribeFiltersByStreamID(t *testing.T) {
	h := New(4, 64)
	subA := h.Subscribe("cam-a")
	subAll := h.Subscribe("")

	h.Dispatch(broker.FrameMessage{StreamID: "cam-a", Type: "frame"})
	h.Dispatch(broker.FrameMessage{StreamID: "cam-b", Type: "frame"})

	assert.Len(t, subA.Messages(), 1)
	assert.Len(t, subAll.Messages(), 2)
}

func TestDispatchDropsOldestWhenQueueFull(t *testing.T) {
	h := New(2, 64)
	sub := h.Subscribe("cam-a")

	for i := 0; i < 5; i++ {
		h.Dispatch(broker.FrameMessage{StreamID: "cam-a", Timestamp: int64(i)})
	}

	require.Len(t, sub.Messages(), 2)
	first := <-sub.Messages()
	second := <-sub.Messages()
	assert.Equal(t, int64(3), first.Timestamp)
	assert.Equal(t, int64(4), second.Timestamp)
	assert.Equal(t, 3, sub.DropCount())
}

func TestSubscriberClosedAfterConsecutiveDropThreshold(t *testing.T) {
	h := New(1, 3)
	sub := h.Subscribe("cam-a")

	// First send fills the queue; every subsequent send while it stays full
	// is a drop. Threshold 3 means the 4th consecutive drop closes it.
	for i := 0; i < 5; i++ {
		h.Dispatch(broker.FrameMessage{StreamID: "cam-a", Timestamp: int64(i)})
	}

	select {
	case <-sub.Closed():
	default:
		t.Fatal("expected subscriber to be force-closed after sustained overrun")
	}
	assert.Equal(t, 0, h.SubscriberCount())
}

func TestUnsubscribeIsIdempotent(t *testing.T) {
	h := New(4, 64)
	sub := h.Subscribe("cam-a")
	h.Unsubscribe(sub.ID)
	assert.NotPanics(t, func() { h.Unsubscribe(sub.ID) })
	assert.Equal(t, 0, h.SubscriberCount())
}

func TestSlowSubscriberIsolatedFromFastSubscriberOverHundredFrames(t *testing.T) {
	h := New(4, 128)
	fast := h.Subscribe("cam-a")
	slow := h.Subscribe("cam-a")

	for i := 0; i < 100; i++ {
		h.Dispatch(broker.FrameMessage{StreamID: "cam-a", Timestamp: int64(i)})
		<-fast.Messages()
	}

	select {
	case <-slow.Closed():
		t.Fatal("slow subscriber must not be force-closed within 100 frames at the shipped default threshold")
	default:
	}
	assert.GreaterOrEqual(t, slow.DropCount(), 96)
	assert.Equal(t, 2, h.SubscriberCount())
}

func TestDispatchSkipsClosedSubscribers(t *testing.T) {
	h := New(4, 64)
	sub := h.Subscribe("cam-a")
	h.Unsubscribe(sub.ID)

	assert.NotPanics(t, func() {
		h.Dispatch(broker.FrameMessage{StreamID: "cam-a"})
	})
}
