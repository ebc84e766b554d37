package broker

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

type fakeFPS struct{ fps float64 }

func (f fakeFPS) CurrentFPS() float64 { return f.fps }

type fakePublisher struct{ dispatched []FrameMessage }

func (p *fakePublisher) Dispatch(msg FrameMessage) { p.dispatched = append(p.dispatched, msg) }

func TestAllowHasNoCapWhenFPSNonPositive(t *testing.T) {
	b := New(nil, &fakePublisher{}, fakeFPS{fps: 0}, time.Millisecond, time.Second)
	for i := 0; i < 5; i++ {
		assert.True(t, b.allow("cam-1"))
	}
}

func TestAllowEnforcesMinIntervalBetweenForwards(t *testing.T) {
	b := New(nil, &fakePublisher{}, fakeFPS{fps: 10}, time.Millisecond, time.Second)

	assert.True(t, b.allow("cam-1"), "first frame always forwards")
	assert.False(t, b.allow("cam-1"), "second frame within the same 100ms window is dropped")

	time.Sleep(110 * time.Millisecond)
	assert.True(t, b.allow("cam-1"), "a frame after the min interval elapses forwards")
}

func TestAllowTracksStreamsIndependently(t *testing.T) {
	b := New(nil, &fakePublisher{}, fakeFPS{fps: 10}, time.Millisecond, time.Second)

	assert.True(t, b.allow("cam-1"))
	assert.True(t, b.allow("cam-2"), "a different stream's cap window is independent")
}

func TestHandleDropsMalformedPayload(t *testing.T) {
	pub := &fakePublisher{}
	b := New(nil, pub, fakeFPS{fps: 0}, time.Millisecond, time.Second)

	b.handle("not json")
	assert.Empty(t, pub.dispatched)
}

func TestHandleDefaultsTypeAndDispatches(t *testing.T) {
	pub := &fakePublisher{}
	b := New(nil, pub, fakeFPS{fps: 0}, time.Millisecond, time.Second)

	b.handle(`{"stream_id":"cam-1","w":640,"h":480}`)
	if assert.Len(t, pub.dispatched, 1) {
		assert.Equal(t, "frame", pub.dispatched[0].Type)
		assert.Equal(t, "cam-1", pub.dispatched[0].StreamID)
	}
}

func TestHandleDropsWhenOverFPSCap(t *testing.T) {
	pub := &fakePublisher{}
	b := New(nil, pub, fakeFPS{fps: 1}, time.Millisecond, time.Second)

	b.handle(`{"stream_id":"cam-1"}`)
	b.handle(`{"stream_id":"cam-1"}`)
	assert.Len(t, pub.dispatched, 1, "second frame within the 1fps window must be dropped, not forwarded")
}

func TestHandleRecordsLastFrameSeenEvenWhenOverFPSCap(t *testing.T) {
	pub := &fakePublisher{}
	b := New(nil, pub, fakeFPS{fps: 1}, time.Millisecond, time.Second)

	_, ok := b.LastFrameAt("cam-1")
	assert.False(t, ok, "no frame observed yet")

	b.handle(`{"stream_id":"cam-1"}`)
	b.handle(`{"stream_id":"cam-1"}`) // dropped by the FPS cap, but still "seen"

	last, ok := b.LastFrameAt("cam-1")
	assert.True(t, ok)
	assert.WithinDuration(t, time.Now(), last, time.Second)
}

func TestGrowBackoffDoublesAndCaps(t *testing.T) {
	assert.Equal(t, 200*time.Millisecond, growBackoff(100*time.Millisecond, 10*time.Second))
	assert.Equal(t, 10*time.Second, growBackoff(8*time.Second, 10*time.Second))
}
