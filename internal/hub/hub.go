// Package hub fans frame messages out to WebSocket subscribers with
// subscriber-local backpressure: a slow reader drops frames, it never
// blocks the broker or other subscribers (§4.5, §7 "subscriber overrun").
package hub

import (
	"sync"

	"github.com/flowgrid/flowplane/internal/broker"
	"github.com/flowgrid/flowplane/internal/metrics"
	"github.com/rs/zerolog/log"
)

// Subscription is one bridged WebSocket connection. StreamID is empty for
// an all-streams subscriber (§6.2's "missing stream_id ⇒ all streams").
type Subscription struct {
	ID       uint64
	StreamID string

	queue    chan broker.FrameMessage
	dropped  int
	consecDrops int
	closed   bool
	closeCh  chan struct{}
}

// Messages is the channel the WebSocket handler ranges over.
func (s *Subscription) Messages() <-chan broker.FrameMessage { return s.queue }

// Closed signals when the Hub has force-closed this subscriber for policy
// reasons (§7: closed after K consecutive drops).
func (s *Subscription) Closed() <-chan struct{} { return s.closeCh }

// DropCount reports the subscriber's total drop count, useful for tests
// and diagnostics (§8 scenario 4).
func (s *Subscription) DropCount() int {
	return s.dropped
}

// Hub is a fan-out registry generalized to a per-stream-filtered
// subscriber set with bounded, drop-oldest queues.
type Hub struct {
	mu                 sync.Mutex
	subs               map[uint64]*Subscription
	nextID             uint64
	queueDepth         int
	dropCloseThreshold int
}

func New(queueDepth, dropCloseThreshold int) *Hub {
	if queueDepth <= 0 {
		queueDepth = 4
	}
	if dropCloseThreshold <= 0 {
		dropCloseThreshold = 128
	}
	return &Hub{
		subs:               make(map[uint64]*Subscription),
		queueDepth:         queueDepth,
		dropCloseThreshold: dropCloseThreshold,
	}
}

// Subscribe registers a new subscriber; streamID empty means all streams.
func (h *Hub) Subscribe(streamID string) *Subscription {
	h.mu.Lock()
	defer h.mu.Unlock()

	h.nextID++
	sub := &Subscription{
		ID:       h.nextID,
		StreamID: streamID,
		queue:    make(chan broker.FrameMessage, h.queueDepth),
		closeCh:  make(chan struct{}),
	}
	h.subs[sub.ID] = sub
	metrics.HubSubscribers.Set(float64(len(h.subs)))
	return sub
}

// Unsubscribe removes a subscriber; safe to call more than once.
func (h *Hub) Unsubscribe(id uint64) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if sub, ok := h.subs[id]; ok {
		if !sub.closed {
			sub.closed = true
			close(sub.closeCh)
		}
		delete(h.subs, id)
		metrics.HubSubscribers.Set(float64(len(h.subs)))
	}
}

// Dispatch fans a frame message out to every matching subscriber. Never
// blocks: a full queue drops the oldest queued message to make room for
// the new one (§4.5's drop-oldest policy), rather than dropping the new
// message and going stale.
func (h *Hub) Dispatch(msg broker.FrameMessage) {
	h.mu.Lock()
	defer h.mu.Unlock()

	for id, sub := range h.subs {
		if sub.StreamID != "" && sub.StreamID != msg.StreamID {
			continue
		}
		if sub.closed {
			continue
		}

		select {
		case sub.queue <- msg:
			sub.consecDrops = 0
		default:
			// Queue full: drop the oldest, then enqueue the new one.
			select {
			case <-sub.queue:
			default:
			}
			select {
			case sub.queue <- msg:
			default:
			}
			sub.dropped++
			sub.consecDrops++
			metrics.HubSubscriberDrops.Inc()
			if sub.consecDrops > h.dropCloseThreshold {
				log.Warn().Uint64("subscriber_id", id).Int("dropped", sub.dropped).Msg("hub: closing subscriber after sustained overrun")
				sub.closed = true
				close(sub.closeCh)
				delete(h.subs, id)
				metrics.HubSubscribers.Set(float64(len(h.subs)))
			}
		}
	}
}

// SubscriberCount is exposed for metrics.
func (h *Hub) SubscriberCount() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.subs)
}
