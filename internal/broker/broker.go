// Package broker subscribes to the worker-published frame pub/sub pattern
// and fans surviving messages out to the Subscription Hub (§4.4), grounded
// on go-redis v9's pattern-subscribe API.
package broker

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"time"

	"github.com/flowgrid/flowplane/internal/metrics"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog/log"
)

// FPSProvider reports the current per-stream forward-rate cap; satisfied by
// the Settings Manager (§4.4 point 1: "the current live_preview_fps setting").
type FPSProvider interface {
	CurrentFPS() float64
}

// Publisher is the Subscription Hub's ingress; the broker never blocks on
// it (§4.4 point 4).
type Publisher interface {
	Dispatch(msg FrameMessage)
}

// Broker maintains one exponential-backoff PSUBSCRIBE loop over frames/*.
type Broker struct {
	rdb            *redis.Client
	hub            Publisher
	fps            FPSProvider
	backoffInitial time.Duration
	backoffMax     time.Duration

	mu            sync.Mutex
	lastForwarded map[string]time.Time
	lastSeen      map[string]time.Time
}

func New(rdb *redis.Client, hub Publisher, fps FPSProvider, backoffInitial, backoffMax time.Duration) *Broker {
	return &Broker{
		rdb:            rdb,
		hub:            hub,
		fps:            fps,
		backoffInitial: backoffInitial,
		backoffMax:     backoffMax,
		lastForwarded:  make(map[string]time.Time),
		lastSeen:       make(map[string]time.Time),
	}
}

// LastFrameAt reports when a frame was last observed for streamID, whether
// or not it was forwarded past the FPS cap. The Reconciler uses this for
// the frame-recency half of the connection-status state table (§4.3).
func (b *Broker) LastFrameAt(streamID string) (time.Time, bool) {
	b.mu.Lock()
	defer b.mu.Unlock()
	t, ok := b.lastSeen[streamID]
	return t, ok
}

// Run subscribes to frames/* and reconnects with exponential backoff on
// failure until ctx is cancelled. While disconnected, no frames are
// delivered; subscribers stay connected and simply see no traffic (§4.4
// point 3).
func (b *Broker) Run(ctx context.Context) {
	backoff := b.backoffInitial
	for {
		if ctx.Err() != nil {
			return
		}
		if err := b.subscribeLoop(ctx, func() { backoff = b.backoffInitial }); err != nil {
			metrics.BrokerReconnects.Inc()
			log.Warn().Err(err).Dur("backoff", backoff).Msg("broker: pub/sub connection lost, reconnecting")
			select {
			case <-ctx.Done():
				return
			case <-time.After(backoff):
			}
			backoff = growBackoff(backoff, b.backoffMax)
		}
	}
}

// growBackoff doubles the current backoff, capped at max.
func growBackoff(current, max time.Duration) time.Duration {
	next := current * 2
	if next > max {
		return max
	}
	return next
}

// subscribeLoop connects and forwards frames until the subscription drops
// or ctx is cancelled. onConnected is called once the subscribe succeeds,
// resetting the reconnect backoff before this connection's own failure (if
// any) can grow it again.
func (b *Broker) subscribeLoop(ctx context.Context, onConnected func()) error {
	sub := b.rdb.PSubscribe(ctx, "frames/*")
	defer sub.Close()

	if _, err := sub.Receive(ctx); err != nil {
		return err
	}
	onConnected()
	ch := sub.Channel()

	for {
		select {
		case <-ctx.Done():
			return nil
		case msg, ok := <-ch:
			if !ok {
				return errors.New("pub/sub channel closed")
			}
			b.handle(msg.Payload)
		}
	}
}

func (b *Broker) handle(payload string) {
	var fm FrameMessage
	if err := json.Unmarshal([]byte(payload), &fm); err != nil {
		log.Warn().Err(err).Msg("broker: malformed frame message, dropping")
		return
	}
	if fm.Type == "" {
		fm.Type = "frame"
	}
	b.mu.Lock()
	b.lastSeen[fm.StreamID] = time.Now()
	b.mu.Unlock()

	if !b.allow(fm.StreamID) {
		metrics.FramesDropped.Inc()
		return
	}
	metrics.FramesForwarded.Inc()
	b.hub.Dispatch(fm)
}

// allow enforces the per-stream FPS cap: a message arriving less than
// 1/fps_cap after the last forward for that stream is dropped (§4.4
// point 1). A non-positive cap means "no cap".
func (b *Broker) allow(streamID string) bool {
	fpsCap := b.fps.CurrentFPS()
	if fpsCap <= 0 {
		return true
	}
	minInterval := time.Duration(float64(time.Second) / fpsCap)

	b.mu.Lock()
	defer b.mu.Unlock()
	now := time.Now()
	if last, ok := b.lastForwarded[streamID]; ok && now.Sub(last) < minInterval {
		return false
	}
	b.lastForwarded[streamID] = now
	return true
}
