// Package settingsmgr owns the singleton SystemSettings cache and the
// lib/pq LISTEN/NOTIFY invalidation feed described in §4.8, and drives the
// "restart every active worker" cascade for PUT /settings/system.
package settingsmgr

import (
	"context"
	"encoding/json"
	"sync"
	"time"

	"github.com/flowgrid/flowplane/internal/store"
	"github.com/lib/pq"
	"github.com/rs/zerolog/log"
)

// Store is the subset of *store.Store the Settings Manager needs.
type Store interface {
	GetSettings(ctx context.Context) (*store.Settings, error)
	UpdateSettings(ctx context.Context, upd store.SettingsUpdate) (*store.Settings, error)
	ListStreams(ctx context.Context) ([]*store.Stream, error)
}

// Reconciler is the subset of *reconcile.Reconciler needed for the
// cascading restart on PUT /settings/system (§9's "best-effort continuation
// with per-stream error aggregation").
type Reconciler interface {
	ApplyConfigChange(ctx context.Context, id string) error
}

// Manager caches the singleton settings row in memory and keeps it fresh
// via Postgres NOTIFY rather than a filesystem watch.
type Manager struct {
	store Store
	recon Reconciler
	dsn   string

	mu    sync.RWMutex
	cache *store.Settings
}

func New(st Store, recon Reconciler, dsn string) *Manager {
	return &Manager{store: st, recon: recon, dsn: dsn}
}

// SetReconciler wires the Reconciler after construction, breaking the
// Manager/Reconciler initialization cycle (each needs the other as a
// collaborator interface): construct both, then link.
func (m *Manager) SetReconciler(recon Reconciler) {
	m.recon = recon
}

// Load fetches the current settings row once at startup, before Run's
// LISTEN goroutine takes over keeping it fresh.
func (m *Manager) Load(ctx context.Context) error {
	st, err := m.store.GetSettings(ctx)
	if err != nil {
		return err
	}
	m.mu.Lock()
	m.cache = st
	m.mu.Unlock()
	return nil
}

// CurrentFPS satisfies both broker.FPSProvider and reconcile.SettingsProvider.
func (m *Manager) CurrentFPS() float64 {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if m.cache == nil {
		return 0
	}
	return m.cache.LivePreviewFPS
}

// Current returns a copy of the cached settings snapshot.
func (m *Manager) Current() store.Settings {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if m.cache == nil {
		return store.Settings{}
	}
	return *m.cache
}

// Run listens on the flowplane_settings channel until ctx is cancelled,
// updating the in-memory cache from each NOTIFY payload (the payload is
// the full settings row, written by Store.UpdateSettings, so no extra
// database round trip is needed per notification).
func (m *Manager) Run(ctx context.Context) {
	listener := pq.NewListener(m.dsn, 10*time.Second, time.Minute, func(ev pq.ListenerEventType, err error) {
		if err != nil {
			log.Warn().Err(err).Msg("settingsmgr: listener event error")
		}
	})
	defer listener.Close()

	if err := listener.Listen("flowplane_settings"); err != nil {
		log.Error().Err(err).Msg("settingsmgr: failed to LISTEN on flowplane_settings")
		return
	}

	ping := time.NewTicker(90 * time.Second)
	defer ping.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case n := <-listener.Notify:
			if n == nil {
				continue
			}
			var st store.Settings
			if err := json.Unmarshal([]byte(n.Extra), &st); err != nil {
				log.Warn().Err(err).Msg("settingsmgr: malformed notify payload, ignoring")
				continue
			}
			m.mu.Lock()
			m.cache = &st
			m.mu.Unlock()
		case <-ping.C:
			go listener.Ping()
		}
	}
}

// RestartOutcome is the per-stream result of a settings-driven restart
// cascade (§9: "best-effort continuation... does NOT roll back
// successfully-restarted workers").
type RestartOutcome struct {
	StreamID string `json:"stream_id"`
	Error    string `json:"error,omitempty"`
}

// UpdateSettings persists the change, then, if RestartWorkers is set,
// applies it to every active stream's worker via the Reconciler,
// continuing past individual failures and reporting them all.
func (m *Manager) UpdateSettings(ctx context.Context, upd store.SettingsUpdate) (*store.Settings, []RestartOutcome, error) {
	st, err := m.store.UpdateSettings(ctx, upd)
	if err != nil {
		return nil, nil, err
	}

	m.mu.Lock()
	m.cache = st
	m.mu.Unlock()

	if !upd.RestartWorkers {
		return st, nil, nil
	}

	streams, err := m.store.ListStreams(ctx)
	if err != nil {
		return st, nil, err
	}

	var outcomes []RestartOutcome
	for _, s := range streams {
		if !s.IsActive {
			continue
		}
		if err := m.recon.ApplyConfigChange(ctx, s.ID); err != nil {
			outcomes = append(outcomes, RestartOutcome{StreamID: s.ID, Error: err.Error()})
			log.Warn().Err(err).Str("stream_id", s.ID).Msg("settingsmgr: restart cascade failed for stream")
		}
	}
	return st, outcomes, nil
}
