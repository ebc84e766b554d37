// Package reconcile drives worker lifecycle from declared to observed state
// (§4.3). One Reconciler owns the Runtime Driver, the per-stream lock table,
// and the periodic scheduler that recovers from crashed workers.
package reconcile

import (
	"context"
	"strings"
	"time"

	"github.com/flowgrid/flowplane/internal/apperr"
	"github.com/flowgrid/flowplane/internal/config"
	"github.com/flowgrid/flowplane/internal/metrics"
	"github.com/flowgrid/flowplane/internal/runtime"
	"github.com/flowgrid/flowplane/internal/store"
	"github.com/rs/zerolog/log"
)

// SettingsProvider is the subset of the Settings Manager the Reconciler
// needs: the current preview FPS cap, folded into every worker's config
// fingerprint so a settings change can trigger a restart (§4.3, §4.8).
type SettingsProvider interface {
	CurrentFPS() float64
}

// FrameActivity reports when a stream's Frame Broker last observed a
// frame, regardless of whether it was forwarded past the FPS cap. The
// Reconciler uses this for the frame-recency half of the connection-status
// state table (§4.3): satisfied by *broker.Broker.
type FrameActivity interface {
	LastFrameAt(streamID string) (time.Time, bool)
}

// Store is the subset of *store.Store the Reconciler drives streams through.
type Store interface {
	GetStream(ctx context.Context, id string) (*store.Stream, error)
	ListStreams(ctx context.Context) ([]*store.Stream, error)
	SetRuntimeFacts(ctx context.Context, id string, facts store.RuntimeFacts) error
	RecordRestart(ctx context.Context, id string, window time.Duration) (int, error)
}

// Reconciler is a ticker loop that walks every active stream and
// reconciles observed state, plus imperative entry points the API layer
// calls directly for immediate effect.
type Reconciler struct {
	store  Store
	driver runtime.Driver
	cfg    config.RuntimeConfig
	locks  *lockTable

	pubSubAddr string
	metricsURL string
	databaseRO string
	settings   SettingsProvider
	frames     FrameActivity
}

// New expects driver to already carry per-call deadlines (runtime.WithDeadline),
// so every collaborator that holds the same driver value sees the same timeouts.
func New(st Store, driver runtime.Driver, cfg config.RuntimeConfig, settings SettingsProvider, pubSubAddr, metricsURL, databaseRO string) *Reconciler {
	return &Reconciler{
		store:      st,
		driver:     driver,
		cfg:        cfg,
		locks:      newLockTable(),
		pubSubAddr: pubSubAddr,
		metricsURL: metricsURL,
		databaseRO: databaseRO,
		settings:   settings,
	}
}

// SetFrameActivity wires the Frame Broker after construction, the same
// construct-both-then-link pattern used to break the Settings
// Manager/Reconciler cycle: the broker needs the Settings Manager for its
// FPS cap, and the Reconciler needs the broker for frame recency.
func (r *Reconciler) SetFrameActivity(fa FrameActivity) {
	r.frames = fa
}

func (r *Reconciler) specFor(st *store.Stream) runtime.StreamSpec {
	fps := 0.0
	if r.settings != nil {
		fps = r.settings.CurrentFPS()
	}
	return runtime.StreamSpec{
		ID:                   st.ID,
		Source:               st.Source,
		Latitude:             st.Latitude,
		Longitude:            st.Longitude,
		OrientationDeg:       st.OrientationDeg,
		ViewAngleDeg:         st.ViewAngleDeg,
		ViewDistanceM:        st.ViewDistanceM,
		TiltDeg:              st.TiltDeg,
		MountHeightM:         st.MountHeightM,
		LocationLabel:        st.LocationLabel,
		GridSizePx:           st.GridSizePx,
		WindowRadiusPx:       st.WindowRadiusPx,
		MagnitudeThresh:      st.MagnitudeThresh,
		ArrowScale:           st.ArrowScale,
		ArrowOpacityPct:      st.ArrowOpacityPct,
		GradientIntensity:    st.GradientIntensity,
		RulerOpacityPct:      st.RulerOpacityPct,
		ShowRawFeed:          st.ShowRawFeed,
		ShowArrows:           st.ShowArrows,
		ShowMagnitude:        st.ShowMagnitude,
		ShowTrails:           st.ShowTrails,
		ShowPerspectiveRuler: st.ShowPerspectiveRuler,
		SettingsFPS:          fps,
		PubSubAddr:           r.pubSubAddr,
		MetricsURL:           r.metricsURL,
		DatabaseRO:           r.databaseRO,
		WorkerImage:          r.cfg.WorkerImage,
	}
}

// Activate starts (or confirms already-started) the worker for a stream
// (§4.3). Idempotent: a running handle with an unchanged config fingerprint
// is a no-op, per §8's "no new started_at on repeat activation" property.
// An existing handle with a different fingerprint is stopped before the
// new worker is started.
func (r *Reconciler) Activate(ctx context.Context, id string) error {
	lock := r.locks.lockFor(id)
	lock.Lock()
	defer lock.Unlock()

	st, err := r.store.GetStream(ctx, id)
	if err != nil {
		return err
	}

	spec := r.specFor(st)
	fp := runtime.Fingerprint(spec)

	if st.WorkerHandle != "" && st.ConfigFingerprint == fp {
		return nil
	}
	if st.WorkerHandle != "" {
		if err := r.driver.Stop(ctx, st.WorkerHandle); err != nil {
			log.Warn().Err(err).Str("stream_id", id).Msg("reconciler: activate stop of stale worker failed, continuing")
		}
	}

	handle, err := r.driver.Start(ctx, spec)
	if err != nil {
		log.Error().Err(err).Str("stream_id", id).Msg("reconciler: activate failed")
		_ = r.store.SetRuntimeFacts(ctx, id, store.RuntimeFacts{
			LastError: err.Error(), Status: store.StatusError, ConfigFingerprint: fp,
		})
		return apperr.Transient("failed to start worker", err)
	}

	now := time.Now().UTC()
	return r.store.SetRuntimeFacts(ctx, id, store.RuntimeFacts{
		Handle: handle, StartedAt: &now, Status: store.StatusStarting, ConfigFingerprint: fp,
	})
}

// Deactivate stops the worker for a stream. Idempotent: stopping an
// already-inactive stream succeeds (§4.3).
func (r *Reconciler) Deactivate(ctx context.Context, id string) error {
	lock := r.locks.lockFor(id)
	lock.Lock()
	defer lock.Unlock()

	st, err := r.store.GetStream(ctx, id)
	if err != nil {
		return err
	}
	if st.WorkerHandle == "" {
		return r.store.SetRuntimeFacts(ctx, id, store.RuntimeFacts{Status: store.StatusInactive})
	}

	if err := r.driver.Stop(ctx, st.WorkerHandle); err != nil {
		log.Error().Err(err).Str("stream_id", id).Msg("reconciler: deactivate failed")
		return apperr.Transient("failed to stop worker", err)
	}
	return r.store.SetRuntimeFacts(ctx, id, store.RuntimeFacts{Status: store.StatusInactive})
}

// ApplyConfigChange recomputes the fingerprint after a declaration update
// and restarts the worker only if it changed (§4.3, §9's "restart-on-
// fingerprint-drift, not restart-on-any-write").
func (r *Reconciler) ApplyConfigChange(ctx context.Context, id string) error {
	lock := r.locks.lockFor(id)
	lock.Lock()
	defer lock.Unlock()

	st, err := r.store.GetStream(ctx, id)
	if err != nil {
		return err
	}
	if !st.IsActive || st.WorkerHandle == "" {
		return nil
	}

	spec := r.specFor(st)
	newFP := runtime.Fingerprint(spec)
	if newFP == st.ConfigFingerprint {
		return nil
	}

	return r.restartLocked(ctx, st, spec, newFP, "")
}

// restartLocked assumes the caller already holds the stream's lock. reason,
// when non-empty, is recorded as last_error alongside the restart outcome
// (§4.3: exited-worker log tail, or "worker vanished" for a missing handle).
func (r *Reconciler) restartLocked(ctx context.Context, st *store.Stream, spec runtime.StreamSpec, newFP, reason string) error {
	metrics.WorkerRestarts.WithLabelValues(st.ID).Inc()
	count, err := r.store.RecordRestart(ctx, st.ID, time.Minute)
	if err != nil {
		return err
	}
	if count > r.cfg.RestartRateLimit {
		msg := "restart rate limit exceeded"
		if reason != "" {
			msg = reason + "; " + msg
		}
		log.Warn().Str("stream_id", st.ID).Int("count", count).Msg("reconciler: " + msg)
		return r.store.SetRuntimeFacts(ctx, st.ID, store.RuntimeFacts{
			Handle: st.WorkerHandle, Status: store.StatusError, LastError: msg, ConfigFingerprint: st.ConfigFingerprint,
		})
	}

	if err := r.driver.Stop(ctx, st.WorkerHandle); err != nil {
		log.Warn().Err(err).Str("stream_id", st.ID).Msg("reconciler: restart stop failed, continuing")
	}
	handle, err := r.driver.Start(ctx, spec)
	if err != nil {
		lastErr := err.Error()
		if reason != "" {
			lastErr = reason + "; restart failed: " + lastErr
		}
		return r.store.SetRuntimeFacts(ctx, st.ID, store.RuntimeFacts{
			Status: store.StatusError, LastError: lastErr, ConfigFingerprint: newFP,
		})
	}
	now := time.Now().UTC()
	return r.store.SetRuntimeFacts(ctx, st.ID, store.RuntimeFacts{
		Handle: handle, StartedAt: &now, Status: store.StatusStarting, LastError: reason, ConfigFingerprint: newFP,
	})
}

// RefreshStatus inspects the driver and maps the observed state onto
// ConnectionStatus (§4.3's state table), restarting through the same
// rate-limited path when a worker has exited unexpectedly.
func (r *Reconciler) RefreshStatus(ctx context.Context, id string) error {
	lock := r.locks.lockFor(id)
	lock.Lock()
	defer lock.Unlock()

	st, err := r.store.GetStream(ctx, id)
	if err != nil {
		return err
	}
	if !st.IsActive || st.WorkerHandle == "" {
		return nil
	}

	res, err := r.driver.Inspect(ctx, st.WorkerHandle)
	if err != nil {
		log.Warn().Err(err).Str("stream_id", id).Msg("reconciler: inspect failed")
		return nil
	}

	switch res.State {
	case runtime.StateRunning:
		status := store.StatusStarting
		recent := false
		if r.frames != nil {
			if last, ok := r.frames.LastFrameAt(id); ok && time.Since(last) < r.cfg.StaleFrameWindow {
				recent = true
			}
		}
		switch {
		case recent:
			status = store.StatusConnected
		case st.WorkerStartTime != nil && time.Since(*st.WorkerStartTime) >= r.cfg.StreamStartGrace:
			status = store.StatusWorkerDown
		}
		return r.store.SetRuntimeFacts(ctx, id, store.RuntimeFacts{
			Handle: st.WorkerHandle, StartedAt: st.WorkerStartTime, Status: status, ConfigFingerprint: st.ConfigFingerprint,
		})

	case runtime.StateStarting:
		return r.store.SetRuntimeFacts(ctx, id, store.RuntimeFacts{
			Handle: st.WorkerHandle, StartedAt: st.WorkerStartTime, Status: store.StatusStarting, ConfigFingerprint: st.ConfigFingerprint,
		})

	case runtime.StateExited, runtime.StateMissing:
		reason := "worker vanished"
		if res.State == runtime.StateExited {
			reason = "worker exited"
			if lines, terr := r.driver.Tail(ctx, st.WorkerHandle, 20); terr == nil && len(lines) > 0 {
				reason = reason + ": " + strings.Join(lines, "\n")
			}
		}
		log.Warn().Str("stream_id", id).Str("state", string(res.State)).Msg("reconciler: worker down, attempting restart")
		spec := r.specFor(st)
		return r.restartLocked(ctx, st, spec, runtime.Fingerprint(spec), reason)

	default:
		return nil
	}
}

// Run walks every active stream once per tick until ctx is cancelled.
func (r *Reconciler) Run(ctx context.Context) {
	ticker := time.NewTicker(r.cfg.ReconcileInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			r.reconcileAll(ctx)
		}
	}
}

func (r *Reconciler) reconcileAll(ctx context.Context) {
	defer metrics.ReconcileIterations.Inc()

	streams, err := r.store.ListStreams(ctx)
	if err != nil {
		log.Error().Err(err).Msg("reconciler: list streams failed")
		return
	}
	active := 0
	for _, st := range streams {
		if !st.IsActive {
			continue
		}
		active++
		if err := r.RefreshStatus(ctx, st.ID); err != nil {
			log.Error().Err(err).Str("stream_id", st.ID).Msg("reconciler: refresh failed")
		}
	}
	metrics.ActiveStreams.Set(float64(active))
}

// Forget drops a stream's lock entry; call after DeleteStream succeeds.
func (r *Reconciler) Forget(id string) {
	r.locks.forget(id)
}
