package reconcile

import (
	"context"
	"testing"
	"time"

	"github.com/flowgrid/flowplane/internal/apperr"
	"github.com/flowgrid/flowplane/internal/config"
	"github.com/flowgrid/flowplane/internal/runtime"
	"github.com/flowgrid/flowplane/internal/store"
	"github.com/stretchr/testify/require"
)

type fakeStore struct {
	streams      map[string]*store.Stream
	restartCount int
}

func newFakeStore(streams ...*store.Stream) *fakeStore {
	m := make(map[string]*store.Stream, len(streams))
	for _, s := range streams {
		m[s.ID] = s
	}
	return &fakeStore{streams: m}
}

func (f *fakeStore) GetStream(ctx context.Context, id string) (*store.Stream, error) {
	st, ok := f.streams[id]
	if !ok {
		return nil, apperr.NotFound("stream not found")
	}
	cp := *st
	return &cp, nil
}

func (f *fakeStore) ListStreams(ctx context.Context) ([]*store.Stream, error) {
	out := make([]*store.Stream, 0, len(f.streams))
	for _, s := range f.streams {
		out = append(out, s)
	}
	return out, nil
}

func (f *fakeStore) SetRuntimeFacts(ctx context.Context, id string, facts store.RuntimeFacts) error {
	st, ok := f.streams[id]
	if !ok {
		return apperr.NotFound("stream not found")
	}
	st.WorkerHandle = facts.Handle
	st.WorkerStartTime = facts.StartedAt
	st.LastError = facts.LastError
	st.ConnectionStatus = facts.Status
	st.ConfigFingerprint = facts.ConfigFingerprint
	return nil
}

func (f *fakeStore) RecordRestart(ctx context.Context, id string, window time.Duration) (int, error) {
	f.restartCount++
	return f.restartCount, nil
}

type fakeDriver struct {
	startCalls int
	stopCalls  int
	state      runtime.WorkerState
	startErr   error
	tailErr    error
	tailLines  []string
}

func (d *fakeDriver) Start(ctx context.Context, spec runtime.StreamSpec) (string, error) {
	d.startCalls++
	if d.startErr != nil {
		return "", d.startErr
	}
	return runtime.HandleFor(spec.ID), nil
}
func (d *fakeDriver) Stop(ctx context.Context, handle string) error {
	d.stopCalls++
	return nil
}
func (d *fakeDriver) Inspect(ctx context.Context, handle string) (runtime.InspectResult, error) {
	return runtime.InspectResult{State: d.state}, nil
}
func (d *fakeDriver) Tail(ctx context.Context, handle string, n int) ([]string, error) {
	if d.tailErr != nil {
		return nil, d.tailErr
	}
	return d.tailLines, nil
}

type fakeSettings struct{ fps float64 }

func (f fakeSettings) CurrentFPS() float64 { return f.fps }

type fakeFrames struct {
	lastSeen map[string]time.Time
}

func (f fakeFrames) LastFrameAt(streamID string) (time.Time, bool) {
	t, ok := f.lastSeen[streamID]
	return t, ok
}

func testCfg() config.RuntimeConfig {
	return config.RuntimeConfig{
		WorkerImage:      "flowplane/optical-flow-worker:latest",
		StreamStartGrace: 30 * time.Second,
		RestartRateLimit: 3,
		StaleFrameWindow: 15 * time.Second,
	}
}

func TestActivateSetsStartingStatus(t *testing.T) {
	st := &store.Stream{ID: "s1", Source: "rtsp://cam/1", IsActive: true}
	fs := newFakeStore(st)
	fd := &fakeDriver{}
	r := New(fs, fd, testCfg(), fakeSettings{fps: 5}, "redis://pubsub", "http://metrics", "postgres://ro")

	err := r.Activate(context.Background(), "s1")
	require.NoError(t, err)
	require.Equal(t, 1, fd.startCalls)
	require.Equal(t, store.StatusStarting, fs.streams["s1"].ConnectionStatus)
	require.NotEmpty(t, fs.streams["s1"].WorkerHandle)
}

func TestDeactivateIsIdempotentWithoutHandle(t *testing.T) {
	st := &store.Stream{ID: "s1", Source: "rtsp://cam/1"}
	fs := newFakeStore(st)
	fd := &fakeDriver{}
	r := New(fs, fd, testCfg(), fakeSettings{}, "", "", "")

	err := r.Deactivate(context.Background(), "s1")
	require.NoError(t, err)
	require.Equal(t, 0, fd.stopCalls)
	require.Equal(t, store.StatusInactive, fs.streams["s1"].ConnectionStatus)
}

func TestApplyConfigChangeSkipsWhenFingerprintUnchanged(t *testing.T) {
	st := &store.Stream{ID: "s1", Source: "rtsp://cam/1", IsActive: true, WorkerHandle: "worker-s1"}
	spec := runtime.StreamSpec{ID: "s1", Source: "rtsp://cam/1"}
	st.ConfigFingerprint = runtime.Fingerprint(spec)

	fs := newFakeStore(st)
	fd := &fakeDriver{}
	r := New(fs, fd, testCfg(), fakeSettings{}, "", "", "")

	err := r.ApplyConfigChange(context.Background(), "s1")
	require.NoError(t, err)
	require.Equal(t, 0, fd.stopCalls)
	require.Equal(t, 0, fd.startCalls)
}

func TestApplyConfigChangeRestartsOnFingerprintDrift(t *testing.T) {
	st := &store.Stream{ID: "s1", Source: "rtsp://cam/1", IsActive: true, WorkerHandle: "worker-s1", ConfigFingerprint: "stale"}
	fs := newFakeStore(st)
	fd := &fakeDriver{}
	r := New(fs, fd, testCfg(), fakeSettings{}, "", "", "")

	err := r.ApplyConfigChange(context.Background(), "s1")
	require.NoError(t, err)
	require.Equal(t, 1, fd.stopCalls)
	require.Equal(t, 1, fd.startCalls)
	require.Equal(t, store.StatusStarting, fs.streams["s1"].ConnectionStatus)
}

func TestRestartRateLimitEnforced(t *testing.T) {
	st := &store.Stream{ID: "s1", Source: "rtsp://cam/1", IsActive: true, WorkerHandle: "worker-s1", ConfigFingerprint: "stale"}
	fs := newFakeStore(st)
	fs.restartCount = 3 // already at the limit
	fd := &fakeDriver{}
	r := New(fs, fd, testCfg(), fakeSettings{}, "", "", "")

	err := r.ApplyConfigChange(context.Background(), "s1")
	require.NoError(t, err)
	require.Equal(t, store.StatusError, fs.streams["s1"].ConnectionStatus)
	require.Equal(t, 0, fd.stopCalls, "rate-limited restart must not call the driver")
}

func TestRefreshStatusPromotesToConnectedOnRecentFrame(t *testing.T) {
	started := time.Now().UTC().Add(-time.Minute)
	st := &store.Stream{ID: "s1", Source: "rtsp://cam/1", IsActive: true, WorkerHandle: "worker-s1", WorkerStartTime: &started}
	fs := newFakeStore(st)
	fd := &fakeDriver{state: runtime.StateRunning}
	r := New(fs, fd, testCfg(), fakeSettings{}, "", "", "")
	r.SetFrameActivity(fakeFrames{lastSeen: map[string]time.Time{"s1": time.Now()}})

	err := r.RefreshStatus(context.Background(), "s1")
	require.NoError(t, err)
	require.Equal(t, store.StatusConnected, fs.streams["s1"].ConnectionStatus)
}

func TestRefreshStatusMarksWorkerDownWithoutRecentFrameAfterGracePeriod(t *testing.T) {
	started := time.Now().UTC().Add(-time.Minute)
	st := &store.Stream{ID: "s1", Source: "rtsp://cam/1", IsActive: true, WorkerHandle: "worker-s1", WorkerStartTime: &started}
	fs := newFakeStore(st)
	fd := &fakeDriver{state: runtime.StateRunning}
	r := New(fs, fd, testCfg(), fakeSettings{}, "", "", "")
	r.SetFrameActivity(fakeFrames{lastSeen: map[string]time.Time{}})

	err := r.RefreshStatus(context.Background(), "s1")
	require.NoError(t, err)
	require.Equal(t, store.StatusWorkerDown, fs.streams["s1"].ConnectionStatus)
}

func TestRefreshStatusStaysStartingWithinGracePeriodAndNoFrame(t *testing.T) {
	started := time.Now().UTC()
	st := &store.Stream{ID: "s1", Source: "rtsp://cam/1", IsActive: true, WorkerHandle: "worker-s1", WorkerStartTime: &started}
	fs := newFakeStore(st)
	fd := &fakeDriver{state: runtime.StateRunning}
	r := New(fs, fd, testCfg(), fakeSettings{}, "", "", "")

	err := r.RefreshStatus(context.Background(), "s1")
	require.NoError(t, err)
	require.Equal(t, store.StatusStarting, fs.streams["s1"].ConnectionStatus)
}

func TestRefreshStatusRestartsExitedWorker(t *testing.T) {
	st := &store.Stream{ID: "s1", Source: "rtsp://cam/1", IsActive: true, WorkerHandle: "worker-s1"}
	fs := newFakeStore(st)
	fd := &fakeDriver{state: runtime.StateExited}
	r := New(fs, fd, testCfg(), fakeSettings{}, "", "", "")

	err := r.RefreshStatus(context.Background(), "s1")
	require.NoError(t, err)
	require.Equal(t, 1, fd.startCalls)
}

func TestRefreshStatusRecordsTailOutputAsLastErrorForExitedWorker(t *testing.T) {
	st := &store.Stream{ID: "s1", Source: "rtsp://cam/1", IsActive: true, WorkerHandle: "worker-s1"}
	fs := newFakeStore(st)
	fd := &fakeDriver{state: runtime.StateExited, tailLines: []string{"panic: out of memory", "goroutine 1 [running]:"}}
	r := New(fs, fd, testCfg(), fakeSettings{}, "", "", "")

	err := r.RefreshStatus(context.Background(), "s1")
	require.NoError(t, err)
	require.Contains(t, fs.streams["s1"].LastError, "worker exited")
	require.Contains(t, fs.streams["s1"].LastError, "panic: out of memory")
}

func TestRefreshStatusRecordsVanishedReasonForMissingWorker(t *testing.T) {
	st := &store.Stream{ID: "s1", Source: "rtsp://cam/1", IsActive: true, WorkerHandle: "worker-s1"}
	fs := newFakeStore(st)
	fd := &fakeDriver{state: runtime.StateMissing}
	r := New(fs, fd, testCfg(), fakeSettings{}, "", "", "")

	err := r.RefreshStatus(context.Background(), "s1")
	require.NoError(t, err)
	require.Equal(t, "worker vanished", fs.streams["s1"].LastError)
}

func TestActivateIsNoOpWhenHandleAndFingerprintUnchanged(t *testing.T) {
	spec := runtime.StreamSpec{ID: "s1", Source: "rtsp://cam/1"}
	st := &store.Stream{ID: "s1", Source: "rtsp://cam/1", IsActive: true, WorkerHandle: "worker-s1", ConfigFingerprint: runtime.Fingerprint(spec)}
	fs := newFakeStore(st)
	fd := &fakeDriver{}
	r := New(fs, fd, testCfg(), fakeSettings{}, "", "", "")

	err := r.Activate(context.Background(), "s1")
	require.NoError(t, err)
	require.Equal(t, 0, fd.startCalls)
	require.Equal(t, "worker-s1", fs.streams["s1"].WorkerHandle)
}

func TestActivateRestartsWhenFingerprintChangedDespiteExistingHandle(t *testing.T) {
	st := &store.Stream{ID: "s1", Source: "rtsp://cam/1", IsActive: true, WorkerHandle: "worker-s1", ConfigFingerprint: "stale"}
	fs := newFakeStore(st)
	fd := &fakeDriver{}
	r := New(fs, fd, testCfg(), fakeSettings{}, "", "", "")

	err := r.Activate(context.Background(), "s1")
	require.NoError(t, err)
	require.Equal(t, 1, fd.stopCalls)
	require.Equal(t, 1, fd.startCalls)
}

func TestForgetReleasesLockEntry(t *testing.T) {
	fs := newFakeStore(&store.Stream{ID: "s1"})
	r := New(fs, &fakeDriver{}, testCfg(), fakeSettings{}, "", "", "")
	_ = r.locks.lockFor("s1")
	r.Forget("s1")
	// forget must not panic and a subsequent lookup creates a fresh lock.
	require.NotNil(t, r.locks.lockFor("s1"))
}
