package settingsmgr

import (
	"context"
	"errors"
	"testing"

	"github.com/flowgrid/flowplane/internal/store"
	"github.com/stretchr/testify/require"
)

type fakeStore struct {
	settings *store.Settings
	streams  []*store.Stream
}

func (f *fakeStore) GetSettings(ctx context.Context) (*store.Settings, error) {
	return f.settings, nil
}
func (f *fakeStore) UpdateSettings(ctx context.Context, upd store.SettingsUpdate) (*store.Settings, error) {
	if upd.LivePreviewFPS != nil {
		f.settings.LivePreviewFPS = *upd.LivePreviewFPS
	}
	return f.settings, nil
}
func (f *fakeStore) ListStreams(ctx context.Context) ([]*store.Stream, error) {
	return f.streams, nil
}

type fakeReconciler struct {
	applied []string
	failFor map[string]bool
}

func (r *fakeReconciler) ApplyConfigChange(ctx context.Context, id string) error {
	r.applied = append(r.applied, id)
	if r.failFor[id] {
		return errors.New("driver unavailable")
	}
	return nil
}

func TestCurrentFPSReflectsLoadedCache(t *testing.T) {
	fs := &fakeStore{settings: &store.Settings{LivePreviewFPS: 5}}
	m := New(fs, nil, "")
	require.NoError(t, m.Load(context.Background()))
	require.Equal(t, 5.0, m.CurrentFPS())
}

func TestCurrentFPSDefaultsToZeroBeforeLoad(t *testing.T) {
	m := New(&fakeStore{}, nil, "")
	require.Equal(t, 0.0, m.CurrentFPS())
}

func TestUpdateSettingsSkipsCascadeWithoutRestartFlag(t *testing.T) {
	fs := &fakeStore{settings: &store.Settings{LivePreviewFPS: 5}}
	rc := &fakeReconciler{}
	m := New(fs, rc, "")

	fps := 10.0
	_, outcomes, err := m.UpdateSettings(context.Background(), store.SettingsUpdate{LivePreviewFPS: &fps})
	require.NoError(t, err)
	require.Nil(t, outcomes)
	require.Empty(t, rc.applied)
	require.Equal(t, 10.0, m.CurrentFPS())
}

func TestUpdateSettingsCascadesToActiveStreamsOnly(t *testing.T) {
	fs := &fakeStore{
		settings: &store.Settings{LivePreviewFPS: 5},
		streams: []*store.Stream{
			{ID: "s1", IsActive: true},
			{ID: "s2", IsActive: false},
		},
	}
	rc := &fakeReconciler{}
	m := New(fs, rc, "")

	_, outcomes, err := m.UpdateSettings(context.Background(), store.SettingsUpdate{RestartWorkers: true})
	require.NoError(t, err)
	require.Empty(t, outcomes)
	require.Equal(t, []string{"s1"}, rc.applied)
}

func TestUpdateSettingsAggregatesPerStreamFailuresWithoutRollback(t *testing.T) {
	fs := &fakeStore{
		settings: &store.Settings{LivePreviewFPS: 5},
		streams: []*store.Stream{
			{ID: "s1", IsActive: true},
			{ID: "s2", IsActive: true},
		},
	}
	rc := &fakeReconciler{failFor: map[string]bool{"s2": true}}
	m := New(fs, rc, "")

	settings, outcomes, err := m.UpdateSettings(context.Background(), store.SettingsUpdate{RestartWorkers: true})
	require.NoError(t, err)
	require.NotNil(t, settings)
	require.Len(t, outcomes, 1)
	require.Equal(t, "s2", outcomes[0].StreamID)
	require.Contains(t, outcomes[0].Error, "driver unavailable")
	// s1 already succeeded and is not rolled back despite s2's failure.
	require.Contains(t, rc.applied, "s1")
}

func TestSetReconcilerRebindsAfterConstruction(t *testing.T) {
	m := New(&fakeStore{settings: &store.Settings{}}, nil, "")
	rc := &fakeReconciler{}
	m.SetReconciler(rc)
	require.Equal(t, rc, m.recon)
}
