package alertingest

import (
	"context"
	"testing"
	"time"

	"github.com/flowgrid/flowplane/internal/store"
	"github.com/stretchr/testify/require"
)

type fakeStore struct {
	events []*store.AlertEvent
	states []*store.AlertGroupState
}

func (f *fakeStore) InsertAlertEvent(ctx context.Context, e store.AlertEvent) (int64, error) {
	e.ID = int64(len(f.events) + 1)
	f.events = append([]*store.AlertEvent{&e}, f.events...)
	return e.ID, nil
}
func (f *fakeStore) ListAlertEvents(ctx context.Context, limit int) ([]*store.AlertEvent, error) {
	return f.events, nil
}
func (f *fakeStore) UpsertAlertGroupState(ctx context.Context, identifier string, resolved bool) (*store.AlertGroupState, error) {
	now := time.Now().UTC()
	st := &store.AlertGroupState{Identifier: identifier, Resolved: resolved, UpdatedAt: now}
	if resolved {
		st.ResolvedAt = &now
	}
	f.states = append(f.states, st)
	return st, nil
}
func (f *fakeStore) ListAlertGroupStates(ctx context.Context) ([]*store.AlertGroupState, error) {
	return f.states, nil
}

func TestGroupsResolvedOverrideHoldsUntilNewerFiringEvent(t *testing.T) {
	fs := &fakeStore{}
	ig := New(fs)
	ctx := context.Background()

	t0 := time.Now().UTC().Add(-time.Hour)
	fs.events = append(fs.events, &store.AlertEvent{
		Identifier: "F1", AlertStatus: "firing", SeverityNormalized: "critical", ReceivedAt: t0,
	})

	groups, err := ig.Groups(ctx)
	require.NoError(t, err)
	require.Len(t, groups, 1)
	require.Equal(t, "firing", groups[0].EffectiveStatus)

	resolveTime := time.Now().UTC().Add(-30 * time.Minute)
	fs.states = append(fs.states, &store.AlertGroupState{Identifier: "F1", Resolved: true, ResolvedAt: &resolveTime})

	groups, err = ig.Groups(ctx)
	require.NoError(t, err)
	require.Equal(t, "resolved", groups[0].EffectiveStatus)

	// A newer firing event after the manual resolve invalidates the override.
	fs.events = append([]*store.AlertEvent{{
		Identifier: "F1", AlertStatus: "firing", SeverityNormalized: "critical", ReceivedAt: time.Now().UTC(),
	}}, fs.events...)

	groups, err = ig.Groups(ctx)
	require.NoError(t, err)
	require.Equal(t, "firing", groups[0].EffectiveStatus)
}

func TestIngestInsertsOneEventPerAlert(t *testing.T) {
	fs := &fakeStore{}
	ig := New(fs)

	env := Envelope{
		Receiver: "flowplane",
		Status:   "firing",
		Alerts: []RawAlert{
			{Status: "firing", Labels: map[string]string{"alertname": "A", "severity": "critical"}, Fingerprint: "f1"},
			{Status: "firing", Labels: map[string]string{"alertname": "B", "severity": "warning"}, Fingerprint: "f2"},
		},
	}
	n, err := ig.Ingest(context.Background(), env)
	require.NoError(t, err)
	require.Equal(t, 2, n)
	require.Len(t, fs.events, 2)
}
