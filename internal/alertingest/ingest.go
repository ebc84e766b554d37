package alertingest

import (
	"context"
	"encoding/json"
	"time"

	"github.com/flowgrid/flowplane/internal/store"
	"github.com/rs/zerolog/log"
)

// Store is the subset of *store.Store the ingest path needs.
type Store interface {
	InsertAlertEvent(ctx context.Context, e store.AlertEvent) (int64, error)
	ListAlertEvents(ctx context.Context, limit int) ([]*store.AlertEvent, error)
	UpsertAlertGroupState(ctx context.Context, identifier string, resolved bool) (*store.AlertGroupState, error)
	ListAlertGroupStates(ctx context.Context) ([]*store.AlertGroupState, error)
}

type Ingester struct {
	store Store
}

func New(st Store) *Ingester {
	return &Ingester{store: st}
}

// Ingest inserts one AlertEvent per alert in the envelope, storing the
// envelope as re-encoded from Envelope as each event's raw payload; fields
// that Envelope and RawAlert do not declare are not kept. It never mutates
// AlertGroupState (§4.6: manual-
// override semantics are read-side only). Returns the count inserted.
func (ig *Ingester) Ingest(ctx context.Context, env Envelope) (int, error) {
	rawEnvelope, err := json.Marshal(env)
	if err != nil {
		return 0, err
	}

	n := 0
	for _, a := range env.Alerts {
		alertName := a.Labels["alertname"]
		severity := a.Labels["severity"]
		streamName := a.Labels["stream_name"]
		normSeverity := normalizeSeverity(severity)
		identifier := deriveIdentifier(a.Fingerprint, alertName, streamName, severity)

		labels, _ := json.Marshal(a.Labels)
		annotations, _ := json.Marshal(a.Annotations)

		startsAt, _ := time.Parse(time.RFC3339, a.StartsAt)
		var endsAt *time.Time
		if t, err := time.Parse(time.RFC3339, a.EndsAt); err == nil && !t.IsZero() {
			endsAt = &t
		}

		e := store.AlertEvent{
			Receiver:           env.Receiver,
			GroupKey:           env.GroupKey,
			NotificationStatus: env.Status,
			AlertStatus:        a.Status,
			AlertName:          alertName,
			AlertUID:           a.Fingerprint,
			Severity:           severity,
			SeverityNormalized: normSeverity,
			StreamName:         streamName,
			Fingerprint:        a.Fingerprint,
			Identifier:         identifier,
			Summary:            a.Annotations["summary"],
			Description:        a.Annotations["description"],
			StartsAt:           startsAt,
			EndsAt:             endsAt,
			RawPayload:         rawEnvelope,
			Labels:             labels,
			Annotations:        annotations,
			Values:             a.Values,
			ReceivedAt:         time.Now().UTC(),
		}

		if _, err := ig.store.InsertAlertEvent(ctx, e); err != nil {
			log.Error().Err(err).Str("identifier", identifier).Msg("alertingest: failed to insert alert event")
			return n, err
		}
		n++
	}
	return n, nil
}

func (ig *Ingester) SetGroupResolution(ctx context.Context, identifier string, resolved bool) (*store.AlertGroupState, error) {
	return ig.store.UpsertAlertGroupState(ctx, identifier, resolved)
}

func (ig *Ingester) ListGroupStates(ctx context.Context) ([]*store.AlertGroupState, error) {
	return ig.store.ListAlertGroupStates(ctx)
}

func (ig *Ingester) ListEvents(ctx context.Context, limit int) ([]*store.AlertEvent, error) {
	return ig.store.ListAlertEvents(ctx, limit)
}
