package store

import (
	"context"
	"fmt"
)

// InsertAlertEvent appends one alert event; the envelope JSON it carries is
// stored in a JSONB column per §9's "tagged-variant-on-read, not schema-on-write".
func (s *Store) InsertAlertEvent(ctx context.Context, e AlertEvent) (int64, error) {
	const q = `INSERT INTO alert_events (
		receiver, group_key, notification_status, alert_status, alert_name, alert_uid,
		severity, severity_normalized, stream_name, fingerprint, identifier, summary,
		description, starts_at, ends_at, raw_payload, labels, annotations, values, received_at
	) VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13,$14,$15,$16,$17,$18,$19,$20)
	RETURNING id`
	var id int64
	err := s.pool.QueryRow(ctx, q,
		e.Receiver, e.GroupKey, e.NotificationStatus, e.AlertStatus, e.AlertName, e.AlertUID,
		e.Severity, e.SeverityNormalized, e.StreamName, e.Fingerprint, e.Identifier, e.Summary,
		e.Description, e.StartsAt, e.EndsAt, e.RawPayload, e.Labels, e.Annotations, e.Values, e.ReceivedAt,
	).Scan(&id)
	if err != nil {
		return 0, fmt.Errorf("insert alert event: %w", err)
	}
	return id, nil
}

// ListAlertEvents returns the most recent events, newest first (§3 index).
func (s *Store) ListAlertEvents(ctx context.Context, limit int) ([]*AlertEvent, error) {
	if limit <= 0 {
		limit = 100
	}
	const q = `SELECT id, receiver, group_key, notification_status, alert_status, alert_name,
		alert_uid, severity, severity_normalized, stream_name, fingerprint, identifier, summary,
		description, starts_at, ends_at, raw_payload, labels, annotations, values, received_at
	FROM alert_events ORDER BY received_at DESC LIMIT $1`
	rows, err := s.pool.Query(ctx, q, limit)
	if err != nil {
		return nil, fmt.Errorf("list alert events: %w", err)
	}
	defer rows.Close()

	var out []*AlertEvent
	for rows.Next() {
		var e AlertEvent
		if err := rows.Scan(
			&e.ID, &e.Receiver, &e.GroupKey, &e.NotificationStatus, &e.AlertStatus, &e.AlertName,
			&e.AlertUID, &e.Severity, &e.SeverityNormalized, &e.StreamName, &e.Fingerprint, &e.Identifier,
			&e.Summary, &e.Description, &e.StartsAt, &e.EndsAt, &e.RawPayload, &e.Labels, &e.Annotations,
			&e.Values, &e.ReceivedAt,
		); err != nil {
			return nil, fmt.Errorf("scan alert event: %w", err)
		}
		out = append(out, &e)
	}
	return out, rows.Err()
}

// UpsertAlertGroupState records a manual resolution override (§3, §4.6).
func (s *Store) UpsertAlertGroupState(ctx context.Context, identifier string, resolved bool) (*AlertGroupState, error) {
	const q = `INSERT INTO alert_group_states (identifier, resolved, resolved_at, updated_at)
		VALUES ($1, $2, CASE WHEN $2 THEN now() ELSE NULL END, now())
		ON CONFLICT (identifier) DO UPDATE SET
			resolved = EXCLUDED.resolved,
			resolved_at = EXCLUDED.resolved_at,
			updated_at = now()
		RETURNING identifier, resolved, resolved_at, updated_at`
	var st AlertGroupState
	err := s.pool.QueryRow(ctx, q, identifier, resolved).Scan(&st.Identifier, &st.Resolved, &st.ResolvedAt, &st.UpdatedAt)
	if err != nil {
		return nil, fmt.Errorf("upsert alert group state: %w", err)
	}
	return &st, nil
}

// ListAlertGroupStates returns every manual resolution record (§4.1).
func (s *Store) ListAlertGroupStates(ctx context.Context) ([]*AlertGroupState, error) {
	const q = `SELECT identifier, resolved, resolved_at, updated_at FROM alert_group_states`
	rows, err := s.pool.Query(ctx, q)
	if err != nil {
		return nil, fmt.Errorf("list alert group states: %w", err)
	}
	defer rows.Close()

	var out []*AlertGroupState
	for rows.Next() {
		var st AlertGroupState
		if err := rows.Scan(&st.Identifier, &st.Resolved, &st.ResolvedAt, &st.UpdatedAt); err != nil {
			return nil, fmt.Errorf("scan alert group state: %w", err)
		}
		out = append(out, &st)
	}
	return out, rows.Err()
}
