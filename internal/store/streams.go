package store

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/flowgrid/flowplane/internal/apperr"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
)

const streamColumns = `id, source, latitude, longitude, orientation_deg, view_angle_deg,
	view_distance_m, tilt_deg, mount_height_m, location_label, grid_size_px,
	window_radius_px, magnitude_threshold, arrow_scale, arrow_opacity_pct,
	gradient_intensity, ruler_opacity_pct, show_raw_feed, show_arrows,
	show_magnitude, show_trails, show_perspective_ruler, is_active,
	worker_handle, worker_start_time, last_error, connection_status,
	config_fingerprint, restart_count, restart_count_window_start, created_at`

func scanStream(row pgx.Row) (*Stream, error) {
	var s Stream
	var workerHandle *string
	err := row.Scan(
		&s.ID, &s.Source, &s.Latitude, &s.Longitude, &s.OrientationDeg, &s.ViewAngleDeg,
		&s.ViewDistanceM, &s.TiltDeg, &s.MountHeightM, &s.LocationLabel, &s.GridSizePx,
		&s.WindowRadiusPx, &s.MagnitudeThresh, &s.ArrowScale, &s.ArrowOpacityPct,
		&s.GradientIntensity, &s.RulerOpacityPct, &s.ShowRawFeed, &s.ShowArrows,
		&s.ShowMagnitude, &s.ShowTrails, &s.ShowPerspectiveRuler, &s.IsActive,
		&workerHandle, &s.WorkerStartTime, &s.LastError, &s.ConnectionStatus,
		&s.ConfigFingerprint, &s.RestartCount, &s.RestartCountWindowStart, &s.CreatedAt,
	)
	if err != nil {
		return nil, err
	}
	if workerHandle != nil {
		s.WorkerHandle = *workerHandle
	}
	return &s, nil
}

// CreateStream validates, defaults, assigns identity and inserts (§4.1).
// is_active=true in the declaration does not start a worker; that is the
// Reconciler's job, invoked by the caller after commit.
func (s *Store) CreateStream(ctx context.Context, decl StreamDecl) (*Stream, error) {
	if err := validateStreamDecl(&decl); err != nil {
		return nil, err
	}
	applyDefaults(&decl)

	id := uuid.New().String()
	const q = `INSERT INTO streams (
		id, source, latitude, longitude, orientation_deg, view_angle_deg,
		view_distance_m, tilt_deg, mount_height_m, location_label, grid_size_px,
		window_radius_px, magnitude_threshold, arrow_scale, arrow_opacity_pct,
		gradient_intensity, ruler_opacity_pct, show_raw_feed, show_arrows,
		show_magnitude, show_trails, show_perspective_ruler, is_active,
		connection_status
	) VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13,$14,$15,$16,$17,$18,$19,$20,$21,$22,$23,$24)
	RETURNING ` + streamColumns

	row := s.pool.QueryRow(ctx, q,
		id, decl.Source, decl.Latitude, decl.Longitude, *decl.OrientationDeg, *decl.ViewAngleDeg,
		*decl.ViewDistanceM, *decl.TiltDeg, *decl.MountHeightM, decl.LocationLabel, *decl.GridSizePx,
		*decl.WindowRadiusPx, *decl.MagnitudeThresh, *decl.ArrowScale, *decl.ArrowOpacityPct,
		*decl.GradientIntensity, *decl.RulerOpacityPct, decl.ShowRawFeed, decl.ShowArrows,
		decl.ShowMagnitude, decl.ShowTrails, decl.ShowPerspectiveRuler, decl.IsActive,
		StatusInactive,
	)
	st, err := scanStream(row)
	if err != nil {
		return nil, fmt.Errorf("create stream: %w", err)
	}
	return st, nil
}

// GetStream returns a stream by id (§4.1).
func (s *Store) GetStream(ctx context.Context, id string) (*Stream, error) {
	const q = `SELECT ` + streamColumns + ` FROM streams WHERE id = $1`
	st, err := scanStream(s.pool.QueryRow(ctx, q, id))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, apperr.NotFound("stream not found")
	}
	if err != nil {
		return nil, fmt.Errorf("get stream: %w", err)
	}
	return st, nil
}

// ListStreams returns every declared stream (§4.1).
func (s *Store) ListStreams(ctx context.Context) ([]*Stream, error) {
	const q = `SELECT ` + streamColumns + ` FROM streams ORDER BY created_at`
	rows, err := s.pool.Query(ctx, q)
	if err != nil {
		return nil, fmt.Errorf("list streams: %w", err)
	}
	defer rows.Close()

	var out []*Stream
	for rows.Next() {
		st, err := scanStream(rows)
		if err != nil {
			return nil, fmt.Errorf("scan stream: %w", err)
		}
		out = append(out, st)
	}
	return out, rows.Err()
}

// UpdateStream fully replaces the mutable fields and returns the pre-update
// snapshot so the caller (Reconciler) can diff configs (§4.1).
func (s *Store) UpdateStream(ctx context.Context, id string, decl StreamDecl) (before *Stream, after *Stream, err error) {
	if err := validateStreamDecl(&decl); err != nil {
		return nil, nil, err
	}
	applyDefaults(&decl)

	before, err = s.GetStream(ctx, id)
	if err != nil {
		return nil, nil, err
	}

	const q = `UPDATE streams SET
		source=$2, latitude=$3, longitude=$4, orientation_deg=$5, view_angle_deg=$6,
		view_distance_m=$7, tilt_deg=$8, mount_height_m=$9, location_label=$10,
		grid_size_px=$11, window_radius_px=$12, magnitude_threshold=$13, arrow_scale=$14,
		arrow_opacity_pct=$15, gradient_intensity=$16, ruler_opacity_pct=$17,
		show_raw_feed=$18, show_arrows=$19, show_magnitude=$20, show_trails=$21,
		show_perspective_ruler=$22, is_active=$23
	WHERE id=$1
	RETURNING ` + streamColumns

	row := s.pool.QueryRow(ctx, q,
		id, decl.Source, decl.Latitude, decl.Longitude, *decl.OrientationDeg, *decl.ViewAngleDeg,
		*decl.ViewDistanceM, *decl.TiltDeg, *decl.MountHeightM, decl.LocationLabel, *decl.GridSizePx,
		*decl.WindowRadiusPx, *decl.MagnitudeThresh, *decl.ArrowScale, *decl.ArrowOpacityPct,
		*decl.GradientIntensity, *decl.RulerOpacityPct, decl.ShowRawFeed, decl.ShowArrows,
		decl.ShowMagnitude, decl.ShowTrails, decl.ShowPerspectiveRuler, decl.IsActive,
	)
	after, err = scanStream(row)
	if err != nil {
		return nil, nil, fmt.Errorf("update stream: %w", err)
	}
	return before, after, nil
}

// DeleteStream fails with Conflict if a worker handle is still attached;
// the caller must deactivate first (§4.1).
func (s *Store) DeleteStream(ctx context.Context, id string) error {
	st, err := s.GetStream(ctx, id)
	if err != nil {
		return err
	}
	if st.WorkerHandle != "" {
		return apperr.Conflict("stream still has an attached worker; deactivate first")
	}
	tag, err := s.pool.Exec(ctx, `DELETE FROM streams WHERE id = $1`, id)
	if err != nil {
		return fmt.Errorf("delete stream: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return apperr.NotFound("stream not found")
	}
	return nil
}

// SetRuntimeFacts is a partial update used exclusively by the Reconciler
// (§4.1, §4.3).
func (s *Store) SetRuntimeFacts(ctx context.Context, id string, facts RuntimeFacts) error {
	var handle *string
	if facts.Handle != "" {
		handle = &facts.Handle
	}
	const q = `UPDATE streams SET
		worker_handle = $2, worker_start_time = $3, last_error = $4,
		connection_status = $5, config_fingerprint = $6
	WHERE id = $1`
	_, err := s.pool.Exec(ctx, q, id, handle, facts.StartedAt, facts.LastError, facts.Status, facts.ConfigFingerprint)
	if err != nil {
		return fmt.Errorf("set runtime facts: %w", err)
	}
	return nil
}

// RecordRestart increments the fixed-window restart counter used by the
// permanent-failure rate limit (§7: no more than N restarts per minute).
// The window starts at the first restart and resets once it is older than
// window. It returns the count within the current window after incrementing.
func (s *Store) RecordRestart(ctx context.Context, id string, window time.Duration) (int, error) {
	const q = `UPDATE streams SET
		restart_count = CASE
			WHEN restart_count_window_start IS NULL OR now() - restart_count_window_start > $2
				THEN 1
			ELSE restart_count + 1
		END,
		restart_count_window_start = CASE
			WHEN restart_count_window_start IS NULL OR now() - restart_count_window_start > $2
				THEN now()
			ELSE restart_count_window_start
		END
	WHERE id = $1
	RETURNING restart_count`
	var count int
	if err := s.pool.QueryRow(ctx, q, id, window).Scan(&count); err != nil {
		return 0, fmt.Errorf("record restart: %w", err)
	}
	return count, nil
}
