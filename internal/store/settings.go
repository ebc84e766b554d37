package store

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/rs/zerolog/log"
)

// GetSettings returns the singleton row (§4.1).
func (s *Store) GetSettings(ctx context.Context) (*Settings, error) {
	const q = `SELECT live_preview_fps, live_preview_jpeg_quality, live_preview_max_width,
		orientation_offset_deg, updated_at FROM system_settings WHERE id = 1`
	var st Settings
	err := s.pool.QueryRow(ctx, q).Scan(
		&st.LivePreviewFPS, &st.LivePreviewJPEGQuality, &st.LivePreviewMaxWidth,
		&st.OrientationOffsetDeg, &st.UpdatedAt,
	)
	if err != nil {
		return nil, fmt.Errorf("get settings: %w", err)
	}
	return &st, nil
}

// UpdateSettings persists new values and fires a NOTIFY on the
// "flowplane_settings" channel in the same statement's transaction so the
// Settings Manager's LISTEN goroutine can replace its cached snapshot with
// the notified row (§4.8's "change notifications").
func (s *Store) UpdateSettings(ctx context.Context, upd SettingsUpdate) (*Settings, error) {
	if err := validateSettingsUpdate(&upd); err != nil {
		return nil, err
	}

	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return nil, fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback(ctx)

	const q = `UPDATE system_settings SET
		live_preview_fps = COALESCE($1, live_preview_fps),
		live_preview_jpeg_quality = COALESCE($2, live_preview_jpeg_quality),
		live_preview_max_width = COALESCE($3, live_preview_max_width),
		orientation_offset_deg = COALESCE($4, orientation_offset_deg),
		updated_at = now()
	WHERE id = 1
	RETURNING live_preview_fps, live_preview_jpeg_quality, live_preview_max_width,
		orientation_offset_deg, updated_at`

	var st Settings
	err = tx.QueryRow(ctx, q,
		upd.LivePreviewFPS, upd.LivePreviewJPEGQuality, upd.LivePreviewMaxWidth, upd.OrientationOffsetDeg,
	).Scan(&st.LivePreviewFPS, &st.LivePreviewJPEGQuality, &st.LivePreviewMaxWidth, &st.OrientationOffsetDeg, &st.UpdatedAt)
	if err != nil {
		return nil, fmt.Errorf("update settings: %w", err)
	}

	payload, _ := json.Marshal(st)
	if _, err := tx.Exec(ctx, `SELECT pg_notify('flowplane_settings', $1)`, string(payload)); err != nil {
		log.Error().Err(err).Msg("store: failed to notify settings change")
	}

	if err := tx.Commit(ctx); err != nil {
		return nil, fmt.Errorf("commit settings update: %w", err)
	}
	return &st, nil
}
