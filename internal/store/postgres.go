package store

import (
	"context"
	"fmt"

	"github.com/flowgrid/flowplane/internal/config"
	"github.com/jackc/pgx/v5/pgxpool"
	_ "github.com/lib/pq" // registers the "postgres" database/sql driver for pq.Listener
	"github.com/rs/zerolog/log"
)

// Store wraps a pgx connection pool and keeps its DSN; it opens no
// listener itself (the Settings Manager runs the lib/pq LISTEN/NOTIFY
// listener for change notifications, §4.8).
type Store struct {
	pool *pgxpool.Pool
	dsn  string
}

// New opens the pgx pool, pings it, and bootstraps the schema idempotently
// (§6.5: create-if-absent, add-if-absent) so the process can start against a
// pre-populated database of an earlier schema version.
func New(ctx context.Context, cfg *config.DatabaseConfig) (*Store, error) {
	dsn := cfg.GetDSN()
	pool, err := pgxpool.New(ctx, dsn)
	if err != nil {
		return nil, fmt.Errorf("open pgx pool: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("ping database: %w", err)
	}
	s := &Store{pool: pool, dsn: dsn}
	if err := s.bootstrapSchema(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("bootstrap schema: %w", err)
	}
	log.Info().Msg("store: schema bootstrap complete")
	return s, nil
}

func (s *Store) Close() {
	s.pool.Close()
}

// DSN exposes the connection string for the settings LISTEN/NOTIFY listener,
// which is built on lib/pq's database/sql driver rather than pgx.
func (s *Store) DSN() string { return s.dsn }

func (s *Store) bootstrapSchema(ctx context.Context) error {
	stmts := []string{
		`CREATE TABLE IF NOT EXISTS streams (
			id TEXT PRIMARY KEY,
			source TEXT NOT NULL,
			latitude DOUBLE PRECISION,
			longitude DOUBLE PRECISION,
			orientation_deg DOUBLE PRECISION NOT NULL DEFAULT 0,
			view_angle_deg DOUBLE PRECISION NOT NULL DEFAULT 60,
			view_distance_m DOUBLE PRECISION NOT NULL DEFAULT 200,
			tilt_deg DOUBLE PRECISION NOT NULL DEFAULT 0,
			mount_height_m DOUBLE PRECISION NOT NULL DEFAULT 3,
			location_label TEXT NOT NULL DEFAULT '',
			grid_size_px INTEGER NOT NULL DEFAULT 16,
			window_radius_px INTEGER NOT NULL DEFAULT 8,
			magnitude_threshold DOUBLE PRECISION NOT NULL DEFAULT 5,
			arrow_scale DOUBLE PRECISION NOT NULL DEFAULT 1,
			arrow_opacity_pct DOUBLE PRECISION NOT NULL DEFAULT 100,
			gradient_intensity DOUBLE PRECISION NOT NULL DEFAULT 1,
			ruler_opacity_pct DOUBLE PRECISION NOT NULL DEFAULT 60,
			show_raw_feed BOOLEAN NOT NULL DEFAULT true,
			show_arrows BOOLEAN NOT NULL DEFAULT true,
			show_magnitude BOOLEAN NOT NULL DEFAULT false,
			show_trails BOOLEAN NOT NULL DEFAULT false,
			show_perspective_ruler BOOLEAN NOT NULL DEFAULT false,
			is_active BOOLEAN NOT NULL DEFAULT false,
			worker_handle TEXT,
			worker_start_time TIMESTAMPTZ,
			last_error TEXT NOT NULL DEFAULT '',
			connection_status TEXT NOT NULL DEFAULT 'inactive',
			config_fingerprint TEXT NOT NULL DEFAULT '',
			restart_count INTEGER NOT NULL DEFAULT 0,
			restart_count_window_start TIMESTAMPTZ,
			created_at TIMESTAMPTZ NOT NULL DEFAULT now()
		)`,
		`CREATE UNIQUE INDEX IF NOT EXISTS streams_worker_handle_uniq ON streams (worker_handle) WHERE worker_handle IS NOT NULL AND worker_handle <> ''`,
		`ALTER TABLE streams ADD COLUMN IF NOT EXISTS config_fingerprint TEXT NOT NULL DEFAULT ''`,
		`ALTER TABLE streams ADD COLUMN IF NOT EXISTS restart_count INTEGER NOT NULL DEFAULT 0`,
		`ALTER TABLE streams ADD COLUMN IF NOT EXISTS restart_count_window_start TIMESTAMPTZ`,
		`CREATE TABLE IF NOT EXISTS system_settings (
			id INTEGER PRIMARY KEY DEFAULT 1,
			live_preview_fps DOUBLE PRECISION NOT NULL DEFAULT 10,
			live_preview_jpeg_quality INTEGER NOT NULL DEFAULT 70,
			live_preview_max_width INTEGER NOT NULL DEFAULT 0,
			orientation_offset_deg DOUBLE PRECISION NOT NULL DEFAULT 0,
			updated_at TIMESTAMPTZ NOT NULL DEFAULT now(),
			CHECK (id = 1)
		)`,
		`INSERT INTO system_settings (id) VALUES (1) ON CONFLICT (id) DO NOTHING`,
		`CREATE TABLE IF NOT EXISTS alert_events (
			id BIGSERIAL PRIMARY KEY,
			receiver TEXT NOT NULL DEFAULT '',
			group_key TEXT NOT NULL DEFAULT '',
			notification_status TEXT NOT NULL DEFAULT '',
			alert_status TEXT NOT NULL DEFAULT '',
			alert_name TEXT NOT NULL DEFAULT '',
			alert_uid TEXT NOT NULL DEFAULT '',
			severity TEXT NOT NULL DEFAULT '',
			severity_normalized TEXT NOT NULL DEFAULT '',
			stream_name TEXT NOT NULL DEFAULT '',
			fingerprint TEXT NOT NULL DEFAULT '',
			identifier TEXT NOT NULL,
			summary TEXT NOT NULL DEFAULT '',
			description TEXT NOT NULL DEFAULT '',
			starts_at TIMESTAMPTZ,
			ends_at TIMESTAMPTZ,
			raw_payload JSONB NOT NULL DEFAULT '{}'::jsonb,
			labels JSONB NOT NULL DEFAULT '{}'::jsonb,
			annotations JSONB NOT NULL DEFAULT '{}'::jsonb,
			values JSONB,
			received_at TIMESTAMPTZ NOT NULL DEFAULT now()
		)`,
		`ALTER TABLE alert_events ADD COLUMN IF NOT EXISTS severity_normalized TEXT NOT NULL DEFAULT ''`,
		`CREATE INDEX IF NOT EXISTS alert_events_received_at_idx ON alert_events (received_at DESC)`,
		`CREATE INDEX IF NOT EXISTS alert_events_alert_name_idx ON alert_events (alert_name)`,
		`CREATE INDEX IF NOT EXISTS alert_events_fingerprint_idx ON alert_events (fingerprint)`,
		`CREATE INDEX IF NOT EXISTS alert_events_identifier_idx ON alert_events (identifier)`,
		`CREATE TABLE IF NOT EXISTS alert_group_states (
			identifier TEXT PRIMARY KEY,
			resolved BOOLEAN NOT NULL DEFAULT false,
			resolved_at TIMESTAMPTZ,
			updated_at TIMESTAMPTZ NOT NULL DEFAULT now()
		)`,
	}

	for _, stmt := range stmts {
		if _, err := s.pool.Exec(ctx, stmt); err != nil {
			return fmt.Errorf("exec %q: %w", stmt, err)
		}
	}
	return nil
}
