// Package store persists Stream, SystemSettings, AlertEvent and
// AlertGroupState records (§3) behind a pgx connection pool, plus a
// lib/pq LISTEN/NOTIFY change feed used by the Settings Manager (§4.8).
package store

import "time"

// ConnectionStatus mirrors the Reconciler's state-mapping table (§4.3).
type ConnectionStatus string

const (
	StatusConnected  ConnectionStatus = "connected"
	StatusInactive   ConnectionStatus = "inactive"
	StatusStarting   ConnectionStatus = "starting"
	StatusWorkerDown ConnectionStatus = "worker_down"
	StatusError      ConnectionStatus = "error"
	StatusUnknown    ConnectionStatus = "unknown"
)

// Stream is the declared configuration plus observed runtime facts for one
// video source (§3). Geometry and tuning fields are pointers where the field
// is optional in the declaration; ranges are enforced in validation.go.
type Stream struct {
	ID     string `db:"id" json:"id"`
	Source string `db:"source" json:"source"`

	// Geometry
	Latitude      *float64 `db:"latitude" json:"latitude,omitempty"`
	Longitude     *float64 `db:"longitude" json:"longitude,omitempty"`
	OrientationDeg float64 `db:"orientation_deg" json:"orientation_deg"`
	ViewAngleDeg   float64 `db:"view_angle_deg" json:"view_angle_deg"`
	ViewDistanceM  float64 `db:"view_distance_m" json:"view_distance_m"`
	TiltDeg        float64 `db:"tilt_deg" json:"tilt_deg"`
	MountHeightM   float64 `db:"mount_height_m" json:"mount_height_m"`
	LocationLabel  string  `db:"location_label" json:"location_label,omitempty"`

	// Processing tuning
	GridSizePx     int     `db:"grid_size_px" json:"grid_size_px"`
	WindowRadiusPx int     `db:"window_radius_px" json:"window_radius_px"`
	MagnitudeThresh float64 `db:"magnitude_threshold" json:"magnitude_threshold"`

	// Rendering tuning
	ArrowScale             float64 `db:"arrow_scale" json:"arrow_scale"`
	ArrowOpacityPct        float64 `db:"arrow_opacity_pct" json:"arrow_opacity_pct"`
	GradientIntensity      float64 `db:"gradient_intensity" json:"gradient_intensity"`
	RulerOpacityPct        float64 `db:"ruler_opacity_pct" json:"ruler_opacity_pct"`
	ShowRawFeed            bool    `db:"show_raw_feed" json:"show_raw_feed"`
	ShowArrows             bool    `db:"show_arrows" json:"show_arrows"`
	ShowMagnitude          bool    `db:"show_magnitude" json:"show_magnitude"`
	ShowTrails             bool    `db:"show_trails" json:"show_trails"`
	ShowPerspectiveRuler   bool    `db:"show_perspective_ruler" json:"show_perspective_ruler"`

	// Desired state
	IsActive bool `db:"is_active" json:"is_active"`

	// Observed runtime facts (Reconciler-owned)
	WorkerHandle       string           `db:"worker_handle" json:"worker_handle,omitempty"`
	WorkerStartTime    *time.Time       `db:"worker_start_time" json:"worker_start_time,omitempty"`
	LastError          string           `db:"last_error" json:"last_error,omitempty"`
	ConnectionStatus   ConnectionStatus `db:"connection_status" json:"connection_status"`
	ConfigFingerprint  string           `db:"config_fingerprint" json:"-"`

	RestartCount            int        `db:"restart_count" json:"-"`
	RestartCountWindowStart *time.Time `db:"restart_count_window_start" json:"-"`

	CreatedAt time.Time `db:"created_at" json:"created_at"`
}

// StreamDecl is the caller-supplied declaration for Create/Update (§4.1).
// Zero-valued optional fields are defaulted by the Store.
type StreamDecl struct {
	Source string `json:"source" validate:"required,url"`

	Latitude  *float64 `json:"latitude,omitempty"`
	Longitude *float64 `json:"longitude,omitempty"`

	OrientationDeg *float64 `json:"orientation_deg,omitempty"`
	ViewAngleDeg   *float64 `json:"view_angle_deg,omitempty"`
	ViewDistanceM  *float64 `json:"view_distance_m,omitempty"`
	TiltDeg        *float64 `json:"tilt_deg,omitempty"`
	MountHeightM   *float64 `json:"mount_height_m,omitempty"`
	LocationLabel  string   `json:"location_label,omitempty" validate:"max=512"`

	GridSizePx      *int     `json:"grid_size_px,omitempty"`
	WindowRadiusPx  *int     `json:"window_radius_px,omitempty"`
	MagnitudeThresh *float64 `json:"magnitude_threshold,omitempty"`

	ArrowScale           *float64 `json:"arrow_scale,omitempty"`
	ArrowOpacityPct      *float64 `json:"arrow_opacity_pct,omitempty"`
	GradientIntensity    *float64 `json:"gradient_intensity,omitempty"`
	RulerOpacityPct      *float64 `json:"ruler_opacity_pct,omitempty"`
	ShowRawFeed          bool     `json:"show_raw_feed"`
	ShowArrows           bool     `json:"show_arrows"`
	ShowMagnitude        bool     `json:"show_magnitude"`
	ShowTrails           bool     `json:"show_trails"`
	ShowPerspectiveRuler bool     `json:"show_perspective_ruler"`

	IsActive bool `json:"is_active"`
}

// RuntimeFacts is the Reconciler's partial update of a stream's observed
// state (§4.1 SetRuntimeFacts).
type RuntimeFacts struct {
	Handle            string
	StartedAt         *time.Time
	LastError         string
	Status            ConnectionStatus
	ConfigFingerprint string
}

// Settings is the singleton SystemSettings row (§3).
type Settings struct {
	LivePreviewFPS         float64   `db:"live_preview_fps" json:"live_preview_fps"`
	LivePreviewJPEGQuality int       `db:"live_preview_jpeg_quality" json:"live_preview_jpeg_quality"`
	LivePreviewMaxWidth    int       `db:"live_preview_max_width" json:"live_preview_max_width"`
	OrientationOffsetDeg   float64   `db:"orientation_offset_deg" json:"orientation_offset_deg"`
	UpdatedAt              time.Time `db:"updated_at" json:"updated_at"`
}

// SettingsUpdate is the caller-supplied PUT /settings/system body.
type SettingsUpdate struct {
	LivePreviewFPS         *float64 `json:"live_preview_fps,omitempty"`
	LivePreviewJPEGQuality *int     `json:"live_preview_jpeg_quality,omitempty"`
	LivePreviewMaxWidth    *int     `json:"live_preview_max_width,omitempty"`
	OrientationOffsetDeg   *float64 `json:"orientation_offset_deg,omitempty"`
	RestartWorkers         bool     `json:"restart_workers,omitempty"`
}

// AlertEvent is one append-only ingested alert (§3, §4.6).
type AlertEvent struct {
	ID                 int64     `db:"id" json:"id"`
	Receiver           string    `db:"receiver" json:"receiver"`
	GroupKey           string    `db:"group_key" json:"group_key"`
	NotificationStatus string    `db:"notification_status" json:"notification_status"`
	AlertStatus        string    `db:"alert_status" json:"alert_status"`
	AlertName          string    `db:"alert_name" json:"alert_name"`
	AlertUID           string    `db:"alert_uid" json:"alert_uid"`
	Severity           string    `db:"severity" json:"severity"`
	SeverityNormalized string    `db:"severity_normalized" json:"severity_normalized"`
	StreamName         string    `db:"stream_name" json:"stream_name,omitempty"`
	Fingerprint        string    `db:"fingerprint" json:"fingerprint,omitempty"`
	Identifier         string    `db:"identifier" json:"identifier"`
	Summary            string    `db:"summary" json:"summary,omitempty"`
	Description        string    `db:"description" json:"description,omitempty"`
	StartsAt           time.Time `db:"starts_at" json:"starts_at"`
	EndsAt             *time.Time `db:"ends_at" json:"ends_at,omitempty"`
	RawPayload         []byte    `db:"raw_payload" json:"raw_payload"`
	Labels             []byte    `db:"labels" json:"labels"`
	Annotations        []byte    `db:"annotations" json:"annotations"`
	Values             []byte    `db:"values" json:"values,omitempty"`
	ReceivedAt         time.Time `db:"received_at" json:"received_at"`
}

// AlertGroupState is the manual-override resolution row (§3).
type AlertGroupState struct {
	Identifier string     `db:"identifier" json:"identifier"`
	Resolved   bool       `db:"resolved" json:"resolved"`
	ResolvedAt *time.Time `db:"resolved_at" json:"resolved_at,omitempty"`
	UpdatedAt  time.Time  `db:"updated_at" json:"updated_at"`
}
