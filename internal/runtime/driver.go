// Package runtime provides a uniform interface over the two worker
// runtimes (container daemon, pod orchestrator) that the Reconciler drives
// (§4.2). Both variants are idempotent and carry per-call deadlines (§5).
package runtime

import (
	"context"
	"time"
)

// WorkerState is the Inspect result's coarse runtime state.
type WorkerState string

const (
	StateRunning  WorkerState = "running"
	StateStarting WorkerState = "starting"
	StateExited   WorkerState = "exited"
	StateMissing  WorkerState = "missing"
)

// StreamSpec carries every worker-observable field the driver needs to
// start a worker: identifier, source, tuning/rendering fields, geometry,
// and the shared-infrastructure endpoints passed through as environment.
type StreamSpec struct {
	ID     string
	Source string

	Latitude       *float64
	Longitude      *float64
	OrientationDeg float64
	ViewAngleDeg   float64
	ViewDistanceM  float64
	TiltDeg        float64
	MountHeightM   float64
	LocationLabel  string

	GridSizePx      int
	WindowRadiusPx  int
	MagnitudeThresh float64

	ArrowScale           float64
	ArrowOpacityPct      float64
	GradientIntensity    float64
	RulerOpacityPct      float64
	ShowRawFeed          bool
	ShowArrows           bool
	ShowMagnitude        bool
	ShowTrails           bool
	ShowPerspectiveRuler bool

	// SettingsFPS is the subset of global settings the worker consumes
	// (currently just the preview FPS cap), folded into the config
	// fingerprint so a settings change triggers a restart when required.
	SettingsFPS float64

	// Infra endpoints, environment-variable-passed to the worker process.
	PubSubAddr string
	MetricsURL string
	DatabaseRO string

	WorkerImage string
}

// InspectResult is what Inspect reports about a handle.
type InspectResult struct {
	State     WorkerState
	StartedAt time.Time
	LastError string
}

// DriverError is returned by every Driver call; Retryable distinguishes
// transient failures (§7 KindTransient) from permanent ones (§7 KindPermanent).
type DriverError struct {
	Message   string
	Retryable bool
	cause     error
}

func (e *DriverError) Error() string { return e.Message }
func (e *DriverError) Unwrap() error { return e.cause }

func NewTransientError(msg string, cause error) *DriverError {
	return &DriverError{Message: msg, Retryable: true, cause: cause}
}

func NewPermanentError(msg string, cause error) *DriverError {
	return &DriverError{Message: msg, Retryable: false, cause: cause}
}

// Driver is the capability set both runtime variants implement (§4.2).
type Driver interface {
	// Start creates (or returns the existing) worker for the stream.
	// Idempotent: Start on an already-running handle returns that handle.
	Start(ctx context.Context, spec StreamSpec) (handle string, err error)

	// Stop tears down the worker for handle. Idempotent: Stop on a missing
	// handle succeeds.
	Stop(ctx context.Context, handle string) error

	// Inspect reports the current runtime state of handle.
	Inspect(ctx context.Context, handle string) (InspectResult, error)

	// Tail returns up to nLines of the worker's most recent log output.
	Tail(ctx context.Context, handle string, nLines int) ([]string, error)
}

// Deadlines bundles the per-call-class deadlines from §5.
type Deadlines struct {
	Start   time.Duration
	Stop    time.Duration
	Inspect time.Duration
}

// WithDeadline wraps a Driver so Start, Stop and Inspect each carry an
// absolute deadline; on expiry the call returns an error and the caller's
// stream lock is released (§5). Tail is passed through without a deadline
// of its own. The periodic loop re-inspects only active streams that still
// hold a worker handle, so a Start or Stop that failed this way is not
// retried by it.
type WithDeadline struct {
	Driver
	D Deadlines
}

func (w WithDeadline) Start(ctx context.Context, spec StreamSpec) (string, error) {
	ctx, cancel := context.WithTimeout(ctx, w.D.Start)
	defer cancel()
	return w.Driver.Start(ctx, spec)
}

func (w WithDeadline) Stop(ctx context.Context, handle string) error {
	ctx, cancel := context.WithTimeout(ctx, w.D.Stop)
	defer cancel()
	return w.Driver.Stop(ctx, handle)
}

func (w WithDeadline) Inspect(ctx context.Context, handle string) (InspectResult, error) {
	ctx, cancel := context.WithTimeout(ctx, w.D.Inspect)
	defer cancel()
	return w.Driver.Inspect(ctx, handle)
}

// HandleFor derives the deterministic handle name for a stream, shared by
// both variants (§4.2: "worker-<stream-id>").
func HandleFor(streamID string) string {
	return "worker-" + streamID
}
