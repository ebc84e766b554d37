package store

import (
	"fmt"
	"net/url"

	"github.com/flowgrid/flowplane/internal/apperr"
	"github.com/go-playground/validator/v10"
)

var structValidate = validator.New()

type numRange struct {
	field string
	value float64
	min   float64
	max   float64
}

// validateStreamDecl enforces §3's numeric ranges plus the fields that
// validator's struct tags don't express well (asymmetric per-field bounds).
// Out-of-range input is rejected, never clamped.
func validateStreamDecl(d *StreamDecl) error {
	if err := structValidate.Struct(d); err != nil {
		if fe, ok := err.(validator.ValidationErrors); ok && len(fe) > 0 {
			return apperr.Validation(fe[0].Field(), fe[0].Tag())
		}
		return apperr.Validation("", err.Error())
	}
	if _, err := url.Parse(d.Source); err != nil || d.Source == "" {
		return apperr.Validation("source", "must be a valid URL")
	}

	ranges := []numRange{}
	if d.Latitude != nil {
		ranges = append(ranges, numRange{"latitude", *d.Latitude, -90, 90})
	}
	if d.Longitude != nil {
		ranges = append(ranges, numRange{"longitude", *d.Longitude, -180, 180})
	}
	if d.OrientationDeg != nil {
		ranges = append(ranges, numRange{"orientation_deg", *d.OrientationDeg, 0, 360})
	}
	if d.ViewAngleDeg != nil {
		ranges = append(ranges, numRange{"view_angle_deg", *d.ViewAngleDeg, 5, 170})
	}
	if d.ViewDistanceM != nil {
		ranges = append(ranges, numRange{"view_distance_m", *d.ViewDistanceM, 50, 1000})
	}
	if d.TiltDeg != nil {
		ranges = append(ranges, numRange{"tilt_deg", *d.TiltDeg, -45, 89})
	}
	if d.MountHeightM != nil {
		ranges = append(ranges, numRange{"mount_height_m", *d.MountHeightM, 0.5, 120})
	}
	if d.GridSizePx != nil {
		ranges = append(ranges, numRange{"grid_size_px", float64(*d.GridSizePx), 4, 128})
	}
	if d.WindowRadiusPx != nil {
		ranges = append(ranges, numRange{"window_radius_px", float64(*d.WindowRadiusPx), 2, 32})
	}
	if d.MagnitudeThresh != nil {
		ranges = append(ranges, numRange{"magnitude_threshold", *d.MagnitudeThresh, 0, 100})
	}

	for _, r := range ranges {
		if r.value < r.min || r.value > r.max {
			return apperr.Validation(r.field, fmt.Sprintf("must be within [%g, %g]", r.min, r.max))
		}
	}

	if len(d.LocationLabel) > 512 {
		return apperr.Validation("location_label", "must be at most 512 characters")
	}
	return nil
}

// applyDefaults fills unspecified optional fields, matching CreateStream's
// contract of defaulting rather than rejecting missing (as opposed to
// out-of-range) values.
func applyDefaults(d *StreamDecl) {
	f := func(p **float64, v float64) {
		if *p == nil {
			*p = &v
		}
	}
	i := func(p **int, v int) {
		if *p == nil {
			*p = &v
		}
	}
	f(&d.OrientationDeg, 0)
	f(&d.ViewAngleDeg, 60)
	f(&d.ViewDistanceM, 200)
	f(&d.TiltDeg, 0)
	f(&d.MountHeightM, 3)
	i(&d.GridSizePx, 16)
	i(&d.WindowRadiusPx, 8)
	f(&d.MagnitudeThresh, 5)
	f(&d.ArrowScale, 1)
	f(&d.ArrowOpacityPct, 100)
	f(&d.GradientIntensity, 1)
	f(&d.RulerOpacityPct, 60)
}

// validateSettingsUpdate enforces the SystemSettings ranges (§3).
func validateSettingsUpdate(u *SettingsUpdate) error {
	if u.LivePreviewFPS != nil && (*u.LivePreviewFPS < 0.5 || *u.LivePreviewFPS > 30) {
		return apperr.Validation("live_preview_fps", "must be within [0.5, 30]")
	}
	if u.LivePreviewJPEGQuality != nil && (*u.LivePreviewJPEGQuality < 30 || *u.LivePreviewJPEGQuality > 95) {
		return apperr.Validation("live_preview_jpeg_quality", "must be within [30, 95]")
	}
	if u.LivePreviewMaxWidth != nil && *u.LivePreviewMaxWidth < 0 {
		return apperr.Validation("live_preview_max_width", "must be >= 0")
	}
	if u.OrientationOffsetDeg != nil && (*u.OrientationOffsetDeg < -360 || *u.OrientationOffsetDeg > 360) {
		return apperr.Validation("orientation_offset_deg", "must be within [-360, 360]")
	}
	return nil
}
