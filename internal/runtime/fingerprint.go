package runtime

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"sort"
	"strconv"
	"strings"
)

// Fingerprint computes a stable hash of the worker-observable field tuple
// (§4.3's "config fingerprint"): sorted key=value pairs, then hashed,
// rather than hashing the Go struct directly, so field reordering in
// StreamSpec never changes the fingerprint (see DESIGN.md for why this
// is standard-library-only).
func Fingerprint(spec StreamSpec) string {
	fields := map[string]string{
		"source":             spec.Source,
		"orientation_deg":    formatFloat(spec.OrientationDeg),
		"view_angle_deg":     formatFloat(spec.ViewAngleDeg),
		"view_distance_m":    formatFloat(spec.ViewDistanceM),
		"tilt_deg":           formatFloat(spec.TiltDeg),
		"mount_height_m":     formatFloat(spec.MountHeightM),
		"grid_size_px":       strconv.Itoa(spec.GridSizePx),
		"window_radius_px":   strconv.Itoa(spec.WindowRadiusPx),
		"magnitude_thresh":   formatFloat(spec.MagnitudeThresh),
		"arrow_scale":        formatFloat(spec.ArrowScale),
		"arrow_opacity_pct":  formatFloat(spec.ArrowOpacityPct),
		"gradient_intensity": formatFloat(spec.GradientIntensity),
		"ruler_opacity_pct":  formatFloat(spec.RulerOpacityPct),
		"show_raw_feed":      strconv.FormatBool(spec.ShowRawFeed),
		"show_arrows":        strconv.FormatBool(spec.ShowArrows),
		"show_magnitude":     strconv.FormatBool(spec.ShowMagnitude),
		"show_trails":        strconv.FormatBool(spec.ShowTrails),
		"show_persp_ruler":   strconv.FormatBool(spec.ShowPerspectiveRuler),
		"settings_fps":       formatFloat(spec.SettingsFPS),
	}
	if spec.Latitude != nil {
		fields["latitude"] = formatFloat(*spec.Latitude)
	}
	if spec.Longitude != nil {
		fields["longitude"] = formatFloat(*spec.Longitude)
	}

	key := canonicalKey(fields)
	sum := sha256.Sum256([]byte(key))
	return hex.EncodeToString(sum[:])
}

// canonicalKey sorts keys and concatenates as key=value pairs so equal
// field sets always produce identical output regardless of map iteration
// order.
func canonicalKey(fields map[string]string) string {
	keys := make([]string, 0, len(fields))
	for k := range fields {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	var b strings.Builder
	for i, k := range keys {
		if i > 0 {
			b.WriteByte('|')
		}
		b.WriteString(k)
		b.WriteByte('=')
		b.WriteString(fields[k])
	}
	return b.String()
}

func formatFloat(f float64) string {
	return fmt.Sprintf("%.6f", f)
}
