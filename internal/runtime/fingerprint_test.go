package runtime

import "testing"

func TestFingerprintIsDeterministic(t *testing.T) {
	lat := 40.0
	lon := -73.0
	spec := StreamSpec{
		ID:              "s1",
		Source:          "rtsp://cam.local/1",
		Latitude:        &lat,
		Longitude:       &lon,
		OrientationDeg:  10,
		GridSizePx:      16,
		WindowRadiusPx:  8,
		MagnitudeThresh: 5,
	}
	fp1 := Fingerprint(spec)
	fp2 := Fingerprint(spec)
	if fp1 != fp2 {
		t.Fatalf("fingerprint should be deterministic: %s vs %s", fp1, fp2)
	}
}

func TestFingerprintChangesWithObservableField(t *testing.T) {
	base := StreamSpec{ID: "s1", Source: "rtsp://cam.local/1", GridSizePx: 16}
	changed := base
	changed.GridSizePx = 32

	if Fingerprint(base) == Fingerprint(changed) {
		t.Fatal("fingerprint must change when a worker-observable field changes")
	}
}

func TestFingerprintChangesWithRenderingTuningField(t *testing.T) {
	base := StreamSpec{ID: "s1", Source: "rtsp://cam.local/1", ArrowScale: 1, ArrowOpacityPct: 100, GradientIntensity: 1, RulerOpacityPct: 60}

	changedArrowScale := base
	changedArrowScale.ArrowScale = 2
	if Fingerprint(base) == Fingerprint(changedArrowScale) {
		t.Fatal("fingerprint must change when arrow_scale changes")
	}

	changedOpacity := base
	changedOpacity.ArrowOpacityPct = 50
	if Fingerprint(base) == Fingerprint(changedOpacity) {
		t.Fatal("fingerprint must change when arrow_opacity_pct changes")
	}

	changedGradient := base
	changedGradient.GradientIntensity = 0.5
	if Fingerprint(base) == Fingerprint(changedGradient) {
		t.Fatal("fingerprint must change when gradient_intensity changes")
	}

	changedRuler := base
	changedRuler.RulerOpacityPct = 30
	if Fingerprint(base) == Fingerprint(changedRuler) {
		t.Fatal("fingerprint must change when ruler_opacity_pct changes")
	}
}

func TestFingerprintIgnoresNilOptionalFields(t *testing.T) {
	withoutGeo := StreamSpec{ID: "s1", Source: "rtsp://cam.local/1"}
	lat, lon := 0.0, 0.0
	withZeroGeo := withoutGeo
	withZeroGeo.Latitude = &lat
	withZeroGeo.Longitude = &lon

	if Fingerprint(withoutGeo) == Fingerprint(withZeroGeo) {
		t.Fatal("declared zero coordinates must fingerprint differently from absent coordinates")
	}
}

func TestHandleForIsDeterministic(t *testing.T) {
	if HandleFor("abc") != "worker-abc" {
		t.Fatalf("unexpected handle: %s", HandleFor("abc"))
	}
}
