package alertingest

import "testing"

func TestNormalizeSeverity(t *testing.T) {
	cases := map[string]string{
		"critical":      "critical",
		"Fatal":         "critical",
		"HIGH":          "critical",
		"emergency":     "critical",
		"warning":       "warning",
		"warn":          "warning",
		"Medium":        "warning",
		"info":          "info",
		"informational": "info",
		"LOW":           "info",
		"Debug":         "debug",
	}
	for in, want := range cases {
		if got := normalizeSeverity(in); got != want {
			t.Fatalf("normalizeSeverity(%q) = %q, want %q", in, got, want)
		}
	}
}

func TestDeriveIdentifierPrefersFingerprint(t *testing.T) {
	id := deriveIdentifier("F1", "HighMagnitude", "cam-1", "critical")
	if id != "F1" {
		t.Fatalf("expected fingerprint to win, got %s", id)
	}
}

func TestDeriveIdentifierFallsBackToComposite(t *testing.T) {
	id := deriveIdentifier("", "HighMagnitude", "cam-1", "critical")
	if id != "HighMagnitude|cam-1|critical" {
		t.Fatalf("unexpected composite identifier: %s", id)
	}
}

func TestIsActiveStatus(t *testing.T) {
	for _, s := range []string{"firing", "Alerting", "PENDING"} {
		if !isActiveStatus(s) {
			t.Fatalf("expected %q to be active", s)
		}
	}
	if isActiveStatus("resolved") {
		t.Fatal("resolved must not be active")
	}
}
