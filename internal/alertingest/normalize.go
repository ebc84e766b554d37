package alertingest

import "strings"

// normalizeSeverity applies the mapping table from §4.6. Unknown values
// pass through trimmed and lowercased rather than rejected.
func normalizeSeverity(raw string) string {
	s := strings.ToLower(strings.TrimSpace(raw))
	switch s {
	case "critical", "fatal", "high", "emergency":
		return "critical"
	case "warning", "warn", "medium":
		return "warning"
	case "info", "informational", "low":
		return "info"
	default:
		return s
	}
}

// deriveIdentifier follows §4.6: the alert's fingerprint if present and
// non-empty, else a pipe-joined composite of alert name, stream name and
// severity, mirroring CanonicalLabelKey's join style for stable keys.
func deriveIdentifier(fingerprint, alertName, streamName, severity string) string {
	if strings.TrimSpace(fingerprint) != "" {
		return fingerprint
	}
	return alertName + "|" + streamName + "|" + severity
}

func isActiveStatus(status string) bool {
	switch strings.ToLower(strings.TrimSpace(status)) {
	case "firing", "alerting", "pending":
		return true
	default:
		return false
	}
}
