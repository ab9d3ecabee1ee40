package models

import "strings"

// Severity is the alert/anomaly severity ladder.
type Severity string

const (
	SeverityInfo     Severity = "info"
	SeverityWarning  Severity = "warning"
	SeverityError    Severity = "error"
	SeverityCritical Severity = "critical"
)

// Rank orders severities from info (0) to critical (3). Unknown values rank below info.
func (s Severity) Rank() int {
	switch s {
	case SeverityInfo:
		return 0
	case SeverityWarning:
		return 1
	case SeverityError:
		return 2
	case SeverityCritical:
		return 3
	default:
		return -1
	}
}

// AtLeast reports whether s is as severe as other.
func (s Severity) AtLeast(other Severity) bool {
	return s.Rank() >= other.Rank()
}

// Valid reports whether s is one of the four known levels.
func (s Severity) Valid() bool {
	return s.Rank() >= 0
}

// ParseSeverity is case-insensitive and accepts the common "warn"/"crit" aliases.
func ParseSeverity(s string) (Severity, bool) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "info":
		return SeverityInfo, true
	case "warning", "warn":
		return SeverityWarning, true
	case "error", "err":
		return SeverityError, true
	case "critical", "crit":
		return SeverityCritical, true
	}
	return "", false
}
