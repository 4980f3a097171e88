package model

import "fmt"

// ThreatLevel is the monotonically comparable severity of detected
// integrity violations. Higher value = more severe.
type ThreatLevel int

const (
	LevelNone     ThreatLevel = 0
	LevelLow      ThreatLevel = 1
	LevelMedium   ThreatLevel = 2
	LevelHigh     ThreatLevel = 3
	LevelCritical ThreatLevel = 4
)

func (l ThreatLevel) String() string {
	switch l {
	case LevelNone:
		return "none"
	case LevelLow:
		return "low"
	case LevelMedium:
		return "medium"
	case LevelHigh:
		return "high"
	case LevelCritical:
		return "critical"
	default:
		return fmt.Sprintf("unknown(%d)", int(l))
	}
}

// ParseThreatLevel converts a config/manifest string to a ThreatLevel.
func ParseThreatLevel(s string) (ThreatLevel, error) {
	switch s {
	case "none":
		return LevelNone, nil
	case "low":
		return LevelLow, nil
	case "medium":
		return LevelMedium, nil
	case "high":
		return LevelHigh, nil
	case "critical":
		return LevelCritical, nil
	default:
		return LevelNone, fmt.Errorf("unknown threat level %q", s)
	}
}

// MarshalYAML encodes the level as its string form.
func (l ThreatLevel) MarshalYAML() (any, error) {
	return l.String(), nil
}

// UnmarshalYAML accepts the string form ("low", "critical", ...).
func (l *ThreatLevel) UnmarshalYAML(unmarshal func(any) error) error {
	var s string
	if err := unmarshal(&s); err != nil {
		return err
	}
	parsed, err := ParseThreatLevel(s)
	if err != nil {
		return err
	}
	*l = parsed
	return nil
}

// MaxLevel returns the most severe level among the given violations,
// or LevelNone for an empty set. Never averages or smooths.
func MaxLevel(violations []Violation) ThreatLevel {
	max := LevelNone
	for _, v := range violations {
		if v.Level > max {
			max = v.Level
		}
	}
	return max
}

// IntegrityStatus is the coarse operational state of the monitor.
type IntegrityStatus int

const (
	// StatusSecure: the last completed cycle found zero violations.
	StatusSecure IntegrityStatus = iota
	// StatusMonitoring: the loop is running, no cycle has completed yet.
	StatusMonitoring
	// StatusCompromised: the last completed cycle found at least one violation.
	StatusCompromised
	// StatusOffline: the loop is stopped or the last cycle itself failed.
	// Distinct from Compromised: infrastructure problem, not detected tampering.
	StatusOffline
)

func (s IntegrityStatus) String() string {
	switch s {
	case StatusSecure:
		return "secure"
	case StatusMonitoring:
		return "monitoring"
	case StatusCompromised:
		return "compromised"
	case StatusOffline:
		return "offline"
	default:
		return fmt.Sprintf("unknown(%d)", int(s))
	}
}
