package model

import (
	"encoding/json"
	"time"
)

// StateSnapshot is the externally observable (status, level) pair plus
// escalation bookkeeping. The Status and Level fields always reflect the
// same completed cycle; readers never see a torn combination.
type StateSnapshot struct {
	Status IntegrityStatus
	Level  ThreatLevel

	// Announced is the monotonic escalation level: the highest level the
	// response dispatcher has been notified of since the last operator clear.
	Announced ThreatLevel

	Cycle      uint64
	Violations int
	ChangedAt  time.Time
}

type snapshotWire struct {
	Status     string    `json:"status"`
	Level      string    `json:"threat_level"`
	Announced  string    `json:"announced_level"`
	Cycle      uint64    `json:"cycle"`
	Violations int       `json:"violations"`
	ChangedAt  time.Time `json:"changed_at"`
}

// MarshalJSON encodes enums in their string form for the status file
// and audit entries.
func (s StateSnapshot) MarshalJSON() ([]byte, error) {
	return json.Marshal(snapshotWire{
		Status:     s.Status.String(),
		Level:      s.Level.String(),
		Announced:  s.Announced.String(),
		Cycle:      s.Cycle,
		Violations: s.Violations,
		ChangedAt:  s.ChangedAt,
	})
}

// UnmarshalJSON is the inverse of MarshalJSON. An unknown status string
// decodes as offline rather than failing, so a newer daemon writing the
// status file must not break an older reader.
func (s *StateSnapshot) UnmarshalJSON(data []byte) error {
	var w snapshotWire
	if err := json.Unmarshal(data, &w); err != nil {
		return err
	}
	s.Status = parseStatus(w.Status)
	if lvl, err := ParseThreatLevel(w.Level); err == nil {
		s.Level = lvl
	}
	if lvl, err := ParseThreatLevel(w.Announced); err == nil {
		s.Announced = lvl
	}
	s.Cycle = w.Cycle
	s.Violations = w.Violations
	s.ChangedAt = w.ChangedAt
	return nil
}

func parseStatus(s string) IntegrityStatus {
	switch s {
	case "secure":
		return StatusSecure
	case "monitoring":
		return StatusMonitoring
	case "compromised":
		return StatusCompromised
	default:
		return StatusOffline
	}
}
