package audit

import "github.com/rstanik/sentineld/internal/model"

// Entry types recorded by the monitor.
const (
	TypeMonitorStarted    = "monitor_started"
	TypeMonitorStopped    = "monitor_stopped"
	TypeViolation         = "violation"
	TypeTransition        = "state_transition"
	TypeCycleFailure      = "cycle_failure"
	TypeResourceSkipped   = "resource_skipped"
	TypeBaselineWritten   = "baseline_written"
	TypeEscalationCleared = "escalation_cleared"
)

// Entry is one line in the hash-chained JSONL audit log.
// All fields are plain types (no map[string]any) to guarantee
// deterministic json.Marshal field order for reproducible hashing.
type Entry struct {
	Timestamp  string `json:"ts"`
	Type       string `json:"type"`
	ResourceID string `json:"resource_id,omitempty"`
	Path       string `json:"path,omitempty"`
	Expected   string `json:"expected_digest,omitempty"`
	Actual     string `json:"actual_digest,omitempty"`
	Status     string `json:"status,omitempty"`
	Level      string `json:"level,omitempty"`
	Cycle      uint64 `json:"cycle,omitempty"`
	Reason     string `json:"reason,omitempty"`
	PrevHash   string `json:"prev_hash"`
}

// ViolationEntry builds an Entry for a detected digest mismatch.
func ViolationEntry(v model.Violation) Entry {
	return Entry{
		Type:       TypeViolation,
		ResourceID: v.ResourceID,
		Path:       v.Path,
		Expected:   v.Expected,
		Actual:     v.Actual,
		Level:      v.Level.String(),
	}
}

// TransitionEntry builds an Entry for an applied state transition.
func TransitionEntry(snap model.StateSnapshot) Entry {
	return Entry{
		Type:   TypeTransition,
		Status: snap.Status.String(),
		Level:  snap.Level.String(),
		Cycle:  snap.Cycle,
	}
}
