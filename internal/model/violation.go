package model

import (
	"time"

	"github.com/google/uuid"
)

// MonitoredResource is one entry in the baseline manifest. Immutable once
// registered; the registered set is fixed for a monitor instance.
type MonitoredResource struct {
	ID       string      `yaml:"id"       json:"id"`
	Path     string      `yaml:"path"     json:"path"`
	Severity ThreatLevel `yaml:"severity" json:"severity"`
}

// Violation records one digest mismatch detected in one cycle.
// Created once, never mutated.
type Violation struct {
	ID         string      `json:"id"`
	ResourceID string      `json:"resource_id"`
	Path       string      `json:"path"`
	Expected   string      `json:"expected_digest"`
	Actual     string      `json:"actual_digest"`
	Level      ThreatLevel `json:"level"`
	DetectedAt time.Time   `json:"detected_at"`
}

// NewViolation builds a Violation for a mismatched resource.
func NewViolation(res MonitoredResource, expected, actual string, level ThreatLevel) Violation {
	return Violation{
		ID:         uuid.NewString(),
		ResourceID: res.ID,
		Path:       res.Path,
		Expected:   expected,
		Actual:     actual,
		Level:      level,
		DetectedAt: time.Now().UTC(),
	}
}

