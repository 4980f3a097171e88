package alert

import "github.com/rstanik/sentineld/internal/model"

// WebhookConfig defines one webhook alert destination.
type WebhookConfig struct {
	URL      string            `yaml:"url"       json:"url"`
	Format   string            `yaml:"format"    json:"format"` // "generic", "slack", "pagerduty"
	MinLevel model.ThreatLevel `yaml:"min_level" json:"min_level"`
	Headers  map[string]string `yaml:"headers"   json:"headers"`
}

// ThreatEvent is the payload sent to webhook endpoints when the announced
// threat level increases.
type ThreatEvent struct {
	Timestamp  string            `json:"timestamp"`
	Hostname   string            `json:"hostname"`
	Level      string            `json:"level"`
	Status     string            `json:"status"`
	Cycle      uint64            `json:"cycle"`
	Violations []ViolationDetail `json:"violations"`
}

// ViolationDetail is the per-resource evidence attached to a ThreatEvent.
type ViolationDetail struct {
	ResourceID string `json:"resource_id"`
	Path       string `json:"path"`
	Expected   string `json:"expected_digest"`
	Actual     string `json:"actual_digest"`
	Level      string `json:"level"`
}
