// Package alert delivers threat-level-increase notifications to external
// responders. Webhook delivery runs in goroutines off the monitoring
// loop's critical path: a slow or failing endpoint cannot stall a cycle.
package alert

import (
	"os"
	"time"

	"github.com/rstanik/sentineld/internal/model"
)

// Responder is the boundary contract the monitoring loop invokes: at most
// once per increasing transition, with the full violation set that caused
// it.
type Responder interface {
	OnThreatLevelIncrease(level model.ThreatLevel, violations []model.Violation)
}

// Dispatcher fans threat events out to matching webhook configurations.
type Dispatcher struct {
	configs  []WebhookConfig
	hostname string
}

// NewDispatcher creates a Dispatcher from webhook configurations.
// Returns nil if configs is empty (callers should nil-check).
func NewDispatcher(configs []WebhookConfig) *Dispatcher {
	if len(configs) == 0 {
		return nil
	}
	host, _ := os.Hostname()
	return &Dispatcher{configs: configs, hostname: host}
}

// OnThreatLevelIncrease implements Responder. Sends to every webhook whose
// MinLevel is at or below the new level. Fires goroutines; does not block
// the caller.
func (d *Dispatcher) OnThreatLevelIncrease(level model.ThreatLevel, violations []model.Violation) {
	details := make([]ViolationDetail, 0, len(violations))
	for _, v := range violations {
		details = append(details, ViolationDetail{
			ResourceID: v.ResourceID,
			Path:       v.Path,
			Expected:   v.Expected,
			Actual:     v.Actual,
			Level:      v.Level.String(),
		})
	}

	event := ThreatEvent{
		Timestamp:  time.Now().UTC().Format("2006-01-02T15:04:05.000Z"),
		Hostname:   d.hostname,
		Level:      level.String(),
		Status:     model.StatusCompromised.String(),
		Violations: details,
	}

	for _, cfg := range d.configs {
		if level >= cfg.MinLevel {
			go func(cfg WebhookConfig) { _ = Send(cfg, event) }(cfg)
		}
	}
}
