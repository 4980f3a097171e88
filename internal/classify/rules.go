// Package classify maps a violated resource to a ThreatLevel via an
// explicit rule table. Pure and deterministic so classification is
// testable without running a monitoring cycle.
package classify

import (
	"strings"

	"github.com/rstanik/sentineld/internal/model"
)

// Rule assigns a threat level to resources whose id or path contains
// Pattern (case-insensitive). First matching rule wins.
type Rule struct {
	Pattern string
	Level   model.ThreatLevel
}

// Classifier resolves violation severity: rule table first, the
// resource's static severity as fallback, LevelLow as the floor.
type Classifier struct {
	rules []Rule
}

// New creates a Classifier with the given rule table.
func New(rules []Rule) *Classifier {
	return &Classifier{rules: rules}
}

// Default returns the built-in severity table.
func Default() *Classifier {
	return New([]Rule{
		// Boot-critical resources: tampering here survives reinstall
		{Pattern: "boot", Level: model.LevelCritical},
		{Pattern: "kernel", Level: model.LevelCritical},
		{Pattern: "firmware", Level: model.LevelCritical},

		// Core executables and security config
		{Pattern: "bin/", Level: model.LevelHigh},
		{Pattern: ".so", Level: model.LevelHigh},
		{Pattern: "security", Level: model.LevelHigh},
		{Pattern: "auth", Level: model.LevelHigh},

		// Packaged auxiliary assets
		{Pattern: ".apk", Level: model.LevelMedium},
		{Pattern: ".pkg", Level: model.LevelMedium},
		{Pattern: "assets/", Level: model.LevelMedium},
	})
}

// Classify determines the severity of a mismatch on the given resource.
func (c *Classifier) Classify(res model.MonitoredResource) model.ThreatLevel {
	id := strings.ToLower(res.ID)
	path := strings.ToLower(res.Path)

	for _, r := range c.rules {
		p := strings.ToLower(r.Pattern)
		if strings.Contains(id, p) || strings.Contains(path, p) {
			return r.Level
		}
	}

	if res.Severity > model.LevelNone {
		return res.Severity
	}
	return model.LevelLow
}
