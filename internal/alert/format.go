package alert

import (
	"encoding/json"
	"fmt"
	"strings"
)

// FormatPayload builds the webhook body for the given format.
func FormatPayload(format string, event ThreatEvent) ([]byte, error) {
	switch format {
	case "slack":
		return formatSlack(event)
	case "pagerduty":
		return formatPagerDuty(event)
	default:
		return formatGeneric(event)
	}
}

func formatGeneric(event ThreatEvent) ([]byte, error) {
	return json.Marshal(event)
}

func formatSlack(event ThreatEvent) ([]byte, error) {
	var resources []string
	for _, v := range event.Violations {
		resources = append(resources, fmt.Sprintf("%s (%s)", v.ResourceID, v.Level))
	}

	payload := map[string]any{
		"blocks": []any{
			map[string]any{
				"type": "header",
				"text": map[string]any{
					"type": "plain_text",
					"text": fmt.Sprintf("sentineld: integrity threat %s", event.Level),
				},
			},
			map[string]any{
				"type": "section",
				"fields": []any{
					map[string]any{"type": "mrkdwn", "text": fmt.Sprintf("*Host:* %s", event.Hostname)},
					map[string]any{"type": "mrkdwn", "text": fmt.Sprintf("*Level:* %s", event.Level)},
					map[string]any{"type": "mrkdwn", "text": fmt.Sprintf("*Cycle:* %d", event.Cycle)},
					map[string]any{"type": "mrkdwn", "text": fmt.Sprintf("*Resources:* %s", strings.Join(resources, ", "))},
				},
			},
		},
	}
	return json.Marshal(payload)
}

func formatPagerDuty(event ThreatEvent) ([]byte, error) {
	severity := "info"
	switch event.Level {
	case "critical":
		severity = "critical"
	case "high":
		severity = "error"
	case "medium", "low":
		severity = "warning"
	}

	payload := map[string]any{
		"event_action": "trigger",
		"payload": map[string]any{
			"summary":  fmt.Sprintf("sentineld %s: %d integrity violation(s)", event.Level, len(event.Violations)),
			"severity": severity,
			"source":   event.Hostname,
			"custom_details": map[string]any{
				"level":      event.Level,
				"status":     event.Status,
				"cycle":      event.Cycle,
				"violations": event.Violations,
			},
		},
	}
	return json.Marshal(payload)
}
