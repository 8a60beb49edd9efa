// Package alerting evaluates audit events against tenant alert rules
// and fires notifications when a rule's threshold is met.
package alerting

import (
	"github.com/promptlane/relay/internal/models"
)

// ClassifySeverity derives the severity of a firing from the
// triggering event's status and the matching event count. Pure and
// deterministic; the same inputs always classify the same way.
func ClassifySeverity(status models.EventStatus, eventCount int) models.Severity {
	switch status {
	case models.StatusUnauthorized, models.StatusForbidden:
		return models.SeverityCritical
	case models.StatusFailed:
		if eventCount > 5 {
			return models.SeverityCritical
		}
		return models.SeverityHigh
	}
	if eventCount > 10 {
		return models.SeverityMedium
	}
	return models.SeverityLow
}
