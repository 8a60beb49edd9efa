package alerting

import (
	"slices"

	"github.com/promptlane/relay/internal/models"
)

// Matcher decides which rules are candidates for an event. Matching is
// predicate-only; thresholds, cooldowns, and the IP gate are applied
// later by the engine.
type Matcher struct{}

// NewMatcher creates a matcher.
func NewMatcher() *Matcher {
	return &Matcher{}
}

// Matches reports whether the event satisfies the rule's predicate:
// the action must be listed in the rule's trigger actions, and the
// resource type and status must be listed when the rule constrains
// them. Empty resource type and status sets match everything.
func (m *Matcher) Matches(rule *models.AlertRule, event *models.AuditEvent) bool {
	if !rule.IsActive {
		return false
	}
	if !slices.Contains(rule.TriggerActions, event.Action) {
		return false
	}
	if len(rule.TriggerResourceTypes) > 0 && !slices.Contains(rule.TriggerResourceTypes, event.ResourceType) {
		return false
	}
	if len(rule.TriggerStatuses) > 0 && !slices.Contains(rule.TriggerStatuses, string(event.Status)) {
		return false
	}
	return true
}

// PassesIPGate applies the unknown-IP gate. An event whose source IP
// is absent from the rule's allow-list counts as unknown; an event
// with no source IP at all is always unknown. Rules without the gate
// enabled pass unconditionally.
func (m *Matcher) PassesIPGate(rule *models.AlertRule, event *models.AuditEvent) bool {
	if !rule.TriggerOnUnknownIP {
		return true
	}
	if event.SourceIP == "" {
		return true
	}
	return !slices.Contains(rule.AllowedIPs, event.SourceIP)
}
