package alerting

import (
	"testing"

	"github.com/promptlane/relay/internal/models"
)

func TestMatcherMatches(t *testing.T) {
	m := NewMatcher()

	rule := &models.AlertRule{
		IsActive:       true,
		TriggerActions: []string{"prompt_delete", "prompt_export"},
	}

	tests := []struct {
		name  string
		rule  *models.AlertRule
		event *models.AuditEvent
		want  bool
	}{
		{
			name:  "action in trigger set",
			rule:  rule,
			event: &models.AuditEvent{Action: "prompt_delete", Status: models.StatusSuccess},
			want:  true,
		},
		{
			name:  "action not in trigger set",
			rule:  rule,
			event: &models.AuditEvent{Action: "prompt_create", Status: models.StatusSuccess},
			want:  false,
		},
		{
			name: "inactive rule never matches",
			rule: &models.AlertRule{
				IsActive:       false,
				TriggerActions: []string{"prompt_delete"},
			},
			event: &models.AuditEvent{Action: "prompt_delete", Status: models.StatusSuccess},
			want:  false,
		},
		{
			name: "empty resource type set matches all",
			rule: rule,
			event: &models.AuditEvent{
				Action:       "prompt_delete",
				ResourceType: "prompt",
				Status:       models.StatusSuccess,
			},
			want: true,
		},
		{
			name: "resource type constrained and matching",
			rule: &models.AlertRule{
				IsActive:             true,
				TriggerActions:       []string{"prompt_delete"},
				TriggerResourceTypes: []string{"prompt"},
			},
			event: &models.AuditEvent{
				Action:       "prompt_delete",
				ResourceType: "prompt",
				Status:       models.StatusSuccess,
			},
			want: true,
		},
		{
			name: "resource type constrained and not matching",
			rule: &models.AlertRule{
				IsActive:             true,
				TriggerActions:       []string{"prompt_delete"},
				TriggerResourceTypes: []string{"folder"},
			},
			event: &models.AuditEvent{
				Action:       "prompt_delete",
				ResourceType: "prompt",
				Status:       models.StatusSuccess,
			},
			want: false,
		},
		{
			name: "status constrained and matching",
			rule: &models.AlertRule{
				IsActive:        true,
				TriggerActions:  []string{"login"},
				TriggerStatuses: []string{"failed", "unauthorized"},
			},
			event: &models.AuditEvent{Action: "login", Status: models.StatusFailed},
			want:  true,
		},
		{
			name: "status constrained and not matching",
			rule: &models.AlertRule{
				IsActive:        true,
				TriggerActions:  []string{"login"},
				TriggerStatuses: []string{"failed"},
			},
			event: &models.AuditEvent{Action: "login", Status: models.StatusSuccess},
			want:  false,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := m.Matches(tt.rule, tt.event); got != tt.want {
				t.Errorf("Matches() = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestMatcherPassesIPGate(t *testing.T) {
	m := NewMatcher()

	tests := []struct {
		name  string
		rule  *models.AlertRule
		event *models.AuditEvent
		want  bool
	}{
		{
			name:  "gate disabled always passes",
			rule:  &models.AlertRule{TriggerOnUnknownIP: false},
			event: &models.AuditEvent{SourceIP: "10.0.0.1"},
			want:  true,
		},
		{
			name: "known IP blocked",
			rule: &models.AlertRule{
				TriggerOnUnknownIP: true,
				AllowedIPs:         []string{"10.0.0.1", "10.0.0.2"},
			},
			event: &models.AuditEvent{SourceIP: "10.0.0.1"},
			want:  false,
		},
		{
			name: "unknown IP passes",
			rule: &models.AlertRule{
				TriggerOnUnknownIP: true,
				AllowedIPs:         []string{"10.0.0.1"},
			},
			event: &models.AuditEvent{SourceIP: "203.0.113.9"},
			want:  true,
		},
		{
			name: "missing IP counts as unknown",
			rule: &models.AlertRule{
				TriggerOnUnknownIP: true,
				AllowedIPs:         []string{"10.0.0.1"},
			},
			event: &models.AuditEvent{},
			want:  true,
		},
		{
			name:  "empty allow list treats every IP as unknown",
			rule:  &models.AlertRule{TriggerOnUnknownIP: true},
			event: &models.AuditEvent{SourceIP: "10.0.0.1"},
			want:  true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := m.PassesIPGate(tt.rule, tt.event); got != tt.want {
				t.Errorf("PassesIPGate() = %v, want %v", got, tt.want)
			}
		})
	}
}
