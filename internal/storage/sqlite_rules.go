package storage

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"github.com/promptlane/relay/internal/models"
)

type sqliteRuleRepo struct {
	db *sql.DB
}

const ruleColumns = `id, owner_id, name, description, trigger_actions_json,
	trigger_resource_types_json, trigger_statuses_json, threshold_count,
	threshold_window_minutes, trigger_on_unknown_ip, allowed_ips_json,
	cooldown_minutes, notify_email, notify_webhook, webhook_url,
	webhook_secret, is_active, last_triggered_at, trigger_count,
	created_at, updated_at`

func (r *sqliteRuleRepo) Create(ctx context.Context, rule *models.AlertRule) error {
	actions, resourceTypes, statuses, allowedIPs, err := marshalRuleSets(rule)
	if err != nil {
		return err
	}

	query := `
		INSERT INTO alert_rules (` + ruleColumns + `)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`
	_, err = r.db.ExecContext(ctx, query,
		rule.ID, rule.OwnerID, rule.Name, nullString(rule.Description),
		actions, resourceTypes, statuses,
		rule.ThresholdCount, rule.ThresholdWindowMinutes,
		boolToInt(rule.TriggerOnUnknownIP), allowedIPs,
		rule.CooldownMinutes, boolToInt(rule.NotifyEmail), boolToInt(rule.NotifyWebhook),
		nullString(rule.WebhookURL), nullString(rule.WebhookSecret),
		boolToInt(rule.IsActive), rule.LastTriggeredAt, rule.TriggerCount,
		rule.CreatedAt, rule.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("insert rule: %w", err)
	}
	return nil
}

func (r *sqliteRuleRepo) GetByID(ctx context.Context, id string) (*models.AlertRule, error) {
	row := r.db.QueryRowContext(ctx,
		"SELECT "+ruleColumns+" FROM alert_rules WHERE id = ?", id,
	)
	rule, err := scanRule(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	return rule, err
}

func (r *sqliteRuleRepo) Update(ctx context.Context, rule *models.AlertRule) error {
	actions, resourceTypes, statuses, allowedIPs, err := marshalRuleSets(rule)
	if err != nil {
		return err
	}

	query := `
		UPDATE alert_rules SET name = ?, description = ?,
			trigger_actions_json = ?, trigger_resource_types_json = ?,
			trigger_statuses_json = ?, threshold_count = ?,
			threshold_window_minutes = ?, trigger_on_unknown_ip = ?,
			allowed_ips_json = ?, cooldown_minutes = ?, notify_email = ?,
			notify_webhook = ?, webhook_url = ?, webhook_secret = ?,
			is_active = ?, updated_at = ?
		WHERE id = ?
	`
	result, err := r.db.ExecContext(ctx, query,
		rule.Name, nullString(rule.Description),
		actions, resourceTypes, statuses,
		rule.ThresholdCount, rule.ThresholdWindowMinutes,
		boolToInt(rule.TriggerOnUnknownIP), allowedIPs,
		rule.CooldownMinutes, boolToInt(rule.NotifyEmail), boolToInt(rule.NotifyWebhook),
		nullString(rule.WebhookURL), nullString(rule.WebhookSecret),
		boolToInt(rule.IsActive), rule.UpdatedAt,
		rule.ID,
	)
	if err != nil {
		return fmt.Errorf("update rule: %w", err)
	}
	rows, _ := result.RowsAffected()
	if rows == 0 {
		return fmt.Errorf("rule not found: %s", rule.ID)
	}
	return nil
}

func (r *sqliteRuleRepo) Delete(ctx context.Context, id string) error {
	result, err := r.db.ExecContext(ctx, "DELETE FROM alert_rules WHERE id = ?", id)
	if err != nil {
		return fmt.Errorf("delete rule: %w", err)
	}
	rows, _ := result.RowsAffected()
	if rows == 0 {
		return fmt.Errorf("rule not found: %s", id)
	}
	return nil
}

func (r *sqliteRuleRepo) ListByOwner(ctx context.Context, ownerID string) ([]*models.AlertRule, error) {
	return r.queryRules(ctx,
		"SELECT "+ruleColumns+" FROM alert_rules WHERE owner_id = ? ORDER BY name", ownerID)
}

func (r *sqliteRuleRepo) ListActiveByOwner(ctx context.Context, ownerID string) ([]*models.AlertRule, error) {
	return r.queryRules(ctx,
		"SELECT "+ruleColumns+" FROM alert_rules WHERE owner_id = ? AND is_active = 1 ORDER BY name", ownerID)
}

func (r *sqliteRuleRepo) SetActive(ctx context.Context, id string, active bool) error {
	result, err := r.db.ExecContext(ctx,
		"UPDATE alert_rules SET is_active = ?, updated_at = ? WHERE id = ?",
		boolToInt(active), time.Now(), id,
	)
	if err != nil {
		return fmt.Errorf("set rule active: %w", err)
	}
	rows, _ := result.RowsAffected()
	if rows == 0 {
		return fmt.Errorf("rule not found: %s", id)
	}
	return nil
}

func (r *sqliteRuleRepo) RecordTrigger(ctx context.Context, id string, at time.Time) error {
	result, err := r.db.ExecContext(ctx,
		"UPDATE alert_rules SET trigger_count = trigger_count + 1, last_triggered_at = ? WHERE id = ?",
		at, id,
	)
	if err != nil {
		return fmt.Errorf("record rule trigger: %w", err)
	}
	rows, _ := result.RowsAffected()
	if rows == 0 {
		return fmt.Errorf("rule not found: %s", id)
	}
	return nil
}

func (r *sqliteRuleRepo) queryRules(ctx context.Context, query string, args ...any) ([]*models.AlertRule, error) {
	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("query rules: %w", err)
	}
	defer rows.Close()

	var rules []*models.AlertRule
	for rows.Next() {
		rule, err := scanRule(rows)
		if err != nil {
			return nil, err
		}
		rules = append(rules, rule)
	}
	return rules, rows.Err()
}

type scanner interface {
	Scan(dest ...any) error
}

func scanRule(row scanner) (*models.AlertRule, error) {
	rule := &models.AlertRule{}
	var description, webhookURL, webhookSecret sql.NullString
	var actionsJSON, resourceTypesJSON, statusesJSON, allowedIPsJSON string
	var unknownIP, notifyEmail, notifyWebhook, isActive int
	var lastTriggeredAt sql.NullTime

	err := row.Scan(
		&rule.ID, &rule.OwnerID, &rule.Name, &description,
		&actionsJSON, &resourceTypesJSON, &statusesJSON,
		&rule.ThresholdCount, &rule.ThresholdWindowMinutes,
		&unknownIP, &allowedIPsJSON,
		&rule.CooldownMinutes, &notifyEmail, &notifyWebhook,
		&webhookURL, &webhookSecret,
		&isActive, &lastTriggeredAt, &rule.TriggerCount,
		&rule.CreatedAt, &rule.UpdatedAt,
	)
	if err == sql.ErrNoRows {
		return nil, err
	}
	if err != nil {
		return nil, fmt.Errorf("scan rule: %w", err)
	}

	rule.Description = description.String
	rule.WebhookURL = webhookURL.String
	rule.WebhookSecret = webhookSecret.String
	rule.TriggerOnUnknownIP = unknownIP != 0
	rule.NotifyEmail = notifyEmail != 0
	rule.NotifyWebhook = notifyWebhook != 0
	rule.IsActive = isActive != 0
	if lastTriggeredAt.Valid {
		t := lastTriggeredAt.Time
		rule.LastTriggeredAt = &t
	}

	if err := json.Unmarshal([]byte(actionsJSON), &rule.TriggerActions); err != nil {
		return nil, fmt.Errorf("unmarshal trigger actions: %w", err)
	}
	if err := json.Unmarshal([]byte(resourceTypesJSON), &rule.TriggerResourceTypes); err != nil {
		return nil, fmt.Errorf("unmarshal resource types: %w", err)
	}
	if err := json.Unmarshal([]byte(statusesJSON), &rule.TriggerStatuses); err != nil {
		return nil, fmt.Errorf("unmarshal statuses: %w", err)
	}
	if err := json.Unmarshal([]byte(allowedIPsJSON), &rule.AllowedIPs); err != nil {
		return nil, fmt.Errorf("unmarshal allowed ips: %w", err)
	}

	return rule, nil
}

func marshalRuleSets(rule *models.AlertRule) (actions, resourceTypes, statuses, allowedIPs string, err error) {
	a, err := json.Marshal(emptyIfNil(rule.TriggerActions))
	if err != nil {
		return "", "", "", "", fmt.Errorf("marshal trigger actions: %w", err)
	}
	rt, err := json.Marshal(emptyIfNil(rule.TriggerResourceTypes))
	if err != nil {
		return "", "", "", "", fmt.Errorf("marshal resource types: %w", err)
	}
	st, err := json.Marshal(emptyIfNil(rule.TriggerStatuses))
	if err != nil {
		return "", "", "", "", fmt.Errorf("marshal statuses: %w", err)
	}
	ips, err := json.Marshal(emptyIfNil(rule.AllowedIPs))
	if err != nil {
		return "", "", "", "", fmt.Errorf("marshal allowed ips: %w", err)
	}
	return string(a), string(rt), string(st), string(ips), nil
}

func emptyIfNil(s []string) []string {
	if s == nil {
		return []string{}
	}
	return s
}
