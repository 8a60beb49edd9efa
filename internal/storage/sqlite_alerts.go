package storage

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"github.com/promptlane/relay/internal/models"
)

type sqliteAlertRepo struct {
	db *sql.DB
}

const alertColumns = `id, rule_id, owner_id, rule_name, severity, title,
	message, event_ids_json, event_count, source_ip, email_sent,
	webhook_sent, webhook_response, acknowledged, acknowledged_by,
	acknowledged_at, ack_note, created_at`

func (r *sqliteAlertRepo) Create(ctx context.Context, alert *models.TriggeredAlert) error {
	eventIDs, err := json.Marshal(emptyIfNil(alert.EventIDs))
	if err != nil {
		return fmt.Errorf("marshal event ids: %w", err)
	}

	query := `
		INSERT INTO triggered_alerts (` + alertColumns + `)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`
	_, err = r.db.ExecContext(ctx, query,
		alert.ID, alert.RuleID, alert.OwnerID, alert.RuleName, alert.Severity,
		alert.Title, alert.Message, string(eventIDs), alert.EventCount,
		nullString(alert.SourceIP), boolToInt(alert.EmailSent),
		boolToInt(alert.WebhookSent), nullString(alert.WebhookResponse),
		boolToInt(alert.Acknowledged), nullString(alert.AcknowledgedBy),
		alert.AcknowledgedAt, nullString(alert.AckNote), alert.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("insert alert: %w", err)
	}
	return nil
}

func (r *sqliteAlertRepo) GetByID(ctx context.Context, id string) (*models.TriggeredAlert, error) {
	row := r.db.QueryRowContext(ctx,
		"SELECT "+alertColumns+" FROM triggered_alerts WHERE id = ?", id,
	)
	alert, err := scanTriggeredAlert(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	return alert, err
}

func (r *sqliteAlertRepo) ListByOwner(ctx context.Context, ownerID string, limit, offset int) ([]*models.TriggeredAlert, int64, error) {
	return r.listAlerts(ctx, "owner_id", ownerID, limit, offset)
}

func (r *sqliteAlertRepo) ListByRule(ctx context.Context, ruleID string, limit, offset int) ([]*models.TriggeredAlert, int64, error) {
	return r.listAlerts(ctx, "rule_id", ruleID, limit, offset)
}

func (r *sqliteAlertRepo) listAlerts(ctx context.Context, column, value string, limit, offset int) ([]*models.TriggeredAlert, int64, error) {
	var total int64
	err := r.db.QueryRowContext(ctx,
		"SELECT COUNT(*) FROM triggered_alerts WHERE "+column+" = ?", value,
	).Scan(&total)
	if err != nil {
		return nil, 0, fmt.Errorf("count alerts: %w", err)
	}

	rows, err := r.db.QueryContext(ctx,
		"SELECT "+alertColumns+" FROM triggered_alerts WHERE "+column+" = ? ORDER BY created_at DESC LIMIT ? OFFSET ?",
		value, limit, offset,
	)
	if err != nil {
		return nil, 0, fmt.Errorf("query alerts: %w", err)
	}
	defer rows.Close()

	var alerts []*models.TriggeredAlert
	for rows.Next() {
		alert, err := scanTriggeredAlert(rows)
		if err != nil {
			return nil, 0, err
		}
		alerts = append(alerts, alert)
	}
	return alerts, total, rows.Err()
}

func (r *sqliteAlertRepo) Acknowledge(ctx context.Context, id, by, note string, at time.Time) error {
	result, err := r.db.ExecContext(ctx, `
		UPDATE triggered_alerts
		SET acknowledged = 1, acknowledged_by = ?, acknowledged_at = ?, ack_note = ?
		WHERE id = ?
	`, by, at, nullString(note), id)
	if err != nil {
		return fmt.Errorf("acknowledge alert: %w", err)
	}
	rows, _ := result.RowsAffected()
	if rows == 0 {
		return fmt.Errorf("alert not found: %s", id)
	}
	return nil
}

func (r *sqliteAlertRepo) SetEmailOutcome(ctx context.Context, id string, sent bool) error {
	_, err := r.db.ExecContext(ctx,
		"UPDATE triggered_alerts SET email_sent = ? WHERE id = ?",
		boolToInt(sent), id,
	)
	if err != nil {
		return fmt.Errorf("set email outcome: %w", err)
	}
	return nil
}

func (r *sqliteAlertRepo) SetWebhookOutcome(ctx context.Context, id string, sent bool, response string) error {
	_, err := r.db.ExecContext(ctx,
		"UPDATE triggered_alerts SET webhook_sent = ?, webhook_response = ? WHERE id = ?",
		boolToInt(sent), nullString(response), id,
	)
	if err != nil {
		return fmt.Errorf("set webhook outcome: %w", err)
	}
	return nil
}

func scanTriggeredAlert(row scanner) (*models.TriggeredAlert, error) {
	alert := &models.TriggeredAlert{}
	var sourceIP, webhookResponse, acknowledgedBy, ackNote sql.NullString
	var eventIDsJSON string
	var emailSent, webhookSent, acknowledged int
	var acknowledgedAt sql.NullTime

	err := row.Scan(
		&alert.ID, &alert.RuleID, &alert.OwnerID, &alert.RuleName,
		&alert.Severity, &alert.Title, &alert.Message, &eventIDsJSON,
		&alert.EventCount, &sourceIP, &emailSent, &webhookSent,
		&webhookResponse, &acknowledged, &acknowledgedBy, &acknowledgedAt,
		&ackNote, &alert.CreatedAt,
	)
	if err == sql.ErrNoRows {
		return nil, err
	}
	if err != nil {
		return nil, fmt.Errorf("scan alert: %w", err)
	}

	alert.SourceIP = sourceIP.String
	alert.WebhookResponse = webhookResponse.String
	alert.AcknowledgedBy = acknowledgedBy.String
	alert.AckNote = ackNote.String
	alert.EmailSent = emailSent != 0
	alert.WebhookSent = webhookSent != 0
	alert.Acknowledged = acknowledged != 0
	if acknowledgedAt.Valid {
		t := acknowledgedAt.Time
		alert.AcknowledgedAt = &t
	}

	if err := json.Unmarshal([]byte(eventIDsJSON), &alert.EventIDs); err != nil {
		return nil, fmt.Errorf("unmarshal event ids: %w", err)
	}

	return alert, nil
}
