package storage

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"github.com/promptlane/relay/internal/models"
)

type sqliteSubscriptionRepo struct {
	db *sql.DB
}

const subscriptionColumns = `id, owner_id, name, url, secret, headers_json,
	on_export_complete, on_export_failed, on_import_complete,
	on_import_failed, on_scheduled_export, on_share_access, max_retries,
	retry_delay_seconds, is_active, total_triggers, success_count,
	failure_count, last_triggered_at, last_success_at, last_failure_at,
	last_error_message, created_at, updated_at`

func (r *sqliteSubscriptionRepo) Create(ctx context.Context, sub *models.WebhookSubscription) error {
	headersJSON, err := marshalHeaders(sub.Headers)
	if err != nil {
		return err
	}

	query := `
		INSERT INTO webhook_subscriptions (` + subscriptionColumns + `)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`
	_, err = r.db.ExecContext(ctx, query,
		sub.ID, sub.OwnerID, sub.Name, sub.URL, nullString(sub.Secret), headersJSON,
		boolToInt(sub.OnExportComplete), boolToInt(sub.OnExportFailed),
		boolToInt(sub.OnImportComplete), boolToInt(sub.OnImportFailed),
		boolToInt(sub.OnScheduledExport), boolToInt(sub.OnShareAccess),
		sub.MaxRetries, sub.RetryDelaySeconds, boolToInt(sub.IsActive),
		sub.TotalTriggers, sub.SuccessCount, sub.FailureCount,
		sub.LastTriggeredAt, sub.LastSuccessAt, sub.LastFailureAt,
		nullString(sub.LastErrorMessage), sub.CreatedAt, sub.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("insert subscription: %w", err)
	}
	return nil
}

func (r *sqliteSubscriptionRepo) GetByID(ctx context.Context, id string) (*models.WebhookSubscription, error) {
	row := r.db.QueryRowContext(ctx,
		"SELECT "+subscriptionColumns+" FROM webhook_subscriptions WHERE id = ?", id,
	)
	sub, err := scanSubscription(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	return sub, err
}

func (r *sqliteSubscriptionRepo) Update(ctx context.Context, sub *models.WebhookSubscription) error {
	headersJSON, err := marshalHeaders(sub.Headers)
	if err != nil {
		return err
	}

	query := `
		UPDATE webhook_subscriptions SET name = ?, url = ?, secret = ?,
			headers_json = ?, on_export_complete = ?, on_export_failed = ?,
			on_import_complete = ?, on_import_failed = ?,
			on_scheduled_export = ?, on_share_access = ?, max_retries = ?,
			retry_delay_seconds = ?, is_active = ?, updated_at = ?
		WHERE id = ?
	`
	result, err := r.db.ExecContext(ctx, query,
		sub.Name, sub.URL, nullString(sub.Secret), headersJSON,
		boolToInt(sub.OnExportComplete), boolToInt(sub.OnExportFailed),
		boolToInt(sub.OnImportComplete), boolToInt(sub.OnImportFailed),
		boolToInt(sub.OnScheduledExport), boolToInt(sub.OnShareAccess),
		sub.MaxRetries, sub.RetryDelaySeconds, boolToInt(sub.IsActive),
		sub.UpdatedAt, sub.ID,
	)
	if err != nil {
		return fmt.Errorf("update subscription: %w", err)
	}
	rows, _ := result.RowsAffected()
	if rows == 0 {
		return fmt.Errorf("subscription not found: %s", sub.ID)
	}
	return nil
}

func (r *sqliteSubscriptionRepo) Delete(ctx context.Context, id string) error {
	result, err := r.db.ExecContext(ctx, "DELETE FROM webhook_subscriptions WHERE id = ?", id)
	if err != nil {
		return fmt.Errorf("delete subscription: %w", err)
	}
	rows, _ := result.RowsAffected()
	if rows == 0 {
		return fmt.Errorf("subscription not found: %s", id)
	}
	return nil
}

func (r *sqliteSubscriptionRepo) ListByOwner(ctx context.Context, ownerID string) ([]*models.WebhookSubscription, error) {
	return r.querySubscriptions(ctx,
		"SELECT "+subscriptionColumns+" FROM webhook_subscriptions WHERE owner_id = ? ORDER BY name", ownerID)
}

func (r *sqliteSubscriptionRepo) ListActiveByOwner(ctx context.Context, ownerID string) ([]*models.WebhookSubscription, error) {
	return r.querySubscriptions(ctx,
		"SELECT "+subscriptionColumns+" FROM webhook_subscriptions WHERE owner_id = ? AND is_active = 1 ORDER BY name", ownerID)
}

func (r *sqliteSubscriptionRepo) SetActive(ctx context.Context, id string, active bool) error {
	result, err := r.db.ExecContext(ctx,
		"UPDATE webhook_subscriptions SET is_active = ?, updated_at = ? WHERE id = ?",
		boolToInt(active), time.Now(), id,
	)
	if err != nil {
		return fmt.Errorf("set subscription active: %w", err)
	}
	rows, _ := result.RowsAffected()
	if rows == 0 {
		return fmt.Errorf("subscription not found: %s", id)
	}
	return nil
}

func (r *sqliteSubscriptionRepo) RecordTrigger(ctx context.Context, id string, at time.Time) error {
	_, err := r.db.ExecContext(ctx,
		"UPDATE webhook_subscriptions SET total_triggers = total_triggers + 1, last_triggered_at = ? WHERE id = ?",
		at, id,
	)
	if err != nil {
		return fmt.Errorf("record subscription trigger: %w", err)
	}
	return nil
}

func (r *sqliteSubscriptionRepo) RecordSuccess(ctx context.Context, id string, at time.Time) error {
	_, err := r.db.ExecContext(ctx,
		"UPDATE webhook_subscriptions SET success_count = success_count + 1, last_success_at = ? WHERE id = ?",
		at, id,
	)
	if err != nil {
		return fmt.Errorf("record subscription success: %w", err)
	}
	return nil
}

func (r *sqliteSubscriptionRepo) RecordFailure(ctx context.Context, id string, at time.Time, errMsg string) error {
	_, err := r.db.ExecContext(ctx,
		"UPDATE webhook_subscriptions SET failure_count = failure_count + 1, last_failure_at = ?, last_error_message = ? WHERE id = ?",
		at, nullString(errMsg), id,
	)
	if err != nil {
		return fmt.Errorf("record subscription failure: %w", err)
	}
	return nil
}

func (r *sqliteSubscriptionRepo) querySubscriptions(ctx context.Context, query string, args ...any) ([]*models.WebhookSubscription, error) {
	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("query subscriptions: %w", err)
	}
	defer rows.Close()

	var subs []*models.WebhookSubscription
	for rows.Next() {
		sub, err := scanSubscription(rows)
		if err != nil {
			return nil, err
		}
		subs = append(subs, sub)
	}
	return subs, rows.Err()
}

func scanSubscription(row scanner) (*models.WebhookSubscription, error) {
	sub := &models.WebhookSubscription{}
	var secret, lastErrorMessage sql.NullString
	var headersJSON string
	var onExportComplete, onExportFailed, onImportComplete int
	var onImportFailed, onScheduledExport, onShareAccess, isActive int
	var lastTriggeredAt, lastSuccessAt, lastFailureAt sql.NullTime

	err := row.Scan(
		&sub.ID, &sub.OwnerID, &sub.Name, &sub.URL, &secret, &headersJSON,
		&onExportComplete, &onExportFailed, &onImportComplete,
		&onImportFailed, &onScheduledExport, &onShareAccess,
		&sub.MaxRetries, &sub.RetryDelaySeconds, &isActive,
		&sub.TotalTriggers, &sub.SuccessCount, &sub.FailureCount,
		&lastTriggeredAt, &lastSuccessAt, &lastFailureAt,
		&lastErrorMessage, &sub.CreatedAt, &sub.UpdatedAt,
	)
	if err == sql.ErrNoRows {
		return nil, err
	}
	if err != nil {
		return nil, fmt.Errorf("scan subscription: %w", err)
	}

	sub.Secret = secret.String
	sub.LastErrorMessage = lastErrorMessage.String
	sub.OnExportComplete = onExportComplete != 0
	sub.OnExportFailed = onExportFailed != 0
	sub.OnImportComplete = onImportComplete != 0
	sub.OnImportFailed = onImportFailed != 0
	sub.OnScheduledExport = onScheduledExport != 0
	sub.OnShareAccess = onShareAccess != 0
	sub.IsActive = isActive != 0
	if lastTriggeredAt.Valid {
		t := lastTriggeredAt.Time
		sub.LastTriggeredAt = &t
	}
	if lastSuccessAt.Valid {
		t := lastSuccessAt.Time
		sub.LastSuccessAt = &t
	}
	if lastFailureAt.Valid {
		t := lastFailureAt.Time
		sub.LastFailureAt = &t
	}

	if err := json.Unmarshal([]byte(headersJSON), &sub.Headers); err != nil {
		return nil, fmt.Errorf("unmarshal headers: %w", err)
	}

	return sub, nil
}

func marshalHeaders(headers map[string]string) (string, error) {
	if headers == nil {
		return "{}", nil
	}
	data, err := json.Marshal(headers)
	if err != nil {
		return "", fmt.Errorf("marshal headers: %w", err)
	}
	return string(data), nil
}
