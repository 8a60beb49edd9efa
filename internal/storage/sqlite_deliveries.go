package storage

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/promptlane/relay/internal/models"
)

type sqliteDeliveryRepo struct {
	db *sql.DB
}

const deliveryColumns = `id, webhook_id, owner_id, event_type, payload,
	status, attempt_count, response_status, response_body,
	response_time_ms, next_retry_at, error_message, created_at,
	delivered_at`

func (r *sqliteDeliveryRepo) Create(ctx context.Context, d *models.WebhookDelivery) error {
	query := `
		INSERT INTO webhook_deliveries (` + deliveryColumns + `)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`
	_, err := r.db.ExecContext(ctx, query,
		d.ID, d.WebhookID, d.OwnerID, d.EventType, d.Payload,
		d.Status, d.AttemptCount, d.ResponseStatus, nullString(d.ResponseBody),
		d.ResponseTimeMS, d.NextRetryAt, nullString(d.ErrorMessage),
		d.CreatedAt, d.DeliveredAt,
	)
	if err != nil {
		return fmt.Errorf("insert delivery: %w", err)
	}
	return nil
}

func (r *sqliteDeliveryRepo) GetByID(ctx context.Context, id string) (*models.WebhookDelivery, error) {
	row := r.db.QueryRowContext(ctx,
		"SELECT "+deliveryColumns+" FROM webhook_deliveries WHERE id = ?", id,
	)
	d, err := scanDelivery(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	return d, err
}

func (r *sqliteDeliveryRepo) Update(ctx context.Context, d *models.WebhookDelivery) error {
	query := `
		UPDATE webhook_deliveries SET status = ?, attempt_count = ?,
			response_status = ?, response_body = ?, response_time_ms = ?,
			next_retry_at = ?, error_message = ?, delivered_at = ?
		WHERE id = ?
	`
	result, err := r.db.ExecContext(ctx, query,
		d.Status, d.AttemptCount, d.ResponseStatus, nullString(d.ResponseBody),
		d.ResponseTimeMS, d.NextRetryAt, nullString(d.ErrorMessage),
		d.DeliveredAt, d.ID,
	)
	if err != nil {
		return fmt.Errorf("update delivery: %w", err)
	}
	rows, _ := result.RowsAffected()
	if rows == 0 {
		return fmt.Errorf("delivery not found: %s", d.ID)
	}
	return nil
}

func (r *sqliteDeliveryRepo) ListByWebhook(ctx context.Context, webhookID string, limit, offset int) ([]*models.WebhookDelivery, int64, error) {
	return r.listDeliveries(ctx, "webhook_id", webhookID, limit, offset)
}

func (r *sqliteDeliveryRepo) ListByOwner(ctx context.Context, ownerID string, limit, offset int) ([]*models.WebhookDelivery, int64, error) {
	return r.listDeliveries(ctx, "owner_id", ownerID, limit, offset)
}

func (r *sqliteDeliveryRepo) listDeliveries(ctx context.Context, column, value string, limit, offset int) ([]*models.WebhookDelivery, int64, error) {
	var total int64
	err := r.db.QueryRowContext(ctx,
		"SELECT COUNT(*) FROM webhook_deliveries WHERE "+column+" = ?", value,
	).Scan(&total)
	if err != nil {
		return nil, 0, fmt.Errorf("count deliveries: %w", err)
	}

	rows, err := r.db.QueryContext(ctx,
		"SELECT "+deliveryColumns+" FROM webhook_deliveries WHERE "+column+" = ? ORDER BY created_at DESC LIMIT ? OFFSET ?",
		value, limit, offset,
	)
	if err != nil {
		return nil, 0, fmt.Errorf("query deliveries: %w", err)
	}
	defer rows.Close()

	var deliveries []*models.WebhookDelivery
	for rows.Next() {
		d, err := scanDelivery(rows)
		if err != nil {
			return nil, 0, err
		}
		deliveries = append(deliveries, d)
	}
	return deliveries, total, rows.Err()
}

func (r *sqliteDeliveryRepo) ListDueRetries(ctx context.Context, now time.Time, limit int) ([]*models.WebhookDelivery, error) {
	rows, err := r.db.QueryContext(ctx,
		"SELECT "+deliveryColumns+" FROM webhook_deliveries WHERE status = ? AND next_retry_at <= ? ORDER BY next_retry_at ASC LIMIT ?",
		models.DeliveryRetrying, now, limit,
	)
	if err != nil {
		return nil, fmt.Errorf("query due retries: %w", err)
	}
	defer rows.Close()

	var deliveries []*models.WebhookDelivery
	for rows.Next() {
		d, err := scanDelivery(rows)
		if err != nil {
			return nil, err
		}
		deliveries = append(deliveries, d)
	}
	return deliveries, rows.Err()
}

func scanDelivery(row scanner) (*models.WebhookDelivery, error) {
	d := &models.WebhookDelivery{}
	var responseBody, errorMessage sql.NullString
	var responseStatus sql.NullInt64
	var responseTimeMS sql.NullInt64
	var nextRetryAt, deliveredAt sql.NullTime

	err := row.Scan(
		&d.ID, &d.WebhookID, &d.OwnerID, &d.EventType, &d.Payload,
		&d.Status, &d.AttemptCount, &responseStatus, &responseBody,
		&responseTimeMS, &nextRetryAt, &errorMessage, &d.CreatedAt,
		&deliveredAt,
	)
	if err == sql.ErrNoRows {
		return nil, err
	}
	if err != nil {
		return nil, fmt.Errorf("scan delivery: %w", err)
	}

	d.ResponseBody = responseBody.String
	d.ErrorMessage = errorMessage.String
	if responseStatus.Valid {
		v := int(responseStatus.Int64)
		d.ResponseStatus = &v
	}
	if responseTimeMS.Valid {
		v := responseTimeMS.Int64
		d.ResponseTimeMS = &v
	}
	if nextRetryAt.Valid {
		t := nextRetryAt.Time
		d.NextRetryAt = &t
	}
	if deliveredAt.Valid {
		t := deliveredAt.Time
		d.DeliveredAt = &t
	}

	return d, nil
}
