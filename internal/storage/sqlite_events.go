package storage

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"github.com/promptlane/relay/internal/models"
)

type sqliteEventRepo struct {
	db *sql.DB
}

func (r *sqliteEventRepo) Create(ctx context.Context, event *models.AuditEvent) error {
	metadataJSON := "{}"
	if event.Metadata != nil {
		data, err := json.Marshal(event.Metadata)
		if err != nil {
			return fmt.Errorf("marshal metadata: %w", err)
		}
		metadataJSON = string(data)
	}

	query := `
		INSERT INTO audit_events (id, owner_id, action, resource_type, status,
			source_ip, user_agent, metadata_json, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
	`
	_, err := r.db.ExecContext(ctx, query,
		event.ID, event.OwnerID, event.Action, nullString(event.ResourceType),
		event.Status, nullString(event.SourceIP), nullString(event.UserAgent),
		metadataJSON, event.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("insert event: %w", err)
	}
	return nil
}

func (r *sqliteEventRepo) GetByID(ctx context.Context, id string) (*models.AuditEvent, error) {
	query := `
		SELECT id, owner_id, action, resource_type, status, source_ip,
			user_agent, metadata_json, created_at
		FROM audit_events WHERE id = ?
	`
	row := r.db.QueryRowContext(ctx, query, id)

	event := &models.AuditEvent{}
	var resourceType, sourceIP, userAgent sql.NullString
	var metadataJSON string

	err := row.Scan(
		&event.ID, &event.OwnerID, &event.Action, &resourceType, &event.Status,
		&sourceIP, &userAgent, &metadataJSON, &event.CreatedAt,
	)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("scan event: %w", err)
	}

	event.ResourceType = resourceType.String
	event.SourceIP = sourceIP.String
	event.UserAgent = userAgent.String
	if err := json.Unmarshal([]byte(metadataJSON), &event.Metadata); err != nil {
		return nil, fmt.Errorf("unmarshal metadata: %w", err)
	}

	return event, nil
}

func (r *sqliteEventRepo) CountMatching(ctx context.Context, ownerID, action string, since time.Time) (int, error) {
	var count int
	err := r.db.QueryRowContext(ctx,
		"SELECT COUNT(*) FROM audit_events WHERE owner_id = ? AND action = ? AND created_at >= ?",
		ownerID, action, since,
	).Scan(&count)
	if err != nil {
		return 0, fmt.Errorf("count events: %w", err)
	}
	return count, nil
}

func (r *sqliteEventRepo) ListMatchingIDs(ctx context.Context, ownerID, action string, since time.Time, limit int) ([]string, error) {
	rows, err := r.db.QueryContext(ctx, `
		SELECT id FROM audit_events
		WHERE owner_id = ? AND action = ? AND created_at >= ?
		ORDER BY created_at DESC LIMIT ?
	`, ownerID, action, since, limit)
	if err != nil {
		return nil, fmt.Errorf("query event ids: %w", err)
	}
	defer rows.Close()

	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("scan event id: %w", err)
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}

func (r *sqliteEventRepo) ListByOwner(ctx context.Context, ownerID string, limit, offset int) ([]*models.AuditEvent, int64, error) {
	var total int64
	err := r.db.QueryRowContext(ctx,
		"SELECT COUNT(*) FROM audit_events WHERE owner_id = ?", ownerID,
	).Scan(&total)
	if err != nil {
		return nil, 0, fmt.Errorf("count events: %w", err)
	}

	rows, err := r.db.QueryContext(ctx, `
		SELECT id, owner_id, action, resource_type, status, source_ip,
			user_agent, metadata_json, created_at
		FROM audit_events WHERE owner_id = ?
		ORDER BY created_at DESC LIMIT ? OFFSET ?
	`, ownerID, limit, offset)
	if err != nil {
		return nil, 0, fmt.Errorf("query events: %w", err)
	}
	defer rows.Close()

	var events []*models.AuditEvent
	for rows.Next() {
		event := &models.AuditEvent{}
		var resourceType, sourceIP, userAgent sql.NullString
		var metadataJSON string

		err := rows.Scan(
			&event.ID, &event.OwnerID, &event.Action, &resourceType, &event.Status,
			&sourceIP, &userAgent, &metadataJSON, &event.CreatedAt,
		)
		if err != nil {
			return nil, 0, fmt.Errorf("scan event: %w", err)
		}

		event.ResourceType = resourceType.String
		event.SourceIP = sourceIP.String
		event.UserAgent = userAgent.String
		if err := json.Unmarshal([]byte(metadataJSON), &event.Metadata); err != nil {
			return nil, 0, fmt.Errorf("unmarshal metadata: %w", err)
		}
		events = append(events, event)
	}
	return events, total, rows.Err()
}

func (r *sqliteEventRepo) DeleteBefore(ctx context.Context, before time.Time) (int64, error) {
	result, err := r.db.ExecContext(ctx,
		"DELETE FROM audit_events WHERE created_at < ?", before,
	)
	if err != nil {
		return 0, fmt.Errorf("delete events: %w", err)
	}
	return result.RowsAffected()
}
