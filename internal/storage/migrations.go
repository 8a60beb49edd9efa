package storage

import (
	"database/sql"
	"fmt"
	"time"
)

// Migration represents a database migration.
type Migration struct {
	Version int
	Name    string
	Up      string
}

// migrations holds all database migrations in order.
var migrations = []Migration{
	{
		Version: 1,
		Name:    "initial_schema",
		Up: `
			-- Audit events table
			CREATE TABLE IF NOT EXISTS audit_events (
				id TEXT PRIMARY KEY,
				owner_id TEXT NOT NULL,
				action TEXT NOT NULL,
				resource_type TEXT,
				status TEXT NOT NULL,
				source_ip TEXT,
				user_agent TEXT,
				metadata_json TEXT,
				created_at DATETIME NOT NULL
			);

			-- Alert rules table
			CREATE TABLE IF NOT EXISTS alert_rules (
				id TEXT PRIMARY KEY,
				owner_id TEXT NOT NULL,
				name TEXT NOT NULL,
				description TEXT,
				trigger_actions_json TEXT NOT NULL,
				trigger_resource_types_json TEXT NOT NULL,
				trigger_statuses_json TEXT NOT NULL,
				threshold_count INTEGER NOT NULL,
				threshold_window_minutes INTEGER NOT NULL,
				trigger_on_unknown_ip INTEGER NOT NULL DEFAULT 0,
				allowed_ips_json TEXT NOT NULL,
				cooldown_minutes INTEGER NOT NULL DEFAULT 0,
				notify_email INTEGER NOT NULL DEFAULT 0,
				notify_webhook INTEGER NOT NULL DEFAULT 0,
				webhook_url TEXT,
				webhook_secret TEXT,
				is_active INTEGER NOT NULL DEFAULT 1,
				last_triggered_at DATETIME,
				trigger_count INTEGER NOT NULL DEFAULT 0,
				created_at DATETIME NOT NULL,
				updated_at DATETIME NOT NULL
			);

			-- Triggered alerts table
			CREATE TABLE IF NOT EXISTS triggered_alerts (
				id TEXT PRIMARY KEY,
				rule_id TEXT NOT NULL,
				owner_id TEXT NOT NULL,
				rule_name TEXT NOT NULL,
				severity TEXT NOT NULL,
				title TEXT NOT NULL,
				message TEXT NOT NULL,
				event_ids_json TEXT NOT NULL,
				event_count INTEGER NOT NULL,
				source_ip TEXT,
				email_sent INTEGER NOT NULL DEFAULT 0,
				webhook_sent INTEGER NOT NULL DEFAULT 0,
				webhook_response TEXT,
				acknowledged INTEGER NOT NULL DEFAULT 0,
				acknowledged_by TEXT,
				acknowledged_at DATETIME,
				ack_note TEXT,
				created_at DATETIME NOT NULL,
				FOREIGN KEY (rule_id) REFERENCES alert_rules(id) ON DELETE CASCADE
			);

			-- Webhook subscriptions table
			CREATE TABLE IF NOT EXISTS webhook_subscriptions (
				id TEXT PRIMARY KEY,
				owner_id TEXT NOT NULL,
				name TEXT NOT NULL,
				url TEXT NOT NULL,
				secret TEXT,
				headers_json TEXT NOT NULL,
				on_export_complete INTEGER NOT NULL DEFAULT 0,
				on_export_failed INTEGER NOT NULL DEFAULT 0,
				on_import_complete INTEGER NOT NULL DEFAULT 0,
				on_import_failed INTEGER NOT NULL DEFAULT 0,
				on_scheduled_export INTEGER NOT NULL DEFAULT 0,
				on_share_access INTEGER NOT NULL DEFAULT 0,
				max_retries INTEGER NOT NULL DEFAULT 3,
				retry_delay_seconds INTEGER NOT NULL DEFAULT 60,
				is_active INTEGER NOT NULL DEFAULT 1,
				total_triggers INTEGER NOT NULL DEFAULT 0,
				success_count INTEGER NOT NULL DEFAULT 0,
				failure_count INTEGER NOT NULL DEFAULT 0,
				last_triggered_at DATETIME,
				last_success_at DATETIME,
				last_failure_at DATETIME,
				last_error_message TEXT,
				created_at DATETIME NOT NULL,
				updated_at DATETIME NOT NULL
			);

			-- Webhook deliveries table
			CREATE TABLE IF NOT EXISTS webhook_deliveries (
				id TEXT PRIMARY KEY,
				webhook_id TEXT NOT NULL,
				owner_id TEXT NOT NULL,
				event_type TEXT NOT NULL,
				payload TEXT NOT NULL,
				status TEXT NOT NULL DEFAULT 'pending',
				attempt_count INTEGER NOT NULL DEFAULT 0,
				response_status INTEGER,
				response_body TEXT,
				response_time_ms INTEGER,
				next_retry_at DATETIME,
				error_message TEXT,
				created_at DATETIME NOT NULL,
				delivered_at DATETIME,
				FOREIGN KEY (webhook_id) REFERENCES webhook_subscriptions(id) ON DELETE CASCADE
			);

			-- Indexes
			CREATE INDEX IF NOT EXISTS idx_events_owner_action_time ON audit_events(owner_id, action, created_at);
			CREATE INDEX IF NOT EXISTS idx_events_created ON audit_events(created_at);
			CREATE INDEX IF NOT EXISTS idx_rules_owner ON alert_rules(owner_id);
			CREATE INDEX IF NOT EXISTS idx_rules_owner_active ON alert_rules(owner_id, is_active);
			CREATE INDEX IF NOT EXISTS idx_alerts_owner ON triggered_alerts(owner_id);
			CREATE INDEX IF NOT EXISTS idx_alerts_rule ON triggered_alerts(rule_id);
			CREATE INDEX IF NOT EXISTS idx_subscriptions_owner ON webhook_subscriptions(owner_id);
			CREATE INDEX IF NOT EXISTS idx_deliveries_webhook ON webhook_deliveries(webhook_id);
			CREATE INDEX IF NOT EXISTS idx_deliveries_owner ON webhook_deliveries(owner_id);
			CREATE INDEX IF NOT EXISTS idx_deliveries_retry ON webhook_deliveries(status, next_retry_at);
		`,
	},
}

// runMigrations applies all pending migrations.
func runMigrations(db *sql.DB) error {
	// Create migrations table if not exists
	_, err := db.Exec(`
		CREATE TABLE IF NOT EXISTS schema_migrations (
			version INTEGER PRIMARY KEY,
			name TEXT NOT NULL,
			applied_at DATETIME NOT NULL
		)
	`)
	if err != nil {
		return fmt.Errorf("create migrations table: %w", err)
	}

	// Get current version
	var currentVersion int
	err = db.QueryRow("SELECT COALESCE(MAX(version), 0) FROM schema_migrations").Scan(&currentVersion)
	if err != nil {
		return fmt.Errorf("get current version: %w", err)
	}

	// Apply pending migrations
	for _, m := range migrations {
		if m.Version <= currentVersion {
			continue
		}

		// Run migration in transaction
		tx, err := db.Begin()
		if err != nil {
			return fmt.Errorf("begin transaction for migration %d: %w", m.Version, err)
		}

		_, err = tx.Exec(m.Up)
		if err != nil {
			tx.Rollback()
			return fmt.Errorf("execute migration %d (%s): %w", m.Version, m.Name, err)
		}

		_, err = tx.Exec(
			"INSERT INTO schema_migrations (version, name, applied_at) VALUES (?, ?, ?)",
			m.Version, m.Name, time.Now(),
		)
		if err != nil {
			tx.Rollback()
			return fmt.Errorf("record migration %d: %w", m.Version, err)
		}

		if err := tx.Commit(); err != nil {
			return fmt.Errorf("commit migration %d: %w", m.Version, err)
		}
	}

	return nil
}
