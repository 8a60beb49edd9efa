package health

import (
	"context"
	"database/sql"
	"fmt"
)

// DatabaseChecker verifies the SQLite database responds to pings.
type DatabaseChecker struct {
	db *sql.DB
}

// NewDatabaseChecker creates a checker over the given connection.
func NewDatabaseChecker(db *sql.DB) *DatabaseChecker {
	return &DatabaseChecker{db: db}
}

// Name returns the checker name.
func (c *DatabaseChecker) Name() string {
	return "database"
}

// Check pings the database.
func (c *DatabaseChecker) Check(ctx context.Context) error {
	if c.db == nil {
		return fmt.Errorf("database not configured")
	}
	if err := c.db.PingContext(ctx); err != nil {
		return fmt.Errorf("database ping failed: %w", err)
	}
	return nil
}
