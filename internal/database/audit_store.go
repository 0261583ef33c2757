// Package database persists the audit trail to MySQL, PostgreSQL or SQLite.
//
// FILE: audit_store.go
// PURPOSE: Audit event table management, batch insertion and listing.
//
// KEY TYPES:
// - AuditStore: implements audit.Sink on top of a Pool
//
// RELATED FILES:
// - pool.go: connection pool, driver selection and query stats
// - ../audit/writer.go: buffered writer that calls WriteEvents
package database

import (
	"context"
	"fmt"

	"github.com/willfong/adaptive-auth/internal/audit"
)

// AuditTable is the table audit events are written to
const AuditTable = "auth_audit_events"

const auditColumns = `id, occurred_at, operation, username, device_fingerprint, outcome,
	from_state, to_state, risk_score, risk_level, error_kind, message, generation`

const insertAuditEvents = `INSERT INTO ` + AuditTable + ` (` + auditColumns + `) VALUES (
	:id, :occurred_at, :operation, :username, :device_fingerprint, :outcome,
	:from_state, :to_state, :risk_score, :risk_level, :error_kind, :message, :generation)`

// AuditStore writes audit events to a database
type AuditStore struct {
	pool *Pool
}

// NewAuditStore creates a store on pool. Call EnsureSchema before writing.
func NewAuditStore(pool *Pool) *AuditStore {
	return &AuditStore{pool: pool}
}

// AuditSchema returns the DDL for a normalized driver name. Column types differ
// only in how timestamps are declared.
func AuditSchema(driver string) []string {
	tsType := "TIMESTAMP"
	switch driver {
	case "mysql":
		tsType = "DATETIME(6)"
	case "postgres":
		tsType = "TIMESTAMPTZ"
	}

	table := fmt.Sprintf(`CREATE TABLE IF NOT EXISTS %s (
		id VARCHAR(36) NOT NULL PRIMARY KEY,
		occurred_at %s NOT NULL,
		operation VARCHAR(16) NOT NULL,
		username VARCHAR(255) NOT NULL,
		device_fingerprint VARCHAR(255) NOT NULL,
		outcome VARCHAR(16) NOT NULL,
		from_state VARCHAR(32) NOT NULL,
		to_state VARCHAR(32) NOT NULL,
		risk_score INTEGER NULL,
		risk_level VARCHAR(8) NOT NULL,
		error_kind VARCHAR(32) NOT NULL,
		message TEXT NOT NULL,
		generation BIGINT NOT NULL%s
	)`, AuditTable, tsType, mysqlIndex(driver))

	if driver == "mysql" {
		return []string{table}
	}
	return []string{
		table,
		fmt.Sprintf("CREATE INDEX IF NOT EXISTS idx_%s_occurred_at ON %s (occurred_at)", AuditTable, AuditTable),
	}
}

// MySQL has no CREATE INDEX IF NOT EXISTS, so the index is declared inline.
func mysqlIndex(driver string) string {
	if driver != "mysql" {
		return ""
	}
	return ",\n\t\tINDEX idx_occurred_at (occurred_at)"
}

// EnsureSchema creates the audit table if it does not exist
func (s *AuditStore) EnsureSchema(ctx context.Context) error {
	for _, stmt := range AuditSchema(s.pool.Driver()) {
		if _, err := s.pool.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("create audit schema: %w", err)
		}
	}
	return nil
}

// WriteEvents inserts events with a single multi-row statement
func (s *AuditStore) WriteEvents(ctx context.Context, events []audit.Event) error {
	if len(events) == 0 {
		return nil
	}
	rows := make([]audit.Event, len(events))
	for i, e := range events {
		e.Time = e.Time.UTC()
		rows[i] = e
	}
	if _, err := s.pool.NamedExecContext(ctx, insertAuditEvents, rows); err != nil {
		return fmt.Errorf("insert %d audit events: %w", len(rows), err)
	}
	return nil
}

// Recent returns up to limit events, newest first. An empty username
// matches every user.
func (s *AuditStore) Recent(ctx context.Context, username string, limit int) ([]audit.Event, error) {
	if limit <= 0 {
		limit = 20
	}
	query := `SELECT ` + auditColumns + ` FROM ` + AuditTable
	args := []any{}
	if username != "" {
		query += ` WHERE username = ?`
		args = append(args, username)
	}
	query += ` ORDER BY occurred_at DESC, generation DESC LIMIT ?`
	args = append(args, limit)

	var events []audit.Event
	if err := s.pool.SelectContext(ctx, &events, query, args...); err != nil {
		return nil, fmt.Errorf("list audit events: %w", err)
	}
	return events, nil
}
