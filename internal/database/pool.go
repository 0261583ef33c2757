// Package database persists the audit trail to MySQL, PostgreSQL or SQLite.
package database

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"sync/atomic"
	"time"

	_ "github.com/go-sql-driver/mysql"
	"github.com/jmoiron/sqlx"
	_ "github.com/lib/pq"
	_ "modernc.org/sqlite"

	"github.com/willfong/adaptive-auth/internal/config"
)

func init() {
	// modernc.org/sqlite registers as "sqlite", which sqlx does not map to a bindvar style.
	sqlx.BindDriver("sqlite", sqlx.QUESTION)
}

// ensureParseTime adds parseTime=true to MySQL DSN if not already present.
// This is required for scanning DATETIME columns into time.Time values.
func ensureParseTime(dsn string) string {
	// Check if parseTime is already specified (case-insensitive)
	lower := strings.ToLower(dsn)
	if strings.Contains(lower, "parsetime=") {
		return dsn
	}

	// Add parseTime=true to the query string
	if strings.Contains(dsn, "?") {
		return dsn + "&parseTime=true"
	}
	return dsn + "?parseTime=true"
}

// Pool wraps a sqlx.DB with additional monitoring and lifecycle management
type Pool struct {
	db     *sqlx.DB
	driver string
	config config.DatabaseConfig

	// Metrics
	totalQueries   atomic.Int64
	failedQueries  atomic.Int64
	totalLatencyNs atomic.Int64
}

// NewPool creates a new database connection pool with the given configuration
func NewPool(cfg config.DatabaseConfig) (*Pool, error) {
	if cfg.DSN == "" {
		return nil, fmt.Errorf("database DSN is required")
	}

	driver := config.NormalizeDriver(cfg.Driver)
	if driver == "" {
		driver = config.AuditDriver
	}

	dsn := cfg.DSN
	switch driver {
	case "mysql":
		// Ensure parseTime=true for MySQL to properly scan DATETIME columns
		dsn = ensureParseTime(dsn)
	case "postgres", "sqlite":
	default:
		return nil, fmt.Errorf("unsupported database driver %q", cfg.Driver)
	}

	db, err := sqlx.Open(driver, dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	// SQLite allows a single writer; extra connections only produce SQLITE_BUSY.
	if driver == "sqlite" {
		cfg.MaxOpenConns = 1
		cfg.MaxIdleConns = 1
	}

	// Apply pool configuration
	if cfg.MaxOpenConns > 0 {
		db.SetMaxOpenConns(cfg.MaxOpenConns)
	}
	if cfg.MaxIdleConns > 0 {
		db.SetMaxIdleConns(cfg.MaxIdleConns)
	}
	if cfg.ConnMaxLifetime > 0 {
		db.SetConnMaxLifetime(cfg.ConnMaxLifetime)
	}
	if cfg.ConnMaxIdleTime > 0 {
		db.SetConnMaxIdleTime(cfg.ConnMaxIdleTime)
	}

	pool := &Pool{
		db:     db,
		driver: driver,
		config: cfg,
	}

	return pool, nil
}

// Connect verifies the database connection is working
func (p *Pool) Connect(ctx context.Context) error {
	if err := p.db.PingContext(ctx); err != nil {
		return fmt.Errorf("failed to ping database: %w", err)
	}
	return nil
}

// Close gracefully shuts down the connection pool
func (p *Pool) Close() error {
	return p.db.Close()
}

// Driver returns the registered driver name in use
func (p *Pool) Driver() string {
	return p.driver
}

// Rebind converts a query written with ? placeholders to the driver's bindvar style
func (p *Pool) Rebind(query string) string {
	return p.db.Rebind(query)
}

// SelectContext runs a query and scans all rows into dest
func (p *Pool) SelectContext(ctx context.Context, dest any, query string, args ...any) error {
	start := time.Now()
	err := p.db.SelectContext(ctx, dest, p.db.Rebind(query), args...)
	p.recordQuery(time.Since(start), err)
	return err
}

// ExecContext executes a query that doesn't return rows
func (p *Pool) ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error) {
	start := time.Now()
	result, err := p.db.ExecContext(ctx, p.db.Rebind(query), args...)
	p.recordQuery(time.Since(start), err)
	return result, err
}

// NamedExecContext executes a query with :name parameters bound from arg,
// which may be a struct, a map or a slice of either for batch inserts
func (p *Pool) NamedExecContext(ctx context.Context, query string, arg any) (sql.Result, error) {
	start := time.Now()
	result, err := p.db.NamedExecContext(ctx, query, arg)
	p.recordQuery(time.Since(start), err)
	return result, err
}

// recordQuery updates internal metrics
func (p *Pool) recordQuery(duration time.Duration, err error) {
	p.totalQueries.Add(1)
	p.totalLatencyNs.Add(duration.Nanoseconds())
	if err != nil {
		p.failedQueries.Add(1)
	}
}

// Stats returns current pool statistics
func (p *Pool) Stats() PoolStats {
	dbStats := p.db.Stats()
	return PoolStats{
		OpenConnections:   dbStats.OpenConnections,
		InUse:             dbStats.InUse,
		Idle:              dbStats.Idle,
		WaitCount:         dbStats.WaitCount,
		WaitDuration:      dbStats.WaitDuration,
		MaxIdleClosed:     dbStats.MaxIdleClosed,
		MaxLifetimeClosed: dbStats.MaxLifetimeClosed,
		TotalQueries:      p.totalQueries.Load(),
		FailedQueries:     p.failedQueries.Load(),
		AvgLatency:        p.averageLatency(),
	}
}

func (p *Pool) averageLatency() time.Duration {
	n := p.totalQueries.Load()
	if n == 0 {
		return 0
	}
	return time.Duration(p.totalLatencyNs.Load() / n)
}

// PoolStats contains connection pool and query statistics
type PoolStats struct {
	// Connection pool stats
	OpenConnections   int
	InUse             int
	Idle              int
	WaitCount         int64
	WaitDuration      time.Duration
	MaxIdleClosed     int64
	MaxLifetimeClosed int64

	// Query stats
	TotalQueries  int64
	FailedQueries int64
	AvgLatency    time.Duration
}
