// Package config contains compile-time defaults for authctl.
// Every value here can be overridden by config file, environment or flag.
package config

import "time"

// =============================================================================
// RISK ENGINE
// =============================================================================

const (
	// EngineBaseURL is where the risk engine listens by default
	EngineBaseURL = "http://localhost:8000"

	// EngineTimeout bounds one request including reading the body
	EngineTimeout = 10 * time.Second

	// RiskThreshold is attached to login assessments, which do not carry one
	RiskThreshold = 100

	// MaxResponseBytes caps how much of an engine response is read (1 MiB)
	MaxResponseBytes = 1 << 20
)

// =============================================================================
// SESSION
// =============================================================================

const (
	// ResendInterval is the minimum time between passcode issuances (0 disables)
	ResendInterval = 30 * time.Second

	// DemoUsername is the account used by simulate and seed
	DemoUsername = "testuser"

	// ShowDemoOTP surfaces passcodes echoed by demo engines
	ShowDemoOTP = false
)

// =============================================================================
// AUDIT TRAIL
// =============================================================================

const (
	// AuditEnabled records one event per session operation
	AuditEnabled = true

	// AuditDriver is used when a DSN is configured without a driver
	AuditDriver = "sqlite"

	// AuditBufferSize is the number of events queued before new ones are dropped
	AuditBufferSize = 1024

	// AuditBatchSize is the max events per database write
	AuditBatchSize = 50

	// AuditFlushInterval is how often incomplete batches are written
	AuditFlushInterval = 500 * time.Millisecond

	// AuditShutdownTimeout is how long exit waits for pending events
	AuditShutdownTimeout = 5 * time.Second
)

// =============================================================================
// DATABASE DEFAULTS
// =============================================================================

const (
	// DBMaxOpenConns is maximum open connections in the pool
	DBMaxOpenConns = 4

	// DBMaxIdleConns is maximum idle connections in the pool
	DBMaxIdleConns = 2

	// DBConnMaxLifetime is how long a connection can be reused
	DBConnMaxLifetime = 5 * time.Minute

	// DBConnMaxIdleTime is how long an idle connection is kept
	DBConnMaxIdleTime = 1 * time.Minute
)

// =============================================================================
// LOGGING
// =============================================================================

const (
	// LogLevel applies to the log file; the console only shows warnings
	LogLevel = "info"

	// LogMaxSizeMB is the size at which the log file is rotated
	LogMaxSizeMB = 10

	// LogMaxBackups is how many rotated files are kept
	LogMaxBackups = 3

	// LogMaxAgeDays is how long rotated files are kept
	LogMaxAgeDays = 28
)

// =============================================================================
// LOCAL ENGINE (authctl serve)
// =============================================================================

const (
	// ServeAddr is the listen address of the reference engine
	ServeAddr = "127.0.0.1:8000"

	// ServeShutdownTimeout is max wait time for graceful shutdown
	ServeShutdownTimeout = 10 * time.Second
)
