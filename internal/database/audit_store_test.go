package database

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/willfong/adaptive-auth/internal/audit"
	"github.com/willfong/adaptive-auth/internal/config"
)

func newSQLiteStore(t *testing.T) (*Pool, *AuditStore) {
	t.Helper()
	pool, err := NewPool(config.DatabaseConfig{
		Driver: "sqlite3",
		DSN:    filepath.Join(t.TempDir(), "audit.db"),
	})
	require.NoError(t, err)
	t.Cleanup(func() { pool.Close() })

	ctx := context.Background()
	require.NoError(t, pool.Connect(ctx))
	store := NewAuditStore(pool)
	require.NoError(t, store.EnsureSchema(ctx))
	return pool, store
}

func TestEnsureParseTime(t *testing.T) {
	tests := []struct {
		dsn  string
		want string
	}{
		{"u:p@tcp(db:3306)/audit", "u:p@tcp(db:3306)/audit?parseTime=true"},
		{"u:p@tcp(db:3306)/audit?tls=true", "u:p@tcp(db:3306)/audit?tls=true&parseTime=true"},
		{"u:p@tcp(db:3306)/audit?ParseTime=false", "u:p@tcp(db:3306)/audit?ParseTime=false"},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, ensureParseTime(tt.dsn))
	}
}

func TestNewPool_Validation(t *testing.T) {
	_, err := NewPool(config.DatabaseConfig{Driver: "sqlite"})
	assert.Error(t, err)

	_, err = NewPool(config.DatabaseConfig{Driver: "oracle", DSN: "x"})
	assert.ErrorContains(t, err, "unsupported database driver")
}

func TestPool_Rebind(t *testing.T) {
	pg, err := NewPool(config.DatabaseConfig{Driver: "postgresql", DSN: "postgres://u:p@localhost/audit?sslmode=disable"})
	require.NoError(t, err)
	defer pg.Close()
	assert.Equal(t, "postgres", pg.Driver())
	assert.Equal(t, "SELECT 1 WHERE a = $1 AND b = $2", pg.Rebind("SELECT 1 WHERE a = ? AND b = ?"))

	my, err := NewPool(config.DatabaseConfig{Driver: "mysql", DSN: "u:p@tcp(localhost:3306)/audit"})
	require.NoError(t, err)
	defer my.Close()
	assert.Equal(t, "SELECT 1 WHERE a = ?", my.Rebind("SELECT 1 WHERE a = ?"))
}

func TestAuditStore_WriteAndList(t *testing.T) {
	pool, store := newSQLiteStore(t)
	ctx := context.Background()
	base := time.Date(2026, 10, 16, 9, 0, 0, 0, time.UTC)
	score := 195

	events := []audit.Event{
		{ID: "e1", Time: base, Operation: "login", Username: "alice", Fingerprint: "phone",
			Outcome: audit.OutcomeSuccess, FromState: "Unauthenticated", ToState: "AwaitingChallenge",
			RiskScore: &score, RiskLevel: "high", Message: "Additional verification required."},
		{ID: "e2", Time: base.Add(time.Second), Operation: "verify", Username: "alice",
			Outcome: audit.OutcomeFailure, FromState: "AwaitingChallenge", ToState: "AwaitingChallenge",
			ErrorKind: "remote_rejection", Message: "Invalid OTP. 2 attempts remaining"},
		{ID: "e3", Time: base.Add(2 * time.Second), Operation: "logout", Username: "bob",
			Outcome: audit.OutcomeSuccess, FromState: "Authenticated", ToState: "Unauthenticated", Generation: 1},
	}
	require.NoError(t, store.WriteEvents(ctx, events))
	require.NoError(t, store.WriteEvents(ctx, nil))

	all, err := store.Recent(ctx, "", 10)
	require.NoError(t, err)
	require.Len(t, all, 3)
	assert.Equal(t, "e3", all[0].ID)
	assert.Equal(t, uint64(1), all[0].Generation)
	assert.Nil(t, all[0].RiskScore)

	alice, err := store.Recent(ctx, "alice", 1)
	require.NoError(t, err)
	require.Len(t, alice, 1)
	assert.Equal(t, "e2", alice[0].ID)
	assert.Equal(t, audit.OutcomeFailure, alice[0].Outcome)
	assert.Equal(t, "remote_rejection", alice[0].ErrorKind)

	first, err := store.Recent(ctx, "alice", 5)
	require.NoError(t, err)
	require.Len(t, first, 2)
	require.NotNil(t, first[1].RiskScore)
	assert.Equal(t, 195, *first[1].RiskScore)
	assert.Equal(t, "phone", first[1].Fingerprint)
	assert.True(t, base.Equal(first[1].Time), "got %s", first[1].Time)

	assert.GreaterOrEqual(t, pool.Stats().TotalQueries, int64(5))
	assert.Equal(t, int64(0), pool.Stats().FailedQueries)
}

func TestAuditStore_DuplicateIDFails(t *testing.T) {
	pool, store := newSQLiteStore(t)
	ctx := context.Background()
	e := audit.Event{ID: "dup", Time: time.Now(), Operation: "login", Outcome: audit.OutcomeSuccess}

	require.NoError(t, store.WriteEvents(ctx, []audit.Event{e}))
	assert.Error(t, store.WriteEvents(ctx, []audit.Event{e}))
	assert.Equal(t, int64(1), pool.Stats().FailedQueries)
}

func TestAuditStore_SchemaIdempotent(t *testing.T) {
	_, store := newSQLiteStore(t)
	assert.NoError(t, store.EnsureSchema(context.Background()))
}

func TestAuditStore_BehindWriter(t *testing.T) {
	_, store := newSQLiteStore(t)
	w := audit.NewWriter(store, audit.WriterConfig{BatchSize: 4}, nil)
	w.Start()
	for i := 0; i < 10; i++ {
		w.Record(audit.Event{Operation: "simulate", Outcome: audit.OutcomeSuccess,
			FromState: "Unauthenticated", ToState: "SimulationDisplay"})
	}
	require.NoError(t, w.Stop(5*time.Second))
	assert.Equal(t, int64(10), w.Stats().Written)

	events, err := store.Recent(context.Background(), "", 100)
	require.NoError(t, err)
	assert.Len(t, events, 10)
}

func TestAuditSchema_PerDriver(t *testing.T) {
	my := AuditSchema("mysql")
	require.Len(t, my, 1)
	assert.Contains(t, my[0], "DATETIME(6)")
	assert.Contains(t, my[0], "INDEX idx_occurred_at")

	pg := AuditSchema("postgres")
	require.Len(t, pg, 2)
	assert.Contains(t, pg[0], "TIMESTAMPTZ")
	assert.Contains(t, pg[1], "CREATE INDEX IF NOT EXISTS")

	lite := AuditSchema("sqlite")
	require.Len(t, lite, 2)
	assert.NotContains(t, lite[0], "INDEX")
}
