package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/spf13/viper"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDefaultConfig_Valid(t *testing.T) {
	require.NoError(t, DefaultConfig().Validate())
}

func TestLoad_Defaults(t *testing.T) {
	v := viper.New()
	SetDefaults(v)

	cfg, err := Load(v)
	require.NoError(t, err)
	assert.Equal(t, EngineBaseURL, cfg.Engine.BaseURL)
	assert.Equal(t, EngineTimeout, cfg.Engine.Timeout)
	assert.Equal(t, RiskThreshold, cfg.Engine.RiskThreshold)
	assert.Equal(t, ResendInterval, cfg.Session.ResendInterval)
	assert.Equal(t, "sqlite", cfg.Audit.Driver)
	assert.True(t, cfg.Audit.Enabled)
}

func TestLoad_FileAndEnv(t *testing.T) {
	path := filepath.Join(t.TempDir(), "authctl.yaml")
	yaml := `
engine:
  base_url: http://engine.internal:9000
  timeout: 3s
session:
  resend_interval: 0s
audit:
  driver: postgresql
  dsn: postgres://u:p@db/audit
  max_open_conns: 8
demo:
  show_otp: true
`
	require.NoError(t, os.WriteFile(path, []byte(yaml), 0o600))
	t.Setenv("AUTHCTL_ENGINE_RISK_THRESHOLD", "150")
	t.Setenv("AUTHCTL_LOG_LEVEL", "debug")

	v := viper.New()
	SetDefaults(v)
	v.SetConfigFile(path)
	require.NoError(t, v.ReadInConfig())

	cfg, err := Load(v)
	require.NoError(t, err)
	assert.Equal(t, "http://engine.internal:9000", cfg.Engine.BaseURL)
	assert.Equal(t, 3*time.Second, cfg.Engine.Timeout)
	assert.Equal(t, 150, cfg.Engine.RiskThreshold)
	assert.Equal(t, time.Duration(0), cfg.Session.ResendInterval)
	assert.Equal(t, "postgres", cfg.Audit.Driver)
	assert.Equal(t, "postgres://u:p@db/audit", cfg.Audit.DSN)
	assert.Equal(t, 8, cfg.Audit.MaxOpenConns)
	assert.Equal(t, DBMaxIdleConns, cfg.Audit.MaxIdleConns)
	assert.True(t, cfg.Demo.ShowOTP)
	assert.Equal(t, "debug", cfg.Log.Level)
	require.NoError(t, cfg.Validate())
}

func TestValidate_CollectsAllErrors(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Engine.BaseURL = "ftp://nowhere"
	cfg.Engine.Timeout = 0
	cfg.Session.ResendInterval = -time.Second
	cfg.Audit.DSN = "x"
	cfg.Audit.Driver = "oracle"
	cfg.Log.Level = "loud"

	err := cfg.Validate()
	require.Error(t, err)
	msg := err.Error()
	assert.Contains(t, msg, "engine.base_url")
	assert.Contains(t, msg, "engine.timeout")
	assert.Contains(t, msg, "session.resend_interval")
	assert.Contains(t, msg, "audit.driver")
	assert.Contains(t, msg, "log.level")
}

func TestValidate_AuditDisabledSkipsAuditChecks(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Audit.Enabled = false
	cfg.Audit.BatchSize = 0
	cfg.Audit.Driver = "oracle"
	cfg.Audit.DSN = "x"
	assert.NoError(t, cfg.Validate())
}

func TestNormalizeDriver(t *testing.T) {
	tests := map[string]string{
		"postgresql": "postgres",
		"PG":         "postgres",
		"sqlite3":    "sqlite",
		"mariadb":    "mysql",
		"mysql":      "mysql",
		"oracle":     "oracle",
	}
	for in, want := range tests {
		assert.Equal(t, want, NormalizeDriver(in), in)
	}
}
