package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func envMap(m map[string]string) func(string) string {
	return func(k string) string { return m[k] }
}

func TestDefaultIsValid(t *testing.T) {
	cfg := Default()
	require.NoError(t, cfg.Validate())
	assert.Equal(t, BackendMemory, cfg.Database.Backend)
	assert.Equal(t, 4, cfg.Retry.MaxAttempts)
	assert.Equal(t, 25*time.Millisecond, cfg.Retry.InitialInterval)
}

func TestApplyEnv(t *testing.T) {
	cfg := Default()
	err := applyEnv(&cfg, envMap(map[string]string{
		"IDRESOLVE_ADDR":      ":9000",
		"STORE_BACKEND":       "postgres",
		"DATABASE_URL":        "postgres://localhost/idresolve",
		"DB_LOCK_TIMEOUT":     "750ms",
		"RETRY_MAX_ATTEMPTS":  "6",
		"RATE_LIMIT_DISABLED": "true",
		"KAFKA_BROKERS":       "k1:9092, k2:9092,",
	}))
	require.NoError(t, err)
	assert.Equal(t, ":9000", cfg.Server.Addr)
	assert.Equal(t, BackendPostgres, cfg.Database.Backend)
	assert.Equal(t, 750*time.Millisecond, cfg.Database.LockTimeout)
	assert.Equal(t, 6, cfg.Retry.MaxAttempts)
	assert.True(t, cfg.RateLimit.Disabled)
	assert.Equal(t, []string{"k1:9092", "k2:9092"}, cfg.Kafka.Brokers)
	assert.NoError(t, cfg.Validate())
}

func TestApplyEnv_Malformed(t *testing.T) {
	cfg := Default()
	err := applyEnv(&cfg, envMap(map[string]string{"RETRY_MAX_ATTEMPTS": "many"}))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "RETRY_MAX_ATTEMPTS")
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*Config)
	}{
		{name: "postgres without url", mutate: func(c *Config) { c.Database.Backend = BackendPostgres }},
		{name: "unknown backend", mutate: func(c *Config) { c.Database.Backend = "sqlite" }},
		{name: "no attempts", mutate: func(c *Config) { c.Retry.MaxAttempts = 0 }},
		{name: "zero rate limit window", mutate: func(c *Config) { c.RateLimit.Window = 0 }},
		{name: "zero outbox batch", mutate: func(c *Config) { c.Outbox.BatchSize = 0 }},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := Default()
			tt.mutate(&cfg)
			assert.Error(t, cfg.Validate())
		})
	}
}

func TestLoad_FileThenEnv(t *testing.T) {
	path := filepath.Join(t.TempDir(), "idresolve.yaml")
	require.NoError(t, os.WriteFile(path, []byte(`
server:
  addr: ":7000"
retry:
  maxAttempts: 3
  initialInterval: 10ms
log:
  level: debug
`), 0o600))

	t.Setenv("IDRESOLVE_CONFIG", path)
	t.Setenv("LOG_LEVEL", "warn")

	cfg, err := Load()
	require.NoError(t, err)
	assert.Equal(t, ":7000", cfg.Server.Addr)
	assert.Equal(t, 3, cfg.Retry.MaxAttempts)
	assert.Equal(t, 10*time.Millisecond, cfg.Retry.InitialInterval)
	assert.Equal(t, "warn", cfg.Log.Level, "environment overrides the file")
}
