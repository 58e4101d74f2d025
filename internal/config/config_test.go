package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadConfig_Defaults(t *testing.T) {
	cfg, err := LoadConfig(t.TempDir())
	require.NoError(t, err)

	assert.Equal(t, 2, cfg.Assignment.LineCapacity)
	assert.Equal(t, "Padrão", cfg.Assignment.DefaultSegment)
	assert.Equal(t, 3, cfg.Gateway.MaxAttempts)
	assert.Equal(t, "GATEWAY_EVENTS", cfg.NATS.GatewayEvents.Stream)
	assert.Equal(t, []string{"gateway.events.>"}, cfg.NATS.GatewayEvents.SubjectList)
	assert.Equal(t, 30*time.Second, cfg.Admission.ConfigCacheTTL)
	assert.Equal(t, 8, cfg.WorkerPools.Sweep.PoolSize)
}

func TestLoadConfig_FileAndEnv(t *testing.T) {
	dir := t.TempDir()
	yaml := []byte(`
logLevel: debug
assignment:
  lineCapacity: 3
gateway:
  baseURL: http://evolution:8080
`)
	require.NoError(t, os.WriteFile(filepath.Join(dir, "default.yaml"), yaml, 0o600))

	t.Setenv("POSTGRES_DSN", "postgres://u:p@db:5432/novendx")
	t.Setenv("REDIS_URL", "redis://cache:6379/0")
	t.Setenv("ASSIGNMENT_SWEEPINTERVAL", "2m")

	cfg, err := LoadConfig(dir)
	require.NoError(t, err)

	assert.Equal(t, "debug", cfg.LogLevel)
	assert.Equal(t, 3, cfg.Assignment.LineCapacity)
	assert.Equal(t, "http://evolution:8080", cfg.Gateway.BaseURL)
	assert.Equal(t, "postgres://u:p@db:5432/novendx", cfg.Database.PostgresDSN)
	assert.Equal(t, "redis://cache:6379/0", cfg.Redis.URL)
	assert.Equal(t, 2*time.Minute, cfg.Assignment.SweepInterval)
}

func TestLocation(t *testing.T) {
	cfg := &Config{}
	assert.Equal(t, time.UTC, cfg.Location())

	cfg.Timezone = "Not/AZone"
	assert.Equal(t, time.UTC, cfg.Location())

	cfg.Timezone = "America/Sao_Paulo"
	assert.Equal(t, "America/Sao_Paulo", cfg.Location().String())
}
