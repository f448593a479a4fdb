package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadDefaults(t *testing.T) {
	cfg, err := NewLoader().Load()
	require.NoError(t, err)

	assert.Equal(t, 8080, cfg.Server.HTTPPort)
	assert.Equal(t, "sqlite", cfg.Database.Driver)
	assert.Equal(t, 60*time.Second, cfg.Providers.UnaryTimeout)
	assert.Equal(t, 300*time.Second, cfg.Providers.StreamTimeout)
	assert.Equal(t, 500, cfg.Cache.Capacity)
	assert.Equal(t, 100*time.Millisecond, cfg.Retry.InitialDelay)
	assert.True(t, cfg.Retry.Jitter)
}

func TestLoadFromYAMLFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(`
server:
  http_port: 9090
database:
  driver: postgres
  host: db.internal
  port: 5432
  user: gate
  name: promptgate
providers:
  unary_timeout: 90s
log:
  level: debug
`), 0o600))

	cfg, err := NewLoader().WithConfigPath(path).Load()
	require.NoError(t, err)

	assert.Equal(t, 9090, cfg.Server.HTTPPort)
	assert.Equal(t, "postgres", cfg.Database.Driver)
	assert.Equal(t, 90*time.Second, cfg.Providers.UnaryTimeout)
	assert.Equal(t, "debug", cfg.Log.Level)
	// Untouched fields keep their defaults.
	assert.Equal(t, 500, cfg.Cache.Capacity)
}

func TestEnvOverridesFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte("server:\n  http_port: 9090\n"), 0o600))

	t.Setenv("PROMPTGATE_SERVER_HTTP_PORT", "7070")
	t.Setenv("PROMPTGATE_PROVIDERS_STREAM_TIMEOUT", "10m")
	t.Setenv("PROMPTGATE_RETRY_JITTER", "false")
	t.Setenv("PROMPTGATE_AUTH_API_KEYS", "key-a, key-b")

	cfg, err := NewLoader().WithConfigPath(path).Load()
	require.NoError(t, err)

	assert.Equal(t, 7070, cfg.Server.HTTPPort)
	assert.Equal(t, 10*time.Minute, cfg.Providers.StreamTimeout)
	assert.False(t, cfg.Retry.Jitter)
	assert.Equal(t, []string{"key-a", "key-b"}, cfg.Auth.APIKeys)
}

func TestMissingFileIsNotAnError(t *testing.T) {
	cfg, err := NewLoader().WithConfigPath("/nonexistent/config.yaml").Load()
	require.NoError(t, err)
	assert.Equal(t, 8080, cfg.Server.HTTPPort)
}

func TestValidateRejectsBadConfig(t *testing.T) {
	t.Setenv("PROMPTGATE_DATABASE_DRIVER", "oracle")
	_, err := NewLoader().Load()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "unsupported database driver")
}

func TestDSN(t *testing.T) {
	pg := DatabaseConfig{Driver: "postgres", Host: "h", Port: 5432, User: "u", Password: "p", Name: "db", SSLMode: "disable"}
	assert.Equal(t, "host=h port=5432 user=u password=p dbname=db sslmode=disable", pg.DSN())

	my := DatabaseConfig{Driver: "mysql", Host: "h", Port: 3306, User: "u", Password: "p", Name: "db"}
	assert.Equal(t, "u:p@tcp(h:3306)/db?charset=utf8mb4&parseTime=True&loc=Local", my.DSN())

	lite := DatabaseConfig{Driver: "sqlite", Name: "gate.db"}
	assert.Equal(t, "gate.db", lite.DSN())
}
