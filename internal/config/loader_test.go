package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoad_Defaults(t *testing.T) {
	cfg, err := Load("")
	require.NoError(t, err)

	assert.Equal(t, "0.0.0.0:8080", cfg.Server.Addr())
	assert.Equal(t, time.Minute, cfg.RateLimit.Window())
	assert.Equal(t, 5*time.Minute, cfg.Cache.ValidationTTL())
	assert.Equal(t, 12, cfg.Rotation.ExpiryMonths)
	assert.Equal(t, 7, cfg.Rotation.TransitionDays)
	assert.Equal(t, []string{"/api/shop/query"}, cfg.Auth.QueryPaths)
	assert.True(t, cfg.Scheduler.Enabled)
	assert.Equal(t, "info", cfg.Log.Level)
}

func TestLoad_EnvOverride(t *testing.T) {
	t.Setenv("GATEKEEPER_SERVER_PORT", "9090")
	t.Setenv("GATEKEEPER_RATE_LIMIT_WINDOW_SECONDS", "30")
	t.Setenv("GATEKEEPER_CACHE_IN_MEMORY", "true")

	cfg, err := Load("")
	require.NoError(t, err)

	assert.Equal(t, 9090, cfg.Server.Port)
	assert.Equal(t, 30*time.Second, cfg.RateLimit.Window())
	assert.True(t, cfg.Cache.InMemory)
}

func TestLoad_File(t *testing.T) {
	path := filepath.Join(t.TempDir(), "gatekeeper.yaml")
	require.NoError(t, os.WriteFile(path, []byte(`
server:
  port: 8443
auth:
  public_operations:
    - IntrospectionQuery
rotation:
  transition_days: 14
`), 0o600))

	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, 8443, cfg.Server.Port)
	assert.Equal(t, []string{"IntrospectionQuery"}, cfg.Auth.PublicOperations)
	assert.Equal(t, 14, cfg.Rotation.TransitionDays)
	assert.Equal(t, 12, cfg.Rotation.ExpiryMonths, "unset keys keep their defaults")
}

func TestLoad_Invalid(t *testing.T) {
	t.Setenv("GATEKEEPER_RATE_LIMIT_WINDOW_SECONDS", "0")
	_, err := Load("")
	assert.Error(t, err)

	_, err = Load("/nonexistent/gatekeeper.yaml")
	assert.Error(t, err)
}
