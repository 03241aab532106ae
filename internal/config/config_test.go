package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadConfigDefaults(t *testing.T) {
	cfg, err := LoadConfig(filepath.Join(t.TempDir(), "missing.yaml"))
	require.NoError(t, err)

	assert.Equal(t, 8080, cfg.Server.Port)
	assert.Equal(t, 10*time.Second, cfg.Provider.Timeout())
	assert.Equal(t, "sandbox", cfg.Provider.PayPal.Mode)
	assert.Equal(t, "authenticated", cfg.Auth.Audience)
	assert.False(t, cfg.Redis.Enabled())
	assert.Same(t, cfg, GlobalConfig)
}

func TestLoadConfigFileAndEnvOverride(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	content := `
server:
  port: 9090
mysql:
  host: "db"
  port: 3307
  user: "app"
  password: "secret"
  database: "psp"
provider:
  timeout_seconds: 3
`
	require.NoError(t, os.WriteFile(path, []byte(content), 0o600))

	t.Setenv("PSP_SERVER_PORT", "9191")
	t.Setenv("PSP_PROVIDER_STRIPE_SECRET_KEY", "sk_test_env")
	t.Setenv("PSP_REDIS_HOST", "cache")

	cfg, err := LoadConfig(path)
	require.NoError(t, err)

	assert.Equal(t, 9191, cfg.Server.Port)
	assert.Equal(t, "sk_test_env", cfg.Provider.Stripe.SecretKey)
	assert.Equal(t, 3*time.Second, cfg.Provider.Timeout())
	assert.True(t, cfg.Redis.Enabled())
	assert.Equal(t, "app:secret@tcp(db:3307)/psp?charset=utf8mb4&parseTime=True&loc=UTC", cfg.MySQL.BuildDSN())
}

func TestBuildDSNPrefersExplicitDSN(t *testing.T) {
	c := MySQLConfig{DSN: "user:pw@tcp(h:1)/x", Host: "ignored"}
	assert.Equal(t, "user:pw@tcp(h:1)/x", c.BuildDSN())
}
