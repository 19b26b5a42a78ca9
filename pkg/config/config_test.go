package config

import (
	"os"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadRequiresDatabaseURL(t *testing.T) {
	globalConfig = nil
	os.Unsetenv("DATABASE_URL")

	_, err := Load()
	require.Error(t, err)

	var cfgErr *ConfigError
	assert.ErrorAs(t, err, &cfgErr)
	assert.Equal(t, "DATABASE_URL", cfgErr.Field)
}

func TestLoadWithEnvironmentVariables(t *testing.T) {
	globalConfig = nil
	os.Setenv("DATABASE_URL", "postgres://localhost/watchtower?sslmode=disable")
	os.Setenv("MAX_CLIENTS", "250")
	os.Setenv("CLEANUP_ENABLED", "false")
	os.Setenv("CLIENT_TIMEOUT_MS", "60000")
	defer func() {
		os.Unsetenv("DATABASE_URL")
		os.Unsetenv("MAX_CLIENTS")
		os.Unsetenv("CLEANUP_ENABLED")
		os.Unsetenv("CLIENT_TIMEOUT_MS")
	}()

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, "postgres://localhost/watchtower?sslmode=disable", cfg.Database.URL)
	assert.Equal(t, 250, cfg.Bus.MaxClients)
	assert.False(t, cfg.Retention.DeleteEnabled)
	assert.Equal(t, 60_000_000_000, int(cfg.Bus.ClientTimeout))
}

func TestValidateRejectsBadBreakerThreshold(t *testing.T) {
	cfg := Default()
	cfg.Database.URL = "postgres://localhost/watchtower"
	cfg.Breaker.FailureThreshold = 150

	err := validate(cfg)
	require.Error(t, err)
}

func TestValidateAcceptsDefaults(t *testing.T) {
	cfg := Default()
	cfg.Database.URL = "postgres://localhost/watchtower"

	assert.NoError(t, validate(cfg))
}

func TestGetPanicsBeforeLoad(t *testing.T) {
	globalConfig = nil

	assert.Panics(t, func() {
		Get()
	})
}

func TestGetReturnsLoadedInstance(t *testing.T) {
	globalConfig = nil
	os.Setenv("DATABASE_URL", "postgres://localhost/watchtower")
	defer os.Unsetenv("DATABASE_URL")

	cfg1, err := Load()
	require.NoError(t, err)

	cfg2 := Get()
	assert.Same(t, cfg1, cfg2)
}

func TestFileExists(t *testing.T) {
	tmpFile, err := os.CreateTemp("", "watchtower-config-*")
	require.NoError(t, err)
	defer os.Remove(tmpFile.Name())
	tmpFile.Close()

	assert.True(t, fileExists(tmpFile.Name()))
	assert.False(t, fileExists("/non/existing/file"))
}
