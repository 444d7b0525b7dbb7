package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadMissingFileUsesDefaults(t *testing.T) {
	cfg, err := Load(filepath.Join(t.TempDir(), "nope.toml"))
	require.NoError(t, err)
	assert.Equal(t, Default().Training, cfg.Training)
	assert.Equal(t, 229, cfg.Training.ImageSize)
	assert.Equal(t, 24*time.Hour, cfg.Server.SessionTTL.Duration)
	assert.False(t, cfg.Server.SecureCookies)
}

func TestLoadFileAndEnvOverrides(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.toml")
	require.NoError(t, os.WriteFile(path, []byte(`
[server]
port = "9000"
session_ttl = "30m"

[database]
driver = "postgres"
dsn = "host=db"

[training]
epochs = 3
`), 0o644))

	t.Setenv("DR_SECRET_KEY", "s3cret")
	t.Setenv("PORT", "7000")
	t.Setenv("DR_MAX_UPLOAD_MB", "4")
	t.Setenv("DR_SECURE_COOKIES", "true")

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, "7000", cfg.Server.Port)
	assert.Equal(t, "s3cret", cfg.Server.SecretKey)
	assert.Equal(t, int64(4), cfg.Server.MaxUploadMB)
	assert.True(t, cfg.Server.SecureCookies)
	assert.Equal(t, 30*time.Minute, cfg.Server.SessionTTL.Duration)
	assert.Equal(t, "postgres", cfg.Database.Driver)
	assert.Equal(t, 3, cfg.Training.Epochs)
	// Untouched keys keep their defaults.
	assert.Equal(t, 16, cfg.Training.BatchSize)
}

func TestLoadRejectsUnknownDriver(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.toml")
	require.NoError(t, os.WriteFile(path, []byte("[database]\ndriver = \"mysql\"\n"), 0o644))

	_, err := Load(path)
	assert.Error(t, err)
}

func TestLoadRejectsBadTOML(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.toml")
	require.NoError(t, os.WriteFile(path, []byte("[server\n"), 0o644))

	_, err := Load(path)
	assert.Error(t, err)
}

func TestShippedConfigParses(t *testing.T) {
	cfg, err := Load(filepath.Join("..", "..", "config", "config.toml"))
	require.NoError(t, err)
	assert.Equal(t, Default().Dataset, cfg.Dataset)
	assert.Equal(t, Default().Training, cfg.Training)
}
