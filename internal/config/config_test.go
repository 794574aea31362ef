package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDefaultConfig(t *testing.T) {
	cfg := DefaultConfig()

	assert.Equal(t, "http://localhost:3000", cfg.Backend.BaseURL)
	assert.Equal(t, "/greeting", cfg.Backend.GreetingPath)
	assert.Equal(t, "/chat", cfg.Backend.ChatPath)
	assert.Zero(t, cfg.Backend.Timeout)
	assert.Equal(t, DefaultErrorMessage, cfg.Conversation.ErrorMessage)
	assert.Equal(t, 1, cfg.Conversation.RetryAttempts)
	assert.False(t, cfg.Conversation.RequireIdle)
	assert.True(t, cfg.Avatar.CameraZoomed)
	assert.Equal(t, ":8080", cfg.Server.Addr)
}

func TestLoader_MissingFileUsesDefaults(t *testing.T) {
	path := filepath.Join(t.TempDir(), "missing.yaml")

	cfg, err := NewLoader(path).Load()
	require.NoError(t, err)
	assert.Equal(t, DefaultConfig().Backend.BaseURL, cfg.Backend.BaseURL)
}

func TestLoader_ReadsFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	content := `
backend:
  base_url: http://backend.test
  timeout: 5s
conversation:
  retry_attempts: 3
log:
  level: debug
`
	require.NoError(t, os.WriteFile(path, []byte(content), 0644))

	loader := NewLoader(path)
	cfg, err := loader.Load()
	require.NoError(t, err)

	assert.Equal(t, "http://backend.test", cfg.Backend.BaseURL)
	assert.Equal(t, 5*time.Second, cfg.Backend.Timeout)
	assert.Equal(t, 3, cfg.Conversation.RetryAttempts)
	assert.Equal(t, "debug", cfg.Log.Level)
	// Untouched keys keep their defaults.
	assert.Equal(t, "/chat", cfg.Backend.ChatPath)
	assert.Equal(t, path, loader.Path())
}

func TestLoader_EnvOverride(t *testing.T) {
	t.Setenv("AVATARCHAT_BACKEND_BASE_URL", "http://from-env")

	cfg, err := NewLoader(filepath.Join(t.TempDir(), "none.yaml")).Load()
	require.NoError(t, err)
	assert.Equal(t, "http://from-env", cfg.Backend.BaseURL)
}

func TestSave_RoundTrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), "nested", "config.yaml")

	cfg := DefaultConfig()
	cfg.Server.Addr = ":9999"
	cfg.Avatar.CameraZoomed = false
	require.NoError(t, Save(cfg, path))

	loaded, err := NewLoader(path).Load()
	require.NoError(t, err)
	assert.Equal(t, ":9999", loaded.Server.Addr)
	assert.False(t, loaded.Avatar.CameraZoomed)
}
