package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func setSecrets(t *testing.T) {
	t.Setenv("JWT_SECRET", "jwt-secret-for-tests")
	t.Setenv("MESSAGE_CIPHER_SECRET", "cipher-secret-for-tests")
}

func TestLoad_Defaults(t *testing.T) {
	setSecrets(t)

	cfg, err := Load("")
	require.NoError(t, err)

	assert.Equal(t, 30*time.Second, cfg.Realtime.KeepAliveInterval)
	assert.Equal(t, 30*time.Second, cfg.SessionCache.TTL)
	assert.Equal(t, "chat-service", cfg.Server.ServiceName)
	assert.False(t, cfg.Realtime.RelayEnabled)
}

func TestLoad_FileThenEnv(t *testing.T) {
	setSecrets(t)
	dir := t.TempDir()
	path := filepath.Join(dir, "chat.yaml")
	content := `
server:
  port: 9000
  allowed_origins: ["https://app.example.com"]
realtime:
  workers: 8
  relay_enabled: true
cassandra:
  hosts: ["cass-1", "cass-2"]
`
	require.NoError(t, os.WriteFile(path, []byte(content), 0o600))
	t.Setenv("DISPATCH_WORKERS", "2")

	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, 9000, cfg.Server.Port)
	assert.Equal(t, []string{"https://app.example.com"}, cfg.Server.AllowedOrigins)
	assert.Equal(t, 2, cfg.Realtime.Workers)
	assert.True(t, cfg.Realtime.RelayEnabled)
	assert.Equal(t, []string{"cass-1", "cass-2"}, cfg.Cassandra.Hosts)
}

func TestLoad_SecretFromFile(t *testing.T) {
	setSecrets(t)
	dir := t.TempDir()
	secretPath := filepath.Join(dir, "cipher")
	require.NoError(t, os.WriteFile(secretPath, []byte("from-file-secret\n"), 0o600))
	t.Setenv("MESSAGE_CIPHER_SECRET_FILE", secretPath)

	cfg, err := Load("")
	require.NoError(t, err)
	assert.Equal(t, "from-file-secret", cfg.Cipher.Secret)
}

func TestValidate(t *testing.T) {
	t.Run("missing cipher secret", func(t *testing.T) {
		cfg := Defaults()
		cfg.JWT.Secret = "x"
		assert.Error(t, cfg.Validate())
	})

	t.Run("short secrets in production", func(t *testing.T) {
		cfg := Defaults()
		cfg.Server.Environment = "production"
		cfg.JWT.Secret = "short"
		cfg.Cipher.Secret = "short"
		assert.Error(t, cfg.Validate())
	})

	t.Run("valid", func(t *testing.T) {
		cfg := Defaults()
		cfg.JWT.Secret = "x"
		cfg.Cipher.Secret = "y"
		assert.NoError(t, cfg.Validate())
	})
}
