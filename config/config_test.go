package config

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadFileDecodesAllSections(t *testing.T) {
	cfg, err := LoadFile("testdata/config.toml")
	require.NoError(t, err)

	assert.Equal(t, "mongodb://localhost:27017/zecflow", cfg.Mongo.URI)
	assert.Equal(t, "redis://localhost:6379/0", cfg.Queue.RedisURL)
	assert.Equal(t, 8, cfg.Queue.Concurrency)
	assert.Equal(t, "file-jwt-secret", cfg.Auth.JWTSecret)
	assert.Equal(t, 45*time.Second, cfg.Zcash.RPCTimeout)
	assert.Equal(t, "https://nildb.example", cfg.NilDB.BaseURL)
	assert.Equal(t, []string{"https://app.example"}, cfg.CORS)
	assert.Equal(t, 25*time.Second, cfg.KeepAlive)
}

func TestLoadFileMissingPathReturnsDefaults(t *testing.T) {
	cfg, err := LoadFile("testdata/does-not-exist.toml")
	require.NoError(t, err)
	assert.Equal(t, Default(), cfg)
}

func TestLoadFileRejectsUnknownKeys(t *testing.T) {
	_, err := LoadFile("testdata/unknown-key.toml")
	assert.Error(t, err)
}

func TestApplyEnvOverridesFile(t *testing.T) {
	cfg, err := LoadFile("testdata/config.toml")
	require.NoError(t, err)

	t.Setenv("JWT_SECRET", "env-jwt-secret")
	t.Setenv("CORS_ORIGINS", "https://a.example,https://b.example")
	cfg.ApplyEnv()

	assert.Equal(t, "env-jwt-secret", cfg.Auth.JWTSecret)
	assert.Equal(t, []string{"https://a.example", "https://b.example"}, cfg.CORS)
	// Untouched env vars leave the file's value in place.
	assert.Equal(t, "mongodb://localhost:27017/zecflow", cfg.Mongo.URI)
}

func TestValidateRequiresCoreSecrets(t *testing.T) {
	cfg := Default()
	assert.Error(t, cfg.Validate())

	cfg.Mongo.URI = "mongodb://x"
	cfg.Queue.RedisURL = "redis://x"
	cfg.Auth.JWTSecret = "s"
	cfg.Auth.EncryptionKey = "k"
	assert.NoError(t, cfg.Validate())
}

func TestDumpMasksSecretsButKeepsStructure(t *testing.T) {
	cfg, err := LoadFile("testdata/config.toml")
	require.NoError(t, err)

	raw, err := Dump(cfg)
	require.NoError(t, err)
	out := string(raw)

	assert.NotContains(t, out, "file-jwt-secret")
	assert.NotContains(t, out, "filepassword")
	assert.Contains(t, out, "nildb.example")
}
