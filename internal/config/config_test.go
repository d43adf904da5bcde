package config_test

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"progression-server/internal/config"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func useSecretsDir(t *testing.T, secrets map[string]string) {
	t.Helper()
	dir := t.TempDir()
	for name, value := range secrets {
		require.NoError(t, os.WriteFile(filepath.Join(dir, name), []byte(value), 0o600))
	}
	prev := config.SecretsDir
	config.SecretsDir = dir
	t.Cleanup(func() { config.SecretsDir = prev })
}

func TestReadSecret(t *testing.T) {
	t.Run("file wins over env", func(t *testing.T) {
		useSecretsDir(t, map[string]string{"db_password": "  from-file\n"})
		t.Setenv("DB_PASSWORD", "from-env")

		v, err := config.ReadSecret("db_password", "DB_PASSWORD")
		require.NoError(t, err)
		assert.Equal(t, "from-file", v)
	})

	t.Run("env fallback", func(t *testing.T) {
		useSecretsDir(t, nil)
		t.Setenv("DB_PASSWORD", "from-env")

		v, err := config.ReadSecret("db_password", "DB_PASSWORD")
		require.NoError(t, err)
		assert.Equal(t, "from-env", v)
	})

	t.Run("empty file is an error", func(t *testing.T) {
		useSecretsDir(t, map[string]string{"db_password": "   "})
		_, err := config.ReadSecret("db_password", "DB_PASSWORD")
		assert.Error(t, err)
	})

	t.Run("missing everywhere", func(t *testing.T) {
		useSecretsDir(t, nil)
		t.Setenv("DB_PASSWORD", "")
		_, err := config.ReadSecret("db_password", "DB_PASSWORD")
		assert.Error(t, err)
	})
}

func TestLoadConfig(t *testing.T) {
	t.Run("defaults and secrets", func(t *testing.T) {
		useSecretsDir(t, map[string]string{"db_password": "pw", "inter_service_secret": "s3cret"})
		t.Setenv("DB_HOST", "db")
		t.Setenv("LOCK_BACKEND", "redis")
		t.Setenv("LOCK_TTL", "5s")
		t.Setenv("CORS_ALLOWED_ORIGINS", "https://a.example,https://b.example")

		cfg, err := config.LoadConfig()
		require.NoError(t, err)
		assert.Equal(t, "8090", cfg.Port)
		assert.Equal(t, config.LockBackendRedis, cfg.LockBackend)
		assert.Equal(t, 5*time.Second, cfg.LockTTL)
		assert.Equal(t, []string{"https://a.example", "https://b.example"}, cfg.AllowedOrigins)
		assert.Equal(t, "s3cret", cfg.InterServiceSecret)
		assert.Equal(t, "postgres://postgres:pw@db:5432/progression?sslmode=disable", cfg.GetDSN())
		assert.NotContains(t, cfg.RedactedDSN(), "pw@")
	})

	t.Run("unknown lock backend", func(t *testing.T) {
		useSecretsDir(t, map[string]string{"db_password": "pw", "inter_service_secret": "s3cret"})
		t.Setenv("LOCK_BACKEND", "etcd")

		_, err := config.LoadConfig()
		assert.ErrorContains(t, err, "LOCK_BACKEND")
	})

	t.Run("missing inter-service secret", func(t *testing.T) {
		useSecretsDir(t, map[string]string{"db_password": "pw"})
		t.Setenv("INTER_SERVICE_SECRET", "")

		_, err := config.LoadConfig()
		assert.Error(t, err)
	})
}
