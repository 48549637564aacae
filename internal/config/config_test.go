package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadFileThenEnv(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "tradepost.yaml")
	require.NoError(t, os.WriteFile(path, []byte(`
server:
  addr: ":9000"
storage:
  driver: postgres
  dsn: postgres://file
auth:
  tokenTtl: 30m
secrets:
  tokenSecret: from-file
`), 0o600))

	t.Setenv("TRADEPOST_DATABASE_URL", "postgres://env")
	t.Setenv("TRADEPOST_WEBHOOK_SECRET", "whsec_env")
	t.Setenv("TRADEPOST_CORS_ORIGINS", "https://a.example, https://b.example")
	t.Setenv("TRADEPOST_ALLOW_QUERY_TOKEN", "true")

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, ":9000", cfg.Server.Addr)
	assert.Equal(t, "postgres://env", cfg.Storage.DSN)
	assert.Equal(t, 30*time.Minute, cfg.Auth.TokenTTL)
	assert.Equal(t, "from-file", cfg.Secrets.TokenSecret)
	assert.Equal(t, "whsec_env", cfg.Secrets.WebhookSecret)
	assert.Equal(t, []string{"https://a.example", "https://b.example"}, cfg.Server.CORSOrigins)
	assert.True(t, cfg.Auth.AllowQueryToken)
	assert.Equal(t, "memory", cfg.Cache.Driver)
	require.NoError(t, cfg.Validate())
}

func TestEnvParseErrors(t *testing.T) {
	env := map[string]string{
		"TRADEPOST_REDIS_DB":  "one",
		"TRADEPOST_TOKEN_TTL": "forever",
	}
	cfg := Default()
	err := applyEnv(&cfg, func(k string) (string, bool) { v, ok := env[k]; return v, ok })
	require.Error(t, err)
	assert.Contains(t, err.Error(), "TRADEPOST_REDIS_DB")
	assert.Contains(t, err.Error(), "TRADEPOST_TOKEN_TTL")
}

func TestValidate(t *testing.T) {
	cfg := Default()
	err := cfg.Validate()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "tokenSecret")
	assert.Contains(t, err.Error(), "webhookSecret")

	cfg.Secrets = Secrets{TokenSecret: "s", WebhookSecret: "w"}
	require.NoError(t, cfg.Validate())

	cfg.Cache.Driver = "redis"
	assert.ErrorContains(t, cfg.Validate(), "redisAddr")

	cfg.Cache.Driver = "memcached"
	assert.ErrorContains(t, cfg.Validate(), "not supported")
}

func TestGoogleEnabled(t *testing.T) {
	assert.False(t, Google{ClientID: "id"}.Enabled())
	assert.True(t, Google{ClientID: "id", ClientSecret: "secret"}.Enabled())
}
