package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestDefaultConfigIsValid(t *testing.T) {
	require.NoError(t, defaultConfig().Validate())
}

func TestLoadFromFileAndEnv(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(`
embedding:
  provider: deterministic
  dimension: 16
storage:
  driver: sqlite
  sqlite:
    path: /tmp/faq.db
faq:
  maxDistance: 0.8
  ingestPolicy: strict
`), 0o644))
	t.Setenv("CONFIG_PATH", path)
	t.Setenv("FAQ_TOP_K", "7")
	t.Setenv("HTTP_CORS_ORIGINS", "https://a.example, https://b.example")
	t.Setenv("EMBEDDING_TIMEOUT", "3s")

	cfg, err := Load()
	require.NoError(t, err)
	require.Equal(t, ProviderDeterministic, cfg.Embedding.Provider)
	require.Equal(t, 16, cfg.Embedding.Dimension)
	require.Equal(t, 3*time.Second, cfg.Embedding.Timeout)
	require.Equal(t, DriverSQLite, cfg.Storage.Driver)
	require.Equal(t, 0.8, cfg.FAQ.MaxDistance)
	require.Equal(t, "strict", cfg.FAQ.IngestPolicy)
	require.Equal(t, 7, cfg.FAQ.TopK)
	require.Equal(t, []string{"https://a.example", "https://b.example"}, cfg.HTTP.CORSOrigins)
	require.Equal(t, ":8080", cfg.HTTP.Address)
}

func TestValidateRejects(t *testing.T) {
	cases := map[string]func(*Config){
		"unknown driver":      func(c *Config) { c.Storage.Driver = "mongo" },
		"postgres dsn":        func(c *Config) { c.Storage.Driver = DriverPostgres },
		"unknown provider":    func(c *Config) { c.Embedding.Provider = "bert" },
		"dimension":           func(c *Config) { c.Embedding.Dimension = 0 },
		"cache addr":          func(c *Config) { c.Cache.Enabled = true },
		"threshold":           func(c *Config) { c.FAQ.MaxDistance = 0 },
		"policy":              func(c *Config) { c.FAQ.IngestPolicy = "best-effort" },
		"upload dir":          func(c *Config) { c.Upload.Dir = " " },
		"r2 without endpoint": func(c *Config) { c.Upload.R2.Enabled = true },
	}
	for name, mutate := range cases {
		cfg := defaultConfig()
		mutate(cfg)
		require.Error(t, cfg.Validate(), name)
	}
}
