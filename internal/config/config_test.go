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

	assert.Equal(t, "info", cfg.Logging.Level)
	assert.Equal(t, "https://api.github.com", cfg.GitHub.BaseURL)
	assert.Equal(t, 30*time.Second, cfg.GitHub.Timeout)
	assert.Equal(t, int64(10)<<30, cfg.GHArchive.MaxBytesBilled)
	assert.Equal(t, "evidence.json", cfg.Store.Path)
	assert.False(t, cfg.Archive.Enabled)
	assert.Equal(t, 4, cfg.Verify.Concurrency)
}

func TestLoad_FileOverrides(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	body := `
logging:
  level: debug
github:
  token: ghp_test
  budget: 100
store:
  path: /tmp/case-42.json
nats:
  enabled: true
`
	require.NoError(t, os.WriteFile(path, []byte(body), 0o644))

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, "debug", cfg.Logging.Level)
	assert.Equal(t, "ghp_test", cfg.GitHub.Token)
	assert.Equal(t, 100, cfg.GitHub.Budget)
	assert.Equal(t, "/tmp/case-42.json", cfg.Store.Path)
	assert.True(t, cfg.NATS.Enabled)
	// Untouched keys keep their defaults.
	assert.Equal(t, "https://api.github.com", cfg.GitHub.BaseURL)
}

func TestLoad_EnvOverrides(t *testing.T) {
	t.Setenv("GHTRAIL_GITHUB_TOKEN", "ghp_from_env")
	t.Setenv("GHTRAIL_LOGGING_LEVEL", "warn")

	cfg, err := Load("")
	require.NoError(t, err)
	assert.Equal(t, "ghp_from_env", cfg.GitHub.Token)
	assert.Equal(t, "warn", cfg.Logging.Level)
}

func TestLoad_MissingFile(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "absent.yaml"))
	require.Error(t, err)
}
