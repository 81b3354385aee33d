package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadDefaults(t *testing.T) {
	cfg, err := Load("")
	require.NoError(t, err)

	assert.Equal(t, "standard", cfg.Index.Analyzer)
	assert.Equal(t, 50, cfg.Search.DefaultLimit)
	assert.Equal(t, int64(16*1024*1024), cfg.Index.RAMBufferSize)
	assert.False(t, cfg.Redis.Enabled)
}

func TestLoadYAML(t *testing.T) {
	path := filepath.Join(t.TempDir(), "segdex.yaml")
	data := `
index:
  dataDir: /var/lib/segdex
  analyzer: english
  mergeInterval: 90s
search:
  defaultLimit: 20
  maxResults: 200
`
	require.NoError(t, os.WriteFile(path, []byte(data), 0o644))

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, "/var/lib/segdex", cfg.Index.DataDir)
	assert.Equal(t, "english", cfg.Index.Analyzer)
	assert.Equal(t, 90*time.Second, cfg.Index.MergeInterval)
	assert.Equal(t, 20, cfg.Search.DefaultLimit)
	assert.Equal(t, 8080, cfg.Server.Port)
}

func TestLoadTOML(t *testing.T) {
	path := filepath.Join(t.TempDir(), "segdex.toml")
	data := `
[index]
dataDir = "/srv/idx"
analyzer = "standard"

[redis]
enabled = true
addr = "cache:6379"
`
	require.NoError(t, os.WriteFile(path, []byte(data), 0o644))

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, "/srv/idx", cfg.Index.DataDir)
	assert.True(t, cfg.Redis.Enabled)
	assert.Equal(t, "cache:6379", cfg.Redis.Addr)
}

func TestEnvOverrides(t *testing.T) {
	t.Setenv("SP_INDEX_DATA_DIR", "/env/idx")
	t.Setenv("SP_KAFKA_BROKERS", "k1:9092,k2:9092")
	t.Setenv("SP_REDIS_ENABLED", "true")

	cfg, err := Load("")
	require.NoError(t, err)
	assert.Equal(t, "/env/idx", cfg.Index.DataDir)
	assert.Equal(t, []string{"k1:9092", "k2:9092"}, cfg.Kafka.Brokers)
	assert.True(t, cfg.Redis.Enabled)
}

func TestValidateRejectsUnknownAnalyzer(t *testing.T) {
	t.Setenv("SP_INDEX_ANALYZER", "klingon")

	_, err := Load("")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "unknown analyzer")
}

func TestLoadMissingFile(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "absent.yaml"))
	require.Error(t, err)
}

func TestShippedConfigMatchesDefaults(t *testing.T) {
	cfg, err := Load(filepath.Join("..", "..", "configs", "segdex.yaml"))
	require.NoError(t, err)
	assert.Equal(t, Default(), cfg)
}
