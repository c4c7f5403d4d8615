package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "ragstore.yaml")
	require.NoError(t, os.WriteFile(path, []byte(body), 0o644))
	return path
}

func TestLoad_MissingFileReturnsDefaults(t *testing.T) {
	cfg, err := Load(filepath.Join(t.TempDir(), "absent.yaml"))
	require.NoError(t, err)
	assert.Equal(t, "hashing", cfg.Embedder.Type)
	assert.Equal(t, 512, cfg.Embedder.Hashing.Dimension)
	assert.Equal(t, 800, cfg.Chunker.ChunkSize)
	assert.Equal(t, 4, cfg.Prompt.DefaultK)
	assert.Equal(t, 2*time.Minute, cfg.Store.LockTimeout)
	require.NoError(t, cfg.Validate())
}

func TestLoad_ParsesSectionsAndFillsDefaults(t *testing.T) {
	path := writeConfig(t, `
store:
  snapshot_path: /var/lib/ragstore/store.json.zst
  corpus: https://example.com/speech.txt
  lock_timeout: 30s
  min_score: 0.2
chunker:
  chunk_size: 200
embedder:
  type: openai
  concurrency: 8
  openai:
    model: nomic-embed-text
    base_url: http://localhost:11434/v1
  cache:
    type: redis
    redis:
      addr: localhost:6379
generation:
  type: openai
  openai: {}
`)
	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, "/var/lib/ragstore/store.json.zst", cfg.Store.SnapshotPath)
	assert.Equal(t, 30*time.Second, cfg.Store.LockTimeout)
	assert.Equal(t, 200*time.Millisecond, cfg.Store.PollInterval)
	assert.Equal(t, 0.2, cfg.Store.MinScore)
	assert.Equal(t, 200, cfg.Chunker.ChunkSize)
	assert.Equal(t, 350, cfg.Chunker.MinChunkChars)
	assert.Equal(t, "nomic-embed-text", cfg.Embedder.OpenAI.Model)
	assert.Equal(t, "OPENAI_API_KEY", cfg.Embedder.OpenAI.APIKeyEnv)
	assert.Equal(t, 30*time.Second, cfg.Embedder.OpenAI.Timeout)
	assert.Equal(t, 24*time.Hour, cfg.Embedder.Cache.Redis.TTL)
	assert.Equal(t, "gpt-4o-mini", cfg.Generation.OpenAI.Model)
	require.NoError(t, cfg.Validate())
}

func TestLoad_EnvOverrides(t *testing.T) {
	t.Setenv("RAGSTORE_SNAPSHOT_PATH", "/tmp/override.json")
	t.Setenv("RAGSTORE_CORPUS", "/tmp/corpus.txt")
	t.Setenv("RAGSTORE_DEFAULT_K", "7")
	t.Setenv("RAGSTORE_LOCK_TIMEOUT", "5s")
	t.Setenv("RAGSTORE_LOG_LEVEL", "debug")
	t.Setenv("RAGSTORE_REDIS_ADDR", "cache:6379")

	cfg, err := Load(writeConfig(t, "store:\n  snapshot_path: from-file.json\n"))
	require.NoError(t, err)
	assert.Equal(t, "/tmp/override.json", cfg.Store.SnapshotPath)
	assert.Equal(t, "/tmp/corpus.txt", cfg.Store.Corpus)
	assert.Equal(t, 7, cfg.Prompt.DefaultK)
	assert.Equal(t, 5*time.Second, cfg.Store.LockTimeout)
	assert.Equal(t, "debug", cfg.Logging.Level)
	assert.Equal(t, "cache:6379", cfg.Embedder.Cache.Redis.Addr)
}

func TestLoad_InvalidYAML(t *testing.T) {
	_, err := Load(writeConfig(t, "store: [unclosed"))
	assert.Error(t, err)
}

func TestValidate(t *testing.T) {
	cases := map[string]func(*AppConfig){
		"no snapshot":     func(c *AppConfig) { c.Store.SnapshotPath = "" },
		"no corpus":       func(c *AppConfig) { c.Store.Corpus = "" },
		"zero chunk size": func(c *AppConfig) { c.Chunker.ChunkSize = 0 },
		"zero lock":       func(c *AppConfig) { c.Store.LockTimeout = 0 },
		"no concurrency":  func(c *AppConfig) { c.Embedder.Concurrency = 0 },
		"bad embedder":    func(c *AppConfig) { c.Embedder.Type = "tfidf" },
		"openai no block": func(c *AppConfig) { c.Embedder.Type = "openai" },
		"bad cache":       func(c *AppConfig) { c.Embedder.Cache.Type = "memcached" },
		"redis no addr":   func(c *AppConfig) { c.Embedder.Cache.Type = "redis" },
		"bad generation":  func(c *AppConfig) { c.Generation.Type = "local" },
		"negative k":      func(c *AppConfig) { c.Prompt.DefaultK = -1 },
	}
	for name, mutate := range cases {
		t.Run(name, func(t *testing.T) {
			cfg := defaultConfig()
			mutate(cfg)
			assert.Error(t, cfg.Validate())
		})
	}
}

func TestLoadDefault_WritesUserConfig(t *testing.T) {
	home := t.TempDir()
	t.Setenv("HOME", home)
	t.Chdir(t.TempDir())

	cfg, path, err := LoadDefault()
	require.NoError(t, err)
	assert.Equal(t, filepath.Join(home, ".config", "ragstore", "config.yaml"), path)
	assert.FileExists(t, path)

	reloaded, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, cfg, reloaded)
}
