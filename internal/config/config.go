package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"time"

	"gopkg.in/yaml.v3"
)

// EnvPrefix prefixes every environment override.
const EnvPrefix = "RAGSTORE_"

// StoreConfig locates the snapshot and the corpus it is built from.
type StoreConfig struct {
	SnapshotPath string        `yaml:"snapshot_path"`
	Corpus       string        `yaml:"corpus"`
	LockTimeout  time.Duration `yaml:"lock_timeout"`
	PollInterval time.Duration `yaml:"poll_interval"`
	// MinScore enables a relevance floor when positive.
	MinScore float64 `yaml:"min_score"`
}

// ChunkerConfig configures how the corpus is split into passages.
type ChunkerConfig struct {
	ChunkSize             int `yaml:"chunk_size"`
	MinChunkChars         int `yaml:"min_chunk_chars"`
	MinChunkLengthToEmbed int `yaml:"min_chunk_length_to_embed"`
}

// HashingEmbedderConfig configures the local feature-hashing embedder.
type HashingEmbedderConfig struct {
	Dimension int `yaml:"dimension"`
}

// OpenAIConfig holds configuration for an OpenAI-compatible endpoint.
type OpenAIConfig struct {
	BaseURL           string        `yaml:"base_url"`
	APIKeyEnv         string        `yaml:"api_key_env"`
	Model             string        `yaml:"model"`
	Timeout           time.Duration `yaml:"timeout"`
	MaxRetries        int           `yaml:"max_retries"`
	RequestsPerSecond float64       `yaml:"requests_per_second"`
}

// RedisConfig contains connection details for the embedding cache.
type RedisConfig struct {
	Addr     string        `yaml:"addr"`
	Password string        `yaml:"password"`
	DB       int           `yaml:"db"`
	TTL      time.Duration `yaml:"ttl"`
}

// CacheConfig selects the embedding cache backend.
type CacheConfig struct {
	Type       string       `yaml:"type"`
	MaxEntries int          `yaml:"max_entries"`
	Redis      *RedisConfig `yaml:"redis,omitempty"`
}

// EmbedderConfig selects and configures the text embedder implementation.
type EmbedderConfig struct {
	Type        string                 `yaml:"type"`
	Concurrency int                    `yaml:"concurrency"`
	Hashing     *HashingEmbedderConfig `yaml:"hashing,omitempty"`
	OpenAI      *OpenAIConfig          `yaml:"openai,omitempty"`
	Cache       CacheConfig            `yaml:"cache"`
}

// PromptConfig points at template files; empty paths use the built-ins.
type PromptConfig struct {
	RAGTemplate      string `yaml:"rag_template"`
	StuffingTemplate string `yaml:"stuffing_template"`
	DefaultK         int    `yaml:"default_k"`
}

// GenerationConfig selects the completion service.
type GenerationConfig struct {
	Type         string        `yaml:"type"`
	SystemPrompt string        `yaml:"system_prompt"`
	Temperature  float64       `yaml:"temperature"`
	OpenAI       *OpenAIConfig `yaml:"openai,omitempty"`
}

type ServerConfig struct {
	Addr            string        `yaml:"addr"`
	ReadTimeout     time.Duration `yaml:"read_timeout"`
	WriteTimeout    time.Duration `yaml:"write_timeout"`
	ShutdownTimeout time.Duration `yaml:"shutdown_timeout"`
}

type LoggingConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
}

// AppConfig is the root application configuration structure.
type AppConfig struct {
	Store      StoreConfig      `yaml:"store"`
	Chunker    ChunkerConfig    `yaml:"chunker"`
	Embedder   EmbedderConfig   `yaml:"embedder"`
	Prompt     PromptConfig     `yaml:"prompt"`
	Generation GenerationConfig `yaml:"generation"`
	Server     ServerConfig     `yaml:"server"`
	Logging    LoggingConfig    `yaml:"logging"`
}

// Load reads a config from a specified path. If the file does not exist,
// returns defaults. Environment overrides are applied either way.
func Load(path string) (*AppConfig, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			cfg := defaultConfig()
			applyEnvOverrides(cfg)
			return cfg, nil
		}
		return nil, err
	}
	cfg := defaultConfig()
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parsing config %s: %w", path, err)
	}
	applyConfigDefaults(cfg)
	applyEnvOverrides(cfg)
	return cfg, nil
}

// LoadDefault tries ./ragstore.yaml first, then ~/.config/ragstore/config.yaml.
// If neither exists, it writes defaults to ~/.config/ragstore/config.yaml and returns them.
func LoadDefault() (*AppConfig, string, error) {
	cwdPath := "ragstore.yaml"
	if _, err := os.Stat(cwdPath); err == nil {
		cfg, err := Load(cwdPath)
		return cfg, cwdPath, err
	}
	userPath, err := defaultUserConfigPath()
	if err != nil {
		return nil, "", err
	}
	if _, err := os.Stat(userPath); err == nil {
		cfg, err := Load(userPath)
		return cfg, userPath, err
	}
	cfg := defaultConfig()
	if err := Save(userPath, cfg); err != nil {
		return nil, "", err
	}
	applyEnvOverrides(cfg)
	return cfg, userPath, nil
}

// Save writes the config to the given path, creating directories as needed.
func Save(path string, cfg *AppConfig) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return err
	}
	data, err := yaml.Marshal(cfg)
	if err != nil {
		return err
	}
	return os.WriteFile(path, data, 0o644)
}

// Validate reports the first setting that would prevent startup.
func (c *AppConfig) Validate() error {
	switch {
	case c.Store.SnapshotPath == "":
		return errors.New("store.snapshot_path is required")
	case c.Store.Corpus == "":
		return errors.New("store.corpus is required")
	case c.Store.LockTimeout <= 0:
		return errors.New("store.lock_timeout must be positive")
	case c.Store.PollInterval <= 0:
		return errors.New("store.poll_interval must be positive")
	case c.Chunker.ChunkSize <= 0:
		return errors.New("chunker.chunk_size must be positive")
	case c.Embedder.Concurrency <= 0:
		return errors.New("embedder.concurrency must be positive")
	case c.Prompt.DefaultK < 0:
		return errors.New("prompt.default_k must not be negative")
	}
	switch c.Embedder.Type {
	case "hashing":
		if c.Embedder.Hashing == nil || c.Embedder.Hashing.Dimension <= 0 {
			return errors.New("embedder.hashing.dimension must be positive")
		}
	case "openai":
		if c.Embedder.OpenAI == nil {
			return errors.New("openai embedder config missing")
		}
	default:
		return fmt.Errorf("unknown embedder: %s", c.Embedder.Type)
	}
	switch c.Embedder.Cache.Type {
	case "none", "memory":
	case "redis":
		if c.Embedder.Cache.Redis == nil || c.Embedder.Cache.Redis.Addr == "" {
			return errors.New("embedder.cache.redis.addr is required")
		}
	default:
		return fmt.Errorf("unknown embedding cache: %s", c.Embedder.Cache.Type)
	}
	switch c.Generation.Type {
	case "none":
	case "openai":
		if c.Generation.OpenAI == nil {
			return errors.New("openai generation config missing")
		}
	default:
		return fmt.Errorf("unknown generation service: %s", c.Generation.Type)
	}
	return nil
}

func defaultUserConfigPath() (string, error) {
	home, err := os.UserHomeDir()
	if err != nil {
		return "", err
	}
	return filepath.Join(home, ".config", "ragstore", "config.yaml"), nil
}

func defaultConfig() *AppConfig {
	return &AppConfig{
		Store: StoreConfig{
			SnapshotPath: "data/vectorstore.json",
			Corpus:       "data/corpus.txt",
			LockTimeout:  2 * time.Minute,
			PollInterval: 200 * time.Millisecond,
		},
		Chunker: ChunkerConfig{ChunkSize: 800, MinChunkChars: 350},
		Embedder: EmbedderConfig{
			Type:        "hashing",
			Concurrency: 4,
			Hashing:     &HashingEmbedderConfig{Dimension: 512},
			Cache:       CacheConfig{Type: "none"},
		},
		Prompt:     PromptConfig{DefaultK: 4},
		Generation: GenerationConfig{Type: "none"},
		Server: ServerConfig{
			Addr:            ":8080",
			ReadTimeout:     10 * time.Second,
			WriteTimeout:    60 * time.Second,
			ShutdownTimeout: 10 * time.Second,
		},
		Logging: LoggingConfig{Level: "info", Format: "text"},
	}
}

func applyConfigDefaults(cfg *AppConfig) {
	if cfg.Embedder.Type == "hashing" && cfg.Embedder.Hashing == nil {
		cfg.Embedder.Hashing = &HashingEmbedderConfig{Dimension: 512}
	}
	if cfg.Embedder.Type == "openai" && cfg.Embedder.OpenAI != nil {
		fillOpenAIDefaults(cfg.Embedder.OpenAI, "text-embedding-3-small", 30*time.Second)
	}
	if cfg.Generation.Type == "openai" && cfg.Generation.OpenAI != nil {
		fillOpenAIDefaults(cfg.Generation.OpenAI, "gpt-4o-mini", 60*time.Second)
	}
	if cfg.Embedder.Cache.Type == "" {
		cfg.Embedder.Cache.Type = "none"
	}
	if cfg.Embedder.Cache.Type == "redis" && cfg.Embedder.Cache.Redis != nil && cfg.Embedder.Cache.Redis.TTL == 0 {
		cfg.Embedder.Cache.Redis.TTL = 24 * time.Hour
	}
	if cfg.Generation.Type == "" {
		cfg.Generation.Type = "none"
	}
}

func fillOpenAIDefaults(o *OpenAIConfig, model string, timeout time.Duration) {
	if o.BaseURL == "" {
		o.BaseURL = "https://api.openai.com/v1"
	}
	if o.APIKeyEnv == "" {
		o.APIKeyEnv = "OPENAI_API_KEY"
	}
	if o.Model == "" {
		o.Model = model
	}
	if o.Timeout == 0 {
		o.Timeout = timeout
	}
}

func applyEnvOverrides(cfg *AppConfig) {
	if v := os.Getenv(EnvPrefix + "SNAPSHOT_PATH"); v != "" {
		cfg.Store.SnapshotPath = v
	}
	if v := os.Getenv(EnvPrefix + "CORPUS"); v != "" {
		cfg.Store.Corpus = v
	}
	if v := os.Getenv(EnvPrefix + "LOCK_TIMEOUT"); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			cfg.Store.LockTimeout = d
		}
	}
	if v := os.Getenv(EnvPrefix + "EMBEDDER"); v != "" {
		cfg.Embedder.Type = v
		applyConfigDefaults(cfg)
	}
	if v := os.Getenv(EnvPrefix + "EMBED_CONCURRENCY"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			cfg.Embedder.Concurrency = n
		}
	}
	if v := os.Getenv(EnvPrefix + "REDIS_ADDR"); v != "" {
		if cfg.Embedder.Cache.Redis == nil {
			cfg.Embedder.Cache.Redis = &RedisConfig{TTL: 24 * time.Hour}
		}
		cfg.Embedder.Cache.Redis.Addr = v
	}
	if v := os.Getenv(EnvPrefix + "REDIS_PASSWORD"); v != "" && cfg.Embedder.Cache.Redis != nil {
		cfg.Embedder.Cache.Redis.Password = v
	}
	if v := os.Getenv(EnvPrefix + "DEFAULT_K"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			cfg.Prompt.DefaultK = n
		}
	}
	if v := os.Getenv(EnvPrefix + "SERVER_ADDR"); v != "" {
		cfg.Server.Addr = v
	}
	if v := os.Getenv(EnvPrefix + "LOG_LEVEL"); v != "" {
		cfg.Logging.Level = v
	}
	if v := os.Getenv(EnvPrefix + "LOG_FORMAT"); v != "" {
		cfg.Logging.Format = v
	}
}
