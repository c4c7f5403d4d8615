package cli

import (
	"context"
	"errors"
	"fmt"

	log "github.com/sirupsen/logrus"

	"ragstore/internal/bootstrap"
	"ragstore/internal/chunker"
	"ragstore/internal/config"
	"ragstore/internal/corpus"
	"ragstore/internal/domain"
	"ragstore/internal/embedding/cache"
	"ragstore/internal/embedding/hashing"
	"ragstore/internal/embedding/openai"
	"ragstore/internal/generation"
	"ragstore/internal/logging"
	"ragstore/internal/metrics"
	"ragstore/internal/prompt"
	"ragstore/internal/service"
	"ragstore/internal/vectorstore"
)

// app is the assembled process: config, collaborators and the query surface.
type app struct {
	cfg     *config.AppConfig
	metrics *metrics.Metrics
	svc     *service.RAGServiceImpl
	closers []func() error
}

func loadConfig(path string) (*config.AppConfig, error) {
	var (
		cfg *config.AppConfig
		err error
	)
	if path == "" {
		cfg, _, err = config.LoadDefault()
	} else {
		cfg, err = config.Load(path)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}
	return cfg, nil
}

// newApp assembles components from configuration. Nothing is bootstrapped
// until start is called.
func newApp(ctx context.Context, cfg *config.AppConfig) (*app, error) {
	logging.Setup(cfg.Logging.Level, cfg.Logging.Format)
	a := &app{cfg: cfg, metrics: metrics.New()}

	emb, err := a.newEmbedder(ctx)
	if err != nil {
		a.close()
		return nil, err
	}

	ragTmpl, err := loadTemplate(cfg.Prompt.RAGTemplate, prompt.DefaultRAG)
	if err != nil {
		a.close()
		return nil, err
	}
	stuffTmpl, err := loadTemplate(cfg.Prompt.StuffingTemplate, prompt.DefaultStuffing)
	if err != nil {
		a.close()
		return nil, err
	}
	completer, err := newCompleter(cfg.Generation)
	if err != nil {
		a.close()
		return nil, err
	}

	ch := chunker.NewTokenChunker(chunker.Options{
		ChunkSize:             cfg.Chunker.ChunkSize,
		MinChunkChars:         cfg.Chunker.MinChunkChars,
		MinChunkLengthToEmbed: cfg.Chunker.MinChunkLengthToEmbed,
	})
	boot := bootstrap.New(bootstrap.Config{
		SnapshotPath: cfg.Store.SnapshotPath,
		CorpusURI:    cfg.Store.Corpus,
		LockTimeout:  cfg.Store.LockTimeout,
		PollInterval: cfg.Store.PollInterval,
		StoreOptions: []vectorstore.Option{
			vectorstore.WithConcurrency(cfg.Embedder.Concurrency),
			vectorstore.WithObserver(a.metrics),
		},
	}, ch, emb, corpus.NewReader(nil), log.NewEntry(log.StandardLogger()))

	var searchOpts []vectorstore.SearchOption
	if cfg.Store.MinScore > 0 {
		searchOpts = append(searchOpts, vectorstore.WithMinScore(cfg.Store.MinScore))
	}
	a.svc = service.NewRAGService(boot, emb, service.Options{
		DefaultK:         cfg.Prompt.DefaultK,
		RAGTemplate:      ragTmpl,
		StuffingTemplate: stuffTmpl,
		SearchOptions:    searchOpts,
		Completer:        completer,
		OnReady: func(r *bootstrap.Result) {
			a.metrics.ObserveBootstrap(r.State.String(), r.Passages)
		},
	}, log.NewEntry(log.StandardLogger()))
	return a, nil
}

func (a *app) newEmbedder(ctx context.Context) (domain.Embedder, error) {
	cfg := a.cfg.Embedder
	var emb domain.Embedder
	switch cfg.Type {
	case "hashing":
		emb = hashing.New(cfg.Hashing.Dimension)
	case "openai":
		if cfg.OpenAI == nil {
			return nil, errors.New("openai embedder config missing")
		}
		client, err := openai.NewClient(openai.Config{
			BaseURL:           cfg.OpenAI.BaseURL,
			APIKeyEnv:         cfg.OpenAI.APIKeyEnv,
			Model:             cfg.OpenAI.Model,
			Timeout:           cfg.OpenAI.Timeout,
			MaxRetries:        cfg.OpenAI.MaxRetries,
			RequestsPerSecond: cfg.OpenAI.RequestsPerSecond,
		})
		if err != nil {
			return nil, fmt.Errorf("openai embedder init failed: %w", err)
		}
		emb = client
	default:
		return nil, fmt.Errorf("unknown embedder: %s", cfg.Type)
	}

	var c cache.Cache
	switch cfg.Cache.Type {
	case "none", "":
		return emb, nil
	case "memory":
		c = cache.NewMemory(cfg.Cache.MaxEntries)
	case "redis":
		if cfg.Cache.Redis == nil {
			return nil, errors.New("redis cache config missing")
		}
		r, err := cache.NewRedis(ctx, cache.RedisConfig{
			Addr:     cfg.Cache.Redis.Addr,
			Password: cfg.Cache.Redis.Password,
			DB:       cfg.Cache.Redis.DB,
			TTL:      cfg.Cache.Redis.TTL,
		})
		if err != nil {
			return nil, fmt.Errorf("embedding cache: %w", err)
		}
		a.closers = append(a.closers, r.Close)
		c = r
	default:
		return nil, fmt.Errorf("unknown embedding cache: %s", cfg.Cache.Type)
	}
	cached := cache.Wrap(emb, c)
	a.metrics.RegisterCacheStats(cached.Stats)
	return cached, nil
}

func newCompleter(cfg config.GenerationConfig) (domain.Completer, error) {
	switch cfg.Type {
	case "none", "":
		return nil, nil
	case "openai":
		if cfg.OpenAI == nil {
			return nil, errors.New("openai generation config missing")
		}
		c, err := generation.NewOpenAI(generation.Config{
			BaseURL:           cfg.OpenAI.BaseURL,
			APIKeyEnv:         cfg.OpenAI.APIKeyEnv,
			Model:             cfg.OpenAI.Model,
			SystemPrompt:      cfg.SystemPrompt,
			Temperature:       cfg.Temperature,
			Timeout:           cfg.OpenAI.Timeout,
			MaxRetries:        cfg.OpenAI.MaxRetries,
			RequestsPerSecond: cfg.OpenAI.RequestsPerSecond,
		})
		if err != nil {
			return nil, fmt.Errorf("generation init failed: %w", err)
		}
		return c, nil
	default:
		return nil, fmt.Errorf("unknown generation service: %s", cfg.Type)
	}
}

func loadTemplate(path, fallback string) (*prompt.Template, error) {
	if path == "" {
		return prompt.Parse(fallback)
	}
	return prompt.ParseFile(path)
}

// start bootstraps the store.
func (a *app) start(ctx context.Context) error {
	return a.svc.Start(ctx)
}

func (a *app) close() {
	for _, c := range a.closers {
		if err := c(); err != nil {
			logging.Component("cli").WithError(err).Warn("closing resource")
		}
	}
}

// withApp loads config, assembles and starts the app, runs fn, and cleans up.
func withApp(ctx context.Context, opts *rootOptions, fn func(*app) error) error {
	cfg, err := loadConfig(opts.configPath)
	if err != nil {
		return err
	}
	a, err := newApp(ctx, cfg)
	if err != nil {
		return err
	}
	defer a.close()
	if err := a.start(ctx); err != nil {
		return err
	}
	return fn(a)
}
