// Package bootstrap decides at startup whether to reload a persisted vector
// store or build it from the corpus, and makes sure at most one build runs
// per snapshot path.
package bootstrap

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/gofrs/flock"
	log "github.com/sirupsen/logrus"

	"ragstore/internal/corpus"
	"ragstore/internal/domain"
	"ragstore/internal/vectorstore"
)

const (
	DefaultLockTimeout  = 2 * time.Minute
	DefaultPollInterval = 200 * time.Millisecond
)

// State is the terminal state of a bootstrap run.
type State uint8

const (
	StateUnknown State = iota
	StateLoaded
	StateBuiltAndPersisted
)

func (s State) String() string {
	switch s {
	case StateLoaded:
		return "loaded"
	case StateBuiltAndPersisted:
		return "built_and_persisted"
	default:
		return "unknown"
	}
}

// CorpusReader resolves the corpus URI into documents.
type CorpusReader interface {
	Read(ctx context.Context, uri string) ([]corpus.Document, error)
}

type Config struct {
	SnapshotPath string
	CorpusURI    string
	LockTimeout  time.Duration
	PollInterval time.Duration
	// StoreOptions are applied to the store whether it is loaded or built.
	StoreOptions []vectorstore.Option
}

// Result describes a ready store.
type Result struct {
	Store    *vectorstore.Store
	State    State
	Passages int
	Duration time.Duration
}

// Bootstrapper produces the process's single vector store.
type Bootstrapper struct {
	cfg      Config
	chunker  domain.Chunker
	embedder domain.Embedder
	reader   CorpusReader
	logger   *log.Entry
}

// flight is one in-process bootstrap shared by every caller that asks for
// the same snapshot with the same embedder. It runs detached from any single
// caller's context and is cancelled only when every waiter has gone.
type flight struct {
	done    chan struct{}
	res     *Result
	err     error
	waiters int
	cancel  context.CancelFunc
}

var (
	flightsMu sync.Mutex
	flights   = make(map[string]*flight)
)

func New(cfg Config, chunker domain.Chunker, embedder domain.Embedder, reader CorpusReader, logger *log.Entry) *Bootstrapper {
	if cfg.LockTimeout <= 0 {
		cfg.LockTimeout = DefaultLockTimeout
	}
	if cfg.PollInterval <= 0 {
		cfg.PollInterval = DefaultPollInterval
	}
	if logger == nil {
		logger = log.NewEntry(log.StandardLogger())
	}
	return &Bootstrapper{
		cfg:      cfg,
		chunker:  chunker,
		embedder: embedder,
		reader:   reader,
		logger:   logger.WithField("component", "bootstrap"),
	}
}

// Open loads the snapshot if it exists and otherwise builds and persists
// the store under an exclusive file lock. A corrupt snapshot is returned as
// an error and never rebuilt over.
func (b *Bootstrapper) Open(ctx context.Context) (*Result, error) {
	if b.cfg.SnapshotPath == "" {
		return nil, errors.New("snapshot path is empty")
	}
	path, err := filepath.Abs(b.cfg.SnapshotPath)
	if err != nil {
		return nil, fmt.Errorf("resolving snapshot path: %w", err)
	}
	key := path
	if b.embedder != nil {
		key += "\x00" + b.embedder.Name()
	}

	flightsMu.Lock()
	f, shared := flights[key]
	if !shared {
		fctx, cancel := context.WithCancel(context.WithoutCancel(ctx))
		f = &flight{done: make(chan struct{}), cancel: cancel}
		flights[key] = f
		go func() {
			res, err := b.open(fctx, path)
			flightsMu.Lock()
			if flights[key] == f {
				delete(flights, key)
			}
			flightsMu.Unlock()
			f.res, f.err = res, err
			cancel()
			close(f.done)
		}()
	}
	f.waiters++
	flightsMu.Unlock()
	if shared {
		b.logger.WithField("snapshot", path).Debug("joined in-flight bootstrap")
	}

	select {
	case <-f.done:
	case <-ctx.Done():
		flightsMu.Lock()
		f.waiters--
		if f.waiters == 0 {
			if flights[key] == f {
				delete(flights, key)
			}
			f.cancel()
		}
		flightsMu.Unlock()
		return nil, ctx.Err()
	}
	if f.err != nil {
		return nil, f.err
	}
	res := *f.res
	return &res, nil
}

func (b *Bootstrapper) open(ctx context.Context, path string) (*Result, error) {
	start := time.Now()
	logger := b.logger.WithField("snapshot", path)

	if res, err := b.loadIfExists(path, start); res != nil || err != nil {
		return b.finish(logger, res, err)
	}

	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, fmt.Errorf("creating snapshot directory: %w", err)
	}
	lockPath := path + ".lock"
	logger.WithField("lock", lockPath).Debug("snapshot missing, acquiring build lock")
	lock, err := acquireLock(ctx, lockPath, b.cfg.LockTimeout, b.cfg.PollInterval)
	if err != nil {
		return nil, err
	}
	defer func() {
		if err := lock.Unlock(); err != nil {
			logger.WithError(err).Warn("releasing build lock")
		}
	}()

	// Another process may have finished a build while we waited.
	if res, err := b.loadIfExists(path, start); res != nil || err != nil {
		return b.finish(logger, res, err)
	}
	res, err := b.build(ctx, path, start)
	return b.finish(logger, res, err)
}

func (b *Bootstrapper) finish(logger *log.Entry, res *Result, err error) (*Result, error) {
	if err != nil {
		logger.WithError(err).Error("vector store bootstrap failed")
		return nil, err
	}
	logger.WithFields(log.Fields{
		"state":    res.State.String(),
		"passages": res.Passages,
		"duration": res.Duration,
	}).Info("vector store ready")
	return res, nil
}

// loadIfExists returns (nil, nil) when there is no snapshot at path.
func (b *Bootstrapper) loadIfExists(path string, start time.Time) (*Result, error) {
	if _, err := os.Stat(path); err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, nil
		}
		return nil, fmt.Errorf("checking snapshot: %w", err)
	}
	store, err := vectorstore.Load(path, b.cfg.StoreOptions...)
	if err != nil {
		return nil, err
	}
	if d, ok := b.embedder.(interface{ Dimension() int }); ok && store.Len() > 0 {
		if dim := d.Dimension(); dim > 0 && dim != store.Dimension() {
			return nil, &vectorstore.DimensionMismatchError{Expected: store.Dimension(), Actual: dim}
		}
	}
	if name := store.EmbedderName(); name != "" && b.embedder != nil && name != b.embedder.Name() {
		b.logger.WithFields(log.Fields{
			"snapshot_embedder": name,
			"embedder":          b.embedder.Name(),
		}).Warn("snapshot was built with a different embedder")
	}
	return &Result{Store: store, State: StateLoaded, Passages: store.Len(), Duration: time.Since(start)}, nil
}

func (b *Bootstrapper) build(ctx context.Context, path string, start time.Time) (*Result, error) {
	if b.reader == nil || b.chunker == nil || b.embedder == nil {
		return nil, errors.New("bootstrap needs a corpus reader, chunker and embedder to build")
	}
	docs, err := b.reader.Read(ctx, b.cfg.CorpusURI)
	if err != nil {
		return nil, fmt.Errorf("reading corpus: %w", err)
	}
	var passages []domain.Passage
	for _, d := range docs {
		passages = append(passages, b.chunker.Split(d.Text, d.Metadata)...)
	}
	if len(passages) == 0 {
		b.logger.WithField("corpus", b.cfg.CorpusURI).Warn("corpus produced no passages")
	}

	store := vectorstore.New(b.cfg.StoreOptions...)
	if err := store.Add(ctx, passages, b.embedder); err != nil {
		return nil, fmt.Errorf("building vector store: %w", err)
	}
	if err := store.Save(path); err != nil {
		return nil, err
	}
	return &Result{Store: store, State: StateBuiltAndPersisted, Passages: store.Len(), Duration: time.Since(start)}, nil
}

// acquireLock polls TryLock until it succeeds, the timeout passes, or ctx ends.
func acquireLock(ctx context.Context, path string, timeout, poll time.Duration) (*flock.Flock, error) {
	l := flock.New(path)
	deadline := time.Now().Add(timeout)
	for {
		locked, err := l.TryLock()
		if err != nil {
			return nil, fmt.Errorf("cannot acquire build lock: %w", err)
		}
		if locked {
			return l, nil
		}
		if time.Now().After(deadline) {
			return nil, &LockTimeoutError{LockPath: path, Timeout: timeout}
		}
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-time.After(poll):
		}
	}
}
