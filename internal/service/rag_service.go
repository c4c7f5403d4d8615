// Package service is the query surface over the bootstrapped store: readiness,
// retrieval, prompt assembly, and the optional generation hand-off.
package service

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"

	log "github.com/sirupsen/logrus"

	"ragstore/internal/bootstrap"
	"ragstore/internal/domain"
	"ragstore/internal/prompt"
	"ragstore/internal/vectorstore"
)

// DefaultK is the number of passages retrieved for prompts when none is configured.
const DefaultK = 4

var (
	ErrNotReady    = errors.New("vector store is not ready")
	ErrNoCompleter = errors.New("no completion service configured")
	ErrEmptyQuery  = errors.New("query is empty")
)

// Opener produces the ready store. *bootstrap.Bootstrapper implements it.
type Opener interface {
	Open(ctx context.Context) (*bootstrap.Result, error)
}

type Options struct {
	DefaultK         int
	RAGTemplate      *prompt.Template
	StuffingTemplate *prompt.Template
	SearchOptions    []vectorstore.SearchOption
	Completer        domain.Completer
	// OnReady is called once with the bootstrap result.
	OnReady func(*bootstrap.Result)
}

type RAGServiceImpl struct {
	opener   Opener
	embedder domain.Embedder
	opts     Options
	logger   *log.Entry

	mu        sync.RWMutex
	store     *vectorstore.Store
	assembler *prompt.Assembler
	state     bootstrap.State
}

func NewRAGService(opener Opener, embedder domain.Embedder, opts Options, logger *log.Entry) *RAGServiceImpl {
	if opts.DefaultK <= 0 {
		opts.DefaultK = DefaultK
	}
	if opts.RAGTemplate == nil {
		opts.RAGTemplate = prompt.MustParse(prompt.DefaultRAG)
	}
	if opts.StuffingTemplate == nil {
		opts.StuffingTemplate = prompt.MustParse(prompt.DefaultStuffing)
	}
	if logger == nil {
		logger = log.NewEntry(log.StandardLogger())
	}
	return &RAGServiceImpl{
		opener:   opener,
		embedder: embedder,
		opts:     opts,
		logger:   logger.WithField("component", "service"),
	}
}

// Start bootstraps the store. Calling it again after success is a no-op.
func (s *RAGServiceImpl) Start(ctx context.Context) error {
	if s.Ready() {
		return nil
	}
	res, err := s.opener.Open(ctx)
	if err != nil {
		return fmt.Errorf("starting store: %w", err)
	}

	s.mu.Lock()
	s.store = res.Store
	s.assembler = prompt.NewAssembler(res.Store, s.embedder, s.opts.SearchOptions...)
	s.state = res.State
	s.mu.Unlock()

	if s.opts.OnReady != nil {
		s.opts.OnReady(res)
	}
	s.logger.WithFields(log.Fields{
		"state":    res.State.String(),
		"passages": res.Passages,
	}).Info("query surface ready")
	return nil
}

// Ready reports whether the store has been loaded or built.
func (s *RAGServiceImpl) Ready() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.store != nil
}

// State returns how the store became ready.
func (s *RAGServiceImpl) State() bootstrap.State {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.state
}

// Passages returns the number of stored passages, or 0 before readiness.
func (s *RAGServiceImpl) Passages() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.store == nil {
		return 0
	}
	return s.store.Len()
}

// DefaultK is the k used by AssemblePrompt, Stuff and Answer.
func (s *RAGServiceImpl) DefaultK() int { return s.opts.DefaultK }

func (s *RAGServiceImpl) ready() (*vectorstore.Store, *prompt.Assembler, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.store == nil {
		return nil, nil, ErrNotReady
	}
	return s.store, s.assembler, nil
}

// Search returns up to k ranked passages with their scores.
func (s *RAGServiceImpl) Search(ctx context.Context, query string, k int) ([]domain.SearchResult, error) {
	store, _, err := s.ready()
	if err != nil {
		return nil, err
	}
	if strings.TrimSpace(query) == "" {
		return nil, ErrEmptyQuery
	}
	return store.Search(ctx, query, s.embedder, k, s.opts.SearchOptions...)
}

// Retrieve returns up to k passages in rank order.
func (s *RAGServiceImpl) Retrieve(ctx context.Context, query string, k int) ([]domain.Passage, error) {
	results, err := s.Search(ctx, query, k)
	if err != nil {
		return nil, err
	}
	out := make([]domain.Passage, len(results))
	for i, r := range results {
		out[i] = r.Passage
	}
	return out, nil
}

// AssemblePrompt renders the RAG template. Without context the documents
// slot is empty and nothing is retrieved.
func (s *RAGServiceImpl) AssemblePrompt(ctx context.Context, query string, useContext bool) (string, error) {
	return s.render(ctx, query, s.opts.RAGTemplate, useContext)
}

// Stuff renders the stuffing template with or without retrieved context.
func (s *RAGServiceImpl) Stuff(ctx context.Context, query string, useContext bool) (string, error) {
	return s.render(ctx, query, s.opts.StuffingTemplate, useContext)
}

func (s *RAGServiceImpl) render(ctx context.Context, query string, tmpl *prompt.Template, useContext bool) (string, error) {
	_, asm, err := s.ready()
	if err != nil {
		return "", err
	}
	if strings.TrimSpace(query) == "" {
		return "", ErrEmptyQuery
	}
	return asm.Stuff(ctx, query, s.opts.DefaultK, tmpl, useContext)
}

// Answer assembles the RAG prompt with context and hands it to the
// completion service.
func (s *RAGServiceImpl) Answer(ctx context.Context, query string) (string, error) {
	if s.opts.Completer == nil {
		return "", ErrNoCompleter
	}
	p, err := s.AssemblePrompt(ctx, query, true)
	if err != nil {
		return "", err
	}
	out, err := s.opts.Completer.Complete(ctx, p)
	if err != nil {
		return "", fmt.Errorf("generating answer: %w", err)
	}
	return out, nil
}
