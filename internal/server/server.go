// Package server exposes the query surface over HTTP and a websocket.
package server

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/gorilla/websocket"
	log "github.com/sirupsen/logrus"

	"ragstore/internal/domain"
	"ragstore/internal/embedding"
	"ragstore/internal/metrics"
	"ragstore/internal/service"
	"ragstore/internal/vectorstore"
)

// MaxK caps the k a client may request.
const MaxK = 100

// Service is the query surface the server fronts.
type Service interface {
	Ready() bool
	Passages() int
	DefaultK() int
	Search(ctx context.Context, query string, k int) ([]domain.SearchResult, error)
	AssemblePrompt(ctx context.Context, query string, useContext bool) (string, error)
	Stuff(ctx context.Context, query string, useContext bool) (string, error)
	Answer(ctx context.Context, query string) (string, error)
}

type Config struct {
	Addr            string
	ReadTimeout     time.Duration
	WriteTimeout    time.Duration
	ShutdownTimeout time.Duration
}

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin: func(r *http.Request) bool {
		return true
	},
}

// Server represents the API server.
type Server struct {
	cfg     Config
	svc     Service
	metrics *metrics.Metrics
	logger  *log.Entry
}

// New creates a server. m may be nil, in which case /metrics is not served.
func New(cfg Config, svc Service, m *metrics.Metrics, logger *log.Entry) *Server {
	if cfg.ShutdownTimeout <= 0 {
		cfg.ShutdownTimeout = 10 * time.Second
	}
	if logger == nil {
		logger = log.NewEntry(log.StandardLogger())
	}
	return &Server{cfg: cfg, svc: svc, metrics: m, logger: logger.WithField("component", "server")}
}

// Handler returns the routed handler, wrapped in metrics middleware when enabled.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("GET /ready", s.handleReady)
	mux.HandleFunc("GET /retrieve", s.handleRetrieve)
	mux.HandleFunc("GET /prompt", s.handlePrompt)
	mux.HandleFunc("GET /stuff", s.handleStuff)
	mux.HandleFunc("GET /answer", s.handleAnswer)
	mux.HandleFunc("GET /ws", s.handleWebSocket)
	if s.metrics == nil {
		return mux
	}
	mux.Handle("GET /metrics", s.metrics.Handler())
	return s.metrics.Middleware(mux)
}

// Run serves until ctx is cancelled, then shuts down gracefully.
func (s *Server) Run(ctx context.Context) error {
	srv := &http.Server{
		Addr:         s.cfg.Addr,
		Handler:      s.Handler(),
		ReadTimeout:  s.cfg.ReadTimeout,
		WriteTimeout: s.cfg.WriteTimeout,
	}
	errCh := make(chan error, 1)
	go func() {
		s.logger.WithField("addr", s.cfg.Addr).Info("starting API server")
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}
	s.logger.Info("shutting down API server")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), s.cfg.ShutdownTimeout)
	defer cancel()
	return srv.Shutdown(shutdownCtx)
}

type passageJSON struct {
	ID       string            `json:"id"`
	Text     string            `json:"text"`
	Metadata map[string]string `json:"metadata"`
	Score    float64           `json:"score"`
}

type retrieveResponse struct {
	Query   string        `json:"query"`
	Results []passageJSON `json:"results"`
}

func toJSON(results []domain.SearchResult) []passageJSON {
	out := make([]passageJSON, len(results))
	for i, r := range results {
		out[i] = passageJSON{ID: r.Passage.ID, Text: r.Passage.Text, Metadata: r.Passage.Metadata, Score: r.Score}
	}
	return out
}

func (s *Server) handleReady(w http.ResponseWriter, _ *http.Request) {
	status := http.StatusOK
	if !s.svc.Ready() {
		status = http.StatusServiceUnavailable
	}
	writeJSON(w, status, map[string]any{"ready": s.svc.Ready(), "passages": s.svc.Passages()})
}

func (s *Server) handleRetrieve(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query().Get("q")
	k, err := parseK(r.URL.Query().Get("k"), s.svc.DefaultK())
	if err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	results, err := s.svc.Search(r.Context(), q, k)
	if err != nil {
		s.fail(w, err)
		return
	}
	writeJSON(w, http.StatusOK, retrieveResponse{Query: q, Results: toJSON(results)})
}

func (s *Server) handlePrompt(w http.ResponseWriter, r *http.Request) {
	useContext, err := parseBool(r.URL.Query().Get("context"), true)
	if err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	out, err := s.svc.AssemblePrompt(r.Context(), r.URL.Query().Get("q"), useContext)
	if err != nil {
		s.fail(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"prompt": out})
}

func (s *Server) handleStuff(w http.ResponseWriter, r *http.Request) {
	useContext, err := parseBool(r.URL.Query().Get("context"), false)
	if err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	out, err := s.svc.Stuff(r.Context(), r.URL.Query().Get("q"), useContext)
	if err != nil {
		s.fail(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"prompt": out})
}

func (s *Server) handleAnswer(w http.ResponseWriter, r *http.Request) {
	out, err := s.svc.Answer(r.Context(), r.URL.Query().Get("q"))
	if err != nil {
		s.fail(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"answer": out})
}

type wsRequest struct {
	Type    string `json:"type"`
	Query   string `json:"query"`
	K       *int   `json:"k,omitempty"`
	Context *bool  `json:"context,omitempty"`
}

type wsResponse struct {
	Type    string        `json:"type"`
	Query   string        `json:"query,omitempty"`
	Results []passageJSON `json:"results,omitempty"`
	Prompt  string        `json:"prompt,omitempty"`
	Error   string        `json:"error,omitempty"`
}

func (s *Server) handleWebSocket(w http.ResponseWriter, r *http.Request) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.logger.WithError(err).Debug("websocket upgrade failed")
		return
	}
	defer conn.Close()

	_ = conn.SetReadDeadline(time.Now().Add(60 * time.Second))
	conn.SetPongHandler(func(string) error {
		return conn.SetReadDeadline(time.Now().Add(60 * time.Second))
	})

	for {
		var req wsRequest
		if err := conn.ReadJSON(&req); err != nil {
			var syntaxErr *json.SyntaxError
			if errors.As(err, &syntaxErr) {
				_ = conn.WriteJSON(wsResponse{Type: "error", Error: "invalid JSON"})
				continue
			}
			return
		}
		_ = conn.SetReadDeadline(time.Now().Add(60 * time.Second))
		if err := conn.WriteJSON(s.dispatch(r.Context(), req)); err != nil {
			return
		}
	}
}

func (s *Server) dispatch(ctx context.Context, req wsRequest) wsResponse {
	resp := wsResponse{Type: req.Type, Query: req.Query}
	switch req.Type {
	case "retrieve":
		k := s.svc.DefaultK()
		if req.K != nil {
			k = *req.K
		}
		if k < 0 || k > MaxK {
			resp.Error = errBadK.Error()
			return resp
		}
		results, err := s.svc.Search(ctx, req.Query, k)
		if err != nil {
			resp.Error = err.Error()
			return resp
		}
		resp.Results = toJSON(results)
	case "prompt":
		useContext := true
		if req.Context != nil {
			useContext = *req.Context
		}
		out, err := s.svc.AssemblePrompt(ctx, req.Query, useContext)
		if err != nil {
			resp.Error = err.Error()
			return resp
		}
		resp.Prompt = out
	default:
		resp.Error = "unknown message type"
	}
	return resp
}

var errBadK = errors.New("k must be an integer between 0 and 100")

func parseK(v string, def int) (int, error) {
	if v == "" {
		return def, nil
	}
	k, err := strconv.Atoi(v)
	if err != nil || k < 0 || k > MaxK {
		return 0, errBadK
	}
	return k, nil
}

func parseBool(v string, def bool) (bool, error) {
	if v == "" {
		return def, nil
	}
	return strconv.ParseBool(v)
}

func (s *Server) fail(w http.ResponseWriter, err error) {
	status := http.StatusInternalServerError
	switch {
	case errors.Is(err, service.ErrNotReady):
		status = http.StatusServiceUnavailable
	case errors.Is(err, service.ErrEmptyQuery), errors.Is(err, vectorstore.ErrInvalidK):
		status = http.StatusBadRequest
	case errors.Is(err, service.ErrNoCompleter):
		status = http.StatusNotImplemented
	case embedding.IsServiceError(err):
		status = http.StatusBadGateway
	}
	if status >= 500 {
		s.logger.WithError(err).Error("request failed")
	}
	writeError(w, status, err)
}

func writeError(w http.ResponseWriter, status int, err error) {
	writeJSON(w, status, map[string]string{"error": err.Error()})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
