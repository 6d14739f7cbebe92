// Package api exposes the search service over HTTP and serves the bundled
// front-end.
package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"time"

	"github.com/rs/cors"

	"github.com/FranksOps/serpd/internal/search"
	"github.com/FranksOps/serpd/internal/serp"
)

// Searcher runs one search. *search.Service implements it.
type Searcher interface {
	Search(ctx context.Context, query string) (*serp.Response, error)
}

var _ Searcher = (*search.Service)(nil)

const (
	msgQueryRequired = "Search query is required"
	msgSearchFailed  = "An error occurred during the search"

	maxBodyBytes = 1 << 20
)

var corsHeaders = []string{"Origin", "X-Requested-With", "Content-Type", "Accept"}

// Config controls the HTTP surface.
type Config struct {
	// StaticDir is served at "/". Empty disables static files.
	StaticDir string
	// SlowRequest is the duration above which a request is logged as a warning.
	SlowRequest time.Duration
	// ShutdownTimeout bounds how long Serve waits for in-flight searches.
	ShutdownTimeout time.Duration
}

// DefaultConfig returns the settings used by serpd serve.
func DefaultConfig() Config {
	return Config{
		StaticDir:       "public",
		SlowRequest:     30 * time.Second,
		ShutdownTimeout: time.Minute,
	}
}

// Server routes requests to a Searcher.
type Server struct {
	searcher Searcher
	cfg      Config
	logger   *slog.Logger
	handler  http.Handler
}

// NewServer builds the handler chain: CORS, request logging, then routes.
func NewServer(searcher Searcher, cfg Config, logger *slog.Logger) *Server {
	if logger == nil {
		logger = slog.Default()
	}
	if cfg.SlowRequest <= 0 {
		cfg.SlowRequest = DefaultConfig().SlowRequest
	}
	if cfg.ShutdownTimeout <= 0 {
		cfg.ShutdownTimeout = DefaultConfig().ShutdownTimeout
	}

	s := &Server{searcher: searcher, cfg: cfg, logger: logger}

	mux := http.NewServeMux()
	mux.HandleFunc("POST /api/search", s.handleSearch)
	if cfg.StaticDir != "" {
		mux.Handle("/", http.FileServer(http.Dir(cfg.StaticDir)))
	}

	c := cors.New(cors.Options{
		AllowedOrigins: []string{"*"},
		AllowedMethods: []string{http.MethodGet, http.MethodPost, http.MethodOptions},
		AllowedHeaders: corsHeaders,
	})
	s.handler = c.Handler(originless(requestLogger(logger, cfg.SlowRequest)(mux)))
	return s
}

// Handler returns the root handler.
func (s *Server) Handler() http.Handler { return s.handler }

// Serve accepts connections on ln until ctx is done, then shuts down
// gracefully, letting running searches finish and close their browsers.
func (s *Server) Serve(ctx context.Context, ln net.Listener) error {
	srv := &http.Server{
		Handler:           s.handler,
		ReadHeaderTimeout: 10 * time.Second,
		IdleTimeout:       60 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		s.logger.Info("api server listening", "addr", ln.Addr().String())
		errCh <- srv.Serve(ln)
	}()

	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return fmt.Errorf("api: serve: %w", err)
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), s.cfg.ShutdownTimeout)
	defer cancel()
	s.logger.Info("api server shutting down")
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("api: shutdown: %w", err)
	}
	return nil
}

type searchRequest struct {
	SearchQuery string `json:"searchQuery"`
}

type errorResponse struct {
	Error   string `json:"error"`
	Details string `json:"details,omitempty"`
}

func (s *Server) handleSearch(w http.ResponseWriter, r *http.Request) {
	var req searchRequest
	if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodyBytes)).Decode(&req); err != nil {
		s.logger.Debug("rejecting search body", "error", err, "request_id", RequestID(r.Context()))
		writeJSON(w, http.StatusBadRequest, errorResponse{Error: msgQueryRequired})
		return
	}

	resp, err := s.searcher.Search(r.Context(), req.SearchQuery)
	switch {
	case errors.Is(err, search.ErrQueryRequired):
		writeJSON(w, http.StatusBadRequest, errorResponse{Error: msgQueryRequired})
	case err != nil:
		s.logger.Error("search failed", "query", req.SearchQuery, "error", err, "request_id", RequestID(r.Context()))
		writeJSON(w, http.StatusInternalServerError, errorResponse{Error: msgSearchFailed, Details: err.Error()})
	default:
		writeJSON(w, http.StatusOK, resp)
	}
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
