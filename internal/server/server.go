// Package server exposes a cart backend over HTTP.
//
// Routes:
//
//	GET  /health     liveness
//	GET  /cart/{id}  current snapshot, 404 when unknown
//	POST /cart       apply one cart.Request
//
// A rejected mutation is a normal response: 200 with {"errors": [...]}.
// Only malformed requests get 400.
package server

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"net/url"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/roach88/cartsync/internal/backend"
	"github.com/roach88/cartsync/internal/cart"
)

// Service is the backend the server fronts.
type Service interface {
	Apply(ctx context.Context, req cart.Request) (cart.Outcome, error)
	Fetch(ctx context.Context, cartID string) (*cart.Cart, error)
}

// Config holds server settings.
type Config struct {
	Addr               string
	RequestTimeout     time.Duration
	ShutdownTimeout    time.Duration
	MaxRequestBodySize int64
}

// DefaultConfig returns the settings used by `cartsync serve`.
func DefaultConfig() Config {
	return Config{
		Addr:               ":8080",
		RequestTimeout:     30 * time.Second,
		ShutdownTimeout:    10 * time.Second,
		MaxRequestBodySize: 1 << 20, // 1MB
	}
}

// NewRouter builds the chi router for svc.
func NewRouter(svc Service, cfg Config) http.Handler {
	h := &handler{svc: svc, maxBody: cfg.MaxRequestBodySize}

	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(requestLogger)
	r.Use(middleware.Recoverer)
	if cfg.RequestTimeout > 0 {
		r.Use(middleware.Timeout(cfg.RequestTimeout))
	}

	r.Get("/health", func(w http.ResponseWriter, r *http.Request) {
		respondJSON(w, http.StatusOK, map[string]string{"status": "ok"})
	})
	r.Post("/cart", h.apply)
	r.Get("/cart/{id}", h.fetch)
	return r
}

// Server is an http.Server bound to a router.
type Server struct {
	cfg Config
	srv *http.Server
}

// New creates a Server for svc.
func New(svc Service, cfg Config) *Server {
	return &Server{
		cfg: cfg,
		srv: &http.Server{
			Addr:         cfg.Addr,
			Handler:      NewRouter(svc, cfg),
			ReadTimeout:  10 * time.Second,
			WriteTimeout: 10 * time.Second,
			IdleTimeout:  60 * time.Second,
		},
	}
}

// Run serves until ctx is cancelled, then shuts down gracefully.
func (s *Server) Run(ctx context.Context) error {
	errCh := make(chan error, 1)
	go func() {
		slog.Info("server starting", "addr", s.cfg.Addr)
		if err := s.srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err, ok := <-errCh:
		if ok {
			return fmt.Errorf("server error: %w", err)
		}
		return nil
	case <-ctx.Done():
	}

	slog.Info("shutting down server")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), s.cfg.ShutdownTimeout)
	defer cancel()
	if err := s.srv.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("server forced to shutdown: %w", err)
	}
	slog.Info("server exited")
	return nil
}

type handler struct {
	svc     Service
	maxBody int64
}

func (h *handler) apply(w http.ResponseWriter, r *http.Request) {
	if h.maxBody > 0 {
		r.Body = http.MaxBytesReader(w, r.Body, h.maxBody)
	}

	var req cart.Request
	dec := json.NewDecoder(r.Body)
	dec.DisallowUnknownFields()
	if err := dec.Decode(&req); err != nil {
		respondInvalid(w, []string{"body"}, fmt.Sprintf("malformed request: %v", err))
		return
	}
	if !req.Action.Valid() {
		respondInvalid(w, []string{"action"}, fmt.Sprintf("unknown action %q", req.Action))
		return
	}
	if _, err := req.Mutation(); err != nil {
		respondInvalid(w, []string{"payload"}, err.Error())
		return
	}

	out, err := h.svc.Apply(r.Context(), req)
	if err != nil {
		slog.Error("apply failed", "error", err, "cart_id", req.CartID, "seq", req.Sequence)
		respondError(w, http.StatusInternalServerError, "internal error")
		return
	}
	respondJSON(w, http.StatusOK, out)
}

func (h *handler) fetch(w http.ResponseWriter, r *http.Request) {
	id, err := url.PathUnescape(chi.URLParam(r, "id"))
	if err != nil {
		respondError(w, http.StatusBadRequest, "malformed cart id")
		return
	}
	c, err := h.svc.Fetch(r.Context(), id)
	if errors.Is(err, backend.ErrNotFound) {
		respondError(w, http.StatusNotFound, fmt.Sprintf("cart %q not found", id))
		return
	}
	if err != nil {
		slog.Error("fetch failed", "error", err, "cart_id", id)
		respondError(w, http.StatusInternalServerError, "internal error")
		return
	}
	respondJSON(w, http.StatusOK, cart.Success(c))
}

func respondInvalid(w http.ResponseWriter, field []string, msg string) {
	respondJSON(w, http.StatusBadRequest, cart.Failure(cart.FieldError{Field: field, Message: msg, Code: cart.CodeInvalid}))
}

func respondError(w http.ResponseWriter, status int, msg string) {
	respondJSON(w, status, map[string]string{"error": msg})
}

func respondJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(data); err != nil {
		slog.Error("failed to encode response", "error", err)
	}
}
