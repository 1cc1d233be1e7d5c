package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/MikeSquared-Agency/ally/internal/dialog"
	"github.com/MikeSquared-Agency/ally/internal/messenger"
	"github.com/MikeSquared-Agency/ally/internal/platform"
	"github.com/MikeSquared-Agency/ally/internal/processor"
)

const maxBodyBytes = 1 << 20

// TurnHandler runs one dialog turn.
type TurnHandler interface {
	HandleTurn(ctx context.Context, turn dialog.Turn) (processor.Outcome, error)
}

type Options struct {
	Port           int
	WebhookToken   string
	SessionBackend string
	// Ready reports whether dependencies are reachable. Optional.
	Ready func(ctx context.Context) error
}

type Server struct {
	router *chi.Mux
	srv    *http.Server
	opts   Options
	codec  platform.Codec
	turns  TurnHandler
	logger *slog.Logger
}

func NewServer(opts Options, codec platform.Codec, turns TurnHandler, logger *slog.Logger) *Server {
	router := chi.NewRouter()
	router.Use(middleware.RequestID)
	router.Use(middleware.Logger)
	router.Use(middleware.Recoverer)

	s := &Server{
		router: router,
		srv: &http.Server{
			Addr:              fmt.Sprintf(":%d", opts.Port),
			Handler:           router,
			ReadHeaderTimeout: 10 * time.Second,
		},
		opts:   opts,
		codec:  codec,
		turns:  turns,
		logger: logger,
	}

	router.Get("/health", s.health)
	router.Get("/ready", s.ready)
	router.Get("/api/v1/ally/status", s.status)

	router.Group(func(r chi.Router) {
		r.Use(BearerAuthMiddleware(opts.WebhookToken))
		r.Post("/webhook", s.webhook)
	})

	return s
}

// MountMessenger exposes the Messenger webhook at /messenger.
func (s *Server) MountMessenger(h *messenger.Handler) {
	s.router.Get("/messenger", h.Verify)
	s.router.Post("/messenger", h.Receive)
}

func (s *Server) Start() error {
	s.logger.Info("API server starting", "addr", s.srv.Addr)
	err := s.srv.ListenAndServe()
	if errors.Is(err, http.ErrServerClosed) {
		return nil
	}
	return err
}

func (s *Server) Shutdown(ctx context.Context) error {
	return s.srv.Shutdown(ctx)
}

func (s *Server) health(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) ready(w http.ResponseWriter, r *http.Request) {
	if s.opts.Ready != nil {
		ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
		defer cancel()
		if err := s.opts.Ready(ctx); err != nil {
			s.logger.Warn("readiness check failed", "error", err)
			writeJSON(w, http.StatusServiceUnavailable, map[string]string{"status": "unavailable"})
			return
		}
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "ready"})
}

// Readiness combines checks; nil checks are skipped and the first failure wins.
func Readiness(checks ...func(ctx context.Context) error) func(ctx context.Context) error {
	return func(ctx context.Context) error {
		for _, check := range checks {
			if check == nil {
				continue
			}
			if err := check(ctx); err != nil {
				return err
			}
		}
		return nil
	}
}

func (s *Server) status(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{
		"agent":           "ally",
		"platform":        s.codec.Name(),
		"session_backend": s.opts.SessionBackend,
	})
}

func (s *Server) webhook(w http.ResponseWriter, r *http.Request) {
	env, err := s.codec.Decode(http.MaxBytesReader(w, r.Body, maxBodyBytes))
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	out, err := s.turns.HandleTurn(r.Context(), env.Turn())
	switch {
	case errors.Is(err, processor.ErrMissingUser):
		writeError(w, http.StatusBadRequest, err.Error())
		return
	case err != nil:
		s.logger.Error("turn failed", "platform", s.codec.Name(), "user_id", env.Turn().UserID, "error", err)
		writeError(w, http.StatusInternalServerError, "turn failed")
		return
	}

	w.Header().Set("X-Turn-ID", out.TurnID)
	writeJSON(w, http.StatusOK, env.Reply(out))
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}
