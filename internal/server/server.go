// Package server exposes health, metrics, status and a manual run trigger.
package server

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"sync"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"xwatch/internal/jobs"
	"xwatch/internal/logging"
	"xwatch/internal/metrics"
	"xwatch/internal/ratelimit"
	"xwatch/internal/store"
)

// Runner is satisfied by *jobs.Pipeline.
type Runner interface {
	Run(ctx context.Context) (jobs.Summary, error)
	Running() bool
	Last() (jobs.Summary, bool)
}

// Limits is the read side of the rate limiter.
type Limits interface {
	Destinations() []string
	Status(dest string) ratelimit.Status
}

// Server is the operational HTTP surface.
type Server struct {
	runner  Runner
	store   store.Store
	limits  Limits
	baseCtx context.Context
	router  chi.Router
	started time.Time
	runs    sync.WaitGroup
}

// New builds the router. Runs triggered over HTTP use baseCtx so they stop
// with the process, not with the request.
func New(baseCtx context.Context, runner Runner, st store.Store, limits Limits) *Server {
	s := &Server{runner: runner, store: st, limits: limits, baseCtx: baseCtx, started: time.Now()}
	s.setupRoutes()
	return s
}

func (s *Server) setupRoutes() {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.Recoverer)
	r.Use(requestLog)

	r.Get("/health", s.handleHealth)
	r.Handle("/metrics", metrics.Handler())
	r.Get("/status", s.handleStatus)
	r.Post("/run", s.handleRun)
	s.router = r
}

// Wait blocks until runs started by POST /run have returned.
func (s *Server) Wait() { s.runs.Wait() }

// Handler returns the router.
func (s *Server) Handler() http.Handler { return s.router }

// ListenAndServe serves until ctx is done, then shuts down gracefully.
func (s *Server) ListenAndServe(ctx context.Context, addr string) error {
	srv := &http.Server{Addr: addr, Handler: s.router, ReadHeaderTimeout: 10 * time.Second}
	errCh := make(chan error, 1)
	go func() {
		logging.Info("server_listen", map[string]any{"addr": addr})
		errCh <- srv.ListenAndServe()
	}()
	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
		shutCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := srv.Shutdown(shutCtx); err != nil {
			return err
		}
		if err := <-errCh; err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	}
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{"status": "ok", "uptime": time.Since(s.started).Round(time.Second).String()})
}

type statusResponse struct {
	Running    bool               `json:"running"`
	LastRun    *jobs.Summary      `json:"last_run,omitempty"`
	LastRunAt  string             `json:"last_run_at,omitempty"`
	Store      *store.Stats       `json:"store,omitempty"`
	StoreError string             `json:"store_error,omitempty"`
	RateLimits []ratelimit.Status `json:"rate_limits"`
}

func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	resp := statusResponse{Running: s.runner.Running(), RateLimits: []ratelimit.Status{}}
	if last, ok := s.runner.Last(); ok {
		resp.LastRun = &last
	}
	if st, err := s.store.Stats(r.Context()); err != nil {
		resp.StoreError = err.Error()
	} else {
		resp.Store = &st
	}
	if v, err := s.store.LoadCursor(r.Context(), store.CursorLastRun); err == nil {
		resp.LastRunAt = v
	}
	if s.limits != nil {
		for _, d := range s.limits.Destinations() {
			resp.RateLimits = append(resp.RateLimits, s.limits.Status(d))
		}
	}
	writeJSON(w, http.StatusOK, resp)
}

// handleRun starts a run in the background. ?wait=1 blocks and returns the
// summary. A run already in flight answers 409.
func (s *Server) handleRun(w http.ResponseWriter, r *http.Request) {
	if s.runner.Running() {
		writeJSON(w, http.StatusConflict, jobs.Summary{Skipped: true})
		return
	}
	if r.URL.Query().Get("wait") == "1" {
		sum, err := s.runner.Run(s.baseCtx)
		switch {
		case sum.Skipped:
			writeJSON(w, http.StatusConflict, sum)
		case err != nil:
			writeJSON(w, http.StatusInternalServerError, sum)
		default:
			writeJSON(w, http.StatusOK, sum)
		}
		return
	}
	s.runs.Add(1)
	go func() {
		defer s.runs.Done()
		if _, err := s.runner.Run(s.baseCtx); err != nil {
			logging.Warn("manual_run_failed", map[string]any{"error": err})
		}
	}()
	writeJSON(w, http.StatusAccepted, map[string]any{"started": true})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func requestLog(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		start := time.Now()
		next.ServeHTTP(ww, r)
		logging.Debug("http_request", map[string]any{
			"method": r.Method, "path": r.URL.Path, "status": ww.Status(),
			"duration_ms": time.Since(start).Milliseconds(), "request_id": middleware.GetReqID(r.Context()),
		})
	})
}
