// ABOUTME: HTTP server wiring the supervisor, rooms and reflection scheduler.
// ABOUTME: JSON in, JSON or SSE out.

package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"net/http"
	"time"

	"github.com/micktaiwan/eko/internal/metrics"
	"github.com/micktaiwan/eko/internal/reflection"
	"github.com/micktaiwan/eko/internal/store"
	"github.com/micktaiwan/eko/internal/supervisor"
)

// Agent is the supervisor surface used by the API.
type Agent interface {
	Ask(ctx context.Context, req supervisor.AskRequest) (*supervisor.Answer, error)
	Reset(ctx context.Context, userID string) error
	Ping(ctx context.Context) error
}

// Reflector is the reflection scheduler surface used by the API.
type Reflector interface {
	Trigger(ctx context.Context, opts reflection.TriggerOptions) *reflection.Result
	Stats(ctx context.Context) (*reflection.Stats, error)
	History(limit int) []*store.ReflectionEntry
	SetEnabled(enabled bool)
	Enabled() bool
	Subscribe(ctx context.Context) <-chan reflection.StateEvent
}

// Poster posts room messages.
type Poster interface {
	Post(ctx context.Context, roomID, author, content string) (*store.RoomMessage, error)
}

// Deps are the collaborators of a Server. Reflector, Rooms and Usage may be
// nil; their routes then answer 503.
type Deps struct {
	Agent     Agent
	Reflector Reflector
	Rooms     Poster
	Usage     store.UsageStore
	Logger    *slog.Logger
}

// Config tunes the HTTP server.
type Config struct {
	Addr        string
	MetricsPath string // empty disables /metrics
}

// Server serves the API.
type Server struct {
	cfg    Config
	deps   Deps
	logger *slog.Logger
	srv    *http.Server
}

// New creates a Server.
func New(cfg Config, deps Deps) *Server {
	logger := deps.Logger
	if logger == nil {
		logger = slog.Default()
	}
	s := &Server{cfg: cfg, deps: deps, logger: logger.With("component", "api")}
	s.srv = &http.Server{
		Addr:              cfg.Addr,
		Handler:           s.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}
	return s
}

// Handler returns the route table.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("GET /health", s.handleHealth)
	mux.HandleFunc("GET /health/ready", s.handleReady)
	if s.cfg.MetricsPath != "" {
		mux.Handle("GET "+s.cfg.MetricsPath, metrics.Handler())
	}

	mux.HandleFunc("POST /api/ask", s.handleAsk)
	mux.HandleFunc("POST /api/reset", s.handleReset)
	mux.HandleFunc("POST /api/rooms/{id}/messages", s.handlePostMessage)
	mux.HandleFunc("GET /api/stats/usage", s.handleUsageStats)

	mux.HandleFunc("GET /api/reflection/stats", s.handleReflectionStats)
	mux.HandleFunc("GET /api/reflection/history", s.handleReflectionHistory)
	mux.HandleFunc("POST /api/reflection/trigger", s.handleReflectionTrigger)
	mux.HandleFunc("POST /api/reflection/enabled", s.handleReflectionEnabled)
	mux.HandleFunc("GET /api/reflection/events", s.handleReflectionEvents)
	return mux
}

// Run serves until ctx ends, then shuts down gracefully.
func (s *Server) Run(ctx context.Context) error {
	ln, err := net.Listen("tcp", s.cfg.Addr)
	if err != nil {
		return fmt.Errorf("listen %s: %w", s.cfg.Addr, err)
	}
	s.logger.Info("http server listening", "addr", ln.Addr().String())

	errc := make(chan error, 1)
	go func() { errc <- s.srv.Serve(ln) }()

	select {
	case err := <-errc:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := s.srv.Shutdown(shutdownCtx); err != nil {
			return fmt.Errorf("http shutdown: %w", err)
		}
		return nil
	}
}

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte("OK"))
}

// handleReady returns 200 when the worker answers a ping.
func (s *Server) handleReady(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 5*time.Second)
	defer cancel()
	if err := s.deps.Agent.Ping(ctx); err != nil {
		w.WriteHeader(http.StatusServiceUnavailable)
		_, _ = fmt.Fprintf(w, "worker unavailable: %v", err)
		return
	}
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte("ready"))
}

func (s *Server) sendJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		s.logger.Warn("failed to write JSON response", "error", err)
	}
}

func (s *Server) sendJSONError(w http.ResponseWriter, status int, message string) {
	s.sendJSON(w, status, map[string]string{"error": message})
}

// decodeJSON reads a JSON body into v. An empty body leaves v untouched.
func decodeJSON(w http.ResponseWriter, r *http.Request, v any) error {
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, 1<<20))
	if err := dec.Decode(v); err != nil && !errors.Is(err, io.EOF) {
		return errors.New("invalid JSON body")
	}
	return nil
}

// sseStart sets the event-stream headers and returns the flusher.
func sseStart(w http.ResponseWriter) (http.Flusher, bool) {
	flusher, ok := w.(http.Flusher)
	if !ok {
		return nil, false
	}
	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.Header().Set("X-Accel-Buffering", "no")
	return flusher, true
}

func (s *Server) writeSSEEvent(w http.ResponseWriter, event string, data any) {
	dataJSON, err := json.Marshal(data)
	if err != nil {
		s.logger.Error("failed to marshal SSE data", "error", err)
		return
	}
	fmt.Fprintf(w, "event: %s\n", event)
	fmt.Fprintf(w, "data: %s\n\n", dataJSON)
}
