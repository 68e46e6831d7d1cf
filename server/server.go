// Package server exposes job submission, inspection and live progress over
// HTTP and WebSocket.
//
// Handlers never touch job records directly. Reads and writes go through
// the registry, runs are handed to a Submitter, and progress streams are
// fed from the hub.
//
// Usage:
//
//	srv := server.New(reg, hub, w, agents)
//	http.ListenAndServe(":8000", srv.Handler())
package server

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/gorilla/websocket"

	"github.com/jdziat/crewrun/pkg/agent"
	"github.com/jdziat/crewrun/pkg/contextbuf"
	"github.com/jdziat/crewrun/pkg/metrics"
	"github.com/jdziat/crewrun/pkg/progress"
	"github.com/jdziat/crewrun/pkg/registry"
)

// Submitter schedules a registered job for execution.
type Submitter interface {
	Submit(jobID string) error
}

// Server serves the crewrun API.
type Server struct {
	registry  *registry.Registry
	hub       *progress.Hub
	submitter Submitter
	agent     agent.Agent

	logger          *slog.Logger
	version         string
	sendTimeout     time.Duration
	chat            contextbuf.ChatHistory
	middleware      func(http.Handler) http.Handler
	readTimeout     time.Duration
	writeTimeout    time.Duration
	shutdownTimeout time.Duration

	upgrader websocket.Upgrader
}

// New creates a server. a is consulted for chat and memory resets when it
// implements agent.Chatter or agent.MemoryResetter; it may be nil.
func New(reg *registry.Registry, hub *progress.Hub, sub Submitter, a agent.Agent, opts ...Option) *Server {
	s := &Server{
		registry:        reg,
		hub:             hub,
		submitter:       sub,
		agent:           a,
		logger:          slog.Default(),
		version:         "dev",
		sendTimeout:     5 * time.Second,
		chat:            contextbuf.DefaultChatHistory(),
		readTimeout:     30 * time.Second,
		writeTimeout:    30 * time.Second,
		shutdownTimeout: 15 * time.Second,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			// The API is consumed by terminal clients, not browsers.
			CheckOrigin: func(*http.Request) bool { return true },
		},
	}
	for _, opt := range opts {
		opt.apply(s)
	}
	return s
}

// Handler returns the routed API.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()

	mux.HandleFunc("GET /{$}", s.handleRoot)
	mux.HandleFunc("GET /health", s.handleHealth)
	mux.Handle("GET /metrics", metrics.Handler())

	mux.HandleFunc("POST /projects", s.handleCreateProject)
	mux.HandleFunc("GET /projects", s.handleListProjects)
	mux.HandleFunc("GET /projects/{job_id}", s.handleGetProject)
	mux.HandleFunc("POST /tasks/replay", s.handleReplay)
	mux.HandleFunc("POST /memory/reset", s.handleResetMemory)
	mux.HandleFunc("POST /chat", s.handleChat)

	mux.HandleFunc("GET /ws/{job_id}", s.handleWebSocket)

	if s.middleware != nil {
		return s.middleware(mux)
	}
	return mux
}

// ListenAndServe serves on addr until ctx is cancelled, then shuts down
// gracefully.
func (s *Server) ListenAndServe(ctx context.Context, addr string) error {
	srv := &http.Server{
		Addr:              addr,
		Handler:           s.Handler(),
		ReadHeaderTimeout: 5 * time.Second,
		ReadTimeout:       s.readTimeout,
		// Long-lived WebSocket streams manage their own write deadlines.
		WriteTimeout: 0,
	}
	if s.writeTimeout > 0 {
		srv.Handler = writeTimeout(srv.Handler, s.writeTimeout)
	}

	errCh := make(chan error, 1)
	go func() {
		s.logger.Info("server listening", "addr", addr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), s.shutdownTimeout)
		defer cancel()
		// Hijacked WebSocket connections are not tracked by Shutdown;
		// closing the hub ends their streams.
		s.hub.Close()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			return err
		}
		return nil
	case err := <-errCh:
		return err
	}
}

// writeTimeout applies a per-request deadline to every route except the
// WebSocket upgrade.
func writeTimeout(next http.Handler, d time.Duration) http.Handler {
	limited := http.TimeoutHandler(next, d, `{"error":{"kind":"timeout","message":"request timed out"}}`)
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if websocket.IsWebSocketUpgrade(r) {
			next.ServeHTTP(w, r)
			return
		}
		limited.ServeHTTP(w, r)
	})
}
