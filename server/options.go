package server

import (
	"log/slog"
	"net/http"
	"time"

	"github.com/jdziat/crewrun/pkg/contextbuf"
)

// Option configures the server.
type Option interface {
	apply(*Server)
}

type optionFunc func(*Server)

func (f optionFunc) apply(s *Server) { f(s) }

// WithLogger sets the logger. Default: slog.Default().
func WithLogger(l *slog.Logger) Option {
	return optionFunc(func(s *Server) {
		s.logger = l
	})
}

// WithVersion sets the version reported by GET /.
func WithVersion(v string) Option {
	return optionFunc(func(s *Server) {
		s.version = v
	})
}

// WithSendTimeout bounds every WebSocket write so one slow client cannot
// hold its stream open indefinitely. Default: 5s.
func WithSendTimeout(d time.Duration) Option {
	return optionFunc(func(s *Server) {
		if d > 0 {
			s.sendTimeout = d
		}
	})
}

// WithChatHistory sets the compaction policy applied to POST /chat
// histories before they reach the agent.
func WithChatHistory(h contextbuf.ChatHistory) Option {
	return optionFunc(func(s *Server) {
		s.chat = h
	})
}

// WithMiddleware wraps the handler with middleware (auth, logging, etc.).
func WithMiddleware(mw func(http.Handler) http.Handler) Option {
	return optionFunc(func(s *Server) {
		s.middleware = mw
	})
}

// WithTimeouts sets the http.Server timeouts used by ListenAndServe.
func WithTimeouts(read, write, shutdown time.Duration) Option {
	return optionFunc(func(s *Server) {
		if read > 0 {
			s.readTimeout = read
		}
		if write > 0 {
			s.writeTimeout = write
		}
		if shutdown > 0 {
			s.shutdownTimeout = shutdown
		}
	})
}
