package client

import (
	"log/slog"
	"time"

	"github.com/jdziat/crewrun/pkg/contextbuf"
	"github.com/jdziat/crewrun/pkg/offline"
)

// Option configures a Client.
type Option interface {
	apply(*Client)
}

type optionFunc func(*Client)

func (f optionFunc) apply(c *Client) { f(c) }

// WithCache enables offline answers from c. The client does not close it.
func WithCache(c *offline.Cache) Option {
	return optionFunc(func(cl *Client) {
		cl.cache = c
	})
}

// WithBuffer replaces the session buffer.
func WithBuffer(b *contextbuf.Buffer) Option {
	return optionFunc(func(c *Client) {
		if b != nil {
			c.buffer = b
		}
	})
}

// WithChatHistory sets the compaction policy for the chat history sent to
// the server.
func WithChatHistory(h contextbuf.ChatHistory) Option {
	return optionFunc(func(c *Client) {
		c.chat = h
	})
}

// WithTimeout sets the per-request timeout. Default: 30s.
func WithTimeout(d time.Duration) Option {
	return optionFunc(func(c *Client) {
		if d > 0 {
			c.timeout = d
		}
	})
}

// WithPollInterval sets how often Watch polls when no stream is available.
// Default: 2s.
func WithPollInterval(d time.Duration) Option {
	return optionFunc(func(c *Client) {
		if d > 0 {
			c.pollInterval = d
		}
	})
}

// WithLogger sets the logger. Default: slog.Default().
func WithLogger(l *slog.Logger) Option {
	return optionFunc(func(c *Client) {
		c.logger = l
	})
}
