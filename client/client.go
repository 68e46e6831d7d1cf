// Package client is the library behind the crew terminal client.
//
// A Client talks to a crewrun server over HTTP and WebSocket. When the
// server cannot be reached it switches to offline mode, where chat answers
// come from the local offline cache. Everything shown to the user can be
// recorded in a context buffer that compacts itself as it grows.
package client

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"sync"
	"sync/atomic"
	"time"

	"github.com/go-resty/resty/v2"

	"github.com/jdziat/crewrun/pkg/contextbuf"
	"github.com/jdziat/crewrun/pkg/core"
	"github.com/jdziat/crewrun/pkg/offline"
	"github.com/jdziat/crewrun/pkg/schedule"
	"github.com/jdziat/crewrun/server"
)

// OfflineMessage is the reply given offline when nothing is cached.
const OfflineMessage = "I'm currently in offline mode and don't have a cached response for this query."

// Source tells where a chat reply came from.
type Source string

const (
	SourceServer Source = "server"
	SourceCache  Source = "cache"
	SourceNone   Source = "none"
)

// Reply is an answer to a chat message.
type Reply struct {
	Text   string
	Source Source
}

// APIError is a failure reported by the server.
type APIError struct {
	StatusCode int
	Info       core.ErrorInfo
}

func (e *APIError) Error() string {
	return fmt.Sprintf("server returned %d (%s): %s", e.StatusCode, e.Info.Kind, e.Info.Message)
}

// Is matches core.ErrJobNotFound for not_found responses.
func (e *APIError) Is(target error) bool {
	return target == core.ErrJobNotFound && e.Info.Kind == core.KindNotFound
}

type apiErrorBody struct {
	Error *core.ErrorInfo `json:"error"`
}

// Client is a crewrun API client. It is safe for concurrent use.
type Client struct {
	http         *resty.Client
	baseURL      string
	timeout      time.Duration
	pollInterval time.Duration
	cache        *offline.Cache
	buffer       *contextbuf.Buffer
	chat         contextbuf.ChatHistory
	logger       *slog.Logger

	offline atomic.Bool

	// chatMu serializes Chat so every exchange lands in history in order.
	chatMu  sync.Mutex
	history []core.ContextMessage
}

// New creates a client for the server at baseURL.
func New(baseURL string, opts ...Option) *Client {
	c := &Client{
		baseURL:      baseURL,
		timeout:      30 * time.Second,
		pollInterval: 2 * time.Second,
		buffer:       contextbuf.New(),
		chat:         contextbuf.DefaultChatHistory(),
		logger:       slog.Default(),
	}
	for _, opt := range opts {
		opt.apply(c)
	}

	c.http = resty.New().
		SetBaseURL(baseURL).
		SetTimeout(c.timeout).
		SetHeader("Content-Type", "application/json").
		SetHeader("Accept", "application/json")
	return c
}

// Offline reports whether the client is in offline mode.
func (c *Client) Offline() bool {
	return c.offline.Load()
}

// Buffer returns the session buffer.
func (c *Client) Buffer() *contextbuf.Buffer {
	return c.buffer
}

// Record appends a displayed line to the session buffer.
func (c *Client) Record(role core.Role, line string) {
	c.buffer.Append(role, line)
}

// Compact compacts the session buffer on demand.
func (c *Client) Compact() bool {
	return c.buffer.Compact()
}

// CheckConnectivity probes GET /health. A failure switches the client to
// offline mode; a success switches it back.
func (c *Client) CheckConnectivity(ctx context.Context) error {
	var health server.HealthResponse
	resp, err := c.http.R().SetContext(ctx).SetResult(&health).Get("/health")
	if err == nil && resp.StatusCode() == http.StatusOK {
		if c.offline.Swap(false) {
			c.logger.Info("server reachable again, leaving offline mode", "server", c.baseURL)
		}
		return nil
	}
	if err == nil {
		err = fmt.Errorf("health check returned %d", resp.StatusCode())
	}
	c.goOffline(err)
	return &core.ConnectivityError{Op: "health", Err: err}
}

func (c *Client) goOffline(cause error) {
	if !c.offline.Swap(true) {
		c.logger.Warn("server unreachable, switching to offline mode", "server", c.baseURL, "error", cause)
		c.Record(core.RoleSystem, "Server unreachable, switching to offline mode")
	}
}

// CreateProject submits a job.
func (c *Client) CreateProject(ctx context.Context, req server.ProjectRequest) (*server.ProjectResponse, error) {
	var out server.ProjectResponse
	if err := c.do(ctx, http.MethodPost, "/projects", req, &out); err != nil {
		return nil, err
	}
	c.Record(core.RoleSystem, fmt.Sprintf("Project %s queued: %s", out.JobID, req.ProjectGoal))
	return &out, nil
}

// ListProjects returns every job the server knows.
func (c *Client) ListProjects(ctx context.Context) ([]server.JobSummary, error) {
	var out []server.JobSummary
	if err := c.do(ctx, http.MethodGet, "/projects", nil, &out); err != nil {
		return nil, err
	}
	return out, nil
}

// GetProject returns one job. Unknown jobs yield an error matching
// core.ErrJobNotFound.
func (c *Client) GetProject(ctx context.Context, jobID string) (*server.JobSummary, error) {
	var out server.JobSummary
	if err := c.do(ctx, http.MethodGet, "/projects/"+jobID, nil, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// ReplayTask queues a single-task replay.
func (c *Client) ReplayTask(ctx context.Context, req server.ReplayRequest) (*server.ProjectResponse, error) {
	var out server.ProjectResponse
	if err := c.do(ctx, http.MethodPost, "/tasks/replay", req, &out); err != nil {
		return nil, err
	}
	c.Record(core.RoleSystem, out.Message)
	return &out, nil
}

// ResetMemory clears agent memory of the given type.
func (c *Client) ResetMemory(ctx context.Context, memoryType string) error {
	var out server.StatusResponse
	return c.do(ctx, http.MethodPost, "/memory/reset", server.MemoryResetRequest{MemoryType: memoryType}, &out)
}

type chatKey struct {
	Input string `json:"input"`
}

type chatValue struct {
	Response string `json:"response"`
}

// Chat sends text with the running conversation. Offline, or when the
// server cannot be reached mid-call, the answer comes from the cache; a
// cache miss yields OfflineMessage. Concurrent calls are served one at a
// time.
func (c *Client) Chat(ctx context.Context, text string) (Reply, error) {
	c.chatMu.Lock()
	defer c.chatMu.Unlock()

	c.Record(core.RoleUser, text)

	if c.Offline() {
		return c.cachedReply(ctx, text)
	}

	messages := append(c.history[:len(c.history):len(c.history)], core.ContextMessage{Role: core.RoleUser, Content: text})
	if c.chat.NeedsCompaction(messages) {
		messages = c.chat.Compact(messages)
	}

	var out server.ChatResponse
	err := c.do(ctx, http.MethodPost, "/chat", server.ChatRequest{Messages: messages}, &out)
	var connErr *core.ConnectivityError
	switch {
	case errors.As(err, &connErr):
		return c.cachedReply(ctx, text)
	case err != nil:
		return Reply{}, err
	}

	c.history = c.chat.Append(messages[:len(messages)-1], text, out.Response)

	if c.cache != nil {
		if err := c.cache.Put(ctx, chatKey{Input: text}, chatValue{Response: out.Response}); err != nil {
			c.logger.Warn("failed to cache chat reply", "error", err)
		}
	}
	c.Record(core.RoleAssistant, out.Response)
	return Reply{Text: out.Response, Source: SourceServer}, nil
}

func (c *Client) cachedReply(ctx context.Context, text string) (Reply, error) {
	reply := Reply{Text: OfflineMessage, Source: SourceNone}
	if c.cache != nil {
		v, found, err := offline.Lookup[chatValue](ctx, c.cache, chatKey{Input: text})
		if err != nil {
			c.logger.Warn("offline cache lookup failed", "error", err)
		}
		if found {
			reply = Reply{Text: v.Response, Source: SourceCache}
		}
	}
	c.Record(core.RoleAssistant, reply.Text)
	return reply, nil
}

// PruneCache removes cached answers older than maxAge.
func (c *Client) PruneCache(ctx context.Context, maxAge time.Duration) (int64, error) {
	if c.cache == nil {
		return 0, nil
	}
	return c.cache.Prune(ctx, time.Now().Add(-maxAge))
}

// RunCacheMaintenance prunes the cache on s until ctx ends.
func (c *Client) RunCacheMaintenance(ctx context.Context, s schedule.Schedule, maxAge time.Duration) {
	if c.cache == nil {
		return
	}
	schedule.Run(ctx, s, "offline-cache-prune", c.logger, func(ctx context.Context) error {
		_, err := c.PruneCache(ctx, maxAge)
		return err
	})
}

// do performs one API call. Transport failures switch the client offline
// and surface as *core.ConnectivityError.
func (c *Client) do(ctx context.Context, method, path string, body, result any) error {
	var apiErr apiErrorBody
	req := c.http.R().SetContext(ctx).SetResult(result).SetError(&apiErr)
	if body != nil {
		req.SetBody(body)
	}

	resp, err := req.Execute(method, path)
	if err != nil {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		c.goOffline(err)
		return &core.ConnectivityError{Op: method + " " + path, Err: err}
	}
	if c.offline.Swap(false) {
		c.logger.Info("server reachable again, leaving offline mode", "server", c.baseURL)
	}
	if resp.IsError() {
		e := &APIError{StatusCode: resp.StatusCode()}
		if apiErr.Error != nil {
			e.Info = *apiErr.Error
		} else {
			e.Info = core.ErrorInfo{Kind: core.KindInternal, Message: resp.String()}
		}
		return e
	}
	return nil
}
