package agent

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/go-resty/resty/v2"
	"golang.org/x/time/rate"

	"github.com/jdziat/crewrun/pkg/core"
	"github.com/jdziat/crewrun/pkg/jobctx"
)

// RemoteConfig configures a Remote agent.
type RemoteConfig struct {
	BaseURL       string
	Timeout       time.Duration
	RatePerSecond float64
	Burst         int
	APIKey        string
}

// Remote delegates tasks to an external agent service over HTTP:
//
//	POST /execute       {task_id, job_id, goal, task, context, ...} -> {output}
//	POST /chat          {messages, codebase_dir, model}             -> {response}
//	POST /memory/reset  {memory_type}
//
// Network failures, 429 and 5xx responses are returned as retryable errors.
// Other 4xx responses are marked core.NoRetry.
type Remote struct {
	http    *resty.Client
	limiter *rate.Limiter
	logger  *slog.Logger
}

var (
	_ Agent          = (*Remote)(nil)
	_ Chatter        = (*Remote)(nil)
	_ MemoryResetter = (*Remote)(nil)
)

// NewRemote creates a Remote agent.
func NewRemote(cfg RemoteConfig, logger *slog.Logger) *Remote {
	if cfg.Timeout <= 0 {
		cfg.Timeout = 5 * time.Minute
	}
	if logger == nil {
		logger = slog.Default()
	}

	client := resty.New().
		SetBaseURL(cfg.BaseURL).
		SetTimeout(cfg.Timeout).
		SetHeader("Content-Type", "application/json")
	if cfg.APIKey != "" {
		client.SetAuthToken(cfg.APIKey)
	}

	limit := rate.Inf
	if cfg.RatePerSecond > 0 {
		limit = rate.Limit(cfg.RatePerSecond)
	}
	burst := max(cfg.Burst, 1)

	return &Remote{
		http:    client,
		limiter: rate.NewLimiter(limit, burst),
		logger:  logger,
	}
}

type executeRequest struct {
	TaskID string `json:"task_id"`
	core.TaskInput
}

type executeResponse struct {
	Output string `json:"output"`
}

// Execute implements Agent.
func (r *Remote) Execute(ctx context.Context, taskID string, input core.TaskInput) (core.Persistable, error) {
	var out executeResponse
	if err := r.post(ctx, "/execute", executeRequest{TaskID: taskID, TaskInput: input}, &out); err != nil {
		return nil, err
	}
	return core.Text(out.Output), nil
}

type chatResponse struct {
	Response string `json:"response"`
}

// Chat implements Chatter.
func (r *Remote) Chat(ctx context.Context, req ChatRequest) (string, error) {
	var out chatResponse
	if err := r.post(ctx, "/chat", req, &out); err != nil {
		return "", err
	}
	return out.Response, nil
}

// ResetMemory implements MemoryResetter.
func (r *Remote) ResetMemory(ctx context.Context, memoryType string) error {
	return r.post(ctx, "/memory/reset", map[string]string{"memory_type": memoryType}, nil)
}

func (r *Remote) post(ctx context.Context, path string, body, result any) error {
	if err := r.limiter.Wait(ctx); err != nil {
		return err
	}

	req := r.http.R().SetContext(ctx).SetBody(body)
	if result != nil {
		req.SetResult(result)
	}
	if info, ok := jobctx.TaskFromContext(ctx); ok {
		req.SetHeader("X-Crewrun-Job", info.JobID).
			SetHeader("X-Crewrun-Task", info.TaskID).
			SetHeader("X-Crewrun-Attempt", strconv.Itoa(info.Attempt))
	}

	resp, err := req.Post(path)
	if err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return ctxErr
		}
		return fmt.Errorf("agent: POST %s: %w", path, err)
	}
	return classify(path, resp)
}

func classify(path string, resp *resty.Response) error {
	code := resp.StatusCode()
	if code >= 200 && code < 300 {
		return nil
	}

	err := fmt.Errorf("agent: POST %s: %d %s", path, code, resp.String())
	switch {
	case code == http.StatusTooManyRequests:
		return core.RetryAfter(retryAfter(resp.Header().Get("Retry-After")), err)
	case code >= 500:
		return err
	default:
		return core.NoRetry(err)
	}
}

// retryAfter parses a Retry-After header given in seconds.
func retryAfter(v string) time.Duration {
	secs, err := strconv.Atoi(v)
	if err != nil || secs < 0 {
		return 0
	}
	return time.Duration(secs) * time.Second
}

// IsPermanent reports whether err was marked as not worth retrying.
func IsPermanent(err error) bool {
	var noRetry *core.NoRetryError
	return errors.As(err, &noRetry)
}
