package client

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"strings"
	"time"

	"github.com/gorilla/websocket"

	"github.com/jdziat/crewrun/pkg/core"
	"github.com/jdziat/crewrun/server"
)

// ErrStopWatch may be returned by a Watch callback to end the watch early
// without an error.
var ErrStopWatch = errors.New("crewrun: stop watching")

// Watch delivers the job's progress to fn until the job finishes, fn
// returns an error, or ctx ends. Events come from the WebSocket stream;
// when it cannot be opened or breaks off, Watch polls GET /projects/{id}
// instead. Unknown jobs yield an error matching core.ErrJobNotFound.
func (c *Client) Watch(ctx context.Context, jobID string, fn func(core.ProgressEvent) error) error {
	last, err := c.stream(ctx, jobID, fn)
	switch {
	case err == nil, errors.Is(err, ErrStopWatch):
		return nil
	case errors.Is(err, core.ErrJobNotFound), ctx.Err() != nil:
		return err
	case !errors.Is(err, errStreamBroken):
		return err
	}

	c.logger.Debug("progress stream unavailable, polling", "job_id", jobID, "error", err)
	err = c.poll(ctx, jobID, last, fn)
	if errors.Is(err, ErrStopWatch) {
		return nil
	}
	return err
}

var errStreamBroken = errors.New("progress stream broken")

// stream consumes the WebSocket feed. It returns the last event seen so a
// polling fallback does not repeat it.
func (c *Client) stream(ctx context.Context, jobID string, fn func(core.ProgressEvent) error) (*core.ProgressEvent, error) {
	wsURL, err := c.streamURL(jobID)
	if err != nil {
		return nil, err
	}

	dialer := websocket.Dialer{HandshakeTimeout: c.timeout}
	conn, resp, err := dialer.DialContext(ctx, wsURL, nil)
	if resp != nil && resp.Body != nil {
		resp.Body.Close()
	}
	if err != nil {
		return nil, fmt.Errorf("%w: %v", errStreamBroken, err)
	}
	defer conn.Close()

	stop := context.AfterFunc(ctx, func() { conn.Close() })
	defer stop()

	var last *core.ProgressEvent
	for {
		var ev core.ProgressEvent
		if err := conn.ReadJSON(&ev); err != nil {
			if ctx.Err() != nil {
				return last, ctx.Err()
			}
			return last, fmt.Errorf("%w: %v", errStreamBroken, err)
		}
		if ev.Status == core.StatusNotFound {
			return last, fmt.Errorf("%w: %s", core.ErrJobNotFound, jobID)
		}

		c.recordEvent(ev)
		last = &ev
		if err := fn(ev); err != nil {
			return last, err
		}
		if ev.Status.IsTerminal() {
			return last, nil
		}
	}
}

// poll watches the job through its HTTP representation, reporting only
// changes.
func (c *Client) poll(ctx context.Context, jobID string, last *core.ProgressEvent, fn func(core.ProgressEvent) error) error {
	ticker := time.NewTicker(c.pollInterval)
	defer ticker.Stop()

	for {
		job, err := c.GetProject(ctx, jobID)
		if err != nil {
			var connErr *core.ConnectivityError
			if !errors.As(err, &connErr) {
				return err
			}
			c.logger.Debug("poll failed, retrying", "job_id", jobID, "error", err)
		} else {
			ev := summaryEvent(job)
			if last == nil || changed(*last, ev) {
				c.recordEvent(ev)
				last = &ev
				if err := fn(ev); err != nil {
					return err
				}
			}
			if ev.Status.IsTerminal() {
				return nil
			}
		}

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
		}
	}
}

func summaryEvent(job *server.JobSummary) core.ProgressEvent {
	ev := core.NewEvent(job.JobID, job.Status, job.Progress, job.Message)
	ev.Result = job.Result
	if job.Result != nil {
		ev.Error = job.Result.Error
	}
	return ev
}

func changed(a, b core.ProgressEvent) bool {
	return a.Status != b.Status || a.Progress != b.Progress || a.Message != b.Message
}

func (c *Client) recordEvent(ev core.ProgressEvent) {
	c.Record(core.RoleAssistant, fmt.Sprintf("[%s %d%%] %s", ev.Status, ev.Progress, ev.Message))
}

// streamURL maps the server's base URL onto its WebSocket endpoint.
func (c *Client) streamURL(jobID string) (string, error) {
	u, err := url.Parse(c.baseURL)
	if err != nil {
		return "", fmt.Errorf("parse server url: %w", err)
	}
	switch u.Scheme {
	case "https":
		u.Scheme = "wss"
	default:
		u.Scheme = "ws"
	}
	u.Path = strings.TrimSuffix(u.Path, "/") + "/ws/" + url.PathEscape(jobID)
	return u.String(), nil
}
