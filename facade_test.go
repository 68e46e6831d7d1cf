package crewrun_test

import (
	"context"
	"encoding/json"
	"errors"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jdziat/crewrun"
	"github.com/jdziat/crewrun/client"
	"github.com/jdziat/crewrun/pkg/config"
	"github.com/jdziat/crewrun/server"
)

// testConfig returns a configuration rooted in a temporary directory with
// fast retries and no background retention.
func testConfig(t *testing.T) *config.Config {
	t.Helper()
	dir := t.TempDir()

	cfg := config.Default()
	cfg.Storage.DSN = filepath.Join(dir, "jobs.db")
	cfg.Checkpoint.Dir = filepath.Join(dir, "checkpoints")
	cfg.Results.Dir = filepath.Join(dir, "results")
	cfg.Executor.BackoffBase = time.Millisecond
	cfg.Executor.MaxBackoff = 5 * time.Millisecond
	cfg.Executor.MaxRetries = 1
	cfg.Retention.Schedule = ""
	return cfg
}

// startStack opens a stack, runs its worker and serves its API on a test
// server.
func startStack(t *testing.T, cfg *config.Config, a crewrun.Agent) (*crewrun.Stack, *client.Client) {
	t.Helper()
	stack, err := crewrun.Open(cfg, a)
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		defer close(done)
		_ = stack.Worker.Start(ctx)
	}()

	srv := httptest.NewServer(stack.Server.Handler())
	t.Cleanup(func() {
		srv.Close()
		cancel()
		<-done
		_ = stack.Close()
	})
	return stack, client.New(srv.URL, client.WithPollInterval(10*time.Millisecond))
}

func diamond() []crewrun.TaskSpec {
	return []crewrun.TaskSpec{
		{ID: "A", Critical: true},
		{ID: "B", DependsOn: []string{"A"}},
		{ID: "C", DependsOn: []string{"A"}, Critical: true},
		{ID: "D", DependsOn: []string{"B", "C"}, Critical: true},
	}
}

// ────────────────────────────────────────────────────────────────────────────
// Open
// ────────────────────────────────────────────────────────────────────────────

func TestOpen_RequiresAnAgent(t *testing.T) {
	_, err := crewrun.Open(testConfig(t), nil)
	assert.ErrorIs(t, err, crewrun.ErrNoAgent)
}

func TestOpen_RemoteAgentFromConfig(t *testing.T) {
	cfg := testConfig(t)
	cfg.Agent.BaseURL = "http://agents.invalid"

	stack, err := crewrun.Open(cfg, nil)
	require.NoError(t, err)
	defer stack.Close()
	assert.NotNil(t, stack.Agent)
}

func TestOpen_DatabaseCheckpoints(t *testing.T) {
	cfg := testConfig(t)
	cfg.Checkpoint.Backend = "database"

	stack, err := crewrun.Open(cfg, crewrun.AgentFunc(nil))
	require.NoError(t, err)
	defer stack.Close()

	_, isDB := stack.Checkpoints.(interface {
		Previous(context.Context, string) (*crewrun.Checkpoint, bool, error)
	})
	assert.True(t, isDB)
}

// ────────────────────────────────────────────────────────────────────────────
// End to end
// ────────────────────────────────────────────────────────────────────────────

func TestStack_RunsProjectToCompletion(t *testing.T) {
	cfg := testConfig(t)
	agents := crewrun.NewAgentRegistry(crewrun.AgentFunc(
		func(_ context.Context, taskID string, in crewrun.TaskInput) (crewrun.Persistable, error) {
			return crewrun.Text(taskID + " done for " + in.Goal), nil
		},
	))
	require.NoError(t, agents.Register("B", func(in crewrun.TaskInput) (string, error) {
		return "", errors.New("B is flaky")
	}))

	stack, c := startStack(t, cfg, agents)
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	created, err := c.CreateProject(ctx, server.ProjectRequest{ProjectGoal: "ship it", Tasks: diamond()})
	require.NoError(t, err)

	var last crewrun.ProgressEvent
	require.NoError(t, c.Watch(ctx, created.JobID, func(ev crewrun.ProgressEvent) error {
		last = ev
		return nil
	}))
	assert.Equal(t, crewrun.StatusCompleted, last.Status)

	job, ok := stack.Registry.Get(created.JobID)
	require.True(t, ok)
	assert.Equal(t, crewrun.StatusCompleted, job.Status)
	assert.Equal(t, 100, job.Progress)
	require.NotNil(t, job.Result)
	assert.Equal(t, []string{"A", "C", "D"}, job.Result.Completed)
	require.Len(t, job.Result.Incomplete, 1)
	assert.Equal(t, "B", job.Result.Incomplete[0].TaskID)
	assert.Equal(t, "D done for ship it", job.Result.Outputs["D"])

	data, err := os.ReadFile(filepath.Join(cfg.Results.Dir, created.JobID, "summary.json"))
	require.NoError(t, err)
	var summary map[string]any
	require.NoError(t, json.Unmarshal(data, &summary))
	assert.Equal(t, "completed", summary["status"])
}

func TestStack_CriticalFailureFailsProject(t *testing.T) {
	cfg := testConfig(t)
	agents := crewrun.NewAgentRegistry(crewrun.AgentFunc(
		func(_ context.Context, taskID string, _ crewrun.TaskInput) (crewrun.Persistable, error) {
			if taskID == "C" {
				return nil, errors.New("C cannot work")
			}
			return crewrun.Text("ok"), nil
		},
	))

	stack, c := startStack(t, cfg, agents)
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	created, err := c.CreateProject(ctx, server.ProjectRequest{ProjectGoal: "g", Tasks: diamond()})
	require.NoError(t, err)
	require.NoError(t, c.Watch(ctx, created.JobID, func(crewrun.ProgressEvent) error { return nil }))

	job, _ := stack.Registry.Get(created.JobID)
	assert.Equal(t, crewrun.StatusFailed, job.Status)
	require.NotNil(t, job.Result.Error)
	assert.Equal(t, "critical_failure", string(job.Result.Error.Kind))
	assert.NotContains(t, job.Result.Completed, "D")
}

func TestStack_JobsSurviveRestart(t *testing.T) {
	cfg := testConfig(t)
	ok := crewrun.AgentFunc(func(context.Context, string, crewrun.TaskInput) (crewrun.Persistable, error) {
		return crewrun.Text("ok"), nil
	})

	first, err := crewrun.Open(cfg, ok)
	require.NoError(t, err)
	job, err := first.Registry.Create(context.Background(), &crewrun.Job{Goal: "persisted", Tasks: diamond()})
	require.NoError(t, err)
	require.NoError(t, first.Close())

	second, c := startStack(t, cfg, ok)
	got, found := second.Registry.Get(job.ID)
	require.True(t, found, "job restored from storage")
	assert.Equal(t, "persisted", got.Goal)

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	require.NoError(t, c.Watch(ctx, job.ID, func(crewrun.ProgressEvent) error { return nil }))

	got, _ = second.Registry.Get(job.ID)
	assert.Equal(t, crewrun.StatusCompleted, got.Status, "unfinished job recovered on start")
}

func TestDefaultTasks(t *testing.T) {
	tasks := crewrun.DefaultTasks()
	require.Len(t, tasks, 11)
	assert.Equal(t, "requirements_analysis", tasks[0].ID)
}
