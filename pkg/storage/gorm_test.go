package storage

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jdziat/crewrun/pkg/core"
)

// newTestStorage creates a migrated storage for each test.
func newTestStorage(t *testing.T) *GormStorage {
	t.Helper()
	s := NewGormStorage(openTestDB(t))
	require.NoError(t, s.Migrate(context.Background()), "migrate schema")
	return s
}

func newTestJob(id string, created time.Time) *core.Job {
	return &core.Job{
		ID:     id,
		Kind:   core.KindRun,
		Goal:   "Build a calculator",
		Status: core.StatusQueued,
		Tasks: []core.TaskSpec{
			{ID: "A", Critical: true},
			{ID: "B", DependsOn: []string{"A"}},
		},
		CreatedAt: created,
		UpdatedAt: created,
	}
}

// loadJob finds a stored job through LoadJobs.
func loadJob(t *testing.T, s *GormStorage, id string) (*core.Job, bool) {
	t.Helper()
	jobs, err := s.LoadJobs(context.Background())
	require.NoError(t, err)
	for _, j := range jobs {
		if j.ID == id {
			return j, true
		}
	}
	return nil, false
}

// ──────────────────────────────────────────────────────────────────────────────
// Jobs
// ──────────────────────────────────────────────────────────────────────────────

func TestGormStorage_SaveAndLoadJob(t *testing.T) {
	ctx := context.Background()
	s := newTestStorage(t)

	job := newTestJob("job-1", time.Now().UTC())
	job.Options = core.JobOptions{Memory: true, NonInteractive: true}
	require.NoError(t, s.SaveJob(ctx, job))

	got, found := loadJob(t, s, "job-1")
	require.True(t, found)
	assert.Equal(t, "Build a calculator", got.Goal)
	assert.Equal(t, core.StatusQueued, got.Status)
	require.Len(t, got.Tasks, 2)
	assert.Equal(t, []string{"A"}, got.Tasks[1].DependsOn)
	assert.True(t, got.Tasks[0].Critical)
	assert.True(t, got.Options.Memory)
	assert.Nil(t, got.Result)
}

func TestGormStorage_SaveJobOverwrites(t *testing.T) {
	ctx := context.Background()
	s := newTestStorage(t)

	job := newTestJob("job-1", time.Now().UTC())
	require.NoError(t, s.SaveJob(ctx, job))

	job.Status = core.StatusCompleted
	job.Progress = 100
	job.Result = &core.JobResult{
		Kind:       core.KindRun,
		Completed:  []string{"A"},
		Incomplete: []core.TaskFailure{{TaskID: "B", Kind: core.KindNonCriticalFailure, Message: "boom", Attempts: 4}},
		Outputs:    map[string]string{"A": "done"},
	}
	require.NoError(t, s.SaveJob(ctx, job))

	got, found := loadJob(t, s, "job-1")
	require.True(t, found)
	assert.Equal(t, core.StatusCompleted, got.Status)
	assert.Equal(t, 100, got.Progress)
	require.NotNil(t, got.Result)
	assert.Equal(t, "done", got.Result.Outputs["A"])
	require.Len(t, got.Result.Incomplete, 1)
	assert.Equal(t, "B", got.Result.Incomplete[0].TaskID)
}

func TestGormStorage_LoadJobsOldestFirst(t *testing.T) {
	ctx := context.Background()
	s := newTestStorage(t)

	now := time.Now().UTC()
	require.NoError(t, s.SaveJob(ctx, newTestJob("second", now)))
	require.NoError(t, s.SaveJob(ctx, newTestJob("first", now.Add(-time.Hour))))

	jobs, err := s.LoadJobs(ctx)
	require.NoError(t, err)
	require.Len(t, jobs, 2)
	assert.Equal(t, "first", jobs[0].ID)
	assert.Equal(t, "second", jobs[1].ID)
}

func TestGormStorage_DeleteJobs(t *testing.T) {
	ctx := context.Background()
	s := newTestStorage(t)
	cps := s.Checkpoints(nil)

	require.NoError(t, s.SaveJob(ctx, newTestJob("job-1", time.Now().UTC())))
	require.NoError(t, cps.Save(ctx, &core.Checkpoint{JobID: "job-1", CompletedTasks: []string{"A"}}))

	require.NoError(t, s.DeleteJobs(ctx, []string{"job-1"}))
	require.NoError(t, s.DeleteJobs(ctx, nil))

	_, found := loadJob(t, s, "job-1")
	assert.False(t, found)
	_, found, err := cps.Load(ctx, "job-1")
	require.NoError(t, err)
	assert.False(t, found)
}

// ──────────────────────────────────────────────────────────────────────────────
// Checkpoints
// ──────────────────────────────────────────────────────────────────────────────

func TestCheckpointStore_SaveLoadClear(t *testing.T) {
	ctx := context.Background()
	cps := newTestStorage(t).Checkpoints(nil)

	_, found, err := cps.Load(ctx, "job-1")
	require.NoError(t, err)
	assert.False(t, found)

	require.NoError(t, cps.Save(ctx, &core.Checkpoint{
		JobID:          "job-1",
		CompletedTasks: []string{"A"},
		TaskOutputs:    map[string]string{"A": "out"},
	}))

	cp, found, err := cps.Load(ctx, "job-1")
	require.NoError(t, err)
	require.True(t, found)
	assert.Equal(t, []string{"A"}, cp.CompletedTasks)
	assert.Equal(t, "out", cp.TaskOutputs["A"])
	assert.False(t, cp.SavedAt.IsZero())

	require.NoError(t, cps.Clear(ctx, "job-1"))
	_, found, err = cps.Load(ctx, "job-1")
	require.NoError(t, err)
	assert.False(t, found)
}

func TestCheckpointStore_KeepsPreviousGeneration(t *testing.T) {
	ctx := context.Background()
	cps := newTestStorage(t).Checkpoints(nil)

	_, found, err := cps.Previous(ctx, "job-1")
	require.NoError(t, err)
	assert.False(t, found)

	for _, done := range [][]string{{"A"}, {"A", "B"}, {"A", "B", "C"}} {
		require.NoError(t, cps.Save(ctx, &core.Checkpoint{JobID: "job-1", CompletedTasks: done}))
	}

	prev, found, err := cps.Previous(ctx, "job-1")
	require.NoError(t, err)
	require.True(t, found)
	assert.Equal(t, []string{"A", "B"}, prev.CompletedTasks)

	cur, _, err := cps.Load(ctx, "job-1")
	require.NoError(t, err)
	assert.Equal(t, []string{"A", "B", "C"}, cur.CompletedTasks)
}

// ──────────────────────────────────────────────────────────────────────────────
// Open / pool
// ──────────────────────────────────────────────────────────────────────────────

func TestDefaultPoolConfig(t *testing.T) {
	cfg := DefaultPoolConfig()

	assert.Equal(t, 25, cfg.MaxOpenConns)
	assert.Equal(t, 10, cfg.MaxIdleConns)
	assert.Equal(t, 5*time.Minute, cfg.ConnMaxLifetime)
	assert.Equal(t, 1*time.Minute, cfg.ConnMaxIdleTime)
}

func TestOpen_SQLiteSingleConnection(t *testing.T) {
	db, err := Open(DriverSQLite, ":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { _ = Close(db) })

	sqlDB, err := db.DB()
	require.NoError(t, err)
	assert.Equal(t, 1, sqlDB.Stats().MaxOpenConnections)
}

func TestOpen_PoolOptionsOverride(t *testing.T) {
	db, err := Open(DriverSQLite, ":memory:", MaxOpenConns(3), MaxOpenConns(0))
	require.NoError(t, err)
	t.Cleanup(func() { _ = Close(db) })

	sqlDB, err := db.DB()
	require.NoError(t, err)
	assert.Equal(t, 3, sqlDB.Stats().MaxOpenConnections)
}

func TestOpen_UnknownDriver(t *testing.T) {
	_, err := Open("oracle", "dsn")
	assert.ErrorContains(t, err, "unsupported driver")
}
