// Package jobctx gives task handlers access to the identity of the task
// they are running.
package jobctx

import "context"

// TaskInfo identifies one attempt of one task.
type TaskInfo struct {
	JobID   string
	TaskID  string
	Attempt int
	Replay  bool
}

type taskKey struct{}

// WithTask returns a context carrying info. Executors call this before
// invoking a handler.
func WithTask(ctx context.Context, info TaskInfo) context.Context {
	return context.WithValue(ctx, taskKey{}, info)
}

// TaskFromContext returns the task being executed, if any.
func TaskFromContext(ctx context.Context) (TaskInfo, bool) {
	info, ok := ctx.Value(taskKey{}).(TaskInfo)
	return info, ok
}

// JobIDFromContext returns the current job ID from context, or empty string if not in a task handler.
func JobIDFromContext(ctx context.Context) string {
	info, _ := TaskFromContext(ctx)
	return info.JobID
}

// TaskIDFromContext returns the current task ID from context, or empty string if not in a task handler.
func TaskIDFromContext(ctx context.Context) string {
	info, _ := TaskFromContext(ctx)
	return info.TaskID
}
