// Package executor runs a job's tasks in dependency order.
//
// A run claims the job in the registry, resolves the task graph, resumes
// from the job's checkpoint if one exists, and executes each remaining task
// through the agent with bounded retries. Every completed task is
// checkpointed before progress is published, so a crashed or timed-out run
// picks up where it stopped.
//
// A critical task that exhausts its retries fails the job. A non-critical
// one is recorded as incomplete in the result and the run continues.
//
// Cancellation is observed between tasks and during backoff. A task that
// is already running is only interrupted if the agent honours its context.
package executor
