// Package worker dispatches jobs to the executor, one goroutine per job.
//
// The worker bounds how many jobs run at once and wraps each run in a
// timeout with retries: an attempt that hits its deadline is retried with a
// longer one and resumes from the job's checkpoint. When every attempt has
// timed out, or a run ignores cancellation for longer than the drain grace,
// the job is marked failed with a timeout reason. A run that ignores
// cancellation keeps its goroutine until the agent returns; its late
// writes are rejected because the job is already finished.
//
// On Start the worker resubmits every unfinished job found in the registry,
// so jobs interrupted by a crash resume from their checkpoints. An optional
// retention sweep removes old finished jobs on a schedule.
package worker
