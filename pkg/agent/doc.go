// Package agent defines the boundary between crewrun and the framework that
// actually performs tasks.
//
// The executor depends only on Agent. This package also provides:
//   - Func, an adapter for plain functions
//   - Registry, which dispatches on a task's handler name
//   - Remote, an HTTP client for an external agent service
//   - DefaultTasks, the software-team plan used when a project names no tasks
package agent
