// Package core provides the fundamental types and interfaces for crewrun.
//
// This package contains:
//   - Job, TaskSpec and Checkpoint data models (Job carries GORM annotations)
//   - ProgressEvent and ContextMessage value types
//   - The Persistable contract task outputs must satisfy
//   - Store interfaces implemented by the checkpoint and storage packages
//   - Sentinel errors and the error taxonomy used across the module
//
// Most users should import the root package github.com/jdziat/crewrun
// instead of this package directly.
package core
