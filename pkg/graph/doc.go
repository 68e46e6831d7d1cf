// Package graph validates task dependencies and produces a deterministic
// execution order.
//
// Order is a topological sort computed by an iterative depth-first traversal
// with three-color marking. Ties are broken by declaration order, so the same
// task list always yields the same order. Cycles and references to unknown
// tasks are reported as configuration errors and never resolved silently.
package graph
