package agent

import (
	"context"
	"slices"

	"github.com/jdziat/crewrun/pkg/core"
)

// Agent executes one task and returns its output.
type Agent interface {
	Execute(ctx context.Context, taskID string, input core.TaskInput) (core.Persistable, error)
}

// Func adapts a function to Agent.
type Func func(ctx context.Context, taskID string, input core.TaskInput) (core.Persistable, error)

// Execute implements Agent.
func (f Func) Execute(ctx context.Context, taskID string, input core.TaskInput) (core.Persistable, error) {
	return f(ctx, taskID, input)
}

// ChatRequest is a free-form conversation forwarded to the agent layer.
type ChatRequest struct {
	Messages    []core.ContextMessage `json:"messages"`
	CodebaseDir string                `json:"codebase_dir,omitempty"`
	Model       string                `json:"model,omitempty"`
}

// Chatter is implemented by agents that can hold a conversation.
type Chatter interface {
	Chat(ctx context.Context, req ChatRequest) (string, error)
}

// MemoryResetter is implemented by agents with resettable memory.
type MemoryResetter interface {
	ResetMemory(ctx context.Context, memoryType string) error
}

// Memory types accepted by ResetMemory.
const (
	MemoryAll    = "all"
	MemoryShort  = "short"
	MemoryLong   = "long"
	MemoryEntity = "entity"
)

var memoryTypes = []string{MemoryAll, MemoryShort, MemoryLong, MemoryEntity}

// ValidMemoryType reports whether t names a memory store.
func ValidMemoryType(t string) bool {
	return slices.Contains(memoryTypes, t)
}
