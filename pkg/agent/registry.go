package agent

import (
	"context"
	"fmt"
	"sync"

	"github.com/jdziat/crewrun/pkg/core"
	"github.com/jdziat/crewrun/pkg/internal/handler"
	"github.com/jdziat/crewrun/pkg/security"
)

// Registry dispatches tasks to agents by handler name. A task's Handler
// field is used first, then its Agent role, then the task id itself. Tasks
// matching nothing go to the fallback agent.
type Registry struct {
	mu       sync.RWMutex
	agents   map[string]Agent
	fallback Agent
}

var (
	_ Agent          = (*Registry)(nil)
	_ Chatter        = (*Registry)(nil)
	_ MemoryResetter = (*Registry)(nil)
)

// NewRegistry creates a registry. fallback may be nil.
func NewRegistry(fallback Agent) *Registry {
	return &Registry{
		agents:   make(map[string]Agent),
		fallback: fallback,
	}
}

// Handle registers an agent under name.
func (r *Registry) Handle(name string, a Agent) error {
	if err := security.ValidateTaskID(name); err != nil {
		return fmt.Errorf("agent: invalid handler name: %w", err)
	}
	r.mu.Lock()
	r.agents[name] = a
	r.mu.Unlock()
	return nil
}

// Register wraps a typed function and registers it under name. See package
// handler for the accepted signatures.
func (r *Registry) Register(name string, fn any) error {
	h, err := handler.NewHandler(fn)
	if err != nil {
		return fmt.Errorf("agent: handler for %q: %w", name, err)
	}
	return r.Handle(name, Func(func(ctx context.Context, _ string, input core.TaskInput) (core.Persistable, error) {
		return h.Execute(ctx, input)
	}))
}

// Lookup returns the agent that would run the task.
func (r *Registry) Lookup(task core.TaskSpec) (Agent, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	for _, key := range []string{task.Handler, task.Agent, task.ID} {
		if key == "" {
			continue
		}
		if a, ok := r.agents[key]; ok {
			return a, true
		}
	}
	if r.fallback != nil {
		return r.fallback, true
	}
	return nil, false
}

// Execute implements Agent.
func (r *Registry) Execute(ctx context.Context, taskID string, input core.TaskInput) (core.Persistable, error) {
	a, ok := r.Lookup(input.Task)
	if !ok {
		return nil, core.NoRetry(fmt.Errorf("%w: %s", core.ErrNoAgent, taskID))
	}
	return a.Execute(ctx, taskID, input)
}

// Chat forwards to the fallback agent when it supports conversations.
func (r *Registry) Chat(ctx context.Context, req ChatRequest) (string, error) {
	c, ok := r.fallback.(Chatter)
	if !ok {
		return "", fmt.Errorf("%w: chat not supported", core.ErrNoAgent)
	}
	return c.Chat(ctx, req)
}

// ResetMemory forwards to the fallback agent when it has memory. Agents
// without memory have nothing to reset.
func (r *Registry) ResetMemory(ctx context.Context, memoryType string) error {
	if m, ok := r.fallback.(MemoryResetter); ok {
		return m.ResetMemory(ctx, memoryType)
	}
	return nil
}
