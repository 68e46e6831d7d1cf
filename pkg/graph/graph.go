package graph

import (
	"slices"

	"github.com/jdziat/crewrun/pkg/core"
)

type color uint8

const (
	white color = iota // unvisited
	gray               // on the traversal stack
	black              // emitted
)

// Graph is a validated, immutable task dependency graph.
type Graph struct {
	tasks []core.TaskSpec
	index map[string]int
	deps  [][]int
	order []int
}

// New validates tasks and computes their execution order.
func New(tasks []core.TaskSpec) (*Graph, error) {
	g := &Graph{
		tasks: make([]core.TaskSpec, len(tasks)),
		index: make(map[string]int, len(tasks)),
		deps:  make([][]int, len(tasks)),
	}

	for i, t := range tasks {
		if _, dup := g.index[t.ID]; dup {
			return nil, &core.DuplicateTaskError{TaskID: t.ID}
		}
		g.index[t.ID] = i
		g.tasks[i] = t.Clone()
	}

	for i, t := range tasks {
		for _, dep := range t.DependsOn {
			j, ok := g.index[dep]
			if !ok {
				return nil, &core.UnknownDependencyError{TaskID: t.ID, Dependency: dep}
			}
			g.deps[i] = append(g.deps[i], j)
		}
	}

	order, err := g.sort()
	if err != nil {
		return nil, err
	}
	g.order = order
	return g, nil
}

type frame struct {
	node int
	next int
}

// sort emits nodes in post-order, visiting roots and dependencies in
// declaration order.
func (g *Graph) sort() ([]int, error) {
	colors := make([]color, len(g.tasks))
	order := make([]int, 0, len(g.tasks))

	for root := range g.tasks {
		if colors[root] != white {
			continue
		}
		colors[root] = gray
		stack := []frame{{node: root}}

		for len(stack) > 0 {
			top := &stack[len(stack)-1]
			if top.next < len(g.deps[top.node]) {
				dep := g.deps[top.node][top.next]
				top.next++
				switch colors[dep] {
				case white:
					colors[dep] = gray
					stack = append(stack, frame{node: dep})
				case gray:
					return nil, g.cycleError(stack, dep)
				}
				continue
			}
			colors[top.node] = black
			order = append(order, top.node)
			stack = stack[:len(stack)-1]
		}
	}
	return order, nil
}

// cycleError names dep, the in-progress node that was reached again, and the
// path from it back to itself.
func (g *Graph) cycleError(stack []frame, dep int) error {
	start := slices.IndexFunc(stack, func(f frame) bool { return f.node == dep })
	path := make([]string, 0, len(stack)-start+1)
	for _, f := range stack[start:] {
		path = append(path, g.tasks[f.node].ID)
	}
	path = append(path, g.tasks[dep].ID)
	return &core.CyclicDependencyError{TaskID: g.tasks[dep].ID, Path: path}
}

// Order returns task ids in execution order.
func (g *Graph) Order() []string {
	ids := make([]string, len(g.order))
	for i, n := range g.order {
		ids[i] = g.tasks[n].ID
	}
	return ids
}

// Tasks returns the task specs in execution order.
func (g *Graph) Tasks() []core.TaskSpec {
	out := make([]core.TaskSpec, len(g.order))
	for i, n := range g.order {
		out[i] = g.tasks[n].Clone()
	}
	return out
}

// Task returns the TaskSpec with the given id.
func (g *Graph) Task(id string) (core.TaskSpec, bool) {
	i, ok := g.index[id]
	if !ok {
		return core.TaskSpec{}, false
	}
	return g.tasks[i].Clone(), true
}

// At returns the task at position i of the execution order.
func (g *Graph) At(i int) (core.TaskSpec, error) {
	if i < 0 || i >= len(g.order) {
		return core.TaskSpec{}, core.ErrTaskIndexOutOfRange
	}
	return g.tasks[g.order[i]].Clone(), nil
}

// Len returns the number of tasks.
func (g *Graph) Len() int {
	return len(g.tasks)
}

// Remaining returns the execution order with the given task ids removed.
// Ids that are not part of the graph are ignored.
func (g *Graph) Remaining(completed []string) []core.TaskSpec {
	done := make(map[string]struct{}, len(completed))
	for _, id := range completed {
		done[id] = struct{}{}
	}
	out := make([]core.TaskSpec, 0, len(g.order))
	for _, n := range g.order {
		if _, ok := done[g.tasks[n].ID]; ok {
			continue
		}
		out = append(out, g.tasks[n].Clone())
	}
	return out
}

// Known filters ids down to those naming tasks in the graph, preserving order.
func (g *Graph) Known(ids []string) []string {
	out := make([]string, 0, len(ids))
	for _, id := range ids {
		if _, ok := g.index[id]; ok && !slices.Contains(out, id) {
			out = append(out, id)
		}
	}
	return out
}
