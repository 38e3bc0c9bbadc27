// Package graph orders pipeline steps by their declared dependencies.
package graph

import (
	"errors"
	"fmt"
	"sort"
)

var (
	// ErrCycle is returned when the declared dependencies loop.
	ErrCycle = errors.New("dependency cycle")

	// ErrUnknownDependency is returned when a step depends on a step that
	// was never added.
	ErrUnknownDependency = errors.New("unknown dependency")
)

// Graph collects steps and their dependencies. Steps landing in the same
// level have no ordering between them and may run concurrently.
type Graph struct {
	deps map[string][]string
}

// New creates an empty graph.
func New() *Graph {
	return &Graph{deps: make(map[string][]string)}
}

// Add registers a step. A step with no dependencies can run first; adding
// the same step twice replaces its dependency list.
func (g *Graph) Add(step string, dependencies ...string) {
	g.deps[step] = append([]string(nil), dependencies...)
}

// Levels groups the steps so that every step's dependencies sit in an
// earlier level. Steps within a level are sorted for a stable execution
// order. Unknown dependencies and cycles are reported as errors.
func (g *Graph) Levels() ([][]string, error) {
	if len(g.deps) == 0 {
		return nil, nil
	}

	pending := make(map[string]int, len(g.deps))
	for step, deps := range g.deps {
		for _, dep := range deps {
			if _, ok := g.deps[dep]; !ok {
				return nil, fmt.Errorf("%w: step %q needs %q", ErrUnknownDependency, step, dep)
			}
		}
		pending[step] = len(deps)
	}

	var levels [][]string
	for len(pending) > 0 {
		var ready []string
		for step, missing := range pending {
			if missing == 0 {
				ready = append(ready, step)
			}
		}
		if len(ready) == 0 {
			stuck := make([]string, 0, len(pending))
			for step := range pending {
				stuck = append(stuck, step)
			}
			sort.Strings(stuck)
			return nil, fmt.Errorf("%w among %v", ErrCycle, stuck)
		}
		sort.Strings(ready)

		released := make(map[string]bool, len(ready))
		for _, step := range ready {
			released[step] = true
			delete(pending, step)
		}
		for step := range pending {
			for _, dep := range g.deps[step] {
				if released[dep] {
					pending[step]--
				}
			}
		}
		levels = append(levels, ready)
	}
	return levels, nil
}
