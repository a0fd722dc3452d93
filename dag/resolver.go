// Package dag implements the dependency resolver: DAG validation,
// topological ordering, ready-set computation, and critical-path analysis
// over a workflow definition's task dependency graph. Every function here
// is pure; none mutate their inputs.
package dag

import (
	"github.com/parallex-labs/flowengine/ferrors"
	"github.com/parallex-labs/flowengine/task"
	"github.com/parallex-labs/flowengine/workflow"
)

// Validate checks that every dependency id exists and that the dependency
// graph contains no cycle. It returns *ferrors.MissingDependencyError or
// *ferrors.CycleError on the first violation found; nil on success.
func Validate(def workflow.Definition) error {
	byID := make(map[string]task.Definition, len(def.Tasks))
	for _, t := range def.Tasks {
		byID[t.ID] = t
	}

	for _, t := range def.Tasks {
		for _, dep := range t.Dependencies {
			if _, ok := byID[dep]; !ok {
				return &ferrors.MissingDependencyError{TaskID: t.ID, MissingID: dep}
			}
		}
	}

	if cycle := findCycle(def); cycle != nil {
		return &ferrors.CycleError{Cycle: cycle}
	}
	return nil
}

// findCycle runs DFS with an explicit recursion stack. On re-entering a
// node already on the stack, the path from that node's first occurrence
// through the current node (plus the node itself, closing the loop) is
// the reported cycle. Iterates def.Tasks in order so the result is
// deterministic for a given definition.
func findCycle(def workflow.Definition) []string {
	const (
		unvisited = 0
		onStack   = 1
		done      = 2
	)
	status := make(map[string]int, len(def.Tasks))
	byID := make(map[string]task.Definition, len(def.Tasks))
	for _, t := range def.Tasks {
		byID[t.ID] = t
	}

	var stack []string
	var cycle []string

	var visit func(id string) bool
	visit = func(id string) bool {
		switch status[id] {
		case done:
			return false
		case onStack:
			// Found the re-entered node; report the path from its first
			// occurrence to here, plus itself to close the loop.
			start := 0
			for i, s := range stack {
				if s == id {
					start = i
					break
				}
			}
			cycle = append([]string{}, stack[start:]...)
			cycle = append(cycle, id)
			return true
		}

		status[id] = onStack
		stack = append(stack, id)

		for _, dep := range byID[id].Dependencies {
			if visit(dep) {
				return true
			}
		}

		stack = stack[:len(stack)-1]
		status[id] = done
		return false
	}

	for _, t := range def.Tasks {
		if status[t.ID] == unvisited {
			if visit(t.ID) {
				return cycle
			}
		}
	}
	return nil
}

// TopologicalOrder returns task ids such that every id follows all of its
// dependencies, via Kahn's algorithm with ties broken by def.Tasks order
// (a stable sort on in-degree-zero candidates). Assumes def has already
// passed Validate; behavior on a cyclic graph is undefined (callers must
// validate first).
func TopologicalOrder(def workflow.Definition) []string {
	indegree := make(map[string]int, len(def.Tasks))
	dependents := make(map[string][]string, len(def.Tasks))
	order := make(map[string]int, len(def.Tasks))

	for i, t := range def.Tasks {
		indegree[t.ID] = len(t.Dependencies)
		order[t.ID] = i
	}
	for _, t := range def.Tasks {
		for _, dep := range t.Dependencies {
			dependents[dep] = append(dependents[dep], t.ID)
		}
	}

	ready := make([]string, 0, len(def.Tasks))
	for _, t := range def.Tasks {
		if indegree[t.ID] == 0 {
			ready = append(ready, t.ID)
		}
	}

	result := make([]string, 0, len(def.Tasks))
	for len(ready) > 0 {
		var next string
		next, ready = popLowestOrder(ready, order)
		result = append(result, next)

		for _, dependent := range dependents[next] {
			indegree[dependent]--
			if indegree[dependent] == 0 {
				ready = append(ready, dependent)
			}
		}
	}
	return result
}

// popLowestOrder removes and returns the id in candidates with the lowest
// def.Tasks index, keeping the topological order stable, along with the
// remaining slice.
func popLowestOrder(candidates []string, order map[string]int) (string, []string) {
	bestIdx := 0
	for i := 1; i < len(candidates); i++ {
		if order[candidates[i]] < order[candidates[bestIdx]] {
			bestIdx = i
		}
	}
	best := candidates[bestIdx]
	last := len(candidates) - 1
	candidates[bestIdx] = candidates[last]
	return best, candidates[:last]
}

// ReadyTasks returns ids not in completed whose every dependency is in
// completed, preserving def.Tasks order.
func ReadyTasks(def workflow.Definition, completed map[string]bool) []string {
	ready := make([]string, 0, len(def.Tasks))
	for _, t := range def.Tasks {
		if completed[t.ID] {
			continue
		}
		if allCompleted(t.Dependencies, completed) {
			ready = append(ready, t.ID)
		}
	}
	return ready
}

func allCompleted(deps []string, completed map[string]bool) bool {
	for _, d := range deps {
		if !completed[d] {
			return false
		}
	}
	return true
}

// CriticalPath returns the set of task ids lying on a longest dependency
// chain by hop count (one chain per task at maximum depth), computed once
// per workflow instance and used only as the scheduler's critical-path
// score boost.
func CriticalPath(def workflow.Definition) map[string]bool {
	byID := make(map[string]task.Definition, len(def.Tasks))
	for _, t := range def.Tasks {
		byID[t.ID] = t
	}

	depth := make(map[string]int, len(def.Tasks))
	var longestDepth func(id string) int
	memoVisiting := make(map[string]bool)
	longestDepth = func(id string) int {
		if d, ok := depth[id]; ok {
			return d
		}
		if memoVisiting[id] {
			// Cyclic input; treat as depth 0 rather than recursing forever.
			// CriticalPath is only ever called after Validate has rejected
			// cycles, so this path is defensive, not load-bearing.
			return 0
		}
		memoVisiting[id] = true
		best := 0
		for _, dep := range byID[id].Dependencies {
			if d := longestDepth(dep) + 1; d > best {
				best = d
			}
		}
		depth[id] = best
		return best
	}

	maxDepth := 0
	for _, t := range def.Tasks {
		if d := longestDepth(t.ID); d > maxDepth {
			maxDepth = d
		}
	}

	// Reconstruct the set of ids lying on a longest path: every node at
	// maximum depth is marked, then from each one the deepest dependency
	// (the first in declaration order on a tie) is followed back to a
	// root, marking every node on the way.
	onPath := make(map[string]bool, len(def.Tasks))
	var depthsAt []string
	for _, t := range def.Tasks {
		if depth[t.ID] == maxDepth {
			depthsAt = append(depthsAt, t.ID)
		}
	}
	var mark func(id string)
	mark = func(id string) {
		if onPath[id] {
			return
		}
		onPath[id] = true
		best := -1
		var bestDep string
		for _, dep := range byID[id].Dependencies {
			if depth[dep] > best {
				best = depth[dep]
				bestDep = dep
			}
		}
		if bestDep != "" {
			mark(bestDep)
		}
	}
	for _, id := range depthsAt {
		mark(id)
	}
	return onPath
}
