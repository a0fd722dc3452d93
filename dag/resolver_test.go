package dag_test

import (
	"errors"
	"testing"

	"github.com/parallex-labs/flowengine/dag"
	"github.com/parallex-labs/flowengine/ferrors"
	"github.com/parallex-labs/flowengine/task"
	"github.com/parallex-labs/flowengine/workflow"
)

func taskWithDeps(id string, deps ...string) task.Definition {
	return task.Definition{ID: id, Dependencies: deps}
}

func TestValidate_MissingDependency(t *testing.T) {
	def := workflow.Definition{Tasks: []task.Definition{
		taskWithDeps("a", "ghost"),
	}}

	err := dag.Validate(def)
	var missing *ferrors.MissingDependencyError
	if err == nil {
		t.Fatal("expected an error")
	}
	if !errors.As(err, &missing) {
		t.Fatalf("expected MissingDependencyError, got %T: %v", err, err)
	}
	if missing.MissingID != "ghost" {
		t.Errorf("MissingID = %q, want ghost", missing.MissingID)
	}
}

func TestValidate_DetectsCycle(t *testing.T) {
	def := workflow.Definition{Tasks: []task.Definition{
		taskWithDeps("a", "c"),
		taskWithDeps("b", "a"),
		taskWithDeps("c", "b"),
	}}

	err := dag.Validate(def)
	var cycleErr *ferrors.CycleError
	if !errors.As(err, &cycleErr) {
		t.Fatalf("expected CycleError, got %T: %v", err, err)
	}
	if len(cycleErr.Cycle) == 0 {
		t.Error("expected a non-empty cycle path")
	}
}

func TestValidate_AcyclicPasses(t *testing.T) {
	def := workflow.Definition{Tasks: []task.Definition{
		taskWithDeps("a"),
		taskWithDeps("b", "a"),
		taskWithDeps("c", "a", "b"),
	}}

	if err := dag.Validate(def); err != nil {
		t.Fatalf("expected no error, got %v", err)
	}
}

func TestTopologicalOrder_RespectsDependencies(t *testing.T) {
	def := workflow.Definition{Tasks: []task.Definition{
		taskWithDeps("c", "a", "b"),
		taskWithDeps("a"),
		taskWithDeps("b", "a"),
	}}

	order := dag.TopologicalOrder(def)
	if len(order) != 3 {
		t.Fatalf("expected 3 ids, got %d: %v", len(order), order)
	}

	pos := make(map[string]int, len(order))
	for i, id := range order {
		pos[id] = i
	}
	if pos["a"] > pos["b"] {
		t.Errorf("a must precede b: %v", order)
	}
	if pos["a"] > pos["c"] || pos["b"] > pos["c"] {
		t.Errorf("a and b must precede c: %v", order)
	}
}

func TestReadyTasks_ExcludesCompletedAndBlocked(t *testing.T) {
	def := workflow.Definition{Tasks: []task.Definition{
		taskWithDeps("a"),
		taskWithDeps("b", "a"),
		taskWithDeps("c", "b"),
	}}

	ready := dag.ReadyTasks(def, map[string]bool{})
	if len(ready) != 1 || ready[0] != "a" {
		t.Fatalf("expected only a ready with no completions, got %v", ready)
	}

	ready = dag.ReadyTasks(def, map[string]bool{"a": true})
	if len(ready) != 1 || ready[0] != "b" {
		t.Fatalf("expected only b ready once a completes, got %v", ready)
	}
}

func TestCriticalPath_MarksLongestChain(t *testing.T) {
	// a -> b -> d, a -> c -> d; longest chain is a,b,d or a,c,d (both length 3)
	def := workflow.Definition{Tasks: []task.Definition{
		taskWithDeps("a"),
		taskWithDeps("b", "a"),
		taskWithDeps("c", "a"),
		taskWithDeps("d", "b", "c"),
	}}

	onPath := dag.CriticalPath(def)
	if !onPath["a"] || !onPath["d"] {
		t.Errorf("expected a and d on critical path, got %v", onPath)
	}
	if !onPath["b"] && !onPath["c"] {
		t.Errorf("expected at least one of b/c on critical path, got %v", onPath)
	}
}
