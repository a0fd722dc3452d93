package builder

import (
	"github.com/parallex-labs/flowengine/dag"
	"github.com/parallex-labs/flowengine/ferrors"
	"github.com/parallex-labs/flowengine/task"
	"github.com/parallex-labs/flowengine/workflow"
)

// WorkflowBuilder fluently assembles a workflow.Definition.
type WorkflowBuilder struct {
	def  workflow.Definition
	seen map[string]bool
}

// NewWorkflow starts a WorkflowBuilder for id.
func NewWorkflow(id, name string) *WorkflowBuilder {
	return &WorkflowBuilder{
		def:  workflow.Definition{ID: id, Name: name},
		seen: make(map[string]bool),
	}
}

func (b *WorkflowBuilder) Description(description string) *WorkflowBuilder {
	b.def.Description = description
	return b
}

// Task appends td to the workflow. Duplicate ids are reported at Build.
func (b *WorkflowBuilder) Task(td task.Definition) *WorkflowBuilder {
	b.def.Tasks = append(b.def.Tasks, td)
	return b
}

func (b *WorkflowBuilder) ConcurrencyLimit(limit int) *WorkflowBuilder {
	b.def.ConcurrencyLimit = limit
	return b
}

func (b *WorkflowBuilder) FailFast(failFast bool) *WorkflowBuilder {
	b.def.FailFast = failFast
	return b
}

func (b *WorkflowBuilder) InitialResult(taskID string, value any) *WorkflowBuilder {
	if b.def.InitialResults == nil {
		b.def.InitialResults = make(map[string]any)
	}
	b.def.InitialResults[taskID] = value
	return b
}

// Build validates uniqueness of task ids and the dependency graph's
// well-formedness (every dependency exists, no cycle) before returning
// the assembled workflow.Definition.
func (b *WorkflowBuilder) Build() (workflow.Definition, error) {
	if b.def.ID == "" {
		return workflow.Definition{}, &ferrors.InvalidConfigurationError{Field: "id", Problem: "must not be empty"}
	}

	for _, t := range b.def.Tasks {
		if b.seen[t.ID] {
			return workflow.Definition{}, &ferrors.DuplicateTaskIDError{TaskID: t.ID}
		}
		b.seen[t.ID] = true
	}

	if err := dag.Validate(b.def); err != nil {
		return workflow.Definition{}, err
	}
	return b.def, nil
}
