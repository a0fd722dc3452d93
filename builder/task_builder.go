// Package builder provides fluent constructors for task.Definition and
// workflow.Definition, validating at Build() time rather than leaving a
// caller to assemble a struct literal that might be silently malformed.
package builder

import (
	"github.com/parallex-labs/flowengine/ferrors"
	"github.com/parallex-labs/flowengine/task"
)

// TaskBuilder fluently assembles a task.Definition.
type TaskBuilder struct {
	def                   task.Definition
	timeoutExplicitlyZero bool
}

// NewTask starts a TaskBuilder for id running execute.
func NewTask(id string, execute task.ExecuteFunc) *TaskBuilder {
	return &TaskBuilder{def: task.Definition{
		ID:       id,
		Name:     id,
		Execute:  execute,
		Priority: task.PriorityNormal,
	}}
}

func (b *TaskBuilder) Name(name string) *TaskBuilder {
	b.def.Name = name
	return b
}

func (b *TaskBuilder) Input(value any) *TaskBuilder {
	b.def.StaticInput = value
	return b
}

func (b *TaskBuilder) InputFunc(fn task.InputFunc) *TaskBuilder {
	b.def.InputFunc = fn
	return b
}

func (b *TaskBuilder) DependsOn(ids ...string) *TaskBuilder {
	b.def.Dependencies = append(b.def.Dependencies, ids...)
	return b
}

func (b *TaskBuilder) Priority(p task.Priority) *TaskBuilder {
	b.def.Priority = p
	return b
}

func (b *TaskBuilder) Resource(name string, amount float64) *TaskBuilder {
	if b.def.Resources == nil {
		b.def.Resources = make(map[string]float64)
	}
	b.def.Resources[name] = amount
	return b
}

func (b *TaskBuilder) Retry(policy task.RetryPolicy) *TaskBuilder {
	b.def.RetryPolicy = &policy
	return b
}

func (b *TaskBuilder) TimeoutMs(ms int64) *TaskBuilder {
	b.def.TimeoutMs = ms
	b.timeoutExplicitlyZero = ms == 0
	return b
}

func (b *TaskBuilder) FailureMode(mode task.FailureMode) *TaskBuilder {
	b.def.FailureMode = mode
	return b
}

func (b *TaskBuilder) IsolationLevel(level task.IsolationLevel) *TaskBuilder {
	b.def.IsolationLevel = level
	return b
}

// Build validates and returns the assembled task.Definition. A task must
// have a non-empty id and a non-nil Execute function; a timeoutMs of
// exactly 0 set via TimeoutMs is treated as an explicit invalid
// configuration (the zero value before any TimeoutMs call means "no
// timeout" and is fine — only an explicit 0 is rejected).
func (b *TaskBuilder) Build() (task.Definition, error) {
	if b.def.ID == "" {
		return task.Definition{}, &ferrors.InvalidConfigurationError{Field: "id", Problem: "must not be empty"}
	}
	if b.def.Execute == nil {
		return task.Definition{}, &ferrors.InvalidConfigurationError{Field: "execute", Problem: "must not be nil"}
	}
	if b.timeoutExplicitlyZero {
		return task.Definition{}, &ferrors.InvalidConfigurationError{Field: "timeoutMs", Problem: "0 is not a valid timeout; omit TimeoutMs for unbounded"}
	}
	return b.def, nil
}
