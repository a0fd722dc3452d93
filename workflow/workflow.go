// Package workflow defines the workflow-level data model: the immutable
// Definition a caller constructs and the mutable per-run Instance the
// engine drives to completion.
package workflow

import (
	"time"

	"github.com/parallex-labs/flowengine/task"
)

// State is the lifecycle state of a workflow instance.
type State int

const (
	Pending State = iota
	Running
	Completed
	Failed
	Cancelled
)

func (s State) String() string {
	switch s {
	case Pending:
		return "PENDING"
	case Running:
		return "RUNNING"
	case Completed:
		return "COMPLETED"
	case Failed:
		return "FAILED"
	case Cancelled:
		return "CANCELLED"
	default:
		return "UNKNOWN"
	}
}

// IsTerminal reports whether s is a final workflow state.
func (s State) IsTerminal() bool {
	return s == Completed || s == Failed || s == Cancelled
}

// UnboundedConcurrency marks a workflow's concurrencyLimit as having no
// upper bound, avoiding a floating-point infinity leaking into scheduler
// arithmetic on an otherwise integer-typed limit.
const UnboundedConcurrency = 0

// Definition is an immutable workflow: a DAG of tasks plus per-workflow
// policy. Construct one with builder.NewWorkflow rather than a struct
// literal so validation (unique ids, DAG well-formedness) runs.
type Definition struct {
	ID          string
	Name        string
	Description string
	// Tasks is ordered; task ids must be unique within it. Order is used
	// as the stable tiebreak for topological sort and ready-set listing.
	Tasks []task.Definition
	// ConcurrencyLimit bounds concurrent RUNNING tasks in this workflow.
	// UnboundedConcurrency (0) means no workflow-local bound beyond the
	// engine-wide limit passed to Execute.
	ConcurrencyLimit int
	// FailFast, if true, actively cancels RUNNING tasks and fails the
	// workflow as soon as a non-recoverable FailWorkflow task failure is
	// observed.
	FailFast bool
	// InitialResults seeds the result table, e.g. to resume a workflow
	// using externally-sourced values for some leaf tasks.
	InitialResults map[string]any
}

// TaskByID returns the task definition with the given id, if present.
func (d Definition) TaskByID(id string) (task.Definition, bool) {
	for _, t := range d.Tasks {
		if t.ID == id {
			return t, true
		}
	}
	return task.Definition{}, false
}

// EffectiveConcurrencyLimit resolves this workflow's own limit against an
// engine-wide cap, returning the smaller of the two (0/unbounded loses to
// any positive bound).
func (d Definition) EffectiveConcurrencyLimit(globalLimit int) int {
	switch {
	case d.ConcurrencyLimit <= 0 && globalLimit <= 0:
		return 0
	case d.ConcurrencyLimit <= 0:
		return globalLimit
	case globalLimit <= 0:
		return d.ConcurrencyLimit
	case d.ConcurrencyLimit < globalLimit:
		return d.ConcurrencyLimit
	default:
		return globalLimit
	}
}

// Instance is the mutable, per-run state of a workflow.
type Instance struct {
	Definition  Definition
	State       State
	Tasks       map[string]*task.Instance
	Results     map[string]any
	CancelToken task.CancelToken
	StartTime   time.Time
	EndTime     time.Time
}

// resultsView adapts Instance.Results to task.ResultsView.
type resultsView struct {
	results map[string]any
}

func (r resultsView) Get(taskID string) (any, bool) {
	v, ok := r.results[taskID]
	return v, ok
}

// ResultsView returns a read-only snapshot of the current result table.
func (i *Instance) ResultsView() task.ResultsView {
	return resultsView{results: i.Results}
}

// CompletedSet returns the set of task ids currently COMPLETED.
func (i *Instance) CompletedSet() map[string]bool {
	set := make(map[string]bool, len(i.Tasks))
	for id, ti := range i.Tasks {
		if ti.State == task.Completed {
			set[id] = true
		}
	}
	return set
}
