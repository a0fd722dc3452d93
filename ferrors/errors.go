// Package ferrors defines the engine's error taxonomy: a small set of
// wrapped error structs carrying enough context for callers and logs to
// diagnose a failure without re-deriving it from state, in the style of
// the corpus's ExecutionError/ChainError/TaskError family (a struct with
// the failing id(s) plus an Err error field satisfying Unwrap).
package ferrors

import (
	"fmt"
	"strings"
)

// CycleError reports a dependency cycle found during validation. Cycle
// lists the task ids forming the cycle, starting and ending at the
// re-entered node.
type CycleError struct {
	Cycle []string
}

func (e *CycleError) Error() string {
	return fmt.Sprintf("dependency cycle detected: %s", strings.Join(e.Cycle, " -> "))
}

// MissingDependencyError reports a task that declares a dependency on a
// task id that does not exist in the workflow.
type MissingDependencyError struct {
	TaskID    string
	MissingID string
}

func (e *MissingDependencyError) Error() string {
	return fmt.Sprintf("task %q depends on missing task %q", e.TaskID, e.MissingID)
}

// DuplicateTaskIDError reports two task definitions sharing an id within
// the same workflow.
type DuplicateTaskIDError struct {
	TaskID string
}

func (e *DuplicateTaskIDError) Error() string {
	return fmt.Sprintf("duplicate task id %q", e.TaskID)
}

// InputResolutionError wraps a panic or error raised while deriving a
// task's input from prior results. Always terminal for the task: it is
// never retried.
type InputResolutionError struct {
	TaskID string
	Err    error
}

func (e *InputResolutionError) Error() string {
	return fmt.Sprintf("task %q: input resolution failed: %v", e.TaskID, e.Err)
}

func (e *InputResolutionError) Unwrap() error { return e.Err }

// TaskTimeoutError reports a per-attempt deadline firing before the task
// body returned.
type TaskTimeoutError struct {
	TaskID    string
	TimeoutMs int64
}

func (e *TaskTimeoutError) Error() string {
	return fmt.Sprintf("task %q exceeded its %dms timeout", e.TaskID, e.TimeoutMs)
}

// ResourceUnavailableError reports a scheduling pass that could not
// allocate a task's resource request. It is never surfaced to the caller
// as a task failure; the scheduler treats it as "defer to a later pass".
type ResourceUnavailableError struct {
	Resource string
	Need     float64
	Have     float64
}

func (e *ResourceUnavailableError) Error() string {
	return fmt.Sprintf("resource %q unavailable: need %.2f, have %.2f", e.Resource, e.Need, e.Have)
}

// ResourceStarvationError reports a task whose resource request exceeds
// the configured cap for some resource and can therefore never start,
// detected when the workflow stalls with the task still PENDING.
type ResourceStarvationError struct {
	TaskID   string
	Resource string
	Need     float64
	Cap      float64
}

func (e *ResourceStarvationError) Error() string {
	return fmt.Sprintf("task %q requests %.2f of resource %q, exceeding the cap %.2f; it can never start",
		e.TaskID, e.Need, e.Resource, e.Cap)
}

// UserTaskError wraps any error returned from a task's execute function.
type UserTaskError struct {
	TaskID  string
	Message string
	Err     error
}

func (e *UserTaskError) Error() string {
	return fmt.Sprintf("task %q failed: %s", e.TaskID, e.Message)
}

func (e *UserTaskError) Unwrap() error { return e.Err }

// CancelledError reports an attempt cancelled via the workflow cancel
// token (as opposed to a per-attempt timeout, which is reported as
// TaskTimeoutError instead).
type CancelledError struct {
	TaskID string
	Reason string
}

func (e *CancelledError) Error() string {
	if e.Reason == "" {
		return fmt.Sprintf("task %q was cancelled", e.TaskID)
	}
	return fmt.Sprintf("task %q was cancelled: %s", e.TaskID, e.Reason)
}

// WorkflowAlreadyActiveError reports a concurrent Execute call for a
// workflow id that already has an active instance registered in the
// engine.
type WorkflowAlreadyActiveError struct {
	WorkflowID string
}

func (e *WorkflowAlreadyActiveError) Error() string {
	return fmt.Sprintf("workflow %q is already active", e.WorkflowID)
}

// InvalidConfigurationError reports a builder-time validation failure
// (e.g. timeoutMs = 0, a missing required field).
type InvalidConfigurationError struct {
	Field   string
	Problem string
}

func (e *InvalidConfigurationError) Error() string {
	return fmt.Sprintf("invalid configuration for %q: %s", e.Field, e.Problem)
}

// AggregateError summarizes multiple task failures at the end of a
// workflow run, in the style of the corpus's frequency-sorted
// ParallelError.Error(). It is never returned from Execute itself — task
// failures live in WorkflowExecutionResult.Errors — but is available for
// callers who want a single error summarizing that map, e.g. to log.
type AggregateError struct {
	Errors map[string]error
}

func (e *AggregateError) Error() string {
	if len(e.Errors) == 0 {
		return "no task errors"
	}

	type count struct {
		msg string
		n   int
	}
	counts := make(map[string]int)
	for _, err := range e.Errors {
		counts[err.Error()]++
	}
	ordered := make([]count, 0, len(counts))
	for msg, n := range counts {
		ordered = append(ordered, count{msg: msg, n: n})
	}
	for i := 1; i < len(ordered); i++ {
		for j := i; j > 0 && ordered[j].n > ordered[j-1].n; j-- {
			ordered[j], ordered[j-1] = ordered[j-1], ordered[j]
		}
	}

	var b strings.Builder
	fmt.Fprintf(&b, "%d task(s) failed:", len(e.Errors))
	for _, c := range ordered {
		fmt.Fprintf(&b, " [%dx] %s;", c.n, c.msg)
	}
	return strings.TrimSuffix(b.String(), ";")
}

// Unwrap exposes every wrapped task error for errors.Is/errors.As walks
// (Go 1.20+ multi-error unwrap).
func (e *AggregateError) Unwrap() []error {
	errs := make([]error, 0, len(e.Errors))
	for _, err := range e.Errors {
		errs = append(errs, err)
	}
	return errs
}
