// Package task defines the task-level data model: the immutable,
// user-authored TaskDefinition and the mutable per-run TaskInstance, plus
// the small enums (Priority, FailureMode, IsolationLevel) and the
// RetryPolicy shape that the executor and scheduler consume.
package task

import (
	"context"
	"fmt"
	"time"
)

// AttemptID builds the per-attempt resource-allocation key: a workflow's
// retry of a task must never collide with a prior failed attempt's stale
// allocation record.
func AttemptID(workflowID, taskID string, retryCount int) string {
	return fmt.Sprintf("%s:%s:%d", workflowID, taskID, retryCount)
}

// State is the lifecycle state of a TaskInstance.
type State int

const (
	Pending State = iota
	Running
	Completed
	Failed
	Cancelled
	Skipped
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
	case Skipped:
		return "SKIPPED"
	default:
		return "UNKNOWN"
	}
}

// IsTerminal reports whether s is one of the states a task instance never
// leaves once entered within a single run. A task awaiting a retry is
// Pending, so Failed is only ever a terminal failure.
func (s State) IsTerminal() bool {
	switch s {
	case Completed, Failed, Cancelled, Skipped:
		return true
	default:
		return false
	}
}

// Priority controls scheduling order among ready candidates. Higher values
// are scheduled first.
type Priority int

const (
	PriorityLow      Priority = 1
	PriorityNormal   Priority = 2
	PriorityHigh     Priority = 3
	PriorityCritical Priority = 4
)

// FailureMode controls whether a task's terminal failure fails the whole
// workflow.
type FailureMode int

const (
	// FailWorkflow is the default: a terminal failure of this task fails
	// the workflow (subject to failFast timing).
	FailWorkflow FailureMode = iota
	// ContinueWorkflow lets the workflow keep making progress on branches
	// that do not depend on this task; dependents are SKIPPED.
	ContinueWorkflow
)

// IsolationLevel is an advisory hint about attempt isolation. The core
// never acts on it: NONE and PROCESS behave identically. An embedding
// application that runs attempts out-of-process may use it as a routing
// hint.
type IsolationLevel int

const (
	IsolationNone IsolationLevel = iota
	IsolationProcess
)

// RetryPolicy controls retry eligibility and backoff timing for a task's
// failed attempts.
type RetryPolicy struct {
	MaxRetries int
	// InitialDelayMs is the delay before the first retry.
	InitialDelayMs int64
	// BackoffFactor multiplies the delay on each subsequent retry.
	BackoffFactor float64
	// MaxDelayMs caps the computed delay.
	MaxDelayMs int64
	// RetryableErrors, if non-empty, restricts retries to errors matching
	// one of these patterns: as a regex against the error message if the
	// entry contains a regex metacharacter and compiles, as a substring of
	// the error message, or as an exact match of the error's kind tag
	// (e.g. "TaskTimeoutError"). An empty slice means "every error is
	// retryable up to MaxRetries".
	RetryableErrors []string
}

// ResultsView is a read-only snapshot of a workflow's completed results,
// handed to a task's input-derivation function.
type ResultsView interface {
	Get(taskID string) (any, bool)
}

// InputFunc derives a task's input from the results of its dependencies
// just before the attempt starts.
type InputFunc func(results ResultsView) (any, error)

// ExecOptions is passed to every task's Execute call.
type ExecOptions struct {
	// CancelToken fires when the attempt should stop: either the workflow
	// was cancelled, or this attempt's own timeout elapsed.
	CancelToken CancelToken
	// Context is an opaque bag passed through from execute options,
	// unrelated to CancelToken's context.Context.
	Context map[string]any
}

// ExecuteFunc is the user-supplied task body. It must respect
// opts.CancelToken and return promptly once it fires.
type ExecuteFunc func(ctx context.Context, input any, opts ExecOptions) (any, error)

// Definition is an immutable, user-authored task. Construct one with
// builder.NewTask rather than a struct literal so validation runs.
type Definition struct {
	ID             string
	Name           string
	Execute        ExecuteFunc
	StaticInput    any
	InputFunc      InputFunc
	Dependencies   []string
	Priority       Priority
	Resources      map[string]float64
	RetryPolicy    *RetryPolicy
	TimeoutMs      int64
	FailureMode    FailureMode
	IsolationLevel IsolationLevel
}

// ResolveInput returns the task's static input, or calls InputFunc if one
// is set. A panic in InputFunc is recovered and returned as an error.
func (d Definition) ResolveInput(results ResultsView) (input any, err error) {
	if d.InputFunc != nil {
		defer func() {
			if r := recover(); r != nil {
				input, err = nil, fmt.Errorf("panic: %v", r)
			}
		}()
		return d.InputFunc(results)
	}
	return d.StaticInput, nil
}

// Instance is the mutable, per-run state of a task. Owned exclusively by
// the workflow coordinator; task bodies never see or mutate it directly.
type Instance struct {
	Definition    Definition
	State         State
	RetryCount    int
	StartTime     time.Time
	EndTime       time.Time
	NextRetryTime time.Time
	Result        any
	Err           error
	CancelToken   CancelToken
}

// ReadyForRetry reports whether a Pending instance with a scheduled retry
// has crossed its NextRetryTime.
func (i *Instance) ReadyForRetry(now time.Time) bool {
	if i.State != Pending || i.NextRetryTime.IsZero() {
		return true
	}
	return !now.Before(i.NextRetryTime)
}
