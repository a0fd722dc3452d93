// Package engine implements the workflow engine: the top-level driver that
// validates a WorkflowDefinition, drives its instance to completion through
// repeated scheduler/executor passes, and emits lifecycle events.
//
// Engine initializes its resource manager and event emitter internally.
// Functional options override the diagnostics observer, the workflow id
// generator, and the engine-wide cap on in-flight attempts.
//
//	e := engine.New(map[string]float64{"cpu": 4})
//	result, err := e.Execute(context.Background(), def, engine.ExecuteOptions{})
package engine

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/semaphore"

	"github.com/parallex-labs/flowengine/dag"
	"github.com/parallex-labs/flowengine/events"
	"github.com/parallex-labs/flowengine/executor"
	"github.com/parallex-labs/flowengine/ferrors"
	"github.com/parallex-labs/flowengine/observability"
	"github.com/parallex-labs/flowengine/resources"
	"github.com/parallex-labs/flowengine/scheduler"
	"github.com/parallex-labs/flowengine/task"
	"github.com/parallex-labs/flowengine/workflow"
)

// ExecuteOptions configures a single Execute call.
type ExecuteOptions struct {
	// CancelToken, if set, is linked into the workflow's own token: firing
	// it cancels the workflow the same as a call to Engine.Cancel.
	CancelToken task.CancelToken
	// GlobalConcurrencyLimit caps concurrent RUNNING tasks independent of
	// the workflow's own ConcurrencyLimit; 0 means unbounded.
	GlobalConcurrencyLimit int
	// InitialResults seeds the result table, e.g. to resume a workflow
	// using externally-sourced values for some leaf tasks.
	InitialResults map[string]any
	// Context is passed through to every task's ExecOptions.Context.
	Context map[string]any
}

// WorkflowExecutionResult is what Execute returns once the workflow reaches
// a terminal state.
type WorkflowExecutionResult struct {
	WorkflowID string
	State      workflow.State
	Results    map[string]any
	// Errors maps task id to its terminal error, for every FAILED task.
	Errors     map[string]error
	StartTime  time.Time
	EndTime    time.Time
	DurationMs int64
}

// ActiveSnapshot is a point-in-time view of one running workflow instance.
type ActiveSnapshot struct {
	WorkflowID string
	State      workflow.State
	StartTime  time.Time
}

// Option configures an Engine after construction.
type Option func(*Engine)

// WithObserver overrides the default no-op observer used for internal
// diagnostics (distinct from the domain event emitter subscribers reach
// through Subscribe).
func WithObserver(o observability.Observer) Option {
	return func(e *Engine) { e.observer = o }
}

// WithIDGenerator overrides the default uuid.NewString generator used to
// assign an id to a WorkflowDefinition submitted with an empty ID.
func WithIDGenerator(gen func() string) Option {
	return func(e *Engine) { e.idGen = gen }
}

// defaultMaxInFlightAttempts is large enough to never bind in practice
// unless a caller opts into a tighter cap via WithMaxInFlightAttempts; the
// per-resource caps and per-workflow ConcurrencyLimit already enforce
// every throughput invariant this engine requires.
const defaultMaxInFlightAttempts = 1 << 20

// WithMaxInFlightAttempts bounds the number of task attempts running
// concurrently across every active workflow in this engine, independent
// of the Resource Manager's named-resource accounting. A task whose
// workflow-level batch would exceed this cap stays PENDING and is
// reconsidered on the next scheduling pass.
func WithMaxInFlightAttempts(n int64) Option {
	return func(e *Engine) { e.sem = semaphore.NewWeighted(n) }
}

// Engine owns the engine-wide resource table and event emitter, and tracks
// every currently-active workflow instance.
type Engine struct {
	mu       sync.Mutex
	active   map[string]*workflow.Instance
	res      *resources.Manager
	emitter  *events.Emitter
	observer observability.Observer
	idGen    func() string
	sem      *semaphore.Weighted
}

// New creates an Engine with the given initial resource caps (nil means
// every resource is unbounded).
func New(totalResources map[string]float64, opts ...Option) *Engine {
	observer := observability.Observer(observability.NoOpObserver{})
	e := &Engine{
		active:   make(map[string]*workflow.Instance),
		res:      resources.NewManager(totalResources),
		observer: observer,
		idGen:    uuid.NewString,
		sem:      semaphore.NewWeighted(defaultMaxInFlightAttempts),
	}
	for _, opt := range opts {
		opt(e)
	}
	e.emitter = events.NewEmitter(e.observer)
	return e
}

// Subscribe registers handler for evtType (or events.Wildcard), returning
// an unsubscribe handle.
func (e *Engine) Subscribe(evtType events.Type, handler events.Handler) events.Unsubscribe {
	return e.emitter.Subscribe(evtType, handler)
}

// Utilization reports per-resource allocated/total across every active
// workflow.
func (e *Engine) Utilization() map[string]float64 {
	return e.res.Utilization()
}

// UpdateResources replaces the engine-wide resource caps. Takes effect on
// the next scheduling pass of every active workflow.
func (e *Engine) UpdateResources(newTotals map[string]float64) {
	e.res.UpdateTotals(newTotals)
}

// Active lists every workflow instance currently registered.
func (e *Engine) Active() []ActiveSnapshot {
	e.mu.Lock()
	defer e.mu.Unlock()

	snapshots := make([]ActiveSnapshot, 0, len(e.active))
	for id, inst := range e.active {
		snapshots = append(snapshots, ActiveSnapshot{WorkflowID: id, State: inst.State, StartTime: inst.StartTime})
	}
	return snapshots
}

// Cancel requests cancellation of the named active workflow. Idempotent: a
// second call (or a call naming an unknown/already-terminal workflow) is a
// no-op returning nil.
func (e *Engine) Cancel(workflowID string, reason error) error {
	e.mu.Lock()
	inst, ok := e.active[workflowID]
	e.mu.Unlock()
	if !ok {
		return nil
	}
	inst.CancelToken.Cancel(reason)
	return nil
}

// Execute validates def, runs it to a terminal state, and returns the
// result bundle. Framework-level problems (a cyclic graph, a missing
// dependency, or a concurrent Execute call already active for def.ID)
// return a non-nil error with a zero-value result; every other outcome
// (including every per-task failure) is reported inside the result.
func (e *Engine) Execute(ctx context.Context, def workflow.Definition, opts ExecuteOptions) (WorkflowExecutionResult, error) {
	if err := dag.Validate(def); err != nil {
		return WorkflowExecutionResult{}, err
	}
	if def.ID == "" {
		def.ID = e.idGen()
	}

	inst, err := e.register(ctx, def, opts)
	if err != nil {
		return WorkflowExecutionResult{}, err
	}
	defer e.deregister(def.ID)

	onCriticalPath := dag.CriticalPath(def)

	e.emitter.Emit(events.Event{Type: events.WorkflowStarted, WorkflowID: def.ID, Timestamp: inst.StartTime})

	e.run(def, inst, onCriticalPath, opts)

	inst.EndTime = time.Now()
	result := e.buildResult(def, inst)
	e.emitTerminal(def.ID, inst, result)
	return result, nil
}

func (e *Engine) register(ctx context.Context, def workflow.Definition, opts ExecuteOptions) (*workflow.Instance, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	if _, active := e.active[def.ID]; active {
		return nil, &ferrors.WorkflowAlreadyActiveError{WorkflowID: def.ID}
	}

	tasks := make(map[string]*task.Instance, len(def.Tasks))
	for _, td := range def.Tasks {
		tasks[td.ID] = &task.Instance{Definition: td, State: task.Pending}
	}

	results := make(map[string]any, len(def.InitialResults)+len(opts.InitialResults))
	for id, v := range def.InitialResults {
		results[id] = v
	}
	for id, v := range opts.InitialResults {
		results[id] = v
	}
	for id := range results {
		if ti, ok := tasks[id]; ok {
			ti.State = task.Completed
			ti.Result = results[id]
		}
	}

	parent := ctx
	if parent == nil {
		parent = context.Background()
	}
	if opts.CancelToken.Ctx != nil {
		parent = opts.CancelToken.Ctx
	}
	token := task.NewCancelToken(parent)

	inst := &workflow.Instance{
		Definition:  def,
		State:       workflow.Running,
		Tasks:       tasks,
		Results:     results,
		CancelToken: token,
		StartTime:   time.Now(),
	}
	e.active[def.ID] = inst
	return inst, nil
}

func (e *Engine) deregister(workflowID string) {
	e.mu.Lock()
	delete(e.active, workflowID)
	e.mu.Unlock()
}

// attemptOutcome is what a launched attempt goroutine sends back to the
// coordinator once it finishes.
type attemptOutcome struct {
	taskID     string
	attemptID  string
	result     any
	finalErr   error
	decision   executor.Decision
	completed  bool
	cancelled  bool
	startedAt  time.Time
	finishedAt time.Time
}

// run is the single-coordinator main loop. Task attempts run concurrently
// on their own goroutines; every mutation of inst.Tasks/inst.Results
// happens here, on this goroutine, serialized with scheduling decisions.
func (e *Engine) run(def workflow.Definition, inst *workflow.Instance, onCriticalPath map[string]bool, opts ExecuteOptions) {
	completions := make(chan attemptOutcome, len(def.Tasks))
	running := 0

	for {
		if inst.CancelToken.Err() != nil {
			e.cancelRunning(def, inst)
			inst.State = workflow.Cancelled
			e.drain(completions, &running, inst, def)
			return
		}

		if def.FailFast && e.hasNonRecoverableFailure(def, inst) {
			e.cancelRunning(def, inst)
			inst.State = workflow.Failed
			e.drain(completions, &running, inst, def)
			return
		}

		batch := scheduler.Schedule(def, inst, onCriticalPath, e.res, opts.GlobalConcurrencyLimit, time.Now())
		for _, id := range batch {
			if e.launchAttempt(def, inst, id, opts, completions) {
				running++
			}
		}

		if len(batch) == 0 && running == 0 {
			if e.finalize(def, inst) {
				return
			}
		}

		if running == 0 {
			// Nothing scheduled, nothing running, and finalize above
			// declined to end the workflow: no retry is currently due.
			// Sleep briefly so a pending retry's nextRetryTime can elapse
			// without busy-looping the coordinator.
			time.Sleep(time.Millisecond)
			continue
		}

		outcome := <-completions
		running--
		e.applyOutcome(def, inst, outcome)
	}
}

func (e *Engine) drain(completions chan attemptOutcome, running *int, inst *workflow.Instance, def workflow.Definition) {
	for *running > 0 {
		outcome := <-completions
		*running--
		e.applyOutcome(def, inst, outcome)
	}
}

// launchAttempt starts task id's next attempt and reports whether it is
// now actually RUNNING (counted against the coordinator's running total).
// A task that fails input resolution is settled immediately, inline, and
// never counts as running; a task that cannot acquire an in-flight-attempt
// slot stays PENDING for the next scheduling pass, its already-reserved
// resource allocation released back.
func (e *Engine) launchAttempt(def workflow.Definition, inst *workflow.Instance, id string, opts ExecuteOptions, completions chan<- attemptOutcome) bool {
	ti := inst.Tasks[id]
	td := ti.Definition
	attemptID := task.AttemptID(def.ID, id, ti.RetryCount)

	input, err := td.ResolveInput(inst.ResultsView())
	if err != nil {
		ti.State = task.Failed
		ti.Err = &ferrors.InputResolutionError{TaskID: id, Err: err}
		e.res.Release(attemptID)
		return false
	}

	if !e.sem.TryAcquire(1) {
		e.res.Release(attemptID)
		return false
	}

	ti.State = task.Running
	ti.StartTime = time.Now()
	attemptToken, release := executor.NewAttemptToken(inst.CancelToken, td.TimeoutMs)
	ti.CancelToken = attemptToken

	e.emitter.Emit(events.Event{Type: events.TaskStarted, WorkflowID: def.ID, TaskID: id, Timestamp: ti.StartTime})

	retryCount := ti.RetryCount
	go func() {
		defer e.sem.Release(1)
		defer release()
		result, attemptErr := executor.Invoke(attemptToken.Ctx, td, input, task.ExecOptions{CancelToken: attemptToken, Context: opts.Context})

		outcome := attemptOutcome{taskID: id, attemptID: attemptID, startedAt: ti.StartTime, finishedAt: time.Now()}
		if attemptErr == nil {
			outcome.completed = true
			outcome.result = result
			completions <- outcome
			return
		}

		finalErr, decision := executor.ClassifyFailure(td, retryCount, attemptErr, attemptToken)
		outcome.finalErr = finalErr
		outcome.decision = decision
		outcome.cancelled = decision.Cancelled
		completions <- outcome
	}()
	return true
}

func (e *Engine) applyOutcome(def workflow.Definition, inst *workflow.Instance, outcome attemptOutcome) {
	ti, ok := inst.Tasks[outcome.taskID]
	if !ok {
		return
	}

	if outcome.attemptID != "" {
		e.res.Release(outcome.attemptID)
	}

	durationMs := outcome.finishedAt.Sub(outcome.startedAt).Milliseconds()

	switch {
	case outcome.completed:
		ti.State = task.Completed
		ti.Result = outcome.result
		ti.EndTime = outcome.finishedAt
		inst.Results[outcome.taskID] = outcome.result
		e.emitter.Emit(events.Event{
			Type: events.TaskCompleted, WorkflowID: def.ID, TaskID: outcome.taskID,
			Timestamp: ti.EndTime, DurationMs: durationMs,
			Data: map[string]any{"result": outcome.result},
		})

	case outcome.cancelled:
		ti.State = task.Cancelled
		ti.Err = outcome.finalErr
		ti.EndTime = outcome.finishedAt
		e.emitter.Emit(events.Event{
			Type: events.TaskCancelled, WorkflowID: def.ID, TaskID: outcome.taskID,
			Timestamp: ti.EndTime, DurationMs: durationMs,
		})

	case outcome.decision.Retry:
		ti.RetryCount++
		ti.NextRetryTime = time.Now().Add(outcome.decision.Delay)
		ti.State = task.Pending
		ti.Err = outcome.finalErr
		e.emitter.Emit(events.Event{
			Type: events.TaskRetrying, WorkflowID: def.ID, TaskID: outcome.taskID,
			Timestamp: time.Now(),
			Data: map[string]any{
				"retry_count":     ti.RetryCount,
				"next_retry_time": ti.NextRetryTime,
				"error":           outcome.finalErr,
			},
		})

	default:
		ti.State = task.Failed
		ti.Err = outcome.finalErr
		ti.EndTime = outcome.finishedAt
		e.emitter.Emit(events.Event{
			Type: events.TaskFailed, WorkflowID: def.ID, TaskID: outcome.taskID,
			Timestamp: ti.EndTime, DurationMs: durationMs,
			Data: map[string]any{"error": outcome.finalErr, "will_retry": false},
		})
	}
}

// hasNonRecoverableFailure reports whether any task has terminally FAILED
// (no retry pending) with FailureMode FailWorkflow.
func (e *Engine) hasNonRecoverableFailure(def workflow.Definition, inst *workflow.Instance) bool {
	for _, ti := range inst.Tasks {
		if ti.State == task.Failed && ti.Definition.FailureMode == task.FailWorkflow {
			return true
		}
	}
	return false
}

func (e *Engine) cancelRunning(def workflow.Definition, inst *workflow.Instance) {
	inst.CancelToken.Cancel(nil)
	for _, ti := range inst.Tasks {
		switch ti.State {
		case task.Running:
			ti.CancelToken.Cancel(nil)
		case task.Pending:
			ti.State = task.Cancelled
		}
	}
}

// finalize is called when a pass schedules nothing and nothing is
// RUNNING. It reports whether the workflow has reached a terminal state
// (having set inst.State accordingly), or false if the coordinator should
// keep looping (a retry is still pending its nextRetryTime, or a starved
// task was just failed and its dependents still need a pass to be marked
// SKIPPED in turn).
func (e *Engine) finalize(def workflow.Definition, inst *workflow.Instance) bool {
	blocked := blockedTasks(def, inst)
	for id := range blocked {
		ti := inst.Tasks[id]
		if ti.State == task.Pending {
			ti.State = task.Skipped
		}
	}

	now := time.Now()
	starved := e.starvedTasks(def, inst, now)
	for id, err := range starved {
		ti := inst.Tasks[id]
		ti.State = task.Failed
		ti.Err = err
		ti.EndTime = now
		e.emitter.Emit(events.Event{
			Type: events.TaskFailed, WorkflowID: def.ID, TaskID: id,
			Timestamp: now, Data: map[string]any{"error": err, "will_retry": false},
		})
	}

	anyPendingRetry := false
	for _, ti := range inst.Tasks {
		if ti.State == task.Pending {
			anyPendingRetry = true
		}
	}
	if anyPendingRetry {
		return false
	}

	failed := false
	for _, ti := range inst.Tasks {
		if ti.State != task.Failed {
			continue
		}
		if ti.Definition.FailureMode == task.FailWorkflow {
			failed = true
		}
		if _, starvedErr := ti.Err.(*ferrors.ResourceStarvationError); starvedErr {
			failed = true
		}
	}
	if failed {
		inst.State = workflow.Failed
	} else {
		inst.State = workflow.Completed
	}
	return true
}

// starvedTasks returns, for every PENDING task that is actually ready to
// run (dependencies satisfied, no retry delay outstanding) but requests
// more of some resource than the engine's configured cap, a
// ResourceStarvationError keyed by task id. Such a task can never be
// allocated regardless of how long the coordinator waits.
func (e *Engine) starvedTasks(def workflow.Definition, inst *workflow.Instance, now time.Time) map[string]error {
	ready := dag.ReadyTasks(def, inst.CompletedSet())
	starved := make(map[string]error)
	for _, id := range ready {
		ti := inst.Tasks[id]
		if ti == nil || ti.State != task.Pending || !ti.ReadyForRetry(now) {
			continue
		}
		for name, need := range ti.Definition.Resources {
			capValue, unbounded := e.res.Cap(name)
			if unbounded || need <= capValue {
				continue
			}
			starved[id] = &ferrors.ResourceStarvationError{TaskID: id, Resource: name, Need: need, Cap: capValue}
			break
		}
	}
	return starved
}

// blockedTasks returns the set of PENDING task ids whose transitive
// dependency chain contains a terminally FAILED, CANCELLED or SKIPPED
// task, regardless of that blocker's FailureMode (a blocked task's input
// can never be produced either way).
func blockedTasks(def workflow.Definition, inst *workflow.Instance) map[string]bool {
	blocked := make(map[string]bool)
	var isBlocked func(id string, visiting map[string]bool) bool
	isBlocked = func(id string, visiting map[string]bool) bool {
		if b, ok := blocked[id]; ok {
			return b
		}
		if visiting[id] {
			return false
		}
		visiting[id] = true

		td, ok := def.TaskByID(id)
		if !ok {
			return false
		}
		result := false
		for _, dep := range td.Dependencies {
			depInst := inst.Tasks[dep]
			if depInst == nil {
				continue
			}
			if depInst.State == task.Failed || depInst.State == task.Cancelled || depInst.State == task.Skipped {
				result = true
				break
			}
			if depInst.State == task.Pending && isBlocked(dep, visiting) {
				result = true
				break
			}
		}
		blocked[id] = result
		return result
	}

	ids := make(map[string]bool)
	for id, ti := range inst.Tasks {
		if ti.State == task.Pending && isBlocked(id, make(map[string]bool)) {
			ids[id] = true
		}
	}
	return ids
}

func (e *Engine) buildResult(def workflow.Definition, inst *workflow.Instance) WorkflowExecutionResult {
	errs := make(map[string]error)
	for id, ti := range inst.Tasks {
		if ti.State == task.Failed && ti.Err != nil {
			errs[id] = ti.Err
		}
	}
	return WorkflowExecutionResult{
		WorkflowID: def.ID,
		State:      inst.State,
		Results:    inst.Results,
		Errors:     errs,
		StartTime:  inst.StartTime,
		EndTime:    inst.EndTime,
		DurationMs: inst.EndTime.Sub(inst.StartTime).Milliseconds(),
	}
}

func (e *Engine) emitTerminal(workflowID string, inst *workflow.Instance, result WorkflowExecutionResult) {
	switch inst.State {
	case workflow.Completed:
		e.emitter.Emit(events.Event{
			Type: events.WorkflowCompleted, WorkflowID: workflowID, Timestamp: inst.EndTime,
			DurationMs: result.DurationMs, Data: map[string]any{"results": result.Results},
		})
	case workflow.Failed:
		e.emitter.Emit(events.Event{
			Type: events.WorkflowFailed, WorkflowID: workflowID, Timestamp: inst.EndTime,
			DurationMs: result.DurationMs, Data: map[string]any{"errors": result.Errors},
		})
	case workflow.Cancelled:
		e.emitter.Emit(events.Event{
			Type: events.WorkflowCancelled, WorkflowID: workflowID, Timestamp: inst.EndTime,
			DurationMs: result.DurationMs,
		})
	default:
		e.observer.OnEvent(context.Background(), observability.Event{
			Type: "engine.unexpected_terminal_state", Level: observability.LevelWarning,
			Timestamp: time.Now(), Source: "engine.Engine",
			Data: map[string]any{"workflow_id": workflowID, "state": fmt.Sprintf("%v", inst.State)},
		})
	}
}
