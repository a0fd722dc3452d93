package engine_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/parallex-labs/flowengine/engine"
	"github.com/parallex-labs/flowengine/events"
	"github.com/parallex-labs/flowengine/ferrors"
	"github.com/parallex-labs/flowengine/task"
	"github.com/parallex-labs/flowengine/workflow"
)

func echoTask(id string) task.Definition {
	return task.Definition{
		ID: id,
		Execute: func(ctx context.Context, input any, opts task.ExecOptions) (any, error) {
			return id, nil
		},
	}
}

func TestExecute_LinearChainCompletesInDependencyOrder(t *testing.T) {
	var order []string
	track := func(id string) task.ExecuteFunc {
		return func(ctx context.Context, input any, opts task.ExecOptions) (any, error) {
			order = append(order, id)
			return id, nil
		}
	}

	def := workflow.Definition{
		ID: "wf-linear",
		Tasks: []task.Definition{
			{ID: "A", Execute: track("A")},
			{ID: "B", Execute: track("B"), Dependencies: []string{"A"}},
			{ID: "C", Execute: track("C"), Dependencies: []string{"B"}},
		},
		ConcurrencyLimit: 3,
	}

	e := engine.New(nil)
	result, err := e.Execute(context.Background(), def, engine.ExecuteOptions{})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if result.State != workflow.Completed {
		t.Fatalf("expected COMPLETED, got %v (errors: %v)", result.State, result.Errors)
	}
	for _, id := range []string{"A", "B", "C"} {
		if result.Results[id] != id {
			t.Errorf("expected results[%s] = %q, got %v", id, id, result.Results[id])
		}
	}
	if len(order) != 3 || order[0] != "A" || order[1] != "B" || order[2] != "C" {
		t.Fatalf("expected strict dependency order A,B,C, got %v", order)
	}
}

func echoTaskWithDeps(id string, deps ...string) task.Definition {
	td := echoTask(id)
	td.Dependencies = deps
	return td
}

func TestExecute_DiamondDependencyAllCompletes(t *testing.T) {
	def := workflow.Definition{
		ID: "wf-diamond",
		Tasks: []task.Definition{
			echoTask("A"),
			echoTaskWithDeps("B", "A"),
			echoTaskWithDeps("C", "A"),
			echoTaskWithDeps("D", "B", "C"),
		},
		ConcurrencyLimit: 2,
	}

	e := engine.New(nil)
	result, err := e.Execute(context.Background(), def, engine.ExecuteOptions{})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if result.State != workflow.Completed {
		t.Fatalf("expected COMPLETED, got %v (errors: %v)", result.State, result.Errors)
	}
	for _, id := range []string{"A", "B", "C", "D"} {
		if _, ok := result.Results[id]; !ok {
			t.Errorf("expected a result for %s", id)
		}
	}
}

func TestExecute_RetryThenSucceed(t *testing.T) {
	attempts := 0
	def := workflow.Definition{
		ID: "wf-retry",
		Tasks: []task.Definition{
			{
				ID: "R",
				Execute: func(ctx context.Context, input any, opts task.ExecOptions) (any, error) {
					attempts++
					if attempts < 3 {
						return nil, errors.New("transient")
					}
					return 42, nil
				},
				RetryPolicy: &task.RetryPolicy{MaxRetries: 3, InitialDelayMs: 5, BackoffFactor: 2, MaxDelayMs: 100},
			},
		},
		ConcurrencyLimit: 1,
	}

	var retryingEvents, startedEvents int
	e := engine.New(nil)
	e.Subscribe(events.TaskRetrying, func(evt events.Event) { retryingEvents++ })
	e.Subscribe(events.TaskStarted, func(evt events.Event) { startedEvents++ })

	result, err := e.Execute(context.Background(), def, engine.ExecuteOptions{})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if result.State != workflow.Completed || result.Results["R"] != 42 {
		t.Fatalf("expected R to complete with 42, got state=%v results=%v errors=%v", result.State, result.Results, result.Errors)
	}
	if attempts != 3 {
		t.Errorf("expected exactly 3 attempts, got %d", attempts)
	}
	if retryingEvents != 2 {
		t.Errorf("expected 2 task_retrying events, got %d", retryingEvents)
	}
	if startedEvents != 3 {
		t.Errorf("expected 3 task_started events, got %d", startedEvents)
	}
}

func TestExecute_PriorityOrderingUnderConcurrencyLimitOne(t *testing.T) {
	var order []string
	withPriority := func(id string, p task.Priority) task.Definition {
		return task.Definition{
			ID:       id,
			Priority: p,
			Execute: func(ctx context.Context, input any, opts task.ExecOptions) (any, error) {
				order = append(order, id)
				return id, nil
			},
		}
	}

	def := workflow.Definition{
		ID: "wf-priority",
		Tasks: []task.Definition{
			withPriority("low", task.PriorityLow),
			withPriority("critical", task.PriorityCritical),
			withPriority("normal", task.PriorityNormal),
			withPriority("high", task.PriorityHigh),
		},
		ConcurrencyLimit: 1,
	}

	e := engine.New(nil)
	result, err := e.Execute(context.Background(), def, engine.ExecuteOptions{})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if result.State != workflow.Completed {
		t.Fatalf("expected COMPLETED, got %v", result.State)
	}
	want := []string{"critical", "high", "normal", "low"}
	if len(order) != len(want) {
		t.Fatalf("expected %v, got %v", want, order)
	}
	for i, id := range want {
		if order[i] != id {
			t.Errorf("expected execution order %v, got %v", want, order)
			break
		}
	}
}

func TestExecute_CancellationStopsWorkflowAndTask(t *testing.T) {
	def := workflow.Definition{
		ID: "wf-cancel",
		Tasks: []task.Definition{
			{
				ID: "slow",
				Execute: func(ctx context.Context, input any, opts task.ExecOptions) (any, error) {
					select {
					case <-time.After(time.Second):
						return "done", nil
					case <-opts.CancelToken.Done():
						return nil, opts.CancelToken.Err()
					}
				},
			},
		},
	}

	e := engine.New(nil)
	var cancelledEvent bool
	e.Subscribe(events.WorkflowCancelled, func(evt events.Event) { cancelledEvent = true })

	resultCh := make(chan engine.WorkflowExecutionResult, 1)
	go func() {
		result, _ := e.Execute(context.Background(), def, engine.ExecuteOptions{})
		resultCh <- result
	}()

	time.Sleep(50 * time.Millisecond)
	if err := e.Cancel("wf-cancel", errors.New("test cancel")); err != nil {
		t.Fatalf("unexpected error cancelling: %v", err)
	}
	if err := e.Cancel("wf-cancel", errors.New("second cancel is a no-op")); err != nil {
		t.Fatalf("unexpected error on second cancel: %v", err)
	}

	select {
	case result := <-resultCh:
		if result.State != workflow.Cancelled {
			t.Fatalf("expected CANCELLED, got %v", result.State)
		}
		if len(result.Results) != 0 {
			t.Errorf("expected no results on cancellation, got %v", result.Results)
		}
	case <-time.After(500 * time.Millisecond):
		t.Fatal("workflow did not cancel within the expected window")
	}
	if !cancelledEvent {
		t.Error("expected a workflow_cancelled event")
	}
}

func TestExecute_OverCapResourceRequestFailsInsteadOfStalling(t *testing.T) {
	def := workflow.Definition{
		ID: "wf-starved",
		Tasks: []task.Definition{
			{
				ID:        "hog",
				Resources: map[string]float64{"gpu": 8},
				Execute: func(ctx context.Context, input any, opts task.ExecOptions) (any, error) {
					return "done", nil
				},
			},
			echoTaskWithDeps("downstream", "hog"),
		},
	}

	e := engine.New(map[string]float64{"gpu": 4})

	resultCh := make(chan engine.WorkflowExecutionResult, 1)
	go func() {
		result, _ := e.Execute(context.Background(), def, engine.ExecuteOptions{})
		resultCh <- result
	}()

	select {
	case result := <-resultCh:
		if result.State != workflow.Failed {
			t.Fatalf("expected FAILED, got %v (results: %v)", result.State, result.Results)
		}
		hogErr, ok := result.Errors["hog"].(*ferrors.ResourceStarvationError)
		if !ok {
			t.Fatalf("expected hog's error to be a ResourceStarvationError, got %v", result.Errors["hog"])
		}
		if hogErr.Resource != "gpu" || hogErr.Need != 8 || hogErr.Cap != 4 {
			t.Errorf("unexpected starvation error fields: %+v", hogErr)
		}
		if _, ok := result.Results["downstream"]; ok {
			t.Error("expected downstream to be skipped, not completed")
		}
	case <-time.After(2 * time.Second):
		t.Fatal("workflow stalled instead of failing on an over-cap resource request")
	}
}

func TestExecute_DuplicateWorkflowIDRejectedWhileActive(t *testing.T) {
	release := make(chan struct{})
	def := workflow.Definition{
		ID: "wf-dup",
		Tasks: []task.Definition{
			{
				ID: "blocker",
				Execute: func(ctx context.Context, input any, opts task.ExecOptions) (any, error) {
					<-release
					return "done", nil
				},
			},
		},
	}

	e := engine.New(nil)
	go e.Execute(context.Background(), def, engine.ExecuteOptions{})
	time.Sleep(20 * time.Millisecond)

	_, err := e.Execute(context.Background(), def, engine.ExecuteOptions{})
	if err == nil {
		t.Fatal("expected WorkflowAlreadyActiveError for a concurrent Execute of the same id")
	}
	close(release)
}
