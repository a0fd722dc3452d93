// Command flowdemo builds a small illustrative workflow (three tasks in a
// chain, A -> B -> C) and runs it to completion, printing the lifecycle
// events and the final result. It exists to exercise the engine end-to-end
// from the command line, not as a production workflow runner.
package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"log/slog"
	"os"
	"os/signal"
	"time"

	"github.com/parallex-labs/flowengine/builder"
	"github.com/parallex-labs/flowengine/engine"
	"github.com/parallex-labs/flowengine/engineconfig"
	"github.com/parallex-labs/flowengine/events"
	"github.com/parallex-labs/flowengine/observability"
	"github.com/parallex-labs/flowengine/task"
	"github.com/parallex-labs/flowengine/workflow"
)

func main() {
	var (
		configFile = flag.String("config", "", "Path to engine config JSON file (optional)")
		verbose    = flag.Bool("verbose", false, "Enable verbose logging to stderr")
	)
	flag.Parse()

	var cfg engineconfig.Config
	if *configFile != "" {
		loaded, err := engineconfig.LoadConfig(*configFile)
		if err != nil {
			log.Fatalf("failed to load config: %v", err)
		}
		cfg = *loaded
	} else {
		cfg = engineconfig.DefaultConfig()
	}

	level := slog.LevelInfo
	if *verbose {
		level = slog.LevelDebug
	}
	logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level}))
	observer := observability.NewSlogObserver(logger)

	def, err := demoWorkflow()
	if err != nil {
		log.Fatalf("failed to build demo workflow: %v", err)
	}

	e := engine.New(cfg.TotalResources, engine.WithObserver(observer))
	e.Subscribe(events.Wildcard, func(evt events.Event) {
		fmt.Printf("[%s] workflow=%s task=%s\n", evt.Type, evt.WorkflowID, evt.TaskID)
	})

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	defer stop()

	result, err := e.Execute(ctx, def, engine.ExecuteOptions{GlobalConcurrencyLimit: cfg.GlobalConcurrencyLimit})
	if err != nil {
		log.Fatalf("execute failed: %v", err)
	}

	fmt.Printf("\nWorkflow %s finished: %s (took %dms)\n", result.WorkflowID, result.State, result.DurationMs)
	for id, value := range result.Results {
		fmt.Printf("  result[%s] = %v\n", id, value)
	}
	for id, taskErr := range result.Errors {
		fmt.Printf("  error[%s] = %v\n", id, taskErr)
	}
}

// demoWorkflow builds a three-task chain A -> B -> C; each task sleeps
// briefly and returns its own name appended to its input ("A", then
// "A->B", then "A->B->C"), which becomes the next task's input.
func demoWorkflow() (workflow.Definition, error) {
	step := func(id string) task.ExecuteFunc {
		return func(ctx context.Context, input any, opts task.ExecOptions) (any, error) {
			select {
			case <-time.After(50 * time.Millisecond):
			case <-opts.CancelToken.Done():
				return nil, opts.CancelToken.Err()
			}
			if input != nil {
				return fmt.Sprintf("%v->%s", input, id), nil
			}
			return id, nil
		}
	}
	passPriorResult := func(dep string) task.InputFunc {
		return func(results task.ResultsView) (any, error) {
			v, _ := results.Get(dep)
			return v, nil
		}
	}

	a, err := builder.NewTask("A", step("A")).Build()
	if err != nil {
		return workflow.Definition{}, err
	}
	b, err := builder.NewTask("B", step("B")).DependsOn("A").InputFunc(passPriorResult("A")).Build()
	if err != nil {
		return workflow.Definition{}, err
	}
	c, err := builder.NewTask("C", step("C")).DependsOn("B").InputFunc(passPriorResult("B")).Build()
	if err != nil {
		return workflow.Definition{}, err
	}

	return builder.NewWorkflow("demo", "A -> B -> C demo").
		ConcurrencyLimit(3).
		Task(a).
		Task(b).
		Task(c).
		Build()
}
