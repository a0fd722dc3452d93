// Package scheduler implements the task scheduler: composing the
// dependency resolver and resource manager to pick, at each coordinator
// pass, the set of task ids that should start running now.
package scheduler

import (
	"sort"
	"time"

	"github.com/parallex-labs/flowengine/dag"
	"github.com/parallex-labs/flowengine/resources"
	"github.com/parallex-labs/flowengine/task"
	"github.com/parallex-labs/flowengine/workflow"
)

// Schedule returns the task ids to start now, honoring priority, the
// critical-path boost, the workflow's own concurrency limit composed with
// maxConcurrentSlots (an engine-wide cap independent of it), and the
// resource manager's current capacity. The greedy pass is deliberately
// first-fit in priority order rather than optimal bin-packing: a
// candidate whose resource request does not fit right now is skipped,
// and later, lower-scoring candidates that do fit are still taken.
func Schedule(
	def workflow.Definition,
	instance *workflow.Instance,
	onCriticalPath map[string]bool,
	rm *resources.Manager,
	maxConcurrentSlots int,
	now time.Time,
) []string {
	completed := instance.CompletedSet()
	ready := dag.ReadyTasks(def, completed)

	candidates := make([]string, 0, len(ready))
	for _, id := range ready {
		inst := instance.Tasks[id]
		if inst == nil || inst.State != task.Pending {
			continue
		}
		if !inst.ReadyForRetry(now) {
			continue
		}
		candidates = append(candidates, id)
	}

	runningCount := 0
	for _, inst := range instance.Tasks {
		if inst.State == task.Running {
			runningCount++
		}
	}

	limit := def.EffectiveConcurrencyLimit(maxConcurrentSlots)
	availableSlots := -1 // -1 means unbounded
	if limit > 0 {
		availableSlots = limit - runningCount
		if availableSlots <= 0 {
			return nil
		}
	}

	sort.SliceStable(candidates, func(i, j int) bool {
		return score(candidates[i], def, onCriticalPath) > score(candidates[j], def, onCriticalPath)
	})

	var batch []string
	for _, id := range candidates {
		if availableSlots == 0 {
			break
		}
		td, _ := def.TaskByID(id)
		if !rm.CanAllocate(td.Resources) {
			continue
		}
		attemptID := task.AttemptID(instance.Definition.ID, id, instance.Tasks[id].RetryCount)
		if err := rm.Allocate(attemptID, td.Resources); err != nil {
			continue
		}
		batch = append(batch, id)
		if availableSlots > 0 {
			availableSlots--
		}
	}
	return batch
}

func score(id string, def workflow.Definition, onCriticalPath map[string]bool) int {
	t, _ := def.TaskByID(id)
	s := int(t.Priority)
	if onCriticalPath[id] {
		s += 1000
	}
	return s
}
