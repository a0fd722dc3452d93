// Package events implements the engine's typed pub/sub: the nine
// workflow/task lifecycle events subscribers can observe. Delivery is
// synchronous, in submission order, per subscriber; a handler that panics
// is caught and logged, never propagated to the coordinator that emitted
// the event.
package events

import (
	"context"
	"sync"
	"time"

	"github.com/parallex-labs/flowengine/observability"
)

// Type identifies one of the nine lifecycle events.
type Type string

const (
	WorkflowStarted   Type = "workflow_started"
	WorkflowCompleted Type = "workflow_completed"
	WorkflowFailed    Type = "workflow_failed"
	WorkflowCancelled Type = "workflow_cancelled"
	TaskStarted       Type = "task_started"
	TaskCompleted     Type = "task_completed"
	TaskFailed        Type = "task_failed"
	TaskRetrying      Type = "task_retrying"
	TaskCancelled     Type = "task_cancelled"
)

// Wildcard subscribes a handler to every event type.
const Wildcard Type = "*"

// Event is a single published occurrence. Data carries the type-specific
// payload fields (e.g. TaskCompleted carries "result"; TaskRetrying
// carries "retry_count" and "next_retry_time").
type Event struct {
	Type       Type
	WorkflowID string
	TaskID     string // empty for workflow-level events
	Timestamp  time.Time
	DurationMs int64
	Data       map[string]any
}

// Handler receives published events. It must not block for long: it runs
// synchronously on the publisher's goroutine between one task completing
// and the next scheduling decision.
type Handler func(Event)

// Unsubscribe removes a previously registered handler. Safe to call more
// than once.
type Unsubscribe func()

type subscription struct {
	id      uint64
	evtType Type
	handler Handler
}

// Emitter is a small synchronous pub/sub. The zero value is not usable;
// construct one with NewEmitter.
type Emitter struct {
	mu       sync.Mutex
	subs     []subscription
	nextID   uint64
	observer observability.Observer
}

// NewEmitter creates an Emitter that logs subscriber failures through
// observer. A nil observer logs nowhere (observability.NoOpObserver).
func NewEmitter(observer observability.Observer) *Emitter {
	if observer == nil {
		observer = observability.NoOpObserver{}
	}
	return &Emitter{observer: observer}
}

// Subscribe registers handler for evtType (or Wildcard for every type),
// returning an Unsubscribe handle.
func (e *Emitter) Subscribe(evtType Type, handler Handler) Unsubscribe {
	e.mu.Lock()
	id := e.nextID
	e.nextID++
	e.subs = append(e.subs, subscription{id: id, evtType: evtType, handler: handler})
	e.mu.Unlock()

	return func() {
		e.mu.Lock()
		defer e.mu.Unlock()
		for i, s := range e.subs {
			if s.id == id {
				e.subs = append(e.subs[:i], e.subs[i+1:]...)
				return
			}
		}
	}
}

// Emit delivers evt synchronously, in subscription order, to every
// handler registered for evt.Type or Wildcard. A handler panic is
// recovered and logged; it never reaches the caller.
func (e *Emitter) Emit(evt Event) {
	e.mu.Lock()
	matched := make([]Handler, 0, len(e.subs))
	for _, s := range e.subs {
		if s.evtType == evt.Type || s.evtType == Wildcard {
			matched = append(matched, s.handler)
		}
	}
	e.mu.Unlock()

	for _, handler := range matched {
		e.deliver(handler, evt)
	}
}

func (e *Emitter) deliver(handler Handler, evt Event) {
	defer func() {
		if r := recover(); r != nil {
			e.observer.OnEvent(context.Background(), observability.Event{
				Type:      "events.subscriber.panic",
				Level:     observability.LevelWarning,
				Timestamp: time.Now(),
				Source:    "events.Emitter",
				Data:      map[string]any{"event_type": string(evt.Type), "recovered": r},
			})
		}
	}()
	handler(evt)
}
