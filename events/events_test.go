package events_test

import (
	"testing"

	"github.com/parallex-labs/flowengine/events"
)

func TestEmit_DeliversInSubscriptionOrder(t *testing.T) {
	e := events.NewEmitter(nil)
	var order []string

	e.Subscribe(events.TaskStarted, func(evt events.Event) { order = append(order, "first") })
	e.Subscribe(events.TaskStarted, func(evt events.Event) { order = append(order, "second") })

	e.Emit(events.Event{Type: events.TaskStarted, TaskID: "t1"})

	if len(order) != 2 || order[0] != "first" || order[1] != "second" {
		t.Fatalf("expected delivery in subscription order, got %v", order)
	}
}

func TestEmit_FiltersByEventType(t *testing.T) {
	e := events.NewEmitter(nil)
	var gotTaskEvents, gotWorkflowEvents int

	e.Subscribe(events.TaskStarted, func(evt events.Event) { gotTaskEvents++ })
	e.Subscribe(events.WorkflowStarted, func(evt events.Event) { gotWorkflowEvents++ })

	e.Emit(events.Event{Type: events.TaskStarted})

	if gotTaskEvents != 1 {
		t.Errorf("expected 1 task event delivered, got %d", gotTaskEvents)
	}
	if gotWorkflowEvents != 0 {
		t.Errorf("expected 0 workflow events delivered, got %d", gotWorkflowEvents)
	}
}

func TestEmit_WildcardReceivesEverything(t *testing.T) {
	e := events.NewEmitter(nil)
	var count int
	e.Subscribe(events.Wildcard, func(evt events.Event) { count++ })

	e.Emit(events.Event{Type: events.TaskStarted})
	e.Emit(events.Event{Type: events.WorkflowCompleted})

	if count != 2 {
		t.Errorf("expected wildcard subscriber to see both events, got %d", count)
	}
}

func TestUnsubscribe_StopsFutureDelivery(t *testing.T) {
	e := events.NewEmitter(nil)
	var count int
	unsub := e.Subscribe(events.TaskStarted, func(evt events.Event) { count++ })

	e.Emit(events.Event{Type: events.TaskStarted})
	unsub()
	e.Emit(events.Event{Type: events.TaskStarted})
	unsub() // idempotent

	if count != 1 {
		t.Errorf("expected exactly 1 delivery before unsubscribe, got %d", count)
	}
}

func TestEmit_RecoversFromPanickingSubscriber(t *testing.T) {
	e := events.NewEmitter(nil)
	var delivered bool

	e.Subscribe(events.TaskStarted, func(evt events.Event) { panic("boom") })
	e.Subscribe(events.TaskStarted, func(evt events.Event) { delivered = true })

	e.Emit(events.Event{Type: events.TaskStarted})

	if !delivered {
		t.Error("expected the second subscriber to still run despite the first panicking")
	}
}
