package observability

import "context"

// MultiObserver fans out events to multiple observers, recovering from a
// panic in any one of them so a misbehaving observer can never take down
// the caller emitting the event.
type MultiObserver struct {
	observers []Observer
}

// NewMultiObserver creates a MultiObserver that forwards events to all
// non-nil observers.
func NewMultiObserver(observers ...Observer) *MultiObserver {
	filtered := make([]Observer, 0, len(observers))
	for _, obs := range observers {
		if obs != nil {
			filtered = append(filtered, obs)
		}
	}
	return &MultiObserver{observers: filtered}
}

func (m *MultiObserver) OnEvent(ctx context.Context, event Event) {
	for _, obs := range m.observers {
		func() {
			defer func() { recover() }()
			obs.OnEvent(ctx, event)
		}()
	}
}
