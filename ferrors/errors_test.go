package ferrors_test

import (
	"errors"
	"testing"

	"github.com/parallex-labs/flowengine/ferrors"
)

func TestCycleError_Message(t *testing.T) {
	err := &ferrors.CycleError{Cycle: []string{"a", "b", "a"}}
	want := "dependency cycle detected: a -> b -> a"
	if got := err.Error(); got != want {
		t.Errorf("Error() = %q, want %q", got, want)
	}
}

func TestUserTaskError_Unwrap(t *testing.T) {
	cause := errors.New("boom")
	err := &ferrors.UserTaskError{TaskID: "t1", Message: "boom", Err: cause}

	if !errors.Is(err, cause) {
		t.Error("expected errors.Is to find the wrapped cause")
	}
}

func TestInputResolutionError_Unwrap(t *testing.T) {
	cause := errors.New("bad input")
	err := &ferrors.InputResolutionError{TaskID: "t1", Err: cause}

	if !errors.Is(err, cause) {
		t.Error("expected errors.Is to find the wrapped cause")
	}
}

func TestAggregateError_SummarizesByFrequency(t *testing.T) {
	agg := &ferrors.AggregateError{
		Errors: map[string]error{
			"a": errors.New("transient"),
			"b": errors.New("transient"),
			"c": errors.New("fatal"),
		},
	}

	msg := agg.Error()
	if !contains(msg, "3 task(s) failed") {
		t.Errorf("expected count prefix, got: %s", msg)
	}
	if !contains(msg, "2x") {
		t.Errorf("expected the duplicated message to be counted, got: %s", msg)
	}
}

func TestAggregateError_Unwrap(t *testing.T) {
	cause := errors.New("transient")
	agg := &ferrors.AggregateError{Errors: map[string]error{"a": cause}}

	var found bool
	for _, err := range agg.Unwrap() {
		if errors.Is(err, cause) {
			found = true
		}
	}
	if !found {
		t.Error("expected Unwrap() to expose the wrapped task error")
	}
}

func contains(s, substr string) bool {
	return len(s) >= len(substr) && indexOf(s, substr) >= 0
}

func indexOf(s, substr string) int {
	for i := 0; i+len(substr) <= len(s); i++ {
		if s[i:i+len(substr)] == substr {
			return i
		}
	}
	return -1
}
