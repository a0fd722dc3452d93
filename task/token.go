package task

import (
	"context"
	"errors"
	"time"
)

// ErrAttemptTimeout is the cause recorded on an attempt token when its
// per-attempt timeout (rather than the workflow token) fires first.
var ErrAttemptTimeout = errors.New("attempt timeout elapsed")

// CancelToken is a one-shot handle signalling "stop ASAP" to a task body.
// It wraps a context.Context so tokens compose the idiomatic way: an
// attempt token is derived from its workflow token via context.WithTimeout
// or context.WithCancel, and context.Cause distinguishes which of the two
// fired without extra plumbing.
type CancelToken struct {
	Ctx    context.Context
	cancel context.CancelCauseFunc
}

// NewCancelToken creates a cancellable token rooted at parent.
func NewCancelToken(parent context.Context) CancelToken {
	ctx, cancel := context.WithCancelCause(parent)
	return CancelToken{Ctx: ctx, cancel: cancel}
}

// DeriveAttempt produces an attempt-scoped token that fires when either t
// (the workflow token) fires or timeout elapses, whichever comes first. A
// zero timeout means no per-attempt deadline. The returned release must be
// called once the attempt finishes to free the underlying timer.
func (t CancelToken) DeriveAttempt(timeout time.Duration) (attempt CancelToken, release context.CancelFunc) {
	parent := t.Ctx
	if parent == nil {
		parent = context.Background()
	}
	if timeout <= 0 {
		ctx, cancel := context.WithCancelCause(parent)
		return CancelToken{Ctx: ctx, cancel: cancel}, func() { cancel(nil) }
	}

	withCause, cancelCause := context.WithCancelCause(parent)
	ctx, cancel := context.WithTimeoutCause(withCause, timeout, ErrAttemptTimeout)
	return CancelToken{Ctx: ctx, cancel: cancelCause}, func() { cancel(); cancelCause(nil) }
}

// Cancel fires the token with reason as the cause, retrievable later via
// Err/context.Cause. Safe to call more than once; only the first call has
// effect.
func (t CancelToken) Cancel(reason error) {
	if t.cancel != nil {
		t.cancel(reason)
	}
}

// Done returns the channel closed when the token fires.
func (t CancelToken) Done() <-chan struct{} {
	if t.Ctx == nil {
		return nil
	}
	return t.Ctx.Done()
}

// Err returns the cause the token fired with, or nil if it has not fired.
func (t CancelToken) Err() error {
	if t.Ctx == nil {
		return nil
	}
	return context.Cause(t.Ctx)
}
