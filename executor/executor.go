// Package executor implements the task executor: running one attempt of
// one task, classifying its outcome (completed, cancelled, retryable
// failure, terminal failure), and computing retry backoff delays. It does
// not itself hold or mutate any TaskInstance; the workflow engine's
// coordinator applies the returned Decision to the instance it owns, so
// ownership never crosses a goroutine boundary uninstructed (per the
// corpus's single-coordinator convention).
package executor

import (
	"context"
	"fmt"
	"regexp"
	"strings"
	"time"

	"github.com/cenkalti/backoff/v4"

	"github.com/parallex-labs/flowengine/ferrors"
	"github.com/parallex-labs/flowengine/task"
)

// Invoke runs one attempt of def's body, recovering from a panic and
// wrapping any error (or panic) as *ferrors.UserTaskError.
func Invoke(ctx context.Context, def task.Definition, input any, opts task.ExecOptions) (result any, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = &ferrors.UserTaskError{TaskID: def.ID, Message: fmt.Sprintf("panic: %v", r)}
		}
	}()

	result, userErr := def.Execute(ctx, input, opts)
	if userErr != nil {
		return nil, &ferrors.UserTaskError{TaskID: def.ID, Message: userErr.Error(), Err: userErr}
	}
	return result, nil
}

// NewAttemptToken derives a per-attempt cancel token from the workflow
// token, firing early if timeoutMs elapses first. timeoutMs <= 0 means no
// per-attempt deadline. release must be called once the attempt finishes.
func NewAttemptToken(workflowToken task.CancelToken, timeoutMs int64) (attempt task.CancelToken, release context.CancelFunc) {
	var timeout time.Duration
	if timeoutMs > 0 {
		timeout = time.Duration(timeoutMs) * time.Millisecond
	}
	return workflowToken.DeriveAttempt(timeout)
}

// Decision is what the coordinator should do after an attempt finishes
// with an error (a nil error always means Decision is irrelevant — the
// task is COMPLETED).
type Decision struct {
	// Cancelled is true when the attempt stopped because the workflow
	// token fired (not a per-attempt timeout); the task goes straight to
	// CANCELLED, never retried.
	Cancelled bool
	// Retry is true when the task should return to PENDING with
	// NextRetryTime set to time.Now().Add(Delay).
	Retry bool
	Delay time.Duration
}

// ClassifyFailure turns a raw attempt error (and the attempt token's
// cancellation cause, if any) into the FinalErr to record on the task
// instance plus the Decision the coordinator should act on. retryCount is
// the instance's current retry count (before any increment).
func ClassifyFailure(def task.Definition, retryCount int, attemptErr error, attemptToken task.CancelToken) (finalErr error, decision Decision) {
	if cause := attemptToken.Err(); cause != nil {
		if isAttemptTimeout(cause) {
			finalErr = &ferrors.TaskTimeoutError{TaskID: def.ID, TimeoutMs: def.TimeoutMs}
			return finalErr, evaluateRetry(def, retryCount, finalErr)
		}
		// The workflow token fired: this is a cancellation, never retried.
		return &ferrors.CancelledError{TaskID: def.ID}, Decision{Cancelled: true}
	}

	return attemptErr, evaluateRetry(def, retryCount, attemptErr)
}

func isAttemptTimeout(cause error) bool {
	return cause == task.ErrAttemptTimeout
}

func evaluateRetry(def task.Definition, retryCount int, err error) Decision {
	if def.RetryPolicy == nil || err == nil {
		return Decision{}
	}
	if retryCount >= def.RetryPolicy.MaxRetries {
		return Decision{}
	}
	if !matchesRetryable(def.RetryPolicy.RetryableErrors, err) {
		return Decision{}
	}

	newRetryCount := retryCount + 1
	return Decision{Retry: true, Delay: computeDelay(def.RetryPolicy, newRetryCount)}
}

// matchesRetryable reports whether err should be retried given patterns.
// An empty pattern set means every error is retryable. Each pattern is
// tried, in order, as (a) a regex if it compiles and contains a regex
// metacharacter, (b) a substring of the error message, (c) an exact match
// against the error's kind tag (its Go type name, e.g. "UserTaskError").
func matchesRetryable(patterns []string, err error) bool {
	if len(patterns) == 0 {
		return true
	}
	msg := err.Error()
	kind := errorKind(err)

	for _, p := range patterns {
		if looksLikeRegex(p) {
			if re, compileErr := regexp.Compile(p); compileErr == nil && re.MatchString(msg) {
				return true
			}
		}
		if strings.Contains(msg, p) {
			return true
		}
		if p == kind {
			return true
		}
	}
	return false
}

func looksLikeRegex(p string) bool {
	return strings.ContainsAny(p, `.*+?[]()^$\|`)
}

func errorKind(err error) string {
	switch err.(type) {
	case *ferrors.UserTaskError:
		return "UserTaskError"
	case *ferrors.TaskTimeoutError:
		return "TaskTimeoutError"
	case *ferrors.CancelledError:
		return "CancelledError"
	case *ferrors.InputResolutionError:
		return "InputResolutionError"
	default:
		return fmt.Sprintf("%T", err)
	}
}

// computeDelay computes the retry backoff delay for newRetryCount using
// the corpus's cenkalti/backoff exponential sequence (InitialInterval on
// the first retry, scaled by Multiplier on each subsequent one), clamped
// to MaxDelayMs, with randomization disabled so runs are reproducible in
// tests.
func computeDelay(policy *task.RetryPolicy, newRetryCount int) time.Duration {
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = time.Duration(policy.InitialDelayMs) * time.Millisecond
	b.Multiplier = policy.BackoffFactor
	if b.Multiplier <= 0 {
		b.Multiplier = 1
	}
	b.MaxInterval = time.Duration(policy.MaxDelayMs) * time.Millisecond
	b.RandomizationFactor = 0
	b.MaxElapsedTime = 0 // never stop based on elapsed time; maxRetries governs that
	b.Reset()

	var delay time.Duration
	for i := 0; i < newRetryCount; i++ {
		delay = b.NextBackOff()
	}
	if policy.MaxDelayMs > 0 {
		if max := time.Duration(policy.MaxDelayMs) * time.Millisecond; delay > max {
			delay = max
		}
	}
	return delay
}
