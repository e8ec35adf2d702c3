package transport

import (
	"context"
	"errors"
	"fmt"
	"time"
)

// Kind buckets delivery failures for the dispatcher's retry policy.
type Kind int

const (
	// KindOther is any failure without a more specific classification.
	// Not retried.
	KindOther Kind = iota
	// KindThrottled: provider demands a pause before retrying (flood wait).
	KindThrottled
	// KindPermissionDenied: the account may not post to the destination.
	KindPermissionDenied
	// KindUnresolvable: the destination does not exist or is unreachable
	// by this account (configuration error).
	KindUnresolvable
	// KindTransient: network-level trouble worth a bounded retry.
	KindTransient
)

func (k Kind) String() string {
	switch k {
	case KindThrottled:
		return "throttled"
	case KindPermissionDenied:
		return "permission-denied"
	case KindUnresolvable:
		return "unresolvable"
	case KindTransient:
		return "transient"
	default:
		return "other"
	}
}

var (
	ErrPermissionDenied = errors.New("no permission to post to destination")
	ErrUnresolvable     = errors.New("destination cannot be resolved")
)

// FloodError is a provider-issued throttle signal. RetryAfter is the wait
// the provider demands before the next attempt.
type FloodError struct {
	RetryAfter time.Duration
	Err        error
}

func (e *FloodError) Error() string {
	return fmt.Sprintf("flood wait %s: %v", e.RetryAfter, e.Err)
}

func (e *FloodError) Unwrap() error { return e.Err }

// TransientError marks a failure adapters consider retryable
// (timeouts, connection resets, provider 5xx).
type TransientError struct {
	Err error
}

func (e *TransientError) Error() string { return "transient: " + e.Err.Error() }
func (e *TransientError) Unwrap() error { return e.Err }

// Classify maps an adapter error onto the retry taxonomy.
// Context cancellation is deliberately KindOther: the dispatcher checks
// ctx.Err() itself and must not retry a cancelled send.
func Classify(err error) Kind {
	if err == nil {
		return KindOther
	}
	var fe *FloodError
	if errors.As(err, &fe) {
		return KindThrottled
	}
	if errors.Is(err, ErrPermissionDenied) {
		return KindPermissionDenied
	}
	if errors.Is(err, ErrUnresolvable) {
		return KindUnresolvable
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return KindOther
	}
	var te *TransientError
	if errors.As(err, &te) {
		return KindTransient
	}
	return KindOther
}

// RetryAfter extracts the provider-demanded wait from a throttle error.
func RetryAfter(err error) (time.Duration, bool) {
	var fe *FloodError
	if errors.As(err, &fe) {
		return fe.RetryAfter, true
	}
	return 0, false
}
