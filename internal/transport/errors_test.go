package transport

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"
)

func TestClassify(t *testing.T) {
	t.Parallel()
	tests := []struct {
		name string
		err  error
		want Kind
	}{
		{"nil", nil, KindOther},
		{"flood", &FloodError{RetryAfter: 5 * time.Second, Err: errors.New("429")}, KindThrottled},
		{"wrapped flood", fmt.Errorf("send: %w", &FloodError{RetryAfter: time.Second}), KindThrottled},
		{"permission", ErrPermissionDenied, KindPermissionDenied},
		{"wrapped permission", fmt.Errorf("copy: %w", ErrPermissionDenied), KindPermissionDenied},
		{"unresolvable", ErrUnresolvable, KindUnresolvable},
		{"transient", &TransientError{Err: errors.New("i/o timeout")}, KindTransient},
		{"cancelled", context.Canceled, KindOther},
		{"deadline", context.DeadlineExceeded, KindOther},
		{"plain", errors.New("boom"), KindOther},
	}
	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			if got := Classify(tt.err); got != tt.want {
				t.Fatalf("Classify(%v) = %v, want %v", tt.err, got, tt.want)
			}
		})
	}
}

func TestRetryAfter(t *testing.T) {
	t.Parallel()
	d, ok := RetryAfter(fmt.Errorf("x: %w", &FloodError{RetryAfter: 7 * time.Second}))
	if !ok || d != 7*time.Second {
		t.Fatalf("RetryAfter = (%v, %v), want (7s, true)", d, ok)
	}
	if _, ok := RetryAfter(errors.New("plain")); ok {
		t.Fatal("RetryAfter on plain error should report false")
	}
}
