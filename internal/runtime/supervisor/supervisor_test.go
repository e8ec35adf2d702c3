package supervisor

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"
)

func waitCtx(t *testing.T) context.Context {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	t.Cleanup(cancel)
	return ctx
}

func TestGoRecordsFirstError(t *testing.T) {
	t.Parallel()
	s := New(context.Background(), WithCancelOnError(true))

	boom := errors.New("boom")
	s.Go("worker", func(ctx context.Context) error { return boom })
	s.Go("bystander", func(ctx context.Context) error {
		<-ctx.Done()
		return ctx.Err()
	})

	if err := s.Wait(waitCtx(t)); !errors.Is(err, boom) {
		t.Fatalf("Wait = %v, want %v", err, boom)
	}
}

func TestGoRecoversPanic(t *testing.T) {
	t.Parallel()
	s := New(context.Background(), WithCancelOnError(true))

	s.Go("panicky", func(ctx context.Context) error { panic("oops") })

	err := s.Wait(waitCtx(t))
	if err == nil {
		t.Fatal("expected panic to surface as supervisor error")
	}
}

func TestGoRestartRetriesUntilCleanExit(t *testing.T) {
	t.Parallel()
	s := New(context.Background())

	var runs atomic.Int32
	s.GoRestart("flaky", func(ctx context.Context) error {
		if runs.Add(1) < 3 {
			return errors.New("transient")
		}
		return nil
	}, time.Millisecond, 5*time.Millisecond)

	if err := s.Wait(waitCtx(t)); err != nil {
		t.Fatalf("Wait = %v, want clean stop after recovery", err)
	}
	if got := runs.Load(); got != 3 {
		t.Fatalf("runs = %d, want 3 (two restarts then clean exit)", got)
	}
}

func TestGoRestartRecoversPanic(t *testing.T) {
	t.Parallel()
	s := New(context.Background())

	var runs atomic.Int32
	s.GoRestart("panicky", func(ctx context.Context) error {
		if runs.Add(1) == 1 {
			panic("first run")
		}
		return nil
	}, time.Millisecond, 5*time.Millisecond)

	if err := s.Wait(waitCtx(t)); err != nil {
		t.Fatalf("Wait = %v, want panic absorbed by restart", err)
	}
	if got := runs.Load(); got != 2 {
		t.Fatalf("runs = %d, want 2", got)
	}
}

func TestGoRestartStopsOnCancel(t *testing.T) {
	t.Parallel()
	s := New(context.Background())

	started := make(chan struct{})
	var once atomic.Bool
	s.GoRestart("loop", func(ctx context.Context) error {
		if once.CompareAndSwap(false, true) {
			close(started)
		}
		<-ctx.Done()
		return ctx.Err()
	}, time.Millisecond, 5*time.Millisecond)

	<-started
	if err := s.Stop(waitCtx(t)); err != nil {
		t.Fatalf("Stop = %v, want nil (cancellation is a clean exit)", err)
	}
}

func TestGoRestartTreatsCanceledErrorAsClean(t *testing.T) {
	t.Parallel()
	s := New(context.Background())

	// A loop that reports context.Canceled on its own must not be
	// restarted or counted as a failure.
	var runs atomic.Int32
	s.GoRestart("self-cancel", func(ctx context.Context) error {
		runs.Add(1)
		return context.Canceled
	}, time.Millisecond, 5*time.Millisecond)

	if err := s.Wait(waitCtx(t)); err != nil {
		t.Fatalf("Wait = %v, want nil", err)
	}
	if got := runs.Load(); got != 1 {
		t.Fatalf("runs = %d, want 1", got)
	}
}
