package supervisor

import (
	"context"
	"errors"
	"strings"
	"sync/atomic"
	"testing"
	"time"
)

func waitCtx(t *testing.T) context.Context {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
	t.Cleanup(cancel)
	return ctx
}

func TestCancelOnError(t *testing.T) {
	t.Parallel()
	s := New(context.Background(), WithCancelOnError(true))
	s.Go0("blocker", func(ctx context.Context) { <-ctx.Done() })
	s.Go("failer", func(context.Context) error { return errors.New("boom") })

	err := s.Wait(waitCtx(t))
	if err == nil || !strings.Contains(err.Error(), "failer: boom") {
		t.Fatalf("Wait = %v", err)
	}
	if s.Context().Err() == nil {
		t.Fatal("context not cancelled")
	}
}

func TestPanicIsRecovered(t *testing.T) {
	t.Parallel()
	s := New(context.Background())
	s.Go0("panicker", func(context.Context) { panic("bad") })
	if err := s.Wait(waitCtx(t)); err == nil || !strings.Contains(err.Error(), "panic in panicker") {
		t.Fatalf("Wait = %v", err)
	}
	// Without WithCancelOnError the context stays live.
	if s.Context().Err() != nil {
		t.Fatal("context cancelled")
	}
	s.Cancel()
}

func TestGoRestart(t *testing.T) {
	t.Parallel()
	s := New(context.Background())
	var runs atomic.Int32
	s.GoRestart("flaky", func(ctx context.Context) error {
		if runs.Add(1) < 3 {
			return errors.New("transient")
		}
		return nil
	}, WithRestartBackoff(time.Millisecond, 5*time.Millisecond))

	if err := s.Wait(waitCtx(t)); err != nil {
		t.Fatalf("Wait = %v", err)
	}
	if n := runs.Load(); n != 3 {
		t.Fatalf("runs = %d, want 3", n)
	}
	if c := s.Counters(); c.Active != 0 || c.Started == 0 {
		t.Fatalf("counters = %+v", c)
	}
}

func TestStopWaitsForGoroutines(t *testing.T) {
	t.Parallel()
	s := New(context.Background())
	var stopped atomic.Bool
	s.Go0("loop", func(ctx context.Context) {
		<-ctx.Done()
		stopped.Store(true)
	})
	if err := s.Stop(waitCtx(t)); err != nil {
		t.Fatalf("Stop = %v", err)
	}
	if !stopped.Load() {
		t.Fatal("goroutine still running")
	}
}
