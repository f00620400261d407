package supervisor

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"
)

func TestGoRecoversPanic(t *testing.T) {
	s := New(context.Background())
	s.Go("boom", func(ctx context.Context) error {
		panic("kaboom")
	})

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	err := s.Wait(ctx)
	if err == nil {
		t.Fatal("expected panic to surface as error")
	}
}

func TestGoRestartRestartsOnError(t *testing.T) {
	s := New(context.Background())
	var runs atomic.Int32
	done := make(chan struct{})
	s.GoRestart("flaky", func(ctx context.Context) error {
		n := runs.Add(1)
		if n < 3 {
			return errors.New("transient")
		}
		close(done)
		return nil
	}, WithRestartBackoff(time.Millisecond, 5*time.Millisecond))

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatalf("loop did not recover, runs=%d", runs.Load())
	}
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	if err := s.Stop(ctx); err != nil {
		t.Fatalf("Stop: %v", err)
	}
	if got := s.Restarts("flaky"); got != 2 {
		t.Fatalf("Restarts = %d, want 2", got)
	}
}

func TestStopCancelsLoops(t *testing.T) {
	s := New(context.Background())
	s.Go("loop", func(ctx context.Context) error {
		<-ctx.Done()
		return ctx.Err()
	})
	if names := s.Running(); len(names) != 1 || names[0] != "loop" {
		t.Fatalf("Running = %v", names)
	}
	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	if err := s.Stop(ctx); err != nil {
		t.Fatalf("Stop: %v", err)
	}
	if names := s.Running(); len(names) != 0 {
		t.Fatalf("expected no running goroutines, got %v", names)
	}
}

func TestStatusRecordsLastError(t *testing.T) {
	s := New(context.Background())
	var runs atomic.Int32
	s.GoRestart("poller", func(ctx context.Context) error {
		if runs.Add(1) == 1 {
			return errors.New("upstream 503")
		}
		<-ctx.Done()
		return nil
	}, WithRestartBackoff(time.Millisecond, time.Millisecond))

	deadline := time.Now().Add(2 * time.Second)
	for runs.Load() < 2 && time.Now().Before(deadline) {
		time.Sleep(2 * time.Millisecond)
	}
	st := s.Status()
	if len(st) != 1 || !st[0].Running || st[0].Restarts != 1 || st[0].LastErr != "upstream 503" {
		t.Fatalf("Status = %+v", st)
	}
	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	_ = s.Stop(ctx)
}

func TestCancelOnErrorStopsGroup(t *testing.T) {
	s := New(context.Background(), WithCancelOnError(true))
	s.Go("fatal", func(ctx context.Context) error { return errors.New("gateway closed") })
	select {
	case <-s.Context().Done():
	case <-time.After(2 * time.Second):
		t.Fatal("group context not canceled")
	}
	if err := s.Err(); err == nil || err.Error() != "fatal: gateway closed" {
		t.Fatalf("Err = %v", err)
	}
}
