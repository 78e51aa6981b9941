package supervisor

import (
	"context"
	"errors"
	"strings"
	"sync/atomic"
	"testing"
	"time"
)

func waitAll(t *testing.T, s *Supervisor) error {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	return s.Wait(ctx)
}

func TestGoPropagatesFirstErrorAndCancels(t *testing.T) {
	s := NewSupervisor(context.Background(), WithCancelOnError(true))
	boom := errors.New("boom")
	s.Go("worker", func(ctx context.Context) error { return boom })

	if err := waitAll(t, s); !errors.Is(err, boom) {
		t.Fatalf("Wait() = %v, want %v", err, boom)
	}
	select {
	case <-s.Context().Done():
	default:
		t.Fatal("first error must cancel the supervisor context")
	}
}

func TestGoRecoversPanic(t *testing.T) {
	s := NewSupervisor(context.Background())
	s.Go("panicky", func(ctx context.Context) error { panic("kaboom") })

	err := waitAll(t, s)
	if err == nil || !strings.Contains(err.Error(), "kaboom") {
		t.Fatalf("Wait() = %v, want panic error", err)
	}
	snap := s.Snapshot()
	var panics uint64
	for _, g := range snap.Goroutines {
		if g.Name == "panicky" {
			panics = g.Panics
		}
	}
	if panics != 1 {
		t.Fatalf("panics = %d, want 1", panics)
	}
}

func TestGoRestartRetriesUntilCleanExit(t *testing.T) {
	s := NewSupervisor(context.Background())
	var runs int32
	s.GoRestart("flaky", func(ctx context.Context) error {
		if atomic.AddInt32(&runs, 1) < 3 {
			return errors.New("transient")
		}
		return nil
	}, WithRestartBackoff(time.Millisecond, 5*time.Millisecond))

	if err := waitAll(t, s); err != nil {
		t.Fatalf("Wait() = %v, want nil", err)
	}
	if got := atomic.LoadInt32(&runs); got != 3 {
		t.Fatalf("runs = %d, want 3", got)
	}
}

func TestGoRestartPublishesFirstError(t *testing.T) {
	s := NewSupervisor(context.Background())
	var runs int32
	s.GoRestart("flaky", func(ctx context.Context) error {
		if atomic.AddInt32(&runs, 1) == 1 {
			return errors.New("transient")
		}
		return nil
	}, WithPublishFirstError(true), WithRestartBackoff(time.Millisecond, 5*time.Millisecond))

	err := waitAll(t, s)
	if err == nil || !strings.Contains(err.Error(), "transient") {
		t.Fatalf("Wait() = %v, want published first error", err)
	}
}

func TestGoRestartStopsOnCancel(t *testing.T) {
	s := NewSupervisor(context.Background())
	s.GoRestart("looper", func(ctx context.Context) error {
		return errors.New("always failing")
	}, WithRestartBackoff(time.Millisecond, 5*time.Millisecond))

	time.Sleep(20 * time.Millisecond)
	s.Cancel()
	if err := waitAll(t, s); err != nil {
		t.Fatalf("Wait() after cancel = %v, want nil", err)
	}
	if c := s.Counters(); c.Active != 0 {
		t.Fatalf("active = %d after Wait, want 0", c.Active)
	}
}
