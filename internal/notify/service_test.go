package notify

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	logx "schedd/pkg/logx"
)

// fakeSink records sends and can fail the first N attempts or hold
// deliveries until released.
type fakeSink struct {
	mu    sync.Mutex
	sent  []string
	fails int

	gate chan struct{} // when non-nil, Send blocks until closed
	ch   chan string   // when non-nil, receives each delivered text
}

func (f *fakeSink) Name() string { return "fake" }

func (f *fakeSink) Send(ctx context.Context, text string, _ Notification) error {
	if f.gate != nil {
		select {
		case <-f.gate:
		case <-ctx.Done():
			return ctx.Err()
		}
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.fails > 0 {
		f.fails--
		return errors.New("sink down")
	}
	f.sent = append(f.sent, text)
	if f.ch != nil {
		select {
		case f.ch <- text:
		default:
		}
	}
	return nil
}

func (f *fakeSink) delivered() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.sent...)
}

func waitText(t *testing.T, ch <-chan string) string {
	t.Helper()
	select {
	case text := <-ch:
		return text
	case <-time.After(3 * time.Second):
		t.Fatal("timed out waiting for delivery")
		return ""
	}
}

func startService(t *testing.T, cfg Config, sink Sink) *Service {
	t.Helper()
	cfg.Enabled = true
	if cfg.RatePerSec == 0 {
		cfg.RatePerSec = 1000
	}
	s := New(cfg, sink, logx.Nop(), nil, nil)
	s.Start(context.Background())
	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		s.Stop(ctx)
	})
	return s
}

func TestNotifyDeliversThroughSink(t *testing.T) {
	t.Parallel()
	sink := &fakeSink{ch: make(chan string, 8)}
	s := startService(t, Config{}, sink)

	err := s.Notify(context.Background(), Notification{TaskID: "evt_1", Title: "standup", Text: "standup in 10 minutes"})
	if err != nil {
		t.Fatalf("Notify error: %v", err)
	}
	if got := waitText(t, sink.ch); got != "standup in 10 minutes" {
		t.Fatalf("delivered %q", got)
	}

	hist := s.History()
	if len(hist) != 1 || hist[0].TaskID != "evt_1" {
		t.Fatalf("history = %+v", hist)
	}
}

func TestNotifyPriorityPrefix(t *testing.T) {
	t.Parallel()
	sink := &fakeSink{ch: make(chan string, 8)}
	s := startService(t, Config{}, sink)

	if err := s.Notify(context.Background(), Notification{TaskID: "evt_2", Text: "wake now", Priority: 9}); err != nil {
		t.Fatalf("Notify error: %v", err)
	}
	got := waitText(t, sink.ch)
	if !strings.HasSuffix(got, "wake now") || got == "wake now" {
		t.Fatalf("delivered %q, want a priority prefix", got)
	}
}

func TestNotifyDisabled(t *testing.T) {
	t.Parallel()
	s := New(Config{Enabled: false}, &fakeSink{}, logx.Nop(), nil, nil)
	if err := s.Notify(context.Background(), Notification{Text: "x"}); !errors.Is(err, ErrDisabled) {
		t.Fatalf("err = %v, want ErrDisabled", err)
	}
}

func TestNotifyBeforeStart(t *testing.T) {
	t.Parallel()
	s := New(Config{Enabled: true}, &fakeSink{}, logx.Nop(), nil, nil)
	if err := s.Notify(context.Background(), Notification{Text: "x"}); !errors.Is(err, ErrStopped) {
		t.Fatalf("err = %v, want ErrStopped", err)
	}
}

func TestNotifyDedupWithinWindow(t *testing.T) {
	t.Parallel()
	sink := &fakeSink{ch: make(chan string, 8)}
	s := startService(t, Config{DedupWindow: time.Minute}, sink)

	n := Notification{TaskID: "evt_3", Text: "same text"}
	if err := s.Notify(context.Background(), n); err != nil {
		t.Fatalf("first Notify error: %v", err)
	}
	waitText(t, sink.ch)

	// Identical notification inside the window: silently suppressed.
	if err := s.Notify(context.Background(), n); err != nil {
		t.Fatalf("second Notify error: %v", err)
	}
	time.Sleep(100 * time.Millisecond)
	if got := sink.delivered(); len(got) != 1 {
		t.Fatalf("delivered %d times, want 1: %v", len(got), got)
	}

	// Different text is a different key.
	if err := s.Notify(context.Background(), Notification{TaskID: "evt_3", Text: "other text"}); err != nil {
		t.Fatalf("third Notify error: %v", err)
	}
	waitText(t, sink.ch)
}

func TestNotifyRetriesUntilSuccess(t *testing.T) {
	t.Parallel()
	sink := &fakeSink{ch: make(chan string, 8), fails: 2}
	s := startService(t, Config{RetryMax: 3, RetryBase: time.Millisecond, RetryMaxDelay: 5 * time.Millisecond}, sink)

	if err := s.Notify(context.Background(), Notification{TaskID: "evt_4", Text: "flaky"}); err != nil {
		t.Fatalf("Notify error: %v", err)
	}
	if got := waitText(t, sink.ch); got != "flaky" {
		t.Fatalf("delivered %q", got)
	}
}

func TestNotifyQueueFull(t *testing.T) {
	t.Parallel()
	gate := make(chan struct{})
	sink := &fakeSink{gate: gate}
	s := startService(t, Config{Workers: 1, QueueSize: 1}, sink)

	// First notification occupies the worker (blocked on the gate), second
	// fills the queue, third must be rejected.
	if err := s.Notify(context.Background(), Notification{TaskID: "a", Text: "a"}); err != nil {
		t.Fatalf("first Notify error: %v", err)
	}
	deadline := time.Now().Add(2 * time.Second)
	for {
		err := s.Notify(context.Background(), Notification{TaskID: "b", Text: "b"})
		if err == nil {
			break
		}
		if time.Now().After(deadline) {
			t.Fatalf("queue never accepted the second notification: %v", err)
		}
		time.Sleep(5 * time.Millisecond)
	}
	if err := s.Notify(context.Background(), Notification{TaskID: "c", Text: "c"}); !errors.Is(err, ErrQueueFull) {
		t.Fatalf("err = %v, want ErrQueueFull", err)
	}
	close(gate)
}

func TestStopDrainsQueue(t *testing.T) {
	t.Parallel()
	sink := &fakeSink{}
	s := startService(t, Config{Workers: 2, QueueSize: 64}, sink)

	for i := 0; i < 10; i++ {
		if err := s.Notify(context.Background(), Notification{TaskID: "evt", Text: "drain me"}); err != nil {
			t.Fatalf("Notify %d error: %v", i, err)
		}
	}

	ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
	defer cancel()
	s.Stop(ctx)

	if got := sink.delivered(); len(got) != 10 {
		t.Fatalf("delivered %d, want 10 after drain", len(got))
	}
	if err := s.Notify(context.Background(), Notification{Text: "late"}); !errors.Is(err, ErrStopped) {
		t.Fatalf("post-stop err = %v, want ErrStopped", err)
	}
}
