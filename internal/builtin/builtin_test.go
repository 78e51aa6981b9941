package builtin

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"schedd/internal/notify"
	"schedd/internal/sched"
	"schedd/pkg/logx"
	"schedd/pkg/webhook"
)

func TestRegisterInstallsCallbacks(t *testing.T) {
	t.Parallel()

	reg := sched.NewRegistry()
	Register(reg, Deps{})

	for _, name := range []string{"console", "telegram"} {
		if _, ok := reg.Notifier(name); !ok {
			t.Fatalf("notifier %q not registered", name)
		}
	}

	actions := []string{
		"hello",
		"fetch_example", "fetchExample",
		"protocol_run", "callJarvisApi",
		"lights_on", "lightsOn",
		"lights_off", "lightsOff",
		"lights_red", "lightsRed",
		"lights_pink", "lightsPink",
		"speedtest",
	}
	for _, name := range actions {
		if _, ok := reg.Action(name); !ok {
			t.Fatalf("action %q not registered", name)
		}
	}

	// 6 base actions + camelCase aliases + 8 colors in both spellings.
	if got := len(reg.ActionNames()); got != 26 {
		t.Fatalf("len(ActionNames()) = %d, want 26", got)
	}
}

func TestHelloAndConsoleAreNoops(t *testing.T) {
	t.Parallel()

	reg := sched.NewRegistry()
	Register(reg, Deps{})

	fn, ok := reg.Action("hello")
	if !ok {
		t.Fatal("hello not registered")
	}
	fn()

	nfn, ok := reg.Notifier("console")
	if !ok {
		t.Fatal("console not registered")
	}
	nfn("ev-1", "standup")
}

func captureProtocol(t *testing.T) (*httptest.Server, <-chan webhook.ProtocolPayload) {
	t.Helper()
	ch := make(chan webhook.ProtocolPayload, 4)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		body, _ := io.ReadAll(r.Body)
		var p webhook.ProtocolPayload
		if err := json.Unmarshal(body, &p); err == nil {
			select {
			case ch <- p:
			default:
			}
		}
		w.WriteHeader(http.StatusOK)
	}))
	t.Cleanup(srv.Close)
	return srv, ch
}

func waitPayload(t *testing.T, ch <-chan webhook.ProtocolPayload) webhook.ProtocolPayload {
	t.Helper()
	select {
	case p := <-ch:
		return p
	case <-time.After(3 * time.Second):
		t.Fatal("timed out waiting for protocol post")
		return webhook.ProtocolPayload{}
	}
}

func TestLightsActionsPostProtocol(t *testing.T) {
	t.Parallel()

	srv, ch := captureProtocol(t)
	reg := sched.NewRegistry()
	Register(reg, Deps{ProtocolURL: srv.URL})

	tests := []struct {
		action   string
		protocol string
		color    string
	}{
		{"lights_on", "lights_on", ""},
		{"lightsOff", "lights_off", ""},
		{"lights_red", "Light Color Control", "red"},
		{"lightsBlue", "Light Color Control", "blue"},
	}
	for _, tt := range tests {
		fn, ok := reg.Action(tt.action)
		if !ok {
			t.Fatalf("action %q not registered", tt.action)
		}
		fn()

		p := waitPayload(t, ch)
		if p.ProtocolName != tt.protocol {
			t.Fatalf("%s: protocol = %q, want %q", tt.action, p.ProtocolName, tt.protocol)
		}
		if tt.color == "" {
			if len(p.Arguments) != 0 {
				t.Fatalf("%s: arguments = %v, want empty", tt.action, p.Arguments)
			}
			continue
		}
		if got := p.Arguments["color"]; got != tt.color {
			t.Fatalf("%s: color = %v, want %q", tt.action, got, tt.color)
		}
	}
}

func TestProtocolRunPostsDefaultProtocol(t *testing.T) {
	t.Parallel()

	srv, ch := captureProtocol(t)
	reg := sched.NewRegistry()
	Register(reg, Deps{ProtocolURL: srv.URL})

	fn, ok := reg.Action("callJarvisApi")
	if !ok {
		t.Fatal("callJarvisApi not registered")
	}
	fn()

	p := waitPayload(t, ch)
	if p.ProtocolName != "Dim All Lights" {
		t.Fatalf("protocol = %q, want %q", p.ProtocolName, "Dim All Lights")
	}
	if p.Arguments == nil {
		t.Fatal("arguments marshalled as null, want {}")
	}
}

// enqueueSink feeds delivered texts to a channel.
type enqueueSink struct{ ch chan string }

func (s *enqueueSink) Name() string { return "test" }

func (s *enqueueSink) Send(_ context.Context, text string, _ notify.Notification) error {
	select {
	case s.ch <- text:
	default:
	}
	return nil
}

func TestTelegramNotifierFeedsPipeline(t *testing.T) {
	t.Parallel()

	sink := &enqueueSink{ch: make(chan string, 1)}
	svc := notify.New(notify.Config{Enabled: true, RatePerSec: 1000}, sink, logx.Nop(), nil, nil)
	svc.Start(context.Background())
	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		svc.Stop(ctx)
	})

	reg := sched.NewRegistry()
	Register(reg, Deps{Notify: svc})

	fn, ok := reg.Notifier("telegram")
	if !ok {
		t.Fatal("telegram not registered")
	}
	fn("ev-9", "dentist appointment")

	select {
	case text := <-sink.ch:
		if text != "dentist appointment" {
			t.Fatalf("delivered %q, want title text", text)
		}
	case <-time.After(3 * time.Second):
		t.Fatal("timed out waiting for delivery")
	}
}

func TestTelegramNotifierWithoutPipeline(t *testing.T) {
	t.Parallel()

	reg := sched.NewRegistry()
	Register(reg, Deps{})

	fn, ok := reg.Notifier("telegram")
	if !ok {
		t.Fatal("telegram not registered")
	}
	// Drops with a warning; must not panic.
	fn("ev-1", "orphan")
}
