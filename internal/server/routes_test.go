package server

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"schedd/internal/sched"
	"schedd/internal/storage"
	"schedd/internal/wake"
	"schedd/pkg/logx"
)

func memStore(t *testing.T) storage.Store {
	t.Helper()
	st, err := storage.Open(storage.Config{Driver: "memory"}, logx.Nop())
	if err != nil {
		t.Fatalf("open memory store: %v", err)
	}
	t.Cleanup(func() { _ = st.Close() })
	return st
}

func postJSON(t *testing.T, h http.Handler, method, path string, body any) *httptest.ResponseRecorder {
	t.Helper()
	b, err := json.Marshal(body)
	if err != nil {
		t.Fatalf("marshal body: %v", err)
	}
	req := httptest.NewRequest(method, path, bytes.NewReader(b))
	req.Header.Set("Content-Type", "application/json")
	rr := httptest.NewRecorder()
	h.ServeHTTP(rr, req)
	return rr
}

func pendingFor(loop *sched.Loop, id string) int {
	n := 0
	for _, p := range loop.Snapshot().Pending {
		if p.TaskID == id {
			n++
		}
	}
	return n
}

func TestEventCreateAdmitsSchedulerTask(t *testing.T) {
	t.Parallel()
	store := memStore(t)
	loop := sched.New(sched.Config{}, sched.NewRegistry(), nil, logx.Nop())
	s := newTestService(t, Config{Enabled: true}, Deps{Store: store, Loop: loop})
	h := s.router(s.cfg)

	fireAt := time.Now().Add(2 * time.Hour).UTC()
	rr := postJSON(t, h, http.MethodPost, "/events", map[string]any{
		"id":       "evt_test",
		"title":    "dentist",
		"category": "task",
		"time":     fireAt.Format(layoutDateTime),
		"duration": 1800,
		"notifier": "console",
	})
	if rr.Code != http.StatusCreated {
		t.Fatalf("status %d, want 201 (body %s)", rr.Code, rr.Body.String())
	}

	ev, ok, err := store.GetEvent(context.Background(), "evt_test")
	if err != nil || !ok {
		t.Fatalf("stored event missing: ok=%v err=%v", ok, err)
	}
	if ev.Title != "dentist" || ev.Duration != 30*time.Minute {
		t.Fatalf("stored event = %+v", ev)
	}

	// Far-future task: one notify firing plus the action firing.
	if n := pendingFor(loop, "evt_test"); n != 2 {
		t.Fatalf("pending firings = %d, want 2", n)
	}

	rr = doReq(t, h, http.MethodDelete, "/events/evt_test", nil)
	if rr.Code != http.StatusOK {
		t.Fatalf("delete status %d, want 200", rr.Code)
	}
	if n := pendingFor(loop, "evt_test"); n != 0 {
		t.Fatalf("pending firings after delete = %d, want 0", n)
	}
	if _, ok, _ := store.GetEvent(context.Background(), "evt_test"); ok {
		t.Fatal("event still stored after delete")
	}
}

func TestEventCreateRejectsBadPayload(t *testing.T) {
	t.Parallel()
	s := newTestService(t, Config{Enabled: true}, Deps{Store: memStore(t)})
	h := s.router(s.cfg)

	cases := []map[string]any{
		{"time": "2030-01-01 10:00"},                     // no title
		{"title": "x"},                                   // no time
		{"title": "x", "time": "not a time"},             // bad time
		{"title": "x", "time": "2030-01-01 10:00", "duration": -5},
	}
	for i, body := range cases {
		if rr := postJSON(t, h, http.MethodPost, "/events", body); rr.Code != http.StatusBadRequest {
			t.Fatalf("case %d: status %d, want 400", i, rr.Code)
		}
	}
}

func TestTasksDirectAdmissionAndCancel(t *testing.T) {
	t.Parallel()
	store := memStore(t)
	loop := sched.New(sched.Config{}, sched.NewRegistry(), nil, logx.Nop())
	s := newTestService(t, Config{Enabled: true}, Deps{Store: store, Loop: loop})
	h := s.router(s.cfg)

	fireAt := time.Now().Add(time.Hour).UTC()
	rr := postJSON(t, h, http.MethodPost, "/tasks", map[string]any{
		"id":     "tsk_1",
		"title":  "water plants",
		"time":   fireAt.Format(layoutDateTime),
		"action": "hello",
	})
	if rr.Code != http.StatusCreated {
		t.Fatalf("status %d, want 201 (body %s)", rr.Code, rr.Body.String())
	}

	// Persisted by default when storage is up, so a restart rehydrates it.
	if _, ok, _ := store.GetEvent(context.Background(), "tsk_1"); !ok {
		t.Fatal("task event not persisted")
	}

	rr = doReq(t, h, http.MethodGet, "/tasks", nil)
	if rr.Code != http.StatusOK {
		t.Fatalf("list status %d, want 200", rr.Code)
	}
	var listEnv struct {
		Data struct {
			Pending []struct {
				TaskID string `json:"task_id"`
			} `json:"pending"`
		} `json:"data"`
	}
	if err := json.Unmarshal(rr.Body.Bytes(), &listEnv); err != nil {
		t.Fatalf("decode list: %v", err)
	}
	found := 0
	for _, p := range listEnv.Data.Pending {
		if p.TaskID == "tsk_1" {
			found++
		}
	}
	if found == 0 {
		t.Fatalf("task missing from pending list: %s", rr.Body.String())
	}

	rr = doReq(t, h, http.MethodDelete, "/tasks/tsk_1", nil)
	if rr.Code != http.StatusOK {
		t.Fatalf("cancel status %d, want 200", rr.Code)
	}
	if n := pendingFor(loop, "tsk_1"); n != 0 {
		t.Fatalf("pending firings after cancel = %d, want 0", n)
	}

	// Cancelling again (or an unknown id) still succeeds.
	if rr = doReq(t, h, http.MethodDelete, "/tasks/tsk_1", nil); rr.Code != http.StatusOK {
		t.Fatalf("repeat cancel status %d, want 200", rr.Code)
	}
}

func TestTaskPastTimeRejected(t *testing.T) {
	t.Parallel()
	loop := sched.New(sched.Config{}, sched.NewRegistry(), nil, logx.Nop())
	s := newTestService(t, Config{Enabled: true}, Deps{Loop: loop})
	h := s.router(s.cfg)

	rr := postJSON(t, h, http.MethodPost, "/tasks", map[string]any{
		"title": "too late",
		"time":  time.Now().Add(-time.Hour).UTC().Format(layoutDateTime),
	})
	if rr.Code != http.StatusBadRequest {
		t.Fatalf("status %d, want 400", rr.Code)
	}
}

func TestWakeURLAdminGate(t *testing.T) {
	t.Parallel()
	store := memStore(t)
	loop := sched.New(sched.Config{}, sched.NewRegistry(), nil, logx.Nop())
	ws := wake.New(wake.Config{Enabled: true, Timezone: "UTC"}, store, loop, nil, logx.Nop())
	s := newTestService(t, Config{Enabled: true, AdminAPIKey: "admin-key"}, Deps{Store: store, Loop: loop, Wake: ws})
	h := s.router(s.cfg)

	rr := postJSON(t, h, http.MethodPut, "/wake/url", map[string]string{"url": "https://wake.local/run"})
	if rr.Code != http.StatusUnauthorized {
		t.Fatalf("without admin key: status %d, want 401", rr.Code)
	}

	req := httptest.NewRequest(http.MethodPut, "/wake/url", bytes.NewReader([]byte(`{"url":"https://wake.local/run"}`)))
	req.Header.Set("X-API-Key", "admin-key")
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	if rec.Code != http.StatusOK {
		t.Fatalf("with admin key: status %d, want 200 (body %s)", rec.Code, rec.Body.String())
	}

	v, ok, err := store.GetString(context.Background(), wake.SettingsKeyServerURL)
	if err != nil || !ok || v != "https://wake.local/run" {
		t.Fatalf("settings key = %q ok=%v err=%v", v, ok, err)
	}

	// Status is readable without the admin key.
	if rr = doReq(t, h, http.MethodGet, "/wake", nil); rr.Code != http.StatusOK {
		t.Fatalf("wake status: %d, want 200", rr.Code)
	}
}

func TestWakeURLRejectsRelative(t *testing.T) {
	t.Parallel()
	store := memStore(t)
	loop := sched.New(sched.Config{}, sched.NewRegistry(), nil, logx.Nop())
	ws := wake.New(wake.Config{Enabled: true, Timezone: "UTC"}, store, loop, nil, logx.Nop())
	s := newTestService(t, Config{Enabled: true}, Deps{Store: store, Loop: loop, Wake: ws})
	h := s.router(s.cfg)

	for i, bad := range []string{"not-a-url", "ftp://x/y", "//missing-scheme"} {
		rr := postJSON(t, h, http.MethodPut, "/wake/url", map[string]string{"url": bad})
		if rr.Code != http.StatusBadRequest {
			t.Fatalf("case %d (%q): status %d, want 400", i, bad, rr.Code)
		}
	}
}

func TestHealthReportsScheduler(t *testing.T) {
	t.Parallel()
	loop := sched.New(sched.Config{}, sched.NewRegistry(), nil, logx.Nop())
	loop.Start(context.Background())
	t.Cleanup(loop.Stop)

	s := newTestService(t, Config{Enabled: true}, Deps{Loop: loop, Store: memStore(t)})
	h := s.router(s.cfg)

	rr := doReq(t, h, http.MethodGet, "/health", nil)
	if rr.Code != http.StatusOK {
		t.Fatalf("status %d, want 200", rr.Code)
	}
	env := decodeEnvelope(t, rr)
	data, _ := env["data"].(map[string]any)
	if data == nil || data["scheduler_running"] != true || data["storage"] != true {
		t.Fatalf("health data = %v", env)
	}
}

func TestRangeEndpointsRoundTrip(t *testing.T) {
	t.Parallel()
	store := memStore(t)
	s := newTestService(t, Config{Enabled: true}, Deps{Store: store})
	h := s.router(s.cfg)

	base := time.Date(2030, 3, 10, 9, 0, 0, 0, time.UTC)
	for i := 0; i < 3; i++ {
		ev := storage.Event{
			ID:    fmt.Sprintf("evt_%d", i),
			Title: fmt.Sprintf("meeting %d", i),
			Time:  base.Add(time.Duration(i) * 24 * time.Hour),
		}
		if err := store.CreateEvent(context.Background(), ev); err != nil {
			t.Fatalf("CreateEvent %d: %v", i, err)
		}
	}

	rr := doReq(t, h, http.MethodGet, "/events/day/2030-03-10", nil)
	if rr.Code != http.StatusOK {
		t.Fatalf("day status %d, want 200", rr.Code)
	}
	var dayEnv struct {
		Data []map[string]any `json:"data"`
	}
	if err := json.Unmarshal(rr.Body.Bytes(), &dayEnv); err != nil {
		t.Fatalf("decode day: %v", err)
	}
	if len(dayEnv.Data) != 1 {
		t.Fatalf("day events = %d, want 1", len(dayEnv.Data))
	}

	rr = doReq(t, h, http.MethodGet, "/events/range/2030-03-10/2030-03-11", nil)
	if rr.Code != http.StatusOK {
		t.Fatalf("range status %d, want 200", rr.Code)
	}
	var rangeEnv struct {
		Data []map[string]any `json:"data"`
	}
	if err := json.Unmarshal(rr.Body.Bytes(), &rangeEnv); err != nil {
		t.Fatalf("decode range: %v", err)
	}
	// Day-form end is inclusive: both the 10th and the 11th.
	if len(rangeEnv.Data) != 2 {
		t.Fatalf("range events = %d, want 2", len(rangeEnv.Data))
	}
}
