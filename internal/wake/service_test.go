package wake

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"schedd/internal/sched"
	"schedd/internal/storage"
	logx "schedd/pkg/logx"
	"schedd/pkg/webhook"
)

func newTestLoop(t *testing.T) *sched.Loop {
	t.Helper()
	return sched.New(sched.Config{}, sched.NewRegistry(), nil, logx.Nop())
}

func memStore(t *testing.T) storage.Store {
	t.Helper()
	st, err := storage.Open(storage.Config{Driver: "memory"}, logx.Nop())
	if err != nil {
		t.Fatalf("open memory store: %v", err)
	}
	t.Cleanup(func() { _ = st.Close() })
	return st
}

func pendingByCategory(loop *sched.Loop, cat sched.Category) []sched.PendingFiring {
	var out []sched.PendingFiring
	for _, p := range loop.Snapshot().Pending {
		if p.Category == cat {
			out = append(out, p)
		}
	}
	return out
}

func TestScheduleTodayDefaultClock(t *testing.T) {
	t.Parallel()
	loop := newTestLoop(t)
	s := New(Config{Enabled: true, DefaultTime: "07:00", Timezone: "UTC"}, memStore(t), loop, nil, logx.Nop())
	s.now = func() time.Time { return time.Date(2026, 6, 10, 5, 0, 0, 0, time.UTC) }

	at, err := s.ScheduleToday(context.Background())
	if err != nil {
		t.Fatalf("ScheduleToday error: %v", err)
	}
	want := time.Date(2026, 6, 10, 7, 0, 0, 0, time.UTC)
	if !at.Equal(want) {
		t.Fatalf("wake at %v, want %v", at, want)
	}

	wakes := pendingByCategory(loop, sched.CategoryWake)
	if len(wakes) != 1 {
		t.Fatalf("pending wake firings = %d, want 1", len(wakes))
	}
	if wakes[0].TaskID != "wake-2026-06-10" || !wakes[0].Due.Equal(want) {
		t.Fatalf("unexpected wake firing: %+v", wakes[0])
	}

	st := s.Status()
	if !st.Scheduled || !st.NextWake.Equal(want) {
		t.Fatalf("unexpected status: %+v", st)
	}
}

func TestScheduleTodayPulledEarlierByEvent(t *testing.T) {
	t.Parallel()
	loop := newTestLoop(t)
	store := memStore(t)
	now := time.Date(2026, 6, 10, 5, 0, 0, 0, time.UTC)
	ev := storage.Event{
		ID:       "evt_early",
		Title:    "flight",
		Category: "task",
		Time:     time.Date(2026, 6, 10, 6, 30, 0, 0, time.UTC),
	}
	if err := store.CreateEvent(context.Background(), ev); err != nil {
		t.Fatalf("CreateEvent: %v", err)
	}

	s := New(Config{Enabled: true, DefaultTime: "07:00", Lead: 30 * time.Minute, Timezone: "UTC"}, store, loop, nil, logx.Nop())
	s.now = func() time.Time { return now }

	at, err := s.ScheduleToday(context.Background())
	if err != nil {
		t.Fatalf("ScheduleToday error: %v", err)
	}
	want := time.Date(2026, 6, 10, 6, 0, 0, 0, time.UTC)
	if !at.Equal(want) {
		t.Fatalf("wake at %v, want event start minus lead %v", at, want)
	}
}

func TestScheduleTodayIgnoresLaterEvents(t *testing.T) {
	t.Parallel()
	loop := newTestLoop(t)
	store := memStore(t)
	ev := storage.Event{
		ID:    "evt_late",
		Title: "afternoon meeting",
		Time:  time.Date(2026, 6, 10, 14, 0, 0, 0, time.UTC),
	}
	if err := store.CreateEvent(context.Background(), ev); err != nil {
		t.Fatalf("CreateEvent: %v", err)
	}

	s := New(Config{Enabled: true, DefaultTime: "07:00", Timezone: "UTC"}, store, loop, nil, logx.Nop())
	s.now = func() time.Time { return time.Date(2026, 6, 10, 5, 0, 0, 0, time.UTC) }

	at, err := s.ScheduleToday(context.Background())
	if err != nil {
		t.Fatalf("ScheduleToday error: %v", err)
	}
	if at.Hour() != 7 {
		t.Fatalf("wake at %v, want default clock", at)
	}
}

func TestScheduleTodaySkipsPastInstant(t *testing.T) {
	t.Parallel()
	loop := newTestLoop(t)
	s := New(Config{Enabled: true, DefaultTime: "07:00", Timezone: "UTC"}, memStore(t), loop, nil, logx.Nop())
	s.now = func() time.Time { return time.Date(2026, 6, 10, 8, 0, 0, 0, time.UTC) }

	at, err := s.ScheduleToday(context.Background())
	if err != nil {
		t.Fatalf("ScheduleToday error: %v", err)
	}
	if !at.IsZero() {
		t.Fatalf("wake at %v, want zero (skipped)", at)
	}
	if n := len(pendingByCategory(loop, sched.CategoryWake)); n != 0 {
		t.Fatalf("pending wake firings = %d, want 0", n)
	}
}

func TestScheduleTodayDisabled(t *testing.T) {
	t.Parallel()
	loop := newTestLoop(t)
	s := New(Config{Enabled: false}, memStore(t), loop, nil, logx.Nop())

	at, err := s.ScheduleToday(context.Background())
	if err != nil {
		t.Fatalf("ScheduleToday error: %v", err)
	}
	if !at.IsZero() {
		t.Fatalf("wake at %v, want zero when disabled", at)
	}
}

// failingStore errors on every query; settings writes are swallowed.
type failingStore struct{}

func (failingStore) CreateEvent(context.Context, storage.Event) error { return errors.New("down") }
func (failingStore) GetEvent(context.Context, string) (storage.Event, bool, error) {
	return storage.Event{}, false, errors.New("down")
}
func (failingStore) UpdateEvent(context.Context, storage.Event) error { return errors.New("down") }
func (failingStore) DeleteEvent(context.Context, string) error        { return errors.New("down") }
func (failingStore) ListEvents(context.Context, int, time.Time) ([]storage.Event, error) {
	return nil, errors.New("down")
}
func (failingStore) ListEventsBetween(context.Context, time.Time, time.Time) ([]storage.Event, error) {
	return nil, errors.New("down")
}
func (failingStore) GetString(context.Context, string) (string, bool, error) {
	return "", false, errors.New("down")
}
func (failingStore) SetString(context.Context, string, string) error { return nil }
func (failingStore) PutDedup(context.Context, string, time.Time) error {
	return errors.New("down")
}
func (failingStore) GetDedup(context.Context, string) (time.Time, bool, error) {
	return time.Time{}, false, errors.New("down")
}
func (failingStore) Close() error { return nil }

func TestScheduleTodayStoreErrorFallsBack(t *testing.T) {
	t.Parallel()
	loop := newTestLoop(t)
	s := New(Config{Enabled: true, DefaultTime: "07:00", Timezone: "UTC"}, failingStore{}, loop, nil, logx.Nop())
	s.now = func() time.Time { return time.Date(2026, 6, 10, 5, 0, 0, 0, time.UTC) }

	at, err := s.ScheduleToday(context.Background())
	if err != nil {
		t.Fatalf("ScheduleToday error: %v", err)
	}
	if at.Hour() != 7 || at.Minute() != 0 {
		t.Fatalf("wake at %v, want default clock despite store failure", at)
	}
}

func TestScheduleTodayReplacesPrevious(t *testing.T) {
	t.Parallel()
	loop := newTestLoop(t)
	s := New(Config{Enabled: true, DefaultTime: "07:00", Timezone: "UTC"}, memStore(t), loop, nil, logx.Nop())
	s.now = func() time.Time { return time.Date(2026, 6, 10, 5, 0, 0, 0, time.UTC) }

	for i := 0; i < 3; i++ {
		if _, err := s.ScheduleToday(context.Background()); err != nil {
			t.Fatalf("ScheduleToday %d error: %v", i, err)
		}
	}
	if n := len(pendingByCategory(loop, sched.CategoryWake)); n != 1 {
		t.Fatalf("pending wake firings = %d, want exactly 1 after rescheduling", n)
	}
}

func TestScheduleDailyMaintenanceSingleLive(t *testing.T) {
	t.Parallel()
	loop := newTestLoop(t)
	s := New(Config{Enabled: true, Timezone: "UTC"}, memStore(t), loop, nil, logx.Nop())
	now := time.Date(2026, 6, 10, 22, 30, 0, 0, time.UTC)
	s.now = func() time.Time { return now }

	for i := 0; i < 3; i++ {
		if err := s.ScheduleDailyMaintenance(); err != nil {
			t.Fatalf("ScheduleDailyMaintenance %d error: %v", i, err)
		}
	}

	maint := pendingByCategory(loop, sched.CategoryMaintenance)
	if len(maint) != 1 {
		t.Fatalf("pending maintenance firings = %d, want 1", len(maint))
	}
	want := time.Date(2026, 6, 11, 0, 0, 0, 0, time.UTC)
	if !maint[0].Due.Equal(want) {
		t.Fatalf("maintenance due %v, want next midnight %v", maint[0].Due, want)
	}
}

func TestMidnightScheduleNormalizes(t *testing.T) {
	t.Parallel()
	sh := midnightSchedule{loc: time.UTC}

	got := sh.Next(time.Date(2026, 1, 31, 23, 59, 0, 0, time.UTC))
	if !got.Equal(time.Date(2026, 2, 1, 0, 0, 0, 0, time.UTC)) {
		t.Fatalf("Next across month end = %v", got)
	}

	got = sh.Next(time.Date(2026, 12, 31, 12, 0, 0, 0, time.UTC))
	if !got.Equal(time.Date(2027, 1, 1, 0, 0, 0, 0, time.UTC)) {
		t.Fatalf("Next across year end = %v", got)
	}

	// Exactly midnight advances a full day, never returns its input.
	at := time.Date(2026, 6, 10, 0, 0, 0, 0, time.UTC)
	if got = sh.Next(at); !got.Equal(at.AddDate(0, 0, 1)) {
		t.Fatalf("Next at midnight = %v", got)
	}
}

func TestWakeActionPostsToConfiguredURL(t *testing.T) {
	t.Parallel()
	var got map[string]any
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if err := json.NewDecoder(r.Body).Decode(&got); err != nil {
			t.Errorf("decode body: %v", err)
		}
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	loop := newTestLoop(t)
	store := memStore(t)
	if err := store.SetString(context.Background(), SettingsKeyServerURL, srv.URL); err != nil {
		t.Fatalf("SetString: %v", err)
	}
	_ = New(Config{Enabled: true, Timezone: "UTC"}, store, loop, webhook.New(), logx.Nop())

	fn, ok := loop.Registry().Action(ActionWake)
	if !ok {
		t.Fatal("wake action not registered")
	}
	fn()

	if got["event"] != "wake" {
		t.Fatalf("payload = %v, want event=wake", got)
	}
}

func TestWakeActionNoURLIsNoop(t *testing.T) {
	t.Parallel()
	loop := newTestLoop(t)
	_ = New(Config{Enabled: true, Timezone: "UTC"}, memStore(t), loop, webhook.New(), logx.Nop())

	fn, ok := loop.Registry().Action(ActionWake)
	if !ok {
		t.Fatal("wake action not registered")
	}
	fn() // must not panic or post anywhere
}

func TestMaintenanceActionSchedulesNextDay(t *testing.T) {
	t.Parallel()
	loop := newTestLoop(t)
	s := New(Config{Enabled: true, DefaultTime: "07:00", Timezone: "UTC"}, memStore(t), loop, nil, logx.Nop())

	// Pretend the maintenance firing just ran at midnight.
	s.now = func() time.Time { return time.Date(2026, 6, 11, 0, 0, 0, 500, time.UTC) }
	fn, ok := loop.Registry().Action(ActionMaintenance)
	if !ok {
		t.Fatal("maintenance action not registered")
	}
	fn()

	wakes := pendingByCategory(loop, sched.CategoryWake)
	if len(wakes) != 1 {
		t.Fatalf("pending wake firings = %d, want 1", len(wakes))
	}
	want := time.Date(2026, 6, 11, 7, 0, 0, 0, time.UTC)
	if !wakes[0].Due.Equal(want) {
		t.Fatalf("wake due %v, want %v", wakes[0].Due, want)
	}
}

func TestApplyReschedulesWhenPolicyChanges(t *testing.T) {
	t.Parallel()
	loop := newTestLoop(t)
	s := New(Config{Enabled: true, DefaultTime: "07:00", Timezone: "UTC"}, memStore(t), loop, nil, logx.Nop())
	s.now = func() time.Time { return time.Date(2026, 6, 10, 5, 0, 0, 0, time.UTC) }

	if err := s.ScheduleDailyMaintenance(); err != nil {
		t.Fatalf("ScheduleDailyMaintenance: %v", err)
	}
	if _, err := s.ScheduleToday(context.Background()); err != nil {
		t.Fatalf("ScheduleToday: %v", err)
	}

	s.Apply(Config{Enabled: true, DefaultTime: "06:15", Timezone: "UTC"})

	wakes := pendingByCategory(loop, sched.CategoryWake)
	if len(wakes) != 1 {
		t.Fatalf("pending wake firings = %d, want 1", len(wakes))
	}
	if wakes[0].Due.Hour() != 6 || wakes[0].Due.Minute() != 15 {
		t.Fatalf("wake due %v, want 06:15", wakes[0].Due)
	}
}
