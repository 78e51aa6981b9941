package rehydrate

import (
	"context"
	"errors"
	"testing"
	"time"

	"schedd/internal/sched"
	"schedd/internal/storage"
	logx "schedd/pkg/logx"
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

func mustCreate(t *testing.T, st storage.Store, ev storage.Event) {
	t.Helper()
	if err := st.CreateEvent(context.Background(), ev); err != nil {
		t.Fatalf("CreateEvent %s: %v", ev.ID, err)
	}
}

func TestRunRebuildsFutureTasks(t *testing.T) {
	t.Parallel()
	st := memStore(t)
	now := time.Now()

	soon := now.Add(5 * time.Minute)
	mid := now.Add(30 * time.Minute)
	far := now.Add(2 * time.Hour)
	mustCreate(t, st, storage.Event{ID: "soon", Title: "soon", Category: "task", Time: soon})
	mustCreate(t, st, storage.Event{ID: "mid", Title: "mid", Category: "task", Time: mid, NotifierName: "console"})
	mustCreate(t, st, storage.Event{ID: "far", Title: "far", Category: "task", Time: far, ActionName: "hello"})
	mustCreate(t, st, storage.Event{ID: "past", Title: "past", Category: "task", Time: now.Add(-time.Hour)})
	mustCreate(t, st, storage.Event{ID: "note", Title: "not a task", Category: "reminder", Time: far})

	loop := sched.New(sched.Config{}, sched.NewRegistry(), nil, logx.Nop())
	admitted := Run(context.Background(), Config{}, st, loop, logx.Nop())
	if admitted != 3 {
		t.Fatalf("admitted = %d, want 3", admitted)
	}

	firings := map[string][]sched.PendingFiring{}
	for _, p := range loop.Snapshot().Pending {
		firings[p.TaskID] = append(firings[p.TaskID], p)
	}

	// Under ten minutes away: the notification is dropped, not hurried.
	if fs := firings["soon"]; len(fs) != 1 || fs[0].Kind != sched.KindAction {
		t.Fatalf("soon firings = %+v, want action only", fs)
	}
	for _, id := range []string{"mid", "far"} {
		fs := firings[id]
		if len(fs) != 2 {
			t.Fatalf("%s firings = %+v, want notify+action", id, fs)
		}
		var notify, action *sched.PendingFiring
		for i := range fs {
			switch fs[i].Kind {
			case sched.KindNotify:
				notify = &fs[i]
			case sched.KindAction:
				action = &fs[i]
			}
		}
		if notify == nil || action == nil {
			t.Fatalf("%s firings = %+v", id, fs)
		}
		if want := action.Due.Add(-10 * time.Minute); !notify.Due.Equal(want) {
			t.Fatalf("%s notify due %v, want %v", id, notify.Due, want)
		}
	}
	if fs := firings["past"]; len(fs) != 0 {
		t.Fatalf("past event rehydrated: %+v", fs)
	}
	if fs := firings["note"]; len(fs) != 0 {
		t.Fatalf("non-task event rehydrated: %+v", fs)
	}
}

type failingStore struct{ storage.Store }

func (failingStore) ListEvents(context.Context, int, time.Time) ([]storage.Event, error) {
	return nil, errors.New("database is locked")
}

func TestRunStoreFailureIsZeroResults(t *testing.T) {
	t.Parallel()
	loop := sched.New(sched.Config{}, sched.NewRegistry(), nil, logx.Nop())
	if n := Run(context.Background(), Config{}, failingStore{}, loop, logx.Nop()); n != 0 {
		t.Fatalf("admitted = %d, want 0", n)
	}
	if pending := loop.Snapshot().Pending; len(pending) != 0 {
		t.Fatalf("pending = %+v, want empty", pending)
	}
}

func TestRunNilStore(t *testing.T) {
	t.Parallel()
	loop := sched.New(sched.Config{}, sched.NewRegistry(), nil, logx.Nop())
	if n := Run(context.Background(), Config{}, nil, loop, logx.Nop()); n != 0 {
		t.Fatalf("admitted = %d, want 0", n)
	}
}

func TestTaskFromEventNotifyBoundary(t *testing.T) {
	t.Parallel()
	now := time.Now()
	lead := 10 * time.Minute

	// Exactly lead away: the derived instant equals now and is dropped.
	ev := storage.Event{ID: "edge", Time: now.Add(lead)}
	if task := TaskFromEvent(ev, now, lead); len(task.NotifyAt) != 0 {
		t.Fatalf("NotifyAt = %v, want none at the boundary", task.NotifyAt)
	}

	ev.Time = now.Add(lead + time.Second)
	task := TaskFromEvent(ev, now, lead)
	if len(task.NotifyAt) != 1 || !task.NotifyAt[0].Equal(ev.Time.Add(-lead)) {
		t.Fatalf("NotifyAt = %v, want one at fire-lead", task.NotifyAt)
	}
	if task.Category != sched.CategoryTask {
		t.Fatalf("Category = %s", task.Category)
	}
}
