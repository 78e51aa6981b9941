package sched

import (
	"container/heap"
	"context"
	"runtime/debug"
	"sort"
	"sync"
	"time"

	"schedd/internal/eventbus"
	logx "schedd/pkg/logx"
)

// Config controls the dispatch loop.
type Config struct {
	// MaxSleep caps how long the loop waits before re-reading the clock, so
	// wall-clock adjustments are picked up even with a far-away next firing.
	// Defaults to 60s.
	MaxSleep time.Duration
}

// Loop is the scheduler core. One background goroutine dispatches due
// firings; Add, Cancel and Snapshot are safe from any goroutine, including
// from inside firing callbacks.
//
// A mutex plus a wake channel form the monitor guarding the pending set and
// the next-wake computation. Callbacks always run with the mutex released,
// so a slow callback never blocks admission or cancellation.
type Loop struct {
	cfg Config
	reg *Registry
	bus eventbus.Bus
	log logx.Logger

	mu       sync.Mutex
	pending  firingHeap
	byID     map[string][]*firing // pending firings per task id
	seq      uint64
	started  bool
	stopping bool

	dispatched uint64
	failed     uint64
	cancelled  uint64

	wakeCh chan struct{}
	done   chan struct{}
}

func New(cfg Config, reg *Registry, bus eventbus.Bus, log logx.Logger) *Loop {
	if cfg.MaxSleep <= 0 {
		cfg.MaxSleep = 60 * time.Second
	}
	if reg == nil {
		reg = NewRegistry()
	}
	if log.IsZero() {
		log = logx.Nop()
	}
	return &Loop{
		cfg:    cfg,
		reg:    reg,
		bus:    bus,
		log:    log.With(logx.String("comp", "sched")),
		byID:   map[string][]*firing{},
		wakeCh: make(chan struct{}, 1),
		done:   make(chan struct{}),
	}
}

// Registry returns the injected callback registry.
func (l *Loop) Registry() *Registry { return l.reg }

// Start launches the dispatch goroutine. It is idempotent: repeat calls
// (and calls after Stop) never spawn a second loop. ctx cancellation stops
// the loop without the Stop guarantee; prefer Stop for shutdown.
func (l *Loop) Start(ctx context.Context) {
	l.mu.Lock()
	if l.started || l.stopping {
		l.mu.Unlock()
		return
	}
	l.started = true
	l.mu.Unlock()

	l.log.Info("event loop started")
	go l.run(ctx)
}

// Stop signals the loop and blocks until the dispatch goroutine has exited.
// No callback executes after Stop returns; the wait is bounded by the
// slowest single in-flight callback. Must not be called from a callback.
func (l *Loop) Stop() {
	l.mu.Lock()
	wasStarted := l.started
	l.stopping = true
	l.mu.Unlock()

	if !wasStarted {
		return
	}
	l.signal()
	<-l.done
}

// Add validates the task and admits its notify and action firings. Safe from
// any goroutine. If the new earliest firing is sooner than what the loop is
// waiting for, the loop is woken immediately.
func (l *Loop) Add(t Task) error {
	if err := t.Validate(); err != nil {
		return err
	}

	// The loop keeps its own copy; callers may reuse their value.
	tc := t
	tc.NotifyAt = append([]time.Time(nil), t.NotifyAt...)
	task := &tc

	l.mu.Lock()
	if l.stopping {
		l.mu.Unlock()
		return ErrStopped
	}
	prevDue, hadPrev := l.nextDueLocked()
	for i, at := range task.NotifyAt {
		l.pushLocked(task, at, KindNotify, i)
	}
	l.pushLocked(task, task.FireAt, KindAction, -1)
	newDue, _ := l.nextDueLocked()
	l.mu.Unlock()

	if !hadPrev || newDue.Before(prevDue) {
		l.signal()
	}

	l.log.Debug("task admitted",
		logx.String("task", task.ID),
		logx.String("category", string(task.Category)),
		logx.Time("fire_at", task.FireAt),
		logx.Int("notify_count", len(task.NotifyAt)),
	)
	l.publish("sched.admitted", FiringEvent{TaskID: task.ID, Title: task.Title, Category: task.Category, Due: task.FireAt, At: time.Now()})
	return nil
}

// Cancel removes every not-yet-dispatched firing for id. Unknown or already
// retired ids are a silent no-op. A firing the loop has already picked up
// is past the point of no return and still runs.
func (l *Loop) Cancel(id string) {
	l.mu.Lock()
	fs := l.byID[id]
	if len(fs) == 0 {
		l.mu.Unlock()
		return
	}
	n := 0
	for _, f := range fs {
		if f.state == statePending {
			f.state = stateCancelled
			l.cancelled++
			n++
		}
	}
	delete(l.byID, id)
	l.mu.Unlock()

	// The cancelled firing may have been the wait target; recompute.
	l.signal()

	l.log.Debug("task cancelled", logx.String("task", id), logx.Int("firings", n))
	l.publish("sched.cancelled", FiringEvent{TaskID: id, At: time.Now()})
}

// Snapshot returns the pending set (in dispatch order) and loop counters.
func (l *Loop) Snapshot() Snapshot {
	l.mu.Lock()
	snap := Snapshot{
		Running:    l.started && !l.stopping,
		Dispatched: l.dispatched,
		Failed:     l.failed,
		Cancelled:  l.cancelled,
	}
	fs := make([]*firing, 0, len(l.pending))
	for _, f := range l.pending {
		if f.state == statePending {
			fs = append(fs, f)
		}
	}
	l.mu.Unlock()

	// Everything read below is immutable after admission.
	sort.Slice(fs, func(i, j int) bool {
		if !fs[i].dueAt.Equal(fs[j].dueAt) {
			return fs[i].dueAt.Before(fs[j].dueAt)
		}
		return fs[i].seq < fs[j].seq
	})
	snap.Pending = make([]PendingFiring, 0, len(fs))
	for _, f := range fs {
		snap.Pending = append(snap.Pending, PendingFiring{
			TaskID:   f.task.ID,
			Title:    f.task.Title,
			Category: f.task.Category,
			Kind:     f.kind,
			Due:      f.dueAt,
		})
	}
	if len(snap.Pending) > 0 {
		snap.NextDue = snap.Pending[0].Due
	}
	return snap
}

func (l *Loop) signal() {
	select {
	case l.wakeCh <- struct{}{}:
	default:
	}
}

func (l *Loop) publish(typ string, ev FiringEvent) {
	if l.bus == nil {
		return
	}
	l.bus.Publish(eventbus.Event{Type: typ, Time: ev.At, Data: ev})
}

// run is the single dispatch goroutine.
func (l *Loop) run(ctx context.Context) {
	defer close(l.done)
	defer l.log.Info("event loop stopped")

	for {
		l.mu.Lock()
		if l.stopping {
			l.mu.Unlock()
			return
		}
		batch := l.collectDueLocked(time.Now())
		if len(batch) > 0 {
			l.mu.Unlock()
			// Lock released: callbacks run unsynchronized and may call Add
			// or Cancel themselves.
			l.dispatch(batch)
			continue
		}
		next, ok := l.nextDueLocked()
		l.mu.Unlock()

		// Nothing due. Sleep until the next firing, a wake signal, or
		// cancellation; with an empty set, wait on signals alone. A stale
		// wake token only causes one harmless re-evaluation.
		var timer *time.Timer
		var timerCh <-chan time.Time
		if ok {
			d := time.Until(next)
			if d > l.cfg.MaxSleep {
				d = l.cfg.MaxSleep
			}
			if d < 0 {
				d = 0
			}
			timer = time.NewTimer(d)
			timerCh = timer.C
		}

		select {
		case <-ctx.Done():
			if timer != nil {
				timer.Stop()
			}
			l.mu.Lock()
			l.stopping = true
			l.mu.Unlock()
			return
		case <-l.wakeCh:
			if timer != nil {
				timer.Stop()
			}
		case <-timerCh:
		}
	}
}

// collectDueLocked pops every due firing in (dueAt, seq) order, transitions
// them to dispatching, and admits successors for repeating tasks. Cancelled
// entries reaching the heap top are discarded here and in nextDueLocked.
func (l *Loop) collectDueLocked(now time.Time) []*firing {
	var due []*firing
	for len(l.pending) > 0 {
		head := l.pending[0]
		if head.state == stateCancelled {
			heap.Pop(&l.pending)
			continue
		}
		if head.dueAt.After(now) {
			break
		}
		heap.Pop(&l.pending)
		head.state = stateDispatching
		l.dropIndexLocked(head)

		// The successor is admitted before the callback runs, in the same
		// critical section that consumed the current firing: a repeating
		// task has exactly one live firing at every instant.
		if head.kind == KindAction && head.task.Repeat != nil {
			if next := head.task.Repeat.Next(now); !next.IsZero() && next.After(now) {
				l.pushLocked(head.task, next, KindAction, -1)
			}
		}

		due = append(due, head)
	}
	return due
}

func (l *Loop) nextDueLocked() (time.Time, bool) {
	for len(l.pending) > 0 {
		head := l.pending[0]
		if head.state == stateCancelled {
			heap.Pop(&l.pending)
			continue
		}
		return head.dueAt, true
	}
	return time.Time{}, false
}

func (l *Loop) pushLocked(t *Task, at time.Time, kind FiringKind, notifyIdx int) {
	l.seq++
	f := &firing{task: t, dueAt: at, kind: kind, notifyIdx: notifyIdx, seq: l.seq}
	heap.Push(&l.pending, f)
	l.byID[t.ID] = append(l.byID[t.ID], f)
}

func (l *Loop) dropIndexLocked(f *firing) {
	id := f.task.ID
	fs := l.byID[id]
	for i, x := range fs {
		if x == f {
			last := len(fs) - 1
			fs[i] = fs[last]
			fs[last] = nil
			fs = fs[:last]
			break
		}
	}
	if len(fs) == 0 {
		delete(l.byID, id)
	} else {
		l.byID[id] = fs
	}
}

func (l *Loop) dispatch(batch []*firing) {
	for _, f := range batch {
		start := time.Now()
		l.runCallback(f)
		dur := time.Since(start)

		l.mu.Lock()
		f.state = stateRetired
		l.dispatched++
		l.mu.Unlock()

		l.publish("sched.dispatched", FiringEvent{
			TaskID:   f.task.ID,
			Title:    f.task.Title,
			Category: f.task.Category,
			Kind:     f.kind,
			Due:      f.dueAt,
			At:       start,
			Duration: dur,
		})
	}
}

// runCallback resolves and runs one firing. Panics are contained here: a
// failing callback is reported and the loop carries on.
func (l *Loop) runCallback(f *firing) {
	defer func() {
		if r := recover(); r != nil {
			l.mu.Lock()
			l.failed++
			l.mu.Unlock()
			l.log.Error("callback failed",
				logx.String("task", f.task.ID),
				logx.String("kind", string(f.kind)),
				logx.Any("panic", r),
				logx.Stack(string(debug.Stack())),
			)
			l.publish("sched.failed", FiringEvent{
				TaskID:   f.task.ID,
				Title:    f.task.Title,
				Category: f.task.Category,
				Kind:     f.kind,
				Due:      f.dueAt,
				At:       time.Now(),
				Error:    "panic",
			})
		}
	}()

	switch f.kind {
	case KindNotify:
		fn, ok := l.reg.Notifier(f.task.NotifierName)
		if !ok || fn == nil {
			if f.task.NotifierName != "" {
				l.log.Debug("notifier not registered", logx.String("task", f.task.ID), logx.String("name", f.task.NotifierName))
			}
			return
		}
		fn(f.task.ID, f.task.Title)
	case KindAction:
		fn, ok := l.reg.Action(f.task.ActionName)
		if !ok || fn == nil {
			if f.task.ActionName != "" {
				l.log.Debug("action not registered", logx.String("task", f.task.ID), logx.String("name", f.task.ActionName))
			}
			return
		}
		fn()
	}
}
