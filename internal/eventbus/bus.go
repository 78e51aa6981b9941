package eventbus

import (
	"sync"
	"sync/atomic"
	"time"
)

// Event is an in-memory signal used to decouple components. The scheduler
// publishes firing lifecycle events ("sched.admitted", "sched.dispatched",
// "sched.failed", "sched.cancelled") and the notification pipeline publishes
// delivery events ("notify.queued", "notify.sent", "notify.failed",
// "notify.deduped", "notify.dropped").
//
// Contract:
//   - Publish never blocks.
//   - Subscribers receive on buffered channels; slow subscribers lose events.
//
// Data should stay small and JSON-serializable.
type Event struct {
	Type string
	Time time.Time
	Data any
}

// Bus is a process-local fanout. It owns no goroutines of its own.
type Bus interface {
	Publish(e Event)
	Subscribe(buffer int) (ch <-chan Event, unsubscribe func())
}

func New() Bus {
	return &memBus{subs: map[uint64]chan Event{}}
}

type memBus struct {
	mu   sync.RWMutex
	subs map[uint64]chan Event
	seq  atomic.Uint64
}

func (b *memBus) Publish(e Event) {
	if e.Time.IsZero() {
		e.Time = time.Now()
	}
	// Snapshot subscribers first; no lock is held while sending.
	b.mu.RLock()
	chs := make([]chan Event, 0, len(b.subs))
	for _, ch := range b.subs {
		chs = append(chs, ch)
	}
	b.mu.RUnlock()

	for _, ch := range chs {
		// A subscriber may unsubscribe (and close its channel) concurrently;
		// the recover absorbs the resulting send panic.
		func() {
			defer func() { _ = recover() }()
			select {
			case ch <- e:
			default:
			}
		}()
	}
}

func (b *memBus) Subscribe(buffer int) (<-chan Event, func()) {
	if buffer <= 0 {
		buffer = 8
	}
	ch := make(chan Event, buffer)
	id := b.seq.Add(1)

	b.mu.Lock()
	b.subs[id] = ch
	b.mu.Unlock()

	var once sync.Once
	unsub := func() {
		once.Do(func() {
			b.mu.Lock()
			delete(b.subs, id)
			b.mu.Unlock()
			// Safe: Publish tolerates sends on a closed channel.
			close(ch)
		})
	}
	return ch, unsub
}
