package sched

import "time"

type firingState uint8

const (
	statePending firingState = iota
	stateDispatching
	stateRetired
	stateCancelled
)

// firing is one pending callback instant. It is owned exclusively by the
// loop's pending set; the only legal transitions are
// pending -> dispatching -> retired and pending -> cancelled.
type firing struct {
	task      *Task
	dueAt     time.Time
	kind      FiringKind
	notifyIdx int // index into task.NotifyAt; -1 for action firings
	seq       uint64
	state     firingState
}

// firingHeap is a min-heap ordered by (dueAt, seq). The admission sequence
// tie-break keeps firings with identical due times in FIFO order.
type firingHeap []*firing

func (h firingHeap) Len() int { return len(h) }

func (h firingHeap) Less(i, j int) bool {
	if !h[i].dueAt.Equal(h[j].dueAt) {
		return h[i].dueAt.Before(h[j].dueAt)
	}
	return h[i].seq < h[j].seq
}

func (h firingHeap) Swap(i, j int) { h[i], h[j] = h[j], h[i] }

func (h *firingHeap) Push(x any) {
	*h = append(*h, x.(*firing))
}

func (h *firingHeap) Pop() any {
	old := *h
	n := len(old)
	x := old[n-1]
	old[n-1] = nil
	*h = old[:n-1]
	return x
}
