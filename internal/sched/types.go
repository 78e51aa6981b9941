package sched

import (
	"errors"
	"fmt"
	"strings"
	"time"
)

// Category tags what kind of schedulable unit a task represents.
// Stored events use it to decide what rehydrates after a restart.
type Category string

const (
	CategoryTask        Category = "task"
	CategoryWake        Category = "wake"
	CategoryMaintenance Category = "maintenance"
)

// FiringKind distinguishes the two callback slots of a task.
type FiringKind string

const (
	KindNotify FiringKind = "notify"
	KindAction FiringKind = "action"
)

// NotifyFunc receives the task identity it was scheduled for.
type NotifyFunc func(id, title string)

// ActionFunc runs the task's primary side effect.
type ActionFunc func()

// Schedule computes the next fire time strictly after t.
// A zero return means "no further occurrence".
//
// cron.Schedule from robfig/cron satisfies this directly.
type Schedule interface {
	Next(t time.Time) time.Time
}

// Task describes one schedulable unit. It is treated as immutable after
// admission; the loop keeps its own copy.
//
// Callbacks are carried as registry names plus the bound identity (ID,
// Title), never as captured closures. The loop resolves names through its
// Registry at dispatch time; empty or unknown names resolve to no-ops.
type Task struct {
	ID          string
	Title       string
	Description string

	// FireAt is the instant the action callback runs.
	FireAt time.Time

	// Duration is informational (event length); it never affects dispatch.
	Duration time.Duration

	// NotifyAt lists notification instants, ascending, each strictly before
	// FireAt. Each entry becomes one notify firing.
	NotifyAt []time.Time

	NotifierName string
	ActionName   string

	Category Category

	// Repeat, when set, turns the task periodic: consuming the action firing
	// admits the successor (at Repeat.Next) in the same critical section, so
	// exactly one live firing exists per repeating task at any instant.
	Repeat Schedule
}

var (
	// ErrEmptyID rejects tasks admitted without an identifier.
	ErrEmptyID = errors.New("sched: task id is empty")

	// ErrStopped is returned by Add once the loop has begun stopping.
	ErrStopped = errors.New("sched: loop stopped")
)

// Validate checks the admission invariants.
func (t Task) Validate() error {
	if strings.TrimSpace(t.ID) == "" {
		return ErrEmptyID
	}
	if t.FireAt.IsZero() {
		return fmt.Errorf("sched: task %s: fire time is zero", t.ID)
	}
	var prev time.Time
	for i, at := range t.NotifyAt {
		if !at.Before(t.FireAt) {
			return fmt.Errorf("sched: task %s: notify time %d is not before the fire time", t.ID, i)
		}
		if i > 0 && at.Before(prev) {
			return fmt.Errorf("sched: task %s: notify times are not ascending", t.ID)
		}
		prev = at
	}
	return nil
}

// FiringEvent is the eventbus payload for firing lifecycle events
// (sched.admitted, sched.dispatched, sched.failed, sched.cancelled).
type FiringEvent struct {
	TaskID   string        `json:"task_id"`
	Title    string        `json:"title,omitempty"`
	Category Category      `json:"category,omitempty"`
	Kind     FiringKind    `json:"kind,omitempty"`
	Due      time.Time     `json:"due,omitempty"`
	At       time.Time     `json:"at"`
	Duration time.Duration `json:"duration,omitempty"`
	Error    string        `json:"error,omitempty"`
}

// PendingFiring is one not-yet-dispatched firing, as exposed by Snapshot.
type PendingFiring struct {
	TaskID   string     `json:"task_id"`
	Title    string     `json:"title,omitempty"`
	Category Category   `json:"category"`
	Kind     FiringKind `json:"kind"`
	Due      time.Time  `json:"due"`
}

// Snapshot is a point-in-time view of the loop for diagnostics.
type Snapshot struct {
	Running    bool            `json:"running"`
	Pending    []PendingFiring `json:"pending"`
	NextDue    time.Time       `json:"next_due"`
	Dispatched uint64          `json:"dispatched"`
	Failed     uint64          `json:"failed"`
	Cancelled  uint64          `json:"cancelled"`
}
