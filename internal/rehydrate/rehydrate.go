// Package rehydrate rebuilds scheduler tasks from persisted events after a
// restart. It runs once at startup, between loop start and server start.
package rehydrate

import (
	"context"
	"time"

	"schedd/internal/sched"
	"schedd/internal/storage"
	logx "schedd/pkg/logx"
)

const (
	defaultHorizon = 365 * 24 * time.Hour
	defaultLimit   = 1000
)

// DefaultNotifyLead places the advance notification before the fire time.
// The HTTP routes admit tasks for newly created events with the same lead,
// so a restart reproduces exactly what live admission built.
const DefaultNotifyLead = 10 * time.Minute

// Config tunes the startup query and the derived notify instant.
type Config struct {
	// Horizon bounds the query to events within now+Horizon.
	Horizon time.Duration

	// Limit caps how many events the query returns.
	Limit int

	// NotifyLead places the single advance notification before the fire
	// time. Events closer than NotifyLead get no notification at all.
	NotifyLead time.Duration
}

func (c Config) withDefaults() Config {
	if c.Horizon <= 0 {
		c.Horizon = defaultHorizon
	}
	if c.Limit <= 0 {
		c.Limit = defaultLimit
	}
	if c.NotifyLead <= 0 {
		c.NotifyLead = DefaultNotifyLead
	}
	return c
}

// Run queries stored events and re-admits every future "task" event.
// Wake and maintenance tasks are never rehydrated; they are re-derived by
// the wake scheduler. A store failure is logged and treated as zero
// results; per-event admission failures are logged and skipped. Returns
// the number of tasks admitted.
func Run(ctx context.Context, cfg Config, store storage.Store, loop *sched.Loop, log logx.Logger) int {
	if log.IsZero() {
		log = logx.Nop()
	}
	log = log.With(logx.String("comp", "rehydrate"))
	cfg = cfg.withDefaults()

	if store == nil {
		log.Info("no store configured, nothing to rehydrate")
		return 0
	}

	now := time.Now()
	events, err := store.ListEvents(ctx, cfg.Limit, now.Add(cfg.Horizon))
	if err != nil {
		log.Error("event query failed, starting with an empty schedule", logx.Err(err))
		return 0
	}

	admitted := 0
	for _, ev := range events {
		if ev.Category != string(sched.CategoryTask) || !ev.Time.After(now) {
			continue
		}

		task := TaskFromEvent(ev, now, cfg.NotifyLead)
		if err := loop.Add(task); err != nil {
			log.Warn("skipping event",
				logx.String("event", ev.ID),
				logx.Err(err),
			)
			continue
		}
		admitted++
	}

	log.Info("rehydration complete",
		logx.Int("events", len(events)),
		logx.Int("admitted", admitted),
	)
	return admitted
}

// TaskFromEvent maps a stored event to a scheduler task. A single notify
// instant is derived at FireAt-lead, but only when at least lead remains;
// closer events deliberately lose their notification rather than firing
// it immediately.
func TaskFromEvent(ev storage.Event, now time.Time, lead time.Duration) sched.Task {
	var notifyAt []time.Time
	if ev.Time.Sub(now) >= lead {
		if tp := ev.Time.Add(-lead); tp.After(now) {
			notifyAt = []time.Time{tp}
		}
	}
	return sched.Task{
		ID:           ev.ID,
		Title:        ev.Title,
		Description:  ev.Description,
		FireAt:       ev.Time,
		Duration:     ev.Duration,
		NotifyAt:     notifyAt,
		NotifierName: ev.NotifierName,
		ActionName:   ev.ActionName,
		Category:     sched.CategoryTask,
	}
}
