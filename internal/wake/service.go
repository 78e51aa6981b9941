package wake

import (
	"context"
	"fmt"
	"sync"
	"time"

	"schedd/internal/agenda"
	"schedd/internal/sched"
	"schedd/internal/storage"
	logx "schedd/pkg/logx"
	"schedd/pkg/webhook"
)

// Scheduler computes and admits the daily wake task and its maintenance
// cycle. It owns no goroutine of its own; everything runs either in the
// caller or inside a loop callback.
type Scheduler struct {
	log   logx.Logger
	store storage.Store
	loop  *sched.Loop
	hook  *webhook.Client

	mu      sync.Mutex
	cfg     Config
	loc     *time.Location
	wakeID  string // live wake task id, "" when none
	wakeAt  time.Time
	maintID string // live maintenance task id, "" until scheduled

	now func() time.Time
}

// New builds the scheduler and registers its two actions with the loop's
// registry. store and hook may be nil; the wake action then degrades to a
// logged no-op.
func New(cfg Config, store storage.Store, loop *sched.Loop, hook *webhook.Client, log logx.Logger) *Scheduler {
	if log.IsZero() {
		log = logx.Nop()
	}
	s := &Scheduler{
		log:   log.With(logx.String("comp", "wake")),
		store: store,
		loop:  loop,
		hook:  hook,
		now:   time.Now,
	}
	s.setConfigLocked(cfg)

	reg := loop.Registry()
	reg.RegisterAction(ActionWake, s.runWake)
	reg.RegisterAction(ActionMaintenance, s.runMaintenance)
	return s
}

// Enabled reports the current config flag.
func (s *Scheduler) Enabled() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.cfg.Enabled
}

// Apply swaps the policy. When the scheduler has already run (a
// maintenance task is live) and the policy changed, today's wake is
// recomputed so the new clock/lead takes effect immediately.
func (s *Scheduler) Apply(cfg Config) {
	s.mu.Lock()
	old := s.cfg
	s.setConfigLocked(cfg)
	recompute := s.maintID != "" && s.cfg != old
	s.mu.Unlock()

	if !recompute {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()
	if _, err := s.ScheduleToday(ctx); err != nil {
		s.log.Warn("reschedule after config change failed", logx.Err(err))
	}
}

func (s *Scheduler) setConfigLocked(cfg Config) {
	cfg = cfg.withDefaults()
	loc := time.Local
	if cfg.Timezone != "" {
		l, err := time.LoadLocation(cfg.Timezone)
		if err != nil {
			s.log.Warn("bad timezone, using local", logx.String("tz", cfg.Timezone), logx.Err(err))
		} else {
			loc = l
		}
	}
	s.cfg = cfg
	s.loc = loc
}

// ScheduleToday computes today's wake instant and admits the wake task,
// replacing any previously admitted one. A zero returned time means
// nothing was scheduled (disabled, or the computed instant already
// passed). Store failures fall back to the default clock.
func (s *Scheduler) ScheduleToday(ctx context.Context) (time.Time, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if !s.cfg.Enabled {
		s.log.Debug("disabled, not scheduling")
		return time.Time{}, nil
	}

	now := s.now()
	at, reason := s.computeWakeLocked(ctx, now)
	if !at.After(now) {
		s.log.Info("wake instant already past, skipping",
			logx.Time("wake_at", at),
			logx.String("reason", reason),
		)
		s.cancelWakeLocked()
		return time.Time{}, nil
	}

	s.cancelWakeLocked()
	id := "wake-" + at.In(s.loc).Format("2006-01-02")
	task := sched.Task{
		ID:         id,
		Title:      "morning wake",
		FireAt:     at,
		Category:   sched.CategoryWake,
		ActionName: ActionWake,
	}
	if err := s.loop.Add(task); err != nil {
		return time.Time{}, fmt.Errorf("wake: admit %s: %w", id, err)
	}
	s.wakeID = id
	s.wakeAt = at

	s.log.Info("wake scheduled",
		logx.Time("wake_at", at),
		logx.String("reason", reason),
	)
	return at, nil
}

// computeWakeLocked applies the policy for the day containing now: the
// default clock time, pulled earlier when the day's earliest stored event
// starts before it.
func (s *Scheduler) computeWakeLocked(ctx context.Context, now time.Time) (time.Time, string) {
	hh, mm, err := agenda.ParseClock(s.cfg.DefaultTime)
	if err != nil {
		s.log.Warn("bad default wake time, using "+defaultClock, logx.String("value", s.cfg.DefaultTime), logx.Err(err))
		hh, mm, _ = agenda.ParseClock(defaultClock)
	}
	day := now.In(s.loc)
	at := time.Date(day.Year(), day.Month(), day.Day(), hh, mm, 0, 0, s.loc)
	reason := "default"

	if s.store == nil {
		return at, reason
	}
	dayStart := time.Date(day.Year(), day.Month(), day.Day(), 0, 0, 0, 0, s.loc)
	events, err := s.store.ListEventsBetween(ctx, dayStart, dayStart.AddDate(0, 0, 1))
	if err != nil {
		s.log.Warn("event query failed, using default wake time", logx.Err(err))
		return at, reason
	}
	if len(events) > 0 {
		// Ascending order; only the earliest matters.
		if ev := events[0]; ev.Time.Before(at) {
			at = ev.Time.Add(-s.cfg.Lead)
			reason = "event " + ev.ID
		}
	}
	return at, reason
}

func (s *Scheduler) cancelWakeLocked() {
	if s.wakeID == "" {
		return
	}
	s.loop.Cancel(s.wakeID)
	s.wakeID = ""
	s.wakeAt = time.Time{}
}

// ScheduleDailyMaintenance admits the midnight maintenance task. At most
// one is ever live: the task repeats structurally (the loop re-admits the
// successor when a firing is consumed), and repeat calls are no-ops.
func (s *Scheduler) ScheduleDailyMaintenance() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.maintID != "" {
		return nil
	}
	sh := midnightSchedule{loc: s.loc}
	first := sh.Next(s.now())
	task := sched.Task{
		ID:         "wake-maintenance",
		Title:      "wake maintenance",
		FireAt:     first,
		Category:   sched.CategoryMaintenance,
		ActionName: ActionMaintenance,
		Repeat:     sh,
	}
	if err := s.loop.Add(task); err != nil {
		return fmt.Errorf("wake: admit maintenance: %w", err)
	}
	s.maintID = task.ID
	s.log.Info("daily maintenance scheduled", logx.Time("first_run", first))
	return nil
}

// Status reports the live wake state.
func (s *Scheduler) Status() Status {
	s.mu.Lock()
	defer s.mu.Unlock()
	return Status{
		Enabled:     s.cfg.Enabled,
		Scheduled:   s.wakeID != "",
		NextWake:    s.wakeAt,
		TaskID:      s.wakeID,
		Maintenance: s.maintID != "",
		DefaultTime: s.cfg.DefaultTime,
		Lead:        s.cfg.Lead.String(),
		Timezone:    s.loc.String(),
	}
}

// runWake is the "wake" action. It resolves the target URL from settings
// at dispatch time and POSTs the wake payload; without a URL it is a
// logged no-op.
func (s *Scheduler) runWake() {
	ctx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()

	if s.store == nil || s.hook == nil {
		s.log.Debug("wake fired without store or webhook client, nothing to call")
		return
	}
	url, ok, err := s.store.GetString(ctx, SettingsKeyServerURL)
	if err != nil {
		s.log.Error("wake server url lookup failed", logx.Err(err))
		return
	}
	if !ok || url == "" {
		s.log.Info("no wake server configured, wake is a no-op")
		return
	}
	if err := s.hook.PostJSON(ctx, url, wakePayload{Event: "wake", At: s.now()}); err != nil {
		s.log.Error("wake call failed", logx.String("url", url), logx.Err(err))
		return
	}
	s.log.Info("wake call delivered", logx.String("url", url))
}

// runMaintenance is the "wake.maintenance" action. It runs on the dispatch
// goroutine just after midnight and schedules the new day's wake; the
// successor maintenance firing was already admitted by the loop.
func (s *Scheduler) runMaintenance() {
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if _, err := s.ScheduleToday(ctx); err != nil {
		s.log.Error("maintenance reschedule failed", logx.Err(err))
	}
}
