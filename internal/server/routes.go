package server

import (
	"fmt"
	"net/http"
	"net/http/pprof"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"

	"schedd/internal/rehydrate"
	"schedd/internal/sched"
	"schedd/internal/storage"
	"schedd/pkg/logx"
)

const (
	layoutDateTime = "2006-01-02 15:04"
	layoutDay      = "2006-01-02"
)

func (s *Service) router(cfg Config) http.Handler {
	r := chi.NewRouter()
	r.Use(chimw.RequestID, chimw.RealIP)
	r.Use(requestLog(s.log), recoverer(s.log))
	r.Use(corsMiddleware)
	if lim := newClientLimiter(cfg.RateLimit, cfg.RateWindow); lim != nil {
		r.Use(lim.middleware)
	}
	if key := strings.TrimSpace(cfg.APIKey); key != "" {
		r.Use(authMiddleware(key))
	}

	r.Get("/health", s.handleHealth)

	r.Route("/events", func(r chi.Router) {
		r.Get("/", s.handleListEvents)
		r.Post("/", s.handleCreateEvent)
		r.Get("/next", s.handleNextEvent)
		r.Get("/search", s.handleSearchEvents)
		r.Get("/conflicts", s.handleConflicts)
		r.Get("/day/{day}", s.handleEventsByDay)
		r.Get("/range/{start}/{end}", s.handleEventsByRange)
		r.Get("/{id}", s.handleGetEvent)
		r.Put("/{id}", s.handleUpdateEvent)
		r.Patch("/{id}", s.handlePatchEvent)
		r.Delete("/{id}", s.handleDeleteEvent)
	})
	r.Get("/categories", s.handleCategories)

	r.Route("/recurring", func(r chi.Router) {
		r.Get("/", s.handleListRecurring)
		r.Post("/", s.handleCreateRecurring)
		r.Get("/upcoming", s.handleUpcoming)
		r.Put("/{id}", s.handleUpdateRecurring)
		r.Delete("/{id}", s.handleDeleteEvent)
	})

	// /availability is the canonical slot query; the /free-slots paths keep
	// the legacy wire shape alive for existing clients.
	r.Get("/availability", s.handleAvailability)
	r.Get("/free-slots/next", s.handleNextFreeSlot)
	r.Get("/free-slots/{day}", s.handleFreeSlotsDay)

	r.Get("/stats", s.handleStats)
	r.Get("/stats/events/{start}/{end}", s.handleEventStats)

	r.Route("/tasks", func(r chi.Router) {
		r.Get("/", s.handleListTasks)
		r.Post("/", s.handleCreateTask)
		r.Delete("/{id}", s.handleCancelTask)
	})

	r.Route("/wake", func(r chi.Router) {
		r.Get("/", s.handleWakeStatus)
		r.Post("/reschedule", s.handleWakeReschedule)
		admin := s.requireAdmin(cfg)
		r.With(admin).Get("/url", s.handleGetWakeURL)
		r.With(admin).Put("/url", s.handlePutWakeURL)
	})

	if cfg.Pprof {
		r.Route("/debug/pprof", func(r chi.Router) {
			r.Use(s.pprofGuard(cfg))
			r.HandleFunc("/", pprof.Index)
			r.HandleFunc("/cmdline", pprof.Cmdline)
			r.HandleFunc("/profile", pprof.Profile)
			r.HandleFunc("/symbol", pprof.Symbol)
			r.HandleFunc("/trace", pprof.Trace)
			r.Handle("/goroutine", pprof.Handler("goroutine"))
			r.Handle("/heap", pprof.Handler("heap"))
			r.Handle("/block", pprof.Handler("block"))
		})
	}

	r.NotFound(func(w http.ResponseWriter, _ *http.Request) {
		respondError(w, http.StatusNotFound, "Not Found")
	})
	r.MethodNotAllowed(func(w http.ResponseWriter, _ *http.Request) {
		respondError(w, http.StatusMethodNotAllowed, "Method Not Allowed")
	})
	return r
}

func (s *Service) handleHealth(w http.ResponseWriter, _ *http.Request) {
	s.mu.Lock()
	started := s.started
	s.mu.Unlock()

	data := map[string]any{
		"status": "ok",
		"uptime": time.Since(started).Round(time.Second).String(),
	}
	if s.deps.Loop != nil {
		snap := s.deps.Loop.Snapshot()
		data["scheduler_running"] = snap.Running
		data["pending_firings"] = len(snap.Pending)
	}
	data["storage"] = s.deps.Store != nil
	respondData(w, http.StatusOK, data)
}

// eventJSON is the wire form of a stored event: legacy clock strings and
// duration in seconds, matching the clients that already speak this API.
type eventJSON struct {
	ID          string `json:"id"`
	Title       string `json:"title"`
	Description string `json:"description,omitempty"`
	Category    string `json:"category,omitempty"`
	Time        string `json:"time"`
	Duration    int64  `json:"duration"`
	Notifier    string `json:"notifier,omitempty"`
	Action      string `json:"action,omitempty"`
	Recur       string `json:"recur,omitempty"`
}

func (s *Service) eventToJSON(ev storage.Event) eventJSON {
	return eventJSON{
		ID:          ev.ID,
		Title:       ev.Title,
		Description: ev.Description,
		Category:    ev.Category,
		Time:        ev.Time.In(s.deps.Loc).Format(layoutDateTime),
		Duration:    int64(ev.Duration / time.Second),
		Notifier:    ev.NotifierName,
		Action:      ev.ActionName,
		Recur:       ev.Recur,
	}
}

func (s *Service) eventsToJSON(events []storage.Event) []eventJSON {
	out := make([]eventJSON, 0, len(events))
	for _, ev := range events {
		out = append(out, s.eventToJSON(ev))
	}
	return out
}

// parseEventTime accepts the legacy "YYYY-MM-DD HH:MM" wire format and
// RFC3339. Legacy strings are interpreted in the presentation timezone.
func (s *Service) parseEventTime(v string) (time.Time, error) {
	v = strings.TrimSpace(v)
	if t, err := time.Parse(time.RFC3339, v); err == nil {
		return t, nil
	}
	if t, err := time.ParseInLocation(layoutDateTime, v, s.deps.Loc); err == nil {
		return t, nil
	}
	return time.Time{}, fmt.Errorf("unrecognized time %q, want \"YYYY-MM-DD HH:MM\" or RFC3339", v)
}

func (s *Service) parseDay(v string) (time.Time, error) {
	t, err := time.ParseInLocation(layoutDay, strings.TrimSpace(v), s.deps.Loc)
	if err != nil {
		return time.Time{}, fmt.Errorf("unrecognized day %q, want YYYY-MM-DD", v)
	}
	return t, nil
}

// dayWindow returns [midnight, midnight+24h) of day in the presentation
// timezone.
func (s *Service) dayWindow(day time.Time) (time.Time, time.Time) {
	start := time.Date(day.Year(), day.Month(), day.Day(), 0, 0, 0, 0, s.deps.Loc)
	return start, start.AddDate(0, 0, 1)
}

// requireStore answers 503 when storage is disabled and reports whether
// the handler may proceed.
func (s *Service) requireStore(w http.ResponseWriter) bool {
	if s.deps.Store == nil {
		respondError(w, http.StatusServiceUnavailable, "storage is disabled")
		return false
	}
	return true
}

// admitEvent mirrors a stored event into the scheduler: future "task"
// events get a live firing (with the standard advance notification), and
// any previous firing under the same id is replaced.
func (s *Service) admitEvent(ev storage.Event) {
	if s.deps.Loop == nil {
		return
	}
	s.deps.Loop.Cancel(ev.ID)
	if ev.Category != string(sched.CategoryTask) {
		return
	}
	now := time.Now()
	if !ev.Time.After(now) {
		return
	}
	t := rehydrate.TaskFromEvent(ev, now, rehydrate.DefaultNotifyLead)
	if err := s.deps.Loop.Add(t); err != nil {
		s.log.Warn("event not admitted to scheduler",
			logx.String("event", ev.ID),
			logx.Err(err),
		)
	}
}

// wakeRecompute refreshes today's wake after an event mutation; a new
// morning appointment can pull the wake instant earlier.
func (s *Service) wakeRecompute(r *http.Request) {
	if s.deps.Wake == nil || !s.deps.Wake.Enabled() {
		return
	}
	if _, err := s.deps.Wake.ScheduleToday(r.Context()); err != nil {
		s.log.Warn("wake recompute after event change failed", logx.Err(err))
	}
}
