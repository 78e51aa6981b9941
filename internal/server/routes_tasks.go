package server

import (
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"schedd/internal/rehydrate"
	"schedd/internal/sched"
	"schedd/internal/storage"
)

// taskPayload is the direct-admission body. Times use the same wire formats
// as events; notify_times overrides the default single advance
// notification at time-10min.
type taskPayload struct {
	ID          string   `json:"id"`
	Title       string   `json:"title"`
	Description string   `json:"description"`
	Time        string   `json:"time"`
	Duration    *int64   `json:"duration"` // seconds
	NotifyTimes []string `json:"notify_times"`
	Notifier    string   `json:"notifier"`
	Action      string   `json:"action"`
	Persist     *bool    `json:"persist"`
}

func (s *Service) requireLoop(w http.ResponseWriter) bool {
	if s.deps.Loop == nil {
		respondError(w, http.StatusServiceUnavailable, "scheduler is unavailable")
		return false
	}
	return true
}

func (s *Service) handleListTasks(w http.ResponseWriter, _ *http.Request) {
	if !s.requireLoop(w) {
		return
	}
	snap := s.deps.Loop.Snapshot()

	type pendingJSON struct {
		TaskID   string `json:"task_id"`
		Title    string `json:"title,omitempty"`
		Category string `json:"category"`
		Kind     string `json:"kind"`
		Due      string `json:"due"`
	}
	pending := make([]pendingJSON, 0, len(snap.Pending))
	for _, f := range snap.Pending {
		pending = append(pending, pendingJSON{
			TaskID:   f.TaskID,
			Title:    f.Title,
			Category: string(f.Category),
			Kind:     string(f.Kind),
			Due:      f.Due.In(s.deps.Loc).Format(layoutDateTime),
		})
	}
	respondData(w, http.StatusOK, map[string]any{
		"running":    snap.Running,
		"pending":    pending,
		"dispatched": snap.Dispatched,
		"failed":     snap.Failed,
		"cancelled":  snap.Cancelled,
	})
}

// handleCreateTask admits a task directly into the loop. With
// persist=true (the default when storage is up) the task is also stored as
// a "task" event, so it survives a restart via rehydration.
func (s *Service) handleCreateTask(w http.ResponseWriter, r *http.Request) {
	if !s.requireLoop(w) {
		return
	}
	var p taskPayload
	if err := decodeJSON(r, &p); err != nil {
		respondError(w, http.StatusBadRequest, "invalid body: "+err.Error())
		return
	}
	if strings.TrimSpace(p.Title) == "" {
		respondError(w, http.StatusBadRequest, "title is required")
		return
	}
	fireAt, err := s.parseEventTime(p.Time)
	if err != nil {
		respondError(w, http.StatusBadRequest, err.Error())
		return
	}
	if !fireAt.After(time.Now()) {
		respondError(w, http.StatusBadRequest, "time must be in the future")
		return
	}

	ev := storage.Event{
		ID:           strings.TrimSpace(p.ID),
		Title:        strings.TrimSpace(p.Title),
		Description:  strings.TrimSpace(p.Description),
		Category:     string(sched.CategoryTask),
		Time:         fireAt,
		NotifierName: strings.TrimSpace(p.Notifier),
		ActionName:   strings.TrimSpace(p.Action),
	}
	if ev.ID == "" {
		ev.ID = uuid.NewString()
	}
	if p.Duration != nil {
		if *p.Duration < 0 {
			respondError(w, http.StatusBadRequest, "duration must not be negative")
			return
		}
		ev.Duration = time.Duration(*p.Duration) * time.Second
	}

	task := rehydrate.TaskFromEvent(ev, time.Now(), rehydrate.DefaultNotifyLead)
	if len(p.NotifyTimes) > 0 {
		notifyAt := make([]time.Time, 0, len(p.NotifyTimes))
		for _, v := range p.NotifyTimes {
			at, err := s.parseEventTime(v)
			if err != nil {
				respondError(w, http.StatusBadRequest, err.Error())
				return
			}
			notifyAt = append(notifyAt, at)
		}
		task.NotifyAt = notifyAt
	}

	persist := s.deps.Store != nil
	if p.Persist != nil {
		persist = *p.Persist && s.deps.Store != nil
	}
	if persist {
		if err := s.deps.Store.CreateEvent(r.Context(), ev); err != nil {
			s.respondStoreErr(w, err)
			return
		}
	}

	if err := s.deps.Loop.Add(task); err != nil {
		if persist {
			_ = s.deps.Store.DeleteEvent(r.Context(), ev.ID)
		}
		code := http.StatusBadRequest
		if errors.Is(err, sched.ErrStopped) {
			code = http.StatusServiceUnavailable
		}
		respondError(w, code, err.Error())
		return
	}

	respondData(w, http.StatusCreated, map[string]any{
		"id":        task.ID,
		"fire_at":   task.FireAt.In(s.deps.Loc).Format(layoutDateTime),
		"notify":    len(task.NotifyAt),
		"persisted": persist,
	})
}

// handleCancelTask removes every pending firing for the id. Cancelling an
// unknown or already-fired task succeeds; the stored event, if any, stays.
func (s *Service) handleCancelTask(w http.ResponseWriter, r *http.Request) {
	if !s.requireLoop(w) {
		return
	}
	id := chi.URLParam(r, "id")
	s.deps.Loop.Cancel(id)
	respondData(w, http.StatusOK, map[string]string{"id": id})
}
