package server

import (
	"errors"
	"net/http"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"schedd/internal/storage"
)

// eventPayload is the mutable subset accepted on create/update. Duration
// is seconds on the wire; pointer fields distinguish "absent" on PATCH.
type eventPayload struct {
	ID          *string `json:"id"`
	Title       *string `json:"title"`
	Description *string `json:"description"`
	Category    *string `json:"category"`
	Time        *string `json:"time"`
	Duration    *int64  `json:"duration"`
	Notifier    *string `json:"notifier"`
	Action      *string `json:"action"`
	Recur       *string `json:"recur"`
}

func strOr(p *string, def string) string {
	if p == nil {
		return def
	}
	return strings.TrimSpace(*p)
}

func (s *Service) handleListEvents(w http.ResponseWriter, r *http.Request) {
	if !s.requireStore(w) {
		return
	}
	limit := queryInt(r, "limit", 1000)
	events, err := s.deps.Store.ListEvents(r.Context(), limit, time.Now().AddDate(10, 0, 0))
	if err != nil {
		respondError(w, http.StatusInternalServerError, err.Error())
		return
	}
	respondData(w, http.StatusOK, s.eventsToJSON(events))
}

func (s *Service) handleCreateEvent(w http.ResponseWriter, r *http.Request) {
	if !s.requireStore(w) {
		return
	}
	var p eventPayload
	if err := decodeJSON(r, &p); err != nil {
		respondError(w, http.StatusBadRequest, "invalid body: "+err.Error())
		return
	}

	ev, err := s.eventFromPayload(p)
	if err != nil {
		respondError(w, http.StatusBadRequest, err.Error())
		return
	}
	if ev.ID == "" {
		ev.ID = uuid.NewString()
	}

	if err := s.deps.Store.CreateEvent(r.Context(), ev); err != nil {
		s.respondStoreErr(w, err)
		return
	}
	s.admitEvent(ev)
	s.wakeRecompute(r)
	respondData(w, http.StatusCreated, s.eventToJSON(ev))
}

// eventFromPayload builds a full event from a create/PUT payload,
// validating the required fields.
func (s *Service) eventFromPayload(p eventPayload) (storage.Event, error) {
	ev := storage.Event{
		ID:           strOr(p.ID, ""),
		Title:        strOr(p.Title, ""),
		Description:  strOr(p.Description, ""),
		Category:     strOr(p.Category, ""),
		NotifierName: strOr(p.Notifier, ""),
		ActionName:   strOr(p.Action, ""),
		Recur:        strOr(p.Recur, ""),
	}
	if ev.Title == "" {
		return ev, errors.New("title is required")
	}
	if p.Time == nil {
		return ev, errors.New("time is required")
	}
	t, err := s.parseEventTime(*p.Time)
	if err != nil {
		return ev, err
	}
	ev.Time = t
	if p.Duration != nil {
		if *p.Duration < 0 {
			return ev, errors.New("duration must not be negative")
		}
		ev.Duration = time.Duration(*p.Duration) * time.Second
	}
	if ev.Recur != "" {
		if err := validRecur(ev.Recur); err != nil {
			return ev, err
		}
	}
	return ev, nil
}

func (s *Service) handleGetEvent(w http.ResponseWriter, r *http.Request) {
	if !s.requireStore(w) {
		return
	}
	id := chi.URLParam(r, "id")
	ev, ok, err := s.deps.Store.GetEvent(r.Context(), id)
	if err != nil {
		respondError(w, http.StatusInternalServerError, err.Error())
		return
	}
	if !ok {
		respondError(w, http.StatusNotFound, "event not found")
		return
	}
	respondData(w, http.StatusOK, s.eventToJSON(ev))
}

func (s *Service) handleUpdateEvent(w http.ResponseWriter, r *http.Request) {
	if !s.requireStore(w) {
		return
	}
	id := chi.URLParam(r, "id")
	var p eventPayload
	if err := decodeJSON(r, &p); err != nil {
		respondError(w, http.StatusBadRequest, "invalid body: "+err.Error())
		return
	}
	ev, err := s.eventFromPayload(p)
	if err != nil {
		respondError(w, http.StatusBadRequest, err.Error())
		return
	}
	ev.ID = id

	if err := s.deps.Store.UpdateEvent(r.Context(), ev); err != nil {
		s.respondStoreErr(w, err)
		return
	}
	s.admitEvent(ev)
	s.wakeRecompute(r)
	respondData(w, http.StatusOK, s.eventToJSON(ev))
}

func (s *Service) handlePatchEvent(w http.ResponseWriter, r *http.Request) {
	if !s.requireStore(w) {
		return
	}
	id := chi.URLParam(r, "id")
	ev, ok, err := s.deps.Store.GetEvent(r.Context(), id)
	if err != nil {
		respondError(w, http.StatusInternalServerError, err.Error())
		return
	}
	if !ok {
		respondError(w, http.StatusNotFound, "event not found")
		return
	}

	var p eventPayload
	if err := decodeJSON(r, &p); err != nil {
		respondError(w, http.StatusBadRequest, "invalid body: "+err.Error())
		return
	}
	if p.Title != nil {
		ev.Title = strings.TrimSpace(*p.Title)
	}
	if p.Description != nil {
		ev.Description = strings.TrimSpace(*p.Description)
	}
	if p.Category != nil {
		ev.Category = strings.TrimSpace(*p.Category)
	}
	if p.Time != nil {
		t, err := s.parseEventTime(*p.Time)
		if err != nil {
			respondError(w, http.StatusBadRequest, err.Error())
			return
		}
		ev.Time = t
	}
	if p.Duration != nil {
		if *p.Duration < 0 {
			respondError(w, http.StatusBadRequest, "duration must not be negative")
			return
		}
		ev.Duration = time.Duration(*p.Duration) * time.Second
	}
	if p.Notifier != nil {
		ev.NotifierName = strings.TrimSpace(*p.Notifier)
	}
	if p.Action != nil {
		ev.ActionName = strings.TrimSpace(*p.Action)
	}
	if p.Recur != nil {
		recur := strings.TrimSpace(*p.Recur)
		if recur != "" {
			if err := validRecur(recur); err != nil {
				respondError(w, http.StatusBadRequest, err.Error())
				return
			}
		}
		ev.Recur = recur
	}
	if err := ev.Validate(); err != nil {
		respondError(w, http.StatusBadRequest, err.Error())
		return
	}

	if err := s.deps.Store.UpdateEvent(r.Context(), ev); err != nil {
		s.respondStoreErr(w, err)
		return
	}
	s.admitEvent(ev)
	s.wakeRecompute(r)
	respondData(w, http.StatusOK, s.eventToJSON(ev))
}

func (s *Service) handleDeleteEvent(w http.ResponseWriter, r *http.Request) {
	if !s.requireStore(w) {
		return
	}
	id := chi.URLParam(r, "id")
	if err := s.deps.Store.DeleteEvent(r.Context(), id); err != nil {
		s.respondStoreErr(w, err)
		return
	}
	if s.deps.Loop != nil {
		s.deps.Loop.Cancel(id)
	}
	s.wakeRecompute(r)
	respondData(w, http.StatusOK, map[string]string{"id": id})
}

func (s *Service) handleNextEvent(w http.ResponseWriter, r *http.Request) {
	if !s.requireStore(w) {
		return
	}
	now := time.Now()
	events, err := s.deps.Store.ListEventsBetween(r.Context(), now, now.AddDate(1, 0, 0))
	if err != nil {
		respondError(w, http.StatusInternalServerError, err.Error())
		return
	}
	if len(events) == 0 {
		respondData(w, http.StatusOK, nil)
		return
	}
	respondData(w, http.StatusOK, s.eventToJSON(events[0]))
}

func (s *Service) handleEventsByDay(w http.ResponseWriter, r *http.Request) {
	if !s.requireStore(w) {
		return
	}
	day, err := s.parseDay(chi.URLParam(r, "day"))
	if err != nil {
		respondError(w, http.StatusBadRequest, err.Error())
		return
	}
	from, to := s.dayWindow(day)
	events, err := s.deps.Store.ListEventsBetween(r.Context(), from, to)
	if err != nil {
		respondError(w, http.StatusInternalServerError, err.Error())
		return
	}
	respondData(w, http.StatusOK, s.eventsToJSON(events))
}

func (s *Service) handleEventsByRange(w http.ResponseWriter, r *http.Request) {
	if !s.requireStore(w) {
		return
	}
	from, to, err := s.parseRange(chi.URLParam(r, "start"), chi.URLParam(r, "end"))
	if err != nil {
		respondError(w, http.StatusBadRequest, err.Error())
		return
	}
	events, err := s.deps.Store.ListEventsBetween(r.Context(), from, to)
	if err != nil {
		respondError(w, http.StatusInternalServerError, err.Error())
		return
	}
	respondData(w, http.StatusOK, s.eventsToJSON(events))
}

// parseRange accepts day or datetime bounds. Day-form ends are inclusive:
// "2026-01-01".."2026-01-07" covers the whole final day.
func (s *Service) parseRange(start, end string) (time.Time, time.Time, error) {
	var from, to time.Time
	if day, err := s.parseDay(start); err == nil {
		from, _ = s.dayWindow(day)
	} else if from, err = s.parseEventTime(start); err != nil {
		return time.Time{}, time.Time{}, err
	}
	if day, err := s.parseDay(end); err == nil {
		_, to = s.dayWindow(day)
	} else if to, err = s.parseEventTime(end); err != nil {
		return time.Time{}, time.Time{}, err
	}
	if !to.After(from) {
		return time.Time{}, time.Time{}, errors.New("range end must be after start")
	}
	return from, to, nil
}

func (s *Service) handleSearchEvents(w http.ResponseWriter, r *http.Request) {
	if !s.requireStore(w) {
		return
	}
	q := strings.ToLower(strings.TrimSpace(r.URL.Query().Get("q")))
	if q == "" {
		respondError(w, http.StatusBadRequest, "query parameter q is required")
		return
	}
	max := queryInt(r, "max", 50)

	events, err := s.deps.Store.ListEvents(r.Context(), 1000, time.Now().AddDate(10, 0, 0))
	if err != nil {
		respondError(w, http.StatusInternalServerError, err.Error())
		return
	}
	matched := make([]storage.Event, 0, 16)
	for _, ev := range events {
		if strings.Contains(strings.ToLower(ev.Title), q) ||
			strings.Contains(strings.ToLower(ev.Description), q) {
			matched = append(matched, ev)
			if len(matched) >= max {
				break
			}
		}
	}
	respondData(w, http.StatusOK, s.eventsToJSON(matched))
}

func (s *Service) handleCategories(w http.ResponseWriter, r *http.Request) {
	if !s.requireStore(w) {
		return
	}
	events, err := s.deps.Store.ListEvents(r.Context(), 1000, time.Now().AddDate(10, 0, 0))
	if err != nil {
		respondError(w, http.StatusInternalServerError, err.Error())
		return
	}
	seen := map[string]struct{}{}
	for _, ev := range events {
		if c := strings.TrimSpace(ev.Category); c != "" {
			seen[c] = struct{}{}
		}
	}
	cats := make([]string, 0, len(seen))
	for c := range seen {
		cats = append(cats, c)
	}
	sort.Strings(cats)
	respondData(w, http.StatusOK, cats)
}

func (s *Service) handleConflicts(w http.ResponseWriter, r *http.Request) {
	if !s.requireStore(w) {
		return
	}
	at, err := s.parseEventTime(r.URL.Query().Get("time"))
	if err != nil {
		respondError(w, http.StatusBadRequest, err.Error())
		return
	}
	// Duration arrives in minutes on this route, matching the old clients.
	dur := time.Duration(queryInt(r, "duration", 60)) * time.Minute
	end := at.Add(dur)

	day, _ := s.dayWindow(at.In(s.deps.Loc))
	events, err := s.deps.Store.ListEventsBetween(r.Context(), day.AddDate(0, 0, -1), day.AddDate(0, 0, 2))
	if err != nil {
		respondError(w, http.StatusInternalServerError, err.Error())
		return
	}
	conflicts := make([]storage.Event, 0, 4)
	for _, ev := range events {
		evEnd := ev.Time.Add(ev.Duration)
		if ev.Time.Before(end) && evEnd.After(at) {
			conflicts = append(conflicts, ev)
		}
	}
	respondData(w, http.StatusOK, map[string]any{
		"has_conflicts": len(conflicts) > 0,
		"conflicts":     s.eventsToJSON(conflicts),
	})
}

func (s *Service) respondStoreErr(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, storage.ErrNotFound):
		respondError(w, http.StatusNotFound, "event not found")
	case errors.Is(err, storage.ErrExists):
		respondError(w, http.StatusConflict, "event id already exists")
	default:
		respondError(w, http.StatusInternalServerError, err.Error())
	}
}

func queryInt(r *http.Request, key string, def int) int {
	v := strings.TrimSpace(r.URL.Query().Get(key))
	if v == "" {
		return def
	}
	n, err := strconv.Atoi(v)
	if err != nil || n <= 0 {
		return def
	}
	return n
}
