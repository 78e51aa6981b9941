package server

import (
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"schedd/internal/agenda"
	"schedd/internal/builtin"
	"schedd/internal/storage"
	"schedd/pkg/logx"
)

func validRecur(recur string) error {
	if _, err := agenda.ParseSchedule(recur); err != nil {
		return fmt.Errorf("invalid recurrence %q: %v", recur, err)
	}
	return nil
}

// slotJSON presents a free slot with the duration in minutes, the unit the
// existing clients expect.
type slotJSON struct {
	Start           string `json:"start"`
	End             string `json:"end"`
	DurationMinutes int64  `json:"duration_minutes"`
}

func (s *Service) slotToJSON(sl agenda.Slot) slotJSON {
	return slotJSON{
		Start:           sl.Start.In(s.deps.Loc).Format(layoutDateTime),
		End:             sl.End.In(s.deps.Loc).Format(layoutDateTime),
		DurationMinutes: int64(sl.Duration / time.Minute),
	}
}

func (s *Service) handleAvailability(w http.ResponseWriter, r *http.Request) {
	day := time.Now()
	if v := strings.TrimSpace(r.URL.Query().Get("day")); v != "" {
		var err error
		if day, err = s.parseDay(v); err != nil {
			respondError(w, http.StatusBadRequest, err.Error())
			return
		}
	}
	s.freeSlotsForDay(w, r, day)
}

func (s *Service) handleFreeSlotsDay(w http.ResponseWriter, r *http.Request) {
	day, err := s.parseDay(chi.URLParam(r, "day"))
	if err != nil {
		respondError(w, http.StatusBadRequest, err.Error())
		return
	}
	s.freeSlotsForDay(w, r, day)
}

func (s *Service) freeSlotsForDay(w http.ResponseWriter, r *http.Request, day time.Time) {
	if !s.requireStore(w) {
		return
	}
	q := agenda.AvailabilityQuery{
		Day:       day,
		StartHour: queryInt(r, "start", 0),
		EndHour:   queryInt(r, "end", 0),
		MinSlot:   time.Duration(queryInt(r, "duration", 0)) * time.Minute,
		Loc:       s.deps.Loc,
	}
	from, to := s.dayWindow(day.In(s.deps.Loc))
	events, err := s.deps.Store.ListEventsBetween(r.Context(), from, to)
	if err != nil {
		respondError(w, http.StatusInternalServerError, err.Error())
		return
	}
	slots, err := agenda.FreeSlots(events, q)
	if err != nil {
		respondError(w, http.StatusBadRequest, err.Error())
		return
	}
	out := make([]slotJSON, 0, len(slots))
	for _, sl := range slots {
		out = append(out, s.slotToJSON(sl))
	}
	respondData(w, http.StatusOK, out)
}

func (s *Service) handleNextFreeSlot(w http.ResponseWriter, r *http.Request) {
	if !s.requireStore(w) {
		return
	}
	after := time.Now()
	if v := strings.TrimSpace(r.URL.Query().Get("after")); v != "" {
		var err error
		if after, err = s.parseEventTime(v); err != nil {
			respondError(w, http.StatusBadRequest, err.Error())
			return
		}
	}
	dur := time.Duration(queryInt(r, "duration", 60)) * time.Minute

	events, err := s.deps.Store.ListEventsBetween(r.Context(), after.AddDate(0, 0, -1), after.AddDate(0, 0, 15))
	if err != nil {
		respondError(w, http.StatusInternalServerError, err.Error())
		return
	}
	slot, ok, err := agenda.NextFreeSlot(events, after, dur, s.deps.Loc)
	if err != nil {
		respondError(w, http.StatusBadRequest, err.Error())
		return
	}
	if !ok {
		respondError(w, http.StatusNotFound, "no free slot in the next 14 days")
		return
	}
	respondData(w, http.StatusOK, s.slotToJSON(slot))
}

// recurringPayload is the create/update body for recurring entries. The
// schedule arrives either as a plain "recur" string or as the legacy
// "pattern" object.
type recurringPayload struct {
	ID          string          `json:"id"`
	Title       string          `json:"title"`
	Start       string          `json:"start"`
	Duration    *int64          `json:"duration"`
	Description string          `json:"description"`
	Category    string          `json:"category"`
	Notifier    string          `json:"notifier"`
	Action      string          `json:"action"`
	Recur       string          `json:"recur"`
	Pattern     json.RawMessage `json:"pattern"`
}

// patternToRecur folds the legacy pattern shapes into a schedule string:
// a bare string, {"cron": expr}, {"every": dur}, {"daily": "HH:MM"} or the
// type-discriminated {"type": ..., ...} form.
func patternToRecur(raw json.RawMessage) (string, error) {
	if len(raw) == 0 {
		return "", nil
	}
	var str string
	if err := json.Unmarshal(raw, &str); err == nil {
		return str, nil
	}
	var obj map[string]string
	if err := json.Unmarshal(raw, &obj); err != nil {
		return "", fmt.Errorf("pattern must be a string or an object of strings")
	}
	if v := obj["cron"]; v != "" {
		return "cron:" + v, nil
	}
	if v := obj["every"]; v != "" {
		return "every:" + v, nil
	}
	if v := obj["daily"]; v != "" {
		return v, nil
	}
	switch obj["type"] {
	case "cron":
		if v := obj["expr"]; v != "" {
			return "cron:" + v, nil
		}
	case "interval":
		if v := obj["interval"]; v != "" {
			return "every:" + v, nil
		}
	case "daily":
		if v := obj["time"]; v != "" {
			return v, nil
		}
	}
	return "", fmt.Errorf("unsupported pattern %s", string(raw))
}

// recurringJSON augments the stored entry with its next occurrence.
type recurringJSON struct {
	eventJSON
	Next string `json:"next,omitempty"`
}

func (s *Service) handleListRecurring(w http.ResponseWriter, r *http.Request) {
	if !s.requireStore(w) {
		return
	}
	events, err := s.deps.Store.ListEvents(r.Context(), 1000, time.Now().AddDate(10, 0, 0))
	if err != nil {
		respondError(w, http.StatusInternalServerError, err.Error())
		return
	}

	now := time.Now()
	horizon := now.AddDate(1, 0, 0)
	out := make([]recurringJSON, 0, 8)
	for _, ev := range events {
		if strings.TrimSpace(ev.Recur) == "" {
			continue
		}
		item := recurringJSON{eventJSON: s.eventToJSON(ev)}
		if occ, err := agenda.Expand(ev, now, horizon, s.deps.Loc, 1); err == nil && len(occ) > 0 {
			item.Next = occ[0].Start.In(s.deps.Loc).Format(layoutDateTime)
		}
		out = append(out, item)
	}
	respondData(w, http.StatusOK, out)
}

func (s *Service) handleCreateRecurring(w http.ResponseWriter, r *http.Request) {
	if !s.requireStore(w) {
		return
	}
	ev, err := s.recurringFromBody(r)
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
	respondData(w, http.StatusCreated, s.eventToJSON(ev))
}

func (s *Service) handleUpdateRecurring(w http.ResponseWriter, r *http.Request) {
	if !s.requireStore(w) {
		return
	}
	ev, err := s.recurringFromBody(r)
	if err != nil {
		respondError(w, http.StatusBadRequest, err.Error())
		return
	}
	ev.ID = chi.URLParam(r, "id")
	if err := s.deps.Store.UpdateEvent(r.Context(), ev); err != nil {
		s.respondStoreErr(w, err)
		return
	}
	s.admitEvent(ev)
	respondData(w, http.StatusOK, s.eventToJSON(ev))
}

func (s *Service) recurringFromBody(r *http.Request) (storage.Event, error) {
	var p recurringPayload
	if err := decodeJSON(r, &p); err != nil {
		return storage.Event{}, fmt.Errorf("invalid body: %v", err)
	}

	recur := strings.TrimSpace(p.Recur)
	if recur == "" {
		var err error
		if recur, err = patternToRecur(p.Pattern); err != nil {
			return storage.Event{}, err
		}
	}
	if recur == "" {
		return storage.Event{}, fmt.Errorf("recur or pattern is required")
	}
	if err := validRecur(recur); err != nil {
		return storage.Event{}, err
	}

	ev := storage.Event{
		ID:           strings.TrimSpace(p.ID),
		Title:        strings.TrimSpace(p.Title),
		Description:  strings.TrimSpace(p.Description),
		Category:     strings.TrimSpace(p.Category),
		NotifierName: strings.TrimSpace(p.Notifier),
		ActionName:   strings.TrimSpace(p.Action),
		Recur:        recur,
	}
	if ev.Title == "" {
		return ev, fmt.Errorf("title is required")
	}
	if strings.TrimSpace(p.Start) == "" {
		return ev, fmt.Errorf("start is required")
	}
	t, err := s.parseEventTime(p.Start)
	if err != nil {
		return ev, err
	}
	ev.Time = t
	if p.Duration != nil && *p.Duration > 0 {
		ev.Duration = time.Duration(*p.Duration) * time.Second
	}
	return ev, nil
}

// upcomingJSON is one expanded occurrence on the wire.
type upcomingJSON struct {
	EventID string `json:"event_id"`
	Title   string `json:"title"`
	Start   string `json:"start"`
	End     string `json:"end,omitempty"`
}

// handleUpcoming expands every recurring entry over the next N days
// (default 7) and returns the merged occurrence list in time order.
func (s *Service) handleUpcoming(w http.ResponseWriter, r *http.Request) {
	if !s.requireStore(w) {
		return
	}
	days := queryInt(r, "days", 7)
	max := queryInt(r, "max", 100)

	events, err := s.deps.Store.ListEvents(r.Context(), 1000, time.Now().AddDate(10, 0, 0))
	if err != nil {
		respondError(w, http.StatusInternalServerError, err.Error())
		return
	}
	now := time.Now()
	occs, expandErrs := agenda.ExpandAll(events, now, now.AddDate(0, 0, days), s.deps.Loc, max)
	for _, e := range expandErrs {
		s.log.Warn("recurrence expansion failed", logx.Err(e))
	}

	out := make([]upcomingJSON, 0, len(occs))
	for _, o := range occs {
		item := upcomingJSON{
			EventID: o.EventID,
			Title:   o.Title,
			Start:   o.Start.In(s.deps.Loc).Format(layoutDateTime),
		}
		if !o.End.IsZero() {
			item.End = o.End.In(s.deps.Loc).Format(layoutDateTime)
		}
		out = append(out, item)
	}
	respondData(w, http.StatusOK, out)
}

func (s *Service) handleEventStats(w http.ResponseWriter, r *http.Request) {
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
	st := agenda.ComputeStats(events, from, to, s.deps.Loc)

	byCat := make(map[string]map[string]int64, len(st.ByCategory))
	for cat, cs := range st.ByCategory {
		byCat[cat] = map[string]int64{
			"count":         int64(cs.Count),
			"total_minutes": int64(cs.TotalDuration / time.Minute),
		}
	}
	respondData(w, http.StatusOK, map[string]any{
		"from":          st.From.In(s.deps.Loc).Format(layoutDateTime),
		"to":            st.To.In(s.deps.Loc).Format(layoutDateTime),
		"total_events":  st.TotalEvents,
		"total_minutes": int64(st.TotalDuration / time.Minute),
		"by_category":   byCat,
		"busiest_day":   st.BusiestDay,
		"days":          st.Days,
	})
}

func (s *Service) handleStats(w http.ResponseWriter, r *http.Request) {
	data := map[string]any{}

	if s.deps.Loop != nil {
		snap := s.deps.Loop.Snapshot()
		loop := map[string]any{
			"running":    snap.Running,
			"pending":    len(snap.Pending),
			"dispatched": snap.Dispatched,
			"failed":     snap.Failed,
			"cancelled":  snap.Cancelled,
		}
		if !snap.NextDue.IsZero() {
			loop["next_due"] = snap.NextDue.In(s.deps.Loc).Format(layoutDateTime)
		}
		data["scheduler"] = loop
	}

	if s.deps.Store != nil {
		now := time.Now()
		if upcoming, err := s.deps.Store.ListEventsBetween(r.Context(), now, now.AddDate(0, 0, 30)); err == nil {
			data["events_next_30_days"] = len(upcoming)
		}
		if raw, ok, err := s.deps.Store.GetString(r.Context(), builtin.SettingsKeySpeedtest); err == nil && ok {
			data["speedtest_last"] = json.RawMessage(raw)
		}
	}

	if s.deps.Notify != nil {
		hist := s.deps.Notify.History()
		notifications := map[string]any{"recent": len(hist)}
		if n := len(hist); n > 0 {
			notifications["last_at"] = hist[n-1].At.In(s.deps.Loc).Format(layoutDateTime)
		}
		data["notifications"] = notifications
	}

	respondData(w, http.StatusOK, data)
}
