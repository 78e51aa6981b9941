package server

import (
	"net/http"
	"net/url"
	"strings"

	"schedd/internal/wake"
)

func (s *Service) requireWake(w http.ResponseWriter) bool {
	if s.deps.Wake == nil {
		respondError(w, http.StatusServiceUnavailable, "wake scheduler is unavailable")
		return false
	}
	return true
}

func (s *Service) handleWakeStatus(w http.ResponseWriter, _ *http.Request) {
	if !s.requireWake(w) {
		return
	}
	st := s.deps.Wake.Status()
	data := map[string]any{
		"enabled":      st.Enabled,
		"scheduled":    st.Scheduled,
		"maintenance":  st.Maintenance,
		"default_time": st.DefaultTime,
		"lead":         st.Lead,
		"timezone":     st.Timezone,
	}
	if st.Scheduled {
		data["task_id"] = st.TaskID
		data["next_wake"] = st.NextWake.In(s.deps.Loc).Format(layoutDateTime)
	}
	respondData(w, http.StatusOK, data)
}

// handleWakeReschedule recomputes today's wake on demand, e.g. after the
// downstream calendar changed outside this API.
func (s *Service) handleWakeReschedule(w http.ResponseWriter, r *http.Request) {
	if !s.requireWake(w) {
		return
	}
	at, err := s.deps.Wake.ScheduleToday(r.Context())
	if err != nil {
		respondError(w, http.StatusInternalServerError, err.Error())
		return
	}
	data := map[string]any{"scheduled": !at.IsZero()}
	if !at.IsZero() {
		data["next_wake"] = at.In(s.deps.Loc).Format(layoutDateTime)
	}
	respondData(w, http.StatusOK, data)
}

func (s *Service) handleGetWakeURL(w http.ResponseWriter, r *http.Request) {
	if !s.requireStore(w) {
		return
	}
	v, ok, err := s.deps.Store.GetString(r.Context(), wake.SettingsKeyServerURL)
	if err != nil {
		respondError(w, http.StatusInternalServerError, err.Error())
		return
	}
	respondData(w, http.StatusOK, map[string]any{"url": v, "configured": ok && v != ""})
}

// handlePutWakeURL sets (or, with an empty url, clears) the wake webhook
// target. Admin-gated in the router.
func (s *Service) handlePutWakeURL(w http.ResponseWriter, r *http.Request) {
	if !s.requireStore(w) {
		return
	}
	var body struct {
		URL string `json:"url"`
	}
	if err := decodeJSON(r, &body); err != nil {
		respondError(w, http.StatusBadRequest, "invalid body: "+err.Error())
		return
	}
	target := strings.TrimSpace(body.URL)
	if target != "" {
		u, err := url.Parse(target)
		if err != nil || (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
			respondError(w, http.StatusBadRequest, "url must be absolute http(s)")
			return
		}
	}
	if err := s.deps.Store.SetString(r.Context(), wake.SettingsKeyServerURL, target); err != nil {
		respondError(w, http.StatusInternalServerError, err.Error())
		return
	}
	respondData(w, http.StatusOK, map[string]any{"url": target, "configured": target != ""})
}
