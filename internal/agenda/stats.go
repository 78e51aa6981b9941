package agenda

import (
	"sort"
	"time"

	"schedd/internal/storage"
)

// CategoryStats aggregates the events of one category.
type CategoryStats struct {
	Count         int           `json:"count"`
	TotalDuration time.Duration `json:"total_duration"`
}

// Stats summarizes stored events over a range.
type Stats struct {
	From          time.Time                `json:"from"`
	To            time.Time                `json:"to"`
	TotalEvents   int                      `json:"total_events"`
	TotalDuration time.Duration            `json:"total_duration"`
	ByCategory    map[string]CategoryStats `json:"by_category"`
	BusiestDay    string                   `json:"busiest_day,omitempty"` // YYYY-MM-DD with most events
	Days          []DayCount               `json:"days,omitempty"`
}

// DayCount is the event count for one calendar day.
type DayCount struct {
	Day   string `json:"day"`
	Count int    `json:"count"`
}

// ComputeStats aggregates events with start in [from, to). Day boundaries
// follow loc; nil means process-local time.
func ComputeStats(events []storage.Event, from, to time.Time, loc *time.Location) Stats {
	if loc == nil {
		loc = time.Local
	}
	st := Stats{From: from, To: to, ByCategory: make(map[string]CategoryStats)}
	perDay := make(map[string]int)

	for _, ev := range events {
		if ev.Time.Before(from) || !ev.Time.Before(to) {
			continue
		}
		st.TotalEvents++
		if ev.Duration > 0 {
			st.TotalDuration += ev.Duration
		}
		cat := ev.Category
		if cat == "" {
			cat = "uncategorized"
		}
		cs := st.ByCategory[cat]
		cs.Count++
		if ev.Duration > 0 {
			cs.TotalDuration += ev.Duration
		}
		st.ByCategory[cat] = cs
		perDay[ev.Time.In(loc).Format("2006-01-02")]++
	}

	st.Days = make([]DayCount, 0, len(perDay))
	for day, n := range perDay {
		st.Days = append(st.Days, DayCount{Day: day, Count: n})
	}
	sort.Slice(st.Days, func(i, j int) bool { return st.Days[i].Day < st.Days[j].Day })

	best := 0
	for _, dc := range st.Days {
		if dc.Count > best {
			best = dc.Count
			st.BusiestDay = dc.Day
		}
	}
	return st
}
