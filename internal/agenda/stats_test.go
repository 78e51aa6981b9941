package agenda

import (
	"testing"
	"time"

	"schedd/internal/storage"
)

func TestComputeStats(t *testing.T) {
	t.Parallel()
	from := time.Date(2026, 5, 1, 0, 0, 0, 0, time.UTC)
	to := from.AddDate(0, 0, 7)
	events := []storage.Event{
		{ID: "1", Category: "work", Time: from.Add(10 * time.Hour), Duration: time.Hour},
		{ID: "2", Category: "work", Time: from.Add(34 * time.Hour), Duration: 30 * time.Minute},
		{ID: "3", Category: "personal", Time: from.Add(35 * time.Hour), Duration: 2 * time.Hour},
		{ID: "4", Time: from.Add(36 * time.Hour)},
		{ID: "before", Category: "work", Time: from.Add(-time.Hour), Duration: time.Hour},
		{ID: "after", Category: "work", Time: to, Duration: time.Hour},
	}

	st := ComputeStats(events, from, to, time.UTC)
	if st.TotalEvents != 4 {
		t.Fatalf("TotalEvents = %d, want 4", st.TotalEvents)
	}
	if st.TotalDuration != 3*time.Hour+30*time.Minute {
		t.Fatalf("TotalDuration = %v", st.TotalDuration)
	}
	if got := st.ByCategory["work"]; got.Count != 2 || got.TotalDuration != 90*time.Minute {
		t.Fatalf("work stats = %+v", got)
	}
	if got := st.ByCategory["personal"]; got.Count != 1 {
		t.Fatalf("personal stats = %+v", got)
	}
	if got := st.ByCategory["uncategorized"]; got.Count != 1 {
		t.Fatalf("uncategorized stats = %+v", got)
	}
	// Day two holds three events, day one a single one.
	if st.BusiestDay != "2026-05-02" {
		t.Fatalf("BusiestDay = %s", st.BusiestDay)
	}
	if len(st.Days) != 2 {
		t.Fatalf("Days = %+v", st.Days)
	}
	if st.Days[0].Day != "2026-05-01" || st.Days[0].Count != 1 {
		t.Fatalf("Days[0] = %+v", st.Days[0])
	}
}

func TestComputeStatsEmpty(t *testing.T) {
	t.Parallel()
	from := time.Date(2026, 5, 1, 0, 0, 0, 0, time.UTC)
	st := ComputeStats(nil, from, from.AddDate(0, 0, 1), nil)
	if st.TotalEvents != 0 || st.BusiestDay != "" || len(st.Days) != 0 {
		t.Fatalf("unexpected stats: %+v", st)
	}
}
