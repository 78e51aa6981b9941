package agenda

import (
	"fmt"
	"sort"
	"time"

	"schedd/internal/storage"
)

// DefaultMaxOccurrences caps a single expansion so a tight interval spec
// cannot produce an unbounded response.
const DefaultMaxOccurrences = 366

// Occurrence is one expanded instance of a recurring event.
type Occurrence struct {
	EventID string    `json:"event_id"`
	Title   string    `json:"title"`
	Start   time.Time `json:"start"`
	End     time.Time `json:"end"`
}

// Expand lists the occurrences of a recurring event inside [from, to).
// The event's own start time anchors the series: occurrences before it are
// skipped, and for one-shot events (no Recur) the start itself is the only
// candidate. max <= 0 means DefaultMaxOccurrences.
func Expand(ev storage.Event, from, to time.Time, loc *time.Location, max int) ([]Occurrence, error) {
	if !to.After(from) {
		return nil, fmt.Errorf("empty window: %s >= %s", from, to)
	}
	if max <= 0 {
		max = DefaultMaxOccurrences
	}
	dur := ev.Duration
	if dur < 0 {
		dur = 0
	}

	if ev.Recur == "" {
		if !ev.Time.Before(from) && ev.Time.Before(to) {
			return []Occurrence{{EventID: ev.ID, Title: ev.Title, Start: ev.Time, End: ev.Time.Add(dur)}}, nil
		}
		return nil, nil
	}

	spec, err := ParseSchedule(ev.Recur)
	if err != nil {
		return nil, fmt.Errorf("event %s: %w", ev.ID, err)
	}
	var sched Schedule
	if spec.Kind == SpecInterval {
		// Interval series stay aligned to the event's own start time.
		sched = anchoredInterval{anchor: ev.Time, every: spec.Every}
	} else {
		sched, err = spec.Schedule(loc)
		if err != nil {
			return nil, fmt.Errorf("event %s: %w", ev.ID, err)
		}
	}

	// Step from just before the anchor so an anchor that is itself on the
	// schedule counts as the first occurrence.
	cur := ev.Time.Add(-time.Nanosecond)
	if ev.Time.Before(from) {
		cur = from.Add(-time.Nanosecond)
	}

	var out []Occurrence
	for len(out) < max {
		next := sched.Next(cur)
		if next.IsZero() || !next.After(cur) {
			break
		}
		if !next.Before(to) {
			break
		}
		if !next.Before(from) && !next.Before(ev.Time) {
			out = append(out, Occurrence{EventID: ev.ID, Title: ev.Title, Start: next, End: next.Add(dur)})
		}
		cur = next
	}
	return out, nil
}

// anchoredInterval generates anchor + k*every for k >= 0. The additive
// intervalSchedule would drift off the anchor when stepped from an
// arbitrary window edge.
type anchoredInterval struct {
	anchor time.Time
	every  time.Duration
}

func (s anchoredInterval) Next(t time.Time) time.Time {
	if t.Before(s.anchor) {
		return s.anchor
	}
	n := t.Sub(s.anchor)/s.every + 1
	return s.anchor.Add(n * s.every)
}

// ExpandAll expands every recurring event over the window and merges the
// results in start order. Events whose spec fails to parse are skipped and
// reported alongside the merged list.
func ExpandAll(events []storage.Event, from, to time.Time, loc *time.Location, max int) ([]Occurrence, []error) {
	var (
		merged []Occurrence
		errs   []error
	)
	for _, ev := range events {
		if ev.Recur == "" {
			continue
		}
		occ, err := Expand(ev, from, to, loc, max)
		if err != nil {
			errs = append(errs, err)
			continue
		}
		merged = append(merged, occ...)
	}
	sort.Slice(merged, func(i, j int) bool {
		if !merged[i].Start.Equal(merged[j].Start) {
			return merged[i].Start.Before(merged[j].Start)
		}
		return merged[i].EventID < merged[j].EventID
	})
	return merged, errs
}
