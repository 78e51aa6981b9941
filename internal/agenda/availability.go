package agenda

import (
	"fmt"
	"sort"
	"time"

	"schedd/internal/storage"
)

// Working-hours defaults for free-slot queries.
const (
	DefaultDayStartHour = 9
	DefaultDayEndHour   = 17
	DefaultMinSlot      = 30 * time.Minute
)

// Slot is a contiguous span with no scheduled events.
type Slot struct {
	Start    time.Time     `json:"start"`
	End      time.Time     `json:"end"`
	Duration time.Duration `json:"duration"`
}

// AvailabilityQuery bounds a free-slot search to one day's working hours.
type AvailabilityQuery struct {
	Day       time.Time // any instant inside the day, interpreted in Loc
	StartHour int
	EndHour   int
	MinSlot   time.Duration
	Loc       *time.Location
}

func (q *AvailabilityQuery) normalize() error {
	if q.Loc == nil {
		q.Loc = time.Local
	}
	if q.StartHour == 0 && q.EndHour == 0 {
		q.StartHour, q.EndHour = DefaultDayStartHour, DefaultDayEndHour
	}
	if q.MinSlot <= 0 {
		q.MinSlot = DefaultMinSlot
	}
	if q.StartHour < 0 || q.StartHour > 23 || q.EndHour < 1 || q.EndHour > 24 {
		return fmt.Errorf("hours out of range: start=%d end=%d", q.StartHour, q.EndHour)
	}
	if q.EndHour <= q.StartHour {
		return fmt.Errorf("end hour %d must be after start hour %d", q.EndHour, q.StartHour)
	}
	return nil
}

// Window is the [start, end) span of the query's working hours.
func (q AvailabilityQuery) Window() (time.Time, time.Time) {
	d := q.Day.In(q.Loc)
	start := time.Date(d.Year(), d.Month(), d.Day(), q.StartHour, 0, 0, 0, q.Loc)
	end := time.Date(d.Year(), d.Month(), d.Day(), 0, 0, 0, 0, q.Loc).Add(time.Duration(q.EndHour) * time.Hour)
	return start, end
}

// FreeSlots returns the gaps of at least MinSlot between the given events
// inside the query window. Events straddling the window are clipped to it,
// overlapping events are merged before gaps are measured, and a
// zero-duration event splits a slot at its instant.
func FreeSlots(events []storage.Event, q AvailabilityQuery) ([]Slot, error) {
	if err := q.normalize(); err != nil {
		return nil, err
	}
	winStart, winEnd := q.Window()

	type span struct{ start, end time.Time }
	var busy []span
	for _, ev := range events {
		s, e := ev.Time, ev.Time.Add(ev.Duration)
		if !e.After(winStart) || !s.Before(winEnd) {
			continue
		}
		if s.Before(winStart) {
			s = winStart
		}
		if e.After(winEnd) {
			e = winEnd
		}
		busy = append(busy, span{s, e})
	}
	sort.Slice(busy, func(i, j int) bool { return busy[i].start.Before(busy[j].start) })

	var merged []span
	for _, b := range busy {
		if n := len(merged); n > 0 && !b.start.After(merged[n-1].end) {
			if b.end.After(merged[n-1].end) {
				merged[n-1].end = b.end
			}
			continue
		}
		merged = append(merged, b)
	}

	var out []Slot
	cursor := winStart
	for _, b := range merged {
		if gap := b.start.Sub(cursor); gap >= q.MinSlot {
			out = append(out, Slot{Start: cursor, End: b.start, Duration: gap})
		}
		if b.end.After(cursor) {
			cursor = b.end
		}
	}
	if gap := winEnd.Sub(cursor); gap >= q.MinSlot {
		out = append(out, Slot{Start: cursor, End: winEnd, Duration: gap})
	}
	return out, nil
}

// NextFreeSlot finds the first gap of at least dur, scanning day by day from
// the given instant. It looks at most 14 days ahead.
func NextFreeSlot(events []storage.Event, after time.Time, dur time.Duration, loc *time.Location) (Slot, bool, error) {
	if dur <= 0 {
		dur = DefaultMinSlot
	}
	for day := 0; day < 14; day++ {
		q := AvailabilityQuery{Day: after.AddDate(0, 0, day), MinSlot: dur, Loc: loc}
		slots, err := FreeSlots(events, q)
		if err != nil {
			return Slot{}, false, err
		}
		for _, s := range slots {
			if s.End.Sub(after) < dur || s.End.Before(after) {
				continue
			}
			start := s.Start
			if start.Before(after) {
				start = after
			}
			if s.End.Sub(start) >= dur {
				return Slot{Start: start, End: s.End, Duration: s.End.Sub(start)}, true, nil
			}
		}
	}
	return Slot{}, false, nil
}
