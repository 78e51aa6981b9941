// Package agenda implements calendar policy over stored events: recurrence
// schedule parsing and expansion, free-slot computation, and event stats.
// It is pure computation; persistence and dispatch live elsewhere.
package agenda

import (
	"fmt"
	"regexp"
	"strings"
	"time"

	"github.com/robfig/cron/v3"
)

// SpecKind is the normalized kind of a recurrence string.
type SpecKind int

const (
	SpecCron SpecKind = iota
	SpecInterval
	SpecDaily
)

// ParsedSpec is a parsed recurrence string.
//
// Supported forms:
//   - Cron (crontab-style): "*/5 * * * *", "0 8 * * MON", "@hourly", "@every 55m"
//   - Interval duration: "55m", "2h30m" (repeats every span from the anchor)
//   - Daily HH:MM: "08:30" (every day at that local clock time)
//
// Optional prefixes:
//   - "cron:" forces cron parsing
//   - "interval:" or "every:" forces interval parsing
type ParsedSpec struct {
	Kind   SpecKind
	Cron   string
	Every  time.Duration
	Hour   int
	Minute int
	Source string // "cron" | "duration" | "hhmm"
}

var reHHMM = regexp.MustCompile(`^\s*(\d{1,2}):(\d{2})\s*$`)

// ParseSchedule parses a recurrence string.
func ParseSchedule(raw string) (ParsedSpec, error) {
	s := strings.TrimSpace(raw)
	if s == "" {
		return ParsedSpec{}, fmt.Errorf("schedule required")
	}

	low := strings.ToLower(s)
	if strings.HasPrefix(low, "cron:") {
		expr := strings.TrimSpace(s[len("cron:"):])
		if expr == "" {
			return ParsedSpec{}, fmt.Errorf("cron schedule required after 'cron:'")
		}
		if _, err := cron.ParseStandard(expr); err != nil {
			return ParsedSpec{}, fmt.Errorf("invalid cron %q: %w", expr, err)
		}
		return ParsedSpec{Kind: SpecCron, Cron: expr, Source: "cron"}, nil
	}
	for _, prefix := range []string{"interval:", "every:"} {
		if strings.HasPrefix(low, prefix) {
			v := strings.TrimSpace(s[len(prefix):])
			d, err := parseInterval(v)
			if err != nil {
				return ParsedSpec{}, err
			}
			return ParsedSpec{Kind: SpecInterval, Every: d, Source: "duration"}, nil
		}
	}

	// Whitespace or a leading '@' can only be cron.
	if strings.ContainsAny(s, " \t\n\r") || strings.HasPrefix(s, "@") {
		if _, err := cron.ParseStandard(s); err != nil {
			return ParsedSpec{}, fmt.Errorf("invalid cron %q: %w", s, err)
		}
		return ParsedSpec{Kind: SpecCron, Cron: s, Source: "cron"}, nil
	}

	// HH:MM reads as a daily clock time in this domain.
	if reHHMM.MatchString(s) {
		hh, mm, err := ParseClock(s)
		if err != nil {
			return ParsedSpec{}, err
		}
		return ParsedSpec{Kind: SpecDaily, Hour: hh, Minute: mm, Source: "hhmm"}, nil
	}

	if d, err := time.ParseDuration(s); err == nil {
		if d <= 0 {
			return ParsedSpec{}, fmt.Errorf("interval must be > 0")
		}
		return ParsedSpec{Kind: SpecInterval, Every: d, Source: "duration"}, nil
	}

	return ParsedSpec{}, fmt.Errorf(
		"invalid schedule %q (use cron like '*/5 * * * *', daily HH:MM like '08:30', or duration like '55m')",
		raw,
	)
}

func parseInterval(v string) (time.Duration, error) {
	v = strings.TrimSpace(v)
	if v == "" {
		return 0, fmt.Errorf("interval required")
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		return 0, fmt.Errorf("invalid interval %q (use a Go duration like '55m'/'2h30m')", v)
	}
	if d <= 0 {
		return 0, fmt.Errorf("interval must be > 0")
	}
	return d, nil
}

// ParseClock parses "HH:MM" as a 24h local clock time.
func ParseClock(v string) (hour, minute int, err error) {
	m := reHHMM.FindStringSubmatch(v)
	if len(m) != 3 {
		return 0, 0, fmt.Errorf("invalid clock time %q (use HH:MM)", v)
	}
	for i := 0; i < len(m[1]); i++ {
		hour = hour*10 + int(m[1][i]-'0')
	}
	minute = int(m[2][0]-'0')*10 + int(m[2][1]-'0')
	if hour > 23 {
		return 0, 0, fmt.Errorf("invalid hour in %q", v)
	}
	if minute > 59 {
		return 0, 0, fmt.Errorf("invalid minutes in %q", v)
	}
	return hour, minute, nil
}

// Schedule computes successive occurrences. cron.Schedule satisfies it.
type Schedule interface {
	Next(t time.Time) time.Time
}

// Schedule turns the parsed spec into an occurrence generator. loc applies
// to daily clock specs; nil means process-local time.
func (p ParsedSpec) Schedule(loc *time.Location) (Schedule, error) {
	if loc == nil {
		loc = time.Local
	}
	switch p.Kind {
	case SpecCron:
		return cron.ParseStandard(p.Cron)
	case SpecInterval:
		if p.Every <= 0 {
			return nil, fmt.Errorf("interval must be > 0")
		}
		return intervalSchedule{every: p.Every}, nil
	case SpecDaily:
		return dailySchedule{hour: p.Hour, minute: p.Minute, loc: loc}, nil
	default:
		return nil, fmt.Errorf("unknown schedule kind %d", p.Kind)
	}
}

type intervalSchedule struct{ every time.Duration }

func (s intervalSchedule) Next(t time.Time) time.Time { return t.Add(s.every) }

type dailySchedule struct {
	hour, minute int
	loc          *time.Location
}

func (s dailySchedule) Next(t time.Time) time.Time {
	lt := t.In(s.loc)
	next := time.Date(lt.Year(), lt.Month(), lt.Day(), s.hour, s.minute, 0, 0, s.loc)
	if !next.After(t) {
		next = next.AddDate(0, 0, 1)
	}
	return next
}
