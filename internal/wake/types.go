// Package wake layers the morning-wake policy on top of the scheduler
// loop: one wake task per day, plus a self-sustaining midnight maintenance
// task that recomputes the next day's wake.
package wake

import (
	"time"
)

// SettingsKeyServerURL is the settings entry holding the wake webhook
// target. Absent or empty means the wake action is a no-op.
const SettingsKeyServerURL = "wake.server_url"

// Registry names for the two actions this package owns.
const (
	ActionWake        = "wake"
	ActionMaintenance = "wake.maintenance"
)

const (
	defaultClock = "07:00"
	defaultLead  = 30 * time.Minute
)

// Config is the wake policy.
type Config struct {
	Enabled bool

	// DefaultTime is the fallback wake clock ("HH:MM", 24h).
	DefaultTime string

	// Lead is how long before the day's earliest event the wake fires when
	// that event starts before DefaultTime.
	Lead time.Duration

	// Timezone is an IANA name; empty means process-local time.
	Timezone string
}

func (c Config) withDefaults() Config {
	if c.DefaultTime == "" {
		c.DefaultTime = defaultClock
	}
	if c.Lead <= 0 {
		c.Lead = defaultLead
	}
	return c
}

// Status is the current wake state for the HTTP routes.
type Status struct {
	Enabled     bool      `json:"enabled"`
	Scheduled   bool      `json:"scheduled"`
	NextWake    time.Time `json:"next_wake"`
	TaskID      string    `json:"task_id,omitempty"`
	Maintenance bool      `json:"maintenance"`
	DefaultTime string    `json:"default_time"`
	Lead        string    `json:"lead"`
	Timezone    string    `json:"timezone"`
}

// midnightSchedule yields the next local midnight strictly after t.
// time.Date normalizes day overflow, so month and year ends need no
// special casing.
type midnightSchedule struct {
	loc *time.Location
}

func (s midnightSchedule) Next(t time.Time) time.Time {
	lt := t.In(s.loc)
	return time.Date(lt.Year(), lt.Month(), lt.Day()+1, 0, 0, 0, 0, s.loc)
}

// wakePayload is what the wake action POSTs to the configured server.
type wakePayload struct {
	Event string    `json:"event"`
	At    time.Time `json:"at"`
}
