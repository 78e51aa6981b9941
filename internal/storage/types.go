package storage

import (
	"errors"
	"strings"
	"time"
)

var (
	ErrDisabled = errors.New("storage disabled")

	// ErrNotFound is returned by Get/Update/Delete for unknown event ids.
	ErrNotFound = errors.New("storage: event not found")

	// ErrExists is returned by CreateEvent when the id is already taken.
	ErrExists = errors.New("storage: event already exists")
)

// Config configures storage.
//
// Driver values:
//   - "sqlite": SQLite database file (default)
//   - "memory": process-local store, nothing survives a restart
//
// If Driver is "none", storage is disabled and the process runs degraded
// (no rehydration, event routes unavailable).
type Config struct {
	Driver      string
	Path        string
	BusyTimeout time.Duration // sqlite only; 0 means default
}

// Event is one stored calendar entry. Keep it compact and schema-stable.
//
// Category mirrors sched.Category values; only "task" events are rebuilt
// into scheduler tasks after a restart. Recur optionally holds a schedule
// string (cron, "every:<dur>" or "HH:MM") for recurring entries.
type Event struct {
	ID           string
	Title        string
	Description  string
	Category     string
	Time         time.Time
	Duration     time.Duration
	NotifierName string
	ActionName   string
	Recur        string

	CreatedAt time.Time
	UpdatedAt time.Time
}

// Validate checks the fields every driver relies on.
func (e Event) Validate() error {
	if strings.TrimSpace(e.ID) == "" {
		return errors.New("storage: event id is empty")
	}
	if strings.TrimSpace(e.Title) == "" {
		return errors.New("storage: event title is empty")
	}
	if e.Time.IsZero() {
		return errors.New("storage: event time is zero")
	}
	return nil
}
