package storage

import (
	"context"
	"errors"
	"sort"
	"sync"
	"time"
)

// memoryStore keeps everything in process memory. Nothing survives a
// restart, which also means rehydration finds nothing; it exists for tests
// and ephemeral runs.
type memoryStore struct {
	mu       sync.Mutex
	events   map[string]Event
	settings map[string]string
	dedup    map[string]time.Time
}

func newMemory() Store {
	return &memoryStore{
		events:   map[string]Event{},
		settings: map[string]string{},
		dedup:    map[string]time.Time{},
	}
}

func (m *memoryStore) Close() error { return nil }

// ---- events ----

func (m *memoryStore) CreateEvent(ctx context.Context, e Event) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if err := e.Validate(); err != nil {
		return err
	}
	now := time.Now()
	if e.CreatedAt.IsZero() {
		e.CreatedAt = now
	}
	e.UpdatedAt = now
	if e.Category == "" {
		e.Category = "task"
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.events[e.ID]; ok {
		return ErrExists
	}
	m.events[e.ID] = e
	return nil
}

func (m *memoryStore) GetEvent(ctx context.Context, id string) (Event, bool, error) {
	if err := ctx.Err(); err != nil {
		return Event{}, false, err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	e, ok := m.events[id]
	return e, ok, nil
}

func (m *memoryStore) UpdateEvent(ctx context.Context, e Event) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if err := e.Validate(); err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	prev, ok := m.events[e.ID]
	if !ok {
		return ErrNotFound
	}
	e.CreatedAt = prev.CreatedAt
	e.UpdatedAt = time.Now()
	if e.Category == "" {
		e.Category = "task"
	}
	m.events[e.ID] = e
	return nil
}

func (m *memoryStore) DeleteEvent(ctx context.Context, id string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.events[id]; !ok {
		return ErrNotFound
	}
	delete(m.events, id)
	return nil
}

func (m *memoryStore) ListEvents(ctx context.Context, limit int, until time.Time) ([]Event, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if limit <= 0 {
		limit = 1000
	}
	m.mu.Lock()
	out := make([]Event, 0, len(m.events))
	for _, e := range m.events {
		if !e.Time.After(until) {
			out = append(out, e)
		}
	}
	m.mu.Unlock()

	sortEvents(out)
	if len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (m *memoryStore) ListEventsBetween(ctx context.Context, from, to time.Time) ([]Event, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	m.mu.Lock()
	var out []Event
	for _, e := range m.events {
		if !e.Time.Before(from) && e.Time.Before(to) {
			out = append(out, e)
		}
	}
	m.mu.Unlock()

	sortEvents(out)
	return out, nil
}

// sortEvents matches the sqlite ordering: time ascending, id as tie-break.
func sortEvents(evs []Event) {
	sort.Slice(evs, func(i, j int) bool {
		if !evs[i].Time.Equal(evs[j].Time) {
			return evs[i].Time.Before(evs[j].Time)
		}
		return evs[i].ID < evs[j].ID
	})
}

// ---- settings ----

func (m *memoryStore) GetString(ctx context.Context, key string) (string, bool, error) {
	if err := ctx.Err(); err != nil {
		return "", false, err
	}
	if key == "" {
		return "", false, nil
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	v, ok := m.settings[key]
	return v, ok, nil
}

func (m *memoryStore) SetString(ctx context.Context, key, value string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if key == "" {
		return errors.New("storage: settings key is empty")
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.settings[key] = value
	return nil
}

// ---- dedup ----

func (m *memoryStore) PutDedup(ctx context.Context, key string, until time.Time) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if key == "" {
		return nil
	}
	now := time.Now()
	m.mu.Lock()
	defer m.mu.Unlock()
	m.dedup[key] = until
	for k, u := range m.dedup {
		if u.Before(now) {
			delete(m.dedup, k)
		}
	}
	return nil
}

func (m *memoryStore) GetDedup(ctx context.Context, key string) (time.Time, bool, error) {
	if err := ctx.Err(); err != nil {
		return time.Time{}, false, err
	}
	if key == "" {
		return time.Time{}, false, nil
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	u, ok := m.dedup[key]
	return u, ok, nil
}
