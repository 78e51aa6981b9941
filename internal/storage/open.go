package storage

import (
	"context"
	"errors"
	"strings"
	"time"

	logx "schedd/pkg/logx"
)

// Store is the persistence API used by the scheduler, the wake policy and
// the HTTP routes.
type Store interface {
	CreateEvent(ctx context.Context, e Event) error
	GetEvent(ctx context.Context, id string) (Event, bool, error)
	UpdateEvent(ctx context.Context, e Event) error
	DeleteEvent(ctx context.Context, id string) error

	// ListEvents returns up to limit events with Time <= until, ascending.
	// This is the rehydration query shape.
	ListEvents(ctx context.Context, limit int, until time.Time) ([]Event, error)

	// ListEventsBetween returns events with from <= Time < to, ascending.
	ListEventsBetween(ctx context.Context, from, to time.Time) ([]Event, error)

	GetString(ctx context.Context, key string) (value string, ok bool, err error)
	SetString(ctx context.Context, key, value string) error

	PutDedup(ctx context.Context, key string, until time.Time) error
	GetDedup(ctx context.Context, key string) (until time.Time, ok bool, err error)

	Close() error
}

// Open initializes the configured store.
// It returns (nil, nil) if storage is explicitly disabled.
func Open(cfg Config, log logx.Logger) (Store, error) {
	driver := strings.ToLower(strings.TrimSpace(cfg.Driver))
	if driver == "none" {
		return nil, nil
	}
	if log.IsZero() {
		log = logx.Nop()
	}

	switch driver {
	case "", "sqlite", "sqlite3":
		return openSQLite(cfg, log)
	case "memory":
		return newMemory(), nil
	default:
		return nil, errors.New("unknown storage driver: " + driver)
	}
}
