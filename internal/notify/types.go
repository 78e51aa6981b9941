package notify

import "time"

// Config controls the async notification pipeline.
type Config struct {
	Enabled         bool
	Workers         int
	QueueSize       int
	RatePerSec      int
	RetryMax        int
	RetryBase       time.Duration
	RetryMaxDelay   time.Duration
	DedupWindow     time.Duration
	DedupMaxEntries int
	PersistDedup    bool
}

// Notification is one message on its way to the configured sink.
type Notification struct {
	TaskID   string
	Title    string
	Text     string
	Priority int
}

type HistoryItem struct {
	At     time.Time `json:"at"`
	TaskID string    `json:"task_id,omitempty"`
	Text   string    `json:"text"`
}

// NotificationEvent is emitted on the event bus for notify lifecycle events
// (notify.queued, notify.sent, notify.failed, notify.deduped,
// notify.dropped). Keep it small; Data may be logged by subscribers.
type NotificationEvent struct {
	Sink   string    `json:"sink"`
	TaskID string    `json:"task_id,omitempty"`
	Key    string    `json:"key"`
	At     time.Time `json:"at"`
	Error  string    `json:"error,omitempty"`
}
