package config

type Config struct {
	Logging LoggingConfig `json:"logging"`

	// Server controls the HTTP API surface (routes, auth, rate limiting).
	Server ServerConfig `json:"server"`

	// Storage selects the event/settings store backend.
	Storage StorageConfig `json:"storage"`

	// Wake controls the morning-wake policy and its daily maintenance task.
	Wake WakeConfig `json:"wake"`

	// Notify controls the async notification delivery pipeline.
	// If the whole section is omitted, the pipeline defaults to enabled=true.
	Notify *NotifyConfig `json:"notify,omitempty"`

	// Rehydrate tunes the startup task-rebuild pass. Usually left at defaults.
	Rehydrate *RehydrateConfig `json:"rehydrate,omitempty"`

	// Actions configures the builtin action callbacks.
	Actions *ActionsConfig `json:"actions,omitempty"`
}

type LoggingConfig struct {
	Level   string      `json:"level"`
	Console bool        `json:"console"`
	File    LoggingFile `json:"file"`
}

type LoggingFile struct {
	Enabled bool   `json:"enabled"`
	Path    string `json:"path"`
}

// ServerConfig controls the HTTP API server.
//
// Environment overrides (applied after the file is parsed, matching the
// well-known deployment variables): HOST, PORT, API_KEY, ADMIN_API_KEY,
// RATE_LIMIT, RATE_WINDOW (seconds).
//
// Defaults (when fields are omitted/zero):
//   - host: "127.0.0.1"
//   - port: 8080
//   - rate_limit: 100 requests per rate_window
//   - rate_window: "60s"
//   - read_timeout: "10s", write_timeout: "30s", idle_timeout: "60s"
//
// An empty api_key disables authentication entirely.
type ServerConfig struct {
	Enabled bool   `json:"enabled"`
	Host    string `json:"host,omitempty"`
	Port    int    `json:"port,omitempty"`

	APIKey      string `json:"api_key,omitempty"`       // do not log
	AdminAPIKey string `json:"admin_api_key,omitempty"` // do not log

	RateLimit  int    `json:"rate_limit,omitempty"`
	RateWindow string `json:"rate_window,omitempty"` // Go duration string

	ReadTimeout  string `json:"read_timeout,omitempty"`
	WriteTimeout string `json:"write_timeout,omitempty"`
	IdleTimeout  string `json:"idle_timeout,omitempty"`

	// Pprof mounts /debug/pprof on the API server.
	// Requests must come from loopback or carry the admin key.
	Pprof bool `json:"pprof,omitempty"`
}

// StorageConfig controls the persistence layer.
//
// Example:
//
//	"storage": { "driver": "sqlite", "path": "./events.db" }
type StorageConfig struct {
	Driver      string `json:"driver"`
	Path        string `json:"path"`
	BusyTimeout string `json:"busy_timeout,omitempty"` // Go duration string (sqlite)
}

// WakeConfig controls the daily wake task and its midnight maintenance cycle.
//
// DefaultTime is a 24h clock string ("HH:MM"). The scheduled wake is the
// earlier of DefaultTime and (first event of the day - Lead).
type WakeConfig struct {
	Enabled     bool   `json:"enabled"`
	DefaultTime string `json:"default_time,omitempty"` // default "07:00"
	Lead        string `json:"lead,omitempty"`         // Go duration string, default "30m"
	Timezone    string `json:"timezone,omitempty"`     // default: process-local
}

// NotifyConfig controls the async notification pipeline.
//
// All durations are Go duration strings (e.g. "500ms", "10s", "1m").
type NotifyConfig struct {
	Enabled         bool   `json:"enabled"`
	Workers         int    `json:"workers"`
	QueueSize       int    `json:"queue_size"`
	RatePerSec      int    `json:"rate_per_sec"`
	RetryMax        int    `json:"retry_max"`
	RetryBase       string `json:"retry_base"`
	RetryMaxDelay   string `json:"retry_max_delay"`
	DedupWindow     string `json:"dedup_window"`
	DedupMaxEntries int    `json:"dedup_max_entries"`
	PersistDedup    bool   `json:"persist_dedup,omitempty"`

	Telegram NotifyTelegram `json:"telegram"`
}

// NotifyTelegram configures the outbound telegram sink.
// The token is write-only configuration; it is never logged.
type NotifyTelegram struct {
	Enabled bool   `json:"enabled"`
	Token   string `json:"token,omitempty"`
	ChatID  int64  `json:"chat_id,omitempty"`
}

// RehydrateConfig tunes the startup pass that rebuilds scheduler tasks from
// stored events.
//
// Defaults (when fields are omitted/zero):
//   - horizon: "8760h" (one year)
//   - limit: 1000
//   - notify_lead: "10m"
type RehydrateConfig struct {
	Horizon    string `json:"horizon,omitempty"`
	Limit      int    `json:"limit,omitempty"`
	NotifyLead string `json:"notify_lead,omitempty"`
}

// ActionsConfig configures the builtin action callbacks.
//
// ProtocolURL receives the {"protocol_name", "arguments"} posts made by
// protocol_run and the lights actions. The protocol service historically
// runs next to the scheduler, hence the loopback default.
type ActionsConfig struct {
	ProtocolURL string `json:"protocol_url,omitempty"` // default "http://127.0.0.1:8000/protocols/run"
}
