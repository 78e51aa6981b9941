package config

import (
	"reflect"
	"sort"
	"strings"

	logx "schedd/pkg/logx"
)

// SummarizeConfigChange returns (1) a compact list of changed sections and
// (2) safe structured attrs for logging (never includes secrets like API keys
// or bot tokens).
func SummarizeConfigChange(oldCfg, newCfg *Config) ([]string, []logx.Field) {
	if oldCfg == nil {
		oldCfg = &Config{}
	}
	if newCfg == nil {
		newCfg = &Config{}
	}

	changed := make([]string, 0, 6)
	attrs := make([]logx.Field, 0, 20)

	// Logging
	if oldCfg.Logging.Level != newCfg.Logging.Level ||
		oldCfg.Logging.Console != newCfg.Logging.Console ||
		oldCfg.Logging.File.Enabled != newCfg.Logging.File.Enabled ||
		strings.TrimSpace(oldCfg.Logging.File.Path) != strings.TrimSpace(newCfg.Logging.File.Path) {
		changed = append(changed, "logging")
		attrs = append(attrs,
			logx.String("logx.level", newCfg.Logging.Level),
			logx.Bool("logx.console", newCfg.Logging.Console),
			logx.Bool("logx.file_enabled", newCfg.Logging.File.Enabled),
		)
	}

	// Server (never log keys)
	oS := oldCfg.Server
	nS := newCfg.Server
	if oS.Enabled != nS.Enabled ||
		strings.TrimSpace(oS.Host) != strings.TrimSpace(nS.Host) ||
		oS.Port != nS.Port ||
		oS.RateLimit != nS.RateLimit ||
		strings.TrimSpace(oS.RateWindow) != strings.TrimSpace(nS.RateWindow) ||
		strings.TrimSpace(oS.ReadTimeout) != strings.TrimSpace(nS.ReadTimeout) ||
		strings.TrimSpace(oS.WriteTimeout) != strings.TrimSpace(nS.WriteTimeout) ||
		strings.TrimSpace(oS.IdleTimeout) != strings.TrimSpace(nS.IdleTimeout) ||
		oS.Pprof != nS.Pprof ||
		(strings.TrimSpace(oS.APIKey) != "") != (strings.TrimSpace(nS.APIKey) != "") ||
		(strings.TrimSpace(oS.AdminAPIKey) != "") != (strings.TrimSpace(nS.AdminAPIKey) != "") {
		changed = append(changed, "server")
		attrs = append(attrs,
			logx.Bool("server.enabled", nS.Enabled),
			logx.String("server.host", strings.TrimSpace(nS.Host)),
			logx.Int("server.port", nS.Port),
			logx.Int("server.rate_limit", nS.RateLimit),
			logx.Bool("server.api_key_set", strings.TrimSpace(nS.APIKey) != ""),
			logx.Bool("server.admin_key_set", strings.TrimSpace(nS.AdminAPIKey) != ""),
			logx.Bool("server.pprof", nS.Pprof),
		)
	}

	// Storage (persistence)
	if strings.TrimSpace(oldCfg.Storage.Driver) != strings.TrimSpace(newCfg.Storage.Driver) ||
		strings.TrimSpace(oldCfg.Storage.Path) != strings.TrimSpace(newCfg.Storage.Path) ||
		strings.TrimSpace(oldCfg.Storage.BusyTimeout) != strings.TrimSpace(newCfg.Storage.BusyTimeout) {
		changed = append(changed, "storage")
		attrs = append(attrs,
			logx.String("storage.driver", strings.TrimSpace(newCfg.Storage.Driver)),
			logx.Bool("storage.path_set", strings.TrimSpace(newCfg.Storage.Path) != ""),
			logx.String("storage.busy_timeout", strings.TrimSpace(newCfg.Storage.BusyTimeout)),
		)
	}

	// Wake
	if oldCfg.Wake != newCfg.Wake {
		changed = append(changed, "wake")
		attrs = append(attrs,
			logx.Bool("wake.enabled", newCfg.Wake.Enabled),
			logx.String("wake.default_time", strings.TrimSpace(newCfg.Wake.DefaultTime)),
			logx.String("wake.lead", strings.TrimSpace(newCfg.Wake.Lead)),
			logx.String("wake.timezone", strings.TrimSpace(newCfg.Wake.Timezone)),
		)
	}

	// Notify (never log token)
	// Note: section may be nil (omitted). Treat nil as runtime defaults for a
	// more accurate summary.
	defN := &NotifyConfig{
		Enabled:         true,
		Workers:         2,
		QueueSize:       512,
		RatePerSec:      3,
		RetryMax:        3,
		RetryBase:       "500ms",
		RetryMaxDelay:   "10s",
		DedupWindow:     "1m",
		DedupMaxEntries: 2000,
		PersistDedup:    false,
	}
	oldN := oldCfg.Notify
	newN := newCfg.Notify
	if oldN == nil {
		oldN = defN
	}
	if newN == nil {
		newN = defN
	}
	if !reflect.DeepEqual(*oldN, *newN) {
		changed = append(changed, "notify")
		attrs = append(attrs,
			logx.Bool("notify.enabled", newN.Enabled),
			logx.Int("notify.workers", newN.Workers),
			logx.Int("notify.queue_size", newN.QueueSize),
			logx.Int("notify.rate_per_sec", newN.RatePerSec),
			logx.Int("notify.retry_max", newN.RetryMax),
			logx.Bool("notify.persist_dedup", newN.PersistDedup),
			logx.Bool("notify.telegram_enabled", newN.Telegram.Enabled),
			logx.Bool("notify.telegram_token_set", strings.TrimSpace(newN.Telegram.Token) != ""),
		)
	}

	// Rehydrate
	oR := derefRehydrate(oldCfg.Rehydrate)
	nR := derefRehydrate(newCfg.Rehydrate)
	if oR != nR {
		changed = append(changed, "rehydrate")
		attrs = append(attrs,
			logx.String("rehydrate.horizon", strings.TrimSpace(nR.Horizon)),
			logx.Int("rehydrate.limit", nR.Limit),
			logx.String("rehydrate.notify_lead", strings.TrimSpace(nR.NotifyLead)),
		)
	}

	// Actions
	oA := derefActions(oldCfg.Actions)
	nA := derefActions(newCfg.Actions)
	if oA != nA {
		changed = append(changed, "actions")
		attrs = append(attrs,
			logx.String("actions.protocol_url", strings.TrimSpace(nA.ProtocolURL)),
		)
	}

	sort.Strings(changed)
	return changed, attrs
}

func derefRehydrate(r *RehydrateConfig) RehydrateConfig {
	if r == nil {
		return RehydrateConfig{}
	}
	return *r
}

func derefActions(a *ActionsConfig) ActionsConfig {
	if a == nil {
		return ActionsConfig{}
	}
	return *a
}
