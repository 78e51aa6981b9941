package app

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"schedd/internal/agenda"
	"schedd/internal/config"
	"schedd/internal/notify"
	"schedd/internal/rehydrate"
	"schedd/internal/server"
	"schedd/internal/storage"
	"schedd/internal/wake"
	logx "schedd/pkg/logx"
)

// These map the file config (string durations, optional sections) into the
// typed per-service configs, applying defaults in one place so hot reload
// and initial construction agree on the result.

func mapLoggingConfig(cfg *config.Config) logx.Config {
	return logx.Config{
		Level:   cfg.Logging.Level,
		Console: cfg.Logging.Console,
		File: logx.FileConfig{
			Enabled: cfg.Logging.File.Enabled,
			Path:    cfg.Logging.File.Path,
		},
	}
}

// mapServerConfig folds in the deployment environment variables the
// original server honored: HOST, PORT, API_KEY, ADMIN_API_KEY, RATE_LIMIT
// and RATE_WINDOW (seconds). Env wins over file.
func mapServerConfig(cfg *config.Config) (server.Config, error) {
	sc := cfg.Server

	rateWindow, err := config.ParseDurationField("server.rate_window", sc.RateWindow)
	if err != nil {
		return server.Config{}, err
	}
	readTO, err := config.ParseDurationField("server.read_timeout", sc.ReadTimeout)
	if err != nil {
		return server.Config{}, err
	}
	writeTO, err := config.ParseDurationField("server.write_timeout", sc.WriteTimeout)
	if err != nil {
		return server.Config{}, err
	}
	idleTO, err := config.ParseDurationField("server.idle_timeout", sc.IdleTimeout)
	if err != nil {
		return server.Config{}, err
	}

	out := server.Config{
		Enabled:      sc.Enabled,
		Host:         strings.TrimSpace(sc.Host),
		Port:         sc.Port,
		APIKey:       strings.TrimSpace(sc.APIKey),
		AdminAPIKey:  strings.TrimSpace(sc.AdminAPIKey),
		RateLimit:    sc.RateLimit,
		RateWindow:   rateWindow,
		ReadTimeout:  readTO,
		WriteTimeout: writeTO,
		IdleTimeout:  idleTO,
		Pprof:        sc.Pprof,
	}
	if out.RateLimit == 0 {
		out.RateLimit = 100
	}

	if v, ok := envString("HOST"); ok {
		out.Host = v
	}
	if v, ok := envString("PORT"); ok {
		p, err := strconv.Atoi(v)
		if err != nil || p <= 0 || p > 65535 {
			return server.Config{}, fmt.Errorf("PORT: invalid value %q", v)
		}
		out.Port = p
	}
	if v, ok := envString("API_KEY"); ok {
		out.APIKey = v
	}
	if v, ok := envString("ADMIN_API_KEY"); ok {
		out.AdminAPIKey = v
	}
	if v, ok := envString("RATE_LIMIT"); ok {
		n, err := strconv.Atoi(v)
		if err != nil || n < 0 {
			return server.Config{}, fmt.Errorf("RATE_LIMIT: invalid value %q", v)
		}
		out.RateLimit = n
	}
	if v, ok := envString("RATE_WINDOW"); ok {
		secs, err := strconv.Atoi(v)
		if err != nil || secs <= 0 {
			return server.Config{}, fmt.Errorf("RATE_WINDOW: invalid value %q", v)
		}
		out.RateWindow = time.Duration(secs) * time.Second
	}
	return out, nil
}

func envString(key string) (string, bool) {
	v, ok := os.LookupEnv(key)
	v = strings.TrimSpace(v)
	return v, ok && v != ""
}

func mapStorageConfig(cfg *config.Config) (storage.Config, error) {
	sc := cfg.Storage
	busy, err := config.ParseDurationOrDefault("storage.busy_timeout", sc.BusyTimeout, time.Second)
	if err != nil {
		return storage.Config{}, err
	}
	return storage.Config{
		Driver:      strings.TrimSpace(sc.Driver),
		Path:        strings.TrimSpace(sc.Path),
		BusyTimeout: busy,
	}, nil
}

func mapWakeConfig(cfg *config.Config) (wake.Config, error) {
	wc := cfg.Wake
	if v := strings.TrimSpace(wc.DefaultTime); v != "" {
		if _, _, err := agenda.ParseClock(v); err != nil {
			return wake.Config{}, fmt.Errorf("wake.default_time: %w", err)
		}
	}
	if tz := strings.TrimSpace(wc.Timezone); tz != "" {
		if _, err := time.LoadLocation(tz); err != nil {
			return wake.Config{}, fmt.Errorf("wake.timezone: invalid %q: %w", tz, err)
		}
	}
	lead, err := config.ParseDurationField("wake.lead", wc.Lead)
	if err != nil {
		return wake.Config{}, err
	}
	return wake.Config{
		Enabled:     wc.Enabled,
		DefaultTime: strings.TrimSpace(wc.DefaultTime),
		Lead:        lead,
		Timezone:    strings.TrimSpace(wc.Timezone),
	}, nil
}

func mapNotifyConfig(cfg *config.Config) (notify.Config, error) {
	// An omitted section means "enabled with defaults"; the pipeline is
	// harmless without a telegram sink (console fallback).
	nc := cfg.Notify
	if nc == nil {
		nc = &config.NotifyConfig{Enabled: true}
	}

	retryBase, err := config.ParseDurationOrDefault("notify.retry_base", nc.RetryBase, 500*time.Millisecond)
	if err != nil {
		return notify.Config{}, err
	}
	retryMaxDelay, err := config.ParseDurationOrDefault("notify.retry_max_delay", nc.RetryMaxDelay, 10*time.Second)
	if err != nil {
		return notify.Config{}, err
	}
	dedupWindow, err := config.ParseDurationOrDefault("notify.dedup_window", nc.DedupWindow, time.Minute)
	if err != nil {
		return notify.Config{}, err
	}

	out := notify.Config{
		Enabled:         nc.Enabled,
		Workers:         nc.Workers,
		QueueSize:       nc.QueueSize,
		RatePerSec:      nc.RatePerSec,
		RetryMax:        nc.RetryMax,
		RetryBase:       retryBase,
		RetryMaxDelay:   retryMaxDelay,
		DedupWindow:     dedupWindow,
		DedupMaxEntries: nc.DedupMaxEntries,
		PersistDedup:    nc.PersistDedup,
	}
	if out.Workers <= 0 {
		out.Workers = 2
	}
	if out.QueueSize <= 0 {
		out.QueueSize = 512
	}
	if out.RatePerSec <= 0 {
		out.RatePerSec = 3
	}
	if out.RetryMax < 0 {
		out.RetryMax = 0
	} else if out.RetryMax == 0 {
		out.RetryMax = 3
	}
	if out.DedupMaxEntries <= 0 {
		out.DedupMaxEntries = 2000
	}
	return out, nil
}

func mapRehydrateConfig(cfg *config.Config) (rehydrate.Config, error) {
	rc := cfg.Rehydrate
	if rc == nil {
		return rehydrate.Config{}, nil
	}
	horizon, err := config.ParseDurationField("rehydrate.horizon", rc.Horizon)
	if err != nil {
		return rehydrate.Config{}, err
	}
	lead, err := config.ParseDurationField("rehydrate.notify_lead", rc.NotifyLead)
	if err != nil {
		return rehydrate.Config{}, err
	}
	if rc.Limit < 0 {
		return rehydrate.Config{}, fmt.Errorf("rehydrate.limit must be >= 0")
	}
	return rehydrate.Config{
		Horizon:    horizon,
		Limit:      rc.Limit,
		NotifyLead: lead,
	}, nil
}

func protocolURL(cfg *config.Config) string {
	if cfg.Actions == nil {
		return ""
	}
	return strings.TrimSpace(cfg.Actions.ProtocolURL)
}
