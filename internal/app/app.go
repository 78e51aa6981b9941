// Package app wires the services together: config, logging, storage, the
// scheduler loop, the wake policy, rehydration, the notification pipeline
// and the HTTP API. It owns startup order and the staged shutdown.
package app

import (
	"context"
	"fmt"
	"strings"
	"time"

	"schedd/internal/builtin"
	"schedd/internal/config"
	"schedd/internal/eventbus"
	"schedd/internal/notify"
	"schedd/internal/rehydrate"
	rtsup "schedd/internal/runtime/supervisor"
	"schedd/internal/sched"
	"schedd/internal/server"
	"schedd/internal/storage"
	"schedd/internal/wake"
	logx "schedd/pkg/logx"
	"schedd/pkg/systemd"
	"schedd/pkg/webhook"
)

type App struct {
	cfgPath string

	cfgm *config.ConfigManager
	sup  *rtsup.Supervisor

	log   logx.Logger
	logs  *logx.Service
	bus   eventbus.Bus
	store storage.Store
	hook  *webhook.Client

	reg  *sched.Registry
	loop *sched.Loop
	wake *wake.Scheduler

	notif *notify.Service
	api   *server.Service
}

func New(cfgPath string) (*App, error) {
	cfgm := config.NewConfigManager(cfgPath)
	cfg, err := cfgm.Load()
	if err != nil {
		return nil, err
	}

	logSvc, log := logx.New(mapLoggingConfig(cfg))
	log = log.With(logx.String("comp", "app"))

	bus := eventbus.New()

	// Storage. Driver "none" runs the process degraded: no rehydration, no
	// event routes, wake falls back to the default clock.
	storeCfg, err := mapStorageConfig(cfg)
	if err != nil {
		logSvc.Close()
		return nil, err
	}
	store, err := storage.Open(storeCfg, log.With(logx.String("comp", "storage")))
	if err != nil {
		logSvc.Close()
		return nil, err
	}
	if store != nil {
		log.Info("storage enabled", logx.String("driver", storeCfg.Driver))
	} else {
		log.Warn("storage disabled; running without persistence")
	}

	hook := webhook.New()

	reg := sched.NewRegistry()
	loop := sched.New(sched.Config{}, reg, bus, log)

	wakeCfg, err := mapWakeConfig(cfg)
	if err != nil {
		closeQuietly(store)
		logSvc.Close()
		return nil, err
	}
	wakeSvc := wake.New(wakeCfg, store, loop, hook, log)

	ncfg, err := mapNotifyConfig(cfg)
	if err != nil {
		closeQuietly(store)
		logSvc.Close()
		return nil, err
	}
	notifSvc := notify.New(ncfg, buildSink(cfg, log), log.With(logx.String("comp", "notify")), bus, store)

	builtin.Register(reg, builtin.Deps{
		Log:         log,
		Notify:      notifSvc,
		Store:       store,
		Hook:        hook,
		ProtocolURL: protocolURL(cfg),
	})

	srvCfg, err := mapServerConfig(cfg)
	if err != nil {
		closeQuietly(store)
		logSvc.Close()
		return nil, err
	}
	loc := time.Local
	if tz := strings.TrimSpace(cfg.Wake.Timezone); tz != "" {
		if l, err := time.LoadLocation(tz); err == nil {
			loc = l
		}
	}
	apiSvc := server.New(srvCfg, server.Deps{
		Store:  store,
		Loop:   loop,
		Wake:   wakeSvc,
		Notify: notifSvc,
		Loc:    loc,
	}, log)

	return &App{
		cfgPath: cfgPath,
		cfgm:    cfgm,
		log:     log,
		logs:    logSvc,
		bus:     bus,
		store:   store,
		hook:    hook,
		reg:     reg,
		loop:    loop,
		wake:    wakeSvc,
		notif:   notifSvc,
		api:     apiSvc,
	}, nil
}

// buildSink picks the notification sink once at construction. Swapping the
// telegram token or chat on hot reload needs a restart; everything else in
// the notify section applies live.
func buildSink(cfg *config.Config, log logx.Logger) notify.Sink {
	if cfg.Notify != nil && cfg.Notify.Telegram.Enabled {
		tg, err := notify.NewTelegramSink(notify.TelegramConfig{
			Token:  cfg.Notify.Telegram.Token,
			ChatID: cfg.Notify.Telegram.ChatID,
		}, log)
		if err == nil {
			return tg
		}
		log.Warn("telegram sink unavailable, falling back to console", logx.Err(err))
	}
	return notify.NewConsoleSink(log)
}

func closeQuietly(store storage.Store) {
	if store != nil {
		_ = store.Close()
	}
}

// Loop exposes the scheduler core (tests and operational tooling).
func (a *App) Loop() *sched.Loop { return a.loop }

// Done is closed when the app supervisor context ends (fatal error or Stop).
func (a *App) Done() <-chan struct{} {
	if a.sup == nil {
		ch := make(chan struct{})
		close(ch)
		return ch
	}
	return a.sup.Context().Done()
}

// Err returns the first fatal error observed by the supervisor, if any.
func (a *App) Err() error {
	if a.sup == nil {
		return nil
	}
	return a.sup.Err()
}

func (a *App) Start(ctx context.Context) error {
	a.sup = rtsup.NewSupervisor(ctx, rtsup.WithLogger(a.log), rtsup.WithCancelOnError(true))

	// Transactional hot reload: a config revision that fails to map is
	// rejected before anything sees it.
	a.cfgm.SetLogger(a.log.With(logx.String("comp", "config")))
	a.cfgm.SetValidator(func(_ context.Context, cfg *config.Config) error {
		if _, err := mapServerConfig(cfg); err != nil {
			return err
		}
		if _, err := mapStorageConfig(cfg); err != nil {
			return err
		}
		if _, err := mapWakeConfig(cfg); err != nil {
			return err
		}
		if _, err := mapNotifyConfig(cfg); err != nil {
			return err
		}
		if _, err := mapRehydrateConfig(cfg); err != nil {
			return err
		}
		return nil
	})

	a.loop.Start(a.sup.Context())

	// The WAKE_SERVER_URL variable seeds the settings key the wake action
	// reads at dispatch time, so a fresh deployment works without a PUT
	// /wake/url call.
	if v, ok := envString("WAKE_SERVER_URL"); ok && a.store != nil {
		seedCtx, cancel := context.WithTimeout(a.sup.Context(), 5*time.Second)
		if err := a.store.SetString(seedCtx, wake.SettingsKeyServerURL, v); err != nil {
			a.log.Warn("seeding wake server url failed", logx.Err(err))
		}
		cancel()
	}

	// Wake and maintenance are derived fresh on every boot; only plain
	// "task" events come back from storage.
	if a.wake.Enabled() {
		todayCtx, cancel := context.WithTimeout(a.sup.Context(), 15*time.Second)
		if _, err := a.wake.ScheduleToday(todayCtx); err != nil {
			a.log.Warn("initial wake schedule failed", logx.Err(err))
		}
		cancel()
		if err := a.wake.ScheduleDailyMaintenance(); err != nil {
			a.log.Warn("maintenance schedule failed", logx.Err(err))
		}
	}

	rcfg, err := mapRehydrateConfig(a.cfgm.Get())
	if err != nil {
		return err
	}
	rehydrateCtx, cancel := context.WithTimeout(a.sup.Context(), 30*time.Second)
	rehydrate.Run(rehydrateCtx, rcfg, a.store, a.loop, a.log)
	cancel()

	if a.notif.Enabled() {
		a.notif.Start(a.sup.Context())
	}
	if a.api.Enabled() {
		a.api.Start(a.sup.Context())
	}

	// Debug visibility into service lifecycle events.
	events, unsub := a.bus.Subscribe(128)
	a.sup.Go0("eventbus.log", func(c context.Context) {
		defer unsub()
		for {
			select {
			case <-c.Done():
				return
			case e, ok := <-events:
				if !ok {
					return
				}
				a.log.Debug("event", logx.String("type", e.Type), logx.Time("time", e.Time))
			}
		}
	})

	// Hot reload fan-out with burst coalescing.
	sub := a.cfgm.Subscribe(8)
	a.sup.Go0("config.reload", func(c context.Context) {
		defer a.cfgm.Unsubscribe(sub)
		lastApplied := a.cfgm.Get()
		for {
			select {
			case <-c.Done():
				return
			case newCfg, ok := <-sub:
				if !ok {
					return
				}
				for {
					select {
					case newer := <-sub:
						if newer != nil {
							newCfg = newer
						}
					default:
						goto APPLY
					}
				}
			APPLY:
				a.applyConfig(c, lastApplied, newCfg)
				lastApplied = newCfg
			}
		}
	})

	a.sup.Go("config.watch", func(c context.Context) error {
		return a.cfgm.Watch(c)
	})

	a.log.Info("app started")
	return nil
}

// applyConfig pushes a validated config revision into the running services.
func (a *App) applyConfig(ctx context.Context, oldCfg, newCfg *config.Config) {
	sections, attrs := config.SummarizeConfigChange(oldCfg, newCfg)
	if len(sections) == 0 {
		a.log.Debug("config reload received, but no effective changes detected")
		return
	}
	a.log.Debug("config change summary",
		append([]logx.Field{logx.String("changed", strings.Join(sections, ","))}, attrs...)...)

	for _, s := range sections {
		if s == "storage" {
			a.log.Warn("storage config changed; restart required for changes to take effect")
			break
		}
	}

	a.logs.Apply(mapLoggingConfig(newCfg))

	if wcfg, err := mapWakeConfig(newCfg); err != nil {
		a.log.Warn("invalid wake config; keeping previous", logx.Err(err))
	} else {
		a.wake.Apply(wcfg)
	}

	if ncfg, err := mapNotifyConfig(newCfg); err != nil {
		a.log.Warn("invalid notify config; keeping previous", logx.Err(err))
	} else {
		prev := a.notif.Enabled()
		a.notif.Apply(ncfg)
		if prev && !ncfg.Enabled {
			a.log.Info("notify pipeline disabled via config")
			stopCtx, cancel := context.WithTimeout(ctx, 3*time.Second)
			a.notif.Stop(stopCtx)
			cancel()
		} else if !prev && ncfg.Enabled {
			a.log.Info("notify pipeline enabled via config")
			a.notif.Start(ctx)
		}
	}

	if scfg, err := mapServerConfig(newCfg); err != nil {
		a.log.Warn("invalid server config; keeping previous", logx.Err(err))
	} else {
		a.api.Apply(ctx, scfg)
	}

	a.log.Info("config reloaded",
		append([]logx.Field{logx.String("changed", strings.Join(sections, ","))}, attrs...)...)
}

func (a *App) Stop(ctx context.Context, reason StopReason) error {
	if a.sup == nil {
		return nil
	}
	a.log.Info("stopping", logx.String("reason", string(reason)))

	// Unwind background loops first so nothing re-admits work mid-stop.
	a.sup.Cancel()

	// Each shutdown stage gets an upper bound so one component can't stall
	// the whole stop; overruns are leak-logged, not waited out.
	step := func(name string, max time.Duration, fn func(context.Context) error) {
		start := time.Now()
		systemd.NotifyStatus("stopping: " + name)
		a.log.Debug("stop step begin", logx.String("name", name), logx.Duration("max", max))

		stepCtx := ctx
		var cancel context.CancelFunc
		if max > 0 {
			if dl, ok := ctx.Deadline(); ok {
				rem := time.Until(dl)
				if rem <= 0 {
					max = 0
				} else if rem < max {
					max = rem
				}
			}
			if max > 0 {
				stepCtx, cancel = context.WithTimeout(ctx, max)
				defer cancel()
			}
		}

		done := make(chan error, 1)
		go func() {
			defer func() {
				if r := recover(); r != nil {
					done <- fmt.Errorf("panic in stop step %s: %v", name, r)
				}
			}()
			done <- fn(stepCtx)
		}()

		select {
		case err := <-done:
			if err != nil {
				a.log.Warn("stop step error", logx.String("name", name), logx.Err(err))
			}
			took := time.Since(start)
			if took >= 500*time.Millisecond {
				a.log.Info("stop step end", logx.String("name", name), logx.Duration("took", took))
			} else {
				a.log.Debug("stop step end", logx.String("name", name), logx.Duration("took", took))
			}
		case <-stepCtx.Done():
			elapsed := time.Since(start)
			a.log.Warn("stop step deadline reached (continuing)",
				logx.String("name", name),
				logx.Err(stepCtx.Err()),
				logx.Duration("elapsed", elapsed),
			)
			go func() {
				err := <-done
				took := time.Since(start)
				if err != nil {
					a.log.Warn("stop step finished after deadline", logx.String("name", name), logx.Err(err), logx.Duration("took", took))
				} else {
					a.log.Info("stop step finished after deadline", logx.String("name", name), logx.Duration("took", took))
				}
			}()
		}
	}

	// Order: stop taking requests, then drain the scheduler (its Stop waits
	// out the in-flight callback, which may still touch storage), then the
	// notify queue, and only then close storage.
	step("server", 3*time.Second, func(c context.Context) error { a.api.Stop(c); return nil })
	step("sched", 5*time.Second, func(_ context.Context) error { a.loop.Stop(); return nil })
	step("notify", 2*time.Second, func(c context.Context) error { a.notif.Stop(c); return nil })
	step("storage", time.Second, func(context.Context) error {
		if a.store != nil {
			return a.store.Close()
		}
		return nil
	})
	step("supervisor", 2*time.Second, func(c context.Context) error { return a.sup.Wait(c) })

	a.log.Info("stopped")
	if a.logs != nil {
		a.logs.Close()
	}
	return nil
}
