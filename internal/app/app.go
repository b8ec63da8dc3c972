// Package app wires the bot together: configuration, logging, storage,
// cache, marketplace adapters, scheduler, monitor pipeline and the Telegram
// router, with explicit construction and supervised lifecycles.
package app

import (
	"context"
	"fmt"
	"strconv"
	"strings"
	"time"

	"pricebot/internal/bot"
	"pricebot/internal/cache"
	"pricebot/internal/config"
	"pricebot/internal/market"
	"pricebot/internal/monitor"
	rtsup "pricebot/internal/runtime/supervisor"
	"pricebot/internal/schedule"
	"pricebot/internal/storage"
	kit "pricebot/internal/transport"
	telegram "pricebot/internal/transport/telegram/adapter"
	logx "pricebot/pkg/logx"
)

type App struct {
	cfgPath string

	cfgm *config.ConfigManager
	sup  *rtsup.Supervisor

	log  logx.Logger
	logs *logx.Service

	store    *storage.Store
	cache    *cache.Cache
	registry *market.Registry

	adapter kit.Adapter
	sched   *schedule.Service
	mon     *monitor.Service
	router  *bot.Router

	updates chan kit.Update
}

func NewApp(cfgPath string) (*App, error) {
	cfgm := config.NewConfigManager(cfgPath)
	cfg, err := cfgm.Load()
	if err != nil {
		return nil, err
	}

	bootLog := logx.NewConsole("INFO").With(logx.String("comp", "telegram"))
	pollTimeout, err := config.ParseDurationOrDefault("telegram.poll_timeout", cfg.Telegram.PollTimeout, 10*time.Second)
	if err != nil {
		return nil, err
	}
	ad, err := telegram.New(telegram.Config{
		Token:       cfg.Telegram.Token,
		PollTimeout: pollTimeout,
	}, bootLog)
	if err != nil {
		return nil, err
	}

	// Bootstrap with Telegram logging disabled so Apply() does not warn about
	// a missing target, then set the target and apply the final config.
	baseLogCfg := mapLogConfig(cfg)
	baseLogCfg.Telegram.Enabled = false
	logSvc, log := logx.New(baseLogCfg, ad)
	log = log.With(logx.String("comp", "app"))
	applyLogTarget(logSvc, cfg)
	logSvc.Apply(mapLogConfig(cfg))

	busyTimeout, err := config.ParseDurationOrDefault("storage.busy_timeout", cfg.Storage.BusyTimeout, 0)
	if err != nil {
		return nil, err
	}
	store, err := storage.Open(storage.Config{
		Path:        cfg.Storage.Path,
		BusyTimeout: busyTimeout,
	}, log.With(logx.String("comp", "storage")))
	if err != nil {
		return nil, err
	}

	// Cache failures degrade to a nop cache; keyboards are re-rendered per
	// request and the pipeline is unaffected.
	cacheCfg, err := mapCacheConfig(cfg)
	if err != nil {
		return nil, err
	}
	connectCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	kbCache, err := cache.Connect(connectCtx, cacheCfg, log.With(logx.String("comp", "cache")))
	cancel()
	if err != nil {
		log.Warn("cache unavailable, running without keyboard memoization", logx.Err(err))
		kbCache = cache.Nop()
	}

	monCfg, err := mapMonitorConfig(cfg)
	if err != nil {
		return nil, err
	}
	registry := market.NewRegistry(market.Config{FetchTimeout: monCfg.FetchTimeout},
		log.With(logx.String("comp", "market")))

	schedCfg, err := mapSchedulerConfig(cfg)
	if err != nil {
		return nil, err
	}
	sched := schedule.New(schedCfg, log.With(logx.String("comp", "scheduler")))

	loc := time.Local
	if tz := strings.TrimSpace(cfg.Scheduler.Timezone); tz != "" {
		if l, err := time.LoadLocation(tz); err == nil {
			loc = l
		}
	}

	router := bot.NewRouter(bot.Config{
		Owners:   cfg.Telegram.OwnerUserIDs,
		Location: loc,
	}, store, kbCache, registry, ad, log.With(logx.String("comp", "bot")))

	poller := monitor.NewPoller(store, registry, kbCache, nil, log.With(logx.String("comp", "poller")))
	dispatcher := monitor.NewDispatcher(store, ad, router.NotificationMarkup,
		monCfg.SendRatePerSec, loc, log.With(logx.String("comp", "dispatcher")))
	mon := monitor.NewService(monCfg, poller, dispatcher, log.With(logx.String("comp", "monitor")))

	return &App{
		cfgPath:  cfgPath,
		cfgm:     cfgm,
		log:      log,
		logs:     logSvc,
		store:    store,
		cache:    kbCache,
		registry: registry,
		adapter:  ad,
		sched:    sched,
		mon:      mon,
		router:   router,
		updates:  make(chan kit.Update, 256),
	}, nil
}

// Done is closed when the app supervisor context is canceled.
func (a *App) Done() <-chan struct{} {
	if a.sup == nil {
		ch := make(chan struct{})
		close(ch)
		return ch
	}
	return a.sup.Context().Done()
}

// Err returns the first fatal error observed by the supervisor (if any).
func (a *App) Err() error {
	if a.sup == nil {
		return nil
	}
	return a.sup.Err()
}

func (a *App) Start(ctx context.Context) error {
	a.sup = rtsup.NewSupervisor(ctx, rtsup.WithLogger(a.log), rtsup.WithCancelOnError(true))

	// Transactional config reload: validate before commit/publish.
	a.cfgm.SetLogger(a.log.With(logx.String("comp", "config")))
	a.cfgm.SetValidator(func(_ context.Context, cfg *config.Config) error {
		if _, err := config.ParseDurationField("telegram.poll_timeout", cfg.Telegram.PollTimeout); err != nil {
			return err
		}
		if _, err := mapSchedulerConfig(cfg); err != nil {
			return err
		}
		if _, err := mapMonitorConfig(cfg); err != nil {
			return err
		}
		if _, err := mapCacheConfig(cfg); err != nil {
			return err
		}
		if tz := strings.TrimSpace(cfg.Scheduler.Timezone); tz != "" {
			if _, err := time.LoadLocation(tz); err != nil {
				return fmt.Errorf("scheduler.timezone: invalid %q: %w", tz, err)
			}
		}
		return nil
	})

	if err := a.adapter.Start(a.sup.Context(), a.updates); err != nil {
		return err
	}

	if a.sched.Enabled() {
		a.sched.Start(a.sup.Context())
	}
	if err := a.mon.Register(a.sched); err != nil {
		return err
	}

	a.sup.Go("bot.router", func(c context.Context) error {
		return a.router.Run(c, a.updates)
	})

	// Hot-reload fan-out. Storage and cache connections are fixed for the
	// process lifetime; everything else applies live.
	sub := a.cfgm.Subscribe(8)
	a.sup.Go0("config.reload", func(c context.Context) {
		defer a.cfgm.Unsubscribe(sub)
		for {
			select {
			case <-c.Done():
				return
			case newCfg, ok := <-sub:
				if !ok {
					return
				}
				a.applyConfig(c, newCfg)
			}
		}
	})
	a.sup.Go("config.watch", func(c context.Context) error {
		return a.cfgm.Watch(c)
	})

	notifyReady(a.log)
	a.log.Info("app started")
	return nil
}

func (a *App) applyConfig(ctx context.Context, cfg *config.Config) {
	applyLogTarget(a.logs, cfg)
	a.logs.Apply(mapLogConfig(cfg))

	a.router.SetOwners(cfg.Telegram.OwnerUserIDs)

	prevEnabled := a.sched.Enabled()
	schedCfg, err := mapSchedulerConfig(cfg)
	if err != nil {
		a.log.Warn("invalid scheduler config; keeping previous", logx.Err(err))
	} else {
		a.sched.Apply(schedCfg)
		if prevEnabled && !schedCfg.Enabled {
			a.log.Info("scheduler disabled via config")
			stopCtx, cancel := context.WithTimeout(ctx, 3*time.Second)
			a.sched.Stop(stopCtx)
			cancel()
		} else if !prevEnabled && schedCfg.Enabled {
			a.log.Info("scheduler enabled via config")
			a.sched.Start(ctx)
		}
	}

	a.log.Info("config reloaded")
}

func (a *App) Stop(ctx context.Context) error {
	if a.sup == nil {
		return nil
	}
	a.log.Info("stopping")
	notifyStopping(a.log)
	a.sup.Cancel()

	// Each step is bounded so one component cannot stall the whole stop.
	step := func(name string, max time.Duration, fn func(context.Context) error) {
		start := time.Now()
		stepCtx := ctx
		var cancel context.CancelFunc
		if max > 0 {
			if dl, ok := ctx.Deadline(); ok {
				if rem := time.Until(dl); rem > 0 && rem < max {
					max = rem
				}
			}
			stepCtx, cancel = context.WithTimeout(ctx, max)
			defer cancel()
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
			a.log.Debug("stop step end", logx.String("name", name), logx.Duration("took", time.Since(start)))
		case <-stepCtx.Done():
			a.log.Warn("stop step deadline reached (continuing)",
				logx.String("name", name), logx.Duration("elapsed", time.Since(start)))
		}
	}

	step("scheduler", 2*time.Second, func(c context.Context) error { a.sched.Stop(c); return nil })
	step("adapter", 2*time.Second, func(c context.Context) error { return a.adapter.Stop(c) })
	step("supervisor", 2*time.Second, func(c context.Context) error { return a.sup.Wait(c) })
	step("cache", time.Second, func(context.Context) error { return a.cache.Close() })
	step("storage", time.Second, func(context.Context) error { return a.store.Close() })

	a.log.Info("stopped")
	if a.logs != nil {
		a.logs.Close()
	}
	return nil
}

// ---- config mapping ----

func mapLogConfig(cfg *config.Config) logx.Config {
	return logx.Config{
		Level:   cfg.Logging.Level,
		Console: cfg.Logging.Console,
		File: logx.FileConfig{
			Enabled: cfg.Logging.File.Enabled,
			Path:    cfg.Logging.File.Path,
		},
		Telegram: logx.TelegramConfig{
			Enabled:    cfg.Logging.Telegram.Enabled,
			ThreadID:   cfg.Logging.Telegram.ThreadID,
			MinLevel:   cfg.Logging.Telegram.MinLevel,
			RatePerSec: cfg.Logging.Telegram.RatePerSec,
		},
	}
}

func applyLogTarget(svc *logx.Service, cfg *config.Config) {
	raw := strings.TrimSpace(cfg.Telegram.GroupLog)
	if raw == "" {
		svc.SetTelegramTarget(0, 0)
		return
	}
	if chatID, err := strconv.ParseInt(raw, 10, 64); err == nil {
		svc.SetTelegramTarget(chatID, cfg.Logging.Telegram.ThreadID)
	}
}

func mapCacheConfig(cfg *config.Config) (cache.Config, error) {
	if cfg.Cache == nil {
		return cache.Config{}, nil
	}
	ttl, err := config.ParseDurationOrDefault("cache.ttl", cfg.Cache.TTL, 0)
	if err != nil {
		return cache.Config{}, err
	}
	return cache.Config{
		Enabled:  cfg.Cache.Enabled,
		Addr:     cfg.Cache.Addr,
		Username: cfg.Cache.Username,
		Password: cfg.Cache.Password,
		DB:       cfg.Cache.DB,
		TTL:      ttl,
	}, nil
}

func mapSchedulerConfig(cfg *config.Config) (schedule.Config, error) {
	if cfg.Scheduler.Workers < 0 {
		return schedule.Config{}, fmt.Errorf("scheduler.workers must be >= 0")
	}
	if cfg.Scheduler.HistorySize < 0 {
		return schedule.Config{}, fmt.Errorf("scheduler.history_size must be >= 0")
	}
	defTimeout, err := config.ParseDurationOrDefault("scheduler.default_timeout", cfg.Scheduler.DefaultTimeout, 0)
	if err != nil {
		return schedule.Config{}, err
	}
	return schedule.Config{
		Enabled:        cfg.Scheduler.Enabled,
		Workers:        cfg.Scheduler.Workers,
		DefaultTimeout: defTimeout,
		HistorySize:    cfg.Scheduler.HistorySize,
		Timezone:       cfg.Scheduler.Timezone,
	}, nil
}

func mapMonitorConfig(cfg *config.Config) (monitor.Config, error) {
	fast, err := config.ParseDurationOrDefault("monitor.fast_interval", cfg.Monitor.FastInterval, 0)
	if err != nil {
		return monitor.Config{}, err
	}
	dispatch, err := config.ParseDurationOrDefault("monitor.dispatch_interval", cfg.Monitor.DispatchInterval, 0)
	if err != nil {
		return monitor.Config{}, err
	}
	fetch, err := config.ParseDurationOrDefault("monitor.fetch_timeout", cfg.Monitor.FetchTimeout, 0)
	if err != nil {
		return monitor.Config{}, err
	}
	return monitor.Config{
		Enabled:          cfg.Monitor.Enabled,
		FastInterval:     fast,
		SlowSpec:         cfg.Monitor.SlowSpec,
		DispatchInterval: dispatch,
		FastMarkets:      cfg.Monitor.FastMarkets,
		SlowMarkets:      cfg.Monitor.SlowMarkets,
		FetchTimeout:     fetch,
		SendRatePerSec:   float64(cfg.Monitor.SendRatePerSec),
	}, nil
}
