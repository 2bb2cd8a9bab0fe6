package app

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"namazbot/internal/bot"
	"namazbot/internal/config"
	"namazbot/internal/dispatch"
	"namazbot/internal/eventbus"
	"namazbot/internal/observability/metrics"
	"namazbot/internal/prayer"
	"namazbot/internal/reminder"
	rtsup "namazbot/internal/runtime/supervisor"
	"namazbot/internal/storage"
	"namazbot/internal/timetable"
	kit "namazbot/internal/transport"
	telegram "namazbot/internal/transport/telegram/adapter"
	logx "namazbot/pkg/logx"
	"namazbot/pkg/systemd"
)

type App struct {
	cfgm *config.Manager
	res  *config.Resolved
	sup  *rtsup.Supervisor

	log  logx.Logger
	logs *logx.Service
	bus  eventbus.Bus

	store    storage.Store
	source   *timetable.Source
	adapter  *telegram.Adapter
	sched    *reminder.Scheduler
	handlers *bot.Handlers
	router   *bot.Router
	rollover *Rollover
	col      *metrics.Collector
	metrics  *metrics.Server
	journal  *journal

	updates chan kit.Update
}

func New(cfgPath string) (*App, error) {
	cfgm := config.NewManager(cfgPath)
	cfg, err := cfgm.Load()
	if err != nil {
		return nil, err
	}
	res, err := config.Resolve(cfg)
	if err != nil {
		return nil, fmt.Errorf("config %s: %w", cfgPath, err)
	}

	// The Telegram log sink needs the adapter, which needs a logger first.
	logSvc, log := logx.New(res.Logging, nil)
	ad, err := telegram.New(telegram.Config{Token: cfg.Telegram.Token, PollTimeout: res.PollTimeout}, log)
	if err != nil {
		_ = logSvc.Close()
		return nil, err
	}
	logSvc.SetSender(ad)
	log = log.With(logx.String("comp", "app"))

	a := &App{
		cfgm:    cfgm,
		res:     res,
		log:     log,
		logs:    logSvc,
		bus:     eventbus.New(),
		adapter: ad,
		updates: make(chan kit.Update, 256),
	}
	if err := a.build(); err != nil {
		if a.store != nil {
			_ = a.store.Close()
		}
		_ = logSvc.Close()
		return nil, err
	}
	return a, nil
}

func (a *App) build() error {
	cfg, res := a.res.Raw, a.res
	root := a.logs.Logger()

	store, err := storage.Open(res.Storage, root.With(logx.String("comp", "storage")))
	if err != nil {
		return err
	}
	a.store = store

	src, err := timetable.Open(cfg.Timetable.CSVPath, root.With(logx.String("comp", "timetable")))
	if err != nil {
		return err
	}
	a.source = src

	disp, err := dispatch.New(a.adapter, dispatch.Options{
		Offset:     res.Reminder.Offset,
		Keyboard:   bot.MainKeyboard(),
		RatePerSec: cfg.Telegram.RatePerSec,
		Log:        root,
	})
	if err != nil {
		return err
	}
	sched, err := reminder.New(res.Reminder, disp,
		reminder.WithBus(a.bus),
		reminder.WithLogger(root.With(logx.String("comp", "reminder"))),
	)
	if err != nil {
		return err
	}
	a.sched = sched

	a.col = metrics.New(func() int { return sched.Snapshot().Pending })
	a.metrics = metrics.NewServer(a.col, root)
	a.rollover = NewRollover(store, src, sched, a.col, root)

	h, err := bot.NewHandlers(bot.Deps{
		Sender:    a.adapter,
		Photos:    a.adapter,
		Store:     store,
		Scheduler: sched,
		Timetable: src,
		Log:       root.With(logx.String("comp", "bot")),
		OnSubscribersChanged: func(ctx context.Context) {
			a.refreshSubscribers(ctx)
		},
	}, botOptions(cfg))
	if err != nil {
		return err
	}
	a.handlers = h
	a.router = bot.NewRouter(a.adapter, root, bot.WithFallback(h.Unknown))
	a.router.Register(h.Routes()...)
	return nil
}

func botOptions(cfg *config.Config) bot.Options {
	return bot.Options{
		AdminChatID: cfg.Telegram.AdminChatID,
		MonthImage:  strings.TrimSpace(cfg.Timetable.MonthImage),
		Contact:     cfg.Telegram.Contact,
		Signature:   cfg.Telegram.Signature,
	}
}

func serverConfig(cfg *config.Config) metrics.ServerConfig {
	return metrics.ServerConfig{
		Enabled: cfg.Metrics.Enabled,
		Addr:    cfg.Metrics.ListenAddr(),
		Pprof:   cfg.Metrics.Pprof,
	}
}

func (a *App) refreshSubscribers(ctx context.Context) {
	subs, err := a.store.ListSubscribers(ctx)
	if err != nil {
		a.log.Warn("count subscribers failed", logx.Err(err))
		return
	}
	a.col.SetSubscribers(len(subs))
}

// Done is closed when the app supervisor context is canceled (fatal error or Stop()).
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
	a.sup = rtsup.New(ctx, rtsup.WithLogger(a.log), rtsup.WithCancelOnError(true))
	runCtx := a.sup.Context()

	// transactional config reload: validate before commit/publish
	a.cfgm.SetLogger(a.log.With(logx.String("comp", "config")))
	a.cfgm.SetValidator(func(_ context.Context, cfg *config.Config) error {
		_, err := config.Resolve(cfg)
		if err != nil {
			a.col.Reload("config", err)
		}
		return err
	})

	// Bus consumers subscribe before anything can publish.
	metricEvents, unsubMetrics := a.bus.Subscribe(256)
	a.sup.Go0("metrics.consume", func(c context.Context) {
		defer unsubMetrics()
		a.col.Consume(c, metricEvents)
	})
	a.journal = startJournal(a.sup, a.bus, a.store, a.log.With(logx.String("comp", "journal")))

	// Pending reminders do not survive a restart; re-arm today.
	today := prayer.DateOf(a.sched.Now())
	if _, err := a.rollover.ScheduleAll(runCtx, today); err != nil {
		a.log.Warn("initial schedule incomplete", logx.String("date", today.String()), logx.Err(err))
	}
	if err := a.rollover.Start(a.res.Rollover, a.res.Location); err != nil {
		return err
	}

	if err := a.adapter.Start(runCtx, a.updates); err != nil {
		return err
	}
	a.sup.Go("bot.dispatch", func(c context.Context) error {
		return a.router.DispatchLoop(c, a.updates)
	})
	a.sup.Go0("telegram.menu", func(c context.Context) {
		mctx, cancel := context.WithTimeout(c, 15*time.Second)
		defer cancel()
		if err := a.adapter.UpdateMenuCommands(mctx, a.router.Menu()); err != nil {
			a.log.Warn("menu commands update failed", logx.Err(err))
		}
	})

	a.metrics.Reconfigure(runCtx, serverConfig(a.res.Raw))

	if a.res.Raw.Timetable.Watch {
		a.sup.GoRestart("timetable.watch", func(c context.Context) error {
			return a.source.Watch(c, func(err error) {
				a.col.Reload("timetable", err)
				if err != nil {
					return
				}
				// New reminders pick up the new times; already pending ones keep theirs.
				day := prayer.DateOf(a.sched.Now())
				if _, err := a.rollover.ScheduleAll(c, day); err != nil {
					a.log.Warn("reschedule after timetable reload incomplete", logx.Err(err))
				}
			})
		}, rtsup.WithRestartBackoff(time.Second, 30*time.Second))
	}

	sub := a.cfgm.Subscribe(8)
	a.sup.Go0("config.reload", func(c context.Context) {
		defer a.cfgm.Unsubscribe(sub)
		a.reloadLoop(c, sub)
	})
	a.sup.Go("config.watch", func(c context.Context) error {
		return a.cfgm.Watch(c)
	})
	a.sup.Go0("systemd.watchdog", func(c context.Context) {
		if err := systemd.Watchdog(c); err != nil {
			a.log.Warn("systemd watchdog stopped", logx.Err(err))
		}
	})

	a.log.Info("app started",
		logx.String("tz", a.res.Location.String()),
		logx.Duration("offset", a.res.Reminder.Offset),
		logx.Int("days", a.source.Days()),
	)
	return nil
}

func (a *App) reloadLoop(c context.Context, sub chan *config.Config) {
	lastApplied := a.cfgm.Get()
	for {
		select {
		case <-c.Done():
			return
		case newCfg, ok := <-sub:
			if !ok {
				return
			}
			// Coalesce bursts: keep only the latest config in the channel.
		drain:
			for {
				select {
				case newer := <-sub:
					if newer != nil {
						newCfg = newer
					}
				default:
					break drain
				}
			}
			a.applyConfig(c, lastApplied, newCfg)
			lastApplied = newCfg
		}
	}
}

// applyConfig pushes the hot-reloadable parts of newCfg into running components.
func (a *App) applyConfig(ctx context.Context, oldCfg, newCfg *config.Config) {
	sections, attrs := config.Changes(oldCfg, newCfg)
	if len(sections) == 0 {
		a.log.Info("config reloaded (no changes)")
		a.col.Reload("config", nil)
		return
	}
	_, _ = systemd.Reloading()
	defer func() { _, _ = systemd.Ready() }()

	var restart []string
	for _, s := range sections {
		if config.RestartRequired[s] {
			restart = append(restart, s)
		}
	}
	if len(restart) > 0 {
		a.log.Warn("config sections changed that need a restart to take full effect", logx.String("sections", strings.Join(restart, ",")))
	}
	if strings.TrimSpace(oldCfg.Timetable.CSVPath) != strings.TrimSpace(newCfg.Timetable.CSVPath) {
		a.log.Warn("timetable.csv_path changed; restart required")
	}

	a.logs.Apply(config.LogxConfig(newCfg))
	a.handlers.SetOptions(botOptions(newCfg))
	a.metrics.Reconfigure(ctx, serverConfig(newCfg))
	a.col.Reload("config", nil)

	fields := append([]logx.Field{logx.String("changed", strings.Join(sections, ","))}, attrs...)
	a.log.Info("config reloaded", fields...)
}

func (a *App) Stop(ctx context.Context, reason StopReason) error {
	if a.sup == nil {
		return nil
	}
	a.log.Info("stopping", logx.String("reason", string(reason)))

	// First, cancel the app run context so background loops start unwinding immediately.
	a.sup.Cancel()

	var errs []error
	step := func(name string, max time.Duration, fn func(context.Context) error) {
		start := time.Now()
		stepCtx := ctx
		if max > 0 {
			// respect the caller's deadline; never extend it
			if dl, ok := ctx.Deadline(); ok && time.Until(dl) < max {
				max = time.Until(dl)
			}
			var cancel context.CancelFunc
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
				errs = append(errs, fmt.Errorf("%s: %w", name, err))
			}
			a.log.Debug("stop step end", logx.String("name", name), logx.Duration("took", time.Since(start)))
		case <-stepCtx.Done():
			a.log.Warn("stop step deadline reached (continuing)",
				logx.String("name", name),
				logx.Duration("elapsed", time.Since(start)),
			)
		}
	}

	step("rollover", time.Second, func(c context.Context) error { a.rollover.Stop(c); return nil })
	step("adapter", 2*time.Second, func(c context.Context) error { return a.adapter.Stop(c) })
	step("reminders", 5*time.Second, func(c context.Context) error { return a.sched.Stop(c) })
	if a.journal != nil {
		// after the reminders step, so in-flight outcomes are journaled
		step("journal", time.Second, a.journal.Close)
	}
	step("metrics", time.Second, func(c context.Context) error { a.metrics.Stop(c); return nil })
	// supervised goroutines: dispatcher, watchers, bus consumers
	step("supervisor", 3*time.Second, func(c context.Context) error {
		err := a.sup.Wait(c)
		if errors.Is(err, context.Canceled) {
			return nil
		}
		return err
	})
	step("storage", time.Second, func(context.Context) error { return a.store.Close() })

	a.log.Info("stopped")
	_ = a.logs.Close()
	return errors.Join(errs...)
}
