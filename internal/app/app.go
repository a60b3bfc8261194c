package app

import (
	"context"
	"errors"
	"io"
	"strings"
	"time"

	"relaybot/internal/activity"
	"relaybot/internal/broadcast"
	"relaybot/internal/config"
	"relaybot/internal/eventbus"
	"relaybot/internal/poll"
	"relaybot/internal/router"
	"relaybot/internal/runtime/supervisor"
	"relaybot/internal/storage"
	"relaybot/internal/task/scheduler"
	"relaybot/internal/transport"
	logx "relaybot/pkg/logx"
)

const pruneJob = "activity.prune"

type App struct {
	cfgm *config.ConfigManager
	sup  *supervisor.Supervisor

	log  logx.Logger
	logs *logx.Service

	core    *Core
	store   storage.Store // nil when storage.driver=none
	act     *activity.Log
	sched   *scheduler.Service
	bc      *broadcast.Service
	polls   *poll.Manager
	events  eventbus.Bus
	router  *router.Router
	gateway *transport.Console
}

// New loads the config at cfgPath and wires every component. The console
// gateway reads envelopes from in and writes replies and deliveries to out.
func New(ctx context.Context, cfgPath string, in io.Reader, out io.Writer) (*App, error) {
	cfgm := config.NewConfigManager(cfgPath)
	cfg, err := cfgm.Load()
	if err != nil {
		return nil, err
	}

	logSvc, log := logx.New(logConfig(cfg), nil)
	appLog := log.With(logx.String("comp", "app"))

	gateway := transport.NewConsole(in, out, log.With(logx.String("comp", "gateway")))
	logSvc.SetSender(gateway)

	core, err := OpenCore(ctx, cfg, log)
	if err != nil {
		logSvc.Close()
		return nil, err
	}

	sc, err := mapStorageConfig(cfg)
	if err != nil {
		logSvc.Close()
		return nil, err
	}
	store, err := storage.Open(sc, log)
	switch {
	case errors.Is(err, storage.ErrDisabled):
		appLog.Info("activity log disabled")
	case err != nil:
		logSvc.Close()
		return nil, err
	}

	var act *activity.Log
	if store != nil {
		act = activity.New(store, activity.Options{
			RetentionDays: cfg.Activity.Retention(),
			Filter:        router.Countable(cfg.Bot.Marker()),
		}, log.With(logx.String("comp", "activity")))
	}

	sched := scheduler.New(scheduler.Config{Timezone: cfg.Scheduler.Timezone}, log.With(logx.String("comp", "scheduler")))

	dc, err := deliveryConfig(cfg)
	if err != nil {
		logSvc.Close()
		return nil, err
	}
	bc := broadcast.New(dc, core.Subscribers, core.Translator, gateway, log.With(logx.String("comp", "broadcast")))

	polls := poll.NewManager(poll.Config{Owner: cfg.Bot.Name, Contact: cfg.Bot.Contact}, bc, sched, log.With(logx.String("comp", "poll")))

	cmdTimeout, err := config.ParseDurationOrDefault("bot.command_timeout", cfg.Bot.CommandTimeout, 2*time.Minute)
	if err != nil {
		logSvc.Close()
		return nil, err
	}
	events := eventbus.New()
	deps := router.Deps{
		Events:      events,
		Subscribers: core.Subscribers,
		Broadcaster: bc,
		Polls:       polls,
		Lang:        core.Lang,
		Translator:  core.Translator,
	}
	if act != nil {
		deps.Activity = act
	}
	r := router.New(router.Config{
		Contact:        cfg.Bot.Contact,
		PrivateMarker:  cfg.Bot.Marker(),
		CommandTimeout: cmdTimeout,
	}, deps, log.With(logx.String("comp", "router")))

	return &App{
		cfgm:    cfgm,
		log:     appLog,
		logs:    logSvc,
		core:    core,
		store:   store,
		act:     act,
		sched:   sched,
		bc:      bc,
		polls:   polls,
		events:  events,
		router:  r,
		gateway: gateway,
	}, nil
}

// Done is closed when the app context is canceled (fatal error, input ended
// or Stop).
func (a *App) Done() <-chan struct{} {
	if a.sup == nil {
		ch := make(chan struct{})
		close(ch)
		return ch
	}
	return a.sup.Context().Done()
}

// Err returns the first fatal error observed by the supervisor.
func (a *App) Err() error {
	if a.sup == nil {
		return nil
	}
	return a.sup.Err()
}

func (a *App) Start(ctx context.Context) error {
	a.sup = supervisor.New(ctx, supervisor.WithLogger(a.log), supervisor.WithCancelOnError(true))
	a.cfgm.SetLogger(a.log.With(logx.String("comp", "config")))

	a.sched.Start(a.sup.Context())
	if a.act != nil {
		spec := a.cfgm.Get().Activity.Schedule()
		if err := a.schedulePrune(spec); err != nil {
			return err
		}
		if spec != "" {
			// Catch up on a prune missed while the bot was down.
			a.sup.Go0("activity.prune.startup", func(c context.Context) {
				_ = a.sched.RunNow(c, pruneJob)
			})
		}
	}

	a.sup.Go("gateway", func(c context.Context) error {
		// Input ending means there is nothing left to serve.
		defer a.sup.Cancel()
		return a.gateway.Run(c, a.router)
	})
	a.sup.Go0("events", a.eventLoop)
	a.sup.Go0("config.reload", a.reloadLoop)
	a.sup.Go("config.watch", func(c context.Context) error {
		return a.cfgm.Watch(c)
	})

	a.log.Info("app started",
		logx.Int("subscribers", a.core.Subscribers.Len()),
		logx.Bool("degraded", a.core.Subscribers.Degraded()),
		logx.Bool("activity", a.act != nil),
		logx.Bool("translation", a.core.Translator != nil),
	)
	return nil
}

// eventLoop writes router events to the audit log.
func (a *App) eventLoop(c context.Context) {
	ch, unsub := a.events.Subscribe(64)
	defer unsub()
	log := a.log.With(logx.String("comp", "events"))
	for {
		select {
		case <-c.Done():
			if n := a.events.Dropped(); n > 0 {
				log.Warn("events dropped", logx.Int("count", int(n)))
			}
			return
		case e := <-ch:
			log.Debug(e.Type,
				logx.String("actor", e.Actor),
				logx.String("subject", e.Subject),
				logx.Int("count", e.Count),
				logx.Time("at", e.Time))
		}
	}
}

// schedulePrune registers the prune job under spec, or removes it when spec
// is empty.
func (a *App) schedulePrune(spec string) error {
	if spec == "" {
		if a.sched.Remove(pruneJob) {
			a.log.Info("activity prune job disabled")
		}
		return nil
	}
	_, err := a.sched.AddSchedule(pruneJob, spec, time.Minute, a.pruneTask)
	return err
}

func (a *App) pruneTask(ctx context.Context) error {
	_, err := a.act.Prune(ctx)
	return err
}

// reloadLoop applies hot-reloadable sections: logging, delivery pacing, the
// scheduler timezone and the prune schedule. Everything else needs a restart.
func (a *App) reloadLoop(c context.Context) {
	sub := a.cfgm.Subscribe(8)
	defer a.cfgm.Unsubscribe(sub)
	last := a.cfgm.Get()
	for {
		select {
		case <-c.Done():
			return
		case next, ok := <-sub:
			if !ok {
				return
			}
			// Coalesce bursts.
		drain:
			for {
				select {
				case newer := <-sub:
					if newer != nil {
						next = newer
					}
				default:
					break drain
				}
			}
			a.apply(last, next)
			last = next
		}
	}
}

func (a *App) apply(prev, next *config.Config) {
	sections, fields := config.SummarizeConfigChange(prev, next)
	if len(sections) == 0 {
		a.log.Info("config reloaded (no changes)")
		return
	}
	for _, s := range sections {
		switch s {
		case "bot", "subscribers", "storage", "translation":
			a.log.Warn("config section changed; restart required for it to take effect", logx.String("section", s))
		}
	}

	a.logs.Apply(logConfig(next))

	if dc, err := deliveryConfig(next); err != nil {
		a.log.Warn("invalid delivery config; keeping previous", logx.Err(err))
	} else {
		a.bc.Apply(dc)
	}

	a.sched.Apply(scheduler.Config{Timezone: next.Scheduler.Timezone})
	if a.act != nil && prev.Activity.Schedule() != next.Activity.Schedule() {
		if err := a.schedulePrune(next.Activity.Schedule()); err != nil {
			a.log.Warn("prune schedule not updated", logx.Err(err))
		}
	}

	all := append([]logx.Field{logx.String("changed", strings.Join(sections, ","))}, fields...)
	a.log.Info("config reloaded", all...)
}

func (a *App) Stop(ctx context.Context, reason StopReason) error {
	if a.sup == nil {
		return nil
	}
	a.log.Info("stopping", logx.String("reason", string(reason)))
	a.sup.Cancel()

	step := func(name string, max time.Duration, fn func(context.Context) error) {
		stepCtx, cancel := context.WithTimeout(ctx, max)
		defer cancel()
		start := time.Now()
		if err := fn(stepCtx); err != nil {
			a.log.Warn("stop step error", logx.String("name", name), logx.Err(err))
		}
		a.log.Debug("stop step end", logx.String("name", name), logx.Duration("took", time.Since(start)))
	}

	snap := a.sched.Snapshot()
	if open := snap.TimersWithPrefix("poll:"); len(open) > 0 {
		a.log.Warn("open polls dropped without results", logx.Int("count", len(open)), logx.Time("next_due", open[0].At))
	}
	if last, ok := snap.LastRun(pruneJob); ok && last.Error != "" {
		a.log.Warn("last activity prune failed", logx.Time("at", last.Started), logx.String("err", last.Error))
	}
	step("scheduler", 2*time.Second, func(c context.Context) error { a.sched.Stop(c); return nil })
	step("supervisor", 2*time.Second, func(c context.Context) error {
		err := a.sup.Wait(c)
		if errors.Is(err, context.Canceled) {
			return nil
		}
		return err
	})
	step("storage", time.Second, func(context.Context) error {
		if a.store != nil {
			return a.store.Close()
		}
		return nil
	})

	a.log.Info("stopped")
	return a.logs.Close()
}

func logConfig(cfg *config.Config) logx.Config {
	return logx.Config{
		Level:   cfg.Logging.Level,
		Console: cfg.Logging.Console,
		File: logx.FileConfig{
			Enabled: cfg.Logging.File.Enabled,
			Path:    cfg.Logging.File.Path,
		},
		Alert: logx.AlertConfig{
			Enabled:    cfg.Logging.Alert.Enabled,
			Contact:    cfg.Logging.Alert.Contact,
			MinLevel:   cfg.Logging.Alert.MinLevel,
			RatePerSec: cfg.Logging.Alert.RatePerSec,
		},
	}
}

func deliveryConfig(cfg *config.Config) (broadcast.Config, error) {
	timeout, err := config.ParseDurationOrDefault("delivery.timeout", cfg.Delivery.Timeout, 10*time.Second)
	if err != nil {
		return broadcast.Config{}, err
	}
	return broadcast.Config{RatePerSec: cfg.Delivery.RatePerSec, RetryMax: 2, Timeout: timeout}, nil
}
