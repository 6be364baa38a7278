package app

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"strings"
	"time"

	"github.com/coreos/go-systemd/v22/daemon"

	"pacer/internal/action"
	"pacer/internal/config"
	"pacer/internal/dispatch"
	"pacer/internal/eventbus"
	"pacer/internal/notify/telegram"
	"pacer/internal/observability/debug"
	"pacer/internal/pacing"
	"pacer/internal/runtime/supervisor"
	"pacer/internal/storage"
	"pacer/internal/task/engine"
	"pacer/internal/task/scheduler"
	logx "pacer/pkg/logx"
)

// App owns every component and their lifecycle. Build it with New, register
// extra actions through Actions, then Start.
type App struct {
	cfgm *config.Manager
	sup  *supervisor.Supervisor

	log   logx.Logger
	logs  *logx.Service
	bus   eventbus.Bus
	store storage.Store

	engine   *engine.Service
	pacer    *pacing.Controller
	actions  *action.Registry
	dispatch *dispatch.Dispatcher
	sched    *scheduler.Service
	chains   *chainer
	history  *historyRecorder
	debug    *debug.Service
	alerts   *telegram.Sender

	sdEnabled bool
}

func New(cfgPath string) (*App, error) {
	cfgm := config.NewManager(cfgPath)
	cfg, err := cfgm.Load()
	if err != nil {
		return nil, err
	}

	bootLog := logx.NewConsole("INFO").With(logx.String("comp", "telegram"))
	var sender logx.Sender
	var tgSender *telegram.Sender
	if tg := cfg.Alerts.Telegram; strings.TrimSpace(tg.Token) != "" {
		s, err := telegram.New(telegram.Config{Token: tg.Token, ChatID: tg.ChatID, ThreadID: tg.ThreadID}, bootLog)
		if err != nil {
			return nil, fmt.Errorf("alerts.telegram: %w", err)
		}
		sender, tgSender = s, s
	}
	logCfg := cfg.ToLogging()
	if sender == nil && logCfg.Alert.Enabled {
		bootLog.Warn("logging.alert enabled without alerts.telegram; alerts disabled")
		logCfg.Alert.Enabled = false
	}
	logSvc, log := logx.New(logCfg, sender)
	if err := config.Validate(cfg); err != nil {
		log.Warn("invalid config settings; using defaults", logx.String("path", cfgPath), logx.Err(err))
	}

	a, err := build(cfg, log)
	if err != nil {
		_ = logSvc.Close()
		return nil, err
	}
	a.cfgm = cfgm
	a.logs = logSvc
	a.alerts = tgSender
	return a, nil
}

// build wires the components from an already loaded config.
func build(cfg *config.Config, log logx.Logger) (*App, error) {
	bus := eventbus.New()

	var store storage.Store
	if sc, enabled, err := mapStorageConfig(cfg.Storage); err != nil {
		log.Warn("storage disabled", logx.Err(err))
	} else if enabled {
		st, err := storage.Open(sc, log.With(logx.String("comp", "storage")))
		if err != nil {
			return nil, err
		}
		store = st
		log.Info("storage enabled", logx.String("driver", sc.Driver))
	}

	// Conversion errors were already reported through Validate.
	engCfg, _ := cfg.ToEngine()
	pacingCfg, _ := cfg.ToPacing()
	schedCfg, _ := cfg.ToScheduler()

	engineSvc := engine.New(engCfg, log.With(logx.String("comp", "engine")), bus)
	pacer := pacing.New(pacingCfg, pacing.WithLogger(log.With(logx.String("comp", "pacing"))))

	reg := action.NewRegistry()
	if err := reg.Register("log", action.LogAction{Log: log.With(logx.String("comp", "action"))}); err != nil {
		return nil, err
	}
	disp := dispatch.New(pacer, reg, log.With(logx.String("comp", "dispatch")), bus)
	sched := scheduler.New(schedCfg, engineSvc, disp, pacer, log.With(logx.String("comp", "scheduler")), bus)
	pacer.OnHalt(sched.StopAll)

	chains := newChainer(sched, reg, log.With(logx.String("comp", "chain")))
	chains.Set(cfg.Chains)

	var history *historyRecorder
	if store != nil {
		history = &historyRecorder{store: store, log: log.With(logx.String("comp", "history"))}
	}

	a := &App{
		log:       log.With(logx.String("comp", "app")),
		history:   history,
		bus:       bus,
		store:     store,
		engine:    engineSvc,
		pacer:     pacer,
		actions:   reg,
		dispatch:  disp,
		sched:     sched,
		chains:    chains,
		sdEnabled: cfg.Systemd.Notify,
	}
	a.debug = debug.New(mapDebugConfig(cfg.Debug), func() any { return a.Snapshot() }, log.With(logx.String("comp", "debug")))
	return a, nil
}

func mapDebugConfig(d config.DebugConfig) debug.Config {
	return debug.Config{
		Enabled:       d.Enabled,
		Addr:          strings.TrimSpace(d.Addr),
		Token:         strings.TrimSpace(d.Token),
		AllowInsecure: d.AllowInsecure,
	}
}

// Actions exposes the registry so callers can add actions before Start.
func (a *App) Actions() *action.Registry { return a.actions }

// Scheduler exposes job control after Start.
func (a *App) Scheduler() *scheduler.Service { return a.sched }

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

// Snapshot is a point-in-time view of the running components.
type Snapshot struct {
	Pacing    pacing.Snapshot    `json:"pacing"`
	Scheduler scheduler.Snapshot `json:"scheduler"`
	Engine    engine.Snapshot    `json:"engine"`
	Alerts    *AlertCounts       `json:"alerts,omitempty"`
}

// AlertCounts totals Telegram alert deliveries since start.
type AlertCounts struct {
	Sent    uint64 `json:"sent"`
	Failed  uint64 `json:"failed"`
	Deduped uint64 `json:"deduped"`
}

func (a *App) Snapshot() Snapshot {
	snap := Snapshot{Pacing: a.pacer.Snapshot(), Scheduler: a.sched.Snapshot(), Engine: a.engine.Snapshot()}
	if a.alerts != nil {
		sent, failed, deduped := a.alerts.Counts()
		snap.Alerts = &AlertCounts{Sent: sent, Failed: failed, Deduped: deduped}
	}
	return snap
}

// checkNames rejects tasks and chains that point at unregistered actions.
func (a *App) checkNames(cfg *config.Config) error {
	known := a.actions.Names()
	var errs []error
	for i, t := range cfg.Tasks {
		if name := strings.TrimSpace(t.Name); name != "" && !slices.Contains(known, name) {
			errs = append(errs, fmt.Errorf("tasks[%d]: %w: %s", i, action.ErrUnknownAction, name))
		}
	}
	for src, targets := range cfg.Chains {
		for i, t := range targets {
			if name := strings.TrimSpace(t); name != "" && !slices.Contains(known, name) {
				errs = append(errs, fmt.Errorf("chains.%s[%d]: %w: %s", src, i, action.ErrUnknownAction, name))
			}
		}
	}
	return errors.Join(errs...)
}

func (a *App) Start(ctx context.Context) error {
	a.sup = supervisor.New(ctx, supervisor.WithLogger(a.log), supervisor.WithCancelOnError(true))

	cfg := a.cfgm.Get()
	if err := a.checkNames(cfg); err != nil {
		return err
	}
	// transactional config reload: validate before commit/publish
	a.cfgm.SetLogger(a.log.With(logx.String("comp", "config")))
	a.cfgm.SetValidator(func(_ context.Context, next *config.Config) error {
		return a.checkNames(next)
	})

	a.engine.Start(a.sup.Context())
	a.pacer.StartSession()
	a.sched.Start(a.sup.Context())

	if a.history != nil {
		events, unsub := a.bus.Subscribe(256)
		a.sup.Go0("history.record", func(c context.Context) {
			defer unsub()
			a.history.run(c, events)
		})
	}

	// Debug-level event trace; components subscribe themselves for real work.
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

	a.startTasks(cfg.Tasks, nil)

	// hot reload config fan-out
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
				// Coalesce bursts: keep only the latest config in the channel.
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
				a.applyConfig(lastApplied, newCfg)
				lastApplied = newCfg
			}
		}
	})

	a.sup.Go("config.watch", func(c context.Context) error {
		return a.cfgm.Watch(c)
	})

	a.debug.Start(a.sup.Context())

	a.sdNotify(daemon.SdNotifyReady)
	a.startWatchdog()

	a.log.Info("app started", logx.Any("actions", a.actions.Names()), logx.Int("tasks", len(cfg.Tasks)))
	return nil
}

// startTasks starts configured tasks. Names in skip are left alone so a
// reload only adds what is new.
func (a *App) startTasks(tasks []config.TaskConfig, skip map[string]bool) {
	for _, t := range tasks {
		name := strings.TrimSpace(t.Name)
		if skip[name] {
			continue
		}
		k, err := config.ParseKind(t.Kind)
		if err != nil {
			a.log.Warn("task skipped", logx.String("task", name), logx.Err(err))
			continue
		}
		kind := dispatch.Recurring
		if k == config.KindOnce {
			kind = dispatch.OneTime
		}
		if !a.sched.StartTask(name, kind, action.Options(t.Options)) {
			a.log.Warn("task not started", logx.String("task", name))
		}
	}
}

func (a *App) applyConfig(prev, next *config.Config) {
	sections, attrs := config.SummarizeConfigChange(prev, next)
	if len(sections) == 0 {
		a.log.Info("config reloaded (no changes)")
		return
	}
	fields := append([]logx.Field{logx.String("changed", strings.Join(sections, ","))}, attrs...)
	a.log.Debug("config change summary", fields...)

	for _, s := range sections {
		switch s {
		case "storage", "engine", "alerts", "systemd":
			a.log.Warn(s + " config changed; restart required for changes to take effect")
		}
	}

	logCfg := next.ToLogging()
	if a.logs != nil {
		a.logs.Apply(logCfg)
	}

	pc, _ := next.ToPacing()
	a.pacer.Reload(pc)
	sc, _ := next.ToScheduler()
	a.sched.Apply(sc)
	a.chains.Set(next.Chains)
	if a.sup != nil {
		a.debug.Reconfigure(a.sup.Context(), mapDebugConfig(next.Debug))
	}

	if slices.Contains(sections, "tasks") {
		seen := map[string]bool{}
		for _, t := range prev.Tasks {
			seen[strings.TrimSpace(t.Name)] = true
		}
		a.startTasks(next.Tasks, seen)
	}

	a.log.Info("config reloaded", fields...)
}

// Close stops the app outside of a signal path.
func (a *App) Close(ctx context.Context) error { return a.Stop(ctx, StopAppStop) }

func (a *App) Stop(ctx context.Context, reason StopReason) error {
	if a.sup == nil {
		return nil
	}
	a.log.Info("stopping", logx.String("reason", string(reason)))
	a.sdNotify(daemon.SdNotifyStopping)

	// Helper: run a shutdown step with an upper bound so one component can't stall the whole stop.
	step := func(name string, max time.Duration, fn func(context.Context) error) {
		start := time.Now()
		a.log.Debug("stop step begin", logx.String("name", name), logx.Duration("max", max))

		stepCtx := ctx
		var cancel context.CancelFunc
		if max > 0 {
			// respect the caller's deadline; never extend it
			if dl, ok := ctx.Deadline(); ok {
				if rem := time.Until(dl); rem <= 0 {
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
			a.log.Warn("stop step deadline reached (continuing)",
				logx.String("name", name),
				logx.Err(stepCtx.Err()),
				logx.Duration("elapsed", time.Since(start)),
			)
			go func() {
				err := <-done
				if err != nil {
					a.log.Warn("stop step finished after deadline", logx.String("name", name), logx.Err(err), logx.Duration("took", time.Since(start)))
				}
			}()
		}
	}

	// Scheduler first so nothing new reaches the executor.
	step("scheduler", 2*time.Second, func(context.Context) error { a.sched.Shutdown(); return nil })
	step("pacing", 0, func(context.Context) error { a.pacer.EndSession(); return nil })
	step("engine", 3*time.Second, func(c context.Context) error { a.engine.Stop(c); return nil })
	step("debug", time.Second, func(c context.Context) error { a.debug.Stop(c); return nil })

	// Then cancel the app run context so background loops unwind.
	a.sup.Cancel()
	step("supervisor", 2*time.Second, func(c context.Context) error { return a.sup.Wait(c) })
	step("history", time.Second, func(c context.Context) error {
		if a.history != nil {
			a.history.logStats(c, time.Now())
		}
		return nil
	})
	step("storage", time.Second, func(context.Context) error {
		if a.store != nil {
			return a.store.Close()
		}
		return nil
	})

	a.log.Info("stopped")
	if a.logs != nil {
		_ = a.logs.Close()
	}
	return nil
}
