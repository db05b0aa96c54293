package app

import (
	"context"
	"fmt"
	"time"

	"github.com/coreos/go-systemd/v22/daemon"

	"cadence/internal/config"
	"cadence/internal/debugsrv"
	"cadence/internal/eventbus"
	"cadence/internal/metrics"
	"cadence/internal/runner"
	"cadence/internal/runtime/supervisor"
	"cadence/internal/storage"
	logx "cadence/pkg/logx"
)

// StopReason is logged when the daemon shuts down.
type StopReason string

const (
	StopSIGINT     StopReason = "sigint"
	StopSIGTERM    StopReason = "sigterm"
	StopFatalError StopReason = "fatal_error"
	StopAppStop    StopReason = "app_stop"
)

type App struct {
	cfgm *config.Manager
	sup  *supervisor.Supervisor

	log   logx.Logger
	logs  *logx.Service
	bus   eventbus.Bus
	store storage.Store

	runner  *runner.Service
	metrics *metrics.Metrics
	debug   *debugsrv.Service
}

// New loads and validates the config at cfgPath and wires every component.
// Nothing runs until Start.
func New(ctx context.Context, cfgPath string) (*App, error) {
	cfgm := config.NewManager(cfgPath)
	cfg, err := cfgm.Load(ctx)
	if err != nil {
		return nil, err
	}

	logSvc, log := logx.New(cfg.Logging.Logx())
	log = log.With(logx.String("comp", "app"))
	cfgm.SetLogger(log.With(logx.String("comp", "config")))

	bus := eventbus.New()

	var store storage.Store
	if sc, enabled, err := mapStorageConfig(cfg); err != nil {
		return nil, err
	} else if enabled {
		st, err := storage.Open(sc, log.With(logx.String("comp", "storage")))
		if err != nil {
			return nil, err
		}
		store = st
		log.Info("storage enabled", logx.String("driver", sc.Driver))
	}

	rn := runner.New(runner.Options{
		Log:   log.With(logx.String("comp", "runner")),
		Bus:   bus,
		Store: store,
	})
	if _, err := rn.Apply(cfg); err != nil {
		// Validate already parsed every job, so this only trips on races
		// like a timezone database vanishing. Keep the jobs that did load.
		log.Warn("some jobs failed to register", logx.Err(err))
	}

	m := metrics.New(metrics.Sources{
		RunningJobs:   rn.RunningJobs,
		BusDropped:    bus.Dropped,
		AlertsDropped: logSvc.AlertsDropped,
	})

	a := &App{
		cfgm:    cfgm,
		log:     log,
		logs:    logSvc,
		bus:     bus,
		store:   store,
		runner:  rn,
		metrics: m,
	}

	dcfg, err := mapDebugConfig(cfg)
	if err != nil {
		return nil, err
	}
	a.debug = debugsrv.New(dcfg, debugsrv.Deps{
		Jobs:       rn,
		Store:      store,
		Metrics:    m.Handler(),
		Goroutines: a.goroutines,
	}, log)
	return a, nil
}

func (a *App) goroutines() []supervisor.Stats {
	if a.sup == nil {
		return nil
	}
	return a.sup.Snapshot()
}

// Done is closed once the app context ends (signal or fatal error).
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

func (a *App) Runner() *runner.Service { return a.runner }

func (a *App) Start(ctx context.Context) error {
	a.sup = supervisor.New(ctx, supervisor.WithLogger(a.log), supervisor.WithCancelOnError(true))
	c := a.sup.Context()

	events, unsub := a.bus.Subscribe(256)
	a.sup.Go0("metrics.consume", func(c context.Context) {
		defer unsub()
		a.metrics.Consume(c, events)
	})

	if err := a.runner.Start(c); err != nil {
		return err
	}
	a.debug.Start(c)

	sub := a.cfgm.Subscribe(8)
	a.sup.Go0("config.reload", func(c context.Context) {
		defer a.cfgm.Unsubscribe(sub)
		a.reloadLoop(c, sub)
	})
	a.sup.GoRestart("config.watch", a.cfgm.Watch, supervisor.WithRestartBackoff(time.Second, 30*time.Second))

	if every := watchdogInterval(); every > 0 {
		a.sup.Go0("systemd.watchdog", func(c context.Context) {
			watchdogLoop(c, every, func() bool { return c.Err() == nil && a.runner.Snapshot().Started }, a.log)
		})
	}
	sdNotify(a.log, daemon.SdNotifyReady)

	a.log.Info("app started", logx.String("config", a.cfgm.Path()), logx.Int("jobs", len(a.runner.Snapshot().Jobs)))
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
			// Coalesce bursts: keep only the latest config.
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
			a.apply(c, lastApplied, newCfg)
			lastApplied = newCfg
		}
	}
}

func (a *App) apply(c context.Context, oldCfg, newCfg *config.Config) {
	sdNotify(a.log, daemon.SdNotifyReloading)
	defer sdNotify(a.log, daemon.SdNotifyReady)

	ch := config.Diff(oldCfg, newCfg)
	if ch.Empty() {
		a.log.Info("config reloaded (no changes)")
		return
	}
	a.log.Debug("config change summary", ch.Fields()...)

	if ch.Has("logging") {
		a.logs.Apply(newCfg.Logging.Logx())
	}
	if ch.Has("storage") {
		a.log.Warn("storage config changed; restart required for changes to take effect")
	}
	if ch.Has("jobs") || ch.Has("runner") {
		if _, err := a.runner.Apply(newCfg); err != nil {
			a.log.Warn("some jobs failed to apply", logx.Err(err))
		}
	}
	if ch.Has("debug") {
		dcfg, err := mapDebugConfig(newCfg)
		if err != nil {
			a.log.Warn("invalid debug config; keeping previous", logx.Err(err))
		} else {
			a.debug.Reconfigure(c, dcfg)
		}
	}
	a.log.Info("config reloaded", ch.Fields()...)
}

// Stop shuts components down in dependency order, each step bounded so one
// component can't stall the whole stop.
func (a *App) Stop(ctx context.Context, reason StopReason) error {
	if a.sup == nil {
		return nil
	}
	a.log.Info("stopping", logx.String("reason", string(reason)))
	sdNotify(a.log, daemon.SdNotifyStopping)

	step := func(name string, max time.Duration, fn func(context.Context) error) {
		start := time.Now()
		stepCtx, cancel := context.WithTimeout(ctx, max)
		defer cancel()

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
				logx.String("name", name),
				logx.Duration("elapsed", time.Since(start)),
			)
		}
	}

	// Jobs first so in-flight actions can still log and persist their runs.
	step("runner", stopTimeout(a.cfgm.Get()), a.runner.Stop)
	a.sup.Cancel()
	step("debug", 2*time.Second, func(c context.Context) error { a.debug.Stop(c); return nil })
	step("supervisor", 2*time.Second, a.sup.Wait)
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
