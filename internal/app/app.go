// Package app wires configuration, the job pipeline and the HTTP front end
// into one process.
package app

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"msgblast/internal/config"
	"msgblast/internal/delivery"
	"msgblast/internal/dispatch"
	"msgblast/internal/eventbus"
	"msgblast/internal/housekeeping"
	"msgblast/internal/job"
	"msgblast/internal/runtime/supervisor"
	"msgblast/internal/transport"
	"msgblast/internal/transport/telegram"
	"msgblast/internal/web"
	logx "msgblast/pkg/logx"
	"msgblast/pkg/systemd"
)

type App struct {
	cfgm *config.ConfigManager
	rt   config.Runtime

	log  logx.Logger
	logs *logx.Service
	bus  eventbus.Bus
	sd   *systemd.Notifier

	store    *job.Store
	provider transport.Factory
	engine   *delivery.Engine
	house    *housekeeping.Service

	// Set by Start.
	sup      *supervisor.Supervisor
	jobsSup  *supervisor.Supervisor
	dispatch *dispatch.Dispatcher
	web      *web.Service
}

func New(cfgPath string) (*App, error) {
	cfgm := config.NewConfigManager(cfgPath)
	cfg, err := cfgm.Load()
	if err != nil {
		return nil, fmt.Errorf("load config: %w", err)
	}
	rt, err := cfg.Resolve()
	if err != nil {
		return nil, err
	}

	logs, log := logx.New(mapLogConfig(cfg))
	bus := eventbus.New()
	store := job.NewStore(bus)

	provider, err := newProvider(rt, log)
	if err != nil {
		return nil, err
	}
	engine := delivery.NewEngine(store, provider, log.With(logx.String("comp", "delivery")))

	house := housekeeping.New(mapHousekeepingConfig(rt), log)
	if err := house.Validate(rt.PruneSchedule); err != nil {
		return nil, fmt.Errorf("uploads.prune_schedule: %w", err)
	}

	cfgm.SetLogger(log.With(logx.String("comp", "config")))
	return &App{
		cfgm:     cfgm,
		rt:       rt,
		log:      log.With(logx.String("comp", "app")),
		logs:     logs,
		bus:      bus,
		sd:       systemd.NewNotifier(cfg.Systemd.Notify),
		store:    store,
		provider: provider,
		engine:   engine,
		house:    house,
	}, nil
}

// Done is closed when the app context ends (fatal error or Stop).
func (a *App) Done() <-chan struct{} {
	if a.sup == nil {
		ch := make(chan struct{})
		close(ch)
		return ch
	}
	return a.sup.Context().Done()
}

// Err reports the first fatal error recorded by the app supervisor.
func (a *App) Err() error {
	if a.sup == nil {
		return nil
	}
	return a.sup.Err()
}

// Addr is the HTTP listener address once started.
func (a *App) Addr() string {
	if a.web == nil {
		return ""
	}
	return a.web.Addr()
}

func (a *App) Start(ctx context.Context) error {
	a.sup = supervisor.New(ctx, supervisor.WithLogger(a.log), supervisor.WithCancelOnError(true))
	// Jobs get their own supervisor so shutdown can interrupt them before
	// the rest of the app goes away.
	a.jobsSup = supervisor.New(ctx, supervisor.WithLogger(a.log.With(logx.String("comp", "jobs"))))
	a.dispatch = dispatch.New(a.store, a.engine, a.jobsSup, a.log)
	a.web = web.New(mapWebConfig(a.rt), a.dispatch, a.store, a.log)

	a.cfgm.SetValidator(func(c context.Context, cfg *config.Config) error {
		rt, err := cfg.Resolve()
		if err != nil {
			return err
		}
		return a.house.Validate(rt.PruneSchedule)
	})

	a.startJobLog()

	if err := a.house.Start(a.sup.Context()); err != nil {
		return err
	}
	if err := a.web.Start(a.sup.Context()); err != nil {
		return fmt.Errorf("http listen %s: %w", a.rt.Addr, err)
	}

	a.sup.GoRestart("config.watch", a.cfgm.Watch, supervisor.WithRestartBackoff(250*time.Millisecond, 5*time.Second))
	a.startReloadLoop()

	if _, err := a.sd.Ready(); err != nil {
		a.log.Warn("sd_notify ready failed", logx.Err(err))
	}
	a.log.Info("started",
		logx.String("addr", a.web.Addr()),
		logx.String("provider", a.rt.Driver),
		logx.String("uploads", a.rt.UploadsDir),
	)
	return nil
}

// startJobLog logs job lifecycle milestones from the event bus.
func (a *App) startJobLog() {
	events, unsub := a.bus.Subscribe(256)
	log := a.log.With(logx.String("comp", "jobs"))
	a.sup.Go0("jobs.log", func(c context.Context) {
		defer unsub()
		for {
			select {
			case <-c.Done():
				return
			case e, ok := <-events:
				if !ok {
					return
				}
				ev, ok := e.Data.(job.Event)
				if !ok {
					continue
				}
				logJobEvent(log, e.Type, ev)
			}
		}
	})
}

func logJobEvent(log logx.Logger, typ string, ev job.Event) {
	r := ev.Record
	switch {
	case typ == job.EventCreated:
		log.Debug("job created", logx.String("job", r.ID))
	case ev.Previous != r.Status && r.Status.Terminal():
		log.Info("job finished",
			logx.String("job", r.ID),
			logx.String("status", string(r.Status)),
			logx.String("message", r.Message),
			logx.Duration("dur", r.UpdatedAt.Sub(r.CreatedAt)),
		)
	case ev.Previous != r.Status:
		log.Debug("job status", logx.String("job", r.ID), logx.String("status", string(r.Status)))
	}
}

func (a *App) startReloadLoop() {
	sub := a.cfgm.Subscribe(8)
	a.sup.Go0("config.reload", func(c context.Context) {
		defer a.cfgm.Unsubscribe(sub)
		last := a.cfgm.Get()
		for {
			select {
			case <-c.Done():
				return
			case cfg, ok := <-sub:
				if !ok {
					return
				}
				// Coalesce bursts.
				for drained := false; !drained; {
					select {
					case newer := <-sub:
						if newer != nil {
							cfg = newer
						}
					default:
						drained = true
					}
				}
				a.applyConfig(c, last, cfg)
				last = cfg
			}
		}
	})
}

func (a *App) applyConfig(ctx context.Context, prev, cfg *config.Config) {
	_, _ = a.sd.Reloading()
	defer func() { _, _ = a.sd.Ready() }()

	sections, attrs := config.SummarizeConfigChange(prev, cfg)
	if len(sections) == 0 {
		a.log.Debug("config reload received, but no effective changes detected")
		return
	}
	a.log.Info("config reloaded", append([]logx.Field{logx.String("changed", strings.Join(sections, ","))}, attrs...)...)

	rt, err := cfg.Resolve()
	if err != nil {
		a.log.Error("config reload rejected", logx.Err(err))
		return
	}
	a.logs.Apply(mapLogConfig(cfg))

	if rt.Driver != a.rt.Driver {
		a.log.Warn("provider.driver changed; restart required", logx.String("running", a.rt.Driver), logx.String("configured", rt.Driver))
	} else if tf, ok := a.provider.(*telegram.Factory); ok {
		tf.Apply(mapTelegramConfig(rt))
	}
	if cfg.Systemd.Notify != a.sd.Enabled {
		a.log.Warn("systemd.notify changed; restart required")
	}
	if err := a.house.Apply(mapHousekeepingConfig(rt)); err != nil {
		a.log.Error("housekeeping reconfigure failed", logx.Err(err))
	}
	if err := a.web.Reconfigure(ctx, mapWebConfig(rt)); err != nil {
		a.log.Error("http reconfigure failed", logx.Err(err))
	}
}

// Stop interrupts running jobs, then shuts the rest down. ctx bounds the
// whole sequence.
func (a *App) Stop(ctx context.Context) error {
	if a.sup == nil {
		return nil
	}
	if _, err := a.sd.Stopping(); err != nil {
		a.log.Warn("sd_notify stopping failed", logx.Err(err))
	}
	a.log.Info("stopping", logx.Int("running_jobs", a.dispatch.Len()))

	a.web.Stop(ctx)
	a.house.Stop(ctx)

	var errs []error
	// Canceling the jobs context ends each in-flight job in error.
	if err := a.jobsSup.Stop(ctx); err != nil && !isCtxErr(err) {
		errs = append(errs, err)
	} else if err != nil {
		a.log.Warn("jobs did not stop in time", logx.Strings("jobs", a.dispatch.Running()))
	}
	if err := a.sup.Stop(ctx); err != nil && !isCtxErr(err) {
		errs = append(errs, err)
	}
	jobs := a.jobsSup.Counters()
	a.log.Info("stopped",
		logx.Int("jobs_total", a.store.Len()),
		logx.Any("jobs_by_status", a.store.Counts()),
		logx.Int64("jobs_started", int64(jobs.Started)),
		logx.Int64("jobs_active", jobs.Active),
	)
	_ = a.logs.Close()
	return errors.Join(errs...)
}

func isCtxErr(err error) bool {
	return errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded)
}
