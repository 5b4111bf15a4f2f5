// Package app wires the joiner's components together and owns their
// lifecycle: construction from config, start order, hot reload and a
// bounded shutdown.
package app

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"

	"github.com/8g6ghfrgj/telegram-multi-session-joiner/internal/bot"
	"github.com/8g6ghfrgj/telegram-multi-session-joiner/internal/config"
	"github.com/8g6ghfrgj/telegram-multi-session-joiner/internal/distributor"
	"github.com/8g6ghfrgj/telegram-multi-session-joiner/internal/eventbus"
	"github.com/8g6ghfrgj/telegram-multi-session-joiner/internal/export"
	"github.com/8g6ghfrgj/telegram-multi-session-joiner/internal/harvest"
	"github.com/8g6ghfrgj/telegram-multi-session-joiner/internal/joiner"
	"github.com/8g6ghfrgj/telegram-multi-session-joiner/internal/metrics"
	"github.com/8g6ghfrgj/telegram-multi-session-joiner/internal/notify"
	"github.com/8g6ghfrgj/telegram-multi-session-joiner/internal/observability/ops"
	"github.com/8g6ghfrgj/telegram-multi-session-joiner/internal/platform/mtproto"
	rtsup "github.com/8g6ghfrgj/telegram-multi-session-joiner/internal/runtime/supervisor"
	"github.com/8g6ghfrgj/telegram-multi-session-joiner/internal/scheduler"
	"github.com/8g6ghfrgj/telegram-multi-session-joiner/internal/stats"
	"github.com/8g6ghfrgj/telegram-multi-session-joiner/internal/storage"
	kit "github.com/8g6ghfrgj/telegram-multi-session-joiner/internal/transport"
	telegram "github.com/8g6ghfrgj/telegram-multi-session-joiner/internal/transport/telegram/adapter"
	logx "github.com/8g6ghfrgj/telegram-multi-session-joiner/pkg/logx"
	"github.com/8g6ghfrgj/telegram-multi-session-joiner/pkg/systemd"
)

const metricsNamespace = "joiner"

type App struct {
	cfgm *config.Manager
	sup  *rtsup.Supervisor

	log  logx.Logger
	logs *logx.Service
	bus  *eventbus.Bus

	store   *storage.Store
	adapter *telegram.Adapter
	dialer  *mtproto.Dialer
	reg     *prometheus.Registry

	dist      *distributor.Distributor
	joiner    *joiner.Orchestrator
	harvester *harvest.Harvester
	stats     *stats.Aggregator
	exporter  *export.Exporter
	notif     *notify.Service
	sched     *scheduler.Service
	ops       *ops.Service
	bot       *bot.Bot

	updates chan kit.Update
}

// New loads and validates the config and builds every component. Nothing
// runs until Start.
func New(ctx context.Context, cfgPath string) (*App, error) {
	cfgm := config.NewManager(cfgPath)
	cfg, err := cfgm.Load()
	if err != nil {
		return nil, err
	}
	rt, err := resolve(cfg)
	if err != nil {
		return nil, err
	}

	bootLog := logx.NewConsole("INFO").With(logx.String("comp", "telegram"))
	ad, err := telegram.New(telegram.Config{Token: rt.Token, PollTimeout: rt.PollTimeout}, bootLog)
	if err != nil {
		return nil, err
	}

	// Telegram logging starts disabled so Apply does not warn about a
	// missing target; the target is set first, then the real config applied.
	logCfg := logConfig(cfg)
	bootCfg := logCfg
	bootCfg.Telegram.Enabled = false
	logs, log := logx.New(bootCfg, ad)
	if rt.GroupLogChat != 0 {
		logs.SetTelegramTarget(rt.GroupLogChat, logCfg.Telegram.ThreadID)
	}
	logs.Apply(logCfg)

	store, err := storage.Open(ctx, storage.Config{Path: rt.StoragePath, BusyTimeout: rt.BusyTimeout},
		log.With(logx.String("comp", "storage")))
	if err != nil {
		_ = logs.Close()
		return nil, err
	}

	dialer, err := mtproto.NewDialer(mtproto.Config{AppID: rt.APIID, AppHash: rt.APIHash},
		log.With(logx.String("comp", "mtproto")))
	if err != nil {
		_ = store.Close()
		_ = logs.Close()
		return nil, err
	}

	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	m := metrics.NewPrometheus(reg, metricsNamespace)
	bus := eventbus.New()

	dist := distributor.New(store, distributorConfig(rt), log.With(logx.String("comp", "distributor")))
	orch := joiner.New(store, dist, dialer, joinerConfig(rt),
		joiner.WithBus(bus),
		joiner.WithMetrics(m),
		joiner.WithLogger(log.With(logx.String("comp", "joiner"))),
	)
	harv := harvest.New(store, dialer, harvest.Config{MessageLimit: rt.ExtractLimit, DialTimeout: rt.DialTimeout},
		log.With(logx.String("comp", "harvest")))
	agg := stats.NewAggregator(store, dist, orch, m)
	exp := export.New(store, exportConfig(rt))
	notif := notify.New(notifyConfig(rt), ad, bus, log.With(logx.String("comp", "notify")))
	sched := scheduler.New(schedulerConfig(rt), log.With(logx.String("comp", "scheduler")))
	opsSvc := ops.New(opsConfig(rt), reg, store.Ping, log.With(logx.String("comp", "ops")))

	b := bot.New(botConfig(rt), bot.Deps{
		Store:       store,
		Runner:      orch,
		Distributor: dist,
		Stats:       agg,
		Harvester:   harv,
		Exporter:    exp,
		Scheduler:   sched,
		Dialer:      dialer,
		Unit:        systemd.SelfUnit,
	}, ad, rt.OwnerUserIDs, log)

	a := &App{
		cfgm:      cfgm,
		log:       log.With(logx.String("comp", "app")),
		logs:      logs,
		bus:       bus,
		store:     store,
		adapter:   ad,
		dialer:    dialer,
		reg:       reg,
		dist:      dist,
		joiner:    orch,
		harvester: harv,
		stats:     agg,
		exporter:  exp,
		notif:     notif,
		sched:     sched,
		ops:       opsSvc,
		bot:       b,
		updates:   make(chan kit.Update, 256),
	}
	a.registerJobs()
	return a, nil
}

func (a *App) registerJobs() {
	a.sched.Register(scheduler.JobAutoRun, func(ctx context.Context) error {
		// The report reaches operators through the notifier's event listener.
		_, err := a.joiner.RunCycle(ctx)
		if errors.Is(err, joiner.ErrRunInProgress) {
			a.log.Info("auto run skipped, a cycle is already running")
			return nil
		}
		return err
	})
	a.sched.Register(scheduler.JobStatsReport, func(ctx context.Context) error {
		rep, err := a.stats.Snapshot(ctx)
		if err != nil {
			return err
		}
		return a.notif.Notify(ctx, stats.FormatHTML(rep))
	})
}

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

	a.cfgm.SetLogger(a.log.With(logx.String("comp", "config")))
	a.cfgm.SetValidator(func(_ context.Context, cfg *config.Config) error {
		_, err := resolve(cfg)
		return err
	})

	if err := a.adapter.Start(a.sup.Context(), a.updates); err != nil {
		return fmt.Errorf("start telegram adapter: %w", err)
	}

	a.notif.Start(a.sup.Context())
	a.sched.Start(a.sup.Context())
	a.ops.Start(a.sup.Context())

	a.bot.Start(a.sup.Context())
	a.sup.Go("bot.dispatch", func(c context.Context) error {
		return a.bot.Run(c, a.updates)
	})

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
				// Progress events are frequent; keep them at debug.
				a.log.Debug("event", logx.String("type", e.Type), logx.Time("time", e.Time))
			}
		}
	})

	a.startReload()
	a.sup.Go("config.watch", func(c context.Context) error {
		return a.cfgm.Watch(c)
	})
	a.sup.Go0("systemd.watchdog", func(c context.Context) {
		systemd.Watchdog(c, a.log.With(logx.String("comp", "systemd")))
	})

	systemd.Ready()
	systemd.Status("running")
	a.log.Info("app started", logx.String("db", a.store.Path()))
	return nil
}

func (a *App) Stop(ctx context.Context, reason StopReason) error {
	if a.sup == nil {
		return nil
	}
	systemd.Stopping()
	a.log.Info("stopping", logx.String("reason", string(reason)))
	a.sup.Cancel()

	// Each step is bounded so one component cannot stall the whole stop.
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
			if err != nil && !errors.Is(err, context.Canceled) {
				a.log.Warn("stop step error", logx.String("name", name), logx.Err(err))
				return
			}
			a.log.Debug("stop step end", logx.String("name", name), logx.Duration("took", time.Since(start)))
		case <-stepCtx.Done():
			a.log.Warn("stop step deadline reached (continuing)",
				logx.String("name", name),
				logx.Duration("max", max),
			)
			go func() {
				if err := <-done; err != nil && !errors.Is(err, context.Canceled) {
					a.log.Warn("stop step finished after deadline", logx.String("name", name), logx.Err(err))
				}
			}()
		}
	}

	// A running cycle finishes its current item and settles it first.
	step("joiner", 10*time.Second, func(c context.Context) error {
		if !a.joiner.Stop() {
			return nil
		}
		t := time.NewTicker(100 * time.Millisecond)
		defer t.Stop()
		for {
			if _, running := a.joiner.Running(); !running {
				return nil
			}
			select {
			case <-c.Done():
				return c.Err()
			case <-t.C:
			}
		}
	})
	step("bot", 5*time.Second, func(c context.Context) error { a.bot.Stop(c); return nil })
	step("scheduler", 2*time.Second, func(c context.Context) error { a.sched.Stop(c); return nil })
	step("ops", 2*time.Second, func(c context.Context) error { a.ops.Stop(c); return nil })
	step("notifier", 3*time.Second, func(c context.Context) error { a.notif.Stop(c); return nil })
	step("adapter", 2*time.Second, func(c context.Context) error { return a.adapter.Stop(c) })
	step("supervisor", 2*time.Second, func(c context.Context) error { return a.sup.Wait(c) })
	step("storage", 1*time.Second, func(context.Context) error { return a.store.Close() })
	step("logs", 1*time.Second, func(context.Context) error { return a.logs.Close() })
	return nil
}
