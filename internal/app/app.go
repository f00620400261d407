package app

import (
	"context"
	"fmt"
	"strconv"
	"time"

	"github.com/DeLoWaN/openfront-discord-bot/internal/badge"
	"github.com/DeLoWaN/openfront-discord-bot/internal/commands"
	"github.com/DeLoWaN/openfront-discord-bot/internal/config"
	"github.com/DeLoWaN/openfront-discord-bot/internal/eventbus"
	"github.com/DeLoWaN/openfront-discord-bot/internal/openfront"
	"github.com/DeLoWaN/openfront-discord-bot/internal/results"
	"github.com/DeLoWaN/openfront-discord-bot/internal/runtime/supervisor"
	"github.com/DeLoWaN/openfront-discord-bot/internal/storage"
	"github.com/DeLoWaN/openfront-discord-bot/internal/syncer"
	"github.com/DeLoWaN/openfront-discord-bot/internal/task/engine"
	"github.com/DeLoWaN/openfront-discord-bot/internal/task/scheduler"
	"github.com/DeLoWaN/openfront-discord-bot/internal/tenant"
	"github.com/DeLoWaN/openfront-discord-bot/internal/tracking"
	"github.com/DeLoWaN/openfront-discord-bot/internal/transport"
	"github.com/DeLoWaN/openfront-discord-bot/internal/transport/discord"
	logx "github.com/DeLoWaN/openfront-discord-bot/pkg/logx"
)

const (
	updatesBuffer    = 256
	retentionTimeout = 5 * time.Minute
)

type App struct {
	cfgm *config.Manager
	res  config.Resolved
	sup  *supervisor.Supervisor

	log  logx.Logger
	logs *logx.Service
	bus  eventbus.Bus

	central *storage.Central
	tenants *tenant.Registry

	adapter transport.Adapter
	badges  *badge.Queue
	engine  *engine.Service
	sched   *scheduler.Service
	syncer  *syncer.Service
	results *results.Service
	cmdm    *commands.Manager
	life    *lifecycle

	updates chan transport.Update
}

// NewApp loads the config at cfgPath and wires every component. Nothing runs
// until Start.
func NewApp(cfgPath string) (*App, error) {
	cfgm := config.NewManager(cfgPath)
	cfg, err := cfgm.Load()
	if err != nil {
		return nil, err
	}
	res, err := cfg.Resolve()
	if err != nil {
		return nil, err
	}

	logSvc, base := logx.New(cfg.LogConfig())
	log := base.With(logx.String("comp", "app"))

	ad, err := discord.New(discord.Config{Token: res.Token}, base)
	if err != nil {
		logSvc.Close()
		return nil, err
	}
	logSvc.SetSender(ad)

	central, err := storage.OpenCentral(res.CentralDatabasePath, storage.Config{BusyTimeout: res.BusyTimeout}, base.With(logx.String("comp", "central")))
	if err != nil {
		logSvc.Close()
		return nil, fmt.Errorf("open central store: %w", err)
	}

	bus := eventbus.New()
	tenants := tenant.NewRegistry(tenant.Config{
		DataDir: res.GuildDataDir,
		Storage: storage.Config{BusyTimeout: res.BusyTimeout},
	}, central, base)

	of := openfront.New(openfront.Config{
		BaseURL:     res.OpenFrontBaseURL,
		LobbiesURL:  res.OpenFrontLobbiesURL,
		UserAgent:   res.OpenFrontUserAgent,
		RatePerSec:  res.OpenFrontRatePerSec,
		Burst:       res.OpenFrontBurst,
		MaxAttempts: res.OpenFrontMaxAttempts,
		Timeout:     res.OpenFrontTimeout,
	}, base)

	badges := badge.NewQueue(ad, 0, base)
	engineSvc := engine.New(engine.Config{
		Workers:   res.SyncWorkers,
		QueueSize: res.SyncQueueSize,
	}, base.With(logx.String("comp", "workqueue")))

	syncSvc := syncer.New(syncer.Config{Interval: res.SyncInterval}, syncer.Deps{
		Tenants: tenants,
		Source:  of,
		Members: ad,
		Badges:  badges,
		Queue:   engineSvc,
	}, base)
	tenants.OnRegister = syncSvc.Request

	resultsSvc := results.New(results.Config{
		Workers:    res.ResultsWorkers,
		LobbyPoll:  res.ResultsLobbyPoll,
		BatchLimit: res.ResultsBatchLimit,
		Policy: tracking.Policy{
			RetryDelay:   res.ResultsRetryDelay,
			FailureLimit: res.ResultsFailureLimit,
		},
	}, results.Deps{
		Tenants:  tenants,
		Store:    central,
		Upstream: of,
		Poster:   ad,
		Bus:      bus,
	}, base)

	cmdm := commands.New(commands.Config{}, commands.Deps{
		Tenants:  tenants,
		Syncer:   syncSvc,
		Results:  resultsSvc,
		Platform: ad,
		Source:   of,
		Bus:      bus,
	}, base)

	sched := scheduler.New(scheduler.Config{Timezone: res.RetentionTimezone}, base.With(logx.String("comp", "scheduler")))
	auditAge, postedAge := res.AuditRetention, res.PostedRetention
	if err := sched.Add("retention", res.RetentionSchedule, retentionTimeout, func(ctx context.Context) error {
		return tenants.PruneRetention(ctx, time.Now(), auditAge, postedAge)
	}); err != nil {
		_ = central.Close()
		logSvc.Close()
		return nil, err
	}

	return &App{
		cfgm:    cfgm,
		res:     res,
		log:     log,
		logs:    logSvc,
		bus:     bus,
		central: central,
		tenants: tenants,
		adapter: ad,
		badges:  badges,
		engine:  engineSvc,
		sched:   sched,
		syncer:  syncSvc,
		results: resultsSvc,
		cmdm:    cmdm,
		life: &lifecycle{
			tenants:  tenants,
			platform: ad,
			syncer:   syncSvc,
			cmds:     cmdm,
			log:      base.With(logx.String("comp", "lifecycle")),
		},
		updates: make(chan transport.Update, updatesBuffer),
	}, nil
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
	a.sup = supervisor.New(ctx, supervisor.WithLogger(a.log), supervisor.WithCancelOnError(true))

	// reject a bad hot reload before it is committed
	a.cfgm.SetLogger(a.log.With(logx.String("comp", "config")))
	a.cfgm.SetValidator(func(_ context.Context, cfg *config.Config) error {
		_, err := cfg.Resolve()
		return err
	})

	// workers before the gateway: joins queue syncs as soon as they arrive
	a.engine.Start(a.sup.Context())
	a.sup.GoRestart("badge.worker", a.badges.Run)
	a.sup.GoRestart("commands.dispatch", a.cmdm.Run)
	a.sup.GoRestart("lifecycle", func(c context.Context) error {
		return a.life.run(c, a.updates)
	})

	if err := a.adapter.Start(a.sup.Context(), a.updates); err != nil {
		a.sup.Cancel()
		return err
	}

	a.sup.GoRestart("sync.scheduler", a.syncer.Run)
	a.sup.GoRestart("results.discovery", a.results.Discover)
	for i := 0; i < a.results.Workers(); i++ {
		a.sup.GoRestart("results.worker."+strconv.Itoa(i), a.results.Work)
	}
	a.sched.Start(a.sup.Context())

	a.startEventLog()
	a.startConfigReload()
	a.sup.Go("config.watch", func(c context.Context) error {
		return a.cfgm.Watch(c)
	})

	a.log.Info("app started",
		logx.Int("sync_workers", a.res.SyncWorkers),
		logx.Int("results_workers", a.results.Workers()),
		logx.Duration("sync_interval", a.res.SyncInterval),
	)
	return nil
}

func (a *App) startEventLog() {
	events, unsub := a.bus.Subscribe(128)
	a.sup.Go("eventbus.log", func(c context.Context) error {
		defer unsub()
		for {
			select {
			case <-c.Done():
				return nil
			case e, ok := <-events:
				if !ok {
					return nil
				}
				// debug only: tracking publishes every few seconds
				a.log.Debug("event", logx.String("type", e.Type), logx.Time("time", e.Time))
			}
		}
	})
}

func (a *App) Stop(ctx context.Context, reason StopReason) error {
	if a.sup == nil {
		return nil
	}
	a.log.Info("stopping", logx.String("reason", string(reason)))

	// cancel first so background loops start unwinding immediately
	a.sup.Cancel()

	step := func(name string, max time.Duration, fn func(context.Context) error) {
		start := time.Now()
		a.log.Debug("stop step begin", logx.String("name", name), logx.Duration("max", max))

		stepCtx := ctx
		if dl, ok := ctx.Deadline(); ok && time.Until(dl) < max {
			max = time.Until(dl)
		}
		if max > 0 {
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
			}
			a.log.Debug("stop step end", logx.String("name", name), logx.Duration("took", time.Since(start)))
		case <-stepCtx.Done():
			a.log.Warn("stop step deadline reached (continuing)",
				logx.String("name", name),
				logx.Duration("elapsed", time.Since(start)),
			)
		}
	}

	step("scheduler", 2*time.Second, func(c context.Context) error { a.sched.Stop(c); return nil })
	step("adapter", 3*time.Second, func(c context.Context) error { return a.adapter.Stop(c) })
	step("workqueue", 5*time.Second, a.engine.Stop)
	step("supervisor", 5*time.Second, a.sup.Wait)
	for _, st := range a.sup.Status() {
		if st.Running {
			a.log.Warn("loop still running at shutdown", logx.String("name", st.Name))
		} else if st.Restarts > 0 {
			a.log.Info("loop restart summary", logx.String("name", st.Name), logx.Uint64("restarts", st.Restarts), logx.String("last_err", st.LastErr))
		}
	}
	step("storage", 2*time.Second, func(context.Context) error {
		a.tenants.Close()
		return a.central.Close()
	})

	a.log.Info("stopped")
	a.logs.Close()
	return nil
}
