package app

import (
	"context"
	"fmt"
	"io"
	"sync"
	"time"

	"studysched/internal/config"
	"studysched/internal/eventbus"
	"studysched/internal/events"
	"studysched/internal/runtime/supervisor"
	"studysched/internal/scheduling"
	"studysched/internal/storage"
	"studysched/internal/task/scheduler"
	logx "studysched/pkg/logx"
)

// App owns the wired services. CLI one-shot commands use it without Start;
// `serve` starts the background loops (config watch, audit, maintenance).
type App struct {
	cfgm *config.ConfigManager
	sup  *supervisor.Supervisor

	log      logx.Logger
	logs     *logx.Service
	logExtra io.Writer
	bus      eventbus.Bus
	now      func() time.Time

	store  storage.Store
	events *events.Service
	sched  *scheduling.Service
	plans  *scheduling.PlanService
	jobs   *scheduler.Service

	mu       sync.RWMutex
	settings config.Settings
}

type Option func(*App)

// WithClock replaces time.Now for scheduling and maintenance.
func WithClock(now func() time.Time) Option {
	return func(a *App) { a.now = now }
}

// WithLogExtra mirrors log lines as JSON to w, across reloads too.
func WithLogExtra(w io.Writer) Option {
	return func(a *App) { a.logExtra = w }
}

func New(cfgPath string, opts ...Option) (*App, error) {
	cfgm := config.NewConfigManager(cfgPath)
	cfg, err := cfgm.Load()
	if err != nil {
		return nil, err
	}
	settings, err := config.Resolve(cfg)
	if err != nil {
		return nil, err
	}

	logSvc, log := logx.New(mapLogConfig(cfg))
	a := &App{
		cfgm:     cfgm,
		log:      log.With(logx.String("comp", "app")),
		logs:     logSvc,
		bus:      eventbus.New(),
		now:      time.Now,
		settings: settings,
	}
	for _, o := range opts {
		o(a)
	}
	if a.logExtra != nil {
		logSvc.Apply(a.logConfig(cfg))
	}
	cfgm.SetLogger(log.With(logx.String("comp", "config")))

	sc := mapStorageConfig(cfg, settings)
	st, err := storage.Open(sc, log.With(logx.String("comp", "storage")))
	if err != nil {
		return nil, err
	}
	a.store = st
	a.log.Debug("storage opened", logx.String("driver", sc.Driver))

	a.events, err = events.NewService(st, mapEventOptions(cfg), a.bus, log)
	if err != nil {
		_ = st.Close()
		return nil, fmt.Errorf("study events: %w", err)
	}
	a.sched = scheduling.New(mapSchedulingConfig(settings), scheduling.Deps{
		Plans:      st,
		Activities: st,
		Surveys:    st,
		Events:     a.events,
		Bus:        a.bus,
		Logger:     log,
		Now:        a.now,
	})
	a.plans = scheduling.NewPlanService(st, st, a.sched, mapValidator(cfg), a.bus, log)

	a.jobs = scheduler.New(mapJobsConfig(settings), log.With(logx.String("comp", "maintenance")))
	if err := a.registerMaintenance(settings); err != nil {
		_ = st.Close()
		return nil, err
	}
	return a, nil
}

func (a *App) Config() *config.Config          { return a.cfgm.Get() }
func (a *App) Logger() logx.Logger             { return a.log }
func (a *App) Bus() eventbus.Bus               { return a.bus }
func (a *App) Store() storage.Store            { return a.store }
func (a *App) Events() *events.Service         { return a.events }
func (a *App) Scheduling() *scheduling.Service { return a.sched }
func (a *App) Plans() *scheduling.PlanService  { return a.plans }
func (a *App) Jobs() *scheduler.Service        { return a.jobs }

func (a *App) logConfig(cfg *config.Config) logx.Config {
	lc := mapLogConfig(cfg)
	lc.Extra = a.logExtra
	return lc
}

func (a *App) Settings() config.Settings {
	a.mu.RLock()
	defer a.mu.RUnlock()
	return a.settings
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

// Start launches the background loops. watch enables config hot reload.
func (a *App) Start(ctx context.Context, watch bool) error {
	if a.sup != nil {
		return fmt.Errorf("app already started")
	}
	a.sup = supervisor.New(ctx, supervisor.WithLogger(a.log), supervisor.WithCancelOnError(true))

	audit, unsub := a.bus.Subscribe(256)
	a.sup.Go0("audit", func(c context.Context) {
		defer unsub()
		a.auditLoop(c, audit)
	})

	a.jobs.Start(a.sup.Context())

	if watch {
		sub := a.cfgm.Subscribe(8)
		a.sup.Go0("config.reload", func(c context.Context) {
			defer a.cfgm.Unsubscribe(sub)
			a.reloadLoop(c, sub)
		})
		a.sup.GoRestart("config.watch", time.Second, 30*time.Second, a.cfgm.Watch)
	}

	a.log.Info("app started", logx.Bool("watch", watch), logx.Bool("maintenance", a.jobs.Enabled()))
	return nil
}

// Stop cancels the background loops, waits for them and closes storage.
func (a *App) Stop(ctx context.Context, reason StopReason) error {
	a.log.Info("stopping", logx.String("reason", string(reason)))
	var err error
	if a.sup != nil {
		a.jobs.Stop(ctx)
		if werr := a.sup.Stop(ctx); werr != nil {
			a.log.Warn("supervised loops did not stop cleanly", logx.Err(werr))
			err = werr
		}
	}
	if cerr := a.Close(); err == nil {
		err = cerr
	}
	return err
}

// Close releases storage and log sinks. One-shot commands call it directly.
func (a *App) Close() error {
	err := a.store.Close()
	if a.logs != nil {
		_ = a.logs.Close()
	}
	return err
}
