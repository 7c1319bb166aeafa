// Package app is the composition root. It loads configuration, builds every
// service with its dependencies and owns the start/stop order.
package app

import (
	"context"
	"errors"
	"fmt"
	"time"

	"thalis/internal/config"
	"thalis/internal/eido"
	"thalis/internal/eido/tools"
	"thalis/internal/engine"
	"thalis/internal/eventbus"
	"thalis/internal/gateway"
	"thalis/internal/janitor"
	"thalis/internal/moat"
	"thalis/internal/notifier"
	"thalis/internal/provider"
	"thalis/internal/runtime/supervisor"
	"thalis/internal/storage"
	"thalis/internal/workers"
	logx "thalis/pkg/logx"
)

// systemIdentity owns process-wide registry slots such as the scheduler loop.
const systemIdentity = "system"

const stopTimeout = 10 * time.Second

type App struct {
	cfgPath string
	cfgm    *config.Manager

	log  logx.Logger
	logs *logx.Service
	bus  eventbus.Bus

	store   storage.Store
	engines *engine.Engines
	gw      *gateway.Gateway
	moat    *moat.Moat
	notif   *notifier.Service
	jan     *janitor.Janitor
	runtime *eido.Runtime

	schedulerOn bool

	sup *supervisor.Supervisor
}

func New(cfgPath string) (*App, error) {
	cfgm := config.NewManager(cfgPath)
	cfg, err := cfgm.Load()
	if err != nil {
		return nil, fmt.Errorf("load config: %w", err)
	}
	if err := config.Validate(cfg); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}

	// Map every section up front so a bad config fails before anything opens.
	storeCfg, err := mapStorage(cfg.Storage)
	if err != nil {
		return nil, err
	}
	notifCfg, err := mapNotifier(cfg.Notifier)
	if err != nil {
		return nil, err
	}
	agentCfg, err := mapAgent(cfg.Agent)
	if err != nil {
		return nil, err
	}
	taskCfg, err := mapTasks(cfg.Tasks)
	if err != nil {
		return nil, err
	}
	progCfg, err := mapPrograms(cfg.Programs)
	if err != nil {
		return nil, err
	}
	schedCfg, err := mapScheduler(cfg.Scheduler)
	if err != nil {
		return nil, err
	}
	janCfg, err := mapJanitor(cfg.Janitor)
	if err != nil {
		return nil, err
	}

	bus := eventbus.New()
	logSvc, rootLog := logx.New(mapLogging(cfg.Logging), bus)
	log := rootLog.With(logx.String("comp", "app"))

	store, err := storage.Open(storeCfg, rootLog.With(logx.String("comp", "storage")))
	if err != nil {
		_ = logSvc.Close()
		return nil, fmt.Errorf("open storage: %w", err)
	}

	toolReg := tools.NewRegistry()
	for _, t := range []tools.Tool{
		tools.Calculator{},
		tools.Clock{},
		tools.NewWebFetch(),
		tools.NewNotes(store),
	} {
		if err := toolReg.Register(t); err != nil {
			_ = store.Close()
			_ = logSvc.Close()
			return nil, fmt.Errorf("register tool: %w", err)
		}
	}

	notif := notifier.New(notifier.NewBusAdapter(bus), bus, notifCfg,
		rootLog.With(logx.String("comp", "notifier")))
	runtime := eido.New(agentCfg, store, provider.NewFactory(), toolReg, notif,
		rootLog.With(logx.String("comp", "eido")))

	catalog := engine.NewCatalog()
	engines := engine.NewEngines(context.Background(), catalog,
		rootLog.With(logx.String("comp", "engine")))
	gw := gateway.New(store, engines, rootLog.With(logx.String("comp", "gateway")))

	taskRunner := workers.NewTaskRunner(taskCfg, store, gw,
		rootLog.With(logx.String("comp", "taskrunner")))
	progUpdater := workers.NewProgramUpdater(progCfg, store, gw,
		rootLog.With(logx.String("comp", "programupdater")))
	agentRunner := workers.NewAgentRunner(runtime,
		rootLog.With(logx.String("comp", "agentrunner")))
	m := moat.New(schedCfg, store, engines,
		rootLog.With(logx.String("comp", "moat")))

	for kind, fn := range map[string]engine.EntryPoint{
		engine.KindTaskRunner:     taskRunner.EntryPoint,
		engine.KindProgramUpdater: progUpdater.EntryPoint,
		engine.KindAgentRunner:    agentRunner.EntryPoint,
		engine.KindMoat:           m.EntryPoint,
	} {
		if err := catalog.Register(kind, fn); err != nil {
			_ = store.Close()
			_ = logSvc.Close()
			return nil, fmt.Errorf("register worker kind: %w", err)
		}
	}

	jan := janitor.New(janCfg, store, engines, notif,
		rootLog.With(logx.String("comp", "janitor")))

	return &App{
		cfgPath:     cfgPath,
		cfgm:        cfgm,
		log:         log,
		logs:        logSvc,
		bus:         bus,
		store:       store,
		engines:     engines,
		gw:          gw,
		moat:        m,
		notif:       notif,
		jan:         jan,
		runtime:     runtime,
		schedulerOn: cfg.Scheduler.Enabled,
	}, nil
}

// Gateway exposes the conversation entry point for transports built on top
// of the engine.
func (a *App) Gateway() *gateway.Gateway { return a.gw }

// Bus exposes the process event bus for transports and tooling.
func (a *App) Bus() eventbus.Bus { return a.bus }

func (a *App) Start(ctx context.Context) error {
	a.sup = supervisor.New(ctx, supervisor.WithLogger(a.log))

	a.cfgm.SetLogger(a.log.With(logx.String("comp", "config")))
	a.cfgm.SetValidator(func(_ context.Context, cfg *config.Config) error {
		return config.Validate(cfg)
	})

	if err := a.notif.Start(a.sup.Context()); err != nil && !errors.Is(err, notifier.ErrDisabled) {
		return err
	}

	if a.schedulerOn {
		reg := a.engines.ForIdentity(systemIdentity)
		id, err := reg.Create(engine.KindMoat, engine.MoatPayload{})
		if err != nil {
			return fmt.Errorf("boot scheduler: %w", err)
		}
		a.log.Info("scheduler slot created", logx.Int64("slot", id))
	} else {
		a.log.Warn("scheduler disabled; tasks and programs will not run")
	}

	if err := a.jan.Start(); err != nil {
		return err
	}

	a.sup.Go("config.watch", a.cfgm.Watch)

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
				a.applyReload(newCfg)
			}
		}
	})

	a.log.Info("engine started", logx.String("config", a.cfgPath))
	return nil
}

// applyReload applies the hot-reloadable subset of a validated config.
// Logging swaps live; structural sections (storage path, worker timings,
// scheduler poll) only take effect after a restart.
func (a *App) applyReload(cfg *config.Config) {
	if cfg == nil {
		return
	}
	a.logs.Apply(mapLogging(cfg.Logging))
	a.log.Info("config reload applied",
		logx.String("level", cfg.Logging.Level),
		logx.Bool("console", cfg.Logging.Console))
}

func (a *App) Stop(ctx context.Context) error {
	if _, ok := ctx.Deadline(); !ok {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, stopTimeout)
		defer cancel()
	}

	var errs []error
	if err := a.jan.Stop(ctx); err != nil {
		errs = append(errs, fmt.Errorf("janitor: %w", err))
	}
	if a.sup != nil {
		a.sup.Cancel()
		if err := a.sup.Wait(ctx); err != nil {
			errs = append(errs, fmt.Errorf("supervisor: %w", err))
		}
	}
	a.engines.Close()
	if err := a.notif.Stop(ctx); err != nil && !errors.Is(err, notifier.ErrDisabled) {
		errs = append(errs, fmt.Errorf("notifier: %w", err))
	}
	if err := a.store.Close(); err != nil {
		errs = append(errs, fmt.Errorf("storage: %w", err))
	}
	a.log.Info("engine stopped")
	if err := a.logs.Close(); err != nil {
		errs = append(errs, fmt.Errorf("logging: %w", err))
	}
	return errors.Join(errs...)
}
