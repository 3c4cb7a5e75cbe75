// Package app wires the pollers to their collaborators and owns the process
// lifecycle: startup order, hot reload and staged shutdown.
package app

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync/atomic"
	"time"

	"paybot/internal/autopay"
	"paybot/internal/config"
	"paybot/internal/domain"
	"paybot/internal/eventbus"
	"paybot/internal/ledger"
	"paybot/internal/notifier"
	"paybot/internal/poller"
	"paybot/internal/provider"
	"paybot/internal/runtime/supervisor"
	"paybot/internal/schedule"
	"paybot/internal/storage"
	kit "paybot/internal/transport"
	telegram "paybot/internal/transport/telegram/adapter"
	logx "paybot/pkg/logx"
)

// PollerNames lists the pollers in start order.
var PollerNames = []string{"schedule", "autopay", "ledger"}

type App struct {
	cfgPath string

	cfgm *config.ConfigManager
	sup  *supervisor.Supervisor

	log   logx.Logger
	logs  *logx.Service
	bus   *eventbus.MemBus
	store storage.Store

	adapter kit.Adapter
	prov    *provider.Client
	notif   *notifier.Service
	maint   *maintenance

	pollers   map[string]*poller.Poller
	defaultTZ atomic.Value // string
}

func New(cfgPath string) (*App, error) {
	cfgm := config.NewConfigManager(cfgPath)
	cfg, err := cfgm.Load()
	if err != nil {
		return nil, err
	}

	bootLog := logx.NewConsole(cfg.Logging.Level).With(logx.String("comp", "telegram"))
	tcfg, err := mapTelegramConfig(cfg)
	if err != nil {
		return nil, err
	}
	ad, err := telegram.New(tcfg, bootLog)
	if err != nil {
		return nil, err
	}
	return build(cfgPath, cfgm, cfg, ad)
}

// build assembles everything after the chat transport exists.
func build(cfgPath string, cfgm *config.ConfigManager, cfg *config.Config, ad kit.Adapter) (*App, error) {
	logSvc, log := logx.New(mapLoggingConfig(cfg), ad)
	log = log.With(logx.String("comp", "app"))

	a := &App{
		cfgPath: cfgPath,
		cfgm:    cfgm,
		log:     log,
		logs:    logSvc,
		bus:     eventbus.New(),
		adapter: ad,
		pollers: map[string]*poller.Poller{},
	}
	a.defaultTZ.Store(cfg.DefaultTimezone)

	sc, err := mapStorageConfig(cfg)
	if err != nil {
		return nil, err
	}
	st, err := storage.Open(sc, log.With(logx.String("comp", "storage")))
	if err != nil {
		return nil, err
	}
	a.store = st
	if st != nil {
		log.Info("storage enabled", logx.String("driver", sc.Driver))
	}

	ncfg, err := mapNotifierConfig(cfg)
	if err != nil {
		return nil, a.abort(err)
	}
	nopts := []notifier.Option{notifier.WithLogger(log), notifier.WithBus(a.bus)}
	if st != nil {
		nopts = append(nopts, notifier.WithDedupStore(st))
	}
	a.notif = notifier.New(ncfg, ad, nopts...)

	a.maint = newMaintenance(st, log.With(logx.String("comp", "maintenance")))

	if err := a.buildPollers(cfg); err != nil {
		return nil, a.abort(err)
	}
	return a, nil
}

func (a *App) abort(err error) error {
	if a.store != nil {
		_ = a.store.Close()
	}
	_ = a.logs.Close()
	return err
}

func (a *App) buildPollers(cfg *config.Config) error {
	var enabled []config.PollerSettings
	for _, name := range PollerNames {
		ps, err := cfg.Poller(name)
		if err != nil {
			return err
		}
		if ps.Enabled {
			enabled = append(enabled, ps)
		}
	}
	if len(enabled) == 0 {
		a.log.Warn("no pollers enabled")
		return nil
	}
	if a.store == nil {
		return errors.New("pollers need storage; storage.driver is none")
	}

	pcfg, err := mapProviderConfig(cfg)
	if err != nil {
		return err
	}
	prov, err := provider.New(pcfg, a.log)
	if err != nil {
		return err
	}
	a.prov = prov

	for _, ps := range enabled {
		plog := a.log.With(logx.String("comp", "poller."+ps.Name))
		var proc poller.Processor
		switch ps.Name {
		case "schedule":
			eng := schedule.New(prov, schedule.WithLogger(plog), schedule.WithZoneFunc(a.zone))
			proc = schedule.NewProcessor(eng, a.notif, a.bus, plog)
		case "autopay":
			proc = autopay.NewProcessor(autopay.NewEvaluator(prov, plog), prov, a.notif, a.bus, plog)
		case "ledger":
			proc = ledger.NewProcessor(prov, ledger.AuditSink{Store: a.store}, a.bus, plog)
		default:
			return fmt.Errorf("pollers.%s: unknown poller", ps.Name)
		}
		a.pollers[ps.Name] = poller.New(proc, a.store, prov, a.notif, poller.Options{
			Interval: ps.Interval,
			Policy:   failurePolicy(ps),
			Bus:      a.bus,
			Log:      a.log,
		})
	}
	return nil
}

// zone resolves the owner timezone, falling back to the live default.
func (a *App) zone(u *domain.User) (string, error) {
	def, _ := a.defaultTZ.Load().(string)
	return schedule.FallbackZone(def)(u)
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

// Err returns the first fatal error observed by the supervisor.
func (a *App) Err() error {
	if a.sup == nil {
		return nil
	}
	return a.sup.Err()
}

func (a *App) Start(ctx context.Context) error {
	a.sup = supervisor.New(ctx,
		supervisor.WithLogger(a.log.With(logx.String("comp", "supervisor"))),
		supervisor.WithCancelOnError(true),
		supervisor.WithRestartHook(a.onTaskRestart),
	)
	cfg := a.cfgm.Get()
	a.cfgm.SetLogger(a.log.With(logx.String("comp", "config")))
	a.cfgm.SetValidator(func(_ context.Context, c *config.Config) error {
		if err := config.Validate(c); err != nil {
			return err
		}
		_, err := mapNotifierConfig(c)
		return err
	})

	if a.store != nil {
		a.startAudit()
	}
	a.notif.Start(a.sup.Context())

	for _, name := range PollerNames {
		p, ok := a.pollers[name]
		if !ok {
			continue
		}
		ps, _ := cfg.Poller(name)
		a.sup.Watch("poller."+name, ps.HealthInterval, p.Run)
		a.log.Info("poller started",
			logx.String("poller", name),
			logx.Duration("interval", ps.Interval),
			logx.Duration("health", ps.HealthInterval),
		)
	}

	if err := a.maint.Apply(cfg.Maintenance); err != nil {
		return err
	}
	a.maint.Start()

	a.sup.Go0("config.reload", a.reloadLoop)
	a.sup.Go("config.watch", func(c context.Context) error {
		return a.cfgm.Watch(c)
	})
	a.startSystemd()

	a.log.Info("app started", logx.Int("pollers", len(a.pollers)))
	return nil
}

// onTaskRestart turns a supervisor restart into an audit event.
func (a *App) onTaskRestart(name string, causes []error) {
	msgs := make([]string, 0, len(causes))
	for _, c := range causes {
		msgs = append(msgs, c.Error())
	}
	a.bus.Publish(eventbus.Event{
		Type: eventbus.TypeTaskRestarted,
		Data: map[string]any{"task": name, "causes": msgs},
	})
}

func (a *App) reloadLoop(c context.Context) {
	sub := a.cfgm.Subscribe(8)
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
			// keep only the latest of a burst
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

func (a *App) applyConfig(c context.Context, oldCfg, newCfg *config.Config) {
	sections, attrs := config.SummarizeConfigChange(oldCfg, newCfg)
	if len(sections) == 0 {
		a.log.Info("config reloaded (no changes)")
		return
	}
	if restart := config.RequiresRestart(sections); len(restart) > 0 {
		a.log.Warn("config changed; restart required for these sections", logx.String("sections", strings.Join(restart, ",")))
	}

	a.logs.Apply(mapLoggingConfig(newCfg))
	a.defaultTZ.Store(newCfg.DefaultTimezone)

	if ncfg, err := mapNotifierConfig(newCfg); err != nil {
		a.log.Warn("invalid notifier config; keeping previous", logx.Err(err))
	} else {
		was := a.notif.Enabled()
		a.notif.Apply(ncfg)
		switch {
		case was && !ncfg.Enabled:
			stopCtx, cancel := context.WithTimeout(c, 3*time.Second)
			a.notif.Stop(stopCtx)
			cancel()
			a.log.Info("notifier disabled via config")
		case !was && ncfg.Enabled:
			a.notif.Start(a.sup.Context())
			a.log.Info("notifier enabled via config")
		}
	}

	for _, name := range PollerNames {
		ps, err := newCfg.Poller(name)
		if err != nil {
			a.log.Warn("invalid poller config; keeping previous", logx.String("poller", name), logx.Err(err))
			continue
		}
		p, running := a.pollers[name]
		if running != ps.Enabled {
			a.log.Warn("poller enable flag changed; restart required", logx.String("poller", name), logx.Bool("enabled", ps.Enabled))
		}
		if running {
			p.SetInterval(ps.Interval)
			p.SetPolicy(failurePolicy(ps))
		}
	}

	if err := a.maint.Apply(newCfg.Maintenance); err != nil {
		a.log.Warn("invalid maintenance config; keeping previous", logx.Err(err))
	}

	fields := append([]logx.Field{logx.String("changed", strings.Join(sections, ","))}, attrs...)
	a.log.Info("config reloaded", fields...)
}

func (a *App) Stop(ctx context.Context, reason StopReason) error {
	if a.sup == nil {
		return nil
	}
	a.log.Info("stopping", logx.String("reason", string(reason)))
	sdNotify(sdStopping)

	// cancel first so pollers unwind while the steps below run
	a.sup.Cancel()

	a.step(ctx, "maintenance", time.Second, func(context.Context) error { a.maint.Stop(); return nil })
	a.step(ctx, "notifier", 2*time.Second, func(c context.Context) error { a.notif.Stop(c); return nil })
	a.step(ctx, "adapter", 2*time.Second, a.adapter.Stop)
	a.step(ctx, "supervisor", 3*time.Second, a.sup.Wait)
	a.step(ctx, "storage", time.Second, func(context.Context) error {
		if a.store != nil {
			return a.store.Close()
		}
		return nil
	})

	a.log.Info("stopped")
	return a.logs.Close()
}

// step runs one shutdown step bounded by max and by ctx. A step that
// overruns is left running and reported when it finishes.
func (a *App) step(ctx context.Context, name string, max time.Duration, fn func(context.Context) error) {
	start := time.Now()
	if dl, ok := ctx.Deadline(); ok {
		max = min(max, time.Until(dl))
	}
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
		a.log.Warn("stop step deadline reached (continuing)", logx.String("name", name), logx.Duration("elapsed", time.Since(start)))
		go func() {
			err := <-done
			a.log.Info("stop step finished after deadline", logx.String("name", name), logx.Err(err), logx.Duration("took", time.Since(start)))
		}()
	}
}
