// Package app wires the daemon: config, logging, shards, journal and the
// debug listener. cmd/snoozed stays a thin flag-and-signal shell around it.
package app

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"

	"snooze/internal/config"
	"snooze/internal/debugserver"
	"snooze/internal/eventbus"
	"snooze/internal/journal"
	"snooze/internal/registry"
	logx "snooze/pkg/logx"
)

type App struct {
	cfgMgr *config.Manager
	logSvc *logx.Service
	log    logx.Logger

	bus   eventbus.Bus
	reg   *registry.Registry
	jrnl  *journal.Service
	debug *debugserver.Server

	// lastTopo detects shard topology edits during hot reload; those need a
	// restart and are only warned about.
	lastTopo string

	watchCancel context.CancelFunc
	wg          sync.WaitGroup
}

func New(cfgPath string) (*App, error) {
	mgr := config.NewManager(cfgPath)
	cfg, err := mgr.Load()
	if err != nil {
		return nil, fmt.Errorf("load config: %w", err)
	}

	logSvc, log := logx.New(cfg.LogxConfig())
	mgr.SetLogger(log)

	bus := eventbus.New()

	regCfg, err := cfg.RegistryConfig()
	if err != nil {
		return nil, err
	}
	reg, err := registry.New(regCfg, log, bus)
	if err != nil {
		return nil, err
	}

	jrnlCfg, err := cfg.JournalConfig()
	if err != nil {
		return nil, err
	}
	store, err := journal.Open(jrnlCfg, log)
	if err != nil {
		return nil, fmt.Errorf("open journal: %w", err)
	}
	jrnl := journal.New(jrnlCfg, store, log, bus)

	return &App{
		cfgMgr:   mgr,
		logSvc:   logSvc,
		log:      log,
		bus:      bus,
		reg:      reg,
		jrnl:     jrnl,
		debug:    debugserver.New(log, reg, jrnl),
		lastTopo: topoFingerprint(cfg),
	}, nil
}

// Registry exposes the shard registry for embedders and tools.
func (a *App) Registry() *registry.Registry { return a.reg }

func (a *App) Logger() logx.Logger { return a.log }

func (a *App) Start(ctx context.Context) error {
	cfg := a.cfgMgr.Get()

	a.jrnl.Start(ctx)
	a.reg.Start(ctx)
	a.debug.Apply(ctx, cfg.Debug)

	// Hot reload: log level, file sink and debug listener follow the file;
	// shard topology and journal driver changes only warn.
	watchCtx, cancel := context.WithCancel(ctx)
	a.watchCancel = cancel
	updates := a.cfgMgr.Subscribe(4)

	a.wg.Add(2)
	go func() {
		defer a.wg.Done()
		_ = a.cfgMgr.Watch(watchCtx)
	}()
	go func() {
		defer a.wg.Done()
		defer a.cfgMgr.Unsubscribe(updates)
		for {
			select {
			case <-watchCtx.Done():
				return
			case next, ok := <-updates:
				if !ok {
					return
				}
				a.apply(watchCtx, next)
			}
		}
	}()

	a.log.Info("snoozed started")
	return nil
}

func (a *App) apply(ctx context.Context, cfg *config.Config) {
	a.logSvc.Apply(cfg.LogxConfig())
	a.debug.Apply(ctx, cfg.Debug)

	if fp := topoFingerprint(cfg); fp != a.lastTopo {
		a.lastTopo = fp
		a.log.Warn("shard or journal topology changed in config; restart required to apply")
	}
	a.log.Info("config reloaded")
}

func (a *App) Stop(ctx context.Context) error {
	if a.watchCancel != nil {
		a.watchCancel()
	}
	a.wg.Wait()

	a.debug.Stop(ctx)
	a.reg.Stop(ctx)
	a.jrnl.Stop(ctx)
	_ = a.logSvc.Close()
	return nil
}

func topoFingerprint(cfg *config.Config) string {
	b, _ := json.Marshal(struct {
		Defaults config.DefaultsConfig
		Shards   []config.ShardConfig
		Journal  *config.JournalConfig
	}{cfg.Defaults, cfg.Shards, cfg.Journal})
	return string(b)
}
