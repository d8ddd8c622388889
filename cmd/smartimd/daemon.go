package main

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"io"
	"log/slog"
	"os"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"smartim/internal/config"
	"smartim/internal/engine"
	"smartim/internal/health"
	"smartim/internal/ime"
	"smartim/internal/ipc"
	"smartim/internal/logging"
	"smartim/internal/metrics"
	"smartim/internal/store"
	"smartim/internal/switcher"
	"smartim/internal/tracker"
)

// maintenanceInterval is how often history is pruned and crash dumps are
// cleaned.
const maintenanceInterval = time.Hour

// crashRetention bounds how long crash dumps are kept.
const crashRetention = 30 * 24 * time.Hour

// Daemon wires the engine, the editor tracker and the IPC server together.
type Daemon struct {
	version string
	loader  *config.Loader
	log     *logging.Logger
	logger  *slog.Logger
	crash   *logging.CrashHandler

	registry ime.Registry
	backend  ime.Backend
	metrics  *metrics.SwitchMetrics
	history  *store.Store

	engine  *engine.Engine
	tracker *tracker.Tracker
	server  *ipc.Server
	health  *health.Checker
	status  health.Status

	closeOnce sync.Once
}

// NewDaemon loads the configuration at cfgPath (writing defaults when it
// does not exist) and builds every component. Nothing listens until Run.
func NewDaemon(ctx context.Context, cfgPath, version string) (*Daemon, error) {
	loader, created, err := config.LoadOrCreate(cfgPath, slog.Default())
	if err != nil {
		return nil, fmt.Errorf("load config: %w", err)
	}
	cfg := loader.Config()
	if err := cfg.EnsureDirectories(); err != nil {
		return nil, fmt.Errorf("create directories: %w", err)
	}

	logCfg, err := logging.FromSettings(cfg.Logging)
	if err != nil {
		return nil, fmt.Errorf("logging config: %w", err)
	}
	logCfg.Component = "smartimd"
	log, err := logging.New(logCfg)
	if err != nil {
		return nil, fmt.Errorf("create logger: %w", err)
	}
	logging.SetDefault(log)

	d := &Daemon{
		version: version,
		loader:  loader,
		log:     log,
		logger:  log.Logger,
		metrics: metrics.NewSwitchMetrics(nil),
	}
	if created {
		d.logger.Info("wrote default configuration", "path", loader.Path())
	}

	d.crash = logging.NewCrashHandler(&logging.CrashHandlerConfig{
		Dir:       logging.DefaultCrashDir(config.SmartimDir()),
		Component: "tracker",
		Logger:    d.logger,
	})

	if err := d.build(ctx, cfg); err != nil {
		d.Close()
		return nil, err
	}
	return d, nil
}

func (d *Daemon) build(ctx context.Context, cfg *config.Config) error {
	backend, err := ime.ParseBackend(cfg.Registry.Backend)
	if err != nil {
		return err
	}
	d.backend = backend
	registry, err := ime.Open(ctx, backend)
	if err != nil {
		// Switching still works through the fallback scripts.
		d.logger.Warn("input source registry unavailable", "backend", backend, "error", err)
		registry = ime.Unsupported{}
	}
	d.registry = registry

	var history engine.History
	if cfg.Storage.Enabled {
		st, err := store.Open(ctx, cfg.Storage.Path)
		if err != nil {
			return fmt.Errorf("open history: %w", err)
		}
		d.history = st
		history = st
		d.prune(ctx)
		d.recordConfig(config.Attempt{
			Reason:   "startup",
			Path:     d.loader.Path(),
			Version:  cfg.Version,
			Accepted: true,
		})
	}

	fallback := ime.NewScriptFallback(cfg.General.NativeScript, cfg.General.LatinScript)
	d.engine = engine.New(engine.Options{
		Settings:  d.loader.Snapshot,
		Switcher:  switcher.New(registry, fallback, d.logger),
		History:   history,
		Metrics:   d.metrics,
		Logger:    d.logger,
		OnOutcome: d.publishOutcome,
	})

	d.tracker, err = tracker.New(ctx, tracker.Options{
		Size:    cfg.IPC.MaxTrackedEditors,
		Engine:  d.engine,
		Metrics: d.metrics,
		Logger:  d.logger,
		OnPanic: d.crash.HandlePanic,
	})
	if err != nil {
		return err
	}

	d.health = d.newHealthChecker(cfg)

	serverCfg, err := ipc.ServerConfigFrom(cfg.IPC, d.version)
	if err != nil {
		return err
	}
	serverCfg.Logger = d.logger

	historyPath := ""
	var reader ipc.HistoryReader
	if d.history != nil {
		reader = d.history
		historyPath = cfg.Storage.Path
	}
	handler, err := ipc.NewDaemonHandler(ipc.DaemonHandlerConfig{
		Version:     d.version,
		Backend:     string(backend),
		Engine:      d.engine,
		Tracker:     d.tracker,
		Metrics:     d.metrics,
		History:     reader,
		HistoryPath: historyPath,
		Loader:      d.loader,
		Health:      d.health,
		ClientCount: d.clientCount,
		Logger:      d.logger,
	})
	if err != nil {
		return err
	}
	d.server = ipc.NewServer(serverCfg, handler)

	// Fallback scripts are fixed at startup; everything else is read per
	// cycle from the loader snapshot.
	d.loader.OnAttempt(d.onConfigAttempt)
	return nil
}

func (d *Daemon) newHealthChecker(cfg *config.Config) *health.Checker {
	c := health.NewChecker()
	c.Register(health.Component{
		Name:     "registry",
		Critical: true,
		Timeout:  2 * time.Second,
		Check: health.RegistryCheck(d.registry.List, func() []string {
			s := d.loader.Snapshot()
			return []string{s.NativeIM, s.LatinIM}
		}),
	})
	c.Register(health.Component{
		Name:  "fallback",
		Check: health.FallbackCheck(cfg.General.NativeScript, cfg.General.LatinScript),
	})
	if d.history != nil {
		c.Register(health.Component{
			Name:  "history",
			Check: health.PingCheck("history database", d.history.DB().PingContext),
		})
	}
	return c
}

// checkHealth logs when the overall status changes.
func (d *Daemon) checkHealth(ctx context.Context) {
	report := d.health.Run(ctx)
	if report.Status == d.status {
		return
	}
	attrs := []any{"status", report.Status, "previous", d.status}
	for name, res := range report.Components {
		if res.Status != health.StatusHealthy {
			attrs = append(attrs, name, res.Message)
		}
	}
	if report.Status == health.StatusHealthy {
		d.logger.Info("health changed", attrs...)
	} else {
		d.logger.Warn("health changed", attrs...)
	}
	d.status = report.Status
}

// Run serves until ctx is cancelled, then shuts everything down.
func (d *Daemon) Run(ctx context.Context) error {
	if d.loader.Config().IPC.Enabled {
		if err := d.server.Start(); err != nil {
			return fmt.Errorf("start ipc server: %w", err)
		}
	} else {
		d.logger.Warn("ipc disabled, no editor can reach the daemon")
	}
	if err := d.loader.Watch(); err != nil {
		d.logger.Warn("config hot reload unavailable", "error", err)
	}

	d.logger.Info("smartimd started",
		"version", d.version,
		"config", d.loader.Path(),
		"backend", d.backend,
		"socket", d.server.SocketPath(),
	)

	d.checkHealth(ctx)

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		d.maintain(gctx)
		return nil
	})
	g.Go(func() error {
		d.drainConfigErrors(gctx)
		return nil
	})
	err := g.Wait()

	d.Close()
	return err
}

func (d *Daemon) maintain(ctx context.Context) {
	ticker := time.NewTicker(maintenanceInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			d.checkHealth(ctx)
			d.prune(ctx)
			if n, err := d.crash.CleanupOld(crashRetention); err != nil {
				d.logger.Warn("crash dump cleanup failed", "error", err)
			} else if n > 0 {
				d.logger.Info("removed old crash dumps", "count", n)
			}
			counters := d.metrics.Snapshot()
			d.logger.Debug("daemon status",
				"clients", d.clientCount(),
				"editors", d.tracker.Len(),
				"cycles", counters["cycles"],
			)
		}
	}
}

func (d *Daemon) drainConfigErrors(ctx context.Context) {
	errs := d.loader.Errors()
	for {
		select {
		case <-ctx.Done():
			return
		case err, ok := <-errs:
			if !ok {
				return
			}
			d.logger.Warn("configuration error", "error", err)
		}
	}
}

func (d *Daemon) prune(ctx context.Context) {
	cfg := d.loader.Config()
	if d.history == nil || cfg.Storage.RetentionDays <= 0 {
		return
	}
	cutoff := time.Now().AddDate(0, 0, -cfg.Storage.RetentionDays)
	n, err := d.history.PruneBefore(ctx, cutoff)
	if err != nil {
		d.logger.Warn("history prune failed", "error", err)
		return
	}
	if n > 0 {
		d.logger.Info("pruned switch history", "removed", n, "before", cutoff.Format(time.DateOnly))
	}
}

func (d *Daemon) clientCount() int {
	if d.server == nil {
		return 0
	}
	return d.server.ClientCount()
}

func (d *Daemon) publishOutcome(out engine.Outcome) {
	d.broadcast(ipc.EventSwitch, &out)
}

func (d *Daemon) broadcast(t ipc.EventType, data any) {
	if d.server == nil {
		return
	}
	ev, err := ipc.NewEvent(t, data)
	if err != nil {
		d.logger.Warn("encode event", "type", t, "error", err)
		return
	}
	d.server.Broadcast(ev)
}

func (d *Daemon) onConfigAttempt(a config.Attempt) {
	d.recordConfig(a)

	ev := &ipc.ConfigEvent{Path: a.Path, Version: a.Version, Reason: a.Reason}
	if a.Accepted {
		d.broadcast(ipc.EventConfigChanged, ev)
		return
	}
	if a.Err != nil {
		ev.Error = a.Err.Error()
	}
	d.broadcast(ipc.EventConfigRejected, ev)
}

func (d *Daemon) recordConfig(a config.Attempt) {
	if d.history == nil {
		return
	}
	data := a.Data
	if data == nil {
		var err error
		if data, err = os.ReadFile(a.Path); err != nil {
			d.logger.Debug("read config for history", "error", err)
		}
	}
	sum := sha256.Sum256(data)
	snap := store.ConfigSnapshot{
		Version:    a.Version,
		Path:       a.Path,
		ConfigHash: hex.EncodeToString(sum[:]),
		ConfigData: string(data),
		Reason:     a.Reason,
		Accepted:   a.Accepted,
	}
	if a.Err != nil {
		snap.Error = a.Err.Error()
	}
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if _, err := d.history.RecordConfig(ctx, snap); err != nil {
		d.logger.Warn("record config snapshot failed", "error", err)
	}
}

// Close stops the server and releases every resource. It is safe to call
// on a partially built daemon.
func (d *Daemon) Close() {
	d.closeOnce.Do(d.close)
}

func (d *Daemon) close() {
	if d.server != nil {
		if err := d.server.Stop(); err != nil {
			d.logger.Warn("stop ipc server", "error", err)
		}
	}
	if d.tracker != nil {
		d.tracker.CloseAll()
	}
	if d.loader != nil {
		d.loader.Close()
	}
	if d.history != nil {
		if err := d.history.Close(); err != nil {
			d.logger.Warn("close history", "error", err)
		}
	}
	if c, ok := d.registry.(io.Closer); ok {
		c.Close()
	}
	d.logger.Info("smartimd stopped")
	d.log.Close()
}
