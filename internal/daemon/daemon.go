// Package daemon assembles the task store, process runner, scheduler and
// socket transport into the long-running shq service.
package daemon

import (
	"context"
	stderrors "errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"git.home.luguber.info/inful/shq/internal/config"
	"git.home.luguber.info/inful/shq/internal/eventstore"
	"git.home.luguber.info/inful/shq/internal/foundation/errors"
	"git.home.luguber.info/inful/shq/internal/logfields"
	"git.home.luguber.info/inful/shq/internal/metrics"
	"git.home.luguber.info/inful/shq/internal/notify"
	"git.home.luguber.info/inful/shq/internal/runner"
	"git.home.luguber.info/inful/shq/internal/scheduler"
	"git.home.luguber.info/inful/shq/internal/state"
	"git.home.luguber.info/inful/shq/internal/version"
)

// Status represents the current state of the daemon
type Status string

const (
	StatusStopped  Status = "stopped"
	StatusStarting Status = "starting"
	StatusRunning  Status = "running"
	StatusStopping Status = "stopping"
	StatusError    Status = "error"
)

const (
	defaultStopTimeout = 30 * time.Second
	historySize        = 1000
)

// Daemon owns every long-lived component of the service.
type Daemon struct {
	config     *config.Config
	configPath string
	logLevel   *slog.LevelVar
	status     atomic.Value // Status
	startTime  time.Time
	mu         sync.Mutex

	shutdownOnce sync.Once
	shutdownCh   chan struct{}

	store      *state.Store
	jsonStore  *state.JSONStore
	runner     *runner.Runner
	timers     *scheduler.Timers
	scheduler  *scheduler.Scheduler
	workers    *WorkerGroup
	httpServer *HTTPServer
	watcher    *ConfigWatcher

	recorder      metrics.Recorder
	metricsServer *http.Server
	eventStore    *eventstore.SQLiteStore
	history       *eventstore.TaskHistoryProjection
	notifier      *notify.Notifier
}

// New creates a stopped daemon. configPath may be empty, which disables
// config file watching. logLevel is adjusted when the config file changes.
func New(cfg *config.Config, configPath string, logLevel *slog.LevelVar) (*Daemon, error) {
	if cfg == nil {
		return nil, errors.ConfigError("configuration is required").Build()
	}
	if logLevel == nil {
		logLevel = new(slog.LevelVar)
	}
	d := &Daemon{
		config:     cfg,
		configPath: configPath,
		logLevel:   logLevel,
		shutdownCh: make(chan struct{}),
		recorder:   metrics.NoopRecorder{},
	}
	d.status.Store(StatusStopped)
	return d, nil
}

// Status returns the current daemon status.
func (d *Daemon) Status() Status {
	status, ok := d.status.Load().(Status)
	if !ok {
		return StatusError
	}
	return status
}

// Store exposes the task store. It is nil before Start.
func (d *Daemon) Store() *state.Store { return d.store }

// ShutdownRequested is closed when a client asked the daemon to stop.
func (d *Daemon) ShutdownRequested() <-chan struct{} { return d.shutdownCh }

func (d *Daemon) requestShutdown() {
	d.shutdownOnce.Do(func() {
		slog.Info("Shutdown requested by client")
		close(d.shutdownCh)
	})
}

// Run starts the daemon, blocks until ctx is canceled or a client requests
// shutdown, then stops it.
func (d *Daemon) Run(ctx context.Context) error {
	if err := d.Start(ctx); err != nil {
		return err
	}
	select {
	case <-ctx.Done():
		slog.Info("Shutdown signal received, stopping daemon")
	case <-d.shutdownCh:
	}

	stopCtx, cancel := context.WithTimeout(context.Background(), defaultStopTimeout)
	defer cancel()
	return d.Stop(stopCtx)
}

// Start loads the persisted state and starts every component. It returns
// once the socket accepts clients.
func (d *Daemon) Start(ctx context.Context) error {
	d.mu.Lock()
	defer d.mu.Unlock()

	if s := d.Status(); s != StatusStopped {
		return errors.DaemonError(fmt.Sprintf("daemon is not in stopped state: %s", s)).Build()
	}
	d.status.Store(StatusStarting)
	d.startTime = time.Now()
	slog.Info("Starting shq daemon", slog.String("version", version.Version))

	if err := d.startComponents(ctx); err != nil {
		d.status.Store(StatusError)
		d.cleanupFailedStart()
		return err
	}

	d.status.Store(StatusRunning)
	slog.Info("shq daemon started",
		"socket", d.config.Daemon.SocketPath,
		"state_file", d.jsonStore.Path(),
		"tasks", len(d.store.Snapshot().Tasks))
	return nil
}

func (d *Daemon) startComponents(ctx context.Context) error {
	cfg := d.config

	jsonStore, err := state.NewJSONStore(cfg.Daemon.StateDir)
	if err != nil {
		return err
	}
	st, err := jsonStore.Load()
	if err != nil {
		return err
	}
	d.jsonStore = jsonStore
	d.store = state.NewStore(st, state.Options{
		Persister:           jsonStore,
		PauseGroupOnFailure: cfg.Daemon.PauseGroupOnFailure,
		PauseAllOnFailure:   cfg.Daemon.PauseAllOnFailure,
	})
	d.applyGroups(cfg)

	if cfg.Metrics.Enabled {
		if err := d.startMetrics(); err != nil {
			return err
		}
	}

	d.runner = runner.New(runner.Options{
		Shell:  cfg.Daemon.Shell,
		LogDir: cfg.Daemon.LogDir,
		OnExit: d.store.Finish,
	})
	d.store.SetProcessControl(d.runner)
	d.store.Subscribe(d.runner)

	if cfg.Events.Store.Enabled {
		es, err := eventstore.NewSQLiteStore(cfg.Events.Store.Path)
		if err != nil {
			return err
		}
		d.eventStore = es
		d.history = eventstore.NewTaskHistoryProjection(es, historySize)
		if err := d.history.Rebuild(ctx); err != nil {
			slog.Warn("Failed to rebuild task history projection", logfields.Error(err))
		}
	}
	var es eventstore.Store
	if d.eventStore != nil {
		es = d.eventStore
	}
	d.store.Subscribe(NewEventEmitter(es, d.history, d.recorder))

	if cfg.Events.NATS.Enabled {
		sink, err := notify.NewNATSSink(ctx, cfg.Events.NATS)
		if err != nil {
			slog.Warn("NATS notifications disabled", logfields.Error(err))
		} else {
			d.notifier = notify.NewNotifier(sink, cfg.Events.NATS.Subject)
			d.store.Subscribe(d.notifier)
		}
	}

	timers, err := scheduler.NewTimers(d.store.PromoteDue)
	if err != nil {
		return err
	}
	d.timers = timers
	d.store.Subscribe(timers)
	timers.Restore(d.store.DelayedStarts())
	timers.Start()

	d.workers = NewWorkerGroup(context.WithoutCancel(ctx))
	d.scheduler = scheduler.New(d.store, cfg.Daemon.SchedulerInterval, d.recorder)
	d.workers.Go(d.scheduler.Run)

	dispatcher := NewDispatcher(d.store, d.runner, d.recorder, d.requestShutdown)
	d.httpServer = NewHTTPServer(HTTPServerOptions{
		SocketPath: cfg.Daemon.SocketPath,
		Secret:     cfg.Daemon.Secret,
		Dispatcher: dispatcher,
		History:    d.history,
		Recorder:   d.recorder,
		Status:     d.Status,
	})
	if err := d.httpServer.Start(); err != nil {
		return err
	}

	if d.configPath != "" {
		w, err := NewConfigWatcher(d.configPath, DefaultReloadDebounce, d.applyConfig)
		if err != nil {
			slog.Error("Failed to create config watcher", logfields.Error(err))
		} else if err := w.Start(ctx); err != nil {
			slog.Error("Failed to start config watcher", logfields.Error(err))
			_ = w.Stop()
		} else {
			d.watcher = w
		}
	}
	return nil
}

func (d *Daemon) startMetrics() error {
	reg := prometheus.NewRegistry()
	d.recorder = metrics.NewPrometheusRecorder(reg)

	ln, err := net.Listen("tcp", d.config.Metrics.Address)
	if err != nil {
		return errors.WrapError(err, errors.CategoryDaemon, "failed to bind metrics address").
			WithContext("address", d.config.Metrics.Address).
			Build()
	}
	mux := http.NewServeMux()
	mux.Handle("/metrics", metrics.HTTPHandler(reg))
	d.metricsServer = &http.Server{Handler: mux, ReadHeaderTimeout: 5 * time.Second}
	go func() {
		if err := d.metricsServer.Serve(ln); err != nil && !stderrors.Is(err, http.ErrServerClosed) {
			slog.Error("Metrics server failed", logfields.Error(err))
		}
	}()
	slog.Info("Serving metrics", "address", ln.Addr().String())
	return nil
}

// applyGroups adds configured groups and updates their limits. Groups that
// exist only in the state are left alone.
func (d *Daemon) applyGroups(cfg *config.Config) {
	names := make([]string, 0, len(cfg.Groups))
	for name := range cfg.Groups {
		names = append(names, name)
	}
	sort.Strings(names)
	for _, name := range names {
		if err := d.store.EnsureGroup(name, cfg.Groups[name].Parallel); err != nil {
			slog.Error("Failed to apply configured group", logfields.Group(name), logfields.Error(err))
		}
	}
}

func (d *Daemon) applyConfig(cfg *config.Config) {
	d.applyGroups(cfg)
	d.logLevel.Set(cfg.Logging.Level.SlogLevel())
}

// cleanupFailedStart releases whatever startComponents managed to open.
func (d *Daemon) cleanupFailedStart() {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	d.stopComponents(ctx)
}

// Stop kills running tasks, persists the final state and releases every
// resource. A failure to persist is returned.
func (d *Daemon) Stop(ctx context.Context) error {
	d.mu.Lock()
	defer d.mu.Unlock()

	if s := d.Status(); s == StatusStopped || s == StatusStopping {
		return nil
	}
	d.status.Store(StatusStopping)
	slog.Info("Stopping shq daemon")

	err := d.stopComponents(ctx)

	d.status.Store(StatusStopped)
	slog.Info("shq daemon stopped", slog.Duration("uptime", time.Since(d.startTime)))
	return err
}

func (d *Daemon) stopComponents(ctx context.Context) error {
	if d.watcher != nil {
		if err := d.watcher.Stop(); err != nil {
			slog.Warn("Failed to stop config watcher", logfields.Error(err))
		}
	}
	if d.httpServer != nil {
		if err := d.httpServer.Stop(ctx); err != nil {
			slog.Warn("Failed to stop socket server", logfields.Error(err))
		}
	}
	if d.workers != nil {
		if err := d.workers.StopAndWait(ctx); err != nil {
			slog.Warn("Workers did not stop in time", logfields.Error(err))
		}
	}
	if d.timers != nil {
		if err := d.timers.Stop(); err != nil {
			slog.Warn("Failed to stop timers", logfields.Error(err))
		}
	}
	if d.runner != nil {
		if err := d.runner.Shutdown(stopTimeout(ctx)); err != nil {
			slog.Warn("Task processes did not exit", logfields.Error(err))
		}
	}

	var persistErr error
	if d.store != nil {
		if err := d.store.Flush(); err != nil {
			slog.Error("Failed to persist final state", logfields.Error(err))
			persistErr = err
		}
	}

	if d.notifier != nil {
		if err := d.notifier.Close(); err != nil {
			slog.Warn("Failed to close NATS connection", logfields.Error(err))
		}
	}
	if d.eventStore != nil {
		if err := d.eventStore.Close(); err != nil {
			slog.Warn("Failed to close event store", logfields.Error(err))
		}
	}
	if d.metricsServer != nil {
		if err := d.metricsServer.Shutdown(ctx); err != nil {
			slog.Warn("Failed to stop metrics server", logfields.Error(err))
		}
	}
	return persistErr
}

func stopTimeout(ctx context.Context) time.Duration {
	if deadline, ok := ctx.Deadline(); ok {
		if left := time.Until(deadline); left > 0 {
			return left
		}
		return time.Second
	}
	return defaultStopTimeout
}

// StateFile returns the path of the persisted state. Useful in logs and tests.
func (d *Daemon) StateFile() string {
	if d.jsonStore == nil {
		return ""
	}
	return d.jsonStore.Path()
}

