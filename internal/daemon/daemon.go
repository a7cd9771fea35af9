package daemon

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gofrs/flock"
	"github.com/google/uuid"

	"folio/internal/cachestore"
	"folio/internal/config"
	"folio/internal/deps"
	"folio/internal/executor"
	"folio/internal/intercept"
	"folio/internal/logging"
	"folio/internal/metrics"
	"folio/internal/modules"
	"folio/internal/worker"
)

// Daemon owns every long-lived component and enforces single-instance execution.
type Daemon struct {
	cfg       *config.Config
	logger    *slog.Logger
	sessionID string

	store    *cachestore.Store
	loader   *modules.Loader
	channel  *worker.Channel
	executor *executor.Executor
	cache    *intercept.Intermediary
	metrics  *metrics.Metrics
	api      *apiServer

	lockPath string
	lock     *flock.Flock

	// lifecycle serializes Start and Stop. The flock handle reports success
	// to a second TryLock from the same process, so it cannot do this alone.
	lifecycle sync.Mutex
	running   atomic.Bool
	startedAt atomic.Pointer[time.Time]
	runCtx    atomic.Pointer[context.Context]
	cancel    context.CancelFunc
}

// Option customizes daemon construction.
type Option func(*options)

type options struct {
	spawner worker.Spawner
	fetcher modules.Fetcher
}

// WithSpawner overrides how the background unit is created.
func WithSpawner(spawner worker.Spawner) Option {
	return func(o *options) {
		o.spawner = spawner
	}
}

// WithModuleFetcher overrides the configured module source.
func WithModuleFetcher(fetcher modules.Fetcher) Option {
	return func(o *options) {
		o.fetcher = fetcher
	}
}

// Status represents daemon runtime information.
type Status struct {
	Running           bool                    `json:"running"`
	PID               int                     `json:"pid"`
	SessionID         string                  `json:"session_id"`
	StartedAt         time.Time               `json:"started_at,omitzero"`
	WorkerState       string                  `json:"worker_state"`
	WorkerSpawns      int                     `json:"worker_spawns"`
	TasksInFlight     int                     `json:"tasks_in_flight"`
	LoadedModules     []string                `json:"loaded_modules"`
	CacheControlling  bool                    `json:"cache_controlling"`
	StaticGeneration  string                  `json:"static_generation"`
	DynamicGeneration string                  `json:"dynamic_generation"`
	Generations       []cachestore.Generation `json:"generations"`
	CacheDBPath       string                  `json:"cache_db_path"`
	LockFilePath      string                  `json:"lock_file_path"`
	Dependencies      []deps.Status           `json:"dependencies,omitempty"`
}

// New constructs a daemon with initialized dependencies.
func New(cfg *config.Config, store *cachestore.Store, logger *slog.Logger, opts ...Option) (*Daemon, error) {
	if cfg == nil || store == nil {
		return nil, errors.New("daemon requires config and cache store")
	}
	var o options
	for _, opt := range opts {
		opt(&o)
	}

	sessionID := uuid.NewString()
	if logger == nil {
		logger = logging.NewNop()
	}
	logger = logger.With(logging.String(logging.FieldSessionID, sessionID))
	m := metrics.New()
	m.SetTaskKinds(worker.BuiltinKinds()...)

	loaderOpts := []modules.LoaderOption{
		modules.WithObserver(func(_, outcome string) { m.RecordModuleLoad(outcome) }),
	}
	var loader *modules.Loader
	if o.fetcher != nil {
		loaderOpts = append(loaderOpts,
			modules.WithPreloadUnits(cfg.Modules.Preload...),
			modules.WithPreloadTimeout(cfg.PreloadTimeout()),
			modules.WithPreloadDelay(cfg.PreloadDelay()))
		loader = modules.NewLoader(o.fetcher, logger, loaderOpts...)
	} else {
		loader = modules.NewLoaderFromConfig(cfg, logger, loaderOpts...)
	}

	spawner := o.spawner
	if spawner == nil {
		spawner = defaultSpawner(cfg, loader, logger)
	}
	channel := worker.NewChannel(spawner, logger, worker.WithStateObserver(func(s worker.State) {
		m.SetWorkerState(int(s))
	}))
	exec := executor.New(channel, logger,
		executor.WithTimeout(cfg.TaskTimeout()),
		executor.WithStartHook(func(string) { m.TaskStarted() }),
		executor.WithObserver(m.RecordTask))

	cache, err := intercept.New(store, intercept.OptionsFromConfig(cfg, m), logger)
	if err != nil {
		return nil, fmt.Errorf("cache intermediary: %w", err)
	}

	d := &Daemon{
		cfg:       cfg,
		logger:    logging.NewComponentLogger(logger, "daemon"),
		sessionID: sessionID,
		store:     store,
		loader:    loader,
		channel:   channel,
		executor:  exec,
		cache:     cache,
		metrics:   m,
		lockPath:  cfg.LockPath(),
		lock:      flock.New(cfg.LockPath()),
	}
	d.api = newAPIServer(cfg, d, logger)
	return d, nil
}

// defaultSpawner runs the unit in-process unless worker.command names a child process.
func defaultSpawner(cfg *config.Config, loader *modules.Loader, logger *slog.Logger) worker.Spawner {
	if len(cfg.Worker.Command) > 0 {
		return worker.ProcessSpawner{Command: cfg.Worker.Command, Logger: logger}
	}
	unit := worker.NewUnit(logger)
	worker.RegisterBuiltins(unit, loader)
	return worker.InProcessSpawner{Unit: unit, Logger: logger}
}

// Start acquires the daemon lock, installs and activates the cache, schedules
// module preloading, and starts the HTTP API.
func (d *Daemon) Start(ctx context.Context) error {
	d.lifecycle.Lock()
	defer d.lifecycle.Unlock()

	if d.running.Load() {
		return errors.New("daemon already running")
	}

	ok, err := d.lock.TryLock()
	if err != nil {
		return fmt.Errorf("acquire lock: %w", err)
	}
	if !ok {
		return errors.New("another folio daemon instance is already running")
	}

	runCtx, cancel := context.WithCancel(ctx)
	fail := func(err error) error {
		cancel()
		_ = d.lock.Unlock()
		return err
	}

	if err := d.cache.Install(runCtx); err != nil {
		return fail(fmt.Errorf("install cache: %w", err))
	}
	if _, err := d.cache.Activate(runCtx); err != nil {
		return fail(fmt.Errorf("activate cache: %w", err))
	}
	if err := d.api.start(runCtx); err != nil {
		return fail(err)
	}
	d.cancel = cancel
	d.runCtx.Store(&runCtx)
	d.loader.Preload(runCtx)

	now := time.Now()
	d.startedAt.Store(&now)
	d.running.Store(true)
	d.logger.Info("folio daemon started",
		logging.String("lock", d.lockPath),
		logging.String("upstream", d.cfg.Cache.UpstreamURL))
	return nil
}

// Stop stops the HTTP API, terminates the background unit, waits for
// background cache work, and releases the daemon lock.
func (d *Daemon) Stop() {
	d.lifecycle.Lock()
	defer d.lifecycle.Unlock()

	if !d.running.Load() {
		return
	}

	if d.cancel != nil {
		d.cancel()
		d.cancel = nil
	}
	d.runCtx.Store(nil)
	d.api.stop()
	if err := d.executor.Shutdown(); err != nil {
		d.logger.Warn("failed to stop background unit",
			logging.Error(err),
			logging.String(logging.FieldEventType, "worker_stop_failed"),
			logging.String(logging.FieldErrorHint, "check for an orphaned worker process"),
			logging.String(logging.FieldImpact, "a worker process may outlive the daemon"))
	}
	d.cache.Wait()
	d.loader.Wait()
	if err := d.lock.Unlock(); err != nil {
		d.logger.Warn("failed to release daemon lock",
			logging.Error(err),
			logging.String(logging.FieldEventType, "lock_release_failed"),
			logging.String(logging.FieldErrorHint, "remove "+d.lockPath+" if no daemon is running"),
			logging.String(logging.FieldImpact, "the next daemon start may report an existing instance"))
	}
	d.running.Store(false)
	d.logger.Info("folio daemon stopped")
}

// Close releases resources held by the daemon.
func (d *Daemon) Close() error {
	d.Stop()
	if d.store != nil {
		return d.store.Close()
	}
	return nil
}

// Execute runs one task on the background unit.
func (d *Daemon) Execute(ctx context.Context, kind string, payload json.RawMessage) (json.RawMessage, error) {
	return d.executor.Execute(ctx, kind, payload)
}

// Generations lists cache generations.
func (d *Daemon) Generations(ctx context.Context) ([]cachestore.Generation, error) {
	return d.store.Generations(ctx)
}

// Activate re-runs cache activation and returns the deleted generations.
func (d *Daemon) Activate(ctx context.Context) ([]string, error) {
	return d.cache.Activate(ctx)
}

// TerminateWorker shuts down the background unit; the next task re-creates it.
func (d *Daemon) TerminateWorker() error {
	return d.executor.Shutdown()
}

// Preload schedules module pre-warming and returns immediately.
func (d *Daemon) Preload() {
	ctx := context.Background()
	if runCtx := d.runCtx.Load(); runCtx != nil {
		ctx = *runCtx
	}
	d.loader.Preload(ctx)
}

// Intermediary exposes the cache intermediary.
func (d *Daemon) Intermediary() *intercept.Intermediary {
	return d.cache
}

// Status returns the current daemon status.
func (d *Daemon) Status(ctx context.Context) Status {
	static, dynamic := d.cache.Generations()
	status := Status{
		Running:           d.running.Load(),
		PID:               os.Getpid(),
		SessionID:         d.sessionID,
		WorkerState:       d.channel.State().String(),
		WorkerSpawns:      d.channel.Spawns(),
		TasksInFlight:     d.executor.InFlight(),
		LoadedModules:     d.loader.Loaded(),
		CacheControlling:  d.cache.Controlling(),
		StaticGeneration:  static,
		DynamicGeneration: dynamic,
		CacheDBPath:       d.store.Path(),
		LockFilePath:      d.lockPath,
	}
	if started := d.startedAt.Load(); started != nil {
		status.StartedAt = *started
	}
	if gens, err := d.store.Generations(ctx); err == nil {
		status.Generations = gens
	} else {
		d.logger.Debug("status: list generations failed", logging.Error(err))
	}
	if len(d.cfg.Worker.Command) > 0 {
		status.Dependencies = deps.CheckBinaries([]deps.Requirement{deps.WorkerRequirement(d.cfg.Worker.Command)})
	}
	return status
}

// Handler returns the HTTP handler serving the API and the intercepted origin.
func (d *Daemon) Handler() http.Handler {
	return d.api.server.Handler
}

// APIAddr returns the bound API address once started.
func (d *Daemon) APIAddr() string {
	return d.api.addr()
}
