package snaplet

import (
	"context"
	"log/slog"
	"net/http"
	"path/filepath"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"github.com/uffizio/snap/config"
	"github.com/uffizio/snap/errors"
	"github.com/uffizio/snap/metric"
)

const defaultEnvironment = "devel"

// runConfig collects the options for Run.
type runConfig struct {
	rootDir     string
	environment string
	envPrefix   string
	appConfig   *config.Config
	logger      *slog.Logger
	metrics     *metric.Metrics
}

// RunOption configures Run.
type RunOption func(*runConfig)

// WithRootDir sets the application root directory, the base for every
// component's data directory and the home of app.cfg. Defaults to the
// current directory.
func WithRootDir(dir string) RunOption {
	return func(rc *runConfig) {
		if dir != "" {
			rc.rootDir = dir
		}
	}
}

// WithEnvironment selects the configuration environment. The environment
// name picks the app.<env>.cfg overlay and is visible to every component.
// Defaults to "devel".
func WithEnvironment(env string) RunOption {
	return func(rc *runConfig) {
		if env != "" {
			rc.environment = env
		}
	}
}

// WithAppConfig supplies the application configuration directly, skipping
// the app.cfg lookup. Mostly useful in tests.
func WithAppConfig(cfg *config.Config) RunOption {
	return func(rc *runConfig) {
		rc.appConfig = cfg
	}
}

// WithEnvPrefix overlays OS environment variables with the given prefix
// onto the application config after it is loaded.
func WithEnvPrefix(prefix string) RunOption {
	return func(rc *runConfig) {
		rc.envPrefix = prefix
	}
}

// WithLogger sets the structured logger for the engine and every
// component bootstrap.
func WithLogger(logger *slog.Logger) RunOption {
	return func(rc *runConfig) {
		if logger != nil {
			rc.logger = logger
		}
	}
}

// WithMetrics wires initialization and reload metrics into the given
// registry. Nil disables instrumentation.
func WithMetrics(m *metric.Metrics) RunOption {
	return func(rc *runConfig) {
		rc.metrics = m
	}
}

// Handle is a live, reloadable component tree. It owns the published
// snapshot, the site handler built from the first initialization, the
// accumulated teardown actions and the serialization of reloads.
type Handle[B any] struct {
	bootstrap Bootstrap[B, B]
	opts      runConfig
	logger    *slog.Logger

	cell    *Cell[B]
	handler http.Handler
	cleanup *cleanupList

	reloadMu   sync.Mutex
	lastLog    atomic.Value // string
	generation atomic.Uint64

	cleanupOnce sync.Once
	cleanupErr  error
}

// InitError wraps an initialization failure together with the log the
// attempt produced before it died.
type InitError struct {
	Log string
	Err error
}

func (e *InitError) Error() string {
	return e.Err.Error()
}

func (e *InitError) Unwrap() error {
	return e.Err
}

// Run initializes a component tree and returns its Handle. The walk is
// synchronous: when Run returns, every bootstrap and every post-init hook
// has finished and the tree is live. On failure the partially built
// attempt is unwound, its unload actions run, and the error carries the
// initialization log.
func Run[B any](ctx context.Context, root Bootstrap[B, B], opts ...RunOption) (*Handle[B], error) {
	rc := runConfig{
		rootDir:     ".",
		environment: defaultEnvironment,
		logger:      slog.Default(),
	}
	for _, opt := range opts {
		opt(&rc)
	}

	h := &Handle[B]{
		bootstrap: root,
		opts:      rc,
		logger:    rc.logger,
		cell:      &Cell[B]{},
		cleanup:   newCleanupList(),
	}
	h.lastLog.Store("")

	res, err := h.attempt(ctx, uuid.NewString())
	if err != nil {
		return nil, err
	}

	h.handler = buildHandler(h.cell, res.routes, res.filter)
	h.cell.store(res.root)
	h.lastLog.Store(res.log)
	h.generation.Store(1)
	if rc.metrics != nil {
		rc.metrics.SetGeneration(1)
	}
	return h, nil
}

// attemptResult is everything one successful walk produced. Routes and
// the site filter are only used by the first attempt; reloads swap state
// and keep the handler wiring fixed.
type attemptResult[B any] struct {
	root   *Snaplet[B]
	routes []routeEntry[B]
	filter func(Handler[B]) Handler[B]
	log    string
}

// attempt runs one full initialization walk. On failure it unwinds the
// unload actions this attempt registered and leaves earlier actions in
// place.
func (h *Handle[B]) attempt(ctx context.Context, attemptID string) (*attemptResult[B], error) {
	start := time.Now()
	mark := h.cleanup.mark()

	logger := h.logger.With("attempt", attemptID)
	w := &walkState[B]{
		ctx:        ctx,
		isTopLevel: true,
		log:        newLogBuffer(logger),
		cleanup:    h.cleanup,
		logger:     logger,
	}

	rootCfg, err := h.loadAppConfig()
	if err != nil {
		return nil, &InitError{Log: w.log.String(), Err: err}
	}

	rootDir, err := filepath.Abs(h.opts.rootDir)
	if err != nil {
		rootDir = h.opts.rootDir
	}
	w.cur = Config{
		filePath:    rootDir,
		environment: h.opts.environment,
		userConfig:  rootCfg,
		reload:      h.Reload,
	}

	rootInit := &Init[B, B]{walk: w, access: rootAccess[B]()}
	sn, installErr := install(rootInit, h.bootstrap)
	if installErr == nil {
		for i := len(w.wires) - 1; i >= 0; i-- {
			w.wires[i](sn)
		}
		for _, hook := range w.hooks {
			if err := hook(sn); err != nil {
				installErr = errors.Wrap(err, sn.cfg.id, "attempt", "run post-init hook")
				break
			}
		}
	}

	if h.opts.metrics != nil {
		h.opts.metrics.ObserveInit(time.Since(start), w.installs)
	}

	if installErr != nil {
		if unwindErr := h.cleanup.unwindFrom(mark); unwindErr != nil {
			h.logger.Error("unload during failed initialization reported errors",
				"attempt", attemptID, "error", unwindErr)
		}
		return nil, &InitError{Log: w.log.String(), Err: installErr}
	}

	return &attemptResult[B]{
		root:   sn,
		routes: w.routes,
		filter: w.filter,
		log:    w.log.String(),
	}, nil
}

func (h *Handle[B]) loadAppConfig() (*config.Config, error) {
	cfg := h.opts.appConfig
	if cfg == nil {
		loaded, err := config.LoadAppConfig(h.opts.rootDir, h.opts.environment)
		if err != nil {
			return nil, errors.WrapInit(err, "snaplet", "Run", "load application config")
		}
		cfg = loaded
	}
	if h.opts.envPrefix != "" {
		cfg = cfg.WithEnvOverrides(h.opts.envPrefix)
	}
	return cfg, nil
}

// buildHandler wires the route table and site filter into an
// http.Handler that serves every request against the snapshot current at
// the moment the request arrives.
func buildHandler[B any](cell *Cell[B], routes []routeEntry[B], filter func(Handler[B]) Handler[B]) http.Handler {
	site := dispatch(routes)
	if filter != nil {
		site = filter(site)
	}
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		root := cell.Load()
		if root == nil {
			http.Error(w, "initializing", http.StatusServiceUnavailable)
			return
		}
		r = r.WithContext(withRoot(r.Context(), root))
		site(w, r, root)
	})
}

// Handler returns the site handler. The route table and filter chain are
// fixed at the first initialization; reloads change only the state the
// handlers see.
func (h *Handle[B]) Handler() http.Handler {
	return h.handler
}

// Snapshot returns the live root Snaplet.
func (h *Handle[B]) Snapshot() *Snaplet[B] {
	return h.cell.Load()
}

// InitLog returns the initialization log of the last successful attempt.
func (h *Handle[B]) InitLog() string {
	log, _ := h.lastLog.Load().(string)
	return log
}

// Generation returns the number of successful initializations so far.
func (h *Handle[B]) Generation() uint64 {
	return h.generation.Load()
}

// Reload re-runs the entire initialization walk and, if every component
// succeeds, atomically publishes the new tree. On failure the previous
// tree keeps serving untouched and the returned log shows how far the
// attempt got. Reloads are serialized; concurrent callers queue.
//
// Routes and site filters registered by the new attempt are discarded:
// the handler wiring is fixed at the first Run.
func (h *Handle[B]) Reload(ctx context.Context) (string, error) {
	h.reloadMu.Lock()
	defer h.reloadMu.Unlock()

	if h.cell.Load() == nil {
		return "", errors.WrapContract(errors.ErrNotServing, "snaplet", "Reload", "check live tree")
	}

	attemptID := uuid.NewString()
	start := time.Now()
	if h.opts.metrics != nil {
		h.opts.metrics.IncReload()
	}
	h.logger.Info("reload started", "attempt", attemptID)

	res, err := h.attempt(ctx, attemptID)
	if err != nil {
		if h.opts.metrics != nil {
			h.opts.metrics.IncReloadFailure()
		}
		h.logger.Error("reload failed, previous state kept",
			"attempt", attemptID, "duration", time.Since(start), "error", err)
		var initErr *InitError
		if errors.As(err, &initErr) {
			return initErr.Log, errors.WrapInit(err, "snaplet", "Reload", "re-run initialization")
		}
		return "", errors.WrapInit(err, "snaplet", "Reload", "re-run initialization")
	}

	h.cell.store(res.root)
	h.lastLog.Store(res.log)
	gen := h.generation.Add(1)
	if h.opts.metrics != nil {
		h.opts.metrics.SetGeneration(gen)
	}
	h.logger.Info("reload succeeded",
		"attempt", attemptID, "duration", time.Since(start), "generation", gen)
	return res.log, nil
}

// Cleanup runs every unload action accumulated across all successful
// attempts, in registration order. Safe to call more than once; only the
// first call does the work.
func (h *Handle[B]) Cleanup() error {
	h.cleanupOnce.Do(func() {
		h.cleanupErr = h.cleanup.runAll()
		if h.cleanupErr != nil {
			h.logger.Error("unload actions reported errors", "error", h.cleanupErr)
		}
	})
	return h.cleanupErr
}
