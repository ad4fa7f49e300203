package server

import (
	"context"
	"log/slog"
	"net"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"golang.org/x/sync/errgroup"
	"golang.org/x/time/rate"

	"github.com/uffizio/snap/errors"
	"github.com/uffizio/snap/health"
	"github.com/uffizio/snap/metric"
	"github.com/uffizio/snap/pkg/respond"
)

// Site is the part of a running component tree the server drives: the
// handler it serves, the reload it can trigger and the teardown it owes.
// *snaplet.Handle satisfies it.
type Site interface {
	Handler() http.Handler
	Reload(context.Context) (string, error)
	Generation() uint64
	InitLog() string
	Cleanup() error
}

type options struct {
	addr            string
	logger          *slog.Logger
	shutdownTimeout time.Duration
	metrics         *metric.Metrics
	metricsPath     string
	healthPath      string
	reloadPath      string
	rateLimit       rate.Limit
	rateBurst       int
	watchPaths      []string
	debounce        time.Duration
}

// Option configures Serve.
type Option func(*options)

// WithAddr sets the listen address. Defaults to ":8000".
func WithAddr(addr string) Option {
	return func(o *options) {
		if addr != "" {
			o.addr = addr
		}
	}
}

// WithLogger sets the structured logger.
func WithLogger(logger *slog.Logger) Option {
	return func(o *options) {
		if logger != nil {
			o.logger = logger
		}
	}
}

// WithShutdownTimeout bounds graceful shutdown. Defaults to 10s.
func WithShutdownTimeout(d time.Duration) Option {
	return func(o *options) {
		if d > 0 {
			o.shutdownTimeout = d
		}
	}
}

// WithMetrics exposes the registry on the given path and instruments
// every site request.
func WithMetrics(m *metric.Metrics, path string) Option {
	return func(o *options) {
		o.metrics = m
		if path != "" {
			o.metricsPath = path
		}
	}
}

// WithHealthEndpoint serves aggregated health as JSON on the given path.
func WithHealthEndpoint(path string) Option {
	return func(o *options) {
		o.healthPath = path
	}
}

// WithReloadEndpoint accepts POSTs on the given path to reload the tree.
// Only loopback clients are allowed; front the server with something
// smarter before exposing it further.
func WithReloadEndpoint(path string) Option {
	return func(o *options) {
		o.reloadPath = path
	}
}

// WithRateLimit throttles the site (admin endpoints excluded) to limit
// requests per second with the given burst.
func WithRateLimit(limit rate.Limit, burst int) Option {
	return func(o *options) {
		o.rateLimit = limit
		o.rateBurst = burst
	}
}

// WithConfigWatcher reloads the tree when any of the given files or
// directories change, debounced so editors that write in bursts trigger
// one reload.
func WithConfigWatcher(paths ...string) Option {
	return func(o *options) {
		o.watchPaths = append(o.watchPaths, paths...)
	}
}

// WithWatchDebounce adjusts the config watcher's debounce window.
// Defaults to 500ms.
func WithWatchDebounce(d time.Duration) Option {
	return func(o *options) {
		if d > 0 {
			o.debounce = d
		}
	}
}

// Serve runs the site until ctx is canceled or the listener fails, then
// shuts down gracefully and runs the site's teardown. It blocks for the
// whole server lifetime.
func Serve(ctx context.Context, site Site, opts ...Option) error {
	o := options{
		addr:            ":8000",
		logger:          slog.Default(),
		shutdownTimeout: 10 * time.Second,
		metricsPath:     "/metrics",
		debounce:        500 * time.Millisecond,
	}
	for _, opt := range opts {
		opt(&o)
	}

	monitor := health.NewMonitor()
	monitor.Update("tree", health.NewHealthy("tree", "serving"))

	if initLog := site.InitLog(); initLog != "" {
		o.logger.Info("component tree ready",
			"generation", site.Generation(), "init_log", initLog)
	}

	start := time.Now()
	srv := &http.Server{
		Addr:              o.addr,
		Handler:           buildMux(site, &o, monitor, start),
		ReadHeaderTimeout: 10 * time.Second,
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		o.logger.Info("http server listening", "addr", o.addr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return errors.WrapTransient(err, "server", "Serve", "listen and serve")
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), o.shutdownTimeout)
		defer cancel()
		o.logger.Info("http server shutting down")
		if err := srv.Shutdown(shutdownCtx); err != nil {
			return errors.WrapTransient(err, "server", "Serve", "graceful shutdown")
		}
		return nil
	})
	if len(o.watchPaths) > 0 {
		cw := &configWatcher{
			paths:    o.watchPaths,
			debounce: o.debounce,
			reload:   site.Reload,
			logger:   o.logger,
			monitor:  monitor,
		}
		g.Go(func() error { return cw.run(gctx) })
	}

	err := g.Wait()
	if cerr := site.Cleanup(); cerr != nil {
		err = errors.Join(err, cerr)
	}
	return err
}

// buildMux assembles the admin endpoints in front of the site handler.
// Admin paths are matched exactly by the mux before the site's "/" entry,
// and bypass the rate limiter so a flooded site stays observable.
func buildMux(site Site, o *options, monitor *health.Monitor, start time.Time) *http.ServeMux {
	mux := http.NewServeMux()

	if o.metrics != nil && o.metricsPath != "" {
		mux.Handle(o.metricsPath, promhttp.HandlerFor(
			o.metrics.Registry(),
			promhttp.HandlerOpts{EnableOpenMetrics: true},
		))
	}
	if o.healthPath != "" {
		mux.HandleFunc(o.healthPath, healthHandler(site, monitor, start))
	}
	if o.reloadPath != "" {
		mux.HandleFunc(o.reloadPath, reloadHandler(site, o.logger, monitor))
	}

	handler := site.Handler()
	if o.rateLimit > 0 {
		burst := o.rateBurst
		if burst <= 0 {
			burst = 1
		}
		handler = rateLimitMiddleware(handler, rate.NewLimiter(o.rateLimit, burst))
	}
	if o.metrics != nil {
		handler = metricsMiddleware(handler, o.metrics)
	}
	mux.Handle("/", handler)
	return mux
}

func healthHandler(site Site, monitor *health.Monitor, start time.Time) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodGet {
			respond.Error(w, http.StatusMethodNotAllowed, "method not allowed")
			return
		}

		status := monitor.AggregateHealth("snap").WithMetrics(&health.Metrics{
			Uptime:     time.Since(start),
			Generation: site.Generation(),
		})

		code := http.StatusOK
		if status.IsUnhealthy() {
			code = http.StatusServiceUnavailable
		}
		respond.JSON(w, code, status)
	}
}

func reloadHandler(site Site, logger *slog.Logger, monitor *health.Monitor) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost {
			respond.Error(w, http.StatusMethodNotAllowed, "method not allowed")
			return
		}
		if !isLoopback(r.RemoteAddr) {
			respond.Error(w, http.StatusForbidden, "reload is only allowed from loopback")
			return
		}

		log, err := site.Reload(r.Context())
		if err != nil {
			logger.Error("reload via admin endpoint failed", "error", err)
			monitor.Update("reload", health.NewUnhealthyFromError("reload", err))
			respond.JSON(w, http.StatusInternalServerError, map[string]any{
				"ok":    false,
				"error": err.Error(),
				"log":   log,
			})
			return
		}

		monitor.Update("reload", health.NewHealthy("reload", "last reload succeeded"))
		respond.JSON(w, http.StatusOK, map[string]any{
			"ok":         true,
			"generation": site.Generation(),
			"log":        log,
		})
	}
}

// isLoopback reports whether the remote address resolves to a loopback
// IP. Requests through a proxy carry the proxy's address and are
// rejected; that is the point.
func isLoopback(remoteAddr string) bool {
	host, _, err := net.SplitHostPort(remoteAddr)
	if err != nil {
		return false
	}
	ip := net.ParseIP(host)
	return ip != nil && ip.IsLoopback()
}
