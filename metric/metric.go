package metric

import (
	stderrors "errors"
	"fmt"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"

	"github.com/uffizio/snap/errors"
)

// Metrics owns the Prometheus registry for one application: the engine's
// core series plus whatever individual components register. All core
// series live under the "snap" namespace.
type Metrics struct {
	registry *prometheus.Registry

	InitDuration        prometheus.Histogram
	SnapletsInitialized prometheus.Counter
	ReloadsTotal        prometheus.Counter
	ReloadFailures      prometheus.Counter
	Generation          prometheus.Gauge
	RequestsTotal       *prometheus.CounterVec
	RequestDuration     prometheus.Histogram

	mu         sync.Mutex
	registered map[string]prometheus.Collector
}

// New creates a Metrics with the core engine series registered, plus the
// standard Go runtime and process collectors.
func New() *Metrics {
	m := &Metrics{
		registry:   prometheus.NewRegistry(),
		registered: make(map[string]prometheus.Collector),

		InitDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: "snap",
			Subsystem: "init",
			Name:      "duration_seconds",
			Help:      "Duration of full initialization walks, successful or not",
			Buckets:   prometheus.DefBuckets,
		}),
		SnapletsInitialized: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "snap",
			Subsystem: "init",
			Name:      "snaplets_total",
			Help:      "Total component installations across all initialization attempts",
		}),
		ReloadsTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "snap",
			Subsystem: "reload",
			Name:      "attempts_total",
			Help:      "Total reload attempts",
		}),
		ReloadFailures: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "snap",
			Subsystem: "reload",
			Name:      "failures_total",
			Help:      "Reload attempts that failed and kept the previous state",
		}),
		Generation: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "snap",
			Name:      "generation",
			Help:      "Number of successful initializations of the live tree",
		}),
		RequestsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "snap",
			Subsystem: "http",
			Name:      "requests_total",
			Help:      "HTTP requests served by the site handler",
		}, []string{"code"}),
		RequestDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: "snap",
			Subsystem: "http",
			Name:      "request_duration_seconds",
			Help:      "HTTP request duration in seconds",
			Buckets:   prometheus.DefBuckets,
		}),
	}

	m.registry.MustRegister(
		m.InitDuration,
		m.SnapletsInitialized,
		m.ReloadsTotal,
		m.ReloadFailures,
		m.Generation,
		m.RequestsTotal,
		m.RequestDuration,
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	return m
}

// Registry returns the underlying Prometheus registry, for promhttp.
func (m *Metrics) Registry() *prometheus.Registry {
	return m.registry
}

// ObserveInit records one initialization walk: its wall-clock duration
// and how many components it installed before finishing or failing.
func (m *Metrics) ObserveInit(d time.Duration, installs int) {
	m.InitDuration.Observe(d.Seconds())
	m.SnapletsInitialized.Add(float64(installs))
}

// IncReload counts a reload attempt.
func (m *Metrics) IncReload() {
	m.ReloadsTotal.Inc()
}

// IncReloadFailure counts a failed reload attempt.
func (m *Metrics) IncReloadFailure() {
	m.ReloadFailures.Inc()
}

// SetGeneration publishes the live tree's generation number.
func (m *Metrics) SetGeneration(gen uint64) {
	m.Generation.Set(float64(gen))
}

// ObserveRequest records one served HTTP request.
func (m *Metrics) ObserveRequest(code int, d time.Duration) {
	m.RequestsTotal.WithLabelValues(fmt.Sprintf("%d", code)).Inc()
	m.RequestDuration.Observe(d.Seconds())
}

// Register adds a component-owned collector under component.name. A
// second registration under the same key, or a collector Prometheus
// considers a duplicate, is rejected.
func (m *Metrics) Register(component, name string, c prometheus.Collector) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	key := fmt.Sprintf("%s.%s", component, name)
	if _, exists := m.registered[key]; exists {
		return errors.WrapContract(
			fmt.Errorf("metric %s already registered for component %s", name, component),
			"Metrics", "Register", "duplicate metric registration")
	}

	if err := m.registry.Register(c); err != nil {
		var already prometheus.AlreadyRegisteredError
		if stderrors.As(err, &already) {
			return errors.WrapContract(err, "Metrics", "Register",
				fmt.Sprintf("prometheus conflict for metric %s", name))
		}
		return errors.WrapInit(err, "Metrics", "Register", "register collector with prometheus")
	}

	m.registered[key] = c
	return nil
}

// Unregister removes a component-owned collector. It reports whether the
// collector was present and removed.
func (m *Metrics) Unregister(component, name string) bool {
	m.mu.Lock()
	defer m.mu.Unlock()

	key := fmt.Sprintf("%s.%s", component, name)
	c, exists := m.registered[key]
	if !exists {
		return false
	}
	if !m.registry.Unregister(c) {
		return false
	}
	delete(m.registered, key)
	return true
}
