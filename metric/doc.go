// Package metric provides Prometheus instrumentation for the snap
// engine and its components.
//
// A single Metrics value owns one prometheus.Registry. The engine's core
// series (initialization walk duration, component installs, reload
// attempts and failures, live generation, HTTP request counts) are
// registered at construction; components add their own collectors with
// Register, keyed by component and metric name so duplicate
// registrations fail loudly instead of silently double counting.
//
// Wire a Metrics into an application with snaplet.WithMetrics and expose
// it with server.WithMetrics, which serves the registry through the
// standard promhttp handler.
package metric
