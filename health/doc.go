// Package health models the health of a running component tree.
//
// A Status describes one component: healthy, degraded or unhealthy, with
// a message and optional tree-level metrics (uptime, generation, reload
// failures). Aggregate folds a set of statuses into one, pessimistically:
// any unhealthy sub-status makes the whole unhealthy, any degraded one
// makes it degraded.
//
// Monitor is the mutable registry behind a health endpoint: reload and
// watcher paths update it, the endpoint reads AggregateHealth. Messages
// built from errors pass through a sanitizer that strips URLs, file
// paths, addresses and credential-shaped fragments, so internal detail
// does not leak through a public health check.
package health
