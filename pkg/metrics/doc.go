/*
Package metrics exposes Prometheus metrics and collaborator health state.

Metrics cover the registry (device counts, registration results), the address
pool, sessions by state, and the worker pool (queue depth, running jobs,
outcomes, durations). The health checker aggregates per-collaborator status
for the /healthz endpoint.
*/
package metrics
