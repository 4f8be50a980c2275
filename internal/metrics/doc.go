// Package metrics exposes check-in lifecycle counters to Prometheus.
package metrics
