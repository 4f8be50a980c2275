// Package daemon coordinates the long-running checkpilot process.
//
// It wraps the scheduling orchestrator in a lifecycle with flock-based locking
// to prevent multiple instances, serves the HTTP API (check-in CRUD, progress
// logs, reconciliation, status, and Prometheus metrics), and reports runtime
// status to the IPC server and the CLI.
//
// Stop only takes the daemon off the network and releases the lock. Close
// additionally shuts the backends down, which terminates live workers and
// drops deferred jobs.
package daemon
