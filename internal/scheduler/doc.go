// Package scheduler orchestrates check-in requests across execution backends.
//
// The Orchestrator validates a request, creates its record, and launches it
// on the first backend that accepts it, switching the record's source as it
// falls back. It also cancels records, applies external reconciliation for
// handed-off records, and reports counts for status endpoints.
package scheduler
