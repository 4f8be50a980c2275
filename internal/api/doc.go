// Package api defines wire-format types and converters shared by the HTTP API,
// the IPC server, and the CLI. It translates check-in records into
// transport-friendly DTOs so consumers do not couple to store internals.
//
// # Key Types
//
// CheckIn: transport representation of a record with formatted timestamps and
// an active flag.
//
// LogsResponse: the progress log of one record.
//
// DaemonStatus: daemon runtime information including per-source and
// per-status counts.
//
// # Design Notes
//
// DTOs use camelCase JSON tags. Timestamps are RFC3339 UTC with milliseconds,
// and unset optional stamps are omitted rather than rendered as zero times.
// Lists are sorted newest first.
package api
