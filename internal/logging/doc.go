// Package logging assembles structured slog loggers and formatting helpers used
// across checkpilot.
//
// It owns the console and JSON handlers, the fan-out used to mirror daemon
// output into a log file, and context helpers that tag lines with record and
// request identifiers. NewNop gives tests and optional wiring a logger that
// cannot fail.
package logging
