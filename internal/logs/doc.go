// Package logs tails the daemon log file for `checkpilot daemon-log`.
//
// Only complete lines are returned: a partially flushed record stays in the
// file until its newline lands, so follow mode never splits a JSON log line.
// A file that shrinks below the caller's offset (rotation or truncation) is
// read again from the start.
package logs
