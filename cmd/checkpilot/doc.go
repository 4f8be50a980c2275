// Package main hosts the checkpilot CLI entrypoint and command graph.
//
// The Cobra command tree translates terminal invocations into IPC calls
// against the daemon: scheduling, listing, cancelling, and reconciling
// check-ins, reading their progress logs, and managing the daemon process
// itself. Configuration resolution and socket discovery live in
// commandContext so subcommands stay declarative.
package main
