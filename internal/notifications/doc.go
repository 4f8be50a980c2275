// Package notifications delivers check-in outcomes via ntfy.
//
// The default implementation publishes to the topic configured in
// config.toml and degrades to a no-op when no topic is set. The Listener
// adapts record transitions and backend fallbacks into events, so the
// scheduler never holds HTTP glue.
package notifications
