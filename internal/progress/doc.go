// Package progress turns the free-text output of the check-in worker into
// record updates.
//
// The policy lives in an ordered rule table rather than in conditionals: each
// Rule names a pattern, an optional status transition, and an extractor for
// extra fields such as the scheduled time or boarding position. A Parser is
// created per worker so rules gated on earlier markers see only that worker's
// stream.
package progress
