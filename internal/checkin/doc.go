// Package checkin owns check-in records and the status state machine that
// governs them.
//
// The Store keeps every record in process memory; nothing is persisted and a
// restart forgets all requests along with their live worker handles. Records
// are handed out as copies so callers can read them without holding the store
// lock, and every mutation goes through Update, which applies the transition
// rules in state.go before merging a Patch.
//
// Executors and the scheduler treat this package as the single source of
// truth for record semantics. When you add a status, update allStatuses and
// the rank table together.
package checkin
