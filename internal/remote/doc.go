// Package remote delegates check-ins to a NAS scheduler over HTTP.
//
// When the NAS is not configured or refuses a request, the Executor keeps
// the record on an in-process deferred job instead. The deferred job only
// records when the check-in is expected; terminal progress for those
// records arrives through reconciliation.
package remote
