// Package worker supervises the local check-in worker process.
//
// The Executor launches one process per record, feeds each stdout line
// through the progress rules, mirrors stderr into the record log, and
// settles the record when the process exits. Workers run in their own
// process group so Stop can signal the whole tree.
package worker
