package checkin

import "errors"

var (
	// ErrValidation marks malformed requests rejected before a record exists.
	ErrValidation = errors.New("validation failed")
	// ErrDuplicate marks a request whose confirmation code already has an active record.
	ErrDuplicate = errors.New("confirmation code already scheduled")
	// ErrLaunch marks a substrate that could not take the work.
	ErrLaunch = errors.New("launch failed")
	// ErrRuntime marks a worker that failed after it started.
	ErrRuntime = errors.New("worker failed")
	// ErrNotFound marks lookups for unknown record ids.
	ErrNotFound = errors.New("check-in not found")
	// ErrTerminal marks updates against a record that already finished.
	ErrTerminal = errors.New("check-in already finished")
	// ErrTransition marks updates that would move a record backwards.
	ErrTransition = errors.New("invalid status transition")
)

// IsRejected reports whether err is one of the state-machine rejections that
// executors drop silently when a late event loses a race.
func IsRejected(err error) bool {
	return errors.Is(err, ErrTerminal) || errors.Is(err, ErrTransition)
}
