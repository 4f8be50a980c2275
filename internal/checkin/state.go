package checkin

// rank orders statuses along the happy path. Every terminal status shares the
// top rank so none of them can replace another.
var rank = map[Status]int{
	StatusPending:    0,
	StatusScheduled:  1,
	StatusCheckingIn: 2,
	StatusCompleted:  3,
	StatusFailed:     3,
	StatusCancelled:  3,
}

// IsTerminal reports whether no further transition may leave status.
func IsTerminal(status Status) bool {
	switch status {
	case StatusCompleted, StatusFailed, StatusCancelled:
		return true
	default:
		return false
	}
}

// IsActive reports whether status is pending, scheduled, or checking-in.
func IsActive(status Status) bool {
	switch status {
	case StatusPending, StatusScheduled, StatusCheckingIn:
		return true
	default:
		return false
	}
}

// CanTransition reports whether a record in from may move to to.
//
// Forward moves may skip states (a worker can announce check-in before the
// scheduled marker arrives) and re-entering the same active status is allowed
// so a repeated marker can refresh its fields.
func CanTransition(from, to Status) bool {
	if IsTerminal(from) {
		return false
	}
	fromRank, ok := rank[from]
	if !ok {
		return false
	}
	toRank, ok := rank[to]
	if !ok {
		return false
	}
	return toRank >= fromRank
}
