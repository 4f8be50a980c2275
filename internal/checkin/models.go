package checkin

import (
	"regexp"
	"strings"
	"time"

	"golang.org/x/text/unicode/norm"
)

// Status represents the lifecycle of a check-in record.
type Status string

const (
	StatusPending    Status = "pending"
	StatusScheduled  Status = "scheduled"
	StatusCheckingIn Status = "checking-in"
	StatusCompleted  Status = "completed"
	StatusFailed     Status = "failed"
	StatusCancelled  Status = "cancelled"
)

// Source identifies the execution substrate a record runs on.
type Source string

const (
	SourceLocal  Source = "local"
	SourceRemote Source = "remote"
)

// UserCancelReason is the error message recorded when a caller cancels a record.
const UserCancelReason = "Cancelled by user"

// DaemonStopReason is the error message recorded when shutdown stops a live worker.
const DaemonStopReason = "Daemon stopped"

var allStatuses = []Status{
	StatusPending,
	StatusScheduled,
	StatusCheckingIn,
	StatusCompleted,
	StatusFailed,
	StatusCancelled,
}

var statusSet = func() map[Status]struct{} {
	set := make(map[Status]struct{}, len(allStatuses))
	for _, status := range allStatuses {
		set[status] = struct{}{}
	}
	return set
}()

var codePattern = regexp.MustCompile(`^[A-Z0-9]{6}$`)

// LogEntry is one timestamped line of worker progress.
type LogEntry struct {
	Timestamp time.Time `json:"timestamp"`
	Message   string    `json:"message"`
}

// Record is the canonical state of one check-in request.
type Record struct {
	ID               string     `json:"id"`
	ConfirmationCode string     `json:"confirmationNumber"`
	FirstName        string     `json:"firstName"`
	LastName         string     `json:"lastName"`
	Status           Status     `json:"status"`
	Source           Source     `json:"source"`
	ScheduledTime    *time.Time `json:"scheduledTime,omitempty"`
	ScheduledText    string     `json:"scheduledText,omitempty"`
	CheckInTime      *time.Time `json:"checkInTime,omitempty"`
	BoardingPosition string     `json:"boardingPosition,omitempty"`
	Error            string     `json:"error,omitempty"`
	StartedAt        *time.Time `json:"startedAt,omitempty"`
	CompletedAt      *time.Time `json:"completedAt,omitempty"`
	CreatedAt        time.Time  `json:"createdAt"`
	UpdatedAt        time.Time  `json:"updatedAt"`
	Log              []LogEntry `json:"output,omitempty"`
}

// Draft carries the caller-provided fields of a new record.
type Draft struct {
	ConfirmationCode string
	FirstName        string
	LastName         string
	Source           Source
}

// Patch lists the fields an update may change. Nil fields are left alone and
// AppendLog entries are added to the end of the progress log.
type Patch struct {
	Status           *Status
	Source           *Source
	ScheduledTime    *time.Time
	ScheduledText    *string
	CheckInTime      *time.Time
	BoardingPosition *string
	Error            *string
	AppendLog        []LogEntry
}

// IsZero reports whether the patch changes nothing.
func (p Patch) IsZero() bool {
	return p.Status == nil &&
		p.Source == nil &&
		p.ScheduledTime == nil &&
		p.ScheduledText == nil &&
		p.CheckInTime == nil &&
		p.BoardingPosition == nil &&
		p.Error == nil &&
		len(p.AppendLog) == 0
}

// Ptr returns a pointer to v. Patch literals use it for optional fields.
func Ptr[T any](v T) *T {
	return &v
}

// AllStatuses returns the ordered list of known statuses.
func AllStatuses() []Status {
	cp := make([]Status, len(allStatuses))
	copy(cp, allStatuses)
	return cp
}

// ParseStatus converts a string into a known Status.
func ParseStatus(value string) (Status, bool) {
	normalized := Status(strings.ToLower(strings.TrimSpace(value)))
	if normalized == "" {
		return "", false
	}
	_, ok := statusSet[normalized]
	return normalized, ok
}

// ParseSource converts a string into a known Source.
func ParseSource(value string) (Source, bool) {
	switch Source(strings.ToLower(strings.TrimSpace(value))) {
	case SourceLocal:
		return SourceLocal, true
	case SourceRemote:
		return SourceRemote, true
	default:
		return "", false
	}
}

// FilterBySource keeps the records tagged with source.
func FilterBySource(records []Record, source Source) []Record {
	kept := make([]Record, 0, len(records))
	for _, rec := range records {
		if rec.Source == source {
			kept = append(kept, rec)
		}
	}
	return kept
}

// NormalizeCode upper-cases and trims a confirmation code.
func NormalizeCode(code string) string {
	return strings.ToUpper(strings.TrimSpace(code))
}

// ValidCode reports whether an already normalized code is six alphanumerics.
func ValidCode(code string) bool {
	return codePattern.MatchString(code)
}

// NormalizeName trims a traveler name and folds it to Unicode NFC so visually
// identical names compare equal.
func NormalizeName(name string) string {
	return norm.NFC.String(strings.Join(strings.Fields(name), " "))
}

// IsActive reports whether the record still has work in flight.
func (r Record) IsActive() bool {
	return IsActive(r.Status)
}

// IsTerminal reports whether the record reached a final status.
func (r Record) IsTerminal() bool {
	return IsTerminal(r.Status)
}

// TravelerName joins the first and last name for display.
func (r Record) TravelerName() string {
	return strings.TrimSpace(r.FirstName + " " + r.LastName)
}

func (r Record) clone() Record {
	out := r
	out.ScheduledTime = cloneTime(r.ScheduledTime)
	out.CheckInTime = cloneTime(r.CheckInTime)
	out.StartedAt = cloneTime(r.StartedAt)
	out.CompletedAt = cloneTime(r.CompletedAt)
	if len(r.Log) > 0 {
		out.Log = make([]LogEntry, len(r.Log))
		copy(out.Log, r.Log)
	} else {
		out.Log = nil
	}
	return out
}

func cloneTime(t *time.Time) *time.Time {
	if t == nil {
		return nil
	}
	v := *t
	return &v
}
