package api

// dateTimeFormat is used for RFC3339 timestamps in API payloads.
const dateTimeFormat = "2006-01-02T15:04:05.000Z07:00"

// CheckIn describes a check-in record in a transport-friendly format.
type CheckIn struct {
	ID                 string `json:"id"`
	ConfirmationNumber string `json:"confirmationNumber"`
	FirstName          string `json:"firstName"`
	LastName           string `json:"lastName"`
	Status             string `json:"status"`
	Source             string `json:"source"`
	Active             bool   `json:"active"`
	ScheduledTime      string `json:"scheduledTime,omitempty"`
	ScheduledText      string `json:"scheduledText,omitempty"`
	CheckInTime        string `json:"checkInTime,omitempty"`
	BoardingPosition   string `json:"boardingPosition,omitempty"`
	Error              string `json:"error,omitempty"`
	StartedAt          string `json:"startedAt,omitempty"`
	CompletedAt        string `json:"completedAt,omitempty"`
	CreatedAt          string `json:"createdAt,omitempty"`
	UpdatedAt          string `json:"updatedAt,omitempty"`
	LogEntries         int    `json:"logEntries"`
}

// LogEntry is one line of worker progress.
type LogEntry struct {
	Timestamp string `json:"timestamp"`
	Message   string `json:"message"`
}

// LogsResponse wraps the progress log of one check-in.
type LogsResponse struct {
	ID          string     `json:"id"`
	Status      string     `json:"status"`
	StartedAt   string     `json:"startedAt,omitempty"`
	CompletedAt string     `json:"completedAt,omitempty"`
	Entries     []LogEntry `json:"entries"`
}

// CheckInListResponse wraps a collection of check-ins.
type CheckInListResponse struct {
	CheckIns []CheckIn `json:"checkIns"`
	Total    int       `json:"total"`
}

// ScheduleResponse reports the record created by a schedule request.
type ScheduleResponse struct {
	CheckIn CheckIn `json:"checkIn"`
}

// CancelResponse reports the outcome of a cancel request. Cancelled is true
// only when a live worker or deferred job was stopped.
type CancelResponse struct {
	Cancelled bool    `json:"cancelled"`
	CheckIn   CheckIn `json:"checkIn"`
}

// DaemonStatus aggregates daemon runtime information for API consumers.
type DaemonStatus struct {
	Running        bool           `json:"running"`
	PID            int            `json:"pid"`
	StartedAt      string         `json:"startedAt,omitempty"`
	Uptime         string         `json:"uptime,omitempty"`
	Primary        string         `json:"primary"`
	Backends       []string       `json:"backends"`
	Active         int            `json:"active"`
	ActiveBySource map[string]int `json:"activeBySource"`
	StatusCounts   map[string]int `json:"statusCounts"`
	LockFilePath   string         `json:"lockFilePath"`
	SocketPath     string         `json:"socketPath"`
	APIBind        string         `json:"apiBind"`
}

// ErrorResponse is the body of every non-2xx HTTP reply.
type ErrorResponse struct {
	Error string `json:"error"`
}
