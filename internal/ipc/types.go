package ipc

import "checkpilot/internal/api"

// CheckIn mirrors the HTTP API check-in DTO for IPC callers.
type CheckIn = api.CheckIn

// LogEntry mirrors the HTTP API log entry DTO.
type LogEntry = api.LogEntry

// ScheduleRequest asks the daemon to check a traveler in.
type ScheduleRequest struct {
	ConfirmationNumber string `json:"confirmation_number"`
	FirstName          string `json:"first_name"`
	LastName           string `json:"last_name"`
}

// ScheduleResponse carries the created record.
type ScheduleResponse struct {
	CheckIn CheckIn `json:"check_in"`
}

// CancelRequest cancels one record.
type CancelRequest struct {
	ID string `json:"id"`
}

// CancelResponse reports whether a live handle was stopped. It shares the
// HTTP API shape so CLI JSON output matches.
type CancelResponse = api.CancelResponse

// GetRequest fetches one record.
type GetRequest struct {
	ID string `json:"id"`
}

// GetResponse contains a single record.
type GetResponse struct {
	CheckIn CheckIn `json:"check_in"`
}

// ListRequest filters listing by status. Active limits the result to records
// that have not finished, and Source to one substrate.
type ListRequest struct {
	Statuses []string `json:"statuses"`
	Active   bool     `json:"active"`
	Source   string   `json:"source"`
}

// ListResponse contains records, newest first.
type ListResponse struct {
	CheckIns []CheckIn `json:"check_ins"`
}

// LogsRequest fetches the progress log of one record.
type LogsRequest struct {
	ID string `json:"id"`
}

// LogsResponse returns log entries with the record's run stamps.
type LogsResponse = api.LogsResponse

// ReconcileRequest reports progress for a handed-off record.
type ReconcileRequest struct {
	ID               string `json:"id"`
	Status           string `json:"status"`
	BoardingPosition string `json:"boarding_position"`
	Error            string `json:"error"`
}

// ReconcileResponse carries the updated record.
type ReconcileResponse struct {
	CheckIn CheckIn `json:"check_in"`
}

// StatusRequest fetches daemon status.
type StatusRequest struct{}

// StatusResponse represents daemon runtime information.
type StatusResponse = api.DaemonStatus

// TestNotificationRequest triggers a notification test.
type TestNotificationRequest struct{}

// TestNotificationResponse reports notification test outcome.
type TestNotificationResponse struct {
	Sent    bool   `json:"sent"`
	Message string `json:"message"`
}
