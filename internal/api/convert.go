package api

import (
	"time"

	"checkpilot/internal/checkin"
	"checkpilot/internal/scheduler"
)

// FromRecord converts a store record to its API representation.
func FromRecord(rec checkin.Record) CheckIn {
	return CheckIn{
		ID:                 rec.ID,
		ConfirmationNumber: rec.ConfirmationCode,
		FirstName:          rec.FirstName,
		LastName:           rec.LastName,
		Status:             string(rec.Status),
		Source:             string(rec.Source),
		Active:             rec.IsActive(),
		ScheduledTime:      formatPtr(rec.ScheduledTime),
		ScheduledText:      rec.ScheduledText,
		CheckInTime:        formatPtr(rec.CheckInTime),
		BoardingPosition:   rec.BoardingPosition,
		Error:              rec.Error,
		StartedAt:          formatPtr(rec.StartedAt),
		CompletedAt:        formatPtr(rec.CompletedAt),
		CreatedAt:          formatTime(rec.CreatedAt),
		UpdatedAt:          formatTime(rec.UpdatedAt),
		LogEntries:         len(rec.Log),
	}
}

// FromRecords converts a slice of records, newest first.
func FromRecords(records []checkin.Record) []CheckIn {
	out := make([]CheckIn, 0, len(records))
	for _, rec := range records {
		out = append(out, FromRecord(rec))
	}
	return SortNewestFirst(out)
}

// FromLogView converts an orchestrator log view.
func FromLogView(view scheduler.LogView) LogsResponse {
	entries := make([]LogEntry, 0, len(view.Entries))
	for _, entry := range view.Entries {
		entries = append(entries, LogEntry{
			Timestamp: formatTime(entry.Timestamp),
			Message:   entry.Message,
		})
	}
	return LogsResponse{
		ID:          view.ID,
		Status:      string(view.Status),
		StartedAt:   formatPtr(view.StartedAt),
		CompletedAt: formatPtr(view.CompletedAt),
		Entries:     entries,
	}
}

// StatusCounts tallies records per status, listing every known status.
func StatusCounts(records []checkin.Record) map[string]int {
	counts := make(map[string]int, len(checkin.AllStatuses()))
	for _, status := range checkin.AllStatuses() {
		counts[string(status)] = 0
	}
	for _, rec := range records {
		counts[string(rec.Status)]++
	}
	return counts
}

// SourceCounts converts per-source counts to string keys, listing both sources.
func SourceCounts(counts map[checkin.Source]int) map[string]int {
	out := map[string]int{
		string(checkin.SourceLocal):  0,
		string(checkin.SourceRemote): 0,
	}
	for source, n := range counts {
		out[string(source)] = n
	}
	return out
}

func formatTime(t time.Time) string {
	if t.IsZero() {
		return ""
	}
	return t.UTC().Format(dateTimeFormat)
}

func formatPtr(t *time.Time) string {
	if t == nil {
		return ""
	}
	return formatTime(*t)
}
