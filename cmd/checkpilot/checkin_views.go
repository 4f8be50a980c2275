package main

import (
	"fmt"
	"strconv"
	"strings"

	"checkpilot/internal/api"
)

const detailLabelWidth = 18

func buildCheckinRows(items []api.CheckIn) [][]string {
	rows := make([][]string, 0, len(items))
	for _, item := range items {
		status := item.Status
		if item.Active {
			status += " *"
		}
		rows = append(rows, []string{
			item.ID,
			item.ConfirmationNumber,
			strings.TrimSpace(item.FirstName + " " + item.LastName),
			status,
			item.Source,
			checkInTime(item),
			api.DisplayTime(item.CreatedAt),
		})
	}
	return rows
}

// checkInTime prefers the parsed instant and falls back to the worker's raw text.
func checkInTime(item api.CheckIn) string {
	if item.ScheduledTime != "" {
		return api.DisplayTime(item.ScheduledTime)
	}
	if item.ScheduledText != "" {
		return item.ScheduledText
	}
	return "-"
}

func checkinDetailLines(item api.CheckIn) []string {
	lines := []string{
		detailLine("ID", item.ID),
		detailLine("Confirmation", item.ConfirmationNumber),
		detailLine("Traveler", strings.TrimSpace(item.FirstName+" "+item.LastName)),
		detailLine("Status", item.Status),
		detailLine("Source", item.Source),
		detailLine("Active", yesNo(item.Active)),
		detailLine("Check-in Time", checkInTime(item)),
	}
	if item.BoardingPosition != "" {
		lines = append(lines, detailLine("Boarding Position", item.BoardingPosition))
	}
	if item.Error != "" {
		lines = append(lines, detailLine("Error", item.Error))
	}
	lines = append(lines,
		detailLine("Started", api.DisplayTime(item.StartedAt)),
		detailLine("Completed", api.DisplayTime(item.CompletedAt)),
		detailLine("Created", api.DisplayTime(item.CreatedAt)),
		detailLine("Log Entries", strconv.Itoa(item.LogEntries)),
	)
	return lines
}

func detailLine(label, value string) string {
	if value == "" {
		value = "-"
	}
	return fmt.Sprintf("%-*s %s", detailLabelWidth, label+":", value)
}

func logLines(entries []api.LogEntry) []string {
	lines := make([]string, 0, len(entries))
	for _, entry := range entries {
		lines = append(lines, fmt.Sprintf("%s  %s", api.DisplayTime(entry.Timestamp), entry.Message))
	}
	return lines
}
