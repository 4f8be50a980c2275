package api

import (
	"sort"
	"time"
)

// SortNewestFirst orders check-ins by CreatedAt descending, breaking ties by ID descending.
func SortNewestFirst(items []CheckIn) []CheckIn {
	if len(items) == 0 {
		return []CheckIn{}
	}
	sorted := make([]CheckIn, len(items))
	copy(sorted, items)
	sort.SliceStable(sorted, func(i, j int) bool {
		ti := parseTime(sorted[i].CreatedAt)
		tj := parseTime(sorted[j].CreatedAt)
		if ti.Equal(tj) {
			return sorted[i].ID > sorted[j].ID
		}
		return ti.After(tj)
	})
	return sorted
}

func parseTime(value string) time.Time {
	if value == "" {
		return time.Time{}
	}
	if t, err := time.Parse(time.RFC3339, value); err == nil {
		return t
	}
	if t, err := time.Parse(time.RFC3339Nano, value); err == nil {
		return t
	}
	return time.Time{}
}

// ParseTime exposes timestamp parsing for consumers that need display formatting.
func ParseTime(value string) time.Time {
	return parseTime(value)
}

// DisplayTime renders an API timestamp in local time for terminals. Empty or
// unparseable values render as "-".
func DisplayTime(value string) string {
	t := parseTime(value)
	if t.IsZero() {
		return "-"
	}
	return t.Local().Format("2006-01-02 15:04:05")
}
