package progress

import (
	"regexp"
	"strings"
	"time"

	"checkpilot/internal/checkin"
)

// Rule maps one kind of worker output line to a record change.
type Rule struct {
	// Name identifies the rule in logs and in After references.
	Name string
	// Match selects the lines this rule applies to.
	Match *regexp.Regexp
	// Transition is the status the record moves to. Empty leaves the status alone.
	Transition checkin.Status
	// After restricts the rule to lines seen once the named rule has fired.
	After string
	// Until retires the rule once any of the named rules has fired.
	Until []string
	// Once retires the rule after its first match.
	Once bool
	// Extract pulls extra fields out of the line. match holds Match's submatches.
	Extract func(match []string, line string, now time.Time) checkin.Patch
}

var (
	checkedInPattern  = regexp.MustCompile(`Successfully checked in`)
	positionPattern   = regexp.MustCompile(`Position: ([A-C]\d+)`)
	checkingInPattern = regexp.MustCompile(`Checking in\.\.\.`)
	scheduledPattern  = regexp.MustCompile(`Successfully scheduled`)
	atTimePattern     = regexp.MustCompile(`at (.+?) \(`)
)

// DefaultRules returns the marker rules understood by the southwest check-in
// worker, in evaluation order.
func DefaultRules() []Rule {
	return []Rule{
		{
			Name:       "checked-in",
			Match:      checkedInPattern,
			Transition: checkin.StatusCompleted,
			Extract: func(_ []string, line string, now time.Time) checkin.Patch {
				patch := checkin.Patch{CheckInTime: checkin.Ptr(now)}
				if m := positionPattern.FindStringSubmatch(line); m != nil {
					patch.BoardingPosition = checkin.Ptr(m[1])
				}
				return patch
			},
		},
		{
			Name:       "checking-in",
			Match:      checkingInPattern,
			Transition: checkin.StatusCheckingIn,
		},
		{
			Name:       "scheduled",
			Match:      scheduledPattern,
			Transition: checkin.StatusScheduled,
			Extract: func(_ []string, line string, _ time.Time) checkin.Patch {
				if m := atTimePattern.FindStringSubmatch(line); m != nil {
					return scheduledPatch(m[1])
				}
				return checkin.Patch{}
			},
		},
		{
			// The worker prints the flight list on the lines after the
			// scheduled banner, so the time often arrives separately.
			Name:  "scheduled-time",
			Match: atTimePattern,
			After: "scheduled",
			Until: []string{"checking-in", "checked-in"},
			Once:  true,
			Extract: func(match []string, _ string, _ time.Time) checkin.Patch {
				return scheduledPatch(match[1])
			},
		},
	}
}

func scheduledPatch(text string) checkin.Patch {
	text = strings.TrimSpace(text)
	if text == "" {
		return checkin.Patch{}
	}
	patch := checkin.Patch{ScheduledText: checkin.Ptr(text)}
	if ts, ok := ParseScheduledTime(text); ok {
		patch.ScheduledTime = checkin.Ptr(ts)
	}
	return patch
}

var scheduledLayouts = []string{
	time.RFC3339,
	"2006-01-02T15:04:05",
	"2006-01-02 15:04:05 -0700",
	"2006-01-02 15:04:05 MST",
	"2006-01-02 15:04 MST",
	"2006-01-02 15:04:05",
	"2006-01-02 15:04",
}

// ParseScheduledTime interprets the worker's scheduled-for text. Zone
// abbreviations unknown to the host parse with a zero offset, so callers keep
// the raw text alongside the parsed value.
func ParseScheduledTime(text string) (time.Time, bool) {
	text = strings.TrimSpace(text)
	for _, layout := range scheduledLayouts {
		if ts, err := time.Parse(layout, text); err == nil {
			return ts.UTC(), true
		}
	}
	return time.Time{}, false
}
