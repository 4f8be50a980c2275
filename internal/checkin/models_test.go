package checkin_test

import (
	"testing"

	"checkpilot/internal/checkin"
)

func TestParseStatus(t *testing.T) {
	cases := map[string]checkin.Status{
		"pending":     checkin.StatusPending,
		" Scheduled ": checkin.StatusScheduled,
		"CHECKING-IN": checkin.StatusCheckingIn,
		"completed":   checkin.StatusCompleted,
		"failed":      checkin.StatusFailed,
		"cancelled":   checkin.StatusCancelled,
	}
	for input, want := range cases {
		got, ok := checkin.ParseStatus(input)
		if !ok || got != want {
			t.Fatalf("ParseStatus(%q) = %q, %v; want %q", input, got, ok, want)
		}
	}
	if _, ok := checkin.ParseStatus("unknown"); ok {
		t.Fatal("expected unknown status to be rejected")
	}
	if _, ok := checkin.ParseStatus(""); ok {
		t.Fatal("expected empty status to be rejected")
	}
}

func TestCanTransition(t *testing.T) {
	cases := []struct {
		from, to checkin.Status
		want     bool
	}{
		{checkin.StatusPending, checkin.StatusScheduled, true},
		{checkin.StatusPending, checkin.StatusCheckingIn, true},
		{checkin.StatusScheduled, checkin.StatusScheduled, true},
		{checkin.StatusScheduled, checkin.StatusCheckingIn, true},
		{checkin.StatusCheckingIn, checkin.StatusCompleted, true},
		{checkin.StatusPending, checkin.StatusFailed, true},
		{checkin.StatusScheduled, checkin.StatusCancelled, true},
		{checkin.StatusCheckingIn, checkin.StatusScheduled, false},
		{checkin.StatusScheduled, checkin.StatusPending, false},
		{checkin.StatusCompleted, checkin.StatusFailed, false},
		{checkin.StatusFailed, checkin.StatusCompleted, false},
		{checkin.StatusCancelled, checkin.StatusCancelled, false},
		{checkin.StatusPending, checkin.Status("bogus"), false},
	}
	for _, tc := range cases {
		if got := checkin.CanTransition(tc.from, tc.to); got != tc.want {
			t.Fatalf("CanTransition(%s, %s) = %v, want %v", tc.from, tc.to, got, tc.want)
		}
	}
}

func TestCodeNormalization(t *testing.T) {
	cases := []struct {
		input string
		valid bool
	}{
		{"abc123", true},
		{" ABC123 ", true},
		{"AB12", false},
		{"ABC1234", false},
		{"ABC-12", false},
		{"", false},
	}
	for _, tc := range cases {
		code := checkin.NormalizeCode(tc.input)
		if got := checkin.ValidCode(code); got != tc.valid {
			t.Fatalf("ValidCode(%q) = %v, want %v", code, got, tc.valid)
		}
	}
	if checkin.NormalizeCode("abc123") != "ABC123" {
		t.Fatal("expected upper-case normalization")
	}
}

func TestNormalizeNameFoldsToNFC(t *testing.T) {
	decomposed := "Jose\u0301"
	composed := "Jos\u00e9"
	if got := checkin.NormalizeName("  " + decomposed + "  "); got != composed {
		t.Fatalf("NormalizeName = %q, want %q", got, composed)
	}
	if got := checkin.NormalizeName("Mary   Ann"); got != "Mary Ann" {
		t.Fatalf("expected inner whitespace collapsed, got %q", got)
	}
}

func TestParseSourceAndFilter(t *testing.T) {
	if got, ok := checkin.ParseSource(" Remote "); !ok || got != checkin.SourceRemote {
		t.Fatalf("expected remote, got %q %v", got, ok)
	}
	if _, ok := checkin.ParseSource("cloud"); ok {
		t.Fatal("expected unknown source to be rejected")
	}

	records := []checkin.Record{
		{ID: "a", Source: checkin.SourceLocal},
		{ID: "b", Source: checkin.SourceRemote},
		{ID: "c", Source: checkin.SourceLocal},
	}
	got := checkin.FilterBySource(records, checkin.SourceLocal)
	if len(got) != 2 || got[0].ID != "a" || got[1].ID != "c" {
		t.Fatalf("unexpected filtered records %+v", got)
	}
}
