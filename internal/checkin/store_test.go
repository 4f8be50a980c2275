package checkin_test

import (
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"checkpilot/internal/checkin"
)

func fixedClock(start time.Time) func() time.Time {
	var mu sync.Mutex
	current := start
	return func() time.Time {
		mu.Lock()
		defer mu.Unlock()
		current = current.Add(time.Second)
		return current
	}
}

func newDraft(code string) checkin.Draft {
	return checkin.Draft{ConfirmationCode: code, FirstName: "Jo", LastName: "Doe", Source: checkin.SourceLocal}
}

func TestCreateAssignsIdentityAndTimestamps(t *testing.T) {
	store := checkin.NewStore(checkin.WithClock(fixedClock(time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC))))

	rec, err := store.Create(newDraft("ABC123"))
	if err != nil {
		t.Fatalf("Create failed: %v", err)
	}
	if rec.ID == "" {
		t.Fatal("expected id to be assigned")
	}
	if rec.Status != checkin.StatusPending {
		t.Fatalf("expected pending, got %s", rec.Status)
	}
	if rec.CreatedAt.IsZero() || !rec.CreatedAt.Equal(rec.UpdatedAt) {
		t.Fatalf("unexpected timestamps: created=%v updated=%v", rec.CreatedAt, rec.UpdatedAt)
	}

	other, err := store.Create(newDraft("XYZ789"))
	if err != nil {
		t.Fatalf("Create failed: %v", err)
	}
	if other.ID == rec.ID {
		t.Fatal("expected unique ids")
	}
}

func TestGetUnknownReturnsNotFound(t *testing.T) {
	store := checkin.NewStore()
	if _, err := store.Get("missing"); !errors.Is(err, checkin.ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
	if _, err := store.Update("missing", checkin.Patch{}); !errors.Is(err, checkin.ErrNotFound) {
		t.Fatalf("expected ErrNotFound from update, got %v", err)
	}
}

func TestUpdateMergesFieldsAndRefreshesUpdatedAt(t *testing.T) {
	store := checkin.NewStore(checkin.WithClock(fixedClock(time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC))))
	rec, _ := store.Create(newDraft("ABC123"))

	updated, err := store.Update(rec.ID, checkin.Patch{
		Status:        checkin.Ptr(checkin.StatusScheduled),
		ScheduledText: checkin.Ptr("2026-01-03 08:00"),
	})
	if err != nil {
		t.Fatalf("Update failed: %v", err)
	}
	if updated.Status != checkin.StatusScheduled || updated.ScheduledText != "2026-01-03 08:00" {
		t.Fatalf("patch not applied: %#v", updated)
	}
	if !updated.UpdatedAt.After(rec.UpdatedAt) {
		t.Fatalf("expected updatedAt to advance: before=%v after=%v", rec.UpdatedAt, updated.UpdatedAt)
	}
	if !updated.CreatedAt.Equal(rec.CreatedAt) {
		t.Fatal("createdAt must not change")
	}
	if updated.FirstName != "Jo" {
		t.Fatalf("unpatched field lost: %q", updated.FirstName)
	}
}

func TestUpdateStampsStartedAndCompleted(t *testing.T) {
	store := checkin.NewStore()
	rec, _ := store.Create(newDraft("ABC123"))

	checking, err := store.Update(rec.ID, checkin.Patch{Status: checkin.Ptr(checkin.StatusCheckingIn)})
	if err != nil {
		t.Fatalf("Update failed: %v", err)
	}
	if checking.StartedAt == nil {
		t.Fatal("expected startedAt when entering checking-in")
	}
	if checking.CompletedAt != nil {
		t.Fatal("completedAt set too early")
	}

	done, err := store.Update(rec.ID, checkin.Patch{Status: checkin.Ptr(checkin.StatusCompleted)})
	if err != nil {
		t.Fatalf("Update failed: %v", err)
	}
	if done.CompletedAt == nil {
		t.Fatal("expected completedAt on terminal status")
	}
}

func TestTerminalRecordsRejectUpdates(t *testing.T) {
	for _, terminal := range []checkin.Status{checkin.StatusCompleted, checkin.StatusFailed, checkin.StatusCancelled} {
		t.Run(string(terminal), func(t *testing.T) {
			store := checkin.NewStore()
			rec, _ := store.Create(newDraft("ABC123"))
			if _, err := store.Update(rec.ID, checkin.Patch{Status: checkin.Ptr(terminal)}); err != nil {
				t.Fatalf("Update to %s failed: %v", terminal, err)
			}

			for _, next := range checkin.AllStatuses() {
				got, err := store.Update(rec.ID, checkin.Patch{
					Status:    checkin.Ptr(next),
					Error:     checkin.Ptr("late"),
					AppendLog: []checkin.LogEntry{{Message: "late line"}},
				})
				if !errors.Is(err, checkin.ErrTerminal) {
					t.Fatalf("expected ErrTerminal for %s -> %s, got %v", terminal, next, err)
				}
				if got.Status != terminal || got.Error != "" || len(got.Log) != 0 {
					t.Fatalf("terminal record mutated: %#v", got)
				}
			}
		})
	}
}

func TestUpdateRejectsRegression(t *testing.T) {
	store := checkin.NewStore()
	rec, _ := store.Create(newDraft("ABC123"))
	if _, err := store.Update(rec.ID, checkin.Patch{Status: checkin.Ptr(checkin.StatusCheckingIn)}); err != nil {
		t.Fatalf("Update failed: %v", err)
	}
	got, err := store.Update(rec.ID, checkin.Patch{
		Status:        checkin.Ptr(checkin.StatusScheduled),
		ScheduledText: checkin.Ptr("ignored"),
	})
	if !errors.Is(err, checkin.ErrTransition) {
		t.Fatalf("expected ErrTransition, got %v", err)
	}
	if got.Status != checkin.StatusCheckingIn || got.ScheduledText != "" {
		t.Fatalf("regressing patch applied: %#v", got)
	}
	if !checkin.IsRejected(err) {
		t.Fatal("expected IsRejected to classify transition errors")
	}
}

func TestListOrdersNewestFirstAndFiltersActive(t *testing.T) {
	store := checkin.NewStore(checkin.WithClock(fixedClock(time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC))))
	var ids []string
	for i := 0; i < 4; i++ {
		rec, err := store.Create(newDraft(fmt.Sprintf("CODE%02d", i)))
		if err != nil {
			t.Fatalf("Create failed: %v", err)
		}
		ids = append(ids, rec.ID)
	}
	if _, err := store.Update(ids[1], checkin.Patch{Status: checkin.Ptr(checkin.StatusFailed)}); err != nil {
		t.Fatalf("Update failed: %v", err)
	}

	all := store.List()
	if len(all) != 4 {
		t.Fatalf("expected 4 records, got %d", len(all))
	}
	for i, rec := range all {
		if rec.ID != ids[len(ids)-1-i] {
			t.Fatalf("position %d: got %s want %s", i, rec.ID, ids[len(ids)-1-i])
		}
	}

	active := store.ListActive()
	if len(active) != 3 {
		t.Fatalf("expected 3 active records, got %d", len(active))
	}
	for _, rec := range active {
		if rec.ID == ids[1] {
			t.Fatal("failed record listed as active")
		}
	}
	if store.CountActive() != 3 {
		t.Fatalf("CountActive = %d, want 3", store.CountActive())
	}
	if failed := store.ListByStatus(checkin.StatusFailed); len(failed) != 1 || failed[0].ID != ids[1] {
		t.Fatalf("unexpected ListByStatus result: %#v", failed)
	}
}

func TestFindActiveByCodeIgnoresTerminal(t *testing.T) {
	store := checkin.NewStore()
	rec, _ := store.Create(newDraft("ABC123"))
	if _, ok := store.FindActiveByCode("ABC123"); !ok {
		t.Fatal("expected active record for code")
	}
	if _, err := store.Update(rec.ID, checkin.Patch{Status: checkin.Ptr(checkin.StatusCancelled)}); err != nil {
		t.Fatalf("Update failed: %v", err)
	}
	if _, ok := store.FindActiveByCode("ABC123"); ok {
		t.Fatal("cancelled record must not count as active")
	}
}

func TestActiveBySource(t *testing.T) {
	store := checkin.NewStore()
	store.Create(newDraft("AAA111")) //nolint:errcheck
	remote := newDraft("BBB222")
	remote.Source = checkin.SourceRemote
	store.Create(remote) //nolint:errcheck

	counts := store.ActiveBySource()
	if counts[checkin.SourceLocal] != 1 || counts[checkin.SourceRemote] != 1 {
		t.Fatalf("unexpected counts: %v", counts)
	}
}

func TestProgressLogIsCapped(t *testing.T) {
	store := checkin.NewStore(checkin.WithMaxLogEntries(3))
	rec, _ := store.Create(newDraft("ABC123"))
	for i := 0; i < 5; i++ {
		if _, err := store.Update(rec.ID, checkin.Patch{AppendLog: []checkin.LogEntry{{Message: fmt.Sprintf("line %d", i)}}}); err != nil {
			t.Fatalf("Update failed: %v", err)
		}
	}
	got, _ := store.Get(rec.ID)
	if len(got.Log) != 3 {
		t.Fatalf("expected 3 log entries, got %d", len(got.Log))
	}
	if got.Log[0].Message != "line 2" || got.Log[2].Message != "line 4" {
		t.Fatalf("unexpected log window: %#v", got.Log)
	}
}

func TestReturnedRecordsAreCopies(t *testing.T) {
	store := checkin.NewStore()
	rec, _ := store.Create(newDraft("ABC123"))
	store.Update(rec.ID, checkin.Patch{AppendLog: []checkin.LogEntry{{Message: "first"}}}) //nolint:errcheck

	got, _ := store.Get(rec.ID)
	got.Log[0].Message = "mutated"
	got.Status = checkin.StatusFailed

	again, _ := store.Get(rec.ID)
	if again.Log[0].Message != "first" || again.Status != checkin.StatusPending {
		t.Fatalf("store state leaked through copy: %#v", again)
	}
}

func TestObserverSeesStatusAndSourceChanges(t *testing.T) {
	var (
		mu     sync.Mutex
		events []string
	)
	store := checkin.NewStore(checkin.WithObserver(func(before, after checkin.Record) {
		mu.Lock()
		defer mu.Unlock()
		events = append(events, fmt.Sprintf("%s/%s->%s/%s", before.Status, before.Source, after.Status, after.Source))
	}))
	rec, _ := store.Create(newDraft("ABC123"))
	store.Update(rec.ID, checkin.Patch{AppendLog: []checkin.LogEntry{{Message: "noise"}}}) //nolint:errcheck
	store.Update(rec.ID, checkin.Patch{Source: checkin.Ptr(checkin.SourceRemote)})         //nolint:errcheck
	store.Update(rec.ID, checkin.Patch{Status: checkin.Ptr(checkin.StatusScheduled)})      //nolint:errcheck

	want := []string{
		"/->pending/local",
		"pending/local->pending/remote",
		"pending/remote->scheduled/remote",
	}
	mu.Lock()
	defer mu.Unlock()
	if len(events) != len(want) {
		t.Fatalf("events = %v, want %v", events, want)
	}
	for i := range want {
		if events[i] != want[i] {
			t.Fatalf("event %d = %q, want %q", i, events[i], want[i])
		}
	}
}

func TestConcurrentUpdatesKeepFirstTerminal(t *testing.T) {
	store := checkin.NewStore()
	rec, _ := store.Create(newDraft("ABC123"))

	var wg sync.WaitGroup
	statuses := []checkin.Status{checkin.StatusCompleted, checkin.StatusFailed, checkin.StatusCancelled}
	for i := 0; i < 30; i++ {
		wg.Add(1)
		go func(st checkin.Status) {
			defer wg.Done()
			store.Update(rec.ID, checkin.Patch{Status: checkin.Ptr(st)}) //nolint:errcheck
		}(statuses[i%len(statuses)])
	}
	wg.Wait()

	got, _ := store.Get(rec.ID)
	if !got.IsTerminal() {
		t.Fatalf("expected terminal status, got %s", got.Status)
	}
	first := got.Status
	for _, st := range statuses {
		store.Update(rec.ID, checkin.Patch{Status: checkin.Ptr(st)}) //nolint:errcheck
	}
	again, _ := store.Get(rec.ID)
	if again.Status != first {
		t.Fatalf("terminal status changed from %s to %s", first, again.Status)
	}
}
