package scheduler_test

import (
	"context"
	"net/http"
	"net/http/httptest"
	"os"
	"strings"
	"testing"
	"time"

	"checkpilot/internal/checkin"
	"checkpilot/internal/remote"
	"checkpilot/internal/scheduler"
	"checkpilot/internal/worker"
)

func requireShell(t *testing.T) {
	t.Helper()
	if _, err := os.Stat("/bin/sh"); err != nil {
		t.Skip("/bin/sh not available")
	}
}

func waitForRecord(t *testing.T, o *scheduler.Orchestrator, id, what string, cond func(checkin.Record) bool) checkin.Record {
	t.Helper()
	deadline := time.Now().Add(5 * time.Second)
	for time.Now().Before(deadline) {
		rec, err := o.Get(id)
		if err != nil {
			t.Fatalf("Get failed: %v", err)
		}
		if cond(rec) {
			return rec
		}
		time.Sleep(10 * time.Millisecond)
	}
	rec, _ := o.Get(id)
	t.Fatalf("timed out waiting for %s; record is %s %q", what, rec.Status, rec.Error)
	return rec
}

// newStack wires a worker running script through /bin/sh with the remote
// executor as fallback, the way the daemon does for primary "process".
func newStack(t *testing.T, script string, workerOpts ...worker.Option) (*scheduler.Orchestrator, *worker.Executor, *remote.Executor) {
	t.Helper()
	store := checkin.NewStore()
	opts := append([]worker.Option{
		worker.WithCommand("/bin/sh", "-c", script, "worker"),
		worker.WithStopGrace(500 * time.Millisecond),
	}, workerOpts...)
	local := worker.New(store, opts...)
	fallback, err := remote.New(store, remote.WithDeferredDelay(20*time.Millisecond))
	if err != nil {
		t.Fatalf("remote.New failed: %v", err)
	}
	return newOrchestrator(t, store, []scheduler.Backend{local, fallback}), local, fallback
}

func TestScenarioScheduleReachesScheduled(t *testing.T) {
	requireShell(t)
	o, _, _ := newStack(t, `echo "Successfully scheduled the following flights to check in for $2 $3:"; sleep 30`)

	rec, err := o.Schedule(context.Background(), request("ABC123"))
	if err != nil {
		t.Fatalf("Schedule failed: %v", err)
	}
	if rec.Status != checkin.StatusPending && rec.Status != checkin.StatusScheduled {
		t.Fatalf("unexpected status %s", rec.Status)
	}
	waitForRecord(t, o, rec.ID, "scheduled", func(r checkin.Record) bool {
		return r.Status == checkin.StatusScheduled && r.Source == checkin.SourceLocal
	})
}

func TestScenarioCheckInCompletesWithBoardingPosition(t *testing.T) {
	requireShell(t)
	o, local, _ := newStack(t, `echo "Checking in..."; echo "Successfully checked in, Position: B12"`)

	rec, err := o.Schedule(context.Background(), request("ABC123"))
	if err != nil {
		t.Fatalf("Schedule failed: %v", err)
	}
	got := waitForRecord(t, o, rec.ID, "completed", func(r checkin.Record) bool {
		return r.Status == checkin.StatusCompleted
	})
	if got.BoardingPosition != "B12" {
		t.Fatalf("expected B12, got %q", got.BoardingPosition)
	}
	if got.StartedAt == nil || got.CompletedAt == nil {
		t.Fatal("expected start and completion stamps")
	}
	deadline := time.Now().Add(5 * time.Second)
	for local.Active() != 0 && time.Now().Before(deadline) {
		time.Sleep(10 * time.Millisecond)
	}
	if local.Active() != 0 {
		t.Fatalf("expected handle released after exit, got %d", local.Active())
	}
}

func TestScenarioNonZeroExitFails(t *testing.T) {
	requireShell(t)
	o, _, _ := newStack(t, `exit 1`)

	rec, err := o.Schedule(context.Background(), request("ABC123"))
	if err != nil {
		t.Fatalf("Schedule failed: %v", err)
	}
	got := waitForRecord(t, o, rec.ID, "failed", func(r checkin.Record) bool {
		return r.Status == checkin.StatusFailed
	})
	if !strings.Contains(got.Error, "1") {
		t.Fatalf("expected exit code in error, got %q", got.Error)
	}
}

func TestScenarioCancelDuringCheckIn(t *testing.T) {
	requireShell(t)
	o, local, _ := newStack(t, `echo "Checking in..."; sleep 30; echo "Successfully checked in, Position: A1"`)

	rec, err := o.Schedule(context.Background(), request("ABC123"))
	if err != nil {
		t.Fatalf("Schedule failed: %v", err)
	}
	waitForRecord(t, o, rec.ID, "checking-in", func(r checkin.Record) bool {
		return r.Status == checkin.StatusCheckingIn
	})

	cancelled, err := o.Cancel(rec.ID)
	if err != nil {
		t.Fatalf("Cancel failed: %v", err)
	}
	if !cancelled {
		t.Fatal("expected a live handle")
	}
	deadline := time.Now().Add(5 * time.Second)
	for local.Active() != 0 && time.Now().Before(deadline) {
		time.Sleep(10 * time.Millisecond)
	}
	if local.Active() != 0 {
		t.Fatalf("handle not released, %d live", local.Active())
	}

	time.Sleep(50 * time.Millisecond)
	got, _ := o.Get(rec.ID)
	if got.Status != checkin.StatusCancelled || got.Error != checkin.UserCancelReason {
		t.Fatalf("late events altered cancelled record: %s %q", got.Status, got.Error)
	}
	if got.BoardingPosition != "" {
		t.Fatalf("unexpected boarding position %q", got.BoardingPosition)
	}
}

func TestScenarioLocalLaunchFailureFallsBackToRemote(t *testing.T) {
	store := checkin.NewStore()
	local := worker.New(store, worker.WithCommand("/nonexistent/checkpilot-worker"))
	fallback, err := remote.New(store, remote.WithDeferredDelay(20*time.Millisecond))
	if err != nil {
		t.Fatalf("remote.New failed: %v", err)
	}
	o := newOrchestrator(t, store, []scheduler.Backend{local, fallback})

	rec, err := o.Schedule(context.Background(), request("ABC123"))
	if err != nil {
		t.Fatalf("fallback should be invisible, got %v", err)
	}
	if rec.Source != checkin.SourceRemote || rec.Status != checkin.StatusScheduled {
		t.Fatalf("expected scheduled/remote, got %s/%s", rec.Status, rec.Source)
	}
	got := waitForRecord(t, o, rec.ID, "deferred scheduled time", func(r checkin.Record) bool {
		return r.ScheduledTime != nil
	})
	if got.Status != checkin.StatusScheduled {
		t.Fatalf("deferred path must stay scheduled, got %s", got.Status)
	}

	cancelled, err := o.Cancel(rec.ID)
	if err != nil || !cancelled {
		t.Fatalf("cancel of deferred record: %v, %v", cancelled, err)
	}
	if fallback.Active() != 0 {
		t.Fatalf("remote handle not released, %d live", fallback.Active())
	}
}

func TestScenarioLocalLaunchFailureDelegatedToNASKeepsRemoteSource(t *testing.T) {
	nas := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))
	defer nas.Close()

	store := checkin.NewStore()
	local := worker.New(store, worker.WithCommand("/nonexistent/checkpilot-worker"))
	fallback, err := remote.New(store,
		remote.WithURL(nas.URL),
		remote.WithHTTPClient(nas.Client()),
		remote.AsFallback(),
	)
	if err != nil {
		t.Fatalf("remote.New failed: %v", err)
	}
	o := newOrchestrator(t, store, []scheduler.Backend{local, fallback})

	rec, err := o.Schedule(context.Background(), request("ABC123"))
	if err != nil {
		t.Fatalf("fallback should be invisible, got %v", err)
	}
	if rec.Status != checkin.StatusScheduled || rec.Source != checkin.SourceRemote {
		t.Fatalf("expected scheduled/remote after NAS took the fallback, got %s/%s", rec.Status, rec.Source)
	}
	if len(rec.Log) == 0 || !strings.Contains(rec.Log[len(rec.Log)-1].Message, "Scheduled on NAS") {
		t.Fatalf("expected NAS log entry, got %+v", rec.Log)
	}
	if fallback.Pending() != 0 {
		t.Fatalf("NAS delegation should not hold a deferred job, got %d", fallback.Pending())
	}
}
