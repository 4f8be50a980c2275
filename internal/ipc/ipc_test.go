package ipc_test

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"checkpilot/internal/checkin"
	"checkpilot/internal/daemon"
	"checkpilot/internal/ipc"
	"checkpilot/internal/logging"
	"checkpilot/internal/remote"
	"checkpilot/internal/scheduler"
	"checkpilot/internal/testsupport"
)

func startServer(t *testing.T) (*ipc.Client, *daemon.Daemon) {
	t.Helper()
	cfg := testsupport.NewConfig(t)
	logger := logging.NewNop()

	nas := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusAccepted)
	}))
	t.Cleanup(nas.Close)

	store := checkin.NewStore()
	exec, err := remote.New(store, remote.WithURL(nas.URL), remote.WithHTTPClient(nas.Client()))
	if err != nil {
		t.Fatalf("remote.New: %v", err)
	}
	orch, err := scheduler.New(store, []scheduler.Backend{exec})
	if err != nil {
		t.Fatalf("scheduler.New: %v", err)
	}
	d, err := daemon.New(cfg, orch, logger)
	if err != nil {
		t.Fatalf("daemon.New: %v", err)
	}
	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = d.Close(ctx)
	})

	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)
	if err := d.Start(ctx); err != nil {
		t.Fatalf("daemon Start: %v", err)
	}

	srv, err := ipc.NewServer(ctx, cfg.Paths.SocketPath, d, logger)
	if err != nil {
		if strings.Contains(err.Error(), "operation not permitted") {
			t.Skipf("skipping IPC server test: %v", err)
		}
		t.Fatalf("ipc.NewServer: %v", err)
	}
	srv.Serve()
	t.Cleanup(srv.Close)

	client, err := ipc.Dial(cfg.Paths.SocketPath)
	if err != nil {
		t.Fatalf("ipc.Dial: %v", err)
	}
	t.Cleanup(func() {
		client.Close()
	})
	return client, d
}

func TestIPCServerClient(t *testing.T) {
	client, _ := startServer(t)

	status, err := client.Status()
	if err != nil {
		t.Fatalf("Status RPC failed: %v", err)
	}
	if !status.Running {
		t.Fatal("expected daemon to be running")
	}
	if len(status.Backends) != 1 || status.Backends[0] != remote.Name {
		t.Fatalf("unexpected backends %v", status.Backends)
	}

	scheduled, err := client.Schedule("abc123", "Jo", "Doe")
	if err != nil {
		t.Fatalf("Schedule RPC failed: %v", err)
	}
	id := scheduled.CheckIn.ID
	if scheduled.CheckIn.ConfirmationNumber != "ABC123" || scheduled.CheckIn.Status != "scheduled" {
		t.Fatalf("unexpected check-in %+v", scheduled.CheckIn)
	}

	got, err := client.Get(id)
	if err != nil {
		t.Fatalf("Get RPC failed: %v", err)
	}
	if got.CheckIn.ID != id {
		t.Fatalf("unexpected record %+v", got.CheckIn)
	}

	list, err := client.List(ipc.ListRequest{Active: true})
	if err != nil {
		t.Fatalf("List RPC failed: %v", err)
	}
	if len(list.CheckIns) != 1 {
		t.Fatalf("expected 1 active record, got %d", len(list.CheckIns))
	}
	failed, err := client.List(ipc.ListRequest{Statuses: []string{"failed"}})
	if err != nil {
		t.Fatalf("List failed filter: %v", err)
	}
	if len(failed.CheckIns) != 0 {
		t.Fatalf("expected no failed records, got %d", len(failed.CheckIns))
	}
	local, err := client.List(ipc.ListRequest{Source: "local"})
	if err != nil || len(local.CheckIns) != 1 {
		t.Fatalf("expected the NAS record under local, got %v %v", local, err)
	}
	deferred, err := client.List(ipc.ListRequest{Source: "remote"})
	if err != nil || len(deferred.CheckIns) != 0 {
		t.Fatalf("expected no remote records, got %v %v", deferred, err)
	}

	logs, err := client.Logs(id)
	if err != nil {
		t.Fatalf("Logs RPC failed: %v", err)
	}
	if logs.ID != id || logs.Status != "scheduled" {
		t.Fatalf("unexpected logs %+v", logs)
	}

	reconciled, err := client.Reconcile(ipc.ReconcileRequest{ID: id, Status: "completed", BoardingPosition: "A7"})
	if err != nil {
		t.Fatalf("Reconcile RPC failed: %v", err)
	}
	if reconciled.CheckIn.Status != "completed" || reconciled.CheckIn.BoardingPosition != "A7" {
		t.Fatalf("unexpected reconciled record %+v", reconciled.CheckIn)
	}

	cancelled, err := client.Cancel(id)
	if err != nil {
		t.Fatalf("Cancel RPC failed: %v", err)
	}
	if cancelled.Cancelled || cancelled.CheckIn.Status != "completed" {
		t.Fatalf("cancel must not touch a finished record, got %+v", cancelled)
	}

	notify, err := client.TestNotification()
	if err != nil {
		t.Fatalf("TestNotification RPC failed: %v", err)
	}
	if notify.Sent {
		t.Fatal("expected no notification without a topic")
	}
}

func TestIPCErrorsKeepSentinels(t *testing.T) {
	client, _ := startServer(t)

	if _, err := client.Get("missing"); !errors.Is(err, checkin.ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
	if _, err := client.Schedule("AB", "Jo", "Doe"); !errors.Is(err, checkin.ErrValidation) {
		t.Fatalf("expected ErrValidation, got %v", err)
	}
	if _, err := client.Schedule("ABC123", "Jo", "Doe"); err != nil {
		t.Fatalf("Schedule failed: %v", err)
	}
	_, err := client.Schedule("ABC123", "Jo", "Doe")
	if !errors.Is(err, checkin.ErrDuplicate) {
		t.Fatalf("expected ErrDuplicate, got %v", err)
	}
	if !strings.Contains(err.Error(), "ABC123") {
		t.Fatalf("expected detail to survive, got %q", err)
	}
	if _, err := client.List(ipc.ListRequest{Statuses: []string{"bogus"}}); !errors.Is(err, checkin.ErrValidation) {
		t.Fatalf("expected ErrValidation for unknown status, got %v", err)
	}
	if _, err := client.List(ipc.ListRequest{Source: "cloud"}); !errors.Is(err, checkin.ErrValidation) {
		t.Fatalf("expected ErrValidation for unknown source, got %v", err)
	}
}
