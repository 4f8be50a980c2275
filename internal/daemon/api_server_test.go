package daemon

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"checkpilot/internal/api"
	"checkpilot/internal/checkin"
	"checkpilot/internal/logging"
	"checkpilot/internal/metrics"
	"checkpilot/internal/remote"
	"checkpilot/internal/scheduler"
	"checkpilot/internal/testsupport"
)

type refusingBackend struct{}

func (refusingBackend) Name() string                                { return "refusing" }
func (refusingBackend) Source() checkin.Source                      { return checkin.SourceLocal }
func (refusingBackend) Launch(context.Context, checkin.Record) error { return errors.New("no capacity") }
func (refusingBackend) Stop(string) bool                            { return false }

// newTestDaemon wires the remote executor against a NAS stub that accepts
// every delegation, so records settle at scheduled/local without a worker.
func newTestDaemon(t *testing.T, token string, backends ...scheduler.Backend) *Daemon {
	t.Helper()
	cfg := testsupport.NewConfig(t)
	cfg.API.Token = token
	store := checkin.NewStore()

	if len(backends) == 0 {
		nas := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
			w.WriteHeader(http.StatusOK)
		}))
		t.Cleanup(nas.Close)
		exec, err := remote.New(store, remote.WithURL(nas.URL), remote.WithHTTPClient(nas.Client()))
		if err != nil {
			t.Fatalf("remote.New: %v", err)
		}
		backends = []scheduler.Backend{exec}
	}

	recorder := metrics.New()
	orch, err := scheduler.New(store, backends, scheduler.WithListener(recorder))
	if err != nil {
		t.Fatalf("scheduler.New: %v", err)
	}
	recorder.TrackActive(orch.ActiveBySource)
	d, err := New(cfg, orch, logging.NewNop(), WithMetrics(recorder))
	if err != nil {
		t.Fatalf("daemon.New: %v", err)
	}
	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = d.Close(ctx)
	})
	return d
}

func serve(t *testing.T, d *Daemon, method, target, body string, header ...string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(method, target, strings.NewReader(body))
	for i := 0; i+1 < len(header); i += 2 {
		req.Header.Set(header[i], header[i+1])
	}
	w := httptest.NewRecorder()
	d.api.handler.ServeHTTP(w, req)
	return w
}

func decodeBody[T any](t *testing.T, w *httptest.ResponseRecorder) T {
	t.Helper()
	var out T
	if err := json.Unmarshal(w.Body.Bytes(), &out); err != nil {
		t.Fatalf("failed to decode response %q: %v", w.Body.String(), err)
	}
	return out
}

func scheduleBody(code string) string {
	return `{"confirmationNumber":"` + code + `","firstName":"Jo","lastName":"Doe"}`
}

func TestAPIScheduleGetAndList(t *testing.T) {
	d := newTestDaemon(t, "")

	w := serve(t, d, http.MethodPost, "/api/checkins", scheduleBody("abc123"))
	if w.Code != http.StatusCreated {
		t.Fatalf("expected 201, got %d: %s", w.Code, w.Body.String())
	}
	created := decodeBody[api.ScheduleResponse](t, w).CheckIn
	if created.ConfirmationNumber != "ABC123" {
		t.Fatalf("expected normalized code, got %q", created.ConfirmationNumber)
	}
	if created.Status != "scheduled" || created.Source != "local" {
		t.Fatalf("expected scheduled/local, got %s/%s", created.Status, created.Source)
	}

	w = serve(t, d, http.MethodGet, "/api/checkins/"+created.ID, "")
	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", w.Code)
	}
	if got := decodeBody[api.CheckIn](t, w); got.ID != created.ID {
		t.Fatalf("unexpected record %+v", got)
	}

	w = serve(t, d, http.MethodGet, "/api/checkins?active=true", "")
	list := decodeBody[api.CheckInListResponse](t, w)
	if list.Total != 1 || len(list.CheckIns) != 1 {
		t.Fatalf("expected one active record, got %+v", list)
	}

	w = serve(t, d, http.MethodGet, "/api/checkins?source=local", "")
	if list := decodeBody[api.CheckInListResponse](t, w); list.Total != 1 {
		t.Fatalf("expected one local record, got %d", list.Total)
	}
	w = serve(t, d, http.MethodGet, "/api/checkins?source=remote", "")
	if list := decodeBody[api.CheckInListResponse](t, w); list.Total != 0 {
		t.Fatalf("expected no remote records, got %d", list.Total)
	}

	w = serve(t, d, http.MethodGet, "/api/checkins?status=completed", "")
	if list := decodeBody[api.CheckInListResponse](t, w); list.Total != 0 {
		t.Fatalf("expected no completed records, got %d", list.Total)
	}

	w = serve(t, d, http.MethodGet, "/api/checkins/"+created.ID+"/logs", "")
	if w.Code != http.StatusOK {
		t.Fatalf("expected 200 for logs, got %d", w.Code)
	}
	if logs := decodeBody[api.LogsResponse](t, w); logs.ID != created.ID || logs.Entries == nil {
		t.Fatalf("unexpected logs %+v", logs)
	}
}

func TestAPIScheduleRejections(t *testing.T) {
	d := newTestDaemon(t, "")

	if w := serve(t, d, http.MethodPost, "/api/checkins", scheduleBody("AB")); w.Code != http.StatusBadRequest {
		t.Fatalf("expected 400 for short code, got %d", w.Code)
	}
	if w := serve(t, d, http.MethodPost, "/api/checkins", `{"confirmationNumber":`); w.Code != http.StatusBadRequest {
		t.Fatalf("expected 400 for malformed json, got %d", w.Code)
	}
	if w := serve(t, d, http.MethodPost, "/api/checkins", scheduleBody("ABC123")); w.Code != http.StatusCreated {
		t.Fatalf("expected 201, got %d", w.Code)
	}
	w := serve(t, d, http.MethodPost, "/api/checkins", scheduleBody("abc123"))
	if w.Code != http.StatusConflict {
		t.Fatalf("expected 409 for duplicate, got %d", w.Code)
	}
	if msg := decodeBody[api.ErrorResponse](t, w).Error; !strings.Contains(msg, "ABC123") {
		t.Fatalf("expected code in duplicate error, got %q", msg)
	}
	if w := serve(t, d, http.MethodGet, "/api/checkins?status=bogus", ""); w.Code != http.StatusBadRequest {
		t.Fatalf("expected 400 for unknown status, got %d", w.Code)
	}
	if w := serve(t, d, http.MethodGet, "/api/checkins?source=cloud", ""); w.Code != http.StatusBadRequest {
		t.Fatalf("expected 400 for unknown source, got %d", w.Code)
	}
}

func TestAPIScheduleAllBackendsRefuse(t *testing.T) {
	d := newTestDaemon(t, "", refusingBackend{})

	w := serve(t, d, http.MethodPost, "/api/checkins", scheduleBody("ABC123"))
	if w.Code != http.StatusBadGateway {
		t.Fatalf("expected 502, got %d: %s", w.Code, w.Body.String())
	}
	list := decodeBody[api.CheckInListResponse](t, serve(t, d, http.MethodGet, "/api/checkins", ""))
	if list.Total != 1 || list.CheckIns[0].Status != "failed" {
		t.Fatalf("expected one failed record, got %+v", list)
	}
}

func TestAPIUnknownIDReturns404(t *testing.T) {
	d := newTestDaemon(t, "")

	for _, tc := range []struct{ method, target string }{
		{http.MethodGet, "/api/checkins/missing"},
		{http.MethodDelete, "/api/checkins/missing"},
		{http.MethodGet, "/api/checkins/missing/logs"},
	} {
		if w := serve(t, d, tc.method, tc.target, ""); w.Code != http.StatusNotFound {
			t.Fatalf("%s %s: expected 404, got %d", tc.method, tc.target, w.Code)
		}
	}
}

func TestAPICancel(t *testing.T) {
	d := newTestDaemon(t, "")
	created := decodeBody[api.ScheduleResponse](t, serve(t, d, http.MethodPost, "/api/checkins", scheduleBody("ABC123"))).CheckIn

	w := serve(t, d, http.MethodDelete, "/api/checkins/"+created.ID, "")
	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", w.Code)
	}
	resp := decodeBody[api.CancelResponse](t, w)
	if !resp.Cancelled || resp.CheckIn.Status != "cancelled" {
		t.Fatalf("expected live cancel, got %+v", resp)
	}

	resp = decodeBody[api.CancelResponse](t, serve(t, d, http.MethodDelete, "/api/checkins/"+created.ID, ""))
	if resp.Cancelled {
		t.Fatal("second cancel should report nothing to stop")
	}
	if resp.CheckIn.Status != "cancelled" {
		t.Fatalf("cancelled record changed: %s", resp.CheckIn.Status)
	}
}

func TestAPICancelLogsCorrelationIDs(t *testing.T) {
	d := newTestDaemon(t, "")
	var buf bytes.Buffer
	d.api.logger = slog.New(slog.NewJSONHandler(&buf, nil))
	created := decodeBody[api.ScheduleResponse](t, serve(t, d, http.MethodPost, "/api/checkins", scheduleBody("ABC123"))).CheckIn

	w := serve(t, d, http.MethodDelete, "/api/checkins/"+created.ID, "", "X-Request-ID", "req-42")
	if got := w.Header().Get("X-Request-ID"); got != "req-42" {
		t.Fatalf("expected request id echoed, got %q", got)
	}
	var entry map[string]any
	if err := json.Unmarshal(bytes.TrimSpace(buf.Bytes()), &entry); err != nil {
		t.Fatalf("decode log entry %q: %v", buf.String(), err)
	}
	if entry[logging.FieldCheckinID] != created.ID || entry[logging.FieldCorrelationID] != "req-42" {
		t.Fatalf("missing correlation fields: %#v", entry)
	}

	if got := serve(t, d, http.MethodGet, "/api/health", "").Header().Get("X-Request-ID"); got == "" {
		t.Fatal("expected generated request id")
	}
}

func TestAPIReconcileCompletesDelegatedRecord(t *testing.T) {
	d := newTestDaemon(t, "")
	created := decodeBody[api.ScheduleResponse](t, serve(t, d, http.MethodPost, "/api/checkins", scheduleBody("ABC123"))).CheckIn

	w := serve(t, d, http.MethodPost, "/api/checkins/"+created.ID+"/reconcile", `{"status":"completed","boardingPosition":"B12"}`)
	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", w.Code, w.Body.String())
	}
	got := decodeBody[api.CheckIn](t, w)
	if got.Status != "completed" || got.BoardingPosition != "B12" || got.Active {
		t.Fatalf("unexpected reconciled record %+v", got)
	}

	w = serve(t, d, http.MethodPost, "/api/checkins/"+created.ID+"/reconcile", `{"status":"failed"}`)
	if w.Code != http.StatusConflict {
		t.Fatalf("expected 409 for finished record, got %d", w.Code)
	}
	if w := serve(t, d, http.MethodPost, "/api/checkins/"+created.ID+"/reconcile", `{"status":"pending"}`); w.Code != http.StatusBadRequest {
		t.Fatalf("expected 400 for pending status, got %d", w.Code)
	}
}

func TestAPITokenGuardsRoutesButNotHealth(t *testing.T) {
	d := newTestDaemon(t, "s3cret")

	if w := serve(t, d, http.MethodGet, "/api/health", ""); w.Code != http.StatusOK {
		t.Fatalf("health should be open, got %d", w.Code)
	}
	if w := serve(t, d, http.MethodGet, "/api/status", ""); w.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401 without token, got %d", w.Code)
	}
	if w := serve(t, d, http.MethodGet, "/api/status", "", "Authorization", "Bearer wrong"); w.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401 with wrong token, got %d", w.Code)
	}
	w := serve(t, d, http.MethodGet, "/api/status", "", "Authorization", "Bearer s3cret")
	if w.Code != http.StatusOK {
		t.Fatalf("expected 200 with token, got %d", w.Code)
	}
	status := decodeBody[api.DaemonStatus](t, w)
	if len(status.Backends) != 1 || status.Backends[0] != remote.Name {
		t.Fatalf("unexpected backends %v", status.Backends)
	}
	if _, ok := status.ActiveBySource["remote"]; !ok {
		t.Fatalf("expected per-source counts, got %v", status.ActiveBySource)
	}
}

func TestAPIMethodNotAllowed(t *testing.T) {
	d := newTestDaemon(t, "")
	if w := serve(t, d, http.MethodPut, "/api/checkins", ""); w.Code != http.StatusMethodNotAllowed {
		t.Fatalf("expected 405, got %d", w.Code)
	}
}

func TestAPIMetricsExposition(t *testing.T) {
	d := newTestDaemon(t, "")
	serve(t, d, http.MethodPost, "/api/checkins", scheduleBody("ABC123"))

	w := serve(t, d, http.MethodGet, "/metrics", "")
	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", w.Code)
	}
	body := w.Body.String()
	for _, want := range []string{"checkpilot_checkins_scheduled_total 1", "checkpilot_checkins_active"} {
		if !strings.Contains(body, want) {
			t.Fatalf("metrics output missing %q", want)
		}
	}
}

func TestStatusForMapsSentinels(t *testing.T) {
	cases := map[error]int{
		checkin.ErrValidation:  http.StatusBadRequest,
		checkin.ErrNotFound:    http.StatusNotFound,
		checkin.ErrDuplicate:   http.StatusConflict,
		checkin.ErrTerminal:    http.StatusConflict,
		checkin.ErrLaunch:      http.StatusBadGateway,
		errors.New("surprise"): http.StatusInternalServerError,
	}
	for err, want := range cases {
		if got := statusFor(err); got != want {
			t.Fatalf("statusFor(%v) = %d, want %d", err, got, want)
		}
	}
}
