package daemon

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"strconv"
	"strings"
	"sync"
	"time"

	"checkpilot/internal/api"
	"checkpilot/internal/checkin"
	"checkpilot/internal/config"
	"checkpilot/internal/logging"
	"checkpilot/internal/scheduler"

	"github.com/google/uuid"
)

const (
	maxRequestBody  = 64 << 10
	requestIDHeader = "X-Request-ID"
)

type apiServer struct {
	bind    string
	logger  *slog.Logger
	daemon  *Daemon
	handler http.Handler

	mu       sync.Mutex
	listener net.Listener
	server   *http.Server
}

func newAPIServer(cfg *config.Config, d *Daemon, logger *slog.Logger) (*apiServer, error) {
	if cfg == nil || d == nil {
		return nil, nil
	}
	bind := strings.TrimSpace(cfg.API.Bind)
	if bind == "" {
		return nil, nil
	}

	srv := &apiServer{
		bind:   bind,
		logger: logger,
		daemon: d,
	}
	srv.handler = srv.routes(cfg.API.Token)
	return srv, nil
}

func (s *apiServer) routes(token string) http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("GET /api/health", s.handleHealth)
	mux.HandleFunc("GET /api/status", authMiddleware(token, s.handleStatus))
	mux.HandleFunc("GET /api/checkins", authMiddleware(token, s.handleList))
	mux.HandleFunc("POST /api/checkins", authMiddleware(token, s.handleSchedule))
	mux.HandleFunc("GET /api/checkins/{id}", authMiddleware(token, s.handleGet))
	mux.HandleFunc("DELETE /api/checkins/{id}", authMiddleware(token, s.handleCancel))
	mux.HandleFunc("GET /api/checkins/{id}/logs", authMiddleware(token, s.handleLogs))
	mux.HandleFunc("POST /api/checkins/{id}/reconcile", authMiddleware(token, s.handleReconcile))
	if s.daemon.metrics != nil {
		mux.Handle("GET /metrics", s.daemon.metrics.Handler())
	}
	return withRequestID(mux)
}

// withRequestID tags every request with a correlation identifier, reusing
// the caller's header when present and echoing it back.
func withRequestID(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		id := strings.TrimSpace(r.Header.Get(requestIDHeader))
		if id == "" {
			id = uuid.NewString()
		}
		w.Header().Set(requestIDHeader, id)
		next.ServeHTTP(w, r.WithContext(logging.WithRequestID(r.Context(), id)))
	})
}

func (s *apiServer) start(ctx context.Context) error {
	if s == nil {
		return nil
	}
	listener, err := net.Listen("tcp", s.bind)
	if err != nil {
		return fmt.Errorf("api listen: %w", err)
	}
	server := &http.Server{
		Handler:           s.handler,
		ReadHeaderTimeout: 5 * time.Second,
		ReadTimeout:       15 * time.Second,
		WriteTimeout:      30 * time.Second,
		IdleTimeout:       60 * time.Second,
	}
	s.mu.Lock()
	s.listener = listener
	s.server = server
	s.mu.Unlock()

	go func() {
		if err := server.Serve(listener); err != nil && !errors.Is(err, http.ErrServerClosed) {
			s.log().Error("api server error", logging.Error(err))
		}
	}()

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = server.Shutdown(shutdownCtx)
	}()

	s.log().Info("api server listening", logging.String("address", listener.Addr().String()))
	return nil
}

func (s *apiServer) stop() {
	if s == nil {
		return
	}
	s.mu.Lock()
	server, listener := s.server, s.listener
	s.server, s.listener = nil, nil
	s.mu.Unlock()
	if server != nil {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = server.Shutdown(shutdownCtx)
	}
	if listener != nil {
		_ = listener.Close()
	}
}

// addr returns the bound address, useful when bind used port 0.
func (s *apiServer) addr() string {
	if s == nil {
		return ""
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.listener == nil {
		return ""
	}
	return s.listener.Addr().String()
}

func (s *apiServer) handleHealth(w http.ResponseWriter, _ *http.Request) {
	s.writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *apiServer) handleStatus(w http.ResponseWriter, _ *http.Request) {
	s.writeJSON(w, http.StatusOK, s.daemon.APIStatus())
}

func (s *apiServer) handleList(w http.ResponseWriter, r *http.Request) {
	query := r.URL.Query()
	var statuses []checkin.Status
	for _, value := range query["status"] {
		for _, part := range strings.Split(value, ",") {
			if strings.TrimSpace(part) == "" {
				continue
			}
			status, ok := checkin.ParseStatus(part)
			if !ok {
				s.writeError(w, http.StatusBadRequest, fmt.Sprintf("unknown status %q", strings.TrimSpace(part)))
				return
			}
			statuses = append(statuses, status)
		}
	}
	activeOnly := false
	if raw := strings.TrimSpace(query.Get("active")); raw != "" {
		parsed, err := strconv.ParseBool(raw)
		if err != nil {
			s.writeError(w, http.StatusBadRequest, "active must be true or false")
			return
		}
		activeOnly = parsed
	}
	var source checkin.Source
	if raw := strings.TrimSpace(query.Get("source")); raw != "" {
		parsed, ok := checkin.ParseSource(raw)
		if !ok {
			s.writeError(w, http.StatusBadRequest, fmt.Sprintf("unknown source %q", raw))
			return
		}
		source = parsed
	}

	orch := s.daemon.orchestrator
	var records []checkin.Record
	switch {
	case len(statuses) > 0:
		records = orch.ListByStatus(statuses...)
	case activeOnly:
		records = orch.ListActive()
	default:
		records = orch.List()
	}
	if activeOnly && len(statuses) > 0 {
		kept := records[:0]
		for _, rec := range records {
			if rec.IsActive() {
				kept = append(kept, rec)
			}
		}
		records = kept
	}
	if source != "" {
		records = checkin.FilterBySource(records, source)
	}
	items := api.FromRecords(records)
	s.writeJSON(w, http.StatusOK, api.CheckInListResponse{CheckIns: items, Total: len(items)})
}

func (s *apiServer) handleSchedule(w http.ResponseWriter, r *http.Request) {
	var req scheduler.Request
	if !s.decode(w, r, &req) {
		return
	}
	// The launch outlives the HTTP exchange; a client hanging up must not
	// abort a delegation already in flight.
	rec, err := s.daemon.orchestrator.Schedule(context.WithoutCancel(r.Context()), req)
	if err != nil {
		s.writeFailure(w, r, err)
		return
	}
	s.writeJSON(w, http.StatusCreated, api.ScheduleResponse{CheckIn: api.FromRecord(rec)})
}

func (s *apiServer) handleGet(w http.ResponseWriter, r *http.Request) {
	rec, err := s.daemon.orchestrator.Get(r.PathValue("id"))
	if err != nil {
		s.writeFailure(w, r, err)
		return
	}
	s.writeJSON(w, http.StatusOK, api.FromRecord(rec))
}

func (s *apiServer) handleCancel(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	cancelled, err := s.daemon.orchestrator.Cancel(id)
	if err != nil {
		s.writeFailure(w, r, err)
		return
	}
	rec, err := s.daemon.orchestrator.Get(id)
	if err != nil {
		s.writeFailure(w, r, err)
		return
	}
	if cancelled {
		s.requestLog(r).Info("check-in cancelled via api")
	}
	s.writeJSON(w, http.StatusOK, api.CancelResponse{Cancelled: cancelled, CheckIn: api.FromRecord(rec)})
}

func (s *apiServer) handleLogs(w http.ResponseWriter, r *http.Request) {
	view, err := s.daemon.orchestrator.Logs(r.PathValue("id"))
	if err != nil {
		s.writeFailure(w, r, err)
		return
	}
	s.writeJSON(w, http.StatusOK, api.FromLogView(view))
}

func (s *apiServer) handleReconcile(w http.ResponseWriter, r *http.Request) {
	var req scheduler.ReconcileRequest
	if !s.decode(w, r, &req) {
		return
	}
	rec, err := s.daemon.orchestrator.Reconcile(r.PathValue("id"), req)
	if err != nil {
		s.writeFailure(w, r, err)
		return
	}
	s.writeJSON(w, http.StatusOK, api.FromRecord(rec))
}

func (s *apiServer) decode(w http.ResponseWriter, r *http.Request, dst any) bool {
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxRequestBody))
	dec.DisallowUnknownFields()
	if err := dec.Decode(dst); err != nil {
		s.writeError(w, http.StatusBadRequest, "invalid request body: "+err.Error())
		return false
	}
	return true
}

// statusFor maps orchestrator errors onto HTTP status codes.
func statusFor(err error) int {
	switch {
	case errors.Is(err, checkin.ErrValidation):
		return http.StatusBadRequest
	case errors.Is(err, checkin.ErrNotFound):
		return http.StatusNotFound
	case errors.Is(err, checkin.ErrDuplicate), errors.Is(err, checkin.ErrTerminal), errors.Is(err, checkin.ErrTransition):
		return http.StatusConflict
	case errors.Is(err, checkin.ErrLaunch):
		return http.StatusBadGateway
	default:
		return http.StatusInternalServerError
	}
}

func (s *apiServer) writeFailure(w http.ResponseWriter, r *http.Request, err error) {
	status := statusFor(err)
	if status == http.StatusInternalServerError {
		s.requestLog(r).Error("api request failed", logging.Error(err))
	}
	s.writeError(w, status, err.Error())
}

func (s *apiServer) writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if payload == nil {
		return
	}
	if err := json.NewEncoder(w).Encode(payload); err != nil {
		s.log().Error("failed to encode response", logging.Error(err))
	}
}

func (s *apiServer) writeError(w http.ResponseWriter, status int, message string) {
	s.writeJSON(w, status, api.ErrorResponse{Error: message})
}

func (s *apiServer) log() *slog.Logger {
	if s.logger != nil {
		return s.logger.With(logging.String(logging.FieldComponent, "api-server"))
	}
	return logging.NewNop()
}

func (s *apiServer) requestLog(r *http.Request) *slog.Logger {
	ctx := logging.WithCheckinID(r.Context(), r.PathValue("id"))
	return logging.WithContext(ctx, s.log())
}
