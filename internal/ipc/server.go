package ipc

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/rpc"
	"net/rpc/jsonrpc"
	"os"
	"strings"
	"sync"

	"checkpilot/internal/api"
	"checkpilot/internal/checkin"
	"checkpilot/internal/daemon"
	"checkpilot/internal/logging"
	"checkpilot/internal/scheduler"
)

const serviceName = "Checkpilot"

// Server exposes daemon control via JSON-RPC over a Unix domain socket.
type Server struct {
	path      string
	logger    *slog.Logger
	listener  net.Listener
	rpcServer *rpc.Server

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup

	mu    sync.Mutex
	conns map[net.Conn]struct{}
}

// NewServer configures the IPC server at the given socket path.
func NewServer(ctx context.Context, path string, d *daemon.Daemon, logger *slog.Logger) (*Server, error) {
	if d == nil {
		return nil, errors.New("ipc server requires daemon")
	}
	if logger == nil {
		logger = logging.NewNop()
	}

	if err := os.RemoveAll(path); err != nil {
		return nil, fmt.Errorf("remove existing socket: %w", err)
	}

	listener, err := net.Listen("unix", path)
	if err != nil {
		return nil, fmt.Errorf("listen on socket: %w", err)
	}
	if err := os.Chmod(path, 0o600); err != nil {
		listener.Close()
		return nil, fmt.Errorf("restrict socket permissions: %w", err)
	}

	rpcServer := rpc.NewServer()
	srv := &service{daemon: d, logger: logger, ctx: ctx}
	if err := rpcServer.RegisterName(serviceName, srv); err != nil {
		listener.Close()
		return nil, fmt.Errorf("register rpc service: %w", err)
	}

	serverCtx, cancel := context.WithCancel(ctx)
	return &Server{
		path:      path,
		logger:    logger,
		listener:  listener,
		rpcServer: rpcServer,
		ctx:       serverCtx,
		cancel:    cancel,
		conns:     make(map[net.Conn]struct{}),
	}, nil
}

// Serve starts accepting RPC connections until the context is canceled.
func (s *Server) Serve() {
	s.logger.Debug("IPC server listening", logging.String("socket", s.path))
	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		for {
			conn, err := s.listener.Accept()
			if err != nil {
				select {
				case <-s.ctx.Done():
					return
				default:
				}
				if errors.Is(err, net.ErrClosed) {
					return
				}
				logging.WarnWithContext(s.logger, "accept failed", "ipc_accept_failed",
					logging.Error(err),
					logging.String(logging.FieldImpact, "IPC clients may fail to connect"),
					logging.String(logging.FieldErrorHint, "Check socket permissions and restart the daemon if needed"))
				continue
			}
			s.track(conn, true)
			s.wg.Add(1)
			go func(c net.Conn) {
				defer s.wg.Done()
				defer s.track(c, false)
				s.rpcServer.ServeCodec(jsonrpc.NewServerCodec(c))
			}(conn)
		}
	}()
}

func (s *Server) track(conn net.Conn, add bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if add {
		s.conns[conn] = struct{}{}
		return
	}
	delete(s.conns, conn)
}

// Close stops the server, drops open client connections, and removes the socket file.
func (s *Server) Close() {
	s.cancel()
	if s.listener != nil {
		_ = s.listener.Close()
	}
	s.mu.Lock()
	for conn := range s.conns {
		_ = conn.Close()
	}
	s.mu.Unlock()
	s.wg.Wait()
	if err := os.RemoveAll(s.path); err != nil {
		logging.WarnWithContext(s.logger, "failed to remove socket", "ipc_socket_cleanup_failed",
			logging.String("socket", s.path),
			logging.Error(err),
			logging.String(logging.FieldImpact, "stale IPC socket may block future starts"),
			logging.String(logging.FieldErrorHint, "Remove the socket file manually"))
	}
}

type service struct {
	daemon *daemon.Daemon
	logger *slog.Logger
	ctx    context.Context
}

func (s *service) log() *slog.Logger {
	if s.logger == nil {
		return logging.NewNop()
	}
	return s.logger.With(logging.String(logging.FieldComponent, "ipc"))
}

func (s *service) Schedule(req ScheduleRequest, resp *ScheduleResponse) error {
	rec, err := s.daemon.Orchestrator().Schedule(s.ctx, scheduler.Request{
		ConfirmationCode: req.ConfirmationNumber,
		FirstName:        req.FirstName,
		LastName:         req.LastName,
	})
	if err != nil {
		return err
	}
	resp.CheckIn = api.FromRecord(rec)
	s.log().Info("check-in scheduled via IPC",
		logging.String(logging.FieldEventType, "ipc_schedule"),
		logging.String(logging.FieldCheckinID, rec.ID))
	return nil
}

func (s *service) Cancel(req CancelRequest, resp *CancelResponse) error {
	orch := s.daemon.Orchestrator()
	cancelled, err := orch.Cancel(req.ID)
	if err != nil {
		return err
	}
	rec, err := orch.Get(req.ID)
	if err != nil {
		return err
	}
	resp.Cancelled = cancelled
	resp.CheckIn = api.FromRecord(rec)
	return nil
}

func (s *service) Get(req GetRequest, resp *GetResponse) error {
	rec, err := s.daemon.Orchestrator().Get(req.ID)
	if err != nil {
		return err
	}
	resp.CheckIn = api.FromRecord(rec)
	return nil
}

func (s *service) List(req ListRequest, resp *ListResponse) error {
	statuses := make([]checkin.Status, 0, len(req.Statuses))
	for _, value := range req.Statuses {
		parsed, ok := checkin.ParseStatus(value)
		if !ok {
			return fmt.Errorf("%w: unknown status %q", checkin.ErrValidation, value)
		}
		statuses = append(statuses, parsed)
	}
	var source checkin.Source
	if strings.TrimSpace(req.Source) != "" {
		parsed, ok := checkin.ParseSource(req.Source)
		if !ok {
			return fmt.Errorf("%w: unknown source %q", checkin.ErrValidation, req.Source)
		}
		source = parsed
	}
	orch := s.daemon.Orchestrator()
	var records []checkin.Record
	if len(statuses) > 0 {
		records = orch.ListByStatus(statuses...)
	} else {
		records = orch.List()
	}
	kept := make([]checkin.Record, 0, len(records))
	for _, rec := range records {
		if req.Active && !rec.IsActive() {
			continue
		}
		kept = append(kept, rec)
	}
	if source != "" {
		kept = checkin.FilterBySource(kept, source)
	}
	resp.CheckIns = api.FromRecords(kept)
	return nil
}

func (s *service) Logs(req LogsRequest, resp *LogsResponse) error {
	view, err := s.daemon.Orchestrator().Logs(req.ID)
	if err != nil {
		return err
	}
	*resp = api.FromLogView(view)
	return nil
}

func (s *service) Reconcile(req ReconcileRequest, resp *ReconcileResponse) error {
	rec, err := s.daemon.Orchestrator().Reconcile(req.ID, scheduler.ReconcileRequest{
		Status:           checkin.Status(req.Status),
		BoardingPosition: req.BoardingPosition,
		Error:            req.Error,
	})
	if err != nil {
		return err
	}
	resp.CheckIn = api.FromRecord(rec)
	return nil
}

func (s *service) Status(_ StatusRequest, resp *StatusResponse) error {
	*resp = s.daemon.APIStatus()
	return nil
}

func (s *service) TestNotification(_ TestNotificationRequest, resp *TestNotificationResponse) error {
	if err := s.daemon.TestNotification(s.ctx); err != nil {
		resp.Sent = false
		resp.Message = err.Error()
		return nil
	}
	resp.Sent = true
	resp.Message = "test notification sent"
	return nil
}
