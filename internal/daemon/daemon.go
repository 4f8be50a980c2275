package daemon

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gofrs/flock"

	"checkpilot/internal/api"
	"checkpilot/internal/checkin"
	"checkpilot/internal/config"
	"checkpilot/internal/logging"
	"checkpilot/internal/metrics"
	"checkpilot/internal/notifications"
	"checkpilot/internal/scheduler"
)

// Daemon owns the orchestrator lifecycle, the HTTP API, and the single-instance lock.
type Daemon struct {
	cfg          *config.Config
	logger       *slog.Logger
	orchestrator *scheduler.Orchestrator
	metrics      *metrics.Recorder
	notifier     notifications.Service
	api          *apiServer

	lockPath string
	lock     *flock.Flock

	running   atomic.Bool
	mu        sync.Mutex
	startedAt time.Time
	cancel    context.CancelFunc
}

// Status represents daemon runtime information.
type Status struct {
	Running        bool
	PID            int
	StartedAt      time.Time
	Primary        string
	Backends       []string
	Active         int
	ActiveBySource map[checkin.Source]int
	Records        []checkin.Record
	LockFilePath   string
	SocketPath     string
	APIBind        string
}

// Option customizes a Daemon.
type Option func(*Daemon)

// WithMetrics exposes recorder on /metrics.
func WithMetrics(recorder *metrics.Recorder) Option {
	return func(d *Daemon) {
		d.metrics = recorder
	}
}

// WithNotifier sets the service used for test notifications.
func WithNotifier(svc notifications.Service) Option {
	return func(d *Daemon) {
		if svc != nil {
			d.notifier = svc
		}
	}
}

// New constructs a daemon around an orchestrator.
func New(cfg *config.Config, orchestrator *scheduler.Orchestrator, logger *slog.Logger, opts ...Option) (*Daemon, error) {
	if cfg == nil || orchestrator == nil || logger == nil {
		return nil, errors.New("daemon requires config, orchestrator, and logger")
	}
	d := &Daemon{
		cfg:          cfg,
		logger:       logging.NewComponentLogger(logger, "daemon"),
		orchestrator: orchestrator,
		lockPath:     cfg.Paths.LockPath,
		lock:         flock.New(cfg.Paths.LockPath),
	}
	if strings.TrimSpace(cfg.Notifications.NtfyTopic) != "" {
		d.notifier = notifications.NewService(cfg)
	}
	for _, opt := range opts {
		opt(d)
	}
	srv, err := newAPIServer(cfg, d, logger)
	if err != nil {
		return nil, err
	}
	d.api = srv
	return d, nil
}

// Orchestrator returns the orchestrator the daemon serves.
func (d *Daemon) Orchestrator() *scheduler.Orchestrator {
	return d.orchestrator
}

// APIAddr returns the address the HTTP API is bound to, or "" when it is not serving.
func (d *Daemon) APIAddr() string {
	return d.api.addr()
}

// Start acquires the daemon lock and starts the HTTP API.
func (d *Daemon) Start(ctx context.Context) error {
	if d.running.Load() {
		return errors.New("daemon already running")
	}

	ok, err := d.lock.TryLock()
	if err != nil {
		return fmt.Errorf("acquire lock: %w", err)
	}
	if !ok {
		return errors.New("another checkpilot daemon instance is already running")
	}

	apiCtx, cancel := context.WithCancel(ctx)
	if err := d.api.start(apiCtx); err != nil {
		cancel()
		_ = d.lock.Unlock()
		return fmt.Errorf("start api server: %w", err)
	}

	d.mu.Lock()
	d.cancel = cancel
	d.startedAt = time.Now()
	d.mu.Unlock()
	d.running.Store(true)
	d.logger.Info("checkpilot daemon started",
		logging.String("lock", d.lockPath),
		logging.String("primary", d.cfg.Scheduler.Primary),
	)
	return nil
}

// Stop stops the HTTP API and releases the daemon lock. Live workers keep
// running until Close.
func (d *Daemon) Stop() {
	if !d.running.Load() {
		return
	}

	d.mu.Lock()
	if d.cancel != nil {
		d.cancel()
		d.cancel = nil
	}
	d.mu.Unlock()
	d.api.stop()
	if err := d.lock.Unlock(); err != nil {
		logging.WarnWithContext(d.logger, "failed to release daemon lock", "daemon_lock_release_failed",
			logging.Error(err),
			logging.String(logging.FieldErrorHint, "remove "+d.lockPath+" if it lingers"),
		)
	}
	d.running.Store(false)
	d.logger.Info("checkpilot daemon stopped")
}

// Close stops the daemon and terminates every live worker and deferred job.
func (d *Daemon) Close(ctx context.Context) error {
	d.Stop()
	return d.orchestrator.Close(ctx)
}

// Status reports runtime information.
func (d *Daemon) Status() Status {
	d.mu.Lock()
	startedAt := d.startedAt
	d.mu.Unlock()
	return Status{
		Running:        d.running.Load(),
		PID:            os.Getpid(),
		StartedAt:      startedAt,
		Primary:        d.cfg.Scheduler.Primary,
		Backends:       d.orchestrator.Backends(),
		Active:         d.orchestrator.ActiveCount(),
		ActiveBySource: d.orchestrator.ActiveBySource(),
		Records:        d.orchestrator.List(),
		LockFilePath:   d.lockPath,
		SocketPath:     d.cfg.Paths.SocketPath,
		APIBind:        d.cfg.API.Bind,
	}
}

// APIStatus converts Status for transport.
func (d *Daemon) APIStatus() api.DaemonStatus {
	status := d.Status()
	out := api.DaemonStatus{
		Running:        status.Running,
		PID:            status.PID,
		Primary:        status.Primary,
		Backends:       status.Backends,
		Active:         status.Active,
		ActiveBySource: api.SourceCounts(status.ActiveBySource),
		StatusCounts:   api.StatusCounts(status.Records),
		LockFilePath:   status.LockFilePath,
		SocketPath:     status.SocketPath,
		APIBind:        status.APIBind,
	}
	if status.Running && !status.StartedAt.IsZero() {
		out.StartedAt = status.StartedAt.UTC().Format(time.RFC3339)
		out.Uptime = time.Since(status.StartedAt).Truncate(time.Second).String()
	}
	return out
}

// TestNotification publishes a test event through the configured notifier.
func (d *Daemon) TestNotification(ctx context.Context) error {
	if d.notifier == nil {
		return errors.New("notifications.ntfy_topic is not configured")
	}
	timeout := d.cfg.NotificationTimeout()
	if timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, timeout)
		defer cancel()
	}
	if err := d.notifier.Publish(ctx, notifications.EventTest, nil); err != nil {
		return fmt.Errorf("send test notification: %w", err)
	}
	return nil
}
