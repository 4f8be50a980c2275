package daemonrun

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"strconv"
	"strings"
	"syscall"
	"time"

	"github.com/google/uuid"

	"checkpilot/internal/checkin"
	"checkpilot/internal/config"
	"checkpilot/internal/daemon"
	"checkpilot/internal/ipc"
	"checkpilot/internal/logging"
	"checkpilot/internal/metrics"
	"checkpilot/internal/notifications"
	"checkpilot/internal/remote"
	"checkpilot/internal/scheduler"
	"checkpilot/internal/worker"
)

// shutdownTimeout bounds how long live workers get to exit on shutdown.
const shutdownTimeout = 15 * time.Second

// Options configures daemon process runtime behavior.
type Options struct {
	LogLevel    string
	LogFormat   string
	Development bool
}

// Runtime is a fully wired daemon that has not been started yet.
type Runtime struct {
	Daemon   *daemon.Daemon
	Metrics  *metrics.Recorder
	Listener *notifications.Listener
}

// Run starts the checkpilot daemon and blocks until SIGINT or SIGTERM.
func Run(cmdCtx context.Context, cfg *config.Config, opts Options) error {
	if cfg == nil {
		return fmt.Errorf("config is required")
	}

	signalCtx, cancel := signal.NotifyContext(cmdCtx, syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	if err := cfg.EnsureDirectories(); err != nil {
		return fmt.Errorf("ensure directories: %w", err)
	}

	logger, err := newLogger(cfg, opts)
	if err != nil {
		return fmt.Errorf("init logger: %w", err)
	}
	logger = logger.With(logging.String("session_id", uuid.NewString()))

	pidPath := cfg.PIDPath()
	if err := writePIDFile(pidPath); err != nil {
		return fmt.Errorf("write pid file: %w", err)
	}
	defer os.Remove(pidPath)

	rt, err := Build(cfg, logger)
	if err != nil {
		return err
	}
	d := rt.Daemon
	defer func() {
		ctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		if err := d.Close(ctx); err != nil {
			logging.WarnWithContext(logger, "shutdown incomplete", "daemon_shutdown_incomplete",
				logging.Error(err),
				logging.String(logging.FieldImpact, "some workers may still be running"),
				logging.String(logging.FieldErrorHint, "check for orphaned worker processes"),
			)
		}
		rt.Listener.Wait()
	}()

	if err := d.Start(signalCtx); err != nil {
		logging.ErrorWithContext(logger, "daemon start failed", "daemon_start_failed",
			logging.Error(err),
			logging.String(logging.FieldErrorHint, "stop the other checkpilotd instance or check api.bind"),
		)
		return err
	}

	ipcServer, err := ipc.NewServer(signalCtx, cfg.Paths.SocketPath, d, logger)
	if err != nil {
		return fmt.Errorf("start IPC server: %w", err)
	}
	defer ipcServer.Close()
	ipcServer.Serve()

	logConfigSnapshot(logger, cfg)
	<-signalCtx.Done()
	logger.Info("checkpilot daemon shutting down")
	return nil
}

// Build wires the store, backends, orchestrator, metrics, notifications, and
// daemon from configuration. The backend order follows scheduler.primary:
// "process" launches the local worker with the remote executor as fallback and
// "remote" uses the remote executor alone.
func Build(cfg *config.Config, logger *slog.Logger) (*Runtime, error) {
	if cfg == nil {
		return nil, errors.New("config is required")
	}
	if logger == nil {
		logger = logging.NewNop()
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}

	store := checkin.NewStore(checkin.WithMaxLogEntries(cfg.Scheduler.MaxLogEntries))

	remoteOpts := []remote.Option{
		remote.WithURL(cfg.Remote.URL),
		remote.WithTimeout(cfg.RemoteTimeout()),
		remote.WithDeferredDelay(cfg.DeferredDelay()),
		remote.WithDeferredHorizon(cfg.DeferredHorizon()),
		remote.WithLogger(logger),
	}
	if cfg.Scheduler.Primary != config.PrimaryRemote {
		remoteOpts = append(remoteOpts, remote.AsFallback())
	}
	fallback, err := remote.New(store, remoteOpts...)
	if err != nil {
		return nil, fmt.Errorf("create remote executor: %w", err)
	}

	var backends []scheduler.Backend
	switch cfg.Scheduler.Primary {
	case config.PrimaryRemote:
		backends = []scheduler.Backend{fallback}
	default:
		local := worker.New(store,
			worker.WithCommand(cfg.Worker.Command, cfg.Worker.Args...),
			worker.WithDir(cfg.Worker.Dir),
			worker.WithEnv(cfg.WorkerEnv()),
			worker.WithStopGrace(cfg.StopGrace()),
			worker.WithLogger(logger),
		)
		backends = []scheduler.Backend{local, fallback}
	}

	recorder := metrics.New()
	listener := notifications.NewListener(
		notifications.NewService(cfg),
		notifications.TogglesFromConfig(cfg),
		cfg.NotificationTimeout(),
		logger,
	)
	orch, err := scheduler.New(store, backends,
		scheduler.WithLogger(logger),
		scheduler.WithListener(recorder),
		scheduler.WithListener(listener),
	)
	if err != nil {
		_ = fallback.Close(context.Background())
		return nil, fmt.Errorf("create orchestrator: %w", err)
	}
	recorder.TrackActive(orch.ActiveBySource)

	d, err := daemon.New(cfg, orch, logger, daemon.WithMetrics(recorder))
	if err != nil {
		_ = orch.Close(context.Background())
		return nil, fmt.Errorf("create daemon: %w", err)
	}
	return &Runtime{Daemon: d, Metrics: recorder, Listener: listener}, nil
}

func newLogger(cfg *config.Config, opts Options) (*slog.Logger, error) {
	if strings.TrimSpace(opts.LogLevel) == "" && strings.TrimSpace(opts.LogFormat) == "" && !opts.Development {
		return logging.NewFromConfig(cfg)
	}
	level := cfg.Logging.Level
	if strings.TrimSpace(opts.LogLevel) != "" {
		level = opts.LogLevel
	}
	format := cfg.Logging.Format
	if strings.TrimSpace(opts.LogFormat) != "" {
		format = opts.LogFormat
	}
	loggerOpts := logging.Options{
		Level:       level,
		Format:      format,
		Development: opts.Development,
	}
	loggerOpts.FilePath = cfg.DaemonLogPath()
	return logging.New(loggerOpts)
}

func writePIDFile(path string) error {
	if path == "" {
		return nil
	}
	value := strconv.Itoa(os.Getpid()) + "\n"
	return os.WriteFile(path, []byte(value), 0o644)
}

func logConfigSnapshot(logger *slog.Logger, cfg *config.Config) {
	if logger == nil || cfg == nil {
		return
	}
	logger.Info("configuration snapshot",
		logging.String(logging.FieldEventType, "config_snapshot"),
		logging.String("primary", cfg.Scheduler.Primary),
		logging.String("worker_command", cfg.Worker.Command),
		logging.Bool("remote_configured", strings.TrimSpace(cfg.Remote.URL) != ""),
		logging.Bool("notifications_enabled", strings.TrimSpace(cfg.Notifications.NtfyTopic) != ""),
		logging.Bool("api_token_set", cfg.API.Token != ""),
		logging.String("api_bind", cfg.API.Bind),
		logging.String("socket", cfg.Paths.SocketPath),
	)
}
