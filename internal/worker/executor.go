package worker

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"strings"
	"sync"
	"time"

	"checkpilot/internal/checkin"
	"checkpilot/internal/logging"
	"checkpilot/internal/progress"
)

// Name identifies the process backend in logs and configuration.
const Name = "process"

const (
	defaultCommand   = "python3"
	defaultScript    = "southwest.py"
	defaultStopGrace = 10 * time.Second
	stderrPrefix     = "stderr: "
)

// Updater is the slice of the record store the executor writes to.
type Updater interface {
	Update(id string, patch checkin.Patch) (checkin.Record, error)
}

// Option configures the executor.
type Option func(*Executor)

// WithRunner injects a custom runner (primarily for tests).
func WithRunner(r Runner) Option {
	return func(e *Executor) {
		if r != nil {
			e.runner = r
		}
	}
}

// WithCommand sets the worker binary and its leading arguments.
func WithCommand(path string, args ...string) Option {
	return func(e *Executor) {
		if strings.TrimSpace(path) != "" {
			e.path = path
			e.args = append([]string(nil), args...)
		}
	}
}

// WithDir sets the worker's working directory.
func WithDir(dir string) Option {
	return func(e *Executor) { e.dir = dir }
}

// WithEnv adds KEY=VALUE pairs on top of the daemon's environment.
func WithEnv(env []string) Option {
	return func(e *Executor) { e.env = append([]string(nil), env...) }
}

// WithStopGrace sets how long Stop waits after SIGTERM before SIGKILL.
func WithStopGrace(d time.Duration) Option {
	return func(e *Executor) {
		if d > 0 {
			e.stopGrace = d
		}
	}
}

// WithLogger sets the executor logger.
func WithLogger(logger *slog.Logger) Option {
	return func(e *Executor) {
		if logger != nil {
			e.logger = logger
		}
	}
}

// WithClock overrides the time source used for log entries and parsed times.
func WithClock(now func() time.Time) Option {
	return func(e *Executor) {
		if now != nil {
			e.now = now
		}
	}
}

// WithRules replaces the progress rules applied to worker stdout.
func WithRules(rules []progress.Rule) Option {
	return func(e *Executor) { e.rules = append([]progress.Rule(nil), rules...) }
}

type handle struct {
	proc Process
	done chan struct{}

	mu         sync.Mutex
	lastStderr string
	completed  bool
}

func (h *handle) setLastStderr(line string) {
	h.mu.Lock()
	h.lastStderr = line
	h.mu.Unlock()
}

func (h *handle) markCompleted() {
	h.mu.Lock()
	h.completed = true
	h.mu.Unlock()
}

func (h *handle) snapshot() (string, bool) {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.lastStderr, h.completed
}

// Executor runs one worker process per record and turns its output into
// record updates.
type Executor struct {
	store     Updater
	runner    Runner
	path      string
	args      []string
	dir       string
	env       []string
	stopGrace time.Duration
	rules     []progress.Rule
	logger    *slog.Logger
	now       func() time.Time

	mu      sync.Mutex
	handles map[string]*handle
	closed  bool
	wg      sync.WaitGroup
}

// New constructs an executor writing to store.
func New(store Updater, opts ...Option) *Executor {
	e := &Executor{
		store:     store,
		runner:    commandRunner{},
		path:      defaultCommand,
		args:      []string{defaultScript},
		env:       []string{"AUTO_SOUTHWEST_CHECK_IN_CHECK_FARES=false"},
		stopGrace: defaultStopGrace,
		logger:    logging.NewNop(),
		now:       func() time.Time { return time.Now().UTC() },
		handles:   make(map[string]*handle),
	}
	for _, opt := range opts {
		opt(e)
	}
	e.logger = logging.NewComponentLogger(e.logger, "worker")
	return e
}

// Name implements the scheduler backend contract.
func (e *Executor) Name() string { return Name }

// Source reports the substrate records launched here run on.
func (e *Executor) Source() checkin.Source { return checkin.SourceLocal }

// Launch starts the worker for rec and supervises it in the background.
func (e *Executor) Launch(ctx context.Context, rec checkin.Record) error {
	logger := e.recordLogger(rec)
	cmd := Command{
		Path: e.path,
		Args: append(append([]string(nil), e.args...), rec.ConfirmationCode, rec.FirstName, rec.LastName),
		Dir:  e.dir,
		Env:  e.env,
	}
	parser := progress.NewParser(progress.WithClock(e.now), progress.WithRules(e.rules))
	h := &handle{done: make(chan struct{})}

	e.mu.Lock()
	if e.closed {
		e.mu.Unlock()
		return fmt.Errorf("%w: executor closed", checkin.ErrLaunch)
	}
	if _, exists := e.handles[rec.ID]; exists {
		e.mu.Unlock()
		return fmt.Errorf("%w: worker already running for %s", checkin.ErrLaunch, rec.ID)
	}
	proc, err := e.runner.Start(ctx, cmd,
		func(line string) { e.handleStdout(rec.ID, h, parser, line) },
		func(line string) { e.handleStderr(rec.ID, h, logger, line) },
	)
	if err != nil {
		e.mu.Unlock()
		return fmt.Errorf("%w: %w", checkin.ErrLaunch, err)
	}
	h.proc = proc
	e.handles[rec.ID] = h
	e.wg.Add(1)
	e.mu.Unlock()

	logger.Info("worker started",
		logging.Int("pid", proc.PID()),
		logging.String("command", e.path),
	)
	if _, err := e.store.Update(rec.ID, checkin.Patch{
		Status: checkin.Ptr(checkin.StatusScheduled),
		Source: checkin.Ptr(checkin.SourceLocal),
	}); err != nil && !checkin.IsRejected(err) {
		logger.Warn("record update after start failed", logging.Error(err))
	}

	go e.supervise(rec.ID, h, logger)
	return nil
}

func (e *Executor) handleStdout(id string, h *handle, parser *progress.Parser, line string) {
	patch := checkin.Patch{}
	if event, ok := parser.Parse(line); ok {
		patch = event.Patch
		if event.Status == checkin.StatusCompleted {
			h.markCompleted()
		}
	}
	entry := checkin.LogEntry{Timestamp: e.now(), Message: line}
	patch.AppendLog = []checkin.LogEntry{entry}
	_, err := e.store.Update(id, patch)
	if errors.Is(err, checkin.ErrTransition) {
		_, err = e.store.Update(id, checkin.Patch{AppendLog: patch.AppendLog})
	}
	if err != nil && !checkin.IsRejected(err) {
		e.logger.Debug("progress update dropped", logging.String(logging.FieldCheckinID, id), logging.Error(err))
	}
}

func (e *Executor) handleStderr(id string, h *handle, logger *slog.Logger, line string) {
	line = strings.TrimRight(line, "\r\n")
	if strings.TrimSpace(line) == "" {
		return
	}
	h.setLastStderr(line)
	logger.Warn("worker stderr", logging.String("line", line))
	entry := checkin.LogEntry{Timestamp: e.now(), Message: stderrPrefix + line}
	if _, err := e.store.Update(id, checkin.Patch{AppendLog: []checkin.LogEntry{entry}}); err != nil && !checkin.IsRejected(err) {
		logger.Debug("stderr log append dropped", logging.Error(err))
	}
}

func (e *Executor) supervise(id string, h *handle, logger *slog.Logger) {
	defer e.wg.Done()
	err := h.proc.Wait()
	e.release(id, h)
	close(h.done)

	lastStderr, completed := h.snapshot()
	var patch checkin.Patch
	var exitErr *ExitError
	switch {
	case err == nil:
		if !completed {
			logging.WarnWithContext(logger, "worker exited without completion marker", "worker_exit_incomplete",
				logging.String(logging.FieldErrorHint, "inspect the record's progress log"),
				logging.String(logging.FieldImpact, "record keeps its last reported status"),
			)
		} else {
			logger.Info("worker finished")
		}
		return
	case errors.As(err, &exitErr):
		msg := fmt.Sprintf("Process exited with code %d", exitErr.Code)
		if lastStderr != "" {
			msg += ": " + lastStderr
		}
		patch = checkin.Patch{Status: checkin.Ptr(checkin.StatusFailed), Error: checkin.Ptr(msg)}
	default:
		patch = checkin.Patch{Status: checkin.Ptr(checkin.StatusFailed), Error: checkin.Ptr(err.Error())}
	}

	rec, updateErr := e.store.Update(id, patch)
	switch {
	case updateErr == nil:
		logging.ErrorWithContext(logger, "worker failed", "worker_failed",
			logging.String("reason", rec.Error),
			logging.Error(fmt.Errorf("%w: %w", checkin.ErrRuntime, err)),
		)
	case checkin.IsRejected(updateErr):
		logger.Debug("worker exit after record finished", logging.Error(err))
	default:
		logger.Warn("record update after exit failed", logging.Error(updateErr))
	}
}

func (e *Executor) release(id string, h *handle) {
	e.mu.Lock()
	if e.handles[id] == h {
		delete(e.handles, id)
	}
	e.mu.Unlock()
}

// Stop terminates the worker for id and reports whether one was running.
func (e *Executor) Stop(id string) bool {
	e.mu.Lock()
	h, ok := e.handles[id]
	if ok {
		delete(e.handles, id)
	}
	e.mu.Unlock()
	if !ok {
		return false
	}
	e.terminate(id, h)
	return true
}

func (e *Executor) terminate(id string, h *handle) {
	logger := e.logger.With(logging.String(logging.FieldCheckinID, id))
	if err := h.proc.Terminate(); err != nil {
		if errors.Is(err, os.ErrProcessDone) {
			return
		}
		logger.Warn("terminate worker failed", logging.Error(err))
	}
	e.wg.Add(1)
	go func() {
		defer e.wg.Done()
		timer := time.NewTimer(e.stopGrace)
		defer timer.Stop()
		select {
		case <-h.done:
		case <-timer.C:
			logger.Warn("worker ignored SIGTERM; killing", logging.Duration("grace", e.stopGrace))
			if err := h.proc.Kill(); err != nil && !errors.Is(err, os.ErrProcessDone) {
				logger.Warn("kill worker failed", logging.Error(err))
			}
		}
	}()
}

// Active returns the number of live workers.
func (e *Executor) Active() int {
	e.mu.Lock()
	defer e.mu.Unlock()
	return len(e.handles)
}

// Close fails every live record with the daemon stop reason, stops its
// worker, and waits for supervisors to exit or ctx to end.
func (e *Executor) Close(ctx context.Context) error {
	e.mu.Lock()
	e.closed = true
	live := e.handles
	e.handles = make(map[string]*handle)
	e.mu.Unlock()

	for id, h := range live {
		if _, err := e.store.Update(id, checkin.Patch{
			Status: checkin.Ptr(checkin.StatusFailed),
			Error:  checkin.Ptr(checkin.DaemonStopReason),
		}); err != nil && !checkin.IsRejected(err) {
			e.logger.Warn("mark record stopped failed", logging.String(logging.FieldCheckinID, id), logging.Error(err))
		}
		e.terminate(id, h)
	}

	done := make(chan struct{})
	go func() {
		e.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return fmt.Errorf("wait for workers: %w", ctx.Err())
	}
}

func (e *Executor) recordLogger(rec checkin.Record) *slog.Logger {
	return e.logger.With(
		logging.String(logging.FieldCheckinID, rec.ID),
		logging.String(logging.FieldConfirmationCode, rec.ConfirmationCode),
	)
}
