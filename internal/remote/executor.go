package remote

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"sync"
	"time"

	gocron "github.com/go-co-op/gocron/v2"
	"github.com/google/uuid"

	"checkpilot/internal/checkin"
	"checkpilot/internal/logging"
)

// Name identifies the remote backend in logs and configuration.
const Name = "remote"

const (
	defaultTimeout  = 10 * time.Second
	defaultDelay    = time.Second
	defaultHorizon  = 24 * time.Hour
	schedulePath    = "/api/schedule"
	maxErrorSnippet = 512
)

// HTTPDoer describes the HTTP client used to reach the NAS.
type HTTPDoer interface {
	Do(req *http.Request) (*http.Response, error)
}

// Updater is the slice of the record store the executor writes to.
type Updater interface {
	Update(id string, patch checkin.Patch) (checkin.Record, error)
}

// Option configures the executor.
type Option func(*Executor)

// WithURL sets the NAS base URL. Empty disables delegation.
func WithURL(url string) Option {
	return func(e *Executor) { e.baseURL = strings.TrimRight(strings.TrimSpace(url), "/") }
}

// WithHTTPClient injects the HTTP client (primarily for tests).
func WithHTTPClient(client HTTPDoer) Option {
	return func(e *Executor) {
		if client != nil {
			e.client = client
		}
	}
}

// WithTimeout bounds one NAS request.
func WithTimeout(d time.Duration) Option {
	return func(e *Executor) {
		if d > 0 {
			e.timeout = d
		}
	}
}

// WithDeferredDelay sets how long the deferred fallback waits before firing.
func WithDeferredDelay(d time.Duration) Option {
	return func(e *Executor) {
		if d >= 0 {
			e.delay = d
		}
	}
}

// WithDeferredHorizon sets how far ahead the deferred fallback schedules the check-in.
func WithDeferredHorizon(d time.Duration) Option {
	return func(e *Executor) {
		if d > 0 {
			e.horizon = d
		}
	}
}

// AsFallback marks the executor as standing behind the local worker. A NAS
// that accepts a record then leaves the remote source the orchestrator
// assigned, since the check-in no longer runs where it was first sent.
func AsFallback() Option {
	return func(e *Executor) {
		e.fallback = true
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

// WithClock overrides the time source for deferred scheduled times.
func WithClock(now func() time.Time) Option {
	return func(e *Executor) {
		if now != nil {
			e.now = now
		}
	}
}

type delegation struct {
	jobID   uuid.UUID
	pending bool
}

// Executor hands records to the NAS scheduler, or holds them on an
// in-process deferred timer when the NAS cannot take them.
type Executor struct {
	store   Updater
	client  HTTPDoer
	baseURL string
	timeout time.Duration
	delay   time.Duration
	horizon time.Duration
	logger  *slog.Logger
	now     func() time.Time

	// fallback keeps the remote source on NAS acceptance.
	fallback bool

	scheduler gocron.Scheduler

	mu      sync.Mutex
	handles map[string]*delegation
	closed  bool
}

// New constructs an executor and starts its deferred-job scheduler.
func New(store Updater, opts ...Option) (*Executor, error) {
	e := &Executor{
		store:   store,
		client:  http.DefaultClient,
		timeout: defaultTimeout,
		delay:   defaultDelay,
		horizon: defaultHorizon,
		logger:  logging.NewNop(),
		now:     func() time.Time { return time.Now().UTC() },
		handles: make(map[string]*delegation),
	}
	for _, opt := range opts {
		opt(e)
	}
	e.logger = logging.NewComponentLogger(e.logger, "remote")

	scheduler, err := gocron.NewScheduler()
	if err != nil {
		return nil, fmt.Errorf("initializing gocron scheduler: %w", err)
	}
	scheduler.Start()
	e.scheduler = scheduler
	return e, nil
}

// Name implements the scheduler backend contract.
func (e *Executor) Name() string { return Name }

// Source reports the substrate records launched here run on.
func (e *Executor) Source() checkin.Source { return checkin.SourceRemote }

type scheduleRequest struct {
	ConfirmationNumber string `json:"confirmationNumber"`
	FirstName          string `json:"firstName"`
	LastName           string `json:"lastName"`
}

// Launch delegates rec to the NAS, falling back to the deferred schedule
// when the NAS is unset or refuses the request.
func (e *Executor) Launch(ctx context.Context, rec checkin.Record) error {
	logger := e.logger.With(
		logging.String(logging.FieldCheckinID, rec.ID),
		logging.String(logging.FieldConfirmationCode, rec.ConfirmationCode),
	)

	e.mu.Lock()
	closed := e.closed
	e.mu.Unlock()
	if closed {
		return fmt.Errorf("%w: remote executor closed", checkin.ErrLaunch)
	}

	if e.baseURL != "" {
		err := e.post(ctx, rec)
		if err == nil {
			e.track(rec.ID, &delegation{})
			logger.Info("check-in delegated to NAS", logging.String("url", e.baseURL))
			patch := checkin.Patch{
				Status:    checkin.Ptr(checkin.StatusScheduled),
				AppendLog: e.entry("Scheduled on NAS " + e.baseURL),
			}
			if !e.fallback {
				patch.Source = checkin.Ptr(checkin.SourceLocal)
			}
			e.update(logger, rec.ID, patch)
			return nil
		}
		logging.WarnWithContext(logger, "NAS delegation failed; deferring check-in", "remote_delegate_failed",
			logging.Error(err),
			logging.String(logging.FieldErrorHint, "check remote.url and that the NAS scheduler is reachable"),
			logging.String(logging.FieldImpact, "check-in held by the deferred fallback"),
		)
	}
	return e.deferRecord(logger, rec)
}

func (e *Executor) deferRecord(logger *slog.Logger, rec checkin.Record) error {
	e.mu.Lock()
	if e.closed {
		e.mu.Unlock()
		return fmt.Errorf("%w: remote executor closed", checkin.ErrLaunch)
	}

	var definition gocron.JobDefinition
	if e.delay <= 0 {
		definition = gocron.OneTimeJob(gocron.OneTimeJobStartImmediately())
	} else {
		definition = gocron.OneTimeJob(gocron.OneTimeJobStartDateTime(time.Now().Add(e.delay)))
	}
	id := rec.ID
	job, err := e.scheduler.NewJob(definition,
		gocron.NewTask(func() { e.fire(id) }),
		gocron.WithName("deferred-"+id),
		gocron.WithTags(id),
	)
	if err != nil {
		e.mu.Unlock()
		return fmt.Errorf("%w: schedule deferred check-in: %w", checkin.ErrLaunch, err)
	}
	e.handles[id] = &delegation{jobID: job.ID(), pending: true}
	e.mu.Unlock()

	e.update(logger, id, checkin.Patch{
		Status:    checkin.Ptr(checkin.StatusScheduled),
		Source:    checkin.Ptr(checkin.SourceRemote),
		AppendLog: e.entry("Deferred to remote scheduler"),
	})
	logger.Info("check-in deferred", logging.Duration("delay", e.delay), logging.Duration("horizon", e.horizon))
	return nil
}

func (e *Executor) fire(id string) {
	e.mu.Lock()
	handle, ok := e.handles[id]
	if !ok || !handle.pending {
		e.mu.Unlock()
		return
	}
	handle.pending = false
	e.mu.Unlock()

	at := e.now().Add(e.horizon)
	logger := e.logger.With(logging.String(logging.FieldCheckinID, id))
	e.update(logger, id, checkin.Patch{
		ScheduledTime: checkin.Ptr(at),
		ScheduledText: checkin.Ptr(at.Format(time.RFC3339)),
		AppendLog:     e.entry("Deferred check-in scheduled for " + at.Format(time.RFC3339)),
	})
}

func (e *Executor) post(ctx context.Context, rec checkin.Record) error {
	body, err := json.Marshal(scheduleRequest{
		ConfirmationNumber: rec.ConfirmationCode,
		FirstName:          rec.FirstName,
		LastName:           rec.LastName,
	})
	if err != nil {
		return fmt.Errorf("encode schedule request: %w", err)
	}

	reqCtx, cancel := context.WithTimeout(ctx, e.timeout)
	defer cancel()
	req, err := http.NewRequestWithContext(reqCtx, http.MethodPost, e.baseURL+schedulePath, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("build schedule request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json")

	resp, err := e.client.Do(req)
	if err != nil {
		return fmt.Errorf("post schedule request: %w", err)
	}
	defer resp.Body.Close()
	snippet, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorSnippet))
	if resp.StatusCode < 200 || resp.StatusCode >= http.StatusMultipleChoices {
		detail := strings.TrimSpace(string(snippet))
		if detail == "" {
			return fmt.Errorf("nas schedule returned %d", resp.StatusCode)
		}
		return fmt.Errorf("nas schedule returned %d: %s", resp.StatusCode, detail)
	}
	return nil
}

func (e *Executor) track(id string, d *delegation) {
	e.mu.Lock()
	e.handles[id] = d
	e.mu.Unlock()
}

func (e *Executor) update(logger *slog.Logger, id string, patch checkin.Patch) {
	if _, err := e.store.Update(id, patch); err != nil && !checkin.IsRejected(err) {
		logger.Warn("record update failed", logging.Error(err))
	}
}

func (e *Executor) entry(message string) []checkin.LogEntry {
	return []checkin.LogEntry{{Timestamp: e.now(), Message: message}}
}

// Stop drops the delegation for id, removing its deferred job if it has not
// fired, and reports whether one existed.
func (e *Executor) Stop(id string) bool {
	e.mu.Lock()
	handle, ok := e.handles[id]
	if ok {
		delete(e.handles, id)
	}
	e.mu.Unlock()
	if !ok {
		return false
	}
	if handle.pending {
		if err := e.scheduler.RemoveJob(handle.jobID); err != nil && !errors.Is(err, gocron.ErrJobNotFound) {
			e.logger.Warn("remove deferred job failed", logging.String(logging.FieldCheckinID, id), logging.Error(err))
		}
	}
	return true
}

// Forget releases the delegation for a record that reached a terminal status.
func (e *Executor) Forget(id string) {
	e.Stop(id)
}

// Active returns the number of tracked delegations.
func (e *Executor) Active() int {
	e.mu.Lock()
	defer e.mu.Unlock()
	return len(e.handles)
}

// Pending returns the number of deferred jobs that have not fired.
func (e *Executor) Pending() int {
	e.mu.Lock()
	defer e.mu.Unlock()
	count := 0
	for _, handle := range e.handles {
		if handle.pending {
			count++
		}
	}
	return count
}

// Close shuts the deferred-job scheduler down. Delegated records keep their
// status.
func (e *Executor) Close(context.Context) error {
	e.mu.Lock()
	if e.closed {
		e.mu.Unlock()
		return nil
	}
	e.closed = true
	e.mu.Unlock()
	if idle, ok := e.client.(interface{ CloseIdleConnections() }); ok {
		idle.CloseIdleConnections()
	}
	if err := e.scheduler.Shutdown(); err != nil {
		return fmt.Errorf("shutting down gocron: %w", err)
	}
	return nil
}
