package scheduler

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/go-playground/validator/v10"

	"checkpilot/internal/checkin"
	"checkpilot/internal/logging"
)

// Backend is one execution substrate a record can be launched on.
type Backend interface {
	Name() string
	Source() checkin.Source
	// Launch hands rec to the substrate. An error means the substrate did not
	// take the work and the next backend may be tried.
	Launch(ctx context.Context, rec checkin.Record) error
	// Stop releases the live handle for id and reports whether one existed.
	Stop(id string) bool
}

// forgetter is implemented by backends that hand records off and need to be
// told when reconciliation settled them.
type forgetter interface {
	Forget(id string)
}

type closer interface {
	Close(ctx context.Context) error
}

// Listener receives record lifecycle events.
type Listener interface {
	Transition(before, after checkin.Record)
	Fallback(rec checkin.Record, from, to string, cause error)
}

// Option configures the orchestrator.
type Option func(*Orchestrator)

// WithLogger sets the orchestrator logger.
func WithLogger(logger *slog.Logger) Option {
	return func(o *Orchestrator) {
		if logger != nil {
			o.logger = logger
		}
	}
}

// WithListener registers a lifecycle listener.
func WithListener(l Listener) Option {
	return func(o *Orchestrator) {
		if l != nil {
			o.listeners = append(o.listeners, l)
		}
	}
}

// WithClock overrides the time source used for reconciliation stamps.
func WithClock(now func() time.Time) Option {
	return func(o *Orchestrator) {
		if now != nil {
			o.now = now
		}
	}
}

// Orchestrator accepts check-in requests, launches them on the first backend
// that takes them, and answers questions about their state.
type Orchestrator struct {
	store     *checkin.Store
	backends  []Backend
	validate  *validator.Validate
	logger    *slog.Logger
	listeners []Listener
	now       func() time.Time

	// scheduleMu makes the duplicate check and the create one step.
	scheduleMu sync.Mutex

	mu     sync.Mutex
	owners map[string]Backend
}

// New constructs an orchestrator. backends are tried in order.
func New(store *checkin.Store, backends []Backend, opts ...Option) (*Orchestrator, error) {
	if store == nil {
		return nil, errors.New("record store required")
	}
	if len(backends) == 0 {
		return nil, errors.New("at least one backend required")
	}
	o := &Orchestrator{
		store:    store,
		backends: append([]Backend(nil), backends...),
		validate: newValidator(),
		logger:   logging.NewNop(),
		owners:   make(map[string]Backend),
		now:      func() time.Time { return time.Now().UTC() },
	}
	for _, opt := range opts {
		opt(o)
	}
	o.logger = logging.NewComponentLogger(o.logger, "scheduler")
	store.AddObserver(o.dispatchTransition)
	return o, nil
}

// Backends returns the backend names in launch order.
func (o *Orchestrator) Backends() []string {
	names := make([]string, 0, len(o.backends))
	for _, b := range o.backends {
		names = append(names, b.Name())
	}
	return names
}

// Schedule validates req, creates its record, and launches it. A launch that
// fails on every backend returns the failed record alongside an error
// wrapping checkin.ErrLaunch.
func (o *Orchestrator) Schedule(ctx context.Context, req Request) (checkin.Record, error) {
	req = normalizeRequest(req)
	if err := validationError(o.validate, req); err != nil {
		return checkin.Record{}, err
	}
	if !checkin.ValidCode(req.ConfirmationCode) {
		return checkin.Record{}, fmt.Errorf("%w: confirmationNumber must match [A-Z0-9]{6}", checkin.ErrValidation)
	}

	primary := o.backends[0]
	o.scheduleMu.Lock()
	if existing, ok := o.store.FindActiveByCode(req.ConfirmationCode); ok {
		o.scheduleMu.Unlock()
		return existing, fmt.Errorf("%w: %s is tracked by %s (%s)", checkin.ErrDuplicate, req.ConfirmationCode, existing.ID, existing.Status)
	}
	rec, err := o.store.Create(checkin.Draft{
		ConfirmationCode: req.ConfirmationCode,
		FirstName:        req.FirstName,
		LastName:         req.LastName,
		Source:           primary.Source(),
	})
	o.scheduleMu.Unlock()
	if err != nil {
		return checkin.Record{}, fmt.Errorf("create record: %w", err)
	}

	logger := o.logger.With(
		logging.String(logging.FieldCheckinID, rec.ID),
		logging.String(logging.FieldConfirmationCode, rec.ConfirmationCode),
	)
	logger.Info("check-in scheduled", logging.String("traveler", rec.TravelerName()), logging.String("backend", primary.Name()))

	var errs []error
	for i, backend := range o.backends {
		if i > 0 {
			prev := o.backends[i-1]
			updated, err := o.store.Update(rec.ID, checkin.Patch{Source: checkin.Ptr(backend.Source())})
			if err != nil {
				// Cancelled while the previous backend was launching.
				if checkin.IsRejected(err) {
					return o.store.Get(rec.ID)
				}
				return rec, fmt.Errorf("switch source: %w", err)
			}
			rec = updated
			logging.WarnWithContext(logger, "falling back to next backend", "scheduler_fallback",
				logging.String("from", prev.Name()),
				logging.String("to", backend.Name()),
				logging.Error(errs[len(errs)-1]),
				logging.String(logging.FieldErrorHint, "check the "+prev.Name()+" backend configuration"),
				logging.String(logging.FieldImpact, "check-in continues on "+backend.Name()),
			)
			o.dispatchFallback(rec, prev.Name(), backend.Name(), errs[len(errs)-1])
		}

		if err := backend.Launch(ctx, rec); err != nil {
			errs = append(errs, fmt.Errorf("%s: %w", backend.Name(), err))
			continue
		}

		o.setOwner(rec.ID, backend)
		current, err := o.store.Get(rec.ID)
		if err != nil {
			return rec, err
		}
		if current.IsTerminal() {
			// A cancel landed between create and launch; release what we just started.
			o.release(rec.ID, backend)
			backend.Stop(rec.ID)
		}
		return current, nil
	}

	cause := errors.Join(errs...)
	failed, err := o.store.Update(rec.ID, checkin.Patch{
		Status: checkin.Ptr(checkin.StatusFailed),
		Error:  checkin.Ptr(cause.Error()),
	})
	if err != nil {
		failed, _ = o.store.Get(rec.ID)
	}
	logging.ErrorWithContext(logger, "every backend refused the check-in", "scheduler_launch_failed",
		logging.Error(cause),
		logging.String(logging.FieldErrorHint, "check worker.command and remote.url"),
	)
	return failed, fmt.Errorf("%w: %w", checkin.ErrLaunch, cause)
}

// Cancel marks id cancelled and stops its live handle. It reports whether a
// live handle was found; cancelling a finished record returns false.
func (o *Orchestrator) Cancel(id string) (bool, error) {
	rec, err := o.store.Get(id)
	if err != nil {
		return false, err
	}
	if rec.IsTerminal() {
		return false, nil
	}
	if _, err := o.store.Update(id, checkin.Patch{
		Status: checkin.Ptr(checkin.StatusCancelled),
		Error:  checkin.Ptr(checkin.UserCancelReason),
	}); err != nil {
		if checkin.IsRejected(err) {
			return false, nil
		}
		return false, err
	}

	owner := o.takeOwner(id)
	stopped := owner != nil && owner.Stop(id)
	o.logger.Info("check-in cancelled",
		logging.String(logging.FieldCheckinID, id),
		logging.String(logging.FieldConfirmationCode, rec.ConfirmationCode),
		logging.Bool("live_handle", stopped),
	)
	return stopped, nil
}

// Reconcile applies externally reported progress to a record that was handed
// off to a backend without a supervised process.
func (o *Orchestrator) Reconcile(id string, req ReconcileRequest) (checkin.Record, error) {
	if err := validationError(o.validate, req); err != nil {
		return checkin.Record{}, err
	}
	rec, err := o.store.Get(id)
	if err != nil {
		return checkin.Record{}, err
	}

	o.mu.Lock()
	owner := o.owners[id]
	o.mu.Unlock()
	if owner != nil {
		if _, ok := owner.(forgetter); !ok {
			return rec, fmt.Errorf("%w: %s is supervised by the %s backend", checkin.ErrValidation, id, owner.Name())
		}
	}

	patch := checkin.Patch{Status: checkin.Ptr(req.Status)}
	if req.BoardingPosition != "" {
		patch.BoardingPosition = checkin.Ptr(req.BoardingPosition)
	}
	switch req.Status {
	case checkin.StatusCompleted:
		at := o.now()
		if req.CheckInTime != nil {
			at = req.CheckInTime.UTC()
		}
		patch.CheckInTime = checkin.Ptr(at)
	case checkin.StatusFailed:
		msg := req.Error
		if msg == "" {
			msg = "Reported failed by remote scheduler"
		}
		patch.Error = checkin.Ptr(msg)
	}
	message := "Reconciled: " + string(req.Status)
	if req.BoardingPosition != "" {
		message += " (position " + req.BoardingPosition + ")"
	}
	patch.AppendLog = []checkin.LogEntry{{Timestamp: o.now(), Message: message}}

	updated, err := o.store.Update(id, patch)
	if err != nil {
		return updated, err
	}
	if updated.IsTerminal() {
		if owner := o.takeOwner(id); owner != nil {
			owner.(forgetter).Forget(id)
		}
	}
	return updated, nil
}

// Get returns one record.
func (o *Orchestrator) Get(id string) (checkin.Record, error) {
	return o.store.Get(id)
}

// List returns every record, newest first.
func (o *Orchestrator) List() []checkin.Record {
	return o.store.List()
}

// ListActive returns the records that have not finished.
func (o *Orchestrator) ListActive() []checkin.Record {
	return o.store.ListActive()
}

// ListByStatus returns records in any of the given statuses.
func (o *Orchestrator) ListByStatus(statuses ...checkin.Status) []checkin.Record {
	return o.store.ListByStatus(statuses...)
}

// Logs returns the progress log of one record.
func (o *Orchestrator) Logs(id string) (LogView, error) {
	rec, err := o.store.Get(id)
	if err != nil {
		return LogView{}, err
	}
	entries := rec.Log
	if entries == nil {
		entries = []checkin.LogEntry{}
	}
	return LogView{
		ID:          rec.ID,
		Status:      rec.Status,
		StartedAt:   rec.StartedAt,
		CompletedAt: rec.CompletedAt,
		Entries:     entries,
	}, nil
}

// ActiveCount returns the number of records that have not finished.
func (o *Orchestrator) ActiveCount() int {
	return o.store.CountActive()
}

// ActiveBySource splits ActiveCount by execution substrate.
func (o *Orchestrator) ActiveBySource() map[checkin.Source]int {
	return o.store.ActiveBySource()
}

// Close closes every backend that holds resources.
func (o *Orchestrator) Close(ctx context.Context) error {
	var errs []error
	for _, backend := range o.backends {
		c, ok := backend.(closer)
		if !ok {
			continue
		}
		if err := c.Close(ctx); err != nil {
			errs = append(errs, fmt.Errorf("close %s: %w", backend.Name(), err))
		}
	}
	return errors.Join(errs...)
}

func (o *Orchestrator) setOwner(id string, backend Backend) {
	o.mu.Lock()
	o.owners[id] = backend
	o.mu.Unlock()
}

func (o *Orchestrator) takeOwner(id string) Backend {
	o.mu.Lock()
	defer o.mu.Unlock()
	owner := o.owners[id]
	delete(o.owners, id)
	return owner
}

func (o *Orchestrator) release(id string, backend Backend) {
	o.mu.Lock()
	if o.owners[id] == backend {
		delete(o.owners, id)
	}
	o.mu.Unlock()
}

func (o *Orchestrator) dispatchTransition(before, after checkin.Record) {
	// Cancel takes the owner itself so it can stop the live handle.
	if after.IsTerminal() && !before.IsTerminal() && after.Status != checkin.StatusCancelled {
		o.dropOwnerIfIdle(after.ID)
	}
	for _, l := range o.listeners {
		l.Transition(before, after)
	}
}

// dropOwnerIfIdle forgets the owner of a record that finished on its own so
// the owner table does not grow with finished local records.
func (o *Orchestrator) dropOwnerIfIdle(id string) {
	o.mu.Lock()
	owner := o.owners[id]
	o.mu.Unlock()
	if owner == nil {
		return
	}
	if _, ok := owner.(forgetter); ok {
		return
	}
	o.release(id, owner)
}

func (o *Orchestrator) dispatchFallback(rec checkin.Record, from, to string, cause error) {
	for _, l := range o.listeners {
		l.Fallback(rec, from, to, cause)
	}
}
