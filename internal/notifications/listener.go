package notifications

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"checkpilot/internal/checkin"
	"checkpilot/internal/config"
	"checkpilot/internal/logging"
)

// Toggles selects which lifecycle events are published.
type Toggles struct {
	Completed bool
	Failed    bool
	Fallback  bool
}

// TogglesFromConfig reads the [notifications] switches.
func TogglesFromConfig(cfg *config.Config) Toggles {
	if cfg == nil {
		return Toggles{}
	}
	return Toggles{
		Completed: cfg.Notifications.Completed,
		Failed:    cfg.Notifications.Failed,
		Fallback:  cfg.Notifications.Fallback,
	}
}

// Listener turns record lifecycle events into notifications. Publishing runs
// in the background so record updates never wait on ntfy.
type Listener struct {
	svc     Service
	toggles Toggles
	timeout time.Duration
	logger  *slog.Logger
	wg      sync.WaitGroup
}

// NewListener wraps svc.
func NewListener(svc Service, toggles Toggles, timeout time.Duration, logger *slog.Logger) *Listener {
	if svc == nil {
		svc = noopService{}
	}
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	return &Listener{
		svc:     svc,
		toggles: toggles,
		timeout: timeout,
		logger:  logging.NewComponentLogger(logger, "notifications"),
	}
}

// Transition publishes completed and failed outcomes. Cancellations are
// caller-initiated and stay quiet.
func (l *Listener) Transition(before, after checkin.Record) {
	if before.Status == after.Status {
		return
	}
	switch {
	case after.Status == checkin.StatusCompleted && l.toggles.Completed:
		l.publish(EventCheckinCompleted, recordPayload(after))
	case after.Status == checkin.StatusFailed && l.toggles.Failed:
		payload := recordPayload(after)
		payload["error"] = after.Error
		l.publish(EventCheckinFailed, payload)
	}
}

// Fallback publishes a backend switch.
func (l *Listener) Fallback(rec checkin.Record, from, to string, cause error) {
	if !l.toggles.Fallback {
		return
	}
	payload := recordPayload(rec)
	payload["from"] = from
	payload["to"] = to
	if cause != nil {
		payload["error"] = cause.Error()
	}
	l.publish(EventBackendFallback, payload)
}

// Wait blocks until in-flight notifications finish.
func (l *Listener) Wait() {
	l.wg.Wait()
}

func (l *Listener) publish(event Event, payload Payload) {
	l.wg.Add(1)
	go func() {
		defer l.wg.Done()
		ctx, cancel := context.WithTimeout(context.Background(), l.timeout)
		defer cancel()
		if err := l.svc.Publish(ctx, event, payload); err != nil {
			logging.WarnWithContext(l.logger, "notification failed", "notification_failed",
				logging.String("event", string(event)),
				logging.Error(err),
				logging.String(logging.FieldErrorHint, "check notifications.ntfy_topic"),
				logging.String(logging.FieldImpact, "check-in state is unaffected"),
			)
		}
	}()
}

func recordPayload(rec checkin.Record) Payload {
	return Payload{
		"id":                 rec.ID,
		"confirmationNumber": rec.ConfirmationCode,
		"traveler":           rec.TravelerName(),
		"boardingPosition":   rec.BoardingPosition,
		"source":             string(rec.Source),
	}
}
