package notifications

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"checkpilot/internal/config"
)

const userAgent = "Checkpilot/0.1.0"

// Event names a notification kind.
type Event string

const (
	EventCheckinCompleted Event = "checkin_completed"
	EventCheckinFailed    Event = "checkin_failed"
	EventBackendFallback  Event = "backend_fallback"
	EventTest             Event = "test"
)

// Payload carries the event fields a message is rendered from.
type Payload map[string]any

// Service publishes notifications.
type Service interface {
	Publish(ctx context.Context, event Event, payload Payload) error
}

// HTTPDoer describes the HTTP client used to reach ntfy.
type HTTPDoer interface {
	Do(req *http.Request) (*http.Response, error)
}

// NewService builds a notification service backed by ntfy when configured.
// When no ntfy topic is configured, a noop implementation is returned.
func NewService(cfg *config.Config) Service {
	if cfg == nil {
		return noopService{}
	}
	topic := strings.TrimSpace(cfg.Notifications.NtfyTopic)
	if topic == "" {
		return noopService{}
	}
	timeout := cfg.NotificationTimeout()
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	return NewNtfyService(topic, &http.Client{Timeout: timeout})
}

// NewNtfyService posts to an ntfy topic URL with client.
func NewNtfyService(endpoint string, client HTTPDoer) Service {
	return &ntfyService{endpoint: strings.TrimSpace(endpoint), client: client}
}

type message struct {
	title    string
	body     string
	tags     []string
	priority string
}

type ntfyService struct {
	endpoint string
	client   HTTPDoer
}

func (n *ntfyService) Publish(ctx context.Context, event Event, payload Payload) error {
	msg, ok := render(event, payload)
	if !ok {
		return nil
	}
	return n.send(ctx, msg)
}

func render(event Event, payload Payload) (message, bool) {
	code := text(payload, "confirmationNumber")
	traveler := text(payload, "traveler")
	subject := code
	if traveler != "" {
		subject = fmt.Sprintf("%s (%s)", code, traveler)
	}

	switch event {
	case EventCheckinCompleted:
		body := fmt.Sprintf("✅ Checked in: %s", subject)
		if position := text(payload, "boardingPosition"); position != "" {
			body += "\nBoarding position: " + position
		}
		return message{
			title:    "Checkpilot - Checked In",
			body:     body,
			tags:     []string{"checkpilot", "checkin", "completed"},
			priority: "high",
		}, true
	case EventCheckinFailed:
		body := fmt.Sprintf("❌ Check-in failed: %s", subject)
		if reason := text(payload, "error"); reason != "" {
			body += "\n" + reason
		}
		return message{
			title:    "Checkpilot - Check-in Failed",
			body:     body,
			tags:     []string{"checkpilot", "error", "alert"},
			priority: "high",
		}, true
	case EventBackendFallback:
		return message{
			title: "Checkpilot - Fallback",
			body: fmt.Sprintf("⚠️ %s moved from %s to %s: %s",
				subject, text(payload, "from"), text(payload, "to"), text(payload, "error")),
			tags: []string{"checkpilot", "fallback", text(payload, "to")},
		}, true
	case EventTest:
		return message{
			title:    "Checkpilot - Test",
			body:     "🧪 Notification system test",
			tags:     []string{"checkpilot", "test"},
			priority: "low",
		}, true
	default:
		return message{}, false
	}
}

func text(payload Payload, key string) string {
	if payload == nil {
		return ""
	}
	value, ok := payload[key]
	if !ok || value == nil {
		return ""
	}
	return strings.TrimSpace(fmt.Sprint(value))
}

func (n *ntfyService) send(ctx context.Context, msg message) error {
	if n == nil || n.client == nil {
		return nil
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, n.endpoint, strings.NewReader(msg.body))
	if err != nil {
		return fmt.Errorf("build ntfy request: %w", err)
	}
	req.Header.Set("User-Agent", userAgent)
	req.Header.Set("Content-Type", "text/plain; charset=utf-8")
	if msg.title != "" {
		req.Header.Set("Title", msg.title)
	}
	if len(msg.tags) > 0 {
		req.Header.Set("Tags", strings.Join(msg.tags, ","))
	}
	if msg.priority != "" && msg.priority != "default" {
		req.Header.Set("Priority", msg.priority)
	}

	resp, err := n.client.Do(req)
	if err != nil {
		return fmt.Errorf("send ntfy notification: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 300 {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 2048))
		return fmt.Errorf("ntfy returned %d: %s", resp.StatusCode, strings.TrimSpace(string(body)))
	}
	_, _ = io.Copy(io.Discard, resp.Body)
	return nil
}

type noopService struct{}

func (noopService) Publish(context.Context, Event, Payload) error { return nil }
