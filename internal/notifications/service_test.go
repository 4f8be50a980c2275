package notifications_test

import (
	"context"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"checkpilot/internal/checkin"
	"checkpilot/internal/config"
	"checkpilot/internal/logging"
	"checkpilot/internal/notifications"
)

type captured struct {
	title    string
	body     string
	tags     string
	priority string
}

type ntfyStub struct {
	*httptest.Server
	mu       sync.Mutex
	messages []captured
}

func newNtfyStub(t *testing.T) *ntfyStub {
	t.Helper()
	stub := &ntfyStub{}
	stub.Server = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		body, _ := io.ReadAll(r.Body)
		stub.mu.Lock()
		stub.messages = append(stub.messages, captured{
			title:    r.Header.Get("Title"),
			body:     string(body),
			tags:     r.Header.Get("Tags"),
			priority: r.Header.Get("Priority"),
		})
		stub.mu.Unlock()
		w.WriteHeader(http.StatusOK)
	}))
	t.Cleanup(stub.Close)
	return stub
}

func (s *ntfyStub) all() []captured {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]captured(nil), s.messages...)
}

func TestNewServiceReturnsNoopWhenTopicMissing(t *testing.T) {
	cfg := config.Default()
	cfg.Notifications.NtfyTopic = ""
	svc := notifications.NewService(&cfg)
	if err := svc.Publish(context.Background(), notifications.EventCheckinCompleted, notifications.Payload{"confirmationNumber": "ABC123"}); err != nil {
		t.Fatalf("expected noop notifier to return nil, got %v", err)
	}
}

func TestNtfyServiceFormatsPayloads(t *testing.T) {
	tests := []struct {
		name           string
		event          notifications.Event
		payload        notifications.Payload
		expectTitle    string
		expectBody     string
		expectTags     string
		expectPriority string
	}{
		{
			name:  "completed",
			event: notifications.EventCheckinCompleted,
			payload: notifications.Payload{
				"confirmationNumber": "ABC123",
				"traveler":           "Jo Doe",
				"boardingPosition":   "B12",
			},
			expectTitle:    "Checkpilot - Checked In",
			expectBody:     "✅ Checked in: ABC123 (Jo Doe)\nBoarding position: B12",
			expectTags:     "checkpilot,checkin,completed",
			expectPriority: "high",
		},
		{
			name:  "failed",
			event: notifications.EventCheckinFailed,
			payload: notifications.Payload{
				"confirmationNumber": "ABC123",
				"error":              "Process exited with code 1",
			},
			expectTitle:    "Checkpilot - Check-in Failed",
			expectBody:     "❌ Check-in failed: ABC123\nProcess exited with code 1",
			expectTags:     "checkpilot,error,alert",
			expectPriority: "high",
		},
		{
			name:  "fallback",
			event: notifications.EventBackendFallback,
			payload: notifications.Payload{
				"confirmationNumber": "XYZ789",
				"from":               "process",
				"to":                 "remote",
				"error":              "launch failed",
			},
			expectTitle: "Checkpilot - Fallback",
			expectBody:  "⚠️ XYZ789 moved from process to remote: launch failed",
			expectTags:  "checkpilot,fallback,remote",
		},
		{
			name:           "test",
			event:          notifications.EventTest,
			expectTitle:    "Checkpilot - Test",
			expectBody:     "🧪 Notification system test",
			expectTags:     "checkpilot,test",
			expectPriority: "low",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			stub := newNtfyStub(t)
			svc := notifications.NewNtfyService(stub.URL, stub.Client())
			if err := svc.Publish(context.Background(), tt.event, tt.payload); err != nil {
				t.Fatalf("Publish failed: %v", err)
			}
			msgs := stub.all()
			if len(msgs) != 1 {
				t.Fatalf("expected one message, got %d", len(msgs))
			}
			got := msgs[0]
			if got.title != tt.expectTitle {
				t.Fatalf("title: got %q want %q", got.title, tt.expectTitle)
			}
			if got.body != tt.expectBody {
				t.Fatalf("body: got %q want %q", got.body, tt.expectBody)
			}
			if got.tags != tt.expectTags {
				t.Fatalf("tags: got %q want %q", got.tags, tt.expectTags)
			}
			if got.priority != tt.expectPriority {
				t.Fatalf("priority: got %q want %q", got.priority, tt.expectPriority)
			}
		})
	}
}

func TestNtfyServiceReportsHTTPErrors(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		http.Error(w, "topic reserved", http.StatusForbidden)
	}))
	defer srv.Close()

	svc := notifications.NewNtfyService(srv.URL, srv.Client())
	err := svc.Publish(context.Background(), notifications.EventTest, nil)
	if err == nil {
		t.Fatal("expected error for 403")
	}
}

func TestListenerPublishesTerminalOutcomes(t *testing.T) {
	stub := newNtfyStub(t)
	listener := notifications.NewListener(
		notifications.NewNtfyService(stub.URL, stub.Client()),
		notifications.Toggles{Completed: true, Failed: true, Fallback: false},
		time.Second,
		logging.NewNop(),
	)

	base := checkin.Record{ID: "1", ConfirmationCode: "ABC123", FirstName: "Jo", LastName: "Doe", Status: checkin.StatusCheckingIn}
	completed := base
	completed.Status = checkin.StatusCompleted
	completed.BoardingPosition = "A5"
	listener.Transition(base, completed)

	cancelled := base
	cancelled.Status = checkin.StatusCancelled
	listener.Transition(base, cancelled)

	listener.Fallback(base, "process", "remote", errors.New("boom"))

	failed := base
	failed.Status = checkin.StatusFailed
	failed.Error = "Process exited with code 2"
	listener.Transition(base, failed)
	listener.Wait()

	msgs := stub.all()
	if len(msgs) != 2 {
		t.Fatalf("expected completed and failed notifications only, got %d: %+v", len(msgs), msgs)
	}
	titles := map[string]bool{}
	for _, m := range msgs {
		titles[m.title] = true
	}
	if !titles["Checkpilot - Checked In"] || !titles["Checkpilot - Check-in Failed"] {
		t.Fatalf("unexpected notifications %+v", msgs)
	}
}
