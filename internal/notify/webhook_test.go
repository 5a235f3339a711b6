package notify

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/setevik/errtrack/internal/group"
)

func TestWebhookSend(t *testing.T) {
	var got Payload
	var severity string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		severity = r.Header.Get("X-Errtrack-Severity")
		if err := json.NewDecoder(r.Body).Decode(&got); err != nil {
			t.Errorf("decoding request: %v", err)
		}
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	s := NewWebhookSender(srv.URL)
	p := Payload{
		GroupID:         "g-1",
		ApplicationID:   "app",
		ErrorType:       "NoMethodError",
		Message:         "boom",
		Severity:        "high",
		OccurrenceCount: 3,
	}
	if err := s.Send(context.Background(), p); err != nil {
		t.Fatalf("Send: %v", err)
	}
	if got.ErrorType != "NoMethodError" || got.OccurrenceCount != 3 {
		t.Errorf("server received %+v", got)
	}
	if severity != "high" {
		t.Errorf("severity header = %q", severity)
	}
}

func TestWebhookSendErrorStatus(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadGateway)
	}))
	defer srv.Close()

	s := NewWebhookSender(srv.URL)
	if err := s.Send(context.Background(), Payload{}); err == nil {
		t.Error("non-2xx response should error")
	}
}

func TestWebhookDisabled(t *testing.T) {
	s := NewWebhookSender("")
	if err := s.Send(context.Background(), Payload{}); err != nil {
		t.Errorf("disabled sender should be a no-op, got %v", err)
	}
}

func TestBuildDigest(t *testing.T) {
	now := time.Now()
	groups := []*group.Group{
		{ErrorType: "A", Severity: group.SevCritical, Status: group.StatusNew, OccurrenceCount: 100, PriorityScore: 95, Message: "worst"},
		{ErrorType: "B", Severity: group.SevHigh, Status: group.StatusResolved, OccurrenceCount: 10, PriorityScore: 40, Message: "fixed"},
		{ErrorType: "C", Severity: group.SevHigh, Status: group.StatusInvestigating, OccurrenceCount: 5, PriorityScore: 60, Message: "looking"},
	}

	d := BuildDigest("app", groups, now.Add(-24*time.Hour), now, 2)
	if d.TotalGroups != 3 || d.TotalOccurrences != 115 {
		t.Errorf("totals = %d groups, %d occurrences", d.TotalGroups, d.TotalOccurrences)
	}
	if d.BySeverity[group.SevHigh] != 2 {
		t.Errorf("high count = %d, want 2", d.BySeverity[group.SevHigh])
	}
	if len(d.TopGroups) != 2 {
		t.Fatalf("top groups = %d, want 2", len(d.TopGroups))
	}
	if d.TopGroups[0].ErrorType != "A" || d.TopGroups[1].ErrorType != "C" {
		t.Errorf("top ordering = %s, %s", d.TopGroups[0].ErrorType, d.TopGroups[1].ErrorType)
	}

	text := FormatDigest(d)
	if text == "" {
		t.Fatal("empty digest text")
	}
	for _, want := range []string{"app", "Error groups:  3", "worst"} {
		if !strings.Contains(text, want) {
			t.Errorf("digest text missing %q:\n%s", want, text)
		}
	}
}
