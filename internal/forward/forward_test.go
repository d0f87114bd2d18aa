package forward

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"
)

func TestSend(t *testing.T) {
	var gotAuth string
	var gotEvent Event
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotAuth = r.Header.Get("Authorization")
		if ct := r.Header.Get("Content-Type"); ct != "application/json" {
			t.Errorf("content type = %q", ct)
		}
		if err := json.NewDecoder(r.Body).Decode(&gotEvent); err != nil {
			t.Errorf("decode event: %v", err)
		}
		w.WriteHeader(http.StatusAccepted)
	}))
	defer server.Close()

	f := New(server.URL, "secret", 5*time.Second)
	event := NewEvent("result", 123, "150")
	event.CustomParams = map[string]string{"user": "56"}

	if err := f.Send(context.Background(), event); err != nil {
		t.Fatalf("Send() error: %v", err)
	}

	if gotEvent.ID != event.ID {
		t.Errorf("event id = %q, want %q", gotEvent.ID, event.ID)
	}
	if gotEvent.Kind != "result" || gotEvent.InvoiceID != 123 || gotEvent.OutSum != "150" {
		t.Errorf("event = %+v", gotEvent)
	}
	if gotEvent.CustomParams["user"] != "56" {
		t.Errorf("custom params = %v", gotEvent.CustomParams)
	}

	if !strings.HasPrefix(gotAuth, "Bearer ") {
		t.Fatalf("authorization header = %q", gotAuth)
	}
	id, err := VerifyToken(strings.TrimPrefix(gotAuth, "Bearer "), "secret")
	if err != nil {
		t.Fatalf("VerifyToken() error: %v", err)
	}
	if id != event.ID {
		t.Errorf("token event id = %q, want %q", id, event.ID)
	}
}

func TestSendRejected(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusForbidden)
	}))
	defer server.Close()

	f := New(server.URL, "secret", 5*time.Second)
	if err := f.Send(context.Background(), NewEvent("result", 1, "10")); err == nil {
		t.Fatal("Send() accepted a rejected event")
	}
}

func TestSendNoDownstream(t *testing.T) {
	f := New("", "secret", 5*time.Second)
	if err := f.Send(context.Background(), NewEvent("result", 1, "10")); err != nil {
		t.Fatalf("Send() with no downstream returned %v", err)
	}
}

func TestVerifyTokenWrongSecret(t *testing.T) {
	f := New("", "secret", 5*time.Second)
	token, err := f.signToken(NewEvent("result", 1, "10"))
	if err != nil {
		t.Fatal(err)
	}
	if _, err := VerifyToken(token, "other"); err == nil {
		t.Fatal("VerifyToken() accepted a token signed with a different secret")
	}
}

func TestNewEventUniqueIDs(t *testing.T) {
	a := NewEvent("result", 1, "10")
	b := NewEvent("result", 1, "10")
	if a.ID == b.ID {
		t.Fatalf("duplicate event id %q", a.ID)
	}
	if a.ReceivedAt.IsZero() {
		t.Error("ReceivedAt is zero")
	}
}
