package webhook

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/loykin/watchdog/internal/history"
)

func TestSink_Send(t *testing.T) {
	var receivedBody []byte
	var receivedMethod, receivedType string

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		receivedMethod = r.Method
		receivedType = r.Header.Get("Content-Type")
		receivedBody, _ = io.ReadAll(r.Body)
		w.WriteHeader(http.StatusCreated)
	}))
	defer server.Close()

	sink := New(server.URL + "/hooks/watchdog")
	event := history.Event{
		Type:       history.EventStart,
		OccurredAt: time.Now().UTC(),
		Name:       "gateway.js",
		PID:        12345,
		Reason:     "crash",
	}
	if err := sink.Send(context.Background(), event); err != nil {
		t.Fatalf("Expected no error, got: %v", err)
	}

	if receivedMethod != http.MethodPost {
		t.Errorf("Expected POST method, got: %s", receivedMethod)
	}
	if receivedType != "application/json" {
		t.Errorf("Expected JSON content type, got: %s", receivedType)
	}
	var m map[string]any
	if err := json.Unmarshal(receivedBody, &m); err != nil {
		t.Fatalf("invalid json: %v", err)
	}
	if m["type"] != "start" || m["reason"] != "crash" || m["pid"] != float64(12345) {
		t.Fatalf("unexpected payload: %v", m)
	}
	if _, ok := m["error"]; ok {
		t.Fatalf("empty error must be omitted: %v", m)
	}
}

func TestSink_ErrorStatus(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadGateway)
	}))
	defer server.Close()

	if err := New(server.URL).Send(context.Background(), history.Event{Type: history.EventStop}); err == nil {
		t.Fatal("expected error for 502 response")
	}
}

func TestSink_ConnectionError(t *testing.T) {
	if err := New("http://127.0.0.1:1/none").Send(context.Background(), history.Event{}); err == nil {
		t.Fatal("expected connection error")
	}
}
