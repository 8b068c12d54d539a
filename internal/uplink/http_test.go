package uplink

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"

	"github.com/rs/zerolog"

	"github.com/afroash/vitals-monitor/internal/models"
)

func TestHTTPTransport_Deliver(t *testing.T) {
	var (
		mu       sync.Mutex
		received []models.Message
	)

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost || r.URL.Path != "/ingest" {
			w.WriteHeader(http.StatusNotFound)
			return
		}
		var msg models.Message
		if err := json.NewDecoder(r.Body).Decode(&msg); err != nil {
			w.WriteHeader(http.StatusBadRequest)
			return
		}
		mu.Lock()
		received = append(received, msg)
		mu.Unlock()

		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(models.AckMessage{MessageID: msg.ID, Status: "ok", EntryID: 4242})
	}))
	defer server.Close()

	transport := NewHTTPTransport(HTTPConfig{URL: server.URL, Path: "/ingest"}, zerolog.Nop())
	msg := testMessage(t)

	if err := transport.Deliver(context.Background(), msg); err != nil {
		t.Fatalf("Deliver() error = %v", err)
	}

	mu.Lock()
	defer mu.Unlock()
	if len(received) != 1 {
		t.Fatalf("server received %d messages, want 1", len(received))
	}
	if received[0].ID != msg.ID || received[0].Type != models.MessageTypeReading {
		t.Errorf("received %+v", received[0])
	}
}

func TestHTTPTransport_ServerError(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusServiceUnavailable)
	}))
	defer server.Close()

	transport := NewHTTPTransport(HTTPConfig{URL: server.URL}, zerolog.Nop())
	if err := transport.Deliver(context.Background(), testMessage(t)); err == nil {
		t.Fatal("Expected error for 503 response")
	}
}

func TestHTTPTransport_Unreachable(t *testing.T) {
	server := httptest.NewServer(http.NotFoundHandler())
	url := server.URL
	server.Close()

	transport := NewHTTPTransport(HTTPConfig{URL: url}, zerolog.Nop())
	if err := transport.Deliver(context.Background(), testMessage(t)); err == nil {
		t.Fatal("Expected error for closed server")
	}
}

func TestHTTPTransport_Defaults(t *testing.T) {
	transport := NewHTTPTransport(HTTPConfig{URL: "http://localhost"}, zerolog.Nop())
	if transport.path != "/telemetry" {
		t.Errorf("path = %q, want /telemetry", transport.path)
	}
	if err := transport.Close(); err != nil {
		t.Errorf("Close() error = %v", err)
	}
}
