package sink

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"

	"dealscout/internal/config"
)

func TestWebhookSinkPostsBatch(t *testing.T) {
	var got webhookPayload
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost {
			t.Errorf("method = %s, want POST", r.Method)
		}
		if ct := r.Header.Get("Content-Type"); ct != "application/json" {
			t.Errorf("content type = %q", ct)
		}
		if err := json.NewDecoder(r.Body).Decode(&got); err != nil {
			t.Errorf("decode payload: %v", err)
		}
		w.WriteHeader(http.StatusAccepted)
	}))
	defer server.Close()

	s, err := NewWebhook(config.WebhookSinkConfig{URL: server.URL}, discardLogger())
	if err != nil {
		t.Fatalf("NewWebhook: %v", err)
	}
	if err := s.Append(context.Background(), "scan_results", sampleRows()); err != nil {
		t.Fatalf("Append: %v", err)
	}

	if got.Destination != "scan_results" {
		t.Fatalf("destination = %q", got.Destination)
	}
	if len(got.Rows) != 2 || got.Rows[0].Identifier != "036000291452" {
		t.Fatalf("unexpected rows: %+v", got.Rows)
	}
}

func TestWebhookSinkRejectsErrorStatus(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "nope", http.StatusBadGateway)
	}))
	defer server.Close()

	s, err := NewWebhook(config.WebhookSinkConfig{URL: server.URL}, discardLogger())
	if err != nil {
		t.Fatalf("NewWebhook: %v", err)
	}
	if err := s.Append(context.Background(), "scan_results", sampleRows()); err == nil {
		t.Fatal("expected an error for a 502 response")
	}
}

func TestWebhookSinkSkipsEmptyBatch(t *testing.T) {
	var hits atomic.Int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hits.Add(1)
	}))
	defer server.Close()

	s, err := NewWebhook(config.WebhookSinkConfig{URL: server.URL}, discardLogger())
	if err != nil {
		t.Fatalf("NewWebhook: %v", err)
	}
	if err := s.Append(context.Background(), "scan_results", nil); err != nil {
		t.Fatalf("Append: %v", err)
	}
	if hits.Load() != 0 {
		t.Fatal("empty batch should not reach the endpoint")
	}
}

func TestNewWebhookValidatesURL(t *testing.T) {
	for _, raw := range []string{"", "   ", "not-a-url", "/relative"} {
		if _, err := NewWebhook(config.WebhookSinkConfig{URL: raw}, discardLogger()); err == nil {
			t.Errorf("NewWebhook(%q) should fail", raw)
		}
	}
}
