package webhook

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"
)

func TestPost_SendsJSONAndReturnsStatus(t *testing.T) {
	var received map[string]any
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Header.Get("Content-Type") != "application/json" {
			t.Errorf("content type = %q", r.Header.Get("Content-Type"))
		}
		if err := json.NewDecoder(r.Body).Decode(&received); err != nil {
			t.Errorf("decode body: %v", err)
		}
		w.WriteHeader(http.StatusAccepted)
	}))
	defer srv.Close()

	c := NewClient(5 * time.Second)
	status, err := c.Post(context.Background(), srv.URL, map[string]any{"step_index": 1})
	if err != nil {
		t.Fatalf("post failed: %v", err)
	}
	if status != http.StatusAccepted {
		t.Errorf("status = %d, want 202", status)
	}
	if received["step_index"] != float64(1) {
		t.Errorf("payload lost: %v", received)
	}
}

func TestPost_ErrorStatusIsNotATransportError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusBadGateway)
	}))
	defer srv.Close()

	c := NewClient(5 * time.Second)
	status, err := c.Post(context.Background(), srv.URL, nil)
	if err != nil {
		t.Fatalf("non-2xx should not be an error here: %v", err)
	}
	if status != http.StatusBadGateway {
		t.Errorf("status = %d, want 502", status)
	}
}

func TestPost_UnreachableHostIsAnError(t *testing.T) {
	c := NewClient(time.Second)
	if _, err := c.Post(context.Background(), "http://127.0.0.1:1/hook", nil); err == nil {
		t.Fatal("expected transport error")
	}
}
