package api

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
)

// mockPinger implements the Pinger interface for testing.
type mockPinger struct {
	err error
}

func (m *mockPinger) Ping(ctx context.Context) error {
	return m.err
}

func TestHealthzHandler(t *testing.T) {
	h := &HealthHandler{}
	w := httptest.NewRecorder()
	r := httptest.NewRequest(http.MethodGet, "/healthz", nil)

	h.Healthz(w, r)

	if w.Code != http.StatusOK {
		t.Errorf("status = %d, want %d", w.Code, http.StatusOK)
	}

	var body map[string]any
	if err := json.Unmarshal(w.Body.Bytes(), &body); err != nil {
		t.Fatalf("failed to unmarshal: %v", err)
	}
	data, ok := body["data"].(map[string]any)
	if !ok {
		t.Fatal("expected data to be a map")
	}
	if data["status"] != "ok" {
		t.Errorf("status = %v, want ok", data["status"])
	}
}

func TestHealthHandler(t *testing.T) {
	tests := []struct {
		name       string
		store      Pinger
		wantStatus int
		wantBody   string
	}{
		{
			name:       "store reachable",
			store:      &mockPinger{},
			wantStatus: http.StatusOK,
			wantBody:   "healthy",
		},
		{
			name:       "store unreachable",
			store:      &mockPinger{err: errors.New("connection refused")},
			wantStatus: http.StatusServiceUnavailable,
			wantBody:   "unhealthy",
		},
		{
			name:       "no store",
			store:      nil,
			wantStatus: http.StatusServiceUnavailable,
			wantBody:   "unhealthy",
		},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			h := &HealthHandler{Store: tc.store, Backend: "memory"}
			w := httptest.NewRecorder()
			r := httptest.NewRequest(http.MethodGet, "/health", nil)

			h.Health(w, r)

			if w.Code != tc.wantStatus {
				t.Errorf("status = %d, want %d", w.Code, tc.wantStatus)
			}

			var body map[string]any
			if err := json.Unmarshal(w.Body.Bytes(), &body); err != nil {
				t.Fatalf("failed to unmarshal: %v", err)
			}
			if body["status"] != tc.wantBody {
				t.Errorf("status = %v, want %v", body["status"], tc.wantBody)
			}
			if body["timestamp"] == nil {
				t.Error("expected timestamp")
			}
			if body["store"] != "memory" {
				t.Errorf("store = %v, want memory", body["store"])
			}
		})
	}
}
