package controlplane

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"testing"

	"github.com/kiennt/alpaca-playground/internal/audit"
	"github.com/kiennt/alpaca-playground/internal/models"
	"github.com/kiennt/alpaca-playground/internal/store"
)

type staticStats models.Stats

func (s staticStats) Stats() models.Stats { return models.Stats(s) }

func newTestServer(t *testing.T) (*Server, *store.Store) {
	t.Helper()
	s, err := store.New(filepath.Join(t.TempDir(), "audit.db"))
	if err != nil {
		t.Fatalf("Failed to create store: %v", err)
	}
	t.Cleanup(func() { s.Close() })

	stats := staticStats{
		RunID:     "run-1",
		Total:     4,
		Completed: 2,
		Failed:    1,
		Pending:   1,
		Agents:    []models.AgentStats{{Agent: "claude", Completed: 2, Failed: 1, Active: true}},
	}
	return NewServer(stats, s, "127.0.0.1:0", "test"), s
}

func get(t *testing.T, h http.Handler, target string) *http.Response {
	t.Helper()
	req := httptest.NewRequest(http.MethodGet, target, nil)
	w := httptest.NewRecorder()
	h.ServeHTTP(w, req)
	return w.Result()
}

func TestHealthEndpoint_OK(t *testing.T) {
	s, _ := newTestServer(t)

	resp := get(t, s.Handler(), "/health")
	if resp.StatusCode != http.StatusOK {
		t.Errorf("Expected status 200, got %d", resp.StatusCode)
	}

	var health HealthResponse
	if err := json.NewDecoder(resp.Body).Decode(&health); err != nil {
		t.Fatalf("Failed to decode response: %v", err)
	}
	if !health.OK {
		t.Error("Expected health.OK to be true")
	}
	if health.RunID != "run-1" {
		t.Errorf("Expected run id run-1, got %q", health.RunID)
	}
	if health.Version != "test" {
		t.Errorf("Expected version test, got %q", health.Version)
	}
	if health.Time == "" {
		t.Error("Expected time to be set")
	}
}

func TestHealthEndpoint_MethodNotAllowed(t *testing.T) {
	s, _ := newTestServer(t)

	req := httptest.NewRequest(http.MethodPost, "/health", nil)
	w := httptest.NewRecorder()
	s.handleHealth(w, req)

	if w.Result().StatusCode != http.StatusMethodNotAllowed {
		t.Errorf("Expected status 405, got %d", w.Result().StatusCode)
	}
}

func TestStatsEndpoint(t *testing.T) {
	s, _ := newTestServer(t)

	resp := get(t, s.Handler(), "/stats")
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("Expected status 200, got %d", resp.StatusCode)
	}
	var stats models.Stats
	if err := json.NewDecoder(resp.Body).Decode(&stats); err != nil {
		t.Fatalf("Failed to decode response: %v", err)
	}
	if stats.Total != 4 || stats.Completed != 2 || stats.Pending != 1 {
		t.Errorf("unexpected stats: %+v", stats)
	}
}

func TestAgentsEndpoint(t *testing.T) {
	s, _ := newTestServer(t)

	resp := get(t, s.Handler(), "/agents")
	var agents []models.AgentStats
	if err := json.NewDecoder(resp.Body).Decode(&agents); err != nil {
		t.Fatalf("Failed to decode response: %v", err)
	}
	if len(agents) != 1 || agents[0].Agent != "claude" || !agents[0].Active {
		t.Errorf("unexpected agents: %+v", agents)
	}
}

func TestAuditEndpoint(t *testing.T) {
	s, st := newTestServer(t)
	ctx := context.Background()

	current := audit.NewPDRWriter(st, "run-1")
	other := audit.NewPDRWriter(st, "run-0")
	current.Record(ctx, audit.ActionRunStart, nil, audit.OutcomeSuccess, "", "", "")
	current.Record(ctx, audit.ActionItem, "a", audit.OutcomeSuccess, "0", "claude", "")
	current.Record(ctx, audit.ActionItem, "b", audit.OutcomeFailure, "1", "claude", "boom")
	other.Record(ctx, audit.ActionRunStart, nil, audit.OutcomeSuccess, "", "", "")

	tests := []struct {
		target string
		status int
		count  int
	}{
		{"/audit", http.StatusOK, 3},
		{"/audit?limit=2", http.StatusOK, 2},
		{"/audit?run=run-0", http.StatusOK, 1},
		{"/audit?run=missing", http.StatusOK, 0},
		{"/audit?limit=abc", http.StatusBadRequest, -1},
		{"/audit?limit=0", http.StatusBadRequest, -1},
	}
	for _, tt := range tests {
		resp := get(t, s.Handler(), tt.target)
		if resp.StatusCode != tt.status {
			t.Errorf("%s: status %d, want %d", tt.target, resp.StatusCode, tt.status)
			continue
		}
		if tt.count < 0 {
			continue
		}
		var entries []models.PDREntry
		if err := json.NewDecoder(resp.Body).Decode(&entries); err != nil {
			t.Fatalf("%s: decode failed: %v", tt.target, err)
		}
		if len(entries) != tt.count {
			t.Errorf("%s: %d entries, want %d", tt.target, len(entries), tt.count)
		}
	}
}

func TestAuditEndpoint_Disabled(t *testing.T) {
	s := NewServer(staticStats{}, nil, "127.0.0.1:0", "test")
	resp := get(t, s.Handler(), "/audit")
	if resp.StatusCode != http.StatusNotFound {
		t.Errorf("Expected status 404, got %d", resp.StatusCode)
	}
}

func TestShutdownBeforeStart(t *testing.T) {
	s := NewServer(staticStats{}, nil, "127.0.0.1:0", "test")
	if err := s.Shutdown(context.Background()); err != nil {
		t.Errorf("Shutdown before Start failed: %v", err)
	}
}
