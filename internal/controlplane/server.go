// Package controlplane serves a read-only HTTP view of a running batch.
package controlplane

import (
	"context"
	"encoding/json"
	"log"
	"net/http"
	"strconv"
	"time"

	"github.com/kiennt/alpaca-playground/internal/models"
)

const (
	defaultAuditLimit = 100
	maxAuditLimit     = 1000
)

// StatsSource reports the state of a run. *scheduler.Scheduler implements it.
type StatsSource interface {
	Stats() models.Stats
}

// AuditLister reads audit records. *store.Store implements it.
type AuditLister interface {
	ListPDR(ctx context.Context, runID string, limit int) ([]models.PDREntry, error)
}

// Server provides the monitoring API for one run.
type Server struct {
	stats   StatsSource
	audit   AuditLister
	addr    string
	version string
	server  *http.Server
}

// NewServer creates a new HTTP server. audit may be nil when the run keeps
// no audit trail.
func NewServer(stats StatsSource, audit AuditLister, addr, version string) *Server {
	s := &Server{
		stats:   stats,
		audit:   audit,
		addr:    addr,
		version: version,
	}
	s.server = &http.Server{
		Addr:         addr,
		Handler:      s.Handler(),
		ReadTimeout:  10 * time.Second,
		WriteTimeout: 30 * time.Second,
	}
	return s
}

// Handler returns the API routes.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/health", s.handleHealth)
	mux.HandleFunc("/stats", s.handleStats)
	mux.HandleFunc("/agents", s.handleAgents)
	mux.HandleFunc("/audit", s.handleAudit)
	return mux
}

// Start starts the HTTP server and blocks until it stops.
func (s *Server) Start() error {
	log.Printf("Serving run status on %s", s.addr)
	return s.server.ListenAndServe()
}

// Shutdown gracefully shuts down the server.
func (s *Server) Shutdown(ctx context.Context) error {
	return s.server.Shutdown(ctx)
}

// HealthResponse is the body of GET /health.
type HealthResponse struct {
	OK      bool   `json:"ok"`
	RunID   string `json:"run_id"`
	Done    bool   `json:"done"`
	Version string `json:"version"`
	Time    string `json:"time"`
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	stats := s.stats.Stats()
	writeJSON(w, http.StatusOK, HealthResponse{
		OK:      true,
		RunID:   stats.RunID,
		Done:    stats.Done,
		Version: s.version,
		Time:    time.Now().UTC().Format(time.RFC3339),
	})
}

// handleStats handles GET /stats
func (s *Server) handleStats(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	writeJSON(w, http.StatusOK, s.stats.Stats())
}

// handleAgents handles GET /agents
func (s *Server) handleAgents(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	agents := s.stats.Stats().Agents
	if agents == nil {
		agents = []models.AgentStats{}
	}
	writeJSON(w, http.StatusOK, agents)
}

// handleAudit handles GET /audit?run=<id>&limit=<n>. The run defaults to the
// one being served.
func (s *Server) handleAudit(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	if s.audit == nil {
		http.Error(w, "audit trail not enabled", http.StatusNotFound)
		return
	}

	limit := defaultAuditLimit
	if v := r.URL.Query().Get("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n <= 0 {
			http.Error(w, "invalid limit", http.StatusBadRequest)
			return
		}
		limit = min(n, maxAuditLimit)
	}
	runID := r.URL.Query().Get("run")
	if runID == "" {
		runID = s.stats.Stats().RunID
	}

	entries, err := s.audit.ListPDR(r.Context(), runID, limit)
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	if entries == nil {
		entries = []models.PDREntry{}
	}
	writeJSON(w, http.StatusOK, entries)
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}
