package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/google/uuid"
	"github.com/kiennt/alpaca-playground/internal/models"
	_ "modernc.org/sqlite"
)

// Store provides SQLite-backed persistence for results and audit records.
type Store struct {
	db *sql.DB
}

// New creates a new Store and runs migrations.
func New(dbPath string) (*Store, error) {
	// Ensure directory exists
	dir := filepath.Dir(dbPath)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("create db directory: %w", err)
	}

	// modernc.org/sqlite applies connection pragmas from _pragma parameters
	db, err := sql.Open("sqlite", dbPath+"?_pragma=journal_mode(WAL)&_pragma=busy_timeout(5000)&_pragma=synchronous(NORMAL)")
	if err != nil {
		return nil, fmt.Errorf("open db: %w", err)
	}

	// SQLite only supports one writer at a time
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)

	s := &Store{db: db}
	if err := s.migrate(); err != nil {
		db.Close()
		return nil, fmt.Errorf("migrate: %w", err)
	}

	return s, nil
}

// Close closes the database connection.
func (s *Store) Close() error {
	return s.db.Close()
}

// Ping checks the database connection is alive.
func (s *Store) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

// migrate runs idempotent schema migrations.
func (s *Store) migrate() error {
	schema := `
	CREATE TABLE IF NOT EXISTS results (
		seq INTEGER PRIMARY KEY AUTOINCREMENT,
		item_id TEXT NOT NULL,
		body TEXT NOT NULL,
		created_at DATETIME NOT NULL
	);

	CREATE TABLE IF NOT EXISTS pdr (
		id TEXT PRIMARY KEY,
		run_id TEXT NOT NULL,
		action TEXT NOT NULL,
		inputs_hash TEXT NOT NULL,
		outcome TEXT NOT NULL,
		item_id TEXT,
		agent TEXT,
		details TEXT,
		timestamp DATETIME NOT NULL
	);

	CREATE INDEX IF NOT EXISTS idx_results_item_id ON results(item_id);
	CREATE INDEX IF NOT EXISTS idx_pdr_run_id ON pdr(run_id);
	CREATE INDEX IF NOT EXISTS idx_pdr_action ON pdr(action);
	`

	_, err := s.db.Exec(schema)
	return err
}

// --- Result Operations ---

// Load returns every persisted result in insertion order.
func (s *Store) Load(ctx context.Context) ([]models.Result, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT body FROM results ORDER BY seq`)
	if err != nil {
		return nil, fmt.Errorf("query results: %w", err)
	}
	defer rows.Close()

	var results []models.Result
	for rows.Next() {
		var body string
		if err := rows.Scan(&body); err != nil {
			return nil, fmt.Errorf("scan result: %w", err)
		}
		var r models.Result
		if err := json.Unmarshal([]byte(body), &r); err != nil {
			return nil, fmt.Errorf("%w: decode result: %v", ErrCorruptStore, err)
		}
		results = append(results, r)
	}
	return results, rows.Err()
}

// Append inserts results in a single transaction.
func (s *Store) Append(ctx context.Context, results []models.Result) error {
	if len(results) == 0 {
		return nil
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("%w: begin transaction: %v", ErrPersistence, err)
	}
	defer tx.Rollback()

	stmt, err := tx.PrepareContext(ctx, `INSERT INTO results (item_id, body, created_at) VALUES (?, ?, ?)`)
	if err != nil {
		return fmt.Errorf("%w: prepare insert: %v", ErrPersistence, err)
	}
	defer stmt.Close()

	now := time.Now().UTC()
	for _, r := range results {
		body, err := json.Marshal(r)
		if err != nil {
			return fmt.Errorf("%w: marshal result %s: %v", ErrPersistence, r.ID, err)
		}
		if _, err := stmt.ExecContext(ctx, r.ID, string(body), now); err != nil {
			return fmt.Errorf("%w: insert result %s: %v", ErrPersistence, r.ID, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("%w: commit transaction: %v", ErrPersistence, err)
	}
	return nil
}

// CountResults returns the number of stored results, duplicates included.
func (s *Store) CountResults(ctx context.Context) (int, error) {
	var n int
	if err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM results`).Scan(&n); err != nil {
		return 0, fmt.Errorf("count results: %w", err)
	}
	return n, nil
}

// --- PDR Operations ---

// WritePDR writes a Process Decision Record.
func (s *Store) WritePDR(ctx context.Context, pdr models.PDREntry) (*models.PDREntry, error) {
	if pdr.ID == "" {
		pdr.ID = uuid.New().String()
	}
	if pdr.Timestamp.IsZero() {
		pdr.Timestamp = time.Now().UTC()
	}

	_, err := s.db.ExecContext(ctx,
		`INSERT INTO pdr (id, run_id, action, inputs_hash, outcome, item_id, agent, details, timestamp) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		pdr.ID, pdr.RunID, pdr.Action, pdr.InputsHash, pdr.Outcome, pdr.ItemID, pdr.Agent, pdr.Details, pdr.Timestamp,
	)
	if err != nil {
		return nil, fmt.Errorf("insert pdr: %w", err)
	}
	return &pdr, nil
}

// ListPDR returns the newest records, optionally limited to one run.
func (s *Store) ListPDR(ctx context.Context, runID string, limit int) ([]models.PDREntry, error) {
	query := `SELECT id, run_id, action, inputs_hash, outcome, item_id, agent, details, timestamp FROM pdr`
	var args []interface{}

	if runID != "" {
		query += ` WHERE run_id = ?`
		args = append(args, runID)
	}
	query += ` ORDER BY timestamp DESC`
	if limit > 0 {
		query += ` LIMIT ?`
		args = append(args, limit)
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("query pdr: %w", err)
	}
	defer rows.Close()

	var entries []models.PDREntry
	for rows.Next() {
		var e models.PDREntry
		var itemID, agent, details sql.NullString
		if err := rows.Scan(&e.ID, &e.RunID, &e.Action, &e.InputsHash, &e.Outcome, &itemID, &agent, &details, &e.Timestamp); err != nil {
			return nil, fmt.Errorf("scan pdr: %w", err)
		}
		e.ItemID = itemID.String
		e.Agent = agent.String
		e.Details = details.String
		entries = append(entries, e)
	}
	return entries, rows.Err()
}

// AgentSummary is the per-agent outcome count across all runs.
type AgentSummary struct {
	Agent     string
	Completed int
	Failed    int
	LastSeen  time.Time
}

// SummarizeAgents aggregates item outcomes from the audit trail.
func (s *Store) SummarizeAgents(ctx context.Context) ([]AgentSummary, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT agent,
			SUM(CASE WHEN outcome = 'success' THEN 1 ELSE 0 END),
			SUM(CASE WHEN outcome = 'failure' THEN 1 ELSE 0 END),
			MAX(timestamp)
		FROM pdr
		WHERE action = 'item.process' AND agent IS NOT NULL AND agent != ''
		GROUP BY agent
		ORDER BY agent`)
	if err != nil {
		return nil, fmt.Errorf("query agent summary: %w", err)
	}
	defer rows.Close()

	var out []AgentSummary
	for rows.Next() {
		var a AgentSummary
		var lastSeen sql.NullString
		if err := rows.Scan(&a.Agent, &a.Completed, &a.Failed, &lastSeen); err != nil {
			return nil, fmt.Errorf("scan agent summary: %w", err)
		}
		if lastSeen.Valid {
			a.LastSeen = parseTimestamp(lastSeen.String)
		}
		out = append(out, a)
	}
	return out, rows.Err()
}

// parseTimestamp reads MAX(timestamp), which SQLite returns as text.
func parseTimestamp(s string) time.Time {
	for _, layout := range []string{time.RFC3339Nano, "2006-01-02 15:04:05.999999999-07:00", "2006-01-02 15:04:05.999999999 -0700 MST"} {
		if t, err := time.Parse(layout, s); err == nil {
			return t
		}
	}
	return time.Time{}
}
