// Package store persists processed results so runs can resume.
package store

import (
	"context"
	"errors"
	"path/filepath"
	"strings"

	"github.com/kiennt/alpaca-playground/internal/models"
)

// Sentinel errors for store operations.
var (
	// ErrPersistence wraps any failure to write results.
	ErrPersistence = errors.New("persistence failure")
	// ErrCorruptStore means existing content could not be decoded.
	ErrCorruptStore = errors.New("result store is corrupt")
)

// ResultStore is an append-only sequence of results.
//
// A store assumes it is the only writer: Append reads, merges and rewrites
// (or inserts) without coordinating with other processes, so two runs must
// never share one store.
type ResultStore interface {
	// Load returns every persisted result in append order. A missing store
	// is empty; unreadable content returns ErrCorruptStore.
	Load(ctx context.Context) ([]models.Result, error)

	// Append adds results after the existing ones. Nothing is written when
	// it fails, and an empty batch is a no-op.
	Append(ctx context.Context, results []models.Result) error

	// Close releases any held resources.
	Close() error
}

// Open picks a backend by file extension: .db, .sqlite and .sqlite3 use
// SQLite; anything else is a JSON array file.
func Open(path string) (ResultStore, error) {
	if IsSQLitePath(path) {
		return New(path)
	}
	return NewJSONFile(path)
}

// IsSQLitePath reports whether Open would choose the SQLite backend.
func IsSQLitePath(path string) bool {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".db", ".sqlite", ".sqlite3":
		return true
	}
	return false
}
