package store

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/kiennt/alpaca-playground/internal/models"
)

// JSONFile stores results as a single JSON array, rewritten on each Append
// through a temp file and rename so readers never see a partial array.
type JSONFile struct {
	path string
	mu   sync.Mutex
}

// NewJSONFile creates a store at path, creating its directory if needed.
func NewJSONFile(path string) (*JSONFile, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return nil, fmt.Errorf("create store directory: %w", err)
	}
	return &JSONFile{path: path}, nil
}

// Path returns the backing file path.
func (f *JSONFile) Path() string {
	return f.path
}

// Close is a no-op; the file is only open during Load and Append.
func (f *JSONFile) Close() error {
	return nil
}

// Load reads every persisted result.
func (f *JSONFile) Load(ctx context.Context) ([]models.Result, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.load()
}

func (f *JSONFile) load() ([]models.Result, error) {
	data, err := os.ReadFile(f.path)
	if errors.Is(err, os.ErrNotExist) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("read %s: %w", f.path, err)
	}
	if len(bytes.TrimSpace(data)) == 0 {
		return nil, nil
	}

	var results []models.Result
	if err := json.Unmarshal(data, &results); err != nil {
		return nil, fmt.Errorf("%w: %s: %v", ErrCorruptStore, f.path, err)
	}
	return results, nil
}

// Append merges results onto the stored array (old ++ new). Corrupt
// content is moved aside and treated as empty.
func (f *JSONFile) Append(ctx context.Context, results []models.Result) error {
	if len(results) == 0 {
		return nil
	}
	if err := ctx.Err(); err != nil {
		return fmt.Errorf("%w: %v", ErrPersistence, err)
	}

	f.mu.Lock()
	defer f.mu.Unlock()

	existing, err := f.load()
	switch {
	case errors.Is(err, ErrCorruptStore):
		aside := fmt.Sprintf("%s.corrupt-%d", f.path, time.Now().Unix())
		if renameErr := os.Rename(f.path, aside); renameErr != nil {
			return fmt.Errorf("%w: move corrupt store aside: %v", ErrPersistence, renameErr)
		}
		log.Printf("Warning: %v (moved to %s, starting empty)", err, aside)
		existing = nil
	case err != nil:
		// Unreadable but possibly intact; never overwrite it blindly.
		return fmt.Errorf("%w: %v", ErrPersistence, err)
	}

	merged := make([]models.Result, 0, len(existing)+len(results))
	merged = append(merged, existing...)
	merged = append(merged, results...)

	data, err := json.Marshal(merged)
	if err != nil {
		return fmt.Errorf("%w: marshal results: %v", ErrPersistence, err)
	}
	if err := writeFileAtomic(f.path, data); err != nil {
		return fmt.Errorf("%w: %v", ErrPersistence, err)
	}
	return nil
}

// writeFileAtomic replaces path with data via a synced temp file.
func writeFileAtomic(path string, data []byte) error {
	tmp, err := os.CreateTemp(filepath.Dir(path), filepath.Base(path)+".tmp-*")
	if err != nil {
		return fmt.Errorf("create temp file: %w", err)
	}
	tmpName := tmp.Name()
	defer os.Remove(tmpName)

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		return fmt.Errorf("write temp file: %w", err)
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		return fmt.Errorf("sync temp file: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("close temp file: %w", err)
	}
	if err := os.Rename(tmpName, path); err != nil {
		return fmt.Errorf("rename temp file: %w", err)
	}
	return nil
}
