// Package input reads work item files and splits large datasets into batches.
package input

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"github.com/kiennt/alpaca-playground/internal/models"
)

// ErrDuplicateID is returned when two input items share an id.
var ErrDuplicateID = errors.New("duplicate item id")

// Load reads a JSON array of work items. Every item needs an id and ids must
// be unique within the file.
func Load(path string) ([]models.WorkItem, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read input: %w", err)
	}

	var items []models.WorkItem
	if err := json.Unmarshal(data, &items); err != nil {
		return nil, fmt.Errorf("decode input %s: %w", path, err)
	}

	seen := make(map[string]int, len(items))
	for i, item := range items {
		if prev, ok := seen[item.ID]; ok {
			return nil, fmt.Errorf("%w: %s at positions %d and %d", ErrDuplicateID, item.ID, prev, i)
		}
		seen[item.ID] = i
	}
	return items, nil
}

// Split divides the JSON array at src into n batch files <dir>/0.json ..
// <dir>/<n-1>.json of near-equal size. Records without an id get their
// position within the batch, starting at 0. It returns the written paths.
func Split(src, dir string, n int) ([]string, error) {
	if n <= 0 {
		return nil, fmt.Errorf("split: batch count must be positive, got %d", n)
	}

	data, err := os.ReadFile(src)
	if err != nil {
		return nil, fmt.Errorf("read dataset: %w", err)
	}
	var records []map[string]json.RawMessage
	if err := json.Unmarshal(data, &records); err != nil {
		return nil, fmt.Errorf("decode dataset %s: %w", src, err)
	}

	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("create batch directory: %w", err)
	}

	paths := make([]string, 0, n)
	total := len(records)
	for i := 0; i < n; i++ {
		lo, hi := i*total/n, (i+1)*total/n
		batch := make([]map[string]json.RawMessage, 0, hi-lo)
		for index, rec := range records[lo:hi] {
			batch = append(batch, withDefaultID(rec, index))
		}

		out, err := json.Marshal(batch)
		if err != nil {
			return nil, fmt.Errorf("encode batch %d: %w", i, err)
		}
		path := filepath.Join(dir, fmt.Sprintf("%d.json", i))
		if err := os.WriteFile(path, out, 0644); err != nil {
			return nil, fmt.Errorf("write batch %d: %w", i, err)
		}
		paths = append(paths, path)
	}
	return paths, nil
}

// withDefaultID returns a copy of rec that has an id, using index if rec
// carries none.
func withDefaultID(rec map[string]json.RawMessage, index int) map[string]json.RawMessage {
	out := make(map[string]json.RawMessage, len(rec)+1)
	out["id"] = json.RawMessage(fmt.Sprintf("%d", index))
	for k, v := range rec {
		out[k] = v
	}
	return out
}
