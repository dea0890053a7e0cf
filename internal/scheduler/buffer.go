package scheduler

import (
	"sync"

	"github.com/kiennt/alpaca-playground/internal/models"
)

// Buffer collects results between flushes. Workers append; only the writer
// drains.
type Buffer struct {
	mu      sync.Mutex
	results []models.Result
}

// Append adds results to the buffer.
func (b *Buffer) Append(results ...models.Result) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.results = append(b.results, results...)
}

// Drain takes every buffered result and leaves the buffer empty in one step.
func (b *Buffer) Drain() []models.Result {
	b.mu.Lock()
	defer b.mu.Unlock()
	out := b.results
	b.results = nil
	return out
}

// Restore puts an unflushed batch back in front of anything appended since
// it was drained.
func (b *Buffer) Restore(batch []models.Result) {
	if len(batch) == 0 {
		return
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	merged := make([]models.Result, 0, len(batch)+len(b.results))
	merged = append(merged, batch...)
	merged = append(merged, b.results...)
	b.results = merged
}

// Len returns the number of buffered results.
func (b *Buffer) Len() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.results)
}
