// Package queue provides the shared backlog that workers drain.
package queue

import (
	"sync"

	"github.com/kiennt/alpaca-playground/internal/models"
)

// WorkQueue is an ordered backlog safe for concurrent poppers. Items are
// removed from the front only and never re-inserted.
type WorkQueue struct {
	mu    sync.Mutex
	items []models.WorkItem
	head  int
}

// New creates a queue over a copy of items.
func New(items []models.WorkItem) *WorkQueue {
	copied := make([]models.WorkItem, len(items))
	copy(copied, items)
	return &WorkQueue{items: copied}
}

// TryPop removes and returns the front item. ok is false when the queue is
// empty.
func (q *WorkQueue) TryPop() (item models.WorkItem, ok bool) {
	q.mu.Lock()
	defer q.mu.Unlock()

	if q.head >= len(q.items) {
		return models.WorkItem{}, false
	}
	item = q.items[q.head]
	q.items[q.head] = models.WorkItem{}
	q.head++
	if q.head == len(q.items) {
		q.items = nil
		q.head = 0
	}
	return item, true
}

// IsEmpty reports whether every item has been popped.
func (q *WorkQueue) IsEmpty() bool {
	return q.Len() == 0
}

// Len returns the number of items not yet popped.
func (q *WorkQueue) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.items) - q.head
}
