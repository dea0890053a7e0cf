// Package resume decides which input items still need processing.
package resume

import "github.com/kiennt/alpaca-playground/internal/models"

// Index is the set of item ids already present in the result store.
type Index struct {
	ids map[string]struct{}
}

// Build collects the ids of persisted results.
func Build(results []models.Result) Index {
	ids := make(map[string]struct{}, len(results))
	for _, r := range results {
		ids[r.ID] = struct{}{}
	}
	return Index{ids: ids}
}

// Contains reports whether id has a persisted result.
func (ix Index) Contains(id string) bool {
	_, ok := ix.ids[id]
	return ok
}

// Len returns the number of distinct completed ids.
func (ix Index) Len() int {
	return len(ix.ids)
}

// Filter returns the items without a persisted result, in input order.
func (ix Index) Filter(items []models.WorkItem) []models.WorkItem {
	pending := make([]models.WorkItem, 0, len(items))
	for _, item := range items {
		if !ix.Contains(item.ID) {
			pending = append(pending, item)
		}
	}
	return pending
}
