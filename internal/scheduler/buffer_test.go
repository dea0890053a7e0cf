package scheduler

import (
	"fmt"
	"sync"
	"testing"

	"github.com/kiennt/alpaca-playground/internal/models"
)

func TestBuffer_DrainEmpties(t *testing.T) {
	var b Buffer
	b.Append(item(t, 0, "a"), item(t, 1, "b"))

	batch := b.Drain()
	if len(batch) != 2 {
		t.Fatalf("Drain returned %d results, want 2", len(batch))
	}
	if b.Len() != 0 {
		t.Errorf("buffer not empty after drain: %d", b.Len())
	}
	if again := b.Drain(); len(again) != 0 {
		t.Errorf("second drain returned %d results", len(again))
	}
}

func TestBuffer_RestoreGoesFirst(t *testing.T) {
	var b Buffer
	b.Append(item(t, 0, "a"))
	batch := b.Drain()
	b.Append(item(t, 1, "b"))
	b.Restore(batch)

	got := b.Drain()
	if len(got) != 2 || got[0].ID != "0" || got[1].ID != "1" {
		t.Errorf("unexpected order after restore: %v", got)
	}
}

// Concurrent appends and drains must hand out every result exactly once.
func TestBuffer_ConcurrentAppendDrain(t *testing.T) {
	const writers = 8
	const perWriter = 250

	var b Buffer
	var wg sync.WaitGroup
	for w := 0; w < writers; w++ {
		wg.Add(1)
		go func(w int) {
			defer wg.Done()
			for i := 0; i < perWriter; i++ {
				b.Append(models.Record{ID: fmt.Sprintf("%d-%d", w, i)})
			}
		}(w)
	}

	seen := make(map[string]int)
	done := make(chan struct{})
	go func() {
		wg.Wait()
		close(done)
	}()

	collect := func() {
		for _, r := range b.Drain() {
			seen[r.ID]++
		}
	}
	for running := true; running; {
		select {
		case <-done:
			running = false
		default:
			collect()
		}
	}
	collect()

	if len(seen) != writers*perWriter {
		t.Fatalf("saw %d distinct results, want %d", len(seen), writers*perWriter)
	}
	for id, n := range seen {
		if n != 1 {
			t.Errorf("result %s drained %d times", id, n)
		}
	}
}
