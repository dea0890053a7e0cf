package scheduler

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/kiennt/alpaca-playground/internal/audit"
	"github.com/kiennt/alpaca-playground/internal/models"
	"github.com/kiennt/alpaca-playground/internal/queue"
	"github.com/kiennt/alpaca-playground/internal/resume"
	"github.com/kiennt/alpaca-playground/internal/store"
	"golang.org/x/sync/errgroup"
	"golang.org/x/time/rate"
)

// finalFlushAttempts bounds the closing flush once workers have stopped.
const finalFlushAttempts = 3

// Asker answers one query. *completion.Client implements it.
type Asker interface {
	Ask(ctx context.Context, query string) (string, error)
}

// ClientFactory creates the client a worker uses for its whole run.
type ClientFactory func(agent string) Asker

// Scheduler runs a fixed pool of workers over a backlog and a writer that
// persists their results.
type Scheduler struct {
	store     store.ResultStore
	pdr       *audit.PDRWriter
	newClient ClientFactory
	config    *Config
	limiter   *rate.Limiter
	buffer    Buffer

	// Run state
	mu         sync.Mutex
	queue      *queue.WorkQueue
	stats      models.Stats
	agentStats map[string]*models.AgentStats
	lastFlush  error
}

// New creates a new scheduler.
func New(s store.ResultStore, pdr *audit.PDRWriter, newClient ClientFactory, cfg *Config) *Scheduler {
	if cfg == nil {
		cfg = DefaultConfig()
	}
	c := *cfg
	c.normalize()

	sch := &Scheduler{
		store:      s,
		pdr:        pdr,
		newClient:  newClient,
		config:     &c,
		agentStats: make(map[string]*models.AgentStats),
	}
	if c.RateLimit > 0 {
		sch.limiter = rate.NewLimiter(rate.Limit(c.RateLimit), c.RateBurst)
	}
	sch.stats.RunID = pdr.RunID()
	return sch
}

// Run skips items that already have a persisted result, processes the rest
// and returns once every worker has stopped and the writer has made its
// final flush. Per-item failures are logged and never returned. The error
// is ctx.Err() when cancellation stopped the workers early, or a
// persistence error if results were left unflushed.
func (sch *Scheduler) Run(ctx context.Context, input []models.WorkItem) error {
	agents := sch.config.PoolAgents()
	if len(agents) == 0 {
		return ErrNoAgents
	}

	pending := sch.resumable(ctx, input)
	q := queue.New(pending)

	sch.mu.Lock()
	sch.queue = q
	sch.stats.Total = len(pending)
	sch.stats.StartedAt = time.Now()
	for _, agent := range agents {
		sch.agentStats[agent] = &models.AgentStats{Agent: agent}
	}
	sch.mu.Unlock()
	defer sch.markDone()

	if len(pending) == 0 {
		log.Printf("Nothing to do: all %d items already processed", len(input))
		return nil
	}

	log.Printf("Starting %d workers for %d items (%d already processed)", len(agents), len(pending), len(input)-len(pending))
	sch.pdr.Record(ctx, audit.ActionRunStart, agents, audit.OutcomeSuccess, "", "",
		fmt.Sprintf("%d pending of %d", len(pending), len(input)))

	workersDone := make(chan struct{})
	writerDone := make(chan struct{})
	go func() {
		defer close(writerDone)
		sch.runWriter(ctx, workersDone)
	}()

	// Workers only fail when ctx stops them, so the group error is the
	// cancellation cause. One worker stopping never stops the others.
	var g errgroup.Group
	for _, agent := range agents {
		agent := agent
		g.Go(func() error {
			return sch.runWorker(ctx, agent)
		})
	}
	workerErr := g.Wait()
	close(workersDone)
	<-writerDone

	stats := sch.Stats()
	log.Printf("Run finished: %d completed, %d failed, %d flushed", stats.Completed, stats.Failed, stats.Flushed)
	sch.pdr.Record(ctx, audit.ActionRunEnd, stats, audit.OutcomeSuccess, "", "",
		fmt.Sprintf("completed=%d failed=%d", stats.Completed, stats.Failed))

	if n := sch.buffer.Len(); n > 0 {
		sch.mu.Lock()
		err := sch.lastFlush
		sch.mu.Unlock()
		return fmt.Errorf("%d results left unflushed: %w", n, err)
	}
	return workerErr
}

// resumable drops input items that already have a persisted result. An
// unreadable store counts as empty.
func (sch *Scheduler) resumable(ctx context.Context, input []models.WorkItem) []models.WorkItem {
	prior, err := sch.store.Load(ctx)
	if err != nil {
		log.Printf("Warning: could not read prior results, starting fresh: %v", err)
		prior = nil
	}
	index := resume.Build(prior)
	return index.Filter(input)
}

// runWorker drains the queue with one client until it is empty. It returns
// ctx.Err() when it was stopped before the queue ran dry.
func (sch *Scheduler) runWorker(ctx context.Context, agent string) error {
	workerID := uuid.New().String()
	client := sch.newClient(agent)

	sch.setActive(agent, true)
	defer sch.setActive(agent, false)
	log.Printf("Worker %s started for agent %s", workerID, agent)

	for ctx.Err() == nil {
		item, ok := sch.queue.TryPop()
		if !ok {
			break
		}
		sch.processItem(ctx, client, agent, item)

		select {
		case <-ctx.Done():
		case <-time.After(sch.config.PaceDelay):
		}
	}
	log.Printf("Worker %s for agent %s stopped", workerID, agent)
	return ctx.Err()
}

// processItem runs up to MaxAttempts attempts and either buffers the result
// or drops the item.
func (sch *Scheduler) processItem(ctx context.Context, client Asker, agent string, item models.WorkItem) {
	log.Printf("Agent %s processing item %s: %s", agent, item.ID, truncate(item.Instruction(), 60))

	var err error
	attempts := 0
	for attempts < sch.config.MaxAttempts {
		attempts++
		var result models.Result
		result, err = sch.attempt(ctx, client, item)
		if err == nil {
			sch.buffer.Append(result)
			sch.recordOutcome(agent, true)
			sch.pdr.Record(ctx, audit.ActionItem, item, audit.OutcomeSuccess, item.ID, agent,
				fmt.Sprintf("attempt %d", attempts))
			return
		}
		if ctx.Err() != nil {
			break
		}
		if attempts < sch.config.MaxAttempts {
			log.Printf("Agent %s attempt %d on item %s failed, retrying: %v", agent, attempts, item.ID, err)
		}
	}

	itemErr := &ItemError{ItemID: item.ID, Agent: agent, Attempts: attempts, Err: err}
	log.Printf("Agent %s dropped item: %v", agent, itemErr)
	sch.recordOutcome(agent, false)
	sch.pdr.Record(ctx, audit.ActionItem, item, audit.OutcomeFailure, item.ID, agent, itemErr.Error())
}

func (sch *Scheduler) attempt(ctx context.Context, client Asker, item models.WorkItem) (models.Result, error) {
	if sch.limiter != nil {
		if err := sch.limiter.Wait(ctx); err != nil {
			return models.Result{}, err
		}
	}
	query, err := json.Marshal(item)
	if err != nil {
		return models.Result{}, fmt.Errorf("marshal item: %w", err)
	}
	reply, err := client.Ask(ctx, string(query))
	if err != nil {
		return models.Result{}, err
	}
	return ParseResult(reply, item)
}

// runWriter flushes on every tick and once more after the workers stop.
func (sch *Scheduler) runWriter(ctx context.Context, workersDone <-chan struct{}) {
	ticker := time.NewTicker(sch.config.FlushInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			sch.Flush(ctx)
		case <-workersDone:
			sch.finalFlush(ctx)
			return
		case <-ctx.Done():
			// Workers are stopping too; wait so their last results are caught.
			<-workersDone
			sch.finalFlush(ctx)
			return
		}
	}
}

// finalFlush flushes with a context that outlives cancellation of the run.
func (sch *Scheduler) finalFlush(ctx context.Context) {
	flushCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 30*time.Second)
	defer cancel()

	for i := 0; i < finalFlushAttempts; i++ {
		if err := sch.Flush(flushCtx); err == nil {
			return
		}
		select {
		case <-flushCtx.Done():
			return
		case <-time.After(500 * time.Millisecond):
		}
	}
}

// Flush persists buffered results. On failure the batch goes back into the
// buffer so the next flush retries it.
func (sch *Scheduler) Flush(ctx context.Context) error {
	batch := sch.buffer.Drain()
	if len(batch) == 0 {
		return nil
	}

	if err := sch.store.Append(ctx, batch); err != nil {
		sch.buffer.Restore(batch)
		sch.mu.Lock()
		sch.lastFlush = err
		sch.mu.Unlock()
		log.Printf("Error flushing %d results: %v", len(batch), err)
		sch.pdr.Record(ctx, audit.ActionFlush, batchIDs(batch), audit.OutcomeFailure, "", "", err.Error())
		return err
	}

	sch.mu.Lock()
	sch.stats.Flushed += len(batch)
	sch.lastFlush = nil
	sch.mu.Unlock()
	log.Printf("Flushed %d results", len(batch))
	sch.pdr.Record(ctx, audit.ActionFlush, batchIDs(batch), audit.OutcomeSuccess, "", "",
		fmt.Sprintf("%d results", len(batch)))
	return nil
}

// Buffered returns the number of results waiting for a flush.
func (sch *Scheduler) Buffered() int {
	return sch.buffer.Len()
}

// Stats returns a snapshot of the run.
func (sch *Scheduler) Stats() models.Stats {
	sch.mu.Lock()
	defer sch.mu.Unlock()

	stats := sch.stats
	if sch.queue != nil {
		stats.Pending = sch.queue.Len()
	}
	stats.Buffered = sch.buffer.Len()
	stats.Agents = make([]models.AgentStats, 0, len(sch.agentStats))
	for _, agent := range sch.config.PoolAgents() {
		if a, ok := sch.agentStats[agent]; ok {
			stats.Agents = append(stats.Agents, *a)
		}
	}
	return stats
}

func (sch *Scheduler) setActive(agent string, active bool) {
	sch.mu.Lock()
	defer sch.mu.Unlock()
	if active {
		sch.stats.ActiveWorkers++
	} else {
		sch.stats.ActiveWorkers--
	}
	if a, ok := sch.agentStats[agent]; ok {
		a.Active = active
	}
}

func (sch *Scheduler) recordOutcome(agent string, ok bool) {
	sch.mu.Lock()
	defer sch.mu.Unlock()
	a := sch.agentStats[agent]
	if ok {
		sch.stats.Completed++
		if a != nil {
			a.Completed++
		}
		return
	}
	sch.stats.Failed++
	if a != nil {
		a.Failed++
	}
}

func (sch *Scheduler) markDone() {
	sch.mu.Lock()
	defer sch.mu.Unlock()
	sch.stats.Done = true
}

func batchIDs(batch []models.Result) []string {
	ids := make([]string, len(batch))
	for i, r := range batch {
		ids[i] = r.ID
	}
	return ids
}

func truncate(s string, n int) string {
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	return string(r[:n]) + "..."
}

// IsInterrupted reports whether err only signals a canceled run.
func IsInterrupted(err error) bool {
	return errors.Is(err, context.Canceled)
}
