package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/google/uuid"
	"github.com/kiennt/alpaca-playground/internal/audit"
	"github.com/kiennt/alpaca-playground/internal/completion"
	"github.com/kiennt/alpaca-playground/internal/connectors/poe"
	"github.com/kiennt/alpaca-playground/internal/controlplane"
	"github.com/kiennt/alpaca-playground/internal/input"
	"github.com/kiennt/alpaca-playground/internal/models"
	"github.com/kiennt/alpaca-playground/internal/scheduler"
	"github.com/kiennt/alpaca-playground/internal/store"
	"github.com/kiennt/alpaca-playground/internal/tui"
	"github.com/schollz/progressbar/v3"
	"github.com/spf13/cobra"
)

var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Process a batch, skipping items that already have results",
	Long: `Loads a batch of work items, skips every item whose id already has a
persisted result, and sends the rest to the configured agents. Results are
flushed every --flush-interval and once more on exit, including Ctrl-C.`,
	RunE: runRun,
}

var (
	runBatch       int
	runInput       string
	runOutput      string
	runAuditDB     string
	runAgents      []string
	runConcurrency int
	runMaxAttempts int
	runRateLimit   float64
	runFlush       time.Duration
	runPollTimeout time.Duration
	runListen      string
	runTUI         bool
	runProgress    bool
)

func init() {
	runCmd.Flags().IntVar(&runBatch, "batch", 0, "Batch number: reads <data>/<n>.json, writes <data>/<n>_vi.json")
	runCmd.Flags().StringVar(&runInput, "input", "", "Input file (overrides --batch)")
	runCmd.Flags().StringVar(&runOutput, "output", "", "Result store; .db/.sqlite selects SQLite (overrides --batch)")
	runCmd.Flags().StringVar(&runAuditDB, "audit-db", "", "SQLite file for the audit trail when results go to JSON")
	runCmd.Flags().StringSliceVar(&runAgents, "agents", nil, "Agent names, one worker each (env BOT_NAMES)")
	runCmd.Flags().IntVar(&runConcurrency, "concurrency", 0, "Maximum number of workers (env ALPACA_CONCURRENCY)")
	runCmd.Flags().IntVar(&runMaxAttempts, "max-attempts", 0, "Attempts per item before it is dropped (env ALPACA_MAX_ATTEMPTS)")
	runCmd.Flags().Float64Var(&runRateLimit, "rate", 0, "Items started per second across workers, 0 for no limit")
	runCmd.Flags().DurationVar(&runFlush, "flush-interval", 0, "How often results are persisted (env ALPACA_FLUSH_INTERVAL)")
	runCmd.Flags().DurationVar(&runPollTimeout, "poll-timeout", 0, "Give up waiting for one reply after this long")
	runCmd.Flags().StringVar(&runListen, "listen", "", "Serve run status over HTTP on this address, e.g. 127.0.0.1:7466")
	runCmd.Flags().BoolVar(&runTUI, "tui", false, "Show the interactive progress view")
	runCmd.Flags().BoolVar(&runProgress, "progress", false, "Show a plain progress bar")
}

func runRun(cmd *cobra.Command, args []string) error {
	applyRunFlags(cmd)
	if err := cfg.Validate(); err != nil {
		return err
	}
	if err := cfg.ValidateCredentials(); err != nil {
		return err
	}

	inPath, outPath := resolvePaths(runBatch, runInput, runOutput)
	items, err := input.Load(inPath)
	if err != nil {
		return err
	}

	results, err := store.Open(outPath)
	if err != nil {
		return err
	}
	defer results.Close()

	runID := uuid.New().String()
	sink, closeSink, err := auditSink(results, runAuditDB)
	if err != nil {
		return err
	}
	defer closeSink()
	pdr := audit.NewPDRWriter(sink, runID)

	transport := poe.New(cfg.FormKey, cfg.Cookie, poe.WithEndpoint(cfg.Endpoint))
	opts := cfg.Completion()
	factory := func(agent string) scheduler.Asker {
		return completion.New(agent, transport, opts)
	}
	sch := scheduler.New(results, pdr, factory, cfg.Scheduler())

	if runListen != "" {
		srv := startStatusServer(sch, sink)
		defer func() {
			shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer shutdownCancel()
			if err := srv.Shutdown(shutdownCtx); err != nil {
				log.Printf("Status server shutdown error: %v", err)
			}
		}()
	}

	ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	log.Printf("Run %s: %s -> %s (%d items)", runID, inPath, outPath, len(items))

	var runErr error
	switch {
	case runTUI:
		restore := redirectLog(outPath)
		runErr = runWithTUI(ctx, cancel, sch, items, outPath)
		restore()
	case runProgress:
		restore := redirectLog(outPath)
		runErr = runWithProgressBar(ctx, sch, items)
		restore()
	default:
		runErr = sch.Run(ctx, items)
	}

	if scheduler.IsInterrupted(runErr) {
		fmt.Fprintln(os.Stderr, "Interrupted. Completed results were flushed; run again to resume.")
		return nil
	}
	return runErr
}

// applyRunFlags lets explicitly set flags win over environment values.
func applyRunFlags(cmd *cobra.Command) {
	flags := cmd.Flags()
	if flags.Changed("agents") {
		cfg.Agents = runAgents
	}
	if flags.Changed("concurrency") {
		cfg.Concurrency = runConcurrency
	}
	if flags.Changed("max-attempts") {
		cfg.MaxAttempts = runMaxAttempts
	}
	if flags.Changed("rate") {
		cfg.RateLimit = runRateLimit
	}
	if flags.Changed("flush-interval") {
		cfg.FlushInterval = runFlush
	}
	if flags.Changed("poll-timeout") {
		cfg.PollTimeout = runPollTimeout
	}
}

// resolvePaths picks the input and output files: explicit paths win, the
// batch number fills in whatever is missing.
func resolvePaths(batch int, in, out string) (string, string) {
	batchIn, batchOut := cfg.BatchPaths(batch)
	if in == "" {
		in = batchIn
	}
	if out == "" {
		out = batchOut
	}
	return in, out
}

// auditSink returns where audit records go: the result store itself when it
// is SQLite, a separate SQLite file when one is named, otherwise nowhere.
func auditSink(results store.ResultStore, auditDB string) (audit.Sink, func(), error) {
	if auditDB != "" {
		s, err := store.New(auditDB)
		if err != nil {
			return nil, nil, fmt.Errorf("open audit db: %w", err)
		}
		return s, func() { s.Close() }, nil
	}
	if s, ok := results.(*store.Store); ok {
		return s, func() {}, nil
	}
	return nil, func() {}, nil
}

// startStatusServer serves the run's stats, and its audit trail when the
// sink can be queried.
func startStatusServer(sch *scheduler.Scheduler, sink audit.Sink) *controlplane.Server {
	var lister controlplane.AuditLister
	if s, ok := sink.(*store.Store); ok {
		lister = s
	}
	srv := controlplane.NewServer(sch, lister, runListen, Version)
	go func() {
		if err := srv.Start(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Printf("Status server error: %v", err)
		}
	}()
	return srv
}

// redirectLog sends log lines to <outPath>.log so they do not tear the
// progress display. The returned func restores stderr.
func redirectLog(outPath string) func() {
	logFile, err := os.OpenFile(outPath+".log", os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0644)
	if err != nil {
		log.SetOutput(io.Discard)
		return func() { log.SetOutput(os.Stderr) }
	}
	log.SetOutput(logFile)
	return func() {
		log.SetOutput(os.Stderr)
		logFile.Close()
	}
}

func runWithTUI(ctx context.Context, cancel context.CancelFunc, sch *scheduler.Scheduler, items []models.WorkItem, outPath string) error {
	done := make(chan error, 1)
	go func() {
		done <- sch.Run(ctx, items)
	}()

	app := tui.New(outPath, sch, cancel)
	if err := app.Run(); err != nil {
		cancel()
		<-done
		return fmt.Errorf("TUI error: %w", err)
	}
	return <-done
}

func runWithProgressBar(ctx context.Context, sch *scheduler.Scheduler, items []models.WorkItem) error {
	done := make(chan error, 1)
	go func() {
		done <- sch.Run(ctx, items)
	}()

	var bar *progressbar.ProgressBar
	ticker := time.NewTicker(200 * time.Millisecond)
	defer ticker.Stop()
	for {
		select {
		case err := <-done:
			if bar != nil {
				stats := sch.Stats()
				_ = bar.Set(stats.Processed())
				_ = bar.Finish()
				fmt.Println()
			}
			return err
		case <-ticker.C:
			stats := sch.Stats()
			if bar == nil && stats.Total > 0 {
				bar = progressbar.NewOptions(stats.Total,
					progressbar.OptionSetDescription("Processing"),
					progressbar.OptionSetWidth(50),
					progressbar.OptionShowCount(),
					progressbar.OptionShowIts(),
					progressbar.OptionSetWriter(os.Stderr),
				)
			}
			if bar != nil {
				_ = bar.Set(stats.Processed())
				bar.Describe(fmt.Sprintf("Processing (%d failed, %d flushed)", stats.Failed, stats.Flushed))
			}
		}
	}
}
