package main

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"sort"
	"strconv"
	"time"

	"github.com/kiennt/alpaca-playground/internal/input"
	"github.com/kiennt/alpaca-playground/internal/resume"
	"github.com/kiennt/alpaca-playground/internal/store"
	"github.com/olekukonko/tablewriter"
	"github.com/spf13/cobra"
)

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show how much of each batch is done",
	RunE:  runStatus,
}

var statusAuditDB string

func init() {
	statusCmd.Flags().StringVar(&statusAuditDB, "audit-db", "", "SQLite audit trail to summarize per agent")
}

// batchStatus is one row of the status table.
type batchStatus struct {
	Batch     int
	Items     int
	Persisted int
	Remaining int
	Store     string
	Err       error
}

func runStatus(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()
	batches, err := listBatches(cfg.DataDir)
	if err != nil {
		return err
	}
	if len(batches) == 0 {
		fmt.Printf("No batches in %s\n", cfg.DataDir)
		return nil
	}

	fmt.Println(bold("Batches in " + cfg.DataDir))
	table := tablewriter.NewWriter(os.Stdout)
	table.Header("Batch", "Items", "Persisted", "Remaining", "Store")

	var totalItems, totalRemaining int
	for _, n := range batches {
		st := inspectBatch(ctx, n)
		if st.Err != nil {
			_ = table.Append(strconv.Itoa(n), "-", "-", "-", "error: "+st.Err.Error())
			continue
		}
		remaining := strconv.Itoa(st.Remaining)
		if st.Remaining == 0 {
			remaining = green("done")
		}
		_ = table.Append(strconv.Itoa(n), strconv.Itoa(st.Items), strconv.Itoa(st.Persisted), remaining, st.Store)
		totalItems += st.Items
		totalRemaining += st.Remaining
	}
	_ = table.Render()
	fmt.Printf("%d of %d items remaining\n", totalRemaining, totalItems)

	if statusAuditDB != "" {
		return printAgentSummary(ctx, statusAuditDB)
	}
	return nil
}

// inspectBatch compares a batch input with its persisted results.
func inspectBatch(ctx context.Context, n int) batchStatus {
	inPath, outPath := cfg.BatchPaths(n)
	st := batchStatus{Batch: n, Store: filepath.Base(outPath)}

	items, err := input.Load(inPath)
	if err != nil {
		st.Err = err
		return st
	}
	st.Items = len(items)

	results, err := store.Open(outPath)
	if err != nil {
		st.Err = err
		return st
	}
	defer results.Close()

	prior, err := results.Load(ctx)
	if err != nil {
		st.Store += " " + yellow("(unreadable)")
		prior = nil
	}
	index := resume.Build(prior)
	st.Persisted = index.Len()
	st.Remaining = len(index.Filter(items))
	return st
}

var batchFile = regexp.MustCompile(`^(\d+)\.json$`)

// listBatches returns the batch numbers found in dir, in ascending order.
func listBatches(dir string) ([]int, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("read data directory: %w", err)
	}

	var batches []int
	for _, e := range entries {
		if e.IsDir() {
			continue
		}
		m := batchFile.FindStringSubmatch(e.Name())
		if m == nil {
			continue
		}
		n, err := strconv.Atoi(m[1])
		if err != nil {
			continue
		}
		batches = append(batches, n)
	}
	sort.Ints(batches)
	return batches, nil
}

func printAgentSummary(ctx context.Context, path string) error {
	s, err := store.New(path)
	if err != nil {
		return fmt.Errorf("open audit db: %w", err)
	}
	defer s.Close()

	summary, err := s.SummarizeAgents(ctx)
	if err != nil {
		return err
	}

	fmt.Println()
	fmt.Println(bold("Agents"))
	table := tablewriter.NewWriter(os.Stdout)
	table.Header("Agent", "Completed", "Failed", "Last Seen")
	for _, a := range summary {
		lastSeen := "-"
		if !a.LastSeen.IsZero() {
			lastSeen = a.LastSeen.Local().Format(time.DateTime)
		}
		_ = table.Append(a.Agent, strconv.Itoa(a.Completed), strconv.Itoa(a.Failed), lastSeen)
	}
	return table.Render()
}
