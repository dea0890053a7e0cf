package main

import (
	"fmt"

	"github.com/fatih/color"
	"github.com/kiennt/alpaca-playground/internal/input"
	"github.com/spf13/cobra"
)

var (
	green  = color.New(color.FgGreen).SprintFunc()
	yellow = color.New(color.FgYellow).SprintFunc()
	cyan   = color.New(color.FgCyan).SprintFunc()
	bold   = color.New(color.Bold).SprintFunc()
)

var splitCmd = &cobra.Command{
	Use:   "split [dataset.json]",
	Short: "Split a dataset into numbered batch files",
	Long: `Splits a JSON array into --batches files named 0.json, 1.json, ... in the
data directory. Records without an id are numbered from 0 within their batch.`,
	Args: cobra.ExactArgs(1),
	RunE: runSplit,
}

var splitBatches int

func init() {
	splitCmd.Flags().IntVar(&splitBatches, "batches", 10, "Number of batch files to write")
}

func runSplit(cmd *cobra.Command, args []string) error {
	paths, err := input.Split(args[0], cfg.DataDir, splitBatches)
	if err != nil {
		return err
	}

	fmt.Printf("%s %s into %d batches\n", green("Split"), bold(args[0]), len(paths))
	for _, p := range paths {
		fmt.Printf("  %s\n", cyan(p))
	}
	return nil
}
