// Package audit provides PDR (Process Decision Record) writing for alpaca.
package audit

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"log"

	"github.com/kiennt/alpaca-playground/internal/models"
)

// Actions recorded during a run.
const (
	ActionRunStart = "run.start"
	ActionRunEnd   = "run.end"
	ActionItem     = "item.process"
	ActionFlush    = "results.flush"
)

// Outcomes recorded with each action.
const (
	OutcomeSuccess = "success"
	OutcomeFailure = "failure"
)

// Sink persists PDR entries. *store.Store implements it.
type Sink interface {
	WritePDR(ctx context.Context, pdr models.PDREntry) (*models.PDREntry, error)
}

// PDRWriter writes Process Decision Records for audit trails. A writer
// without a sink only logs; records never affect what gets resumed.
type PDRWriter struct {
	sink  Sink
	runID string
}

// NewPDRWriter creates a new PDR writer for one run. sink may be nil.
func NewPDRWriter(sink Sink, runID string) *PDRWriter {
	return &PDRWriter{sink: sink, runID: runID}
}

// RunID returns the run the writer stamps on every record.
func (w *PDRWriter) RunID() string {
	if w == nil {
		return ""
	}
	return w.runID
}

// Record writes a PDR entry for a state-mutating action. Sink failures are
// logged, not returned: auditing must not stop a run.
func (w *PDRWriter) Record(ctx context.Context, action string, inputs interface{}, outcome, itemID, agent, details string) {
	if w == nil || w.sink == nil {
		return
	}
	entry := models.PDREntry{
		RunID:      w.runID,
		Action:     action,
		InputsHash: hashInputs(inputs),
		Outcome:    outcome,
		ItemID:     itemID,
		Agent:      agent,
		Details:    details,
	}
	if _, err := w.sink.WritePDR(context.WithoutCancel(ctx), entry); err != nil {
		log.Printf("Error writing audit record %s: %v", action, err)
	}
}

// hashInputs creates a SHA256 hash of the inputs for reproducibility.
func hashInputs(inputs interface{}) string {
	data, err := json.Marshal(inputs)
	if err != nil {
		return "hash_error"
	}
	hash := sha256.Sum256(data)
	return hex.EncodeToString(hash[:])
}
