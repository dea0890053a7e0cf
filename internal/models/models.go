// Package models defines the core domain types for alpaca.
package models

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"time"
)

// ErrMissingID indicates a record has no usable "id" field.
var ErrMissingID = errors.New("record has no id")

// Record is a JSON object keyed by a stable "id". Every field, including
// "id", is kept as raw JSON so payloads round-trip without a fixed schema.
type Record struct {
	ID     string
	Fields map[string]json.RawMessage
}

// WorkItem is an input record waiting to be processed.
type WorkItem = Record

// Result is a processed record; it carries the same ID as its WorkItem.
type Result = Record

// NewRecord builds a record from plain values. It is mostly useful in tests
// and for the split command, which renumbers ids.
func NewRecord(fields map[string]any) (Record, error) {
	data, err := json.Marshal(fields)
	if err != nil {
		return Record{}, fmt.Errorf("marshal record: %w", err)
	}
	var r Record
	if err := json.Unmarshal(data, &r); err != nil {
		return Record{}, err
	}
	return r, nil
}

// UnmarshalJSON implements json.Unmarshaler.
func (r *Record) UnmarshalJSON(data []byte) error {
	var fields map[string]json.RawMessage
	if err := json.Unmarshal(data, &fields); err != nil {
		return err
	}
	if fields == nil {
		return fmt.Errorf("decode record: expected object")
	}
	id, err := canonicalID(fields["id"])
	if err != nil {
		return err
	}
	r.ID = id
	r.Fields = fields
	return nil
}

// MarshalJSON implements json.Marshaler.
func (r Record) MarshalJSON() ([]byte, error) {
	if r.Fields == nil {
		return json.Marshal(map[string]string{"id": r.ID})
	}
	return json.Marshal(r.Fields)
}

// String returns the value of a string field, or "" when absent.
func (r Record) String(key string) string {
	raw, ok := r.Fields[key]
	if !ok {
		return ""
	}
	var s string
	if err := json.Unmarshal(raw, &s); err != nil {
		return string(raw)
	}
	return s
}

// Instruction returns the "instruction" payload field used in log lines.
func (r Record) Instruction() string {
	return r.String("instruction")
}

// WithID returns a copy of r whose "id" field is replaced by raw.
func (r Record) WithID(raw json.RawMessage) (Record, error) {
	id, err := canonicalID(raw)
	if err != nil {
		return Record{}, err
	}
	fields := make(map[string]json.RawMessage, len(r.Fields)+1)
	for k, v := range r.Fields {
		fields[k] = v
	}
	fields["id"] = raw
	return Record{ID: id, Fields: fields}, nil
}

// RawID returns the raw JSON form of the record's id.
func (r Record) RawID() json.RawMessage {
	if raw, ok := r.Fields["id"]; ok {
		return raw
	}
	b, _ := json.Marshal(r.ID)
	return b
}

// canonicalID maps a raw id to its key form: strings are unquoted, numbers
// keep their literal text, so 7 and "7" collide on purpose.
func canonicalID(raw json.RawMessage) (string, error) {
	raw = bytes.TrimSpace(raw)
	if len(raw) == 0 || bytes.Equal(raw, []byte("null")) {
		return "", ErrMissingID
	}
	switch raw[0] {
	case '"':
		var s string
		if err := json.Unmarshal(raw, &s); err != nil {
			return "", fmt.Errorf("decode id: %w", err)
		}
		if s == "" {
			return "", ErrMissingID
		}
		return s, nil
	case '{', '[':
		return "", fmt.Errorf("decode id: unsupported id %s", raw)
	default:
		var n json.Number
		if err := json.Unmarshal(raw, &n); err != nil {
			return "", fmt.Errorf("decode id: %w", err)
		}
		return n.String(), nil
	}
}

// Message is the most recent chat message as seen by a poll.
type Message struct {
	Text   string `json:"text"`
	State  string `json:"state"`
	Author string `json:"authorNickname"`
}

// MessageStateComplete marks a message the agent has finished writing.
const MessageStateComplete = "complete"

// PollState classifies a single poll of a chat session.
type PollState int

const (
	PollPending PollState = iota
	PollComplete
	PollFailed
)

func (s PollState) String() string {
	switch s {
	case PollPending:
		return "pending"
	case PollComplete:
		return "complete"
	case PollFailed:
		return "failed"
	default:
		return fmt.Sprintf("PollState(%d)", int(s))
	}
}

// PollOutcome is the result of one poll: Pending, Complete(Text) or
// Failed(Reason). Failed means the response was malformed, which is still
// retried, but callers can tell it apart from a plain wait.
type PollOutcome struct {
	State  PollState
	Text   string
	Reason error
}

// Pending reports that the agent has not finished yet.
func Pending() PollOutcome { return PollOutcome{State: PollPending} }

// Complete reports a finished message authored by the expected agent.
func Complete(text string) PollOutcome { return PollOutcome{State: PollComplete, Text: text} }

// Failed reports a malformed or unusable poll response.
func Failed(reason error) PollOutcome { return PollOutcome{State: PollFailed, Reason: reason} }

// AgentStats holds per-agent counters for a run.
type AgentStats struct {
	Agent     string `json:"agent"`
	Completed int    `json:"completed"`
	Failed    int    `json:"failed"`
	Active    bool   `json:"active"`
}

// Stats is a point-in-time snapshot of a run.
type Stats struct {
	RunID         string       `json:"run_id"`
	Total         int          `json:"total"`
	Completed     int          `json:"completed"`
	Failed        int          `json:"failed"`
	Pending       int          `json:"pending"`
	Buffered      int          `json:"buffered"`
	Flushed       int          `json:"flushed"`
	ActiveWorkers int          `json:"active_workers"`
	Agents        []AgentStats `json:"agents"`
	StartedAt     time.Time    `json:"started_at"`
	Done          bool         `json:"done"`
}

// Processed returns the number of items that have left the queue for good.
func (s Stats) Processed() int {
	return s.Completed + s.Failed
}

// PDREntry represents a Process Decision Record for audit.
type PDREntry struct {
	ID         string    `json:"id"`
	RunID      string    `json:"run_id"`
	Action     string    `json:"action"`
	InputsHash string    `json:"inputs_hash"`
	Outcome    string    `json:"outcome"`
	ItemID     string    `json:"item_id,omitempty"`
	Agent      string    `json:"agent,omitempty"`
	Details    string    `json:"details,omitempty"`
	Timestamp  time.Time `json:"timestamp"`
}
