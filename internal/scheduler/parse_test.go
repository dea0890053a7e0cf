package scheduler

import (
	"errors"
	"testing"
)

func TestParseResult(t *testing.T) {
	tests := []struct {
		name    string
		reply   string
		itemID  any
		wantErr bool
		output  string
	}{
		{
			name:   "plain object",
			reply:  `{"id":0,"instruction":"a","output":"X"}`,
			itemID: 0,
			output: "X",
		},
		{
			name:   "fenced json",
			reply:  "```json\n{\"id\":3,\"output\":\"fenced\"}\n```",
			itemID: 3,
			output: "fenced",
		},
		{
			name:   "bare fence",
			reply:  "```\n{\"id\":\"a1\",\"output\":\"bare\"}\n```",
			itemID: "a1",
			output: "bare",
		},
		{
			name:   "missing id inherits item id",
			reply:  `{"output":"no id"}`,
			itemID: 9,
			output: "no id",
		},
		{
			name:   "null id inherits item id",
			reply:  `{"id":null,"output":"null id"}`,
			itemID: "x",
			output: "null id",
		},
		{
			name:   "string id matches numeric item id",
			reply:  `{"id":"5","output":"ok"}`,
			itemID: 5,
			output: "ok",
		},
		{
			name:   "trailing comma repaired",
			reply:  `{"id":1,"output":"repaired",}`,
			itemID: 1,
			output: "repaired",
		},
		{
			name:    "array reply",
			reply:   `[{"id":1}]`,
			itemID:  1,
			wantErr: true,
		},
		{
			name:    "json null",
			reply:   `null`,
			itemID:  1,
			wantErr: true,
		},
		{
			name:    "object id",
			reply:   `{"id":{"n":1},"output":"x"}`,
			itemID:  1,
			wantErr: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			w := item(t, tt.itemID, "instr")
			got, err := ParseResult(tt.reply, w)
			if tt.wantErr {
				if err == nil {
					t.Fatalf("expected error, got result %v", got)
				}
				return
			}
			if err != nil {
				t.Fatalf("ParseResult failed: %v", err)
			}
			if got.ID != w.ID {
				t.Errorf("ID = %q, want %q", got.ID, w.ID)
			}
			if out := got.String("output"); out != tt.output {
				t.Errorf("output = %q, want %q", out, tt.output)
			}
		})
	}
}

func TestParseResult_Mismatch(t *testing.T) {
	_, err := ParseResult(`{"id":2,"output":"wrong item"}`, item(t, 1, "a"))
	if !errors.Is(err, ErrResultMismatch) {
		t.Errorf("expected ErrResultMismatch, got %v", err)
	}
}

func TestParseResult_KeepsItemFieldsFromReply(t *testing.T) {
	got, err := ParseResult(`{"id":1,"instruction":"translated","input":"","output":"y"}`, item(t, 1, "a"))
	if err != nil {
		t.Fatalf("ParseResult failed: %v", err)
	}
	if got.Instruction() != "translated" {
		t.Errorf("instruction = %q, want reply value", got.Instruction())
	}
	if _, ok := got.Fields["input"]; !ok {
		t.Error("expected input field to be kept")
	}
}

func TestStripFence(t *testing.T) {
	tests := []struct {
		in   string
		want string
	}{
		{`{"a":1}`, `{"a":1}`},
		{"  {\"a\":1}\n", `{"a":1}`},
		{"```json\n{\"a\":1}\n```", `{"a":1}`},
		{"```{\"a\":1}```", `{"a":1}`},
	}
	for _, tt := range tests {
		if got := stripFence(tt.in); got != tt.want {
			t.Errorf("stripFence(%q) = %q, want %q", tt.in, got, tt.want)
		}
	}
}
