package scheduler

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/kaptinlin/jsonrepair"
	"github.com/kiennt/alpaca-playground/internal/models"
)

// ParseResult turns an agent reply into the Result for item. Replies wrapped
// in a markdown code fence or with minor syntax damage are accepted. A reply
// without an id inherits the item's id; a different id is rejected.
func ParseResult(text string, item models.WorkItem) (models.Result, error) {
	body := stripFence(text)

	fields, err := decodeObject(body)
	if err != nil {
		repaired, repairErr := jsonrepair.JSONRepair(body)
		if repairErr != nil {
			return models.Result{}, fmt.Errorf("parse reply: %w", err)
		}
		if fields, err = decodeObject(repaired); err != nil {
			return models.Result{}, fmt.Errorf("parse repaired reply: %w", err)
		}
	}

	rawID, ok := fields["id"]
	if !ok || isNull(rawID) {
		rawID = item.RawID()
	}
	result, err := models.Record{Fields: fields}.WithID(rawID)
	if err != nil {
		return models.Result{}, fmt.Errorf("parse reply: %w", err)
	}
	if result.ID != item.ID {
		return models.Result{}, fmt.Errorf("%w: got %s, want %s", ErrResultMismatch, result.ID, item.ID)
	}
	return result, nil
}

func decodeObject(s string) (map[string]json.RawMessage, error) {
	var fields map[string]json.RawMessage
	if err := json.Unmarshal([]byte(s), &fields); err != nil {
		return nil, err
	}
	if fields == nil {
		return nil, ErrNotAnObject
	}
	return fields, nil
}

// stripFence removes a surrounding ``` or ```json fence.
func stripFence(text string) string {
	s := strings.TrimSpace(text)
	if !strings.HasPrefix(s, "```") {
		return s
	}
	if nl := strings.IndexByte(s, '\n'); nl >= 0 {
		s = s[nl+1:]
	} else {
		s = strings.TrimPrefix(s, "```")
	}
	s = strings.TrimSpace(s)
	s = strings.TrimSuffix(s, "```")
	return strings.TrimSpace(s)
}

func isNull(raw json.RawMessage) bool {
	return bytes.Equal(bytes.TrimSpace(raw), []byte("null"))
}
