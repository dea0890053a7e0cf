package scheduler

import (
	"errors"
	"fmt"
)

// Sentinel errors for scheduler operations.
var (
	ErrNoAgents       = errors.New("no agents configured")
	ErrResultMismatch = errors.New("reply id does not match item id")
	ErrNotAnObject    = errors.New("reply is not a JSON object")
)

// ItemError reports an item that was dropped for this run.
type ItemError struct {
	ItemID   string
	Agent    string
	Attempts int
	Err      error
}

func (e *ItemError) Error() string {
	return fmt.Sprintf("item %s failed on %s after %d attempt(s): %v", e.ItemID, e.Agent, e.Attempts, e.Err)
}

func (e *ItemError) Unwrap() error {
	return e.Err
}
