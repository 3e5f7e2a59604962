package chat

import (
	"errors"
	"fmt"
)

var (
	// ErrEmptyInput is returned for blank user input; nothing is recorded.
	ErrEmptyInput = errors.New("empty input")
	// ErrAborted is returned when a turn is cancelled by Abort or Clear.
	ErrAborted = errors.New("turn aborted")
)

// TurnError reports a failed turn. The user message may already be recorded;
// no partial reply is.
type TurnError struct {
	TurnID string
	Model  string
	Err    error
}

func (e *TurnError) Error() string {
	if e.Model != "" {
		return fmt.Sprintf("turn %s (%s): %v", e.TurnID, e.Model, e.Err)
	}
	return fmt.Sprintf("turn %s: %v", e.TurnID, e.Err)
}

func (e *TurnError) Unwrap() error {
	return e.Err
}
