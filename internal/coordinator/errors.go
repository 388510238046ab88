package coordinator

import (
	"errors"
	"fmt"
)

var (
	// ErrConversationNotFound is returned for a follow-up turn whose
	// conversation does not exist or is owned by another user.
	ErrConversationNotFound = errors.New("conversation not found")

	// ErrRunnerClosed is returned by Submit after Shutdown has begun.
	ErrRunnerClosed = errors.New("runner is shut down")

	// ErrTaskCancelled is reported to OnFailure when shutdown interrupts a
	// task that was still waiting out its delay.
	ErrTaskCancelled = errors.New("task cancelled before it started")
)

// MaxUtteranceLength is the longest accepted utterance, in characters.
const MaxUtteranceLength = 10000

// ValidationError reports a rejected turn before anything is written.
type ValidationError struct {
	Field  string
	Reason string
}

// Error implements the error interface.
func (e *ValidationError) Error() string {
	return fmt.Sprintf("invalid %s: %s", e.Field, e.Reason)
}

// IsValidationError reports whether err is a *ValidationError.
func IsValidationError(err error) bool {
	var ve *ValidationError
	return errors.As(err, &ve)
}
