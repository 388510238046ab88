package domain

import (
	"errors"
	"fmt"
)

var (
	// ErrNotFound matches every not-found error in this package via errors.Is.
	ErrNotFound = errors.New("not found")

	// ErrWorkflowExists is returned when a workflow is created twice for a conversation.
	ErrWorkflowExists = errors.New("workflow already exists for conversation")

	// ErrInvalidRecord is returned when a write carries fields the store cannot accept.
	ErrInvalidRecord = errors.New("invalid record")
)

// ConversationNotFoundError indicates that no conversation has the given id.
type ConversationNotFoundError struct {
	ID string
}

// Error implements the error interface.
func (e *ConversationNotFoundError) Error() string {
	return fmt.Sprintf("conversation not found: id=%q", e.ID)
}

// Is makes errors.Is(err, ErrNotFound) true.
func (e *ConversationNotFoundError) Is(target error) bool {
	return target == ErrNotFound
}

// WorkflowNotFoundError indicates that a conversation has no workflow yet.
// Callers treat this as a normal state, not a failure.
type WorkflowNotFoundError struct {
	ConversationID string
}

// Error implements the error interface.
func (e *WorkflowNotFoundError) Error() string {
	return fmt.Sprintf("workflow not found: conversation=%q", e.ConversationID)
}

// Is makes errors.Is(err, ErrNotFound) true.
func (e *WorkflowNotFoundError) Is(target error) bool {
	return target == ErrNotFound
}

// StoreError wraps a persistence failure with the operation that failed.
type StoreError struct {
	Op  string
	Err error
}

// Error implements the error interface.
func (e *StoreError) Error() string {
	return fmt.Sprintf("store %s: %v", e.Op, e.Err)
}

// Unwrap returns the underlying error.
func (e *StoreError) Unwrap() error {
	return e.Err
}

// IsNotFound reports whether err is any not-found error.
func IsNotFound(err error) bool {
	return errors.Is(err, ErrNotFound)
}
