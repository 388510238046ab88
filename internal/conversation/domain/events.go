package domain

import "slices"

// ChangeType names a store change.
type ChangeType string

const (
	ChangeMessageInserted ChangeType = "message.inserted"
	ChangeWorkflowUpdated ChangeType = "workflow.updated"
)

// String returns the wire name.
func (t ChangeType) String() string {
	return string(t)
}

// Change is the envelope published on the change feed and sent to remote clients.
type Change struct {
	Type           ChangeType `json:"type"`
	ConversationID string     `json:"conversation_id"`
	Message        *Message   `json:"message,omitempty"`
	Workflow       *Workflow  `json:"workflow,omitempty"`
}

// MessageInserted builds a change for a newly appended message.
func MessageInserted(m Message) Change {
	return Change{Type: ChangeMessageInserted, ConversationID: m.ConversationID, Message: &m}
}

// WorkflowUpdated builds a change carrying the full workflow record.
func WorkflowUpdated(w Workflow) Change {
	w = w.Clone()
	return Change{Type: ChangeWorkflowUpdated, ConversationID: w.ConversationID, Workflow: &w}
}

// Dispatch routes the change to the matching callback. Nil callbacks and
// changes missing their payload are ignored.
func (c Change) Dispatch(onMessage func(Message), onWorkflow func(Workflow)) {
	switch c.Type {
	case ChangeMessageInserted:
		if c.Message != nil && onMessage != nil {
			onMessage(*c.Message)
		}
	case ChangeWorkflowUpdated:
		if c.Workflow != nil && onWorkflow != nil {
			onWorkflow(c.Workflow.Clone())
		}
	}
}

// ChangeFilter selects changes by conversation and type. Empty fields match all.
type ChangeFilter struct {
	ConversationID string
	Types          []ChangeType
}

// Matches reports whether c passes the filter.
func (f ChangeFilter) Matches(c Change) bool {
	if f.ConversationID != "" && f.ConversationID != c.ConversationID {
		return false
	}
	if len(f.Types) > 0 && !slices.Contains(f.Types, c.Type) {
		return false
	}
	return true
}
