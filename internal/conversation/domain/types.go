// Package domain holds the conversation data model shared by the store,
// the workflow state machine, the coordinator and clients.
package domain

import (
	"slices"
	"time"
)

// Sender identifies who wrote a message.
type Sender string

const (
	SenderUser  Sender = "user"
	SenderAgent Sender = "agent"
)

// IsValid reports whether s is a known sender.
func (s Sender) IsValid() bool {
	return s == SenderUser || s == SenderAgent
}

// Kind tags what a message contains.
type Kind string

const (
	KindMessage    Kind = "message"
	KindCode       Kind = "code"
	KindReview     Kind = "review"
	KindTest       Kind = "test"
	KindDeployment Kind = "deployment"
)

var knownKinds = map[Kind]bool{
	KindMessage:    true,
	KindCode:       true,
	KindReview:     true,
	KindTest:       true,
	KindDeployment: true,
}

// IsValid reports whether k is a known message kind.
func (k Kind) IsValid() bool {
	return knownKinds[k]
}

// OrDefault returns k, or KindMessage when k is empty.
func (k Kind) OrDefault() Kind {
	if k == "" {
		return KindMessage
	}
	return k
}

// Status is shared by workflow steps and the workflow as a whole.
type Status string

const (
	StatusPending    Status = "pending"
	StatusInProgress Status = "in-progress"
	StatusCompleted  Status = "completed"
	StatusError      Status = "error"
)

// IsValid reports whether s is a known status.
func (s Status) IsValid() bool {
	switch s {
	case StatusPending, StatusInProgress, StatusCompleted, StatusError:
		return true
	}
	return false
}

// IsTerminal reports whether no further transitions are expected.
func (s Status) IsTerminal() bool {
	return s == StatusCompleted || s == StatusError
}

// Conversation is the root record that owns messages and a workflow.
type Conversation struct {
	ID        string    `json:"id"`
	OwnerID   string    `json:"owner_id"`
	Title     string    `json:"title"`
	CreatedAt time.Time `json:"created_at"`
}

// Message is one entry of a conversation transcript. Messages are append-only.
type Message struct {
	ID             string    `json:"id"`
	ConversationID string    `json:"conversation_id"`
	Content        string    `json:"content"`
	Sender         Sender    `json:"sender"`
	PersonaName    string    `json:"persona_name,omitempty"`
	PersonaAvatar  string    `json:"persona_avatar,omitempty"`
	PersonaColor   string    `json:"persona_color,omitempty"`
	Kind           Kind      `json:"kind"`
	CreatedAt      time.Time `json:"created_at"`
}

// Step is one stage of a workflow.
type Step struct {
	ID            string `json:"id"`
	PersonaName   string `json:"persona_name"`
	Title         string `json:"title"`
	Status        Status `json:"status"`
	Description   string `json:"description"`
	EstimatedTime string `json:"estimated_time,omitempty"`
}

// Workflow tracks pipeline progress for a single conversation.
type Workflow struct {
	ID             string    `json:"id"`
	ConversationID string    `json:"conversation_id"`
	Steps          []Step    `json:"steps"`
	CurrentStep    int       `json:"current_step"`
	Progress       int       `json:"progress"`
	Status         Status    `json:"status"`
	CreatedAt      time.Time `json:"created_at"`
	UpdatedAt      time.Time `json:"updated_at"`
}

// Clone returns a deep copy so callers can mutate steps freely.
func (w Workflow) Clone() Workflow {
	w.Steps = slices.Clone(w.Steps)
	return w
}

// CurrentStepRecord returns the step at CurrentStep, if it exists.
func (w Workflow) CurrentStepRecord() (Step, bool) {
	if w.CurrentStep < 0 || w.CurrentStep >= len(w.Steps) {
		return Step{}, false
	}
	return w.Steps[w.CurrentStep], true
}

// NewConversation holds the fields a caller supplies when creating a conversation.
type NewConversation struct {
	OwnerID string
	Title   string
}

// NewMessage holds the fields a caller supplies when appending a message.
// The store assigns ID and CreatedAt.
type NewMessage struct {
	ConversationID string
	Content        string
	Sender         Sender
	PersonaName    string
	PersonaAvatar  string
	PersonaColor   string
	Kind           Kind
}

// NewWorkflow holds the initial state of a workflow.
type NewWorkflow struct {
	ConversationID string
	Steps          []Step
	CurrentStep    int
	Progress       int
	Status         Status
}

// WorkflowUpdate is a partial update. Nil fields are left unchanged and all
// set fields are applied in a single write.
type WorkflowUpdate struct {
	Steps       []Step
	CurrentStep *int
	Progress    *int
	Status      *Status
}

// IsEmpty reports whether the update changes nothing.
func (u WorkflowUpdate) IsEmpty() bool {
	return u.Steps == nil && u.CurrentStep == nil && u.Progress == nil && u.Status == nil
}

// ApplyTo returns w with the update applied. Stores that cannot express a
// partial update natively use it to compute the new record.
func (u WorkflowUpdate) ApplyTo(w Workflow) Workflow {
	w = w.Clone()
	if u.Steps != nil {
		w.Steps = slices.Clone(u.Steps)
	}
	if u.CurrentStep != nil {
		w.CurrentStep = *u.CurrentStep
	}
	if u.Progress != nil {
		w.Progress = *u.Progress
	}
	if u.Status != nil {
		w.Status = *u.Status
	}
	return w
}
