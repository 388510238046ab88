package domain

import "context"

// ConversationRepository creates and reads conversations.
type ConversationRepository interface {
	InsertConversation(ctx context.Context, c NewConversation) (Conversation, error)
	// GetConversation returns *ConversationNotFoundError when id is unknown.
	GetConversation(ctx context.Context, id string) (Conversation, error)
}

// MessageRepository appends to and reads the transcript.
type MessageRepository interface {
	InsertMessage(ctx context.Context, m NewMessage) (Message, error)
	// ListMessages returns messages in ascending creation order.
	ListMessages(ctx context.Context, conversationID string) ([]Message, error)
}

// WorkflowRepository persists the single workflow record of a conversation.
type WorkflowRepository interface {
	// GetWorkflow returns *WorkflowNotFoundError when none exists.
	GetWorkflow(ctx context.Context, conversationID string) (Workflow, error)
	// InsertWorkflow returns ErrWorkflowExists when one already exists.
	InsertWorkflow(ctx context.Context, w NewWorkflow) (Workflow, error)
	// UpdateWorkflow applies every set field of update in one atomic write.
	UpdateWorkflow(ctx context.Context, conversationID string, update WorkflowUpdate) error
}

// ChangeFeed delivers store changes for one conversation. Delivery is
// at-least-once and may be reordered, so callbacks must be idempotent.
type ChangeFeed interface {
	Subscribe(ctx context.Context, conversationID string, onMessage func(Message), onWorkflow func(Workflow)) (unsubscribe func(), err error)
}

// Store is the full conversation store.
type Store interface {
	ConversationRepository
	MessageRepository
	WorkflowRepository
	ChangeFeed
}
