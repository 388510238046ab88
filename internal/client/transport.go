// Package client mirrors one conversation for a user-facing front end.
//
// A Session keeps the transcript and workflow of the active conversation in
// sync with the server: a full reload when the conversation changes, then
// incremental updates from the change feed. Feed delivery is at-least-once
// and may be reordered, so every update is applied idempotently.
package client

import (
	"context"

	"github.com/zjrosen/crewchat/internal/conversation/domain"
)

// TurnRequest is one outbound utterance. An empty ConversationID starts a
// new conversation.
type TurnRequest struct {
	Utterance      string
	ConversationID string
	UserID         string
}

// TurnResponse names the conversation the turn was applied to.
type TurnResponse struct {
	ConversationID string
}

// Transport reaches the coordinator and the conversation store.
type Transport interface {
	SubmitTurn(ctx context.Context, req TurnRequest) (TurnResponse, error)
	ListMessages(ctx context.Context, conversationID string) ([]domain.Message, error)
	// GetWorkflow returns nil, nil when the conversation has no workflow yet.
	GetWorkflow(ctx context.Context, conversationID string) (*domain.Workflow, error)
	// Subscribe streams changes until ctx is done. The channel is closed
	// when the stream ends.
	Subscribe(ctx context.Context, conversationID string) (<-chan domain.Change, error)
}
