package client

import (
	"context"

	"github.com/zjrosen/crewchat/internal/conversation/changefeed"
	"github.com/zjrosen/crewchat/internal/conversation/domain"
	"github.com/zjrosen/crewchat/internal/coordinator"
	"github.com/zjrosen/crewchat/internal/pubsub"
)

// TurnHandler handles a user turn. *coordinator.Coordinator implements it.
type TurnHandler interface {
	HandleUserTurn(ctx context.Context, turn coordinator.Turn) (coordinator.TurnResult, error)
}

// LocalTransport runs in-process against a coordinator and store.
type LocalTransport struct {
	turns  TurnHandler
	store  domain.Store
	broker *pubsub.Broker[domain.Change]
}

var _ Transport = (*LocalTransport)(nil)

// NewLocalTransport creates a transport over turns and store. broker is the
// store's change broker.
func NewLocalTransport(turns TurnHandler, store domain.Store, broker *pubsub.Broker[domain.Change]) *LocalTransport {
	return &LocalTransport{turns: turns, store: store, broker: broker}
}

// SubmitTurn hands the turn to the coordinator.
func (t *LocalTransport) SubmitTurn(ctx context.Context, req TurnRequest) (TurnResponse, error) {
	res, err := t.turns.HandleUserTurn(ctx, coordinator.Turn{
		Utterance:      req.Utterance,
		ConversationID: req.ConversationID,
		UserID:         req.UserID,
	})
	if err != nil {
		return TurnResponse{}, err
	}
	return TurnResponse{ConversationID: res.ConversationID}, nil
}

// ListMessages reads the transcript from the store.
func (t *LocalTransport) ListMessages(ctx context.Context, conversationID string) ([]domain.Message, error) {
	return t.store.ListMessages(ctx, conversationID)
}

// GetWorkflow reads the workflow from the store.
func (t *LocalTransport) GetWorkflow(ctx context.Context, conversationID string) (*domain.Workflow, error) {
	wf, err := t.store.GetWorkflow(ctx, conversationID)
	if err != nil {
		if domain.IsNotFound(err) {
			return nil, nil
		}
		return nil, err
	}
	return &wf, nil
}

// Subscribe streams store changes for the conversation.
func (t *LocalTransport) Subscribe(ctx context.Context, conversationID string) (<-chan domain.Change, error) {
	return changefeed.Stream(ctx, t.broker, conversationID), nil
}
