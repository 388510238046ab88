package sqlite

import (
	"context"

	"github.com/zjrosen/crewchat/internal/conversation/changefeed"
	"github.com/zjrosen/crewchat/internal/conversation/domain"
)

// Store is the SQLite conversation store.
type Store struct {
	*conversationRepository
	*messageRepository
	*workflowRepository
	db *DB
}

var _ domain.Store = (*Store)(nil)

func newStore(db *DB) *Store {
	return &Store{
		conversationRepository: &conversationRepository{db: db},
		messageRepository:      &messageRepository{db: db},
		workflowRepository:     &workflowRepository{db: db},
		db:                     db,
	}
}

// Subscribe delivers changes for one conversation until unsubscribe is called
// or ctx is done.
func (s *Store) Subscribe(ctx context.Context, conversationID string, onMessage func(domain.Message), onWorkflow func(domain.Workflow)) (func(), error) {
	return changefeed.Subscribe(ctx, s.db.broker, conversationID, onMessage, onWorkflow), nil
}
