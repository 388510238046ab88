// Package memory is an in-process implementation of the conversation store.
// It backs tests and ephemeral runs; nothing survives a restart.
package memory

import (
	"context"
	"fmt"
	"slices"
	"strings"
	"sync"

	"github.com/google/uuid"

	"github.com/zjrosen/crewchat/internal/clock"
	"github.com/zjrosen/crewchat/internal/conversation/changefeed"
	"github.com/zjrosen/crewchat/internal/conversation/domain"
	"github.com/zjrosen/crewchat/internal/pubsub"
)

// Store is an in-memory domain.Store.
type Store struct {
	mu            sync.RWMutex
	conversations map[string]domain.Conversation
	messages      map[string][]domain.Message // conversationID -> transcript in insertion order
	workflows     map[string]domain.Workflow  // conversationID -> workflow

	clock  clock.Clock
	broker *pubsub.Broker[domain.Change]
}

var _ domain.Store = (*Store)(nil)

// Option configures a Store.
type Option func(*Store)

// WithClock sets the clock used for timestamps.
func WithClock(c clock.Clock) Option {
	return func(s *Store) { s.clock = c }
}

// NewStore creates an empty store.
func NewStore(opts ...Option) *Store {
	s := &Store{
		conversations: make(map[string]domain.Conversation),
		messages:      make(map[string][]domain.Message),
		workflows:     make(map[string]domain.Workflow),
		clock:         clock.Real(),
		broker:        pubsub.NewBroker[domain.Change](),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Broker exposes the change broker.
func (s *Store) Broker() *pubsub.Broker[domain.Change] {
	return s.broker
}

// Close shuts down the change broker.
func (s *Store) Close() {
	s.broker.Close()
}

// InsertConversation creates a conversation.
func (s *Store) InsertConversation(_ context.Context, c domain.NewConversation) (domain.Conversation, error) {
	if strings.TrimSpace(c.OwnerID) == "" {
		return domain.Conversation{}, invalid("insert conversation", "owner id is required")
	}

	conv := domain.Conversation{
		ID:        uuid.NewString(),
		OwnerID:   c.OwnerID,
		Title:     c.Title,
		CreatedAt: s.clock.Now().UTC(),
	}

	s.mu.Lock()
	s.conversations[conv.ID] = conv
	s.mu.Unlock()
	return conv, nil
}

// GetConversation returns ConversationNotFoundError for unknown ids.
func (s *Store) GetConversation(_ context.Context, id string) (domain.Conversation, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	conv, ok := s.conversations[id]
	if !ok {
		return domain.Conversation{}, &domain.ConversationNotFoundError{ID: id}
	}
	return conv, nil
}

// InsertMessage appends a message and publishes it.
func (s *Store) InsertMessage(_ context.Context, m domain.NewMessage) (domain.Message, error) {
	kind := m.Kind.OrDefault()
	switch {
	case !m.Sender.IsValid():
		return domain.Message{}, invalid("insert message", fmt.Sprintf("unknown sender %q", m.Sender))
	case !kind.IsValid():
		return domain.Message{}, invalid("insert message", fmt.Sprintf("unknown kind %q", m.Kind))
	}

	s.mu.Lock()
	if _, ok := s.conversations[m.ConversationID]; !ok {
		s.mu.Unlock()
		return domain.Message{}, &domain.StoreError{Op: "insert message", Err: &domain.ConversationNotFoundError{ID: m.ConversationID}}
	}
	msg := domain.Message{
		ID:             uuid.NewString(),
		ConversationID: m.ConversationID,
		Content:        m.Content,
		Sender:         m.Sender,
		PersonaName:    m.PersonaName,
		PersonaAvatar:  m.PersonaAvatar,
		PersonaColor:   m.PersonaColor,
		Kind:           kind,
		CreatedAt:      s.clock.Now().UTC(),
	}
	s.messages[m.ConversationID] = append(s.messages[m.ConversationID], msg)
	s.mu.Unlock()

	s.broker.Publish(pubsub.CreatedEvent, domain.MessageInserted(msg))
	return msg, nil
}

// ListMessages returns the transcript ordered by created_at, ties in insertion order.
func (s *Store) ListMessages(_ context.Context, conversationID string) ([]domain.Message, error) {
	s.mu.RLock()
	msgs := slices.Clone(s.messages[conversationID])
	s.mu.RUnlock()

	slices.SortStableFunc(msgs, func(a, b domain.Message) int {
		return a.CreatedAt.Compare(b.CreatedAt)
	})
	if msgs == nil {
		msgs = []domain.Message{}
	}
	return msgs, nil
}

// GetWorkflow returns WorkflowNotFoundError when none exists.
func (s *Store) GetWorkflow(_ context.Context, conversationID string) (domain.Workflow, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	wf, ok := s.workflows[conversationID]
	if !ok {
		return domain.Workflow{}, &domain.WorkflowNotFoundError{ConversationID: conversationID}
	}
	return wf.Clone(), nil
}

// InsertWorkflow creates the single workflow of a conversation.
func (s *Store) InsertWorkflow(_ context.Context, w domain.NewWorkflow) (domain.Workflow, error) {
	const op = "insert workflow"
	if w.Status == "" {
		w.Status = domain.StatusPending
	}
	if err := validate(w.Progress, w.Status); err != nil {
		return domain.Workflow{}, &domain.StoreError{Op: op, Err: err}
	}

	s.mu.Lock()
	if _, ok := s.conversations[w.ConversationID]; !ok {
		s.mu.Unlock()
		return domain.Workflow{}, &domain.StoreError{Op: op, Err: &domain.ConversationNotFoundError{ID: w.ConversationID}}
	}
	if _, exists := s.workflows[w.ConversationID]; exists {
		s.mu.Unlock()
		return domain.Workflow{}, &domain.StoreError{Op: op, Err: domain.ErrWorkflowExists}
	}
	now := s.clock.Now().UTC()
	wf := domain.Workflow{
		ID:             uuid.NewString(),
		ConversationID: w.ConversationID,
		Steps:          slices.Clone(w.Steps),
		CurrentStep:    w.CurrentStep,
		Progress:       w.Progress,
		Status:         w.Status,
		CreatedAt:      now,
		UpdatedAt:      now,
	}
	s.workflows[w.ConversationID] = wf
	s.mu.Unlock()

	s.broker.Publish(pubsub.CreatedEvent, domain.WorkflowUpdated(wf))
	return wf.Clone(), nil
}

// UpdateWorkflow applies the set fields of update under one lock.
func (s *Store) UpdateWorkflow(_ context.Context, conversationID string, update domain.WorkflowUpdate) error {
	const op = "update workflow"
	if update.IsEmpty() {
		return nil
	}
	if update.Progress != nil {
		if err := validate(*update.Progress, ""); err != nil {
			return &domain.StoreError{Op: op, Err: err}
		}
	}
	if update.Status != nil {
		if err := validate(0, *update.Status); err != nil {
			return &domain.StoreError{Op: op, Err: err}
		}
	}

	s.mu.Lock()
	wf, ok := s.workflows[conversationID]
	if !ok {
		s.mu.Unlock()
		return &domain.WorkflowNotFoundError{ConversationID: conversationID}
	}
	wf = update.ApplyTo(wf)
	now := s.clock.Now().UTC()
	if !now.After(wf.UpdatedAt) {
		now = wf.UpdatedAt.Add(1)
	}
	wf.UpdatedAt = now
	s.workflows[conversationID] = wf
	s.mu.Unlock()

	s.broker.Publish(pubsub.UpdatedEvent, domain.WorkflowUpdated(wf))
	return nil
}

// Subscribe delivers changes for one conversation.
func (s *Store) Subscribe(ctx context.Context, conversationID string, onMessage func(domain.Message), onWorkflow func(domain.Workflow)) (func(), error) {
	return changefeed.Subscribe(ctx, s.broker, conversationID, onMessage, onWorkflow), nil
}

func validate(progress int, status domain.Status) error {
	if progress < 0 || progress > 100 {
		return fmt.Errorf("%w: progress %d outside 0..100", domain.ErrInvalidRecord, progress)
	}
	if status != "" && !status.IsValid() {
		return fmt.Errorf("%w: unknown status %q", domain.ErrInvalidRecord, status)
	}
	return nil
}

func invalid(op, reason string) error {
	return &domain.StoreError{Op: op, Err: fmt.Errorf("%w: %s", domain.ErrInvalidRecord, reason)}
}
