package client

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"sync"
	"time"

	"github.com/patrickmn/go-cache"

	"github.com/zjrosen/crewchat/internal/conversation/domain"
	"github.com/zjrosen/crewchat/internal/log"
)

var (
	// ErrSendFailed is the user-facing failure for an utterance that did
	// not get a reply. The cause is wrapped.
	ErrSendFailed = errors.New("could not send message")

	// ErrSendInProgress is returned when Send is called while another
	// utterance is outstanding.
	ErrSendInProgress = errors.New("a message is already being sent")

	// ErrSessionClosed is returned after Close.
	ErrSessionClosed = errors.New("session closed")
)

// seenTTL bounds how long a message id is remembered for dedupe. The
// transcript itself is checked as well, so expiry only costs a scan.
const seenTTL = 30 * time.Minute

// Snapshot is a copy of the session state.
type Snapshot struct {
	ConversationID string
	Messages       []domain.Message
	Workflow       *domain.Workflow
	IsLoading      bool
}

// Session mirrors the active conversation of one user.
type Session struct {
	transport Transport
	userID    string

	// setMu serializes SetConversation so only one feed is live.
	setMu sync.Mutex

	mu             sync.Mutex
	conversationID string
	messages       []domain.Message
	workflow       *domain.Workflow
	loading        bool
	closed         bool
	onChange       func(Snapshot)
	seen           *cache.Cache

	// feed lifecycle
	feedCancel context.CancelFunc
	feedDone   chan struct{}
}

// NewSession creates a session for userID with no active conversation.
func NewSession(transport Transport, userID string) *Session {
	return &Session{
		transport: transport,
		userID:    userID,
		// No janitor goroutine: entries expire lazily.
		seen: cache.New(seenTTL, 0),
	}
}

// OnChange registers fn to be called with a snapshot after every state
// change. fn runs without the session lock held.
func (s *Session) OnChange(fn func(Snapshot)) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.onChange = fn
}

// ConversationID returns the active conversation, or "".
func (s *Session) ConversationID() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.conversationID
}

// IsLoading reports whether an utterance is outstanding.
func (s *Session) IsLoading() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.loading
}

// Snapshot returns a copy of the current state.
func (s *Session) Snapshot() Snapshot {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.snapshotLocked()
}

func (s *Session) snapshotLocked() Snapshot {
	snap := Snapshot{
		ConversationID: s.conversationID,
		Messages:       slices.Clone(s.messages),
		IsLoading:      s.loading,
	}
	if snap.Messages == nil {
		snap.Messages = []domain.Message{}
	}
	if s.workflow != nil {
		wf := s.workflow.Clone()
		snap.Workflow = &wf
	}
	return snap
}

// SetConversation makes id the active conversation: it reloads messages
// and workflow, then applies feed notifications from that point on.
func (s *Session) SetConversation(ctx context.Context, id string) error {
	s.setMu.Lock()
	defer s.setMu.Unlock()

	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return ErrSessionClosed
	}
	s.mu.Unlock()

	s.stopFeed()

	// Subscribe before reloading so nothing published during the reload is
	// missed. Anything already in the reload is dropped by dedupe.
	feedCtx, cancel := context.WithCancel(context.Background())
	changes, err := s.transport.Subscribe(feedCtx, id)
	if err != nil {
		cancel()
		log.Warn(log.CatClient, "Change feed unavailable, continuing without live updates", "conversation", id, "error", err)
		changes = nil
	}

	msgs, err := s.transport.ListMessages(ctx, id)
	if err != nil {
		cancel()
		return fmt.Errorf("loading messages: %w", err)
	}
	wf, err := s.transport.GetWorkflow(ctx, id)
	if err != nil {
		cancel()
		return fmt.Errorf("loading workflow: %w", err)
	}

	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		cancel()
		return ErrSessionClosed
	}
	s.conversationID = id
	s.seen.Flush()
	s.messages = s.messages[:0]
	for _, m := range msgs {
		s.insertMessageLocked(normalizeMessage(m))
	}
	s.workflow = nil
	if wf != nil {
		n := normalizeWorkflow(*wf)
		s.workflow = &n
	}
	if changes != nil {
		done := make(chan struct{})
		s.feedCancel = cancel
		s.feedDone = done
		log.SafeGo("client.session.feed", func() {
			defer close(done)
			s.consume(id, changes)
		})
	}
	snap, notify := s.snapshotLocked(), s.onChange
	s.mu.Unlock()

	log.Debug(log.CatClient, "Conversation loaded", "conversation", id, "messages", len(snap.Messages), "has_workflow", snap.Workflow != nil)
	if notify != nil {
		notify(snap)
	}
	return nil
}

// Send submits an utterance. The first successful send without an active
// conversation adopts the conversation the server created.
func (s *Session) Send(ctx context.Context, utterance string) error {
	s.mu.Lock()
	switch {
	case s.closed:
		s.mu.Unlock()
		return ErrSessionClosed
	case s.loading:
		s.mu.Unlock()
		return ErrSendInProgress
	}
	s.loading = true
	convID := s.conversationID
	s.mu.Unlock()
	s.notify()

	defer func() {
		s.mu.Lock()
		s.loading = false
		s.mu.Unlock()
		s.notify()
	}()

	resp, err := s.transport.SubmitTurn(ctx, TurnRequest{
		Utterance:      utterance,
		ConversationID: convID,
		UserID:         s.userID,
	})
	if err != nil {
		log.ErrorErr(log.CatClient, "Send failed", err, "conversation", convID)
		return fmt.Errorf("%w: %w", ErrSendFailed, err)
	}

	if convID == "" && resp.ConversationID != "" {
		if err := s.SetConversation(ctx, resp.ConversationID); err != nil {
			return fmt.Errorf("adopting conversation %q: %w", resp.ConversationID, err)
		}
	}
	return nil
}

// Close stops the change feed. The session cannot be used afterwards.
func (s *Session) Close() {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return
	}
	s.closed = true
	s.mu.Unlock()
	s.stopFeed()
}

func (s *Session) stopFeed() {
	s.mu.Lock()
	cancel, done := s.feedCancel, s.feedDone
	s.feedCancel, s.feedDone = nil, nil
	s.mu.Unlock()

	if cancel != nil {
		cancel()
		<-done
	}
}

func (s *Session) consume(conversationID string, changes <-chan domain.Change) {
	for c := range changes {
		if c.ConversationID != "" && c.ConversationID != conversationID {
			continue
		}
		c.Dispatch(
			func(m domain.Message) { s.applyMessage(conversationID, m) },
			func(w domain.Workflow) { s.applyWorkflow(conversationID, w) },
		)
	}
}

// applyMessage inserts m unless it was already seen.
func (s *Session) applyMessage(conversationID string, m domain.Message) {
	s.mu.Lock()
	if s.conversationID != conversationID {
		s.mu.Unlock()
		return
	}
	if !s.insertMessageLocked(normalizeMessage(m)) {
		s.mu.Unlock()
		log.Debug(log.CatClient, "Duplicate message notification ignored", "message", m.ID)
		return
	}
	s.mu.Unlock()
	s.notify()
}

// applyWorkflow replaces the mirror unless w is older than it.
func (s *Session) applyWorkflow(conversationID string, w domain.Workflow) {
	s.mu.Lock()
	if s.conversationID != conversationID {
		s.mu.Unlock()
		return
	}
	if s.workflow != nil && w.UpdatedAt.Before(s.workflow.UpdatedAt) {
		s.mu.Unlock()
		log.Debug(log.CatClient, "Stale workflow notification ignored", "conversation", conversationID)
		return
	}
	n := normalizeWorkflow(w)
	s.workflow = &n
	s.mu.Unlock()
	s.notify()
}

// insertMessageLocked places m in created_at order, after any message with
// the same timestamp. It reports false for a message already present.
func (s *Session) insertMessageLocked(m domain.Message) bool {
	if err := s.seen.Add(m.ID, struct{}{}, cache.DefaultExpiration); err != nil {
		return false
	}
	if slices.ContainsFunc(s.messages, func(x domain.Message) bool { return x.ID == m.ID }) {
		return false
	}
	i := len(s.messages)
	for i > 0 && s.messages[i-1].CreatedAt.After(m.CreatedAt) {
		i--
	}
	s.messages = slices.Insert(s.messages, i, m)
	return true
}

func (s *Session) notify() {
	s.mu.Lock()
	fn := s.onChange
	snap := s.snapshotLocked()
	s.mu.Unlock()
	if fn != nil {
		fn(snap)
	}
}

func normalizeMessage(m domain.Message) domain.Message {
	m.Kind = m.Kind.OrDefault()
	return m
}

func normalizeWorkflow(w domain.Workflow) domain.Workflow {
	w = w.Clone()
	if w.Status == "" {
		w.Status = domain.StatusPending
	}
	for i := range w.Steps {
		if w.Steps[i].Status == "" {
			w.Steps[i].Status = domain.StatusPending
		}
	}
	return w
}
