// Package storetest holds behaviour every domain.Store implementation must
// share. Implementations call Run from their own tests.
package storetest

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/zjrosen/crewchat/internal/conversation/domain"
)

// Factory returns a fresh, empty store for one subtest.
type Factory func(t *testing.T) domain.Store

// Run exercises the store contract against stores built by newStore.
func Run(t *testing.T, newStore Factory) {
	t.Run("ConversationRoundTrip", func(t *testing.T) { testConversationRoundTrip(t, newStore(t)) })
	t.Run("TranscriptOrder", func(t *testing.T) { testTranscriptOrder(t, newStore(t)) })
	t.Run("MessageForUnknownConversation", func(t *testing.T) { testMessageForUnknownConversation(t, newStore(t)) })
	t.Run("WorkflowCreatedOnce", func(t *testing.T) { testWorkflowCreatedOnce(t, newStore(t)) })
	t.Run("WorkflowMissingIsNotFound", func(t *testing.T) { testWorkflowMissing(t, newStore(t)) })
	t.Run("WorkflowPartialUpdate", func(t *testing.T) { testWorkflowPartialUpdate(t, newStore(t)) })
	t.Run("SubscribeSeesWrites", func(t *testing.T) { testSubscribe(t, newStore(t)) })
}

func steps() []domain.Step {
	return []domain.Step{
		{ID: "1", PersonaName: "Alex", Title: "Requirements Analysis", Status: domain.StatusInProgress},
		{ID: "2", PersonaName: "Morgan", Title: "Code Generation", Status: domain.StatusPending},
	}
}

func mustConversation(t *testing.T, s domain.Store) domain.Conversation {
	t.Helper()
	c, err := s.InsertConversation(context.Background(), domain.NewConversation{OwnerID: "owner", Title: "title..."})
	require.NoError(t, err)
	return c
}

func testConversationRoundTrip(t *testing.T, s domain.Store) {
	ctx := context.Background()
	c := mustConversation(t, s)

	got, err := s.GetConversation(ctx, c.ID)
	require.NoError(t, err)
	require.Equal(t, c.ID, got.ID)
	require.Equal(t, "owner", got.OwnerID)
	require.Equal(t, "title...", got.Title)

	_, err = s.GetConversation(ctx, "nope")
	require.True(t, domain.IsNotFound(err))
}

func testTranscriptOrder(t *testing.T, s domain.Store) {
	ctx := context.Background()
	c := mustConversation(t, s)

	for _, content := range []string{"a", "b", "c", "d"} {
		_, err := s.InsertMessage(ctx, domain.NewMessage{ConversationID: c.ID, Content: content, Sender: domain.SenderUser})
		require.NoError(t, err)
	}

	msgs, err := s.ListMessages(ctx, c.ID)
	require.NoError(t, err)
	require.Len(t, msgs, 4)
	for i := 1; i < len(msgs); i++ {
		require.False(t, msgs[i].CreatedAt.Before(msgs[i-1].CreatedAt))
	}
	require.Equal(t, "a", msgs[0].Content)
	require.Equal(t, "d", msgs[3].Content)

	empty, err := s.ListMessages(ctx, "unknown")
	require.NoError(t, err)
	require.Empty(t, empty)
}

func testMessageForUnknownConversation(t *testing.T, s domain.Store) {
	_, err := s.InsertMessage(context.Background(), domain.NewMessage{ConversationID: "ghost", Content: "x", Sender: domain.SenderUser})
	require.Error(t, err)
	var storeErr *domain.StoreError
	require.ErrorAs(t, err, &storeErr)
}

func testWorkflowCreatedOnce(t *testing.T, s domain.Store) {
	ctx := context.Background()
	c := mustConversation(t, s)

	_, err := s.InsertWorkflow(ctx, domain.NewWorkflow{ConversationID: c.ID, Steps: steps(), Progress: 20, Status: domain.StatusInProgress})
	require.NoError(t, err)

	_, err = s.InsertWorkflow(ctx, domain.NewWorkflow{ConversationID: c.ID, Steps: steps(), Progress: 20, Status: domain.StatusInProgress})
	require.ErrorIs(t, err, domain.ErrWorkflowExists)
}

func testWorkflowMissing(t *testing.T, s domain.Store) {
	c := mustConversation(t, s)
	_, err := s.GetWorkflow(context.Background(), c.ID)
	var nf *domain.WorkflowNotFoundError
	require.ErrorAs(t, err, &nf)
	require.Equal(t, c.ID, nf.ConversationID)
}

func testWorkflowPartialUpdate(t *testing.T, s domain.Store) {
	ctx := context.Background()
	c := mustConversation(t, s)
	created, err := s.InsertWorkflow(ctx, domain.NewWorkflow{ConversationID: c.ID, Steps: steps(), Progress: 20, Status: domain.StatusInProgress})
	require.NoError(t, err)

	status := domain.StatusError
	require.NoError(t, s.UpdateWorkflow(ctx, c.ID, domain.WorkflowUpdate{Status: &status}))

	got, err := s.GetWorkflow(ctx, c.ID)
	require.NoError(t, err)
	require.Equal(t, domain.StatusError, got.Status)
	require.Equal(t, 20, got.Progress)
	require.Equal(t, steps(), got.Steps)
	require.True(t, got.UpdatedAt.After(created.UpdatedAt))
}

func testSubscribe(t *testing.T, s domain.Store) {
	ctx := context.Background()
	c := mustConversation(t, s)

	var (
		mu       sync.Mutex
		messages []domain.Message
		latest   *domain.Workflow
	)
	unsubscribe, err := s.Subscribe(ctx, c.ID,
		func(m domain.Message) { mu.Lock(); messages = append(messages, m); mu.Unlock() },
		func(w domain.Workflow) { mu.Lock(); latest = &w; mu.Unlock() },
	)
	require.NoError(t, err)
	defer unsubscribe()

	msg, err := s.InsertMessage(ctx, domain.NewMessage{ConversationID: c.ID, Content: "hi", Sender: domain.SenderUser})
	require.NoError(t, err)
	_, err = s.InsertWorkflow(ctx, domain.NewWorkflow{ConversationID: c.ID, Steps: steps(), Progress: 20, Status: domain.StatusInProgress})
	require.NoError(t, err)
	progress := 40
	require.NoError(t, s.UpdateWorkflow(ctx, c.ID, domain.WorkflowUpdate{Progress: &progress}))

	require.Eventually(t, func() bool {
		mu.Lock()
		defer mu.Unlock()
		return len(messages) >= 1 && latest != nil && latest.Progress == 40
	}, 2*time.Second, 5*time.Millisecond)

	mu.Lock()
	defer mu.Unlock()
	require.Equal(t, msg.ID, messages[0].ID)
}
