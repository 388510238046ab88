package memory

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/zjrosen/crewchat/internal/clock"
	"github.com/zjrosen/crewchat/internal/conversation/domain"
	"github.com/zjrosen/crewchat/internal/conversation/storetest"
)

func TestStore_Contract(t *testing.T) {
	storetest.Run(t, func(t *testing.T) domain.Store {
		s := NewStore()
		t.Cleanup(s.Close)
		return s
	})
}

func TestListMessages_SortsByCreatedAt(t *testing.T) {
	fake := clock.NewFake(time.Unix(1000, 0))
	s := NewStore(WithClock(fake))
	defer s.Close()
	ctx := context.Background()

	conv, err := s.InsertConversation(ctx, domain.NewConversation{OwnerID: "u", Title: "t"})
	require.NoError(t, err)

	_, err = s.InsertMessage(ctx, domain.NewMessage{ConversationID: conv.ID, Content: "late", Sender: domain.SenderUser})
	require.NoError(t, err)
	fake.Set(time.Unix(900, 0))
	_, err = s.InsertMessage(ctx, domain.NewMessage{ConversationID: conv.ID, Content: "early", Sender: domain.SenderUser})
	require.NoError(t, err)

	msgs, err := s.ListMessages(ctx, conv.ID)
	require.NoError(t, err)
	require.Equal(t, "early", msgs[0].Content)
	require.Equal(t, "late", msgs[1].Content)
}

func TestGetWorkflow_ReturnsCopy(t *testing.T) {
	s := NewStore()
	defer s.Close()
	ctx := context.Background()
	conv, err := s.InsertConversation(ctx, domain.NewConversation{OwnerID: "u", Title: "t"})
	require.NoError(t, err)
	_, err = s.InsertWorkflow(ctx, domain.NewWorkflow{
		ConversationID: conv.ID,
		Steps:          []domain.Step{{ID: "1", Status: domain.StatusInProgress}},
		Progress:       20,
		Status:         domain.StatusInProgress,
	})
	require.NoError(t, err)

	wf, err := s.GetWorkflow(ctx, conv.ID)
	require.NoError(t, err)
	wf.Steps[0].Status = domain.StatusError

	again, err := s.GetWorkflow(ctx, conv.ID)
	require.NoError(t, err)
	require.Equal(t, domain.StatusInProgress, again.Steps[0].Status)
}

func TestInsertConversation_RequiresOwner(t *testing.T) {
	s := NewStore()
	defer s.Close()
	_, err := s.InsertConversation(context.Background(), domain.NewConversation{})
	require.ErrorIs(t, err, domain.ErrInvalidRecord)
}
