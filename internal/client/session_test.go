package client

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"

	"github.com/zjrosen/crewchat/internal/conversation/domain"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

type fakeTransport struct {
	mu           sync.Mutex
	messages     map[string][]domain.Message
	workflows    map[string]*domain.Workflow
	feeds        map[string]chan domain.Change
	subscribeErr error
	listErr      error
	submit       func(ctx context.Context, req TurnRequest) (TurnResponse, error)
}

func newFakeTransport() *fakeTransport {
	return &fakeTransport{
		messages:  make(map[string][]domain.Message),
		workflows: make(map[string]*domain.Workflow),
		feeds:     make(map[string]chan domain.Change),
	}
}

func (f *fakeTransport) SubmitTurn(ctx context.Context, req TurnRequest) (TurnResponse, error) {
	return f.submit(ctx, req)
}

func (f *fakeTransport) ListMessages(_ context.Context, id string) ([]domain.Message, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.listErr != nil {
		return nil, f.listErr
	}
	return append([]domain.Message(nil), f.messages[id]...), nil
}

func (f *fakeTransport) GetWorkflow(_ context.Context, id string) (*domain.Workflow, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	wf := f.workflows[id]
	if wf == nil {
		return nil, nil
	}
	c := wf.Clone()
	return &c, nil
}

func (f *fakeTransport) Subscribe(ctx context.Context, id string) (<-chan domain.Change, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.subscribeErr != nil {
		return nil, f.subscribeErr
	}
	ch := make(chan domain.Change, 16)
	f.feeds[id] = ch
	go func() {
		<-ctx.Done()
		f.mu.Lock()
		if f.feeds[id] == ch {
			delete(f.feeds, id)
		}
		close(ch)
		f.mu.Unlock()
	}()
	return ch, nil
}

// push delivers c on the live feed for its conversation.
func (f *fakeTransport) push(t *testing.T, c domain.Change) {
	t.Helper()
	f.mu.Lock()
	defer f.mu.Unlock()
	ch, ok := f.feeds[c.ConversationID]
	require.True(t, ok, "no live feed for %s", c.ConversationID)
	ch <- c
}

func (f *fakeTransport) feedCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.feeds)
}

var base = time.Date(2025, 1, 1, 12, 0, 0, 0, time.UTC)

func msgAt(id, conv string, offset time.Duration) domain.Message {
	return domain.Message{ID: id, ConversationID: conv, Content: id, Sender: domain.SenderAgent, Kind: domain.KindMessage, CreatedAt: base.Add(offset)}
}

func messageIDs(msgs []domain.Message) []string {
	ids := make([]string, len(msgs))
	for i, m := range msgs {
		ids[i] = m.ID
	}
	return ids
}

func TestSession_SetConversationReloads(t *testing.T) {
	ft := newFakeTransport()
	ft.messages["c1"] = []domain.Message{
		msgAt("m1", "c1", 0),
		{ID: "m2", ConversationID: "c1", Content: "no kind", Sender: domain.SenderUser, CreatedAt: base.Add(time.Second)},
	}
	s := NewSession(ft, "u1")
	defer s.Close()

	require.NoError(t, s.SetConversation(context.Background(), "c1"))
	snap := s.Snapshot()
	assert.Equal(t, "c1", snap.ConversationID)
	assert.Equal(t, []string{"m1", "m2"}, messageIDs(snap.Messages))
	assert.Equal(t, domain.KindMessage, snap.Messages[1].Kind, "missing kind defaults to message")
	assert.Nil(t, snap.Workflow, "no workflow is a normal state")
}

func TestSession_WorkflowDefaults(t *testing.T) {
	ft := newFakeTransport()
	ft.workflows["c1"] = &domain.Workflow{ConversationID: "c1", Steps: []domain.Step{{ID: "1"}}}
	s := NewSession(ft, "u1")
	defer s.Close()

	require.NoError(t, s.SetConversation(context.Background(), "c1"))
	wf := s.Snapshot().Workflow
	require.NotNil(t, wf)
	assert.Equal(t, 0, wf.Progress)
	assert.Equal(t, domain.StatusPending, wf.Status)
	assert.Equal(t, domain.StatusPending, wf.Steps[0].Status)
}

func TestSession_FeedDedupesAndOrdersMessages(t *testing.T) {
	ft := newFakeTransport()
	ft.messages["c1"] = []domain.Message{msgAt("m1", "c1", 0)}
	s := NewSession(ft, "u1")
	defer s.Close()
	require.NoError(t, s.SetConversation(context.Background(), "c1"))

	ft.push(t, domain.MessageInserted(msgAt("m3", "c1", 3*time.Second)))
	ft.push(t, domain.MessageInserted(msgAt("m2", "c1", 2*time.Second)))
	ft.push(t, domain.MessageInserted(msgAt("m3", "c1", 3*time.Second)))
	ft.push(t, domain.MessageInserted(msgAt("m1", "c1", 0)))

	require.Eventually(t, func() bool { return len(s.Snapshot().Messages) == 3 }, time.Second, 5*time.Millisecond)
	// Give any late duplicate a chance to land before asserting.
	time.Sleep(20 * time.Millisecond)
	assert.Equal(t, []string{"m1", "m2", "m3"}, messageIDs(s.Snapshot().Messages))
}

func TestSession_FeedIgnoresStaleWorkflow(t *testing.T) {
	ft := newFakeTransport()
	ft.workflows["c1"] = &domain.Workflow{ConversationID: "c1", Progress: 20, Status: domain.StatusInProgress, UpdatedAt: base}
	s := NewSession(ft, "u1")
	defer s.Close()
	require.NoError(t, s.SetConversation(context.Background(), "c1"))

	newer := domain.Workflow{ConversationID: "c1", CurrentStep: 1, Progress: 40, Status: domain.StatusInProgress, UpdatedAt: base.Add(2 * time.Second)}
	older := domain.Workflow{ConversationID: "c1", Progress: 20, Status: domain.StatusInProgress, UpdatedAt: base.Add(time.Second)}

	ft.push(t, domain.WorkflowUpdated(newer))
	ft.push(t, domain.WorkflowUpdated(older))
	ft.push(t, domain.MessageInserted(msgAt("marker", "c1", time.Minute)))

	require.Eventually(t, func() bool { return len(s.Snapshot().Messages) == 1 }, time.Second, 5*time.Millisecond)
	wf := s.Snapshot().Workflow
	require.NotNil(t, wf)
	assert.Equal(t, 40, wf.Progress)
	assert.Equal(t, 1, wf.CurrentStep)
}

func TestSession_SendAdoptsConversation(t *testing.T) {
	ft := newFakeTransport()
	var s *Session
	ft.submit = func(_ context.Context, req TurnRequest) (TurnResponse, error) {
		assert.True(t, s.IsLoading(), "loading for the span of the call")
		assert.Equal(t, "", req.ConversationID)
		assert.Equal(t, "u1", req.UserID)
		assert.Equal(t, "Build a todo app", req.Utterance)

		ft.mu.Lock()
		ft.messages["new"] = []domain.Message{
			{ID: "u", ConversationID: "new", Content: req.Utterance, Sender: domain.SenderUser, Kind: domain.KindMessage, CreatedAt: base},
			msgAt("a", "new", time.Second),
		}
		ft.workflows["new"] = &domain.Workflow{ConversationID: "new", Progress: 20, Status: domain.StatusInProgress}
		ft.mu.Unlock()
		return TurnResponse{ConversationID: "new"}, nil
	}
	s = NewSession(ft, "u1")
	defer s.Close()

	var mu sync.Mutex
	var loadingSeen []bool
	s.OnChange(func(snap Snapshot) {
		mu.Lock()
		loadingSeen = append(loadingSeen, snap.IsLoading)
		mu.Unlock()
	})

	require.NoError(t, s.Send(context.Background(), "Build a todo app"))
	assert.False(t, s.IsLoading())
	snap := s.Snapshot()
	assert.Equal(t, "new", snap.ConversationID)
	assert.Len(t, snap.Messages, 2)
	require.NotNil(t, snap.Workflow)
	assert.Equal(t, 1, ft.feedCount())

	mu.Lock()
	defer mu.Unlock()
	require.NotEmpty(t, loadingSeen)
	assert.True(t, loadingSeen[0])
	assert.False(t, loadingSeen[len(loadingSeen)-1])
}

func TestSession_SendKeepsConversation(t *testing.T) {
	ft := newFakeTransport()
	ft.submit = func(_ context.Context, req TurnRequest) (TurnResponse, error) {
		assert.Equal(t, "c1", req.ConversationID)
		return TurnResponse{ConversationID: "c1"}, nil
	}
	s := NewSession(ft, "u1")
	defer s.Close()
	require.NoError(t, s.SetConversation(context.Background(), "c1"))

	require.NoError(t, s.Send(context.Background(), "Add dark mode"))
	assert.Equal(t, "c1", s.ConversationID())
	assert.Equal(t, 1, ft.feedCount(), "no resubscribe on follow-up")
}

func TestSession_SendFailure(t *testing.T) {
	ft := newFakeTransport()
	ft.messages["c1"] = []domain.Message{msgAt("m1", "c1", 0)}
	cause := errors.New("502 bad gateway")
	ft.submit = func(context.Context, TurnRequest) (TurnResponse, error) { return TurnResponse{}, cause }
	s := NewSession(ft, "u1")
	defer s.Close()
	require.NoError(t, s.SetConversation(context.Background(), "c1"))
	before := s.Snapshot()

	err := s.Send(context.Background(), "hello")
	require.ErrorIs(t, err, ErrSendFailed)
	require.ErrorIs(t, err, cause)
	assert.Contains(t, err.Error(), "could not send message")
	assert.False(t, s.IsLoading())
	assert.Equal(t, before, s.Snapshot())
}

func TestSession_SendWhileLoading(t *testing.T) {
	ft := newFakeTransport()
	entered := make(chan struct{})
	release := make(chan struct{})
	ft.submit = func(context.Context, TurnRequest) (TurnResponse, error) {
		close(entered)
		<-release
		return TurnResponse{ConversationID: "c1"}, nil
	}
	s := NewSession(ft, "u1")
	defer s.Close()
	require.NoError(t, s.SetConversation(context.Background(), "c1"))

	errc := make(chan error, 1)
	go func() { errc <- s.Send(context.Background(), "first") }()
	<-entered
	require.ErrorIs(t, s.Send(context.Background(), "second"), ErrSendInProgress)
	close(release)
	require.NoError(t, <-errc)
}

func TestSession_SubscribeFailureStillLoads(t *testing.T) {
	ft := newFakeTransport()
	ft.subscribeErr = errors.New("websocket refused")
	ft.messages["c1"] = []domain.Message{msgAt("m1", "c1", 0)}
	s := NewSession(ft, "u1")
	defer s.Close()

	require.NoError(t, s.SetConversation(context.Background(), "c1"))
	assert.Len(t, s.Snapshot().Messages, 1)
}

func TestSession_ReloadFailure(t *testing.T) {
	ft := newFakeTransport()
	ft.listErr = errors.New("down")
	s := NewSession(ft, "u1")
	defer s.Close()

	require.Error(t, s.SetConversation(context.Background(), "c1"))
	assert.Equal(t, "", s.ConversationID())
	require.Eventually(t, func() bool { return ft.feedCount() == 0 }, time.Second, 5*time.Millisecond)
}

func TestSession_SwitchConversationDropsOldFeed(t *testing.T) {
	ft := newFakeTransport()
	s := NewSession(ft, "u1")
	defer s.Close()

	require.NoError(t, s.SetConversation(context.Background(), "c1"))
	require.NoError(t, s.SetConversation(context.Background(), "c2"))
	require.Eventually(t, func() bool { return ft.feedCount() == 1 }, time.Second, 5*time.Millisecond)

	ft.push(t, domain.MessageInserted(msgAt("m", "c2", 0)))
	require.Eventually(t, func() bool { return len(s.Snapshot().Messages) == 1 }, time.Second, 5*time.Millisecond)
	assert.Equal(t, "c2", s.Snapshot().Messages[0].ConversationID)
}

func TestSession_Close(t *testing.T) {
	ft := newFakeTransport()
	s := NewSession(ft, "u1")
	require.NoError(t, s.SetConversation(context.Background(), "c1"))

	s.Close()
	s.Close()
	require.Eventually(t, func() bool { return ft.feedCount() == 0 }, time.Second, 5*time.Millisecond)
	assert.ErrorIs(t, s.SetConversation(context.Background(), "c1"), ErrSessionClosed)
	assert.ErrorIs(t, s.Send(context.Background(), "hi"), ErrSessionClosed)
}
