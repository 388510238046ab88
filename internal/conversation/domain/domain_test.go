package domain

import (
	"context"
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/require"
)

// ============================================================================
// Error Tests
// ============================================================================

func TestErrors_Messages(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want string
	}{
		{
			name: "ConversationNotFoundError",
			err:  &ConversationNotFoundError{ID: "c-1"},
			want: `conversation not found: id="c-1"`,
		},
		{
			name: "WorkflowNotFoundError",
			err:  &WorkflowNotFoundError{ConversationID: "c-1"},
			want: `workflow not found: conversation="c-1"`,
		},
		{
			name: "StoreError",
			err:  &StoreError{Op: "insert message", Err: errors.New("disk full")},
			want: "store insert message: disk full",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			require.Equal(t, tt.want, tt.err.Error())
		})
	}
}

func TestNotFoundErrors_MatchSentinel(t *testing.T) {
	wrapped := fmt.Errorf("loading: %w", &WorkflowNotFoundError{ConversationID: "c-1"})
	require.True(t, IsNotFound(wrapped))
	require.True(t, IsNotFound(&ConversationNotFoundError{ID: "x"}))
	require.False(t, IsNotFound(ErrWorkflowExists))

	var wfErr *WorkflowNotFoundError
	require.ErrorAs(t, wrapped, &wfErr)
	require.Equal(t, "c-1", wfErr.ConversationID)
}

func TestStoreError_Unwraps(t *testing.T) {
	err := &StoreError{Op: "insert workflow", Err: ErrWorkflowExists}
	require.ErrorIs(t, err, ErrWorkflowExists)
}

// ============================================================================
// Enum Tests
// ============================================================================

func TestKind_OrDefault(t *testing.T) {
	require.Equal(t, KindMessage, Kind("").OrDefault())
	require.Equal(t, KindCode, KindCode.OrDefault())
	require.True(t, KindDeployment.IsValid())
	require.False(t, Kind("essay").IsValid())
}

func TestStatus_IsTerminal(t *testing.T) {
	tests := []struct {
		status   Status
		terminal bool
	}{
		{StatusPending, false},
		{StatusInProgress, false},
		{StatusCompleted, true},
		{StatusError, true},
	}
	for _, tt := range tests {
		t.Run(string(tt.status), func(t *testing.T) {
			require.True(t, tt.status.IsValid())
			require.Equal(t, tt.terminal, tt.status.IsTerminal())
		})
	}
	require.False(t, Status("paused").IsValid())
}

func TestSender_IsValid(t *testing.T) {
	require.True(t, SenderUser.IsValid())
	require.True(t, SenderAgent.IsValid())
	require.False(t, Sender("system").IsValid())
}

// ============================================================================
// Workflow Tests
// ============================================================================

func TestWorkflow_CloneIsDeep(t *testing.T) {
	w := Workflow{Steps: []Step{{ID: "1", Status: StatusPending}}}
	c := w.Clone()
	c.Steps[0].Status = StatusCompleted
	require.Equal(t, StatusPending, w.Steps[0].Status)
}

func TestWorkflow_CurrentStepRecord(t *testing.T) {
	w := Workflow{Steps: []Step{{ID: "1"}, {ID: "2"}}, CurrentStep: 1}
	step, ok := w.CurrentStepRecord()
	require.True(t, ok)
	require.Equal(t, "2", step.ID)

	w.CurrentStep = 5
	_, ok = w.CurrentStepRecord()
	require.False(t, ok)
}

func TestWorkflowUpdate_ApplyTo(t *testing.T) {
	base := Workflow{
		Steps:       []Step{{ID: "1", Status: StatusInProgress}},
		CurrentStep: 0,
		Progress:    20,
		Status:      StatusInProgress,
	}
	require.True(t, WorkflowUpdate{}.IsEmpty())

	progress := 40
	status := StatusError
	got := WorkflowUpdate{Progress: &progress, Status: &status}.ApplyTo(base)

	require.Equal(t, 40, got.Progress)
	require.Equal(t, StatusError, got.Status)
	require.Equal(t, 0, got.CurrentStep, "unset fields are unchanged")
	require.Equal(t, 20, base.Progress, "base is not mutated")
}

// ============================================================================
// Change Tests
// ============================================================================

func TestChange_Dispatch(t *testing.T) {
	var gotMsg []Message
	var gotWf []Workflow
	onMsg := func(m Message) { gotMsg = append(gotMsg, m) }
	onWf := func(w Workflow) { gotWf = append(gotWf, w) }

	MessageInserted(Message{ID: "m1", ConversationID: "c1"}).Dispatch(onMsg, onWf)
	WorkflowUpdated(Workflow{ID: "w1", ConversationID: "c1"}).Dispatch(onMsg, onWf)
	Change{Type: ChangeMessageInserted}.Dispatch(onMsg, onWf)
	Change{Type: "unknown"}.Dispatch(onMsg, onWf)

	require.Len(t, gotMsg, 1)
	require.Equal(t, "m1", gotMsg[0].ID)
	require.Len(t, gotWf, 1)
	require.Equal(t, "w1", gotWf[0].ID)

	require.NotPanics(t, func() {
		MessageInserted(Message{ID: "m2"}).Dispatch(nil, nil)
	})
}

func TestChangeFilter_Matches(t *testing.T) {
	msg := MessageInserted(Message{ID: "m1", ConversationID: "c1"})

	require.True(t, ChangeFilter{}.Matches(msg))
	require.True(t, ChangeFilter{ConversationID: "c1"}.Matches(msg))
	require.False(t, ChangeFilter{ConversationID: "c2"}.Matches(msg))
	require.True(t, ChangeFilter{Types: []ChangeType{ChangeMessageInserted}}.Matches(msg))
	require.False(t, ChangeFilter{Types: []ChangeType{ChangeWorkflowUpdated}}.Matches(msg))
}

// feedFunc adapts a function to ChangeFeed.
type feedFunc func(ctx context.Context, conversationID string, onMessage func(Message), onWorkflow func(Workflow)) (func(), error)

func (f feedFunc) Subscribe(ctx context.Context, conversationID string, onMessage func(Message), onWorkflow func(Workflow)) (func(), error) {
	return f(ctx, conversationID, onMessage, onWorkflow)
}

func TestChangeFeed_Subscribe(t *testing.T) {
	var got []string
	var feed ChangeFeed = feedFunc(func(_ context.Context, id string, onMessage func(Message), _ func(Workflow)) (func(), error) {
		onMessage(Message{ID: "m1", ConversationID: id})
		return func() { got = append(got, "unsubscribed") }, nil
	})

	unsubscribe, err := feed.Subscribe(context.Background(), "c1", func(m Message) {
		got = append(got, m.ConversationID+"/"+m.ID)
	}, func(Workflow) {})
	require.NoError(t, err)
	unsubscribe()
	require.Equal(t, []string{"c1/m1", "unsubscribed"}, got)
}
