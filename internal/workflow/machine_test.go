package workflow

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/zjrosen/crewchat/internal/conversation/domain"
	"github.com/zjrosen/crewchat/internal/infrastructure/memory"
)

func newMachine(t *testing.T) (*Machine, *memory.Store, string) {
	t.Helper()
	store := memory.NewStore()
	t.Cleanup(store.Close)
	conv, err := store.InsertConversation(context.Background(), domain.NewConversation{OwnerID: "u", Title: "t"})
	require.NoError(t, err)
	return NewMachine(store), store, conv.ID
}

func TestMachine_Initialize(t *testing.T) {
	m, store, convID := newMachine(t)
	ctx := context.Background()

	wf, err := m.Initialize(ctx, convID)
	require.NoError(t, err)
	require.Len(t, wf.Steps, StepCount)
	require.Equal(t, 0, wf.CurrentStep)
	require.Equal(t, 20, wf.Progress)
	require.Equal(t, domain.StatusInProgress, wf.Status)

	stored, err := store.GetWorkflow(ctx, convID)
	require.NoError(t, err)
	require.Equal(t, wf.ID, stored.ID)
}

func TestMachine_InitializeTwiceFails(t *testing.T) {
	m, store, convID := newMachine(t)
	ctx := context.Background()

	first, err := m.Initialize(ctx, convID)
	require.NoError(t, err)

	_, err = m.Initialize(ctx, convID)
	require.ErrorIs(t, err, domain.ErrWorkflowExists)

	again, err := store.GetWorkflow(ctx, convID)
	require.NoError(t, err)
	require.Equal(t, first.ID, again.ID)
}

func TestMachine_AdvanceToBuild(t *testing.T) {
	m, store, convID := newMachine(t)
	ctx := context.Background()
	_, err := m.Initialize(ctx, convID)
	require.NoError(t, err)

	wf, err := m.Advance(ctx, convID, 1, ProgressFor(1))
	require.NoError(t, err)
	require.Equal(t, 1, wf.CurrentStep)
	require.Equal(t, 40, wf.Progress)

	stored, err := store.GetWorkflow(ctx, convID)
	require.NoError(t, err)
	require.Equal(t, 1, stored.CurrentStep)
	require.Equal(t, 40, stored.Progress)
	require.Equal(t, domain.StatusCompleted, stored.Steps[0].Status)
	require.Equal(t, domain.StatusInProgress, stored.Steps[1].Status)
	require.NoError(t, Check(stored))
}

func TestMachine_AdvanceRejectsDecreasingProgress(t *testing.T) {
	m, _, convID := newMachine(t)
	ctx := context.Background()
	_, err := m.Initialize(ctx, convID)
	require.NoError(t, err)
	_, err = m.Advance(ctx, convID, 2, 60)
	require.NoError(t, err)

	_, err = m.Advance(ctx, convID, 3, 40)
	require.ErrorIs(t, err, ErrInvalidAdvance)
}

func TestMachine_AdvanceWithoutWorkflow(t *testing.T) {
	m, _, convID := newMachine(t)
	_, err := m.Advance(context.Background(), convID, 1, 40)
	require.True(t, domain.IsNotFound(err))
}

func TestMachine_FailMarksInFlightStep(t *testing.T) {
	m, store, convID := newMachine(t)
	ctx := context.Background()
	_, err := m.Initialize(ctx, convID)
	require.NoError(t, err)

	wf, err := m.Fail(ctx, convID, errors.New("provider down"))
	require.NoError(t, err)
	require.Equal(t, domain.StatusError, wf.Status)

	stored, err := store.GetWorkflow(ctx, convID)
	require.NoError(t, err)
	require.Equal(t, domain.StatusError, stored.Steps[0].Status)
	require.Equal(t, domain.StatusPending, stored.Steps[1].Status)
	require.Equal(t, 0, stored.CurrentStep, "current_step unchanged")
	require.Equal(t, 20, stored.Progress, "progress unchanged")
	require.Equal(t, domain.StatusError, stored.Status)
}
