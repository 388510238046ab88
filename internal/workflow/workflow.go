// Package workflow owns the fixed five-step pipeline of a conversation.
//
// The transition functions are pure: they take a step list and return a new
// one. Machine persists their results, and it is the only writer of
// current_step and progress.
//
// Progress follows a fixed schedule tied to the step index (ProgressFor)
// rather than measuring real work.
package workflow

import (
	"errors"
	"fmt"
	"slices"

	"github.com/zjrosen/crewchat/internal/conversation/domain"
)

// ErrInvalidAdvance is returned for transitions that would break the
// workflow invariants.
var ErrInvalidAdvance = errors.New("invalid workflow advance")

// InitialProgress is the progress of a freshly created workflow.
const InitialProgress = 20

// State is the full result of a transition.
type State struct {
	Steps       []domain.Step
	CurrentStep int
	Progress    int
	Status      domain.Status
}

// Update converts the state into a store update that sets every field.
func (s State) Update() domain.WorkflowUpdate {
	current, progress, status := s.CurrentStep, s.Progress, s.Status
	return domain.WorkflowUpdate{
		Steps:       slices.Clone(s.Steps),
		CurrentStep: &current,
		Progress:    &progress,
		Status:      &status,
	}
}

// ProgressFor returns the scheduled progress once the step at index is reached:
// 20 per step, capped at 100.
func ProgressFor(index int) int {
	if index < 0 {
		return 0
	}
	return min(100, 20*(index+1))
}

// Initial returns the starting state: step 0 in progress, the rest pending.
func Initial() State {
	steps := Template()
	steps[0].Status = domain.StatusInProgress
	return State{
		Steps:       steps,
		CurrentStep: 0,
		Progress:    InitialProgress,
		Status:      domain.StatusInProgress,
	}
}

// Advance moves the pipeline to toIndex. Steps before toIndex are completed
// and the step at toIndex is in progress. A toIndex at or past the end
// completes every step and the workflow, with progress 100.
func Advance(steps []domain.Step, toIndex, newProgress int) (State, error) {
	switch {
	case len(steps) == 0:
		return State{}, fmt.Errorf("%w: workflow has no steps", ErrInvalidAdvance)
	case toIndex < 0:
		return State{}, fmt.Errorf("%w: negative step index %d", ErrInvalidAdvance, toIndex)
	case newProgress < 0 || newProgress > 100:
		return State{}, fmt.Errorf("%w: progress %d outside 0..100", ErrInvalidAdvance, newProgress)
	}

	out := slices.Clone(steps)
	if toIndex >= len(out) {
		for i := range out {
			out[i].Status = domain.StatusCompleted
		}
		return State{
			Steps:       out,
			CurrentStep: len(out) - 1,
			Progress:    100,
			Status:      domain.StatusCompleted,
		}, nil
	}

	for i := range out {
		switch {
		case i < toIndex:
			out[i].Status = domain.StatusCompleted
		case i == toIndex:
			out[i].Status = domain.StatusInProgress
		default:
			out[i].Status = domain.StatusPending
		}
	}
	return State{
		Steps:       out,
		CurrentStep: toIndex,
		Progress:    newProgress,
		Status:      domain.StatusInProgress,
	}, nil
}

// MarkError marks the step at index as failed and the workflow as errored.
// Other steps, current_step and progress are unchanged.
func MarkError(steps []domain.Step, index int) ([]domain.Step, error) {
	if index < 0 || index >= len(steps) {
		return nil, fmt.Errorf("%w: step index %d out of range", ErrInvalidAdvance, index)
	}
	out := slices.Clone(steps)
	out[index].Status = domain.StatusError
	return out, nil
}

// Check verifies the ordering invariant: steps before current are
// completed, the current step is in progress or terminal, later steps are
// pending.
func Check(w domain.Workflow) error {
	if w.CurrentStep < 0 || w.CurrentStep >= len(w.Steps) {
		return fmt.Errorf("current_step %d does not index a step", w.CurrentStep)
	}
	if w.Progress < 0 || w.Progress > 100 {
		return fmt.Errorf("progress %d outside 0..100", w.Progress)
	}
	for i, s := range w.Steps {
		switch {
		case i < w.CurrentStep && s.Status != domain.StatusCompleted:
			return fmt.Errorf("step %d is %s before current step %d", i, s.Status, w.CurrentStep)
		case i == w.CurrentStep && s.Status == domain.StatusPending:
			return fmt.Errorf("current step %d is still pending", i)
		case i > w.CurrentStep && s.Status != domain.StatusPending:
			return fmt.Errorf("step %d is %s after current step %d", i, s.Status, w.CurrentStep)
		}
	}
	return nil
}
