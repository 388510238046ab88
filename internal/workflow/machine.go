package workflow

import (
	"context"
	"errors"
	"fmt"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/zjrosen/crewchat/internal/conversation/domain"
	"github.com/zjrosen/crewchat/internal/log"
)

var tracer = otel.Tracer("github.com/zjrosen/crewchat/internal/workflow")

// Machine persists workflow transitions through a WorkflowRepository.
type Machine struct {
	repo domain.WorkflowRepository
}

// NewMachine creates a Machine over repo.
func NewMachine(repo domain.WorkflowRepository) *Machine {
	return &Machine{repo: repo}
}

// Initialize creates the workflow for a new conversation in a single write.
// It returns ErrWorkflowExists if the conversation already has one.
func (m *Machine) Initialize(ctx context.Context, conversationID string) (domain.Workflow, error) {
	ctx, span := tracer.Start(ctx, "workflow.initialize")
	defer span.End()
	span.SetAttributes(attribute.String("conversation.id", conversationID))

	init := Initial()
	wf, err := m.repo.InsertWorkflow(ctx, domain.NewWorkflow{
		ConversationID: conversationID,
		Steps:          init.Steps,
		CurrentStep:    init.CurrentStep,
		Progress:       init.Progress,
		Status:         init.Status,
	})
	if err != nil {
		if errors.Is(err, domain.ErrWorkflowExists) {
			log.Warn(log.CatWorkflow, "Workflow already initialized", "conversation", conversationID)
		} else {
			log.ErrorErr(log.CatWorkflow, "Failed to initialize workflow", err, "conversation", conversationID)
		}
		recordError(span, err)
		return domain.Workflow{}, err
	}

	log.Debug(log.CatWorkflow, "Workflow initialized", "conversation", conversationID, "workflow", wf.ID)
	return wf, nil
}

// Advance moves the workflow to toIndex with newProgress and persists the
// whole transition in one update. Progress may not decrease.
func (m *Machine) Advance(ctx context.Context, conversationID string, toIndex, newProgress int) (domain.Workflow, error) {
	ctx, span := tracer.Start(ctx, "workflow.advance")
	defer span.End()
	span.SetAttributes(
		attribute.String("conversation.id", conversationID),
		attribute.Int("workflow.to_index", toIndex),
		attribute.Int("workflow.progress", newProgress),
	)

	current, err := m.repo.GetWorkflow(ctx, conversationID)
	if err != nil {
		recordError(span, err)
		return domain.Workflow{}, err
	}
	if newProgress < current.Progress {
		err := fmt.Errorf("%w: progress would decrease from %d to %d", ErrInvalidAdvance, current.Progress, newProgress)
		recordError(span, err)
		return domain.Workflow{}, err
	}

	next, err := Advance(current.Steps, toIndex, newProgress)
	if err != nil {
		recordError(span, err)
		return domain.Workflow{}, err
	}
	update := next.Update()
	if err := m.repo.UpdateWorkflow(ctx, conversationID, update); err != nil {
		log.ErrorErr(log.CatWorkflow, "Failed to persist workflow advance", err,
			"conversation", conversationID, "to_index", toIndex)
		recordError(span, err)
		return domain.Workflow{}, err
	}

	log.Info(log.CatWorkflow, "Workflow advanced",
		"conversation", conversationID, "current_step", next.CurrentStep, "progress", next.Progress, "status", string(next.Status))
	return update.ApplyTo(current), nil
}

// Fail marks the in-flight step, the one at current_step, as error and sets
// the workflow status to error. current_step and progress are left as they were.
func (m *Machine) Fail(ctx context.Context, conversationID string, cause error) (domain.Workflow, error) {
	ctx, span := tracer.Start(ctx, "workflow.fail")
	defer span.End()
	span.SetAttributes(attribute.String("conversation.id", conversationID))

	current, err := m.repo.GetWorkflow(ctx, conversationID)
	if err != nil {
		recordError(span, err)
		return domain.Workflow{}, err
	}
	steps, err := MarkError(current.Steps, current.CurrentStep)
	if err != nil {
		recordError(span, err)
		return domain.Workflow{}, err
	}

	status := domain.StatusError
	update := domain.WorkflowUpdate{Steps: steps, Status: &status}
	if err := m.repo.UpdateWorkflow(ctx, conversationID, update); err != nil {
		log.ErrorErr(log.CatWorkflow, "Failed to persist workflow failure", err, "conversation", conversationID)
		recordError(span, err)
		return domain.Workflow{}, err
	}

	log.Warn(log.CatWorkflow, "Workflow step failed",
		"conversation", conversationID, "step", current.CurrentStep, "cause", errString(cause))
	return update.ApplyTo(current), nil
}

func recordError(span trace.Span, err error) {
	span.RecordError(err)
	span.SetStatus(codes.Error, err.Error())
}

func errString(err error) string {
	if err == nil {
		return ""
	}
	return err.Error()
}
