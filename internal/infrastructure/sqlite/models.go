package sqlite

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/zjrosen/crewchat/internal/conversation/domain"
)

// Timestamps are stored as Unix nanoseconds so ordering by created_at keeps
// sub-second precision.

type conversationModel struct {
	ID        string
	OwnerID   string
	Title     string
	CreatedAt int64
}

func (m conversationModel) toDomain() domain.Conversation {
	return domain.Conversation{
		ID:        m.ID,
		OwnerID:   m.OwnerID,
		Title:     m.Title,
		CreatedAt: fromNanos(m.CreatedAt),
	}
}

type messageModel struct {
	Seq            int64
	ID             string
	ConversationID string
	Content        string
	Sender         string
	PersonaName    *string // nullable
	PersonaAvatar  *string // nullable
	PersonaColor   *string // nullable
	Kind           string
	CreatedAt      int64
}

func (m messageModel) toDomain() domain.Message {
	return domain.Message{
		ID:             m.ID,
		ConversationID: m.ConversationID,
		Content:        m.Content,
		Sender:         domain.Sender(m.Sender),
		PersonaName:    deref(m.PersonaName),
		PersonaAvatar:  deref(m.PersonaAvatar),
		PersonaColor:   deref(m.PersonaColor),
		Kind:           domain.Kind(m.Kind).OrDefault(),
		CreatedAt:      fromNanos(m.CreatedAt),
	}
}

type workflowModel struct {
	ID             string
	ConversationID string
	Steps          string // JSON array
	CurrentStep    int
	Progress       int
	Status         string
	CreatedAt      int64
	UpdatedAt      int64
}

func (m workflowModel) toDomain() (domain.Workflow, error) {
	var steps []domain.Step
	if err := json.Unmarshal([]byte(m.Steps), &steps); err != nil {
		return domain.Workflow{}, fmt.Errorf("failed to decode workflow steps: %w", err)
	}
	status := domain.Status(m.Status)
	if status == "" {
		status = domain.StatusPending
	}
	return domain.Workflow{
		ID:             m.ID,
		ConversationID: m.ConversationID,
		Steps:          steps,
		CurrentStep:    m.CurrentStep,
		Progress:       m.Progress,
		Status:         status,
		CreatedAt:      fromNanos(m.CreatedAt),
		UpdatedAt:      fromNanos(m.UpdatedAt),
	}, nil
}

func encodeSteps(steps []domain.Step) (string, error) {
	if steps == nil {
		steps = []domain.Step{}
	}
	b, err := json.Marshal(steps)
	if err != nil {
		return "", fmt.Errorf("failed to encode workflow steps: %w", err)
	}
	return string(b), nil
}

func nullable(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}

func deref(s *string) string {
	if s == nil {
		return ""
	}
	return *s
}

func fromNanos(n int64) time.Time {
	return time.Unix(0, n).UTC()
}
