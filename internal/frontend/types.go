package frontend

import (
	"github.com/zjrosen/crewchat/internal/conversation/domain"
	"github.com/zjrosen/crewchat/internal/persona"
)

// TurnRequest is the body of POST /api/turns.
type TurnRequest struct {
	Message        string `json:"message"`
	ConversationID string `json:"conversationId,omitempty"`
	UserID         string `json:"userId"`
}

// TurnResponse is returned once the Requirements persona has replied.
type TurnResponse struct {
	Success        bool   `json:"success"`
	ConversationID string `json:"conversationId"`
}

// MessagesResponse is the transcript of a conversation.
type MessagesResponse struct {
	Messages []domain.Message `json:"messages"`
}

// WorkflowResponse wraps the workflow of a conversation.
type WorkflowResponse struct {
	Workflow domain.Workflow `json:"workflow"`
}

// PersonasResponse lists the registry in pipeline order.
type PersonasResponse struct {
	Personas []persona.Persona `json:"personas"`
}

// HealthResponse is the response for GET /api/health.
type HealthResponse struct {
	Status string `json:"status"`
}

// APIError is the body of every non-2xx response.
type APIError struct {
	Error   string `json:"error"`
	Code    string `json:"code"`
	Details string `json:"details,omitempty"`
}

// Error codes.
const (
	CodeInvalidJSON         = "invalid_json"
	CodeValidation          = "validation_error"
	CodeNotFound            = "not_found"
	CodeProviderUnavailable = "provider_unavailable"
	CodeProviderError       = "provider_error"
	CodeTurnFailed          = "turn_failed"
	CodeInternal            = "internal_error"
)
