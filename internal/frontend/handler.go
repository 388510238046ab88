// Package frontend provides the HTTP API: turn submission, transcript and
// workflow reads, and the websocket change feed.
package frontend

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/zjrosen/crewchat/internal/conversation/changefeed"
	"github.com/zjrosen/crewchat/internal/conversation/domain"
	"github.com/zjrosen/crewchat/internal/coordinator"
	"github.com/zjrosen/crewchat/internal/llm"
	"github.com/zjrosen/crewchat/internal/log"
	"github.com/zjrosen/crewchat/internal/persona"
	"github.com/zjrosen/crewchat/internal/pubsub"
)

// maxBodySize caps POST bodies. An utterance is at most 10,000 characters.
const maxBodySize = 256 * 1024

const (
	wsWriteWait  = 10 * time.Second
	wsPingPeriod = 30 * time.Second
	wsPongWait   = 2 * wsPingPeriod
)

// TurnHandler handles a user turn. *coordinator.Coordinator implements it.
type TurnHandler interface {
	HandleUserTurn(ctx context.Context, turn coordinator.Turn) (coordinator.TurnResult, error)
}

// Reader is the read side of the conversation store.
type Reader interface {
	GetConversation(ctx context.Context, id string) (domain.Conversation, error)
	ListMessages(ctx context.Context, conversationID string) ([]domain.Message, error)
	GetWorkflow(ctx context.Context, conversationID string) (domain.Workflow, error)
}

// Handler provides the HTTP endpoints.
type Handler struct {
	turns  TurnHandler
	reader Reader
	broker *pubsub.Broker[domain.Change]

	allowedOrigin string
	upgrader      websocket.Upgrader

	// streams is cancelled by Close to end every open change feed.
	streams context.Context
	cancel  context.CancelFunc

	// mu guards closed and every wg.Add, so no stream registers while
	// Close waits.
	mu     sync.Mutex
	closed bool
	wg     sync.WaitGroup
}

// NewHandler creates a Handler. broker may be nil, in which case the events
// endpoint is unavailable. allowedOrigin is the CORS origin; "" means "*".
func NewHandler(turns TurnHandler, reader Reader, broker *pubsub.Broker[domain.Change], allowedOrigin string) *Handler {
	if allowedOrigin == "" {
		allowedOrigin = "*"
	}
	ctx, cancel := context.WithCancel(context.Background())
	h := &Handler{
		turns:         turns,
		reader:        reader,
		broker:        broker,
		allowedOrigin: allowedOrigin,
		streams:       ctx,
		cancel:        cancel,
	}
	h.upgrader = websocket.Upgrader{
		ReadBufferSize:  1024,
		WriteBufferSize: 4096,
		CheckOrigin:     h.checkOrigin,
	}
	return h
}

// RegisterAPIRoutes registers the API routes on the provided mux.
func (h *Handler) RegisterAPIRoutes(mux *http.ServeMux) {
	mux.HandleFunc("GET /api/health", h.Health)
	mux.HandleFunc("GET /api/personas", h.ListPersonas)
	mux.HandleFunc("POST /api/turns", h.SubmitTurn)
	mux.HandleFunc("GET /api/conversations/{id}/messages", h.ListMessages)
	mux.HandleFunc("GET /api/conversations/{id}/workflow", h.GetWorkflow)
	mux.HandleFunc("GET /api/conversations/{id}/events", h.Events)
	mux.HandleFunc("OPTIONS /api/", h.Preflight)
}

// Routes returns the API wrapped in CORS handling.
func (h *Handler) Routes() http.Handler {
	mux := http.NewServeMux()
	h.RegisterAPIRoutes(mux)
	return h.withCORS(mux)
}

// Close ends all open change feeds and waits for their handlers to return.
func (h *Handler) Close() {
	h.mu.Lock()
	h.closed = true
	h.mu.Unlock()
	h.cancel()
	h.wg.Wait()
}

// trackStream registers an open change feed. It reports false once Close
// has been called.
func (h *Handler) trackStream() bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.closed {
		return false
	}
	h.wg.Add(1)
	return true
}

// Health returns a simple health check response.
// GET /api/health
func (h *Handler) Health(w http.ResponseWriter, _ *http.Request) {
	h.writeJSON(w, http.StatusOK, HealthResponse{Status: "ok"})
}

// ListPersonas returns the registry in pipeline order.
// GET /api/personas
func (h *Handler) ListPersonas(w http.ResponseWriter, _ *http.Request) {
	h.writeJSON(w, http.StatusOK, PersonasResponse{Personas: persona.All()})
}

// Preflight answers CORS preflight requests.
// OPTIONS /api/...
func (h *Handler) Preflight(w http.ResponseWriter, _ *http.Request) {
	w.WriteHeader(http.StatusNoContent)
}

// SubmitTurn runs one user turn through the coordinator.
// POST /api/turns
func (h *Handler) SubmitTurn(w http.ResponseWriter, r *http.Request) {
	var req TurnRequest
	if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodySize)).Decode(&req); err != nil {
		h.writeError(w, http.StatusBadRequest, CodeInvalidJSON, "Invalid JSON body", err.Error())
		return
	}

	res, err := h.turns.HandleUserTurn(r.Context(), coordinator.Turn{
		Utterance:      req.Message,
		ConversationID: req.ConversationID,
		UserID:         req.UserID,
	})
	if err != nil {
		h.writeTurnError(w, req, err)
		return
	}

	h.writeJSON(w, http.StatusOK, TurnResponse{
		Success:        true,
		ConversationID: res.ConversationID,
	})
}

// writeTurnError maps a coordinator failure to a response. Only validation
// errors carry their reason to the caller; every other cause is logged.
func (h *Handler) writeTurnError(w http.ResponseWriter, req TurnRequest, err error) {
	var ve *coordinator.ValidationError
	switch {
	case errors.As(err, &ve):
		h.writeError(w, http.StatusBadRequest, CodeValidation, ve.Error(), "")
		return
	case coordinator.IsNotFound(err):
		h.writeError(w, http.StatusNotFound, CodeNotFound, "Conversation not found", req.ConversationID)
		return
	}

	log.ErrorErr(log.CatHTTP, "Turn failed", err, "conversation", req.ConversationID, "user", req.UserID)
	switch {
	case errors.Is(err, llm.ErrProviderUnavailable):
		h.writeError(w, http.StatusServiceUnavailable, CodeProviderUnavailable, "Failed to process message", "")
	case llm.IsProviderError(err):
		h.writeError(w, http.StatusBadGateway, CodeProviderError, "Failed to process message", "")
	default:
		h.writeError(w, http.StatusInternalServerError, CodeTurnFailed, "Failed to process message", "")
	}
}

// ListMessages returns the transcript in creation order.
// GET /api/conversations/{id}/messages
func (h *Handler) ListMessages(w http.ResponseWriter, r *http.Request) {
	id, ok := h.conversation(w, r)
	if !ok {
		return
	}
	msgs, err := h.reader.ListMessages(r.Context(), id)
	if err != nil {
		log.ErrorErr(log.CatHTTP, "Failed to list messages", err, "conversation", id)
		h.writeError(w, http.StatusInternalServerError, CodeInternal, "Failed to load messages", "")
		return
	}
	if msgs == nil {
		msgs = []domain.Message{}
	}
	h.writeJSON(w, http.StatusOK, MessagesResponse{Messages: msgs})
}

// GetWorkflow returns the workflow, or 404 when none exists yet.
// GET /api/conversations/{id}/workflow
func (h *Handler) GetWorkflow(w http.ResponseWriter, r *http.Request) {
	id, ok := h.conversation(w, r)
	if !ok {
		return
	}
	wf, err := h.reader.GetWorkflow(r.Context(), id)
	if err != nil {
		if domain.IsNotFound(err) {
			h.writeError(w, http.StatusNotFound, CodeNotFound, "Workflow not found", id)
			return
		}
		log.ErrorErr(log.CatHTTP, "Failed to load workflow", err, "conversation", id)
		h.writeError(w, http.StatusInternalServerError, CodeInternal, "Failed to load workflow", "")
		return
	}
	h.writeJSON(w, http.StatusOK, WorkflowResponse{Workflow: wf})
}

// Events upgrades to a websocket and streams store changes for the
// conversation as JSON frames until either side goes away.
// GET /api/conversations/{id}/events
func (h *Handler) Events(w http.ResponseWriter, r *http.Request) {
	if h.broker == nil {
		h.writeError(w, http.StatusServiceUnavailable, CodeInternal, "Change feed unavailable", "")
		return
	}
	id, ok := h.conversation(w, r)
	if !ok {
		return
	}

	if !h.trackStream() {
		h.writeError(w, http.StatusServiceUnavailable, CodeInternal, "Change feed unavailable", "")
		return
	}
	defer h.wg.Done()

	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		// Upgrade has already written the failure response.
		log.Warn(log.CatHTTP, "Websocket upgrade failed", "conversation", id, "error", err)
		return
	}
	defer func() { _ = conn.Close() }()

	ctx, cancel := context.WithCancel(h.streams)
	defer cancel()
	changes := changefeed.Stream(ctx, h.broker, id)

	// The reader only watches for the peer going away and answers pongs.
	_ = conn.SetReadDeadline(time.Now().Add(wsPongWait))
	conn.SetPongHandler(func(string) error {
		return conn.SetReadDeadline(time.Now().Add(wsPongWait))
	})
	readerDone := make(chan struct{})
	log.SafeGo("frontend.events.reader", func() {
		defer close(readerDone)
		defer cancel()
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	})

	log.Debug(log.CatHTTP, "Change feed opened", "conversation", id)
	h.pump(ctx, conn, changes)

	_ = conn.WriteControl(websocket.CloseMessage,
		websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""), time.Now().Add(wsWriteWait))
	_ = conn.Close()
	<-readerDone
	log.Debug(log.CatHTTP, "Change feed closed", "conversation", id)
}

func (h *Handler) pump(ctx context.Context, conn *websocket.Conn, changes <-chan domain.Change) {
	ping := time.NewTicker(wsPingPeriod)
	defer ping.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case c, ok := <-changes:
			if !ok {
				return
			}
			_ = conn.SetWriteDeadline(time.Now().Add(wsWriteWait))
			if err := conn.WriteJSON(c); err != nil {
				log.Warn(log.CatHTTP, "Change feed write failed", "conversation", c.ConversationID, "error", err)
				return
			}
		case <-ping.C:
			if err := conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(wsWriteWait)); err != nil {
				return
			}
		}
	}
}

// conversation resolves the {id} path value to an existing conversation,
// writing a 404 when it does not exist. When the request names a userId,
// a conversation owned by someone else is reported as missing, the same
// rule POST /api/turns applies.
func (h *Handler) conversation(w http.ResponseWriter, r *http.Request) (string, bool) {
	id := r.PathValue("id")
	conv, err := h.reader.GetConversation(r.Context(), id)
	if err != nil {
		if domain.IsNotFound(err) {
			h.writeError(w, http.StatusNotFound, CodeNotFound, "Conversation not found", id)
			return "", false
		}
		log.ErrorErr(log.CatHTTP, "Failed to load conversation", err, "conversation", id)
		h.writeError(w, http.StatusInternalServerError, CodeInternal, "Failed to load conversation", "")
		return "", false
	}
	if userID := r.URL.Query().Get("userId"); userID != "" && userID != conv.OwnerID {
		log.Warn(log.CatHTTP, "Read of conversation owned by another user", "conversation", id, "user", userID)
		h.writeError(w, http.StatusNotFound, CodeNotFound, "Conversation not found", id)
		return "", false
	}
	return id, true
}

func (h *Handler) checkOrigin(r *http.Request) bool {
	if h.allowedOrigin == "*" {
		return true
	}
	origin := r.Header.Get("Origin")
	return origin == "" || strings.EqualFold(origin, h.allowedOrigin)
}

// withCORS applies the CORS headers to every response.
func (h *Handler) withCORS(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hdr := w.Header()
		hdr.Set("Access-Control-Allow-Origin", h.allowedOrigin)
		hdr.Set("Access-Control-Allow-Headers", "authorization, x-client-info, apikey, content-type")
		hdr.Set("Access-Control-Allow-Methods", "GET, POST, OPTIONS")
		next.ServeHTTP(w, r)
	})
}

// writeJSON writes a JSON response with the given status code.
func (h *Handler) writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(data); err != nil {
		log.Error(log.CatHTTP, "Failed to encode JSON response", "error", err)
	}
}

// writeError writes an error response in the standard APIError format.
func (h *Handler) writeError(w http.ResponseWriter, status int, code, message, details string) {
	h.writeJSON(w, status, APIError{
		Error:   message,
		Code:    code,
		Details: details,
	})
}
