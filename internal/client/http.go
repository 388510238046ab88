package client

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/gorilla/websocket"

	"github.com/zjrosen/crewchat/internal/conversation/domain"
	"github.com/zjrosen/crewchat/internal/frontend"
	"github.com/zjrosen/crewchat/internal/log"
)

// RemoteError is a non-2xx response from the server.
type RemoteError struct {
	StatusCode int
	Code       string
	Message    string
}

// Error implements the error interface.
func (e *RemoteError) Error() string {
	if e.Code != "" {
		return fmt.Sprintf("server returned %d (%s): %s", e.StatusCode, e.Code, e.Message)
	}
	return fmt.Sprintf("server returned %d: %s", e.StatusCode, e.Message)
}

// HTTPTransport talks to a crewchat server over its REST API and the
// websocket change feed.
type HTTPTransport struct {
	baseURL    string
	httpClient *http.Client
	dialer     *websocket.Dialer
	userID     string
}

var _ Transport = (*HTTPTransport)(nil)

// HTTPOption customizes an HTTPTransport.
type HTTPOption func(*HTTPTransport)

// WithHTTPClient replaces the HTTP client used for REST calls.
func WithHTTPClient(hc *http.Client) HTTPOption {
	return func(t *HTTPTransport) { t.httpClient = hc }
}

// WithUserID sends userID on reads, so the server hides conversations the
// user does not own.
func WithUserID(userID string) HTTPOption {
	return func(t *HTTPTransport) { t.userID = userID }
}

// NewHTTPTransport creates a transport for the server at baseURL.
func NewHTTPTransport(baseURL string, opts ...HTTPOption) *HTTPTransport {
	t := &HTTPTransport{
		baseURL:    strings.TrimRight(baseURL, "/"),
		httpClient: &http.Client{Timeout: 2 * time.Minute},
		dialer:     &websocket.Dialer{HandshakeTimeout: 10 * time.Second},
	}
	for _, opt := range opts {
		opt(t)
	}
	return t
}

// SubmitTurn posts the turn and waits for the Requirements reply.
func (t *HTTPTransport) SubmitTurn(ctx context.Context, req TurnRequest) (TurnResponse, error) {
	body, err := json.Marshal(frontend.TurnRequest{
		Message:        req.Utterance,
		ConversationID: req.ConversationID,
		UserID:         req.UserID,
	})
	if err != nil {
		return TurnResponse{}, fmt.Errorf("encoding turn: %w", err)
	}

	var resp frontend.TurnResponse
	if err := t.do(ctx, http.MethodPost, "/api/turns", bytes.NewReader(body), &resp); err != nil {
		return TurnResponse{}, err
	}
	if !resp.Success || resp.ConversationID == "" {
		return TurnResponse{}, fmt.Errorf("server did not confirm the turn")
	}
	return TurnResponse{ConversationID: resp.ConversationID}, nil
}

// ListMessages fetches the transcript.
func (t *HTTPTransport) ListMessages(ctx context.Context, conversationID string) ([]domain.Message, error) {
	var resp frontend.MessagesResponse
	if err := t.do(ctx, http.MethodGet, t.readPath(conversationID, "messages"), nil, &resp); err != nil {
		return nil, err
	}
	return resp.Messages, nil
}

// GetWorkflow fetches the workflow. A 404 means there is none yet.
func (t *HTTPTransport) GetWorkflow(ctx context.Context, conversationID string) (*domain.Workflow, error) {
	var resp frontend.WorkflowResponse
	err := t.do(ctx, http.MethodGet, t.readPath(conversationID, "workflow"), nil, &resp)
	if err != nil {
		var re *RemoteError
		if errors.As(err, &re) && re.StatusCode == http.StatusNotFound {
			return nil, nil
		}
		return nil, err
	}
	return &resp.Workflow, nil
}

// Subscribe opens the websocket change feed for the conversation.
func (t *HTTPTransport) Subscribe(ctx context.Context, conversationID string) (<-chan domain.Change, error) {
	wsURL, err := t.websocketURL(t.readPath(conversationID, "events"))
	if err != nil {
		return nil, err
	}

	conn, resp, err := t.dialer.DialContext(ctx, wsURL, nil)
	if resp != nil && resp.Body != nil {
		_ = resp.Body.Close()
	}
	if err != nil {
		return nil, fmt.Errorf("opening change feed: %w", err)
	}

	out := make(chan domain.Change, 64)
	readerDone := make(chan struct{})

	log.SafeGo("client.feed.reader", func() {
		defer close(out)
		defer close(readerDone)
		for {
			var c domain.Change
			if err := conn.ReadJSON(&c); err != nil {
				if ctx.Err() == nil && !websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
					log.Warn(log.CatClient, "Change feed closed", "conversation", conversationID, "error", err)
				}
				return
			}
			select {
			case out <- c:
			case <-ctx.Done():
				return
			}
		}
	})

	log.SafeGo("client.feed.closer", func() {
		select {
		case <-ctx.Done():
			_ = conn.WriteControl(websocket.CloseMessage,
				websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""), time.Now().Add(time.Second))
		case <-readerDone:
		}
		_ = conn.Close()
	})

	return out, nil
}

func (t *HTTPTransport) do(ctx context.Context, method, path string, body io.Reader, out any) error {
	req, err := http.NewRequestWithContext(ctx, method, t.baseURL+path, body)
	if err != nil {
		return fmt.Errorf("creating request: %w", err)
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	req.Header.Set("Accept", "application/json")

	resp, err := t.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("%s %s: %w", method, path, err)
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		raw, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		re := &RemoteError{StatusCode: resp.StatusCode, Message: strings.TrimSpace(string(raw))}
		var apiErr frontend.APIError
		if json.Unmarshal(raw, &apiErr) == nil && apiErr.Error != "" {
			re.Code = apiErr.Code
			re.Message = apiErr.Error
		}
		return re
	}

	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("decoding %s response: %w", path, err)
	}
	return nil
}

func (t *HTTPTransport) websocketURL(path string) (string, error) {
	u, err := url.Parse(t.baseURL + path)
	if err != nil {
		return "", fmt.Errorf("parsing server URL: %w", err)
	}
	switch u.Scheme {
	case "http":
		u.Scheme = "ws"
	case "https":
		u.Scheme = "wss"
	case "ws", "wss":
	default:
		return "", fmt.Errorf("unsupported server URL scheme %q", u.Scheme)
	}
	return u.String(), nil
}

// readPath is conversationPath plus the userId query when one is set.
func (t *HTTPTransport) readPath(conversationID, leaf string) string {
	p := conversationPath(conversationID, leaf)
	if t.userID != "" {
		p += "?userId=" + url.QueryEscape(t.userID)
	}
	return p
}

func conversationPath(conversationID, leaf string) string {
	return "/api/conversations/" + url.PathEscape(conversationID) + "/" + leaf
}
