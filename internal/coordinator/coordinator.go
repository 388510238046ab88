// Package coordinator runs a user turn through the persona pipeline.
//
// A new conversation gets a transcript, a workflow, a Requirements reply,
// and a background Build task. Follow-up turns get a Requirements reply
// with the transcript as context and never touch the workflow.
package coordinator

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"
	"unicode/utf8"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/zjrosen/crewchat/internal/conversation/domain"
	"github.com/zjrosen/crewchat/internal/llm"
	"github.com/zjrosen/crewchat/internal/log"
	"github.com/zjrosen/crewchat/internal/persona"
	"github.com/zjrosen/crewchat/internal/workflow"
)

var tracer = otel.Tracer("github.com/zjrosen/crewchat/internal/coordinator")

const (
	DefaultBuildDelay  = 3 * time.Second
	DefaultTitleLength = 50
	titleSuffix        = "..."
)

// Store is the subset of the conversation store the coordinator writes to.
type Store interface {
	domain.ConversationRepository
	domain.MessageRepository
	domain.WorkflowRepository
}

// Config tunes the coordinator.
type Config struct {
	BuildDelay  time.Duration
	TitleLength int
}

func (c Config) withDefaults() Config {
	if c.BuildDelay < 0 {
		c.BuildDelay = 0
	}
	if c.TitleLength <= 0 {
		c.TitleLength = DefaultTitleLength
	}
	return c
}

// DefaultConfig returns the production settings.
func DefaultConfig() Config {
	return Config{BuildDelay: DefaultBuildDelay, TitleLength: DefaultTitleLength}
}

// Turn is one user utterance. An empty ConversationID starts a new conversation.
type Turn struct {
	Utterance      string
	ConversationID string
	UserID         string
}

// TurnResult identifies the conversation the turn was applied to.
type TurnResult struct {
	ConversationID string
	Created        bool
}

// Coordinator handles user turns.
type Coordinator struct {
	store   Store
	gateway llm.Gateway
	machine *workflow.Machine
	runner  *Runner
	cfg     Config
}

// New creates a Coordinator. The runner executes Build tasks and is owned
// by the caller, which must Shutdown it.
func New(store Store, gateway llm.Gateway, runner *Runner, cfg Config) *Coordinator {
	return &Coordinator{
		store:   store,
		gateway: gateway,
		machine: workflow.NewMachine(store),
		runner:  runner,
		cfg:     cfg.withDefaults(),
	}
}

// HandleUserTurn applies a turn and returns once the Requirements persona
// has replied. Writes that succeeded before a failure are kept.
func (c *Coordinator) HandleUserTurn(ctx context.Context, turn Turn) (TurnResult, error) {
	ctx, span := tracer.Start(ctx, "coordinator.turn")
	defer span.End()
	span.SetAttributes(
		attribute.String("user.id", turn.UserID),
		attribute.Bool("conversation.new", turn.ConversationID == ""),
		attribute.Int("utterance.length", utf8.RuneCountInString(turn.Utterance)),
	)

	if err := validate(turn); err != nil {
		recordError(span, err)
		return TurnResult{}, err
	}

	var (
		res TurnResult
		err error
	)
	if turn.ConversationID == "" {
		res, err = c.startConversation(ctx, turn)
	} else {
		res, err = c.continueConversation(ctx, turn)
	}
	if res.ConversationID != "" {
		span.SetAttributes(attribute.String("conversation.id", res.ConversationID))
	}
	if err != nil {
		recordError(span, err)
		return res, err
	}
	return res, nil
}

func (c *Coordinator) startConversation(ctx context.Context, turn Turn) (TurnResult, error) {
	conv, err := c.store.InsertConversation(ctx, domain.NewConversation{
		OwnerID: turn.UserID,
		Title:   Title(turn.Utterance, c.cfg.TitleLength),
	})
	if err != nil {
		return TurnResult{}, fmt.Errorf("creating conversation: %w", err)
	}
	res := TurnResult{ConversationID: conv.ID, Created: true}
	log.Info(log.CatCoord, "Conversation created", "conversation", conv.ID, "user", turn.UserID)

	if _, err := c.appendUserMessage(ctx, conv.ID, turn.Utterance); err != nil {
		return res, err
	}
	if _, err := c.machine.Initialize(ctx, conv.ID); err != nil {
		return res, fmt.Errorf("initializing workflow: %w", err)
	}

	reply, err := c.gateway.Generate(ctx, persona.Requirements().Instructions, turn.Utterance)
	if err != nil {
		log.ErrorErr(log.CatCoord, "Requirements persona failed", err, "conversation", conv.ID)
		if _, ferr := c.machine.Fail(ctx, conv.ID, err); ferr != nil {
			log.ErrorErr(log.CatCoord, "Failed to mark requirements step as error", ferr, "conversation", conv.ID)
		}
		return res, fmt.Errorf("requirements persona: %w", err)
	}
	if _, err := c.appendAgentMessage(ctx, conv.ID, persona.Requirements(), reply, ""); err != nil {
		return res, err
	}

	if err := c.scheduleBuild(conv.ID, turn.Utterance); err != nil {
		log.ErrorErr(log.CatCoord, "Failed to schedule build task", err, "conversation", conv.ID)
		if _, ferr := c.machine.Fail(ctx, conv.ID, err); ferr != nil {
			log.ErrorErr(log.CatCoord, "Failed to mark requirements step as error", ferr, "conversation", conv.ID)
		}
	}
	return res, nil
}

func (c *Coordinator) continueConversation(ctx context.Context, turn Turn) (TurnResult, error) {
	conv, err := c.store.GetConversation(ctx, turn.ConversationID)
	if err != nil {
		if domain.IsNotFound(err) {
			return TurnResult{}, fmt.Errorf("%w: %q", ErrConversationNotFound, turn.ConversationID)
		}
		return TurnResult{}, fmt.Errorf("loading conversation: %w", err)
	}
	if conv.OwnerID != turn.UserID {
		log.Warn(log.CatCoord, "Turn for conversation owned by another user", "conversation", conv.ID, "user", turn.UserID)
		return TurnResult{}, fmt.Errorf("%w: %q", ErrConversationNotFound, turn.ConversationID)
	}
	res := TurnResult{ConversationID: conv.ID}

	if _, err := c.appendUserMessage(ctx, conv.ID, turn.Utterance); err != nil {
		return res, err
	}

	history, err := c.store.ListMessages(ctx, conv.ID)
	if err != nil {
		return res, fmt.Errorf("listing messages: %w", err)
	}

	prompt := TranscriptContext(history) + "\n\nUser: " + turn.Utterance
	reply, err := c.gateway.Generate(ctx, persona.Requirements().Instructions, prompt)
	if err != nil {
		log.ErrorErr(log.CatCoord, "Requirements persona failed", err, "conversation", conv.ID)
		return res, fmt.Errorf("requirements persona: %w", err)
	}
	if _, err := c.appendAgentMessage(ctx, conv.ID, persona.Requirements(), reply, ""); err != nil {
		return res, err
	}
	return res, nil
}

func (c *Coordinator) scheduleBuild(conversationID, utterance string) error {
	return c.runner.Submit(Task{
		Name:           "build",
		ConversationID: conversationID,
		Delay:          c.cfg.BuildDelay,
		Run: func(ctx context.Context) error {
			return c.runBuild(ctx, conversationID, utterance)
		},
		OnFailure: func(ctx context.Context, err error) {
			if _, ferr := c.machine.Fail(ctx, conversationID, err); ferr != nil {
				log.ErrorErr(log.CatCoord, "Failed to mark build step as error", ferr, "conversation", conversationID)
			}
		},
	})
}

func (c *Coordinator) runBuild(ctx context.Context, conversationID, utterance string) (err error) {
	ctx, span := tracer.Start(ctx, "coordinator.build")
	defer span.End()
	span.SetAttributes(attribute.String("conversation.id", conversationID))
	defer func() {
		if err != nil {
			recordError(span, err)
		}
	}()

	builder := persona.Build()
	reply, err := c.gateway.Generate(ctx, builder.Instructions, persona.BuildPrompt(utterance))
	if err != nil {
		return fmt.Errorf("build persona: %w", err)
	}
	if _, err := c.appendAgentMessage(ctx, conversationID, builder, reply, domain.KindCode); err != nil {
		return err
	}
	if _, err := c.machine.Advance(ctx, conversationID, 1, workflow.ProgressFor(1)); err != nil {
		return fmt.Errorf("advancing workflow: %w", err)
	}
	log.Info(log.CatCoord, "Build step delivered", "conversation", conversationID)
	return nil
}

func (c *Coordinator) appendUserMessage(ctx context.Context, conversationID, content string) (domain.Message, error) {
	msg, err := c.store.InsertMessage(ctx, domain.NewMessage{
		ConversationID: conversationID,
		Content:        content,
		Sender:         domain.SenderUser,
		Kind:           domain.KindMessage,
	})
	if err != nil {
		return domain.Message{}, fmt.Errorf("appending user message: %w", err)
	}
	return msg, nil
}

func (c *Coordinator) appendAgentMessage(ctx context.Context, conversationID string, p persona.Persona, content string, kind domain.Kind) (domain.Message, error) {
	msg, err := c.store.InsertMessage(ctx, p.Attribute(domain.NewMessage{
		ConversationID: conversationID,
		Content:        content,
		Kind:           kind,
	}))
	if err != nil {
		return domain.Message{}, fmt.Errorf("appending %s reply: %w", p.ShortName, err)
	}
	return msg, nil
}

// Title derives a conversation title from the first utterance: the first
// n runes followed by "...". The suffix is added even to short utterances.
func Title(utterance string, n int) string {
	runes := []rune(utterance)
	if len(runes) > n {
		runes = runes[:n]
	}
	return string(runes) + titleSuffix
}

// TranscriptContext renders messages as "<sender>: <content>" lines.
func TranscriptContext(messages []domain.Message) string {
	lines := make([]string, len(messages))
	for i, m := range messages {
		lines[i] = string(m.Sender) + ": " + m.Content
	}
	return strings.Join(lines, "\n")
}

func validate(turn Turn) error {
	switch {
	case strings.TrimSpace(turn.UserID) == "":
		return &ValidationError{Field: "userId", Reason: "must not be empty"}
	case strings.TrimSpace(turn.Utterance) == "":
		return &ValidationError{Field: "message", Reason: "must not be empty"}
	case utf8.RuneCountInString(turn.Utterance) > MaxUtteranceLength:
		return &ValidationError{Field: "message", Reason: fmt.Sprintf("must be at most %d characters", MaxUtteranceLength)}
	}
	return nil
}

func recordError(span trace.Span, err error) {
	span.RecordError(err)
	span.SetStatus(codes.Error, err.Error())
}

// IsNotFound reports whether err means the conversation is unknown to the caller.
func IsNotFound(err error) bool {
	return errors.Is(err, ErrConversationNotFound) || domain.IsNotFound(err)
}
