package sqlite

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/google/uuid"

	"github.com/zjrosen/crewchat/internal/conversation/domain"
	"github.com/zjrosen/crewchat/internal/pubsub"
)

const messageColumns = `seq, id, conversation_id, content, sender, persona_name, persona_avatar, persona_color, kind, created_at`

// messageRepository implements domain.MessageRepository using SQLite.
type messageRepository struct {
	db *DB
}

var _ domain.MessageRepository = (*messageRepository)(nil)

// InsertMessage appends a message and publishes it on the change broker.
// The store assigns the id and created_at.
func (r *messageRepository) InsertMessage(ctx context.Context, m domain.NewMessage) (domain.Message, error) {
	kind := m.Kind.OrDefault()
	switch {
	case m.ConversationID == "":
		return domain.Message{}, invalid("insert message", "conversation id is required")
	case !m.Sender.IsValid():
		return domain.Message{}, invalid("insert message", fmt.Sprintf("unknown sender %q", m.Sender))
	case !kind.IsValid():
		return domain.Message{}, invalid("insert message", fmt.Sprintf("unknown kind %q", m.Kind))
	}

	model := messageModel{
		ID:             uuid.NewString(),
		ConversationID: m.ConversationID,
		Content:        m.Content,
		Sender:         string(m.Sender),
		PersonaName:    nullable(m.PersonaName),
		PersonaAvatar:  nullable(m.PersonaAvatar),
		PersonaColor:   nullable(m.PersonaColor),
		Kind:           string(kind),
		CreatedAt:      r.db.clock.Now().UnixNano(),
	}
	result, err := r.db.conn.ExecContext(ctx,
		`INSERT INTO messages (id, conversation_id, content, sender, persona_name, persona_avatar, persona_color, kind, created_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		model.ID, model.ConversationID, model.Content, model.Sender,
		model.PersonaName, model.PersonaAvatar, model.PersonaColor, model.Kind, model.CreatedAt,
	)
	if err != nil {
		return domain.Message{}, &domain.StoreError{Op: "insert message", Err: err}
	}
	if seq, err := result.LastInsertId(); err == nil {
		model.Seq = seq
	}

	msg := model.toDomain()
	r.db.broker.Publish(pubsub.CreatedEvent, domain.MessageInserted(msg))
	return msg, nil
}

// ListMessages returns the transcript in ascending created_at order. Rows
// with equal timestamps keep insertion order.
func (r *messageRepository) ListMessages(ctx context.Context, conversationID string) ([]domain.Message, error) {
	models, err := r.query(ctx, "list messages",
		`SELECT `+messageColumns+` FROM messages WHERE conversation_id = ? ORDER BY created_at ASC, seq ASC`,
		conversationID)
	if err != nil {
		return nil, err
	}
	msgs := make([]domain.Message, 0, len(models))
	for _, m := range models {
		msgs = append(msgs, m.toDomain())
	}
	return msgs, nil
}

// messagesAfter returns every message with seq greater than afterSeq, across
// conversations, in seq order. The watcher uses it to find foreign writes.
func (r *messageRepository) messagesAfter(ctx context.Context, afterSeq int64) ([]messageModel, error) {
	return r.query(ctx, "scan messages",
		`SELECT `+messageColumns+` FROM messages WHERE seq > ? ORDER BY seq ASC`, afterSeq)
}

func (r *messageRepository) maxSeq(ctx context.Context) (int64, error) {
	var seq int64
	if err := r.db.conn.QueryRowContext(ctx, `SELECT COALESCE(MAX(seq), 0) FROM messages`).Scan(&seq); err != nil {
		return 0, &domain.StoreError{Op: "max message seq", Err: err}
	}
	return seq, nil
}

func (r *messageRepository) query(ctx context.Context, op, query string, args ...any) ([]messageModel, error) {
	rows, err := r.db.conn.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, &domain.StoreError{Op: op, Err: err}
	}
	defer func() { _ = rows.Close() }()

	var models []messageModel
	for rows.Next() {
		models = append(models, messageModel{})
		if err := scanMessage(rows, &models[len(models)-1]); err != nil {
			return nil, &domain.StoreError{Op: op, Err: err}
		}
	}
	if err := rows.Err(); err != nil {
		return nil, &domain.StoreError{Op: op, Err: err}
	}
	return models, nil
}

func scanMessage(rows *sql.Rows, m *messageModel) error {
	return rows.Scan(&m.Seq, &m.ID, &m.ConversationID, &m.Content, &m.Sender,
		&m.PersonaName, &m.PersonaAvatar, &m.PersonaColor, &m.Kind, &m.CreatedAt)
}

func invalid(op, reason string) error {
	return &domain.StoreError{Op: op, Err: fmt.Errorf("%w: %s", domain.ErrInvalidRecord, reason)}
}
