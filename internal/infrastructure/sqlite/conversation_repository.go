package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"

	"github.com/google/uuid"

	"github.com/zjrosen/crewchat/internal/conversation/domain"
)

// conversationRepository implements domain.ConversationRepository using SQLite.
type conversationRepository struct {
	db *DB
}

var _ domain.ConversationRepository = (*conversationRepository)(nil)

// InsertConversation creates a conversation with a fresh id.
func (r *conversationRepository) InsertConversation(ctx context.Context, c domain.NewConversation) (domain.Conversation, error) {
	if strings.TrimSpace(c.OwnerID) == "" {
		return domain.Conversation{}, &domain.StoreError{Op: "insert conversation", Err: fmt.Errorf("%w: owner id is required", domain.ErrInvalidRecord)}
	}

	model := conversationModel{
		ID:        uuid.NewString(),
		OwnerID:   c.OwnerID,
		Title:     c.Title,
		CreatedAt: r.db.clock.Now().UnixNano(),
	}
	_, err := r.db.conn.ExecContext(ctx,
		`INSERT INTO conversations (id, owner_id, title, created_at) VALUES (?, ?, ?, ?)`,
		model.ID, model.OwnerID, model.Title, model.CreatedAt,
	)
	if err != nil {
		return domain.Conversation{}, &domain.StoreError{Op: "insert conversation", Err: err}
	}
	return model.toDomain(), nil
}

// GetConversation returns ConversationNotFoundError when id is unknown.
func (r *conversationRepository) GetConversation(ctx context.Context, id string) (domain.Conversation, error) {
	var model conversationModel
	err := r.db.conn.QueryRowContext(ctx,
		`SELECT id, owner_id, title, created_at FROM conversations WHERE id = ?`, id,
	).Scan(&model.ID, &model.OwnerID, &model.Title, &model.CreatedAt)

	if errors.Is(err, sql.ErrNoRows) {
		return domain.Conversation{}, &domain.ConversationNotFoundError{ID: id}
	}
	if err != nil {
		return domain.Conversation{}, &domain.StoreError{Op: "get conversation", Err: err}
	}
	return model.toDomain(), nil
}
