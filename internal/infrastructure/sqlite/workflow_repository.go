package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"

	"github.com/google/uuid"
	"github.com/ncruces/go-sqlite3"

	"github.com/zjrosen/crewchat/internal/conversation/domain"
	"github.com/zjrosen/crewchat/internal/pubsub"
)

const workflowColumns = `id, conversation_id, steps, current_step, progress, status, created_at, updated_at`

// workflowRepository implements domain.WorkflowRepository using SQLite.
type workflowRepository struct {
	db *DB
}

var _ domain.WorkflowRepository = (*workflowRepository)(nil)

// GetWorkflow returns WorkflowNotFoundError when the conversation has none.
func (r *workflowRepository) GetWorkflow(ctx context.Context, conversationID string) (domain.Workflow, error) {
	row := r.db.conn.QueryRowContext(ctx,
		`SELECT `+workflowColumns+` FROM workflows WHERE conversation_id = ?`, conversationID)

	var model workflowModel
	err := row.Scan(&model.ID, &model.ConversationID, &model.Steps, &model.CurrentStep,
		&model.Progress, &model.Status, &model.CreatedAt, &model.UpdatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return domain.Workflow{}, &domain.WorkflowNotFoundError{ConversationID: conversationID}
	}
	if err != nil {
		return domain.Workflow{}, &domain.StoreError{Op: "get workflow", Err: err}
	}

	wf, err := model.toDomain()
	if err != nil {
		return domain.Workflow{}, &domain.StoreError{Op: "get workflow", Err: err}
	}
	return wf, nil
}

// InsertWorkflow creates the workflow record. The UNIQUE constraint on
// conversation_id turns a second insert into ErrWorkflowExists.
func (r *workflowRepository) InsertWorkflow(ctx context.Context, w domain.NewWorkflow) (domain.Workflow, error) {
	const op = "insert workflow"
	if w.ConversationID == "" {
		return domain.Workflow{}, invalid(op, "conversation id is required")
	}
	if w.Status == "" {
		w.Status = domain.StatusPending
	}
	if err := validateFields(w.Progress, w.Status); err != nil {
		return domain.Workflow{}, &domain.StoreError{Op: op, Err: err}
	}
	steps, err := encodeSteps(w.Steps)
	if err != nil {
		return domain.Workflow{}, &domain.StoreError{Op: op, Err: err}
	}

	now := r.db.clock.Now().UnixNano()
	model := workflowModel{
		ID:             uuid.NewString(),
		ConversationID: w.ConversationID,
		Steps:          steps,
		CurrentStep:    w.CurrentStep,
		Progress:       w.Progress,
		Status:         string(w.Status),
		CreatedAt:      now,
		UpdatedAt:      now,
	}
	_, err = r.db.conn.ExecContext(ctx,
		`INSERT INTO workflows (`+workflowColumns+`) VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		model.ID, model.ConversationID, model.Steps, model.CurrentStep, model.Progress,
		model.Status, model.CreatedAt, model.UpdatedAt,
	)
	if errors.Is(err, sqlite3.CONSTRAINT_UNIQUE) {
		return domain.Workflow{}, &domain.StoreError{Op: op, Err: domain.ErrWorkflowExists}
	}
	if err != nil {
		return domain.Workflow{}, &domain.StoreError{Op: op, Err: err}
	}

	wf, err := model.toDomain()
	if err != nil {
		return domain.Workflow{}, &domain.StoreError{Op: op, Err: err}
	}
	r.db.broker.Publish(pubsub.CreatedEvent, domain.WorkflowUpdated(wf))
	return wf, nil
}

// UpdateWorkflow applies every set field of update in one UPDATE statement,
// so readers never observe a partially applied transition. updated_at
// strictly increases per workflow even if the clock does not.
func (r *workflowRepository) UpdateWorkflow(ctx context.Context, conversationID string, update domain.WorkflowUpdate) error {
	const op = "update workflow"
	if update.IsEmpty() {
		return nil
	}

	sets := []string{"updated_at = MAX(?, updated_at + 1)"}
	args := []any{r.db.clock.Now().UnixNano()}

	if update.Steps != nil {
		steps, err := encodeSteps(update.Steps)
		if err != nil {
			return &domain.StoreError{Op: op, Err: err}
		}
		sets = append(sets, "steps = ?")
		args = append(args, steps)
	}
	if update.CurrentStep != nil {
		sets = append(sets, "current_step = ?")
		args = append(args, *update.CurrentStep)
	}
	if update.Progress != nil {
		if err := validateFields(*update.Progress, ""); err != nil {
			return &domain.StoreError{Op: op, Err: err}
		}
		sets = append(sets, "progress = ?")
		args = append(args, *update.Progress)
	}
	if update.Status != nil {
		if err := validateFields(0, *update.Status); err != nil {
			return &domain.StoreError{Op: op, Err: err}
		}
		sets = append(sets, "status = ?")
		args = append(args, string(*update.Status))
	}
	args = append(args, conversationID)

	result, err := r.db.conn.ExecContext(ctx,
		`UPDATE workflows SET `+strings.Join(sets, ", ")+` WHERE conversation_id = ?`, args...) //nolint:gosec // column list is fixed above
	if err != nil {
		return &domain.StoreError{Op: op, Err: err}
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return &domain.StoreError{Op: op, Err: err}
	}
	if affected == 0 {
		return &domain.WorkflowNotFoundError{ConversationID: conversationID}
	}

	wf, err := r.GetWorkflow(ctx, conversationID)
	if err != nil {
		return err
	}
	r.db.broker.Publish(pubsub.UpdatedEvent, domain.WorkflowUpdated(wf))
	return nil
}

// workflowsUpdatedAfter returns workflows whose updated_at is newer than after.
func (r *workflowRepository) workflowsUpdatedAfter(ctx context.Context, after int64) ([]domain.Workflow, int64, error) {
	rows, err := r.db.conn.QueryContext(ctx,
		`SELECT `+workflowColumns+` FROM workflows WHERE updated_at > ? ORDER BY updated_at ASC`, after)
	if err != nil {
		return nil, after, &domain.StoreError{Op: "scan workflows", Err: err}
	}
	defer func() { _ = rows.Close() }()

	var (
		out []domain.Workflow
		hwm = after
	)
	for rows.Next() {
		var m workflowModel
		if err := rows.Scan(&m.ID, &m.ConversationID, &m.Steps, &m.CurrentStep,
			&m.Progress, &m.Status, &m.CreatedAt, &m.UpdatedAt); err != nil {
			return nil, after, &domain.StoreError{Op: "scan workflows", Err: err}
		}
		wf, err := m.toDomain()
		if err != nil {
			return nil, after, &domain.StoreError{Op: "scan workflows", Err: err}
		}
		out = append(out, wf)
		hwm = max(hwm, m.UpdatedAt)
	}
	if err := rows.Err(); err != nil {
		return nil, after, &domain.StoreError{Op: "scan workflows", Err: err}
	}
	return out, hwm, nil
}

func (r *workflowRepository) maxUpdatedAt(ctx context.Context) (int64, error) {
	var n int64
	if err := r.db.conn.QueryRowContext(ctx, `SELECT COALESCE(MAX(updated_at), 0) FROM workflows`).Scan(&n); err != nil {
		return 0, &domain.StoreError{Op: "max workflow updated_at", Err: err}
	}
	return n, nil
}

// validateFields checks progress bounds and, when non-empty, the status name.
func validateFields(progress int, status domain.Status) error {
	if progress < 0 || progress > 100 {
		return fmt.Errorf("%w: progress %d outside 0..100", domain.ErrInvalidRecord, progress)
	}
	if status != "" && !status.IsValid() {
		return fmt.Errorf("%w: unknown status %q", domain.ErrInvalidRecord, status)
	}
	return nil
}
