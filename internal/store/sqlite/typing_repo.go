package sqlite

import (
	"context"
	"database/sql"
	"fmt"

	"farmchat/internal/domain"
)

type TypingRepo struct {
	db *sql.DB
}

func NewTypingRepo(db *sql.DB) *TypingRepo {
	return &TypingRepo{db: db}
}

var _ domain.TypingRepository = (*TypingRepo)(nil)

// Upsert replaces the current row for the (conversation, user) pair. No
// history is kept; only the latest state matters.
func (r *TypingRepo) Upsert(ctx context.Context, t *domain.TypingState) error {
	_, err := r.db.ExecContext(ctx, `
		INSERT INTO typing_states (conversation_id, user_id, is_typing, updated_at)
		VALUES (?, ?, ?, ?)
		ON CONFLICT(conversation_id, user_id) DO UPDATE SET
			is_typing = excluded.is_typing,
			updated_at = excluded.updated_at
	`, t.ConversationID, t.UserID, t.IsTyping, t.UpdatedAt.UTC())
	if err != nil {
		return fmt.Errorf("upsert typing state: %w", err)
	}
	return nil
}

func (r *TypingRepo) Get(ctx context.Context, conversationID, userID string) (*domain.TypingState, error) {
	t := &domain.TypingState{}
	err := r.db.QueryRowContext(ctx, `
		SELECT conversation_id, user_id, is_typing, updated_at
		FROM typing_states
		WHERE conversation_id = ? AND user_id = ?
	`, conversationID, userID).Scan(
		&t.ConversationID,
		&t.UserID,
		&t.IsTyping,
		&t.UpdatedAt,
	)
	if err == sql.ErrNoRows {
		return nil, domain.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get typing state: %w", err)
	}
	return t, nil
}
