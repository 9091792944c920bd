package sqlite

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"

	"farmchat/internal/domain"
)

type MessageRepo struct {
	db *sql.DB
}

func NewMessageRepo(db *sql.DB) *MessageRepo {
	return &MessageRepo{db: db}
}

var _ domain.MessageRepository = (*MessageRepo)(nil)

// Create persists the message. created_at is clamped to the conversation's
// previous maximum so timestamps are monotonically non-decreasing per
// conversation; equal timestamps are ordered by the autoincrement seq.
func (r *MessageRepo) Create(ctx context.Context, m *domain.Message) error {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback()

	ts := time.Now().UTC()
	var prev sql.NullTime
	err = tx.QueryRowContext(ctx, `
		SELECT MAX(created_at) FROM messages WHERE conversation_id = ?
	`, m.ConversationID).Scan(&prev)
	if err != nil {
		return fmt.Errorf("max created_at: %w", err)
	}
	if prev.Valid && prev.Time.After(ts) {
		ts = prev.Time
	}
	m.CreatedAt = ts

	if m.ID == "" {
		m.ID = uuid.NewString()
	}
	atts, err := json.Marshal(m.Attachments)
	if err != nil {
		return fmt.Errorf("marshal attachments: %w", err)
	}

	res, err := tx.ExecContext(ctx, `
		INSERT INTO messages (id, conversation_id, sender_id, recipient_id, content, attachments, created_at, is_read, client_ref)
		VALUES (?, ?, ?, ?, ?, ?, ?, 0, ?)
	`, m.ID, m.ConversationID, m.SenderID, m.RecipientID, m.Content, string(atts), m.CreatedAt, m.ClientRef)
	if err != nil {
		return fmt.Errorf("insert message: %w", err)
	}
	seq, err := res.LastInsertId()
	if err != nil {
		return fmt.Errorf("last insert id: %w", err)
	}
	m.Seq = seq

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit: %w", err)
	}
	return nil
}

func (r *MessageRepo) GetByID(ctx context.Context, id string) (*domain.Message, error) {
	row := r.db.QueryRowContext(ctx, selectMessage+` WHERE id = ?`, id)
	return scanMessage(row)
}

func (r *MessageRepo) ListForConversation(ctx context.Context, conversationID string, limit int) ([]*domain.Message, error) {
	query := selectMessage + `
		WHERE conversation_id = ?
		ORDER BY created_at ASC, seq ASC
	`
	args := []any{conversationID}
	if limit > 0 {
		query += ` LIMIT ?`
		args = append(args, limit)
	}
	return r.queryMessages(ctx, query, args...)
}

func (r *MessageRepo) ListSince(ctx context.Context, conversationID string, afterSeq int64) ([]*domain.Message, error) {
	query := selectMessage + `
		WHERE conversation_id = ? AND seq > ?
		ORDER BY created_at ASC, seq ASC
	`
	return r.queryMessages(ctx, query, conversationID, afterSeq)
}

func (r *MessageRepo) Last(ctx context.Context, conversationID string) (*domain.Message, error) {
	row := r.db.QueryRowContext(ctx, selectMessage+`
		WHERE conversation_id = ?
		ORDER BY created_at DESC, seq DESC
		LIMIT 1
	`, conversationID)
	return scanMessage(row)
}

// MarkAllRead flips every unread message addressed to userID in one batch and
// returns the affected ids. A second call finds nothing and returns an empty
// slice; is_read never reverts.
func (r *MessageRepo) MarkAllRead(ctx context.Context, conversationID, userID string) ([]string, error) {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback()

	rows, err := tx.QueryContext(ctx, `
		SELECT id FROM messages
		WHERE conversation_id = ? AND recipient_id = ? AND is_read = 0
		ORDER BY seq ASC
	`, conversationID, userID)
	if err != nil {
		return nil, fmt.Errorf("select unread: %w", err)
	}
	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			rows.Close()
			return nil, fmt.Errorf("scan id: %w", err)
		}
		ids = append(ids, id)
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate unread: %w", err)
	}
	if len(ids) == 0 {
		return nil, tx.Commit()
	}

	_, err = tx.ExecContext(ctx, `
		UPDATE messages SET is_read = 1
		WHERE conversation_id = ? AND recipient_id = ? AND is_read = 0
	`, conversationID, userID)
	if err != nil {
		return nil, fmt.Errorf("mark read: %w", err)
	}
	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("commit: %w", err)
	}
	return ids, nil
}

func (r *MessageRepo) ReadMessageIDs(ctx context.Context, conversationID, senderID string) ([]string, error) {
	rows, err := r.db.QueryContext(ctx, `
		SELECT id FROM messages
		WHERE conversation_id = ? AND sender_id = ? AND is_read = 1
		ORDER BY seq ASC
	`, conversationID, senderID)
	if err != nil {
		return nil, fmt.Errorf("select read ids: %w", err)
	}
	defer rows.Close()

	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("scan id: %w", err)
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}

func (r *MessageRepo) UnreadCount(ctx context.Context, conversationID, userID string) (int, error) {
	var count int
	err := r.db.QueryRowContext(ctx, `
		SELECT COUNT(*) FROM messages
		WHERE conversation_id = ? AND recipient_id = ? AND is_read = 0
	`, conversationID, userID).Scan(&count)
	if err != nil {
		return 0, fmt.Errorf("count unread: %w", err)
	}
	return count, nil
}

func (r *MessageRepo) UnreadTotal(ctx context.Context, userID string) (int, error) {
	var count int
	err := r.db.QueryRowContext(ctx, `
		SELECT COUNT(*) FROM messages
		WHERE recipient_id = ? AND is_read = 0
	`, userID).Scan(&count)
	if err != nil {
		return 0, fmt.Errorf("count unread total: %w", err)
	}
	return count, nil
}

const selectMessage = `
	SELECT id, conversation_id, sender_id, recipient_id, content, attachments, created_at, seq, is_read, client_ref
	FROM messages`

func (r *MessageRepo) queryMessages(ctx context.Context, query string, args ...any) ([]*domain.Message, error) {
	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("list messages: %w", err)
	}
	defer rows.Close()

	var res []*domain.Message
	for rows.Next() {
		m, err := scanMessage(rows)
		if err != nil {
			return nil, err
		}
		res = append(res, m)
	}
	return res, rows.Err()
}

func scanMessage(row rowScanner) (*domain.Message, error) {
	m := &domain.Message{}
	var atts string
	err := row.Scan(
		&m.ID,
		&m.ConversationID,
		&m.SenderID,
		&m.RecipientID,
		&m.Content,
		&atts,
		&m.CreatedAt,
		&m.Seq,
		&m.IsRead,
		&m.ClientRef,
	)
	if err == sql.ErrNoRows {
		return nil, domain.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("scan message: %w", err)
	}
	if atts != "" && atts != "[]" {
		if err := json.Unmarshal([]byte(atts), &m.Attachments); err != nil {
			return nil, fmt.Errorf("unmarshal attachments: %w", err)
		}
	}
	return m, nil
}
