package sqlite

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/google/uuid"

	"farmchat/internal/domain"
)

type ConversationRepo struct {
	db *sql.DB
}

func NewConversationRepo(db *sql.DB) *ConversationRepo {
	return &ConversationRepo{db: db}
}

var _ domain.ConversationRepository = (*ConversationRepo)(nil)

// Upsert finds or creates the conversation for the normalized triple in one
// statement. The unique index on (listing_id, participant_a, participant_b)
// is the serialization point: when two resolvers race, exactly one insert
// wins and both re-select the same row.
func (r *ConversationRepo) Upsert(ctx context.Context, c *domain.Conversation) (*domain.Conversation, error) {
	a, b := domain.NormalizePair(c.ParticipantA, c.ParticipantB)
	listing := ""
	if c.ListingID != nil {
		listing = *c.ListingID
	}

	now := time.Now().UTC()
	_, err := r.db.ExecContext(ctx, `
		INSERT INTO conversations (id, listing_id, participant_a, participant_b, last_message_at, created_at)
		VALUES (?, ?, ?, ?, ?, ?)
		ON CONFLICT(listing_id, participant_a, participant_b) DO NOTHING
	`, uuid.NewString(), listing, a, b, now, now)
	if err != nil {
		return nil, fmt.Errorf("upsert conversation: %w", err)
	}

	return r.getByTriple(ctx, listing, a, b)
}

func (r *ConversationRepo) getByTriple(ctx context.Context, listing, a, b string) (*domain.Conversation, error) {
	row := r.db.QueryRowContext(ctx, `
		SELECT id, listing_id, participant_a, participant_b, last_message_at, created_at
		FROM conversations
		WHERE listing_id = ? AND participant_a = ? AND participant_b = ?
	`, listing, a, b)
	return scanConversation(row)
}

func (r *ConversationRepo) GetByID(ctx context.Context, id string) (*domain.Conversation, error) {
	row := r.db.QueryRowContext(ctx, `
		SELECT id, listing_id, participant_a, participant_b, last_message_at, created_at
		FROM conversations
		WHERE id = ?
	`, id)
	return scanConversation(row)
}

func (r *ConversationRepo) ListForUser(ctx context.Context, userID string) ([]*domain.Conversation, error) {
	rows, err := r.db.QueryContext(ctx, `
		SELECT id, listing_id, participant_a, participant_b, last_message_at, created_at
		FROM conversations
		WHERE participant_a = ? OR participant_b = ?
		ORDER BY last_message_at DESC
	`, userID, userID)
	if err != nil {
		return nil, fmt.Errorf("list conversations: %w", err)
	}
	defer rows.Close()

	var res []*domain.Conversation
	for rows.Next() {
		c, err := scanConversation(rows)
		if err != nil {
			return nil, err
		}
		res = append(res, c)
	}
	return res, rows.Err()
}

// BumpLastMessageAt raises the watermark; out-of-order bumps never move it
// backwards.
func (r *ConversationRepo) BumpLastMessageAt(ctx context.Context, id string, at time.Time) error {
	_, err := r.db.ExecContext(ctx, `
		UPDATE conversations
		SET last_message_at = ?
		WHERE id = ? AND last_message_at < ?
	`, at.UTC(), id, at.UTC())
	if err != nil {
		return fmt.Errorf("bump last_message_at: %w", err)
	}
	return nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanConversation(row rowScanner) (*domain.Conversation, error) {
	c := &domain.Conversation{}
	var listing string
	err := row.Scan(
		&c.ID,
		&listing,
		&c.ParticipantA,
		&c.ParticipantB,
		&c.LastMessageAt,
		&c.CreatedAt,
	)
	if err == sql.ErrNoRows {
		return nil, domain.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("scan conversation: %w", err)
	}
	if listing != "" {
		c.ListingID = &listing
	}
	return c, nil
}
