package domain

import (
	"context"
	"time"
)

// ConversationRepository defines persistence operations for conversations.
type ConversationRepository interface {
	// Upsert atomically finds or creates the conversation for the normalized
	// (listing, participant pair) triple. Two concurrent callers for the same
	// triple must converge on the same row; the store's unique index is the
	// serialization point, not an application-level lookup-then-insert.
	Upsert(ctx context.Context, c *Conversation) (*Conversation, error)
	GetByID(ctx context.Context, id string) (*Conversation, error)
	ListForUser(ctx context.Context, userID string) ([]*Conversation, error)
	// BumpLastMessageAt raises the watermark; it never moves backwards.
	BumpLastMessageAt(ctx context.Context, id string, at time.Time) error
}

// MessageRepository defines persistence operations for messages.
type MessageRepository interface {
	// Create persists the message, assigning Seq and a created_at that is
	// monotonically non-decreasing within the conversation.
	Create(ctx context.Context, m *Message) error
	GetByID(ctx context.Context, id string) (*Message, error)
	// ListForConversation returns messages ordered by (created_at, seq)
	// ascending. limit <= 0 means no limit.
	ListForConversation(ctx context.Context, conversationID string, limit int) ([]*Message, error)
	// ListSince returns messages with seq greater than afterSeq, same order.
	ListSince(ctx context.Context, conversationID string, afterSeq int64) ([]*Message, error)
	// Last returns the newest message of the conversation by (created_at, seq),
	// or ErrNotFound for an empty conversation.
	Last(ctx context.Context, conversationID string) (*Message, error)
	// MarkAllRead flips is_read on every unread message addressed to userID
	// and returns the affected ids. Idempotent: a second call returns nothing.
	MarkAllRead(ctx context.Context, conversationID, userID string) ([]string, error)
	// ReadMessageIDs returns the ids of senderID's messages that have been
	// read, in seq order. Live consumers replay these as a read-status delta
	// when reconciling after a gap.
	ReadMessageIDs(ctx context.Context, conversationID, senderID string) ([]string, error)
	UnreadCount(ctx context.Context, conversationID, userID string) (int, error)
	UnreadTotal(ctx context.Context, userID string) (int, error)
}

// TypingRepository persists the current typing row per (conversation, user).
type TypingRepository interface {
	Upsert(ctx context.Context, t *TypingState) error
	Get(ctx context.Context, conversationID, userID string) (*TypingState, error)
}

// DirectoryRepository reads the identity and listing reference data the
// aggregator denormalizes. Both tables are owned by external systems;
// messaging only reads them.
type DirectoryRepository interface {
	GetParty(ctx context.Context, id string) (*Party, error)
	GetListing(ctx context.Context, id string) (*Listing, error)
}
