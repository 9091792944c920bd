package domain

import "time"

// EventKind discriminates the three live event kinds carried by the bus.
type EventKind string

const (
	EventMessageInserted   EventKind = "message-inserted"
	EventReadStatusChanged EventKind = "read-status-changed"
	EventTypingChanged     EventKind = "typing-changed"
)

// Event is one delta on a conversation's live stream. Delivery is
// at-least-once to active subscribers with no ordering guarantee across
// kinds; consumers re-sort messages by (created_at, seq) and treat read and
// typing deltas independently.
type Event struct {
	Kind           EventKind `json:"kind"`
	ConversationID string    `json:"conversation_id"`
	OccurredAt     time.Time `json:"occurred_at"`

	// Message is set for message-inserted.
	Message *Message `json:"message,omitempty"`

	// ReaderID and MessageIDs are set for read-status-changed: the ids that
	// transitioned to read for the given reader.
	ReaderID   string   `json:"reader_id,omitempty"`
	MessageIDs []string `json:"message_ids,omitempty"`

	// Typing is set for typing-changed.
	Typing *TypingState `json:"typing,omitempty"`
}
