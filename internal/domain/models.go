package domain

import "time"

// Conversation is a two-party message thread, optionally scoped to a
// marketplace listing. Participants are stored normalized (A < B) so the
// (listing, pair) triple is unique regardless of who initiated contact.
type Conversation struct {
	ID            string    `db:"id" json:"id"`
	ListingID     *string   `db:"listing_id" json:"listing_id,omitempty"`
	ParticipantA  string    `db:"participant_a" json:"participant_a"`
	ParticipantB  string    `db:"participant_b" json:"participant_b"`
	LastMessageAt time.Time `db:"last_message_at" json:"last_message_at"`
	CreatedAt     time.Time `db:"created_at" json:"created_at"`
}

// HasParticipant reports whether the given user belongs to the conversation.
func (c *Conversation) HasParticipant(userID string) bool {
	return c.ParticipantA == userID || c.ParticipantB == userID
}

// Other returns the counterpart of the given participant. Empty string if the
// user is not part of the conversation.
func (c *Conversation) Other(userID string) string {
	switch userID {
	case c.ParticipantA:
		return c.ParticipantB
	case c.ParticipantB:
		return c.ParticipantA
	}
	return ""
}

// NormalizePair orders two participant ids so that a < b.
func NormalizePair(x, y string) (a, b string) {
	if x > y {
		return y, x
	}
	return x, y
}

// AttachmentKind tags the payload of an attachment so consumers dispatch on an
// explicit kind rather than sniffing file extensions or caption text.
type AttachmentKind string

const (
	AttachmentImage AttachmentKind = "image"
	AttachmentFile  AttachmentKind = "file"
	AttachmentVoice AttachmentKind = "voice"
)

// Attachment is a reference to an uploaded blob. The message owns the
// reference once persisted; the blob's lifecycle belongs to the blob store.
type Attachment struct {
	Kind       AttachmentKind `json:"kind"`
	URL        string         `json:"url"`
	Name       string         `json:"name,omitempty"`
	DurationMS int64          `json:"duration_ms,omitempty"` // voice only
}

// Message is a single timestamped unit of content within a conversation.
// Content may be empty only when attachments are present. Seq is the store's
// insertion sequence and breaks created_at ties for ordering.
type Message struct {
	ID             string       `db:"id" json:"id"`
	ConversationID string       `db:"conversation_id" json:"conversation_id"`
	SenderID       string       `db:"sender_id" json:"sender_id"`
	RecipientID    string       `db:"recipient_id" json:"recipient_id"`
	Content        string       `db:"content" json:"content"`
	Attachments    []Attachment `db:"-" json:"attachments,omitempty"`
	CreatedAt      time.Time    `db:"created_at" json:"created_at"`
	Seq            int64        `db:"seq" json:"seq"`
	IsRead         bool         `db:"is_read" json:"is_read"`
	// ClientRef is the sender-generated correlation id used to reconcile an
	// optimistic local message with the authoritative insertion event.
	ClientRef string `db:"client_ref" json:"client_ref,omitempty"`
}

// VoiceAttachment returns the voice attachment, if the message carries one.
func (m *Message) VoiceAttachment() *Attachment {
	for i := range m.Attachments {
		if m.Attachments[i].Kind == AttachmentVoice {
			return &m.Attachments[i]
		}
	}
	return nil
}

// TypingState is the ephemeral per-(conversation, user) composing signal.
// Only the current row matters; consumers treat state older than a staleness
// window as not typing even when never explicitly cleared.
type TypingState struct {
	ConversationID string    `db:"conversation_id" json:"conversation_id"`
	UserID         string    `db:"user_id" json:"user_id"`
	IsTyping       bool      `db:"is_typing" json:"is_typing"`
	UpdatedAt      time.Time `db:"updated_at" json:"updated_at"`
}

// Fresh reports whether the state still counts as typing at the given instant.
func (t TypingState) Fresh(now time.Time, window time.Duration) bool {
	return t.IsTyping && now.Sub(t.UpdatedAt) <= window
}

// Party is the directory entry for a user, as supplied by the external
// identity provider. Messaging treats the id as opaque.
type Party struct {
	ID          string `db:"id" json:"id"`
	DisplayName string `db:"display_name" json:"display_name"`
}

// Listing is the marketplace listing a conversation may be scoped to. Only
// the title is of interest here; listing domain logic lives elsewhere.
type Listing struct {
	ID    string `db:"id" json:"id"`
	Title string `db:"title" json:"title"`
}

// ConversationSummary is the denormalized inbox row for one conversation:
// counterpart identity, listing title, last-message preview and unread count.
type ConversationSummary struct {
	Conversation Conversation `json:"conversation"`
	OtherParty   Party        `json:"other_party"`
	ListingTitle string       `json:"listing_title,omitempty"`
	Preview      string       `json:"preview"`
	PreviewAt    time.Time    `json:"preview_at"`
	UnreadCount  int          `json:"unread_count"`
}
