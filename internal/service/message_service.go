package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"farmchat/internal/bus"
	"farmchat/internal/domain"
)

const maxContentRunes = 5000

// MessageService persists and publishes messages and read transitions.
type MessageService struct {
	conversations domain.ConversationRepository
	messages      domain.MessageRepository
	pub           bus.Publisher
	logger        *slog.Logger

	sendRetries int
	backoff     time.Duration
}

func NewMessageService(
	conversations domain.ConversationRepository,
	messages domain.MessageRepository,
	pub bus.Publisher,
	logger *slog.Logger,
) *MessageService {
	return &MessageService{
		conversations: conversations,
		messages:      messages,
		pub:           pub,
		logger:        logger,
		sendRetries:   2,
		backoff:       200 * time.Millisecond,
	}
}

// SendInput carries one outgoing message. ClientRef is the sender's
// correlation id for optimistic reconciliation; it travels with the
// persisted message and its insertion event.
type SendInput struct {
	ConversationID string
	Content        string
	Attachments    []domain.Attachment
	ClientRef      string
}

// Send validates, persists and broadcasts one message. Persistence failures
// are retried with backoff; when retries are exhausted the error wraps
// ErrSendFailed and nothing has been published, so the caller's optimistic
// copy can be flagged failed instead of silently dropped.
func (s *MessageService) Send(ctx context.Context, in SendInput, senderID string) (*domain.Message, error) {
	if senderID == "" {
		return nil, domain.ErrUnauthorized
	}
	conv, err := s.conversations.GetByID(ctx, in.ConversationID)
	if err != nil {
		return nil, fmt.Errorf("get conversation: %w", err)
	}
	if !conv.HasParticipant(senderID) {
		return nil, domain.ErrForbidden
	}
	if in.Content == "" && len(in.Attachments) == 0 {
		return nil, fmt.Errorf("%w: message needs content or attachments", domain.ErrInvalidInput)
	}
	if len([]rune(in.Content)) > maxContentRunes {
		return nil, fmt.Errorf("%w: content exceeds %d characters", domain.ErrInvalidInput, maxContentRunes)
	}

	msg := &domain.Message{
		ConversationID: conv.ID,
		SenderID:       senderID,
		RecipientID:    conv.Other(senderID),
		Content:        in.Content,
		Attachments:    in.Attachments,
		ClientRef:      in.ClientRef,
	}

	if err := s.createWithRetry(ctx, msg); err != nil {
		return nil, fmt.Errorf("%w: %v", domain.ErrSendFailed, err)
	}

	if err := s.conversations.BumpLastMessageAt(ctx, conv.ID, msg.CreatedAt); err != nil {
		s.logger.Warn("bump last_message_at failed", "conversation", conv.ID, "err", err)
	}

	ev := domain.Event{
		Kind:           domain.EventMessageInserted,
		ConversationID: conv.ID,
		OccurredAt:     msg.CreatedAt,
		Message:        msg,
	}
	s.pub.PublishToConversation(conv.ID, ev)
	s.pub.PublishToUser(conv.ParticipantA, ev)
	s.pub.PublishToUser(conv.ParticipantB, ev)

	return msg, nil
}

func (s *MessageService) createWithRetry(ctx context.Context, msg *domain.Message) error {
	var lastErr error
	for attempt := 0; attempt <= s.sendRetries; attempt++ {
		if attempt > 0 {
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(s.backoff * time.Duration(attempt)):
			}
		}
		if err := s.messages.Create(ctx, msg); err != nil {
			lastErr = err
			if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
				return err
			}
			continue
		}
		return nil
	}
	return lastErr
}

// List returns the conversation's messages in (created_at, seq) order after a
// participant check.
func (s *MessageService) List(ctx context.Context, conversationID, selfID string, limit int) ([]*domain.Message, error) {
	if err := s.requireParticipant(ctx, conversationID, selfID); err != nil {
		return nil, err
	}
	return s.messages.ListForConversation(ctx, conversationID, limit)
}

// ListSince returns messages newer than the given sequence number, used by
// channel consumers to reconcile after a lost subscription.
func (s *MessageService) ListSince(ctx context.Context, conversationID, selfID string, afterSeq int64) ([]*domain.Message, error) {
	if err := s.requireParticipant(ctx, conversationID, selfID); err != nil {
		return nil, err
	}
	return s.messages.ListSince(ctx, conversationID, afterSeq)
}

// MarkRead transitions every unread message addressed to self in one batch
// and publishes a single read-status-changed event. Idempotent: when nothing
// was unread no event is published.
func (s *MessageService) MarkRead(ctx context.Context, conversationID, selfID string) error {
	if selfID == "" {
		return domain.ErrUnauthorized
	}
	conv, err := s.conversations.GetByID(ctx, conversationID)
	if err != nil {
		return fmt.Errorf("get conversation: %w", err)
	}
	if !conv.HasParticipant(selfID) {
		return domain.ErrForbidden
	}

	ids, err := s.messages.MarkAllRead(ctx, conversationID, selfID)
	if err != nil {
		return fmt.Errorf("mark all read: %w", err)
	}
	if len(ids) == 0 {
		return nil
	}

	ev := domain.Event{
		Kind:           domain.EventReadStatusChanged,
		ConversationID: conversationID,
		OccurredAt:     time.Now().UTC(),
		ReaderID:       selfID,
		MessageIDs:     ids,
	}
	s.pub.PublishToConversation(conversationID, ev)
	s.pub.PublishToUser(conv.ParticipantA, ev)
	s.pub.PublishToUser(conv.ParticipantB, ev)

	return nil
}

// ReadReceipts returns the counterpart reader and the ids of self's messages
// that have been read. Live consumers replay the result as a read-status
// delta when reconciling after a lost subscription; receivers treat the
// delta as idempotent, so already-known ids are harmless.
func (s *MessageService) ReadReceipts(ctx context.Context, conversationID, selfID string) (string, []string, error) {
	if selfID == "" {
		return "", nil, domain.ErrUnauthorized
	}
	conv, err := s.conversations.GetByID(ctx, conversationID)
	if err != nil {
		return "", nil, fmt.Errorf("get conversation: %w", err)
	}
	if !conv.HasParticipant(selfID) {
		return "", nil, domain.ErrForbidden
	}
	ids, err := s.messages.ReadMessageIDs(ctx, conversationID, selfID)
	if err != nil {
		return "", nil, fmt.Errorf("read message ids: %w", err)
	}
	return conv.Other(selfID), ids, nil
}

// UnreadCount returns the number of unread inbound messages in one
// conversation.
func (s *MessageService) UnreadCount(ctx context.Context, conversationID, selfID string) (int, error) {
	return s.messages.UnreadCount(ctx, conversationID, selfID)
}

// UnreadTotal is the global badge: unread inbound messages across all
// conversations.
func (s *MessageService) UnreadTotal(ctx context.Context, selfID string) (int, error) {
	return s.messages.UnreadTotal(ctx, selfID)
}

func (s *MessageService) requireParticipant(ctx context.Context, conversationID, selfID string) error {
	if selfID == "" {
		return domain.ErrUnauthorized
	}
	conv, err := s.conversations.GetByID(ctx, conversationID)
	if err != nil {
		return fmt.Errorf("get conversation: %w", err)
	}
	if !conv.HasParticipant(selfID) {
		return domain.ErrForbidden
	}
	return nil
}
