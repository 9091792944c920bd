package service

import (
	"context"
	"fmt"
	"log/slog"

	"farmchat/internal/domain"
)

// ConversationService resolves and guards access to conversations.
type ConversationService struct {
	conversations domain.ConversationRepository
	logger        *slog.Logger
}

func NewConversationService(conversations domain.ConversationRepository, logger *slog.Logger) *ConversationService {
	return &ConversationService{conversations: conversations, logger: logger}
}

// Resolve finds or creates the conversation between self and the counterparty
// for the given listing (nil for a generic conversation). Repeated calls, in
// either participant order, return the same conversation; concurrent first
// resolutions converge through the store's atomic upsert.
func (s *ConversationService) Resolve(ctx context.Context, listingID *string, counterpartyID, selfID string) (*domain.Conversation, error) {
	if selfID == "" {
		return nil, domain.ErrUnauthorized
	}
	if counterpartyID == "" || counterpartyID == selfID {
		return nil, fmt.Errorf("%w: counterparty must be another user", domain.ErrInvalidInput)
	}

	conv, err := s.conversations.Upsert(ctx, &domain.Conversation{
		ListingID:    listingID,
		ParticipantA: selfID,
		ParticipantB: counterpartyID,
	})
	if err != nil {
		return nil, fmt.Errorf("resolve conversation: %w", err)
	}
	return conv, nil
}

// Get returns the conversation after checking the caller is a participant.
func (s *ConversationService) Get(ctx context.Context, conversationID, selfID string) (*domain.Conversation, error) {
	if selfID == "" {
		return nil, domain.ErrUnauthorized
	}
	conv, err := s.conversations.GetByID(ctx, conversationID)
	if err != nil {
		return nil, err
	}
	if !conv.HasParticipant(selfID) {
		return nil, domain.ErrForbidden
	}
	return conv, nil
}
