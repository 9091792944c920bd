package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"strings"

	"farmchat/internal/domain"
)

// InboxService denormalizes the conversation list: counterpart identity,
// listing title, last-message preview and unread count per conversation.
type InboxService struct {
	conversations domain.ConversationRepository
	messages      domain.MessageRepository
	directory     domain.DirectoryRepository
	logger        *slog.Logger
}

func NewInboxService(
	conversations domain.ConversationRepository,
	messages domain.MessageRepository,
	directory domain.DirectoryRepository,
	logger *slog.Logger,
) *InboxService {
	return &InboxService{
		conversations: conversations,
		messages:      messages,
		directory:     directory,
		logger:        logger,
	}
}

// List returns the user's conversation summaries ordered by last_message_at
// descending.
func (s *InboxService) List(ctx context.Context, selfID string) ([]domain.ConversationSummary, error) {
	if selfID == "" {
		return nil, domain.ErrUnauthorized
	}
	convs, err := s.conversations.ListForUser(ctx, selfID)
	if err != nil {
		return nil, fmt.Errorf("list conversations: %w", err)
	}

	summaries := make([]domain.ConversationSummary, 0, len(convs))
	for _, conv := range convs {
		summary, err := s.Summarize(ctx, conv, selfID)
		if err != nil {
			return nil, err
		}
		summaries = append(summaries, summary)
	}
	return summaries, nil
}

// Search filters the inbox by counterpart display name or listing title,
// case-insensitive substring match.
func (s *InboxService) Search(ctx context.Context, selfID, query string) ([]domain.ConversationSummary, error) {
	summaries, err := s.List(ctx, selfID)
	if err != nil {
		return nil, err
	}
	query = strings.ToLower(strings.TrimSpace(query))
	if query == "" {
		return summaries, nil
	}
	filtered := summaries[:0]
	for _, sum := range summaries {
		if strings.Contains(strings.ToLower(sum.OtherParty.DisplayName), query) ||
			strings.Contains(strings.ToLower(sum.ListingTitle), query) {
			filtered = append(filtered, sum)
		}
	}
	return filtered, nil
}

// Summarize builds the denormalized row for one conversation.
func (s *InboxService) Summarize(ctx context.Context, conv *domain.Conversation, selfID string) (domain.ConversationSummary, error) {
	summary := domain.ConversationSummary{
		Conversation: *conv,
		PreviewAt:    conv.LastMessageAt,
	}

	otherID := conv.Other(selfID)
	party, err := s.directory.GetParty(ctx, otherID)
	if err != nil {
		if !errors.Is(err, domain.ErrNotFound) {
			return summary, fmt.Errorf("get party: %w", err)
		}
		// Counterpart missing from the directory (e.g. deactivated account):
		// keep the thread visible under the bare id.
		party = &domain.Party{ID: otherID}
	}
	summary.OtherParty = *party

	if conv.ListingID != nil {
		listing, err := s.directory.GetListing(ctx, *conv.ListingID)
		if err == nil {
			summary.ListingTitle = listing.Title
		} else if !errors.Is(err, domain.ErrNotFound) {
			return summary, fmt.Errorf("get listing: %w", err)
		}
	}

	last, err := s.messages.Last(ctx, conv.ID)
	if err == nil {
		summary.Preview = PreviewText(last)
		summary.PreviewAt = last.CreatedAt
	} else if !errors.Is(err, domain.ErrNotFound) {
		return summary, fmt.Errorf("last message: %w", err)
	}

	unread, err := s.messages.UnreadCount(ctx, conv.ID, selfID)
	if err != nil {
		return summary, fmt.Errorf("unread count: %w", err)
	}
	summary.UnreadCount = unread

	return summary, nil
}

// PreviewText renders the one-line inbox preview for a message.
func PreviewText(m *domain.Message) string {
	if m.Content != "" {
		return m.Content
	}
	if len(m.Attachments) == 0 {
		return ""
	}
	switch m.Attachments[0].Kind {
	case domain.AttachmentVoice:
		return "Voice note"
	case domain.AttachmentImage:
		return "Photo"
	default:
		return "File"
	}
}

// SortSummaries orders summaries by last activity, newest first.
func SortSummaries(summaries []domain.ConversationSummary) {
	sort.SliceStable(summaries, func(i, j int) bool {
		return summaries[i].Conversation.LastMessageAt.After(summaries[j].Conversation.LastMessageAt)
	})
}
