package service_test

import (
	"context"
	"sync"
	"time"

	"github.com/stretchr/testify/mock"

	"farmchat/internal/domain"
)

// Mock repositories

type MockConversationRepo struct {
	mock.Mock
}

func (m *MockConversationRepo) Upsert(ctx context.Context, c *domain.Conversation) (*domain.Conversation, error) {
	args := m.Called(ctx, c)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*domain.Conversation), args.Error(1)
}

func (m *MockConversationRepo) GetByID(ctx context.Context, id string) (*domain.Conversation, error) {
	args := m.Called(ctx, id)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*domain.Conversation), args.Error(1)
}

func (m *MockConversationRepo) ListForUser(ctx context.Context, userID string) ([]*domain.Conversation, error) {
	args := m.Called(ctx, userID)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]*domain.Conversation), args.Error(1)
}

func (m *MockConversationRepo) BumpLastMessageAt(ctx context.Context, id string, at time.Time) error {
	args := m.Called(ctx, id, at)
	return args.Error(0)
}

type MockMessageRepo struct {
	mock.Mock
}

func (m *MockMessageRepo) Create(ctx context.Context, msg *domain.Message) error {
	args := m.Called(ctx, msg)
	return args.Error(0)
}

func (m *MockMessageRepo) GetByID(ctx context.Context, id string) (*domain.Message, error) {
	args := m.Called(ctx, id)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*domain.Message), args.Error(1)
}

func (m *MockMessageRepo) ListForConversation(ctx context.Context, conversationID string, limit int) ([]*domain.Message, error) {
	args := m.Called(ctx, conversationID, limit)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]*domain.Message), args.Error(1)
}

func (m *MockMessageRepo) ListSince(ctx context.Context, conversationID string, afterSeq int64) ([]*domain.Message, error) {
	args := m.Called(ctx, conversationID, afterSeq)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]*domain.Message), args.Error(1)
}

func (m *MockMessageRepo) Last(ctx context.Context, conversationID string) (*domain.Message, error) {
	args := m.Called(ctx, conversationID)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*domain.Message), args.Error(1)
}

func (m *MockMessageRepo) MarkAllRead(ctx context.Context, conversationID, userID string) ([]string, error) {
	args := m.Called(ctx, conversationID, userID)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]string), args.Error(1)
}

func (m *MockMessageRepo) ReadMessageIDs(ctx context.Context, conversationID, senderID string) ([]string, error) {
	args := m.Called(ctx, conversationID, senderID)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]string), args.Error(1)
}

func (m *MockMessageRepo) UnreadCount(ctx context.Context, conversationID, userID string) (int, error) {
	args := m.Called(ctx, conversationID, userID)
	return args.Int(0), args.Error(1)
}

func (m *MockMessageRepo) UnreadTotal(ctx context.Context, userID string) (int, error) {
	args := m.Called(ctx, userID)
	return args.Int(0), args.Error(1)
}

type MockDirectoryRepo struct {
	mock.Mock
}

func (m *MockDirectoryRepo) GetParty(ctx context.Context, id string) (*domain.Party, error) {
	args := m.Called(ctx, id)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*domain.Party), args.Error(1)
}

func (m *MockDirectoryRepo) GetListing(ctx context.Context, id string) (*domain.Listing, error) {
	args := m.Called(ctx, id)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*domain.Listing), args.Error(1)
}

// capturePublisher records what got published where.
type capturePublisher struct {
	mu     sync.Mutex
	conv   map[string][]domain.Event
	byUser map[string][]domain.Event
}

func newCapturePublisher() *capturePublisher {
	return &capturePublisher{
		conv:   make(map[string][]domain.Event),
		byUser: make(map[string][]domain.Event),
	}
}

func (p *capturePublisher) PublishToConversation(conversationID string, ev domain.Event) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.conv[conversationID] = append(p.conv[conversationID], ev)
}

func (p *capturePublisher) PublishToUser(userID string, ev domain.Event) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.byUser[userID] = append(p.byUser[userID], ev)
}

func (p *capturePublisher) conversationEvents(id string) []domain.Event {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]domain.Event(nil), p.conv[id]...)
}

func (p *capturePublisher) userEvents(id string) []domain.Event {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]domain.Event(nil), p.byUser[id]...)
}
