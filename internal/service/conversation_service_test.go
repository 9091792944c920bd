package service_test

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"farmchat/internal/domain"
	"farmchat/internal/obs"
	"farmchat/internal/service"
)

func TestResolve(t *testing.T) {
	mockRepo := new(MockConversationRepo)
	svc := service.NewConversationService(mockRepo, obs.NewLogger("test"))
	ctx := context.Background()

	t.Run("Success", func(t *testing.T) {
		listing := "l1"
		resolved := &domain.Conversation{
			ID: "c1", ParticipantA: "buyer", ParticipantB: "seller", ListingID: &listing,
		}
		mockRepo.On("Upsert", mock.Anything, mock.MatchedBy(func(c *domain.Conversation) bool {
			return c.ParticipantA == "buyer" && c.ParticipantB == "seller" &&
				c.ListingID != nil && *c.ListingID == "l1"
		})).Return(resolved, nil).Once()

		conv, err := svc.Resolve(ctx, &listing, "seller", "buyer")
		require.NoError(t, err)
		assert.Equal(t, "c1", conv.ID)
	})

	t.Run("Unauthenticated", func(t *testing.T) {
		_, err := svc.Resolve(ctx, nil, "seller", "")
		assert.ErrorIs(t, err, domain.ErrUnauthorized)
	})

	t.Run("SelfConversation", func(t *testing.T) {
		_, err := svc.Resolve(ctx, nil, "buyer", "buyer")
		assert.ErrorIs(t, err, domain.ErrInvalidInput)
	})

	t.Run("MissingCounterparty", func(t *testing.T) {
		_, err := svc.Resolve(ctx, nil, "", "buyer")
		assert.ErrorIs(t, err, domain.ErrInvalidInput)
	})
}

func TestGetConversation(t *testing.T) {
	mockRepo := new(MockConversationRepo)
	svc := service.NewConversationService(mockRepo, obs.NewLogger("test"))
	ctx := context.Background()

	conv := &domain.Conversation{ID: "c1", ParticipantA: "a", ParticipantB: "b"}
	mockRepo.On("GetByID", mock.Anything, "c1").Return(conv, nil)

	t.Run("Participant", func(t *testing.T) {
		got, err := svc.Get(ctx, "c1", "a")
		require.NoError(t, err)
		assert.Equal(t, "c1", got.ID)
	})

	t.Run("Outsider", func(t *testing.T) {
		_, err := svc.Get(ctx, "c1", "intruder")
		assert.ErrorIs(t, err, domain.ErrForbidden)
	})

	t.Run("NotFound", func(t *testing.T) {
		mockRepo.On("GetByID", mock.Anything, "ghost").Return(nil, domain.ErrNotFound)
		_, err := svc.Get(ctx, "ghost", "a")
		assert.ErrorIs(t, err, domain.ErrNotFound)
	})
}
