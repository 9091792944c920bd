package identity_test

import (
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"farmchat/internal/domain"
	"farmchat/internal/identity"
)

func signToken(t *testing.T, secret string, claims jwt.MapClaims) string {
	t.Helper()
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	signed, err := token.SignedString([]byte(secret))
	require.NoError(t, err)
	return signed
}

func TestFromToken(t *testing.T) {
	provider := identity.NewProvider("secret")

	t.Run("Valid", func(t *testing.T) {
		tokenStr := signToken(t, "secret", jwt.MapClaims{
			"sub":  "user-1",
			"name": "Anna Fields",
			"exp":  time.Now().Add(time.Hour).Unix(),
		})

		principal, err := provider.FromToken(tokenStr)
		require.NoError(t, err)
		assert.Equal(t, "user-1", principal.ID)
		assert.Equal(t, "Anna Fields", principal.DisplayName)
	})

	t.Run("WrongSecret", func(t *testing.T) {
		tokenStr := signToken(t, "other-secret", jwt.MapClaims{"sub": "user-1"})

		_, err := provider.FromToken(tokenStr)
		assert.ErrorIs(t, err, domain.ErrUnauthorized)
	})

	t.Run("Expired", func(t *testing.T) {
		tokenStr := signToken(t, "secret", jwt.MapClaims{
			"sub": "user-1",
			"exp": time.Now().Add(-time.Minute).Unix(),
		})

		_, err := provider.FromToken(tokenStr)
		assert.ErrorIs(t, err, domain.ErrUnauthorized)
	})

	t.Run("MissingSubject", func(t *testing.T) {
		tokenStr := signToken(t, "secret", jwt.MapClaims{"name": "nobody"})

		_, err := provider.FromToken(tokenStr)
		assert.ErrorIs(t, err, domain.ErrUnauthorized)
	})

	t.Run("Garbage", func(t *testing.T) {
		_, err := provider.FromToken("not.a.token")
		assert.ErrorIs(t, err, domain.ErrUnauthorized)
	})
}
