// Package identity consumes the external identity provider's bearer tokens.
// Messaging never mints tokens or stores credentials; it only needs the
// authenticated user's opaque id and display name.
package identity

import (
	"fmt"

	"github.com/golang-jwt/jwt/v5"

	"farmchat/internal/domain"
)

// Principal is the authenticated caller.
type Principal struct {
	ID          string
	DisplayName string
}

// Provider validates bearer tokens issued by the platform's auth service.
type Provider struct {
	secret []byte
}

func NewProvider(secret string) *Provider {
	return &Provider{secret: []byte(secret)}
}

// FromToken parses and validates a token, returning the principal. Any
// validation failure maps to ErrUnauthorized.
func (p *Provider) FromToken(tokenStr string) (*Principal, error) {
	token, err := jwt.Parse(tokenStr, func(token *jwt.Token) (any, error) {
		if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, jwt.ErrSignatureInvalid
		}
		return p.secret, nil
	})
	if err != nil {
		return nil, fmt.Errorf("%w: %v", domain.ErrUnauthorized, err)
	}
	if !token.Valid {
		return nil, domain.ErrUnauthorized
	}
	claims, ok := token.Claims.(jwt.MapClaims)
	if !ok {
		return nil, domain.ErrUnauthorized
	}

	sub, _ := claims["sub"].(string)
	if sub == "" {
		return nil, fmt.Errorf("%w: missing subject", domain.ErrUnauthorized)
	}
	name, _ := claims["name"].(string)

	return &Principal{ID: sub, DisplayName: name}, nil
}
