// Package auth resolves bearer credentials to user identities. Tokens
// travel in the Authorization header for plain HTTP requests and in the
// query string for websocket handshakes, where custom headers are not
// available to browser clients.
package auth

import (
	"context"
	"errors"
	"net/http"
	"strings"
)

// ErrInvalidToken is returned for missing, malformed, or unknown
// credentials. Callers reject the request without revealing which case
// applied.
var ErrInvalidToken = errors.New("invalid token")

// Verifier resolves a bearer token to a user id.
type Verifier interface {
	UserForToken(ctx context.Context, token string) (string, error)
}

// TokenStore is the persistence surface the store package provides.
type TokenStore interface {
	UserForToken(ctx context.Context, token string) (string, error)
}

// StoreVerifier verifies tokens against the persistence collaborator.
type StoreVerifier struct {
	Tokens TokenStore
}

func (v StoreVerifier) UserForToken(ctx context.Context, token string) (string, error) {
	if strings.TrimSpace(token) == "" {
		return "", ErrInvalidToken
	}
	user, err := v.Tokens.UserForToken(ctx, token)
	if err != nil {
		return "", ErrInvalidToken
	}
	return user, nil
}

// BearerToken extracts the token from an Authorization header, or from
// the ?token= query parameter as the out-of-band fallback used by
// websocket connections. Empty string means no credential was presented.
func BearerToken(r *http.Request) string {
	header := r.Header.Get("Authorization")
	if strings.HasPrefix(header, "Bearer ") {
		return strings.TrimSpace(strings.TrimPrefix(header, "Bearer "))
	}
	return strings.TrimSpace(r.URL.Query().Get("token"))
}
