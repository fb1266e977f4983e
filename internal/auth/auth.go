package auth

import (
	"context"
	"errors"
	"strings"
)

// Authenticator validates an API key and returns a ClientContext.
type Authenticator interface {
	Authenticate(ctx context.Context, authorization string) (*ClientContext, error)
}

// ClientContext holds the authenticated caller's identity and settings.
type ClientContext struct {
	ClientID string
	// Admin clients may register and deregister services and reload
	// rule documents.
	Admin    bool
	FailOpen bool
}

// ErrUnauthenticated is returned when no valid credentials are found.
var ErrUnauthenticated = errors.New("unauthenticated")

// ParseBearerToken extracts an mcp_ API key from an Authorization
// header value.
func ParseBearerToken(authorization string) (string, error) {
	if authorization == "" {
		return "", ErrUnauthenticated
	}
	token := strings.TrimPrefix(authorization, "Bearer ")
	token = strings.TrimPrefix(token, "bearer ")
	if !strings.HasPrefix(token, "mcp_") {
		return "", ErrUnauthenticated
	}
	return token, nil
}
