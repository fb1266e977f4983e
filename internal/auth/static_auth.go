package auth

import (
	"context"
)

// StaticAuthenticator is a development-only authenticator that accepts any mcp_ key.
type StaticAuthenticator struct{}

func NewStaticAuthenticator() *StaticAuthenticator {
	return &StaticAuthenticator{}
}

func (a *StaticAuthenticator) Authenticate(_ context.Context, authorization string) (*ClientContext, error) {
	token, err := ParseBearerToken(authorization)
	if err != nil {
		return nil, err
	}
	if len(token) < 8 {
		return nil, ErrUnauthenticated
	}
	// Accept any mcp_ prefixed key with a static client ID.
	return &ClientContext{
		ClientID: "static-" + token[:8],
		Admin:    true,
		FailOpen: true,
	}, nil
}
