package session

import (
	"context"

	apperrors "github.com/charlsef23/Zymetrik-sub001/pkg/errors"
)

// Auth exposes the current authenticated identity. Gateway calls without an
// explicit user id scope to this identity. Implementations may block (token
// refresh), hence the contexts.
type Auth interface {
	UserID(ctx context.Context) (string, error)
	AccessToken(ctx context.Context) (string, error)
}

// StaticAuth is a fixed-identity Auth for the cmd binary and tests.
type StaticAuth struct {
	ID    string
	Token string
}

var _ Auth = StaticAuth{}

func (a StaticAuth) UserID(_ context.Context) (string, error) {
	if a.ID == "" {
		return "", apperrors.Unauthenticated("session: no authenticated user")
	}
	return a.ID, nil
}

func (a StaticAuth) AccessToken(_ context.Context) (string, error) {
	return a.Token, nil
}
