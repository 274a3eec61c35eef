package auth

import (
	"context"
	"errors"

	"livechat/internal/apperr"
	"livechat/internal/models"
)

// UserStore registers verified users so rooms and messages can reference them.
type UserStore interface {
	EnsureUser(ctx context.Context, u models.UserSnapshot, email string) (models.UserSnapshot, error)
}

// Resolver verifies a token and returns the stored profile of the user it names.
type Resolver struct {
	verifier Verifier
	users    UserStore
}

// NewResolver returns a resolver. A nil users store skips registration.
func NewResolver(verifier Verifier, users UserStore) *Resolver {
	return &Resolver{verifier: verifier, users: users}
}

// Authenticate returns an apperr.KindAuth error for missing or rejected tokens.
func (r *Resolver) Authenticate(ctx context.Context, token string) (models.UserSnapshot, error) {
	const op = "auth.Authenticate"

	id, err := r.verifier.Verify(ctx, token)
	if err != nil {
		switch {
		case errors.Is(err, ErrMissingToken):
			return models.UserSnapshot{}, apperr.Auth(op, "token required")
		case errors.Is(err, ErrExpiredToken):
			return models.UserSnapshot{}, apperr.Auth(op, "token expired")
		default:
			return models.UserSnapshot{}, apperr.Auth(op, "invalid token")
		}
	}
	if r.users == nil {
		return id.Snapshot(), nil
	}

	user, err := r.users.EnsureUser(ctx, id.Snapshot(), id.Email)
	if err != nil {
		return models.UserSnapshot{}, apperr.Wrap(op, err)
	}
	return user, nil
}

// Chain tries each verifier in order and returns the first identity any of them accepts.
type Chain []Verifier

func (c Chain) Verify(ctx context.Context, token string) (Identity, error) {
	if token == "" {
		return Identity{}, ErrMissingToken
	}
	err := ErrInvalidToken
	for _, v := range c {
		id, verr := v.Verify(ctx, token)
		if verr == nil {
			return id, nil
		}
		if errors.Is(verr, ErrExpiredToken) {
			err = ErrExpiredToken
		}
	}
	return Identity{}, err
}
