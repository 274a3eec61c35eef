package auth

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"livechat/internal/apperr"
	"livechat/internal/models"
)

type fakeUsers struct {
	got   []models.UserSnapshot
	email string
	err   error
}

func (f *fakeUsers) EnsureUser(_ context.Context, u models.UserSnapshot, email string) (models.UserSnapshot, error) {
	if f.err != nil {
		return models.UserSnapshot{}, f.err
	}
	f.got = append(f.got, u)
	f.email = email
	return u, nil
}

func TestResolver_Authenticate(t *testing.T) {
	ctx := context.Background()
	issuer, err := NewIssuer("secret", "livechat", time.Minute)
	require.NoError(t, err)
	token, err := issuer.GenerateAccessToken(Identity{UserID: "u1", Name: "Ann", Email: "ann@example.com"})
	require.NoError(t, err)

	users := &fakeUsers{}
	r := NewResolver(NewHMACVerifier("secret", "livechat"), users)

	user, err := r.Authenticate(ctx, token)
	require.NoError(t, err)
	assert.Equal(t, models.UserSnapshot{ID: "u1", Name: "Ann"}, user)
	assert.Len(t, users.got, 1)
	assert.Equal(t, "ann@example.com", users.email)

	_, err = r.Authenticate(ctx, "")
	assert.True(t, apperr.Is(err, apperr.KindAuth))
	_, err = r.Authenticate(ctx, "garbage")
	assert.True(t, apperr.Is(err, apperr.KindAuth))

	users.err = apperr.Dependency("store.EnsureUser", errors.New("locked"))
	_, err = r.Authenticate(ctx, token)
	assert.True(t, apperr.IsRetryable(err))
}

func TestChain(t *testing.T) {
	ctx := context.Background()
	issuer, err := NewIssuer("second", "", time.Minute)
	require.NoError(t, err)
	token, err := issuer.GenerateAccessToken(Identity{UserID: "u2"})
	require.NoError(t, err)

	chain := Chain{NewHMACVerifier("first", ""), NewHMACVerifier("second", "")}
	id, err := chain.Verify(ctx, token)
	require.NoError(t, err)
	assert.Equal(t, "u2", id.UserID)

	_, err = Chain{NewHMACVerifier("first", "")}.Verify(ctx, token)
	require.ErrorIs(t, err, ErrInvalidToken)
	_, err = chain.Verify(ctx, "")
	require.ErrorIs(t, err, ErrMissingToken)
}
