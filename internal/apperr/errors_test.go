package apperr

import (
	"context"
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestKindOf(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want Kind
	}{
		{"nil", nil, KindUnknown},
		{"plain", errors.New("boom"), KindUnknown},
		{"validation", Validation("createRoom", map[string]string{"name": "taken"}), KindValidation},
		{"wrapped not found", fmt.Errorf("outer: %w", NotFound("getRoom", "room")), KindNotFound},
		{"auth", Auth("join", "not a member"), KindAuth},
		{"dependency", Dependency("publish", errors.New("conn refused")), KindDependency},
		{"deadline", fmt.Errorf("query: %w", context.DeadlineExceeded), KindDependency},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, KindOf(tt.err))
		})
	}
}

func TestIsRetryable(t *testing.T) {
	assert.True(t, IsRetryable(Dependency("op", context.DeadlineExceeded)))
	assert.False(t, IsRetryable(Validation("op", nil)))
	assert.False(t, IsRetryable(Auth("op", "no token")))
}

func TestErrorMessage(t *testing.T) {
	err := Validation("sendMessage", map[string]string{"image": "Invalid image type", "content": "required"})
	assert.Equal(t, "sendMessage: validation failed (content, image)", err.Error())

	err2 := Dependency("store.CreateMessage", errors.New("disk full"))
	assert.Equal(t, "store.CreateMessage: dependency: disk full", err2.Error())
	require.ErrorIs(t, err2, err2.Err)
}

func TestWrapKeepsClassification(t *testing.T) {
	inner := NotFound("store.GetRoom", "room")
	err := Wrap("session.Join", inner)
	assert.True(t, Is(err, KindNotFound))

	err = Wrap("session.Join", errors.New("redis down"))
	assert.True(t, Is(err, KindDependency))
	assert.Nil(t, Wrap("noop", nil))

	assert.Equal(t, map[string]string{"image": "bad"}, FieldsOf(Validation("x", map[string]string{"image": "bad"})))
}
