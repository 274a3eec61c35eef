// Package auth turns bearer tokens into verified identities.
package auth

import (
	"context"
	"errors"
	"net/http"
	"strings"

	"github.com/golang-jwt/jwt/v5"

	"livechat/internal/models"
)

var (
	// ErrMissingToken is returned when a request carries no token.
	ErrMissingToken = errors.New("token is empty")
	// ErrInvalidToken is returned when the token is malformed, badly signed or from another issuer.
	ErrInvalidToken = errors.New("invalid token")
	// ErrExpiredToken is returned when the token has expired.
	ErrExpiredToken = errors.New("token has expired")
)

// Identity is the verified caller.
type Identity struct {
	UserID    string
	Name      string
	Email     string
	AvatarURL string
}

// Snapshot returns the public profile carried in presence entries and messages.
func (id Identity) Snapshot() models.UserSnapshot {
	return models.UserSnapshot{ID: id.UserID, Name: id.Name, AvatarURL: id.AvatarURL}
}

// Verifier checks a raw token.
type Verifier interface {
	Verify(ctx context.Context, token string) (Identity, error)
}

// Claims are the token claims both verifiers understand. The profile fields follow the
// OpenID names identity providers put in access tokens.
type Claims struct {
	jwt.RegisteredClaims
	GivenName  string `json:"given_name,omitempty"`
	FamilyName string `json:"family_name,omitempty"`
	Email      string `json:"email,omitempty"`
	Picture    string `json:"picture,omitempty"`
}

func (c *Claims) identity() Identity {
	name := strings.TrimSpace(c.GivenName + " " + c.FamilyName)
	if name == "" {
		name = c.Email
	}
	if name == "" {
		name = c.Subject
	}
	return Identity{UserID: c.Subject, Name: name, Email: c.Email, AvatarURL: c.Picture}
}

// classify maps jwt parse errors onto ErrExpiredToken and ErrInvalidToken.
func classify(err error) error {
	if errors.Is(err, jwt.ErrTokenExpired) {
		return ErrExpiredToken
	}
	return errors.Join(ErrInvalidToken, err)
}

// ExtractTokenFromRequest extracts JWT from request (query param or header)
func ExtractTokenFromRequest(r *http.Request) string {
	// Try query parameter first
	token := r.URL.Query().Get("token")
	if token != "" {
		return token
	}

	// Try Authorization header
	authHeader := r.Header.Get("Authorization")
	if authHeader != "" {
		return strings.TrimSpace(strings.TrimPrefix(authHeader, "Bearer "))
	}

	return ""
}
