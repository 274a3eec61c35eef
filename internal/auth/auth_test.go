package auth

import (
	"context"
	"crypto/rand"
	"crypto/rsa"
	"encoding/base64"
	"math/big"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/goccy/go-json"
	"github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestHMAC_IssueAndVerify(t *testing.T) {
	issuer, err := NewIssuer("test-secret", "livechat", 15*time.Minute)
	require.NoError(t, err)

	token, err := issuer.GenerateAccessToken(Identity{UserID: "user-123", Name: "Ann", Email: "ann@example.com", AvatarURL: "/images/a.png"})
	require.NoError(t, err)
	require.NotEmpty(t, token)

	id, err := NewHMACVerifier("test-secret", "livechat").Verify(context.Background(), token)
	require.NoError(t, err)
	assert.Equal(t, Identity{UserID: "user-123", Name: "Ann", Email: "ann@example.com", AvatarURL: "/images/a.png"}, id)
	assert.Equal(t, "Ann", id.Snapshot().Name)
}

func TestHMAC_Rejects(t *testing.T) {
	ctx := context.Background()
	good, err := NewIssuer("test-secret", "livechat", time.Minute)
	require.NoError(t, err)
	otherSecret, err := NewIssuer("other-secret", "livechat", time.Minute)
	require.NoError(t, err)
	otherIssuer, err := NewIssuer("test-secret", "someone-else", time.Minute)
	require.NoError(t, err)
	expired, err := NewIssuer("test-secret", "livechat", time.Minute)
	require.NoError(t, err)
	expired.duration = -time.Minute

	mint := func(i *Issuer) string {
		token, err := i.GenerateAccessToken(Identity{UserID: "u1"})
		require.NoError(t, err)
		return token
	}

	unsigned, err := jwt.NewWithClaims(jwt.SigningMethodNone, jwt.RegisteredClaims{Subject: "u1", Issuer: "livechat"}).
		SignedString(jwt.UnsafeAllowNoneSignatureType)
	require.NoError(t, err)

	noExpiry, err := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.RegisteredClaims{Subject: "u1", Issuer: "livechat"}).
		SignedString([]byte("test-secret"))
	require.NoError(t, err)

	v := NewHMACVerifier("test-secret", "livechat")
	tests := []struct {
		name  string
		token string
		want  error
	}{
		{"empty", "", ErrMissingToken},
		{"garbage", "not-a-jwt", ErrInvalidToken},
		{"wrong secret", mint(otherSecret), ErrInvalidToken},
		{"wrong issuer", mint(otherIssuer), ErrInvalidToken},
		{"alg none", unsigned, ErrInvalidToken},
		{"expired", mint(expired), ErrExpiredToken},
		{"no expiry", noExpiry, ErrInvalidToken},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := v.Verify(ctx, tt.token)
			require.ErrorIs(t, err, tt.want)
		})
	}

	_, err = v.Verify(ctx, mint(good))
	require.NoError(t, err)
}

func TestNewIssuer_RequiresSecret(t *testing.T) {
	_, err := NewIssuer("", "livechat", time.Minute)
	require.Error(t, err)
}

// jwksServer publishes key under kid and returns the issuer URL.
func jwksServer(t *testing.T, kid string, key *rsa.PublicKey) string {
	t.Helper()
	jwks := JWKS{Keys: []JWK{{
		Kid: kid,
		Kty: "RSA",
		Use: "sig",
		Alg: "RS256",
		N:   base64.RawURLEncoding.EncodeToString(key.N.Bytes()),
		E:   base64.RawURLEncoding.EncodeToString(big.NewInt(int64(key.E)).Bytes()),
	}}}

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/.well-known/jwks.json" {
			http.NotFound(w, r)
			return
		}
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(jwks)
	}))
	t.Cleanup(srv.Close)
	return srv.URL
}

func signRS256(t *testing.T, key *rsa.PrivateKey, kid string, claims Claims) string {
	t.Helper()
	token := jwt.NewWithClaims(jwt.SigningMethodRS256, claims)
	token.Header["kid"] = kid
	signed, err := token.SignedString(key)
	require.NoError(t, err)
	return signed
}

func TestJWKS_Verify(t *testing.T) {
	ctx := context.Background()
	key, err := rsa.GenerateKey(rand.Reader, 2048)
	require.NoError(t, err)

	issuer := jwksServer(t, "k1", &key.PublicKey)
	v, err := NewJWKSVerifier(ctx, issuer, nil)
	require.NoError(t, err)

	valid := Claims{
		RegisteredClaims: jwt.RegisteredClaims{
			Issuer:    issuer,
			Subject:   "kp_123",
			ExpiresAt: jwt.NewNumericDate(time.Now().Add(time.Hour)),
		},
		GivenName:  "Ann",
		FamilyName: "Lee",
		Picture:    "https://example.com/a.png",
	}

	id, err := v.Verify(ctx, "Bearer "+signRS256(t, key, "k1", valid))
	require.NoError(t, err)
	assert.Equal(t, "kp_123", id.UserID)
	assert.Equal(t, "Ann Lee", id.Name)
	assert.Equal(t, "https://example.com/a.png", id.AvatarURL)

	_, err = v.Verify(ctx, signRS256(t, key, "unknown", valid))
	require.ErrorIs(t, err, ErrInvalidToken)

	wrongIssuer := valid
	wrongIssuer.Issuer = "https://evil.example.com"
	_, err = v.Verify(ctx, signRS256(t, key, "k1", wrongIssuer))
	require.ErrorIs(t, err, ErrInvalidToken)

	noExpiry := valid
	noExpiry.ExpiresAt = nil
	_, err = v.Verify(ctx, signRS256(t, key, "k1", noExpiry))
	require.Error(t, err)

	other, err := rsa.GenerateKey(rand.Reader, 2048)
	require.NoError(t, err)
	_, err = v.Verify(ctx, signRS256(t, other, "k1", valid))
	require.ErrorIs(t, err, ErrInvalidToken)
}

func TestJWKS_FetchFailure(t *testing.T) {
	srv := httptest.NewServer(http.NotFoundHandler())
	defer srv.Close()

	_, err := NewJWKSVerifier(context.Background(), srv.URL, srv.Client())
	require.Error(t, err)
}

func TestExtractTokenFromRequest(t *testing.T) {
	r := httptest.NewRequest(http.MethodGet, "/ws?token=abc", nil)
	r.Header.Set("Authorization", "Bearer header")
	assert.Equal(t, "abc", ExtractTokenFromRequest(r))

	r = httptest.NewRequest(http.MethodGet, "/ws", nil)
	r.Header.Set("Authorization", "Bearer header")
	assert.Equal(t, "header", ExtractTokenFromRequest(r))

	r = httptest.NewRequest(http.MethodGet, "/ws", nil)
	assert.Empty(t, ExtractTokenFromRequest(r))
}
