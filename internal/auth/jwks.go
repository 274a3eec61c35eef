package auth

import (
	"context"
	"crypto/rsa"
	"encoding/base64"
	"errors"
	"fmt"
	"log/slog"
	"math/big"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/goccy/go-json"
	"github.com/golang-jwt/jwt/v5"
)

// DefaultJWKSRefresh is how often the key set is refetched.
const DefaultJWKSRefresh = 24 * time.Hour

type JWKS struct {
	Keys []JWK `json:"keys"`
}

type JWK struct {
	Kid string `json:"kid"`
	Kty string `json:"kty"`
	Use string `json:"use"`
	N   string `json:"n"`
	E   string `json:"e"`
	Alg string `json:"alg"`
}

// JWKSVerifier accepts RS256 tokens from an OpenID issuer, using the keys published at
// <issuer>/.well-known/jwks.json.
type JWKSVerifier struct {
	issuer string
	client *http.Client

	mu   sync.RWMutex
	jwks *JWKS
	keys map[string]*rsa.PublicKey
}

var _ Verifier = (*JWKSVerifier)(nil)

// NewJWKSVerifier fetches the issuer's key set once. Call Run to keep it fresh.
func NewJWKSVerifier(ctx context.Context, issuerURL string, client *http.Client) (*JWKSVerifier, error) {
	if issuerURL == "" {
		return nil, errors.New("issuer url is required")
	}
	if client == nil {
		client = &http.Client{Timeout: 10 * time.Second}
	}
	v := &JWKSVerifier{
		issuer: strings.TrimRight(issuerURL, "/"),
		client: client,
		keys:   make(map[string]*rsa.PublicKey),
	}
	if err := v.Refresh(ctx); err != nil {
		return nil, err
	}
	return v, nil
}

// Run refreshes the key set every interval until ctx is done.
func (v *JWKSVerifier) Run(ctx context.Context, interval time.Duration) {
	if interval <= 0 {
		interval = DefaultJWKSRefresh
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := v.Refresh(ctx); err != nil {
				slog.Error("[AUTH] Error refreshing JWKS", "error", err)
			} else {
				slog.Info("[AUTH] JWKS refreshed successfully")
			}
		}
	}
}

// Refresh refetches the key set and drops the converted key cache.
func (v *JWKSVerifier) Refresh(ctx context.Context) error {
	jwksURL := v.issuer + "/.well-known/jwks.json"

	slog.Debug("[AUTH] Fetching JWKS", "url", jwksURL)

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, jwksURL, nil)
	if err != nil {
		return fmt.Errorf("failed to build JWKS request: %w", err)
	}
	resp, err := v.client.Do(req)
	if err != nil {
		return fmt.Errorf("failed to fetch JWKS: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("JWKS endpoint returned status %d", resp.StatusCode)
	}

	var jwks JWKS
	if err := json.NewDecoder(resp.Body).Decode(&jwks); err != nil {
		return fmt.Errorf("failed to decode JWKS: %w", err)
	}

	v.mu.Lock()
	v.jwks = &jwks
	v.keys = make(map[string]*rsa.PublicKey)
	v.mu.Unlock()

	slog.Info("[AUTH] JWKS loaded", "keys", len(jwks.Keys))
	return nil
}

func (v *JWKSVerifier) Verify(_ context.Context, tokenString string) (Identity, error) {
	tokenString = strings.TrimPrefix(tokenString, "Bearer ")
	if tokenString == "" {
		return Identity{}, ErrMissingToken
	}

	token, err := jwt.ParseWithClaims(tokenString, &Claims{}, func(token *jwt.Token) (any, error) {
		if _, ok := token.Method.(*jwt.SigningMethodRSA); !ok {
			return nil, fmt.Errorf("unexpected signing method: %v", token.Header["alg"])
		}
		kid, ok := token.Header["kid"].(string)
		if !ok {
			return nil, errors.New("kid not found in token header")
		}
		return v.publicKey(kid)
	}, jwt.WithIssuer(v.issuer), jwt.WithExpirationRequired())
	if err != nil {
		return Identity{}, classify(err)
	}

	claims, ok := token.Claims.(*Claims)
	if !ok || !token.Valid || claims.Subject == "" {
		return Identity{}, ErrInvalidToken
	}
	return claims.identity(), nil
}

// publicKey retrieves and caches the public key for kid.
func (v *JWKSVerifier) publicKey(kid string) (*rsa.PublicKey, error) {
	v.mu.RLock()
	key, ok := v.keys[kid]
	jwks := v.jwks
	v.mu.RUnlock()
	if ok {
		return key, nil
	}
	if jwks == nil {
		return nil, errors.New("JWKS not initialized")
	}

	for _, jwk := range jwks.Keys {
		if jwk.Kid != kid {
			continue
		}
		key, err := jwkToPublicKey(jwk)
		if err != nil {
			return nil, err
		}
		v.mu.Lock()
		v.keys[kid] = key
		v.mu.Unlock()
		return key, nil
	}
	return nil, fmt.Errorf("key with kid %s not found in JWKS", kid)
}

// jwkToPublicKey converts JWK to RSA public key
func jwkToPublicKey(jwk JWK) (*rsa.PublicKey, error) {
	nBytes, err := base64.RawURLEncoding.DecodeString(jwk.N)
	if err != nil {
		return nil, fmt.Errorf("failed to decode modulus: %w", err)
	}
	eBytes, err := base64.RawURLEncoding.DecodeString(jwk.E)
	if err != nil {
		return nil, fmt.Errorf("failed to decode exponent: %w", err)
	}

	var e int
	for _, b := range eBytes {
		e = e<<8 + int(b)
	}

	return &rsa.PublicKey{
		N: new(big.Int).SetBytes(nBytes),
		E: e,
	}, nil
}
