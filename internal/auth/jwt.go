// Package auth issues and checks the credentials used by the API: signed
// session tokens, bcrypt password hashes and Google identities.
//
// SESSION LIFECYCLE:
//  1. A user registers, logs in with a password, or signs in with Google.
//  2. The server signs a JWT for the user and appends it to the user's
//     active token list in the store.
//  3. The client sends it back as "Authorization: Bearer <token>".
//  4. RequireAuth checks the signature and expiry, then asks the store
//     whether the token is still in that user's list. Logging out removes
//     it from the list, so a signed but revoked token is rejected.
//
// A JWT alone would be stateless. Keeping the list on the user is what makes
// per-device logout possible.
package auth

import (
	"errors"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/rs/xid"

	"github.com/sakif/ecohacks/internal/model"
)

const issuer = "ecohacks"

// DefaultSessionTTL is how long a session token stays valid when the
// configuration does not say otherwise.
const DefaultSessionTTL = 7 * 24 * time.Hour

// ErrTokenExpired is returned by Validate for a well-formed token whose
// expiry has passed.
var ErrTokenExpired = errors.New("auth: token expired")

// TokenService signs and verifies session tokens with one HMAC secret.
type TokenService struct {
	secret []byte
	ttl    time.Duration
}

// NewTokenService creates a TokenService. ttl <= 0 means DefaultSessionTTL.
// Example secret: SECRET_KEY=$(openssl rand -hex 32)
func NewTokenService(secret string, ttl time.Duration) (*TokenService, error) {
	if len(secret) < 16 {
		return nil, errors.New("auth: secret key must be at least 16 characters")
	}
	if ttl <= 0 {
		ttl = DefaultSessionTTL
	}
	return &TokenService{secret: []byte(secret), ttl: ttl}, nil
}

// TTL returns the lifetime of newly issued tokens.
func (s *TokenService) TTL() time.Duration {
	return s.ttl
}

// Generate signs a new session token for userID.
//
// Every token carries a random "jti" (an xid), so two logins in the same
// second still get distinct tokens. That matters because logout removes a
// token by exact value.
func (s *TokenService) Generate(userID string) (model.SessionToken, error) {
	return s.GenerateWithDuration(userID, s.ttl)
}

// GenerateWithDuration is Generate with an explicit lifetime. Tests use a
// negative duration to get an already-expired token.
func (s *TokenService) GenerateWithDuration(userID string, d time.Duration) (model.SessionToken, error) {
	// JWT dates have second precision; truncating keeps the stored times
	// equal to what is inside the token.
	now := time.Now().UTC().Truncate(time.Second)
	expires := now.Add(d)

	c := jwt.RegisteredClaims{
		ID:        xid.New().String(),
		Subject:   userID,
		Issuer:    issuer,
		IssuedAt:  jwt.NewNumericDate(now),
		ExpiresAt: jwt.NewNumericDate(expires),
	}

	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, c).SignedString(s.secret)
	if err != nil {
		return model.SessionToken{}, fmt.Errorf("auth: signing token: %w", err)
	}

	return model.SessionToken{Token: signed, IssuedAt: now, ExpiresAt: expires}, nil
}

// Validate verifies the signature, algorithm, issuer and expiry of a token
// and returns the user id from its "sub" claim.
//
// Passing jwt.WithValidMethods pins HS256, so a token whose header claims
// "none" or an RSA algorithm is rejected before the key is ever used.
func (s *TokenService) Validate(tokenStr string) (string, error) {
	token, err := jwt.ParseWithClaims(
		tokenStr,
		&jwt.RegisteredClaims{},
		func(*jwt.Token) (any, error) { return s.secret, nil },
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithIssuer(issuer),
		jwt.WithExpirationRequired(),
	)
	if err != nil {
		if errors.Is(err, jwt.ErrTokenExpired) {
			return "", ErrTokenExpired
		}
		return "", fmt.Errorf("auth: invalid token: %w", err)
	}

	c, ok := token.Claims.(*jwt.RegisteredClaims)
	if !ok || !token.Valid {
		return "", errors.New("auth: invalid token claims")
	}
	if c.Subject == "" {
		return "", errors.New("auth: token has no subject")
	}

	return c.Subject, nil
}
