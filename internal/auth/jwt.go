// Package auth provides authentication primitives for ChronoBill: bcrypt
// password hashing for local accounts and JWT session token issue/verify.
// See internal/middleware/auth.go for the request-time authentication logic
// that uses these primitives.
package auth

import (
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

const (
	defaultSessionTTL = 12 * time.Hour
	defaultIssuer     = "chronobill"
	minSecretLength   = 32
)

// ErrInvalidToken covers every session token failure mode: malformed,
// expired, wrong signature, wrong algorithm, foreign issuer.
var ErrInvalidToken = errors.New("auth: invalid session token")

// Claims is the session token payload. UserID duplicates the registered
// Subject so handlers can read a named field instead of interpreting sub.
type Claims struct {
	UserID string `json:"user_id"`
	Email  string `json:"email"`
	Role   string `json:"role"`
	jwt.RegisteredClaims
}

// TokenManager issues and verifies the API's session tokens. The signing
// secret comes from configuration; there are no package-level globals so tests
// can run managers with different secrets side by side.
type TokenManager struct {
	secret []byte
	ttl    time.Duration
	issuer string
}

// NewTokenManager creates a TokenManager. ttl defaults to 12h and issuer to
// "chronobill" when zero values are given.
func NewTokenManager(secret string, ttl time.Duration, issuer string) (*TokenManager, error) {
	if secret == "" {
		return nil, errors.New("auth: jwt secret is required, generate one with: openssl rand -hex 32")
	}
	if len(secret) < minSecretLength {
		slog.Warn("jwt secret is shorter than recommended",
			"length", len(secret), "recommended", minSecretLength)
	}
	if ttl <= 0 {
		ttl = defaultSessionTTL
	}
	if issuer == "" {
		issuer = defaultIssuer
	}
	return &TokenManager{secret: []byte(secret), ttl: ttl, issuer: issuer}, nil
}

// Issue creates a signed session token for an authenticated user and returns
// it together with its expiry time.
func (m *TokenManager) Issue(userID, email, role string) (string, time.Time, error) {
	now := time.Now()
	expiresAt := now.Add(m.ttl)

	token := jwt.NewWithClaims(jwt.SigningMethodHS256, &Claims{
		UserID: userID,
		Email:  email,
		Role:   role,
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   userID,
			Issuer:    m.issuer,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(expiresAt),
		},
	})

	signed, err := token.SignedString(m.secret)
	if err != nil {
		return "", time.Time{}, err
	}
	return signed, expiresAt, nil
}

// Validate parses and verifies a session token, returning its claims. Only
// HS256 tokens from this manager's issuer with an expiry are accepted; every
// failure comes back as ErrInvalidToken wrapping the parser's error.
func (m *TokenManager) Validate(raw string) (*Claims, error) {
	claims := &Claims{}
	token, err := jwt.ParseWithClaims(raw, claims,
		func(*jwt.Token) (any, error) { return m.secret, nil },
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithIssuer(m.issuer),
		jwt.WithExpirationRequired(),
	)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidToken, err)
	}
	if !token.Valid {
		return nil, ErrInvalidToken
	}
	return claims, nil
}
