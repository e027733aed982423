// Package token mints the session tokens handed out after a successful
// authentication.
package token

import (
	"errors"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
)

const defaultExpiry = 15 * time.Minute

// Claims carries the authenticated identity inside the token.
type Claims struct {
	Tenant string   `json:"tenant,omitempty"`
	Roles  []string `json:"roles,omitempty"`
	jwt.RegisteredClaims
}

// Service signs and parses HS256 session tokens.
type Service struct {
	secret string
	issuer string
	expiry time.Duration
}

// Option configures a Service.
type Option func(*Service)

// WithIssuer sets the issuer claim.
func WithIssuer(issuer string) Option {
	return func(s *Service) {
		s.issuer = issuer
	}
}

// WithExpiry sets the token lifetime.
func WithExpiry(expiry time.Duration) Option {
	return func(s *Service) {
		s.expiry = expiry
	}
}

// NewService creates a token service signing with the given secret.
func NewService(secret string, opts ...Option) *Service {
	svc := &Service{
		secret: secret,
		issuer: "simple-membership",
		expiry: defaultExpiry,
	}
	for _, opt := range opts {
		opt(svc)
	}
	return svc
}

// Create signs a token for the authenticated account.
func (s *Service) Create(tenant, username string, roles []string) (string, error) {
	now := time.Now()
	claims := Claims{
		Tenant: tenant,
		Roles:  roles,
		RegisteredClaims: jwt.RegisteredClaims{
			ID:        uuid.NewString(),
			Subject:   username,
			Issuer:    s.issuer,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(s.expiry)),
		},
	}

	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	signed, err := token.SignedString([]byte(s.secret))
	if err != nil {
		return "", fmt.Errorf("failed to sign token: %w", err)
	}
	return signed, nil
}

// Parse verifies a token and returns its claims.
func (s *Service) Parse(tokenStr string) (*Claims, error) {
	var claims Claims
	token, err := jwt.ParseWithClaims(tokenStr, &claims, func(t *jwt.Token) (any, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method %v", t.Header["alg"])
		}
		return []byte(s.secret), nil
	})
	if err != nil {
		return nil, fmt.Errorf("failed to parse token: %w", err)
	}
	if !token.Valid {
		return nil, errors.New("invalid token")
	}
	return &claims, nil
}
