// Package auth provides JWT handling for the analytics read side.
package auth

import (
	"errors"
	"slices"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

// Token type for the typ claim.
const TokenTypeAnalytics = "analytics"

// Roles that may read story analytics.
const (
	RoleAnalyst = "analyst"
	RoleAdmin   = "admin"
)

// DefaultTokenExpiry is the lifetime of issued analytics tokens.
const DefaultTokenExpiry = time.Hour

// Default leeway for token validation.
const DefaultLeeway = 30 * time.Second

var (
	// ErrInvalidToken is returned when token validation fails.
	ErrInvalidToken = errors.New("invalid token")
	// ErrExpiredToken is returned when the token has expired.
	ErrExpiredToken = errors.New("token has expired")
	// ErrEmptySubject is returned when the subject is empty.
	ErrEmptySubject = errors.New("subject cannot be empty")
	// ErrInvalidRole is returned for roles outside RoleAnalyst and RoleAdmin.
	ErrInvalidRole = errors.New("invalid role")
)

// Claims are the JWT claims of an analytics token.
type Claims struct {
	jwt.RegisteredClaims
	Role string `json:"role"`
	// Stories restricts an analyst to these story ids. Empty means all.
	Stories []string `json:"stories,omitempty"`
	Type    string   `json:"typ"`
}

// CanRead reports whether the claims grant access to storyID.
func (c *Claims) CanRead(storyID string) bool {
	switch c.Role {
	case RoleAdmin:
		return true
	case RoleAnalyst:
		return len(c.Stories) == 0 || slices.Contains(c.Stories, storyID)
	}
	return false
}

// JWTService handles JWT token operations.
// Supports dual-key rotation: tokens are signed with currentSecret,
// but can be validated with either currentSecret or previousSecret.
type JWTService struct {
	currentSecret  []byte
	previousSecret []byte
	leeway         time.Duration
	expiry         time.Duration
}

// NewJWTService creates a new JWTService with a single secret.
func NewJWTService(secret string) *JWTService {
	return NewJWTServiceWithRotation(secret, "")
}

// NewJWTServiceWithRotation creates a JWTService with dual-key support for
// zero-downtime rotation. Set previousSecret to "" if no rotation is in progress.
func NewJWTServiceWithRotation(currentSecret, previousSecret string) *JWTService {
	return NewJWTServiceWithRotationAndLeeway(currentSecret, previousSecret, DefaultLeeway)
}

// NewJWTServiceWithRotationAndLeeway creates a JWTService with dual-key support and custom leeway.
func NewJWTServiceWithRotationAndLeeway(currentSecret, previousSecret string, leeway time.Duration) *JWTService {
	svc := &JWTService{
		currentSecret: []byte(currentSecret),
		leeway:        leeway,
		expiry:        DefaultTokenExpiry,
	}
	if previousSecret != "" {
		svc.previousSecret = []byte(previousSecret)
	}
	return svc
}

// GenerateToken issues an analytics token for subject.
func (s *JWTService) GenerateToken(subject, role string, stories []string) (string, error) {
	if subject == "" {
		return "", ErrEmptySubject
	}
	if role != RoleAnalyst && role != RoleAdmin {
		return "", ErrInvalidRole
	}

	now := time.Now()
	claims := Claims{
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   subject,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(s.expiry)),
		},
		Role:    role,
		Stories: stories,
		Type:    TokenTypeAnalytics,
	}

	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	return token.SignedString(s.currentSecret)
}

// ValidateToken parses and validates a JWT token, returning the claims if valid.
// It tries currentSecret first, then previousSecret if available.
func (s *JWTService) ValidateToken(tokenString string) (*Claims, error) {
	claims, err := s.parse(tokenString, s.currentSecret)
	if err != nil && s.previousSecret != nil {
		claims, err = s.parse(tokenString, s.previousSecret)
	}
	if err != nil {
		if errors.Is(err, jwt.ErrTokenExpired) {
			return nil, ErrExpiredToken
		}
		return nil, ErrInvalidToken
	}
	if claims.Type != TokenTypeAnalytics {
		return nil, ErrInvalidToken
	}
	return claims, nil
}

func (s *JWTService) parse(tokenString string, secret []byte) (*Claims, error) {
	token, err := jwt.ParseWithClaims(tokenString, &Claims{}, func(token *jwt.Token) (interface{}, error) {
		if token.Method.Alg() != jwt.SigningMethodHS256.Alg() {
			return nil, ErrInvalidToken
		}
		return secret, nil
	}, jwt.WithLeeway(s.leeway))
	if err != nil {
		return nil, err
	}
	claims, ok := token.Claims.(*Claims)
	if !ok || !token.Valid {
		return nil, ErrInvalidToken
	}
	return claims, nil
}
