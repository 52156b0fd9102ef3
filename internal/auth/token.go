package auth

import (
	"errors"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"

	"github.com/dripline/dripline/internal/config"
)

// PurposeUnsubscribe is the only purpose this service issues or accepts.
const PurposeUnsubscribe = "unsubscribe"

// DefaultUnsubscribeTTL keeps links usable for mail clients that re-fetch
// old messages weeks later.
const DefaultUnsubscribeTTL = 30 * 24 * time.Hour

// Token verification errors
var (
	ErrTokenExpired    = errors.New("unsubscribe token expired")
	ErrTokenInvalid    = errors.New("unsubscribe token invalid")
	ErrPurposeMismatch = errors.New("token purpose mismatch")
)

// UnsubscribeClaims represents the claims in an unsubscribe token.
type UnsubscribeClaims struct {
	jwt.RegisteredClaims
	Email   string `json:"email"`
	Purpose string `json:"purpose"`
}

// UnsubscribeTokenService issues and verifies signed unsubscribe links.
type UnsubscribeTokenService struct {
	secret   []byte
	issuer   string
	audience string
	ttl      time.Duration
	now      func() time.Time
}

// NewUnsubscribeTokenService creates a new UnsubscribeTokenService.
func NewUnsubscribeTokenService(cfg config.UnsubscribeConfig) (*UnsubscribeTokenService, error) {
	if cfg.Secret == "" {
		return nil, fmt.Errorf("unsubscribe token secret is required")
	}
	if cfg.Issuer == "" || cfg.Audience == "" {
		return nil, fmt.Errorf("unsubscribe token issuer and audience are required")
	}
	ttl := cfg.TokenTTL
	if ttl <= 0 {
		ttl = DefaultUnsubscribeTTL
	}
	return &UnsubscribeTokenService{
		secret:   []byte(cfg.Secret),
		issuer:   cfg.Issuer,
		audience: cfg.Audience,
		ttl:      ttl,
		now:      time.Now,
	}, nil
}

// SetClock overrides the time source. Intended for tests.
func (s *UnsubscribeTokenService) SetClock(now func() time.Time) {
	s.now = now
}

// Issue creates a signed unsubscribe token for email.
func (s *UnsubscribeTokenService) Issue(email string) (string, error) {
	return s.issue(NormalizeEmail(email), PurposeUnsubscribe)
}

func (s *UnsubscribeTokenService) issue(email, purpose string) (string, error) {
	if email == "" {
		return "", fmt.Errorf("email is required")
	}
	now := s.now()
	claims := UnsubscribeClaims{
		RegisteredClaims: jwt.RegisteredClaims{
			Issuer:    s.issuer,
			Subject:   email,
			Audience:  jwt.ClaimStrings{s.audience},
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(s.ttl)),
			ID:        uuid.New().String(),
		},
		Email:   email,
		Purpose: purpose,
	}

	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	signed, err := token.SignedString(s.secret)
	if err != nil {
		return "", fmt.Errorf("failed to sign unsubscribe token: %w", err)
	}
	return signed, nil
}

// Verify validates an unsubscribe token and returns its claims.
func (s *UnsubscribeTokenService) Verify(tokenString string) (*UnsubscribeClaims, error) {
	token, err := jwt.ParseWithClaims(tokenString, &UnsubscribeClaims{}, func(token *jwt.Token) (interface{}, error) {
		return s.secret, nil
	},
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithIssuer(s.issuer),
		jwt.WithAudience(s.audience),
		jwt.WithExpirationRequired(),
		jwt.WithTimeFunc(s.now),
	)
	if err != nil {
		if errors.Is(err, jwt.ErrTokenExpired) {
			return nil, ErrTokenExpired
		}
		return nil, fmt.Errorf("%w: %v", ErrTokenInvalid, err)
	}

	claims, ok := token.Claims.(*UnsubscribeClaims)
	if !ok || !token.Valid || claims.Email == "" {
		return nil, ErrTokenInvalid
	}
	if claims.Purpose != PurposeUnsubscribe {
		return nil, ErrPurposeMismatch
	}

	claims.Email = NormalizeEmail(claims.Email)
	return claims, nil
}
