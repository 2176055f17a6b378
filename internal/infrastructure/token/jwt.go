package token

import (
	"errors"
	"fmt"
	"time"

	"villa-auth/internal/domain"

	"github.com/golang-jwt/jwt/v5"
)

// JWTConfig holds backend token configuration.
type JWTConfig struct {
	Secret   string
	Issuer   string
	Audience string
	TTL      time.Duration
}

// backendClaims are the claims downstream villa services read.
type backendClaims struct {
	Email string `json:"email"`
	Name  string `json:"name,omitempty"`
	Role  string `json:"role"`
	Sid   string `json:"sid"`
	jwt.RegisteredClaims
}

// JWTIssuer signs backend tokens for verified identities.
// Implements domain.TokenIssuer.
type JWTIssuer struct {
	cfg JWTConfig
	now func() time.Time
}

// NewJWTIssuer creates a new JWT issuer.
func NewJWTIssuer(cfg JWTConfig) *JWTIssuer {
	return &JWTIssuer{cfg: cfg, now: time.Now}
}

// IssueBackendToken generates a signed HS256 token carrying the identity's role.
func (j *JWTIssuer) IssueBackendToken(identity *domain.Identity, sessionID string) (string, error) {
	if identity == nil {
		return "", fmt.Errorf("%w: identity is nil", domain.ErrTokenGeneration)
	}
	if j.cfg.Secret == "" {
		return "", fmt.Errorf("%w: secret not configured", domain.ErrTokenGeneration)
	}

	now := j.now()
	claims := backendClaims{
		Email: identity.Email,
		Name:  identity.DisplayName,
		Role:  string(identity.Role),
		Sid:   sessionID,
		RegisteredClaims: jwt.RegisteredClaims{
			Issuer:    j.cfg.Issuer,
			Audience:  jwt.ClaimStrings{j.cfg.Audience},
			Subject:   identity.ID,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(j.cfg.TTL)),
		},
	}

	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString([]byte(j.cfg.Secret))
	if err != nil {
		return "", errors.Join(domain.ErrTokenGeneration, err)
	}
	return signed, nil
}
