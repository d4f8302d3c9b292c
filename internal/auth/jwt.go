// Package auth issues and validates operator bearer tokens.
package auth

import (
	"errors"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

// Operator roles. Admins may additionally run retention operations.
const (
	RoleAdmin  = "admin"
	RoleWriter = "writer"
	RoleReader = "reader"
)

const issuer = "auditchain"

// Claims holds the JWT token payload. A token is scoped to one tenant chain.
type Claims struct {
	jwt.RegisteredClaims
	TenantID string `json:"tid"`
	Role     string `json:"role"`
}

var (
	// ErrInvalidToken is returned when a JWT cannot be parsed or has expired.
	ErrInvalidToken = errors.New("auth: invalid or expired token")
	ErrUnknownRole  = errors.New("auth: unknown role")
	ErrNoTenant     = errors.New("auth: tenant id is required")
)

// ValidRole reports whether role is one of the operator roles.
func ValidRole(role string) bool {
	switch role {
	case RoleAdmin, RoleWriter, RoleReader:
		return true
	}
	return false
}

// IssueToken creates a signed HS256 token for subject acting on tenantID.
func IssueToken(secret, subject, tenantID, role string, ttl time.Duration) (string, error) {
	if tenantID == "" {
		return "", fmt.Errorf("auth.IssueToken: %w", ErrNoTenant)
	}
	if !ValidRole(role) {
		return "", fmt.Errorf("auth.IssueToken: %w: %q", ErrUnknownRole, role)
	}

	now := time.Now()
	claims := Claims{
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   subject,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
			Issuer:    issuer,
		},
		TenantID: tenantID,
		Role:     role,
	}

	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)

	signed, err := token.SignedString([]byte(secret))
	if err != nil {
		return "", fmt.Errorf("auth.IssueToken: %w", err)
	}

	return signed, nil
}

// ValidateToken parses and validates a JWT token string. Returns the embedded claims.
func ValidateToken(secret, tokenString string) (*Claims, error) {
	claims := &Claims{}

	token, err := jwt.ParseWithClaims(tokenString, claims, func(_ *jwt.Token) (any, error) {
		return []byte(secret), nil
	}, jwt.WithValidMethods([]string{"HS256"}), jwt.WithIssuer(issuer))
	if err != nil {
		return nil, fmt.Errorf("auth.ValidateToken: %w", ErrInvalidToken)
	}

	if !token.Valid || claims.TenantID == "" || !ValidRole(claims.Role) {
		return nil, fmt.Errorf("auth.ValidateToken: %w", ErrInvalidToken)
	}

	return claims, nil
}
