package auth

import (
	"errors"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"

	"billingstack/pkg/models"
)

var (
	ErrInvalidJWT      = errors.New("invalid JWT token")
	ErrExpiredJWT      = errors.New("JWT token expired")
	ErrUnauthenticated = errors.New("authentication required")
)

// RoleAdmin grants access to reconciliation endpoints.
const RoleAdmin = "admin"

// Claims carries the caller identity inside a session token.
type Claims struct {
	UserID   string `json:"user_id"`
	TenantID string `json:"tenant_id"`
	Role     string `json:"role"`
	jwt.RegisteredClaims
}

// GenerateJWT signs an HS256 token valid for ttl.
func GenerateJWT(userID, tenantID, role string, ttl time.Duration, secret []byte) (string, error) {
	now := time.Now()
	claims := &Claims{
		UserID:   userID,
		TenantID: tenantID,
		Role:     role,
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   userID,
			ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
			IssuedAt:  jwt.NewNumericDate(now),
		},
	}
	return jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(secret)
}

// ValidateJWT checks signature and expiry and returns the claims. Tokens
// without a user id are rejected.
func ValidateJWT(tokenString string, secret []byte) (*Claims, error) {
	claims := &Claims{}
	_, err := jwt.ParseWithClaims(tokenString, claims, func(token *jwt.Token) (any, error) {
		if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method: %v", token.Header["alg"])
		}
		return secret, nil
	}, jwt.WithExpirationRequired())
	switch {
	case errors.Is(err, jwt.ErrTokenExpired):
		return nil, ErrExpiredJWT
	case err != nil, claims.UserID == "":
		return nil, ErrInvalidJWT
	}
	return claims, nil
}

// RequestContext is the caller identity the claims describe. Only the admin
// role grants admin.
func (c *Claims) RequestContext() models.RequestContext {
	return models.RequestContext{
		UserID:   c.UserID,
		TenantID: c.TenantID,
		Role:     c.Role,
		IsAdmin:  c.Role == RoleAdmin,
	}
}
