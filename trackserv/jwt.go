// Copyright 2026 Maksim Petrashin
// SPDX-License-Identifier: Apache-2.0

package trackserv

import (
	"fmt"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"

	"github.com/mpetrashin/tracklite/internal/auth"
)

// OwnerAuthenticator extracts the owner scope from an HTTP request.
// Implementations validate auth (e.g. JWT) and return the owner id all SQL
// is scoped by.
type OwnerAuthenticator interface {
	OwnerID(r *http.Request) (string, error)
}

// JWTAuth authenticates requests with an HMAC-signed bearer token whose
// standard sub claim carries the owner id.
type JWTAuth struct {
	secret []byte
}

// NewJWTAuth creates a JWT authenticator with the given shared secret.
func NewJWTAuth(secret string) *JWTAuth {
	return &JWTAuth{secret: []byte(secret)}
}

// GenerateToken issues a token for an owner. Used by tests and the dev
// sign-in endpoint; production deployments bring their own issuer.
func (j *JWTAuth) GenerateToken(ownerID string, expiration time.Duration) (string, error) {
	claims := &jwt.RegisteredClaims{
		ExpiresAt: jwt.NewNumericDate(time.Now().Add(expiration)),
		IssuedAt:  jwt.NewNumericDate(time.Now()),
		NotBefore: jwt.NewNumericDate(time.Now()),
		Issuer:    "tracklite",
		Subject:   ownerID,
	}
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	return token.SignedString(j.secret)
}

// ValidateToken validates a token and returns its claims.
func (j *JWTAuth) ValidateToken(tokenString string) (*jwt.RegisteredClaims, error) {
	token, err := jwt.ParseWithClaims(tokenString, &jwt.RegisteredClaims{}, func(token *jwt.Token) (interface{}, error) {
		if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method: %v", token.Header["alg"])
		}
		return j.secret, nil
	})
	if err != nil {
		return nil, err
	}

	if claims, ok := token.Claims.(*jwt.RegisteredClaims); ok && token.Valid {
		if claims.Subject == "" {
			return nil, fmt.Errorf("missing sub (owner id) in token")
		}
		return claims, nil
	}
	return nil, fmt.Errorf("invalid token")
}

// OwnerID extracts the owner id from the request's bearer token
// (implements OwnerAuthenticator).
func (j *JWTAuth) OwnerID(r *http.Request) (string, error) {
	authHeader := r.Header.Get("Authorization")
	if authHeader == "" {
		return "", fmt.Errorf("authorization header required")
	}

	tokenString := strings.TrimPrefix(authHeader, "Bearer ")
	if tokenString == authHeader {
		return "", fmt.Errorf("bearer token required")
	}

	claims, err := j.ValidateToken(tokenString)
	if err != nil {
		return "", fmt.Errorf("invalid token: %w", err)
	}
	return claims.Subject, nil
}

// Middleware returns an HTTP middleware that authenticates the request and
// stores the owner id in the request context.
func (j *JWTAuth) Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ownerID, err := j.OwnerID(r)
		if err != nil {
			slog.Debug("Request authentication failed", "error", err, "path", r.URL.Path)
			http.Error(w, "Invalid token", http.StatusUnauthorized)
			return
		}
		next.ServeHTTP(w, r.WithContext(auth.SetOwnerID(r.Context(), ownerID)))
	})
}
