// Copyright 2026 Maksim Petrashin
// SPDX-License-Identifier: Apache-2.0

package trackserv

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/mpetrashin/tracklite/internal/auth"
)

func TestJWTGenerateAndValidate(t *testing.T) {
	jwtAuth := NewJWTAuth("test-secret")

	token, err := jwtAuth.GenerateToken("owner-1", time.Hour)
	if err != nil {
		t.Fatalf("GenerateToken failed: %v", err)
	}

	claims, err := jwtAuth.ValidateToken(token)
	if err != nil {
		t.Fatalf("ValidateToken failed: %v", err)
	}
	if claims.Subject != "owner-1" {
		t.Errorf("expected sub owner-1, got %q", claims.Subject)
	}
}

func TestJWTWrongSecretRejected(t *testing.T) {
	token, err := NewJWTAuth("secret-a").GenerateToken("owner-1", time.Hour)
	if err != nil {
		t.Fatalf("GenerateToken failed: %v", err)
	}

	if _, err := NewJWTAuth("secret-b").ValidateToken(token); err == nil {
		t.Fatal("expected validation to fail with wrong secret")
	}
}

func TestJWTExpiredTokenRejected(t *testing.T) {
	jwtAuth := NewJWTAuth("test-secret")

	token, err := jwtAuth.GenerateToken("owner-1", -time.Minute)
	if err != nil {
		t.Fatalf("GenerateToken failed: %v", err)
	}

	if _, err := jwtAuth.ValidateToken(token); err == nil {
		t.Fatal("expected validation to fail for expired token")
	}
}

func TestJWTOwnerIDFromRequest(t *testing.T) {
	jwtAuth := NewJWTAuth("test-secret")

	token, err := jwtAuth.GenerateToken("owner-1", time.Hour)
	if err != nil {
		t.Fatalf("GenerateToken failed: %v", err)
	}

	r := httptest.NewRequest(http.MethodGet, "/v1/records", nil)
	r.Header.Set("Authorization", "Bearer "+token)

	ownerID, err := jwtAuth.OwnerID(r)
	if err != nil {
		t.Fatalf("OwnerID failed: %v", err)
	}
	if ownerID != "owner-1" {
		t.Errorf("expected owner-1, got %q", ownerID)
	}
}

func TestJWTMissingAuthorizationHeader(t *testing.T) {
	jwtAuth := NewJWTAuth("test-secret")

	r := httptest.NewRequest(http.MethodGet, "/v1/records", nil)
	if _, err := jwtAuth.OwnerID(r); err == nil {
		t.Fatal("expected error for missing Authorization header")
	}

	r.Header.Set("Authorization", "Basic dXNlcjpwYXNz")
	if _, err := jwtAuth.OwnerID(r); err == nil {
		t.Fatal("expected error for non-bearer Authorization header")
	}
}

func TestJWTMiddlewareSetsOwnerContext(t *testing.T) {
	jwtAuth := NewJWTAuth("test-secret")

	token, err := jwtAuth.GenerateToken("owner-1", time.Hour)
	if err != nil {
		t.Fatalf("GenerateToken failed: %v", err)
	}

	var gotOwner string
	handler := jwtAuth.Middleware(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotOwner, _ = auth.GetOwnerID(r.Context())
	}))

	r := httptest.NewRequest(http.MethodGet, "/v1/records", nil)
	r.Header.Set("Authorization", "Bearer "+token)
	w := httptest.NewRecorder()
	handler.ServeHTTP(w, r)

	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", w.Code)
	}
	if gotOwner != "owner-1" {
		t.Errorf("expected owner-1 in context, got %q", gotOwner)
	}

	w = httptest.NewRecorder()
	handler.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/v1/records", nil))
	if w.Code != http.StatusUnauthorized {
		t.Errorf("expected 401 without token, got %d", w.Code)
	}
}
