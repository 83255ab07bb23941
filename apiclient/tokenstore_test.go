package apiclient

import (
	"errors"
	"path/filepath"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

func TestTokenStore_SetGetClear(t *testing.T) {
	s := NewTokenStore(nil, nil)

	if _, err := s.Token(); !errors.Is(err, ErrNoToken) {
		t.Errorf("Token() on empty store error = %v, want ErrNoToken", err)
	}

	if err := s.Set(NewToken("access-token-1", nil)); err != nil {
		t.Fatalf("Set() error = %v", err)
	}
	tok, err := s.Token()
	if err != nil {
		t.Fatalf("Token() error = %v", err)
	}
	if tok.AccessToken != "access-token-1" || tok.Type() != "Bearer" {
		t.Errorf("token = %+v", tok)
	}

	// Callers get a copy.
	tok.AccessToken = "mutated"
	if s.AccessToken() != "access-token-1" {
		t.Error("store exposed its internal token")
	}

	if err := s.Clear(); err != nil {
		t.Fatalf("Clear() error = %v", err)
	}
	if s.AccessToken() != "" {
		t.Error("Clear() left a token")
	}
}

func TestNewToken_ReadsJWTExpiry(t *testing.T) {
	exp := time.Now().Add(15 * time.Minute).Truncate(time.Second)
	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.RegisteredClaims{
		Subject:   "user-7",
		ExpiresAt: jwt.NewNumericDate(exp),
	}).SignedString([]byte("test-secret"))
	if err != nil {
		t.Fatalf("SignedString() error = %v", err)
	}

	tok := NewToken(signed, map[string]any{"role": "admin"})
	if !tok.Expiry.Equal(exp) {
		t.Errorf("Expiry = %v, want %v", tok.Expiry, exp)
	}
	user, ok := tok.Extra("user").(map[string]any)
	if !ok || user["role"] != "admin" {
		t.Errorf("user extra = %#v", tok.Extra("user"))
	}

	opaque := NewToken("not-a-jwt-token", nil)
	if !opaque.Expiry.IsZero() {
		t.Errorf("opaque token Expiry = %v, want zero", opaque.Expiry)
	}
	if opaque.Extra("user") != nil {
		t.Errorf("opaque token has user extra %#v", opaque.Extra("user"))
	}
}

func TestTokenStore_MirrorsToFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "tokens.json")
	mirror := NewFileStore(path, "https://shop.example.com")

	s := NewTokenStore(mirror, nil)
	if err := s.Set(NewToken("persisted-token", map[string]any{"id": 7.0})); err != nil {
		t.Fatalf("Set() error = %v", err)
	}

	reloaded := NewTokenStore(mirror, nil)
	tok, err := reloaded.Token()
	if err != nil {
		t.Fatalf("reloaded Token() error = %v", err)
	}
	if tok.AccessToken != "persisted-token" {
		t.Errorf("reloaded token = %q", tok.AccessToken)
	}
	if user, _ := tok.Extra("user").(map[string]any); user["id"] != 7.0 {
		t.Errorf("reloaded user = %#v", tok.Extra("user"))
	}

	if err := reloaded.Clear(); err != nil {
		t.Fatalf("Clear() error = %v", err)
	}
	if got := NewTokenStore(mirror, nil).AccessToken(); got != "" {
		t.Errorf("token after Clear = %q, want none", got)
	}
}

func TestTokenStore_SetEmptyClears(t *testing.T) {
	s := NewTokenStore(nil, nil)
	s.Set(NewToken("something-valid", nil))
	s.Set(nil)
	if s.AccessToken() != "" {
		t.Error("Set(nil) should clear the store")
	}
}

func TestValidateRefreshToken(t *testing.T) {
	tests := []struct {
		name    string
		token   string
		wantErr bool
	}{
		{name: "valid", token: "eyJhbGciOiJIUzI1NiJ9.e30.abc"},
		{name: "empty", token: "", wantErr: true},
		{name: "too short", token: "short", wantErr: true},
		{name: "whitespace", token: "abc def ghi jkl", wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := validateRefreshToken(tt.token)
			if (err != nil) != tt.wantErr {
				t.Errorf("validateRefreshToken(%q) error = %v, wantErr %v", tt.token, err, tt.wantErr)
			}
		})
	}
}
