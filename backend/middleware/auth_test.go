// Copyright (C) 2025 gathr.social <dev@gathr.social>
//
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
//
// This program is distributed in the hope that it will be useful,
// but WITHOUT ANY WARRANTY; without even the implied warranty of
// MERCHANTABILITY or FITNESS FOR A PARTICULAR PURPOSE.  See the
// GNU General Public License for more details.
//
// You should have received a copy of the GNU General Public License
// along with this program.  If not, see <https://www.gnu.org/licenses/>.

package middleware

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

func signToken(t *testing.T, secret, issuer, userID string, ttl time.Duration) string {
	t.Helper()
	claims := Claims{
		UserID: userID,
		RegisteredClaims: jwt.RegisteredClaims{
			Issuer:    issuer,
			ExpiresAt: jwt.NewNumericDate(time.Now().Add(ttl)),
			IssuedAt:  jwt.NewNumericDate(time.Now()),
		},
	}
	token, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString([]byte(secret))
	if err != nil {
		t.Fatalf("sign token: %v", err)
	}
	return token
}

func TestVerifyToken(t *testing.T) {
	v := NewVerifier("secret", "gathr.social")

	userID, err := v.VerifyToken(signToken(t, "secret", "gathr.social", "alice", time.Hour))
	if err != nil {
		t.Fatalf("valid token rejected: %v", err)
	}
	if userID != "alice" {
		t.Fatalf("wrong user id %q", userID)
	}

	if _, err := v.VerifyToken(signToken(t, "wrong", "gathr.social", "alice", time.Hour)); err == nil {
		t.Fatalf("forged signature accepted")
	}
	if _, err := v.VerifyToken(signToken(t, "secret", "someone-else", "alice", time.Hour)); err == nil {
		t.Fatalf("wrong issuer accepted")
	}
	if _, err := v.VerifyToken(signToken(t, "secret", "gathr.social", "alice", -time.Minute)); err == nil {
		t.Fatalf("expired token accepted")
	}
	if _, err := v.VerifyToken(signToken(t, "secret", "gathr.social", "", time.Hour)); err == nil {
		t.Fatalf("token without user_id accepted")
	}
}

func TestAuthMiddleware(t *testing.T) {
	v := NewVerifier("secret", "gathr.social")
	mw := NewAuthMiddleware(v)

	var gotUserID string
	handler := mw(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotUserID, _ = GetUserID(r)
	}))

	// No header
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, httptest.NewRequest("GET", "/", nil))
	if rec.Code != http.StatusUnauthorized {
		t.Fatalf("missing header should 401, got %d", rec.Code)
	}

	// Malformed header
	rec = httptest.NewRecorder()
	req := httptest.NewRequest("GET", "/", nil)
	req.Header.Set("Authorization", "Token abc")
	handler.ServeHTTP(rec, req)
	if rec.Code != http.StatusUnauthorized {
		t.Fatalf("malformed header should 401, got %d", rec.Code)
	}

	// Valid token
	rec = httptest.NewRecorder()
	req = httptest.NewRequest("GET", "/", nil)
	req.Header.Set("Authorization", "Bearer "+signToken(t, "secret", "gathr.social", "alice", time.Hour))
	handler.ServeHTTP(rec, req)
	if rec.Code != http.StatusOK {
		t.Fatalf("valid token should pass, got %d", rec.Code)
	}
	if gotUserID != "alice" {
		t.Fatalf("user id not in context, got %q", gotUserID)
	}
}
