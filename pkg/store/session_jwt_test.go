package store

import (
	"testing"
	"time"

	jwt "github.com/golang-jwt/jwt/v5"
)

func newTestJWTStore(t *testing.T, ttl time.Duration) *JWTSessionStore {
	t.Helper()
	s, err := NewJWTSessionStore("test-secret", ttl, JWTOptions{})
	if err != nil {
		t.Fatalf("NewJWTSessionStore: %v", err)
	}
	return s
}

func TestJWTSessionRoundTrip(t *testing.T) {
	s := newTestJWTStore(t, time.Minute)
	token, err := s.NewSession("user-1")
	if err != nil {
		t.Fatalf("NewSession: %v", err)
	}
	uid, ok, err := s.GetUserIDByToken(token)
	if err != nil {
		t.Fatalf("GetUserIDByToken: %v", err)
	}
	if !ok || uid != "user-1" {
		t.Fatalf("resolved %q ok=%v, want user-1", uid, ok)
	}
}

func TestJWTSessionRejectsGarbage(t *testing.T) {
	s := newTestJWTStore(t, time.Minute)
	if _, ok, err := s.GetUserIDByToken("not.a.jwt"); ok || err != nil {
		t.Fatalf("garbage token: ok=%v err=%v", ok, err)
	}
	if _, ok, _ := s.GetUserIDByToken(""); ok {
		t.Fatal("empty token accepted")
	}
}

func TestJWTSessionRejectsForeignSignature(t *testing.T) {
	s := newTestJWTStore(t, time.Minute)
	other, err := NewJWTSessionStore("other-secret", time.Minute, JWTOptions{})
	if err != nil {
		t.Fatalf("NewJWTSessionStore: %v", err)
	}
	token, err := other.NewSession("user-1")
	if err != nil {
		t.Fatalf("NewSession: %v", err)
	}
	if _, ok, _ := s.GetUserIDByToken(token); ok {
		t.Fatal("token signed with a different secret accepted")
	}
}

func TestJWTSessionExpiry(t *testing.T) {
	s := newTestJWTStore(t, time.Minute)

	// Hand-sign a token that expired beyond the validation leeway.
	past := time.Now().UTC().Add(-5 * time.Minute)
	claims := jwt.RegisteredClaims{
		Subject:   "user-1",
		Issuer:    "bookswap",
		Audience:  jwt.ClaimStrings{"bookswap-api"},
		ExpiresAt: jwt.NewNumericDate(past.Add(time.Minute)),
		IssuedAt:  jwt.NewNumericDate(past),
		NotBefore: jwt.NewNumericDate(past),
		ID:        "expired-1",
	}
	token, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString([]byte("test-secret"))
	if err != nil {
		t.Fatalf("sign token: %v", err)
	}
	if _, ok, _ := s.GetUserIDByToken(token); ok {
		t.Fatal("expired token accepted")
	}
}

func TestJWTSessionRevocation(t *testing.T) {
	s := newTestJWTStore(t, time.Minute)
	token, err := s.NewSession("user-1")
	if err != nil {
		t.Fatalf("NewSession: %v", err)
	}
	if err := s.DeleteSession(token); err != nil {
		t.Fatalf("DeleteSession: %v", err)
	}
	if _, ok, _ := s.GetUserIDByToken(token); ok {
		t.Fatal("revoked token accepted")
	}

	// Other sessions stay valid.
	second, err := s.NewSession("user-1")
	if err != nil {
		t.Fatalf("NewSession: %v", err)
	}
	if _, ok, _ := s.GetUserIDByToken(second); !ok {
		t.Fatal("unrevoked token rejected")
	}
}
