package infra

import (
	"context"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

func TestJWTService_RoundTrip(t *testing.T) {
	s, err := NewJWTService("secret", time.Minute)
	if err != nil {
		t.Fatalf("NewJWTService() error = %v", err)
	}
	raw, err := s.Issue("driver-1", "driver")
	if err != nil {
		t.Fatalf("Issue() error = %v", err)
	}
	tok, err := s.VerifyIDToken(context.Background(), raw)
	if err != nil {
		t.Fatalf("VerifyIDToken() error = %v", err)
	}
	if tok.UID != "driver-1" || tok.Role != "driver" {
		t.Fatalf("unexpected token %+v", tok)
	}
}

func TestJWTService_Rejects(t *testing.T) {
	s, _ := NewJWTService("secret", time.Minute)
	other, _ := NewJWTService("other", time.Minute)
	raw, _ := other.Issue("rider-1", "rider")
	if _, err := s.VerifyIDToken(context.Background(), raw); err == nil {
		t.Fatal("expected signature mismatch to fail")
	}

	expired, _ := NewJWTService("secret", time.Nanosecond)
	raw, _ = expired.Issue("rider-1", "rider")
	time.Sleep(time.Millisecond)
	if _, err := s.VerifyIDToken(context.Background(), raw); err == nil {
		t.Fatal("expected expired token to fail")
	}

	none := jwt.NewWithClaims(jwt.SigningMethodNone, &Claims{Role: "admin", RegisteredClaims: jwt.RegisteredClaims{Subject: "x", Issuer: jwtIssuer}})
	unsigned, _ := none.SignedString(jwt.UnsafeAllowNoneSignatureType)
	if _, err := s.VerifyIDToken(context.Background(), unsigned); err == nil {
		t.Fatal("expected alg=none to fail")
	}

	if _, err := NewJWTService("", time.Minute); err == nil {
		t.Fatal("expected empty secret to be rejected")
	}
}
