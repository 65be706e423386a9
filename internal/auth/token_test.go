package auth

import (
	"errors"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

func mintToken(t *testing.T, claims Claims) string {
	t.Helper()
	token, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString([]byte("test-secret"))
	if err != nil {
		t.Fatalf("sign token: %v", err)
	}
	return token
}

func TestParseCredential(t *testing.T) {
	exp := time.Now().Add(time.Hour).Truncate(time.Second)
	token := mintToken(t, Claims{
		UserID:      "u1",
		DisplayName: "alice",
		RegisteredClaims: jwt.RegisteredClaims{
			ExpiresAt: jwt.NewNumericDate(exp),
		},
	})

	id, err := ParseCredential(token)
	if err != nil {
		t.Fatalf("ParseCredential: %v", err)
	}
	if id.ID != "u1" || id.DisplayName != "alice" {
		t.Fatalf("identity = %+v", id)
	}
	if !id.ExpiresAt.Equal(exp) {
		t.Fatalf("expiry = %v, want %v", id.ExpiresAt, exp)
	}
}

func TestParseCredentialDisplayNameDefaultsToID(t *testing.T) {
	token := mintToken(t, Claims{UserID: "u1"})

	id, err := ParseCredential(token)
	if err != nil {
		t.Fatalf("ParseCredential: %v", err)
	}
	if id.DisplayName != "u1" {
		t.Fatalf("display name = %q, want user id fallback", id.DisplayName)
	}
}

func TestParseCredentialExpired(t *testing.T) {
	token := mintToken(t, Claims{
		UserID: "u1",
		RegisteredClaims: jwt.RegisteredClaims{
			ExpiresAt: jwt.NewNumericDate(time.Now().Add(-time.Minute)),
		},
	})

	_, err := ParseCredential(token)
	if !errors.Is(err, ErrCredentialExpired) {
		t.Fatalf("ParseCredential = %v, want ErrCredentialExpired", err)
	}
}

func TestParseCredentialRejectsGarbage(t *testing.T) {
	for _, token := range []string{"", "not-a-jwt", "a.b"} {
		if _, err := ParseCredential(token); err == nil {
			t.Fatalf("ParseCredential(%q) succeeded", token)
		}
	}
}

func TestParseCredentialRequiresUserID(t *testing.T) {
	token := mintToken(t, Claims{DisplayName: "ghost"})

	if _, err := ParseCredential(token); err == nil {
		t.Fatal("ParseCredential accepted a token without a user id")
	}
}
