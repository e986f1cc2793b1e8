package auth

import (
	"errors"
	"testing"
	"time"

	"github.com/ernie/gamehost/internal/domain"
	"github.com/golang-jwt/jwt/v5"
)

func TestPasswordHashing(t *testing.T) {
	hash, err := HashPassword("hunter22")
	if err != nil {
		t.Fatalf("HashPassword: %v", err)
	}
	if !CheckPassword("hunter22", hash) {
		t.Error("correct password rejected")
	}
	if CheckPassword("hunter23", hash) {
		t.Error("wrong password accepted")
	}
	if CheckPassword("hunter22", "") {
		t.Error("empty hash must never match")
	}
}

func TestGenerateAndValidateToken(t *testing.T) {
	svc := NewService("secret", time.Hour, 0)
	user := domain.User{ID: "u-1", Email: "a@example.com", Username: "alice", IsAdmin: true}

	token, expiresAt, err := svc.GenerateToken(user, "sess-1")
	if err != nil {
		t.Fatalf("GenerateToken: %v", err)
	}
	if d := time.Until(expiresAt); d < 59*time.Minute || d > time.Hour+time.Second {
		t.Errorf("expiresAt = %v from now, want ~1h", d)
	}

	claims, err := svc.ValidateToken(token)
	if err != nil {
		t.Fatalf("ValidateToken: %v", err)
	}
	if claims.UserID != "u-1" || claims.Username != "alice" || !claims.IsAdmin || claims.SessionID != "sess-1" {
		t.Errorf("unexpected claims %+v", claims)
	}
	if svc.RefreshDuration() != 30*24*time.Hour {
		t.Errorf("default refresh duration = %v", svc.RefreshDuration())
	}
}

func TestValidateTokenRejects(t *testing.T) {
	svc := NewService("secret", time.Minute, time.Hour)
	user := domain.User{ID: "u-1", Username: "alice"}
	token, _, err := svc.GenerateToken(user, "s")
	if err != nil {
		t.Fatal(err)
	}

	other := NewService("other-secret", time.Minute, time.Hour)
	if _, err := other.ValidateToken(token); err != ErrInvalidToken {
		t.Errorf("wrong secret: err = %v, want ErrInvalidToken", err)
	}

	svc.now = func() time.Time { return time.Now().Add(2 * time.Minute) }
	if _, err := svc.ValidateToken(token); err != ErrInvalidToken {
		t.Errorf("expired: err = %v, want ErrInvalidToken", err)
	}

	if _, err := svc.ValidateToken("not-a-jwt"); err != ErrInvalidToken {
		t.Errorf("garbage: err = %v, want ErrInvalidToken", err)
	}
}

func TestStateRoundTrip(t *testing.T) {
	svc := NewService("secret", time.Hour, time.Hour)

	state, err := svc.GenerateState("steam", "http://localhost:5173/dashboard")
	if err != nil {
		t.Fatalf("GenerateState: %v", err)
	}
	redirect, err := svc.ParseState(state, "steam")
	if err != nil {
		t.Fatalf("ParseState: %v", err)
	}
	if redirect != "http://localhost:5173/dashboard" {
		t.Errorf("redirect = %q", redirect)
	}

	if _, err := svc.ParseState(state, "discord"); err != ErrInvalidState {
		t.Errorf("provider mismatch: err = %v, want ErrInvalidState", err)
	}

	svc.now = func() time.Time { return time.Now().Add(11 * time.Minute) }
	if _, err := svc.ParseState(state, "steam"); err != ErrInvalidState {
		t.Errorf("expired state: err = %v, want ErrInvalidState", err)
	}
}

func TestRefreshTokensAreUnique(t *testing.T) {
	seen := map[string]bool{}
	for i := 0; i < 50; i++ {
		tok := NewRefreshToken()
		if seen[tok] {
			t.Fatalf("duplicate refresh token %q", tok)
		}
		seen[tok] = true
	}
}

func TestEmptySecretRejectsEverything(t *testing.T) {
	svc := NewService("", time.Hour, time.Hour)

	forged := Claims{
		UserID:  "attacker",
		IsAdmin: true,
		RegisteredClaims: jwt.RegisteredClaims{
			ExpiresAt: jwt.NewNumericDate(time.Now().Add(time.Hour)),
		},
	}
	token, err := jwt.NewWithClaims(jwt.SigningMethodHS256, forged).SignedString([]byte{})
	if err != nil {
		t.Fatalf("signing with empty key: %v", err)
	}
	if claims, err := svc.ValidateToken(token); err != ErrInvalidToken {
		t.Errorf("empty-key token accepted: claims=%+v err=%v", claims, err)
	}

	if _, _, err := svc.GenerateToken(domain.User{ID: "u-1"}, "s"); !errors.Is(err, ErrNoSecret) {
		t.Errorf("GenerateToken err = %v, want ErrNoSecret", err)
	}
	if _, err := svc.GenerateState("steam", ""); !errors.Is(err, ErrNoSecret) {
		t.Errorf("GenerateState err = %v, want ErrNoSecret", err)
	}
}
