package auth

import (
	"encoding/base64"
	"errors"
	"strings"
	"testing"
	"time"
)

func newTestSigner(t *testing.T, secret string, now *time.Time, opts ...Option) *Signer {
	t.Helper()
	opts = append(opts, WithClock(func() time.Time { return *now }))
	signer, err := NewSigner(secret, ViewerAudience, opts...)
	if err != nil {
		t.Fatalf("NewSigner: %v", err)
	}
	return signer
}

func TestSignerRoundTrip(t *testing.T) {
	now := time.Unix(1700000000, 0)
	signer := newTestSigner(t, "secret", &now)

	token, err := signer.Issue("viewer-7", time.Minute)
	if err != nil {
		t.Fatalf("Issue: %v", err)
	}
	claims, err := signer.Verify(token)
	if err != nil {
		t.Fatalf("Verify returned error: %v", err)
	}
	if claims.Subject != "viewer-7" || claims.Audience != ViewerAudience || claims.ID == "" {
		t.Fatalf("unexpected claims: %+v", claims)
	}
	if !claims.ExpiresAt.Equal(now.Add(time.Minute)) {
		t.Fatalf("unexpected expiry %v", claims.ExpiresAt)
	}
}

func TestSignerRejectsExpiredToken(t *testing.T) {
	now := time.Unix(1700000000, 0)
	signer := newTestSigner(t, "secret", &now, WithLeeway(2*time.Second))
	token, err := signer.Issue("viewer-7", 10*time.Second)
	if err != nil {
		t.Fatalf("Issue: %v", err)
	}

	now = now.Add(11 * time.Second)
	if _, err := signer.Verify(token); err != nil {
		t.Fatalf("expected leeway to cover skew, got %v", err)
	}
	now = now.Add(2 * time.Second)
	if _, err := signer.Verify(token); !errors.Is(err, ErrExpiredToken) {
		t.Fatalf("expected ErrExpiredToken, got %v", err)
	}
}

func TestSignerRejectsForeignSignatureAndAudience(t *testing.T) {
	now := time.Unix(1700000000, 0)
	signer := newTestSigner(t, "secret", &now)
	other := newTestSigner(t, "other-secret", &now)
	token, err := other.Issue("viewer-7", time.Minute)
	if err != nil {
		t.Fatalf("Issue: %v", err)
	}
	if _, err := signer.Verify(token); !errors.Is(err, ErrInvalidToken) {
		t.Fatalf("expected ErrInvalidToken, got %v", err)
	}

	foreign, err := NewSigner("secret", "admin-console", WithClock(func() time.Time { return now }))
	if err != nil {
		t.Fatalf("NewSigner: %v", err)
	}
	token, err = foreign.Issue("viewer-7", time.Minute)
	if err != nil {
		t.Fatalf("Issue: %v", err)
	}
	if _, err := signer.Verify(token); !errors.Is(err, ErrWrongAudience) {
		t.Fatalf("expected ErrWrongAudience, got %v", err)
	}
}

func TestSignerRejectsMalformedTokens(t *testing.T) {
	now := time.Unix(1700000000, 0)
	signer := newTestSigner(t, "secret", &now)
	token, err := signer.Issue("viewer-7", time.Minute)
	if err != nil {
		t.Fatalf("Issue: %v", err)
	}
	parts := strings.Split(token, ".")
	noneHeader := base64.RawURLEncoding.EncodeToString([]byte(`{"alg":"none","typ":"JWT"}`))

	cases := map[string]string{
		"empty":          "",
		"two segments":   parts[0] + "." + parts[1],
		"bad signature":  parts[0] + "." + parts[1] + ".AAAA",
		"none algorithm": noneHeader + "." + parts[1] + "." + parts[2],
	}
	for name, candidate := range cases {
		if _, err := signer.Verify(candidate); !errors.Is(err, ErrInvalidToken) {
			t.Fatalf("%s: expected ErrInvalidToken, got %v", name, err)
		}
	}
}

func TestNewSignerRequiresSecret(t *testing.T) {
	if _, err := NewSigner("  ", ViewerAudience); err == nil {
		t.Fatal("expected empty secret to fail")
	}
}
