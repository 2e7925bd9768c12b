package identity_test

import (
	"context"
	"strings"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"

	"github.com/Covault-Labs/covault/core/pkg/identity"
)

func newKeySet(t *testing.T) *identity.InMemoryKeySet {
	t.Helper()
	ks, err := identity.NewInMemoryKeySet()
	if err != nil {
		t.Fatalf("NewInMemoryKeySet: %v", err)
	}
	return ks
}

func TestIssueVerifyRoundTrip(t *testing.T) {
	ks := newKeySet(t)
	issuer := identity.NewIssuer(ks)
	verifier := identity.NewVerifier(ks)

	p := identity.Principal{Addr: "covault:addr:alice", Roles: []string{"operator"}}
	token, err := issuer.Issue(p, time.Hour)
	if err != nil {
		t.Fatalf("Issue: %v", err)
	}

	claims, err := verifier.Verify(token)
	if err != nil {
		t.Fatalf("Verify: %v", err)
	}
	if claims.Subject != "covault:addr:alice" {
		t.Errorf("subject = %q", claims.Subject)
	}
	got := claims.Principal()
	if got.Addr != p.Addr || !got.HasRole("operator") {
		t.Errorf("principal = %+v", got)
	}
}

func TestIssueEmptyAddr(t *testing.T) {
	issuer := identity.NewIssuer(newKeySet(t))
	if _, err := issuer.Issue(identity.Principal{}, time.Hour); err == nil {
		t.Fatal("expected an error for an empty address")
	}
}

func TestVerifyExpiredToken(t *testing.T) {
	ks := newKeySet(t)
	issuer := identity.NewIssuer(ks)
	verifier := identity.NewVerifier(ks)

	token, err := issuer.Issue(identity.Principal{Addr: "covault:addr:bob"}, -time.Minute)
	if err != nil {
		t.Fatalf("Issue: %v", err)
	}
	if _, err := verifier.Verify(token); err == nil {
		t.Fatal("expected an expired token to fail verification")
	}
}

func TestVerifyForeignKey(t *testing.T) {
	issuer := identity.NewIssuer(newKeySet(t))
	verifier := identity.NewVerifier(newKeySet(t)) // different keys

	token, err := issuer.Issue(identity.Principal{Addr: "covault:addr:carol"}, time.Hour)
	if err != nil {
		t.Fatalf("Issue: %v", err)
	}
	if _, err := verifier.Verify(token); err == nil {
		t.Fatal("expected a foreign-key token to fail verification")
	}
}

func TestVerifyMissingSubject(t *testing.T) {
	ks := newKeySet(t)
	verifier := identity.NewVerifier(ks)

	claims := identity.Claims{
		RegisteredClaims: jwt.RegisteredClaims{
			ExpiresAt: jwt.NewNumericDate(time.Now().Add(time.Hour)),
		},
	}
	token, err := ks.Sign(context.Background(), claims)
	if err != nil {
		t.Fatalf("Sign: %v", err)
	}
	_, err = verifier.Verify(token)
	if err == nil || !strings.Contains(err.Error(), "subject") {
		t.Fatalf("expected a missing-subject error, got %v", err)
	}
}

func TestVerifyNilVerifier(t *testing.T) {
	var v *identity.Verifier
	if _, err := v.Verify("anything"); err == nil {
		t.Fatal("nil verifier must refuse every token")
	}
	if identity.NewVerifier(nil) != nil {
		t.Fatal("NewVerifier(nil) should return nil")
	}
}

func TestRotationKeepsOldTokensVerifiable(t *testing.T) {
	ks := newKeySet(t)
	issuer := identity.NewIssuer(ks)
	verifier := identity.NewVerifier(ks)

	token, err := issuer.Issue(identity.Principal{Addr: "covault:addr:dora"}, time.Hour)
	if err != nil {
		t.Fatalf("Issue: %v", err)
	}
	if err := ks.Rotate(); err != nil {
		t.Fatalf("Rotate: %v", err)
	}
	if _, err := verifier.Verify(token); err != nil {
		t.Fatalf("token signed before rotation should still verify: %v", err)
	}

	// New tokens sign with the rotated key.
	token2, err := issuer.Issue(identity.Principal{Addr: "covault:addr:dora"}, time.Hour)
	if err != nil {
		t.Fatalf("Issue after rotate: %v", err)
	}
	if _, err := verifier.Verify(token2); err != nil {
		t.Fatalf("Verify after rotate: %v", err)
	}
}

func TestPrincipalContext(t *testing.T) {
	ctx := context.Background()
	if _, ok := identity.FromContext(ctx); ok {
		t.Fatal("empty context should carry no principal")
	}

	p := identity.Principal{Addr: "covault:addr:eve", Roles: []string{"auditor"}}
	ctx = identity.WithPrincipal(ctx, p)
	got, ok := identity.FromContext(ctx)
	if !ok {
		t.Fatal("principal should be present")
	}
	if got.Addr != p.Addr {
		t.Errorf("addr = %q", got.Addr)
	}
	if got.HasRole("operator") {
		t.Error("eve does not hold the operator role")
	}
}
