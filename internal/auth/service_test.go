package auth

import (
	"context"
	"errors"
	"path/filepath"
	"testing"
	"time"

	"sms-dispatch/internal/store"

	"go.uber.org/zap"
)

func newTestService(t *testing.T) *Service {
	t.Helper()

	path := filepath.Join(t.TempDir(), "test.db")
	st, err := store.Open(context.Background(), path, zap.NewNop())
	if err != nil {
		t.Fatalf("failed to open store: %v", err)
	}
	t.Cleanup(func() { st.Close() })
	if err := st.RunMigrations("../../migrations"); err != nil {
		t.Fatalf("failed to run migrations: %v", err)
	}
	return NewService(st, zap.NewNop())
}

func TestIssueAndValidate(t *testing.T) {
	svc := newTestService(t)
	ctx := context.Background()

	token, secret, err := svc.Issue(ctx, IssueRequest{
		OwnerID:     "alice",
		Name:        "ci",
		Kind:        store.TokenPermanent,
		Permissions: []string{PermRead, PermWrite},
	})
	if err != nil {
		t.Fatalf("failed to issue: %v", err)
	}
	if token.ExpiresAt != nil {
		t.Error("permanent token must not expire")
	}

	identity, err := svc.Validate(ctx, secret)
	if err != nil {
		t.Fatalf("failed to validate: %v", err)
	}
	if identity.OwnerID != "alice" || identity.TokenID != token.ID {
		t.Errorf("identity mismatch: %+v", identity)
	}
	if !identity.HasPermission(PermWrite) || identity.HasPermission(PermAdmin) {
		t.Error("permission set mismatch")
	}
}

func TestIssueDefaults(t *testing.T) {
	svc := newTestService(t)

	token, _, err := svc.Issue(context.Background(), IssueRequest{OwnerID: "bob"})
	if err != nil {
		t.Fatalf("failed to issue: %v", err)
	}
	if token.Kind != store.TokenTemporary {
		t.Errorf("default kind = %s, want TEMPORARY", token.Kind)
	}
	if token.ExpiresAt == nil {
		t.Fatal("temporary token must carry an expiry")
	}
	ttl := time.Until(*token.ExpiresAt)
	if ttl < DefaultTemporaryTTL-time.Minute || ttl > DefaultTemporaryTTL {
		t.Errorf("default TTL = %v, want ~%v", ttl, DefaultTemporaryTTL)
	}
	if len(token.Permissions) != 2 {
		t.Errorf("default permissions = %v", token.Permissions)
	}

	if _, _, err := svc.Issue(context.Background(), IssueRequest{}); err == nil {
		t.Error("expected missing ownerId to be rejected")
	}
	if _, _, err := svc.Issue(context.Background(), IssueRequest{OwnerID: "x", Kind: "ETERNAL"}); err == nil {
		t.Error("expected unknown kind to be rejected")
	}
}

func TestValidateRejections(t *testing.T) {
	svc := newTestService(t)
	ctx := context.Background()

	assertReason := func(t *testing.T, err error, want string) {
		t.Helper()
		var ve *ValidationError
		if !errors.As(err, &ve) {
			t.Fatalf("expected ValidationError, got %v", err)
		}
		if ve.Reason != want {
			t.Errorf("reason = %q, want %q", ve.Reason, want)
		}
	}

	_, err := svc.Validate(ctx, "garbage!!!")
	assertReason(t, err, "malformed secret")

	// A well-formed secret with no matching row.
	orphan, _, _, err := GenerateSecret()
	if err != nil {
		t.Fatal(err)
	}
	_, err = svc.Validate(ctx, orphan)
	assertReason(t, err, "unknown token")

	// Revoked.
	token, secret, err := svc.Issue(ctx, IssueRequest{OwnerID: "alice"})
	if err != nil {
		t.Fatal(err)
	}
	if err := svc.Revoke(ctx, token.ID, "alice"); err != nil {
		t.Fatal(err)
	}
	_, err = svc.Validate(ctx, secret)
	assertReason(t, err, "revoked")

	// Expired.
	_, expiredSecret, err := svc.Issue(ctx, IssueRequest{OwnerID: "bob", TTL: time.Nanosecond})
	if err != nil {
		t.Fatal(err)
	}
	time.Sleep(10 * time.Millisecond)
	_, err = svc.Validate(ctx, expiredSecret)
	assertReason(t, err, "expired")
}

func TestValidateBadVerifier(t *testing.T) {
	svc := newTestService(t)
	ctx := context.Background()

	_, secret, err := svc.Issue(ctx, IssueRequest{OwnerID: "alice", Kind: store.TokenPermanent})
	if err != nil {
		t.Fatal(err)
	}

	// Same selector, different verifier: flip a character in the tail.
	tampered := []byte(secret)
	last := len(tampered) - 1
	if tampered[last] == 'A' {
		tampered[last] = 'B'
	} else {
		tampered[last] = 'A'
	}

	_, err = svc.Validate(ctx, string(tampered))
	var ve *ValidationError
	if !errors.As(err, &ve) || ve.Reason != "bad secret" {
		t.Errorf("expected bad secret rejection, got %v", err)
	}
}

func TestRenewExtendsTemporary(t *testing.T) {
	svc := newTestService(t)
	ctx := context.Background()

	token, secret, err := svc.Issue(ctx, IssueRequest{OwnerID: "carol", TTL: time.Hour})
	if err != nil {
		t.Fatal(err)
	}

	expires, err := svc.Renew(ctx, token.ID, "carol", 48*time.Hour)
	if err != nil {
		t.Fatalf("failed to renew: %v", err)
	}
	if time.Until(expires) < 47*time.Hour {
		t.Errorf("renewal expiry too soon: %v", expires)
	}
	if _, err := svc.Validate(ctx, secret); err != nil {
		t.Errorf("renewed token must validate: %v", err)
	}
}

func TestResolveOwner(t *testing.T) {
	svc := newTestService(t)
	ctx := context.Background()

	_, secret, err := svc.Issue(ctx, IssueRequest{OwnerID: "dave", Kind: store.TokenPermanent})
	if err != nil {
		t.Fatal(err)
	}

	owner, ok := svc.ResolveOwner(ctx, secret)
	if !ok || owner != "dave" {
		t.Errorf("ResolveOwner = %q, %v", owner, ok)
	}
	if _, ok := svc.ResolveOwner(ctx, "garbage"); ok {
		t.Error("malformed secret must not resolve")
	}
}
