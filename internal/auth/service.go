// Package auth issues and validates the opaque bearer tokens guarding the
// admission surface.
package auth

import (
	"context"
	"errors"
	"fmt"
	"time"

	"sms-dispatch/internal/store"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

// Permission strings the endpoints declare.
const (
	PermRead  = "sms:read"
	PermWrite = "sms:write"
	PermAdmin = "admin"
)

// DefaultTemporaryTTL applies when a temporary token is issued without one.
const DefaultTemporaryTTL = 24 * time.Hour

// ValidationError carries the reason a secret was rejected. The API maps
// every reason to 401; the reason feeds the audit trail.
type ValidationError struct {
	Reason string
}

func (e *ValidationError) Error() string { return "invalid token: " + e.Reason }

// Identity is the authenticated principal attached to a request.
type Identity struct {
	TokenID     uuid.UUID
	OwnerID     string
	Permissions []string
}

func (id *Identity) HasPermission(perm string) bool {
	for _, p := range id.Permissions {
		if p == perm {
			return true
		}
	}
	return false
}

type Service struct {
	store  *store.Store
	logger *zap.Logger
}

func NewService(st *store.Store, logger *zap.Logger) *Service {
	return &Service{store: st, logger: logger}
}

type IssueRequest struct {
	OwnerID     string
	Name        string
	Kind        store.TokenKind
	Permissions []string
	TTL         time.Duration
}

// Issue creates a token and returns the row together with the secret, the
// only time the secret exists outside the store.
func (s *Service) Issue(ctx context.Context, req IssueRequest) (*store.Token, string, error) {
	if req.OwnerID == "" {
		return nil, "", fmt.Errorf("ownerId is required")
	}
	if req.Kind == "" {
		req.Kind = store.TokenTemporary
	}
	if req.Kind != store.TokenTemporary && req.Kind != store.TokenPermanent {
		return nil, "", fmt.Errorf("unknown token kind %q", req.Kind)
	}
	if len(req.Permissions) == 0 {
		req.Permissions = []string{PermRead, PermWrite}
	}

	secret, selector, verifier, err := GenerateSecret()
	if err != nil {
		return nil, "", err
	}
	hash, err := HashVerifier(verifier)
	if err != nil {
		return nil, "", err
	}

	now := time.Now()
	token := &store.Token{
		ID:          uuid.New(),
		OwnerID:     req.OwnerID,
		Name:        req.Name,
		Selector:    selector,
		SecretHash:  hash,
		Permissions: req.Permissions,
		Kind:        req.Kind,
		CreatedAt:   now,
	}
	if req.Kind == store.TokenTemporary {
		ttl := req.TTL
		if ttl <= 0 {
			ttl = DefaultTemporaryTTL
		}
		expires := now.Add(ttl)
		token.ExpiresAt = &expires
	}

	if err := s.store.CreateToken(ctx, token); err != nil {
		return nil, "", err
	}
	return token, secret, nil
}

// Validate resolves a presented secret to an identity or a reason.
func (s *Service) Validate(ctx context.Context, secret string) (*Identity, error) {
	selector, verifier, err := SplitSecret(secret)
	if err != nil {
		return nil, &ValidationError{Reason: "malformed secret"}
	}

	token, err := s.store.GetTokenBySelector(ctx, selector)
	if errors.Is(err, store.ErrNotFound) {
		return nil, &ValidationError{Reason: "unknown token"}
	}
	if err != nil {
		return nil, err
	}

	switch {
	case token.Revoked:
		return nil, &ValidationError{Reason: "revoked"}
	case token.Expired(time.Now()):
		return nil, &ValidationError{Reason: "expired"}
	case !VerifySecret(token.SecretHash, verifier):
		return nil, &ValidationError{Reason: "bad secret"}
	}

	if err := s.store.TouchTokenUsed(ctx, token.ID, time.Now()); err != nil {
		s.logger.Warn("failed to record token use", zap.Error(err))
	}

	return &Identity{
		TokenID:     token.ID,
		OwnerID:     token.OwnerID,
		Permissions: token.Permissions,
	}, nil
}

// ResolveOwner maps a secret to its owner by selector lookup alone, without
// the argon2 verification. Only suitable for rate-limit keying; never for
// authentication.
func (s *Service) ResolveOwner(ctx context.Context, secret string) (string, bool) {
	selector, _, err := SplitSecret(secret)
	if err != nil {
		return "", false
	}
	token, err := s.store.GetTokenBySelector(ctx, selector)
	if err != nil {
		return "", false
	}
	return token.OwnerID, true
}

// Revoke revokes a token belonging to ownerID.
func (s *Service) Revoke(ctx context.Context, id uuid.UUID, ownerID string) error {
	return s.store.RevokeToken(ctx, id, ownerID)
}

// Renew extends a temporary token by ttl from now.
func (s *Service) Renew(ctx context.Context, id uuid.UUID, ownerID string, ttl time.Duration) (time.Time, error) {
	if ttl <= 0 {
		ttl = DefaultTemporaryTTL
	}
	expires := time.Now().Add(ttl)
	if err := s.store.RenewToken(ctx, id, ownerID, expires); err != nil {
		return time.Time{}, err
	}
	return expires, nil
}
