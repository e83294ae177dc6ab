package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

type TokenKind string

const (
	TokenTemporary TokenKind = "TEMPORARY"
	TokenPermanent TokenKind = "PERMANENT"
)

// Token is an API token row. The secret itself exists outside the store
// only at creation time; SecretHash is an argon2id encoding.
type Token struct {
	ID          uuid.UUID  `json:"id"`
	OwnerID     string     `json:"ownerId"`
	Name        string     `json:"name"`
	Selector    string     `json:"-"`
	SecretHash  string     `json:"-"`
	Permissions []string   `json:"permissions"`
	Kind        TokenKind  `json:"kind"`
	ExpiresAt   *time.Time `json:"expiresAt,omitempty"`
	Revoked     bool       `json:"revoked"`
	LastUsedAt  *time.Time `json:"lastUsedAt,omitempty"`
	CreatedAt   time.Time  `json:"createdAt"`
}

// Expired reports whether the token has an expiry in the past.
func (t *Token) Expired(now time.Time) bool {
	return t.ExpiresAt != nil && now.After(*t.ExpiresAt)
}

func (s *Store) CreateToken(ctx context.Context, t *Token) error {
	perms, err := json.Marshal(t.Permissions)
	if err != nil {
		return fmt.Errorf("failed to encode permissions: %w", err)
	}

	var expiresAt any
	if t.ExpiresAt != nil {
		expiresAt = t.ExpiresAt.UTC()
	}

	_, err = s.db.ExecContext(ctx, `
		INSERT INTO api_tokens (id, owner_id, name, selector, secret_hash, permissions,
			kind, expires_at, revoked, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, 0, ?)`,
		t.ID.String(), t.OwnerID, t.Name, t.Selector, t.SecretHash, string(perms),
		t.Kind, expiresAt, t.CreatedAt.UTC())
	if err != nil {
		return fmt.Errorf("failed to create token: %w", err)
	}

	s.logger.Info("api token created",
		zap.String("id", t.ID.String()),
		zap.String("owner", t.OwnerID),
		zap.String("kind", string(t.Kind)))
	return nil
}

const tokenColumns = `id, owner_id, name, selector, secret_hash, permissions,
	kind, expires_at, revoked, last_used_at, created_at`

func scanToken(row interface{ Scan(...any) error }) (*Token, error) {
	var t Token
	var id, perms string
	err := row.Scan(&id, &t.OwnerID, &t.Name, &t.Selector, &t.SecretHash, &perms,
		&t.Kind, &t.ExpiresAt, &t.Revoked, &t.LastUsedAt, &t.CreatedAt)
	if err != nil {
		return nil, err
	}
	if t.ID, err = uuid.Parse(id); err != nil {
		return nil, fmt.Errorf("malformed token id %q: %w", id, err)
	}
	if err := json.Unmarshal([]byte(perms), &t.Permissions); err != nil {
		return nil, fmt.Errorf("malformed permissions for token %s: %w", id, err)
	}
	return &t, nil
}

// GetTokenBySelector looks a token up by the public half of its secret.
func (s *Store) GetTokenBySelector(ctx context.Context, selector string) (*Token, error) {
	t, err := scanToken(s.db.QueryRowContext(ctx,
		`SELECT `+tokenColumns+` FROM api_tokens WHERE selector = ?`, selector))
	if err == sql.ErrNoRows {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get token: %w", err)
	}
	return t, nil
}

func (s *Store) GetToken(ctx context.Context, id uuid.UUID) (*Token, error) {
	t, err := scanToken(s.db.QueryRowContext(ctx,
		`SELECT `+tokenColumns+` FROM api_tokens WHERE id = ?`, id.String()))
	if err == sql.ErrNoRows {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get token: %w", err)
	}
	return t, nil
}

// TouchTokenUsed records a successful validation.
func (s *Store) TouchTokenUsed(ctx context.Context, id uuid.UUID, now time.Time) error {
	_, err := s.db.ExecContext(ctx,
		`UPDATE api_tokens SET last_used_at = ? WHERE id = ?`, now.UTC(), id.String())
	return err
}

// RevokeToken revokes a token owned by ownerID. Revocation is permanent.
func (s *Store) RevokeToken(ctx context.Context, id uuid.UUID, ownerID string) error {
	res, err := s.db.ExecContext(ctx,
		`UPDATE api_tokens SET revoked = 1 WHERE id = ? AND owner_id = ?`,
		id.String(), ownerID)
	if err != nil {
		return fmt.Errorf("failed to revoke token: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	s.logger.Info("api token revoked", zap.String("id", id.String()), zap.String("owner", ownerID))
	return nil
}

// RenewToken extends a temporary, unrevoked token to expiresAt.
func (s *Store) RenewToken(ctx context.Context, id uuid.UUID, ownerID string, expiresAt time.Time) error {
	res, err := s.db.ExecContext(ctx, `
		UPDATE api_tokens SET expires_at = ?
		WHERE id = ? AND owner_id = ? AND kind = 'TEMPORARY' AND revoked = 0`,
		expiresAt.UTC(), id.String(), ownerID)
	if err != nil {
		return fmt.Errorf("failed to renew token: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return nil
}

// CleanupExpiredTokens drops temporary tokens past their expiry.
func (s *Store) CleanupExpiredTokens(ctx context.Context, now time.Time) (int64, error) {
	res, err := s.db.ExecContext(ctx,
		`DELETE FROM api_tokens WHERE expires_at IS NOT NULL AND expires_at < ?`, now.UTC())
	if err != nil {
		return 0, fmt.Errorf("failed to cleanup tokens: %w", err)
	}
	n, _ := res.RowsAffected()
	return n, nil
}
