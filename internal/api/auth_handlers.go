package api

import (
	"time"

	"sms-dispatch/internal/audit"
	"sms-dispatch/internal/auth"
	"sms-dispatch/internal/store"

	"github.com/gofiber/fiber/v2"
	"github.com/google/uuid"
)

type IssueTokenRequest struct {
	OwnerID     string   `json:"ownerId"`
	Name        string   `json:"name"`
	Kind        string   `json:"kind"`
	Permissions []string `json:"permissions"`
	TTLSeconds  int      `json:"ttlSeconds"`
}

type IssueTokenResponse struct {
	Token  *store.Token `json:"token"`
	Secret string       `json:"secret"`
}

// IssueToken handles POST /api/v1/auth/tokens. The endpoint is
// unauthenticated but sits behind the AUTH rate-limit scope; the secret in
// the response is shown exactly once.
func (h *Handlers) IssueToken(c *fiber.Ctx) error {
	var req IssueTokenRequest
	if err := c.BodyParser(&req); err != nil {
		return fiber.NewError(fiber.StatusBadRequest, "invalid request body")
	}
	if req.OwnerID == "" {
		return fiber.NewError(fiber.StatusBadRequest, "ownerId is required")
	}
	// Admin capability is never self-served.
	for _, p := range req.Permissions {
		if p == auth.PermAdmin {
			return fiber.NewError(fiber.StatusForbidden, "admin permission cannot be requested here")
		}
	}

	token, secret, err := h.authSvc.Issue(c.Context(), auth.IssueRequest{
		OwnerID:     req.OwnerID,
		Name:        req.Name,
		Kind:        store.TokenKind(req.Kind),
		Permissions: req.Permissions,
		TTL:         time.Duration(req.TTLSeconds) * time.Second,
	})
	if err != nil {
		return fiber.NewError(fiber.StatusBadRequest, err.Error())
	}

	h.recorder.Record(&store.AuditEvent{
		Type:     audit.EventTokenIssued,
		Severity: store.AuditInfo,
		OwnerID:  &token.OwnerID,
		Payload:  map[string]any{"tokenId": token.ID.String(), "kind": string(token.Kind)},
	})

	return c.Status(fiber.StatusCreated).JSON(IssueTokenResponse{Token: token, Secret: secret})
}

// RevokeToken handles DELETE /api/v1/auth/tokens/:id. Callers revoke their
// own tokens; admin tokens revoke anyone's.
func (h *Handlers) RevokeToken(c *fiber.Ctx) error {
	id, identity, err := tokenTarget(c)
	if err != nil {
		return err
	}

	ownerID := identity.OwnerID
	if identity.HasPermission(auth.PermAdmin) {
		token, err := h.store.GetToken(c.Context(), id)
		if err != nil {
			return storeError(err)
		}
		ownerID = token.OwnerID
	}

	if err := h.authSvc.Revoke(c.Context(), id, ownerID); err != nil {
		return storeError(err)
	}

	h.recorder.Record(&store.AuditEvent{
		Type:     audit.EventTokenRevoked,
		Severity: store.AuditWarning,
		OwnerID:  &identity.OwnerID,
		Payload:  map[string]any{"tokenId": id.String()},
	})
	return c.JSON(fiber.Map{"id": id, "revoked": true})
}

type RenewTokenRequest struct {
	TTLSeconds int `json:"ttlSeconds"`
}

// RenewToken handles POST /api/v1/auth/tokens/:id/renew. Only temporary,
// unrevoked tokens renew.
func (h *Handlers) RenewToken(c *fiber.Ctx) error {
	id, identity, err := tokenTarget(c)
	if err != nil {
		return err
	}
	var req RenewTokenRequest
	if err := c.BodyParser(&req); err != nil && len(c.Body()) > 0 {
		return fiber.NewError(fiber.StatusBadRequest, "invalid request body")
	}

	expires, err := h.authSvc.Renew(c.Context(), id, identity.OwnerID,
		time.Duration(req.TTLSeconds)*time.Second)
	if err != nil {
		return storeError(err)
	}
	return c.JSON(fiber.Map{"id": id, "expiresAt": expires})
}

func tokenTarget(c *fiber.Ctx) (uuid.UUID, *auth.Identity, error) {
	identity, ok := auth.IdentityFromContext(c)
	if !ok {
		return uuid.Nil, nil, fiber.NewError(fiber.StatusUnauthorized, "missing bearer token")
	}
	id, err := uuid.Parse(c.Params("id"))
	if err != nil {
		return uuid.Nil, nil, fiber.NewError(fiber.StatusBadRequest, "invalid token id")
	}
	return id, identity, nil
}
