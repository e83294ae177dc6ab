package api

import (
	"time"

	"sms-dispatch/internal/audit"
	"sms-dispatch/internal/store"
	"sms-dispatch/internal/tunnel"

	"github.com/gofiber/fiber/v2"
	"go.uber.org/zap"
)

// ListAuditEvents handles GET /api/v1/admin/audit?limit=
func (h *Handlers) ListAuditEvents(c *fiber.Ctx) error {
	limit := c.QueryInt("limit", 100)
	events, err := h.store.ListAudit(c.Context(), limit)
	if err != nil {
		return storeError(err)
	}
	if events == nil {
		events = []*store.AuditEvent{}
	}
	return c.JSON(fiber.Map{"events": events, "dropped": h.recorder.Dropped()})
}

// RetentionSweep handles POST /api/v1/admin/retention/sweep: the same purge
// the daily job runs, triggered by an operator.
func (h *Handlers) RetentionSweep(c *fiber.Ctx) error {
	now := time.Now()
	cutoff := now.AddDate(0, 0, -h.retentionDays)

	purged, err := h.store.PurgeExpired(c.Context(), cutoff)
	if err != nil {
		return storeError(err)
	}
	tokens, err := h.store.CleanupExpiredTokens(c.Context(), now)
	if err != nil {
		return storeError(err)
	}

	h.recorder.Record(&store.AuditEvent{
		Type:     audit.EventRetentionSweep,
		Severity: store.AuditInfo,
		OwnerID:  ownerOf(c),
		Payload: map[string]any{
			"purgedMessages": purged,
			"purgedTokens":   tokens,
			"cutoff":         cutoff.UTC(),
			"trigger":        "operator",
		},
	})
	return c.JSON(fiber.Map{"purgedMessages": purged, "purgedTokens": tokens})
}

// StartTunnel handles POST /api/v1/admin/tunnel/start.
func (h *Handlers) StartTunnel(c *fiber.Ctx) error {
	var cfg tunnel.Config
	if err := c.BodyParser(&cfg); err != nil && len(c.Body()) > 0 {
		return fiber.NewError(fiber.StatusBadRequest, "invalid request body")
	}
	if err := h.tunnel.Start(cfg); err != nil {
		h.logger.Error("tunnel start failed", zap.Error(err))
		return fiber.NewError(fiber.StatusServiceUnavailable, "tunnel start failed")
	}
	return c.JSON(fiber.Map{"status": h.tunnel.Status()})
}

// StopTunnel handles POST /api/v1/admin/tunnel/stop.
func (h *Handlers) StopTunnel(c *fiber.Ctx) error {
	if err := h.tunnel.Stop(); err != nil {
		h.logger.Error("tunnel stop failed", zap.Error(err))
		return fiber.NewError(fiber.StatusServiceUnavailable, "tunnel stop failed")
	}
	return c.JSON(fiber.Map{"status": h.tunnel.Status()})
}

// TunnelStatus handles GET /api/v1/admin/tunnel/status.
func (h *Handlers) TunnelStatus(c *fiber.Ctx) error {
	return c.JSON(fiber.Map{"status": h.tunnel.Status()})
}
