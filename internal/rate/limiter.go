// Package rate enforces the per-client admission caps. Window state lives
// in the store so blocks survive restarts; this package is the HTTP-facing
// policy around it.
package rate

import (
	"context"
	"fmt"
	"strconv"
	"strings"
	"time"

	"sms-dispatch/internal/audit"
	"sms-dispatch/internal/store"

	"github.com/gofiber/fiber/v2"
	"go.uber.org/zap"
)

// OwnerResolver maps a presented bearer secret to its owner without a full
// validation, so the limiter can key authenticated traffic per owner.
type OwnerResolver interface {
	ResolveOwner(ctx context.Context, secret string) (string, bool)
}

type ScopeLimits struct {
	Limit  int
	Window time.Duration
}

type Limiter struct {
	store    *store.Store
	resolver OwnerResolver
	recorder *audit.Recorder
	logger   *zap.Logger
	limits   map[store.Scope]ScopeLimits
}

func NewLimiter(st *store.Store, resolver OwnerResolver, recorder *audit.Recorder, logger *zap.Logger, limits map[store.Scope]ScopeLimits) *Limiter {
	return &Limiter{store: st, resolver: resolver, recorder: recorder, logger: logger, limits: limits}
}

// Middleware guards a route group under one rate-limit scope. Limiter
// failures fail open: the request proceeds but the incident is audited.
func (l *Limiter) Middleware(scope store.Scope) fiber.Handler {
	limits := l.limits[scope]
	return func(c *fiber.Ctx) error {
		clientID := l.identify(c)

		decision, err := l.store.RateCheck(c.Context(), clientID, scope, limits.Limit, limits.Window)
		if err != nil {
			l.logger.Error("rate limiter unavailable, allowing request",
				zap.String("client", clientID), zap.Error(err))
			l.recorder.Record(&store.AuditEvent{
				Type:     audit.EventSystemError,
				Severity: store.AuditWarning,
				ClientID: &clientID,
				Payload:  map[string]any{"subsystem": "rate-limit", "error": err.Error()},
			})
			return c.Next()
		}

		c.Set("X-RateLimit-Limit", strconv.Itoa(decision.Limit))
		c.Set("X-RateLimit-Remaining", strconv.Itoa(decision.Remaining))
		c.Set("X-RateLimit-Reset", strconv.FormatInt(decision.Reset.Unix(), 10))

		if !decision.Allowed {
			if decision.Blocked {
				l.recorder.Record(&store.AuditEvent{
					Type:     audit.EventSecurityViolation,
					Severity: store.AuditWarning,
					ClientID: &clientID,
					Payload: map[string]any{
						"scope":        string(scope),
						"blockedUntil": decision.Reset.UTC(),
					},
				})
			}
			retryAfter := int(decision.RetryAfter.Seconds())
			if retryAfter < 1 {
				retryAfter = 1
			}
			c.Set(fiber.HeaderRetryAfter, strconv.Itoa(retryAfter))
			return fiber.NewError(fiber.StatusTooManyRequests,
				fmt.Sprintf("rate limit exceeded, retry in %ds", retryAfter))
		}
		return c.Next()
	}
}

// identify keys authenticated traffic by owner and the rest by remote IP.
func (l *Limiter) identify(c *fiber.Ctx) string {
	header := c.Get(fiber.HeaderAuthorization)
	if secret, ok := strings.CutPrefix(header, "Bearer "); ok && secret != "" {
		if owner, ok := l.resolver.ResolveOwner(c.Context(), secret); ok {
			return "user:" + owner
		}
	}
	return "ip:" + c.IP()
}
