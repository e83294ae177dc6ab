package api

import (
	"errors"
	"strconv"
	"strings"
	"time"

	"sms-dispatch/internal/audit"
	"sms-dispatch/internal/auth"
	"sms-dispatch/internal/observability"
	"sms-dispatch/internal/store"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/recover"
	"github.com/gofiber/fiber/v2/middleware/requestid"
	"go.uber.org/zap"
)

// SetupMiddleware installs the outer chain: panic recovery, request ids,
// access logging plus metrics, and the audit outcome hook. Rate limiting
// and auth attach per route group.
func SetupMiddleware(app *fiber.App, logger *zap.Logger, metrics *observability.Metrics, recorder *audit.Recorder) {
	app.Use(recover.New(recover.Config{
		EnableStackTrace: true,
	}))

	app.Use(requestid.New())

	app.Use(func(c *fiber.Ctx) error {
		start := time.Now()

		err := c.Next()

		duration := time.Since(start)
		// Errors have not reached the error handler yet, so the response
		// status still reads 200 here; derive the real one.
		status := c.Response().StatusCode()
		if err != nil {
			status = fiber.StatusInternalServerError
			var fe *fiber.Error
			if errors.As(err, &fe) {
				status = fe.Code
			}
		}
		// The registered route pattern keeps label cardinality bounded.
		path := c.Route().Path

		logger.Info("http_request",
			zap.String("method", c.Method()),
			zap.String("path", c.Path()),
			zap.Int("status", status),
			zap.Duration("duration", duration),
			zap.String("request_id", c.GetRespHeader(fiber.HeaderXRequestID)))

		metrics.HTTPRequestsTotal.WithLabelValues(
			c.Method(), path, strconv.Itoa(status)).Inc()
		metrics.HTTPRequestDuration.WithLabelValues(
			c.Method(), path).Observe(duration.Seconds())

		recordOutcome(c, recorder, metrics, status)
		return err
	})
}

// recordOutcome appends an audit event for every call, categorized by its
// response status, so denials are captured uniformly no matter which handler
// produced them.
func recordOutcome(c *fiber.Ctx, recorder *audit.Recorder, metrics *observability.Metrics, status int) {
	var (
		eventType string
		severity  store.AuditSeverity
	)
	switch {
	case status == fiber.StatusUnauthorized:
		eventType, severity = audit.EventAuthFailed, store.AuditWarning
	case status == fiber.StatusForbidden:
		eventType, severity = audit.EventAccessDenied, store.AuditWarning
	case status == fiber.StatusTooManyRequests:
		eventType, severity = audit.EventSuspicious, store.AuditWarning
		metrics.RateLimitDenials.WithLabelValues(scopeForPath(c.Path())).Inc()
	case status >= 500:
		eventType, severity = audit.EventSystemError, store.AuditCritical
	default:
		eventType, severity = audit.EventAPICall, store.AuditInfo
	}

	clientIP := c.IP()
	endpoint := c.Method() + " " + c.Path()
	ev := &store.AuditEvent{
		Type:       eventType,
		Severity:   severity,
		ClientID:   &clientIP,
		Endpoint:   &endpoint,
		StatusCode: &status,
	}
	if identity, ok := auth.IdentityFromContext(c); ok {
		ev.OwnerID = &identity.OwnerID
	}
	recorder.Record(ev)
}

func scopeForPath(path string) string {
	switch {
	case strings.HasPrefix(path, "/api/v1/auth"):
		return string(store.ScopeAuth)
	case strings.HasPrefix(path, "/api/v1/admin"):
		return string(store.ScopeAdmin)
	default:
		return string(store.ScopeRequest)
	}
}
