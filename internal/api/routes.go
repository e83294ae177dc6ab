package api

import (
	"sms-dispatch/internal/auth"
	"sms-dispatch/internal/rate"
	"sms-dispatch/internal/store"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/adaptor"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// SetupRoutes wires the endpoint tree. Every group carries its rate-limit
// scope; everything except health, metrics and token issuance requires a
// bearer token.
func SetupRoutes(app *fiber.App, handlers *Handlers, authSvc *auth.Service, limiter *rate.Limiter, metricsEnabled bool) {
	if metricsEnabled {
		app.Get("/metrics", adaptor.HTTPHandler(promhttp.Handler()))
	}

	v1 := app.Group("/api/v1")

	v1.Get("/health", handlers.Health)

	authGroup := v1.Group("/auth", limiter.Middleware(store.ScopeAuth))
	authGroup.Post("/tokens", handlers.IssueToken)
	authGroup.Delete("/tokens/:id", authSvc.RequireBearer(), handlers.RevokeToken)
	authGroup.Post("/tokens/:id/renew", authSvc.RequireBearer(), handlers.RenewToken)

	// Pause/resume live under /sms but are operator actions: they ride the
	// ADMIN rate scope, so the limiter attaches per route here.
	requestScope := limiter.Middleware(store.ScopeRequest)
	adminScope := limiter.Middleware(store.ScopeAdmin)
	bearer := authSvc.RequireBearer()

	smsGroup := v1.Group("/sms")
	smsGroup.Post("/queue", requestScope, bearer, auth.RequirePermission(auth.PermWrite), handlers.QueueMessage)
	smsGroup.Post("/bulk", requestScope, bearer, auth.RequirePermission(auth.PermWrite), handlers.QueueBulk)
	smsGroup.Get("/status/:id", requestScope, bearer, auth.RequirePermission(auth.PermRead), handlers.GetStatus)
	smsGroup.Get("/history", requestScope, bearer, auth.RequirePermission(auth.PermRead), handlers.History)
	smsGroup.Delete("/cancel/:id", requestScope, bearer, auth.RequirePermission(auth.PermWrite), handlers.CancelMessage)
	smsGroup.Put("/:id/priority", requestScope, bearer, auth.RequirePermission(auth.PermWrite), handlers.UpdatePriority)
	smsGroup.Post("/queue/pause", adminScope, bearer, auth.RequirePermission(auth.PermAdmin), handlers.PauseQueue)
	smsGroup.Post("/queue/resume", adminScope, bearer, auth.RequirePermission(auth.PermAdmin), handlers.ResumeQueue)

	adminGroup := v1.Group("/admin", limiter.Middleware(store.ScopeAdmin),
		authSvc.RequireBearer(), auth.RequirePermission(auth.PermAdmin))
	adminGroup.Get("/audit", handlers.ListAuditEvents)
	adminGroup.Post("/retention/sweep", handlers.RetentionSweep)
	adminGroup.Post("/tunnel/start", handlers.StartTunnel)
	adminGroup.Post("/tunnel/stop", handlers.StopTunnel)
	adminGroup.Get("/tunnel/status", handlers.TunnelStatus)
}
