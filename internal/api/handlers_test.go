package api

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"sms-dispatch/internal/audit"
	"sms-dispatch/internal/auth"
	"sms-dispatch/internal/dispatch"
	"sms-dispatch/internal/observability"
	"sms-dispatch/internal/rate"
	"sms-dispatch/internal/scheduler"
	"sms-dispatch/internal/sms"
	"sms-dispatch/internal/store"
	"sms-dispatch/internal/transmit"
	"sms-dispatch/internal/tunnel"

	"github.com/gofiber/fiber/v2"
	"go.uber.org/zap"
)

var testMetrics = observability.NewMetrics()

type testEnv struct {
	app   *fiber.App
	store *store.Store
	auth  *auth.Service

	writerSecret string
	readerSecret string
	adminSecret  string
}

var generousLimits = map[store.Scope]rate.ScopeLimits{
	store.ScopeRequest: {Limit: 10000, Window: time.Hour},
	store.ScopeAuth:    {Limit: 10000, Window: time.Hour},
	store.ScopeAdmin:   {Limit: 10000, Window: time.Hour},
}

func newTestEnv(t *testing.T, limits map[store.Scope]rate.ScopeLimits) *testEnv {
	t.Helper()

	logger := zap.NewNop()
	path := filepath.Join(t.TempDir(), "test.db")
	st, err := store.Open(context.Background(), path, logger)
	if err != nil {
		t.Fatalf("failed to open store: %v", err)
	}
	t.Cleanup(func() { st.Close() })
	if err := st.RunMigrations("../../migrations"); err != nil {
		t.Fatalf("failed to run migrations: %v", err)
	}

	recorder := audit.NewRecorder(st, logger, 64)
	recorder.Start()
	t.Cleanup(recorder.Close)

	authSvc := auth.NewService(st, logger)
	if limits == nil {
		limits = generousLimits
	}
	limiter := rate.NewLimiter(st, authSvc, recorder, logger, limits)

	mock := transmit.NewMock(logger, 1.0, 0, 0)
	dispatcher := dispatch.New(st, mock, recorder, testMetrics, logger, 1, time.Second)
	sched := scheduler.New(st, dispatcher, recorder, testMetrics, logger, time.Second, 8)

	handlers := NewHandlers(logger, st, sched, dispatcher, mock, tunnel.NewNoop(logger), authSvc, recorder, testMetrics, 90)

	app := fiber.New(fiber.Config{ErrorHandler: ErrorHandler(logger)})
	SetupMiddleware(app, logger, testMetrics, recorder)
	SetupRoutes(app, handlers, authSvc, limiter, false)

	env := &testEnv{app: app, store: st, auth: authSvc}
	env.writerSecret = env.issue(t, "writer", auth.PermRead, auth.PermWrite)
	env.readerSecret = env.issue(t, "reader", auth.PermRead)
	env.adminSecret = env.issue(t, "admin", auth.PermRead, auth.PermWrite, auth.PermAdmin)
	return env
}

func (e *testEnv) issue(t *testing.T, owner string, perms ...string) string {
	t.Helper()
	_, secret, err := e.auth.Issue(context.Background(), auth.IssueRequest{
		OwnerID:     owner,
		Kind:        store.TokenPermanent,
		Permissions: perms,
	})
	if err != nil {
		t.Fatalf("failed to issue token: %v", err)
	}
	return secret
}

func (e *testEnv) do(t *testing.T, method, path string, body any, secret string) *http.Response {
	t.Helper()

	var reader io.Reader
	if body != nil {
		raw, err := json.Marshal(body)
		if err != nil {
			t.Fatal(err)
		}
		reader = bytes.NewReader(raw)
	}
	req := httptest.NewRequest(method, path, reader)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if secret != "" {
		req.Header.Set("Authorization", "Bearer "+secret)
	}

	resp, err := e.app.Test(req, -1)
	if err != nil {
		t.Fatalf("%s %s failed: %v", method, path, err)
	}
	return resp
}

func decode[T any](t *testing.T, resp *http.Response) T {
	t.Helper()
	defer resp.Body.Close()
	var out T
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		t.Fatalf("failed to decode response: %v", err)
	}
	return out
}

func TestQueueMessage(t *testing.T) {
	env := newTestEnv(t, nil)

	resp := env.do(t, "POST", "/api/v1/sms/queue", QueueRequest{
		PhoneNumber: "+15551234567",
		Content:     "hello",
	}, env.writerSecret)
	if resp.StatusCode != fiber.StatusCreated {
		t.Fatalf("expected 201, got %d", resp.StatusCode)
	}

	msg := decode[sms.Message](t, resp)
	if msg.ID < 1 {
		t.Error("expected an assigned id")
	}
	if msg.Status != sms.StatusQueued {
		t.Errorf("expected QUEUED, got %s", msg.Status)
	}
	if msg.Priority != sms.PriorityNormal || msg.RetryStrategy != sms.RetryExponential {
		t.Errorf("expected defaults NORMAL/EXP, got %s/%s", msg.Priority, msg.RetryStrategy)
	}
	if msg.MaxRetries != sms.DefaultMaxRetries {
		t.Errorf("expected default maxRetries, got %d", msg.MaxRetries)
	}
}

func TestQueueMessageValidation(t *testing.T) {
	env := newTestEnv(t, nil)

	tests := []struct {
		name string
		req  QueueRequest
	}{
		{"bad phone", QueueRequest{PhoneNumber: "5551234567", Content: "x"}},
		{"empty content", QueueRequest{PhoneNumber: "+15551234567", Content: "  "}},
		{"bad priority", QueueRequest{PhoneNumber: "+15551234567", Content: "x", Priority: "SOON"}},
		{"bad strategy", QueueRequest{PhoneNumber: "+15551234567", Content: "x", RetryStrategy: "CHAOS"}},
		{"past appointment", QueueRequest{PhoneNumber: "+15551234567", Content: "x", AppointmentTime: "2020-01-01T00:00:00Z"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			resp := env.do(t, "POST", "/api/v1/sms/queue", tt.req, env.writerSecret)
			if resp.StatusCode != fiber.StatusBadRequest {
				t.Fatalf("expected 400, got %d", resp.StatusCode)
			}
			envelope := decode[ErrorResponse](t, resp)
			if envelope.Code != CodeValidation {
				t.Errorf("expected code VALIDATION, got %s", envelope.Code)
			}
		})
	}
}

func TestQueueWithAppointment(t *testing.T) {
	env := newTestEnv(t, nil)

	appointment := time.Now().Add(72 * time.Hour).UTC()
	resp := env.do(t, "POST", "/api/v1/sms/queue", QueueRequest{
		PhoneNumber:     "+15551234567",
		Content:         "appointment reminder",
		AppointmentTime: appointment.Format(time.RFC3339),
	}, env.writerSecret)
	if resp.StatusCode != fiber.StatusCreated {
		t.Fatalf("expected 201, got %d", resp.StatusCode)
	}

	msg := decode[sms.Message](t, resp)
	if msg.ScheduledAt == nil {
		t.Fatal("expected scheduledAt set")
	}
	want := appointment.Add(-24 * time.Hour)
	if diff := msg.ScheduledAt.Sub(want); diff < -time.Minute || diff > time.Minute {
		t.Errorf("scheduledAt = %v, want ~%v", msg.ScheduledAt, want)
	}
}

func TestAuthenticationRequired(t *testing.T) {
	env := newTestEnv(t, nil)

	resp := env.do(t, "GET", "/api/v1/sms/history", nil, "")
	if resp.StatusCode != fiber.StatusUnauthorized {
		t.Fatalf("expected 401 without token, got %d", resp.StatusCode)
	}
	envelope := decode[ErrorResponse](t, resp)
	if envelope.Code != CodeUnauthenticated {
		t.Errorf("expected code UNAUTHENTICATED, got %s", envelope.Code)
	}

	resp = env.do(t, "GET", "/api/v1/sms/history", nil, "bogus-secret")
	if resp.StatusCode != fiber.StatusUnauthorized {
		t.Errorf("expected 401 for a bad token, got %d", resp.StatusCode)
	}
}

func TestPermissionEnforced(t *testing.T) {
	env := newTestEnv(t, nil)

	resp := env.do(t, "POST", "/api/v1/sms/queue", QueueRequest{
		PhoneNumber: "+15551234567", Content: "x",
	}, env.readerSecret)
	if resp.StatusCode != fiber.StatusForbidden {
		t.Fatalf("expected 403 for read-only token, got %d", resp.StatusCode)
	}
	envelope := decode[ErrorResponse](t, resp)
	if envelope.Code != CodeForbidden {
		t.Errorf("expected code FORBIDDEN, got %s", envelope.Code)
	}

	// Pause needs admin, a writer token is not enough.
	resp = env.do(t, "POST", "/api/v1/sms/queue/pause", nil, env.writerSecret)
	if resp.StatusCode != fiber.StatusForbidden {
		t.Errorf("expected 403 for non-admin pause, got %d", resp.StatusCode)
	}
}

func TestGetStatus(t *testing.T) {
	env := newTestEnv(t, nil)

	created := decode[sms.Message](t, env.do(t, "POST", "/api/v1/sms/queue", QueueRequest{
		PhoneNumber: "+15551234567", Content: "status check",
	}, env.writerSecret))

	resp := env.do(t, "GET", "/api/v1/sms/status/1", nil, env.readerSecret)
	if resp.StatusCode != fiber.StatusOK {
		t.Fatalf("expected 200, got %d", resp.StatusCode)
	}
	got := decode[sms.Message](t, resp)
	if got.ID != created.ID || got.Content != "status check" {
		t.Errorf("unexpected message: %+v", got)
	}

	resp = env.do(t, "GET", "/api/v1/sms/status/9999", nil, env.readerSecret)
	if resp.StatusCode != fiber.StatusNotFound {
		t.Errorf("expected 404, got %d", resp.StatusCode)
	}
	resp = env.do(t, "GET", "/api/v1/sms/status/abc", nil, env.readerSecret)
	if resp.StatusCode != fiber.StatusBadRequest {
		t.Errorf("expected 400 for non-numeric id, got %d", resp.StatusCode)
	}
}

func TestCancelFlow(t *testing.T) {
	env := newTestEnv(t, nil)

	created := decode[sms.Message](t, env.do(t, "POST", "/api/v1/sms/queue", QueueRequest{
		PhoneNumber: "+15551234567", Content: "cancel me",
	}, env.writerSecret))

	resp := env.do(t, "DELETE", "/api/v1/sms/cancel/1", nil, env.writerSecret)
	if resp.StatusCode != fiber.StatusOK {
		t.Fatalf("expected 200, got %d", resp.StatusCode)
	}
	out := decode[map[string]any](t, resp)
	if out["status"] != string(sms.StatusCancelled) {
		t.Errorf("expected CANCELLED, got %v", out["status"])
	}

	// A second cancel hits a terminal row.
	resp = env.do(t, "DELETE", "/api/v1/sms/cancel/1", nil, env.writerSecret)
	if resp.StatusCode != fiber.StatusConflict {
		t.Fatalf("expected 409, got %d", resp.StatusCode)
	}
	envelope := decode[ErrorResponse](t, resp)
	if envelope.Code != CodeConflict {
		t.Errorf("expected code CONFLICT, got %s", envelope.Code)
	}

	got, err := env.store.GetMessage(context.Background(), created.ID)
	if err != nil || got.Status != sms.StatusCancelled {
		t.Errorf("expected stored CANCELLED, got %v, %v", got, err)
	}
}

func TestUpdatePriority(t *testing.T) {
	env := newTestEnv(t, nil)

	env.do(t, "POST", "/api/v1/sms/queue", QueueRequest{
		PhoneNumber: "+15551234567", Content: "bump me",
	}, env.writerSecret)

	resp := env.do(t, "PUT", "/api/v1/sms/1/priority", PriorityRequest{Priority: "URGENT"}, env.writerSecret)
	if resp.StatusCode != fiber.StatusOK {
		t.Fatalf("expected 200, got %d", resp.StatusCode)
	}
	got := decode[sms.Message](t, resp)
	if got.Priority != sms.PriorityUrgent {
		t.Errorf("expected URGENT, got %s", got.Priority)
	}

	// Settled rows conflict.
	env.do(t, "DELETE", "/api/v1/sms/cancel/1", nil, env.writerSecret)
	resp = env.do(t, "PUT", "/api/v1/sms/1/priority", PriorityRequest{Priority: "LOW"}, env.writerSecret)
	if resp.StatusCode != fiber.StatusConflict {
		t.Errorf("expected 409 for settled row, got %d", resp.StatusCode)
	}
}

func TestBulkQueue(t *testing.T) {
	env := newTestEnv(t, nil)

	resp := env.do(t, "POST", "/api/v1/sms/bulk", BulkRequest{Messages: []QueueRequest{
		{PhoneNumber: "+15551234567", Content: "first"},
		{PhoneNumber: "invalid", Content: "second"},
		{PhoneNumber: "+15551234569", Content: ""},
		{PhoneNumber: "+15551234570", Content: "fourth"},
	}}, env.writerSecret)
	if resp.StatusCode != fiber.StatusCreated {
		t.Fatalf("expected 201, got %d", resp.StatusCode)
	}

	out := decode[BulkResponse](t, resp)
	if len(out.Accepted) != 2 {
		t.Errorf("expected 2 accepted, got %d", len(out.Accepted))
	}
	if len(out.Rejected) != 2 {
		t.Fatalf("expected 2 rejected, got %d", len(out.Rejected))
	}
	if out.Rejected[0].Index != 1 || out.Rejected[1].Index != 2 {
		t.Errorf("unexpected rejection indexes: %+v", out.Rejected)
	}
	for _, r := range out.Rejected {
		if r.Reason == "" {
			t.Error("rejections must carry a reason")
		}
	}
}

func TestBulkQueueCaps(t *testing.T) {
	env := newTestEnv(t, nil)

	over := make([]QueueRequest, MaxBulkMessages+1)
	for i := range over {
		over[i] = QueueRequest{PhoneNumber: "+15551234567", Content: "x"}
	}
	resp := env.do(t, "POST", "/api/v1/sms/bulk", BulkRequest{Messages: over}, env.writerSecret)
	if resp.StatusCode != fiber.StatusBadRequest {
		t.Errorf("expected 400 over the cap, got %d", resp.StatusCode)
	}

	resp = env.do(t, "POST", "/api/v1/sms/bulk", BulkRequest{}, env.writerSecret)
	if resp.StatusCode != fiber.StatusBadRequest {
		t.Errorf("expected 400 for empty batch, got %d", resp.StatusCode)
	}
}

func TestHistory(t *testing.T) {
	env := newTestEnv(t, nil)

	for i := 0; i < 3; i++ {
		env.do(t, "POST", "/api/v1/sms/queue", QueueRequest{
			PhoneNumber: "+15551234567", Content: "history",
		}, env.writerSecret)
	}
	env.do(t, "DELETE", "/api/v1/sms/cancel/2", nil, env.writerSecret)

	resp := env.do(t, "GET", "/api/v1/sms/history?page=1&size=2", nil, env.readerSecret)
	if resp.StatusCode != fiber.StatusOK {
		t.Fatalf("expected 200, got %d", resp.StatusCode)
	}
	page := decode[store.MessagePage](t, resp)
	if page.Total != 3 || len(page.Items) != 2 {
		t.Errorf("expected total 3 with 2 items, got %d / %d", page.Total, len(page.Items))
	}

	resp = env.do(t, "GET", "/api/v1/sms/history?status=CANCELLED", nil, env.readerSecret)
	filtered := decode[store.MessagePage](t, resp)
	if filtered.Total != 1 {
		t.Errorf("expected 1 cancelled row, got %d", filtered.Total)
	}

	resp = env.do(t, "GET", "/api/v1/sms/history?status=WAITING", nil, env.readerSecret)
	if resp.StatusCode != fiber.StatusBadRequest {
		t.Errorf("expected 400 for unknown status, got %d", resp.StatusCode)
	}
}

func TestPauseResumeAndHealth(t *testing.T) {
	env := newTestEnv(t, nil)

	resp := env.do(t, "POST", "/api/v1/sms/queue/pause", nil, env.adminSecret)
	if resp.StatusCode != fiber.StatusOK {
		t.Fatalf("expected 200, got %d", resp.StatusCode)
	}

	health := decode[map[string]any](t, env.do(t, "GET", "/api/v1/health", nil, ""))
	if health["overall"] != "degraded" {
		t.Errorf("expected degraded while paused, got %v", health["overall"])
	}
	components := health["components"].(map[string]any)
	if components["scheduler"] != "paused" {
		t.Errorf("expected scheduler paused, got %v", components["scheduler"])
	}

	env.do(t, "POST", "/api/v1/sms/queue/resume", nil, env.adminSecret)
	health = decode[map[string]any](t, env.do(t, "GET", "/api/v1/health", nil, ""))
	if health["overall"] != "up" {
		t.Errorf("expected up after resume, got %v", health["overall"])
	}
}

func TestAuditTrailCoversSuccessfulCalls(t *testing.T) {
	env := newTestEnv(t, nil)

	resp := env.do(t, "GET", "/api/v1/sms/history", nil, env.readerSecret)
	if resp.StatusCode != fiber.StatusOK {
		t.Fatalf("expected 200, got %d", resp.StatusCode)
	}

	// The recorder writes asynchronously; poll until the event lands.
	deadline := time.Now().Add(2 * time.Second)
	for {
		events, err := env.store.ListAudit(context.Background(), 50)
		if err != nil {
			t.Fatal(err)
		}
		for _, ev := range events {
			if ev.Type != audit.EventAPICall {
				continue
			}
			if ev.StatusCode == nil || *ev.StatusCode != fiber.StatusOK {
				t.Fatalf("expected status 200 on the event, got %v", ev.StatusCode)
			}
			if ev.Endpoint == nil || !strings.Contains(*ev.Endpoint, "/history") {
				t.Fatalf("expected the endpoint recorded, got %v", ev.Endpoint)
			}
			if ev.OwnerID == nil || *ev.OwnerID != "reader" {
				t.Fatalf("expected the caller recorded, got %v", ev.OwnerID)
			}
			return
		}
		if time.Now().After(deadline) {
			t.Fatal("successful call left no audit trail")
		}
		time.Sleep(10 * time.Millisecond)
	}
}

func TestPauseRidesAdminRateScope(t *testing.T) {
	limits := map[store.Scope]rate.ScopeLimits{
		store.ScopeRequest: {Limit: 1, Window: time.Hour},
		store.ScopeAuth:    {Limit: 10000, Window: time.Hour},
		store.ScopeAdmin:   {Limit: 2, Window: time.Hour},
	}
	env := newTestEnv(t, limits)

	// Pause and resume count against the ADMIN window.
	for i, path := range []string{"/api/v1/sms/queue/pause", "/api/v1/sms/queue/resume"} {
		resp := env.do(t, "POST", path, nil, env.adminSecret)
		if resp.StatusCode != fiber.StatusOK {
			t.Fatalf("call %d: expected 200, got %d", i, resp.StatusCode)
		}
	}
	resp := env.do(t, "POST", "/api/v1/sms/queue/pause", nil, env.adminSecret)
	if resp.StatusCode != fiber.StatusTooManyRequests {
		t.Fatalf("expected 429 once the ADMIN window is spent, got %d", resp.StatusCode)
	}

	// The REQUEST window is untouched by the admin calls.
	resp = env.do(t, "POST", "/api/v1/sms/queue", QueueRequest{
		PhoneNumber: "+15551234567",
		Content:     "still admitted",
	}, env.adminSecret)
	if resp.StatusCode != fiber.StatusCreated {
		t.Errorf("expected 201 from the separate REQUEST window, got %d", resp.StatusCode)
	}
}

func TestRateLimitExceeded(t *testing.T) {
	env := newTestEnv(t, map[store.Scope]rate.ScopeLimits{
		store.ScopeRequest: {Limit: 2, Window: time.Hour},
		store.ScopeAuth:    {Limit: 100, Window: time.Hour},
		store.ScopeAdmin:   {Limit: 100, Window: time.Hour},
	})

	for i := 0; i < 2; i++ {
		resp := env.do(t, "GET", "/api/v1/sms/history", nil, env.readerSecret)
		if resp.StatusCode != fiber.StatusOK {
			t.Fatalf("request %d: expected 200, got %d", i, resp.StatusCode)
		}
		if resp.Header.Get("X-RateLimit-Remaining") == "" {
			t.Error("expected rate limit headers")
		}
	}

	resp := env.do(t, "GET", "/api/v1/sms/history", nil, env.readerSecret)
	if resp.StatusCode != fiber.StatusTooManyRequests {
		t.Fatalf("expected 429, got %d", resp.StatusCode)
	}
	if resp.Header.Get("Retry-After") == "" {
		t.Error("denial must carry Retry-After")
	}
	envelope := decode[ErrorResponse](t, resp)
	if envelope.Code != CodeRateLimited {
		t.Errorf("expected code RATE_LIMITED, got %s", envelope.Code)
	}
}

func TestTokenEndpoints(t *testing.T) {
	env := newTestEnv(t, nil)

	// Issue is unauthenticated.
	resp := env.do(t, "POST", "/api/v1/auth/tokens", IssueTokenRequest{
		OwnerID: "newcomer",
		Name:    "laptop",
	}, "")
	if resp.StatusCode != fiber.StatusCreated {
		t.Fatalf("expected 201, got %d", resp.StatusCode)
	}
	issued := decode[IssueTokenResponse](t, resp)
	if issued.Secret == "" {
		t.Fatal("expected the secret in the issue response")
	}
	if issued.Token.Kind != store.TokenTemporary || issued.Token.ExpiresAt == nil {
		t.Errorf("expected a temporary token with expiry, got %+v", issued.Token)
	}

	// The fresh secret works.
	resp = env.do(t, "GET", "/api/v1/sms/history", nil, issued.Secret)
	if resp.StatusCode != fiber.StatusOK {
		t.Fatalf("fresh token should authenticate, got %d", resp.StatusCode)
	}

	// Renewal pushes the expiry out.
	resp = env.do(t, "POST", "/api/v1/auth/tokens/"+issued.Token.ID.String()+"/renew",
		RenewTokenRequest{TTLSeconds: 3600 * 48}, issued.Secret)
	if resp.StatusCode != fiber.StatusOK {
		t.Fatalf("expected 200 renewing, got %d", resp.StatusCode)
	}

	// Revocation kills it.
	resp = env.do(t, "DELETE", "/api/v1/auth/tokens/"+issued.Token.ID.String(), nil, issued.Secret)
	if resp.StatusCode != fiber.StatusOK {
		t.Fatalf("expected 200 revoking, got %d", resp.StatusCode)
	}
	resp = env.do(t, "GET", "/api/v1/sms/history", nil, issued.Secret)
	if resp.StatusCode != fiber.StatusUnauthorized {
		t.Errorf("revoked token must not authenticate, got %d", resp.StatusCode)
	}
}

func TestTokenIssueRefusesAdmin(t *testing.T) {
	env := newTestEnv(t, nil)

	resp := env.do(t, "POST", "/api/v1/auth/tokens", IssueTokenRequest{
		OwnerID:     "mallory",
		Permissions: []string{auth.PermAdmin},
	}, "")
	if resp.StatusCode != fiber.StatusForbidden {
		t.Errorf("expected 403 requesting admin, got %d", resp.StatusCode)
	}
}

func TestAdminEndpoints(t *testing.T) {
	env := newTestEnv(t, nil)

	// Generate some audit traffic first.
	env.do(t, "POST", "/api/v1/sms/queue", QueueRequest{
		PhoneNumber: "+15551234567", Content: "audited",
	}, env.writerSecret)

	resp := env.do(t, "GET", "/api/v1/admin/audit", nil, env.adminSecret)
	if resp.StatusCode != fiber.StatusOK {
		t.Fatalf("expected 200, got %d", resp.StatusCode)
	}

	resp = env.do(t, "GET", "/api/v1/admin/audit", nil, env.writerSecret)
	if resp.StatusCode != fiber.StatusForbidden {
		t.Errorf("expected 403 for non-admin, got %d", resp.StatusCode)
	}

	resp = env.do(t, "POST", "/api/v1/admin/retention/sweep", nil, env.adminSecret)
	if resp.StatusCode != fiber.StatusOK {
		t.Fatalf("expected 200 sweeping, got %d", resp.StatusCode)
	}
	sweep := decode[map[string]any](t, resp)
	if _, ok := sweep["purgedMessages"]; !ok {
		t.Error("sweep response must report purged counts")
	}

	// Tunnel lifecycle.
	resp = env.do(t, "POST", "/api/v1/admin/tunnel/start", tunnel.Config{Provider: "ngrok"}, env.adminSecret)
	if resp.StatusCode != fiber.StatusOK {
		t.Fatalf("expected 200 starting tunnel, got %d", resp.StatusCode)
	}
	status := decode[map[string]any](t, env.do(t, "GET", "/api/v1/admin/tunnel/status", nil, env.adminSecret))
	if status["status"] != string(tunnel.StatusActive) {
		t.Errorf("expected ACTIVE, got %v", status["status"])
	}
	env.do(t, "POST", "/api/v1/admin/tunnel/stop", nil, env.adminSecret)
	status = decode[map[string]any](t, env.do(t, "GET", "/api/v1/admin/tunnel/status", nil, env.adminSecret))
	if status["status"] != string(tunnel.StatusInactive) {
		t.Errorf("expected INACTIVE, got %v", status["status"])
	}
}
