package http

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http/httptest"
	"testing"

	"github.com/gofiber/fiber/v2"
	"go.uber.org/zap"

	"github.com/spec-kit/support-desk/internal/api/http/handlers"
	"github.com/spec-kit/support-desk/internal/auth"
	"github.com/spec-kit/support-desk/internal/domain"
	"github.com/spec-kit/support-desk/internal/observability"
	"github.com/spec-kit/support-desk/internal/repository"
	"github.com/spec-kit/support-desk/internal/service"
)

type pingFunc func(context.Context) error

func (f pingFunc) Ping(ctx context.Context) error { return f(ctx) }

type testServer struct {
	app    *fiber.App
	tokens *auth.TokenManager
}

func newTestServer(t *testing.T, deps map[string]handlers.Pinger) *testServer {
	t.Helper()
	logger := zap.NewNop()
	metrics := observability.NewMetrics()
	repo := repository.NewMemoryTicketRepository()
	if deps == nil {
		deps = map[string]handlers.Pinger{"store": repo}
	}
	store := service.NewTicketStore(service.TicketStoreDependencies{
		TicketRepo:  repo,
		HistoryRepo: repository.NewMemoryTicketHistoryRepository(),
		Logger:      logger,
	})
	tokens := auth.NewTokenManager("test-secret", 5)

	app := fiber.New()
	RegisterMiddlewares(app, logger, metrics, 0)
	RegisterRoutes(app, RouteConfig{
		Health:         handlers.NewHealthHandler("support-desk", "test", deps, metrics),
		Tickets:        handlers.NewTicketsHandler(store),
		StaffTickets:   handlers.NewStaffTicketsHandler(store),
		AuthMiddleware: auth.NewAuthMiddleware(tokens),
	})
	return &testServer{app: app, tokens: tokens}
}

func (s *testServer) token(t *testing.T, accountID, username string, role domain.Role) string {
	t.Helper()
	token, _, err := s.tokens.GenerateToken(accountID, username, role)
	if err != nil {
		t.Fatalf("token: %v", err)
	}
	return token
}

func (s *testServer) do(t *testing.T, method, path, token string, body any) (int, map[string]any) {
	t.Helper()
	var reader io.Reader
	if body != nil {
		raw, err := json.Marshal(body)
		if err != nil {
			t.Fatalf("marshal: %v", err)
		}
		reader = bytes.NewReader(raw)
	}
	req := httptest.NewRequest(method, path, reader)
	req.Header.Set("Content-Type", "application/json")
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	resp, err := s.app.Test(req, -1)
	if err != nil {
		t.Fatalf("%s %s: %v", method, path, err)
	}
	defer resp.Body.Close()
	var decoded map[string]any
	if err := json.NewDecoder(resp.Body).Decode(&decoded); err != nil {
		t.Fatalf("decode %s %s: %v", method, path, err)
	}
	return resp.StatusCode, decoded
}

func errorCode(body map[string]any) string {
	errBody, _ := body["error"].(map[string]any)
	code, _ := errBody["code"].(string)
	return code
}

func TestTicketFlowOverHTTP(t *testing.T) {
	s := newTestServer(t, nil)
	alice := s.token(t, "u1", "Alice", domain.RoleUser)
	mallory := s.token(t, "u9", "Mallory", domain.RoleUser)
	admin := s.token(t, "a1", "Root", domain.RoleAdmin)

	status, body := s.do(t, "POST", "/tickets", alice, map[string]any{
		"type": "bug_report", "title": "Crash on login", "description": "App crashes",
	})
	if status != fiber.StatusCreated {
		t.Fatalf("create status = %d body=%v", status, body)
	}
	ticket := body["data"].(map[string]any)
	id := ticket["id"].(string)
	if ticket["status"] != "open" || ticket["priority"] != "medium" {
		t.Fatalf("unexpected ticket %v", ticket)
	}

	status, _ = s.do(t, "POST", "/tickets/"+id+"/messages", alice, map[string]any{"content": "Still happening"})
	if status != fiber.StatusCreated {
		t.Fatalf("user message status = %d", status)
	}
	status, _ = s.do(t, "POST", "/tickets/"+id+"/messages", admin, map[string]any{"content": "Escalating", "is_internal": true})
	if status != fiber.StatusCreated {
		t.Fatalf("admin note status = %d", status)
	}

	_, body = s.do(t, "GET", "/tickets/"+id, alice, nil)
	if got := len(body["data"].(map[string]any)["messages"].([]any)); got != 1 {
		t.Fatalf("alice sees %d messages, want 1", got)
	}
	_, body = s.do(t, "GET", "/tickets/"+id, admin, nil)
	if got := len(body["data"].(map[string]any)["messages"].([]any)); got != 2 {
		t.Fatalf("admin sees %d messages, want 2", got)
	}

	status, body = s.do(t, "GET", "/tickets/"+id, mallory, nil)
	if status != fiber.StatusForbidden || errorCode(body) != "FORBIDDEN" {
		t.Fatalf("unrelated user: status=%d body=%v", status, body)
	}

	status, body = s.do(t, "POST", "/staff/tickets/"+id+"/status", alice, map[string]any{"status": "closed"})
	if status != fiber.StatusForbidden {
		t.Fatalf("user on staff route: status=%d body=%v", status, body)
	}

	status, body = s.do(t, "POST", "/staff/tickets/"+id+"/status", admin, map[string]any{"status": "in_progress"})
	if status != fiber.StatusOK || body["data"].(map[string]any)["status"] != "in_progress" {
		t.Fatalf("transition: status=%d body=%v", status, body)
	}
	status, body = s.do(t, "POST", "/staff/tickets/"+id+"/status", admin, map[string]any{"status": "open"})
	if status != fiber.StatusUnprocessableEntity || errorCode(body) != "INVALID_TRANSITION" {
		t.Fatalf("invalid transition: status=%d body=%v", status, body)
	}

	status, body = s.do(t, "POST", "/staff/tickets/"+id+"/assign", admin, map[string]any{"assigned_to": "m1"})
	if status != fiber.StatusOK || body["data"].(map[string]any)["assigned_to"] != "m1" {
		t.Fatalf("assign: status=%d body=%v", status, body)
	}
	status, body = s.do(t, "POST", "/staff/tickets/"+id+"/assign", admin, map[string]any{"assigned_to": nil})
	if status != fiber.StatusOK || body["data"].(map[string]any)["assigned_to"] != nil {
		t.Fatalf("unassign: status=%d body=%v", status, body)
	}
	status, _ = s.do(t, "POST", "/staff/tickets/"+id+"/priority", admin, map[string]any{"priority": "high"})
	if status != fiber.StatusOK {
		t.Fatalf("priority status = %d", status)
	}

	_, body = s.do(t, "GET", "/staff/tickets/"+id+"/history", admin, nil)
	if got := len(body["data"].([]any)); got != 4 {
		t.Fatalf("history entries = %d, want 4", got)
	}

	_, body = s.do(t, "GET", "/tickets", alice, nil)
	if got := len(body["data"].([]any)); got != 1 {
		t.Fatalf("alice lists %d tickets", got)
	}
	_, body = s.do(t, "GET", "/staff/accounts/u1/tickets?order=oldest&limit=10", admin, nil)
	if got := len(body["data"].([]any)); got != 1 {
		t.Fatalf("staff lists %d tickets", got)
	}
}

func TestValidationAndAuthErrors(t *testing.T) {
	s := newTestServer(t, nil)
	alice := s.token(t, "u1", "Alice", domain.RoleUser)

	status, body := s.do(t, "POST", "/tickets", "", map[string]any{"type": "bug_report"})
	if status != fiber.StatusUnauthorized || errorCode(body) != "UNAUTHORIZED" {
		t.Fatalf("anonymous: status=%d body=%v", status, body)
	}

	status, body = s.do(t, "POST", "/tickets", alice, map[string]any{"type": "feature", "title": "", "description": "d"})
	if status != fiber.StatusBadRequest || errorCode(body) != "VALIDATION_FAILED" {
		t.Fatalf("invalid payload: status=%d body=%v", status, body)
	}
	details := body["error"].(map[string]any)["details"].(map[string]any)
	if _, ok := details["type"]; !ok {
		t.Fatalf("details should name the type field: %v", details)
	}

	status, body = s.do(t, "POST", "/tickets", alice, map[string]any{
		"type": "user_report", "title": "t", "description": "d",
	})
	if status != fiber.StatusBadRequest {
		t.Fatalf("user report without party: status=%d body=%v", status, body)
	}

	status, body = s.do(t, "GET", "/tickets?limit=0", alice, nil)
	if status != fiber.StatusBadRequest {
		t.Fatalf("bad limit: status=%d body=%v", status, body)
	}

	status, body = s.do(t, "GET", "/tickets/does-not-exist", alice, nil)
	if status != fiber.StatusNotFound || errorCode(body) != "NOT_FOUND" {
		t.Fatalf("missing ticket: status=%d body=%v", status, body)
	}

	status, body = s.do(t, "GET", "/nowhere", "", nil)
	if status != fiber.StatusNotFound || errorCode(body) != "NOT_FOUND" {
		t.Fatalf("unknown route: status=%d body=%v", status, body)
	}
}

func TestAttachmentsRejectedWithoutStorage(t *testing.T) {
	s := newTestServer(t, nil)
	alice := s.token(t, "u1", "Alice", domain.RoleUser)
	_, body := s.do(t, "POST", "/tickets", alice, map[string]any{
		"type": "bug_report", "title": "t", "description": "d",
	})
	id := body["data"].(map[string]any)["id"].(string)

	status, body := s.do(t, "POST", "/tickets/"+id+"/messages", alice, map[string]any{
		"content":     "see file",
		"attachments": []map[string]any{{"file_name": "a.txt", "data": "aGVsbG8="}},
	})
	if status != fiber.StatusBadRequest {
		t.Fatalf("status=%d body=%v", status, body)
	}
}

func TestHealthEndpoints(t *testing.T) {
	s := newTestServer(t, map[string]handlers.Pinger{
		"store": pingFunc(func(context.Context) error { return nil }),
		"redis": pingFunc(func(context.Context) error { return errors.New("connection refused") }),
	})

	status, body := s.do(t, "GET", "/health/live", "", nil)
	if status != fiber.StatusOK || body["status"] != "alive" {
		t.Fatalf("live: status=%d body=%v", status, body)
	}

	status, body = s.do(t, "GET", "/health/ready", "", nil)
	if status != fiber.StatusServiceUnavailable {
		t.Fatalf("ready: status=%d body=%v", status, body)
	}
	details := body["error"].(map[string]any)["details"].(map[string]any)
	if details["store"] != "ok" || details["redis"] != "connection refused" {
		t.Fatalf("unexpected dependency status %v", details)
	}

	status, body = s.do(t, "GET", "/metrics", "", nil)
	if status != fiber.StatusOK {
		t.Fatalf("metrics status = %d", status)
	}
	requests := body["data"].(map[string]any)["requests"].(map[string]any)
	if len(requests) == 0 {
		t.Fatal("metrics should include earlier requests")
	}
}
