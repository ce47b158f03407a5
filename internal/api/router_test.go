package api_test

import (
	"bytes"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/d9705996/helpdesk/internal/api"
	"github.com/d9705996/helpdesk/internal/api/handler"
	"github.com/d9705996/helpdesk/internal/api/middleware"
	"github.com/d9705996/helpdesk/internal/api/respond"
	"github.com/d9705996/helpdesk/internal/auth"
	"github.com/d9705996/helpdesk/internal/health"
	"github.com/d9705996/helpdesk/internal/model"
	"github.com/d9705996/helpdesk/internal/testutil"
	"github.com/d9705996/helpdesk/internal/ticket"
	"github.com/d9705996/helpdesk/internal/user"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/crypto/bcrypt"
	"gorm.io/gorm"
)

const password = "ValidPass123!@#"

var quiet = slog.New(slog.DiscardHandler)

type server struct {
	h    http.Handler
	db   *gorm.DB
	orgA *model.Organisation
	orgB *model.Organisation
}

func newServer(t *testing.T, authLimit int, opts ...auth.ServiceOption) *server {
	t.Helper()
	gdb := testutil.NewDB(t)
	users := user.NewStore(gdb)
	issuer, err := auth.NewIssuer("test-secret-with-enough-entropy")
	require.NoError(t, err)
	svc := auth.NewService(users, issuer, auth.NewRefreshStore(gdb), auth.NewHasher(bcrypt.MinCost),
		append([]auth.ServiceOption{auth.WithLogger(quiet)}, opts...)...)
	render := respond.New(quiet, false)

	mux := http.NewServeMux()
	api.RegisterRoutes(mux, api.Routes{
		Health:    health.New(nil),
		Auth:      handler.NewAuthHandler(svc, render),
		Tickets:   handler.NewTicketHandler(ticket.NewStore(gdb), render),
		Users:     handler.NewUserHandler(users, svc, render),
		Authn:     middleware.NewAuthenticator(auth.NewResolver(issuer, users), render),
		Render:    render,
		AuthLimit: middleware.RateLimit(middleware.NewMemoryLimiter(authLimit, time.Minute), render, quiet),
	})
	return &server{
		h:    api.Handler(mux, api.ServerOptions{Logger: quiet, Render: render, RequestTimeout: 5 * time.Second, AllowedOrigins: []string{"http://localhost:5173"}}),
		db:   gdb,
		orgA: testutil.CreateOrganisation(t, gdb, "Acme Corp"),
		orgB: testutil.CreateOrganisation(t, gdb, "Globex Inc"),
	}
}

func (s *server) do(t *testing.T, method, path, token string, body any) (*httptest.ResponseRecorder, map[string]any) {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		require.NoError(t, json.NewEncoder(&buf).Encode(body))
	}
	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	w := httptest.NewRecorder()
	s.h.ServeHTTP(w, req)

	var out map[string]any
	if w.Body.Len() > 0 {
		require.NoError(t, json.Unmarshal(w.Body.Bytes(), &out), w.Body.String())
	}
	return w, out
}

func (s *server) register(t *testing.T, email string, org *model.Organisation) uint {
	t.Helper()
	w, body := s.do(t, http.MethodPost, "/api/v1/auth/register", "", map[string]any{
		"name": "Test User", "email": email, "password": password, "organisationId": org.ID,
	})
	require.Equal(t, http.StatusCreated, w.Code, w.Body.String())
	return uint(body["user"].(map[string]any)["id"].(float64))
}

func (s *server) login(t *testing.T, email string) (access, refresh string) {
	t.Helper()
	w, body := s.do(t, http.MethodPost, "/api/v1/auth/login", "", map[string]any{"email": email, "password": password})
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	return body["accessToken"].(string), body["refreshToken"].(string)
}

func TestAuthFlow(t *testing.T) {
	s := newServer(t, 1000)
	s.register(t, "Jane@Acme.com", s.orgA)

	w, body := s.do(t, http.MethodPost, "/api/v1/auth/login", "", map[string]any{"email": "jane@acme.com", "password": password})
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "Login successful", body["message"])
	assert.Equal(t, "Bearer", body["tokenType"])
	u := body["user"].(map[string]any)
	assert.Equal(t, "jane@acme.com", u["email"])
	assert.Equal(t, "USER", u["role"])
	assert.NotEmpty(t, u["lastLoginAt"])
	assert.NotContains(t, w.Body.String(), "password")
	access, refresh := body["accessToken"].(string), body["refreshToken"].(string)

	w, body = s.do(t, http.MethodGet, "/api/v1/auth/me", access, nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "jane@acme.com", body["user"].(map[string]any)["email"])

	w, body = s.do(t, http.MethodPost, "/api/v1/auth/refresh", "", map[string]any{"refreshToken": refresh})
	require.Equal(t, http.StatusOK, w.Code)
	assert.NotEmpty(t, body["accessToken"])
	assert.NotContains(t, body, "refreshToken")

	for range 2 {
		w, body = s.do(t, http.MethodPost, "/api/v1/auth/logout", "", map[string]any{"refreshToken": refresh})
		require.Equal(t, http.StatusOK, w.Code)
		assert.Equal(t, "Logged out successfully", body["message"])
	}

	w, body = s.do(t, http.MethodPost, "/api/v1/auth/refresh", "", map[string]any{"refreshToken": refresh})
	assert.Equal(t, http.StatusUnauthorized, w.Code)
	assert.Equal(t, "REFRESH_TOKEN_REVOKED", body["error"])
}

func TestRefresh_Rotation(t *testing.T) {
	s := newServer(t, 1000, auth.WithRotation(true))
	s.register(t, "jane@acme.com", s.orgA)
	_, refresh := s.login(t, "jane@acme.com")

	w, body := s.do(t, http.MethodPost, "/api/v1/auth/refresh", "", map[string]any{"refreshToken": refresh})
	require.Equal(t, http.StatusOK, w.Code)
	rotated, _ := body["refreshToken"].(string)
	require.NotEmpty(t, rotated)

	w, _ = s.do(t, http.MethodPost, "/api/v1/auth/refresh", "", map[string]any{"refreshToken": refresh})
	assert.Equal(t, http.StatusUnauthorized, w.Code)
	w, _ = s.do(t, http.MethodPost, "/api/v1/auth/refresh", "", map[string]any{"refreshToken": rotated})
	assert.Equal(t, http.StatusOK, w.Code)
}

func TestRefreshAndLogout_MissingToken(t *testing.T) {
	s := newServer(t, 1000)
	for _, path := range []string{"/api/v1/auth/refresh", "/api/v1/auth/logout"} {
		w, body := s.do(t, http.MethodPost, path, "", map[string]any{})
		assert.Equal(t, http.StatusBadRequest, w.Code, path)
		assert.Equal(t, "refreshToken", body["field"], path)
	}
}

func TestRegister_Errors(t *testing.T) {
	s := newServer(t, 1000)
	s.register(t, "jane@acme.com", s.orgA)

	tests := []struct {
		name   string
		body   map[string]any
		status int
		code   string
	}{
		{"duplicate email any case", map[string]any{"name": "J", "email": "JANE@ACME.COM", "password": password, "organisationId": s.orgA.ID}, http.StatusConflict, "EMAIL_IN_USE"},
		{"missing name", map[string]any{"email": "x@acme.com", "password": password, "organisationId": s.orgA.ID}, http.StatusBadRequest, "MISSING_FIELDS"},
		{"weak password", map[string]any{"name": "X", "email": "x@acme.com", "password": "short", "organisationId": s.orgA.ID}, http.StatusBadRequest, "WEAK_PASSWORD"},
		{"bad email", map[string]any{"name": "X", "email": "not-an-email", "password": password, "organisationId": s.orgA.ID}, http.StatusBadRequest, "INVALID_EMAIL"},
		{"unknown organisation", map[string]any{"name": "X", "email": "x@acme.com", "password": password, "organisationId": 999}, http.StatusBadRequest, "INVALID_ORGANISATION"},
		{"organisation as string", map[string]any{"name": "X", "email": "y@acme.com", "password": password, "organisationId": fmt.Sprint(s.orgB.ID)}, http.StatusCreated, ""},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			w, body := s.do(t, http.MethodPost, "/api/v1/auth/register", "", tt.body)
			assert.Equal(t, tt.status, w.Code, w.Body.String())
			if tt.code != "" {
				assert.Equal(t, tt.code, body["error"])
			}
		})
	}
}

func TestRegister_MalformedJSON(t *testing.T) {
	s := newServer(t, 1000)
	req := httptest.NewRequest(http.MethodPost, "/api/v1/auth/register", bytes.NewBufferString("{nope"))
	w := httptest.NewRecorder()
	s.h.ServeHTTP(w, req)
	assert.Equal(t, http.StatusBadRequest, w.Code)
	assert.Contains(t, w.Body.String(), "INVALID_BODY")
}

func TestLogin_DoesNotRevealWhichPartFailed(t *testing.T) {
	s := newServer(t, 1000)
	s.register(t, "jane@acme.com", s.orgA)

	wUnknown, unknown := s.do(t, http.MethodPost, "/api/v1/auth/login", "", map[string]any{"email": "nobody@acme.com", "password": password})
	wWrong, wrong := s.do(t, http.MethodPost, "/api/v1/auth/login", "", map[string]any{"email": "jane@acme.com", "password": "WrongPass123!@#"})

	assert.Equal(t, http.StatusUnauthorized, wUnknown.Code)
	assert.Equal(t, wUnknown.Code, wWrong.Code)
	assert.Equal(t, unknown["error"], wrong["error"])
	assert.Equal(t, unknown["message"], wrong["message"])
}

func TestMe_RejectsBadTokens(t *testing.T) {
	s := newServer(t, 1000)

	w, body := s.do(t, http.MethodGet, "/api/v1/auth/me", "", nil)
	assert.Equal(t, http.StatusUnauthorized, w.Code)
	assert.Equal(t, "TOKEN_REQUIRED", body["error"])

	w, body = s.do(t, http.MethodGet, "/api/v1/auth/me", "garbage", nil)
	assert.Equal(t, http.StatusUnauthorized, w.Code)
	assert.Equal(t, "INVALID_TOKEN", body["error"])

	s.register(t, "jane@acme.com", s.orgA)
	_, refresh := s.login(t, "jane@acme.com")
	w, _ = s.do(t, http.MethodGet, "/api/v1/auth/me", refresh, nil)
	assert.Equal(t, http.StatusUnauthorized, w.Code, "refresh token must not authenticate")
}

func TestMe_DeletedUser(t *testing.T) {
	s := newServer(t, 1000)
	id := s.register(t, "jane@acme.com", s.orgA)
	access, _ := s.login(t, "jane@acme.com")
	require.NoError(t, s.db.Delete(&model.User{}, id).Error)

	w, body := s.do(t, http.MethodGet, "/api/v1/auth/me", access, nil)
	assert.Equal(t, http.StatusUnauthorized, w.Code)
	assert.Equal(t, "USER_NOT_FOUND", body["error"])
}

func TestMe_ReflectsStoredRole(t *testing.T) {
	s := newServer(t, 1000)
	id := s.register(t, "jane@acme.com", s.orgA)
	access, _ := s.login(t, "jane@acme.com")
	require.NoError(t, s.db.Model(&model.User{}).Where("id = ?", id).Update("role", model.RoleManager).Error)

	_, body := s.do(t, http.MethodGet, "/api/v1/auth/me", access, nil)
	assert.Equal(t, "MANAGER", body["user"].(map[string]any)["role"])
}

func TestLogoutAll(t *testing.T) {
	s := newServer(t, 1000)
	s.register(t, "jane@acme.com", s.orgA)
	access, r1 := s.login(t, "jane@acme.com")
	_, r2 := s.login(t, "jane@acme.com")

	w, body := s.do(t, http.MethodPost, "/api/v1/auth/logout-all", access, nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, float64(2), body["revoked"])
	for _, r := range []string{r1, r2} {
		w, _ = s.do(t, http.MethodPost, "/api/v1/auth/refresh", "", map[string]any{"refreshToken": r})
		assert.Equal(t, http.StatusUnauthorized, w.Code)
	}
}

func TestTickets_OrganisationIsolation(t *testing.T) {
	s := newServer(t, 1000)
	s.register(t, "a@acme.com", s.orgA)
	s.register(t, "b@globex.com", s.orgB)
	tokA, _ := s.login(t, "a@acme.com")
	tokB, _ := s.login(t, "b@globex.com")

	w, body := s.do(t, http.MethodPost, "/api/v1/tickets", tokA, map[string]any{"title": "  Printer down  ", "organisationId": s.orgB.ID})
	require.Equal(t, http.StatusCreated, w.Code, w.Body.String())
	created := body["ticket"].(map[string]any)
	assert.Equal(t, "Printer down", created["title"])
	assert.Equal(t, "open", created["status"])
	assert.Equal(t, float64(s.orgA.ID), created["organisationId"])
	assert.Equal(t, "Acme Corp", created["organisationName"])
	for _, key := range []string{"userId", "userName", "userEmail", "createdAt", "updatedAt"} {
		assert.Contains(t, created, key)
	}
	assert.NotContains(t, created, "organisation_id")
	path := fmt.Sprintf("/api/v1/tickets/%v", created["id"])

	w, body = s.do(t, http.MethodGet, path, tokB, nil)
	assert.Equal(t, http.StatusForbidden, w.Code)
	assert.Equal(t, "Access denied. You can only view tickets from your organization.", body["message"])
	w, _ = s.do(t, http.MethodPatch, path, tokB, map[string]any{"status": "closed"})
	assert.Equal(t, http.StatusForbidden, w.Code)
	w, body = s.do(t, http.MethodDelete, path, tokB, nil)
	assert.Equal(t, http.StatusForbidden, w.Code)
	assert.Equal(t, "Access denied. You can only delete tickets from your organization.", body["message"])

	_, body = s.do(t, http.MethodGet, "/api/v1/tickets", tokB, nil)
	assert.Empty(t, body["tickets"])

	w, _ = s.do(t, http.MethodGet, "/api/v1/tickets/99999", tokB, nil)
	assert.Equal(t, http.StatusNotFound, w.Code)
	w, body = s.do(t, http.MethodGet, "/api/v1/tickets/abc", tokA, nil)
	assert.Equal(t, http.StatusBadRequest, w.Code)
	assert.Equal(t, "ID must be a valid number", body["message"])

	w, body = s.do(t, http.MethodPatch, path, tokA, map[string]any{"status": "in_progress", "description": "toner"})
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "in_progress", body["ticket"].(map[string]any)["status"])
	w, body = s.do(t, http.MethodPatch, path, tokA, map[string]any{"status": "bogus"})
	assert.Equal(t, http.StatusBadRequest, w.Code)
	assert.Equal(t, "INVALID_STATUS", body["error"])

	w, _ = s.do(t, http.MethodDelete, path, tokA, nil)
	assert.Equal(t, http.StatusNoContent, w.Code)
	w, _ = s.do(t, http.MethodGet, path, tokA, nil)
	assert.Equal(t, http.StatusNotFound, w.Code)
}

func TestTickets_ListPagination(t *testing.T) {
	s := newServer(t, 1000)
	s.register(t, "a@acme.com", s.orgA)
	tok, _ := s.login(t, "a@acme.com")
	for i := range 3 {
		w, _ := s.do(t, http.MethodPost, "/api/v1/tickets", tok, map[string]any{"title": fmt.Sprintf("t%d", i), "status": "pending"})
		require.Equal(t, http.StatusCreated, w.Code)
	}
	s.do(t, http.MethodPost, "/api/v1/tickets", tok, map[string]any{"title": "other"})

	w, body := s.do(t, http.MethodGet, "/api/v1/tickets?status=pending&limit=2&offset=1", tok, nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Len(t, body["tickets"], 2)
	assert.Equal(t, map[string]any{"total": float64(3), "limit": float64(2), "offset": float64(1)}, body["pagination"])

	w, _ = s.do(t, http.MethodGet, "/api/v1/tickets?status=nope", tok, nil)
	assert.Equal(t, http.StatusBadRequest, w.Code)

	w, _ = s.do(t, http.MethodGet, "/api/v1/tickets", "", nil)
	assert.Equal(t, http.StatusUnauthorized, w.Code)
}

func TestTickets_CreateRequiresTitle(t *testing.T) {
	s := newServer(t, 1000)
	s.register(t, "a@acme.com", s.orgA)
	tok, _ := s.login(t, "a@acme.com")

	w, body := s.do(t, http.MethodPost, "/api/v1/tickets", tok, map[string]any{"description": "no title"})
	assert.Equal(t, http.StatusBadRequest, w.Code)
	assert.Equal(t, "title", body["field"])
}

func TestUpdateRole(t *testing.T) {
	s := newServer(t, 1000)
	adminID := s.register(t, "admin@acme.com", s.orgA)
	userID := s.register(t, "user@acme.com", s.orgA)
	foreignID := s.register(t, "user@globex.com", s.orgB)
	require.NoError(t, s.db.Model(&model.User{}).Where("id = ?", adminID).Update("role", model.RoleAdmin).Error)
	admin, _ := s.login(t, "admin@acme.com")
	plain, _ := s.login(t, "user@acme.com")

	w, body := s.do(t, http.MethodPatch, fmt.Sprintf("/api/v1/users/%d/role", userID), plain, map[string]any{"role": "ADMIN"})
	assert.Equal(t, http.StatusForbidden, w.Code)
	assert.Equal(t, "INSUFFICIENT_PERMISSIONS", body["error"])

	w, _ = s.do(t, http.MethodPatch, fmt.Sprintf("/api/v1/users/%d/role", foreignID), admin, map[string]any{"role": "MANAGER"})
	assert.Equal(t, http.StatusNotFound, w.Code)

	w, body = s.do(t, http.MethodPatch, fmt.Sprintf("/api/v1/users/%d/role", userID), admin, map[string]any{"role": "wizard"})
	assert.Equal(t, http.StatusBadRequest, w.Code)
	assert.Equal(t, "INVALID_ROLE", body["error"])

	w, body = s.do(t, http.MethodPatch, fmt.Sprintf("/api/v1/users/%d/role", userID), admin, map[string]any{"role": "manager"})
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "MANAGER", body["user"].(map[string]any)["role"])

	_, body = s.do(t, http.MethodGet, "/api/v1/auth/me", plain, nil)
	assert.Equal(t, "MANAGER", body["user"].(map[string]any)["role"])
}

func TestChangePassword(t *testing.T) {
	s := newServer(t, 1000)
	id := s.register(t, "jane@acme.com", s.orgA)
	other := s.register(t, "john@acme.com", s.orgA)
	access, refresh := s.login(t, "jane@acme.com")
	path := fmt.Sprintf("/api/v1/users/%d/password", id)
	next := "NewValidPass456$%^"

	w, body := s.do(t, http.MethodPut, fmt.Sprintf("/api/v1/users/%d/password", other), access, map[string]any{"currentPassword": password, "newPassword": next})
	assert.Equal(t, http.StatusForbidden, w.Code)
	assert.Equal(t, "OWNERSHIP_REQUIRED", body["error"])

	w, body = s.do(t, http.MethodPut, path, access, map[string]any{"currentPassword": "WrongPass123!@#", "newPassword": next})
	assert.Equal(t, http.StatusUnauthorized, w.Code)
	assert.Equal(t, "INVALID_CURRENT_PASSWORD", body["error"])

	w, _ = s.do(t, http.MethodPut, path, access, map[string]any{"currentPassword": password, "newPassword": "weak"})
	assert.Equal(t, http.StatusBadRequest, w.Code)

	w, _ = s.do(t, http.MethodPut, path, access, map[string]any{"currentPassword": password, "newPassword": next})
	require.Equal(t, http.StatusOK, w.Code)

	w, _ = s.do(t, http.MethodPost, "/api/v1/auth/refresh", "", map[string]any{"refreshToken": refresh})
	assert.Equal(t, http.StatusUnauthorized, w.Code)
	w, _ = s.do(t, http.MethodPost, "/api/v1/auth/login", "", map[string]any{"email": "jane@acme.com", "password": next})
	assert.Equal(t, http.StatusOK, w.Code)
}

func TestAuthRateLimit_CountsFailuresOnly(t *testing.T) {
	s := newServer(t, 2)
	s.register(t, "jane@acme.com", s.orgA)
	for range 3 {
		s.login(t, "jane@acme.com")
	}

	bad := map[string]any{"email": "jane@acme.com", "password": "WrongPass123!@#"}
	for range 2 {
		w, _ := s.do(t, http.MethodPost, "/api/v1/auth/login", "", bad)
		require.Equal(t, http.StatusUnauthorized, w.Code)
	}
	w, body := s.do(t, http.MethodPost, "/api/v1/auth/login", "", map[string]any{"email": "jane@acme.com", "password": password})
	assert.Equal(t, http.StatusTooManyRequests, w.Code)
	assert.Equal(t, "AUTH_RATE_LIMIT_EXCEEDED", body["error"])
	assert.NotEmpty(t, w.Header().Get("Retry-After"))

	w, _ = s.do(t, http.MethodGet, "/api/v1/organisations", "", nil)
	assert.Equal(t, http.StatusOK, w.Code, "non-auth routes are not limited")
}

func TestOrganisations_Public(t *testing.T) {
	s := newServer(t, 1000)
	w, body := s.do(t, http.MethodGet, "/api/v1/organisations", "", nil)
	require.Equal(t, http.StatusOK, w.Code)
	orgs := body["organisations"].([]any)
	require.Len(t, orgs, 2)
	assert.Equal(t, "Acme Corp", orgs[0].(map[string]any)["name"])
}

func TestUnknownAPIRoute(t *testing.T) {
	s := newServer(t, 1000)
	w, body := s.do(t, http.MethodGet, "/api/v1/nope", "", nil)
	assert.Equal(t, http.StatusNotFound, w.Code)
	assert.Equal(t, "ROUTE_NOT_FOUND", body["error"])
	assert.NotEmpty(t, body["requestId"])
}

func TestHandler_Headers(t *testing.T) {
	s := newServer(t, 1000)
	req := httptest.NewRequest(http.MethodOptions, "/api/v1/auth/login", nil)
	req.Header.Set("Origin", "http://localhost:5173")
	req.Header.Set("Access-Control-Request-Method", http.MethodPost)
	w := httptest.NewRecorder()
	s.h.ServeHTTP(w, req)
	assert.Equal(t, "http://localhost:5173", w.Header().Get("Access-Control-Allow-Origin"))

	w, _ = s.do(t, http.MethodGet, "/api/v1/health", "", nil)
	assert.Equal(t, "nosniff", w.Header().Get("X-Content-Type-Options"))
	assert.NotEmpty(t, w.Header().Get("X-Request-ID"))
}
