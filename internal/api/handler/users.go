package handler

import (
	"context"
	"encoding/json"
	"net/http"

	"github.com/d9705996/helpdesk/internal/api/respond"
	"github.com/d9705996/helpdesk/internal/apperr"
	"github.com/d9705996/helpdesk/internal/auth"
	"github.com/d9705996/helpdesk/internal/model"
)

// UserDirectory is the user and organisation data the handlers read and
// modify directly. user.Store satisfies it.
type UserDirectory interface {
	FindByID(ctx context.Context, id uint) (*model.User, error)
	UpdateRole(ctx context.Context, id uint, role model.Role) (*model.User, error)
	ListOrganisations(ctx context.Context) ([]model.Organisation, error)
}

// UserHandler handles /api/v1/users and /api/v1/organisations routes.
type UserHandler struct {
	users  UserDirectory
	svc    *auth.Service
	render *respond.Renderer
}

// NewUserHandler creates a UserHandler.
func NewUserHandler(users UserDirectory, svc *auth.Service, render *respond.Renderer) *UserHandler {
	return &UserHandler{users: users, svc: svc, render: render}
}

type roleRequest struct {
	Role string `json:"role"`
}

// passwordRequest keeps both passwords unexported, see loginRequest.
type passwordRequest struct {
	current string
	next    string
}

func (p *passwordRequest) UnmarshalJSON(data []byte) error {
	obj := make(map[string]json.RawMessage)
	if err := json.Unmarshal(data, &obj); err != nil {
		return err
	}
	for key, dst := range map[string]*string{"currentPassword": &p.current, "newPassword": &p.next} {
		if v, ok := obj[key]; ok {
			if err := json.Unmarshal(v, dst); err != nil {
				return err
			}
		}
	}
	return nil
}

// ListOrganisations handles GET /api/v1/organisations. It is public so the
// registration form can offer a choice.
func (h *UserHandler) ListOrganisations(w http.ResponseWriter, r *http.Request) {
	orgs, err := h.users.ListOrganisations(r.Context())
	if err != nil {
		h.render.Error(w, r, err)
		return
	}
	type org struct {
		ID   uint   `json:"id"`
		Name string `json:"name"`
	}
	out := make([]org, len(orgs))
	for i, o := range orgs {
		out[i] = org{ID: o.ID, Name: o.Name}
	}
	respond.JSON(w, http.StatusOK, map[string]any{"organisations": out})
}

// UpdateRole handles PATCH /api/v1/users/{id}/role. Admins may only change
// users of their own organisation; others are reported as not found.
func (h *UserHandler) UpdateRole(w http.ResponseWriter, r *http.Request) {
	caller := auth.IdentityFrom(r.Context())
	if caller == nil {
		h.render.Error(w, r, auth.ErrAuthRequired)
		return
	}
	userID, err := pathID(r, "id")
	if err != nil {
		h.render.Error(w, r, err)
		return
	}
	var req roleRequest
	if err := decodeJSON(r, &req); err != nil {
		h.render.Error(w, r, err)
		return
	}
	role, ok := model.ParseRole(req.Role)
	if !ok {
		h.render.Error(w, r, apperr.ValidationField("role", "Role must be one of: ADMIN, MANAGER, USER").WithCode("INVALID_ROLE"))
		return
	}

	target, err := h.users.FindByID(r.Context(), userID)
	if err != nil {
		h.render.Error(w, r, err)
		return
	}
	if target.OrganisationID != caller.OrganisationID {
		h.render.Error(w, r, apperr.NotFound("User"))
		return
	}
	updated, err := h.users.UpdateRole(r.Context(), userID, role)
	if err != nil {
		h.render.Error(w, r, err)
		return
	}
	respond.Message(w, http.StatusOK, "Role updated successfully", map[string]any{"user": auth.NewPublicUser(updated)})
}

// ChangePassword handles PUT /api/v1/users/{id}/password. RequireOwnership
// has already checked that {id} is the caller.
func (h *UserHandler) ChangePassword(w http.ResponseWriter, r *http.Request) {
	userID, err := pathID(r, "id")
	if err != nil {
		h.render.Error(w, r, err)
		return
	}
	var req passwordRequest
	if err := decodeJSON(r, &req); err != nil {
		h.render.Error(w, r, err)
		return
	}
	if err := h.svc.ChangePassword(r.Context(), userID, req.current, req.next); err != nil {
		h.render.Error(w, r, err)
		return
	}
	respond.Message(w, http.StatusOK, "Password changed successfully", nil)
}
