package auth

import (
	"context"

	"github.com/d9705996/helpdesk/internal/model"
)

// Identity is the trusted caller attached to a request after the access
// token has been verified and the user reloaded. It never carries the
// password hash.
type Identity struct {
	ID             uint       `json:"id"`
	Email          string     `json:"email"`
	Name           string     `json:"name"`
	Role           model.Role `json:"role"`
	OrganisationID uint       `json:"organisationId"`
}

// IdentityFromUser copies the public fields of u.
func IdentityFromUser(u *model.User) *Identity {
	return &Identity{
		ID:             u.ID,
		Email:          u.Email,
		Name:           u.Name,
		Role:           u.Role,
		OrganisationID: u.OrganisationID,
	}
}

type contextKey struct{}

// WithIdentity returns a copy of ctx carrying id.
func WithIdentity(ctx context.Context, id *Identity) context.Context {
	return context.WithValue(ctx, contextKey{}, id)
}

// IdentityFrom returns the identity stored in ctx, or nil.
func IdentityFrom(ctx context.Context) *Identity {
	id, _ := ctx.Value(contextKey{}).(*Identity)
	return id
}
