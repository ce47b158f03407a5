package auth

import (
	"github.com/d9705996/helpdesk/internal/apperr"
	"github.com/d9705996/helpdesk/internal/model"
)

// ErrAuthRequired is returned by the guards when no identity is present.
var ErrAuthRequired = apperr.Unauthorized("Authentication required").WithCode("AUTH_REQUIRED")

// RequireRole allows id only when its role is one of allowed. The rejection
// names both the required roles and the caller's role.
func RequireRole(id *Identity, allowed ...model.Role) error {
	if id == nil {
		return ErrAuthRequired
	}
	for _, r := range allowed {
		if id.Role == r {
			return nil
		}
	}
	return apperr.Forbidden("Insufficient permissions").
		WithCode("INSUFFICIENT_PERMISSIONS").
		WithDetail("requiredRoles", allowed).
		WithDetail("userRole", id.Role)
}

// AuthorizeOrganisation allows id to act on a resource owned by orgID. Call it
// only after the resource has been loaded, so absent resources stay 404s. verb
// completes the message, e.g. "view" or "update".
func AuthorizeOrganisation(id *Identity, orgID uint, verb string) error {
	if id == nil {
		return ErrAuthRequired
	}
	if id.OrganisationID != orgID {
		return apperr.Forbidden("Access denied. You can only " + verb + " tickets from your organization.").
			WithCode("ORGANISATION_MISMATCH")
	}
	return nil
}

// RequireOwner allows id only when it is the user identified by ownerID.
func RequireOwner(id *Identity, ownerID uint) error {
	if id == nil {
		return ErrAuthRequired
	}
	if id.ID != ownerID {
		return apperr.Forbidden("Access denied").
			WithCode("OWNERSHIP_REQUIRED")
	}
	return nil
}
