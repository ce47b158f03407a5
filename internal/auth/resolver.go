package auth

import (
	"context"
	"errors"
	"strings"

	"github.com/d9705996/helpdesk/internal/apperr"
	"github.com/d9705996/helpdesk/internal/model"
)

// Resolver failures. Every verification failure shares one message so a
// caller cannot tell a forged token from an expired one.
var (
	ErrTokenRequired = apperr.Unauthorized("Access token required").WithCode("TOKEN_REQUIRED")
	ErrTokenInvalid  = apperr.Unauthorized("Invalid or expired token").WithCode("INVALID_TOKEN")
	ErrUserNotFound  = apperr.Unauthorized("User not found").WithCode("USER_NOT_FOUND")
)

// UserLoader fetches the current user record by id. A missing user must be
// reported as an apperr NotFound.
type UserLoader interface {
	FindByID(ctx context.Context, id uint) (*model.User, error)
}

// Resolver turns an Authorization header into a trusted Identity.
type Resolver struct {
	tokens *Issuer
	users  UserLoader
}

// NewResolver wires the token verifier and user lookup.
func NewResolver(tokens *Issuer, users UserLoader) *Resolver {
	return &Resolver{tokens: tokens, users: users}
}

// Resolve verifies the bearer token in header and reloads its user. The user
// is fetched on every call so deleted accounts and role changes take effect
// while older tokens are still unexpired.
func (r *Resolver) Resolve(ctx context.Context, header string) (*Identity, error) {
	token := BearerToken(header)
	if token == "" {
		return nil, ErrTokenRequired
	}

	claims, err := r.tokens.VerifyAccess(token)
	if err != nil {
		if errors.Is(err, ErrMissingSecret) {
			return nil, apperr.Internal("verify access token", err)
		}
		return nil, ErrTokenInvalid
	}

	u, err := r.users.FindByID(ctx, claims.UserID)
	if err != nil {
		if apperr.KindOf(err) == apperr.KindNotFound {
			return nil, ErrUserNotFound
		}
		return nil, err
	}
	return IdentityFromUser(u), nil
}

// BearerToken extracts the credential from an "Authorization: Bearer <t>"
// header value. The scheme is matched case-insensitively.
func BearerToken(header string) string {
	scheme, token, ok := strings.Cut(strings.TrimSpace(header), " ")
	if !ok || !strings.EqualFold(scheme, "bearer") {
		return ""
	}
	return strings.TrimSpace(token)
}
