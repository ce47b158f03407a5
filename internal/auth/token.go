// Package auth implements credential verification, JWT issuance, refresh
// token bookkeeping, request identity resolution and the register / login /
// refresh / logout / me flows built from them.
package auth

import (
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/d9705996/helpdesk/internal/model"
	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
)

// TokenType separates access from refresh tokens that share a signing key.
type TokenType string

const (
	TokenAccess  TokenType = "access"
	TokenRefresh TokenType = "refresh"
)

var (
	// ErrMissingSecret is returned by every Issuer method when no signing
	// secret was configured.
	ErrMissingSecret = errors.New("auth: JWT signing secret is not configured")
	// ErrTokenExpired means the signature was valid but exp has passed.
	ErrTokenExpired = errors.New("auth: token expired")
	// ErrTokenMalformed covers forged, corrupt, wrongly-signed or wrongly-typed tokens.
	ErrTokenMalformed = errors.New("auth: token malformed")
)

// signingMethod is the only algorithm accepted on verification.
var signingMethod = jwt.SigningMethodHS256

// Claims is the set of custom claims stored inside a helpdesk token.
type Claims struct {
	UserID uint       `json:"userId"`
	Role   model.Role `json:"role"`
	Type   TokenType  `json:"typ"`
	jwt.RegisteredClaims
}

// Subject is the identity a token is issued for.
type Subject struct {
	UserID uint
	Role   model.Role
}

// Issuer signs and verifies HS256 tokens with a process-wide secret.
type Issuer struct {
	secret     []byte
	issuer     string
	accessTTL  time.Duration
	refreshTTL time.Duration
	now        func() time.Time
}

// IssuerOption configures an Issuer.
type IssuerOption func(*Issuer)

// WithIssuerName sets the iss claim.
func WithIssuerName(name string) IssuerOption {
	return func(i *Issuer) { i.issuer = name }
}

// WithTTLs overrides token lifetimes; non-positive values keep the default.
func WithTTLs(access, refresh time.Duration) IssuerOption {
	return func(i *Issuer) {
		if access > 0 {
			i.accessTTL = access
		}
		if refresh > 0 {
			i.refreshTTL = refresh
		}
	}
}

// WithIssuerClock overrides the time source (useful for tests).
func WithIssuerClock(now func() time.Time) IssuerOption {
	return func(i *Issuer) {
		if now != nil {
			i.now = now
		}
	}
}

// NewIssuer returns ErrMissingSecret when secret is empty.
func NewIssuer(secret string, opts ...IssuerOption) (*Issuer, error) {
	if secret == "" {
		return nil, ErrMissingSecret
	}
	i := &Issuer{
		secret:     []byte(secret),
		issuer:     "helpdesk",
		accessTTL:  15 * time.Minute,
		refreshTTL: 7 * 24 * time.Hour,
		now:        time.Now,
	}
	for _, opt := range opts {
		opt(i)
	}
	return i, nil
}

// AccessTTL returns the access-token lifetime.
func (i *Issuer) AccessTTL() time.Duration {
	if i == nil {
		return 0
	}
	return i.accessTTL
}

// RefreshTTL returns the refresh-token lifetime.
func (i *Issuer) RefreshTTL() time.Duration {
	if i == nil {
		return 0
	}
	return i.refreshTTL
}

// IssueAccess creates a signed access token.
func (i *Issuer) IssueAccess(s Subject) (string, time.Time, error) {
	return i.issue(s, TokenAccess)
}

// IssueRefresh creates a signed refresh token. Callers persist it through
// RefreshStore before handing it out.
func (i *Issuer) IssueRefresh(s Subject) (string, time.Time, error) {
	return i.issue(s, TokenRefresh)
}

func (i *Issuer) issue(s Subject, typ TokenType) (string, time.Time, error) {
	if i == nil || len(i.secret) == 0 {
		return "", time.Time{}, ErrMissingSecret
	}
	ttl := i.accessTTL
	if typ == TokenRefresh {
		ttl = i.refreshTTL
	}
	now := i.now()
	exp := now.Add(ttl)
	claims := Claims{
		UserID: s.UserID,
		Role:   s.Role,
		Type:   typ,
		RegisteredClaims: jwt.RegisteredClaims{
			// A fresh jti keeps two tokens minted in the same second distinct.
			ID:        uuid.NewString(),
			Subject:   strconv.FormatUint(uint64(s.UserID), 10),
			Issuer:    i.issuer,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(exp),
		},
	}
	signed, err := jwt.NewWithClaims(signingMethod, claims).SignedString(i.secret)
	if err != nil {
		return "", time.Time{}, fmt.Errorf("sign %s token: %w", typ, err)
	}
	return signed, exp, nil
}

// VerifyAccess verifies an access token.
func (i *Issuer) VerifyAccess(token string) (*Claims, error) {
	return i.verify(token, TokenAccess)
}

// VerifyRefresh verifies a refresh token's signature and expiry.
func (i *Issuer) VerifyRefresh(token string) (*Claims, error) {
	return i.verify(token, TokenRefresh)
}

// verify returns ErrTokenExpired or ErrTokenMalformed (wrapping the parser's
// error) so callers can tell a stale token from a forged one.
func (i *Issuer) verify(token string, want TokenType) (*Claims, error) {
	if i == nil || len(i.secret) == 0 {
		return nil, ErrMissingSecret
	}
	parsed, err := jwt.ParseWithClaims(token, &Claims{},
		func(t *jwt.Token) (any, error) { return i.secret, nil },
		jwt.WithValidMethods([]string{signingMethod.Alg()}),
		jwt.WithIssuer(i.issuer),
		jwt.WithExpirationRequired(),
		jwt.WithTimeFunc(i.now),
	)
	if err != nil {
		if errors.Is(err, jwt.ErrTokenExpired) {
			return nil, fmt.Errorf("%w: %w", ErrTokenExpired, err)
		}
		return nil, fmt.Errorf("%w: %w", ErrTokenMalformed, err)
	}

	claims, ok := parsed.Claims.(*Claims)
	if !ok || !parsed.Valid {
		return nil, fmt.Errorf("%w: invalid token claims", ErrTokenMalformed)
	}
	if claims.Type != want {
		return nil, fmt.Errorf("%w: expected %s token, got %q", ErrTokenMalformed, want, claims.Type)
	}
	if claims.UserID == 0 {
		return nil, fmt.Errorf("%w: missing userId", ErrTokenMalformed)
	}
	return claims, nil
}
