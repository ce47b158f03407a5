package auth

import (
	"context"
	"log/slog"
	"net/mail"
	"strings"
	"time"

	"github.com/d9705996/helpdesk/internal/apperr"
	"github.com/d9705996/helpdesk/internal/model"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

var tracer = otel.Tracer("helpdesk/auth")

// Flow failures with fixed client messages.
var (
	ErrInvalidCredentials   = apperr.Unauthorized("Invalid credentials").WithCode("INVALID_CREDENTIALS")
	ErrInvalidRefreshToken  = apperr.Unauthorized("Invalid or expired refresh token").WithCode("INVALID_REFRESH_TOKEN")
	ErrEmailInUse           = apperr.Conflict("Email already in use").WithCode("EMAIL_IN_USE")
	ErrWrongCurrentPassword = apperr.Unauthorized("Current password is incorrect").WithCode("INVALID_CURRENT_PASSWORD")

	errRegisterFields = apperr.Validation("All fields are required (name, email, password, organisationId)").WithCode("MISSING_FIELDS")
	errLoginFields    = apperr.Validation("Email and password are required").WithCode("MISSING_FIELDS")
	errRefreshMissing = apperr.ValidationField("refreshToken", "Refresh token required").WithCode("MISSING_REFRESH_TOKEN")
	errPasswordFields = apperr.Validation("Current and new password are required").WithCode("MISSING_FIELDS")
)

// UserStore is the user data access the flows need. Lookups report absence
// as apperr NotFound; Create reports a taken email as apperr Conflict.
type UserStore interface {
	UserLoader
	FindByEmail(ctx context.Context, email string) (*model.User, error)
	EmailExists(ctx context.Context, email string) (bool, error)
	OrganisationExists(ctx context.Context, id uint) (bool, error)
	Create(ctx context.Context, u *model.User) error
	TouchLastLogin(ctx context.Context, id uint, at time.Time) error
	UpdatePassword(ctx context.Context, id uint, hash string) error
}

// TokenStore is the refresh token bookkeeping the flows need. RefreshStore
// satisfies it.
type TokenStore interface {
	Persist(ctx context.Context, userID uint, token string, expiresAt time.Time) error
	Validate(ctx context.Context, token string) (*model.RefreshToken, error)
	Revoke(ctx context.Context, token string) (*model.RefreshToken, error)
	RevokeAllForUser(ctx context.Context, userID uint) (int64, error)
}

// Recorder counts flow outcomes.
type Recorder interface {
	AuthAttempt(flow, outcome string)
}

type nopRecorder struct{}

func (nopRecorder) AuthAttempt(string, string) {}

// PublicUser is the user shape returned to clients.
type PublicUser struct {
	ID             uint       `json:"id"`
	Name           string     `json:"name"`
	Email          string     `json:"email"`
	Role           model.Role `json:"role"`
	OrganisationID uint       `json:"organisationId"`
	LastLoginAt    *time.Time `json:"lastLoginAt,omitempty"`
	CreatedAt      time.Time  `json:"createdAt"`
}

// NewPublicUser strips u down to its client-visible fields.
func NewPublicUser(u *model.User) *PublicUser {
	return &PublicUser{
		ID:             u.ID,
		Name:           u.Name,
		Email:          u.Email,
		Role:           u.Role,
		OrganisationID: u.OrganisationID,
		LastLoginAt:    u.LastLoginAt,
		CreatedAt:      u.CreatedAt,
	}
}

// RegisterInput is the registration payload.
type RegisterInput struct {
	Name           string
	Email          string
	Password       string
	OrganisationID uint
}

// Session is the result of a successful login.
type Session struct {
	AccessToken  string
	RefreshToken string
	ExpiresAt    time.Time
	User         *PublicUser
}

// Refreshed is the result of a refresh. RefreshToken is set only when
// rotation is enabled.
type Refreshed struct {
	AccessToken  string
	RefreshToken string
	ExpiresAt    time.Time
}

// Service composes credential checks, token issuance and refresh token
// bookkeeping into the register, login, refresh, logout and me flows.
type Service struct {
	users   UserStore
	tokens  *Issuer
	refresh TokenStore
	hasher  *Hasher
	policy  PasswordPolicy
	rotate  bool
	now     func() time.Time
	metrics Recorder
	logger  *slog.Logger
}

// ServiceOption configures a Service.
type ServiceOption func(*Service)

// WithRotation makes Refresh revoke the presented token and hand out a new one.
func WithRotation(on bool) ServiceOption { return func(s *Service) { s.rotate = on } }

// WithPolicy overrides the password strength policy.
func WithPolicy(p PasswordPolicy) ServiceOption { return func(s *Service) { s.policy = p } }

// WithClock overrides the time source used for last-login stamps.
func WithClock(now func() time.Time) ServiceOption { return func(s *Service) { s.now = now } }

// WithRecorder sets the outcome counter.
func WithRecorder(r Recorder) ServiceOption { return func(s *Service) { s.metrics = r } }

// WithLogger sets the logger for swallowed failures.
func WithLogger(l *slog.Logger) ServiceOption { return func(s *Service) { s.logger = l } }

// NewService wires the flows.
func NewService(users UserStore, tokens *Issuer, refresh TokenStore, hasher *Hasher, opts ...ServiceOption) *Service {
	s := &Service{
		users:   users,
		tokens:  tokens,
		refresh: refresh,
		hasher:  hasher,
		policy:  DefaultPasswordPolicy(),
		now:     time.Now,
		metrics: nopRecorder{},
		logger:  slog.Default(),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Register creates a USER account in an existing organisation.
func (s *Service) Register(ctx context.Context, in RegisterInput) (_ *PublicUser, err error) {
	ctx, span := tracer.Start(ctx, "auth.Register")
	defer func() { s.finish(span, "register", err) }()

	name := strings.TrimSpace(in.Name)
	if name == "" || strings.TrimSpace(in.Email) == "" || in.Password == "" || in.OrganisationID == 0 {
		return nil, errRegisterFields
	}
	email, err := CanonicalEmail(in.Email)
	if err != nil {
		return nil, err
	}

	taken, err := s.users.EmailExists(ctx, email)
	if err != nil {
		return nil, err
	}
	if taken {
		return nil, ErrEmailInUse
	}
	if err := s.policy.Check(in.Password); err != nil {
		return nil, err
	}
	ok, err := s.users.OrganisationExists(ctx, in.OrganisationID)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, apperr.ValidationField("organisationId", "Organisation does not exist").WithCode("INVALID_ORGANISATION")
	}

	hash, err := s.hasher.Hash(ctx, in.Password)
	if err != nil {
		return nil, err
	}
	u := &model.User{
		Name:           name,
		Email:          email,
		PasswordHash:   hash,
		Role:           model.RoleUser,
		OrganisationID: in.OrganisationID,
	}
	if err := s.users.Create(ctx, u); err != nil {
		// Lost a concurrent race for the same email.
		if apperr.KindOf(err) == apperr.KindConflict {
			return nil, ErrEmailInUse
		}
		return nil, err
	}
	return NewPublicUser(u), nil
}

// Login checks credentials and opens a session. Unknown email and wrong
// password fail identically.
func (s *Service) Login(ctx context.Context, email, password string) (_ *Session, err error) {
	ctx, span := tracer.Start(ctx, "auth.Login")
	defer func() { s.finish(span, "login", err) }()

	email = strings.ToLower(strings.TrimSpace(email))
	if email == "" || password == "" {
		return nil, errLoginFields
	}

	u, err := s.users.FindByEmail(ctx, email)
	if err != nil {
		if apperr.KindOf(err) != apperr.KindNotFound {
			return nil, err
		}
		s.hasher.VerifyDummy(ctx, password)
		return nil, ErrInvalidCredentials
	}
	ok, err := s.hasher.Verify(ctx, password, u.PasswordHash)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, ErrInvalidCredentials
	}

	now := s.now().UTC()
	if err := s.users.TouchLastLogin(ctx, u.ID, now); err != nil {
		return nil, err
	}
	u.LastLoginAt = &now

	sub := Subject{UserID: u.ID, Role: u.Role}
	access, exp, err := s.tokens.IssueAccess(sub)
	if err != nil {
		return nil, apperr.Internal("issue access token", err)
	}
	refresh, err := s.openRefresh(ctx, sub)
	if err != nil {
		return nil, err
	}
	span.SetAttributes(attribute.Int("user.id", int(u.ID)))
	return &Session{AccessToken: access, RefreshToken: refresh, ExpiresAt: exp, User: NewPublicUser(u)}, nil
}

// Refresh mints a new access token from a stored, unrevoked refresh token.
func (s *Service) Refresh(ctx context.Context, token string) (_ *Refreshed, err error) {
	ctx, span := tracer.Start(ctx, "auth.Refresh")
	defer func() { s.finish(span, "refresh", err) }()

	token = strings.TrimSpace(token)
	if token == "" {
		return nil, errRefreshMissing
	}
	rec, err := s.refresh.Validate(ctx, token)
	if err != nil {
		return nil, err
	}
	// The store hit alone is not enough: the token must also carry a valid
	// signature for the same user.
	claims, err := s.tokens.VerifyRefresh(token)
	if err != nil || claims.UserID != rec.UserID {
		return nil, ErrInvalidRefreshToken
	}

	sub := Subject{UserID: claims.UserID, Role: claims.Role}
	access, exp, err := s.tokens.IssueAccess(sub)
	if err != nil {
		return nil, apperr.Internal("issue access token", err)
	}
	out := &Refreshed{AccessToken: access, ExpiresAt: exp}
	if s.rotate {
		// The replacement is stored before the presented token is revoked, so a
		// failed rotation leaves the caller's session intact.
		if out.RefreshToken, err = s.openRefresh(ctx, sub); err != nil {
			return nil, err
		}
		if _, err := s.refresh.Revoke(ctx, token); err != nil {
			return nil, err
		}
	}
	return out, nil
}

// Logout revokes token. Revocation failures are logged and swallowed; only a
// missing token is an error.
func (s *Service) Logout(ctx context.Context, token string) (err error) {
	ctx, span := tracer.Start(ctx, "auth.Logout")
	defer func() { s.finish(span, "logout", err) }()

	token = strings.TrimSpace(token)
	if token == "" {
		return errRefreshMissing
	}
	if _, rerr := s.refresh.Revoke(ctx, token); rerr != nil {
		s.logger.WarnContext(ctx, "logout: revoke refresh token", "err", rerr)
	}
	return nil
}

// LogoutAll revokes every refresh token of the caller.
func (s *Service) LogoutAll(ctx context.Context, id *Identity) (_ int64, err error) {
	ctx, span := tracer.Start(ctx, "auth.LogoutAll")
	defer func() { s.finish(span, "logout_all", err) }()

	if id == nil {
		return 0, ErrAuthRequired
	}
	return s.refresh.RevokeAllForUser(ctx, id.ID)
}

// Me returns the caller's record as currently stored.
func (s *Service) Me(ctx context.Context, id *Identity) (*PublicUser, error) {
	if id == nil {
		return nil, ErrAuthRequired
	}
	u, err := s.users.FindByID(ctx, id.ID)
	if err != nil {
		if apperr.KindOf(err) == apperr.KindNotFound {
			return nil, ErrUserNotFound
		}
		return nil, err
	}
	return NewPublicUser(u), nil
}

// ChangePassword replaces userID's password after checking the current one,
// then revokes all of the user's refresh tokens.
func (s *Service) ChangePassword(ctx context.Context, userID uint, current, next string) (err error) {
	ctx, span := tracer.Start(ctx, "auth.ChangePassword")
	defer func() { s.finish(span, "change_password", err) }()

	if current == "" || next == "" {
		return errPasswordFields
	}
	u, err := s.users.FindByID(ctx, userID)
	if err != nil {
		return err
	}
	ok, err := s.hasher.Verify(ctx, current, u.PasswordHash)
	if err != nil {
		return err
	}
	if !ok {
		return ErrWrongCurrentPassword
	}
	if err := s.policy.Check(next); err != nil {
		return err
	}
	hash, err := s.hasher.Hash(ctx, next)
	if err != nil {
		return err
	}
	if err := s.users.UpdatePassword(ctx, userID, hash); err != nil {
		return err
	}
	n, err := s.refresh.RevokeAllForUser(ctx, userID)
	if err != nil {
		return err
	}
	s.logger.InfoContext(ctx, "password changed", "user_id", userID, "revoked_tokens", n)
	return nil
}

func (s *Service) openRefresh(ctx context.Context, sub Subject) (string, error) {
	token, exp, err := s.tokens.IssueRefresh(sub)
	if err != nil {
		return "", apperr.Internal("issue refresh token", err)
	}
	if err := s.refresh.Persist(ctx, sub.UserID, token, exp); err != nil {
		return "", err
	}
	return token, nil
}

func (s *Service) finish(span trace.Span, flow string, err error) {
	outcome := "success"
	if err != nil {
		outcome = strings.ToLower(apperr.KindOf(err).String())
		span.RecordError(err)
		span.SetStatus(codes.Error, outcome)
	}
	s.metrics.AuthAttempt(flow, outcome)
	span.End()
}

// CanonicalEmail trims and lowercases email after checking it is a bare
// address.
func CanonicalEmail(email string) (string, error) {
	email = strings.ToLower(strings.TrimSpace(email))
	addr, err := mail.ParseAddress(email)
	if err != nil || addr.Address != email || !strings.Contains(email[strings.LastIndex(email, "@")+1:], ".") {
		return "", apperr.ValidationField("email", "Invalid email format").WithCode("INVALID_EMAIL")
	}
	return email, nil
}
