package auth

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"time"

	"github.com/d9705996/helpdesk/internal/apperr"
	"github.com/d9705996/helpdesk/internal/db"
	"github.com/d9705996/helpdesk/internal/model"
	"gorm.io/gorm"
)

// Refresh-token validation failures. Each maps to its own client message.
var (
	ErrRefreshNotFound = apperr.Unauthorized("Invalid or expired refresh token").WithCode("REFRESH_TOKEN_NOT_FOUND")
	ErrRefreshRevoked  = apperr.Unauthorized("Refresh token has been revoked").WithCode("REFRESH_TOKEN_REVOKED")
	ErrRefreshExpired  = apperr.Unauthorized("Refresh token has expired").WithCode("REFRESH_TOKEN_EXPIRED")
)

// RefreshStore manages refresh token persistence via GORM. It is the only
// component that touches the refresh_tokens table.
type RefreshStore struct {
	db  *gorm.DB
	now func() time.Time
}

// NewRefreshStore creates a RefreshStore backed by the given GORM DB.
func NewRefreshStore(db *gorm.DB) *RefreshStore {
	return &RefreshStore{db: db, now: time.Now}
}

// WithClock returns a copy of s that reads time from now.
func (s *RefreshStore) WithClock(now func() time.Time) *RefreshStore {
	c := *s
	c.now = now
	return &c
}

// Persist records an issued token. A duplicate token yields a Conflict.
func (s *RefreshStore) Persist(ctx context.Context, userID uint, token string, expiresAt time.Time) error {
	rt := &model.RefreshToken{
		UserID:    userID,
		TokenHash: hashToken(token),
		ExpiresAt: expiresAt.UTC(),
	}
	if err := s.db.WithContext(ctx).Create(rt).Error; err != nil {
		if db.IsUniqueViolation(err) {
			return apperr.Conflict("Refresh token already exists")
		}
		return apperr.Database("store refresh token", err)
	}
	return nil
}

// Validate returns the stored record for a usable token, or one of
// ErrRefreshNotFound, ErrRefreshRevoked, ErrRefreshExpired. Expiry wins over
// revocation, so an expired token reports ErrRefreshExpired on every call; the
// row is marked revoked the first time.
func (s *RefreshStore) Validate(ctx context.Context, token string) (*model.RefreshToken, error) {
	var rt model.RefreshToken
	err := s.db.WithContext(ctx).Where("token_hash = ?", hashToken(token)).First(&rt).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, ErrRefreshNotFound
	}
	if err != nil {
		return nil, apperr.Database("find refresh token", err)
	}
	now := s.now()
	if !rt.ExpiresAt.After(now) {
		if !rt.Revoked() {
			if err := s.markRevoked(ctx, s.db.Where("id = ?", rt.ID), now); err != nil {
				return nil, err
			}
		}
		return nil, ErrRefreshExpired
	}
	if rt.Revoked() {
		return nil, ErrRefreshRevoked
	}
	return &rt, nil
}

// Revoke marks token revoked. Unknown and already-revoked tokens are a no-op;
// the returned record is nil in that case.
func (s *RefreshStore) Revoke(ctx context.Context, token string) (*model.RefreshToken, error) {
	var rt model.RefreshToken
	err := s.db.WithContext(ctx).Where("token_hash = ?", hashToken(token)).First(&rt).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, apperr.Database("find refresh token", err)
	}
	if rt.Revoked() {
		return &rt, nil
	}
	now := s.now().UTC()
	if err := s.markRevoked(ctx, s.db.Where("id = ?", rt.ID), now); err != nil {
		return nil, err
	}
	rt.RevokedAt = &now
	return &rt, nil
}

// RevokeAllForUser revokes every live token of a user ("log out everywhere")
// and returns how many rows changed.
func (s *RefreshStore) RevokeAllForUser(ctx context.Context, userID uint) (int64, error) {
	res := s.db.WithContext(ctx).Model(&model.RefreshToken{}).
		Where("user_id = ? AND revoked_at IS NULL", userID).
		Update("revoked_at", s.now().UTC())
	if res.Error != nil {
		return 0, apperr.Database("revoke user refresh tokens", res.Error)
	}
	return res.RowsAffected, nil
}

// SweepExpired hard-deletes rows that are expired or revoked. Safe to run
// repeatedly and concurrently with request traffic.
func (s *RefreshStore) SweepExpired(ctx context.Context) (int64, error) {
	res := s.db.WithContext(ctx).
		Where("expires_at <= ? OR revoked_at IS NOT NULL", s.now().UTC()).
		Delete(&model.RefreshToken{})
	if res.Error != nil {
		return 0, apperr.Database("sweep refresh tokens", res.Error)
	}
	return res.RowsAffected, nil
}

// markRevoked only touches rows still unrevoked so revoked_at never moves.
func (s *RefreshStore) markRevoked(ctx context.Context, scope *gorm.DB, at time.Time) error {
	err := scope.WithContext(ctx).Model(&model.RefreshToken{}).
		Where("revoked_at IS NULL").
		Update("revoked_at", at.UTC()).Error
	if err != nil {
		return apperr.Database("revoke refresh token", err)
	}
	return nil
}

func hashToken(raw string) string {
	h := sha256.Sum256([]byte(raw))
	return hex.EncodeToString(h[:])
}
