// Package user provides data access for users and organisations.
package user

import (
	"context"
	"errors"
	"time"

	"github.com/d9705996/helpdesk/internal/apperr"
	"github.com/d9705996/helpdesk/internal/db"
	"github.com/d9705996/helpdesk/internal/model"
	"gorm.io/gorm"
)

// Store is the GORM-backed user repository.
type Store struct {
	db *gorm.DB
}

// NewStore returns a Store using gdb.
func NewStore(gdb *gorm.DB) *Store {
	return &Store{db: gdb}
}

// FindByID returns the user with id, or an apperr NotFound.
func (s *Store) FindByID(ctx context.Context, id uint) (*model.User, error) {
	return s.first(ctx, "find user by id", "id = ?", id)
}

// FindByEmail looks up an already-canonical email.
func (s *Store) FindByEmail(ctx context.Context, email string) (*model.User, error) {
	return s.first(ctx, "find user by email", "email = ?", email)
}

func (s *Store) first(ctx context.Context, op, query string, arg any) (*model.User, error) {
	var u model.User
	err := s.db.WithContext(ctx).Where(query, arg).First(&u).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, apperr.NotFound("User")
	}
	if err != nil {
		return nil, apperr.Database(op, err)
	}
	return &u, nil
}

// EmailExists reports whether email is already registered.
func (s *Store) EmailExists(ctx context.Context, email string) (bool, error) {
	var n int64
	if err := s.db.WithContext(ctx).Model(&model.User{}).Where("email = ?", email).Count(&n).Error; err != nil {
		return false, apperr.Database("count users by email", err)
	}
	return n > 0, nil
}

// Create inserts u. A taken email surfaces as apperr Conflict; the unique
// index is what decides concurrent registrations.
func (s *Store) Create(ctx context.Context, u *model.User) error {
	if err := s.db.WithContext(ctx).Create(u).Error; err != nil {
		if db.IsUniqueViolation(err) {
			return apperr.Conflict("Email already in use").WithCode("EMAIL_IN_USE")
		}
		return apperr.Database("create user", err)
	}
	return nil
}

// TouchLastLogin stamps a successful login.
func (s *Store) TouchLastLogin(ctx context.Context, id uint, at time.Time) error {
	return s.update(ctx, "touch last login", id, map[string]any{"last_login_at": at})
}

// UpdatePassword stores a new password hash.
func (s *Store) UpdatePassword(ctx context.Context, id uint, hash string) error {
	return s.update(ctx, "update password", id, map[string]any{"password": hash})
}

// UpdateRole changes a user's role and returns the updated record.
func (s *Store) UpdateRole(ctx context.Context, id uint, role model.Role) (*model.User, error) {
	if err := s.update(ctx, "update role", id, map[string]any{"role": role}); err != nil {
		return nil, err
	}
	return s.FindByID(ctx, id)
}

func (s *Store) update(ctx context.Context, op string, id uint, fields map[string]any) error {
	fields["updated_at"] = time.Now().UTC()
	res := s.db.WithContext(ctx).Model(&model.User{}).Where("id = ?", id).Updates(fields)
	if res.Error != nil {
		return apperr.Database(op, res.Error)
	}
	if res.RowsAffected == 0 {
		return apperr.NotFound("User")
	}
	return nil
}

// Count returns the number of users.
func (s *Store) Count(ctx context.Context) (int64, error) {
	var n int64
	if err := s.db.WithContext(ctx).Model(&model.User{}).Count(&n).Error; err != nil {
		return 0, apperr.Database("count users", err)
	}
	return n, nil
}

// OrganisationExists reports whether an organisation with id exists.
func (s *Store) OrganisationExists(ctx context.Context, id uint) (bool, error) {
	var n int64
	if err := s.db.WithContext(ctx).Model(&model.Organisation{}).Where("id = ?", id).Count(&n).Error; err != nil {
		return false, apperr.Database("count organisations", err)
	}
	return n > 0, nil
}

// ListOrganisations returns every organisation ordered by name.
func (s *Store) ListOrganisations(ctx context.Context) ([]model.Organisation, error) {
	var orgs []model.Organisation
	if err := s.db.WithContext(ctx).Order("name ASC").Find(&orgs).Error; err != nil {
		return nil, apperr.Database("list organisations", err)
	}
	return orgs, nil
}
