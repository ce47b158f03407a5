// Package testutil holds helpers shared by package tests.
package testutil

import (
	"context"
	"fmt"
	"testing"

	"github.com/d9705996/helpdesk/internal/config"
	"github.com/d9705996/helpdesk/internal/db"
	"github.com/d9705996/helpdesk/internal/model"
	"github.com/google/uuid"
	"gorm.io/gorm"
)

// NewDB opens a private in-memory SQLite database with the full schema.
func NewDB(t *testing.T) *gorm.DB {
	t.Helper()
	dsn := fmt.Sprintf("file:%s?mode=memory&cache=shared&_pragma=foreign_keys(1)", uuid.NewString())
	gormDB, _, err := db.New(context.Background(), &config.DBConfig{Driver: "sqlite", File: dsn})
	if err != nil {
		t.Fatalf("open test db: %v", err)
	}
	sqlDB, err := gormDB.DB()
	if err != nil {
		t.Fatalf("get sql.DB: %v", err)
	}
	// One connection keeps the in-memory database alive and the foreign_keys
	// pragma in effect for every statement.
	sqlDB.SetMaxOpenConns(1)
	t.Cleanup(func() { _ = sqlDB.Close() })
	return gormDB
}

// CreateOrganisation inserts an organisation and returns it.
func CreateOrganisation(t *testing.T, gormDB *gorm.DB, name string) *model.Organisation {
	t.Helper()
	org := &model.Organisation{Name: name}
	if err := gormDB.Create(org).Error; err != nil {
		t.Fatalf("create organisation: %v", err)
	}
	return org
}

// CreateUser inserts a user with a placeholder password hash.
func CreateUser(t *testing.T, gormDB *gorm.DB, email string, role model.Role, orgID uint) *model.User {
	t.Helper()
	u := &model.User{
		Name:           email,
		Email:          email,
		PasswordHash:   "not-a-real-hash",
		Role:           role,
		OrganisationID: orgID,
	}
	if err := gormDB.Create(u).Error; err != nil {
		t.Fatalf("create user: %v", err)
	}
	return u
}
